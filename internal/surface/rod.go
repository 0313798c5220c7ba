package surface

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gradewatch/internal/htmlutil"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/proto"
)

// frames nested deeper than this are not searched
const maxFrameDepth = 8

// RodPage adapts a rod page to Page. Every element action (click, fill,
// Enter, screenshot) is bounded by the action timeout, rod otherwise retries
// a covered or disabled element for as long as ctx lives.
type RodPage struct {
	page          *rod.Page
	actionTimeout time.Duration
}

func NewRodPage(page *rod.Page) *RodPage {
	return &RodPage{page: page, actionTimeout: DefaultActionTimeout}
}

// WithActionTimeout replaces the bound of element actions, d <= 0 restores
// DefaultActionTimeout.
func (p *RodPage) WithActionTimeout(d time.Duration) *RodPage {
	p.actionTimeout = d
	return p
}

func (p *RodPage) surface() rodSurface {
	return rodSurface{page: p.page, actionTimeout: p.actionTimeout}
}

// Rod returns the underlying rod page.
func (p *RodPage) Rod() *rod.Page {
	return p.page
}

func (p *RodPage) Find(ctx context.Context, selector string) ([]Element, error) {
	return p.surface().Find(ctx, selector)
}

func (p *RodPage) Content(ctx context.Context) (string, error) {
	return p.surface().Content(ctx)
}

func (p *RodPage) VisibleText(ctx context.Context) (string, error) {
	return p.surface().VisibleText(ctx)
}

func (p *RodPage) Surfaces(ctx context.Context) []Surface {
	out := []Surface{p.surface()}
	collectFrames(ctx, p.page, p.actionTimeout, &out, 0)
	return out
}

func collectFrames(ctx context.Context, page *rod.Page, actionTimeout time.Duration, out *[]Surface, depth int) {
	if depth >= maxFrameDepth {
		return
	}
	iframes, err := page.Context(ctx).Elements("iframe, frame")
	if err != nil {
		return
	}
	for _, iframe := range iframes {
		frame, err := iframe.Context(ctx).Frame()
		if err != nil {
			continue
		}
		*out = append(*out, rodSurface{page: frame, actionTimeout: actionTimeout})
		collectFrames(ctx, frame, actionTimeout, out, depth+1)
	}
}

func (p *RodPage) URL(ctx context.Context) string {
	info, err := p.page.Context(ctx).Info()
	if err != nil {
		return ""
	}
	return info.URL
}

func lifecycleEvent(until LoadState) proto.PageLifecycleEventName {
	switch until {
	case Load:
		return proto.PageLifecycleEventNameLoad
	case NetworkIdle:
		return proto.PageLifecycleEventNameNetworkIdle
	}
	return proto.PageLifecycleEventNameDOMContentLoaded
}

// Navigate loads url and waits for the given lifecycle event. Reaching the
// timeout while waiting is not an error, the caller decides what the page
// state means.
func (p *RodPage) Navigate(ctx context.Context, url string, until LoadState, timeout time.Duration) error {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	page := p.page.Context(waitCtx)
	wait := page.WaitNavigation(lifecycleEvent(until))

	err := page.Navigate(url)
	if err != nil {
		var navErr *rod.NavigationError
		if errors.As(err, &navErr) && navErr.Reason == "net::ERR_ABORTED" {
			return fmt.Errorf("navigate %s: %w", url, ErrNavigationInterrupted)
		}
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	wait()
	return ctx.Err()
}

func (p *RodPage) WaitLoad(ctx context.Context, until LoadState, timeout time.Duration) error {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	page := p.page.Context(waitCtx)
	if until == NetworkIdle {
		page.WaitRequestIdle(500*time.Millisecond, nil, nil, nil)()
		if err := waitCtx.Err(); err != nil {
			return fmt.Errorf("wait %s: %w", until, err)
		}
		return nil
	}
	if err := page.WaitLoad(); err != nil {
		return fmt.Errorf("wait %s: %w", until, err)
	}
	return nil
}

func (p *RodPage) Screenshot(ctx context.Context) ([]byte, error) {
	return p.page.Context(ctx).Screenshot(true, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
}

func (p *RodPage) Close() error {
	return p.page.Close()
}

type rodSurface struct {
	page          *rod.Page
	actionTimeout time.Duration
}

func (s rodSurface) Find(ctx context.Context, selector string) ([]Element, error) {
	page := s.page.Context(ctx)

	var elements rod.Elements
	var err error
	if xpath, ok := IsXPath(selector); ok {
		elements, err = page.ElementsX(xpath)
	} else {
		elements, err = page.Elements(selector)
	}
	if err != nil {
		return nil, fmt.Errorf("find %q: %w", selector, err)
	}
	return wrapElements(elements, s.actionTimeout), nil
}

func (s rodSurface) Content(ctx context.Context) (string, error) {
	return s.page.Context(ctx).HTML()
}

func (s rodSurface) VisibleText(ctx context.Context) (string, error) {
	doc, err := s.Content(ctx)
	if err != nil {
		return "", err
	}
	return htmlutil.VisibleText(doc), nil
}

type rodElement struct {
	el            *rod.Element
	actionTimeout time.Duration
}

func wrapElements(elements rod.Elements, actionTimeout time.Duration) []Element {
	out := make([]Element, len(elements))
	for i, e := range elements {
		out[i] = rodElement{el: e, actionTimeout: actionTimeout}
	}
	return out
}

// action returns the element bound to a context limited by the action
// timeout.
func (e rodElement) action(ctx context.Context) (*rod.Element, context.CancelFunc) {
	ctx, cancel := ActionContext(ctx, e.actionTimeout)
	return e.el.Context(ctx), cancel
}

func (e rodElement) Find(ctx context.Context, selector string) ([]Element, error) {
	el := e.el.Context(ctx)

	var elements rod.Elements
	var err error
	if xpath, ok := IsXPath(selector); ok {
		elements, err = el.ElementsX(xpath)
	} else {
		elements, err = el.Elements(selector)
	}
	if err != nil {
		return nil, fmt.Errorf("find %q: %w", selector, err)
	}
	return wrapElements(elements, e.actionTimeout), nil
}

func (e rodElement) Visible(ctx context.Context) bool {
	visible, err := e.el.Context(ctx).Visible()
	return err == nil && visible
}

func (e rodElement) Text(ctx context.Context) (string, error) {
	return e.el.Context(ctx).Text()
}

func (e rodElement) Attribute(ctx context.Context, name string) (string, error) {
	value, err := e.el.Context(ctx).Attribute(name)
	if err != nil || value == nil {
		return "", err
	}
	return *value, nil
}

func (e rodElement) Click(ctx context.Context) error {
	el, cancel := e.action(ctx)
	defer cancel()
	return el.Click(proto.InputMouseButtonLeft, 1)
}

func (e rodElement) Fill(ctx context.Context, value string) error {
	el, cancel := e.action(ctx)
	defer cancel()
	if err := el.SelectAllText(); err != nil {
		return err
	}
	return el.Input(value)
}

func (e rodElement) Submit(ctx context.Context) error {
	el, cancel := e.action(ctx)
	defer cancel()
	return el.Type(input.Enter)
}

func (e rodElement) Screenshot(ctx context.Context) ([]byte, error) {
	el, cancel := e.action(ctx)
	defer cancel()
	return el.Screenshot(proto.PageCaptureScreenshotFormatPng, 0)
}
