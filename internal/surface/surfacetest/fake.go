// Package surfacetest provides in-memory fakes of the surface interfaces.
// Selectors are matched literally: a fake surface returns exactly the
// elements registered under the selector string it is asked for.
package surfacetest

import (
	"context"
	"sync"
	"time"

	"gradewatch/internal/surface"
)

type Element struct {
	mu sync.Mutex

	Hidden   bool
	TextVal  string
	Attrs    map[string]string
	Shot     []byte
	ShotErr  error
	ClickErr error
	// Covered makes Click wait until ctx is done, like an element under an
	// overlay that never goes away.
	Covered bool
	// OnClick runs after every successful click.
	OnClick func()
	// OnSubmit runs after every Enter press.
	OnSubmit func(value string)

	children map[string][]*Element
	value    string
	clicks   int
	submits  int
}

func NewElement(text string) *Element {
	return &Element{TextVal: text, Attrs: map[string]string{}}
}

// Add registers children of the element under selector.
func (e *Element) Add(selector string, children ...*Element) *Element {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.children == nil {
		e.children = map[string][]*Element{}
	}
	e.children[selector] = append(e.children[selector], children...)
	return e
}

func (e *Element) SetHidden(hidden bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Hidden = hidden
}

func (e *Element) Value() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.value
}

func (e *Element) Clicks() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.clicks
}

func (e *Element) Submits() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.submits
}

func (e *Element) Find(ctx context.Context, selector string) ([]surface.Element, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return toElements(e.children[selector]), nil
}

func (e *Element) Visible(ctx context.Context) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return !e.Hidden
}

func (e *Element) Text(ctx context.Context) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.TextVal, nil
}

func (e *Element) Attribute(ctx context.Context, name string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.Attrs[name], nil
}

func (e *Element) Click(ctx context.Context) error {
	e.mu.Lock()
	if e.Covered {
		e.mu.Unlock()
		<-ctx.Done()
		return ctx.Err()
	}
	if e.ClickErr != nil {
		e.mu.Unlock()
		return e.ClickErr
	}
	e.clicks++
	hook := e.OnClick
	e.mu.Unlock()

	if hook != nil {
		hook()
	}
	return nil
}

func (e *Element) Fill(ctx context.Context, value string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.value = value
	return nil
}

func (e *Element) Submit(ctx context.Context) error {
	e.mu.Lock()
	e.submits++
	hook := e.OnSubmit
	value := e.value
	e.mu.Unlock()

	if hook != nil {
		hook(value)
	}
	return nil
}

func (e *Element) Screenshot(ctx context.Context) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.Shot, e.ShotErr
}

type Surface struct {
	mu       sync.Mutex
	elements map[string][]*Element
	Text     string
}

func NewSurface() *Surface {
	return &Surface{elements: map[string][]*Element{}}
}

// Set replaces the elements registered under selector.
func (s *Surface) Set(selector string, elements ...*Element) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.elements[selector] = elements
}

func (s *Surface) Remove(selector string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.elements, selector)
}

func (s *Surface) SetText(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Text = text
}

func (s *Surface) Find(ctx context.Context, selector string) ([]surface.Element, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return toElements(s.elements[selector]), nil
}

// Content returns Text, the fake has no markup of its own.
func (s *Surface) Content(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Text, nil
}

func (s *Surface) VisibleText(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Text, nil
}

type Page struct {
	*Surface

	mu          sync.Mutex
	frames      []*Surface
	url         string
	navigations []string
	closed      bool

	Shot []byte
	// OnNavigate, when set, runs on every navigation. A non-nil error is
	// returned from Navigate and the url is left unchanged.
	OnNavigate func(url string) error
}

func NewPage(url string) *Page {
	return &Page{Surface: NewSurface(), url: url}
}

func (p *Page) AddFrame() *Surface {
	p.mu.Lock()
	defer p.mu.Unlock()
	f := NewSurface()
	p.frames = append(p.frames, f)
	return f
}

func (p *Page) SetURL(url string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.url = url
}

func (p *Page) Navigations() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.navigations...)
}

func (p *Page) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *Page) Surfaces(ctx context.Context) []surface.Surface {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := []surface.Surface{p.Surface}
	for _, f := range p.frames {
		out = append(out, f)
	}
	return out
}

func (p *Page) URL(ctx context.Context) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url
}

func (p *Page) Navigate(ctx context.Context, url string, until surface.LoadState, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	p.navigations = append(p.navigations, url)
	hook := p.OnNavigate
	p.mu.Unlock()

	if hook != nil {
		if err := hook(url); err != nil {
			return err
		}
	}
	p.SetURL(url)
	return nil
}

func (p *Page) WaitLoad(ctx context.Context, until surface.LoadState, timeout time.Duration) error {
	return ctx.Err()
}

func (p *Page) Screenshot(ctx context.Context) ([]byte, error) {
	return p.Shot, nil
}

func (p *Page) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func toElements(in []*Element) []surface.Element {
	out := make([]surface.Element, len(in))
	for i, e := range in {
		out[i] = e
	}
	return out
}
