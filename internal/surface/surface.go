// Package surface abstracts the searchable parts of a browser page. A page
// is made of surfaces (the main document followed by every nested frame),
// each of which can be queried uniformly for elements and visible text.
package surface

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrNavigationInterrupted is returned by Navigate when another navigation
// started before the requested one committed.
var ErrNavigationInterrupted = errors.New("navigation interrupted by another navigation")

// DefaultActionTimeout bounds a single element action when no other bound
// is configured.
const DefaultActionTimeout = 30 * time.Second

// ActionContext derives the context of one element action from ctx. The
// action gives up after timeout, or after DefaultActionTimeout when timeout
// is not positive.
func ActionContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		timeout = DefaultActionTimeout
	}
	return context.WithTimeout(ctx, timeout)
}

type LoadState int

const (
	DOMContentLoaded LoadState = iota
	Load
	NetworkIdle
)

func (s LoadState) String() string {
	switch s {
	case DOMContentLoaded:
		return "domcontentloaded"
	case Load:
		return "load"
	case NetworkIdle:
		return "networkidle"
	}
	return "unknown"
}

// Finder locates zero or more elements matching a CSS or XPath selector.
type Finder interface {
	Find(ctx context.Context, selector string) ([]Element, error)
}

// Surface is a searchable document: the main page or a frame.
type Surface interface {
	Finder
	// Content returns the serialized markup of the document.
	Content(ctx context.Context) (string, error)
	VisibleText(ctx context.Context) (string, error)
}

type Element interface {
	Finder
	Visible(ctx context.Context) bool
	Text(ctx context.Context) (string, error)
	// Attribute returns "" when the attribute is absent.
	Attribute(ctx context.Context, name string) (string, error)
	Click(ctx context.Context) error
	// Fill replaces the current value of an input.
	Fill(ctx context.Context, value string) error
	// Submit presses Enter on the element.
	Submit(ctx context.Context) error
	// Screenshot renders the element as PNG.
	Screenshot(ctx context.Context) ([]byte, error)
}

type Page interface {
	Surface
	// Surfaces returns the main document first, then every nested frame in
	// document order, recursively.
	Surfaces(ctx context.Context) []Surface
	URL(ctx context.Context) string
	Navigate(ctx context.Context, url string, until LoadState, timeout time.Duration) error
	WaitLoad(ctx context.Context, until LoadState, timeout time.Duration) error
	// Screenshot renders the full page as PNG.
	Screenshot(ctx context.Context) ([]byte, error)
	Close() error
}

// IsXPath reports whether selector is an XPath expression and returns it
// with any "xpath=" prefix stripped.
func IsXPath(selector string) (string, bool) {
	if rest, ok := strings.CutPrefix(selector, "xpath="); ok {
		return rest, true
	}
	if strings.HasPrefix(selector, "/") || strings.HasPrefix(selector, "(") {
		return selector, true
	}
	return selector, false
}

// First returns the first element matching selector or nil.
func First(ctx context.Context, f Finder, selector string) Element {
	if selector == "" || f == nil {
		return nil
	}
	elements, err := f.Find(ctx, selector)
	if err != nil || len(elements) == 0 {
		return nil
	}
	return elements[0]
}

// FirstVisible returns the first visible element matching selector or nil.
func FirstVisible(ctx context.Context, f Finder, selector string) Element {
	if selector == "" || f == nil {
		return nil
	}
	elements, err := f.Find(ctx, selector)
	if err != nil {
		return nil
	}
	for _, e := range elements {
		if e.Visible(ctx) {
			return e
		}
	}
	return nil
}

// TextOf returns the trimmed text of the first element matching selector
// inside f, or "" when there is none.
func TextOf(ctx context.Context, f Finder, selector string) string {
	e := First(ctx, f, selector)
	if e == nil {
		return ""
	}
	text, err := e.Text(ctx)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(text)
}

// ContentContains reports whether the markup of s contains any of needles.
func ContentContains(ctx context.Context, s Surface, needles ...string) bool {
	content, err := s.Content(ctx)
	if err != nil {
		return false
	}
	for _, n := range needles {
		if n != "" && strings.Contains(content, n) {
			return true
		}
	}
	return false
}

// PageText concatenates the visible text of every surface of the page.
func PageText(ctx context.Context, page Page) string {
	var sb strings.Builder
	for _, s := range page.Surfaces(ctx) {
		text, err := s.VisibleText(ctx)
		if err != nil {
			continue
		}
		sb.WriteString(text)
		sb.WriteByte('\n')
	}
	return sb.String()
}
