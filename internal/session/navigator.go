// Package session sequences one visit to the portal: login page, login
// rounds, grade page, re-authentication when challenged again, search and
// the wait for the grade table.
package session

import (
	"context"
	"fmt"
	"time"

	"gradewatch/internal/assert"
	"gradewatch/internal/login"
	"gradewatch/internal/poll"
	"gradewatch/internal/selector"
	"gradewatch/internal/surface"
	"gradewatch/internal/telemetry"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("gradewatch/session")

const maxLoginRounds = 5

const (
	report_navigator_manual = "navigator.manual"
	report_navigator_search = "navigator.search"
	report_navigator_table  = "navigator.table"
)

type URLs struct {
	Login  string
	Grades string
}

type Timings struct {
	Poll time.Duration
	// Navigate bounds each page load.
	Navigate       time.Duration
	FormReady      time.Duration
	RedirectSettle time.Duration
	SuccessCheck   time.Duration
	NetworkIdle    time.Duration
	SearchTimeout  time.Duration
	TableTimeout   time.Duration
}

func DefaultTimings() Timings {
	return Timings{
		Poll:           200 * time.Millisecond,
		Navigate:       30 * time.Second,
		FormReady:      time.Second,
		RedirectSettle: time.Second,
		SuccessCheck:   2 * time.Second,
		NetworkIdle:    10 * time.Second,
		SearchTimeout:  10 * time.Second,
		TableTimeout:   15 * time.Second,
	}
}

type Options struct {
	URLs      URLs
	Selectors selector.Config
	Machine   *login.Machine
	// CAS may be nil for portals without an identity provider.
	CAS *login.CAS
	// SuccessMarker is page content that proves the portal is logged in.
	SuccessMarker string
	Timings       Timings
}

type Navigator struct {
	opts Options
	tel  telemetry.API
}

func NewNavigator(opts Options, tel telemetry.API) *Navigator {
	assert.NotNil(opts.Machine, "login machine")
	assert.NotEmptyStr(opts.URLs.Login, "login url")
	assert.NotEmptyStr(opts.URLs.Grades, "grades url")
	return &Navigator{opts: opts, tel: tel}
}

func (n *Navigator) detectCAS(ctx context.Context, page surface.Page) login.CASStatus {
	if n.opts.CAS == nil {
		return login.CASNone
	}
	return n.opts.CAS.Detect(ctx, page)
}

func (n *Navigator) openGrades(ctx context.Context, page surface.Page) error {
	err := page.Navigate(ctx, n.opts.URLs.Grades, surface.DOMContentLoaded, n.opts.Timings.Navigate)
	if err != nil {
		return fmt.Errorf("open grades page: %w", err)
	}
	return nil
}

// Run leaves the page on the grade table. It returns an error only when a
// page cannot be loaded or ctx is done, every other obstacle is waited out
// on the assumption that someone is watching the browser window.
func (n *Navigator) Run(ctx context.Context, page surface.Page) error {
	ctx, span := tracer.Start(ctx, "Navigator.Run")
	defer span.End()

	err := n.run(ctx, page)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "navigation failed")
	}
	return err
}

func (n *Navigator) run(ctx context.Context, page surface.Page) error {
	machine := n.opts.Machine
	t := n.opts.Timings

	err := page.Navigate(ctx, n.opts.URLs.Login, surface.DOMContentLoaded, t.Navigate)
	if err != nil {
		return fmt.Errorf("open login page: %w", err)
	}

	n.loginRounds(ctx, page)

	if err := machine.WaitExit(ctx, page); err != nil {
		return err
	}
	if err := page.WaitLoad(ctx, surface.NetworkIdle, t.NetworkIdle); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		n.tel.ReportDebug("network did not go idle after login", err)
	}

	if err := n.openGrades(ctx, page); err != nil {
		return err
	}

	switch n.detectCAS(ctx, page) {
	case login.CASSuccess:
		if err := n.openGrades(ctx, page); err != nil {
			return err
		}
	case login.CASRedirected:
		if err := poll.Sleep(ctx, t.RedirectSettle); err != nil {
			return err
		}
	}

	if machine.FormVisible(ctx, page) {
		outcome := machine.Attempt(ctx, page)
		if outcome != login.OK {
			n.tel.ReportWarning(report_navigator_manual, "login on the grades page needs a human", outcome.String())
		}
		if err := machine.WaitExit(ctx, page); err != nil {
			return err
		}
		if err := n.openGrades(ctx, page); err != nil {
			return err
		}
	}

	if err := n.search(ctx, page); err != nil {
		return err
	}
	return n.waitTable(ctx, page)
}

func (n *Navigator) loginRounds(ctx context.Context, page surface.Page) {
	machine := n.opts.Machine
	t := n.opts.Timings

	for round := 0; round < maxLoginRounds; round++ {
		if ctx.Err() != nil {
			return
		}

		switch n.detectCAS(ctx, page) {
		case login.CASSuccess:
			return
		case login.CASRedirected:
			if poll.Sleep(ctx, t.RedirectSettle) != nil {
				return
			}
		}

		if surface.ContentContains(ctx, page, n.opts.SuccessMarker) {
			return
		}

		poll.Until(ctx, t.FormReady, t.Poll, func(ctx context.Context) bool {
			return machine.FormVisible(ctx, page)
		})
		if machine.FormVisible(ctx, page) {
			n.tel.ReportDebug("login form visible", round+1)
			if machine.Attempt(ctx, page) == login.Manual {
				n.tel.ReportWarning(report_navigator_manual, "waiting for the login to be completed in the browser")
				return
			}
			continue
		}

		if machine.WaitSuccess(ctx, page, t.SuccessCheck) {
			return
		}
		if round == 0 {
			continue
		}
		return
	}
}

func (n *Navigator) search(ctx context.Context, page surface.Page) error {
	sel := n.opts.Selectors.XPath("search_button")
	if sel == "" {
		return nil
	}

	bounded, err := poll.UntilThenForever(ctx, n.opts.Timings.SearchTimeout, n.opts.Timings.Poll, func(ctx context.Context) bool {
		return surface.FirstVisible(ctx, page, sel) != nil
	})
	if err != nil {
		return err
	}
	if !bounded {
		n.tel.ReportWarning(report_navigator_search, "search button only appeared after manual intervention")
	}

	button := surface.FirstVisible(ctx, page, sel)
	if button == nil {
		return fmt.Errorf("search button %q disappeared", sel)
	}
	if err := button.Click(ctx); err != nil {
		return fmt.Errorf("click search button: %w", err)
	}
	return nil
}

func (n *Navigator) waitTable(ctx context.Context, page surface.Page) error {
	sel := n.opts.Selectors.XPath("course_name_cell")
	if sel == "" {
		return nil
	}

	bounded, err := poll.UntilThenForever(ctx, n.opts.Timings.TableTimeout, n.opts.Timings.Poll, func(ctx context.Context) bool {
		return surface.First(ctx, page, sel) != nil
	})
	if err != nil {
		return err
	}
	if !bounded {
		n.tel.ReportWarning(report_navigator_table, "grade table only appeared after manual intervention")
	}
	return nil
}
