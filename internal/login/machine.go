// Package login drives the portal's login form: it finds the form in the
// page or one of its frames, fills credentials, solves the CAPTCHA, handles
// identity provider redirects and decides when a human has to take over.
package login

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"gradewatch/internal/assert"
	"gradewatch/internal/captcha"
	"gradewatch/internal/poll"
	"gradewatch/internal/selector"
	"gradewatch/internal/surface"
	"gradewatch/internal/telemetry"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
)

var tracer = otel.Tracer("gradewatch/login")
var meter = otel.Meter("gradewatch/login")

const (
	report_machine_selectors = "machine.selectors"
	report_machine_fill      = "machine.fill"
	report_machine_submit    = "machine.submit"
	report_machine_switch    = "machine.switch-account"
	report_machine_captcha   = "machine.captcha"
)

type Credentials struct {
	Username string
	Password string
}

func (c Credentials) Configured() bool {
	return c.Username != "" && c.Password != ""
}

// Solver answers and refreshes the CAPTCHA inside a surface.
type Solver interface {
	Solve(ctx context.Context, container surface.Finder) (string, error)
	Refresh(ctx context.Context, container surface.Finder)
}

type Options struct {
	Selectors   selector.Config
	Credentials Credentials
	// MaxRetries bounds the CAPTCHA rounds of one attempt, at least 1.
	MaxRetries         int
	SwitchAccountLabel string
	// CAS may be nil for portals without an identity provider.
	CAS     *CAS
	Solver  Solver
	Timings Timings
}

type Machine struct {
	opts     Options
	tel      telemetry.API
	outcomes metric.Int64Counter

	mu    sync.Mutex
	state State
}

func NewMachine(opts Options, tel telemetry.API) *Machine {
	assert.NotNil(opts.Solver, "captcha solver")
	if opts.MaxRetries < 1 {
		opts.MaxRetries = 1
	}
	outcomes, _ := meter.Int64Counter("login_outcomes")
	return &Machine{
		opts:     opts,
		tel:      tel,
		outcomes: outcomes,
	}
}

// State returns the state of the last transition.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Machine) setState(s State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != s {
		m.tel.ReportDebug("login state", m.state.String(), s.String())
	}
	m.state = s
}

func (m *Machine) finish(ctx context.Context, state State, outcome Outcome) Outcome {
	m.setState(state)
	m.outcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome.String())))
	return outcome
}

func (m *Machine) targetSelectors() []string {
	sel := m.opts.Selectors
	return []string{
		sel.Login("switch_to_password"),
		sel.Login("username_input"),
		sel.Login("password_input"),
		sel.Login("switch_account_btn"),
	}
}

// ActiveTarget returns the first surface of the page, main document first,
// showing any login widget. It returns nil when there is no login form.
func (m *Machine) ActiveTarget(ctx context.Context, page surface.Page) surface.Surface {
	selectors := m.targetSelectors()
	for _, s := range page.Surfaces(ctx) {
		for _, sel := range selectors {
			if surface.FirstVisible(ctx, s, sel) != nil {
				return s
			}
		}
	}
	return nil
}

func (m *Machine) FormVisible(ctx context.Context, page surface.Page) bool {
	return m.ActiveTarget(ctx, page) != nil
}

// WaitSuccess waits up to timeout for any authenticated marker on the
// page. The first marker to show wins.
func (m *Machine) WaitSuccess(ctx context.Context, page surface.Page, timeout time.Duration) bool {
	checks := []poll.Check{}
	for _, sel := range []string{
		m.opts.Selectors.XPath("search_button"),
		m.opts.Selectors.XPath("course_name_cell"),
	} {
		if sel == "" {
			continue
		}
		checks = append(checks, func(ctx context.Context) bool {
			return surface.FirstVisible(ctx, page, sel) != nil
		})
	}
	return poll.First(ctx, timeout, m.opts.Timings.Poll, checks...) >= 0
}

// WaitExit blocks until the login form is gone, first for the exit timeout
// and then for as long as it takes a human to finish.
func (m *Machine) WaitExit(ctx context.Context, page surface.Page) error {
	bounded, err := poll.UntilThenForever(ctx, m.opts.Timings.ExitTimeout, m.opts.Timings.Poll, func(ctx context.Context) bool {
		return !m.FormVisible(ctx, page)
	})
	if !bounded && err == nil {
		m.tel.ReportDebug("login form left after manual intervention")
	}
	return err
}

func (m *Machine) switchAccount(ctx context.Context, page surface.Page, target surface.Surface) surface.Surface {
	button := surface.First(ctx, target, m.opts.Selectors.Login("switch_account_btn"))
	if button == nil {
		return target
	}
	text, err := button.Text(ctx)
	if err != nil || !strings.Contains(text, m.opts.SwitchAccountLabel) {
		return target
	}
	if err := button.Click(ctx); err != nil {
		m.tel.ReportWarning(report_machine_switch, err)
		return target
	}
	if poll.Sleep(ctx, m.opts.Timings.SwitchAccountSettle) != nil {
		return target
	}
	if next := m.ActiveTarget(ctx, page); next != nil {
		return next
	}
	return target
}

func (m *Machine) submit(ctx context.Context, target surface.Surface, field surface.Element) error {
	err := field.Submit(ctx)
	if err == nil {
		return nil
	}
	button := surface.FirstVisible(ctx, target, m.opts.Selectors.Login("submit_button"))
	if button == nil {
		return err
	}
	return button.Click(ctx)
}

func visible(ctx context.Context, e surface.Element) bool {
	return e != nil && e.Visible(ctx)
}

// Attempt runs one login round against the page.
func (m *Machine) Attempt(ctx context.Context, page surface.Page) Outcome {
	ctx, span := tracer.Start(ctx, "Attempt")
	defer span.End()

	outcome := m.attempt(ctx, page)
	span.SetAttributes(
		attribute.String("outcome", outcome.String()),
		attribute.String("state", m.State().String()),
	)
	if outcome != OK {
		span.SetStatus(codes.Error, outcome.String())
	}
	return outcome
}

func (m *Machine) attempt(ctx context.Context, page surface.Page) Outcome {
	creds := m.opts.Credentials
	sel := m.opts.Selectors

	target := m.ActiveTarget(ctx, page)
	if target == nil {
		if !creds.Configured() {
			return m.finish(ctx, NoLoginForm, OK)
		}
		return m.finish(ctx, AttemptFailed, Failed)
	}
	m.setState(LoginFormVisible)

	target = m.switchAccount(ctx, page, target)

	usernameSel := sel.Login("username_input")
	passwordSel := sel.Login("password_input")
	if usernameSel == "" || passwordSel == "" {
		m.tel.ReportBroken(report_machine_selectors, "username_input and password_input must be configured")
		return m.finish(ctx, AttemptFailed, Failed)
	}

	username := surface.First(ctx, target, usernameSel)
	password := surface.First(ctx, target, passwordSel)
	if username == nil || password == nil {
		if toggle := surface.First(ctx, target, sel.Login("switch_to_password")); toggle != nil {
			if err := toggle.Click(ctx); err != nil {
				m.tel.ReportWarning(report_machine_switch, err)
			}
			if poll.Sleep(ctx, m.opts.Timings.SwitchToPasswordSettle) != nil {
				return m.finish(ctx, AttemptFailed, Failed)
			}
			username = surface.First(ctx, target, usernameSel)
			password = surface.First(ctx, target, passwordSel)
		}
	}

	bothVisible := visible(ctx, username) && visible(ctx, password)
	if !creds.Configured() {
		if bothVisible {
			return m.finish(ctx, ManualRequired, Manual)
		}
		return m.finish(ctx, NoLoginForm, OK)
	}
	if !bothVisible {
		return m.finish(ctx, ManualRequired, Manual)
	}

	captchaSel := sel.Login("captcha_input")
	rounds := m.opts.MaxRetries
	for round := 0; round < rounds; round++ {
		last := round == rounds-1

		if err := username.Fill(ctx, creds.Username); err != nil {
			m.tel.ReportWarning(report_machine_fill, err)
			return m.finish(ctx, AttemptFailed, Failed)
		}
		if err := password.Fill(ctx, creds.Password); err != nil {
			m.tel.ReportWarning(report_machine_fill, err)
			return m.finish(ctx, AttemptFailed, Failed)
		}

		captchaInput := surface.First(ctx, target, captchaSel)
		captchaRequired := visible(ctx, captchaInput)

		submitField := password
		if captchaRequired {
			answer, err := m.opts.Solver.Solve(ctx, target)
			switch {
			case err == nil:
			case errors.Is(err, captcha.ErrUnreadable):
				m.tel.ReportWarning(report_machine_captcha, err, round+1)
				if !last {
					m.opts.Solver.Refresh(ctx, target)
				}
				continue
			default:
				m.tel.ReportWarning(report_machine_captcha, err)
				return m.finish(ctx, ManualRequired, Manual)
			}
			if err := captchaInput.Fill(ctx, answer); err != nil {
				m.tel.ReportWarning(report_machine_fill, err)
				return m.finish(ctx, AttemptFailed, Failed)
			}
			submitField = captchaInput
		}

		if err := m.submit(ctx, target, submitField); err != nil {
			m.tel.ReportWarning(report_machine_submit, err)
		}
		if poll.Sleep(ctx, m.opts.Timings.SubmitSettle) != nil {
			return m.finish(ctx, AttemptFailed, Failed)
		}

		if m.opts.CAS != nil {
			status := m.opts.CAS.Detect(ctx, page)
			if status == CASSuccess {
				return m.finish(ctx, Authenticated, OK)
			}
			if status == CASRedirected {
				m.setState(CasRedirectDetected)
			}
		}
		if m.WaitSuccess(ctx, page, m.opts.Timings.SuccessTimeout) {
			return m.finish(ctx, Authenticated, OK)
		}
		if !captchaRequired {
			return m.finish(ctx, AttemptFailed, Failed)
		}
		if !last {
			m.opts.Solver.Refresh(ctx, target)
		}
	}

	m.tel.ReportWarning(report_machine_captcha, "captcha not solved, manual input required")
	return m.finish(ctx, ManualRequired, Manual)
}
