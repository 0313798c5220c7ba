package login

import "time"

// Outcome is the result of one login attempt.
type Outcome int

const (
	// OK means authenticated and past the login surface, or nothing to do.
	OK Outcome = iota
	// Manual means a human has to finish the login in the browser window.
	Manual
	// Failed means an attempt was made and rejected, another round may help.
	Failed
)

func (o Outcome) String() string {
	switch o {
	case OK:
		return "ok"
	case Manual:
		return "manual"
	case Failed:
		return "failed"
	}
	return "unknown"
}

type State int

const (
	NoLoginForm State = iota
	LoginFormVisible
	CasRedirectDetected
	Authenticated
	ManualRequired
	AttemptFailed
)

func (s State) String() string {
	switch s {
	case NoLoginForm:
		return "no_login_form"
	case LoginFormVisible:
		return "login_form_visible"
	case CasRedirectDetected:
		return "cas_redirect_detected"
	case Authenticated:
		return "authenticated"
	case ManualRequired:
		return "manual_required"
	case AttemptFailed:
		return "attempt_failed"
	}
	return "unknown"
}

// CASStatus is what CAS.Detect found out about the identity provider.
type CASStatus int

const (
	// CASNone means no identity provider page was showing.
	CASNone CASStatus = iota
	// CASRedirected means the authorization url was visited but success
	// could not be confirmed, the caller should check again.
	CASRedirected
	// CASSuccess means the portal confirmed the login.
	CASSuccess
)

func (s CASStatus) String() string {
	switch s {
	case CASNone:
		return "none"
	case CASRedirected:
		return "redirected"
	case CASSuccess:
		return "success"
	}
	return "unknown"
}

type CASTimings struct {
	Settle          time.Duration
	Navigate        time.Duration
	Fallback        time.Duration
	Confirm         time.Duration
	ConfirmInterval time.Duration
}

type Timings struct {
	// Poll is the interval of every form visibility poll.
	Poll                   time.Duration
	SwitchAccountSettle    time.Duration
	SwitchToPasswordSettle time.Duration
	SubmitSettle           time.Duration
	SuccessTimeout         time.Duration
	ExitTimeout            time.Duration
	CAS                    CASTimings
}

func DefaultTimings() Timings {
	return Timings{
		Poll:                   200 * time.Millisecond,
		SwitchAccountSettle:    time.Second,
		SwitchToPasswordSettle: 500 * time.Millisecond,
		SubmitSettle:           2 * time.Second,
		SuccessTimeout:         5 * time.Second,
		ExitTimeout:            15 * time.Second,
		CAS: CASTimings{
			Settle:          500 * time.Millisecond,
			Navigate:        15 * time.Second,
			Fallback:        10 * time.Second,
			Confirm:         10 * time.Second,
			ConfirmInterval: 500 * time.Millisecond,
		},
	}
}
