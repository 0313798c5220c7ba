package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"gradewatch/internal/captcha"
	"gradewatch/internal/login"
	"gradewatch/internal/selector"
	"gradewatch/internal/surface/surfacetest"
	"gradewatch/internal/telemetry"

	"github.com/stretchr/testify/require"
)

const (
	loginURL  = "https://portal.example/login"
	gradesURL = "https://portal.example/grades"
	searchSel = "//button[@id='search']"
	tableSel  = "td.course"
)

var testSelectors = selector.Config{
	XPathMap: map[string]string{
		"search_button":    searchSel,
		"course_name_cell": tableSel,
	},
	LoginMap: map[string]string{
		"username_input": "#username",
		"password_input": "#password",
	},
}

func fastTimings() Timings {
	return Timings{
		Poll:           time.Millisecond,
		Navigate:       time.Second,
		FormReady:      5 * time.Millisecond,
		RedirectSettle: time.Millisecond,
		SuccessCheck:   5 * time.Millisecond,
		NetworkIdle:    5 * time.Millisecond,
		SearchTimeout:  20 * time.Millisecond,
		TableTimeout:   20 * time.Millisecond,
	}
}

func newNavigator(t *testing.T, tel telemetry.API) *Navigator {
	t.Helper()
	lt := login.DefaultTimings()
	lt.Poll = time.Millisecond
	lt.SubmitSettle = time.Millisecond
	lt.SuccessTimeout = 10 * time.Millisecond
	lt.ExitTimeout = 10 * time.Millisecond

	machine := login.NewMachine(login.Options{
		Selectors:   testSelectors,
		Credentials: login.Credentials{Username: "u", Password: "p"},
		MaxRetries:  3,
		Solver:      captcha.NewSolverWithReader(nil, false, captcha.Selectors{}, tel),
		Timings:     lt,
	}, tel)

	return NewNavigator(Options{
		URLs:          URLs{Login: loginURL, Grades: gradesURL},
		Selectors:     testSelectors,
		Machine:       machine,
		SuccessMarker: "广东技术师范大学教务系统",
		Timings:       fastTimings(),
	}, tel)
}

// portal wires a fake page that behaves like the grade portal: submitting
// the password logs in, the search button reveals the grade table.
func portal(loggedIn bool) *surfacetest.Page {
	page := surfacetest.NewPage("about:blank")
	username := surfacetest.NewElement("")
	password := surfacetest.NewElement("")
	search := surfacetest.NewElement("查询")
	search.OnClick = func() {
		page.Set(tableSel, surfacetest.NewElement("Calculus"))
	}

	showApp := func() {
		page.Remove("#username")
		page.Remove("#password")
		page.Set(searchSel, search)
	}
	password.OnSubmit = func(string) { showApp() }

	if loggedIn {
		showApp()
	} else {
		page.Set("#username", username)
		page.Set("#password", password)
	}
	return page
}

func TestRunLogsInAndReachesTable(t *testing.T) {
	page := portal(false)
	tel := &telemetry.Recorder{}
	nav := newNavigator(t, tel)

	require.NoError(t, nav.Run(context.Background(), page))
	require.Equal(t, []string{loginURL, gradesURL}, page.Navigations())

	table, err := page.Find(context.Background(), tableSel)
	require.NoError(t, err)
	require.Len(t, table, 1)
	require.False(t, tel.Has("warning", "navigator.manual"))
}

func TestRunAlreadyLoggedIn(t *testing.T) {
	page := portal(true)
	nav := newNavigator(t, &telemetry.Recorder{})

	require.NoError(t, nav.Run(context.Background(), page))
	require.Equal(t, []string{loginURL, gradesURL}, page.Navigations())
}

func TestRunSuccessMarkerSkipsLogin(t *testing.T) {
	page := portal(true)
	page.SetText("<title>广东技术师范大学教务系统</title>")
	nav := newNavigator(t, &telemetry.Recorder{})

	require.NoError(t, nav.Run(context.Background(), page))
}

func TestRunNavigationFailure(t *testing.T) {
	page := portal(false)
	page.OnNavigate = func(url string) error {
		return errors.New("net::ERR_NAME_NOT_RESOLVED")
	}
	nav := newNavigator(t, &telemetry.Recorder{})

	err := nav.Run(context.Background(), page)
	require.ErrorContains(t, err, "open login page")
}

func TestRunWaitsForTableUntilCancelled(t *testing.T) {
	page := portal(true)
	page.Remove(searchSel)
	tel := &telemetry.Recorder{}
	nav := newNavigator(t, tel)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, nav.Run(ctx, page), context.DeadlineExceeded)
}

func TestRunManualLoginOnGradesPage(t *testing.T) {
	page := portal(true)
	username := surfacetest.NewElement("")
	password := surfacetest.NewElement("")
	page.OnNavigate = func(url string) error {
		if url == gradesURL && len(page.Navigations()) == 2 {
			page.Set("#username", username)
			page.Set("#password", password)
			go func() {
				time.Sleep(30 * time.Millisecond)
				page.Remove("#username")
				page.Remove("#password")
			}()
		}
		return nil
	}
	tel := &telemetry.Recorder{}
	nav := newNavigator(t, tel)

	require.NoError(t, nav.Run(context.Background(), page))
	require.Equal(t, []string{loginURL, gradesURL, gradesURL}, page.Navigations())
	require.Equal(t, "p", password.Value())
}
