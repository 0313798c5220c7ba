package login

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"gradewatch/internal/captcha"
	"gradewatch/internal/selector"
	"gradewatch/internal/surface"
	"gradewatch/internal/surface/surfacetest"
	"gradewatch/internal/telemetry"

	"github.com/stretchr/testify/require"
)

var testSelectors = selector.Config{
	XPathMap: map[string]string{
		"search_button":    "//button[@id='search']",
		"course_name_cell": "td.course",
	},
	LoginMap: map[string]string{
		"username_input":     "#username",
		"password_input":     "#password",
		"submit_button":      "#login",
		"switch_to_password": "#password-tab",
		"switch_account_btn": "#switch-account",
		"captcha_input":      "#captcha",
		"captcha_image":      "#captcha-img",
		"captcha_refresh":    "#captcha-refresh",
	},
}

var creds = Credentials{Username: "20240001", Password: "hunter2"}

func fastTimings() Timings {
	return Timings{
		Poll:                   time.Millisecond,
		SwitchAccountSettle:    time.Millisecond,
		SwitchToPasswordSettle: time.Millisecond,
		SubmitSettle:           time.Millisecond,
		SuccessTimeout:         10 * time.Millisecond,
		ExitTimeout:            20 * time.Millisecond,
		CAS: CASTimings{
			Navigate:        10 * time.Millisecond,
			Fallback:        10 * time.Millisecond,
			Confirm:         30 * time.Millisecond,
			ConfirmInterval: time.Millisecond,
		},
	}
}

type textReader string

func (r textReader) RequestText(ctx context.Context, imageBase64 string) string {
	return string(r)
}

type loginForm struct {
	page         *surfacetest.Page
	username     *surfacetest.Element
	password     *surfacetest.Element
	captchaInput *surfacetest.Element
	image        *surfacetest.Element
	refresh      *surfacetest.Element
}

func newLoginForm(withCaptcha bool) loginForm {
	f := loginForm{
		page:     surfacetest.NewPage("https://portal.example/login"),
		username: surfacetest.NewElement(""),
		password: surfacetest.NewElement(""),
	}
	f.page.Set("#username", f.username)
	f.page.Set("#password", f.password)

	if withCaptcha {
		f.captchaInput = surfacetest.NewElement("")
		f.image = surfacetest.NewElement("")
		f.image.Attrs["src"] = "data:image/png;base64,QUJD"
		f.refresh = surfacetest.NewElement("")
		f.page.Set("#captcha", f.captchaInput)
		f.page.Set("#captcha-img", f.image)
		f.page.Set("#captcha-refresh", f.refresh)
	}
	return f
}

func newMachine(t *testing.T, credentials Credentials, reader captcha.TextReader, configured bool) (*Machine, *telemetry.Recorder) {
	t.Helper()
	tel := &telemetry.Recorder{}
	solver := captcha.NewSolverWithReader(reader, configured, captcha.Selectors{
		Image:   testSelectors.Login("captcha_image"),
		Refresh: testSelectors.Login("captcha_refresh"),
	}, tel)
	m := NewMachine(Options{
		Selectors:          testSelectors,
		Credentials:        credentials,
		MaxRetries:         3,
		SwitchAccountLabel: "切换账号登录",
		Solver:             solver,
		Timings:            fastTimings(),
	}, tel)
	return m, tel
}

func TestAttemptUnreadableCaptchaEscalatesToManual(t *testing.T) {
	form := newLoginForm(true)
	m, tel := newMachine(t, creds, textReader("I cannot read this"), true)

	outcome := m.Attempt(context.Background(), form.page)

	require.Equal(t, Manual, outcome)
	require.Equal(t, ManualRequired, m.State())
	require.Equal(t, 2, form.refresh.Clicks())
	require.Equal(t, 0, form.captchaInput.Submits())
	require.True(t, tel.Has("warning", "solver.unreadable"))
}

func TestAttemptSolvesCaptcha(t *testing.T) {
	form := newLoginForm(true)
	form.captchaInput.OnSubmit = func(value string) {
		if value == "96" {
			form.page.Set("//button[@id='search']", surfacetest.NewElement("查询"))
		}
	}
	m, _ := newMachine(t, creds, textReader("12×8="), true)

	outcome := m.Attempt(context.Background(), form.page)

	require.Equal(t, OK, outcome)
	require.Equal(t, Authenticated, m.State())
	require.Equal(t, "20240001", form.username.Value())
	require.Equal(t, "hunter2", form.password.Value())
	require.Equal(t, "96", form.captchaInput.Value())
	require.Equal(t, 1, form.captchaInput.Submits())
	require.Equal(t, 0, form.refresh.Clicks())
}

func TestAttemptRetriesRejectedCaptcha(t *testing.T) {
	form := newLoginForm(true)
	submits := 0
	form.captchaInput.OnSubmit = func(string) {
		submits++
		if submits == 2 {
			form.page.Set("td.course", surfacetest.NewElement("Calculus"))
		}
	}
	m, _ := newMachine(t, creds, textReader("3+4"), true)

	require.Equal(t, OK, m.Attempt(context.Background(), form.page))
	require.Equal(t, 2, form.captchaInput.Submits())
	require.Equal(t, 1, form.refresh.Clicks())
}

func TestAttemptRejectedWithoutCaptcha(t *testing.T) {
	form := newLoginForm(false)
	m, _ := newMachine(t, creds, textReader(""), true)

	require.Equal(t, Failed, m.Attempt(context.Background(), form.page))
	require.Equal(t, AttemptFailed, m.State())
	require.Equal(t, 1, form.password.Submits())
}

func TestAttemptOCRNotConfigured(t *testing.T) {
	form := newLoginForm(true)
	m, _ := newMachine(t, creds, textReader("1+1"), false)

	require.Equal(t, Manual, m.Attempt(context.Background(), form.page))
	require.Equal(t, 0, form.refresh.Clicks())
	require.Equal(t, 0, form.captchaInput.Submits())
}

func TestAttemptWithoutCredentials(t *testing.T) {
	form := newLoginForm(false)
	m, _ := newMachine(t, Credentials{}, textReader(""), true)
	require.Equal(t, Manual, m.Attempt(context.Background(), form.page))
	require.Empty(t, form.username.Value())

	empty := surfacetest.NewPage("https://portal.example/index")
	require.Equal(t, OK, m.Attempt(context.Background(), empty))
	require.Equal(t, NoLoginForm, m.State())
}

func TestAttemptNoFormWithCredentials(t *testing.T) {
	m, _ := newMachine(t, creds, textReader(""), true)
	page := surfacetest.NewPage("https://portal.example/index")
	require.Equal(t, Failed, m.Attempt(context.Background(), page))
}

func TestAttemptHiddenFieldsNeedHuman(t *testing.T) {
	form := newLoginForm(false)
	form.password.SetHidden(true)
	m, _ := newMachine(t, creds, textReader(""), true)

	require.Equal(t, Manual, m.Attempt(context.Background(), form.page))
}

func TestAttemptSwitchesToPasswordLogin(t *testing.T) {
	page := surfacetest.NewPage("https://portal.example/login")
	tab := surfacetest.NewElement("账号登录")
	username := surfacetest.NewElement("")
	password := surfacetest.NewElement("")
	tab.OnClick = func() {
		page.Set("#username", username)
		page.Set("#password", password)
	}
	page.Set("#password-tab", tab)
	m, _ := newMachine(t, creds, textReader(""), true)

	require.Equal(t, Failed, m.Attempt(context.Background(), page))
	require.Equal(t, 1, tab.Clicks())
	require.Equal(t, "hunter2", password.Value())
}

func TestActiveTargetSearchesFrames(t *testing.T) {
	ctx := context.Background()
	page := surfacetest.NewPage("https://portal.example")
	hidden := surfacetest.NewElement("")
	hidden.Hidden = true
	page.Set("#username", hidden)

	page.AddFrame()
	frame := page.AddFrame()
	frame.Set("#username", surfacetest.NewElement(""))

	m, _ := newMachine(t, creds, textReader(""), true)
	require.Equal(t, surface.Surface(frame), m.ActiveTarget(ctx, page))
	require.True(t, m.FormVisible(ctx, page))

	frame.Remove("#username")
	require.Nil(t, m.ActiveTarget(ctx, page))
}

func TestSwitchAccountLabel(t *testing.T) {
	for _, c := range []struct {
		text    string
		clicked int
	}{
		{"切换账号登录", 1},
		{"忘记密码", 0},
	} {
		form := newLoginForm(false)
		button := surfacetest.NewElement(c.text)
		form.page.Set("#switch-account", button)
		m, _ := newMachine(t, creds, textReader(""), true)

		m.Attempt(context.Background(), form.page)
		require.Equal(t, c.clicked, button.Clicks(), c.text)
	}
}

func TestWaitSuccess(t *testing.T) {
	ctx := context.Background()
	page := surfacetest.NewPage("https://portal.example")
	m, _ := newMachine(t, creds, textReader(""), true)

	require.False(t, m.WaitSuccess(ctx, page, 5*time.Millisecond))

	page.Set("td.course", surfacetest.NewElement("Calculus"))
	require.True(t, m.WaitSuccess(ctx, page, time.Second))
}

func TestWaitExit(t *testing.T) {
	form := newLoginForm(false)
	m, _ := newMachine(t, creds, textReader(""), true)

	go func() {
		time.Sleep(50 * time.Millisecond)
		form.username.SetHidden(true)
		form.password.SetHidden(true)
	}()
	require.NoError(t, m.WaitExit(context.Background(), form.page))

	form.username.SetHidden(false)
	ctx, cancel := context.WithTimeout(context.Background(), 40*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, m.WaitExit(ctx, form.page), context.DeadlineExceeded)
}

func newCAS() *CAS {
	return NewCAS(DefaultCASConfig(), fastTimings().CAS, &telemetry.Recorder{})
}

const portalHome = "https://jwglxt.gpnu.edu.cn/jwglxt/xtgl/index_initMenu.html"

func TestCASNone(t *testing.T) {
	page := surfacetest.NewPage("https://portal.example")
	page.SetText("<html>welcome</html>")

	require.Equal(t, CASNone, newCAS().Detect(context.Background(), page))
	require.Empty(t, page.Navigations())
}

func TestCASAlreadyOnPortal(t *testing.T) {
	page := surfacetest.NewPage(portalHome)
	page.SetText("应用认证平台 广东技术师范大学教务系统")

	require.Equal(t, CASSuccess, newCAS().Detect(context.Background(), page))
	require.Empty(t, page.Navigations())
}

func TestCASMarkerInFrame(t *testing.T) {
	page := surfacetest.NewPage("https://webauth.gpnu.edu.cn/portal")
	frame := page.AddFrame()
	frame.SetText("CAS统一身份认证登录")
	page.OnNavigate = func(url string) error {
		frame.SetText("")
		page.SetText("广东技术师范大学教务系统")
		return nil
	}

	require.Equal(t, CASSuccess, newCAS().Detect(context.Background(), page))
	require.Equal(t, []string{DefaultCASConfig().AuthURL}, page.Navigations())
}

func TestCASRedirectUnconfirmed(t *testing.T) {
	page := surfacetest.NewPage("https://webauth.gpnu.edu.cn/portal")
	page.SetText("CAS统一身份认证登录")

	require.Equal(t, CASRedirected, newCAS().Detect(context.Background(), page))
	require.Len(t, page.Navigations(), 1)
}

func TestCASRedirectedEarlyOnAuthorizedHost(t *testing.T) {
	page := surfacetest.NewPage("https://webauth.gpnu.edu.cn/portal")
	page.SetText("CAS统一身份认证登录")
	navigated := make(chan struct{})
	page.OnNavigate = func(url string) error {
		page.SetText("loading")
		close(navigated)
		return nil
	}
	cas := NewCAS(DefaultCASConfig(), CASTimings{
		Navigate:        time.Millisecond,
		Fallback:        time.Millisecond,
		Confirm:         10 * time.Second,
		ConfirmInterval: time.Millisecond,
	}, &telemetry.Recorder{})

	done := make(chan CASStatus)
	go func() {
		done <- cas.Detect(context.Background(), page)
	}()

	<-navigated
	time.Sleep(10 * time.Millisecond)
	page.SetURL(portalHome)

	select {
	case status := <-done:
		require.Equal(t, CASRedirected, status)
	case <-time.After(5 * time.Second):
		t.Fatal("detect did not return once the portal host was reached")
	}
}

func TestCASConcurrentNavigation(t *testing.T) {
	page := surfacetest.NewPage("https://webauth.gpnu.edu.cn/portal")
	page.SetText("应用认证平台")
	page.OnNavigate = func(url string) error {
		page.SetText("广东技术师范大学教务系统")
		return fmt.Errorf("navigate: %w", surface.ErrNavigationInterrupted)
	}

	require.Equal(t, CASSuccess, newCAS().Detect(context.Background(), page))
	require.Len(t, page.Navigations(), 1)
}

func TestCASNavigationFallback(t *testing.T) {
	page := surfacetest.NewPage("https://webauth.gpnu.edu.cn/portal")
	page.SetText("应用认证平台")
	calls := 0
	page.OnNavigate = func(url string) error {
		calls++
		if calls == 1 {
			return errors.New("timeout waiting for networkidle")
		}
		page.SetText("广东技术师范大学教务系统")
		return nil
	}
	tel := &telemetry.Recorder{}
	cas := NewCAS(DefaultCASConfig(), fastTimings().CAS, tel)

	require.Equal(t, CASSuccess, cas.Detect(context.Background(), page))
	require.Len(t, page.Navigations(), 2)
	require.True(t, tel.Has("warning", "cas.navigate"))
}
