package login

import (
	"context"
	"errors"
	"strings"

	"gradewatch/internal/poll"
	"gradewatch/internal/surface"
	"gradewatch/internal/telemetry"
)

const report_cas_navigate = "cas.navigate"

type CASConfig struct {
	// Markers are strings only an identity provider page contains.
	Markers []string `json:"markers"`
	// SuccessMarker only appears once the portal is logged in.
	SuccessMarker  string `json:"success_marker"`
	AuthorizedHost string `json:"authorized_host"`
	AuthURL        string `json:"auth_url"`
}

func DefaultCASConfig() CASConfig {
	return CASConfig{
		Markers:        []string{"CAS统一身份认证登录", "应用认证平台"},
		SuccessMarker:  "广东技术师范大学教务系统",
		AuthorizedHost: "jwglxt.gpnu.edu.cn",
		AuthURL:        "https://webauth.gpnu.edu.cn/wengine-auth/login?cas_login=true",
	}
}

// CAS detects identity provider pages and pushes the browser through the
// authorization url when one is showing.
type CAS struct {
	config  CASConfig
	timings CASTimings
	tel     telemetry.API
}

func NewCAS(config CASConfig, timings CASTimings, tel telemetry.API) *CAS {
	return &CAS{
		config:  config,
		timings: timings,
		tel:     tel,
	}
}

func (c *CAS) showingProvider(ctx context.Context, page surface.Page) bool {
	for _, s := range page.Surfaces(ctx) {
		if surface.ContentContains(ctx, s, c.config.Markers...) {
			return true
		}
	}
	return false
}

func (c *CAS) onAuthorizedHost(ctx context.Context, page surface.Page) bool {
	return c.config.AuthorizedHost != "" &&
		strings.Contains(page.URL(ctx), c.config.AuthorizedHost)
}

func (c *CAS) succeeded(ctx context.Context, page surface.Page) bool {
	return surface.ContentContains(ctx, page, c.config.SuccessMarker)
}

// Detect reports CASNone when no surface of the page shows an identity
// provider marker. Otherwise it navigates to the authorization url and
// waits for the success marker.
func (c *CAS) Detect(ctx context.Context, page surface.Page) CASStatus {
	ctx, span := tracer.Start(ctx, "CAS.Detect")
	defer span.End()

	if poll.Sleep(ctx, c.timings.Settle) != nil {
		return CASNone
	}
	if !c.showingProvider(ctx, page) {
		return CASNone
	}

	url := page.URL(ctx)
	c.tel.ReportDebug("identity provider detected", url)

	if c.onAuthorizedHost(ctx, page) &&
		!strings.Contains(url, "cas_login=true") &&
		c.succeeded(ctx, page) {
		return CASSuccess
	}

	err := page.Navigate(ctx, c.config.AuthURL, surface.NetworkIdle, c.timings.Navigate)
	switch {
	case err == nil:
	case ctx.Err() != nil:
		return CASNone
	case errors.Is(err, surface.ErrNavigationInterrupted):
		c.tel.ReportDebug("concurrent navigation, waiting for it to settle", err)
		_ = page.WaitLoad(ctx, surface.NetworkIdle, c.timings.Fallback)
	default:
		c.tel.ReportWarning(report_cas_navigate, err)
		err = page.Navigate(ctx, c.config.AuthURL, surface.DOMContentLoaded, c.timings.Fallback)
		if err != nil {
			c.tel.ReportWarning(report_cas_navigate, err)
		}
	}

	status := CASRedirected
	poll.Until(ctx, c.timings.Confirm, c.timings.ConfirmInterval, func(ctx context.Context) bool {
		if c.succeeded(ctx, page) {
			status = CASSuccess
			return true
		}
		return !c.showingProvider(ctx, page) && c.onAuthorizedHost(ctx, page)
	})
	if ctx.Err() != nil {
		return CASNone
	}
	span.AddEvent(status.String())
	return status
}
