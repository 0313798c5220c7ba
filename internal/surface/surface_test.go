package surface_test

import (
	"context"
	"testing"
	"time"

	"gradewatch/internal/surface"
	"gradewatch/internal/surface/surfacetest"

	"github.com/stretchr/testify/require"
)

func TestIsXPath(t *testing.T) {
	cases := []struct {
		in      string
		out     string
		isXPath bool
	}{
		{"xpath=//div", "//div", true},
		{"//input[@id='u']", "//input[@id='u']", true},
		{"(//tr)[2]", "(//tr)[2]", true},
		{"#username", "#username", false},
		{"table tr", "table tr", false},
	}
	for _, c := range cases {
		out, ok := surface.IsXPath(c.in)
		require.Equal(t, c.out, out, c.in)
		require.Equal(t, c.isXPath, ok, c.in)
	}
}

func TestFirstVisible(t *testing.T) {
	ctx := context.Background()
	hidden := surfacetest.NewElement("hidden")
	hidden.Hidden = true
	shown := surfacetest.NewElement("shown")

	page := surfacetest.NewPage("https://portal.example/login")
	page.Set("#btn", hidden, shown)

	require.Equal(t, shown, surface.FirstVisible(ctx, page, "#btn"))
	require.Equal(t, hidden, surface.First(ctx, page, "#btn"))
	require.Nil(t, surface.FirstVisible(ctx, page, "#none"))
	require.Nil(t, surface.FirstVisible(ctx, page, ""))
	require.Equal(t, "hidden", surface.TextOf(ctx, page, "#btn"))
}

func TestPageTextIncludesFrames(t *testing.T) {
	ctx := context.Background()
	page := surfacetest.NewPage("https://portal.example")
	page.Text = "main"
	frame := page.AddFrame()
	frame.Text = "inside frame"

	text := surface.PageText(ctx, page)
	require.Contains(t, text, "main")
	require.Contains(t, text, "inside frame")
	require.Len(t, page.Surfaces(ctx), 2)
}

func TestContentContains(t *testing.T) {
	ctx := context.Background()
	s := surfacetest.NewSurface()
	s.SetText("<title>CAS统一身份认证登录</title>")

	require.True(t, surface.ContentContains(ctx, s, "应用认证平台", "CAS统一身份认证登录"))
	require.False(t, surface.ContentContains(ctx, s, "应用认证平台"))
	require.False(t, surface.ContentContains(ctx, s, ""))
}

func TestActionContext(t *testing.T) {
	ctx, cancel := surface.ActionContext(context.Background(), 50*time.Millisecond)
	defer cancel()
	deadline, ok := ctx.Deadline()
	require.True(t, ok)
	require.WithinDuration(t, time.Now().Add(50*time.Millisecond), deadline, 40*time.Millisecond)

	ctx, cancel = surface.ActionContext(context.Background(), 0)
	defer cancel()
	deadline, ok = ctx.Deadline()
	require.True(t, ok)
	require.WithinDuration(t, time.Now().Add(surface.DefaultActionTimeout), deadline, time.Second)
}

func TestCoveredClickGivesUp(t *testing.T) {
	button := surfacetest.NewElement("refresh")
	button.Covered = true

	ctx, cancel := surface.ActionContext(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := button.Click(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Zero(t, button.Clicks())
}
