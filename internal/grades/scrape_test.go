package grades

import (
	"context"
	"testing"
	"time"

	"gradewatch/internal/selector"
	"gradewatch/internal/surface/surfacetest"
	"gradewatch/internal/telemetry"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

var scrapeSelectors = selector.Config{
	XPathMap: map[string]string{
		"course_row":          "//table[@id='grades']//tr",
		"course_name_cell":    "td.name",
		"total_score_cell":    "td.total",
		"detail_button":       "a.detail",
		"detail_modal":        "#detail",
		"detail_rows":         "tr.item",
		"detail_item_cell":    "td:nth-child(1)",
		"detail_ratio_cell":   "td:nth-child(2)",
		"detail_score_cell":   "td:nth-child(3)",
		"detail_close_button": "button.close",
	},
}

func cell(text string) *surfacetest.Element {
	return surfacetest.NewElement(text)
}

func row(name, total string) *surfacetest.Element {
	r := surfacetest.NewElement("")
	r.Add("td.name", cell(name))
	r.Add("td.total", cell(total))
	return r
}

func detailRow(item, ratio, score string) *surfacetest.Element {
	r := surfacetest.NewElement("")
	r.Add("td:nth-child(1)", cell(item))
	r.Add("td:nth-child(2)", cell(ratio))
	r.Add("td:nth-child(3)", cell(score))
	return r
}

func newScraper(tel telemetry.API) *Scraper {
	return NewScraper(scrapeSelectors, ScrapeTimings{
		Poll:          time.Millisecond,
		DetailTimeout: 20 * time.Millisecond,
	}, tel)
}

func TestScrape(t *testing.T) {
	page := surfacetest.NewPage("https://portal.example/grades")

	header := surfacetest.NewElement("")
	header.Add("td.name", cell("  "))

	hidden := row("Ghost", "1")
	hidden.Hidden = true

	modal := surfacetest.NewElement("")
	modal.Hidden = true
	closeButton := surfacetest.NewElement("×")
	closeButton.OnClick = func() { modal.SetHidden(true) }
	modal.Add("tr.item",
		detailRow("平时", "30%", " 90 "),
		detailRow("", "", ""),
		detailRow("期末", "70%", "86"),
	)
	modal.Add("button.close", closeButton)
	page.Set("#detail", modal)

	calculus := row(" Calculus ", "88")
	detail := surfacetest.NewElement("查看")
	detail.OnClick = func() { modal.SetHidden(false) }
	calculus.Add("a.detail", detail)

	page.Set("//table[@id='grades']//tr", header, calculus, hidden, row("Physics", ""))

	courses, err := newScraper(&telemetry.Recorder{}).Scrape(context.Background(), page)
	require.NoError(t, err)

	expected := []Course{
		{
			Name:  "Calculus",
			Total: "88",
			Components: []Component{
				{Name: "平时", Ratio: "30%", Score: "90"},
				{Name: "期末", Ratio: "70%", Score: "86"},
			},
		},
		{Name: "Physics", Total: "", Components: []Component{}},
	}
	if diff := cmp.Diff(expected, courses); diff != "" {
		t.Fatal(diff)
	}
	require.Equal(t, 1, closeButton.Clicks())
}

func TestScrapeModalNeverShows(t *testing.T) {
	page := surfacetest.NewPage("https://portal.example/grades")
	calculus := row("Calculus", "88")
	calculus.Add("a.detail", surfacetest.NewElement("查看"))
	page.Set("//table[@id='grades']//tr", calculus)

	tel := &telemetry.Recorder{}
	courses, err := newScraper(tel).Scrape(context.Background(), page)
	require.NoError(t, err)
	require.Len(t, courses, 1)
	require.Empty(t, courses[0].Components)
	require.True(t, tel.Has("warning", "scraper.detail"))
}

func TestScrapeDefaultRowSelector(t *testing.T) {
	page := surfacetest.NewPage("https://portal.example/grades")
	page.Set("tr", row("Calculus", "90"))

	sel := selector.Config{XPathMap: map[string]string{
		"course_name_cell": "td.name",
		"total_score_cell": "td.total",
	}}
	courses, err := NewScraper(sel, DefaultScrapeTimings(), &telemetry.Recorder{}).Scrape(context.Background(), page)
	require.NoError(t, err)
	require.Equal(t, []string{"Calculus"}, Names(courses))
	require.Equal(t, "90", courses[0].Total)
}

func TestScrapeCoveredDetailButton(t *testing.T) {
	page := surfacetest.NewPage("https://portal.example/grades")

	calculus := row("Calculus", "88")
	covered := surfacetest.NewElement("查看")
	covered.Covered = true
	calculus.Add("a.detail", covered)
	page.Set("//table[@id='grades']//tr", calculus, row("Physics", "75"))

	tel := &telemetry.Recorder{}
	scraper := NewScraper(scrapeSelectors, ScrapeTimings{
		Poll:          time.Millisecond,
		DetailTimeout: 20 * time.Millisecond,
		Action:        20 * time.Millisecond,
	}, tel)

	done := make(chan struct{})
	var courses []Course
	var err error
	go func() {
		defer close(done)
		courses, err = scraper.Scrape(context.Background(), page)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("scrape did not return while the detail button was covered")
	}

	require.NoError(t, err)
	require.Equal(t, []string{"Calculus", "Physics"}, Names(courses))
	require.Empty(t, courses[0].Components)
	require.True(t, tel.Has("warning", "scraper.detail"))
}
