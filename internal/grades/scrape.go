package grades

import (
	"context"
	"fmt"
	"time"

	"gradewatch/internal/poll"
	"gradewatch/internal/selector"
	"gradewatch/internal/surface"
	"gradewatch/internal/telemetry"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("gradewatch/grades")

const report_scraper_detail = "scraper.detail"

type ScrapeTimings struct {
	Poll          time.Duration
	DetailTimeout time.Duration
	// Action bounds each click on the detail and close buttons, zero means
	// surface.DefaultActionTimeout.
	Action time.Duration
}

func DefaultScrapeTimings() ScrapeTimings {
	return ScrapeTimings{
		Poll:          200 * time.Millisecond,
		DetailTimeout: 5 * time.Second,
		Action:        surface.DefaultActionTimeout,
	}
}

// Scraper reads course records out of the grade table.
type Scraper struct {
	sel     selector.Config
	timings ScrapeTimings
	tel     telemetry.API
}

func NewScraper(sel selector.Config, timings ScrapeTimings, tel telemetry.API) *Scraper {
	return &Scraper{sel: sel, timings: timings, tel: tel}
}

// Scrape returns one Course per visible table row with a course name. Rows
// with an empty name (headers, spacers) are skipped. Failing to read the
// details of a course leaves it without components.
func (s *Scraper) Scrape(ctx context.Context, page surface.Page) ([]Course, error) {
	ctx, span := tracer.Start(ctx, "Scrape")
	defer span.End()

	rowSel := s.sel.XPath("course_row", "tr")
	rows, err := page.Find(ctx, rowSel)
	if err != nil {
		return nil, fmt.Errorf("find course rows: %w", err)
	}

	courses := []Course{}
	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !row.Visible(ctx) {
			continue
		}
		name := surface.TextOf(ctx, row, s.sel.XPath("course_name_cell"))
		if name == "" {
			continue
		}
		courses = append(courses, Course{
			Name:       name,
			Total:      surface.TextOf(ctx, row, s.sel.XPath("total_score_cell")),
			Components: s.details(ctx, page, row),
		})
	}

	span.SetAttributes(attribute.Int("courses", len(courses)))
	return courses, nil
}

func (s *Scraper) details(ctx context.Context, page surface.Page, row surface.Element) []Component {
	components := []Component{}

	button := surface.First(ctx, row, s.sel.XPath("detail_button"))
	if button == nil {
		return components
	}
	if err := s.click(ctx, button); err != nil {
		s.tel.ReportWarning(report_scraper_detail, err)
		return components
	}

	var modal surface.Finder = page
	if modalSel := s.sel.XPath("detail_modal"); modalSel != "" {
		var found surface.Element
		poll.Until(ctx, s.timings.DetailTimeout, s.timings.Poll, func(ctx context.Context) bool {
			found = surface.FirstVisible(ctx, page, modalSel)
			return found != nil
		})
		if found == nil {
			s.tel.ReportWarning(report_scraper_detail, "detail modal did not show", modalSel)
			return components
		}
		modal = found
	}

	detailRows, err := modal.Find(ctx, s.sel.XPath("detail_rows"))
	if err != nil {
		s.tel.ReportWarning(report_scraper_detail, err)
		detailRows = nil
	}
	for _, r := range detailRows {
		c := Component{
			Name:  surface.TextOf(ctx, r, s.sel.XPath("detail_item_cell")),
			Ratio: surface.TextOf(ctx, r, s.sel.XPath("detail_ratio_cell")),
			Score: surface.TextOf(ctx, r, s.sel.XPath("detail_score_cell")),
		}
		if c == (Component{}) {
			continue
		}
		components = append(components, c)
	}

	if closeButton := surface.First(ctx, modal, s.sel.XPath("detail_close_button")); closeButton != nil {
		if err := s.click(ctx, closeButton); err != nil {
			s.tel.ReportWarning(report_scraper_detail, err)
		}
	}
	return components
}

func (s *Scraper) click(ctx context.Context, button surface.Element) error {
	ctx, cancel := surface.ActionContext(ctx, s.timings.Action)
	defer cancel()
	return button.Click(ctx)
}
