// Package monitor runs check cycles: open a page, get to the grade table,
// scrape it, persist and announce what changed. Cycles never overlap and a
// failed cycle never stops the loop.
package monitor

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"gradewatch/internal/assert"
	"gradewatch/internal/grades"
	"gradewatch/internal/notify"
	"gradewatch/internal/poll"
	"gradewatch/internal/surface"
	"gradewatch/internal/telemetry"

	"github.com/mazen160/go-random"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("gradewatch/monitor")
var meter = otel.Meter("gradewatch/monitor")

const (
	report_monitor_check      = "monitor.check"
	report_monitor_save       = "monitor.save-snapshot"
	report_monitor_history    = "monitor.push-history"
	report_monitor_notify     = "monitor.notify"
	report_monitor_screenshot = "monitor.screenshot"
)

type PageOpener interface {
	NewPage(ctx context.Context) (surface.Page, error)
}

// Navigator leaves a page on the grade table.
type Navigator interface {
	Run(ctx context.Context, page surface.Page) error
}

type Scraper interface {
	Scrape(ctx context.Context, page surface.Page) ([]grades.Course, error)
}

type SnapshotStore interface {
	Save(snapshot grades.Snapshot) error
}

type History interface {
	Push(ctx context.Context, cycleID string, prev grades.Snapshot, changed []grades.Course) error
}

type Options struct {
	Pages     PageOpener
	Navigator Navigator
	Scraper   Scraper
	Snapshots SnapshotStore
	// History may be nil.
	History  History
	Notifier notify.Notifier
	// ScreenshotPath receives a PNG of the grade page after every
	// successful cycle, empty disables it.
	ScreenshotPath string
	Interval       time.Duration
}

type Monitor struct {
	opts Options
	tel  telemetry.API

	cycles  metric.Int64Counter
	changes metric.Int64Counter

	mu   sync.Mutex
	seen grades.Snapshot
	// unsaved is set while the snapshot file lags behind seen.
	unsaved bool
}

// NewMonitor creates a monitor starting from the last persisted snapshot.
func NewMonitor(opts Options, seen grades.Snapshot, tel telemetry.API) *Monitor {
	assert.NotNil(opts.Pages, "page opener")
	assert.NotNil(opts.Navigator, "navigator")
	assert.NotNil(opts.Scraper, "scraper")
	assert.NotNil(opts.Snapshots, "snapshot store")
	assert.NotNil(opts.Notifier, "notifier")
	if seen == nil {
		seen = grades.Snapshot{}
	}

	cycles, _ := meter.Int64Counter("check_cycles")
	changes, _ := meter.Int64Counter("grade_changes")
	return &Monitor{
		opts:    opts,
		tel:     tel,
		seen:    seen,
		cycles:  cycles,
		changes: changes,
	}
}

// Seen returns the snapshot as of the last cycle.
func (m *Monitor) Seen() grades.Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(grades.Snapshot, len(m.seen))
	for k, v := range m.seen {
		out[k] = v
	}
	return out
}

type Result struct {
	CycleID string
	Courses []grades.Course
	Changed []grades.Course
}

// Check runs one cycle. Errors and panics are reported and returned, the
// page is always closed.
func (m *Monitor) Check(ctx context.Context) (res Result, err error) {
	res.CycleID, _ = random.String(8)

	ctx, span := tracer.Start(ctx, "Check", trace.WithAttributes(
		attribute.String("cycle", res.CycleID),
	))
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("check panicked: %v", r)
		}
		status := "ok"
		if err != nil {
			status = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, "check failed")
			m.tel.ReportBroken(report_monitor_check, err, "cycle", res.CycleID)
		}
		m.cycles.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
	}()

	page, err := m.opts.Pages.NewPage(ctx)
	if err != nil {
		return res, fmt.Errorf("open page: %w", err)
	}
	defer page.Close()

	if err := m.opts.Navigator.Run(ctx, page); err != nil {
		return res, err
	}

	courses, err := m.opts.Scraper.Scrape(ctx, page)
	if err != nil {
		return res, fmt.Errorf("scrape: %w", err)
	}
	res.Courses = courses

	res.Changed = m.apply(ctx, res.CycleID, courses)
	span.SetAttributes(
		attribute.Int("courses", len(courses)),
		attribute.Int("changed", len(res.Changed)),
	)

	m.screenshot(ctx, page)
	return res, nil
}

// apply diffs the scrape against the snapshot and, on any change, saves the
// snapshot, records history and notifies. These effects are not cut short
// by cancellation of ctx. A snapshot that failed to save is saved again on
// every later cycle until it succeeds.
func (m *Monitor) apply(ctx context.Context, cycleID string, courses []grades.Course) []grades.Course {
	m.mu.Lock()
	prev := m.seen
	next, changed := grades.Diff(prev, courses)
	if len(changed) > 0 {
		m.seen = next
	}
	retry := m.unsaved && len(changed) == 0
	m.mu.Unlock()

	ctx = context.WithoutCancel(ctx)
	if retry {
		m.save(prev)
	}

	if len(changed) == 0 {
		m.tel.ReportDebug("no grade updates", "cycle", cycleID, "courses", len(courses))
		return changed
	}

	m.tel.ReportDebug("grade updates found", "cycle", cycleID, "courses", grades.Names(changed))
	m.changes.Add(ctx, int64(len(changed)))

	m.save(next)
	if m.opts.History != nil {
		if err := m.opts.History.Push(ctx, cycleID, prev, changed); err != nil {
			m.tel.ReportBroken(report_monitor_history, err)
		}
	}
	if err := m.opts.Notifier.Notify(ctx, changed); err != nil {
		m.tel.ReportWarning(report_monitor_notify, err)
	}
	return changed
}

func (m *Monitor) save(snapshot grades.Snapshot) {
	err := m.opts.Snapshots.Save(snapshot)
	if err != nil {
		m.tel.ReportBroken(report_monitor_save, err)
	}
	m.mu.Lock()
	m.unsaved = err != nil
	m.mu.Unlock()
}

func (m *Monitor) screenshot(ctx context.Context, page surface.Page) {
	if m.opts.ScreenshotPath == "" {
		return
	}
	png, err := page.Screenshot(ctx)
	if err != nil {
		m.tel.ReportWarning(report_monitor_screenshot, err)
		return
	}
	if err := os.WriteFile(m.opts.ScreenshotPath, png, 0o644); err != nil {
		m.tel.ReportWarning(report_monitor_screenshot, err)
	}
}

// Run checks, then sleeps for the interval, until ctx is done.
func (m *Monitor) Run(ctx context.Context) error {
	for {
		res, err := m.Check(ctx)
		if err == nil {
			m.tel.ReportDebug("check finished", "cycle", res.CycleID, "changed", len(res.Changed))
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		m.tel.ReportDebug("waiting for next check", "interval", m.opts.Interval.String())
		if err := poll.Sleep(ctx, m.opts.Interval); err != nil {
			return err
		}
	}
}
