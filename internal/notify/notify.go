// Package notify delivers detected grade changes to the user.
package notify

import (
	"context"
	"errors"

	"gradewatch/internal/grades"
	"gradewatch/internal/telemetry"

	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("gradewatch/notify")

// Notifier delivers one batch of changed courses. Implementations treat a
// missing configuration as a no-op rather than an error.
type Notifier interface {
	Notify(ctx context.Context, changed []grades.Course) error
}

// Multi sends to every notifier, one failing does not stop the others.
type Multi struct {
	notifiers []Notifier
	tel       telemetry.API
}

func NewMulti(tel telemetry.API, notifiers ...Notifier) Multi {
	return Multi{notifiers: notifiers, tel: tel}
}

const report_multi_notify = "multi.notify"

func (m Multi) Notify(ctx context.Context, changed []grades.Course) error {
	if len(changed) == 0 {
		return nil
	}
	var errs []error
	for _, n := range m.notifiers {
		if err := n.Notify(ctx, changed); err != nil {
			m.tel.ReportWarning(report_multi_notify, err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
