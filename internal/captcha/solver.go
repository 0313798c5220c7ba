// Package captcha solves the arithmetic CAPTCHA of the login form: it
// extracts the image, has an OCR backend read the expression and evaluates
// it.
package captcha

import (
	"context"
	"errors"
	"time"

	"gradewatch/internal/surface"
	"gradewatch/internal/telemetry"

	"go.opentelemetry.io/otel/codes"
)

var (
	// ErrNotConfigured means the OCR backend is missing a base url, model
	// or api key. No request is made.
	ErrNotConfigured = errors.New("ocr is not fully configured")
	// ErrNoImage means the CAPTCHA image could not be captured.
	ErrNoImage = errors.New("captcha image unavailable")
	// ErrUnreadable means OCR returned nothing or nothing that evaluates.
	ErrUnreadable = errors.New("captcha expression unreadable")
)

const (
	report_solver_image      = "solver.extract-image"
	report_solver_unreadable = "solver.unreadable"
	report_solver_refresh    = "solver.refresh"
)

// TextReader reads the text of a base64 encoded PNG.
type TextReader interface {
	RequestText(ctx context.Context, imageBase64 string) string
}

type Selectors struct {
	Image    string
	Fallback string
	Refresh  string
}

type Solver struct {
	reader     TextReader
	configured bool
	selectors  Selectors
	// refreshTimeout bounds the refresh click.
	refreshTimeout time.Duration
	tel            telemetry.API
}

func NewSolver(config OCRConfig, selectors Selectors, tel telemetry.API) *Solver {
	return NewSolverWithReader(NewOCR(config, tel), config.Configured(), selectors, tel)
}

// NewSolverWithReader is NewSolver with a custom text reader, configured
// reports whether the reader is usable.
func NewSolverWithReader(reader TextReader, configured bool, selectors Selectors, tel telemetry.API) *Solver {
	return &Solver{
		reader:         reader,
		configured:     configured,
		selectors:      selectors,
		refreshTimeout: 5 * time.Second,
		tel:            tel,
	}
}

// Solve returns the answer to the CAPTCHA shown in container. The answer is
// non-empty exactly when err is nil.
func (s *Solver) Solve(ctx context.Context, container surface.Finder) (string, error) {
	ctx, span := tracer.Start(ctx, "Solve")
	defer span.End()

	if !s.configured {
		span.SetStatus(codes.Error, ErrNotConfigured.Error())
		return "", ErrNotConfigured
	}

	image, err := ExtractImage(ctx, container, s.selectors.Image, s.selectors.Fallback)
	if err != nil {
		s.tel.ReportWarning(report_solver_image, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, ErrNoImage.Error())
		return "", ErrNoImage
	}

	text := s.reader.RequestText(ctx, image)
	answer := SolveExpression(text)
	if answer == "" {
		s.tel.ReportWarning(report_solver_unreadable, text)
		span.SetStatus(codes.Error, ErrUnreadable.Error())
		return "", ErrUnreadable
	}

	s.tel.ReportDebug("solved captcha", text, answer)
	return answer, nil
}

// Refresh replaces the CAPTCHA shown in container. Failures, a click that
// does not land in time included, are reported and otherwise ignored.
func (s *Solver) Refresh(ctx context.Context, container surface.Finder) {
	ctx, cancel := surface.ActionContext(ctx, s.refreshTimeout)
	defer cancel()
	err := Refresh(ctx, container, s.selectors.Refresh, s.selectors.Image, s.selectors.Fallback)
	if err != nil {
		s.tel.ReportWarning(report_solver_refresh, err)
	}
}
