package notify

import (
	"context"

	"gradewatch/internal/grades"
)

// PopupOpener shows a modal message to the user at the desktop.
type PopupOpener interface {
	Popup(ctx context.Context, title, message string) error
}

type Popup struct {
	opener PopupOpener
}

func NewPopup(opener PopupOpener) Popup {
	return Popup{opener: opener}
}

func (p Popup) Notify(ctx context.Context, changed []grades.Course) error {
	return p.opener.Popup(ctx, PopupTitle, grades.Summary(changed))
}
