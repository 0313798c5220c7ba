package notify

import (
	"strings"
	"time"

	"gradewatch/internal/grades"
)

const (
	Subject    = "Grade update notice"
	PopupTitle = "New grades"
)

// MessageBody is the plain-text email body for a batch of changes.
func MessageBody(at time.Time, changed []grades.Course) string {
	blocks := make([]string, len(changed))
	for i, c := range changed {
		blocks[i] = grades.FormatCourse(c)
	}

	var sb strings.Builder
	sb.WriteString("Hello, at ")
	sb.WriteString(at.Format(time.DateTime))
	sb.WriteString(" the following courses had grade updates:\n\n")
	sb.WriteString(strings.Join(blocks, "\n\n"))
	sb.WriteString("\n\nThis message was sent automatically, please do not reply.")
	return sb.String()
}
