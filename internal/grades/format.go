package grades

import (
	"strings"
)

// FormatComponent renders the non-empty fields of c separated by spaces.
func FormatComponent(c Component) string {
	parts := []string{}
	for _, p := range []string{c.Name, c.Ratio, c.Score} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, " ")
}

func FormatCourse(c Course) string {
	var sb strings.Builder
	sb.WriteString("· ")
	sb.WriteString(c.Name)
	sb.WriteString(" | total: ")
	sb.WriteString(c.Total)
	for _, component := range c.Components {
		sb.WriteString("\n    - ")
		sb.WriteString(FormatComponent(component))
	}
	return sb.String()
}

// Summary is the short form used by the desktop popup.
func Summary(courses []Course) string {
	lines := []string{"Grade updates found:"}
	for _, c := range courses {
		lines = append(lines, c.Name+" | total: "+c.Total)
		for _, component := range c.Components {
			lines = append(lines, "  "+FormatComponent(component))
		}
	}
	return strings.Join(lines, "\n")
}

// Names lists the course names in order.
func Names(courses []Course) []string {
	names := make([]string, len(courses))
	for i, c := range courses {
		names[i] = c.Name
	}
	return names
}
