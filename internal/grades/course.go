// Package grades holds the course records scraped from the portal and the
// structural diff against the last known snapshot.
package grades

import (
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

// Component is one weighted part of a course grade, as the portal prints it.
type Component struct {
	Name  string `json:"name"`
	Ratio string `json:"ratio"`
	Score string `json:"score"`
}

// Course is one row of the grade table. Name is unique per scrape.
type Course struct {
	Name       string      `json:"name"`
	Total      string      `json:"total"`
	Components []Component `json:"components"`
}

// State is a Course without its name, the value stored in a Snapshot.
type State struct {
	Total      string      `json:"total"`
	Components []Component `json:"components"`
}

func (c Course) State() State {
	components := c.Components
	if components == nil {
		components = []Component{}
	}
	return State{Total: c.Total, Components: components}
}

// Snapshot maps course names to their last known state. A missing key means
// the course was never seen.
type Snapshot map[string]State

var stateComparer = cmpopts.EquateEmpty()

// Changed reports whether cur differs from the previous state. ok is false
// when there is no previous state. Components are compared in order.
func Changed(prev State, ok bool, cur State) bool {
	return !ok || !cmp.Equal(prev, cur, stateComparer)
}

// Diff returns prev updated with every scraped course, and the courses that
// are new or changed in scrape order. Courses missing from the scrape stay
// in the snapshot. prev is not modified.
func Diff(prev Snapshot, courses []Course) (Snapshot, []Course) {
	next := make(Snapshot, len(prev)+len(courses))
	for name, state := range prev {
		next[name] = state
	}

	changed := []Course{}
	for _, course := range courses {
		state := course.State()
		previous, ok := prev[course.Name]
		if Changed(previous, ok, state) {
			changed = append(changed, course)
		}
		next[course.Name] = state
	}
	return next, changed
}
