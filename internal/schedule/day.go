package schedule

import (
	"sort"

	"condcal/internal/model"
)

// Entry is one rendered task in a DayView.
type Entry struct {
	Task      model.Task `json:"task"`
	Placement Placement  `json:"placement"`
	Color     string     `json:"color"`
	Conflict  bool       `json:"conflict"`
}

// DayView is the derived, render-ready schedule of one day.
type DayView struct {
	Date string `json:"date"`
	// Selection is "all" or a comma-separated list of condition names.
	Selection string   `json:"selection"`
	Entries   []Entry  `json:"entries"`
	Conflicts []string `json:"conflicts"`
	Pairs     []Pair   `json:"pairs,omitempty"`
}

// BuildDay filters tasks by sel, detects conflicts among the visible tasks
// and resolves placement and color for each. Entries are ordered by start,
// then end, then input order, so the same snapshot always yields the same
// view.
func BuildDay(date string, tasks []model.Task, conditions []model.Condition, sel Selection) DayView {
	visible := FilterByConditions(tasks, sel)
	pairs := ConflictPairs(visible)
	conflicts := make(IDSet)
	for _, p := range pairs {
		conflicts[p.A] = struct{}{}
		conflicts[p.B] = struct{}{}
	}

	entries := make([]Entry, 0, len(visible))
	for _, t := range visible {
		entries = append(entries, Entry{
			Task:      t,
			Placement: Layout(t),
			Color:     ColorFor(t.Condition, conditions),
			Conflict:  conflicts.Has(t.ID),
		})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i].Task, entries[j].Task
		if a.StartMin != b.StartMin {
			return a.StartMin < b.StartMin
		}
		return a.EndMin < b.EndMin
	})

	return DayView{
		Date:      date,
		Selection: sel.String(),
		Entries:   entries,
		Conflicts: conflicts.Sorted(),
		Pairs:     pairs,
	}
}
