package schedule

import (
	"sort"

	"condcal/internal/model"
)

// IDSet is a set of task ids.
type IDSet map[string]struct{}

func (s IDSet) Has(id string) bool {
	_, ok := s[id]
	return ok
}

// Sorted returns the ids in ascending order.
func (s IDSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Pair is two tasks whose time ranges overlap.
type Pair struct {
	A string `json:"a"`
	B string `json:"b"`
}

// Overlaps reports whether two tasks overlap as half-open [start, end)
// intervals. Tasks that merely touch (a.End == b.Start) do not overlap.
func Overlaps(a, b model.Task) bool {
	return a.StartMin < b.EndMin && b.StartMin < a.EndMin
}

// FindConflicts returns the ids of every task that overlaps at least one
// other task in the list. Pass the filtered list: hidden tasks never
// produce conflicts.
func FindConflicts(tasks []model.Task) IDSet {
	out := make(IDSet)
	for _, p := range ConflictPairs(tasks) {
		out[p.A] = struct{}{}
		out[p.B] = struct{}{}
	}
	return out
}

// ConflictPairs returns every overlapping pair, ordered by the position of
// the tasks in the input.
func ConflictPairs(tasks []model.Task) []Pair {
	var pairs []Pair
	for i := 0; i < len(tasks); i++ {
		for j := i + 1; j < len(tasks); j++ {
			if Overlaps(tasks[i], tasks[j]) {
				pairs = append(pairs, Pair{A: tasks[i].ID, B: tasks[j].ID})
			}
		}
	}
	return pairs
}
