package schedule

import (
	"sort"
	"strings"

	"condcal/internal/model"
)

// Selection is the condition filter of the day view. The zero value is the
// initial "all conditions" state.
//
// Toggling a condition while everything is selected narrows the selection
// to just that condition. Toggling within a partial selection adds or
// removes the condition; a partial selection never turns back into "all" by
// itself, even once it names every condition. Only ToggleAll does that.
type Selection struct {
	partial bool
	names   map[string]struct{}
}

// AllSelected returns the selection that passes every task.
func AllSelected() Selection {
	return Selection{}
}

// Partial returns a selection of exactly the given condition names.
func Partial(names ...string) Selection {
	s := Selection{partial: true, names: make(map[string]struct{}, len(names))}
	for _, n := range names {
		s.names[n] = struct{}{}
	}
	return s
}

// ParseSelection reads a comma-separated query value. "" and "all" select
// everything.
func ParseSelection(v string) Selection {
	v = strings.TrimSpace(v)
	if v == "" || v == "all" {
		return AllSelected()
	}
	var names []string
	for _, n := range strings.Split(v, ",") {
		if n = strings.TrimSpace(n); n != "" {
			names = append(names, n)
		}
	}
	return Partial(names...)
}

// IsAll reports whether the selection is in the "all" state.
func (s Selection) IsAll() bool {
	return !s.partial
}

// Contains reports whether tasks tagged with name pass the filter.
func (s Selection) Contains(name string) bool {
	if !s.partial {
		return true
	}
	_, ok := s.names[name]
	return ok
}

// Names returns the selected names in sorted order, or nil for "all".
func (s Selection) Names() []string {
	if !s.partial {
		return nil
	}
	out := make([]string, 0, len(s.names))
	for n := range s.names {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Toggle returns the selection after the user toggles one condition.
func (s Selection) Toggle(name string) Selection {
	if !s.partial {
		return Partial(name)
	}
	next := Partial(s.Names()...)
	if _, ok := next.names[name]; ok {
		delete(next.names, name)
	} else {
		next.names[name] = struct{}{}
	}
	return next
}

// ToggleAll resets to the "all" state from any state.
func (s Selection) ToggleAll() Selection {
	return AllSelected()
}

// String renders the selection in ParseSelection form.
func (s Selection) String() string {
	if !s.partial {
		return "all"
	}
	return strings.Join(s.Names(), ",")
}

// FilterByConditions keeps the tasks whose condition passes the selection,
// preserving input order.
func FilterByConditions(tasks []model.Task, sel Selection) []model.Task {
	out := make([]model.Task, 0, len(tasks))
	for _, t := range tasks {
		if sel.Contains(t.Condition) {
			out = append(out, t)
		}
	}
	return out
}
