package ics

import (
	"errors"
	"sort"
	"time"

	"github.com/teambition/rrule-go"

	appLog "condcal/internal/log"
	"condcal/internal/model"
)

const (
	defaultMaxOccurrencesPerTask = 1000
)

// ExpandConfig controls how repeat expansion is performed.
type ExpandConfig struct {
	// Location is the timezone task wall-clock times are interpreted in.
	// If nil, time.UTC is used.
	Location *time.Location

	// RangeStart / RangeEnd define the half-open window [RangeStart, RangeEnd).
	// An occurrence is kept when any part of it falls inside the window.
	RangeStart time.Time
	RangeEnd   time.Time

	// MaxOccurrencesPerTask caps how many occurrences one task may yield.
	// If zero, defaultMaxOccurrencesPerTask is used.
	MaxOccurrencesPerTask int
}

// ExpandResult wraps the expanded occurrences and the IDs of tasks whose
// expansion was cut short by the cap.
type ExpandResult struct {
	Occurrences    []model.Occurrence
	TruncatedTasks []string
}

// ExpandRepeats turns tasks into dated occurrences inside the configured
// window. A task with RepeatNone yields at most its own instance; a
// repeating task yields one occurrence per rule instance, starting on
// the task's own date. Occurrences are sorted by start, then task ID.
func ExpandRepeats(tasks []model.Task, cfg ExpandConfig) (ExpandResult, error) {
	var result ExpandResult

	if !cfg.RangeEnd.After(cfg.RangeStart) {
		return result, errors.New("expand: RangeEnd must be after RangeStart")
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.MaxOccurrencesPerTask <= 0 {
		cfg.MaxOccurrencesPerTask = defaultMaxOccurrencesPerTask
	}

	out := make([]model.Occurrence, 0)
	for _, t := range tasks {
		start, end, err := TaskBounds(t, cfg.Location)
		if err != nil {
			appLog.Error("expand: skipping task with bad date", err, "task", t.ID, "date", t.Date)
			continue
		}

		freq, repeating := frequency(t.Repeat)
		if !repeating {
			if overlaps(start, end, cfg.RangeStart, cfg.RangeEnd) {
				out = append(out, makeOccurrence(t, start, end))
			}
			continue
		}

		occ, hitCap, err := expandTask(t, freq, start, end, cfg)
		if err != nil {
			appLog.Error("expand: failed to build rule", err, "task", t.ID, "repeat", string(t.Repeat))
			continue
		}
		if hitCap {
			result.TruncatedTasks = append(result.TruncatedTasks, t.ID)
			appLog.Warn("expand: truncated occurrences for task due to cap",
				"task", t.ID,
				"cap", cfg.MaxOccurrencesPerTask,
			)
		}
		out = append(out, occ...)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Start.Equal(out[j].Start) {
			return out[i].Start.Before(out[j].Start)
		}
		return out[i].TaskID < out[j].TaskID
	})
	result.Occurrences = out
	return result, nil
}

func expandTask(t model.Task, freq rrule.Frequency, start, end time.Time, cfg ExpandConfig) ([]model.Occurrence, bool, error) {
	r, err := rrule.NewRRule(rrule.ROption{Freq: freq, Dtstart: start})
	if err != nil {
		return nil, false, err
	}

	// Widen the lower bound so instances already running at RangeStart
	// are included.
	dur := end.Sub(start)
	times := r.Between(cfg.RangeStart.Add(-dur), cfg.RangeEnd, true)

	out := make([]model.Occurrence, 0, len(times))
	hitCap := false
	for _, s := range times {
		e := s.Add(dur)
		if !overlaps(s, e, cfg.RangeStart, cfg.RangeEnd) {
			continue
		}
		if len(out) == cfg.MaxOccurrencesPerTask {
			hitCap = true
			break
		}
		out = append(out, makeOccurrence(t, s, e))
	}
	return out, hitCap, nil
}

// TaskBounds returns the absolute start and end of t's own instance in loc.
// An end of 24:00 lands on the following midnight.
func TaskBounds(t model.Task, loc *time.Location) (time.Time, time.Time, error) {
	day, err := time.ParseInLocation(model.DateLayout, t.Date, loc)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	y, m, d := day.Date()
	start := time.Date(y, m, d, t.StartMin/60, t.StartMin%60, 0, 0, loc)
	end := time.Date(y, m, d, t.EndMin/60, t.EndMin%60, 0, 0, loc)
	return start, end, nil
}

func frequency(r model.Repeat) (rrule.Frequency, bool) {
	switch r {
	case model.RepeatDaily:
		return rrule.DAILY, true
	case model.RepeatWeekly:
		return rrule.WEEKLY, true
	case model.RepeatMonthly:
		return rrule.MONTHLY, true
	case model.RepeatYearly:
		return rrule.YEARLY, true
	default:
		return 0, false
	}
}

func makeOccurrence(t model.Task, start, end time.Time) model.Occurrence {
	return model.Occurrence{
		TaskID:      t.ID,
		InstanceKey: t.ID + "@" + start.Format(time.RFC3339),
		Title:       t.Title,
		Condition:   t.Condition,
		Start:       start,
		End:         end,
	}
}

// overlaps reports whether [aStart, aEnd) intersects [bStart, bEnd).
func overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && bStart.Before(aEnd)
}
