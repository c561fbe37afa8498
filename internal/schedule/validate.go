// Package schedule lays out a single day's tasks on a 24-hour axis.
//
// Everything here is a pure function over a snapshot: callers fetch tasks
// and conditions, pick a condition Selection and call BuildDay (or the
// individual steps) again whenever the snapshot or selection changes.
package schedule

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"condcal/internal/model"
)

// ErrorKind classifies a validation failure.
type ErrorKind string

const (
	MissingField  ErrorKind = "MissingField"
	MalformedTime ErrorKind = "MalformedTime"
	InvertedRange ErrorKind = "InvertedRange"
)

var (
	ErrMissingField  = errors.New("missing field")
	ErrMalformedTime = errors.New("malformed time")
	ErrInvertedRange = errors.New("start must be before end")
)

// ValidationError reports which field of a RawTask was rejected.
type ValidationError struct {
	Kind  ErrorKind
	Field string
}

func (e *ValidationError) Error() string {
	switch e.Kind {
	case MissingField:
		return fmt.Sprintf("%s: %s", ErrMissingField, e.Field)
	case MalformedTime:
		return fmt.Sprintf("%s: %s", ErrMalformedTime, e.Field)
	default:
		return ErrInvertedRange.Error()
	}
}

// Is lets errors.Is match a ValidationError against the sentinel of its kind.
func (e *ValidationError) Is(target error) bool {
	switch e.Kind {
	case MissingField:
		return target == ErrMissingField
	case MalformedTime:
		return target == ErrMalformedTime
	case InvertedRange:
		return target == ErrInvertedRange
	}
	return false
}

// Validate checks a RawTask and returns a Task with times normalized to
// minutes since midnight. ID, OwnerID and Date are left for the caller.
func Validate(raw model.RawTask) (model.Task, error) {
	title := strings.TrimSpace(raw.Title)
	if title == "" {
		return model.Task{}, &ValidationError{Kind: MissingField, Field: "title"}
	}
	if strings.TrimSpace(raw.Start) == "" {
		return model.Task{}, &ValidationError{Kind: MissingField, Field: "start_time"}
	}
	if strings.TrimSpace(raw.End) == "" {
		return model.Task{}, &ValidationError{Kind: MissingField, Field: "end_time"}
	}
	condition := strings.TrimSpace(raw.Condition)
	if condition == "" {
		return model.Task{}, &ValidationError{Kind: MissingField, Field: "condition"}
	}

	start, err := ParseClock(raw.Start)
	if err != nil || start >= model.MinutesPerDay {
		return model.Task{}, &ValidationError{Kind: MalformedTime, Field: "start_time"}
	}
	end, err := ParseClock(raw.End)
	if err != nil {
		return model.Task{}, &ValidationError{Kind: MalformedTime, Field: "end_time"}
	}
	if start >= end {
		return model.Task{}, &ValidationError{Kind: InvertedRange, Field: "end_time"}
	}

	return model.Task{
		Title:     title,
		StartMin:  start,
		EndMin:    end,
		Condition: condition,
		Repeat:    model.ParseRepeat(raw.Repeat),
	}, nil
}

// ParseClock parses "H:MM" or "HH:MM" into minutes since midnight.
// "24:00" is accepted and yields 1440, the end of the day axis.
func ParseClock(s string) (int, error) {
	s = strings.TrimSpace(s)
	hh, mm, ok := strings.Cut(s, ":")
	if !ok || len(hh) < 1 || len(hh) > 2 || len(mm) != 2 || !allDigits(hh) || !allDigits(mm) {
		return 0, fmt.Errorf("%w: %q", ErrMalformedTime, s)
	}
	h, err := strconv.Atoi(hh)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrMalformedTime, s)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m > 59 {
		return 0, fmt.Errorf("%w: %q", ErrMalformedTime, s)
	}
	if h > 24 || (h == 24 && m != 0) {
		return 0, fmt.Errorf("%w: %q", ErrMalformedTime, s)
	}
	return h*60 + m, nil
}

// allDigits rejects signs, which strconv.Atoi would otherwise accept.
func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// FormatClock renders minutes since midnight as "HH:MM".
func FormatClock(min int) string {
	return fmt.Sprintf("%02d:%02d", min/60, min%60)
}
