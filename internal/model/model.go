package model

import (
	"strings"
	"time"
)

// DateLayout is the calendar-date format used for Task.Date and in URLs.
const DateLayout = "2006-01-02"

// MinutesPerDay is the length of the day axis in minutes.
const MinutesPerDay = 24 * 60

// Repeat is the advisory recurrence rule stored on a task.
type Repeat string

const (
	RepeatNone    Repeat = "none"
	RepeatDaily   Repeat = "daily"
	RepeatWeekly  Repeat = "weekly"
	RepeatMonthly Repeat = "monthly"
	RepeatYearly  Repeat = "yearly"
)

// ParseRepeat maps a user supplied value onto a known Repeat. Unknown or
// empty values become RepeatNone; repeat is metadata and never rejects a task.
func ParseRepeat(s string) Repeat {
	switch r := Repeat(strings.ToLower(strings.TrimSpace(s))); r {
	case RepeatDaily, RepeatWeekly, RepeatMonthly, RepeatYearly:
		return r
	default:
		return RepeatNone
	}
}

// RawTask is a task as submitted by a client, before validation.
// Start and End are wall-clock "HH:MM" strings.
type RawTask struct {
	Title     string `json:"title"`
	Start     string `json:"start_time"`
	End       string `json:"end_time"`
	Condition string `json:"condition"`
	Repeat    string `json:"repeat,omitempty"`
}

// Task is a validated, timed item on a single calendar day.
type Task struct {
	ID      string `json:"id"`
	OwnerID string `json:"owner_id"`
	// Date is the calendar day in DateLayout form.
	Date string `json:"date"`

	Title     string `json:"title"`
	StartMin  int    `json:"start_min"`
	EndMin    int    `json:"end_min"`
	Condition string `json:"condition"`
	Repeat    Repeat `json:"repeat"`
}

// Condition is a user-defined tag used to categorize and color tasks.
type Condition struct {
	ID      string `json:"id"`
	OwnerID string `json:"owner_id"`
	Name    string `json:"name"`
	// Color is optional; when empty a color is derived from Name.
	Color string `json:"color,omitempty"`
}

// Event is a dated item shown in the month grid. Events with Notify set
// trigger a notification shortly before Start.
type Event struct {
	ID          string    `json:"id"`
	OwnerID     string    `json:"owner_id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Condition   string    `json:"condition"`
	Start       time.Time `json:"start"`
	Notify      bool      `json:"notify"`
}

// Preferences holds per-user notification delivery settings.
type Preferences struct {
	OwnerID      string `json:"owner_id"`
	PushEndpoint string `json:"push_endpoint,omitempty"`
	PushP256dh   string `json:"push_p256dh,omitempty"`
	PushAuth     string `json:"push_auth,omitempty"`
	Email        string `json:"email,omitempty"`
}

// Deliverable reports whether any notification channel is configured.
func (p Preferences) Deliverable() bool {
	return p.PushEndpoint != "" || p.Email != ""
}

// Occurrence is a single dated instance of a task after repeat expansion.
type Occurrence struct {
	TaskID string `json:"task_id"`

	// InstanceKey uniquely identifies one occurrence of a repeating task.
	InstanceKey string `json:"instance_key"`

	Title     string    `json:"title"`
	Condition string    `json:"condition"`
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
}
