// Package ics converts day schedules to and from iCalendar and expands
// task repeat rules into dated occurrences.
package ics

import (
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "condcal/internal/log"
	"condcal/internal/model"
	"condcal/internal/schedule"
)

// ProductID is written as PRODID on exported calendars.
const ProductID = "-//condcal//day schedule//EN"

// propertyColor is the RFC 7986 COLOR property.
const propertyColor = ical.ComponentProperty("COLOR")

var rruleByRepeat = map[model.Repeat]string{
	model.RepeatDaily:   "FREQ=DAILY",
	model.RepeatWeekly:  "FREQ=WEEKLY",
	model.RepeatMonthly: "FREQ=MONTHLY",
	model.RepeatYearly:  "FREQ=YEARLY",
}

// ExportConfig controls calendar export.
type ExportConfig struct {
	// Name is written as X-WR-CALNAME when set.
	Name string
	// Location interprets task wall-clock times. If nil, time.UTC is used.
	Location *time.Location
	// Now stamps DTSTAMP. If zero, time.Now is used.
	Now time.Time
}

// ExportTasks renders tasks as a VCALENDAR. Each task becomes one VEVENT
// with its condition in CATEGORIES and its resolved color in COLOR;
// repeating tasks carry an RRULE.
func ExportTasks(tasks []model.Task, conditions []model.Condition, cfg ExportConfig) string {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Now.IsZero() {
		cfg.Now = time.Now()
	}

	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(ProductID)
	if cfg.Name != "" {
		cal.SetXWRCalName(cfg.Name)
	}

	for _, t := range tasks {
		start, end, err := TaskBounds(t, cfg.Location)
		if err != nil {
			appLog.Error("ics export: skipping task with bad date", err, "task", t.ID, "date", t.Date)
			continue
		}

		ev := cal.AddEvent(t.ID + "@condcal")
		ev.SetDtStampTime(cfg.Now)
		ev.SetStartAt(start)
		ev.SetEndAt(end)
		ev.SetSummary(t.Title)
		ev.SetProperty(ical.ComponentPropertyCategories, t.Condition)
		ev.SetProperty(propertyColor, schedule.ColorFor(t.Condition, conditions))
		if rule, ok := rruleByRepeat[t.Repeat]; ok {
			ev.AddRrule(rule)
		}
	}

	return cal.Serialize()
}

// ExportDay renders the visible entries of a composed day view.
func ExportDay(view schedule.DayView, conditions []model.Condition, cfg ExportConfig) string {
	tasks := make([]model.Task, 0, len(view.Entries))
	for _, e := range view.Entries {
		tasks = append(tasks, e.Task)
	}
	if cfg.Name == "" {
		cfg.Name = "condcal " + view.Date
	}
	return ExportTasks(tasks, conditions, cfg)
}
