package ics

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "condcal/internal/log"
	"condcal/internal/model"
)

// ImportedTask is a VEVENT mapped onto the day schedule, not yet validated.
type ImportedTask struct {
	// UID is the source VEVENT's UID, kept for logging and dedup.
	UID  string
	Date string
	Raw  model.RawTask
}

// ErrInvalidCalendar wraps every failure to read an iCalendar payload.
var ErrInvalidCalendar = errors.New("invalid calendar")

var repeatByFreq = map[string]model.Repeat{
	"DAILY":   model.RepeatDaily,
	"WEEKLY":  model.RepeatWeekly,
	"MONTHLY": model.RepeatMonthly,
	"YEARLY":  model.RepeatYearly,
}

// ParseTasks parses an iCalendar payload into tasks, interpreting times in
// loc.
//
//   - All-day events and events spanning more than one day are skipped,
//     since a task lives inside a single day.
//   - An event ending exactly at the next midnight gets end_time "24:00".
//   - The first CATEGORIES value becomes the condition; the RRULE FREQ
//     becomes the repeat.
//
// Events that cannot be mapped are logged and skipped.
func ParseTasks(body []byte, loc *time.Location) ([]ImportedTask, error) {
	if len(body) == 0 {
		return nil, fmt.Errorf("%w: empty body", ErrInvalidCalendar)
	}
	if loc == nil {
		loc = time.UTC
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		appLog.Error("ics parse failed", err)
		return nil, fmt.Errorf("%w: %v", ErrInvalidCalendar, err)
	}

	// The parser unescapes TEXT values, which merges "a\,b" into the
	// list "a,b"; CATEGORIES is split from the raw content lines instead.
	cats := rawCategories(body)
	events := cal.Events()
	if len(cats) != len(events) {
		cats = nil
	}

	out := make([]ImportedTask, 0)
	for i, ve := range events {
		raw, hasRaw := "", false
		if cats != nil {
			raw, hasRaw = cats[i], true
		}
		task, perr := parseVEvent(ve, loc, raw, hasRaw)
		if perr != nil {
			appLog.Warn("ics vevent skipped", "uid", task.UID, "reason", perr.Error())
			continue
		}
		out = append(out, task)
	}

	appLog.Info("ics parse completed", "event_count", len(out))
	return out, nil
}

func parseVEvent(ve *ical.VEvent, loc *time.Location, rawCats string, hasRaw bool) (ImportedTask, error) {
	var out ImportedTask
	if p := ve.GetProperty(ical.ComponentPropertyUniqueId); p != nil {
		out.UID = p.Value
	}

	dtStart := ve.GetProperty(ical.ComponentPropertyDtStart)
	if dtStart == nil {
		return out, errors.New("missing DTSTART")
	}
	if isAllDay(dtStart) {
		return out, errors.New("all-day event")
	}

	start, err := ve.GetStartAt()
	if err != nil {
		return out, fmt.Errorf("DTSTART: %w", err)
	}
	end, err := ve.GetEndAt()
	if err != nil {
		return out, fmt.Errorf("DTEND: %w", err)
	}
	start = start.In(loc)
	end = end.In(loc)

	out.Date = start.Format(model.DateLayout)
	out.Raw.Start = start.Format("15:04")

	y, m, d := start.Date()
	nextMidnight := time.Date(y, m, d+1, 0, 0, 0, 0, loc)
	switch {
	case end.Equal(nextMidnight):
		out.Raw.End = "24:00"
	case end.After(nextMidnight):
		return out, errors.New("event spans more than one day")
	default:
		out.Raw.End = end.Format("15:04")
	}

	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		out.Raw.Title = p.Value
	}
	if hasRaw {
		out.Raw.Condition = firstCategory(rawCats)
	} else if p := ve.GetProperty(ical.ComponentPropertyCategories); p != nil {
		first, _, _ := strings.Cut(p.Value, ",")
		out.Raw.Condition = strings.TrimSpace(first)
	}
	out.Raw.Repeat = string(model.RepeatNone)
	if p := ve.GetProperty(ical.ComponentPropertyRrule); p != nil {
		out.Raw.Repeat = string(repeatFromRule(p.Value))
	}

	return out, nil
}

// isAllDay detects VALUE=DATE or a date-only DTSTART value.
func isAllDay(p *ical.IANAProperty) bool {
	if vs, ok := p.ICalParameters["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
		return true
	}
	return !strings.Contains(p.Value, "T")
}

// repeatFromRule maps the FREQ part of an RRULE. Rules with INTERVAL,
// BYDAY or other parts are reduced to their frequency.
func repeatFromRule(rule string) model.Repeat {
	for _, part := range strings.Split(rule, ";") {
		k, v, ok := strings.Cut(part, "=")
		if ok && strings.EqualFold(k, "FREQ") {
			if r, known := repeatByFreq[strings.ToUpper(v)]; known {
				return r
			}
		}
	}
	return model.RepeatNone
}

// rawCategories returns the still-escaped value of the first CATEGORIES
// line of each top-level VEVENT in body, in order. Events without one get "".
func rawCategories(body []byte) []string {
	var (
		out     []string
		inEvent bool
		depth   int
		found   bool
	)
	for _, line := range unfold(string(body)) {
		name, value := splitContentLine(line)
		switch {
		case strings.EqualFold(name, "BEGIN"):
			if inEvent {
				depth++
			} else if strings.EqualFold(value, "VEVENT") {
				inEvent, depth, found = true, 0, false
				out = append(out, "")
			}
		case strings.EqualFold(name, "END"):
			if !inEvent {
				continue
			}
			if depth > 0 {
				depth--
			} else if strings.EqualFold(value, "VEVENT") {
				inEvent = false
			}
		case inEvent && depth == 0 && !found && strings.EqualFold(name, "CATEGORIES"):
			out[len(out)-1] = value
			found = true
		}
	}
	return out
}

// unfold joins folded content lines.
func unfold(s string) []string {
	var lines []string
	for _, l := range strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n") {
		if (strings.HasPrefix(l, " ") || strings.HasPrefix(l, "\t")) && len(lines) > 0 {
			lines[len(lines)-1] += l[1:]
			continue
		}
		lines = append(lines, l)
	}
	return lines
}

// splitContentLine returns the property name and the raw value after the
// first colon outside a quoted parameter.
func splitContentLine(line string) (string, string) {
	quoted := false
	nameEnd := -1
	for i := 0; i < len(line); i++ {
		switch line[i] {
		case '"':
			quoted = !quoted
		case ';':
			if nameEnd < 0 && !quoted {
				nameEnd = i
			}
		case ':':
			if quoted {
				continue
			}
			if nameEnd < 0 {
				nameEnd = i
			}
			return line[:nameEnd], line[i+1:]
		}
	}
	return line, ""
}

// firstCategory unescapes the first value of a raw CATEGORIES list,
// stopping at the first unescaped comma.
func firstCategory(raw string) string {
	var b strings.Builder
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		if c == ',' {
			break
		}
		if c == '\\' && i+1 < len(raw) {
			i++
			switch raw[i] {
			case 'n', 'N':
				b.WriteByte('\n')
			default:
				b.WriteByte(raw[i])
			}
			continue
		}
		b.WriteByte(c)
	}
	return strings.TrimSpace(b.String())
}
