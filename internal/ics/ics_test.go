package ics

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"condcal/internal/model"
)

func task(id, date string, start, end int, repeat model.Repeat) model.Task {
	return model.Task{ID: id, OwnerID: "u1", Date: date, Title: "T" + id, StartMin: start, EndMin: end, Condition: "Sunny", Repeat: repeat}
}

func TestExpandSingleTaskInsideAndOutsideRange(t *testing.T) {
	from := time.Date(2026, 10, 16, 0, 0, 0, 0, time.UTC)
	res, err := ExpandRepeats([]model.Task{
		task("a", "2026-10-16", 360, 420, model.RepeatNone),
		task("b", "2026-10-17", 360, 420, model.RepeatNone),
	}, ExpandConfig{RangeStart: from, RangeEnd: from.Add(24 * time.Hour)})
	require.NoError(t, err)
	require.Len(t, res.Occurrences, 1)

	occ := res.Occurrences[0]
	assert.Equal(t, "a", occ.TaskID)
	assert.Equal(t, time.Date(2026, 10, 16, 6, 0, 0, 0, time.UTC), occ.Start)
	assert.Equal(t, time.Date(2026, 10, 16, 7, 0, 0, 0, time.UTC), occ.End)
	assert.Equal(t, "a@2026-10-16T06:00:00Z", occ.InstanceKey)
}

func TestExpandDailyAndWeekly(t *testing.T) {
	from := time.Date(2026, 10, 16, 0, 0, 0, 0, time.UTC)
	res, err := ExpandRepeats([]model.Task{
		task("d", "2026-10-16", 480, 540, model.RepeatDaily),
		task("w", "2026-10-16", 600, 660, model.RepeatWeekly),
	}, ExpandConfig{RangeStart: from, RangeEnd: from.AddDate(0, 0, 14)})
	require.NoError(t, err)

	var daily, weekly int
	for _, o := range res.Occurrences {
		switch o.TaskID {
		case "d":
			daily++
		case "w":
			weekly++
		}
	}
	assert.Equal(t, 14, daily)
	assert.Equal(t, 2, weekly)
	assert.Empty(t, res.TruncatedTasks)

	for i := 1; i < len(res.Occurrences); i++ {
		assert.False(t, res.Occurrences[i].Start.Before(res.Occurrences[i-1].Start))
	}
}

func TestExpandStartsOnTaskDate(t *testing.T) {
	from := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	res, err := ExpandRepeats([]model.Task{task("d", "2026-10-16", 480, 540, model.RepeatDaily)},
		ExpandConfig{RangeStart: from, RangeEnd: time.Date(2026, 10, 18, 0, 0, 0, 0, time.UTC)})
	require.NoError(t, err)
	require.Len(t, res.Occurrences, 2)
	assert.Equal(t, 16, res.Occurrences[0].Start.Day())
}

func TestExpandIncludesInstanceRunningAtRangeStart(t *testing.T) {
	// 23:00-24:00 daily; window opens at 23:30.
	from := time.Date(2026, 10, 16, 23, 30, 0, 0, time.UTC)
	res, err := ExpandRepeats([]model.Task{task("late", "2026-10-15", 1380, 1440, model.RepeatDaily)},
		ExpandConfig{RangeStart: from, RangeEnd: from.Add(time.Hour)})
	require.NoError(t, err)
	require.Len(t, res.Occurrences, 1)
	assert.Equal(t, time.Date(2026, 10, 16, 23, 0, 0, 0, time.UTC), res.Occurrences[0].Start)
	assert.Equal(t, time.Date(2026, 10, 17, 0, 0, 0, 0, time.UTC), res.Occurrences[0].End)
}

func TestExpandCap(t *testing.T) {
	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	res, err := ExpandRepeats([]model.Task{task("d", "2026-01-01", 0, 60, model.RepeatDaily)},
		ExpandConfig{RangeStart: from, RangeEnd: from.AddDate(1, 0, 0), MaxOccurrencesPerTask: 10})
	require.NoError(t, err)
	assert.Len(t, res.Occurrences, 10)
	assert.Equal(t, []string{"d"}, res.TruncatedTasks)
}

func TestExpandUsesLocation(t *testing.T) {
	loc := time.FixedZone("KST", 9*3600)
	from := time.Date(2026, 10, 16, 0, 0, 0, 0, loc)
	res, err := ExpandRepeats([]model.Task{task("a", "2026-10-16", 540, 600, model.RepeatNone)},
		ExpandConfig{Location: loc, RangeStart: from, RangeEnd: from.Add(24 * time.Hour)})
	require.NoError(t, err)
	require.Len(t, res.Occurrences, 1)
	assert.Equal(t, time.Date(2026, 10, 16, 0, 0, 0, 0, time.UTC), res.Occurrences[0].Start.UTC())
}

func TestExpandRejectsEmptyRange(t *testing.T) {
	now := time.Now()
	_, err := ExpandRepeats(nil, ExpandConfig{RangeStart: now, RangeEnd: now})
	assert.Error(t, err)
}

func TestExportTasks(t *testing.T) {
	now := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)
	out := ExportTasks([]model.Task{
		task("a", "2026-10-16", 360, 420, model.RepeatWeekly),
		task("b", "not-a-date", 360, 420, model.RepeatNone),
	}, []model.Condition{{Name: "Sunny", Color: "#ffcc00"}}, ExportConfig{Name: "test", Now: now})

	assert.Contains(t, out, "PRODID:"+ProductID)
	assert.Contains(t, out, "UID:a@condcal")
	assert.Contains(t, out, "DTSTART:20261016T060000Z")
	assert.Contains(t, out, "DTEND:20261016T070000Z")
	assert.Contains(t, out, "RRULE:FREQ=WEEKLY")
	assert.Contains(t, out, "CATEGORIES:Sunny")
	assert.Contains(t, out, "COLOR:#ffcc00")
	assert.NotContains(t, out, "UID:b@condcal")
	assert.Equal(t, 1, strings.Count(out, "BEGIN:VEVENT"))
}

func TestExportThenParse(t *testing.T) {
	loc := time.FixedZone("CET", 3600)
	c := task("c", "2026-10-16", 600, 660, model.RepeatNone)
	c.Title = `Run, then rest; C:\temp`
	c.Condition = "Rain, heavy"
	tasks := []model.Task{
		task("a", "2026-10-16", 360, 420, model.RepeatDaily),
		task("b", "2026-10-16", 1380, 1440, model.RepeatNone),
		c,
	}
	out := ExportTasks(tasks, nil, ExportConfig{Location: loc})
	assert.Contains(t, out, `CATEGORIES:Rain\, heavy`)

	got, err := ParseTasks([]byte(out), loc)
	require.NoError(t, err)
	require.Len(t, got, 3)

	byUID := map[string]ImportedTask{}
	for _, it := range got {
		byUID[it.UID] = it
	}
	a := byUID["a@condcal"]
	assert.Equal(t, "2026-10-16", a.Date)
	assert.Equal(t, model.RawTask{Title: "Ta", Start: "06:00", End: "07:00", Condition: "Sunny", Repeat: "daily"}, a.Raw)
	b := byUID["b@condcal"]
	assert.Equal(t, "23:00", b.Raw.Start)
	assert.Equal(t, "24:00", b.Raw.End)
	assert.Equal(t, "none", b.Raw.Repeat)
	imported := byUID["c@condcal"]
	assert.Equal(t, `Run, then rest; C:\temp`, imported.Raw.Title)
	assert.Equal(t, "Rain, heavy", imported.Raw.Condition)
}

func TestParseCategoriesSplitsOnUnescapedComma(t *testing.T) {
	body := strings.Join([]string{
		"BEGIN:VCALENDAR",
		"VERSION:2.0",
		"PRODID:-//test//EN",
		"BEGIN:VEVENT",
		"UID:list",
		"DTSTART:20261016T090000Z",
		"DTEND:20261016T100000Z",
		"SUMMARY:Two tags",
		"CATEGORIES:Rain,Wind",
		"END:VEVENT",
		"BEGIN:VEVENT",
		"UID:none",
		"DTSTART:20261016T110000Z",
		"DTEND:20261016T120000Z",
		"SUMMARY:Untagged",
		"END:VEVENT",
		"BEGIN:VEVENT",
		"UID:escaped",
		"DTSTART:20261016T130000Z",
		"DTEND:20261016T140000Z",
		"SUMMARY:Folded",
		"CATEGORIES:Rain\\, he",
		" avy,Wind",
		"END:VEVENT",
		"END:VCALENDAR",
	}, "\r\n")

	got, err := ParseTasks([]byte(body), time.UTC)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "Rain", got[0].Raw.Condition)
	assert.Equal(t, "", got[1].Raw.Condition)
	assert.Equal(t, "Rain, heavy", got[2].Raw.Condition)
}

func TestParseSkipsUnmappableEvents(t *testing.T) {
	body := strings.Join([]string{
		"BEGIN:VCALENDAR",
		"VERSION:2.0",
		"PRODID:-//test//EN",
		"BEGIN:VEVENT",
		"UID:allday",
		"DTSTART;VALUE=DATE:20261016",
		"DTEND;VALUE=DATE:20261017",
		"SUMMARY:Holiday",
		"END:VEVENT",
		"BEGIN:VEVENT",
		"UID:long",
		"DTSTART:20261016T220000Z",
		"DTEND:20261017T020000Z",
		"SUMMARY:Overnight",
		"END:VEVENT",
		"BEGIN:VEVENT",
		"UID:ok",
		"DTSTART:20261016T090000Z",
		"DTEND:20261016T093000Z",
		"SUMMARY:Standup",
		"CATEGORIES:Work,Team",
		"RRULE:FREQ=WEEKLY;BYDAY=FR",
		"END:VEVENT",
		"END:VCALENDAR",
		"",
	}, "\r\n")

	got, err := ParseTasks([]byte(body), time.UTC)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "ok", got[0].UID)
	assert.Equal(t, model.RawTask{Title: "Standup", Start: "09:00", End: "09:30", Condition: "Work", Repeat: "weekly"}, got[0].Raw)
}

func TestParseRejectsEmptyBody(t *testing.T) {
	_, err := ParseTasks(nil, time.UTC)
	assert.ErrorIs(t, err, ErrInvalidCalendar)
}
