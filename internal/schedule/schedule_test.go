package schedule

import (
	"errors"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"condcal/internal/model"
)

func raw(start, end string) model.RawTask {
	return model.RawTask{Title: "Task", Start: start, End: end, Condition: "Work"}
}

func task(id string, start, end int, condition string) model.Task {
	return model.Task{ID: id, Title: id, StartMin: start, EndMin: end, Condition: condition}
}

func TestValidateNormalizesMinutes(t *testing.T) {
	got, err := Validate(model.RawTask{
		Title:     "  Run  ",
		Start:     "6:00",
		End:       "07:30",
		Condition: "Sunny",
		Repeat:    "Weekly",
	})
	require.NoError(t, err)
	assert.Equal(t, "Run", got.Title)
	assert.Equal(t, 360, got.StartMin)
	assert.Equal(t, 450, got.EndMin)
	assert.Equal(t, "Sunny", got.Condition)
	assert.Equal(t, model.RepeatWeekly, got.Repeat)
}

func TestValidateUnknownRepeatIsNone(t *testing.T) {
	r := raw("09:00", "10:00")
	r.Repeat = "fortnightly"
	got, err := Validate(r)
	require.NoError(t, err)
	assert.Equal(t, model.RepeatNone, got.Repeat)
}

func TestValidateMissingFields(t *testing.T) {
	cases := map[string]model.RawTask{
		"title":      {Title: "   ", Start: "09:00", End: "10:00", Condition: "Work"},
		"start_time": {Title: "x", End: "10:00", Condition: "Work"},
		"end_time":   {Title: "x", Start: "09:00", Condition: "Work"},
		"condition":  {Title: "x", Start: "09:00", End: "10:00"},
	}
	for field, in := range cases {
		_, err := Validate(in)
		var verr *ValidationError
		require.True(t, errors.As(err, &verr), field)
		assert.Equal(t, MissingField, verr.Kind)
		assert.Equal(t, field, verr.Field)
		assert.ErrorIs(t, err, ErrMissingField)
	}
}

func TestValidateMalformedTimes(t *testing.T) {
	for _, tc := range []struct{ start, end, field string }{
		{"9:5", "10:00", "start_time"},
		{"ab:cd", "10:00", "start_time"},
		{"25:00", "26:00", "start_time"},
		{"24:00", "24:00", "start_time"},
		{"-1:00", "10:00", "start_time"},
		{"09:00", "10:60", "end_time"},
		{"09:00", "24:30", "end_time"},
		{"09:00", "1000", "end_time"},
		{"+9:00", "10:00", "start_time"},
		{"-0:00", "10:00", "start_time"},
		{"09:00", "9:+5", "end_time"},
		{"09:00", "10:+5", "end_time"},
	} {
		_, err := Validate(raw(tc.start, tc.end))
		var verr *ValidationError
		require.True(t, errors.As(err, &verr), "%s-%s", tc.start, tc.end)
		assert.Equal(t, MalformedTime, verr.Kind)
		assert.Equal(t, tc.field, verr.Field)
		assert.ErrorIs(t, err, ErrMalformedTime)
	}
}

func TestValidateRejectsInvertedRanges(t *testing.T) {
	_, err := Validate(raw("10:00", "09:00"))
	assert.ErrorIs(t, err, ErrInvertedRange)

	for start := 0; start < model.MinutesPerDay; start += 37 {
		for _, end := range []int{start, start - 1, start / 2} {
			if end < 0 {
				continue
			}
			_, err := Validate(raw(FormatClock(start), FormatClock(end)))
			assert.ErrorIs(t, err, ErrInvertedRange, "%d-%d", start, end)
		}
	}
}

func TestValidateAcceptsEndOfDay(t *testing.T) {
	got, err := Validate(raw("23:59", "24:00"))
	require.NoError(t, err)
	assert.Equal(t, 1439, got.StartMin)
	assert.Equal(t, model.MinutesPerDay, got.EndMin)
}

func TestLayoutIsDeterministic(t *testing.T) {
	tk := task("a", 545, 610, "Work")
	assert.Equal(t, Layout(tk), Layout(tk))
}

func TestLayoutBoundaries(t *testing.T) {
	first := Layout(task("a", 0, 1, "Work"))
	assert.Equal(t, 0.0, first.TopPercent)
	assert.GreaterOrEqual(t, first.HeightPercent, MinHeightPercent)

	last := Layout(task("b", 1439, 1440, "Work"))
	assert.GreaterOrEqual(t, last.HeightPercent, MinHeightPercent)
	assert.InDelta(t, 100.0, last.Bottom(), 1e-9)

	evening := Layout(task("c", 1320, 1440, "Work"))
	assert.InDelta(t, 100.0, evening.Bottom(), 1e-9)
	assert.InDelta(t, 120.0/1440*100, evening.HeightPercent, 1e-9)
}

func TestLayoutHourBlock(t *testing.T) {
	p := Layout(task("a", 360, 420, "Work"))
	assert.Equal(t, 25.0, p.TopPercent)
	assert.InDelta(t, 4.1666667, p.HeightPercent, 1e-6)
}

func TestFindConflictsAdjacencyIsNotConflict(t *testing.T) {
	a := task("A", 540, 600, "Work")
	c := task("C", 600, 660, "Work")
	assert.Empty(t, FindConflicts([]model.Task{a, c}))
	assert.False(t, Overlaps(a, c))
	assert.False(t, Overlaps(c, a))
}

func TestFindConflictsOverlap(t *testing.T) {
	a := task("A", 540, 600, "Work") // 09:00-10:00
	b := task("B", 570, 630, "Work") // 09:30-10:30
	c := task("C", 630, 690, "Work") // 10:30-11:30, touches B only
	got := FindConflicts([]model.Task{a, b, c})
	assert.Equal(t, []string{"A", "B"}, got.Sorted())
	assert.False(t, got.Has("C"))
}

func TestFindConflictsChain(t *testing.T) {
	// B overlaps both A and C while A and C only touch.
	a := task("A", 540, 600, "Work")
	b := task("B", 570, 630, "Work")
	c := task("C", 600, 660, "Work")
	got := FindConflicts([]model.Task{a, b, c})
	assert.Equal(t, []string{"A", "B", "C"}, got.Sorted())
	assert.Equal(t, []Pair{{A: "A", B: "B"}, {A: "B", B: "C"}}, ConflictPairs([]model.Task{a, b, c}))
}

func TestOverlapsIsSymmetric(t *testing.T) {
	ts := []model.Task{
		task("a", 0, 30, "x"), task("b", 15, 45, "x"), task("c", 45, 60, "x"),
		task("d", 10, 20, "x"), task("e", 0, 1440, "x"),
	}
	for _, x := range ts {
		for _, y := range ts {
			assert.Equal(t, Overlaps(x, y), Overlaps(y, x), "%s/%s", x.ID, y.ID)
		}
	}
}

var colorPattern = regexp.MustCompile(`^#[0-9a-f]{6}$`)

func TestColorForIsStableAndDistinct(t *testing.T) {
	first := ColorFor("Rain", nil)
	second := ColorFor("Rain", []model.Condition{})
	assert.Equal(t, first, second)
	assert.Regexp(t, colorPattern, first)
	assert.NotEqual(t, first, ColorFor("Sun", nil))
}

func TestColorForExplicitColorWins(t *testing.T) {
	known := []model.Condition{
		{Name: "Rain", Color: "#0000ff"},
		{Name: "Sun"},
		{Name: "rain", Color: "#ff0000"},
	}
	assert.Equal(t, "#0000ff", ColorFor("Rain", known))
	assert.Equal(t, DerivedColor("Sun"), ColorFor("Sun", known))
	assert.Equal(t, DerivedColor("Snow"), ColorFor("Snow", known))
	assert.Equal(t, DefaultColor, ColorFor("", known))
}

func TestFilterByConditions(t *testing.T) {
	tasks := []model.Task{
		task("1", 0, 60, "Work"), task("2", 60, 120, "Sunny"),
		task("3", 120, 180, "Work"), task("4", 180, 240, "Rain"),
	}
	assert.Equal(t, tasks, FilterByConditions(tasks, AllSelected()))

	sel := Partial("Work", "Rain")
	got := FilterByConditions(tasks, sel)
	require.Len(t, got, 3)
	assert.Equal(t, []string{"1", "3", "4"}, []string{got[0].ID, got[1].ID, got[2].ID})
	assert.Equal(t, got, FilterByConditions(got, sel))

	assert.Empty(t, FilterByConditions(tasks, Partial()))
}

func TestSelectionTransitions(t *testing.T) {
	s := AllSelected()
	assert.True(t, s.IsAll())

	s = s.Toggle("Work")
	assert.False(t, s.IsAll())
	assert.Equal(t, []string{"Work"}, s.Names())

	s = s.Toggle("Rain")
	assert.Equal(t, []string{"Rain", "Work"}, s.Names())

	s = s.Toggle("Work")
	assert.Equal(t, []string{"Rain"}, s.Names())

	// Selecting every known condition by hand stays partial.
	s = s.Toggle("Work").Toggle("Sunny")
	assert.False(t, s.IsAll())
	assert.Equal(t, "Rain,Sunny,Work", s.String())

	assert.True(t, s.ToggleAll().IsAll())
	assert.Equal(t, "all", s.ToggleAll().String())
}

func TestSelectionToggleDoesNotMutateReceiver(t *testing.T) {
	base := Partial("Work")
	_ = base.Toggle("Rain")
	assert.Equal(t, []string{"Work"}, base.Names())
}

func TestParseSelection(t *testing.T) {
	assert.True(t, ParseSelection("").IsAll())
	assert.True(t, ParseSelection("all").IsAll())
	s := ParseSelection(" Work , ,Rain")
	assert.Equal(t, []string{"Rain", "Work"}, s.Names())
}

func TestBuildDayEndToEnd(t *testing.T) {
	run, err := Validate(model.RawTask{Title: "Run", Start: "06:00", End: "07:00", Condition: "Sunny"})
	require.NoError(t, err)
	run.ID = "run"
	meet, err := Validate(model.RawTask{Title: "Meet", Start: "06:30", End: "07:30", Condition: "Work"})
	require.NoError(t, err)
	meet.ID = "meet"

	view := BuildDay("2026-10-16", []model.Task{meet, run}, nil, AllSelected())
	require.Len(t, view.Entries, 2)
	assert.Equal(t, "all", view.Selection)
	assert.Equal(t, []string{"meet", "run"}, view.Conflicts)

	first, second := view.Entries[0], view.Entries[1]
	assert.Equal(t, "run", first.Task.ID)
	assert.Equal(t, 25.0, first.Placement.TopPercent)
	assert.InDelta(t, 27.0833333, second.Placement.TopPercent, 1e-6)
	assert.Greater(t, first.Placement.Bottom(), second.Placement.TopPercent)
	assert.True(t, first.Conflict)
	assert.True(t, second.Conflict)
	assert.NotEqual(t, first.Color, second.Color)

	again := BuildDay("2026-10-16", []model.Task{meet, run}, nil, AllSelected())
	assert.Equal(t, view, again)
}

func TestBuildDayConflictsFollowFilter(t *testing.T) {
	tasks := []model.Task{task("run", 360, 420, "Sunny"), task("meet", 390, 450, "Work")}

	view := BuildDay("2026-10-16", tasks, nil, Partial("Sunny"))
	require.Len(t, view.Entries, 1)
	assert.Empty(t, view.Conflicts)
	assert.False(t, view.Entries[0].Conflict)
	assert.Equal(t, "Sunny", view.Selection)
}
