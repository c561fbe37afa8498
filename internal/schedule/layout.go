package schedule

import "condcal/internal/model"

const (
	// hourRowPx is the rendered height of one hour row in the day grid.
	hourRowPx = 60.0
	// minBarPx is the smallest clickable bar height.
	minBarPx = 20.0
)

// MinHeightPercent is the minimum bar height as a share of the day axis:
// 20px on a 60px-per-hour grid, i.e. 20 minutes.
const MinHeightPercent = minBarPx / (hourRowPx * 24) * 100

// Placement is a task's vertical position on the 1440-minute axis,
// expressed in percent of the full day.
type Placement struct {
	TopPercent    float64 `json:"top_percent"`
	HeightPercent float64 `json:"height_percent"`
}

// Bottom returns TopPercent + HeightPercent.
func (p Placement) Bottom() float64 {
	return p.TopPercent + p.HeightPercent
}

// Layout places a validated task on the day axis. Bars shorter than
// MinHeightPercent are stretched to it; a stretched bar that would run past
// the end of the day is moved up so it ends exactly at 100.
func Layout(t model.Task) Placement {
	top := percentOfDay(t.StartMin)
	height := percentOfDay(t.EndMin - t.StartMin)
	if height < MinHeightPercent {
		height = MinHeightPercent
	}
	if top+height > 100 {
		top = 100 - height
	}
	return Placement{TopPercent: top, HeightPercent: height}
}

func percentOfDay(min int) float64 {
	return float64(min) * 100 / model.MinutesPerDay
}
