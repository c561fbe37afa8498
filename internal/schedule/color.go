package schedule

import (
	"fmt"

	"github.com/cespare/xxhash/v2"

	"condcal/internal/model"
)

// DefaultColor is used for tasks without a condition name.
const DefaultColor = "#9ca3af"

// ColorFor returns the display color for a condition. An explicit color on a
// matching condition wins; otherwise the color is derived from the name
// alone, so it is identical across processes and needs no stored state.
func ColorFor(name string, known []model.Condition) string {
	for _, c := range known {
		if c.Name == name && c.Color != "" {
			return c.Color
		}
	}
	return DerivedColor(name)
}

// DerivedColor maps a name to a #rrggbb color using the top 24 bits of its
// xxhash64 digest.
func DerivedColor(name string) string {
	if name == "" {
		return DefaultColor
	}
	h := xxhash.Sum64String(name)
	return fmt.Sprintf("#%06x", (h>>40)&0xffffff)
}
