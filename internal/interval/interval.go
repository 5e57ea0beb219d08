package interval

import (
	"fmt"
	"time"
)

// Interval is a half-open time range [Start, End).
type Interval struct {
	Start time.Time
	End   time.Time
}

func New(start, end time.Time) Interval {
	return Interval{Start: start, End: end}
}

// Valid reports whether End is strictly after Start.
func (iv Interval) Valid() bool {
	return iv.End.After(iv.Start)
}

// Overlaps reports whether the two ranges share any instant.
// Back-to-back ranges ([a,b) and [b,c)) do not overlap.
func (iv Interval) Overlaps(other Interval) bool {
	return iv.Start.Before(other.End) && other.Start.Before(iv.End)
}

func (iv Interval) Equal(other Interval) bool {
	return iv.Start.Equal(other.Start) && iv.End.Equal(other.End)
}

func (iv Interval) Duration() time.Duration {
	return iv.End.Sub(iv.Start)
}

func (iv Interval) String() string {
	return fmt.Sprintf("[%s, %s)", iv.Start.Format(time.RFC3339), iv.End.Format(time.RFC3339))
}
