package tide

import (
	"fmt"
	"math"
	"time"
)

// EventType distinguishes high and low water.
type EventType string

const (
	High EventType = "HIGH"
	Low  EventType = "LOW"
)

// Event is one tide extreme. Center is a UTC instant.
type Event struct {
	Type   EventType
	Center time.Time
}

// WindowID identifies the tide window around an event:
// <localDate>T<HHMM>-<HIGH|LOW>, rendered in the given location.
func (e Event) WindowID(loc *time.Location) string {
	local := e.Center.In(loc)
	return fmt.Sprintf("%sT%s-%s", local.Format("20060102"), local.Format("1504"), e.Type)
}

// Tau returns now − center in hours. Negative before the center.
func Tau(now time.Time, center time.Time) float64 {
	return now.Sub(center).Seconds() / 3600
}

// InWindow reports membership in [center−half, center+half], inclusive at
// both edges.
func InWindow(now time.Time, center time.Time, halfHours float64) bool {
	return math.Abs(Tau(now, center)) <= halfHours
}

// InLateBand reports membership in [center+from, center+to], inclusive.
func InLateBand(now time.Time, center time.Time, fromHours, toHours float64) bool {
	tau := Tau(now, center)
	return tau >= fromHours && tau <= toHours
}

// Nearest picks the event whose center is closest to now. A given instant
// belongs to at most one window when within half-width of a center, so the
// nearest center fully determines membership. Returns false on an empty
// slice.
func Nearest(events []Event, now time.Time) (Event, bool) {
	if len(events) == 0 {
		return Event{}, false
	}
	best := events[0]
	bestDist := math.Abs(now.Sub(best.Center).Seconds())
	for _, e := range events[1:] {
		d := math.Abs(now.Sub(e.Center).Seconds())
		if d < bestDist {
			best = e
			bestDist = d
		}
	}
	return best, true
}
