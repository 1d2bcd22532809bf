package score

import "fmt"

// Side is a trade direction.
type Side string

const (
	Long  Side = "LONG"
	Short Side = "SHORT"
	None  Side = "NONE"
)

// Opposite returns the mirror side; NONE mirrors to NONE.
func (s Side) Opposite() Side {
	switch s {
	case Long:
		return Short
	case Short:
		return Long
	default:
		return None
	}
}

// Directional reports whether the side is LONG or SHORT.
func (s Side) Directional() bool {
	return s == Long || s == Short
}

// Frame is the scored snapshot of one timeframe. The scorer emits it,
// downstream stages (pipeline, broadcast, approval payload) read it.
type Frame struct {
	Side  Side
	Score float64

	RSI    float64
	RSIEMA float64
	StochD float64
	SlowD  float64
	Close  float64

	ZoneRSI       int // 1..5
	ZoneStoch     int
	PrevZoneRSI   int
	PrevZoneStoch int

	AlignRSI   int // +1 up, -1 down, 0 unclear
	AlignStoch int
	SlopeRSI   float64
	SlopeStoch float64

	CrossUpRSI     bool
	CrossDownRSI   bool
	CrossUpStoch   bool
	CrossDownStoch bool

	Sonic string // up | down | side

	Notes []string
}

func (f *Frame) note(format string, args ...interface{}) {
	f.Notes = append(f.Notes, fmt.Sprintf(format, args...))
}

// RSIZone partitions RSI into Z1(<30), Z2([30,45)), Z3([45,55]),
// Z4((55,70]), Z5(>70).
func RSIZone(v float64) int {
	switch {
	case v < 30:
		return 1
	case v < 45:
		return 2
	case v <= 55:
		return 3
	case v <= 70:
		return 4
	default:
		return 5
	}
}

// StochZone partitions %D into S1..S5 with cutoffs 20/40/60/80.
func StochZone(v float64) int {
	switch {
	case v < 20:
		return 1
	case v < 40:
		return 2
	case v <= 60:
		return 3
	case v <= 80:
		return 4
	default:
		return 5
	}
}
