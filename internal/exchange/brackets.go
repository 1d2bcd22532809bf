package exchange

import "github.com/shopspring/decimal"

// ═══════════════════════════════════════════════════════════════════════════════
// LEVERAGE BRACKETS - SL/TP distance per leverage tier
// ═══════════════════════════════════════════════════════════════════════════════
//
// Higher leverage tightens the stop so the loss per trade stays in the same
// ballpark regardless of the multiplier. TP keeps a fixed 2:1 reward ratio
// over the stop distance.
//
// ═══════════════════════════════════════════════════════════════════════════════

type bracket struct {
	maxLev int
	slPct  float64 // percent of entry price
}

var brackets = []bracket{
	{5, 6.0},
	{10, 4.0},
	{20, 2.5},
	{50, 1.5},
	{125, 0.8},
}

// SLTPPercent returns the stop-loss and take-profit distances, in percent
// of entry price, for the given leverage.
func SLTPPercent(leverage int) (slPct, tpPct float64) {
	for _, b := range brackets {
		if leverage <= b.maxLev {
			return b.slPct, b.slPct * 2
		}
	}
	last := brackets[len(brackets)-1]
	return last.slPct, last.slPct * 2
}

// DeriveSLTP turns the bracket distances into absolute prices around the
// entry, direction-aware.
func DeriveSLTP(entry decimal.Decimal, side string, leverage int) (sl, tp decimal.Decimal) {
	slPct, tpPct := SLTPPercent(leverage)
	slDist := entry.Mul(decimal.NewFromFloat(slPct / 100))
	tpDist := entry.Mul(decimal.NewFromFloat(tpPct / 100))
	if side == SideLong {
		return entry.Sub(slDist), entry.Add(tpDist)
	}
	return entry.Add(slDist), entry.Sub(tpDist)
}
