package score

import (
	"github.com/Love92/Allinonebot-Phase2-sub000/internal/config"
	"github.com/Love92/Allinonebot-Phase2-sub000/internal/indicator"
)

// ═══════════════════════════════════════════════════════════════════════════════
// PER-TIMEFRAME DIRECTIONAL SCORING
// ═══════════════════════════════════════════════════════════════════════════════
//
// Evidence accumulates into a signed sum: positive favors LONG, negative
// SHORT. Dual-cross and dual-align overrides may force the side; the sonic
// trend either weights or vetoes. The emitted Frame carries the magnitude
// and the side separately so aggregation can compare frames.
//
// ═══════════════════════════════════════════════════════════════════════════════

// Params are the per-timeframe magnitudes. H4 carries more weight than M30.
type Params struct {
	Name       string
	ZoneStrong float64 // reversal zones Z1/Z5 with confirming turn
	ZoneMedium float64 // momentum zones Z2/Z4
	ZoneWeak   float64 // counter-evidence inside extreme zones
	SlopePts   float64 // stoch slope confirmation
	CrossPts   float64 // recent stoch cross
	TransBonus float64 // zone-transition bonuses
	BarrierPen float64 // Z3 with unclear alignment
}

// H4Params are the default H4 magnitudes.
func H4Params() Params {
	return Params{
		Name:       "H4",
		ZoneStrong: 2.0,
		ZoneMedium: 1.5,
		ZoneWeak:   0.5,
		SlopePts:   0.5,
		CrossPts:   1.0,
		TransBonus: 0.5,
		BarrierPen: 1.0,
	}
}

// M30Params are the default M30 magnitudes.
func M30Params() Params {
	return Params{
		Name:       "M30",
		ZoneStrong: 1.5,
		ZoneMedium: 1.0,
		ZoneWeak:   0.5,
		SlopePts:   0.5,
		CrossPts:   0.75,
		TransBonus: 0.5,
		BarrierPen: 1.0,
	}
}

// M5GateParams are the magnitudes for the M5 gate's cluster B dual logic.
func M5GateParams() Params {
	p := M30Params()
	p.Name = "M5"
	return p
}

// ScoreTimeframe scores one timeframe's closed candles.
func ScoreTimeframe(candles []indicator.Candle, p Params, cfg *config.Config) Frame {
	f := Frame{Side: None}
	if len(candles) < 40 {
		f.note("%s insufficient data (%d bars)", p.Name, len(candles))
		return f
	}

	closes := indicator.Closes(candles)

	rsiSeries := indicator.RSISeries(closes, 14)
	rsiEMASeries := indicator.EMASeries(rsiSeries, 12)
	stochD := indicator.StochSeries(candles, 14, 3)
	slowD := indicator.SlowDSeries(stochD)

	last := len(rsiSeries) - 1
	f.RSI = rsiSeries[last]
	f.RSIEMA = rsiEMASeries[last]
	f.StochD = stochD[len(stochD)-1]
	f.SlowD = slowD[len(slowD)-1]
	f.Close = closes[len(closes)-1]

	f.ZoneRSI = RSIZone(f.RSI)
	f.PrevZoneRSI = RSIZone(rsiSeries[last-1])
	f.ZoneStoch = StochZone(f.StochD)
	if len(stochD) > 1 {
		f.PrevZoneStoch = StochZone(stochD[len(stochD)-2])
	}

	f.AlignRSI = alignment(f.RSI, f.RSIEMA, cfg.RSIGapMin)
	f.AlignStoch = alignment(f.StochD, f.SlowD, cfg.StochGapMin)
	f.SlopeRSI = indicator.Slope(rsiSeries)
	f.SlopeStoch = indicator.Slope(stochD)

	f.CrossUpRSI = indicator.CrossedWithin(rsiSeries, rsiEMASeries, cfg.CrossRecentN, +1)
	f.CrossDownRSI = indicator.CrossedWithin(rsiSeries, rsiEMASeries, cfg.CrossRecentN, -1)
	f.CrossUpStoch = indicator.CrossedWithin(stochD, slowD, cfg.StochRecentN, +1)
	f.CrossDownStoch = indicator.CrossedWithin(stochD, slowD, cfg.StochRecentN, -1)

	f.Sonic = sonicTrend(closes)

	sum := 0.0
	barrier := false

	// RSI position & movement.
	switch f.ZoneRSI {
	case 1:
		if f.AlignRSI > 0 {
			sum += p.ZoneStrong
			f.note("rsi Z1 turning up +%.1f", p.ZoneStrong)
		} else if f.AlignRSI < 0 {
			sum -= p.ZoneWeak
			f.note("rsi Z1 still falling -%.1f", p.ZoneWeak)
		}
	case 2:
		sum += float64(f.AlignRSI) * p.ZoneMedium
		if f.AlignRSI != 0 {
			f.note("rsi Z2 align %+d", f.AlignRSI)
		}
	case 3:
		if f.AlignRSI == 0 {
			barrier = true
			f.note("rsi Z3 barrier")
		} else {
			sum += float64(f.AlignRSI) * p.ZoneWeak
		}
	case 4:
		sum += float64(f.AlignRSI) * p.ZoneMedium
		if f.AlignRSI != 0 {
			f.note("rsi Z4 align %+d", f.AlignRSI)
		}
	case 5:
		if f.AlignRSI < 0 {
			sum -= p.ZoneStrong
			f.note("rsi Z5 turning down -%.1f", p.ZoneStrong)
		} else if f.AlignRSI > 0 {
			sum += p.ZoneWeak
			f.note("rsi Z5 still rising +%.1f", p.ZoneWeak)
		}
	}

	// Stochastic position & cross.
	if f.CrossUpStoch {
		boost := stochZoneBoost(f.ZoneStoch, +1)
		sum += p.CrossPts * boost
		f.note("stoch cross up +%.2f", p.CrossPts*boost)
	}
	if f.CrossDownStoch {
		boost := stochZoneBoost(f.ZoneStoch, -1)
		sum -= p.CrossPts * boost
		f.note("stoch cross down -%.2f", p.CrossPts*boost)
	}
	if f.AlignStoch > 0 && f.SlopeStoch >= cfg.StochSlopeMin {
		sum += p.SlopePts
	}
	if f.AlignStoch < 0 && f.SlopeStoch <= -cfg.StochSlopeMin {
		sum -= p.SlopePts
	}

	// Zone-transition bonuses, both oscillators.
	sum += transitionBonus(f.PrevZoneRSI, f.ZoneRSI, p.TransBonus, &f)
	sum += transitionBonus(f.PrevZoneStoch, f.ZoneStoch, p.TransBonus, &f)

	// Dual-cross override: both oscillators crossed the same direction
	// within the recent-bars window.
	forced := None
	if f.CrossUpRSI && f.CrossUpStoch {
		forced = Long
		sum += cfg.TFCrossBonus
		f.note("dual cross up +%.1f", cfg.TFCrossBonus)
	} else if f.CrossDownRSI && f.CrossDownStoch {
		forced = Short
		sum -= cfg.TFCrossBonus
		f.note("dual cross down -%.1f", cfg.TFCrossBonus)
	}

	// Dual-align override.
	if forced == None {
		if f.AlignRSI > 0 && f.AlignStoch > 0 {
			forced = Long
			sum += cfg.TFAlignBonus
			f.note("dual align up +%.1f", cfg.TFAlignBonus)
		} else if f.AlignRSI < 0 && f.AlignStoch < 0 {
			forced = Short
			sum -= cfg.TFAlignBonus
			f.note("dual align down -%.1f", cfg.TFAlignBonus)
		}
	}

	side := None
	switch {
	case forced.Directional():
		side = forced
	case sum > 0:
		side = Long
	case sum < 0:
		side = Short
	}

	score := sum
	if score < 0 {
		score = -score
	}
	if barrier {
		score -= p.BarrierPen
		if score < 0 {
			score = 0
			side = None
		}
	}

	// Extreme penalty: fighting the top/bottom zone.
	if side == Long && (f.ZoneRSI == 5 || f.ZoneStoch == 5) {
		score -= cfg.TFExtremePenalty
		f.note("extreme penalty long -%.1f", cfg.TFExtremePenalty)
	}
	if side == Short && (f.ZoneRSI == 1 || f.ZoneStoch == 1) {
		score -= cfg.TFExtremePenalty
		f.note("extreme penalty short -%.1f", cfg.TFExtremePenalty)
	}
	if score < 0 {
		score = 0
		side = None
	}

	// Sonic trend: weight or veto.
	switch cfg.SonicMode {
	case "weight":
		if sonicAgrees(f.Sonic, side) {
			score += cfg.SonicWeight
			f.note("sonic %s agrees +%.1f", f.Sonic, cfg.SonicWeight)
		}
	case "veto":
		if side.Directional() && sonicOpposes(f.Sonic, side) {
			f.note("sonic %s vetoes %s", f.Sonic, side)
			side = None
			score = 0
		}
	}

	f.Side = side
	f.Score = score
	return f
}

// alignment returns +1/-1 when fast leads slow by at least gapMin, else 0.
func alignment(fast, slow, gapMin float64) int {
	gap := fast - slow
	if gap >= gapMin {
		return 1
	}
	if gap <= -gapMin {
		return -1
	}
	return 0
}

// stochZoneBoost weights a cross by where it happened: a cross up out of
// S1 is worth more than one in the middle of the range.
func stochZoneBoost(zone, direction int) float64 {
	if direction > 0 {
		switch zone {
		case 1:
			return 1.5
		case 2:
			return 1.25
		}
	} else {
		switch zone {
		case 5:
			return 1.5
		case 4:
			return 1.25
		}
	}
	return 1.0
}

// transitionBonus scores the recognized zone transitions: safe retrace
// (Z1→Z2 long, Z5→Z4 short), pivot break (Z3→Z4 long, Z3→Z2 short) and
// thrust extreme (Z4→Z5 long, Z2→Z1 short).
func transitionBonus(prev, curr int, bonus float64, f *Frame) float64 {
	switch {
	case prev == 1 && curr == 2:
		f.note("safe retrace up +%.1f", bonus)
		return bonus
	case prev == 5 && curr == 4:
		f.note("safe retrace down -%.1f", bonus)
		return -bonus
	case prev == 3 && curr == 4:
		f.note("pivot break up +%.1f", bonus)
		return bonus
	case prev == 3 && curr == 2:
		f.note("pivot break down -%.1f", bonus)
		return -bonus
	case prev == 4 && curr == 5:
		f.note("thrust extreme up +%.1f", bonus)
		return bonus
	case prev == 2 && curr == 1:
		f.note("thrust extreme down -%.1f", bonus)
		return -bonus
	}
	return 0
}

// sonicTrend derives the EMA34/EMA89 regime: up when EMA34 above EMA89 and
// close above EMA34, down in the mirror case, side otherwise.
func sonicTrend(closes []float64) string {
	if len(closes) < 89 {
		return "side"
	}
	ema34 := indicator.EMA(closes, 34)
	ema89 := indicator.EMA(closes, 89)
	close := closes[len(closes)-1]
	switch {
	case ema34 > ema89 && close > ema34:
		return "up"
	case ema34 < ema89 && close < ema34:
		return "down"
	default:
		return "side"
	}
}

func sonicAgrees(sonic string, side Side) bool {
	return (sonic == "up" && side == Long) || (sonic == "down" && side == Short)
}

func sonicOpposes(sonic string, side Side) bool {
	return (sonic == "up" && side == Short) || (sonic == "down" && side == Long)
}
