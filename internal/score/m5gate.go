package score

import (
	"fmt"

	"github.com/Love92/Allinonebot-Phase2-sub000/internal/config"
	"github.com/Love92/Allinonebot-Phase2-sub000/internal/indicator"
)

// ═══════════════════════════════════════════════════════════════════════════════
// M5 GATE - Final entry trigger on the 5-minute frame
// ═══════════════════════════════════════════════════════════════════════════════
//
// Cluster A: exhaustion candle — qualifying wick, volume above the MA20
// multiple, RSI in the extreme zone for the desired side.
// Cluster B: the same dual RSI/Stoch cross-or-align logic the higher
// timeframes use; no zone requirement.
//
// Relax mode accepts A or B (configurable); strict mode needs both in the
// same direction within the sequencing window.
//
// ═══════════════════════════════════════════════════════════════════════════════

// GateResult reports whether the M5 gate passed and why.
type GateResult struct {
	Pass     bool
	ClusterA bool
	ClusterB bool
	Detail   string
}

// M5Gate evaluates the gate for the desired side over closed M5 candles.
func M5Gate(candles []indicator.Candle, desired Side, cfg *config.Config) GateResult {
	if !desired.Directional() {
		return GateResult{Detail: "no direction"}
	}
	if len(candles) < 40 {
		return GateResult{Detail: fmt.Sprintf("insufficient m5 data (%d bars)", len(candles))}
	}

	lookback := cfg.M5LookbackRelax
	volMult := cfg.M5VolMultRelax
	if cfg.M5StrictMode {
		lookback = cfg.M5LookbackStrict
		volMult = cfg.M5VolMultStrict
	}

	aOK, aBar := clusterA(candles, desired, cfg.M5WickPct, volMult, lookback)
	bOK, bBar := clusterB(candles, desired, cfg)

	if cfg.M5StrictMode {
		if !aOK || !bOK {
			return GateResult{ClusterA: aOK, ClusterB: bOK, Detail: "strict needs both clusters"}
		}
		gapBars := aBar - bBar
		if gapBars < 0 {
			gapBars = -gapBars
		}
		if gapBars*5 > cfg.EntrySeqWindowMin {
			return GateResult{ClusterA: aOK, ClusterB: bOK,
				Detail: fmt.Sprintf("clusters %d min apart > %d", gapBars*5, cfg.EntrySeqWindowMin)}
		}
		return GateResult{Pass: true, ClusterA: true, ClusterB: true, Detail: "strict both"}
	}

	switch cfg.M5RelaxKind {
	case "rsi_only":
		return GateResult{Pass: bOK, ClusterA: aOK, ClusterB: bOK, Detail: "relax rsi_only"}
	case "candle_only":
		return GateResult{Pass: aOK, ClusterA: aOK, ClusterB: bOK, Detail: "relax candle_only"}
	default: // either
		return GateResult{Pass: aOK || bOK, ClusterA: aOK, ClusterB: bOK, Detail: "relax either"}
	}
}

// clusterA scans the last lookback closed bars for an exhaustion candle.
// Returns the bar offset from the end (0 = latest) of the first hit.
func clusterA(candles []indicator.Candle, desired Side, wickPct, volMult float64, lookback int) (bool, int) {
	volMA := indicator.VolumeMA(candles, 20)
	if volMA <= 0 {
		return false, 0
	}

	closes := indicator.Closes(candles)
	rsiSeries := indicator.RSISeries(closes, 14)

	if lookback < 1 {
		lookback = 1
	}
	for off := 0; off < lookback && off < len(candles); off++ {
		i := len(candles) - 1 - off
		c := candles[i]
		upper, lower := indicator.WickRatios(c)

		wick := lower
		zone := RSIZone(rsiSeries[i])
		wantZone := 1
		if desired == Short {
			wick = upper
			wantZone = 5
		}

		if wick >= wickPct && c.Volume >= volMult*volMA && zone == wantZone {
			return true, off
		}
	}
	return false, 0
}

// clusterB applies the dual RSI/Stoch logic without a zone requirement.
// The bar offset is 0: align/cross conditions are evaluated at the latest
// closed bar.
func clusterB(candles []indicator.Candle, desired Side, cfg *config.Config) (bool, int) {
	closes := indicator.Closes(candles)
	rsiSeries := indicator.RSISeries(closes, 14)
	rsiEMASeries := indicator.EMASeries(rsiSeries, 12)
	stochD := indicator.StochSeries(candles, 14, 3)
	slowD := indicator.SlowDSeries(stochD)

	dir := +1
	if desired == Short {
		dir = -1
	}

	crossRSI := indicator.CrossedWithin(rsiSeries, rsiEMASeries, cfg.CrossRecentN, dir)
	crossStoch := indicator.CrossedWithin(stochD, slowD, cfg.StochRecentN, dir)
	if crossRSI && crossStoch {
		return true, 0
	}

	alignRSI := alignment(rsiSeries[len(rsiSeries)-1], rsiEMASeries[len(rsiEMASeries)-1], cfg.RSIGapMin)
	alignStoch := 0
	if len(stochD) > 0 && len(slowD) > 0 {
		alignStoch = alignment(stochD[len(stochD)-1], slowD[len(slowD)-1], cfg.StochGapMin)
	}
	return alignRSI == dir && alignStoch == dir, 0
}
