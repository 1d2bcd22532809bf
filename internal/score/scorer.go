package score

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Love92/Allinonebot-Phase2-sub000/internal/config"
	"github.com/Love92/Allinonebot-Phase2-sub000/internal/indicator"
	"github.com/Love92/Allinonebot-Phase2-sub000/internal/tide"
)

// ═══════════════════════════════════════════════════════════════════════════════
// SCORER - Multi-timeframe directional aggregation
// ═══════════════════════════════════════════════════════════════════════════════
//
// total = scoreH4 + scoreM30 + moonBonus + synergy. Desired side:
//   1. H4 directional and M30 same-or-none  → H4 side
//   2. near-align (total, gap, no strong opposites) → higher-magnitude side
//   3. M30 directional and strong enough    → M30 takeover
//   4. otherwise NONE, skip
//
// ═══════════════════════════════════════════════════════════════════════════════

// Skip reasons the scorer emits.
const (
	ReasonBadReport  = "bad_report"
	ReasonNoSignal   = "no_signal"
	ReasonReportSkip = "report_skip"
)

// KlineSource supplies closed candles.
type KlineSource interface {
	Klines(ctx context.Context, symbol, interval string, limit int) ([]indicator.Candle, error)
}

// MoonSource supplies moon phase snapshots.
type MoonSource interface {
	Moon(ctx context.Context, t time.Time) (tide.MoonInfo, error)
}

// EvalResult is one full evaluation of a symbol.
type EvalResult struct {
	OK         bool
	Skip       bool
	Reason     string // skip tag
	Detail     string
	Signal     Side
	Confidence int // rounded total
	Total      float64
	H4         Frame
	M30        Frame
	M5         Frame
	Moon       MoonBonus
	Synergy    float64
	Text       string

	// M5Candles lets the pipeline run the M5 gate and spacing checks
	// without refetching.
	M5Candles []indicator.Candle
}

// Scorer evaluates a symbol across H4/M30/M5.
type Scorer struct {
	klines KlineSource
	moon   MoonSource
	cfg    *config.Config
}

// NewScorer wires the scorer to its data sources.
func NewScorer(klines KlineSource, moon MoonSource, cfg *config.Config) *Scorer {
	return &Scorer{klines: klines, moon: moon, cfg: cfg}
}

// Evaluate scores the symbol at now. A skip result is not an error; errors
// are reserved for programming faults. The config is snapshotted once so
// /env overrides cannot tear a single evaluation.
func (s *Scorer) Evaluate(ctx context.Context, symbol string, now time.Time) (*EvalResult, error) {
	cfg := s.cfg.Snapshot()

	h4, err := s.klines.Klines(ctx, symbol, "4h", 150)
	if err != nil {
		return skipResult(ReasonBadReport, fmt.Sprintf("h4 klines: %v", err)), nil
	}
	m30, err := s.klines.Klines(ctx, symbol, "30m", 150)
	if err != nil {
		return skipResult(ReasonBadReport, fmt.Sprintf("m30 klines: %v", err)), nil
	}
	m5, err := s.klines.Klines(ctx, symbol, "5m", 80)
	if err != nil {
		return skipResult(ReasonBadReport, fmt.Sprintf("m5 klines: %v", err)), nil
	}
	if len(h4) < 40 || len(m30) < 40 || len(m5) < 40 {
		return skipResult(ReasonBadReport, "insufficient data"), nil
	}

	res := &EvalResult{M5Candles: m5}
	res.H4 = ScoreTimeframe(h4, H4Params(), &cfg)
	res.M30 = ScoreTimeframe(m30, M30Params(), &cfg)
	res.M5 = ScoreTimeframe(m5, M5GateParams(), &cfg)

	res.Moon = s.moonBonus(ctx, now)

	if cfg.SynergyOn && res.H4.Side.Directional() && res.H4.Side == res.M30.Side {
		res.Synergy = 0.5
	}

	// The signed moon variant enters the score; the unsigned magnitude is
	// display-only.
	res.Total = res.H4.Score + res.M30.Score + res.Moon.Signed + res.Synergy
	res.Confidence = int(math.Round(res.Total))
	res.Signal = desiredSide(res, &cfg)
	res.Text = renderText(symbol, res)

	if !res.Signal.Directional() {
		res.Skip = true
		res.Reason = ReasonNoSignal
		res.Detail = "no directional agreement"
		return res, nil
	}

	if block, detail := extremeBlocked(res, &cfg); block {
		res.Skip = true
		res.Reason = ReasonReportSkip
		res.Detail = detail
		res.Signal = None
		return res, nil
	}

	res.OK = true
	return res, nil
}

// desiredSide applies aggregation rules 1–4.
func desiredSide(res *EvalResult, cfg *config.Config) Side {
	h4, m30 := res.H4, res.M30

	// Rule 1: H4 leads when M30 does not disagree.
	if h4.Side.Directional() && (m30.Side == h4.Side || m30.Side == None) {
		return h4.Side
	}

	// Rule 2: near-align.
	if cfg.HTFNearAlign &&
		res.Total >= cfg.HTFMinAlignScore &&
		math.Abs(h4.Score-m30.Score) <= cfg.HTFNearAlignGap &&
		!mutuallyStrongOpposites(h4, m30, cfg.M30TakeoverMin) {
		if h4.Score >= m30.Score && h4.Side.Directional() {
			return h4.Side
		}
		if m30.Side.Directional() {
			return m30.Side
		}
	}

	// Rule 3: M30 takeover.
	if m30.Side.Directional() && m30.Score >= cfg.M30TakeoverMin {
		return m30.Side
	}

	return None
}

// mutuallyStrongOpposites reports H4 and M30 pulling hard in opposite
// directions; near-align must not paper over that.
func mutuallyStrongOpposites(h4, m30 Frame, strongMin float64) bool {
	return h4.Side.Directional() && m30.Side.Directional() &&
		h4.Side == m30.Side.Opposite() &&
		h4.Score >= strongMin && m30.Score >= strongMin
}

// extremeBlocked applies the hard overbought/oversold block on H4 and M30.
// Equality at the threshold blocks.
func extremeBlocked(res *EvalResult, cfg *config.Config) (bool, string) {
	if !cfg.ExtremeBlockOn {
		return false, ""
	}
	for _, f := range []struct {
		name  string
		frame Frame
	}{{"H4", res.H4}, {"M30", res.M30}} {
		if res.Signal == Long {
			if f.frame.RSI >= cfg.ExtremeRSIOB {
				return true, fmt.Sprintf("extreme_block %s rsi %.1f>=%.1f", f.name, f.frame.RSI, cfg.ExtremeRSIOB)
			}
			if f.frame.StochD >= cfg.ExtremeStochOB {
				return true, fmt.Sprintf("extreme_block %s stoch %.1f>=%.1f", f.name, f.frame.StochD, cfg.ExtremeStochOB)
			}
		}
		if res.Signal == Short {
			if f.frame.RSI <= cfg.ExtremeRSIOS {
				return true, fmt.Sprintf("extreme_block %s rsi %.1f<=%.1f", f.name, f.frame.RSI, cfg.ExtremeRSIOS)
			}
			if f.frame.StochD <= cfg.ExtremeStochOS {
				return true, fmt.Sprintf("extreme_block %s stoch %.1f<=%.1f", f.name, f.frame.StochD, cfg.ExtremeStochOS)
			}
		}
	}
	return false, ""
}

// moonBonus fetches today's and yesterday's illumination. A provider
// failure degrades to a zero bonus, it never blocks the evaluation.
func (s *Scorer) moonBonus(ctx context.Context, now time.Time) MoonBonus {
	today, err := s.moon.Moon(ctx, now)
	if err != nil {
		log.Warn().Err(err).Msg("Moon fetch failed, zero bonus")
		return MoonBonus{}
	}
	yesterday, err := s.moon.Moon(ctx, now.AddDate(0, 0, -1))
	if err != nil {
		yesterday = today
	}
	return MoonScore(today.Illumination, yesterday.Illumination)
}

func skipResult(reason, detail string) *EvalResult {
	return &EvalResult{Skip: true, Reason: reason, Detail: detail, Signal: None}
}

// renderText builds the human block the broadcast and pendings reuse.
func renderText(symbol string, res *EvalResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s — %s (conf %d)\n", symbol, res.Signal, res.Confidence)
	fmt.Fprintf(&b, "H4:  %s %.2f  rsi %.1f z%d  stoch %.1f s%d  sonic %s\n",
		res.H4.Side, res.H4.Score, res.H4.RSI, res.H4.ZoneRSI, res.H4.StochD, res.H4.ZoneStoch, res.H4.Sonic)
	fmt.Fprintf(&b, "M30: %s %.2f  rsi %.1f z%d  stoch %.1f s%d  sonic %s\n",
		res.M30.Side, res.M30.Score, res.M30.RSI, res.M30.ZoneRSI, res.M30.StochD, res.M30.ZoneStoch, res.M30.Sonic)
	fmt.Fprintf(&b, "M5:  %s %.2f  rsi %.1f z%d  stoch %.1f s%d\n",
		res.M5.Side, res.M5.Score, res.M5.RSI, res.M5.ZoneRSI, res.M5.StochD, res.M5.ZoneStoch)
	fmt.Fprintf(&b, "Moon: %s %s/%s %+.2f  synergy +%.2f  total %.2f",
		res.Moon.Preset, res.Moon.Anchor, res.Moon.Stage, res.Moon.Signed, res.Synergy, res.Total)
	return b.String()
}
