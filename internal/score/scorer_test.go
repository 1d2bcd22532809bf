package score

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Love92/Allinonebot-Phase2-sub000/internal/indicator"
	"github.com/Love92/Allinonebot-Phase2-sub000/internal/tide"
)

type fakeKlines struct {
	bars map[string][]indicator.Candle
	err  error
}

func (f *fakeKlines) Klines(_ context.Context, _, interval string, _ int) ([]indicator.Candle, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.bars[interval], nil
}

type fakeMoon struct {
	info tide.MoonInfo
	err  error
}

func (f *fakeMoon) Moon(_ context.Context, _ time.Time) (tide.MoonInfo, error) {
	return f.info, f.err
}

func flatCandles(n int) []indicator.Candle {
	candles := make([]indicator.Candle, n)
	for i := range candles {
		candles[i] = indicator.Candle{Open: 100, High: 101, Low: 99, Close: 100, Volume: 100}
	}
	return candles
}

func TestEvaluateFetchErrorSkipsBadReport(t *testing.T) {
	s := NewScorer(&fakeKlines{err: errors.New("boom")}, &fakeMoon{}, testConfig())
	res, err := s.Evaluate(context.Background(), "BTCUSDT", time.Now())
	require.NoError(t, err)
	assert.True(t, res.Skip)
	assert.Equal(t, ReasonBadReport, res.Reason)
}

func TestEvaluateInsufficientDataSkips(t *testing.T) {
	bars := map[string][]indicator.Candle{
		"4h": flatCandles(10), "30m": flatCandles(10), "5m": flatCandles(10),
	}
	s := NewScorer(&fakeKlines{bars: bars}, &fakeMoon{}, testConfig())
	res, err := s.Evaluate(context.Background(), "BTCUSDT", time.Now())
	require.NoError(t, err)
	assert.True(t, res.Skip)
	assert.Equal(t, ReasonBadReport, res.Reason)
}

func TestEvaluateMoonFailureDegradesToZeroBonus(t *testing.T) {
	bars := map[string][]indicator.Candle{
		"4h": flatCandles(100), "30m": flatCandles(100), "5m": flatCandles(80),
	}
	s := NewScorer(&fakeKlines{bars: bars}, &fakeMoon{err: errors.New("down")}, testConfig())
	res, err := s.Evaluate(context.Background(), "BTCUSDT", time.Now())
	require.NoError(t, err)
	assert.Equal(t, 0.0, res.Moon.Bonus)
}

func TestDesiredSideRule1H4Leads(t *testing.T) {
	cfg := testConfig()

	res := &EvalResult{H4: Frame{Side: Long, Score: 3}, M30: Frame{Side: None, Score: 0}}
	assert.Equal(t, Long, desiredSide(res, cfg))

	res = &EvalResult{H4: Frame{Side: Short, Score: 3}, M30: Frame{Side: Short, Score: 1}}
	assert.Equal(t, Short, desiredSide(res, cfg))
}

func TestDesiredSideRule2NearAlign(t *testing.T) {
	// H4 NONE but M30 directional with a near-equal score and a total
	// above the alignment floor.
	res := &EvalResult{
		H4:    Frame{Side: None, Score: 2.0},
		M30:   Frame{Side: Long, Score: 1.8},
		Total: 4.5,
	}
	assert.Equal(t, Long, desiredSide(res, testConfig()))
}

func TestDesiredSideRule2RefusesStrongOpposites(t *testing.T) {
	res := &EvalResult{
		H4:    Frame{Side: Long, Score: 3.0},
		M30:   Frame{Side: Short, Score: 3.0},
		Total: 6.5,
	}
	// Mutually strong opposites: rule 2 must not fire; rule 3 takes over
	// for M30.
	assert.Equal(t, Short, desiredSide(res, testConfig()))
}

func TestDesiredSideRule3M30Takeover(t *testing.T) {
	res := &EvalResult{
		H4:    Frame{Side: None, Score: 0.2},
		M30:   Frame{Side: Short, Score: 2.6},
		Total: 1.0,
	}
	assert.Equal(t, Short, desiredSide(res, testConfig()))
}

func TestDesiredSideRule4None(t *testing.T) {
	res := &EvalResult{
		H4:    Frame{Side: None, Score: 0.2},
		M30:   Frame{Side: Long, Score: 1.0},
		Total: 1.2,
	}
	assert.Equal(t, None, desiredSide(res, testConfig()))
}

func TestExtremeBlockedBoundaryInclusive(t *testing.T) {
	cfg := testConfig()

	res := &EvalResult{
		Signal: Long,
		H4:     Frame{RSI: 80, StochD: 50}, // RSI exactly at the OB threshold
		M30:    Frame{RSI: 50, StochD: 50},
	}
	blocked, _ := extremeBlocked(res, cfg)
	assert.True(t, blocked)

	res.H4.RSI = 79.9
	blocked, _ = extremeBlocked(res, cfg)
	assert.False(t, blocked)

	// Mirror for SHORT on M30 stoch.
	res = &EvalResult{
		Signal: Short,
		H4:     Frame{RSI: 50, StochD: 50},
		M30:    Frame{RSI: 50, StochD: 10},
	}
	blocked, _ = extremeBlocked(res, cfg)
	assert.True(t, blocked)
}

func TestEvaluateTotalUsesSignedMoon(t *testing.T) {
	bars := map[string][]indicator.Candle{
		"4h": flatCandles(100), "30m": flatCandles(100), "5m": flatCandles(80),
	}
	// Illumination 90 and waning → P4, post-Full: signed bonus is negative
	// while the magnitude stays positive.
	moon := &fakeMoon{info: tide.MoonInfo{Illumination: 90}}
	s := NewScorer(&fakeKlines{bars: bars}, moon, testConfig())

	res, err := s.Evaluate(context.Background(), "BTCUSDT", time.Now())
	require.NoError(t, err)
	require.Negative(t, res.Moon.Signed)
	assert.Positive(t, res.Moon.Bonus)
	assert.InDelta(t, res.H4.Score+res.M30.Score+res.Moon.Signed+res.Synergy, res.Total, 1e-9)
}

func TestMutuallyStrongOpposites(t *testing.T) {
	assert.True(t, mutuallyStrongOpposites(
		Frame{Side: Long, Score: 3}, Frame{Side: Short, Score: 3}, 2.5))
	assert.False(t, mutuallyStrongOpposites(
		Frame{Side: Long, Score: 3}, Frame{Side: Short, Score: 1}, 2.5))
	assert.False(t, mutuallyStrongOpposites(
		Frame{Side: Long, Score: 3}, Frame{Side: Long, Score: 3}, 2.5))
}
