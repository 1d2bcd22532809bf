package indicator

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSMA(t *testing.T) {
	assert.InDelta(t, 3.0, SMA([]float64{1, 2, 3, 4, 5}, 5), 1e-9)
	assert.InDelta(t, 4.5, SMA([]float64{1, 2, 3, 4, 5}, 2), 1e-9)
	// Short input averages what is there.
	assert.InDelta(t, 1.5, SMA([]float64{1, 2}, 5), 1e-9)
}

func TestEMAConvergesToConstant(t *testing.T) {
	values := make([]float64, 100)
	for i := range values {
		values[i] = 42
	}
	assert.InDelta(t, 42, EMA(values, 12), 1e-9)
}

func TestEMASeriesReactsFasterThanSMA(t *testing.T) {
	// Flat then a step up: EMA should sit between the old and new level.
	values := make([]float64, 60)
	for i := range values {
		if i < 50 {
			values[i] = 10
		} else {
			values[i] = 20
		}
	}
	series := EMASeries(values, 12)
	require.Len(t, series, len(values))
	last := series[len(series)-1]
	assert.Greater(t, last, 10.0)
	assert.Less(t, last, 20.0)
}

func TestRSIBounds(t *testing.T) {
	rising := make([]float64, 50)
	for i := range rising {
		rising[i] = float64(100 + i)
	}
	r := RSI(rising, 14)
	assert.Greater(t, r, 70.0)
	assert.LessOrEqual(t, r, 100.0)

	falling := make([]float64, 50)
	for i := range falling {
		falling[i] = float64(200 - i)
	}
	r = RSI(falling, 14)
	assert.Less(t, r, 30.0)
	assert.GreaterOrEqual(t, r, 0.0)
}

func TestRSINeutralDuringWarmup(t *testing.T) {
	series := RSISeries([]float64{1, 2, 3}, 14)
	for _, v := range series {
		assert.Equal(t, 50.0, v)
	}
}

func TestStochSeriesRange(t *testing.T) {
	candles := make([]Candle, 60)
	for i := range candles {
		base := 100 + 10*math.Sin(float64(i)/5)
		candles[i] = Candle{Open: base, High: base + 2, Low: base - 2, Close: base + 1, Volume: 100}
	}
	series := StochSeries(candles, 14, 3)
	require.NotEmpty(t, series)
	for _, v := range series {
		assert.GreaterOrEqual(t, v, 0.0)
		assert.LessOrEqual(t, v, 100.0)
	}
}

func TestWickRatios(t *testing.T) {
	upper, lower := WickRatios(Candle{Open: 10, High: 14, Low: 9, Close: 12})
	assert.InDelta(t, 0.4, upper, 1e-9) // (14-12)/5
	assert.InDelta(t, 0.2, lower, 1e-9) // (10-9)/5

	// Zero-range bar yields zero wicks, not NaN.
	upper, lower = WickRatios(Candle{Open: 10, High: 10, Low: 10, Close: 10})
	assert.Equal(t, 0.0, upper)
	assert.Equal(t, 0.0, lower)
}

func TestCrossedWithin(t *testing.T) {
	fast := []float64{1, 1, 1, 3, 4}
	slow := []float64{2, 2, 2, 2, 2}
	assert.True(t, CrossedWithin(fast, slow, 3, +1))
	assert.False(t, CrossedWithin(fast, slow, 3, -1))
	// Cross too far back.
	assert.False(t, CrossedWithin(fast, slow, 1, +1))
}

func TestVolumeMA(t *testing.T) {
	candles := make([]Candle, 25)
	for i := range candles {
		candles[i] = Candle{Volume: float64(i + 1)}
	}
	// Mean of volumes 6..25.
	assert.InDelta(t, 15.5, VolumeMA(candles, 20), 1e-9)
}
