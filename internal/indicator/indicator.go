package indicator

// Pure candle math for the scorer. Prices arrive as float64 series already
// stripped of the unclosed bar; decimal stays at the exchange boundary.

// Candle is one closed OHLCV bar.
type Candle struct {
	OpenTime  int64
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
	CloseTime int64
}

// Closes extracts the close series.
func Closes(candles []Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}

// Volumes extracts the volume series.
func Volumes(candles []Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Volume
	}
	return out
}

// SMA calculates Simple Moving Average over the last period values.
func SMA(values []float64, period int) float64 {
	if len(values) == 0 {
		return 0
	}
	if len(values) < period {
		return average(values)
	}
	return average(values[len(values)-period:])
}

// EMA calculates the span-based Exponential Moving Average (2/(n+1)).
func EMA(values []float64, period int) float64 {
	s := EMASeries(values, period)
	if len(s) == 0 {
		return 0
	}
	return s[len(s)-1]
}

// EMASeries returns the full EMA series aligned with the input.
// The seed is the SMA of the first period values.
func EMASeries(values []float64, period int) []float64 {
	if len(values) == 0 {
		return nil
	}
	out := make([]float64, len(values))
	if len(values) < period {
		avg := average(values)
		for i := range out {
			out[i] = avg
		}
		return out
	}

	multiplier := 2.0 / float64(period+1)
	ema := average(values[:period])
	for i := 0; i < period; i++ {
		out[i] = ema
	}
	for i := period; i < len(values); i++ {
		ema = (values[i]-ema)*multiplier + ema
		out[i] = ema
	}
	return out
}

// RSISeries returns Wilder-smoothed RSI(period) aligned with the input.
// Values before the warmup are held at 50.
func RSISeries(closes []float64, period int) []float64 {
	out := make([]float64, len(closes))
	for i := range out {
		out[i] = 50
	}
	if len(closes) < period+1 {
		return out
	}

	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		change := closes[i] - closes[i-1]
		if change > 0 {
			avgGain += change
		} else {
			avgLoss -= change
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)
	out[period] = rsiFromAverages(avgGain, avgLoss)

	for i := period + 1; i < len(closes); i++ {
		change := closes[i] - closes[i-1]
		gain, loss := 0.0, 0.0
		if change > 0 {
			gain = change
		} else {
			loss = -change
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
		out[i] = rsiFromAverages(avgGain, avgLoss)
	}
	return out
}

// RSI returns the latest RSI(period).
func RSI(closes []float64, period int) float64 {
	s := RSISeries(closes, period)
	if len(s) == 0 {
		return 50
	}
	return s[len(s)-1]
}

func rsiFromAverages(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - (100 / (1 + rs))
}

// StochSeries returns the %D series: raw %K over kPeriod highs/lows,
// smoothed by smooth (SMA). SlowD is a further 3-period SMA of %D.
func StochSeries(candles []Candle, kPeriod, smooth int) []float64 {
	if len(candles) < kPeriod {
		return nil
	}
	rawK := make([]float64, 0, len(candles)-kPeriod+1)
	for i := kPeriod - 1; i < len(candles); i++ {
		lo, hi := candles[i].Low, candles[i].High
		for j := i - kPeriod + 1; j <= i; j++ {
			if candles[j].Low < lo {
				lo = candles[j].Low
			}
			if candles[j].High > hi {
				hi = candles[j].High
			}
		}
		if hi == lo {
			rawK = append(rawK, 50)
			continue
		}
		rawK = append(rawK, (candles[i].Close-lo)/(hi-lo)*100)
	}
	return smoothSeries(rawK, smooth)
}

// SlowDSeries is a 3-period mean of a %D series.
func SlowDSeries(percentD []float64) []float64 {
	return smoothSeries(percentD, 3)
}

func smoothSeries(values []float64, period int) []float64 {
	if period <= 1 || len(values) == 0 {
		return values
	}
	out := make([]float64, len(values))
	for i := range values {
		start := i - period + 1
		if start < 0 {
			start = 0
		}
		out[i] = average(values[start : i+1])
	}
	return out
}

// VolumeMA returns the mean of the last period closed volumes.
func VolumeMA(candles []Candle, period int) float64 {
	return SMA(Volumes(candles), period)
}

// WickRatios returns the upper and lower wick fractions of a bar's range,
// clamped to be non-negative. A zero-range bar has zero wicks.
func WickRatios(c Candle) (upper, lower float64) {
	rng := c.High - c.Low
	if rng <= 0 {
		return 0, 0
	}
	body := c.Open
	if c.Close > body {
		body = c.Close
	}
	upper = (c.High - body) / rng
	body = c.Open
	if c.Close < body {
		body = c.Close
	}
	lower = (body - c.Low) / rng
	if upper < 0 {
		upper = 0
	}
	if lower < 0 {
		lower = 0
	}
	return upper, lower
}

// CrossedWithin reports whether fast crossed slow in the given direction
// (+1 up, -1 down) within the last n steps of the two aligned series.
func CrossedWithin(fast, slow []float64, n int, direction int) bool {
	ln := len(fast)
	if len(slow) < ln {
		ln = len(slow)
	}
	if ln < 2 {
		return false
	}
	fast = fast[len(fast)-ln:]
	slow = slow[len(slow)-ln:]
	start := ln - n - 1
	if start < 0 {
		start = 0
	}
	for i := start; i < ln-1; i++ {
		prev := fast[i] - slow[i]
		curr := fast[i+1] - slow[i+1]
		if direction > 0 && prev <= 0 && curr > 0 {
			return true
		}
		if direction < 0 && prev >= 0 && curr < 0 {
			return true
		}
	}
	return false
}

// Slope returns the last-step delta of a series.
func Slope(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	return values[len(values)-1] - values[len(values)-2]
}

func average(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
