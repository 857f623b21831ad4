package indicators

import (
	"errors"
	"math"

	"github.com/LamsaLL/backbot/models"
)

// ErrInvalidPeriod is returned when a period is zero or negative.
var ErrInvalidPeriod = errors.New("indicators: period must be positive")

// Undefined marks positions before an indicator's warm-up window.
// It is NaN rather than zero so warm-up values can never be mistaken
// for real readings.
func Undefined() float64 { return math.NaN() }

// IsDefined reports whether a series value holds a real reading.
func IsDefined(v float64) bool { return !math.IsNaN(v) }

// SMA returns the simple moving average series. Positions before the
// warm-up window are NaN.
func SMA(data []float64, period int) ([]float64, error) {
	if period <= 0 {
		return nil, ErrInvalidPeriod
	}
	out := undefinedSeries(len(data))
	if len(data) < period {
		return out, nil
	}

	sum := 0.0
	for i, v := range data {
		sum += v
		if i >= period {
			sum -= data[i-period]
		}
		if i >= period-1 {
			out[i] = sum / float64(period)
		}
	}
	return out, nil
}

// EMA returns the exponential moving average series. The seed at index
// period-1 equals the SMA over the first period values, so EMA[period-1]
// always matches SMA[period-1] exactly.
func EMA(data []float64, period int) ([]float64, error) {
	if period <= 0 {
		return nil, ErrInvalidPeriod
	}
	out := undefinedSeries(len(data))
	if len(data) < period {
		return out, nil
	}

	seed := 0.0
	for i := 0; i < period; i++ {
		seed += data[i]
	}
	out[period-1] = seed / float64(period)

	k := 2.0 / float64(period+1)
	for i := period; i < len(data); i++ {
		out[i] = data[i]*k + out[i-1]*(1-k)
	}
	return out, nil
}

// Stdev returns the population standard deviation series over a trailing
// window (divides by period, not period-1).
func Stdev(data []float64, period int) ([]float64, error) {
	if period <= 0 {
		return nil, ErrInvalidPeriod
	}
	out := undefinedSeries(len(data))
	for i := period - 1; i < len(data); i++ {
		window := data[i-period+1 : i+1]
		mean := 0.0
		for _, v := range window {
			mean += v
		}
		mean /= float64(period)

		variance := 0.0
		for _, v := range window {
			d := v - mean
			variance += d * d
		}
		out[i] = math.Sqrt(variance / float64(period))
	}
	return out, nil
}

// trueRange computes the TR for one bar. The first bar has no previous
// close, so its TR is just high-low.
func trueRange(c models.Candle, prev *models.Candle) float64 {
	tr := c.High - c.Low
	if prev != nil {
		tr = math.Max(tr, math.Max(math.Abs(c.High-prev.Close), math.Abs(c.Low-prev.Close)))
	}
	return tr
}

// ATR returns the average true range series as a Wilder running average:
// seeded by the simple mean of the first period TR values, then
// atr[i] = (atr[i-1]*(period-1) + tr[i]) / period.
func ATR(candles []models.Candle, period int) ([]float64, error) {
	if period <= 0 {
		return nil, ErrInvalidPeriod
	}
	out := undefinedSeries(len(candles))
	if len(candles) < period {
		return out, nil
	}

	trs := make([]float64, len(candles))
	for i := range candles {
		var prev *models.Candle
		if i > 0 {
			prev = &candles[i-1]
		}
		trs[i] = trueRange(candles[i], prev)
	}

	seed := 0.0
	for i := 0; i < period; i++ {
		seed += trs[i]
	}
	out[period-1] = seed / float64(period)

	for i := period; i < len(candles); i++ {
		out[i] = (out[i-1]*float64(period-1) + trs[i]) / float64(period)
	}
	return out, nil
}

// Highest returns the trailing-window maximum series.
func Highest(data []float64, period int) ([]float64, error) {
	if period <= 0 {
		return nil, ErrInvalidPeriod
	}
	out := undefinedSeries(len(data))
	for i := period - 1; i < len(data); i++ {
		max := data[i-period+1]
		for _, v := range data[i-period+2 : i+1] {
			if v > max {
				max = v
			}
		}
		out[i] = max
	}
	return out, nil
}

// Lowest returns the trailing-window minimum series.
func Lowest(data []float64, period int) ([]float64, error) {
	if period <= 0 {
		return nil, ErrInvalidPeriod
	}
	out := undefinedSeries(len(data))
	for i := period - 1; i < len(data); i++ {
		min := data[i-period+1]
		for _, v := range data[i-period+2 : i+1] {
			if v < min {
				min = v
			}
		}
		out[i] = min
	}
	return out, nil
}

// Crossover reports whether series a crossed strictly above series b at
// the most recent bar: a was <= b and is now > b. False when either
// series has fewer than 2 points or any compared value is undefined.
func Crossover(a, b []float64) bool {
	aPrev, aCurr, bPrev, bCurr, ok := lastTwo(a, b)
	if !ok {
		return false
	}
	return aPrev <= bPrev && aCurr > bCurr
}

// Crossunder reports whether series a crossed strictly below series b at
// the most recent bar: a was >= b and is now < b.
func Crossunder(a, b []float64) bool {
	aPrev, aCurr, bPrev, bCurr, ok := lastTwo(a, b)
	if !ok {
		return false
	}
	return aPrev >= bPrev && aCurr < bCurr
}

func lastTwo(a, b []float64) (aPrev, aCurr, bPrev, bCurr float64, ok bool) {
	if len(a) < 2 || len(b) < 2 {
		return 0, 0, 0, 0, false
	}
	aPrev, aCurr = a[len(a)-2], a[len(a)-1]
	bPrev, bCurr = b[len(b)-2], b[len(b)-1]
	if !IsDefined(aPrev) || !IsDefined(aCurr) || !IsDefined(bPrev) || !IsDefined(bCurr) {
		return 0, 0, 0, 0, false
	}
	return aPrev, aCurr, bPrev, bCurr, true
}

func undefinedSeries(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}

// Last returns the most recent value of a series, or NaN for an empty one.
func Last(series []float64) float64 {
	if len(series) == 0 {
		return math.NaN()
	}
	return series[len(series)-1]
}

// At returns series[len-1-offset], or NaN when out of range.
func At(series []float64, offset int) float64 {
	idx := len(series) - 1 - offset
	if idx < 0 {
		return math.NaN()
	}
	return series[idx]
}
