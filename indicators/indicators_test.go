package indicators

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LamsaLL/backbot/models"
)

func candlesFrom(highs, lows, closes []float64) []models.Candle {
	out := make([]models.Candle, len(closes))
	for i := range closes {
		out[i] = models.Candle{
			High:      highs[i],
			Low:       lows[i],
			Close:     closes[i],
			Timestamp: time.Unix(int64(i)*300, 0),
		}
	}
	return out
}

func TestInvalidPeriod(t *testing.T) {
	data := []float64{1, 2, 3}

	_, err := SMA(data, 0)
	assert.ErrorIs(t, err, ErrInvalidPeriod)

	_, err = EMA(data, -1)
	assert.ErrorIs(t, err, ErrInvalidPeriod)

	_, err = Stdev(data, 0)
	assert.ErrorIs(t, err, ErrInvalidPeriod)

	_, err = ATR(candlesFrom(data, data, data), -5)
	assert.ErrorIs(t, err, ErrInvalidPeriod)
}

func TestShortSeriesAllUndefined(t *testing.T) {
	data := []float64{10, 11}

	sma, err := SMA(data, 5)
	require.NoError(t, err)
	for i, v := range sma {
		assert.False(t, IsDefined(v), "sma[%d] should be undefined", i)
	}

	ema, err := EMA(data, 5)
	require.NoError(t, err)
	for i, v := range ema {
		assert.False(t, IsDefined(v), "ema[%d] should be undefined", i)
	}

	atr, err := ATR(candlesFrom(data, data, data), 5)
	require.NoError(t, err)
	for i, v := range atr {
		assert.False(t, IsDefined(v), "atr[%d] should be undefined", i)
	}
}

func TestSMAValues(t *testing.T) {
	data := []float64{10, 20, 30, 40, 50}
	out, err := SMA(data, 3)
	require.NoError(t, err)
	require.Len(t, out, 5)

	assert.False(t, IsDefined(out[0]))
	assert.False(t, IsDefined(out[1]))
	assert.InDelta(t, 20, out[2], 1e-9)
	assert.InDelta(t, 30, out[3], 1e-9)
	assert.InDelta(t, 40, out[4], 1e-9)
}

func TestEMASeedEqualsSMA(t *testing.T) {
	data := []float64{3, 7, 2, 9, 5, 1, 8, 6, 4, 10}
	const period = 4

	sma, err := SMA(data, period)
	require.NoError(t, err)
	ema, err := EMA(data, period)
	require.NoError(t, err)

	assert.Equal(t, sma[period-1], ema[period-1], "EMA seed must equal SMA at the seed index")

	// Recurrence check at the next index.
	k := 2.0 / float64(period+1)
	want := data[period]*k + ema[period-1]*(1-k)
	assert.InDelta(t, want, ema[period], 1e-12)
}

func TestStdevPopulation(t *testing.T) {
	data := []float64{2, 4, 4, 4, 5, 5, 7, 9}
	out, err := Stdev(data, len(data))
	require.NoError(t, err)

	// Known population stdev of this set is exactly 2.
	assert.InDelta(t, 2.0, out[len(out)-1], 1e-9)
}

func TestATRWilderSmoothing(t *testing.T) {
	highs := []float64{12, 13, 14, 15, 16}
	lows := []float64{10, 11, 12, 13, 14}
	closes := []float64{11, 12, 13, 14, 15}
	candles := candlesFrom(highs, lows, closes)

	const period = 3
	out, err := ATR(candles, period)
	require.NoError(t, err)

	// TRs: bar0 = 2 (no prev close), bars 1..4 = max(2, |h-pc|, |l-pc|) = 2.
	assert.False(t, IsDefined(out[0]))
	assert.False(t, IsDefined(out[1]))
	assert.InDelta(t, 2.0, out[2], 1e-9)
	assert.InDelta(t, (out[2]*2+2)/3, out[3], 1e-9)
	assert.InDelta(t, (out[3]*2+2)/3, out[4], 1e-9)
}

func TestHighestLowest(t *testing.T) {
	data := []float64{1, 5, 3, 9, 2}

	hi, err := Highest(data, 3)
	require.NoError(t, err)
	assert.InDelta(t, 5, hi[2], 1e-9)
	assert.InDelta(t, 9, hi[3], 1e-9)
	assert.InDelta(t, 9, hi[4], 1e-9)

	lo, err := Lowest(data, 3)
	require.NoError(t, err)
	assert.InDelta(t, 1, lo[2], 1e-9)
	assert.InDelta(t, 3, lo[3], 1e-9)
	assert.InDelta(t, 2, lo[4], 1e-9)
}

func TestCrossoverCrossunder(t *testing.T) {
	cases := []struct {
		name      string
		a, b      []float64
		wantOver  bool
		wantUnder bool
	}{
		{"cross up", []float64{1, 3}, []float64{2, 2}, true, false},
		{"cross down", []float64{3, 1}, []float64{2, 2}, false, true},
		{"touch then above", []float64{2, 3}, []float64{2, 2}, true, false},
		{"no cross", []float64{3, 4}, []float64{2, 2}, false, false},
		{"equal both bars", []float64{2, 2}, []float64{2, 2}, false, false},
		{"too short", []float64{3}, []float64{2, 2}, false, false},
		{"undefined prev", []float64{math.NaN(), 3}, []float64{2, 2}, false, false},
		{"undefined curr", []float64{1, 3}, []float64{2, math.NaN()}, false, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			over := Crossover(tc.a, tc.b)
			under := Crossunder(tc.a, tc.b)
			assert.Equal(t, tc.wantOver, over, "crossover")
			assert.Equal(t, tc.wantUnder, under, "crossunder")
			assert.False(t, over && under, "crossover and crossunder must be mutually exclusive")
		})
	}
}

func TestLastAndAt(t *testing.T) {
	data := []float64{1, 2, 3}
	assert.InDelta(t, 3, Last(data), 1e-9)
	assert.InDelta(t, 2, At(data, 1), 1e-9)
	assert.InDelta(t, 1, At(data, 2), 1e-9)
	assert.False(t, IsDefined(At(data, 3)))
	assert.False(t, IsDefined(Last(nil)))
}
