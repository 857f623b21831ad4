package strategy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LamsaLL/backbot/config"
	"github.com/LamsaLL/backbot/logging"
	"github.com/LamsaLL/backbot/models"
)

var (
	testMarket = &models.MarketSpec{
		Symbol:          "BTC_USDC_PERP",
		TickSize:        0.1,
		StepSize:        0.00001,
		DecimalPrice:    1,
		DecimalQuantity: 5,
	}
	testSnapshot = &models.AccountSnapshot{
		CapitalAvailable: 10000,
		Leverage:         5,
		MinVolumeDollar:  200,
	}
)

// flatCandles builds n identical candles at the given price.
func flatCandles(n int, price float64) []models.Candle {
	candles := make([]models.Candle, n)
	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := range candles {
		candles[i] = models.Candle{
			Symbol: "BTC_USDC_PERP", Interval: "5m",
			Open: price, High: price, Low: price, Close: price, Volume: 100,
			Timestamp: ts.Add(time.Duration(i) * 5 * time.Minute),
		}
	}
	return candles
}

func breakoutCandles() []models.Candle {
	candles := flatCandles(60, 100)
	last := &candles[59]
	last.Close = 130
	last.High = 130
	return candles
}

func TestRegistry(t *testing.T) {
	cfg := &config.Config{BBEMA: config.BBEMAConfig{BBLen: 20, EMAFastLen: 21, EMASlowLen: 55, ATRLen: 14}}

	s, err := New("bbema_volume_farmer", cfg, logging.Nop{})
	require.NoError(t, err)
	assert.Equal(t, "BBEMA_VOLUME_FARMER", s.Name())

	s, err = New("MA_EMA_CROSS", cfg, logging.Nop{})
	require.NoError(t, err)
	assert.Equal(t, "MA_EMA_CROSS", s.Name())

	_, err = New("nope", cfg, logging.Nop{})
	assert.ErrorIs(t, err, ErrUnknownStrategy)
}

func bbemaConfig() config.BBEMAConfig {
	return config.BBEMAConfig{
		RiskPerc: 0.5, BBLen: 20, BBMult: 2.0,
		EMAFastLen: 21, EMASlowLen: 55, ATRLen: 14,
		StopMult: 1.1, PartialRR: 0.7, RewardRR: 2.5,
		TrailATRMult: 1.5, PartialPct: 40, MinBarsBetween: 5,
		VolLookback: 50, VolThresh: 0.6,
	}
}

func TestBBEMAInsufficientData(t *testing.T) {
	s := NewBBEMAVolumeFarmer(bbemaConfig(), logging.Nop{})

	verdict, err := s.Analyze(flatCandles(30, 100), testMarket, testSnapshot, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, models.ActionNeutral, verdict.Action)
	assert.Contains(t, verdict.Reason, "not enough")
}

func TestBBEMABreakoutLong(t *testing.T) {
	s := NewBBEMAVolumeFarmer(bbemaConfig(), logging.Nop{})

	verdict, err := s.Analyze(breakoutCandles(), testMarket, testSnapshot, nil, nil)
	require.NoError(t, err)

	require.Equal(t, models.ActionLong, verdict.Action)
	assert.Equal(t, 130.0, verdict.Entry)
	assert.Less(t, verdict.StopLoss, verdict.Entry)
	assert.Greater(t, verdict.TakeProfit1, verdict.Entry)
	assert.Greater(t, verdict.TakeProfit2, verdict.TakeProfit1)
	assert.Greater(t, verdict.Volume, 0.0)
	assert.Equal(t, 40.0, verdict.PartialClosePct)
	require.NotNil(t, verdict.Trailing)
	assert.InDelta(t, verdict.Trailing.ATRValue*1.5, verdict.Trailing.TrailOffset, 1e-9)
	assert.Contains(t, verdict.Reason, "trend")

	// Risk/reward relationship holds: TP distances scale off the stop.
	stopDist := verdict.Entry - verdict.StopLoss
	assert.InDelta(t, verdict.Entry+stopDist*0.7, verdict.TakeProfit1, 1e-9)
	assert.InDelta(t, verdict.Entry+stopDist*2.5, verdict.TakeProfit2, 1e-9)
}

func TestBBEMAEntrySpacing(t *testing.T) {
	s := NewBBEMAVolumeFarmer(bbemaConfig(), logging.Nop{})

	verdict, err := s.Analyze(breakoutCandles(), testMarket, testSnapshot, nil, nil)
	require.NoError(t, err)
	require.Equal(t, models.ActionLong, verdict.Action)

	// One more bar, still within the 5-bar cooldown.
	candles := append(breakoutCandles(), flatCandles(1, 131)...)
	verdict, err = s.Analyze(candles, testMarket, testSnapshot, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, models.ActionNeutral, verdict.Action)
	assert.Contains(t, verdict.Reason, "spacing")
}

func TestBBEMAPyramidingCap(t *testing.T) {
	s := NewBBEMAVolumeFarmer(bbemaConfig(), logging.Nop{})

	legs := []models.Position{
		{Symbol: "BTC_USDC_PERP", NetQuantity: 0.001},
		{Symbol: "BTC_USDC_PERP", NetQuantity: 0.001},
	}
	verdict, err := s.Analyze(breakoutCandles(), testMarket, testSnapshot, legs, nil)
	require.NoError(t, err)
	assert.Equal(t, models.ActionNeutral, verdict.Action)
	assert.Contains(t, verdict.Reason, "max legs")
}

func TestBBEMAVolumeFilterBlocksFlatVolume(t *testing.T) {
	cfg := bbemaConfig()
	cfg.UseVolFilter = true
	s := NewBBEMAVolumeFarmer(cfg, logging.Nop{})

	// Identical volumes rank 0.5, below the 0.6 threshold, so the
	// breakout that signals without the filter is suppressed.
	verdict, err := s.Analyze(breakoutCandles(), testMarket, testSnapshot, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, models.ActionNeutral, verdict.Action)
}

func TestBBEMAVolumeFilterPassesHighVolume(t *testing.T) {
	cfg := bbemaConfig()
	cfg.UseVolFilter = true
	s := NewBBEMAVolumeFarmer(cfg, logging.Nop{})

	candles := breakoutCandles()
	candles[len(candles)-1].Volume = 1000 // breakout on a volume spike
	verdict, err := s.Analyze(candles, testMarket, testSnapshot, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, models.ActionLong, verdict.Action)
}

func TestMAEMACross(t *testing.T) {
	s := NewMAEMACross(logging.Nop{})

	// Flat history keeps MA and EMA equal; a spike down pulls the EMA
	// under the MA, which reads as a long cross.
	candles := flatCandles(40, 100)
	last := &candles[39]
	last.Close, last.Low = 80, 80
	verdict, err := s.Analyze(candles, testMarket, testSnapshot, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, models.ActionLong, verdict.Action)
	assert.InDelta(t, 80-maemaEntryOffset, verdict.Entry, 1e-9)
	assert.Zero(t, verdict.Volume, "verdict is unsized")

	// Spike up reads as a short cross.
	candles = flatCandles(40, 100)
	last = &candles[39]
	last.Close, last.High = 120, 120
	verdict, err = s.Analyze(candles, testMarket, testSnapshot, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, models.ActionShort, verdict.Action)
	assert.InDelta(t, 120+maemaEntryOffset, verdict.Entry, 1e-9)

	// Flat all the way is no cross.
	verdict, err = s.Analyze(flatCandles(40, 100), testMarket, testSnapshot, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, models.ActionNeutral, verdict.Action)
}

func TestSwingLevels(t *testing.T) {
	candles := flatCandles(20, 100)
	candles[5].Low = 95   // local low
	candles[10].High = 105 // local high
	candles[15].Low = 97  // closer local low

	support, resistance := swingLevels(candles, 100)
	assert.Equal(t, 97.0, support, "nearest support below price")
	assert.Equal(t, 105.0, resistance)

	// No levels on the relevant side returns zero.
	support, _ = swingLevels(candles, 90)
	assert.Zero(t, support)
}
