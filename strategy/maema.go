package strategy

import (
	"sort"

	"github.com/LamsaLL/backbot/indicators"
	"github.com/LamsaLL/backbot/logging"
	"github.com/LamsaLL/backbot/models"
)

const (
	maemaPeriod      = 21
	maemaEntryOffset = 0.0005
)

// MAEMACross signals on the simple/exponential moving average cross of
// the same period. Stops and targets come from local swing levels, so
// verdicts are unsized; the decision engine sizes them from the risk
// budget.
type MAEMACross struct {
	logger logging.LoggerInterface
}

func NewMAEMACross(log logging.LoggerInterface) *MAEMACross {
	return &MAEMACross{logger: log}
}

func (s *MAEMACross) Name() string { return "MA_EMA_CROSS" }

func (s *MAEMACross) Analyze(candles []models.Candle, market *models.MarketSpec, snapshot *models.AccountSnapshot, symbolPositions, allPositions []models.Position) (*models.Verdict, error) {
	if len(candles) < maemaPeriod+1 {
		price := 0.0
		if len(candles) > 0 {
			price = candles[len(candles)-1].Close
		}
		return neutral(market.Symbol, price, "not enough candle data"), nil
	}

	closes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}
	price := closes[len(closes)-1]

	maSeries, err := indicators.SMA(closes, maemaPeriod)
	if err != nil {
		return nil, err
	}
	emaSeries, err := indicators.EMA(closes, maemaPeriod)
	if err != nil {
		return nil, err
	}

	ma, maPrev := indicators.Last(maSeries), indicators.At(maSeries, 1)
	ema, emaPrev := indicators.Last(emaSeries), indicators.At(emaSeries, 1)
	for _, v := range []float64{ma, maPrev, ema, emaPrev} {
		if !indicators.IsDefined(v) {
			return neutral(market.Symbol, price, "indicators still warming up"), nil
		}
	}

	prevDiff := maPrev - emaPrev
	currDiff := ma - ema

	verdict := neutral(market.Symbol, price, "no cross")
	support, resistance := swingLevels(candles, price)

	switch {
	case prevDiff <= 0 && currDiff > 0:
		verdict.Action = models.ActionLong
		verdict.Entry = price - maemaEntryOffset
		verdict.StopLoss = support
		verdict.TakeProfit1 = resistance
		verdict.Reason = "MA crossed above EMA"
	case prevDiff >= 0 && currDiff < 0:
		verdict.Action = models.ActionShort
		verdict.Entry = price + maemaEntryOffset
		verdict.StopLoss = resistance
		verdict.TakeProfit1 = support
		verdict.Reason = "MA crossed below EMA"
	}
	return verdict, nil
}

// swingLevels returns the nearest local swing low below price and swing
// high above it. Either is 0 when no such level exists in the window.
func swingLevels(candles []models.Candle, price float64) (support, resistance float64) {
	var lows, highs []float64
	for i := 1; i < len(candles)-1; i++ {
		prev, curr, next := candles[i-1], candles[i], candles[i+1]
		if curr.Low < prev.Low && curr.Low < next.Low {
			lows = append(lows, curr.Low)
		}
		if curr.High > prev.High && curr.High > next.High {
			highs = append(highs, curr.High)
		}
	}

	sort.Sort(sort.Reverse(sort.Float64Slice(lows)))
	for _, l := range lows {
		if l < price {
			support = l
			break
		}
	}
	sort.Float64s(highs)
	for _, h := range highs {
		if h > price {
			resistance = h
			break
		}
	}
	return support, resistance
}
