package strategy

import (
	"math"
	"sync"

	"github.com/LamsaLL/backbot/config"
	"github.com/LamsaLL/backbot/indicators"
	"github.com/LamsaLL/backbot/logging"
	"github.com/LamsaLL/backbot/models"
)

// maxLegsPerSymbol caps pyramiding into one symbol.
const maxLegsPerSymbol = 2

// BBEMAVolumeFarmer trades Bollinger-band breakouts and basis pullbacks
// in the direction of the fast/slow EMA trend. Entry spacing and
// pyramiding are enforced per symbol.
type BBEMAVolumeFarmer struct {
	cfg    config.BBEMAConfig
	logger logging.LoggerInterface

	// lastEntryBar tracks the bar index of the most recent entry per
	// symbol, for the minimum-spacing gate.
	mu           sync.Mutex
	lastEntryBar map[string]int
}

func NewBBEMAVolumeFarmer(cfg config.BBEMAConfig, log logging.LoggerInterface) *BBEMAVolumeFarmer {
	return &BBEMAVolumeFarmer{
		cfg:          cfg,
		logger:       log,
		lastEntryBar: make(map[string]int),
	}
}

func (s *BBEMAVolumeFarmer) Name() string { return "BBEMA_VOLUME_FARMER" }

func (s *BBEMAVolumeFarmer) minDataRequired() int {
	min := 25
	for _, n := range []int{s.cfg.BBLen, s.cfg.EMASlowLen, s.cfg.ATRLen, s.cfg.VolLookback} {
		if n > min {
			min = n
		}
	}
	return min
}

func (s *BBEMAVolumeFarmer) Analyze(candles []models.Candle, market *models.MarketSpec, snapshot *models.AccountSnapshot, symbolPositions, allPositions []models.Position) (*models.Verdict, error) {
	if len(candles) < s.minDataRequired() {
		price := 0.0
		if len(candles) > 0 {
			price = candles[len(candles)-1].Close
		}
		return neutral(market.Symbol, price, "not enough candle data"), nil
	}

	closes := make([]float64, len(candles))
	volumes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
		volumes[i] = c.Volume
	}
	price := closes[len(closes)-1]
	currentBar := len(candles) - 1

	basisSeries, err := indicators.SMA(closes, s.cfg.BBLen)
	if err != nil {
		return nil, err
	}
	devSeries, err := indicators.Stdev(closes, s.cfg.BBLen)
	if err != nil {
		return nil, err
	}
	emaFastSeries, err := indicators.EMA(closes, s.cfg.EMAFastLen)
	if err != nil {
		return nil, err
	}
	emaSlowSeries, err := indicators.EMA(closes, s.cfg.EMASlowLen)
	if err != nil {
		return nil, err
	}
	atrSeries, err := indicators.ATR(candles, s.cfg.ATRLen)
	if err != nil {
		return nil, err
	}

	basis := indicators.Last(basisSeries)
	dev := indicators.Last(devSeries)
	emaFast := indicators.Last(emaFastSeries)
	emaFastPrev := indicators.At(emaFastSeries, 2)
	emaSlow := indicators.Last(emaSlowSeries)
	atrVal := indicators.Last(atrSeries)

	for _, v := range []float64{basis, dev, emaFast, emaFastPrev, emaSlow, atrVal} {
		if !indicators.IsDefined(v) {
			return neutral(market.Symbol, price, "indicators still warming up"), nil
		}
	}

	upperBB := basis + s.cfg.BBMult*dev
	lowerBB := basis - s.cfg.BBMult*dev
	stopDist := math.Max(atrVal*s.cfg.StopMult, market.TickSize*3)

	// Size by risk cash over stop distance, at least one contract.
	riskCash := snapshot.CapitalAvailable * (s.cfg.RiskPerc / 100)
	contracts := math.Max(math.Floor(riskCash/stopDist), 1)
	volume := contracts * price

	canSize := len(symbolPositions) < maxLegsPerSymbol

	upSlope := emaFast > emaFastPrev
	dnSlope := emaFast < emaFastPrev

	longTrend := upSlope && price > upperBB && price > emaFast
	shortTrend := dnSlope && price < lowerBB && price < emaFast

	longPull := upSlope && indicators.Crossover(closes, basisSeries)
	shortPull := dnSlope && indicators.Crossunder(closes, basisSeries)

	lowerLine := []float64{lowerBB, lowerBB}
	upperLine := []float64{upperBB, upperBB}
	longRange := s.cfg.UseRangeTrades && price < lowerBB && indicators.Crossover(closes, lowerLine)
	shortRange := s.cfg.UseRangeTrades && price > upperBB && indicators.Crossunder(closes, upperLine)

	volGate := s.volumeGate(volumes)

	longSig := volGate && (longTrend || longPull || longRange)
	shortSig := volGate && (shortTrend || shortPull || shortRange)

	if !canSize {
		return neutral(market.Symbol, price, "max legs reached for symbol"), nil
	}
	if !s.entryAllowed(market.Symbol, currentBar) {
		return neutral(market.Symbol, price, "entry spacing not met"), nil
	}

	verdict := &models.Verdict{
		Action:          models.ActionNeutral,
		Symbol:          market.Symbol,
		MarketPrice:     price,
		Entry:           price,
		Volume:          volume,
		PartialClosePct: s.cfg.PartialPct,
		Trailing: &models.TrailingParams{
			ATRValue:        atrVal,
			TrailMultiplier: s.cfg.TrailATRMult,
			TrailOffset:     atrVal * s.cfg.TrailATRMult,
		},
		Reason: "no signal",
	}

	switch {
	case longSig:
		verdict.Action = models.ActionLong
		verdict.StopLoss = price - stopDist
		verdict.TakeProfit1 = price + stopDist*s.cfg.PartialRR
		verdict.TakeProfit2 = price + stopDist*s.cfg.RewardRR
		verdict.Reason = signalReason("LONG", longTrend, longPull, longRange)
		s.recordEntry(market.Symbol, currentBar)
	case shortSig:
		verdict.Action = models.ActionShort
		verdict.StopLoss = price + stopDist
		verdict.TakeProfit1 = price - stopDist*s.cfg.PartialRR
		verdict.TakeProfit2 = price - stopDist*s.cfg.RewardRR
		verdict.Reason = signalReason("SHORT", shortTrend, shortPull, shortRange)
		s.recordEntry(market.Symbol, currentBar)
	}

	return verdict, nil
}

func (s *BBEMAVolumeFarmer) entryAllowed(symbol string, currentBar int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	last, ok := s.lastEntryBar[symbol]
	return !ok || currentBar-last >= s.cfg.MinBarsBetween
}

func (s *BBEMAVolumeFarmer) recordEntry(symbol string, bar int) {
	s.mu.Lock()
	s.lastEntryBar[symbol] = bar
	s.mu.Unlock()
}

// volumeGate ranks the latest volume within the lookback window. The
// gate fails closed: disabled filter passes, enabled filter with
// unusable data blocks.
func (s *BBEMAVolumeFarmer) volumeGate(volumes []float64) bool {
	if !s.cfg.UseVolFilter {
		return true
	}
	window := volumes
	if len(window) > s.cfg.VolLookback {
		window = window[len(window)-s.cfg.VolLookback:]
	}
	if len(window) == 0 {
		return false
	}

	volMin, volMax := window[0], window[0]
	for _, v := range window[1:] {
		volMin = math.Min(volMin, v)
		volMax = math.Max(volMax, v)
	}

	rank := 0.5
	if volMax != volMin {
		rank = (window[len(window)-1] - volMin) / (volMax - volMin)
	}
	return rank > s.cfg.VolThresh
}

func signalReason(dir string, trend, pull, rng bool) string {
	switch {
	case trend:
		return dir + " signal: trend"
	case pull:
		return dir + " signal: pullback"
	case rng:
		return dir + " signal: range"
	default:
		return dir + " signal"
	}
}
