package trailing

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/LamsaLL/backbot/account"
	"github.com/LamsaLL/backbot/config"
	"github.com/LamsaLL/backbot/interfaces"
	"github.com/LamsaLL/backbot/logging"
	"github.com/LamsaLL/backbot/metrics"
	"github.com/LamsaLL/backbot/models"
	"github.com/LamsaLL/backbot/order"
	"github.com/LamsaLL/backbot/risk"
)

// gapLookback is how many recent candles bound the trailing gap.
const gapLookback = 5

// stopMoveThresholdFrac is the minimum relative move before a resting
// stop is replaced. Churning the stop on every tick wastes rate limit.
const stopMoveThresholdFrac = 0.001

// Engine ratchets protective stops behind open positions on a fast
// cadence and force-closes positions whose market has gone illiquid.
type Engine struct {
	client  interfaces.ExchangeClient
	account *account.Controller
	orders  *order.Manager
	risk    *risk.Manager
	marks   interfaces.MarkPriceSource
	config  *config.Config
	logger  logging.LoggerInterface
}

func NewEngine(client interfaces.ExchangeClient, acct *account.Controller, orders *order.Manager, riskMgr *risk.Manager, marks interfaces.MarkPriceSource, cfg *config.Config, log logging.LoggerInterface) *Engine {
	return &Engine{
		client:  client,
		account: acct,
		orders:  orders,
		risk:    riskMgr,
		marks:   marks,
		config:  cfg,
		logger:  log,
	}
}

// Run executes cycles until ctx is cancelled, sleeping TrailingInterval
// between non-overlapping passes.
func (e *Engine) Run(ctx context.Context) {
	e.logger.Info("Trailing engine started: interval %s", e.config.TrailingInterval)
	for {
		if err := e.RunCycle(ctx); err != nil {
			e.logger.Error("Trailing cycle failed: %v", err)
		}
		select {
		case <-ctx.Done():
			e.logger.Info("Trailing engine stopped")
			return
		case <-time.After(e.config.TrailingInterval):
		}
	}
}

// RunCycle performs one trailing pass over all open positions.
func (e *Engine) RunCycle(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("trailing cycle panic: %v", r)
		}
	}()

	positions, err := e.client.GetOpenPositions(ctx)
	if err != nil {
		return fmt.Errorf("open positions: %w", err)
	}
	if len(positions) == 0 {
		return nil
	}

	snap, err := e.account.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("account snapshot: %w", err)
	}

	for i := range positions {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := e.managePosition(ctx, &positions[i], snap); err != nil {
			e.logger.Error("Trailing skipped for %s: %v", positions[i].Symbol, err)
		}
	}
	return nil
}

// PositionState is a position enriched with fee-adjusted profit.
type PositionState struct {
	Symbol           string
	Quantity         float64
	IsLong           bool
	EntryPrice       float64
	MarkPrice        float64
	BreakEvenPrice   float64
	NetProfit        float64
	NetProfitPercent float64
	InProfit         bool
}

// ProcessPosition computes the fee-adjusted state of a position. Maker
// fee is charged on the entry notional and again on the profit leg.
func ProcessPosition(pos *models.Position, makerFee float64) PositionState {
	direction := 1.0
	if !pos.IsLong() {
		direction = -1.0
	}
	qty := pos.Quantity()

	grossProfit := (pos.MarkPrice - pos.EntryPrice) * direction * qty
	openFee := pos.EntryPrice * qty * makerFee
	closeFee := math.Abs(grossProfit) * makerFee
	netProfit := grossProfit - openFee - closeFee

	netCost := math.Abs(pos.NetCost)
	profitPct := 0.0
	if netCost > 0 {
		profitPct = netProfit / netCost * 100
	}

	breakEven := pos.BreakEvenPrice
	if breakEven == 0 {
		breakEven = pos.EntryPrice
	}

	return PositionState{
		Symbol:           pos.Symbol,
		Quantity:         qty,
		IsLong:           pos.IsLong(),
		EntryPrice:       pos.EntryPrice,
		MarkPrice:        pos.MarkPrice,
		BreakEvenPrice:   breakEven,
		NetProfit:        netProfit,
		NetProfitPercent: profitPct,
		InProfit:         netProfit > 0,
	}
}

// TrailingGap is the distance from the current price to the recent
// swing extreme: the lowest low for longs, the highest high for
// shorts. Zero means no usable gap.
func TrailingGap(candles []models.Candle, price float64, isLong bool) float64 {
	if len(candles) < gapLookback {
		return 0
	}
	window := candles[len(candles)-gapLookback:]

	if isLong {
		bottom := window[0].Low
		for _, c := range window[1:] {
			bottom = math.Min(bottom, c.Low)
		}
		return math.Max(price-bottom, 0)
	}

	top := window[0].High
	for _, c := range window[1:] {
		top = math.Max(top, c.High)
	}
	return math.Max(top-price, 0)
}

func (e *Engine) managePosition(ctx context.Context, pos *models.Position, snap *models.AccountSnapshot) error {
	state := ProcessPosition(pos, snap.MakerFee)

	market := snap.FindMarket(pos.Symbol)
	if market == nil {
		return fmt.Errorf("no market spec for %s", pos.Symbol)
	}

	ticker, err := e.client.GetTicker(ctx, pos.Symbol)
	if err != nil {
		return fmt.Errorf("ticker: %w", err)
	}

	// Illiquid markets trap reduce-only limit exits; bail out at market.
	if ticker.Volume24h < snap.MinVolumeDollar*0.1 {
		e.logger.Warning("Low 24h volume on %s ($%.0f), force closing", pos.Symbol, ticker.Volume24h)
		if _, err := e.orders.ForceClose(ctx, pos, market); err != nil {
			return err
		}
		metrics.ForceCloses.Inc()
		e.risk.UpdateDailyPnL(state.NetProfit)
		return nil
	}

	// The stream gives the freshest mark; REST ticker is the fallback.
	price, ok := e.markPrice(pos.Symbol)
	if !ok {
		price = ticker.Price()
	}
	if price <= 0 {
		return nil
	}

	candles, err := e.client.GetCandles(ctx, pos.Symbol, e.config.Interval, e.config.CandleLimit)
	if err != nil {
		return fmt.Errorf("candles: %w", err)
	}

	gap := TrailingGap(candles, price, state.IsLong)
	if gap == 0 {
		return nil
	}

	newStop := price - gap
	if !state.IsLong {
		newStop = price + gap
	}

	// The stop never ratchets past break-even; profit beyond that is
	// left to the take-profit legs.
	if state.IsLong && newStop > state.BreakEvenPrice {
		newStop = state.BreakEvenPrice
	} else if !state.IsLong && newStop < state.BreakEvenPrice {
		newStop = state.BreakEvenPrice
	}

	return e.replaceStop(ctx, pos, market, newStop, price)
}

// replaceStop moves the resting stop to newStop unless an existing one
// already sits within the move threshold.
func (e *Engine) replaceStop(ctx context.Context, pos *models.Position, market *models.MarketSpec, newStop, price float64) error {
	existing, err := e.orders.ScheduledOrders(ctx, pos.Symbol)
	if err != nil {
		return fmt.Errorf("scheduled orders: %w", err)
	}
	// Tightest stop first: ascending triggers for longs, descending
	// for shorts.
	sort.Slice(existing, func(i, j int) bool {
		if pos.IsLong() {
			return existing[i].TriggerPrice < existing[j].TriggerPrice
		}
		return existing[i].TriggerPrice > existing[j].TriggerPrice
	})

	threshold := price * stopMoveThresholdFrac
	create := true
	for _, o := range existing {
		if math.Abs(o.TriggerPrice-newStop) < threshold {
			create = false
			break
		}
		if err := e.orders.CancelTrailingStop(ctx, pos.Symbol, o.ID); err != nil {
			e.logger.Error("Failed to cancel stop %s on %s: %v", o.ID, pos.Symbol, err)
		}
	}
	if !create {
		return nil
	}

	if _, err := e.orders.CreateTrailingStop(ctx, pos, newStop, market); err != nil {
		return fmt.Errorf("create stop: %w", err)
	}
	metrics.TrailingUpdates.Inc()
	e.logger.Info("Trailing stop on %s moved to %.4f", pos.Symbol, newStop)
	return nil
}

func (e *Engine) markPrice(symbol string) (float64, bool) {
	if e.marks == nil {
		return 0, false
	}
	return e.marks.MarkPrice(symbol)
}
