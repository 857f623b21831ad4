package decision

import (
	"context"
	"fmt"
	"time"

	"github.com/LamsaLL/backbot/account"
	"github.com/LamsaLL/backbot/config"
	"github.com/LamsaLL/backbot/interfaces"
	"github.com/LamsaLL/backbot/logging"
	"github.com/LamsaLL/backbot/metrics"
	"github.com/LamsaLL/backbot/models"
	"github.com/LamsaLL/backbot/order"
	"github.com/LamsaLL/backbot/risk"
	"github.com/LamsaLL/backbot/strategy"
)

// Engine runs the periodic decision cycle: refresh account state, let
// the risk manager gate the day, scan markets without exposure, and
// open risk-validated entries. One failing market never aborts the
// scan of the rest.
type Engine struct {
	client   interfaces.ExchangeClient
	account  *account.Controller
	orders   *order.Manager
	risk     *risk.Manager
	strategy strategy.Strategy
	config   *config.Config
	logger   logging.LoggerInterface
}

func NewEngine(client interfaces.ExchangeClient, acct *account.Controller, orders *order.Manager, riskMgr *risk.Manager, strat strategy.Strategy, cfg *config.Config, log logging.LoggerInterface) *Engine {
	return &Engine{
		client:   client,
		account:  acct,
		orders:   orders,
		risk:     riskMgr,
		strategy: strat,
		config:   cfg,
		logger:   log,
	}
}

// Run executes cycles until ctx is cancelled. Cycles never overlap:
// the next sleep starts only after the previous cycle returns.
func (e *Engine) Run(ctx context.Context) {
	e.logger.Info("Decision engine started: strategy %s, interval %s", e.strategy.Name(), e.config.DecisionInterval)
	for {
		if err := e.RunCycle(ctx); err != nil {
			metrics.DecisionErrors.Inc()
			e.logger.Error("Decision cycle failed: %v", err)
		}
		select {
		case <-ctx.Done():
			e.logger.Info("Decision engine stopped")
			return
		case <-time.After(e.config.DecisionInterval):
		}
	}
}

// RunCycle performs one full decision pass.
func (e *Engine) RunCycle(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("decision cycle panic: %v", r)
		}
	}()

	positions, err := e.client.GetOpenPositions(ctx)
	if err != nil {
		return fmt.Errorf("open positions: %w", err)
	}
	metrics.OpenPositions.Set(float64(len(positions)))

	snap, err := e.account.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("account snapshot: %w", err)
	}

	if halt, reason := e.risk.ShouldHaltTrading(snap.CapitalAvailable); halt {
		metrics.TradingHalts.Inc()
		e.logger.Warning("Trading halted: %s", reason)
		return nil
	}

	rm := e.risk.GetRiskMetrics(positions, snap.CapitalAvailable)
	metrics.DailyPnL.Set(rm.DailyPnL)
	e.logger.Info("Risk: positions %d/%d, exposure %.1f%%, daily P&L %+.2f%%",
		rm.TotalPositions, snap.MaxOpenOrders, rm.ExposurePercentage, rm.DailyPnLPercentage)

	if !rm.CanOpenNewPosition {
		e.logger.Info("Position limit reached, skipping market scan")
		return nil
	}

	scheduled, err := e.sweepScheduledOrders(ctx, positions)
	if err != nil {
		return err
	}

	if len(positions) > e.config.LimitOrder || len(scheduled) > e.config.LimitOrder {
		e.logger.Debug("Order budget exhausted: %d positions, %d scheduled", len(positions), len(scheduled))
		return nil
	}

	available := availableMarkets(snap.Markets, positions, scheduled)
	e.logger.Info("Scanning %d markets", len(available))

	for i := range available {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := e.evaluateMarket(ctx, &available[i], snap, positions); err != nil {
			e.logger.Error("Market %s skipped: %v", available[i].Symbol, err)
		}
	}

	metrics.DecisionCycles.Inc()
	return nil
}

// sweepScheduledOrders cancels trigger orders that have waited past
// their maximum age, returning those still live. Symbols with an open
// position are left alone, their trigger orders are protective stops
// owned by the trailing engine.
func (e *Engine) sweepScheduledOrders(ctx context.Context, positions []models.Position) ([]models.Order, error) {
	scheduled, err := e.orders.ScheduledOrders(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("scheduled orders: %w", err)
	}

	open := make(map[string]bool, len(positions))
	for _, p := range positions {
		open[p.Symbol] = true
	}

	live := scheduled[:0]
	for _, o := range scheduled {
		if open[o.Symbol] || o.ReduceOnly {
			live = append(live, o)
			continue
		}
		if time.Since(o.CreatedAt) > e.config.ScheduledOrderMaxAge {
			e.logger.Info("Cancelling stale scheduled order %s on %s (age %s)", o.ID, o.Symbol, time.Since(o.CreatedAt).Round(time.Second))
			if err := e.orders.CancelAll(ctx, o.Symbol); err != nil {
				e.logger.Error("Failed to cancel stale orders on %s: %v", o.Symbol, err)
				live = append(live, o)
			}
			continue
		}
		live = append(live, o)
	}
	return live, nil
}

// availableMarkets filters out symbols that already carry a position or
// a scheduled order.
func availableMarkets(markets []models.MarketSpec, positions []models.Position, scheduled []models.Order) []models.MarketSpec {
	busy := make(map[string]bool, len(positions)+len(scheduled))
	for _, p := range positions {
		busy[p.Symbol] = true
	}
	for _, o := range scheduled {
		busy[o.Symbol] = true
	}

	var out []models.MarketSpec
	for _, m := range markets {
		if !busy[m.Symbol] {
			out = append(out, m)
		}
	}
	return out
}

func (e *Engine) evaluateMarket(ctx context.Context, market *models.MarketSpec, snap *models.AccountSnapshot, positions []models.Position) error {
	candles, err := e.client.GetCandles(ctx, market.Symbol, e.config.Interval, e.config.CandleLimit)
	if err != nil {
		return fmt.Errorf("candles: %w", err)
	}
	if len(candles) == 0 {
		return nil
	}

	ticker, err := e.client.GetTicker(ctx, market.Symbol)
	if err != nil {
		return fmt.Errorf("ticker: %w", err)
	}
	price := ticker.Price()
	if price <= 0 {
		return nil
	}

	var symbolPositions []models.Position
	for _, p := range positions {
		if p.Symbol == market.Symbol {
			symbolPositions = append(symbolPositions, p)
		}
	}

	verdict, err := e.strategy.Analyze(candles, market, snap, symbolPositions, positions)
	if err != nil {
		return fmt.Errorf("strategy: %w", err)
	}
	if verdict.Action == models.ActionNeutral {
		return nil
	}
	if verdict.Entry <= 0 {
		verdict.Entry = price
	}
	verdict.MarketPrice = price

	e.sizeVerdict(verdict, snap)

	volume, ok := e.validate(verdict, snap, positions)
	if !ok {
		metrics.OrdersRejected.Inc()
		return nil
	}
	verdict.Volume = volume

	return e.placeEntry(ctx, verdict, market)
}

// sizeVerdict fills in the volume for unsized verdicts using the risk
// budget, with a 5% synthetic stop when the strategy supplied none.
func (e *Engine) sizeVerdict(verdict *models.Verdict, snap *models.AccountSnapshot) {
	if verdict.Volume > 0 {
		return
	}
	stop := verdict.StopLoss
	if stop <= 0 {
		if verdict.Action == models.ActionLong {
			stop = verdict.Entry * 0.95
		} else {
			stop = verdict.Entry * 1.05
		}
	}
	safe := e.risk.CalculateSafePositionSize(verdict.Entry, stop, snap.CapitalAvailable, e.config.Risk.MaxRiskPerTrade)
	if safe < snap.MinVolumeDollar {
		safe = snap.MinVolumeDollar
	}
	verdict.Volume = safe
}

// validate runs the risk ladder, retrying once at the suggested volume
// when the suggestion still clears the account's minimum trade size.
func (e *Engine) validate(verdict *models.Verdict, snap *models.AccountSnapshot, positions []models.Position) (float64, bool) {
	res := e.risk.ValidateNewPosition(verdict.Symbol, verdict.Volume, verdict.Entry, verdict.StopLoss, snap.CapitalAvailable, positions, snap.Leverage)
	if res.IsValid {
		e.logger.Info("Position validated for %s: risk %.2f%%", verdict.Symbol, res.RiskPercentage)
		return verdict.Volume, true
	}

	e.logger.Info("Position rejected for %s: %s", verdict.Symbol, res.Reason)
	if res.SuggestedVolume <= snap.MinVolumeDollar {
		return 0, false
	}

	e.logger.Info("Retrying %s at suggested volume $%.2f", verdict.Symbol, res.SuggestedVolume)
	retry := e.risk.ValidateNewPosition(verdict.Symbol, res.SuggestedVolume, verdict.Entry, verdict.StopLoss, snap.CapitalAvailable, positions, snap.Leverage)
	if !retry.IsValid {
		e.logger.Info("Retry rejected for %s: %s", verdict.Symbol, retry.Reason)
		return 0, false
	}
	return res.SuggestedVolume, true
}

// placeEntry submits the entry, replacing a resting entry that has
// outstayed its welcome. A fresh resting entry keeps the market busy
// and suppresses the new signal.
func (e *Engine) placeEntry(ctx context.Context, verdict *models.Verdict, market *models.MarketSpec) error {
	resting, err := e.orders.RestingEntries(ctx, market.Symbol)
	if err != nil {
		return fmt.Errorf("resting entries: %w", err)
	}

	if len(resting) > 0 {
		oldest := resting[0]
		for _, o := range resting[1:] {
			if o.CreatedAt.Before(oldest.CreatedAt) {
				oldest = o
			}
		}
		if time.Since(oldest.CreatedAt) <= e.config.RestingOrderMaxAge {
			e.logger.Debug("Resting entry on %s is fresh, keeping it", market.Symbol)
			return nil
		}
		e.logger.Info("Replacing stale entry on %s (age %s)", market.Symbol, time.Since(oldest.CreatedAt).Round(time.Second))
		if err := e.orders.CancelAll(ctx, market.Symbol); err != nil {
			return fmt.Errorf("cancel stale entry: %w", err)
		}
	}

	ack, err := e.orders.OpenOrder(ctx, verdict, market)
	if err != nil {
		return err
	}
	metrics.OrdersPlaced.WithLabelValues("entry").Inc()
	e.logger.Info("Entry placed on %s: %s (%s)", market.Symbol, ack.OrderID, verdict.Reason)
	return nil
}

// RecordTradeResult feeds a realized P&L into the daily ledger.
func (e *Engine) RecordTradeResult(pnl float64) {
	e.risk.UpdateDailyPnL(pnl)
}
