package trailing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LamsaLL/backbot/account"
	"github.com/LamsaLL/backbot/config"
	"github.com/LamsaLL/backbot/logging"
	"github.com/LamsaLL/backbot/models"
	"github.com/LamsaLL/backbot/order"
	"github.com/LamsaLL/backbot/risk"
)

type fakeClient struct {
	positions []models.Position
	candles   []models.Candle
	ticker    *models.Ticker
	orders    []models.Order

	placed    []*models.OrderRequest
	cancelled []string
}

func (f *fakeClient) GetOpenPositions(ctx context.Context) ([]models.Position, error) {
	return f.positions, nil
}
func (f *fakeClient) GetCandles(ctx context.Context, symbol, interval string, limit int) ([]models.Candle, error) {
	return f.candles, nil
}
func (f *fakeClient) GetTicker(ctx context.Context, symbol string) (*models.Ticker, error) {
	return f.ticker, nil
}
func (f *fakeClient) GetOpenOrders(ctx context.Context, symbol string) ([]models.Order, error) {
	return f.orders, nil
}
func (f *fakeClient) PlaceOrder(ctx context.Context, req *models.OrderRequest) (*models.OrderAck, error) {
	f.placed = append(f.placed, req)
	return &models.OrderAck{OrderID: "live_1", Success: true}, nil
}
func (f *fakeClient) CancelOpenOrder(ctx context.Context, symbol, orderID string) error {
	f.cancelled = append(f.cancelled, orderID)
	return nil
}
func (f *fakeClient) CancelOpenOrders(ctx context.Context, symbol string) error { return nil }
func (f *fakeClient) GetMarkets(ctx context.Context) ([]models.MarketSpec, error) {
	return []models.MarketSpec{{
		Symbol: "BTC_USDC_PERP", TickSize: 0.1, StepSize: 0.00001,
		DecimalPrice: 1, DecimalQuantity: 5,
	}}, nil
}
func (f *fakeClient) GetAccountInfo(ctx context.Context) (*models.AccountInfo, error) {
	return &models.AccountInfo{LeverageLimit: 5, FuturesMakerFee: 2}, nil
}
func (f *fakeClient) GetCollateral(ctx context.Context) (*models.Collateral, error) {
	return &models.Collateral{NetEquityAvailable: 2000}, nil
}

type staticMarks map[string]float64

func (m staticMarks) MarkPrice(symbol string) (float64, bool) {
	p, ok := m[symbol]
	return p, ok
}

func gapCandles(lows, highs [5]float64) []models.Candle {
	candles := make([]models.Candle, 5)
	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := range candles {
		candles[i] = models.Candle{
			Symbol: "BTC_USDC_PERP", Low: lows[i], High: highs[i],
			Open: lows[i], Close: highs[i],
			Timestamp: ts.Add(time.Duration(i) * 5 * time.Minute),
		}
	}
	return candles
}

func riskManager(cfg *config.Config, log logging.LoggerInterface) *risk.Manager {
	return risk.NewManager(risk.LimitsFromConfig(cfg.Risk), log)
}

func newEngine(client *fakeClient, marks staticMarks) *Engine {
	cfg := &config.Config{
		Interval: "5m", CandleLimit: 120,
		LimitOrder: 5,
		Risk:       config.DefaultRiskConfig(),
	}
	log := logging.Nop{}
	acct := account.NewController(client, cfg, log)
	orders := order.NewManager(client, cfg, log)
	riskMgr := riskManager(cfg, log)
	return NewEngine(client, acct, orders, riskMgr, marks, cfg, log)
}

func TestProcessPosition(t *testing.T) {
	pos := &models.Position{
		Symbol: "BTC_USDC_PERP", NetQuantity: 0.1,
		EntryPrice: 50000, MarkPrice: 51000,
		BreakEvenPrice: 50010, NetCost: 5000,
	}

	state := ProcessPosition(pos, 0.0002)
	// Gross $100, open fee $1, close fee $0.02.
	assert.InDelta(t, 98.98, state.NetProfit, 0.001)
	assert.True(t, state.InProfit)
	assert.True(t, state.IsLong)
	assert.InDelta(t, 1.9796, state.NetProfitPercent, 0.001)

	short := &models.Position{
		Symbol: "BTC_USDC_PERP", NetQuantity: -0.1,
		EntryPrice: 50000, MarkPrice: 51000, NetCost: -5000,
	}
	state = ProcessPosition(short, 0.0002)
	assert.False(t, state.IsLong)
	assert.Less(t, state.NetProfit, 0.0)
	// Missing break-even falls back to entry.
	assert.Equal(t, 50000.0, state.BreakEvenPrice)
}

func TestTrailingGap(t *testing.T) {
	candles := gapCandles(
		[5]float64{49000, 49200, 49100, 49500, 49800},
		[5]float64{49500, 49700, 49600, 50000, 50200},
	)

	// Long: price minus the lowest recent low.
	assert.Equal(t, 1200.0, TrailingGap(candles, 50200, true))
	// Short: highest recent high minus price.
	assert.Equal(t, 1000.0, TrailingGap(candles, 49200, false))
	// Price below the swing low floors at zero.
	assert.Equal(t, 0.0, TrailingGap(candles, 48000, true))
	// Too little history yields no gap.
	assert.Equal(t, 0.0, TrailingGap(candles[:3], 50200, true))
}

func TestCycleMovesStopUp(t *testing.T) {
	client := &fakeClient{
		positions: []models.Position{{
			Symbol: "BTC_USDC_PERP", NetQuantity: 0.1,
			EntryPrice: 50000, MarkPrice: 50500, BreakEvenPrice: 50010, NetCost: 5000,
		}},
		candles: gapCandles(
			[5]float64{49800, 49900, 49850, 50000, 50100},
			[5]float64{50100, 50200, 50150, 50300, 50500},
		),
		ticker: &models.Ticker{Symbol: "BTC_USDC_PERP", LastPrice: 50500, Volume24h: 1e6},
		orders: []models.Order{{ID: "old", Symbol: "BTC_USDC_PERP", TriggerPrice: 49000, CreatedAt: time.Now()}},
	}
	e := newEngine(client, staticMarks{"BTC_USDC_PERP": 50500})

	require.NoError(t, e.RunCycle(context.Background()))

	// Gap 50500-49800=700, raw stop 49800, under break-even so no clamp.
	assert.Equal(t, []string{"old"}, client.cancelled)
	require.Len(t, client.placed, 1)
	req := client.placed[0]
	assert.Equal(t, "49800.0", req.Price)
	assert.Equal(t, "Ask", req.Side)
	assert.True(t, req.ReduceOnly)
	assert.True(t, req.PostOnly)
}

func TestCycleClampsAtBreakEven(t *testing.T) {
	client := &fakeClient{
		positions: []models.Position{{
			Symbol: "BTC_USDC_PERP", NetQuantity: 0.1,
			EntryPrice: 50000, MarkPrice: 52000, BreakEvenPrice: 50010, NetCost: 5000,
		}},
		// Tight range far above break-even: raw stop 51900 gets clamped.
		candles: gapCandles(
			[5]float64{51900, 51920, 51910, 51950, 51980},
			[5]float64{52000, 52010, 52005, 52020, 52050},
		),
		ticker: &models.Ticker{Symbol: "BTC_USDC_PERP", LastPrice: 52000, Volume24h: 1e6},
	}
	e := newEngine(client, staticMarks{"BTC_USDC_PERP": 52000})

	require.NoError(t, e.RunCycle(context.Background()))
	require.Len(t, client.placed, 1)
	assert.Equal(t, "50010.0", client.placed[0].Price)
}

func TestCycleSkipsSmallMoves(t *testing.T) {
	client := &fakeClient{
		positions: []models.Position{{
			Symbol: "BTC_USDC_PERP", NetQuantity: 0.1,
			EntryPrice: 50000, MarkPrice: 50500, BreakEvenPrice: 50010, NetCost: 5000,
		}},
		candles: gapCandles(
			[5]float64{49800, 49900, 49850, 50000, 50100},
			[5]float64{50100, 50200, 50150, 50300, 50500},
		),
		ticker: &models.Ticker{Symbol: "BTC_USDC_PERP", LastPrice: 50500, Volume24h: 1e6},
		// Existing stop within 0.1% of the new 49800 level.
		orders: []models.Order{{ID: "near", Symbol: "BTC_USDC_PERP", TriggerPrice: 49790, CreatedAt: time.Now()}},
	}
	e := newEngine(client, staticMarks{"BTC_USDC_PERP": 50500})

	require.NoError(t, e.RunCycle(context.Background()))
	assert.Empty(t, client.placed, "stop within threshold must not be replaced")
	assert.Empty(t, client.cancelled)
}

func TestCycleForceClosesIlliquidMarket(t *testing.T) {
	client := &fakeClient{
		positions: []models.Position{{
			Symbol: "BTC_USDC_PERP", NetQuantity: 0.1,
			EntryPrice: 50000, MarkPrice: 50500, NetCost: 5000,
		}},
		candles: gapCandles(
			[5]float64{49800, 49900, 49850, 50000, 50100},
			[5]float64{50100, 50200, 50150, 50300, 50500},
		),
		// Volume below 10% of the account's minimum trade size.
		ticker: &models.Ticker{Symbol: "BTC_USDC_PERP", LastPrice: 50500, Volume24h: 5},
	}
	e := newEngine(client, staticMarks{})

	require.NoError(t, e.RunCycle(context.Background()))
	require.Len(t, client.placed, 1)
	req := client.placed[0]
	assert.Equal(t, "Market", req.OrderType)
	assert.True(t, req.ReduceOnly)
	assert.Equal(t, "Ask", req.Side)

	// Realized P&L landed in the daily ledger.
	hist := e.risk.GetDailyPnLHistory()
	require.Len(t, hist, 1)
	assert.Equal(t, 1, hist[0].TradeCount)
}

func TestCycleShortTrailsDown(t *testing.T) {
	client := &fakeClient{
		positions: []models.Position{{
			Symbol: "BTC_USDC_PERP", NetQuantity: -0.1,
			EntryPrice: 50000, MarkPrice: 49000, BreakEvenPrice: 49990, NetCost: -5000,
		}},
		candles: gapCandles(
			[5]float64{48800, 48900, 48850, 48950, 48980},
			[5]float64{49100, 49200, 49150, 49250, 49300},
		),
		ticker: &models.Ticker{Symbol: "BTC_USDC_PERP", LastPrice: 49000, Volume24h: 1e6},
	}
	e := newEngine(client, staticMarks{"BTC_USDC_PERP": 49000})

	require.NoError(t, e.RunCycle(context.Background()))
	require.Len(t, client.placed, 1)
	req := client.placed[0]
	// Gap 49300-49000=300 gives a raw stop of 49300, but the stop
	// never ratchets past break-even.
	assert.Equal(t, "49990.0", req.Price)
	assert.Equal(t, "Bid", req.Side)
}
