package order

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/shopspring/decimal"

	"github.com/LamsaLL/backbot/config"
	"github.com/LamsaLL/backbot/interfaces"
	"github.com/LamsaLL/backbot/logging"
	"github.com/LamsaLL/backbot/models"
)

// ErrInvalidPrice rejects order paths that would send a non-positive
// price to the exchange.
var ErrInvalidPrice = errors.New("order price must be positive")

// entryOffsetFrac shades the limit entry away from the signal price so
// the order rests instead of crossing.
const entryOffsetFrac = 0.001

// Manager builds and submits exchange orders. All price and quantity
// formatting happens here, once, using each market's declared decimals.
// In simulation mode nothing reaches the exchange; synthetic acks are
// returned so the engines run their full logic against live data.
type Manager struct {
	client interfaces.ExchangeClient
	config *config.Config
	logger logging.LoggerInterface
}

func NewManager(client interfaces.ExchangeClient, cfg *config.Config, log logging.LoggerInterface) *Manager {
	return &Manager{client: client, config: cfg, logger: log}
}

// OpenOrder places the entry limit order for a verdict with its stop
// and take-profit legs attached.
func (m *Manager) OpenOrder(ctx context.Context, verdict *models.Verdict, market *models.MarketSpec) (*models.OrderAck, error) {
	if verdict.Entry <= 0 {
		return nil, ErrInvalidPrice
	}

	side := "Bid"
	limitPrice := verdict.Entry * (1 - entryOffsetFrac)
	if verdict.Action == models.ActionShort {
		side = "Ask"
		limitPrice = verdict.Entry * (1 + entryOffsetFrac)
	}

	quantity := verdict.Volume / limitPrice

	req := &models.OrderRequest{
		Symbol:              verdict.Symbol,
		Side:                side,
		OrderType:           "Limit",
		Price:               FormatPrice(limitPrice, market),
		Quantity:            FormatQuantity(quantity, market),
		ClientID:            rand.Int63n(1 << 31),
		TimeInForce:         "GTC",
		SelfTradePrevention: "RejectTaker",
		AutoBorrow:          true,
		AutoBorrowRepay:     true,
		AutoLend:            true,
		AutoLendRedeem:      true,
	}

	if verdict.HasStop() {
		req.StopLossTriggerPrice = FormatPrice(verdict.StopLoss, market)
		req.StopLossLimitPrice = FormatPrice(verdict.StopLoss, market)
		req.StopLossTriggerBy = "MarkPrice"
	}
	if verdict.TakeProfit1 > 0 {
		req.TakeProfitTriggerPrice = FormatPrice(verdict.TakeProfit1, market)
		req.TakeProfitLimitPrice = FormatPrice(verdict.TakeProfit1, market)
		req.TakeProfitTriggerBy = "MarkPrice"
	}

	if m.config.SimulationMode {
		m.logger.Info("[SIM] %s %s $%.2f @ %s (qty %s, SL %s)",
			side, verdict.Symbol, verdict.Volume, req.Price, req.Quantity, req.StopLossTriggerPrice)
		return simAck(), nil
	}

	ack, err := m.client.PlaceOrder(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("open order %s: %w", verdict.Symbol, err)
	}
	m.logger.Info("Opened %s %s $%.2f @ %s, order %s", side, verdict.Symbol, verdict.Volume, req.Price, ack.OrderID)
	return ack, nil
}

// ForceClose market-closes a position with a reduce-only order.
func (m *Manager) ForceClose(ctx context.Context, pos *models.Position, market *models.MarketSpec) (*models.OrderAck, error) {
	side := "Ask"
	if !pos.IsLong() {
		side = "Bid"
	}

	req := &models.OrderRequest{
		Symbol:     pos.Symbol,
		Side:       side,
		OrderType:  "Market",
		Quantity:   FormatQuantity(pos.Quantity(), market),
		ReduceOnly: true,
	}

	if m.config.SimulationMode {
		m.logger.Info("[SIM] Force close %s %s qty %s", side, pos.Symbol, req.Quantity)
		return simAck(), nil
	}

	ack, err := m.client.PlaceOrder(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("force close %s: %w", pos.Symbol, err)
	}
	m.logger.Warning("Force closed %s qty %s, order %s", pos.Symbol, req.Quantity, ack.OrderID)
	return ack, nil
}

// CreateTrailingStop places a triggered reduce-only limit exit at
// stopPrice. The trigger fires one tick before the limit level so the
// post-only order rests on the passive side of the book when armed.
func (m *Manager) CreateTrailingStop(ctx context.Context, pos *models.Position, stopPrice float64, market *models.MarketSpec) (*models.OrderAck, error) {
	if stopPrice <= 0 {
		return nil, ErrInvalidPrice
	}

	offset := market.TickSize
	if offset <= 0 {
		offset = 0.01
	}

	side := "Ask"
	trigger := stopPrice - offset
	if !pos.IsLong() {
		side = "Bid"
		trigger = stopPrice + offset
	}

	req := &models.OrderRequest{
		Symbol:          pos.Symbol,
		Side:            side,
		OrderType:       "Limit",
		Price:           FormatPrice(stopPrice, market),
		Quantity:        FormatQuantity(pos.Quantity(), market),
		TriggerPrice:    FormatPrice(trigger, market),
		TriggerQuantity: FormatQuantity(pos.Quantity(), market),
		TriggerBy:       "MarkPrice",
		PostOnly:        true,
		ReduceOnly:      true,
		TimeInForce:     "GTC",
	}

	if m.config.SimulationMode {
		m.logger.Debug("[SIM] Trailing stop %s %s @ %s", side, pos.Symbol, req.Price)
		return simAck(), nil
	}

	ack, err := m.client.PlaceOrder(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("trailing stop %s: %w", pos.Symbol, err)
	}
	m.logger.Debug("Trailing stop set %s @ %s, order %s", pos.Symbol, req.Price, ack.OrderID)
	return ack, nil
}

// CancelTrailingStop cancels one resting stop order.
func (m *Manager) CancelTrailingStop(ctx context.Context, symbol, orderID string) error {
	if m.config.SimulationMode {
		m.logger.Debug("[SIM] Cancel trailing stop %s %s", symbol, orderID)
		return nil
	}
	return m.client.CancelOpenOrder(ctx, symbol, orderID)
}

// CancelAll cancels every resting order on a symbol.
func (m *Manager) CancelAll(ctx context.Context, symbol string) error {
	if m.config.SimulationMode {
		m.logger.Debug("[SIM] Cancel all orders on %s", symbol)
		return nil
	}
	return m.client.CancelOpenOrders(ctx, symbol)
}

// ScheduledOrders returns resting trigger orders (stops in waiting) for
// a symbol, or all symbols when symbol is empty.
func (m *Manager) ScheduledOrders(ctx context.Context, symbol string) ([]models.Order, error) {
	orders, err := m.client.GetOpenOrders(ctx, symbol)
	if err != nil {
		return nil, err
	}
	var scheduled []models.Order
	for _, o := range orders {
		if o.TriggerPrice > 0 {
			scheduled = append(scheduled, o)
		}
	}
	return scheduled, nil
}

// RestingEntries returns non-trigger limit orders for a symbol.
func (m *Manager) RestingEntries(ctx context.Context, symbol string) ([]models.Order, error) {
	orders, err := m.client.GetOpenOrders(ctx, symbol)
	if err != nil {
		return nil, err
	}
	var entries []models.Order
	for _, o := range orders {
		if o.TriggerPrice == 0 && o.OrderType == "Limit" && !o.ReduceOnly {
			entries = append(entries, o)
		}
	}
	return entries, nil
}

func simAck() *models.OrderAck {
	return &models.OrderAck{
		OrderID: fmt.Sprintf("sim_%d_%04d", time.Now().UnixMilli(), rand.Intn(10000)),
		Success: true,
	}
}

// FormatPrice renders a price aligned to the market's tick decimals.
func FormatPrice(price float64, market *models.MarketSpec) string {
	return decimal.NewFromFloat(price).Round(int32(market.DecimalPrice)).StringFixed(int32(market.DecimalPrice))
}

// FormatQuantity renders a quantity truncated to the market's step
// decimals. Truncation, not rounding, so the order never exceeds the
// sized amount.
func FormatQuantity(qty float64, market *models.MarketSpec) string {
	return decimal.NewFromFloat(qty).Truncate(int32(market.DecimalQuantity)).StringFixed(int32(market.DecimalQuantity))
}
