package models

import (
	"math"
	"time"
)

// Candle represents one closed bar of market data, oldest-first in a series.
type Candle struct {
	Symbol    string
	Interval  string
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
	Timestamp time.Time
}

// MarketSpec holds exchange metadata for one tradable market
type MarketSpec struct {
	Symbol           string
	BaseAsset        string
	QuoteAsset       string
	TickSize         float64
	StepSize         float64
	DecimalPrice     int
	DecimalQuantity  int
	MinOrderNotional float64
}

// AccountSnapshot is the per-cycle view of the trading account.
// It is rebuilt from exchange data every decision cycle, never cached.
type AccountSnapshot struct {
	CapitalAvailable float64 // net equity * leverage
	Leverage         float64
	MakerFee         float64 // fraction, e.g. 0.0002
	MaxOpenOrders    int
	MinVolumeDollar  float64
	Markets          []MarketSpec
}

// FindMarket returns the MarketSpec for a symbol, or nil when unknown.
func (a *AccountSnapshot) FindMarket(symbol string) *MarketSpec {
	for i := range a.Markets {
		if a.Markets[i].Symbol == symbol {
			return &a.Markets[i]
		}
	}
	return nil
}

// Position is an open exchange position. NetQuantity is signed: positive
// for long, negative for short. Owned by the exchange; read-only here.
type Position struct {
	Symbol         string
	NetQuantity    float64
	EntryPrice     float64
	MarkPrice      float64
	BreakEvenPrice float64
	NetCost        float64
}

// IsLong reports whether the position is long.
func (p Position) IsLong() bool { return p.NetQuantity > 0 }

// Quantity returns the unsigned position size.
func (p Position) Quantity() float64 { return math.Abs(p.NetQuantity) }

// Notional returns the position value at entry, used for exposure accounting.
func (p Position) Notional() float64 { return math.Abs(p.NetQuantity) * p.EntryPrice }

// Ticker is a point-in-time price snapshot for one symbol.
type Ticker struct {
	Symbol    string
	LastPrice float64
	MarkPrice float64
	Volume24h float64 // quote volume over the last 24h
}

// Price returns the best available price from the ticker.
func (t Ticker) Price() float64 {
	if t.LastPrice > 0 {
		return t.LastPrice
	}
	return t.MarkPrice
}

// Order is an open (resting) exchange order.
type Order struct {
	ID           string
	Symbol       string
	Side         string // "Bid" | "Ask"
	OrderType    string // "Market" | "Limit"
	Quantity     float64
	Price        float64
	TriggerPrice float64
	Status       string
	ReduceOnly   bool
	CreatedAt    time.Time
}

// Action is a strategy's directional call.
type Action string

const (
	ActionLong    Action = "LONG"
	ActionShort   Action = "SHORT"
	ActionNeutral Action = "NEUTRAL"
)

// TrailingParams carries ATR context from the strategy to the trailing engine.
type TrailingParams struct {
	ATRValue        float64
	TrailMultiplier float64
	TrailOffset     float64 // ATRValue * TrailMultiplier, precomputed
}

// Verdict is the per-symbol, per-cycle output of a strategy.
type Verdict struct {
	Action          Action
	Symbol          string
	MarketPrice     float64
	Entry           float64
	StopLoss        float64 // 0 means no stop supplied
	TakeProfit1     float64
	TakeProfit2     float64
	Volume          float64 // suggested volume in quote currency, 0 when unsized
	PartialClosePct float64
	Trailing        *TrailingParams
	Reason          string
}

// HasStop reports whether the verdict carries a usable stop-loss price.
func (v *Verdict) HasStop() bool { return v.StopLoss > 0 }

// OrderRequest is the wire-shaped order spec handed to the exchange client.
// Numeric fields are pre-formatted strings so price/quantity precision is
// decided once, by the order controller.
type OrderRequest struct {
	Symbol                 string
	Side                   string // "Bid" | "Ask"
	OrderType              string // "Market" | "Limit"
	Quantity               string
	Price                  string
	TriggerPrice           string
	TriggerQuantity        string
	TriggerBy              string
	StopLossTriggerPrice   string
	StopLossLimitPrice     string
	StopLossTriggerBy      string
	TakeProfitTriggerPrice string
	TakeProfitLimitPrice   string
	TakeProfitTriggerBy    string
	ClientID               int64
	TimeInForce            string
	PostOnly               bool
	ReduceOnly             bool
	AutoBorrow             bool
	AutoBorrowRepay        bool
	AutoLend               bool
	AutoLendRedeem         bool
	SelfTradePrevention    string
}

// OrderAck is the exchange's (or the simulator's) answer to an order request.
type OrderAck struct {
	OrderID string
	Success bool
}

// AccountInfo is the raw authenticated account payload the snapshot is built from.
type AccountInfo struct {
	LeverageLimit   float64
	FuturesMakerFee float64 // basis points as reported by the exchange
}

// Collateral is the raw collateral payload the snapshot is built from.
type Collateral struct {
	NetEquityAvailable float64
}
