package interfaces

import (
	"context"

	"github.com/LamsaLL/backbot/models"
)

// ExchangeClient is the exchange surface the engines depend on. The
// REST client implements it; tests substitute fakes.
type ExchangeClient interface {
	GetMarkets(ctx context.Context) ([]models.MarketSpec, error)
	GetCandles(ctx context.Context, symbol, interval string, limit int) ([]models.Candle, error)
	GetTicker(ctx context.Context, symbol string) (*models.Ticker, error)
	GetAccountInfo(ctx context.Context) (*models.AccountInfo, error)
	GetCollateral(ctx context.Context) (*models.Collateral, error)
	GetOpenPositions(ctx context.Context) ([]models.Position, error)
	GetOpenOrders(ctx context.Context, symbol string) ([]models.Order, error)
	PlaceOrder(ctx context.Context, req *models.OrderRequest) (*models.OrderAck, error)
	CancelOpenOrder(ctx context.Context, symbol, orderID string) error
	CancelOpenOrders(ctx context.Context, symbol string) error
}

// MarkPriceSource serves the latest mark price for a symbol, typically
// fed by a websocket stream. ok is false when no fresh price is held.
type MarkPriceSource interface {
	MarkPrice(symbol string) (price float64, ok bool)
}
