package account

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LamsaLL/backbot/config"
	"github.com/LamsaLL/backbot/logging"
	"github.com/LamsaLL/backbot/models"
)

type fakeClient struct {
	info       *models.AccountInfo
	collateral *models.Collateral
	markets    []models.MarketSpec
	err        error
}

func (f *fakeClient) GetAccountInfo(ctx context.Context) (*models.AccountInfo, error) {
	return f.info, f.err
}
func (f *fakeClient) GetCollateral(ctx context.Context) (*models.Collateral, error) {
	return f.collateral, f.err
}
func (f *fakeClient) GetMarkets(ctx context.Context) ([]models.MarketSpec, error) {
	return f.markets, f.err
}
func (f *fakeClient) GetCandles(ctx context.Context, symbol, interval string, limit int) ([]models.Candle, error) {
	return nil, nil
}
func (f *fakeClient) GetTicker(ctx context.Context, symbol string) (*models.Ticker, error) {
	return nil, nil
}
func (f *fakeClient) GetOpenPositions(ctx context.Context) ([]models.Position, error) {
	return nil, nil
}
func (f *fakeClient) GetOpenOrders(ctx context.Context, symbol string) ([]models.Order, error) {
	return nil, nil
}
func (f *fakeClient) PlaceOrder(ctx context.Context, req *models.OrderRequest) (*models.OrderAck, error) {
	return nil, nil
}
func (f *fakeClient) CancelOpenOrder(ctx context.Context, symbol, orderID string) error { return nil }
func (f *fakeClient) CancelOpenOrders(ctx context.Context, symbol string) error         { return nil }

func testConfig() *config.Config {
	return &config.Config{
		LimitOrder: 5,
		Risk:       config.DefaultRiskConfig(),
	}
}

func TestSnapshot(t *testing.T) {
	client := &fakeClient{
		info:       &models.AccountInfo{LeverageLimit: 5, FuturesMakerFee: 2},
		collateral: &models.Collateral{NetEquityAvailable: 2000},
		markets:    []models.MarketSpec{{Symbol: "BTC_USDC_PERP", TickSize: 0.1, StepSize: 0.00001}},
	}
	ctrl := NewController(client, testConfig(), logging.Nop{})

	snap, err := ctrl.Snapshot(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 10000.0, snap.CapitalAvailable)
	assert.Equal(t, 5.0, snap.Leverage)
	assert.InDelta(t, 0.0002, snap.MakerFee, 1e-9)
	assert.Equal(t, 5, snap.MaxOpenOrders)
	// 2% of $10k is below the $5000 cap.
	assert.Equal(t, 200.0, snap.MinVolumeDollar)
	require.Len(t, snap.Markets, 1)
}

func TestSnapshotVolumeCapped(t *testing.T) {
	client := &fakeClient{
		info:       &models.AccountInfo{LeverageLimit: 10, FuturesMakerFee: 2},
		collateral: &models.Collateral{NetEquityAvailable: 100000},
		markets:    []models.MarketSpec{{Symbol: "BTC_USDC_PERP"}},
	}
	ctrl := NewController(client, testConfig(), logging.Nop{})

	snap, err := ctrl.Snapshot(context.Background())
	require.NoError(t, err)
	// 2% of $1M would be $20k, clamped by MaxVolumeUSD.
	assert.Equal(t, 5000.0, snap.MinVolumeDollar)
}

func TestSnapshotZeroLeverageDefaultsToOne(t *testing.T) {
	client := &fakeClient{
		info:       &models.AccountInfo{LeverageLimit: 0, FuturesMakerFee: 2},
		collateral: &models.Collateral{NetEquityAvailable: 1000},
		markets:    []models.MarketSpec{{Symbol: "BTC_USDC_PERP"}},
	}
	ctrl := NewController(client, testConfig(), logging.Nop{})

	snap, err := ctrl.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1000.0, snap.CapitalAvailable)
	assert.Equal(t, 1.0, snap.Leverage)
}

func TestSnapshotFailsOnFetchError(t *testing.T) {
	ctrl := NewController(&fakeClient{err: errors.New("boom")}, testConfig(), logging.Nop{})
	_, err := ctrl.Snapshot(context.Background())
	assert.Error(t, err)
}

func TestSnapshotFailsWithoutMarkets(t *testing.T) {
	client := &fakeClient{
		info:       &models.AccountInfo{LeverageLimit: 5},
		collateral: &models.Collateral{NetEquityAvailable: 1000},
	}
	ctrl := NewController(client, testConfig(), logging.Nop{})
	_, err := ctrl.Snapshot(context.Background())
	assert.Error(t, err)
}
