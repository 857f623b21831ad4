package account

import (
	"context"
	"fmt"
	"math"

	"github.com/LamsaLL/backbot/config"
	"github.com/LamsaLL/backbot/interfaces"
	"github.com/LamsaLL/backbot/logging"
	"github.com/LamsaLL/backbot/models"
)

// Controller assembles the per-cycle account snapshot from live
// exchange data. Nothing is cached between cycles so capital, fees and
// market specs always reflect the current account state.
type Controller struct {
	client interfaces.ExchangeClient
	config *config.Config
	logger logging.LoggerInterface
}

func NewController(client interfaces.ExchangeClient, cfg *config.Config, log logging.LoggerInterface) *Controller {
	return &Controller{client: client, config: cfg, logger: log}
}

// Snapshot fetches account info, collateral and market specs in one
// pass. Any fetch failure fails the whole snapshot so a cycle never
// runs on partial data.
func (c *Controller) Snapshot(ctx context.Context) (*models.AccountSnapshot, error) {
	info, err := c.client.GetAccountInfo(ctx)
	if err != nil {
		return nil, fmt.Errorf("account info: %w", err)
	}

	collateral, err := c.client.GetCollateral(ctx)
	if err != nil {
		return nil, fmt.Errorf("collateral: %w", err)
	}

	markets, err := c.client.GetMarkets(ctx)
	if err != nil {
		return nil, fmt.Errorf("markets: %w", err)
	}
	if len(markets) == 0 {
		return nil, fmt.Errorf("no tradable perpetual markets")
	}

	leverage := info.LeverageLimit
	if leverage <= 0 {
		leverage = 1
	}

	capital := collateral.NetEquityAvailable * leverage

	// Per-trade budget never exceeds the configured hard cap.
	minVolume := math.Min(c.config.Risk.MaxVolumeUSD, capital*c.config.Risk.MaxRiskPerTrade)

	snap := &models.AccountSnapshot{
		CapitalAvailable: capital,
		Leverage:         leverage,
		MakerFee:         info.FuturesMakerFee / 10000,
		MaxOpenOrders:    c.config.LimitOrder,
		MinVolumeDollar:  minVolume,
		Markets:          markets,
	}

	c.logger.Debug("Account snapshot: capital $%.2f, leverage %.0fx, maker fee %.4f%%, %d markets",
		snap.CapitalAvailable, snap.Leverage, snap.MakerFee*100, len(snap.Markets))
	return snap, nil
}
