package strategy

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/LamsaLL/backbot/config"
	"github.com/LamsaLL/backbot/logging"
	"github.com/LamsaLL/backbot/models"
)

// ErrUnknownStrategy is returned when no strategy is registered under
// the requested name.
var ErrUnknownStrategy = errors.New("unknown strategy")

// Strategy turns candle history into a per-symbol verdict. Analyze is
// called once per symbol per decision cycle; implementations may keep
// per-symbol state (entry cooldowns) across calls.
type Strategy interface {
	Name() string
	Analyze(candles []models.Candle, market *models.MarketSpec, snapshot *models.AccountSnapshot, symbolPositions, allPositions []models.Position) (*models.Verdict, error)
}

type factory func(cfg *config.Config, log logging.LoggerInterface) Strategy

var registry = map[string]factory{
	"BBEMA_VOLUME_FARMER": func(cfg *config.Config, log logging.LoggerInterface) Strategy {
		return NewBBEMAVolumeFarmer(cfg.BBEMA, log)
	},
	"MA_EMA_CROSS": func(cfg *config.Config, log logging.LoggerInterface) Strategy {
		return NewMAEMACross(log)
	},
}

// New constructs the named strategy. Names are case-insensitive; an
// unregistered name is a configuration error.
func New(name string, cfg *config.Config, log logging.LoggerInterface) (Strategy, error) {
	f, ok := registry[strings.ToUpper(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %q (available: %s)", ErrUnknownStrategy, name, strings.Join(Names(), ", "))
	}
	return f(cfg, log), nil
}

// Names lists the registered strategy names, sorted.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func neutral(symbol string, price float64, reason string) *models.Verdict {
	return &models.Verdict{
		Action:      models.ActionNeutral,
		Symbol:      symbol,
		MarketPrice: price,
		Reason:      reason,
	}
}
