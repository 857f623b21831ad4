package risk

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/LamsaLL/backbot/config"
	"github.com/LamsaLL/backbot/logging"
	"github.com/LamsaLL/backbot/models"
)

// Limits defines static configuration for risk controls.
type Limits struct {
	MaxRiskPerTrade       float64 // max fraction of capital per trade
	MaxDailyLoss          float64 // daily loss fraction that halts new entries
	MaxTotalExposure      float64 // total notional exposure fraction cap
	MaxPositionsPerMarket int     // max positions per symbol
	MaxOpenPositions      int     // max total open positions
	MinVolumeUSD          float64 // minimum trade size in USD
	MaxVolumeUSD          float64 // maximum trade size in USD
	StopLossRequired      bool    // reject entries with no stop
	MaxLeverage           float64 // maximum leverage allowed
}

// LimitsFromConfig maps the environment-driven risk block onto Limits.
func LimitsFromConfig(rc config.RiskConfig) Limits {
	return Limits{
		MaxRiskPerTrade:       rc.MaxRiskPerTrade,
		MaxDailyLoss:          rc.MaxDailyLoss,
		MaxTotalExposure:      rc.MaxTotalExposure,
		MaxPositionsPerMarket: rc.MaxPositionsPerMarket,
		MaxOpenPositions:      rc.MaxOpenPositions,
		MinVolumeUSD:          rc.MinVolumeUSD,
		MaxVolumeUSD:          rc.MaxVolumeUSD,
		StopLossRequired:      rc.StopLossRequired,
		MaxLeverage:           rc.MaxLeverage,
	}
}

// Result is the outcome of one validation ladder run. A rejection is
// normal control flow, not an error.
type Result struct {
	IsValid         bool
	Reason          string
	SuggestedVolume float64 // 0 when no actionable suggestion exists
	RiskPercentage  float64 // realized risk percent on success
}

// DayPnL is one calendar date's realized P&L entry.
type DayPnL struct {
	Date       string // YYYY-MM-DD
	TotalPnL   decimal.Decimal
	TradeCount int
}

// Metrics is a point-in-time aggregate view for cycle logging.
type Metrics struct {
	TotalPositions     int
	TotalExposure      float64
	ExposurePercentage float64
	DailyPnL           float64
	DailyPnLPercentage float64
	RemainingRiskCap   float64
	CanOpenNewPosition bool
}

const ledgerRetentionDays = 30

// Manager validates candidate positions against configured limits and
// tracks a rolling daily P&L ledger used to halt trading. The ledger is
// the only state that survives across validation calls.
type Manager struct {
	mu     sync.Mutex
	limits Limits
	daily  []DayPnL // chronological by call order, 1 entry per date
	logger logging.LoggerInterface
	now    func() time.Time
}

// NewManager creates a risk manager with the given limits.
func NewManager(limits Limits, logger logging.LoggerInterface) *Manager {
	m := &Manager{
		limits: limits,
		logger: logger,
		now:    time.Now,
	}
	logger.Info("RiskManager initialized: risk/trade %.1f%%, daily loss %.1f%%, exposure %.1f%%, positions %d, volume $%.0f-$%.0f, stop required %t, leverage %.0fx",
		limits.MaxRiskPerTrade*100, limits.MaxDailyLoss*100, limits.MaxTotalExposure*100,
		limits.MaxOpenPositions, limits.MinVolumeUSD, limits.MaxVolumeUSD,
		limits.StopLossRequired, limits.MaxLeverage)
	return m
}

// ValidateNewPosition runs the full validation ladder for a candidate
// position. The first failing check returns, carrying a reason and,
// where computable, a suggested volume satisfying that constraint.
func (m *Manager) ValidateNewPosition(symbol string, volume, entryPrice, stopLoss, capitalAvailable float64, existing []models.Position, leverage float64) Result {
	m.logger.Debug("Validating position: %s volume $%.2f entry %.4f", symbol, volume, entryPrice)
	lim := m.GetLimits()

	if res := m.ValidatePositionSize(volume, capitalAvailable); !res.IsValid {
		m.logger.Info("Volume validation failed for %s: %s", symbol, res.Reason)
		return res
	}

	if lim.StopLossRequired && stopLoss <= 0 {
		m.logger.Info("Stop loss validation failed for %s: required but not provided", symbol)
		return Result{IsValid: false, Reason: "stop loss is required for all trades"}
	}

	if res := m.checkDailyLossLimit(capitalAvailable); !res.IsValid {
		m.logger.Info("Daily loss limit check failed for %s: %s", symbol, res.Reason)
		return res
	}

	if res := m.checkPositionLimits(symbol, existing); !res.IsValid {
		m.logger.Info("Position limit check failed for %s: %s", symbol, res.Reason)
		return res
	}

	if res := m.checkTotalExposure(volume, existing, capitalAvailable); !res.IsValid {
		m.logger.Info("Exposure check failed for %s: %s", symbol, res.Reason)
		return res
	}

	if leverage > lim.MaxLeverage {
		reason := fmt.Sprintf("leverage %.0fx exceeds maximum allowed %.0fx", leverage, lim.MaxLeverage)
		m.logger.Info("Leverage check failed for %s: %s", symbol, reason)
		return Result{IsValid: false, Reason: reason}
	}

	// Realized risk: stop distance scaled to contracts, or a flat 5%
	// of volume heuristic when no stop exists.
	riskAmount := volume * 0.05
	if stopLoss > 0 && entryPrice > 0 {
		riskAmount = math.Abs(entryPrice-stopLoss) * (volume / entryPrice)
	}
	riskPct := riskAmount / capitalAvailable

	m.logger.Info("Position validation passed for %s: risk %.2f%%", symbol, riskPct*100)
	return Result{IsValid: true, RiskPercentage: riskPct * 100, SuggestedVolume: volume}
}

// ValidatePositionSize checks volume bounds and the per-trade risk cap.
func (m *Manager) ValidatePositionSize(volume, capitalAvailable float64) Result {
	lim := m.GetLimits()
	maxRiskAmount := capitalAvailable * lim.MaxRiskPerTrade

	if volume < lim.MinVolumeUSD {
		return Result{
			IsValid:         false,
			Reason:          fmt.Sprintf("position size too small, minimum $%.0f", lim.MinVolumeUSD),
			SuggestedVolume: lim.MinVolumeUSD,
		}
	}

	if volume > lim.MaxVolumeUSD {
		return Result{
			IsValid:         false,
			Reason:          fmt.Sprintf("position size too large, maximum $%.0f", lim.MaxVolumeUSD),
			SuggestedVolume: lim.MaxVolumeUSD,
		}
	}

	if volume > maxRiskAmount {
		return Result{
			IsValid:         false,
			Reason:          fmt.Sprintf("position exceeds %.1f%% risk limit", lim.MaxRiskPerTrade*100),
			SuggestedVolume: math.Floor(maxRiskAmount),
			RiskPercentage:  volume / capitalAvailable * 100,
		}
	}

	return Result{IsValid: true, RiskPercentage: volume / capitalAvailable * 100}
}

func (m *Manager) checkDailyLossLimit(capitalAvailable float64) Result {
	lim := m.GetLimits()
	pnl, _ := m.todayPnL()
	if pnl >= 0 {
		return Result{IsValid: true}
	}
	lossPct := math.Abs(pnl) / capitalAvailable
	if lossPct >= lim.MaxDailyLoss {
		return Result{IsValid: false, Reason: fmt.Sprintf("daily loss limit reached: %.2f%%", lossPct*100)}
	}
	return Result{IsValid: true}
}

func (m *Manager) checkPositionLimits(symbol string, existing []models.Position) Result {
	lim := m.GetLimits()
	inMarket := 0
	for _, pos := range existing {
		if pos.Symbol == symbol {
			inMarket++
		}
	}

	if len(existing) >= lim.MaxOpenPositions {
		return Result{IsValid: false, Reason: fmt.Sprintf("maximum open positions reached: %d", lim.MaxOpenPositions)}
	}
	if inMarket >= lim.MaxPositionsPerMarket {
		return Result{IsValid: false, Reason: fmt.Sprintf("maximum positions in %s reached: %d", symbol, lim.MaxPositionsPerMarket)}
	}
	return Result{IsValid: true}
}

func (m *Manager) checkTotalExposure(newVolume float64, existing []models.Position, capitalAvailable float64) Result {
	current := 0.0
	for _, pos := range existing {
		current += pos.Notional()
	}

	lim := m.GetLimits()
	exposurePct := (current + newVolume) / capitalAvailable
	if exposurePct > lim.MaxTotalExposure {
		headroom := capitalAvailable*lim.MaxTotalExposure - current
		return Result{
			IsValid:         false,
			Reason:          fmt.Sprintf("total exposure would exceed %.1f%%", lim.MaxTotalExposure*100),
			SuggestedVolume: math.Max(0, math.Floor(headroom)),
		}
	}
	return Result{IsValid: true}
}

// CalculateSafePositionSize returns the largest volume whose loss at the
// stop stays within riskFraction of capital, clamped to MaxVolumeUSD.
// With no stop, or a stop equal to entry, it falls back to a flat
// fraction of capital (guards the division by zero).
func (m *Manager) CalculateSafePositionSize(entryPrice, stopLoss, capitalAvailable, riskFraction float64) float64 {
	lim := m.GetLimits()
	if riskFraction <= 0 {
		riskFraction = lim.MaxRiskPerTrade
	}
	if stopLoss <= 0 || stopLoss == entryPrice {
		return capitalAvailable * riskFraction
	}

	riskPerUnit := math.Abs(entryPrice - stopLoss)
	maxRiskAmount := capitalAvailable * riskFraction
	maxVolume := maxRiskAmount / riskPerUnit * entryPrice

	return math.Min(maxVolume, lim.MaxVolumeUSD)
}

// UpdateDailyPnL upserts today's ledger entry with a realized P&L delta
// from a closed trade, then evicts entries beyond the retention window.
func (m *Manager) UpdateDailyPnL(pnl float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	today := m.today()
	delta := decimal.NewFromFloat(pnl)

	found := false
	for i := range m.daily {
		if m.daily[i].Date == today {
			m.daily[i].TotalPnL = m.daily[i].TotalPnL.Add(delta)
			m.daily[i].TradeCount++
			found = true
			break
		}
	}
	if !found {
		m.daily = append(m.daily, DayPnL{Date: today, TotalPnL: delta, TradeCount: 1})
	}

	// Entries arrive in chronological call order, so truncating by
	// count keeps the most recent dates.
	if len(m.daily) > ledgerRetentionDays {
		m.daily = m.daily[len(m.daily)-ledgerRetentionDays:]
	}

	m.logger.Info("Daily P&L updated: %s$%s", signPrefix(pnl), delta.Abs().StringFixed(2))
}

// GetRiskMetrics returns aggregate risk figures for cycle logging.
func (m *Manager) GetRiskMetrics(existing []models.Position, capitalAvailable float64) Metrics {
	exposure := 0.0
	for _, pos := range existing {
		exposure += pos.Notional()
	}

	lim := m.GetLimits()
	pnl, ok := m.todayPnL()
	pnlPct := 0.0
	exposurePct := 0.0
	if capitalAvailable > 0 {
		exposurePct = exposure / capitalAvailable * 100
		if ok {
			pnlPct = pnl / capitalAvailable * 100
		}
	}

	return Metrics{
		TotalPositions:     len(existing),
		TotalExposure:      exposure,
		ExposurePercentage: exposurePct,
		DailyPnL:           pnl,
		DailyPnLPercentage: pnlPct,
		RemainingRiskCap:   math.Max(0, capitalAvailable*lim.MaxRiskPerTrade),
		CanOpenNewPosition: len(existing) < lim.MaxOpenPositions,
	}
}

// ShouldHaltTrading reports whether today's losses have hit the daily
// cap. It halts all new entries for the rest of the day; existing
// positions are left to the trailing engine.
func (m *Manager) ShouldHaltTrading(capitalAvailable float64) (bool, string) {
	pnl, ok := m.todayPnL()
	if !ok || pnl >= 0 {
		return false, ""
	}
	lossPct := math.Abs(pnl) / capitalAvailable
	if lossPct >= m.GetLimits().MaxDailyLoss {
		return true, fmt.Sprintf("daily loss limit exceeded: %.2f%%", lossPct*100)
	}
	return false, ""
}

// GetLimits returns a copy of the current limits.
func (m *Manager) GetLimits() Limits {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.limits
}

// UpdateLimits overwrites the current limits.
func (m *Manager) UpdateLimits(limits Limits) {
	m.mu.Lock()
	m.limits = limits
	m.mu.Unlock()
	m.logger.Info("Risk limits updated")
}

// GetDailyPnLHistory returns a copy of the retained ledger.
func (m *Manager) GetDailyPnLHistory() []DayPnL {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]DayPnL, len(m.daily))
	copy(out, m.daily)
	return out
}

// ResetDailyPnL drops today's entry. Used by tests and by a manual
// operator reset; older dates are untouched.
func (m *Manager) ResetDailyPnL() {
	m.mu.Lock()
	defer m.mu.Unlock()

	today := m.today()
	kept := m.daily[:0]
	for _, day := range m.daily {
		if day.Date != today {
			kept = append(kept, day)
		}
	}
	m.daily = kept
	m.logger.Info("Daily P&L reset for %s", today)
}

func (m *Manager) today() string {
	return m.now().UTC().Format("2006-01-02")
}

// todayPnL returns today's cumulative P&L as float64 and whether an
// entry exists.
func (m *Manager) todayPnL() (float64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	today := m.today()
	for _, day := range m.daily {
		if day.Date == today {
			f, _ := day.TotalPnL.Float64()
			return f, true
		}
	}
	return 0, false
}

func signPrefix(v float64) string {
	if v >= 0 {
		return "+"
	}
	return "-"
}
