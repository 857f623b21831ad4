package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/LamsaLL/backbot/logging"
)

var (
	DecisionCycles = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "backbot_decision_cycles_total",
		Help: "Completed decision cycles.",
	})
	DecisionErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "backbot_decision_errors_total",
		Help: "Decision cycles that ended with an error.",
	})
	TradingHalts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "backbot_trading_halts_total",
		Help: "Cycles skipped because the daily loss limit was hit.",
	})
	OrdersPlaced = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "backbot_orders_placed_total",
		Help: "Orders placed, by kind.",
	}, []string{"kind"})
	OrdersRejected = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "backbot_orders_rejected_total",
		Help: "Candidate positions rejected by risk validation.",
	})
	TrailingUpdates = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "backbot_trailing_updates_total",
		Help: "Trailing stop orders moved.",
	})
	ForceCloses = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "backbot_force_closes_total",
		Help: "Positions force closed for illiquidity.",
	})
	DailyPnL = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "backbot_daily_pnl_usd",
		Help: "Realized P&L for the current day.",
	})
	OpenPositions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "backbot_open_positions",
		Help: "Open positions at the last cycle.",
	})
)

func init() {
	prometheus.MustRegister(
		DecisionCycles, DecisionErrors, TradingHalts,
		OrdersPlaced, OrdersRejected,
		TrailingUpdates, ForceCloses,
		DailyPnL, OpenPositions,
	)
}

// Serve exposes /metrics on addr. Errors other than server shutdown
// are logged, not fatal; the bot trades fine without metrics.
func Serve(addr string, log logging.LoggerInterface) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warning("Metrics server stopped: %v", err)
		}
	}()
	log.Info("Metrics listening on %s", addr)
	return srv
}
