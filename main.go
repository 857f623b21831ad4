package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/LamsaLL/backbot/account"
	"github.com/LamsaLL/backbot/api"
	"github.com/LamsaLL/backbot/config"
	"github.com/LamsaLL/backbot/daemon"
	"github.com/LamsaLL/backbot/decision"
	"github.com/LamsaLL/backbot/logging"
	"github.com/LamsaLL/backbot/metrics"
	"github.com/LamsaLL/backbot/order"
	"github.com/LamsaLL/backbot/risk"
	"github.com/LamsaLL/backbot/strategy"
	"github.com/LamsaLL/backbot/trailing"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	godotenv.Load()

	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "start":
			if err := daemon.StartDaemon(os.Args[2:]); err != nil {
				fmt.Fprintf(os.Stderr, "start failed: %v\n", err)
				os.Exit(1)
			}
			return
		case "stop":
			if err := daemon.StopDaemon(); err != nil {
				fmt.Fprintf(os.Stderr, "stop failed: %v\n", err)
				os.Exit(1)
			}
			return
		case "restart":
			if err := daemon.RestartDaemon(os.Args[2:]); err != nil {
				fmt.Fprintf(os.Stderr, "restart failed: %v\n", err)
				os.Exit(1)
			}
			return
		}
	}

	cfg := config.LoadConfig()

	if cfg.DaemonMode && !daemon.IsDaemon() {
		if err := daemon.StartDaemon(os.Args[1:]); err != nil {
			fmt.Fprintf(os.Stderr, "daemon start failed: %v\n", err)
			os.Exit(1)
		}
		return
	}

	level := logging.LogLevel(cfg.LogLevel)
	if cfg.Debug {
		level = logging.DEBUG
	}
	logger, err := logging.NewLogger(cfg.LogFile, cfg.LogMaxSize, cfg.LogMaxBackups, cfg.LogMaxAge, cfg.LogCompress, level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if cfg.APIKey == "" || cfg.APISecret == "" {
		logger.Fatal("BACKPACK_API_KEY and BACKPACK_API_SECRET must be set")
	}

	logger.Info("Backbot starting: strategy %s, simulation %t, daemon %t",
		cfg.StrategyName, cfg.SimulationMode, daemon.IsDaemon())

	strat, err := strategy.New(cfg.StrategyName, cfg, logger)
	if err != nil {
		logger.Fatal("Strategy setup failed: %v", err)
	}

	client := api.NewClient(cfg, logger)
	acct := account.NewController(client, cfg, logger)
	orders := order.NewManager(client, cfg, logger)
	riskMgr := risk.NewManager(risk.LimitsFromConfig(cfg.Risk), logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// One startup snapshot validates credentials and supplies the
	// symbol list for the mark price stream.
	startupCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	snap, err := acct.Snapshot(startupCtx)
	cancel()
	if err != nil {
		logger.Fatal("Startup account check failed: %v", err)
	}
	logger.Info("Account ready: capital $%.2f across %d markets", snap.CapitalAvailable, len(snap.Markets))

	symbols := make([]string, 0, len(snap.Markets))
	for _, m := range snap.Markets {
		symbols = append(symbols, m.Symbol)
	}
	stream := api.NewStream(cfg.WSURL+"/stream", symbols, logger)
	go stream.Run(ctx)

	metricsSrv := metrics.Serve(cfg.StatusAddr, logger)

	decisionEngine := decision.NewEngine(client, acct, orders, riskMgr, strat, cfg, logger)
	trailingEngine := trailing.NewEngine(client, acct, orders, riskMgr, stream, cfg, logger)

	go decisionEngine.Run(ctx)
	go trailingEngine.Run(ctx)

	<-ctx.Done()
	logger.Info("Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warning("Metrics shutdown: %v", err)
	}
	logger.Info("Backbot stopped")
}
