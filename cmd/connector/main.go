package main

import (
	"context"
	"flag"
	"os"
	"time"

	"okx_connector/internal/bootstrap"
	"okx_connector/internal/config"
	"okx_connector/internal/connector"
	"okx_connector/internal/core"
	"okx_connector/internal/okx"
	"okx_connector/internal/store"
	"okx_connector/pkg/concurrency"
	"okx_connector/pkg/logging"
	"okx_connector/pkg/telemetry"
)

var configFile = flag.String("config", "configs/config.yaml", "Path to configuration file")

func main() {
	flag.Parse()

	if envConfig := os.Getenv("CONFIG_FILE"); envConfig != "" {
		*configFile = envConfig
	}

	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		logging.Fatal("Failed to load configuration", "config", *configFile, "error", err)
	}

	logger, err := logging.NewZapLogger(cfg.System.LogLevel)
	if err != nil {
		logging.Fatal("Failed to initialize logger", "error", err)
	}
	logging.SetGlobalLogger(logger)

	var telOpts []telemetry.Option
	if cfg.Telemetry.DebugExport {
		telOpts = append(telOpts, telemetry.WithDebugExport())
	}
	tel, err := telemetry.Setup("okx_connector", telOpts...)
	if err != nil {
		logger.Fatal("Failed to initialize telemetry", "error", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(ctx); err != nil {
			logger.Warn("Telemetry shutdown failed", "error", err)
		}
	}()

	auth := okx.NewAuth(cfg.Venue.APIKey, cfg.Venue.SecretKey, cfg.Venue.Passphrase)
	client := okx.NewClient(cfg.Venue.BaseURL, auth, cfg.Venue.RateLimit, cfg.Venue.RateBurst, logger)
	stream := okx.NewUserStream(cfg.Venue.WSURL, auth, logger)

	pool := concurrency.NewWorkerPool(concurrency.PoolConfig{
		Name:        "ReconcilePool",
		MaxWorkers:  10,
		MaxCapacity: 1000,
	}, logger)
	defer pool.Stop()

	var journal *store.Journal
	if cfg.System.JournalPath != "" {
		journal, err = store.NewJournal(cfg.System.JournalPath)
		if err != nil {
			logger.Fatal("Failed to open trade journal", "path", cfg.System.JournalPath, "error", err)
		}
		defer journal.Close()
	} else {
		logger.Warn("Trade journal disabled, fill dedup will not survive restarts")
	}

	conn := connector.New(cfg, client, stream, pool, journal, logger)

	logger.Info("Validating venue credentials")
	checkCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := conn.CheckNetwork(checkCtx); err != nil {
		cancel()
		logger.Fatal("Venue is unreachable, check connectivity and credentials", "error", err)
	}
	cancel()

	health := bootstrap.NewHealthManager()
	health.Register("venue", func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return conn.CheckNetwork(ctx)
	})

	runners := []bootstrap.Runner{
		bootstrap.RunnerFunc(conn.Run),
		bootstrap.RunnerFunc(conn.RunUserStream),
	}
	if cfg.Telemetry.EnableMetrics {
		runners = append(runners, bootstrap.NewOpsServer(cfg.Telemetry.MetricsPort, health, logger))
	}

	app := bootstrap.NewApp(logger)
	runErr := app.Run(runners...)

	if cfg.System.CancelOnExit {
		cancelOpenOrders(conn, logger)
	}

	if runErr != nil {
		os.Exit(1)
	}
}

// cancelOpenOrders best-effort cancels whatever is still in flight before
// the process exits.
func cancelOpenOrders(conn *connector.Connector, logger core.ILogger) {
	open := conn.InFlightOrders()
	if len(open) == 0 {
		return
	}

	logger.Info("Canceling open orders before exit", "count", len(open))
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	for clientOrderID := range open {
		if _, err := conn.CancelOrder(ctx, clientOrderID); err != nil {
			logger.Warn("Exit cancel failed", "client_order_id", clientOrderID, "error", err)
		}
	}
}
