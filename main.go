package main

import (
	"context"
	"errors"
	"log" // Use standard log only for initial fatal errors before logger is set up
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"signalExecBot/config"
	"signalExecBot/internal/adapters/binanceclient"
	"signalExecBot/internal/adapters/logger"
	"signalExecBot/internal/adapters/pacifica"
	"signalExecBot/internal/adapters/sqlite"
	"signalExecBot/internal/adapters/wsfeed"
	"signalExecBot/internal/app"
	"signalExecBot/internal/domain"
	"signalExecBot/internal/metrics"
	"signalExecBot/internal/ports"
	"signalExecBot/internal/risk"
	"signalExecBot/internal/rules"
	"signalExecBot/internal/signing"
)

func main() {
	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Initialize Logger
	appLogger := logger.New(cfg.LogLevel)
	appLogger.Info(ctx, "Logger initialized", map[string]interface{}{"level": cfg.LogLevel.String()})

	// 3. Initialize Repository (Database Adapter)
	repo, err := sqlite.NewRepository(sqlite.Config{
		DBPath: cfg.DBPath,
		Logger: appLogger,
	})
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize database repository")
		log.Fatalf("FATAL: Failed to initialize database repository: %v", err)
	}
	defer func() {
		if err := repo.Close(); err != nil {
			appLogger.Error(context.Background(), err, "Error closing database repository")
		}
	}()

	// 4. Load Symbol Trading Rules
	loader, err := newRuleLoader(cfg, appLogger)
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize rule loader")
		log.Fatalf("FATAL: Failed to initialize rule loader: %v", err)
	}
	book, err := rules.NewBook(ctx, loader, appLogger)
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to load symbol trading rules")
		log.Fatalf("FATAL: Failed to load symbol trading rules: %v", err)
	}
	appLogger.Info(ctx, "Symbol trading rules loaded", map[string]interface{}{"source": cfg.RulesSource, "version": book.Version()})

	// 5. Initialize Request Signer
	signer, err := signing.New(signing.Config{
		PrivateKey:   cfg.AgentPrivateKey,
		Account:      cfg.AccountAddress,
		APIKey:       cfg.APIKey,
		ExpiryWindow: cfg.SignExpiryWindow,
		MaxClockSkew: cfg.MaxClockSkew,
	})
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize request signer")
		log.Fatalf("FATAL: Failed to initialize request signer: %v", err)
	}
	appLogger.Info(ctx, "Request signer initialized", map[string]interface{}{
		"agent":   signer.PublicKey(),
		"account": signer.Account(),
	})

	requests := pacifica.NewRequestBuilder(signer)

	// 6. Initialize Exchange Gateway
	gateway, err := pacifica.New(pacifica.Config{
		BaseURL:   cfg.APIURL,
		Account:   signer.Account(),
		Timeout:   cfg.HTTPTimeout,
		RateLimit: cfg.RateLimitRPS,
		Burst:     1,
		Clock:     signer,
		Logger:    appLogger,
	})
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize exchange gateway")
		log.Fatalf("FATAL: Failed to initialize exchange gateway: %v", err)
	}

	// 7. Initialize Risk Gate
	gate, err := risk.NewGate(risk.Config{
		Blacklist:        cfg.SymbolBlacklist,
		Cooldown:         cfg.Cooldown,
		MinStrength:      cfg.MinSignalStrength,
		VolumeMultiplier: cfg.VolumeMultiplier,
		StopLossATR:      cfg.StopLossATRMultiplier,
		TakeProfitATR:    cfg.TakeProfitATRMultiplier,
		CapitalAtRiskUSD: cfg.CapitalAtRiskUSD,
		Leverage:         cfg.Leverage,
		MaxTradesPerDay:  cfg.MaxTradesPerSymbolDay,
		MinOrderUSD:      cfg.MinOrderSizeUSD,
		MaxOrderUSD:      cfg.MaxOrderSizeUSD,
		MaxExposureUSD:   cfg.MaxTotalExposureUSD,
		MaxDailyLossUSD:  cfg.MaxDailyLossUSD,
	}, appLogger)
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize risk gate")
		log.Fatalf("FATAL: Failed to initialize risk gate: %v", err)
	}

	// 8. Initialize Execution Coordinator and Reconciler
	locks := app.NewSymbolLocks()
	pending := app.NewPendingRegistry()

	coordinator, err := app.NewExecutionCoordinator(app.CoordinatorConfig{
		Retry: app.RetryPolicy{
			MaxAttempts: cfg.RetryMaxAttempts,
			BaseDelay:   cfg.RetryBaseDelay,
			MaxDelay:    cfg.RetryMaxDelay,
		},
		SlippagePercent: cfg.SlippagePercent,
	}, app.CoordinatorDeps{
		Logger:     appLogger,
		Gate:       gate,
		Rules:      book,
		Signer:     requests,
		Gateway:    gateway,
		Positions:  repo,
		Trades:     repo,
		Executions: repo,
		Locks:      locks,
		Pending:    pending,
	})
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize execution coordinator")
		log.Fatalf("FATAL: Failed to initialize execution coordinator: %v", err)
	}

	reconciler, err := app.NewReconciler(app.ReconcilerConfig{
		Interval:        cfg.ReconcileInterval,
		AmountTolerance: cfg.ReconcileAmountTolerance,
		PriceTolerance:  cfg.ReconcilePriceTolerance,
		AdoptOrphans:    cfg.ReconcileAdoptOrphans,
		PendingGrace:    cfg.ReconcilePendingGrace,
		DefaultLeverage: cfg.Leverage,
	}, appLogger, gateway, requests, repo, repo, locks, pending)
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize position reconciler")
		log.Fatalf("FATAL: Failed to initialize position reconciler: %v", err)
	}

	// 9. Initialize Signal Feed
	feed, err := wsfeed.New(wsfeed.Config{
		URL:    cfg.SignalFeedURL,
		Logger: appLogger,
	})
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize signal feed")
		log.Fatalf("FATAL: Failed to initialize signal feed: %v", err)
	}

	// 10. Start
	metricsSrv, err := metrics.Serve(cfg.MetricsAddr, appLogger)
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to start metrics endpoint")
		log.Fatalf("FATAL: Failed to start metrics endpoint: %v", err)
	}
	appLogger.Info(ctx, "Metrics endpoint started", map[string]interface{}{"addr": metricsSrv.Addr})

	dispatcher := app.NewDispatcher(ctx, coordinator, appLogger, cfg.SignalQueueSize)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := reconciler.Run(ctx); err != nil && !errors.Is(err, ports.ErrContextCanceled) {
			appLogger.Error(ctx, err, "Position reconciler exited with error")
		}
	}()

	appLogger.Info(ctx, "Signal pipeline started", map[string]interface{}{"feed": cfg.SignalFeedURL})
	err = feed.Subscribe(ctx, func(sig domain.Signal) {
		if err := dispatcher.Dispatch(sig); err != nil {
			appLogger.Warn(ctx, "Signal dropped", map[string]interface{}{"symbol": sig.Symbol, "error": err.Error()})
		}
	})
	if err != nil && !errors.Is(err, ports.ErrContextCanceled) {
		appLogger.Error(ctx, err, "Signal feed exited with error")
	}

	// 11. Shutdown: drain queued signals, then stop background loops.
	dispatcher.Close()
	wg.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		appLogger.Error(shutdownCtx, err, "Error stopping metrics endpoint")
	}

	appLogger.Info(context.Background(), "Application finished gracefully.")
}

// newRuleLoader selects where symbol trading rules come from.
func newRuleLoader(cfg *config.Config, appLogger ports.Logger) (rules.Loader, error) {
	if cfg.RulesSource == config.RulesSourceBinance {
		client, err := binanceclient.New(binanceclient.Config{
			BaseURL:            cfg.BinanceAPIURL,
			DefaultMaxLeverage: cfg.DefaultMaxLeverage,
			Logger:             appLogger,
		})
		if err != nil {
			return nil, err
		}
		return client, nil
	}
	return rules.FileLoader{Path: cfg.RulesPath, DefaultMaxLeverage: cfg.DefaultMaxLeverage}, nil
}
