package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/timevault-hq/timevault-executor/pkg/circuitbreaker"
	"github.com/timevault-hq/timevault-executor/pkg/compose"
	"github.com/timevault-hq/timevault-executor/pkg/config"
	"github.com/timevault-hq/timevault-executor/pkg/executor"
	"github.com/timevault-hq/timevault-executor/pkg/health"
	"github.com/timevault-hq/timevault-executor/pkg/ledger"
	"github.com/timevault-hq/timevault-executor/pkg/logger"
	"github.com/timevault-hq/timevault-executor/pkg/signer"
	"github.com/timevault-hq/timevault-executor/pkg/store"
)

const quoteCacheTTL = 5 * time.Second

func main() {
	// Load configuration from environment variables
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	appLog := logger.NewStdLogger(cfg.LoggerConfig.Coloring, cfg.LoggerConfig.Level)

	sender, err := signer.NewFromHex(cfg.PrivateKey)
	if err != nil {
		log.Fatalf("Failed to load executor key: %v", err)
	}
	var sponsor *signer.Signer
	if cfg.SponsorKey != "" {
		sponsor, err = signer.NewFromHex(cfg.SponsorKey)
		if err != nil {
			log.Fatalf("Failed to load sponsor key: %v", err)
		}
		appLog.Info("Sponsored submission enabled (sponsor: %s)", sponsor.Address().Hex())
	}

	// The in-process ledger backs local deployments and development. A
	// remote ledger endpoint would slot in behind the same client interface.
	if cfg.LedgerEndpoint != "" && cfg.LedgerEndpoint != "local" {
		log.Fatalf("Unsupported LEDGER_ENDPOINT %q: only local mode is available", cfg.LedgerEndpoint)
	}
	world := ledger.NewWorld()
	chain := ledger.New(sender.Address(), cfg.MinRelayerFee, ledger.SystemClock{})
	client := ledger.NewLocalClient(chain, world)

	// Strategy record store: sqlite when a path is configured, otherwise
	// in-memory.
	var strategies store.Store
	if cfg.StorePath != "" {
		strategies, err = store.OpenSQLite(cfg.StorePath)
		if err != nil {
			log.Fatalf("Failed to open strategy store at %s: %v", cfg.StorePath, err)
		}
		appLog.InfoWith(logger.Store, "Using sqlite strategy store at %s", cfg.StorePath)
	} else {
		strategies = store.NewMemory()
		appLog.InfoWith(logger.Store, "Using in-memory strategy store")
	}
	defer func() {
		if err := strategies.Close(); err != nil {
			appLog.ErrorWith(logger.Store, "Failed to close strategy store: %v", err)
		}
	}()

	swapAdapter := compose.NewSwapAdapter(world, quoteCacheTTL)
	composer := compose.NewComposer(swapAdapter, cfg.GasBudget, cfg.LiquidityBiasBps)

	breaker := circuitbreaker.New(
		cfg.CircuitBreaker.Enabled,
		cfg.CircuitBreaker.Threshold,
		cfg.CircuitBreaker.WindowDuration,
		cfg.CircuitBreaker.ResetTimeout,
		appLog,
	)

	service := executor.NewService(client, strategies, composer, sender, executor.Options{
		Sponsor:         sponsor,
		PollingInterval: cfg.PollingInterval,
		EventPageSize:   cfg.EventPageSize,
		RetryBase:       cfg.RetryBaseBackoff,
		RetryMax:        cfg.RetryMaxBackoff,
		PausedBackoff:   cfg.PausedBackoff,
		Breaker:         breaker,
		Logger:          appLog,
	})

	// Set up context with cancellation on SIGINT/SIGTERM
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-signalCh
		appLog.Notice("Received termination signal, shutting down gracefully...")
		cancel()
	}()

	go health.NewServer(cfg.MetricsPort, service, breaker, appLog).Start()

	appLog.Info("Starting the settlement executor (address: %s)", sender.Address().Hex())
	service.Start(ctx)

	<-ctx.Done()
	service.Stop()
	appLog.Info("Executor stopped")
}
