// The watchdog runs as its own OS process so a hang or crash inside the
// trading process cannot prevent supervision.
package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	"capguard/config"
	"capguard/internal/adapters/binanceclient"
	"capguard/internal/adapters/logger"
	"capguard/internal/adapters/proc"
	"capguard/internal/adapters/sqlite"
	"capguard/internal/adapters/statefile"
	"capguard/internal/safety"
	"capguard/internal/watchdog"
)

func main() {
	// 1. Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}

	// 2. Logger
	appLogger := logger.NewStdLogger("watchdog", cfg.LogLevel)
	ctx := context.Background()

	// 3. Safety event log (shared database, WAL mode)
	repo, err := sqlite.NewRepository(sqlite.Config{DBPath: cfg.DBPath, Logger: appLogger})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize repository: %v", err)
	}
	defer repo.Close()

	// 4. Shared state files
	states, err := statefile.NewStore(statefile.StoreConfig{Path: cfg.RiskStatePath, Logger: appLogger})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize risk state store: %v", err)
	}
	heartbeat, err := statefile.NewHeartbeat(cfg.HeartbeatPath)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize heartbeat reader: %v", err)
	}
	pidfile, err := statefile.NewPIDFile(cfg.PIDFilePath)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize pidfile reader: %v", err)
	}

	// 5. Broker client on the watchdog's own session, so failures or
	// throttling on the trading connection cannot blind the watchdog.
	broker, err := binanceclient.New(binanceclient.Config{
		APIKey:     cfg.WatchdogAPIKey,
		SecretKey:  cfg.WatchdogSecretKey,
		UseTestnet: cfg.IsTestnet,
		Logger:     appLogger,
		SessionTag: "watchdog",
	})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize Binance client: %v", err)
	}

	// 6. Drawdown breaker and watchdog
	breaker, err := safety.NewBreaker(cfg.Limits.DrawdownThreshold, states, repo, appLogger)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize drawdown breaker: %v", err)
	}
	wd, err := watchdog.New(watchdog.Config{
		PollInterval:     cfg.WatchdogPollInterval,
		HeartbeatTimeout: cfg.HeartbeatTimeout,
		InitialEquity:    cfg.InitialEquity,
	}, watchdog.Deps{
		Heartbeat: heartbeat,
		PID:       pidfile,
		States:    states,
		Events:    repo,
		Broker:    broker,
		Closer:    broker,
		Proc:      proc.NewController(),
		Breaker:   breaker,
		Logger:    appLogger,
	})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize watchdog: %v", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		appLogger.Info(ctx, "Received shutdown signal", map[string]interface{}{"signal": sig.String()})
		cancel()
	}()

	if err := wd.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("FATAL: Watchdog exited with error: %v", err)
	}
}
