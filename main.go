package main

import (
	"context"
	"encoding/json"
	"errors"
	"log" // standard log only for fatal errors before the logger is set up
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"capguard/config"
	"capguard/internal/adapters/binanceclient"
	"capguard/internal/adapters/logger"
	"capguard/internal/adapters/metrics"
	"capguard/internal/adapters/sqlite"
	"capguard/internal/adapters/statefile"
	"capguard/internal/domain"
	"capguard/internal/execution"
	"capguard/internal/safety"
)

func main() {
	// 1. Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}

	// 2. Logger
	appLogger := logger.NewStdLogger("trader", cfg.LogLevel)
	ctx := context.Background()
	appLogger.Info(ctx, "Logger initialized", map[string]interface{}{"level": cfg.LogLevel.String()})

	// 3. Trade journal and safety event log
	repo, err := sqlite.NewRepository(sqlite.Config{DBPath: cfg.DBPath, Logger: appLogger})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize repository: %v", err)
	}
	defer func() {
		if err := repo.Close(); err != nil {
			appLogger.Error(ctx, err, "Error closing repository")
		}
	}()

	// 4. Shared state files
	states, err := statefile.NewStore(statefile.StoreConfig{Path: cfg.RiskStatePath, Logger: appLogger})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize risk state store: %v", err)
	}
	heartbeat, err := statefile.NewHeartbeat(cfg.HeartbeatPath)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize heartbeat: %v", err)
	}
	pidfile, err := statefile.NewPIDFile(cfg.PIDFilePath)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize pidfile: %v", err)
	}
	if err := pidfile.Write(os.Getpid()); err != nil {
		log.Fatalf("FATAL: Failed to write pidfile: %v", err)
	}
	defer func() {
		if err := pidfile.Remove(); err != nil {
			appLogger.Error(ctx, err, "Error removing pidfile")
		}
	}()

	// 5. Broker client (trading session)
	broker, err := binanceclient.New(binanceclient.Config{
		APIKey:     cfg.APIKey,
		SecretKey:  cfg.SecretKey,
		UseTestnet: cfg.IsTestnet,
		Logger:     appLogger,
		SessionTag: "trader",
	})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize Binance client: %v", err)
	}

	// 6. Safety validator and execution gate
	validator, err := safety.NewValidator(cfg.Limits)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize safety validator: %v", err)
	}
	gate, err := execution.NewGate(execution.Config{
		Validator: validator,
		States:    states,
		Trades:    repo,
		Events:    repo,
		Broker:    broker,
		Logger:    appLogger,
	})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize execution gate: %v", err)
	}
	appLogger.Info(ctx, "Execution gate initialized")

	// Graceful shutdown on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		appLogger.Info(ctx, "Received shutdown signal", map[string]interface{}{"signal": sig.String()})
		cancel()
	}()

	// 7. Metrics endpoint
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		appLogger.Info(ctx, "Serving metrics", map[string]interface{}{"addr": cfg.MetricsAddr})
		if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Error(ctx, err, "Metrics server stopped")
		}
	}()

	// 8. Order ingress: signal sources POST candidate orders here; the
	// gate is the only path from this handler to the broker.
	ordersSrv := &http.Server{
		Addr:    cfg.OrdersAddr,
		Handler: ordersHandler(gate, appLogger),
	}
	go func() {
		appLogger.Info(ctx, "Serving order ingress", map[string]interface{}{"addr": cfg.OrdersAddr})
		if err := ordersSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Error(ctx, err, "Order ingress server stopped")
		}
	}()
	defer ordersSrv.Shutdown(context.Background())

	// 9. Trading cycle loop: heartbeat at the start and end of each cycle
	// so the watchdog can see this process is alive.
	if err := heartbeat.Beat(ctx); err != nil {
		appLogger.Error(ctx, err, "Failed to write initial heartbeat")
	}
	ticker := time.NewTicker(cfg.CycleInterval)
	defer ticker.Stop()

	appLogger.Info(ctx, "Trading process running", map[string]interface{}{
		"pid":           os.Getpid(),
		"cycleInterval": cfg.CycleInterval.String(),
	})
	for {
		select {
		case <-ctx.Done():
			appLogger.Info(ctx, "Trading process stopped")
			return
		case <-ticker.C:
			if err := heartbeat.Beat(ctx); err != nil {
				appLogger.Error(ctx, err, "Failed to write cycle-start heartbeat")
			}
			if err := broker.Ping(ctx); err != nil {
				appLogger.Warn(ctx, "Broker ping failed", map[string]interface{}{"error": err.Error()})
			}
			if err := heartbeat.Beat(ctx); err != nil {
				appLogger.Error(ctx, err, "Failed to write cycle-end heartbeat")
			}
		}
	}
}

// ordersHandler accepts a JSON order and runs it through the gate.
func ordersHandler(gate *execution.Gate, appLogger *logger.StdLogger) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/orders", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var order domain.Order
		if err := json.NewDecoder(r.Body).Decode(&order); err != nil {
			http.Error(w, "invalid order JSON: "+err.Error(), http.StatusBadRequest)
			return
		}

		result, err := gate.Submit(r.Context(), &order)
		if err != nil {
			// Infrastructure failure: the gate failed closed.
			appLogger.Error(r.Context(), err, "Order submission failed closed")
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if !result.Success {
			w.WriteHeader(http.StatusUnprocessableEntity)
		}
		if err := json.NewEncoder(w).Encode(result); err != nil {
			appLogger.Error(r.Context(), err, "Failed to encode order result")
		}
	})
	return mux
}
