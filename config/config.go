package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"capguard/internal/adapters/logger"
	"capguard/internal/safety"
)

// Config holds all application configuration for both processes.
type Config struct {
	// Broker API. The watchdog uses its own key pair so that throttling
	// or failures on the trading process's connection cannot blind it;
	// when unset it falls back to the primary pair but still runs on a
	// separate client instance and session tag.
	APIKey            string
	SecretKey         string
	WatchdogAPIKey    string
	WatchdogSecretKey string
	IsTestnet         bool

	// Shared files and storage.
	DBPath        string
	RiskStatePath string
	HeartbeatPath string
	PIDFilePath   string

	// Trading process.
	CycleInterval time.Duration
	MetricsAddr   string
	OrdersAddr    string

	// Watchdog.
	WatchdogPollInterval time.Duration
	HeartbeatTimeout     time.Duration
	InitialEquity        float64

	// Safety policy.
	Limits safety.Limits

	// Logging.
	LogLevel logger.LogLevel
}

// LoadConfig loads configuration from environment variables (.env file),
// then overlays the safety limits from SAFETY_LIMITS_FILE if set.
func LoadConfig() (*Config, error) {
	// Load .env if present; pure env vars are fine too.
	_ = godotenv.Load()

	cfg := &Config{}
	var errs []string

	cfg.APIKey = getEnv("BINANCE_API_KEY", "")
	cfg.SecretKey = getEnv("BINANCE_API_SECRET", "")
	cfg.WatchdogAPIKey = getEnv("WATCHDOG_API_KEY", cfg.APIKey)
	cfg.WatchdogSecretKey = getEnv("WATCHDOG_API_SECRET", cfg.SecretKey)
	cfg.IsTestnet = getEnvAsBool("IS_TESTNET", true) // default to testnet for safety

	if cfg.APIKey == "" {
		errs = append(errs, "BINANCE_API_KEY must be set")
	}
	if cfg.SecretKey == "" {
		errs = append(errs, "BINANCE_API_SECRET must be set")
	}

	cfg.DBPath = getEnv("DB_PATH", "./data/capguard.db")
	cfg.RiskStatePath = getEnv("RISK_STATE_PATH", "./data/risk_state.json")
	cfg.HeartbeatPath = getEnv("HEARTBEAT_PATH", "./data/heartbeat")
	cfg.PIDFilePath = getEnv("PID_FILE_PATH", "./data/trader.pid")

	cycleSeconds := getEnvAsInt("CYCLE_INTERVAL_SECONDS", 30)
	if cycleSeconds <= 0 {
		errs = append(errs, "CYCLE_INTERVAL_SECONDS must be positive")
	}
	cfg.CycleInterval = time.Duration(cycleSeconds) * time.Second

	cfg.MetricsAddr = getEnv("METRICS_ADDR", ":9107")
	cfg.OrdersAddr = getEnv("ORDERS_ADDR", "127.0.0.1:9108")

	pollSeconds := getEnvAsInt("WATCHDOG_POLL_SECONDS", 10)
	if pollSeconds <= 0 {
		errs = append(errs, "WATCHDOG_POLL_SECONDS must be positive")
	}
	cfg.WatchdogPollInterval = time.Duration(pollSeconds) * time.Second

	timeoutSeconds := getEnvAsInt("HEARTBEAT_TIMEOUT_SECONDS", 60)
	if timeoutSeconds <= 0 {
		errs = append(errs, "HEARTBEAT_TIMEOUT_SECONDS must be positive")
	}
	cfg.HeartbeatTimeout = time.Duration(timeoutSeconds) * time.Second

	var err error
	cfg.InitialEquity, err = getEnvAsFloatRequired("WATCHDOG_INITIAL_EQUITY", 0)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid WATCHDOG_INITIAL_EQUITY: %v", err))
	} else if cfg.InitialEquity < 0 {
		errs = append(errs, "WATCHDOG_INITIAL_EQUITY cannot be negative")
	}

	limits, limitErrs := loadLimits()
	cfg.Limits = limits
	errs = append(errs, limitErrs...)

	cfg.LogLevel = logger.ParseLevel(getEnv("LOG_LEVEL", "INFO"))

	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return cfg, nil
}

// loadLimits builds the safety limits: defaults, then the limits file if
// configured, then individual env overrides.
func loadLimits() (safety.Limits, []string) {
	var errs []string
	limits := safety.DefaultLimits()

	if path := getEnv("SAFETY_LIMITS_FILE", ""); path != "" {
		fileLimits, err := safety.LoadLimitsFile(path)
		if err != nil {
			return limits, []string{fmt.Sprintf("invalid SAFETY_LIMITS_FILE: %v", err)}
		}
		limits = fileLimits
	}

	limits.MaxTradeRisk = getEnvAsFloat("MAX_TRADE_RISK", limits.MaxTradeRisk)
	limits.MaxTradeCapital = getEnvAsFloat("MAX_TRADE_CAPITAL", limits.MaxTradeCapital)
	limits.DailyLossLimit = getEnvAsFloat("DAILY_LOSS_LIMIT", limits.DailyLossLimit)
	limits.MaxTradesPerDay = getEnvAsInt("MAX_TRADES_PER_DAY", limits.MaxTradesPerDay)
	limits.MaxConcentration = getEnvAsFloat("MAX_CONCENTRATION", limits.MaxConcentration)
	limits.MaxTotalExposure = getEnvAsFloat("MAX_TOTAL_EXPOSURE", limits.MaxTotalExposure)
	limits.DrawdownThreshold = getEnvAsFloat("DRAWDOWN_THRESHOLD", limits.DrawdownThreshold)
	limits.ConsecutiveLossLimit = getEnvAsInt("CONSECUTIVE_LOSS_LIMIT", limits.ConsecutiveLossLimit)
	limits.MinLegPrice = getEnvAsFloat("MIN_LEG_PRICE", limits.MinLegPrice)
	limits.MaxSpreadWidth = getEnvAsFloat("MAX_SPREAD_WIDTH", limits.MaxSpreadWidth)
	limits.DisableBreakerCheck = getEnvAsBool("SAFETY_DISABLE_BREAKER_CHECK", limits.DisableBreakerCheck)

	if err := limits.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("invalid safety limits: %v", err))
	}
	return limits, errs
}

// --- Env Var Helpers ---

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloatRequired(key string, defaultValue float64) (float64, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid float value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
