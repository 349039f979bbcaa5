package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"signalExecBot/internal/adapters/logger"
)

// Rule sources.
const (
	RulesSourceFile    = "file"
	RulesSourceBinance = "binance"
)

// Config holds all application configuration.
type Config struct {
	// Exchange API
	APIURL          string
	APIKey          string
	AgentPrivateKey string
	AccountAddress  string // empty = agent public key

	// Signing
	SignExpiryWindow time.Duration
	MaxClockSkew     time.Duration

	// Transport
	HTTPTimeout  time.Duration
	RateLimitRPS float64

	// Signal feed
	SignalFeedURL string

	// Symbol trading rules
	RulesSource        string
	RulesPath          string
	BinanceAPIURL      string
	DefaultMaxLeverage int

	// Risk gate
	SymbolBlacklist         []string
	Cooldown                time.Duration
	MinSignalStrength       float64
	VolumeMultiplier        float64
	StopLossATRMultiplier   float64
	TakeProfitATRMultiplier float64
	CapitalAtRiskUSD        float64
	Leverage                int
	MaxTradesPerSymbolDay   int
	MinOrderSizeUSD         float64
	MaxOrderSizeUSD         float64
	MaxTotalExposureUSD     float64 // open notional plus the new order; 0 = no cap
	MaxDailyLossUSD         float64 // realized loss since UTC midnight; 0 = no limit

	// Execution
	SlippagePercent  float64
	RetryMaxAttempts int
	RetryBaseDelay   time.Duration
	RetryMaxDelay    time.Duration
	SignalQueueSize  int

	// Reconciliation
	ReconcileInterval        time.Duration
	ReconcileAmountTolerance float64
	ReconcilePriceTolerance  float64
	ReconcileAdoptOrphans    bool
	ReconcilePendingGrace    time.Duration

	// Database
	DBPath string

	// Logging
	LogLevel zerolog.Level

	// Metrics
	MetricsAddr string
}

var defaultBlacklist = []string{"XPL", "ASTER", "FARTCOIN", "PENGU", "CRV", "SUI"}

// LoadConfig loads configuration from environment variables (.env file).
func LoadConfig() (*Config, error) {
	// .env is optional; plain environment variables work too
	_ = godotenv.Load()

	cfg := &Config{}
	var err error
	var errs []string

	// Exchange API
	cfg.APIURL = strings.TrimRight(getEnv("PACIFICA_API_URL", "https://api.pacifica.fi/api/v1"), "/")
	cfg.APIKey = getEnv("PACIFICA_API_KEY", "")
	cfg.AgentPrivateKey = getEnv("AGENT_PRIVATE_KEY", "")
	if cfg.AgentPrivateKey == "" {
		errs = append(errs, "AGENT_PRIVATE_KEY must be set")
	}
	cfg.AccountAddress = getEnv("ACCOUNT_ADDRESS", "")

	// Signing
	cfg.SignExpiryWindow, err = getEnvAsDuration("SIGN_EXPIRY_WINDOW_MS", 5000*time.Millisecond, time.Millisecond)
	if err != nil {
		errs = append(errs, err.Error())
	} else if cfg.SignExpiryWindow <= 0 || cfg.SignExpiryWindow > time.Minute {
		errs = append(errs, "SIGN_EXPIRY_WINDOW_MS must be between 1 and 60000")
	}
	cfg.MaxClockSkew, err = getEnvAsDuration("MAX_CLOCK_SKEW_MS", 2000*time.Millisecond, time.Millisecond)
	if err != nil {
		errs = append(errs, err.Error())
	} else if cfg.MaxClockSkew < 0 {
		errs = append(errs, "MAX_CLOCK_SKEW_MS cannot be negative")
	}

	// Transport
	cfg.HTTPTimeout, err = getEnvAsDuration("HTTP_TIMEOUT_SECONDS", 10*time.Second, time.Second)
	if err != nil {
		errs = append(errs, err.Error())
	} else if cfg.HTTPTimeout <= 0 {
		errs = append(errs, "HTTP_TIMEOUT_SECONDS must be positive")
	}
	cfg.RateLimitRPS, err = getEnvAsFloatRequired("RATE_LIMIT_RPS", 5)
	if err != nil {
		errs = append(errs, err.Error())
	} else if cfg.RateLimitRPS < 0 {
		errs = append(errs, "RATE_LIMIT_RPS cannot be negative")
	}

	cfg.SignalFeedURL = getEnv("SIGNAL_FEED_URL", "ws://localhost:8765/signals")

	// Rules
	cfg.RulesSource = strings.ToLower(getEnv("RULES_SOURCE", RulesSourceFile))
	cfg.RulesPath = getEnv("RULES_PATH", "./rules.yaml")
	cfg.BinanceAPIURL = getEnv("BINANCE_FUTURES_URL", "")
	switch cfg.RulesSource {
	case RulesSourceFile:
		if cfg.RulesPath == "" {
			errs = append(errs, "RULES_PATH must be set when RULES_SOURCE=file")
		}
	case RulesSourceBinance:
	default:
		errs = append(errs, fmt.Sprintf("RULES_SOURCE must be %q or %q, got %q", RulesSourceFile, RulesSourceBinance, cfg.RulesSource))
	}
	cfg.DefaultMaxLeverage, err = getEnvAsIntRequired("DEFAULT_MAX_LEVERAGE", 20)
	if err != nil {
		errs = append(errs, err.Error())
	} else if cfg.DefaultMaxLeverage <= 0 {
		errs = append(errs, "DEFAULT_MAX_LEVERAGE must be positive")
	}

	// Risk gate
	cfg.SymbolBlacklist = getEnvAsList("SYMBOL_BLACKLIST", defaultBlacklist)
	cfg.Cooldown, err = getEnvAsDuration("COOLDOWN_SECONDS", 300*time.Second, time.Second)
	if err != nil {
		errs = append(errs, err.Error())
	} else if cfg.Cooldown < 0 {
		errs = append(errs, "COOLDOWN_SECONDS cannot be negative")
	}

	cfg.MinSignalStrength, err = getEnvAsFloatRequired("MIN_SIGNAL_STRENGTH", 0.6)
	if err != nil {
		errs = append(errs, err.Error())
	} else if cfg.MinSignalStrength < 0 || cfg.MinSignalStrength > 1 {
		errs = append(errs, "MIN_SIGNAL_STRENGTH must be between 0 and 1")
	}

	cfg.VolumeMultiplier, err = getEnvAsFloatRequired("VOLUME_MULTIPLIER", 1.5)
	if err != nil {
		errs = append(errs, err.Error())
	} else if cfg.VolumeMultiplier < 0 {
		errs = append(errs, "VOLUME_MULTIPLIER cannot be negative")
	}

	cfg.StopLossATRMultiplier, err = getEnvAsFloatRequired("STOP_LOSS_ATR_MULTIPLIER", 1.5)
	if err != nil {
		errs = append(errs, err.Error())
	} else if cfg.StopLossATRMultiplier <= 0 {
		errs = append(errs, "STOP_LOSS_ATR_MULTIPLIER must be positive")
	}

	cfg.TakeProfitATRMultiplier, err = getEnvAsFloatRequired("TAKE_PROFIT_ATR_MULTIPLIER", 2.5)
	if err != nil {
		errs = append(errs, err.Error())
	} else if cfg.TakeProfitATRMultiplier <= 0 {
		errs = append(errs, "TAKE_PROFIT_ATR_MULTIPLIER must be positive")
	}

	cfg.CapitalAtRiskUSD, err = getEnvAsFloatRequired("CAPITAL_AT_RISK_USD", 100)
	if err != nil {
		errs = append(errs, err.Error())
	} else if cfg.CapitalAtRiskUSD <= 0 {
		errs = append(errs, "CAPITAL_AT_RISK_USD must be positive")
	}

	cfg.Leverage, err = getEnvAsIntRequired("LEVERAGE", 5)
	if err != nil {
		errs = append(errs, err.Error())
	} else if cfg.Leverage <= 0 {
		errs = append(errs, "LEVERAGE must be positive")
	}

	cfg.MaxTradesPerSymbolDay, err = getEnvAsIntRequired("MAX_TRADES_PER_SYMBOL_PER_DAY", 10)
	if err != nil {
		errs = append(errs, err.Error())
	} else if cfg.MaxTradesPerSymbolDay < 0 {
		errs = append(errs, "MAX_TRADES_PER_SYMBOL_PER_DAY cannot be negative")
	}

	cfg.MinOrderSizeUSD, err = getEnvAsFloatRequired("MIN_ORDER_SIZE_USD", 10)
	if err != nil {
		errs = append(errs, err.Error())
	} else if cfg.MinOrderSizeUSD < 0 {
		errs = append(errs, "MIN_ORDER_SIZE_USD cannot be negative")
	}

	cfg.MaxOrderSizeUSD, err = getEnvAsFloatRequired("MAX_ORDER_SIZE_USD", 10000)
	if err != nil {
		errs = append(errs, err.Error())
	} else if cfg.MaxOrderSizeUSD < 0 {
		errs = append(errs, "MAX_ORDER_SIZE_USD cannot be negative")
	}
	if cfg.MaxOrderSizeUSD > 0 && cfg.MinOrderSizeUSD > cfg.MaxOrderSizeUSD {
		errs = append(errs, "MIN_ORDER_SIZE_USD must not exceed MAX_ORDER_SIZE_USD")
	}

	cfg.MaxTotalExposureUSD, err = getEnvAsFloatRequired("MAX_TOTAL_EXPOSURE_USD", 1000000)
	if err != nil {
		errs = append(errs, err.Error())
	} else if cfg.MaxTotalExposureUSD < 0 {
		errs = append(errs, "MAX_TOTAL_EXPOSURE_USD cannot be negative")
	}

	cfg.MaxDailyLossUSD, err = getEnvAsFloatRequired("MAX_DAILY_LOSS_USD", 500)
	if err != nil {
		errs = append(errs, err.Error())
	} else if cfg.MaxDailyLossUSD < 0 {
		errs = append(errs, "MAX_DAILY_LOSS_USD cannot be negative")
	}

	// Execution
	cfg.SlippagePercent, err = getEnvAsFloatRequired("SLIPPAGE_PERCENT", 0.5)
	if err != nil {
		errs = append(errs, err.Error())
	} else if cfg.SlippagePercent <= 0 || cfg.SlippagePercent >= 100 {
		errs = append(errs, "SLIPPAGE_PERCENT must be between 0 and 100 (exclusive)")
	}

	cfg.RetryMaxAttempts, err = getEnvAsIntRequired("RETRY_MAX_ATTEMPTS", 3)
	if err != nil {
		errs = append(errs, err.Error())
	} else if cfg.RetryMaxAttempts <= 0 {
		errs = append(errs, "RETRY_MAX_ATTEMPTS must be positive")
	}
	cfg.RetryBaseDelay, err = getEnvAsDuration("RETRY_BASE_DELAY_MS", 500*time.Millisecond, time.Millisecond)
	if err != nil {
		errs = append(errs, err.Error())
	}
	cfg.RetryMaxDelay, err = getEnvAsDuration("RETRY_MAX_DELAY_MS", 5000*time.Millisecond, time.Millisecond)
	if err != nil {
		errs = append(errs, err.Error())
	}
	if cfg.RetryBaseDelay <= 0 || cfg.RetryMaxDelay < cfg.RetryBaseDelay {
		errs = append(errs, "RETRY_BASE_DELAY_MS must be positive and not exceed RETRY_MAX_DELAY_MS")
	}

	cfg.SignalQueueSize, err = getEnvAsIntRequired("SIGNAL_QUEUE_SIZE", 16)
	if err != nil {
		errs = append(errs, err.Error())
	} else if cfg.SignalQueueSize <= 0 {
		errs = append(errs, "SIGNAL_QUEUE_SIZE must be positive")
	}

	// Reconciliation
	cfg.ReconcileInterval, err = getEnvAsDuration("RECONCILE_INTERVAL_SECONDS", 60*time.Second, time.Second)
	if err != nil {
		errs = append(errs, err.Error())
	} else if cfg.ReconcileInterval <= 0 {
		errs = append(errs, "RECONCILE_INTERVAL_SECONDS must be positive")
	}
	cfg.ReconcileAmountTolerance, err = getEnvAsFloatRequired("RECONCILE_AMOUNT_TOLERANCE", 0.001)
	if err != nil {
		errs = append(errs, err.Error())
	} else if cfg.ReconcileAmountTolerance < 0 {
		errs = append(errs, "RECONCILE_AMOUNT_TOLERANCE cannot be negative")
	}
	cfg.ReconcilePriceTolerance, err = getEnvAsFloatRequired("RECONCILE_PRICE_TOLERANCE", 0.001)
	if err != nil {
		errs = append(errs, err.Error())
	} else if cfg.ReconcilePriceTolerance < 0 {
		errs = append(errs, "RECONCILE_PRICE_TOLERANCE cannot be negative")
	}
	cfg.ReconcileAdoptOrphans = getEnvAsBool("RECONCILE_ADOPT_ORPHANS", true)
	cfg.ReconcilePendingGrace, err = getEnvAsDuration("RECONCILE_PENDING_GRACE_SECONDS", 120*time.Second, time.Second)
	if err != nil {
		errs = append(errs, err.Error())
	} else if cfg.ReconcilePendingGrace < 0 {
		errs = append(errs, "RECONCILE_PENDING_GRACE_SECONDS cannot be negative")
	}

	// Database
	cfg.DBPath = getEnv("DB_PATH", "./data/signal_exec.db")

	// Logging
	cfg.LogLevel = logger.ParseLevel(getEnv("LOG_LEVEL", "INFO"))

	cfg.MetricsAddr = getEnv("METRICS_ADDR", ":9102")

	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}

	return cfg, nil
}

// --- Env Var Helpers ---

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsIntRequired(key string, defaultValue int) (int, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return 0, fmt.Errorf("invalid integer value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
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

// getEnvAsDuration reads an integer count of unit.
func getEnvAsDuration(key string, defaultValue, unit time.Duration) (time.Duration, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid integer value '%s' for key %s: %w", valueStr, key, err)
	}
	return time.Duration(value) * unit, nil
}

// getEnvAsList splits a comma-separated value, upper-casing and dropping empty entries.
// A variable set to "none" yields an empty list.
func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := strings.TrimSpace(os.Getenv(key))
	if valueStr == "" {
		return append([]string(nil), defaultValue...)
	}
	if strings.EqualFold(valueStr, "none") {
		return nil
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if p := strings.ToUpper(strings.TrimSpace(part)); p != "" {
			out = append(out, p)
		}
	}
	return out
}
