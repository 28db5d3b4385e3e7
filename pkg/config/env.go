package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/timevault-hq/timevault-executor/pkg/logger"
)

const (
	// DefaultPollingInterval defines the default polling interval in seconds
	DefaultPollingInterval = 5

	// DefaultEventPageSize defines how many creation events one scan resolves
	DefaultEventPageSize = 50

	// DefaultGasBudget defines the configured gas budget before clamping
	DefaultGasBudget = 50_000_000

	// DefaultMinRelayerFee defines the registry minimum fee for local mode
	DefaultMinRelayerFee = 1_000_000

	// DefaultMetricsPort defines the default port for the metrics server
	DefaultMetricsPort = "8080"

	// DefaultLiquidityBiasBps defines the APR delta below which the more
	// liquid protocol is preferred over the top-ranked one
	DefaultLiquidityBiasBps = 50

	// DefaultRetryBaseBackoff defines the base of the exponential retry backoff
	DefaultRetryBaseBackoff = 10 * time.Second

	// DefaultRetryMaxBackoff defines the backoff ceiling
	DefaultRetryMaxBackoff = 5 * time.Minute

	// DefaultPausedBackoff defines the long backoff used while the registry is paused
	DefaultPausedBackoff = 10 * time.Minute

	// DefaultCircuitBreakerEnabled defines whether the circuit breaker is enabled
	DefaultCircuitBreakerEnabled = true

	// DefaultCircuitBreakerThreshold defines the number of failures before the circuit breaker trips
	DefaultCircuitBreakerThreshold = 5

	// DefaultCircuitBreakerWindow defines the time window for the circuit breaker
	DefaultCircuitBreakerWindow = 60 * time.Second

	// DefaultCircuitBreakerReset defines the reset timeout for the circuit breaker
	DefaultCircuitBreakerReset = 2 * time.Minute
)

// GetEnvPollingInterval returns the polling interval in seconds from environment variables
func GetEnvPollingInterval() (time.Duration, error) {
	pollingInterval := os.Getenv("POLLING_INTERVAL")
	if pollingInterval == "" {
		return time.Duration(DefaultPollingInterval) * time.Second, nil
	}

	interval, err := strconv.Atoi(pollingInterval)
	if err != nil {
		return 0, fmt.Errorf("invalid POLLING_INTERVAL value: %s, must be an integer", pollingInterval)
	}
	if interval <= 0 {
		return 0, fmt.Errorf("POLLING_INTERVAL must be greater than 0")
	}
	return time.Duration(interval) * time.Second, nil
}

// GetEnvEventPageSize returns the creation-event page size from environment variables
func GetEnvEventPageSize() (int, error) {
	pageSize := os.Getenv("EVENT_PAGE_SIZE")
	if pageSize == "" {
		return DefaultEventPageSize, nil
	}

	size, err := strconv.Atoi(pageSize)
	if err != nil {
		return 0, fmt.Errorf("invalid EVENT_PAGE_SIZE value: %s, must be an integer", pageSize)
	}
	if size <= 0 {
		return 0, fmt.Errorf("EVENT_PAGE_SIZE must be greater than 0")
	}
	return size, nil
}

// GetEnvGasBudget returns the configured gas budget from environment variables.
// The value is clamped into the safety window at composition time.
func GetEnvGasBudget() (uint64, error) {
	budget := os.Getenv("GAS_BUDGET")
	if budget == "" {
		return DefaultGasBudget, nil
	}

	value, err := strconv.ParseUint(budget, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid GAS_BUDGET value: %s, must be an unsigned integer", budget)
	}
	return value, nil
}

// GetEnvMinRelayerFee returns the minimum relayer fee from environment variables
func GetEnvMinRelayerFee() (uint64, error) {
	fee := os.Getenv("MIN_RELAYER_FEE")
	if fee == "" {
		return DefaultMinRelayerFee, nil
	}

	value, err := strconv.ParseUint(fee, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid MIN_RELAYER_FEE value: %s, must be an unsigned integer", fee)
	}
	return value, nil
}

// GetEnvMetricsPort returns the metrics server port from environment variables
func GetEnvMetricsPort() (string, error) {
	metricsPort := os.Getenv("METRICS_PORT")
	if metricsPort == "" {
		return DefaultMetricsPort, nil
	}

	if _, err := strconv.Atoi(metricsPort); err != nil {
		return "", fmt.Errorf("invalid METRICS_PORT value: %s, must be a valid integer", metricsPort)
	}
	return metricsPort, nil
}

// GetEnvLiquidityBiasBps returns the liquidity bias policy parameter from
// environment variables
func GetEnvLiquidityBiasBps() (uint64, error) {
	bias := os.Getenv("LIQUIDITY_BIAS_BPS")
	if bias == "" {
		return DefaultLiquidityBiasBps, nil
	}

	value, err := strconv.ParseUint(bias, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid LIQUIDITY_BIAS_BPS value: %s, must be an unsigned integer", bias)
	}
	if value > 10000 {
		return 0, fmt.Errorf("LIQUIDITY_BIAS_BPS must not exceed 10000")
	}
	return value, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}

	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value: %s, must be a valid duration string", key, raw)
	}
	if parsed <= 0 {
		return 0, fmt.Errorf("%s must be greater than 0", key)
	}
	return parsed, nil
}

// GetEnvRetryBaseBackoff returns the retry backoff base from environment variables
func GetEnvRetryBaseBackoff() (time.Duration, error) {
	return getEnvDuration("RETRY_BASE_BACKOFF", DefaultRetryBaseBackoff)
}

// GetEnvRetryMaxBackoff returns the retry backoff ceiling from environment variables
func GetEnvRetryMaxBackoff() (time.Duration, error) {
	return getEnvDuration("RETRY_MAX_BACKOFF", DefaultRetryMaxBackoff)
}

// GetEnvPausedBackoff returns the paused-registry backoff from environment variables
func GetEnvPausedBackoff() (time.Duration, error) {
	return getEnvDuration("PAUSED_BACKOFF", DefaultPausedBackoff)
}

// GetEnvCircuitBreakerEnabled returns whether the circuit breaker is enabled from environment variables
func GetEnvCircuitBreakerEnabled() (bool, error) {
	enabled := os.Getenv("CIRCUIT_BREAKER_ENABLED")
	if enabled == "" {
		return DefaultCircuitBreakerEnabled, nil
	}

	if enabled == "true" {
		return true, nil
	} else if enabled == "false" {
		return false, nil
	}

	return false, fmt.Errorf("invalid CIRCUIT_BREAKER_ENABLED value: %s, must be 'true' or 'false'", enabled)
}

// GetEnvCircuitBreakerThreshold returns the circuit breaker threshold from environment variables
func GetEnvCircuitBreakerThreshold() (int, error) {
	threshold := os.Getenv("CIRCUIT_BREAKER_THRESHOLD")
	if threshold == "" {
		return DefaultCircuitBreakerThreshold, nil
	}

	thresholdInt, err := strconv.Atoi(threshold)
	if err != nil {
		return 0, fmt.Errorf("invalid CIRCUIT_BREAKER_THRESHOLD value: %s, must be an integer", threshold)
	}
	if thresholdInt <= 0 {
		return 0, fmt.Errorf("CIRCUIT_BREAKER_THRESHOLD must be greater than 0")
	}
	return thresholdInt, nil
}

// GetEnvCircuitBreakerWindow returns the circuit breaker window duration from environment variables
func GetEnvCircuitBreakerWindow() (time.Duration, error) {
	return getEnvDuration("CIRCUIT_BREAKER_WINDOW", DefaultCircuitBreakerWindow)
}

// GetEnvCircuitBreakerReset returns the circuit breaker reset timeout from environment variables
func GetEnvCircuitBreakerReset() (time.Duration, error) {
	return getEnvDuration("CIRCUIT_BREAKER_RESET", DefaultCircuitBreakerReset)
}

// GetEnvLogLevel returns the log level from environment variables
func GetEnvLogLevel() (logger.Level, error) {
	level := os.Getenv("LOG_LEVEL")
	switch level {
	case "":
		return logger.InfoLevel, nil
	case "debug":
		return logger.DebugLevel, nil
	case "info":
		return logger.InfoLevel, nil
	case "notice":
		return logger.NoticeLevel, nil
	case "error":
		return logger.ErrorLevel, nil
	}
	return 0, fmt.Errorf("invalid LOG_LEVEL value: %s, must be one of debug, info, notice, error", level)
}

// GetEnvLogColoring returns whether log coloring is enabled from environment variables
func GetEnvLogColoring() (bool, error) {
	coloring := os.Getenv("LOG_COLORING")
	if coloring == "" {
		return true, nil
	}

	if coloring == "true" {
		return true, nil
	} else if coloring == "false" {
		return false, nil
	}

	return false, fmt.Errorf("invalid LOG_COLORING value: %s, must be 'true' or 'false'", coloring)
}
