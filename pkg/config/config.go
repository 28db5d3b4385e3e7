package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/timevault-hq/timevault-executor/pkg/logger"
)

// Config holds the configuration for the executor service
type Config struct {
	LedgerEndpoint   string
	PollingInterval  time.Duration
	EventPageSize    int
	PrivateKey       string
	SponsorKey       string // empty disables sponsored submission
	GasBudget        uint64
	MinRelayerFee    uint64
	StorePath        string // empty selects the in-memory strategy store
	MetricsPort      string
	LiquidityBiasBps uint64
	RetryBaseBackoff time.Duration
	RetryMaxBackoff  time.Duration
	PausedBackoff    time.Duration
	CircuitBreaker   CircuitBreakerConfig
	LoggerConfig     LoggerConfig
}

// CircuitBreakerConfig holds circuit breaker configuration
type CircuitBreakerConfig struct {
	Enabled        bool
	Threshold      int
	WindowDuration time.Duration
	ResetTimeout   time.Duration
}

// LoggerConfig holds the configuration for logging
type LoggerConfig struct {
	Level    logger.Level
	Coloring bool
}

// LoadConfig loads the configuration from environment variables
func LoadConfig() (*Config, error) {
	// Load environment variables from .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: .env file not found, using environment variables")
	}

	pollingInterval, err := GetEnvPollingInterval()
	if err != nil {
		return nil, err
	}

	pageSize, err := GetEnvEventPageSize()
	if err != nil {
		return nil, err
	}

	gasBudget, err := GetEnvGasBudget()
	if err != nil {
		return nil, err
	}

	minFee, err := GetEnvMinRelayerFee()
	if err != nil {
		return nil, err
	}

	metricsPort, err := GetEnvMetricsPort()
	if err != nil {
		return nil, err
	}

	liquidityBias, err := GetEnvLiquidityBiasBps()
	if err != nil {
		return nil, err
	}

	retryBase, err := GetEnvRetryBaseBackoff()
	if err != nil {
		return nil, err
	}

	retryMax, err := GetEnvRetryMaxBackoff()
	if err != nil {
		return nil, err
	}

	pausedBackoff, err := GetEnvPausedBackoff()
	if err != nil {
		return nil, err
	}

	cbEnabled, err := GetEnvCircuitBreakerEnabled()
	if err != nil {
		return nil, err
	}

	cbThreshold, err := GetEnvCircuitBreakerThreshold()
	if err != nil {
		return nil, err
	}

	cbWindow, err := GetEnvCircuitBreakerWindow()
	if err != nil {
		return nil, err
	}

	cbReset, err := GetEnvCircuitBreakerReset()
	if err != nil {
		return nil, err
	}

	logLevel, err := GetEnvLogLevel()
	if err != nil {
		return nil, err
	}

	logColoring, err := GetEnvLogColoring()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		LedgerEndpoint:   os.Getenv("LEDGER_ENDPOINT"),
		PollingInterval:  pollingInterval,
		EventPageSize:    pageSize,
		PrivateKey:       os.Getenv("PRIVATE_KEY"),
		SponsorKey:       os.Getenv("SPONSOR_PRIVATE_KEY"),
		GasBudget:        gasBudget,
		MinRelayerFee:    minFee,
		StorePath:        os.Getenv("STRATEGY_STORE_PATH"),
		MetricsPort:      metricsPort,
		LiquidityBiasBps: liquidityBias,
		RetryBaseBackoff: retryBase,
		RetryMaxBackoff:  retryMax,
		PausedBackoff:    pausedBackoff,
		CircuitBreaker: CircuitBreakerConfig{
			Enabled:        cbEnabled,
			Threshold:      cbThreshold,
			WindowDuration: cbWindow,
			ResetTimeout:   cbReset,
		},
		LoggerConfig: LoggerConfig{
			Level:    logLevel,
			Coloring: logColoring,
		},
	}

	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validateConfig validates the configuration
func validateConfig(cfg *Config) error {
	if cfg.PrivateKey == "" {
		return fmt.Errorf("PRIVATE_KEY environment variable is required")
	}
	if cfg.SponsorKey != "" && cfg.SponsorKey == cfg.PrivateKey {
		return fmt.Errorf("SPONSOR_PRIVATE_KEY must differ from PRIVATE_KEY")
	}
	if cfg.RetryMaxBackoff < cfg.RetryBaseBackoff {
		return fmt.Errorf("RETRY_MAX_BACKOFF must not be below RETRY_BASE_BACKOFF")
	}
	return nil
}
