package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config holds all configuration for the fanstake services
type Config struct {
	// Database configuration
	DBName     string
	DBHost     string
	DBUser     string
	DBPassword string
	DBPort     string
	DBSSLMode  string

	// RPC configuration: one JSON-RPC endpoint per chain, given as
	// "chainID=url" pairs
	RPCEndpoints      map[uint64]string
	RPCTimeoutSeconds int

	// Factory contract address per chain, given as "chainID=address" pairs
	FactoryAddresses map[uint64]string

	// Watcher configuration
	WatchIntervalSeconds int
	WatchBlockRange      uint64

	// HTTP configuration
	APIPort string

	// Logging configuration
	LogLevel string

	// Metrics configuration
	MetricsPort string
}

// Load reads configuration from environment variables and validates it
func Load() (Config, error) {
	cfg := Config{
		DBName:      getEnv("DB_NAME", ""),
		DBHost:      getEnv("DB_HOST", "localhost"),
		DBUser:      getEnv("DB_USER", ""),
		DBPassword:  getEnv("DB_PASSWORD", ""),
		DBPort:      getEnv("DB_PORT", "5432"),
		DBSSLMode:   getEnv("DB_SSL_MODE", "disable"),
		APIPort:     getEnv("API_PORT", "8080"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		MetricsPort: getEnv("METRICS_PORT", "9100"),
	}

	// Parse per-chain RPC endpoints
	endpoints, err := parseChainMap(getEnv("RPC_ENDPOINTS", ""))
	if err != nil {
		return cfg, fmt.Errorf("invalid RPC_ENDPOINTS: %w", err)
	}
	cfg.RPCEndpoints = endpoints

	// Parse per-chain factory addresses
	factories, err := parseChainMap(getEnv("FACTORY_ADDRESSES", ""))
	if err != nil {
		return cfg, fmt.Errorf("invalid FACTORY_ADDRESSES: %w", err)
	}
	cfg.FactoryAddresses = factories

	cfg.RPCTimeoutSeconds, err = parseIntEnv("RPC_TIMEOUT_SECONDS", 10)
	if err != nil {
		return cfg, fmt.Errorf("invalid RPC_TIMEOUT_SECONDS: %w", err)
	}

	cfg.WatchIntervalSeconds, err = parseIntEnv("WATCH_INTERVAL_SECONDS", 15)
	if err != nil {
		return cfg, fmt.Errorf("invalid WATCH_INTERVAL_SECONDS: %w", err)
	}

	blockRange, err := parseIntEnv("WATCH_BLOCK_RANGE", 2000)
	if err != nil {
		return cfg, fmt.Errorf("invalid WATCH_BLOCK_RANGE: %w", err)
	}
	cfg.WatchBlockRange = uint64(blockRange)

	// Validate configuration
	if err := cfg.validate(); err != nil {
		return cfg, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// validate checks that the configuration is valid
func (c Config) validate() error {
	if c.DBName == "" {
		return fmt.Errorf("DB_NAME is required")
	}

	if c.DBUser == "" {
		return fmt.Errorf("DB_USER is required")
	}

	if len(c.RPCEndpoints) == 0 {
		return fmt.Errorf("at least one RPC endpoint is required")
	}

	for chainID := range c.FactoryAddresses {
		if _, ok := c.RPCEndpoints[chainID]; !ok {
			return fmt.Errorf("FACTORY_ADDRESSES references chain %d with no RPC endpoint", chainID)
		}
	}

	if c.RPCTimeoutSeconds < 1 {
		return fmt.Errorf("RPC_TIMEOUT_SECONDS must be at least 1")
	}

	if c.WatchIntervalSeconds < 1 {
		return fmt.Errorf("WATCH_INTERVAL_SECONDS must be at least 1")
	}

	if c.WatchBlockRange < 1 {
		return fmt.Errorf("WATCH_BLOCK_RANGE must be at least 1")
	}

	validLogLevels := map[string]bool{
		"trace": true,
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
		"fatal": true,
		"panic": true,
	}

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		return fmt.Errorf("invalid LOG_LEVEL: %s (must be one of: trace, debug, info, warn, error, fatal, panic)", c.LogLevel)
	}

	return nil
}

// parseChainMap parses comma-separated "chainID=value" pairs
func parseChainMap(raw string) (map[uint64]string, error) {
	result := make(map[uint64]string)
	if raw == "" {
		return result, nil
	}

	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}

		parts := strings.SplitN(pair, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("malformed pair %q, expected chainID=value", pair)
		}

		chainID, err := strconv.ParseUint(strings.TrimSpace(parts[0]), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid chain ID in pair %q: %w", pair, err)
		}

		value := strings.TrimSpace(parts[1])
		if value == "" {
			return nil, fmt.Errorf("empty value in pair %q", pair)
		}

		result[chainID] = value
	}

	return result, nil
}

// getEnv retrieves an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseIntEnv parses an integer environment variable with a default value
func parseIntEnv(key string, defaultValue int) (int, error) {
	str := os.Getenv(key)
	if str == "" {
		return defaultValue, nil
	}
	return strconv.Atoi(str)
}
