package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	// Save original env vars
	originalVars := map[string]string{
		"DB_NAME":                os.Getenv("DB_NAME"),
		"DB_HOST":                os.Getenv("DB_HOST"),
		"DB_USER":                os.Getenv("DB_USER"),
		"DB_PASSWORD":            os.Getenv("DB_PASSWORD"),
		"DB_PORT":                os.Getenv("DB_PORT"),
		"RPC_ENDPOINTS":          os.Getenv("RPC_ENDPOINTS"),
		"FACTORY_ADDRESSES":      os.Getenv("FACTORY_ADDRESSES"),
		"RPC_TIMEOUT_SECONDS":    os.Getenv("RPC_TIMEOUT_SECONDS"),
		"WATCH_INTERVAL_SECONDS": os.Getenv("WATCH_INTERVAL_SECONDS"),
		"WATCH_BLOCK_RANGE":      os.Getenv("WATCH_BLOCK_RANGE"),
		"API_PORT":               os.Getenv("API_PORT"),
		"LOG_LEVEL":              os.Getenv("LOG_LEVEL"),
		"METRICS_PORT":           os.Getenv("METRICS_PORT"),
	}

	// Restore env vars after test
	defer func() {
		for key, value := range originalVars {
			if value == "" {
				os.Unsetenv(key)
			} else {
				os.Setenv(key, value)
			}
		}
	}()

	clearAll := func() {
		for key := range originalVars {
			os.Unsetenv(key)
		}
	}

	t.Run("successful load with all required vars", func(t *testing.T) {
		clearAll()
		os.Setenv("DB_NAME", "fanstake")
		os.Setenv("DB_USER", "fanstake")
		os.Setenv("RPC_ENDPOINTS", "73863=https://rpc.example.org, 1=https://eth.example.org")
		os.Setenv("FACTORY_ADDRESSES", "73863=0xCcCcCcCcCcCcCcCcCcCcCcCcCcCcCcCcCcCcCcCc")
		os.Setenv("RPC_TIMEOUT_SECONDS", "5")
		os.Setenv("LOG_LEVEL", "debug")
		os.Setenv("METRICS_PORT", "9090")

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, "fanstake", cfg.DBName)
		assert.Equal(t, "https://rpc.example.org", cfg.RPCEndpoints[73863])
		assert.Equal(t, "https://eth.example.org", cfg.RPCEndpoints[1])
		assert.Equal(t, "0xCcCcCcCcCcCcCcCcCcCcCcCcCcCcCcCcCcCcCcCc", cfg.FactoryAddresses[73863])
		assert.Equal(t, 5, cfg.RPCTimeoutSeconds)
		assert.Equal(t, "debug", cfg.LogLevel)
		assert.Equal(t, "9090", cfg.MetricsPort)
		assert.Equal(t, "8080", cfg.APIPort)
	})

	t.Run("missing database name", func(t *testing.T) {
		clearAll()
		os.Setenv("DB_USER", "fanstake")
		os.Setenv("RPC_ENDPOINTS", "1=https://eth.example.org")

		_, err := Load()
		assert.Error(t, err)
	})

	t.Run("missing RPC endpoints", func(t *testing.T) {
		clearAll()
		os.Setenv("DB_NAME", "fanstake")
		os.Setenv("DB_USER", "fanstake")

		_, err := Load()
		assert.Error(t, err)
	})

	t.Run("malformed RPC endpoint pair", func(t *testing.T) {
		clearAll()
		os.Setenv("DB_NAME", "fanstake")
		os.Setenv("DB_USER", "fanstake")
		os.Setenv("RPC_ENDPOINTS", "https://no-chain-id.example.org")

		_, err := Load()
		assert.Error(t, err)
	})

	t.Run("factory on unconfigured chain", func(t *testing.T) {
		clearAll()
		os.Setenv("DB_NAME", "fanstake")
		os.Setenv("DB_USER", "fanstake")
		os.Setenv("RPC_ENDPOINTS", "1=https://eth.example.org")
		os.Setenv("FACTORY_ADDRESSES", "2=0xCcCcCcCcCcCcCcCcCcCcCcCcCcCcCcCcCcCcCcCc")

		_, err := Load()
		assert.Error(t, err)
	})

	t.Run("invalid log level", func(t *testing.T) {
		clearAll()
		os.Setenv("DB_NAME", "fanstake")
		os.Setenv("DB_USER", "fanstake")
		os.Setenv("RPC_ENDPOINTS", "1=https://eth.example.org")
		os.Setenv("LOG_LEVEL", "verbose")

		_, err := Load()
		assert.Error(t, err)
	})

	t.Run("invalid numeric values", func(t *testing.T) {
		clearAll()
		os.Setenv("DB_NAME", "fanstake")
		os.Setenv("DB_USER", "fanstake")
		os.Setenv("RPC_ENDPOINTS", "1=https://eth.example.org")
		os.Setenv("RPC_TIMEOUT_SECONDS", "abc")

		_, err := Load()
		assert.Error(t, err)
	})
}

func TestParseChainMap(t *testing.T) {
	t.Run("empty input yields empty map", func(t *testing.T) {
		m, err := parseChainMap("")
		require.NoError(t, err)
		assert.Empty(t, m)
	})

	t.Run("trims whitespace", func(t *testing.T) {
		m, err := parseChainMap(" 5 = https://a.example.org , 6=https://b.example.org")
		require.NoError(t, err)
		assert.Equal(t, "https://a.example.org", m[5])
		assert.Equal(t, "https://b.example.org", m[6])
	})

	t.Run("rejects empty value", func(t *testing.T) {
		_, err := parseChainMap("5=")
		assert.Error(t, err)
	})
}
