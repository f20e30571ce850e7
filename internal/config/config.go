// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	DataDir             string  // Base directory for all databases (always absolute)
	TiersFile           string  // Optional YAML file overriding built-in tier definitions
	BenchmarkSymbol     string  // Benchmark for beta calculation
	RiskFreeRate        float64 // Annual, as a decimal
	SnapshotRefreshCron string  // Cron expression for scheduled snapshot rebuilds
	LogLevel            string
	Port                int
	DevMode             bool
}

// Load loads configuration from the environment, reading a .env file first
// if one exists.
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not found)
	_ = godotenv.Load()

	dataDir := getEnv("DATA_DIR", "./data")
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("resolving DATA_DIR: %w", err)
	}

	cfg := &Config{
		DataDir:             absDataDir,
		TiersFile:           getEnv("TIERS_FILE", ""),
		BenchmarkSymbol:     getEnv("BENCHMARK_SYMBOL", "SPY"),
		RiskFreeRate:        getEnvAsFloat("RISK_FREE_RATE", 0.02),
		SnapshotRefreshCron: getEnv("SNAPSHOT_REFRESH_CRON", "0 30 6 * * *"),
		LogLevel:            getEnv("LOG_LEVEL", "info"),
		Port:                getEnvAsInt("PORT", 8080),
		DevMode:             getEnvAsBool("DEV_MODE", false),
	}

	if cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("invalid PORT %d", cfg.Port)
	}
	if cfg.RiskFreeRate < 0 || cfg.RiskFreeRate > 0.25 {
		return nil, fmt.Errorf("RISK_FREE_RATE %.4f out of range [0, 0.25]", cfg.RiskFreeRate)
	}

	return cfg, nil
}

// HistoryDBPath returns the path to the price/dividend history database.
func (c *Config) HistoryDBPath() string {
	return filepath.Join(c.DataDir, "history.db")
}

// UniverseDBPath returns the path to the securities universe database.
func (c *Config) UniverseDBPath() string {
	return filepath.Join(c.DataDir, "universe.db")
}

// CacheDBPath returns the path to the computed-results cache database.
func (c *Config) CacheDBPath() string {
	return filepath.Join(c.DataDir, "cache.db")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
