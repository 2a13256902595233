// Package config loads the process configuration from the environment and
// the routing catalog (clients, strategies) from a TOML file that can be
// reloaded while the server runs.
package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config represents the complete application configuration
type Config struct {
	Server        ServerConfig
	Storage       StorageConfig
	Catalog       CatalogConfig
	Classifier    ClassifierConfig
	Ledger        LedgerConfig
	Observability ObservabilityConfig
	Environment   string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// StorageConfig holds the SQLite database configuration
type StorageConfig struct {
	Path string
}

// CatalogConfig points at the routing catalog file
type CatalogConfig struct {
	Path  string
	Watch bool
}

// ClassifierConfig holds the prompt classifier configuration
type ClassifierConfig struct {
	Enabled     bool
	WeightsPath string
	Concurrency int
	CacheSize   int
}

// LedgerConfig tunes usage-ledger persistence
type LedgerConfig struct {
	FlushInterval   time.Duration
	CleanupInterval time.Duration
}

// ObservabilityConfig holds logging configuration
type ObservabilityConfig struct {
	LogLevel  string
	LogFormat string // json or text
}

// New creates a new Config instance by loading environment variables
func New(ctx context.Context) (*Config, error) {
	// Load .env file if it exists (backend/.env when run from project root, .env when run from backend/)
	_ = godotenv.Load("backend/.env")
	_ = godotenv.Load(".env")

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "127.0.0.1"),
			Port:            getPort(),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Storage: StorageConfig{
			Path: getEnv("ROUTER_DB_PATH", "router.db"),
		},
		Catalog: CatalogConfig{
			Path:  getEnv("ROUTER_CATALOG_PATH", "catalog.toml"),
			Watch: getEnvAsBool("ROUTER_CATALOG_WATCH", true),
		},
		Classifier: ClassifierConfig{
			Enabled:     getEnvAsBool("CLASSIFIER_ENABLED", false),
			WeightsPath: getEnv("CLASSIFIER_WEIGHTS_PATH", ""),
			Concurrency: getEnvAsInt("CLASSIFIER_CONCURRENCY", 4),
			CacheSize:   getEnvAsInt("CLASSIFIER_CACHE_SIZE", 1024),
		},
		Ledger: LedgerConfig{
			FlushInterval:   getEnvAsDuration("LEDGER_FLUSH_INTERVAL", 30*time.Second),
			CleanupInterval: getEnvAsDuration("LEDGER_CLEANUP_INTERVAL", time.Hour),
		},
		Observability: ObservabilityConfig{
			LogLevel:  getEnv("LOG_LEVEL", "info"),
			LogFormat: getEnv("LOG_FORMAT", "json"),
		},
	}

	// Validate the configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if all required configuration fields are set
func (c *Config) Validate() error {
	if c.Storage.Path == "" {
		return fmt.Errorf("storage path is required: set ROUTER_DB_PATH")
	}
	if c.Catalog.Path == "" {
		return fmt.Errorf("catalog path is required: set ROUTER_CATALOG_PATH")
	}
	if c.Classifier.Enabled && c.Classifier.WeightsPath == "" {
		return fmt.Errorf("classifier weights path is required when the classifier is enabled")
	}
	if c.Ledger.FlushInterval <= 0 {
		return fmt.Errorf("ledger flush interval must be positive")
	}
	if c.Observability.LogLevel == "" {
		return fmt.Errorf("log level is required")
	}
	return nil
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "prod"
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == "dev"
}

// Address returns the HTTP server address
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Helper functions

// getPort returns the server port from PORT or SERVER_PORT env vars (default: 8080)
func getPort() int {
	if value := os.Getenv("PORT"); value != "" {
		if p, err := strconv.Atoi(value); err == nil {
			return p
		}
	}
	if value := os.Getenv("SERVER_PORT"); value != "" {
		if p, err := strconv.Atoi(value); err == nil {
			return p
		}
	}
	return 8080
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
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

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
