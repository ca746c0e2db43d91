package orchestrator

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config controls which stores the orchestrator opens and how the ledger is
// maintained in the background.
type Config struct {
	MongoURI       string
	MongoDatabase  string
	ConnectTimeout time.Duration
	MaxPoolSize    uint64

	// LedgerPath is the SQLite file for usage and audit records. Empty disables
	// the ledger.
	LedgerPath    string
	PruneInterval time.Duration
	PruneTimeout  time.Duration
}

// DefaultConfig returns the baseline configuration used when no overrides are
// supplied.
func DefaultConfig() Config {
	return Config{
		MongoURI:       "mongodb://127.0.0.1:27017",
		MongoDatabase:  "farm_platform",
		ConnectTimeout: 10 * time.Second,
		PruneInterval:  time.Hour,
		PruneTimeout:   30 * time.Second,
	}
}

// LoadConfig builds a Config from defaults and environment variables.
func LoadConfig() (Config, error) {
	cfg := DefaultConfig()
	if value := strings.TrimSpace(os.Getenv("FIELDQ_MONGO_URI")); value != "" {
		cfg.MongoURI = value
	}
	if value := strings.TrimSpace(os.Getenv("FIELDQ_MONGO_DATABASE")); value != "" {
		cfg.MongoDatabase = value
	}
	if value := strings.TrimSpace(os.Getenv("FIELDQ_LEDGER_PATH")); value != "" {
		cfg.LedgerPath = value
	}
	if value := strings.TrimSpace(os.Getenv("FIELDQ_MONGO_CONNECT_TIMEOUT")); value != "" {
		dur, err := time.ParseDuration(value)
		if err != nil {
			return Config{}, fmt.Errorf("parse FIELDQ_MONGO_CONNECT_TIMEOUT: %w", err)
		}
		cfg.ConnectTimeout = dur
	}
	if value := strings.TrimSpace(os.Getenv("FIELDQ_MONGO_MAX_POOL")); value != "" {
		size, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return Config{}, fmt.Errorf("parse FIELDQ_MONGO_MAX_POOL: %w", err)
		}
		cfg.MaxPoolSize = size
	}
	if value := strings.TrimSpace(os.Getenv("FIELDQ_PRUNE_INTERVAL")); value != "" {
		dur, err := time.ParseDuration(value)
		if err != nil {
			return Config{}, fmt.Errorf("parse FIELDQ_PRUNE_INTERVAL: %w", err)
		}
		cfg.PruneInterval = dur
	}
	if value := strings.TrimSpace(os.Getenv("FIELDQ_PRUNE_TIMEOUT")); value != "" {
		dur, err := time.ParseDuration(value)
		if err != nil {
			return Config{}, fmt.Errorf("parse FIELDQ_PRUNE_TIMEOUT: %w", err)
		}
		cfg.PruneTimeout = dur
	}
	return applyDefaults(cfg), nil
}

func applyDefaults(cfg Config) Config {
	defaults := DefaultConfig()
	if strings.TrimSpace(cfg.MongoURI) == "" {
		cfg.MongoURI = defaults.MongoURI
	}
	if strings.TrimSpace(cfg.MongoDatabase) == "" {
		cfg.MongoDatabase = defaults.MongoDatabase
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaults.ConnectTimeout
	}
	if cfg.PruneInterval <= 0 {
		cfg.PruneInterval = defaults.PruneInterval
	}
	if cfg.PruneTimeout <= 0 {
		cfg.PruneTimeout = defaults.PruneTimeout
	}
	return cfg
}

func (c Config) validate() error {
	if strings.TrimSpace(c.MongoURI) == "" {
		return fmt.Errorf("mongo uri required")
	}
	if strings.TrimSpace(c.MongoDatabase) == "" {
		return fmt.Errorf("mongo database required")
	}
	if c.ConnectTimeout <= 0 {
		return fmt.Errorf("connect timeout must be positive")
	}
	if c.PruneInterval <= 0 {
		return fmt.Errorf("prune interval must be positive")
	}
	if c.PruneTimeout <= 0 {
		return fmt.Errorf("prune timeout must be positive")
	}
	return nil
}
