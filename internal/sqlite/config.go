package sqlite

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	defaultMaxOpenConns    = 4
	defaultConnMaxLifetime = 15 * time.Minute
	defaultBusyTimeout     = 5 * time.Second
)

// Config controls the ledger database pool.
type Config struct {
	Path            string
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
	BusyTimeout     time.Duration
	// Retention bounds how long ledger rows are kept. Zero keeps everything.
	Retention time.Duration
}

// LoadConfig reads FIELDQ_LEDGER_CONFIG_FILE (a flat JSON object) and then the
// FIELDQ_LEDGER_* environment overrides. Both use the keys in ledgerKeys, with
// durations as Go duration strings. Malformed values are errors.
func LoadConfig() (Config, error) {
	values := map[string]string{}
	if path := strings.TrimSpace(os.Getenv("FIELDQ_LEDGER_CONFIG_FILE")); path != "" {
		if err := readLedgerFile(path, values); err != nil {
			return Config{}, err
		}
	}
	for _, key := range ledgerKeys {
		if value := strings.TrimSpace(os.Getenv("FIELDQ_LEDGER_" + strings.ToUpper(key))); value != "" {
			values[key] = value
		}
	}
	var cfg Config
	if err := cfg.set(values); err != nil {
		return Config{}, err
	}
	cfg.applyDefaults()
	return cfg, nil
}

var ledgerKeys = []string{"path", "max_open_conns", "conn_max_lifetime", "busy_timeout", "retention"}

func (c *Config) set(values map[string]string) error {
	c.Path = values["path"]
	if raw, ok := values["max_open_conns"]; ok {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return fmt.Errorf("ledger max_open_conns %q: must be a non-negative integer", raw)
		}
		c.MaxOpenConns = n
	}
	durations := []struct {
		key    string
		target *time.Duration
	}{
		{"conn_max_lifetime", &c.ConnMaxLifetime},
		{"busy_timeout", &c.BusyTimeout},
		{"retention", &c.Retention},
	}
	for _, d := range durations {
		raw, ok := values[d.key]
		if !ok {
			continue
		}
		parsed, err := time.ParseDuration(raw)
		if err != nil || parsed < 0 {
			return fmt.Errorf("ledger %s %q: must be a non-negative duration", d.key, raw)
		}
		*d.target = parsed
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.MaxOpenConns <= 0 {
		c.MaxOpenConns = defaultMaxOpenConns
	}
	if c.ConnMaxLifetime <= 0 {
		c.ConnMaxLifetime = defaultConnMaxLifetime
	}
	if c.BusyTimeout <= 0 {
		c.BusyTimeout = defaultBusyTimeout
	}
}

func readLedgerFile(path string, into map[string]string) error {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("read ledger config: %w", err)
	}
	var file map[string]json.RawMessage
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse ledger config: %w", err)
	}
	for key, raw := range file {
		var value string
		// numbers and strings are both accepted
		if err := json.Unmarshal(raw, &value); err != nil {
			value = string(raw)
		}
		into[key] = strings.TrimSpace(value)
	}
	return nil
}
