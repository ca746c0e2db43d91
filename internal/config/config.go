// Package config loads the engine configuration from defaults, an optional
// YAML policy file and FIELDQ_* environment variables, in that order.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Policy carries the data-access rules the sandbox and schema renderer use.
type Policy struct {
	OwnershipField      string   `yaml:"ownership_field"`
	UserCollections     []string `yaml:"user_collections"`
	PriorityCollections []string `yaml:"priority_collections"`
	InternalCollections []string `yaml:"internal_collections"`
	Rates               Rates    `yaml:"rates"`
}

// Rates are USD prices per million tokens.
type Rates struct {
	InputPerMillion  float64 `yaml:"input_per_million"`
	CachedPerMillion float64 `yaml:"cached_per_million"`
	OutputPerMillion float64 `yaml:"output_per_million"`
}

// Config is the full runtime configuration of the query engine.
type Config struct {
	Addr string

	MongoURI      string
	MongoDatabase string

	LedgerPath string

	SchemaTTL  time.Duration
	ContextTTL time.Duration
	SampleSize int

	QueryTimeout      time.Duration
	MaxQueryTimeout   time.Duration
	GenerationTimeout time.Duration
	GenerationRate    float64
	GenerationBurst   int

	ExposeExecutionErrors bool

	JWTSecret    string
	TrustHeaders bool

	PolicyFile string
	Policy     Policy
}

// DefaultPolicy returns the access rules for the farm-operations datastore.
func DefaultPolicy() Policy {
	return Policy{
		OwnershipField:      "ownerId",
		UserCollections:     []string{"farms", "blocks", "harvests", "crops", "tasks", "inventory_items", "sales_orders"},
		PriorityCollections: []string{"farms", "blocks", "harvests", "crops", "employees", "customers", "sales_orders", "inventory_items"},
		InternalCollections: []string{"migrations", "sessions", "api_keys", "audit_logs"},
		Rates: Rates{
			InputPerMillion:  0.15,
			CachedPerMillion: 0.075,
			OutputPerMillion: 0.60,
		},
	}
}

// DefaultConfig returns the baseline configuration used when nothing overrides it.
func DefaultConfig() Config {
	return Config{
		Addr:              ":8081",
		MongoURI:          "mongodb://127.0.0.1:27017",
		MongoDatabase:     "farm_platform",
		SchemaTTL:         6 * time.Hour,
		ContextTTL:        time.Hour,
		SampleSize:        5,
		QueryTimeout:      5 * time.Second,
		MaxQueryTimeout:   30 * time.Second,
		GenerationTimeout: 30 * time.Second,
		GenerationRate:    5,
		GenerationBurst:   10,
		Policy:            DefaultPolicy(),
	}
}

// Load builds a Config from defaults, the policy file named by
// FIELDQ_POLICY_FILE, and environment variables.
func Load() (Config, error) {
	cfg := DefaultConfig()
	if path := strings.TrimSpace(os.Getenv("FIELDQ_POLICY_FILE")); path != "" {
		policy, err := LoadPolicyFile(path)
		if err != nil {
			return Config{}, err
		}
		cfg.PolicyFile = path
		cfg.Policy = mergePolicy(cfg.Policy, policy)
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	cfg = applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadPolicyFile reads a YAML policy document.
func LoadPolicyFile(path string) (Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("read policy file: %w", err)
	}
	var policy Policy
	if err := yaml.Unmarshal(data, &policy); err != nil {
		return Policy{}, fmt.Errorf("decode policy file %s: %w", path, err)
	}
	return policy, nil
}

func mergePolicy(base, override Policy) Policy {
	result := base
	if field := strings.TrimSpace(override.OwnershipField); field != "" {
		result.OwnershipField = field
	}
	if override.UserCollections != nil {
		result.UserCollections = cleanList(override.UserCollections)
	}
	if override.PriorityCollections != nil {
		result.PriorityCollections = cleanList(override.PriorityCollections)
	}
	if override.InternalCollections != nil {
		result.InternalCollections = cleanList(override.InternalCollections)
	}
	if override.Rates.InputPerMillion > 0 {
		result.Rates.InputPerMillion = override.Rates.InputPerMillion
	}
	if override.Rates.CachedPerMillion > 0 {
		result.Rates.CachedPerMillion = override.Rates.CachedPerMillion
	}
	if override.Rates.OutputPerMillion > 0 {
		result.Rates.OutputPerMillion = override.Rates.OutputPerMillion
	}
	return result
}

func applyEnv(cfg *Config) error {
	if value := env("FIELDQ_ADDR"); value != "" {
		cfg.Addr = value
	}
	if value := env("FIELDQ_MONGO_URI"); value != "" {
		cfg.MongoURI = value
	}
	if value := env("FIELDQ_MONGO_DATABASE"); value != "" {
		cfg.MongoDatabase = value
	}
	if value := env("FIELDQ_LEDGER_PATH"); value != "" {
		cfg.LedgerPath = value
	}
	if value := env("FIELDQ_JWT_SECRET"); value != "" {
		cfg.JWTSecret = value
	}
	if value := env("FIELDQ_OWNERSHIP_FIELD"); value != "" {
		cfg.Policy.OwnershipField = value
	}
	if value := env("FIELDQ_USER_COLLECTIONS"); value != "" {
		cfg.Policy.UserCollections = SplitList(value)
	}

	durations := []struct {
		key    string
		target *time.Duration
	}{
		{"FIELDQ_SCHEMA_TTL", &cfg.SchemaTTL},
		{"FIELDQ_CONTEXT_TTL", &cfg.ContextTTL},
		{"FIELDQ_QUERY_TIMEOUT", &cfg.QueryTimeout},
		{"FIELDQ_MAX_QUERY_TIMEOUT", &cfg.MaxQueryTimeout},
		{"FIELDQ_GENERATION_TIMEOUT", &cfg.GenerationTimeout},
	}
	for _, d := range durations {
		value := env(d.key)
		if value == "" {
			continue
		}
		dur, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("parse %s: %w", d.key, err)
		}
		*d.target = dur
	}

	if value := env("FIELDQ_SAMPLE_SIZE"); value != "" {
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("parse FIELDQ_SAMPLE_SIZE: %w", err)
		}
		cfg.SampleSize = n
	}
	if value := env("FIELDQ_GENERATION_RATE"); value != "" {
		rate, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("parse FIELDQ_GENERATION_RATE: %w", err)
		}
		cfg.GenerationRate = rate
	}
	if value := env("FIELDQ_GENERATION_BURST"); value != "" {
		burst, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("parse FIELDQ_GENERATION_BURST: %w", err)
		}
		cfg.GenerationBurst = burst
	}
	if value := env("FIELDQ_EXPOSE_EXECUTION_ERRORS"); value != "" {
		flag, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("parse FIELDQ_EXPOSE_EXECUTION_ERRORS: %w", err)
		}
		cfg.ExposeExecutionErrors = flag
	}
	if value := env("FIELDQ_TRUST_HEADERS"); value != "" {
		flag, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("parse FIELDQ_TRUST_HEADERS: %w", err)
		}
		cfg.TrustHeaders = flag
	}
	return nil
}

func applyDefaults(cfg Config) Config {
	defaults := DefaultConfig()
	if strings.TrimSpace(cfg.Addr) == "" {
		cfg.Addr = defaults.Addr
	}
	if strings.TrimSpace(cfg.MongoDatabase) == "" {
		cfg.MongoDatabase = defaults.MongoDatabase
	}
	if cfg.SchemaTTL <= 0 {
		cfg.SchemaTTL = defaults.SchemaTTL
	}
	if cfg.ContextTTL <= 0 {
		cfg.ContextTTL = defaults.ContextTTL
	}
	if cfg.SampleSize <= 0 {
		cfg.SampleSize = defaults.SampleSize
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = defaults.QueryTimeout
	}
	if cfg.MaxQueryTimeout <= 0 {
		cfg.MaxQueryTimeout = defaults.MaxQueryTimeout
	}
	if cfg.GenerationTimeout <= 0 {
		cfg.GenerationTimeout = defaults.GenerationTimeout
	}
	if cfg.GenerationBurst <= 0 {
		cfg.GenerationBurst = defaults.GenerationBurst
	}
	if strings.TrimSpace(cfg.Policy.OwnershipField) == "" {
		cfg.Policy.OwnershipField = defaults.Policy.OwnershipField
	}
	return cfg
}

// Validate rejects configurations the engine cannot run with.
func (c Config) Validate() error {
	if strings.TrimSpace(c.MongoURI) == "" {
		return fmt.Errorf("mongo uri required")
	}
	if c.QueryTimeout > c.MaxQueryTimeout {
		return fmt.Errorf("query timeout %s exceeds max query timeout %s", c.QueryTimeout, c.MaxQueryTimeout)
	}
	if c.GenerationRate < 0 {
		return fmt.Errorf("generation rate must be non-negative")
	}
	if strings.TrimSpace(c.Policy.OwnershipField) == "" {
		return fmt.Errorf("ownership field required")
	}
	return nil
}

// SplitList parses a comma-separated list, dropping blanks.
func SplitList(value string) []string {
	return cleanList(strings.Split(value, ","))
}

func cleanList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func env(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}
