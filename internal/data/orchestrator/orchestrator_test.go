package orchestrator

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/nicodishanthj/fieldq/internal/query"
	"github.com/nicodishanthj/fieldq/internal/sqlite"
)

func clearEnv(t *testing.T) {
	t.Helper()
	keys := []string{
		"FIELDQ_MONGO_URI",
		"FIELDQ_MONGO_DATABASE",
		"FIELDQ_LEDGER_PATH",
		"FIELDQ_LEDGER_CONFIG_FILE",
		"FIELDQ_LEDGER_RETENTION",
		"FIELDQ_MONGO_CONNECT_TIMEOUT",
		"FIELDQ_MONGO_MAX_POOL",
		"FIELDQ_PRUNE_INTERVAL",
		"FIELDQ_PRUNE_TIMEOUT",
	}
	for _, key := range keys {
		t.Setenv(key, "")
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	defaults := DefaultConfig()
	if cfg != defaults {
		t.Fatalf("LoadConfig defaults mismatch: %#v", cfg)
	}
}

func TestLoadConfigEnvironmentOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("FIELDQ_MONGO_URI", "mongodb://db:27017")
	t.Setenv("FIELDQ_MONGO_DATABASE", "farms_test")
	t.Setenv("FIELDQ_LEDGER_PATH", "/tmp/ledger.db")
	t.Setenv("FIELDQ_MONGO_CONNECT_TIMEOUT", "3s")
	t.Setenv("FIELDQ_MONGO_MAX_POOL", "20")
	t.Setenv("FIELDQ_PRUNE_INTERVAL", "10m")
	t.Setenv("FIELDQ_PRUNE_TIMEOUT", "150ms")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.MongoURI != "mongodb://db:27017" {
		t.Errorf("MongoURI = %q", cfg.MongoURI)
	}
	if cfg.MongoDatabase != "farms_test" {
		t.Errorf("MongoDatabase = %q", cfg.MongoDatabase)
	}
	if cfg.LedgerPath != "/tmp/ledger.db" {
		t.Errorf("LedgerPath = %q", cfg.LedgerPath)
	}
	if cfg.ConnectTimeout != 3*time.Second {
		t.Errorf("ConnectTimeout = %v", cfg.ConnectTimeout)
	}
	if cfg.MaxPoolSize != 20 {
		t.Errorf("MaxPoolSize = %d", cfg.MaxPoolSize)
	}
	if cfg.PruneInterval != 10*time.Minute {
		t.Errorf("PruneInterval = %v", cfg.PruneInterval)
	}
	if cfg.PruneTimeout != 150*time.Millisecond {
		t.Errorf("PruneTimeout = %v", cfg.PruneTimeout)
	}
}

func TestLoadConfigRejectsBadDuration(t *testing.T) {
	clearEnv(t)
	t.Setenv("FIELDQ_PRUNE_INTERVAL", "soon")
	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestNewWithoutLedger(t *testing.T) {
	clearEnv(t)
	store := &stubStore{}
	orch, err := New(context.Background(), Config{}, WithDatastore(store))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if orch.Datastore() != store {
		t.Fatal("datastore not applied")
	}
	if orch.Ledger() != nil {
		t.Fatal("ledger should not be configured")
	}
	if removed, err := orch.PruneOnce(context.Background()); err != nil || removed != 0 {
		t.Fatalf("PruneOnce without ledger = %d, %v", removed, err)
	}
	if err := orch.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if store.closed != 1 {
		t.Fatalf("expected datastore close count 1, got %d", store.closed)
	}
}

func TestNewOpensLedger(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	store := &stubStore{}
	cfg := Config{LedgerPath: filepath.Join(dir, "ledger.db")}
	orch, err := New(context.Background(), cfg, WithDatastore(store), WithPruneDisabled())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ledger := orch.Ledger()
	if ledger == nil {
		t.Fatal("ledger not initialised")
	}
	ctx := context.Background()
	if err := ledger.InsertAudit(ctx, sqlite.AuditRecord{RequestID: "r1", Identity: "U1", Kind: "security_error"}); err != nil {
		t.Fatalf("InsertAudit: %v", err)
	}
	records, err := ledger.RecentAudit(ctx, sqlite.AuditFilter{})
	if err != nil {
		t.Fatalf("RecentAudit: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 audit record, got %d", len(records))
	}
	if err := orch.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if store.closed != 1 {
		t.Fatalf("expected datastore close count 1, got %d", store.closed)
	}
}

func TestCloseStopsPruneLoop(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	cfg := Config{
		LedgerPath:    filepath.Join(dir, "ledger.db"),
		PruneInterval: 10 * time.Millisecond,
	}
	orch, err := New(context.Background(), cfg, WithDatastore(&stubStore{}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	time.Sleep(30 * time.Millisecond)
	done := make(chan error, 1)
	go func() { done <- orch.Close() }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Close: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not stop the prune loop")
	}
	if err := orch.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

type stubStore struct {
	closed int
}

func (s *stubStore) ListCollections(context.Context) ([]string, error) { return nil, nil }
func (s *stubStore) Sample(context.Context, string, int) ([]query.Document, error) {
	return nil, nil
}
func (s *stubStore) EstimatedCount(context.Context, string) (int64, error) { return 0, nil }
func (s *stubStore) Find(context.Context, string, query.Document, int64) ([]query.Document, error) {
	return nil, nil
}
func (s *stubStore) Aggregate(context.Context, string, []query.Document) ([]query.Document, error) {
	return nil, nil
}
func (s *stubStore) Count(context.Context, string, query.Document) (int64, error) { return 0, nil }
func (s *stubStore) Distinct(context.Context, string, string, query.Document) ([]any, error) {
	return nil, nil
}
func (s *stubStore) Close() error {
	s.closed++
	return nil
}
