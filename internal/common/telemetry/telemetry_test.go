package telemetry

import (
	"context"
	"expvar"
	"strconv"
	"testing"
	"time"
)

func intVar(t *testing.T, name string) int64 {
	t.Helper()
	v, ok := expvar.Get(name).(*expvar.Int)
	if !ok {
		t.Fatalf("expvar %s not registered", name)
	}
	return v.Value()
}

func mapEntry(t *testing.T, name, key string) int64 {
	t.Helper()
	m, ok := expvar.Get(name).(*expvar.Map)
	if !ok {
		t.Fatalf("expvar %s not registered", name)
	}
	v := m.Get(key)
	if v == nil {
		return 0
	}
	n, err := strconv.ParseInt(v.String(), 10, 64)
	if err != nil {
		t.Fatalf("parse %s[%s]: %v", name, key, err)
	}
	return n
}

func TestRecordGenerationOutcomes(t *testing.T) {
	ensureInit()
	total := intVar(t, "fieldq_generation_total")
	rejected := intVar(t, "fieldq_generation_rejected")
	failures := intVar(t, "fieldq_generation_failures")

	RecordGeneration("accepted", 10*time.Millisecond)
	RecordGeneration("rejected", 0)
	RecordGeneration("error", 0)

	if got := intVar(t, "fieldq_generation_total") - total; got != 3 {
		t.Fatalf("total delta = %d", got)
	}
	if got := intVar(t, "fieldq_generation_rejected") - rejected; got != 1 {
		t.Fatalf("rejected delta = %d", got)
	}
	if got := intVar(t, "fieldq_generation_failures") - failures; got != 1 {
		t.Fatalf("failures delta = %d", got)
	}
}

func TestRecordCacheLookupNormalizesKey(t *testing.T) {
	ensureInit()
	lookups := mapEntry(t, "fieldq_cache_lookups", "schema")
	hits := mapEntry(t, "fieldq_cache_hits", "schema")

	RecordCacheLookup(" Schema ", true)
	RecordCacheLookup("schema", false)

	if got := mapEntry(t, "fieldq_cache_lookups", "schema") - lookups; got != 2 {
		t.Fatalf("lookups delta = %d", got)
	}
	if got := mapEntry(t, "fieldq_cache_hits", "schema") - hits; got != 1 {
		t.Fatalf("hits delta = %d", got)
	}
}

func TestRecordUsageCost(t *testing.T) {
	ensureInit()
	cost := intVar(t, "fieldq_cost_micro_usd")
	RecordUsage(1000, 0, 500, 0.5)
	if got := intVar(t, "fieldq_cost_micro_usd") - cost; got != 500000 {
		t.Fatalf("cost delta = %d", got)
	}
}

func TestSpanDuration(t *testing.T) {
	if SpanDuration(context.Background()) != 0 {
		t.Fatal("expected zero duration without a span")
	}
	ctx, end := StartSpan(context.Background(), "test")
	time.Sleep(5 * time.Millisecond)
	if SpanDuration(ctx) < 5*time.Millisecond {
		t.Fatalf("span duration too short: %s", SpanDuration(ctx))
	}
	end("ok", true)
}
