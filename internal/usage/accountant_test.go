package usage

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/nicodishanthj/fieldq/internal/llm"
	"github.com/nicodishanthj/fieldq/internal/sqlite"
)

type recordingSink struct {
	mu      sync.Mutex
	records []sqlite.UsageRecord
	err     error
	panic   bool
}

func (s *recordingSink) InsertUsage(ctx context.Context, rec sqlite.UsageRecord) error {
	if s.panic {
		panic("ledger exploded")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return s.err
}

func TestCost(t *testing.T) {
	rates := Rates{InputPerMillion: 0.15, CachedPerMillion: 0.075, OutputPerMillion: 0.60}
	cases := []struct {
		name  string
		usage llm.Usage
		want  float64
	}{
		{"zero", llm.Usage{}, 0},
		{"input only", llm.Usage{InputTokens: 1_000_000}, 0.15},
		{"cached subset", llm.Usage{InputTokens: 1_000_000, CachedTokens: 500_000}, 0.075 + 0.0375},
		{"output", llm.Usage{OutputTokens: 2_000_000}, 1.2},
		{"cached clamped to input", llm.Usage{InputTokens: 100, CachedTokens: 1_000}, 100 * 0.075 / 1e6},
		{"negative ignored", llm.Usage{InputTokens: -5, OutputTokens: -5}, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Cost(rates, tc.usage); math.Abs(got-tc.want) > 1e-12 {
				t.Fatalf("Cost = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestRecordWritesLedgerRow(t *testing.T) {
	sink := &recordingSink{}
	acct := NewAccountant(Rates{}, sink)
	acct.Record(Event{RequestID: "r1", Provider: "openai", Model: "gpt-4o-mini", Usage: llm.Usage{InputTokens: 1000, OutputTokens: 100}})
	acct.Wait()
	if len(sink.records) != 1 {
		t.Fatalf("records = %d, want 1", len(sink.records))
	}
	rec := sink.records[0]
	want := Cost(DefaultRates, llm.Usage{InputTokens: 1000, OutputTokens: 100})
	if rec.RequestID != "r1" || rec.CostUSD != want || rec.CreatedAt.IsZero() {
		t.Fatalf("unexpected record: %+v", rec)
	}
}

func TestRecordSwallowsFailures(t *testing.T) {
	for _, sink := range []*recordingSink{{err: errors.New("disk full")}, {panic: true}} {
		acct := NewAccountant(DefaultRates, sink)
		acct.Record(Event{RequestID: "r2", Usage: llm.Usage{InputTokens: 10}})
		acct.Wait()
	}
	var nilAcct *Accountant
	nilAcct.Record(Event{})
	nilAcct.Wait()
}

func TestRecordWithoutSink(t *testing.T) {
	acct := NewAccountant(DefaultRates, nil)
	acct.Record(Event{RequestID: "r3", Usage: llm.Usage{InputTokens: 10}})
	acct.Wait()
}
