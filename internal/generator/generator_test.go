package generator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/nicodishanthj/fieldq/internal/llm"
	"github.com/nicodishanthj/fieldq/internal/promptctx"
	"github.com/nicodishanthj/fieldq/internal/query"
	"github.com/nicodishanthj/fieldq/internal/usage"
)

type mockProvider struct {
	reply llm.Reply
	err   error
	delay time.Duration
	last  llm.Request
}

func (m *mockProvider) Generate(ctx context.Context, req llm.Request) (llm.Reply, error) {
	m.last = req
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return llm.Reply{}, ctx.Err()
		}
	}
	return m.reply, m.err
}

func (m *mockProvider) Name() string { return "mock" }

type mockRecorder struct {
	mu     sync.Mutex
	events []usage.Event
}

func (r *mockRecorder) Record(ev usage.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

var testContext = &promptctx.Context{ID: "ctx-1", Instruction: "RULES"}

func TestGenerateAccepted(t *testing.T) {
	provider := &mockProvider{reply: llm.Reply{
		Content: `{"rejected":false,"operation":"find","collection":"farms","filter":{"ownerId":"U1"},"explanation":"all farms","confidence":0.92}`,
		Model:   "gpt-4o-mini",
		Usage:   llm.Usage{InputTokens: 900, OutputTokens: 40},
	}}
	recorder := &mockRecorder{}
	gen := New(provider, Options{Recorder: recorder})

	out, err := gen.Generate(context.Background(), "Show me all my farms", testContext, query.Identity{ID: "U1", Role: query.RoleStandard})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	accepted, ok := out.(query.Accepted)
	if !ok {
		t.Fatalf("expected Accepted, got %T", out)
	}
	want := query.Accepted{
		Body:        query.Body{Filter: query.Document{"ownerId": "U1"}},
		Collection:  "farms",
		Operation:   query.OpFind,
		Explanation: "all farms",
		Confidence:  0.92,
	}
	if diff := cmp.Diff(want, accepted); diff != "" {
		t.Fatalf("accepted mismatch (-want +got):\n%s", diff)
	}
	if !provider.last.JSONOutput || provider.last.Temperature != defaultTemperature {
		t.Fatalf("unexpected decoding settings: %+v", provider.last)
	}
	if len(provider.last.Messages) != 2 || provider.last.Messages[0].Content != "RULES" {
		t.Fatalf("system instruction not sent: %+v", provider.last.Messages)
	}
	if !strings.Contains(provider.last.Messages[1].Content, "CALLER_ID: U1") {
		t.Fatalf("caller id missing from user message: %q", provider.last.Messages[1].Content)
	}
	if len(recorder.events) != 1 || recorder.events[0].Usage.InputTokens != 900 {
		t.Fatalf("usage not recorded: %+v", recorder.events)
	}
}

func TestGenerateRejected(t *testing.T) {
	provider := &mockProvider{reply: llm.Reply{Content: `{"rejected":true,"explanation":"destructive operation not allowed","confidence":1}`}}
	out, err := New(provider, Options{}).Generate(context.Background(), "Delete all farms", testContext, query.Identity{ID: "U1"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	rejected, ok := out.(query.Rejected)
	if !ok || rejected.Explanation != "destructive operation not allowed" {
		t.Fatalf("unexpected outcome: %#v", out)
	}
}

func TestGenerateProviderFailure(t *testing.T) {
	provider := &mockProvider{err: errors.New("503 upstream")}
	_, err := New(provider, Options{}).Generate(context.Background(), "x", testContext, query.Identity{ID: "U1"})
	if query.KindOf(err) != query.KindGeneration {
		t.Fatalf("expected generation error, got %v", err)
	}
}

func TestGenerateBoundedByTimeout(t *testing.T) {
	provider := &mockProvider{delay: 5 * time.Second}
	start := time.Now()
	_, err := New(provider, Options{Timeout: 50 * time.Millisecond}).Generate(context.Background(), "x", testContext, query.Identity{ID: "U1"})
	if query.KindOf(err) != query.KindGeneration {
		t.Fatalf("expected generation error, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline cause, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("generator not bounded: %s", elapsed)
	}
}

func TestGenerateUnparseable(t *testing.T) {
	provider := &mockProvider{reply: llm.Reply{Content: "Sure! Here are your farms."}}
	recorder := &mockRecorder{}
	_, err := New(provider, Options{Recorder: recorder}).Generate(context.Background(), "x", testContext, query.Identity{ID: "U1"})
	if query.KindOf(err) != query.KindParse {
		t.Fatalf("expected parse error, got %v", err)
	}
	if len(recorder.events) != 1 {
		t.Fatalf("usage should be recorded even for unparseable replies")
	}
}

func TestGenerateRequiresContext(t *testing.T) {
	_, err := New(&mockProvider{}, Options{}).Generate(context.Background(), "x", nil, query.Identity{ID: "U1"})
	if query.KindOf(err) != query.KindGeneration {
		t.Fatalf("expected generation error, got %v", err)
	}
}

func TestGenerateHonoursRateLimit(t *testing.T) {
	provider := &mockProvider{reply: llm.Reply{Content: `{"rejected":true,"explanation":"no"}`}}
	gen := New(provider, Options{RatePerSecond: 0.001, Burst: 1})
	if _, err := gen.Generate(context.Background(), "x", testContext, query.Identity{ID: "U1"}); err != nil {
		t.Fatalf("first call: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := gen.Generate(ctx, "x", testContext, query.Identity{ID: "U1"}); query.KindOf(err) != query.KindGeneration {
		t.Fatalf("expected rate limited generation error, got %v", err)
	}
}
