// Package generator asks the language model to turn a question into a
// proposed read query. Its output is advisory; the sandbox re-checks it.
package generator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/nicodishanthj/fieldq/internal/common"
	"github.com/nicodishanthj/fieldq/internal/common/telemetry"
	"github.com/nicodishanthj/fieldq/internal/llm"
	"github.com/nicodishanthj/fieldq/internal/promptctx"
	"github.com/nicodishanthj/fieldq/internal/query"
	"github.com/nicodishanthj/fieldq/internal/usage"
)

const (
	defaultTemperature = 0.1
	defaultMaxTokens   = 1024
	defaultTimeout     = 30 * time.Second
)

// Options tune generation.
type Options struct {
	Temperature float64
	MaxTokens   int
	// Timeout bounds a single model call. The request context still applies.
	Timeout time.Duration
	// RatePerSecond and Burst pace calls to the model service. Zero disables pacing.
	RatePerSecond float64
	Burst         int
	Recorder      usage.Recorder
}

type Generator struct {
	provider llm.Provider
	limiter  *rate.Limiter
	opts     Options
}

func New(provider llm.Provider, opts Options) *Generator {
	if opts.Temperature <= 0 {
		opts.Temperature = defaultTemperature
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = defaultMaxTokens
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	g := &Generator{provider: provider, opts: opts}
	if opts.RatePerSecond > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(opts.RatePerSecond), burst)
	}
	return g
}

// Generate proposes a query for prompt. It returns query.Accepted or
// query.Rejected, or a *query.Error of kind Generation or Parse.
func (g *Generator) Generate(ctx context.Context, prompt string, pc *promptctx.Context, id query.Identity) (query.Generated, error) {
	ctx, end := telemetry.StartSpan(ctx, "generator.generate")
	start := time.Now()
	outcome := "error"
	defer func() {
		telemetry.RecordGeneration(outcome, time.Since(start))
		end("outcome", outcome)
	}()

	if g.provider == nil {
		return nil, query.Errorf(query.KindGeneration, "no language model configured")
	}
	if pc == nil {
		return nil, query.Errorf(query.KindGeneration, "prompt context missing")
	}
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return nil, query.NewError(query.KindGeneration, "model call not started", err)
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, g.opts.Timeout)
	defer cancel()
	reply, err := g.provider.Generate(callCtx, llm.Request{
		Messages:    buildMessages(prompt, pc, id),
		Temperature: g.opts.Temperature,
		MaxTokens:   g.opts.MaxTokens,
		JSONOutput:  true,
	})
	if err != nil {
		reason := "model call failed"
		if errors.Is(err, context.DeadlineExceeded) {
			reason = fmt.Sprintf("model call exceeded %s", g.opts.Timeout)
		}
		common.Logger().Warn("generator: model call failed", "provider", g.provider.Name(), "request_id", common.RequestID(ctx), "error", err)
		return nil, query.NewError(query.KindGeneration, reason, err)
	}

	if g.opts.Recorder != nil {
		g.opts.Recorder.Record(usage.Event{
			RequestID: common.RequestID(ctx),
			Provider:  g.provider.Name(),
			Model:     reply.Model,
			Usage:     reply.Usage,
		})
	}

	generated, err := Parse(reply.Content)
	if err != nil {
		outcome = "parse_error"
		common.Logger().Warn("generator: unparseable reply", "request_id", common.RequestID(ctx), "error", err)
		return nil, err
	}
	switch v := generated.(type) {
	case query.Rejected:
		outcome = "rejected"
	case query.Accepted:
		outcome = "accepted"
		common.Logger().Debug("generator: proposed query", "request_id", common.RequestID(ctx), "query", v.String())
	}
	return generated, nil
}

func buildMessages(prompt string, pc *promptctx.Context, id query.Identity) []llm.Message {
	user := fmt.Sprintf("CALLER_ID: %s\nCALLER_ROLE: %s\nQUESTION: %s", id.ID, id.Role, prompt)
	return []llm.Message{
		{Role: "system", Content: pc.Instruction},
		{Role: "user", Content: user},
	}
}
