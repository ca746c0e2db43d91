// Package usage turns model token counts into approximate cost telemetry.
// Recording never fails the caller.
package usage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nicodishanthj/fieldq/internal/common"
	"github.com/nicodishanthj/fieldq/internal/common/telemetry"
	"github.com/nicodishanthj/fieldq/internal/llm"
	"github.com/nicodishanthj/fieldq/internal/sqlite"
)

const sinkTimeout = 5 * time.Second

// Rates are USD prices per million tokens.
type Rates struct {
	InputPerMillion  float64
	CachedPerMillion float64
	OutputPerMillion float64
}

// DefaultRates match the published gpt-4o-mini prices.
var DefaultRates = Rates{InputPerMillion: 0.15, CachedPerMillion: 0.075, OutputPerMillion: 0.60}

// Sink persists usage rows.
type Sink interface {
	InsertUsage(ctx context.Context, rec sqlite.UsageRecord) error
}

// Event is the metadata attached to one model call.
type Event struct {
	RequestID string
	Provider  string
	Model     string
	Usage     llm.Usage
}

// Recorder is what the generator reports to.
type Recorder interface {
	Record(Event)
}

// Accountant records usage asynchronously.
type Accountant struct {
	rates Rates
	sink  Sink
	now   func() time.Time
	wg    sync.WaitGroup
}

// NewAccountant builds an accountant. sink may be nil.
func NewAccountant(rates Rates, sink Sink) *Accountant {
	if rates == (Rates{}) {
		rates = DefaultRates
	}
	return &Accountant{rates: rates, sink: sink, now: time.Now}
}

// Cost computes the approximate USD cost of u. Cached tokens are a subset of
// input tokens and are billed at the cached rate.
func Cost(r Rates, u llm.Usage) float64 {
	input := max(u.InputTokens, 0)
	cached := min(max(u.CachedTokens, 0), input)
	output := max(u.OutputTokens, 0)
	return (float64(input-cached)*r.InputPerMillion +
		float64(cached)*r.CachedPerMillion +
		float64(output)*r.OutputPerMillion) / 1e6
}

// Record accounts for ev in the background.
func (a *Accountant) Record(ev Event) {
	if a == nil {
		return
	}
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.record(ev); err != nil {
			telemetry.RecordUsageFailure()
			common.Logger().Warn("usage: record failed", "request_id", ev.RequestID, "error", err)
		}
	}()
}

// Wait blocks until every pending Record has finished.
func (a *Accountant) Wait() {
	if a == nil {
		return
	}
	a.wg.Wait()
}

func (a *Accountant) record(ev Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	cost := Cost(a.rates, ev.Usage)
	telemetry.RecordUsage(ev.Usage.InputTokens, ev.Usage.CachedTokens, ev.Usage.OutputTokens, cost)
	common.Logger().Info("usage: model call",
		"request_id", ev.RequestID,
		"provider", ev.Provider,
		"model", ev.Model,
		"input_tokens", ev.Usage.InputTokens,
		"cached_tokens", ev.Usage.CachedTokens,
		"output_tokens", ev.Usage.OutputTokens,
		"cost_usd", cost,
	)
	if a.sink == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
	defer cancel()
	return a.sink.InsertUsage(ctx, sqlite.UsageRecord{
		RequestID:    ev.RequestID,
		Provider:     ev.Provider,
		Model:        ev.Model,
		InputTokens:  ev.Usage.InputTokens,
		CachedTokens: ev.Usage.CachedTokens,
		OutputTokens: ev.Usage.OutputTokens,
		CostUSD:      cost,
		CreatedAt:    a.now(),
	})
}
