package telemetry

import (
	"context"
	"expvar"
	"strings"
	"sync"
	"time"

	"github.com/nicodishanthj/fieldq/internal/common"
)

type spanKey struct{}

type span struct {
	name  string
	start time.Time
}

var (
	initOnce sync.Once

	generationTotal     *expvar.Int
	generationFailures  *expvar.Int
	generationRejected  *expvar.Int
	generationLatencyMS *expvar.Int

	cacheLookups *expvar.Map
	cacheHits    *expvar.Map

	denials *expvar.Map

	executionTotal     *expvar.Map
	executionLatencyMS *expvar.Map
	executionTimeouts  *expvar.Int

	tokensTotal   *expvar.Map
	costMicroUSD  *expvar.Int
	usageFailures *expvar.Int
)

func ensureInit() {
	initOnce.Do(func() {
		generationTotal = expvar.NewInt("fieldq_generation_total")
		generationFailures = expvar.NewInt("fieldq_generation_failures")
		generationRejected = expvar.NewInt("fieldq_generation_rejected")
		generationLatencyMS = expvar.NewInt("fieldq_generation_latency_ms")

		cacheLookups = expvar.NewMap("fieldq_cache_lookups")
		cacheHits = expvar.NewMap("fieldq_cache_hits")

		denials = expvar.NewMap("fieldq_validation_denials")

		executionTotal = expvar.NewMap("fieldq_execution_total")
		executionLatencyMS = expvar.NewMap("fieldq_execution_latency_ms")
		executionTimeouts = expvar.NewInt("fieldq_execution_timeouts")

		tokensTotal = expvar.NewMap("fieldq_tokens_total")
		costMicroUSD = expvar.NewInt("fieldq_cost_micro_usd")
		usageFailures = expvar.NewInt("fieldq_usage_failures")
	})
}

// StartSpan logs the start of a named unit of work and returns a finisher that
// logs its duration along with any extra attributes.
func StartSpan(ctx context.Context, name string) (context.Context, func(attrs ...interface{})) {
	ensureInit()
	sp := &span{name: name, start: time.Now()}
	ctx = context.WithValue(ctx, spanKey{}, sp)
	logger := common.Logger()
	logger.Debug("trace: start", "span", name)
	return ctx, func(attrs ...interface{}) {
		duration := time.Since(sp.start)
		logger.Debug("trace: end", append([]interface{}{"span", name, "dur", duration}, attrs...)...)
	}
}

// SpanDuration reports how long the innermost span on ctx has been running.
func SpanDuration(ctx context.Context) time.Duration {
	sp, _ := ctx.Value(spanKey{}).(*span)
	if sp == nil {
		return 0
	}
	return time.Since(sp.start)
}

func RecordGeneration(outcome string, duration time.Duration) {
	ensureInit()
	generationTotal.Add(1)
	switch outcome {
	case "error":
		generationFailures.Add(1)
	case "rejected":
		generationRejected.Add(1)
	}
	if duration > 0 {
		generationLatencyMS.Add(duration.Milliseconds())
	}
}

// RecordCacheLookup counts lookups against one of the named caches
// ("schema", "prompt_context").
func RecordCacheLookup(cache string, hit bool) {
	ensureInit()
	key := normalizeKey(cache, "unknown")
	cacheLookups.Add(key, 1)
	if hit {
		cacheHits.Add(key, 1)
	}
}

func RecordDenial(kind string) {
	ensureInit()
	denials.Add(normalizeKey(kind, "unknown"), 1)
}

func RecordExecution(operation string, duration time.Duration, timedOut bool) {
	ensureInit()
	key := normalizeKey(operation, "unknown")
	executionTotal.Add(key, 1)
	if duration > 0 {
		executionLatencyMS.Add(key, duration.Milliseconds())
	}
	if timedOut {
		executionTimeouts.Add(1)
	}
}

func RecordUsage(inputTokens, cachedTokens, outputTokens int64, costUSD float64) {
	ensureInit()
	tokensTotal.Add("input", inputTokens)
	tokensTotal.Add("cached", cachedTokens)
	tokensTotal.Add("output", outputTokens)
	if costUSD > 0 {
		costMicroUSD.Add(int64(costUSD * 1e6))
	}
}

func RecordUsageFailure() {
	ensureInit()
	usageFailures.Add(1)
}

func normalizeKey(value, fallback string) string {
	key := strings.TrimSpace(strings.ToLower(value))
	if key == "" {
		return fallback
	}
	return key
}
