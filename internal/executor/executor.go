// Package executor runs validated queries against the datastore under a hard
// deadline.
package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nicodishanthj/fieldq/internal/common"
	"github.com/nicodishanthj/fieldq/internal/common/telemetry"
	"github.com/nicodishanthj/fieldq/internal/datastore"
	"github.com/nicodishanthj/fieldq/internal/query"
)

const (
	defaultTimeout    = 5 * time.Second
	defaultMaxTimeout = 30 * time.Second
	sanitizedFailure  = "query execution failed"
)

// Options tune execution.
type Options struct {
	DefaultTimeout time.Duration
	MaxTimeout     time.Duration
	// ExposeErrors returns raw datastore error text to callers. Off by default.
	ExposeErrors bool
}

type Executor struct {
	reader datastore.Reader
	opts   Options
}

func New(reader datastore.Reader, opts Options) *Executor {
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = defaultTimeout
	}
	if opts.MaxTimeout <= 0 {
		opts.MaxTimeout = defaultMaxTimeout
	}
	if opts.DefaultTimeout > opts.MaxTimeout {
		opts.DefaultTimeout = opts.MaxTimeout
	}
	return &Executor{reader: reader, opts: opts}
}

// Timeout resolves a requested timeout against the configured default and cap.
func (e *Executor) Timeout(requested time.Duration) time.Duration {
	switch {
	case requested <= 0:
		return e.opts.DefaultTimeout
	case requested > e.opts.MaxTimeout:
		return e.opts.MaxTimeout
	default:
		return requested
	}
}

type outcome struct {
	data []any
	err  error
}

// Execute runs body as op against collection. Once the deadline passes it
// returns a Timeout result without data and cancels the in-flight call.
// ElapsedMs is always set.
func (e *Executor) Execute(ctx context.Context, collection string, op query.Operation, body query.Body, timeout time.Duration) query.Result {
	ctx, end := telemetry.StartSpan(ctx, "executor.execute")
	timeout = e.Timeout(timeout)
	start := time.Now()
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan outcome, 1)
	go func() {
		data, err := e.dispatch(callCtx, collection, op, body)
		done <- outcome{data: data, err: err}
	}()

	var result query.Result
	select {
	case out := <-done:
		result = e.settle(ctx, callCtx, out, timeout, start)
	case <-callCtx.Done():
		result = e.abandoned(ctx, timeout, start)
	}
	timedOut := result.Err != nil && result.Err.Kind == query.KindTimeout
	telemetry.RecordExecution(string(op), time.Since(start), timedOut)
	end("collection", collection, "operation", op, "success", result.Success, "elapsed_ms", result.ElapsedMs)
	return result
}

func (e *Executor) settle(ctx, callCtx context.Context, out outcome, timeout time.Duration, start time.Time) query.Result {
	// a reply racing the deadline is discarded
	if callCtx.Err() != nil {
		return e.abandoned(ctx, timeout, start)
	}
	elapsed := time.Since(start).Milliseconds()
	if out.err != nil {
		if errors.Is(out.err, context.DeadlineExceeded) {
			return e.abandoned(ctx, timeout, start)
		}
		common.Logger().Warn("executor: datastore call failed", "request_id", common.RequestID(ctx), "error", out.err)
		reason := sanitizedFailure
		if e.opts.ExposeErrors {
			reason = out.err.Error()
		}
		return query.Result{Err: query.NewError(query.KindExecution, reason, out.err), ElapsedMs: elapsed}
	}
	return query.Result{Success: true, Data: out.data, ElapsedMs: elapsed}
}

func (e *Executor) abandoned(ctx context.Context, timeout time.Duration, start time.Time) query.Result {
	elapsed := time.Since(start).Milliseconds()
	if errors.Is(ctx.Err(), context.Canceled) {
		return query.Result{Err: query.NewError(query.KindExecution, "request cancelled", ctx.Err()), ElapsedMs: elapsed}
	}
	common.Logger().Warn("executor: deadline exceeded", "request_id", common.RequestID(ctx), "timeout", timeout, "elapsed_ms", elapsed)
	return query.Result{
		Err:       query.NewError(query.KindTimeout, fmt.Sprintf("query exceeded %s timeout after %dms", timeout, elapsed), context.DeadlineExceeded),
		ElapsedMs: elapsed,
	}
}

func (e *Executor) dispatch(ctx context.Context, collection string, op query.Operation, body query.Body) ([]any, error) {
	switch op {
	case query.OpFind:
		docs, err := e.reader.Find(ctx, collection, body.Filter, query.MaxResults)
		if err != nil {
			return nil, err
		}
		return documents(docs), nil
	case query.OpAggregate:
		pipeline := make([]query.Document, 0, len(body.Pipeline)+1)
		pipeline = append(pipeline, body.Pipeline...)
		pipeline = append(pipeline, query.Document{"$limit": int64(query.MaxResults)})
		docs, err := e.reader.Aggregate(ctx, collection, pipeline)
		if err != nil {
			return nil, err
		}
		return documents(docs), nil
	case query.OpCount:
		n, err := e.reader.Count(ctx, collection, body.Filter)
		if err != nil {
			return nil, err
		}
		return []any{query.Document{"count": n}}, nil
	case query.OpDistinct:
		if body.Distinct == nil || body.Distinct.Field == "" {
			return nil, errors.New("distinct field missing")
		}
		values, err := e.reader.Distinct(ctx, collection, body.Distinct.Field, body.Distinct.Filter)
		if err != nil {
			return nil, err
		}
		if len(values) > query.MaxResults {
			values = values[:query.MaxResults]
		}
		return values, nil
	default:
		return nil, fmt.Errorf("unsupported operation %q", op)
	}
}

func documents(docs []query.Document) []any {
	if len(docs) > query.MaxResults {
		docs = docs[:query.MaxResults]
	}
	out := make([]any, len(docs))
	for i, doc := range docs {
		out[i] = doc
	}
	return out
}
