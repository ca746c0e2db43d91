// Package engine composes the query pipeline: schema snapshot, prompt context,
// generation, validation and execution. Every request ends in exactly one
// Response.
package engine

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/nicodishanthj/fieldq/internal/common"
	"github.com/nicodishanthj/fieldq/internal/common/telemetry"
	"github.com/nicodishanthj/fieldq/internal/promptctx"
	"github.com/nicodishanthj/fieldq/internal/query"
	"github.com/nicodishanthj/fieldq/internal/schema"
	"github.com/nicodishanthj/fieldq/internal/sqlite"
)

const auditTimeout = 2 * time.Second

type SchemaSource interface {
	Snapshot(ctx context.Context) (*schema.Snapshot, error)
	Invalidate()
}

type ContextSource interface {
	Get(ctx context.Context, snap *schema.Snapshot) (*promptctx.Context, error)
	Invalidate()
}

type Generator interface {
	Generate(ctx context.Context, prompt string, pc *promptctx.Context, id query.Identity) (query.Generated, error)
}

type Validator interface {
	Validate(q query.Accepted, id query.Identity) query.Verdict
}

type Executor interface {
	Execute(ctx context.Context, collection string, op query.Operation, body query.Body, timeout time.Duration) query.Result
}

// AuditSink persists denials. Optional.
type AuditSink interface {
	InsertAudit(ctx context.Context, rec sqlite.AuditRecord) error
}

// Deps are the collaborators the engine drives.
type Deps struct {
	Schema    SchemaSource
	Contexts  ContextSource
	Generator Generator
	Validator Validator
	Executor  Executor
	Audit     AuditSink
	// Render controls the text returned by Schema.
	Render schema.RenderOptions
}

type Engine struct {
	deps Deps
}

func New(deps Deps) *Engine {
	return &Engine{deps: deps}
}

// Request is one natural-language question from an authenticated caller.
type Request struct {
	Prompt   string
	Identity query.Identity
	// Timeout overrides the executor's default deadline. Zero uses the default.
	Timeout time.Duration
}

// Response is the single result shape returned to callers.
type Response struct {
	Success     bool    `json:"success"`
	Data        []any   `json:"data,omitempty"`
	Error       string  `json:"error,omitempty"`
	ErrorKind   string  `json:"error_kind,omitempty"`
	Collection  string  `json:"collection,omitempty"`
	Operation   string  `json:"operation,omitempty"`
	Explanation string  `json:"explanation,omitempty"`
	Confidence  float64 `json:"confidence,omitempty"`
	ElapsedMs   int64   `json:"elapsed_ms"`
	RequestID   string  `json:"request_id,omitempty"`
	// Status is the HTTP status the outcome maps to.
	Status int `json:"-"`
}

// Ask runs the pipeline for req. Steps run strictly in order and the first
// failure ends the request.
func (e *Engine) Ask(ctx context.Context, req Request) Response {
	start := time.Now()
	requestID := common.RequestID(ctx)
	if requestID == "" {
		ctx = common.WithRequestID(ctx, "")
		requestID = common.RequestID(ctx)
	}
	ctx, end := telemetry.StartSpan(ctx, "engine.ask")
	logger := common.Logger().With("request_id", requestID)

	resp := e.run(ctx, req)
	resp.RequestID = requestID
	resp.ElapsedMs = time.Since(start).Milliseconds()
	if resp.Success {
		resp.Status = 200
		logger.Info("engine: query answered", "user", req.Identity.ID, "collection", resp.Collection, "operation", resp.Operation, "rows", len(resp.Data), "elapsed_ms", resp.ElapsedMs)
	} else {
		logger.Info("engine: query not answered", "user", req.Identity.ID, "kind", resp.ErrorKind, "elapsed_ms", resp.ElapsedMs)
	}
	end("success", resp.Success, "kind", resp.ErrorKind)
	return resp
}

func (e *Engine) run(ctx context.Context, req Request) Response {
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return fail(Response{}, query.Errorf(query.KindRejected, "prompt is empty"))
	}

	snap, err := e.deps.Schema.Snapshot(ctx)
	if err != nil {
		return fail(Response{}, asQueryError(err, query.KindIntrospection, "schema introspection failed"))
	}
	pc, err := e.deps.Contexts.Get(ctx, snap)
	if err != nil {
		return fail(Response{}, query.NewError(query.KindGeneration, "prompt context unavailable", err))
	}

	generated, err := e.deps.Generator.Generate(ctx, prompt, pc, req.Identity)
	if err != nil {
		return fail(Response{}, asQueryError(err, query.KindGeneration, "model call failed"))
	}
	var accepted query.Accepted
	switch g := generated.(type) {
	case query.Rejected:
		return fail(Response{Explanation: g.Explanation}, query.Errorf(query.KindRejected, "%s", g.Explanation))
	case query.Accepted:
		accepted = g
	default:
		return fail(Response{}, query.Errorf(query.KindParse, "unrecognised generator outcome %T", generated))
	}

	resp := Response{
		Collection:  accepted.Collection,
		Operation:   string(accepted.Operation),
		Explanation: accepted.Explanation,
		Confidence:  accepted.Confidence,
	}
	verdict := e.deps.Validator.Validate(accepted, req.Identity)
	if !verdict.Passed() {
		e.audit(ctx, req, accepted, verdict.Err)
		return fail(resp, verdict.Err)
	}

	result := e.deps.Executor.Execute(ctx, accepted.Collection, accepted.Operation, verdict.Body, req.Timeout)
	if !result.Success {
		err := result.Err
		if err == nil {
			err = query.Errorf(query.KindExecution, "query execution failed")
		}
		return fail(resp, err)
	}
	resp.Success = true
	resp.Data = result.Data
	if resp.Data == nil {
		resp.Data = []any{}
	}
	return resp
}

// Invalidate drops both caches so the next request re-reads the datastore.
func (e *Engine) Invalidate() {
	e.deps.Schema.Invalidate()
	e.deps.Contexts.Invalidate()
}

// Schema returns the current snapshot and its rendered text.
func (e *Engine) Schema(ctx context.Context) (*schema.Snapshot, string, error) {
	snap, err := e.deps.Schema.Snapshot(ctx)
	if err != nil {
		return nil, "", err
	}
	return snap, schema.Render(snap, e.deps.Render), nil
}

func (e *Engine) audit(ctx context.Context, req Request, q query.Accepted, qerr *query.Error) {
	telemetry.RecordDenial(qerr.Kind.String())
	requestID := common.RequestID(ctx)
	common.Logger().Warn("engine: query denied",
		"audit", true,
		"request_id", requestID,
		"user", req.Identity.ID,
		"role", string(req.Identity.Role),
		"kind", qerr.Kind.String(),
		"reason", qerr.Reason,
		"collection", q.Collection,
		"operation", string(q.Operation),
	)
	if e.deps.Audit == nil {
		return
	}
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), auditTimeout)
	defer cancel()
	if err := e.deps.Audit.InsertAudit(actx, sqlite.AuditRecord{
		RequestID:  requestID,
		Identity:   req.Identity.ID,
		Role:       string(req.Identity.Role),
		Kind:       qerr.Kind.String(),
		Reason:     qerr.Reason,
		Collection: q.Collection,
		Operation:  string(q.Operation),
		Prompt:     req.Prompt,
	}); err != nil {
		common.Logger().Error("engine: audit ledger write failed", "request_id", requestID, "error", err)
	}
}

func asQueryError(err error, fallback query.Kind, reason string) *query.Error {
	var qerr *query.Error
	if errors.As(err, &qerr) && qerr != nil {
		return qerr
	}
	return query.NewError(fallback, reason, err)
}
