// Package query holds the types shared by every stage of the natural-language
// query pipeline: caller identity, generated query variants, validation
// verdicts, execution results and the closed error taxonomy.
package query

import (
	"fmt"
	"strings"
)

// MaxResults caps the number of entries any execution may return.
const MaxResults = 1000

// Role is the binary access level the sandbox reasons about.
type Role string

const (
	RoleStandard   Role = "standard"
	RolePrivileged Role = "privileged"
)

// Privileged reports whether the role bypasses collection and ownership checks.
func (r Role) Privileged() bool {
	return r == RolePrivileged
}

// privilegedClaims lists role names from the identity provider that collapse
// to RolePrivileged. Everything else is standard, including farm "owner"
// accounts, which stay scoped to their own documents.
var privilegedClaims = map[string]struct{}{
	"privileged":  {},
	"admin":       {},
	"super_admin": {},
	"superadmin":  {},
}

// RoleFromClaims collapses an arbitrary set of role claims to the binary Role.
func RoleFromClaims(claims ...string) Role {
	for _, claim := range claims {
		if _, ok := privilegedClaims[strings.ToLower(strings.TrimSpace(claim))]; ok {
			return RolePrivileged
		}
	}
	return RoleStandard
}

// Identity is the authenticated caller as supplied by the auth layer.
type Identity struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}

// Operation names one of the read operations the datastore supports.
type Operation string

const (
	OpFind      Operation = "find"
	OpAggregate Operation = "aggregate"
	OpCount     Operation = "count"
	OpDistinct  Operation = "distinct"
)

// Known reports whether op is one of the allow-listed read operations.
func (op Operation) Known() bool {
	switch op {
	case OpFind, OpAggregate, OpCount, OpDistinct:
		return true
	default:
		return false
	}
}

// Document is a single datastore document or filter object.
type Document = map[string]any

// Body is the operation-shaped query payload: Filter for find and count,
// Pipeline for aggregate, Distinct for distinct. Validation drops the fields
// the operation does not use.
type Body struct {
	Filter   Document       `json:"filter,omitempty"`
	Pipeline []Document     `json:"pipeline,omitempty"`
	Distinct *DistinctQuery `json:"distinct,omitempty"`
}

// DistinctQuery selects the distinct values of Field among documents matching Filter.
type DistinctQuery struct {
	Field  string   `json:"field"`
	Filter Document `json:"filter"`
}

// Clone returns a deep copy of the body so later stages can rewrite it without
// touching the original.
func (b Body) Clone() Body {
	out := Body{}
	if b.Filter != nil {
		out.Filter = CloneDocument(b.Filter)
	}
	if b.Pipeline != nil {
		out.Pipeline = make([]Document, len(b.Pipeline))
		for i, stage := range b.Pipeline {
			out.Pipeline[i] = CloneDocument(stage)
		}
	}
	if b.Distinct != nil {
		out.Distinct = &DistinctQuery{Field: b.Distinct.Field}
		if b.Distinct.Filter != nil {
			out.Distinct.Filter = CloneDocument(b.Distinct.Filter)
		}
	}
	return out
}

// CloneDocument deep-copies nested maps and slices.
func CloneDocument(doc Document) Document {
	if doc == nil {
		return nil
	}
	out := make(Document, len(doc))
	for k, v := range doc {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return CloneDocument(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	case []Document:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = CloneDocument(item)
		}
		return out
	default:
		return val
	}
}

// Generated is the outcome of the query generator: either Accepted or Rejected.
type Generated interface {
	generated()
}

// Accepted is a proposed query. Its contents are advisory until validated.
type Accepted struct {
	Body        Body      `json:"body"`
	Collection  string    `json:"collection"`
	Operation   Operation `json:"operation"`
	Explanation string    `json:"explanation"`
	Confidence  float64   `json:"confidence"`
}

// Rejected means the generator declined to produce a query.
type Rejected struct {
	Explanation string `json:"explanation"`
}

func (Accepted) generated() {}
func (Rejected) generated() {}

// Verdict is the validator's answer. When Err is nil the query passed and Body
// is the (possibly rewritten) body to execute.
type Verdict struct {
	Body Body
	Err  *Error
}

// Passed reports whether the verdict allows execution.
func (v Verdict) Passed() bool {
	return v.Err == nil
}

// Result is the outcome of a single execution against the datastore.
type Result struct {
	Success   bool   `json:"success"`
	Data      []any  `json:"data,omitempty"`
	Err       *Error `json:"-"`
	ElapsedMs int64  `json:"elapsed_ms"`
}

func (a Accepted) String() string {
	return fmt.Sprintf("%s on %s (confidence %.2f)", a.Operation, a.Collection, a.Confidence)
}
