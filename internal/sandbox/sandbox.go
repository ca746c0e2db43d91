// Package sandbox decides whether a generated query may run and rewrites it so
// standard callers can only read their own documents. It trusts nothing the
// generator claims.
package sandbox

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/nicodishanthj/fieldq/internal/query"
)

// blacklist matches operators that execute code or write data, at any depth,
// whether they appear as keys or as string values.
var blacklist = regexp.MustCompile(`(?i)"\$(where|function|accumulator|expr|eval|out|merge)"`)

// crossCollectionStages read from collections other than the one validated.
var crossCollectionStages = map[string]struct{}{
	"$lookup":      {},
	"$graphLookup": {},
	"$unionWith":   {},
}

// Policy configures the sandbox.
type Policy struct {
	OwnershipField  string
	UserCollections []string
}

type Sandbox struct {
	ownership string
	allowed   map[string]struct{}
}

func New(p Policy) *Sandbox {
	field := strings.TrimSpace(p.OwnershipField)
	if field == "" {
		field = "ownerId"
	}
	allowed := make(map[string]struct{}, len(p.UserCollections))
	for _, name := range p.UserCollections {
		if name = strings.TrimSpace(name); name != "" {
			allowed[name] = struct{}{}
		}
	}
	return &Sandbox{ownership: field, allowed: allowed}
}

// OwnershipField is the field injected for standard callers.
func (s *Sandbox) OwnershipField() string {
	return s.ownership
}

// Validate runs the checks in order and stops at the first failure: operation
// allow-list, operator blacklist, collection access, ownership injection. The
// returned body is a rewritten copy; q is never modified.
func (s *Sandbox) Validate(q query.Accepted, id query.Identity) query.Verdict {
	if !q.Operation.Known() {
		return deny(query.KindSecurity, "operation not allowed")
	}
	if reason, ok := scan(q.Body); !ok {
		return deny(query.KindSecurity, reason)
	}

	body := operationBody(q.Operation, q.Body.Clone())
	if id.Role.Privileged() {
		return query.Verdict{Body: body}
	}

	if strings.TrimSpace(id.ID) == "" {
		return deny(query.KindPermission, "caller identity required")
	}
	if _, ok := s.allowed[q.Collection]; !ok {
		return deny(query.KindPermission, "collection not allowed")
	}
	if readsOtherCollections(body) {
		return deny(query.KindPermission, "cross-collection stages not allowed")
	}

	s.injectOwnership(q.Operation, &body, id.ID)
	return query.Verdict{Body: body}
}

func deny(kind query.Kind, reason string) query.Verdict {
	return query.Verdict{Err: query.Errorf(kind, "%s", reason)}
}

// scan serializes every field of the body, including ones the operation does
// not use.
func scan(body query.Body) (string, bool) {
	raw, err := json.Marshal(body)
	if err != nil {
		return "query body could not be inspected", false
	}
	if blacklist.Match(raw) {
		return "operator not allowed", false
	}
	return "", true
}

// operationBody keeps only the part of the body the executor reads for op.
func operationBody(op query.Operation, body query.Body) query.Body {
	switch op {
	case query.OpAggregate:
		return query.Body{Pipeline: body.Pipeline}
	case query.OpDistinct:
		return query.Body{Distinct: body.Distinct}
	default:
		return query.Body{Filter: body.Filter}
	}
}

func readsOtherCollections(body query.Body) bool {
	if containsStage(body.Filter) || containsStage(body.Pipeline) {
		return true
	}
	return body.Distinct != nil && containsStage(body.Distinct.Filter)
}

func containsStage(v any) bool {
	switch val := v.(type) {
	case map[string]any:
		for k, item := range val {
			if _, ok := crossCollectionStages[k]; ok {
				return true
			}
			if containsStage(item) {
				return true
			}
		}
	case []any:
		for _, item := range val {
			if containsStage(item) {
				return true
			}
		}
	case []query.Document:
		for _, item := range val {
			if containsStage(item) {
				return true
			}
		}
	}
	return false
}

// injectOwnership overwrites any proposed owner value with the caller's id.
func (s *Sandbox) injectOwnership(op query.Operation, body *query.Body, owner string) {
	switch op {
	case query.OpAggregate:
		if len(body.Pipeline) > 0 {
			if match, ok := body.Pipeline[0]["$match"].(map[string]any); ok {
				match[s.ownership] = owner
				return
			}
		}
		stage := query.Document{"$match": map[string]any{s.ownership: owner}}
		body.Pipeline = append([]query.Document{stage}, body.Pipeline...)
	case query.OpDistinct:
		if body.Distinct == nil {
			body.Distinct = &query.DistinctQuery{}
		}
		if body.Distinct.Filter == nil {
			body.Distinct.Filter = query.Document{}
		}
		body.Distinct.Filter[s.ownership] = owner
	default:
		if body.Filter == nil {
			body.Filter = query.Document{}
		}
		body.Filter[s.ownership] = owner
	}
}
