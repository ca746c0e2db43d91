package generator

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nicodishanthj/fieldq/internal/query"
)

const defaultRejection = "the request could not be answered safely"

type modelReply struct {
	Rejected    bool            `json:"rejected"`
	Operation   string          `json:"operation"`
	Collection  string          `json:"collection"`
	Filter      json.RawMessage `json:"filter"`
	Pipeline    json.RawMessage `json:"pipeline"`
	Field       string          `json:"field"`
	Explanation string          `json:"explanation"`
	Confidence  float64         `json:"confidence"`
}

// Parse decodes a model reply into query.Accepted or query.Rejected. Any
// structural problem yields a *query.Error of kind Parse. Operation names are
// not checked here; the sandbox owns the allow-list.
func Parse(content string) (query.Generated, error) {
	raw := stripFences(content)
	if raw == "" {
		return nil, query.Errorf(query.KindParse, "empty model reply")
	}
	var reply modelReply
	if err := json.Unmarshal([]byte(raw), &reply); err != nil {
		return nil, query.NewError(query.KindParse, "model reply is not a JSON object", err)
	}
	explanation := strings.TrimSpace(reply.Explanation)
	if reply.Rejected {
		if explanation == "" {
			explanation = defaultRejection
		}
		return query.Rejected{Explanation: explanation}, nil
	}

	op := query.Operation(strings.ToLower(strings.TrimSpace(reply.Operation)))
	if op == "" {
		return nil, query.Errorf(query.KindParse, "model reply has no operation")
	}
	collection := strings.TrimSpace(reply.Collection)
	if collection == "" {
		return nil, query.Errorf(query.KindParse, "model reply has no collection")
	}

	filter, err := decodeObject(reply.Filter)
	if err != nil {
		return nil, query.NewError(query.KindParse, "filter is not an object", err)
	}
	var body query.Body
	switch op {
	case query.OpAggregate:
		pipeline, err := decodePipeline(reply.Pipeline)
		if err != nil {
			return nil, query.NewError(query.KindParse, "pipeline is not a list of stages", err)
		}
		if pipeline == nil {
			pipeline = []query.Document{}
		}
		body.Pipeline = pipeline
	case query.OpDistinct:
		field := strings.TrimSpace(reply.Field)
		if field == "" {
			return nil, query.Errorf(query.KindParse, "distinct requires a field")
		}
		if filter == nil {
			filter = query.Document{}
		}
		body.Distinct = &query.DistinctQuery{Field: field, Filter: filter}
	case query.OpFind, query.OpCount:
		if filter == nil {
			filter = query.Document{}
		}
		body.Filter = filter
	default:
		// keep whatever was proposed so the sandbox sees the full body
		body.Filter = filter
		if pipeline, err := decodePipeline(reply.Pipeline); err == nil && pipeline != nil {
			body.Pipeline = pipeline
		}
		if body.Filter == nil && body.Pipeline == nil {
			body.Filter = query.Document{}
		}
	}

	return query.Accepted{
		Body:        body,
		Collection:  collection,
		Operation:   op,
		Explanation: explanation,
		Confidence:  clamp(reply.Confidence),
	}, nil
}

func stripFences(content string) string {
	raw := strings.TrimSpace(content)
	if strings.HasPrefix(raw, "```") {
		raw = strings.TrimPrefix(raw, "```")
		raw = strings.TrimPrefix(raw, "json")
		raw = strings.TrimSuffix(strings.TrimSpace(raw), "```")
		raw = strings.TrimSpace(raw)
	}
	return raw
}

func decodeObject(raw json.RawMessage) (query.Document, error) {
	if isNull(raw) {
		return nil, nil
	}
	var v any
	if err := decodeNumbers(raw, &v); err != nil {
		return nil, err
	}
	doc, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("got %T", v)
	}
	return doc, nil
}

func decodePipeline(raw json.RawMessage) ([]query.Document, error) {
	if isNull(raw) {
		return nil, nil
	}
	var v any
	if err := decodeNumbers(raw, &v); err != nil {
		return nil, err
	}
	items, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("got %T", v)
	}
	stages := make([]query.Document, 0, len(items))
	for i, item := range items {
		stage, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("stage %d is %T", i, item)
		}
		stages = append(stages, stage)
	}
	return stages, nil
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

// decodeNumbers keeps integers as int64 so limits and counts reach the
// datastore as integers rather than doubles.
func decodeNumbers(raw json.RawMessage, out *any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return err
	}
	*out = convertNumbers(v)
	return nil
}

func convertNumbers(v any) any {
	switch val := v.(type) {
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return i
		}
		f, _ := val.Float64()
		return f
	case map[string]any:
		for k, item := range val {
			val[k] = convertNumbers(item)
		}
		return val
	case []any:
		for i, item := range val {
			val[i] = convertNumbers(item)
		}
		return val
	default:
		return v
	}
}

func clamp(c float64) float64 {
	switch {
	case c < 0:
		return 0
	case c > 1:
		return 1
	default:
		return c
	}
}
