// Package schema discovers the shape of datastore collections and renders it
// as compact text that grounds the query generator.
package schema

import (
	"math"
	"regexp"
	"sort"
	"strings"
	"time"
)

// TypeTag is the inferred type of a field.
type TypeTag string

const (
	TypeNull     TypeTag = "null"
	TypeBoolean  TypeTag = "boolean"
	TypeInteger  TypeTag = "integer"
	TypeNumber   TypeTag = "number"
	TypeString   TypeTag = "string"
	TypeUUID     TypeTag = "uuid-like-string"
	TypeDatetime TypeTag = "datetime-like-string"
	TypeObject   TypeTag = "object"
	TypeUnknown  TypeTag = "unknown"
)

// ArrayOf returns the array tag for the given element type.
func ArrayOf(elem TypeTag) TypeTag {
	return TypeTag("array<" + string(elem) + ">")
}

// CollectionShape describes one collection as seen through its samples.
type CollectionShape struct {
	Fields        []string           `json:"fields"`
	Types         map[string]TypeTag `json:"types"`
	SampleCount   int                `json:"sample_count"`
	DocumentCount int64              `json:"document_count"`
}

// Snapshot is an immutable description of every visible collection.
type Snapshot struct {
	Collections map[string]CollectionShape `json:"collections"`
	CapturedAt  time.Time                  `json:"captured_at"`
	ExpiresAt   time.Time                  `json:"expires_at"`
}

// Names returns the collection names in alphabetical order.
func (s *Snapshot) Names() []string {
	if s == nil {
		return nil
	}
	names := make([]string, 0, len(s.Collections))
	for name := range s.Collections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Has reports whether the snapshot includes the collection.
func (s *Snapshot) Has(collection string) bool {
	if s == nil {
		return false
	}
	_, ok := s.Collections[collection]
	return ok
}

// Expired reports whether the snapshot should be rebuilt at now.
func (s *Snapshot) Expired(now time.Time) bool {
	return s == nil || !now.Before(s.ExpiresAt)
}

var datetimePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}([T ]\d{2}:\d{2}(:\d{2}(\.\d+)?)?(Z|[+-]\d{2}:?\d{2})?)?$`)

// InferType maps a normalized document value to its TypeTag.
func InferType(v any) TypeTag {
	switch val := v.(type) {
	case nil:
		return TypeNull
	case bool:
		return TypeBoolean
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return TypeInteger
	case float32:
		return numberTag(float64(val))
	case float64:
		return numberTag(val)
	case string:
		return stringTag(val)
	case []any:
		if len(val) == 0 {
			return ArrayOf(TypeUnknown)
		}
		return ArrayOf(InferType(val[0]))
	case []string:
		if len(val) == 0 {
			return ArrayOf(TypeUnknown)
		}
		return ArrayOf(stringTag(val[0]))
	case map[string]any:
		return TypeObject
	default:
		return TypeUnknown
	}
}

func numberTag(f float64) TypeTag {
	if !math.IsInf(f, 0) && f == math.Trunc(f) {
		return TypeInteger
	}
	return TypeNumber
}

func stringTag(s string) TypeTag {
	if len(s) == 36 && strings.Count(s, "-") == 4 {
		return TypeUUID
	}
	if datetimePattern.MatchString(s) {
		return TypeDatetime
	}
	return TypeString
}

// shapeOf builds a CollectionShape from samples. Each field's type comes from
// the first sample that contains it; later samples never change it.
func shapeOf(samples []map[string]any, documentCount int64) CollectionShape {
	shape := CollectionShape{
		Types:         make(map[string]TypeTag),
		SampleCount:   len(samples),
		DocumentCount: documentCount,
	}
	for _, doc := range samples {
		for _, key := range orderedKeys(doc) {
			if _, seen := shape.Types[key]; seen {
				continue
			}
			shape.Fields = append(shape.Fields, key)
			shape.Types[key] = InferType(doc[key])
		}
	}
	return shape
}

func orderedKeys(doc map[string]any) []string {
	keys := make([]string, 0, len(doc))
	for key := range doc {
		if key == "_id" {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)
	if _, ok := doc["_id"]; ok {
		keys = append([]string{"_id"}, keys...)
	}
	return keys
}
