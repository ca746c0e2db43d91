package schema

import (
	"fmt"
	"strings"
	"unicode"
)

// RenderOptions control how a snapshot is described to the generator.
type RenderOptions struct {
	// PriorityCollections are listed first, in the given order.
	PriorityCollections []string
	// OwnershipField is flagged as mandatory for non-privileged filtering.
	OwnershipField string
}

// Render describes the snapshot as ordered plain text. Identical snapshots
// always render identically.
func Render(snap *Snapshot, opts RenderOptions) string {
	if snap == nil || len(snap.Collections) == 0 {
		return "No collections are available.\n"
	}
	order := make([]string, 0, len(snap.Collections))
	placed := make(map[string]struct{}, len(snap.Collections))
	for _, name := range opts.PriorityCollections {
		if _, dup := placed[name]; dup || !snap.Has(name) {
			continue
		}
		order = append(order, name)
		placed[name] = struct{}{}
	}
	for _, name := range snap.Names() {
		if _, ok := placed[name]; ok {
			continue
		}
		order = append(order, name)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Database collections (%d):\n", len(order))
	for _, name := range order {
		shape := snap.Collections[name]
		fmt.Fprintf(&b, "\n%s (documents: %d, sampled: %d)\n", name, shape.DocumentCount, shape.SampleCount)
		for _, field := range shape.Fields {
			fmt.Fprintf(&b, "  - %s: %s", field, shape.Types[field])
			if note := fieldNote(snap, field, opts.OwnershipField); note != "" {
				fmt.Fprintf(&b, "  [%s]", note)
			}
			b.WriteByte('\n')
		}
	}
	return b.String()
}

func fieldNote(snap *Snapshot, field, ownership string) string {
	if ownership != "" && field == ownership {
		return "OWNERSHIP FIELD: must filter by this for non-privileged access"
	}
	base, ok := identifierBase(field)
	if !ok {
		return ""
	}
	for _, candidate := range []string{base + "s", base + "es", base} {
		if snap.Has(candidate) {
			return "relationship: references " + candidate
		}
	}
	return "relationship: likely references " + base + " records"
}

// identifierBase strips an identifier suffix ("fooId", "foo_id", "fooIds")
// and returns the snake_case base name.
func identifierBase(field string) (string, bool) {
	if field == "_id" || field == "id" {
		return "", false
	}
	var stem string
	switch {
	case strings.HasSuffix(field, "_ids") && len(field) > 4:
		stem = strings.TrimSuffix(field, "_ids")
	case strings.HasSuffix(field, "_id") && len(field) > 3:
		stem = strings.TrimSuffix(field, "_id")
	case strings.HasSuffix(field, "Ids") && len(field) > 3:
		stem = strings.TrimSuffix(field, "Ids")
	case strings.HasSuffix(field, "Id") && len(field) > 2:
		stem = strings.TrimSuffix(field, "Id")
	default:
		return "", false
	}
	return toSnake(stem), stem != ""
}

func toSnake(s string) string {
	var b strings.Builder
	for i, r := range s {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
