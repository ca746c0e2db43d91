// Package datastore defines the read-only document store contract consumed by
// schema introspection and query execution.
package datastore

import (
	"context"
	"errors"
	"strings"

	"github.com/nicodishanthj/fieldq/internal/query"
)

// ErrUnavailable is returned when the backing store cannot be reached.
var ErrUnavailable = errors.New("datastore unavailable")

// Introspector exposes the metadata calls needed to build a schema snapshot.
type Introspector interface {
	// ListCollections returns every collection name in the database.
	ListCollections(ctx context.Context) ([]string, error)
	// Sample returns up to limit documents from the collection in natural order.
	Sample(ctx context.Context, collection string, limit int) ([]query.Document, error)
	// EstimatedCount returns an approximate document count.
	EstimatedCount(ctx context.Context, collection string) (int64, error)
}

// Reader runs the four allow-listed read operations. Implementations must
// honour ctx cancellation so abandoned calls stop consuming resources.
type Reader interface {
	Find(ctx context.Context, collection string, filter query.Document, limit int64) ([]query.Document, error)
	Aggregate(ctx context.Context, collection string, pipeline []query.Document) ([]query.Document, error)
	Count(ctx context.Context, collection string, filter query.Document) (int64, error)
	Distinct(ctx context.Context, collection, field string, filter query.Document) ([]any, error)
}

// Store is the full collaborator surface.
type Store interface {
	Introspector
	Reader
}

// IsSystemCollection reports whether name is a datastore-internal collection
// that should never be exposed to the generator.
func IsSystemCollection(name string) bool {
	trimmed := strings.TrimSpace(name)
	return trimmed == "" || strings.HasPrefix(trimmed, "system.") || strings.HasPrefix(trimmed, "_")
}
