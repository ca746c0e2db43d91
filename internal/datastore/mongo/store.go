// Package mongo implements datastore.Store on top of the MongoDB Go driver.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/nicodishanthj/fieldq/internal/common"
	"github.com/nicodishanthj/fieldq/internal/datastore"
	"github.com/nicodishanthj/fieldq/internal/query"
)

// Config controls the driver connection.
type Config struct {
	URI            string
	Database       string
	ConnectTimeout time.Duration
	MaxPoolSize    uint64
}

// Store is a read-only view over one MongoDB database.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
}

var _ datastore.Store = (*Store)(nil)

// Open connects to MongoDB and verifies the primary is reachable.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.URI) == "" {
		return nil, errors.New("mongo uri required")
	}
	if strings.TrimSpace(cfg.Database) == "" {
		return nil, errors.New("mongo database required")
	}
	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	opts := options.Client().
		ApplyURI(cfg.URI).
		SetAppName("fieldq").
		SetServerSelectionTimeout(timeout).
		SetReadPreference(readpref.SecondaryPreferred())
	if cfg.MaxPoolSize > 0 {
		opts.SetMaxPoolSize(cfg.MaxPoolSize)
	}
	connectCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	client, err := mongo.Connect(connectCtx, opts)
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(connectCtx, readpref.PrimaryPreferred()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w: %w", datastore.ErrUnavailable, err)
	}
	common.Logger().Info("mongo: connected", "database", cfg.Database)
	return &Store{client: client, db: client.Database(cfg.Database)}, nil
}

// Close disconnects the driver.
func (s *Store) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func (s *Store) ListCollections(ctx context.Context) ([]string, error) {
	names, err := s.db.ListCollectionNames(ctx, bson.D{{Key: "type", Value: "collection"}})
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}
	return names, nil
}

func (s *Store) Sample(ctx context.Context, collection string, limit int) ([]query.Document, error) {
	if limit <= 0 {
		return nil, nil
	}
	return s.Find(ctx, collection, nil, int64(limit))
}

func (s *Store) EstimatedCount(ctx context.Context, collection string) (int64, error) {
	n, err := s.db.Collection(collection).EstimatedDocumentCount(ctx)
	if err != nil {
		return 0, fmt.Errorf("estimate count %s: %w", collection, err)
	}
	return n, nil
}

func (s *Store) Find(ctx context.Context, collection string, filter query.Document, limit int64) ([]query.Document, error) {
	opts := options.Find()
	if limit > 0 {
		opts.SetLimit(limit)
	}
	cursor, err := s.db.Collection(collection).Find(ctx, toFilter(filter), opts)
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", collection, err)
	}
	return decodeAll(ctx, cursor)
}

func (s *Store) Aggregate(ctx context.Context, collection string, pipeline []query.Document) ([]query.Document, error) {
	stages := make([]bson.M, 0, len(pipeline))
	for _, stage := range pipeline {
		stages = append(stages, bson.M(stage))
	}
	cursor, err := s.db.Collection(collection).Aggregate(ctx, stages)
	if err != nil {
		return nil, fmt.Errorf("aggregate %s: %w", collection, err)
	}
	return decodeAll(ctx, cursor)
}

func (s *Store) Count(ctx context.Context, collection string, filter query.Document) (int64, error) {
	n, err := s.db.Collection(collection).CountDocuments(ctx, toFilter(filter))
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", collection, err)
	}
	return n, nil
}

func (s *Store) Distinct(ctx context.Context, collection, field string, filter query.Document) ([]any, error) {
	values, err := s.db.Collection(collection).Distinct(ctx, field, toFilter(filter))
	if err != nil {
		return nil, fmt.Errorf("distinct %s.%s: %w", collection, field, err)
	}
	out := make([]any, 0, len(values))
	for _, v := range values {
		out = append(out, Normalize(v))
	}
	return out, nil
}

func toFilter(filter query.Document) any {
	if filter == nil {
		return bson.D{}
	}
	return bson.M(filter)
}

func decodeAll(ctx context.Context, cursor *mongo.Cursor) ([]query.Document, error) {
	defer cursor.Close(ctx)
	var docs []query.Document
	for cursor.Next(ctx) {
		var raw bson.D
		if err := cursor.Decode(&raw); err != nil {
			return nil, fmt.Errorf("decode document: %w", err)
		}
		docs = append(docs, normalizeD(raw))
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("iterate cursor: %w", err)
	}
	return docs, nil
}

func normalizeD(d bson.D) query.Document {
	out := make(query.Document, len(d))
	for _, elem := range d {
		out[elem.Key] = Normalize(elem.Value)
	}
	return out
}

// Normalize converts driver-specific BSON values into plain JSON-compatible Go
// values so schema inference and response encoding see one value model.
func Normalize(v any) any {
	switch val := v.(type) {
	case nil:
		return nil
	case bson.D:
		return normalizeD(val)
	case bson.M:
		out := make(query.Document, len(val))
		for k, item := range val {
			out[k] = Normalize(item)
		}
		return out
	case bson.A:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = Normalize(item)
		}
		return out
	case primitive.ObjectID:
		return val.Hex()
	case primitive.DateTime:
		return val.Time().UTC().Format(time.RFC3339Nano)
	case primitive.Timestamp:
		return time.Unix(int64(val.T), 0).UTC().Format(time.RFC3339)
	case primitive.Decimal128:
		return val.String()
	case primitive.Binary:
		if val.Subtype == 0x04 && len(val.Data) == 16 {
			if id, err := uuid.FromBytes(val.Data); err == nil {
				return id.String()
			}
		}
		return fmt.Sprintf("binary(%d bytes)", len(val.Data))
	case primitive.Regex:
		return val.String()
	case primitive.Null, primitive.Undefined:
		return nil
	case int32:
		return int64(val)
	case int:
		return int64(val)
	case time.Time:
		return val.UTC().Format(time.RFC3339Nano)
	default:
		return val
	}
}
