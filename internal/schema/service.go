package schema

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/nicodishanthj/fieldq/internal/common"
	"github.com/nicodishanthj/fieldq/internal/common/telemetry"
	"github.com/nicodishanthj/fieldq/internal/datastore"
	"github.com/nicodishanthj/fieldq/internal/query"
)

const (
	defaultTTL        = 6 * time.Hour
	defaultSampleSize = 5
	captureTimeout    = 30 * time.Second
	flightKey         = "snapshot"
)

// Options tune snapshot capture.
type Options struct {
	TTL                 time.Duration
	SampleSize          int
	InternalCollections []string
	Now                 func() time.Time
}

// Service captures and caches schema snapshots.
type Service struct {
	store    datastore.Introspector
	ttl      time.Duration
	samples  int
	internal map[string]struct{}
	now      func() time.Time

	mu      sync.RWMutex
	current *Snapshot
	flight  singleflight.Group
	// epoch advances on Invalidate; captures started in an older epoch are
	// returned to their callers but not cached.
	epoch atomic.Uint64
}

// NewService wires an introspector into a caching snapshot service.
func NewService(store datastore.Introspector, opts Options) *Service {
	svc := &Service{
		store:    store,
		ttl:      opts.TTL,
		samples:  opts.SampleSize,
		internal: make(map[string]struct{}, len(opts.InternalCollections)),
		now:      opts.Now,
	}
	if svc.ttl <= 0 {
		svc.ttl = defaultTTL
	}
	if svc.samples <= 0 {
		svc.samples = defaultSampleSize
	}
	if svc.now == nil {
		svc.now = time.Now
	}
	for _, name := range opts.InternalCollections {
		if trimmed := strings.TrimSpace(name); trimmed != "" {
			svc.internal[trimmed] = struct{}{}
		}
	}
	return svc
}

// Snapshot returns the cached snapshot, capturing a fresh one when the cache is
// empty or expired. Concurrent misses share one capture. Failures are reported
// as introspection errors.
func (s *Service) Snapshot(ctx context.Context) (*Snapshot, error) {
	if snap := s.cached(); snap != nil {
		telemetry.RecordCacheLookup("schema", true)
		return snap, nil
	}
	telemetry.RecordCacheLookup("schema", false)
	epoch := s.epoch.Load()
	value, err, shared := s.flight.Do(flightKey+"/"+strconv.FormatUint(epoch, 10), func() (interface{}, error) {
		if snap := s.cached(); snap != nil {
			return snap, nil
		}
		captureCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), captureTimeout)
		defer cancel()
		snap, err := s.Capture(captureCtx)
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		if s.epoch.Load() == epoch {
			s.current = snap
		}
		s.mu.Unlock()
		return snap, nil
	})
	if err != nil {
		common.Logger().Error("schema: capture failed", "error", err)
		return nil, query.NewError(query.KindIntrospection, "schema introspection failed", err)
	}
	if shared {
		common.Logger().Debug("schema: joined in-flight capture")
	}
	return value.(*Snapshot), nil
}

// Invalidate drops the cached snapshot so the next call recaptures.
func (s *Service) Invalidate() {
	s.mu.Lock()
	s.current = nil
	s.epoch.Add(1)
	s.mu.Unlock()
	common.Logger().Info("schema: cache invalidated")
}

func (s *Service) cached() *Snapshot {
	s.mu.RLock()
	snap := s.current
	s.mu.RUnlock()
	if snap.Expired(s.now()) {
		return nil
	}
	return snap
}

// Capture performs a full, uncached introspection pass. Collections without
// any sample documents are left out of the snapshot.
func (s *Service) Capture(ctx context.Context) (*Snapshot, error) {
	ctx, end := telemetry.StartSpan(ctx, "schema.capture")
	names, err := s.store.ListCollections(ctx)
	if err != nil {
		end("error", err)
		return nil, fmt.Errorf("list collections: %w", err)
	}
	sort.Strings(names)
	logger := common.Logger()
	captured := s.now()
	snap := &Snapshot{
		Collections: make(map[string]CollectionShape, len(names)),
		CapturedAt:  captured,
		ExpiresAt:   captured.Add(s.ttl),
	}
	for _, name := range names {
		if s.hidden(name) {
			continue
		}
		samples, err := s.store.Sample(ctx, name, s.samples)
		if err != nil {
			end("error", err)
			return nil, fmt.Errorf("sample %s: %w", name, err)
		}
		if len(samples) == 0 {
			logger.Debug("schema: skipping empty collection", "collection", name)
			continue
		}
		count, err := s.store.EstimatedCount(ctx, name)
		if err != nil {
			logger.Warn("schema: estimated count failed", "collection", name, "error", err)
			count = int64(len(samples))
		}
		snap.Collections[name] = shapeOf(samples, count)
	}
	end("collections", len(snap.Collections))
	logger.Info("schema: snapshot captured", "collections", len(snap.Collections), "expires_at", snap.ExpiresAt)
	return snap, nil
}

func (s *Service) hidden(name string) bool {
	if datastore.IsSystemCollection(name) {
		return true
	}
	_, internal := s.internal[name]
	return internal
}
