// Package promptctx builds and caches the system instruction that grounds the
// query generator: the rendered schema plus fixed security rules.
package promptctx

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/nicodishanthj/fieldq/internal/common"
	"github.com/nicodishanthj/fieldq/internal/common/telemetry"
	"github.com/nicodishanthj/fieldq/internal/schema"
)

const (
	defaultTTL = time.Hour
	flightKey  = "context"
)

// Context is a reusable generation context shared by every caller until it
// expires.
type Context struct {
	ID               string
	Instruction      string
	SchemaCapturedAt time.Time
	CreatedAt        time.Time
	ExpiresAt        time.Time
}

// Options tune the cache.
type Options struct {
	TTL                 time.Duration
	OwnershipField      string
	PriorityCollections []string
	Now                 func() time.Time
}

// Cache holds at most one live Context.
type Cache struct {
	ttl    time.Duration
	render schema.RenderOptions
	now    func() time.Time

	mu      sync.RWMutex
	current *Context
	flight  singleflight.Group
	builds  atomic.Int64
	// epoch advances on Invalidate; builds started in an older epoch are not
	// stored.
	epoch atomic.Uint64
}

func NewCache(opts Options) *Cache {
	c := &Cache{
		ttl: opts.TTL,
		render: schema.RenderOptions{
			PriorityCollections: append([]string(nil), opts.PriorityCollections...),
			OwnershipField:      opts.OwnershipField,
		},
		now: opts.Now,
	}
	if c.ttl <= 0 {
		c.ttl = defaultTTL
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c
}

// Get returns the live context for snap, building a new one when none exists,
// the current one expired, or it was built from a different snapshot.
// Concurrent rebuilds for the same snapshot collapse into one.
func (c *Cache) Get(ctx context.Context, snap *schema.Snapshot) (*Context, error) {
	if snap == nil {
		return nil, errors.New("promptctx: schema snapshot required")
	}
	if cur := c.usable(snap); cur != nil {
		telemetry.RecordCacheLookup("prompt_context", true)
		return cur, nil
	}
	telemetry.RecordCacheLookup("prompt_context", false)
	epoch := c.epoch.Load()
	key := flightKey + "/" + strconv.FormatUint(epoch, 10) + "/" + strconv.FormatInt(snap.CapturedAt.UnixNano(), 10)
	value, err, _ := c.flight.Do(key, func() (interface{}, error) {
		if cur := c.usable(snap); cur != nil {
			return cur, nil
		}
		built := c.build(snap)
		c.mu.Lock()
		if c.epoch.Load() == epoch {
			c.current = built
		}
		c.mu.Unlock()
		return built, nil
	})
	if err != nil {
		return nil, err
	}
	return value.(*Context), nil
}

// Invalidate drops the live context.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.current = nil
	c.epoch.Add(1)
	c.mu.Unlock()
}

// Builds reports how many contexts have been built since construction.
func (c *Cache) Builds() int64 {
	return c.builds.Load()
}

func (c *Cache) usable(snap *schema.Snapshot) *Context {
	c.mu.RLock()
	cur := c.current
	c.mu.RUnlock()
	if cur == nil {
		return nil
	}
	if !c.now().Before(cur.ExpiresAt) {
		return nil
	}
	if !cur.SchemaCapturedAt.Equal(snap.CapturedAt) {
		return nil
	}
	return cur
}

func (c *Cache) build(snap *schema.Snapshot) *Context {
	c.builds.Add(1)
	created := c.now()
	built := &Context{
		ID:               uuid.NewString(),
		Instruction:      BuildInstruction(schema.Render(snap, c.render), c.render.OwnershipField),
		SchemaCapturedAt: snap.CapturedAt,
		CreatedAt:        created,
		ExpiresAt:        created.Add(c.ttl),
	}
	common.Logger().Info("promptctx: context built", "context_id", built.ID, "instruction_bytes", len(built.Instruction), "expires_at", built.ExpiresAt)
	return built
}
