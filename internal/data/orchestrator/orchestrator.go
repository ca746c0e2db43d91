package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nicodishanthj/fieldq/internal/common"
	"github.com/nicodishanthj/fieldq/internal/datastore"
	"github.com/nicodishanthj/fieldq/internal/datastore/mongo"
	"github.com/nicodishanthj/fieldq/internal/sqlite"
)

type closer interface {
	Close() error
}

// Orchestrator wires together the stores that back the query engine: the
// read-only document datastore and the optional usage/audit ledger.
type Orchestrator struct {
	cfg Config

	store  datastore.Store
	ledger *sqlite.Store

	cancel context.CancelFunc
	wg     sync.WaitGroup

	closers []closer
}

// New constructs an orchestrator from the provided configuration and optional
// overrides.
func New(ctx context.Context, cfg Config, opts ...Option) (*Orchestrator, error) {
	cfg = applyDefaults(cfg)
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	settings := options{}
	for _, opt := range opts {
		if opt != nil {
			opt(&settings)
		}
	}

	orch := &Orchestrator{cfg: cfg}

	switch {
	case settings.datastore != nil:
		orch.store = settings.datastore
	default:
		store, err := mongo.Open(ctx, mongo.Config{
			URI:            cfg.MongoURI,
			Database:       cfg.MongoDatabase,
			ConnectTimeout: cfg.ConnectTimeout,
			MaxPoolSize:    cfg.MaxPoolSize,
		})
		if err != nil {
			return nil, fmt.Errorf("init datastore: %w", err)
		}
		orch.store = store
	}
	if c, ok := orch.store.(closer); ok {
		orch.closers = append(orch.closers, c)
	}

	switch {
	case settings.ledger != nil:
		orch.ledger = settings.ledger
	case strings.TrimSpace(cfg.LedgerPath) != "":
		ledger, err := sqlite.Open(cfg.LedgerPath)
		if err != nil {
			orch.Close()
			return nil, fmt.Errorf("init ledger: %w", err)
		}
		orch.ledger = ledger
	}
	if orch.ledger != nil {
		orch.closers = append(orch.closers, orch.ledger)
		if !settings.disablePrune {
			orch.startPrune()
		}
	}
	return orch, nil
}

// Datastore exposes the document store used for introspection and queries.
func (o *Orchestrator) Datastore() datastore.Store {
	if o == nil {
		return nil
	}
	return o.store
}

// Ledger exposes the usage/audit ledger, or nil when none is configured.
func (o *Orchestrator) Ledger() *sqlite.Store {
	if o == nil {
		return nil
	}
	return o.ledger
}

// PruneOnce applies the ledger retention window a single time.
func (o *Orchestrator) PruneOnce(ctx context.Context) (int64, error) {
	if o == nil || o.ledger == nil {
		return 0, nil
	}
	ctx, cancel := context.WithTimeout(ctx, o.cfg.PruneTimeout)
	defer cancel()
	return o.ledger.Prune(ctx)
}

func (o *Orchestrator) startPrune() {
	ctx, cancel := context.WithCancel(context.Background())
	o.cancel = cancel
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		logger := common.Logger()
		ticker := time.NewTicker(o.cfg.PruneInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				removed, err := o.PruneOnce(ctx)
				if err != nil {
					logger.Warn("orchestrator: ledger prune failed", "error", err)
					continue
				}
				if removed > 0 {
					logger.Info("orchestrator: ledger pruned", "rows", removed)
				}
			}
		}
	}()
}

// Close stops background work and releases any resources associated with the
// orchestrator.
func (o *Orchestrator) Close() error {
	if o == nil {
		return nil
	}
	if o.cancel != nil {
		o.cancel()
		o.wg.Wait()
		o.cancel = nil
	}
	var err error
	for i := len(o.closers) - 1; i >= 0; i-- {
		closer := o.closers[i]
		if closer == nil {
			continue
		}
		if cerr := closer.Close(); cerr != nil {
			err = errors.Join(err, cerr)
		}
	}
	o.closers = nil
	return err
}
