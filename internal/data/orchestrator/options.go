package orchestrator

import (
	"github.com/nicodishanthj/fieldq/internal/datastore"
	"github.com/nicodishanthj/fieldq/internal/sqlite"
)

type Option func(*options)

type options struct {
	disablePrune bool
	datastore    datastore.Store
	ledger       *sqlite.Store
}

// WithPruneDisabled prevents the orchestrator from starting the background
// ledger retention loop. Primarily used in tests.
func WithPruneDisabled() Option {
	return func(o *options) {
		o.disablePrune = true
	}
}

// WithDatastore injects a datastore implementation instead of dialing MongoDB.
func WithDatastore(store datastore.Store) Option {
	return func(o *options) {
		o.datastore = store
	}
}

// WithLedger injects an already opened ledger.
func WithLedger(store *sqlite.Store) Option {
	return func(o *options) {
		o.ledger = store
	}
}
