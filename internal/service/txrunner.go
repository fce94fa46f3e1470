package service

import (
	"context"

	"blakv.app/support/core/db"
	"blakv.app/support/internal/store"
	"blakv.app/support/internal/store/memory"
)

// StoreProvider exposes only the stores needed by a transactional operation.
type StoreProvider interface {
	Tickets() store.TicketStore
	Users() store.UserStore
}

// TxRunner runs functions within a transaction and provides stores bound to that transaction.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(stores StoreProvider) error) error
}

type dbTxRunner struct {
	db *db.DB
}

// NewTxRunner builds a TxRunner backed by the core DB.
func NewTxRunner(db *db.DB) TxRunner {
	return &dbTxRunner{db: db}
}

func (r *dbTxRunner) WithTx(ctx context.Context, fn func(stores StoreProvider) error) error {
	return r.db.WithTx(ctx, func(q db.Querier) error {
		return fn(store.NewStores(q))
	})
}

type memoryTxRunner struct {
	store *memory.Store
}

// NewMemoryTxRunner builds a TxRunner over the in-process store.
func NewMemoryTxRunner(s *memory.Store) TxRunner {
	return &memoryTxRunner{store: s}
}

func (r *memoryTxRunner) WithTx(ctx context.Context, fn func(stores StoreProvider) error) error {
	return r.store.WithTx(ctx, func(tx *memory.Store) error {
		return fn(tx)
	})
}
