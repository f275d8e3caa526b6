package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"github.com/veridian-id/veridian/internal/auth/store"
)

// txStore wraps an open *sql.Tx behind the store.Tx interface.
type txStore struct {
	tx *sql.Tx
}

func newTx(tx *sql.Tx) *txStore {
	return &txStore{tx: tx}
}

func (t *txStore) Clients() store.Clients     { return &clientsRepo{q: t.tx} }
func (t *txStore) Grants() store.Grants       { return &grantsRepo{q: t.tx} }
func (t *txStore) Resources() store.Resources { return &resourcesRepo{q: t.tx} }

func (t *txStore) Commit() error   { return t.tx.Commit() }
func (t *txStore) Rollback() error { return t.tx.Rollback() }

// ApplyMigrations is not valid inside a transaction.
func (t *txStore) ApplyMigrations() error {
	return errors.New("sqlite: cannot run migrations inside a transaction")
}

// Tx is not valid inside a transaction; sqlite has no nested transactions.
func (t *txStore) Tx(ctx context.Context) (store.Tx, error) {
	return nil, errors.New("sqlite: nested transactions are not supported")
}

func (t *txStore) WithTx(ctx context.Context, fn func(tx store.Tx) error) error {
	return errors.New("sqlite: nested transactions are not supported")
}

func (t *txStore) Close() error { return nil }

func (t *txStore) Ping(ctx context.Context) error { return nil }
