package postgres

import (
	"context"
	"errors"

	"github.com/porthorian/consoleauth/pkg/storage"
)

var errNilTxCallback = errors.New("postgres storage: transaction callback is nil")

// WithBatch runs fn against a transaction-scoped view of the adapter and
// commits only when fn succeeds.
func (a *Adapter) WithBatch(ctx context.Context, fn func(store storage.KeyValueStore) error) error {
	if fn == nil {
		return errNilTxCallback
	}

	if err := a.requirePreparedStatements(); err != nil {
		return err
	}

	if a.tx != nil {
		return fn(a)
	}

	db, err := a.requireDB()
	if err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	txAdapter := &Adapter{
		db:        a.db,
		tx:        tx,
		namespace: a.namespace,
		stmts:     a.stmts,
	}

	if err := fn(txAdapter); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true

	return nil
}
