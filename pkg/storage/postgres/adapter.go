package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/porthorian/consoleauth/pkg/storage"
)

const (
	getEntryQuery = `
SELECT value
FROM consoleauth.kv_entry
WHERE namespace = $1 AND key = $2
`

	putEntryQuery = `
INSERT INTO consoleauth.kv_entry (
  namespace, key, value, date_added
) VALUES ($1, $2, $3, $4)
ON CONFLICT (namespace, key) DO UPDATE
SET
  value = EXCLUDED.value,
  date_modified = EXCLUDED.date_added
`

	deleteEntryQuery = `DELETE FROM consoleauth.kv_entry WHERE namespace = $1 AND key = $2`
)

type Adapter struct {
	db        *sql.DB
	tx        *sql.Tx
	namespace string

	stmts preparedStatements
}

type preparedStatements struct {
	getEntry    *sql.Stmt
	putEntry    *sql.Stmt
	deleteEntry *sql.Stmt
}

type prepareStatementSpec struct {
	label  string
	query  string
	assign func(*preparedStatements, *sql.Stmt)
}

var fixedPrepareStatementSpecs = []prepareStatementSpec{
	{
		label: "get entry",
		query: getEntryQuery,
		assign: func(ps *preparedStatements, stmt *sql.Stmt) {
			ps.getEntry = stmt
		},
	},
	{
		label: "put entry",
		query: putEntryQuery,
		assign: func(ps *preparedStatements, stmt *sql.Stmt) {
			ps.putEntry = stmt
		},
	},
	{
		label: "delete entry",
		query: deleteEntryQuery,
		assign: func(ps *preparedStatements, stmt *sql.Stmt) {
			ps.deleteEntry = stmt
		},
	},
}

var (
	ErrNilDB                 = errors.New("postgres storage: db is nil")
	ErrAdapterNotInitialized = errors.New("postgres storage: adapter not initialized")
)

var _ storage.KeyValueStore = (*Adapter)(nil)
var _ storage.Batcher = (*Adapter)(nil)
var _ storage.Closer = (*Adapter)(nil)

// NewAdapter prepares the entry statements against db. Keys are scoped to
// namespace, which may be empty.
func NewAdapter(db *sql.DB, namespace string) (*Adapter, error) {
	adapter := &Adapter{
		db:        db,
		namespace: namespace,
	}

	if err := adapter.prepareStatements(); err != nil {
		_ = adapter.Close()
		return nil, err
	}

	return adapter, nil
}

// Close releases prepared statements. The *sql.DB stays open; it belongs to
// the caller.
func (a *Adapter) Close() error {
	if a == nil || a.tx != nil {
		return nil
	}

	return closeStatements(
		a.stmts.getEntry,
		a.stmts.putEntry,
		a.stmts.deleteEntry,
	)
}

func (a *Adapter) Get(ctx context.Context, key string) (string, bool, error) {
	if err := storage.ValidateKey(key); err != nil {
		return "", false, err
	}
	if err := a.requirePreparedStatements(); err != nil {
		return "", false, err
	}

	var value string
	err := a.stmt(ctx, a.stmts.getEntry).QueryRowContext(ctx, a.namespace, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("postgres storage: get %s: %w", key, err)
	}
	return value, true, nil
}

func (a *Adapter) Set(ctx context.Context, key string, value string) error {
	if err := storage.ValidateKey(key); err != nil {
		return err
	}
	if err := a.requirePreparedStatements(); err != nil {
		return err
	}

	_, err := a.stmt(ctx, a.stmts.putEntry).ExecContext(ctx, a.namespace, key, value, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("postgres storage: set %s: %w", key, err)
	}
	return nil
}

func (a *Adapter) Remove(ctx context.Context, key string) error {
	if err := storage.ValidateKey(key); err != nil {
		return err
	}
	if err := a.requirePreparedStatements(); err != nil {
		return err
	}

	if _, err := a.stmt(ctx, a.stmts.deleteEntry).ExecContext(ctx, a.namespace, key); err != nil {
		return fmt.Errorf("postgres storage: remove %s: %w", key, err)
	}
	return nil
}

func (a *Adapter) stmt(ctx context.Context, stmt *sql.Stmt) *sql.Stmt {
	if a.tx != nil {
		return a.tx.StmtContext(ctx, stmt)
	}
	return stmt
}

func (a *Adapter) prepareStatements() (err error) {
	db, err := a.requireDB()
	if err != nil {
		return err
	}

	prepared := make([]*sql.Stmt, 0, len(fixedPrepareStatementSpecs))
	defer func() {
		if err != nil {
			_ = closeStatements(prepared...)
		}
	}()

	for _, spec := range fixedPrepareStatementSpecs {
		stmt, prepErr := db.Prepare(spec.query)
		if prepErr != nil {
			err = fmt.Errorf("postgres storage: prepare %s statement: %w", spec.label, prepErr)
			return err
		}
		prepared = append(prepared, stmt)
		spec.assign(&a.stmts, stmt)
	}
	return nil
}

func (a *Adapter) requirePreparedStatements() error {
	if _, err := a.requireDB(); err != nil {
		return err
	}

	if a.stmts.getEntry == nil || a.stmts.putEntry == nil || a.stmts.deleteEntry == nil {
		return ErrAdapterNotInitialized
	}

	return nil
}

func (a *Adapter) requireDB() (*sql.DB, error) {
	if a == nil || a.db == nil {
		return nil, ErrNilDB
	}
	return a.db, nil
}

func closeStatements(stmts ...*sql.Stmt) error {
	var errs []error
	for _, stmt := range stmts {
		if stmt == nil {
			continue
		}
		if err := stmt.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
