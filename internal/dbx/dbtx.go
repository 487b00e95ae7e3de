// Package dbx provides the small DB abstractions shared by repositories:
// a minimal interface (DBTX) implemented by both *sql.DB and *sql.Tx, and a
// helper that runs a function inside a single all-or-nothing transaction.
package dbx

import (
	"context"
	"database/sql"
)

// DBTX is the subset of database/sql used by the repositories.
// Both *sql.DB and *sql.Tx satisfy this interface.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// BeginError marks a failure to acquire the transactional session itself,
// as opposed to a failure inside it. Callers use errors.As to tell the two
// apart.
type BeginError struct {
	Err error
}

func (e *BeginError) Error() string { return "begin tx: " + e.Err.Error() }
func (e *BeginError) Unwrap() error { return e.Err }

// WithTx begins a transaction, runs fn with the transactional handle, and
// then commits on success or rolls back on error/panic. Panics are rethrown.
// No partial writes survive a mid-transaction failure.
func WithTx(ctx context.Context, db *sql.DB, opts *sql.TxOptions, fn func(ctx context.Context, tx DBTX) error) (err error) {
	tx, err := db.BeginTx(ctx, opts)
	if err != nil {
		return &BeginError{Err: err}
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		err = tx.Commit()
	}()

	err = fn(ctx, tx)
	return err
}
