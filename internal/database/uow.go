package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Querier is the read/write surface shared by *sql.DB and *sql.Tx. Component
// contracts accept a Querier so one workflow transaction can span the
// narrative state machine and the ledger.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// UnitOfWork runs a function inside one transaction. Any error rolls the
// whole transaction back; partial effects are never persisted.
type UnitOfWork interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, q Querier) error) error
	// DB exposes the non-transactional handle for reads that do not need
	// transaction isolation.
	DB() Querier
}

// commitError marks a failure in the commit phase, where the transaction
// outcome is unknown to the client.
type commitError struct {
	err error
}

func (e *commitError) Error() string { return e.err.Error() }
func (e *commitError) Unwrap() error { return e.err }

// CommitUncertain reports whether err happened while committing, meaning
// the work may or may not have been persisted. Callers surface this as an
// uncertain outcome instead of a clean failure; reconciliation is the
// backstop either way.
func CommitUncertain(err error) bool {
	var ce *commitError
	return errors.As(err, &ce)
}

// SQLUnitOfWork implements UnitOfWork over *sql.DB.
type SQLUnitOfWork struct {
	db *sql.DB
}

// NewUnitOfWork wraps db in a UnitOfWork.
func NewUnitOfWork(db *sql.DB) *SQLUnitOfWork {
	return &SQLUnitOfWork{db: db}
}

// WithinTx begins a transaction, invokes fn, and commits on success.
// Storage failures are classified into the application error taxonomy.
func (u *SQLUnitOfWork) WithinTx(ctx context.Context, fn func(ctx context.Context, q Querier) error) error {
	tx, err := u.db.BeginTx(ctx, nil)
	if err != nil {
		return Classify("begin transaction", err)
	}

	if err := fn(ctx, tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
			return Classify("rollback transaction", fmt.Errorf("%w (rollback also failed: %v)", err, rbErr))
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return &commitError{err: Classify("commit transaction", err)}
	}

	return nil
}

// DB exposes the underlying handle for read-only access outside a
// transaction.
func (u *SQLUnitOfWork) DB() Querier {
	return u.db
}
