package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type contextKey string

// txKey is the context key for the active transaction.
const txKey contextKey = "tx"

// Querier is the subset of pgx shared by the pool and transactions.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// TxRunner runs a function inside a transaction.
type TxRunner interface {
	WithTx(ctx context.Context, opts pgx.TxOptions, fn func(ctx context.Context) error) error
}

var (
	_ Querier  = (*DB)(nil)
	_ Querier  = (pgx.Tx)(nil)
	_ TxRunner = (*DB)(nil)
)

// ReadCommitted is the default isolation for single-row state transitions
// guarded by SELECT ... FOR UPDATE.
var ReadCommitted = pgx.TxOptions{IsoLevel: pgx.ReadCommitted}

// Serializable is used where a read decides a later insert.
var Serializable = pgx.TxOptions{IsoLevel: pgx.Serializable}

// GetTx retrieves the active transaction from context.
func GetTx(ctx context.Context) (pgx.Tx, bool) {
	tx, ok := ctx.Value(txKey).(pgx.Tx)
	return tx, ok
}

// SetTx stores a transaction in context.
func SetTx(ctx context.Context, tx pgx.Tx) context.Context {
	return context.WithValue(ctx, txKey, tx)
}

// Querier returns the transaction in ctx, or the pool when there is none.
func (db *DB) Querier(ctx context.Context) Querier {
	if tx, ok := GetTx(ctx); ok {
		return tx
	}
	return db.Pool
}

// WithTx runs fn in a transaction carried by the context passed to fn.
// Nested calls join the outer transaction and ignore opts.
// The transaction commits only if fn returns nil.
func (db *DB) WithTx(ctx context.Context, opts pgx.TxOptions, fn func(ctx context.Context) error) error {
	if _, ok := GetTx(ctx); ok {
		return fn(ctx)
	}

	tx, err := db.Pool.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	if err := fn(SetTx(ctx, tx)); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
