package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const defaultTxTimeout = 15 * time.Second

type txKey struct{}

// TxFunc is executed within a transaction. Repositories called with the
// provided context join the transaction through Conn.
type TxFunc func(ctx context.Context) error

// TxOption customises transaction behaviour.
type TxOption func(*txConfig)

type txConfig struct {
	timeout time.Duration
	options pgx.TxOptions
}

// WithTxTimeout sets a timeout for the transaction context.
func WithTxTimeout(timeout time.Duration) TxOption {
	return func(cfg *txConfig) {
		if timeout > 0 {
			cfg.timeout = timeout
		}
	}
}

// WithIsolation overrides the isolation level.
func WithIsolation(level pgx.TxIsoLevel) TxOption {
	return func(cfg *txConfig) { cfg.options.IsoLevel = level }
}

// RunInTx executes fn inside a transaction. Nested calls reuse the outer
// transaction. The transaction commits only when fn returns nil.
func RunInTx(ctx context.Context, pool *pgxpool.Pool, fn TxFunc, opts ...TxOption) error {
	if pool == nil {
		return WrapError("transaction", errors.New("postgres: pool is nil"))
	}
	if fn == nil {
		return WrapError("transaction", errors.New("postgres: transaction function is nil"))
	}
	if _, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return fn(ctx)
	}

	cfg := txConfig{timeout: defaultTxTimeout}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	txnCtx := ctx
	if cfg.timeout > 0 {
		deadline, hasDeadline := ctx.Deadline()
		if !hasDeadline || time.Until(deadline) > cfg.timeout {
			var cancel context.CancelFunc
			txnCtx, cancel = context.WithTimeout(ctx, cfg.timeout)
			defer cancel()
		}
	}

	tx, err := pool.BeginTx(txnCtx, cfg.options)
	if err != nil {
		return WrapError("begin", err)
	}
	defer func() { _ = tx.Rollback(txnCtx) }()

	if err := fn(context.WithValue(txnCtx, txKey{}, tx)); err != nil {
		return err
	}
	if err := tx.Commit(txnCtx); err != nil {
		return WrapError("commit", err)
	}
	return nil
}

// Conn returns the transaction bound to ctx, or the pool when none is active.
func Conn(ctx context.Context, pool *pgxpool.Pool) Querier {
	if tx, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return tx
	}
	return pool
}

// InTx reports whether ctx carries an open transaction.
func InTx(ctx context.Context) bool {
	_, ok := ctx.Value(txKey{}).(pgx.Tx)
	return ok
}
