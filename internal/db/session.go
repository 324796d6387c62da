// Package db owns the synchronous and asynchronous connection pools against
// the shared database target.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
)

const setupRetries = 3

// SessionFactory constructs and owns both connection pools. The async pool
// (pgxpool) serves context-driven concurrent work; the sync pool (database/sql
// over the pgx stdlib driver) serves callers that need blocking *sql.Tx
// semantics. Both are configured from the same PoolConfig.
type SessionFactory struct {
	cfg    PoolConfig
	pool   *pgxpool.Pool
	syncDB *sql.DB
	logger *zap.Logger
}

// NewSessionFactory connects both pools and fails fast if the target is
// unreachable, rather than deferring the failure to first use. Transient
// setup errors are retried with exponential backoff a bounded number of
// times.
func NewSessionFactory(ctx context.Context, dsn string, cfg PoolConfig, logger *zap.Logger) (*SessionFactory, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: parse config: %v", ErrConnectionSetup, err)
	}

	policy := cfg.Policy()
	// The resolved policy is authoritative: a target that requires TLS never
	// connects in plaintext, regardless of what the DSN says.
	if policy.SSLRequired && poolCfg.ConnConfig.TLSConfig == nil {
		return nil, fmt.Errorf("%w: pool policy requires TLS but the DSN disables it", ErrConnectionSetup)
	}
	poolCfg.MaxConns = policy.MaxConns
	poolCfg.MinConns = policy.MinConns
	poolCfg.MaxConnLifetime = policy.MaxConnLifetime
	poolCfg.MaxConnIdleTime = policy.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionSetup, err)
	}

	ping := func() error { return pool.Ping(ctx) }
	if err := backoff.Retry(ping, backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), setupRetries), ctx)); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: ping: %v", ErrConnectionSetup, err)
	}

	syncDB := stdlib.OpenDB(*poolCfg.ConnConfig)
	syncDB.SetMaxOpenConns(int(policy.MaxConns))
	syncDB.SetMaxIdleConns(cfg.PoolSize)
	syncDB.SetConnMaxLifetime(policy.MaxConnLifetime)
	syncDB.SetConnMaxIdleTime(policy.MaxConnIdleTime)

	if err := syncDB.PingContext(ctx); err != nil {
		pool.Close()
		_ = syncDB.Close()
		return nil, fmt.Errorf("%w: sync ping: %v", ErrConnectionSetup, err)
	}

	logger.Info("database pools ready",
		zap.Int32("max_conns", policy.MaxConns),
		zap.Duration("recycle", policy.MaxConnLifetime),
		zap.Bool("serverless", cfg.Serverless),
	)

	return &SessionFactory{cfg: cfg, pool: pool, syncDB: syncDB, logger: logger}, nil
}

// Config returns the immutable pool configuration.
func (f *SessionFactory) Config() PoolConfig { return f.cfg }

// Pool exposes the async pool for callers that manage their own lifecycle
// (e.g. the repository layer).
func (f *SessionFactory) Pool() *pgxpool.Pool { return f.pool }

// SyncDB exposes the sync pool.
func (f *SessionFactory) SyncDB() *sql.DB { return f.syncDB }

// Stats reports async pool utilization.
func (f *SessionFactory) Stats() *pgxpool.Stat { return f.pool.Stat() }

// Acquire checks out an async connection, waiting up to the configured
// acquire timeout before failing with ErrPoolExhausted. Callers must Release
// the returned connection.
func (f *SessionFactory) Acquire(ctx context.Context) (*pgxpool.Conn, error) {
	acquireCtx, cancel := context.WithTimeout(ctx, f.cfg.AcquireTimeout)
	defer cancel()

	conn, err := f.pool.Acquire(acquireCtx)
	if err != nil {
		// Exhaustion only when every slot is checked out; a deadline hit
		// during slow connection establishment is a connection problem,
		// not backpressure.
		stat := f.pool.Stat()
		if errors.Is(acquireCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil &&
			stat.AcquiredConns() == stat.MaxConns() {
			return nil, fmt.Errorf("%w: waited %s", ErrPoolExhausted, f.cfg.AcquireTimeout)
		}
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	return conn, nil
}

// WithSession runs fn inside an async transaction. The transaction is
// committed when fn returns nil and rolled back otherwise; the connection is
// returned to the pool on every path.
func (f *SessionFactory) WithSession(ctx context.Context, fn func(tx pgx.Tx) error) error {
	conn, err := f.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	tx, err := conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }() // no-op after commit

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// WithSyncSession runs fn inside a sync transaction with the same
// commit-or-rollback guarantee as WithSession.
func (f *SessionFactory) WithSyncSession(fn func(tx *sql.Tx) error) error {
	tx, err := f.syncDB.Begin()
	if err != nil {
		return fmt.Errorf("begin sync transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// Retry runs op with exponential backoff, bounded by maxAttempts, for
// recoverable I/O errors. Pool exhaustion is not retried; it signals
// backpressure.
func (f *SessionFactory) Retry(ctx context.Context, maxAttempts uint64, op func() error) error {
	wrapped := func() error {
		err := op()
		if err != nil && errors.Is(err, ErrPoolExhausted) {
			return backoff.Permanent(err)
		}
		return err
	}
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxAttempts), ctx)
	return backoff.Retry(wrapped, b)
}

// Close releases both pools. Safe to call once at shutdown.
func (f *SessionFactory) Close() {
	f.pool.Close()
	if err := f.syncDB.Close(); err != nil {
		f.logger.Warn("closing sync pool", zap.Error(err))
	}
}

// WaitTimeout returns the configured acquire wait bound.
func (f *SessionFactory) WaitTimeout() time.Duration { return f.cfg.AcquireTimeout }
