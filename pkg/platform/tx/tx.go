package tx

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"
)

const defaultTimeout = 5 * time.Second

type ctxKey struct{}

var txKey = ctxKey{}

// scope is the transaction carried in a context plus work deferred until it
// commits.
type scope struct {
	tx    *sql.Tx
	mu    sync.Mutex
	hooks []func()
}

// WithTx stores a SQL transaction in context for downstream store usage.
func WithTx(ctx context.Context, tx *sql.Tx) context.Context {
	if tx == nil {
		return ctx
	}
	return context.WithValue(ctx, txKey, &scope{tx: tx})
}

// From extracts a SQL transaction from context if present.
func From(ctx context.Context) (*sql.Tx, bool) {
	s, ok := ctx.Value(txKey).(*scope)
	if !ok {
		return nil, false
	}
	return s.tx, true
}

// OnCommit runs fn once the transaction in ctx commits, or immediately when
// ctx carries no transaction. A rollback discards fn.
func OnCommit(ctx context.Context, fn func()) {
	s, ok := ctx.Value(txKey).(*scope)
	if !ok {
		fn()
		return
	}
	s.mu.Lock()
	s.hooks = append(s.hooks, fn)
	s.mu.Unlock()
}

func (s *scope) runHooks() {
	s.mu.Lock()
	hooks := s.hooks
	s.hooks = nil
	s.mu.Unlock()
	for _, fn := range hooks {
		fn()
	}
}

// Runner executes functions inside a database transaction.
type Runner struct {
	db      *sql.DB
	timeout time.Duration
}

// NewRunner wraps db. A zero timeout uses the default.
func NewRunner(db *sql.DB, timeout time.Duration) (*Runner, error) {
	if db == nil {
		return nil, fmt.Errorf("database is required")
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Runner{db: db, timeout: timeout}, nil
}

// RunInTx commits when fn returns nil and rolls back otherwise. Stores reach
// the transaction through From.
func (r *Runner) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("transaction aborted: %w", err)
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	sqlTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = sqlTx.Rollback()
	}()

	txCtx := WithTx(ctx, sqlTx)
	if err := fn(txCtx); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	txCtx.Value(txKey).(*scope).runHooks()
	return nil
}

// Direct runs fn without a transaction, for stores that have none.
type Direct struct{}

// RunInTx calls fn with ctx unchanged.
func (Direct) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
