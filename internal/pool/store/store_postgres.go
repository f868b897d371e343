package store

import (
	"cmp"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/lib/pq"

	"github.com/tsaxking/uuid-microservice/internal/pool/metrics"
	"github.com/tsaxking/uuid-microservice/internal/pool/models"
	txcontext "github.com/tsaxking/uuid-microservice/pkg/platform/tx"
	"github.com/tsaxking/uuid-microservice/pkg/requestcontext"
)

// PostgresStore persists the pool in the pool_identifiers table.
type PostgresStore struct {
	db      *sql.DB
	metrics *metrics.Metrics
}

// NewPostgres constructs a PostgreSQL-backed pool store.
func NewPostgres(db *sql.DB, opts ...Option) *PostgresStore {
	o := buildOptions(opts)
	return &PostgresStore{
		db:      db,
		metrics: o.metrics,
	}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *PostgresStore) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

// Count returns the number of unconsumed identifiers. A query that yields no
// row is an integrity failure and is not coerced to zero.
func (s *PostgresStore) Count(ctx context.Context) (int, error) {
	var count int
	err := s.execer(ctx).QueryRowContext(ctx, `SELECT COUNT(*) FROM pool_identifiers`).Scan(&count)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, fmt.Errorf("count pool identifiers: no result: %w", models.ErrStoreUnavailable)
		}
		return 0, fmt.Errorf("count pool identifiers: %w: %w", models.ErrStoreUnavailable, err)
	}
	return count, nil
}

// InsertBatch inserts all values in one statement. Values already present
// (or repeated inside the batch) are skipped by ON CONFLICT DO NOTHING.
func (s *PostgresStore) InsertBatch(ctx context.Context, values []string) error {
	if len(values) == 0 {
		return nil
	}

	query := `
		INSERT INTO pool_identifiers (value, created_at)
		SELECT v, $2
		FROM unnest($1::text[]) WITH ORDINALITY AS t(v, ord)
		ORDER BY ord
		ON CONFLICT (value) DO NOTHING
	`
	_, err := s.execer(ctx).ExecContext(ctx, query, pq.Array(values), requestcontext.Now(ctx))
	if err != nil {
		return fmt.Errorf("insert pool identifiers: %w", err)
	}

	fetched := len(values)
	txcontext.OnCommit(ctx, func() { s.metrics.AddFetched(fetched) })
	return nil
}

// PopOldest deletes and returns up to n of the oldest identifiers in a single
// statement. SKIP LOCKED keeps concurrent callers on disjoint rows.
func (s *PostgresStore) PopOldest(ctx context.Context, n int) ([]string, error) {
	if n <= 0 {
		return []string{}, nil
	}

	query := `
		DELETE FROM pool_identifiers
		WHERE value IN (
			SELECT value FROM pool_identifiers
			ORDER BY created_at, seq
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING value, created_at, seq
	`
	rows, err := s.execer(ctx).QueryContext(ctx, query, n)
	if err != nil {
		return nil, fmt.Errorf("pop pool identifiers: %w", err)
	}
	defer rows.Close()

	type popped struct {
		value     string
		createdAt time.Time
		seq       int64
	}
	var batch []popped
	for rows.Next() {
		var p popped
		if err := rows.Scan(&p.value, &p.createdAt, &p.seq); err != nil {
			return nil, fmt.Errorf("scan popped identifier: %w", err)
		}
		batch = append(batch, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate popped identifiers: %w", err)
	}

	// RETURNING order is unspecified.
	slices.SortFunc(batch, func(a, b popped) int {
		if c := a.createdAt.Compare(b.createdAt); c != 0 {
			return c
		}
		return cmp.Compare(a.seq, b.seq)
	})

	values := make([]string, len(batch))
	for i, p := range batch {
		values[i] = p.value
	}

	// Inside a transaction the rows only count as served once it commits.
	served := len(values)
	txcontext.OnCommit(ctx, func() { s.metrics.AddServed(served) })
	return values, nil
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping pool store: %w: %w", models.ErrStoreUnavailable, err)
	}
	return nil
}
