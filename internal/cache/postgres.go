package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore keeps cache entries in the UNLOGGED cache_entries table so
// every instance behind the load balancer shares one key space. Expiry is
// evaluated against the database clock.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a PostgresStore on the shared pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Get implements Store.
func (s *PostgresStore) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := s.pool.QueryRow(ctx, `
		SELECT value FROM cache_entries
		WHERE key = $1 AND (expires_at IS NULL OR expires_at > now())`, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrCacheMiss
	}
	if err != nil {
		return "", fmt.Errorf("cache get %q: %w", key, err)
	}
	return value, nil
}

// Set implements Store.
func (s *PostgresStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	var ttlMillis *int64
	if ttl > 0 {
		ms := ttl.Milliseconds()
		ttlMillis = &ms
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO cache_entries (key, value, expires_at)
		VALUES ($1, $2, CASE WHEN $3::bigint IS NULL THEN NULL ELSE now() + $3::bigint * interval '1 millisecond' END)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at`,
		key, value, ttlMillis)
	if err != nil {
		return fmt.Errorf("cache set %q: %w", key, err)
	}
	return nil
}

// Del implements Store.
func (s *PostgresStore) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if _, err := s.pool.Exec(ctx, `DELETE FROM cache_entries WHERE key = ANY($1)`, keys); err != nil {
		return fmt.Errorf("cache del: %w", err)
	}
	return nil
}

// Incr implements Store. The upsert runs as one statement, so concurrent
// increments on the same key serialize on the row lock. A value that is not
// a positive integer restarts at 1.
func (s *PostgresStore) Incr(ctx context.Context, key string) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO cache_entries AS c (key, value, expires_at)
		VALUES ($1, '1', NULL)
		ON CONFLICT (key) DO UPDATE SET
			value = CASE
				WHEN (c.expires_at IS NULL OR c.expires_at > now()) AND c.value ~ '^[0-9]{1,18}$'
				THEN CASE WHEN c.value::bigint > 0 THEN (c.value::bigint + 1)::text ELSE '1' END
				ELSE '1'
			END,
			expires_at = CASE
				WHEN c.expires_at IS NULL OR c.expires_at > now() THEN c.expires_at
				ELSE NULL
			END
		RETURNING value::bigint`, key).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("cache incr %q: %w", key, err)
	}
	return n, nil
}

// Sweep implements Sweeper by deleting expired rows.
func (s *PostgresStore) Sweep(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM cache_entries WHERE expires_at IS NOT NULL AND expires_at <= now()`)
	if err != nil {
		return 0, fmt.Errorf("cache sweep: %w", err)
	}
	return tag.RowsAffected(), nil
}
