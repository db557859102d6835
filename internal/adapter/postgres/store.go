package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Strob0t/FlowForge/internal/domain"
	"github.com/Strob0t/FlowForge/internal/domain/limit"
	"github.com/Strob0t/FlowForge/internal/domain/result"
	"github.com/Strob0t/FlowForge/internal/domain/run"
)

// Store implements database.Store using PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// --- Cache entries ---

func (s *Store) GetCacheEntry(ctx context.Context, key string) (*result.Entry, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT key, state, payload, created_at, expires_at
		 FROM cache_entries WHERE key = $1`, key)

	var e result.Entry
	var state string
	var expiresAt *time.Time
	if err := row.Scan(&e.Key, &state, &e.Payload, &e.CreatedAt, &expiresAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get cache entry: %w", err)
	}
	e.State = run.State(state)
	if expiresAt != nil {
		e.ExpiresAt = *expiresAt
	}
	return &e, nil
}

func (s *Store) PutCacheEntry(ctx context.Context, entry *result.Entry) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO cache_entries (key, state, payload, created_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (key) DO UPDATE
		 SET state = EXCLUDED.state, payload = EXCLUDED.payload,
		     created_at = EXCLUDED.created_at, expires_at = EXCLUDED.expires_at`,
		entry.Key, string(entry.State), entry.Payload, entry.CreatedAt, nullTime(entry.ExpiresAt))
	if err != nil {
		return fmt.Errorf("put cache entry: %w", err)
	}
	return nil
}

func (s *Store) DeleteCacheEntry(ctx context.Context, key string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM cache_entries WHERE key = $1`, key)
	if err != nil {
		return fmt.Errorf("delete cache entry: %w", err)
	}
	return nil
}

// --- Concurrency limits ---

func (s *Store) ListLimits(ctx context.Context) ([]limit.Limit, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT tag, max_slots FROM concurrency_limits ORDER BY tag`)
	if err != nil {
		return nil, fmt.Errorf("list limits: %w", err)
	}
	defer rows.Close()

	var limits []limit.Limit
	for rows.Next() {
		var l limit.Limit
		if err := rows.Scan(&l.Tag, &l.MaxSlots); err != nil {
			return nil, fmt.Errorf("scan limit: %w", err)
		}
		limits = append(limits, l)
	}
	return limits, rows.Err()
}

func (s *Store) GetLimit(ctx context.Context, tag string) (*limit.Limit, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT tag, max_slots FROM concurrency_limits WHERE tag = $1`, tag)

	var l limit.Limit
	if err := row.Scan(&l.Tag, &l.MaxSlots); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get limit: %w", err)
	}
	return &l, nil
}

func (s *Store) UpsertLimit(ctx context.Context, tag string, maxSlots int) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO concurrency_limits (tag, max_slots, updated_at)
		 VALUES ($1, $2, now())
		 ON CONFLICT (tag) DO UPDATE SET max_slots = EXCLUDED.max_slots, updated_at = now()`,
		tag, maxSlots)
	if err != nil {
		return fmt.Errorf("upsert limit: %w", err)
	}
	return nil
}

func (s *Store) DeleteLimit(ctx context.Context, tag string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM concurrency_limits WHERE tag = $1`, tag)
	if err != nil {
		return fmt.Errorf("delete limit: %w", err)
	}
	return nil
}

// --- Runs ---

func (s *Store) SaveRun(ctx context.Context, r *run.Run) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO runs (id, parent_id, name, state, attempts, tags, cache_key, pause_expires_at, error, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (id) DO UPDATE
		 SET state = EXCLUDED.state, attempts = EXCLUDED.attempts,
		     cache_key = EXCLUDED.cache_key, pause_expires_at = EXCLUDED.pause_expires_at,
		     error = EXCLUDED.error, updated_at = EXCLUDED.updated_at`,
		r.ID, nullIfEmpty(r.ParentID), r.Name, string(r.State), r.Attempts,
		pgTextArray(r.Tags), nullIfEmpty(r.CacheKey), r.PauseExpiresAt,
		nullIfEmpty(r.Error), r.CreatedAt, r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save run: %w", err)
	}
	return nil
}

func (s *Store) GetRun(ctx context.Context, id string) (*run.Run, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, parent_id, name, state, attempts, tags, cache_key, pause_expires_at, error, created_at, updated_at
		 FROM runs WHERE id = $1`, id)

	r, err := scanRun(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get run: %w", err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT state, message, created_at FROM run_states
		 WHERE run_id = $1 ORDER BY position`, id)
	if err != nil {
		return nil, fmt.Errorf("get run history: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var c run.StateChange
		var state string
		if err := rows.Scan(&state, &c.Message, &c.Timestamp); err != nil {
			return nil, fmt.Errorf("scan run state: %w", err)
		}
		c.State = run.State(state)
		r.History = append(r.History, c)
	}
	return r, rows.Err()
}

func (s *Store) AppendRunState(ctx context.Context, runID string, change run.StateChange) error {
	// The aggregate subquery always yields one row, so the insert lands at
	// the next position even for an empty history. An unknown run fails the
	// foreign key.
	_, err := s.pool.Exec(ctx,
		`INSERT INTO run_states (run_id, position, state, message, created_at)
		 SELECT $1, COALESCE(MAX(position) + 1, 0), $2, $3, $4
		 FROM run_states WHERE run_id = $1`,
		runID, string(change.State), change.Message, change.Timestamp)
	if err != nil {
		return fmt.Errorf("append run state: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`UPDATE runs SET state = $2, updated_at = $3 WHERE id = $1`,
		runID, string(change.State), change.Timestamp)
	if err != nil {
		return fmt.Errorf("update run state: %w", err)
	}
	return nil
}

func (s *Store) ListExpiredPaused(ctx context.Context, cutoff time.Time, batch int) ([]run.Run, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, parent_id, name, state, attempts, tags, cache_key, pause_expires_at, error, created_at, updated_at
		 FROM runs
		 WHERE state = 'paused' AND pause_expires_at IS NOT NULL AND pause_expires_at <= $1
		 ORDER BY pause_expires_at
		 LIMIT $2`, cutoff, batch)
	if err != nil {
		return nil, fmt.Errorf("list expired paused: %w", err)
	}
	defer rows.Close()

	var runs []run.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}
