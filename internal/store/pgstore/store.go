package pgstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"todoq/internal/command"
	"todoq/internal/state"
	"todoq/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS items (
    id         UUID PRIMARY KEY,
    title      TEXT NOT NULL,
    completed  BOOLEAN NOT NULL DEFAULT FALSE,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS items_created_at_idx ON items (created_at DESC);
CREATE TABLE IF NOT EXISTS jobs (
    id         UUID PRIMARY KEY,
    item_id    UUID,
    operation  TEXT NOT NULL,
    status     TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS jobs_status_created_at_idx ON jobs (status, created_at);
`

type Store struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

func NewWithPool(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, now: time.Now}
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) InsertJob(ctx context.Context, job store.Job) error {
	if job.CreatedAt.IsZero() {
		job.CreatedAt = s.now()
	}
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO jobs (id, item_id, operation, status, created_at) VALUES ($1, $2, $3, $4, $5)`,
			job.ID, job.ItemID, string(job.Operation), string(job.Status), job.CreatedAt.UTC())
		if err != nil {
			return fmt.Errorf("insert job: %w", err)
		}
		return nil
	})
}

func (s *Store) GetJob(ctx context.Context, id uuid.UUID) (store.Job, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, item_id, operation, status, created_at FROM jobs WHERE id = $1`, id)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.Job{}, store.ErrJobNotFound
	}
	if err != nil {
		return store.Job{}, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

func (s *Store) GetItem(ctx context.Context, id uuid.UUID) (store.Item, error) {
	var item store.Item
	err := s.pool.QueryRow(ctx,
		`SELECT id, title, completed, created_at FROM items WHERE id = $1`, id).
		Scan(&item.ID, &item.Title, &item.Completed, &item.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.Item{}, store.ErrItemNotFound
	}
	if err != nil {
		return store.Item{}, fmt.Errorf("get item: %w", err)
	}
	return item, nil
}

func (s *Store) ListItems(ctx context.Context, limit, offset int) ([]store.Item, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, title, completed, created_at FROM items
         ORDER BY created_at DESC, id LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	items, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (store.Item, error) {
		var item store.Item
		err := row.Scan(&item.ID, &item.Title, &item.Completed, &item.CreatedAt)
		return item, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan items: %w", err)
	}
	return items, nil
}

func (s *Store) MarkFailed(ctx context.Context, jobID uuid.UUID) error {
	return setStatus(ctx, s.pool, jobID, state.Failed)
}

func (s *Store) ListStuck(ctx context.Context, before time.Time, limit int) ([]store.Job, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, item_id, operation, status, created_at FROM jobs
         WHERE status = $1 AND created_at < $2 ORDER BY created_at LIMIT $3`,
		string(state.Pending), before.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("list stuck jobs: %w", err)
	}
	jobs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (store.Job, error) {
		return scanJob(row)
	})
	if err != nil {
		return nil, fmt.Errorf("scan jobs: %w", err)
	}
	return jobs, nil
}

func (s *Store) CountStuck(ctx context.Context, before time.Time) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM jobs WHERE status = $1 AND created_at < $2`,
		string(state.Pending), before.UTC()).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count stuck jobs: %w", err)
	}
	return n, nil
}

func (s *Store) InTx(ctx context.Context, fn func(tx store.Tx) error) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(&pgTx{tx: tx, now: s.now})
	})
}

type pgTx struct {
	tx  pgx.Tx
	now func() time.Time
}

// JobStatus locks the job row so that concurrent deliveries of the same
// command serialise on it.
func (t *pgTx) JobStatus(ctx context.Context, jobID uuid.UUID) (state.State, error) {
	var status string
	err := t.tx.QueryRow(ctx, `SELECT status FROM jobs WHERE id = $1 FOR UPDATE`, jobID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", store.ErrJobNotFound
	}
	if err != nil {
		return "", fmt.Errorf("job status: %w", err)
	}
	return state.Parse(status)
}

func (t *pgTx) InsertItem(ctx context.Context, item store.Item) error {
	if item.CreatedAt.IsZero() {
		item.CreatedAt = t.now()
	}
	_, err := t.tx.Exec(ctx,
		`INSERT INTO items (id, title, completed, created_at) VALUES ($1, $2, $3, $4)`,
		item.ID, item.Title, item.Completed, item.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert item: %w", err)
	}
	return nil
}

func (t *pgTx) DeleteItem(ctx context.Context, id uuid.UUID) (int64, error) {
	tag, err := t.tx.Exec(ctx, `DELETE FROM items WHERE id = $1`, id)
	if err != nil {
		return 0, fmt.Errorf("delete item: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (t *pgTx) ToggleItem(ctx context.Context, id uuid.UUID) (int64, error) {
	tag, err := t.tx.Exec(ctx, `UPDATE items SET completed = NOT completed WHERE id = $1`, id)
	if err != nil {
		return 0, fmt.Errorf("toggle item: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (t *pgTx) SetJobStatus(ctx context.Context, jobID uuid.UUID, to state.State) error {
	return setStatus(ctx, t.tx, jobID, to)
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func setStatus(ctx context.Context, q querier, jobID uuid.UUID, to state.State) error {
	tag, err := q.Exec(ctx,
		`UPDATE jobs SET status = $1 WHERE id = $2 AND status = $3`,
		string(to), jobID, string(state.Pending))
	if err != nil {
		return fmt.Errorf("update job status: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	var current string
	err = q.QueryRow(ctx, `SELECT status FROM jobs WHERE id = $1`, jobID).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrJobNotFound
	}
	if err != nil {
		return fmt.Errorf("job status: %w", err)
	}
	return store.CheckTransition(state.State(current), to)
}

func scanJob(row pgx.Row) (store.Job, error) {
	var (
		job       store.Job
		operation string
		status    string
	)
	if err := row.Scan(&job.ID, &job.ItemID, &operation, &status, &job.CreatedAt); err != nil {
		return store.Job{}, err
	}
	job.Operation = command.Operation(operation)
	st, err := state.Parse(status)
	if err != nil {
		return store.Job{}, err
	}
	job.Status = st
	return job, nil
}
