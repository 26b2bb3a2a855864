// Package sqlite is an embedded store.Ledger backed by modernc.org/sqlite.
// It serialises all access through a single connection, which also gives
// worker transactions the isolation a row lock would.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"todoq/internal/command"
	"todoq/internal/state"
	"todoq/internal/store"
)

// timeLayout is fixed width so that text comparison orders timestamps.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

const schema = `
CREATE TABLE IF NOT EXISTS items (
    id         TEXT PRIMARY KEY,
    title      TEXT NOT NULL,
    completed  INTEGER NOT NULL DEFAULT 0,
    created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS items_created_at_idx ON items (created_at);
CREATE TABLE IF NOT EXISTS jobs (
    id         TEXT PRIMARY KEY,
    item_id    TEXT,
    operation  TEXT NOT NULL,
    status     TEXT NOT NULL,
    created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS jobs_status_created_at_idx ON jobs (status, created_at);
`

type Config struct {
	Path string `yaml:"path"`
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Path) == "" {
		return fmt.Errorf("sqlite.path is required")
	}
	return nil
}

type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (creating if needed) the database file and ensures the tables exist.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	params := url.Values{}
	params.Add("_pragma", "busy_timeout(5000)")
	params.Add("_pragma", "journal_mode(WAL)")
	params.Add("_pragma", "foreign_keys(1)")
	db, err := sql.Open("sqlite", "file:"+cfg.Path+"?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db, now: time.Now}
	if err := s.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) InsertJob(ctx context.Context, job store.Job) error {
	if job.CreatedAt.IsZero() {
		job.CreatedAt = s.now()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO jobs (id, item_id, operation, status, created_at) VALUES (?, ?, ?, ?, ?)`,
		job.ID.String(),
		nullableUUID(job.ItemID),
		string(job.Operation),
		string(job.Status),
		formatTime(job.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *Store) GetJob(ctx context.Context, id uuid.UUID) (store.Job, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, item_id, operation, status, created_at FROM jobs WHERE id = ?`, id.String())
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Job{}, store.ErrJobNotFound
	}
	if err != nil {
		return store.Job{}, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

func (s *Store) GetItem(ctx context.Context, id uuid.UUID) (store.Item, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, title, completed, created_at FROM items WHERE id = ?`, id.String())
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Item{}, store.ErrItemNotFound
	}
	if err != nil {
		return store.Item{}, fmt.Errorf("get item: %w", err)
	}
	return item, nil
}

func (s *Store) ListItems(ctx context.Context, limit, offset int) ([]store.Item, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, completed, created_at FROM items
         ORDER BY created_at DESC, id LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	defer rows.Close()

	items := make([]store.Item, 0, limit)
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *Store) MarkFailed(ctx context.Context, jobID uuid.UUID) error {
	return setStatus(ctx, s.db, jobID, state.Failed)
}

func (s *Store) ListStuck(ctx context.Context, before time.Time, limit int) ([]store.Job, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, item_id, operation, status, created_at FROM jobs
         WHERE status = ? AND created_at < ? ORDER BY created_at LIMIT ?`,
		string(state.Pending), formatTime(before), limit)
	if err != nil {
		return nil, fmt.Errorf("list stuck jobs: %w", err)
	}
	defer rows.Close()

	var jobs []store.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func (s *Store) CountStuck(ctx context.Context, before time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM jobs WHERE status = ? AND created_at < ?`,
		string(state.Pending), formatTime(before)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count stuck jobs: %w", err)
	}
	return n, nil
}

func (s *Store) InTx(ctx context.Context, fn func(tx store.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := fn(&sqliteTx{tx: tx, now: s.now}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

type sqliteTx struct {
	tx  *sql.Tx
	now func() time.Time
}

func (t *sqliteTx) JobStatus(ctx context.Context, jobID uuid.UUID) (state.State, error) {
	return jobStatus(ctx, t.tx, jobID)
}

func (t *sqliteTx) InsertItem(ctx context.Context, item store.Item) error {
	if item.CreatedAt.IsZero() {
		item.CreatedAt = t.now()
	}
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO items (id, title, completed, created_at) VALUES (?, ?, ?, ?)`,
		item.ID.String(), item.Title, item.Completed, formatTime(item.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert item: %w", err)
	}
	return nil
}

func (t *sqliteTx) DeleteItem(ctx context.Context, id uuid.UUID) (int64, error) {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM items WHERE id = ?`, id.String())
	if err != nil {
		return 0, fmt.Errorf("delete item: %w", err)
	}
	return res.RowsAffected()
}

func (t *sqliteTx) ToggleItem(ctx context.Context, id uuid.UUID) (int64, error) {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE items SET completed = NOT completed WHERE id = ?`, id.String())
	if err != nil {
		return 0, fmt.Errorf("toggle item: %w", err)
	}
	return res.RowsAffected()
}

func (t *sqliteTx) SetJobStatus(ctx context.Context, jobID uuid.UUID, to state.State) error {
	return setStatus(ctx, t.tx, jobID, to)
}

type execQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// setStatus only updates pending rows; a miss is resolved into ErrJobNotFound
// or ErrAlreadyTerminal.
func setStatus(ctx context.Context, q execQuerier, jobID uuid.UUID, to state.State) error {
	res, err := q.ExecContext(ctx,
		`UPDATE jobs SET status = ? WHERE id = ? AND status = ?`,
		string(to), jobID.String(), string(state.Pending))
	if err != nil {
		return fmt.Errorf("update job status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}
	current, err := jobStatus(ctx, q, jobID)
	if err != nil {
		return err
	}
	return store.CheckTransition(current, to)
}

func jobStatus(ctx context.Context, q execQuerier, jobID uuid.UUID) (state.State, error) {
	var status string
	err := q.QueryRowContext(ctx, `SELECT status FROM jobs WHERE id = ?`, jobID.String()).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", store.ErrJobNotFound
	}
	if err != nil {
		return "", fmt.Errorf("job status: %w", err)
	}
	return state.Parse(status)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (store.Job, error) {
	var (
		job       store.Job
		itemID    uuid.NullUUID
		operation string
		status    string
		createdAt string
	)
	if err := row.Scan(&job.ID, &itemID, &operation, &status, &createdAt); err != nil {
		return store.Job{}, err
	}
	if itemID.Valid {
		id := itemID.UUID
		job.ItemID = &id
	}
	job.Operation = command.Operation(operation)
	st, err := state.Parse(status)
	if err != nil {
		return store.Job{}, err
	}
	job.Status = st
	ts, err := parseTime(createdAt)
	if err != nil {
		return store.Job{}, err
	}
	job.CreatedAt = ts
	return job, nil
}

func scanItem(row scanner) (store.Item, error) {
	var (
		item      store.Item
		createdAt string
	)
	if err := row.Scan(&item.ID, &item.Title, &item.Completed, &createdAt); err != nil {
		return store.Item{}, err
	}
	ts, err := parseTime(createdAt)
	if err != nil {
		return store.Item{}, err
	}
	item.CreatedAt = ts
	return item, nil
}

func nullableUUID(id *uuid.UUID) any {
	if id == nil {
		return nil
	}
	return id.String()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(value string) (time.Time, error) {
	t, err := time.Parse(timeLayout, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", value, err)
	}
	return t, nil
}
