package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"todoq/internal/state"
	"todoq/internal/store"
)

// Store is an in-memory implementation of store.Ledger. Transactions are
// serialised by a single mutex and rolled back through an undo log.
type Store struct {
	mu    sync.RWMutex
	jobs  map[uuid.UUID]store.Job
	items map[uuid.UUID]store.Item
	now   func() time.Time
}

func New() *Store {
	return &Store{
		jobs:  make(map[uuid.UUID]store.Job),
		items: make(map[uuid.UUID]store.Item),
		now:   time.Now,
	}
}

func (s *Store) Close() error { return nil }

func (s *Store) InsertJob(ctx context.Context, job store.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = s.now().UTC()
	}
	if job.ItemID != nil {
		id := *job.ItemID
		job.ItemID = &id
	}
	s.jobs[job.ID] = job
	return nil
}

func (s *Store) GetJob(ctx context.Context, id uuid.UUID) (store.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return store.Job{}, store.ErrJobNotFound
	}
	return job, nil
}

func (s *Store) GetItem(ctx context.Context, id uuid.UUID) (store.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.items[id]
	if !ok {
		return store.Item{}, store.ErrItemNotFound
	}
	return item, nil
}

func (s *Store) ListItems(ctx context.Context, limit, offset int) ([]store.Item, error) {
	s.mu.RLock()
	all := make([]store.Item, 0, len(s.items))
	for _, item := range s.items {
		all = append(all, item)
	}
	s.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].ID.String() < all[j].ID.String()
	})
	if offset >= len(all) {
		return []store.Item{}, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], nil
}

func (s *Store) MarkFailed(ctx context.Context, jobID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setStatus(jobID, state.Failed)
}

func (s *Store) ListStuck(ctx context.Context, before time.Time, limit int) ([]store.Job, error) {
	s.mu.RLock()
	var out []store.Job
	for _, job := range s.jobs {
		if job.Status == state.Pending && job.CreatedAt.Before(before) {
			out = append(out, job)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) CountStuck(ctx context.Context, before time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, job := range s.jobs {
		if job.Status == state.Pending && job.CreatedAt.Before(before) {
			n++
		}
	}
	return n, nil
}

func (s *Store) InTx(ctx context.Context, fn func(tx store.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{s: s}
	if err := fn(tx); err != nil {
		for i := len(tx.undo) - 1; i >= 0; i-- {
			tx.undo[i]()
		}
		return err
	}
	return nil
}

// setStatus requires s.mu to be held.
func (s *Store) setStatus(jobID uuid.UUID, to state.State) error {
	job, ok := s.jobs[jobID]
	if !ok {
		return store.ErrJobNotFound
	}
	if err := store.CheckTransition(job.Status, to); err != nil {
		return err
	}
	job.Status = to
	s.jobs[jobID] = job
	return nil
}

type memTx struct {
	s    *Store
	undo []func()
}

func (t *memTx) JobStatus(ctx context.Context, jobID uuid.UUID) (state.State, error) {
	job, ok := t.s.jobs[jobID]
	if !ok {
		return "", store.ErrJobNotFound
	}
	return job.Status, nil
}

func (t *memTx) InsertItem(ctx context.Context, item store.Item) error {
	if _, exists := t.s.items[item.ID]; exists {
		return fmt.Errorf("insert item %s: duplicate key", item.ID)
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = t.s.now().UTC()
	}
	t.s.items[item.ID] = item
	t.undo = append(t.undo, func() { delete(t.s.items, item.ID) })
	return nil
}

func (t *memTx) DeleteItem(ctx context.Context, id uuid.UUID) (int64, error) {
	prev, ok := t.s.items[id]
	if !ok {
		return 0, nil
	}
	delete(t.s.items, id)
	t.undo = append(t.undo, func() { t.s.items[id] = prev })
	return 1, nil
}

func (t *memTx) ToggleItem(ctx context.Context, id uuid.UUID) (int64, error) {
	item, ok := t.s.items[id]
	if !ok {
		return 0, nil
	}
	prev := item
	item.Completed = !item.Completed
	t.s.items[id] = item
	t.undo = append(t.undo, func() { t.s.items[id] = prev })
	return 1, nil
}

func (t *memTx) SetJobStatus(ctx context.Context, jobID uuid.UUID, to state.State) error {
	prev, ok := t.s.jobs[jobID]
	if err := t.s.setStatus(jobID, to); err != nil {
		return err
	}
	if ok {
		t.undo = append(t.undo, func() { t.s.jobs[jobID] = prev })
	}
	return nil
}
