// Package store defines the ledger: the durable record of jobs and the todo
// items they mutate. Backends live in the postgres, sqlite and memory
// subpackages.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"todoq/internal/command"
	"todoq/internal/state"
)

type Item struct {
	ID        uuid.UUID `json:"id"`
	Title     string    `json:"title"`
	Completed bool      `json:"completed"`
	CreatedAt time.Time `json:"-"`
}

type Job struct {
	ID        uuid.UUID
	ItemID    *uuid.UUID
	Operation command.Operation
	Status    state.State
	CreatedAt time.Time
}

// Tx is the set of writes a worker performs inside one ledger transaction.
type Tx interface {
	// JobStatus returns the current status of a job and, where the backend
	// supports it, locks the row until the transaction ends.
	JobStatus(ctx context.Context, jobID uuid.UUID) (state.State, error)
	InsertItem(ctx context.Context, item Item) error
	// DeleteItem and ToggleItem return the number of rows affected.
	DeleteItem(ctx context.Context, id uuid.UUID) (int64, error)
	ToggleItem(ctx context.Context, id uuid.UUID) (int64, error)
	// SetJobStatus moves a pending job to a terminal status.
	SetJobStatus(ctx context.Context, jobID uuid.UUID, to state.State) error
}

type Ledger interface {
	InsertJob(ctx context.Context, job Job) error
	GetJob(ctx context.Context, id uuid.UUID) (Job, error)
	GetItem(ctx context.Context, id uuid.UUID) (Item, error)
	ListItems(ctx context.Context, limit, offset int) ([]Item, error)
	// MarkFailed moves a pending job to failed outside any worker transaction.
	MarkFailed(ctx context.Context, jobID uuid.UUID) error
	// ListStuck returns pending jobs created before the cutoff, oldest first.
	ListStuck(ctx context.Context, before time.Time, limit int) ([]Job, error)
	// CountStuck returns how many pending jobs were created before the cutoff.
	CountStuck(ctx context.Context, before time.Time) (int, error)
	// InTx runs fn in a transaction, committing when fn returns nil.
	InTx(ctx context.Context, fn func(tx Tx) error) error
	Close() error
}

// CheckTransition returns ErrAlreadyTerminal when a job in status from cannot
// move to status to.
func CheckTransition(from, to state.State) error {
	if state.CanTransition(from, to) {
		return nil
	}
	if state.IsTerminal(from) {
		return ErrAlreadyTerminal
	}
	return fmt.Errorf("invalid job transition %q -> %q", from, to)
}
