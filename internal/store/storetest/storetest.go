// Package storetest holds behaviour tests shared by every store.Ledger backend.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"todoq/internal/command"
	"todoq/internal/state"
	"todoq/internal/store"
)

// Run exercises a ledger backend. newLedger must return an empty ledger.
func Run(t *testing.T, newLedger func(t *testing.T) store.Ledger) {
	t.Helper()
	cases := []struct {
		name string
		fn   func(t *testing.T, l store.Ledger)
	}{
		{"InsertAndGetJob", testInsertAndGetJob},
		{"GetMissing", testGetMissing},
		{"CreateInTx", testCreateInTx},
		{"RollbackOnError", testRollbackOnError},
		{"ToggleAndDelete", testToggleAndDelete},
		{"TerminalIsImmutable", testTerminalIsImmutable},
		{"ListItemsPaging", testListItemsPaging},
		{"ListStuck", testListStuck},
		{"CountStuck", testCountStuck},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			l := newLedger(t)
			t.Cleanup(func() { _ = l.Close() })
			tc.fn(t, l)
		})
	}
}

func pendingJob(op command.Operation, itemID *uuid.UUID) store.Job {
	return store.Job{
		ID:        uuid.New(),
		ItemID:    itemID,
		Operation: op,
		Status:    state.Pending,
	}
}

func testInsertAndGetJob(t *testing.T, l store.Ledger) {
	ctx := context.Background()
	itemID := uuid.New()
	job := pendingJob(command.OpCreate, &itemID)
	if err := l.InsertJob(ctx, job); err != nil {
		t.Fatalf("InsertJob: %v", err)
	}
	got, err := l.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.ID != job.ID || got.Operation != command.OpCreate || got.Status != state.Pending {
		t.Fatalf("unexpected job: %+v", got)
	}
	if got.ItemID == nil || *got.ItemID != itemID {
		t.Fatalf("item id = %v, want %s", got.ItemID, itemID)
	}
	if got.CreatedAt.IsZero() {
		t.Fatalf("expected created_at to be set")
	}

	orphan := pendingJob(command.OpToggle, nil)
	if err := l.InsertJob(ctx, orphan); err != nil {
		t.Fatalf("InsertJob without item: %v", err)
	}
	got, err = l.GetJob(ctx, orphan.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.ItemID != nil {
		t.Fatalf("expected nil item id, got %v", got.ItemID)
	}
}

func testGetMissing(t *testing.T, l store.Ledger) {
	ctx := context.Background()
	if _, err := l.GetJob(ctx, uuid.New()); !errors.Is(err, store.ErrJobNotFound) || !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("GetJob err = %v", err)
	}
	if _, err := l.GetItem(ctx, uuid.New()); !errors.Is(err, store.ErrItemNotFound) {
		t.Fatalf("GetItem err = %v", err)
	}
	if err := l.MarkFailed(ctx, uuid.New()); !errors.Is(err, store.ErrJobNotFound) {
		t.Fatalf("MarkFailed err = %v", err)
	}
}

func testCreateInTx(t *testing.T, l store.Ledger) {
	ctx := context.Background()
	itemID := uuid.New()
	job := pendingJob(command.OpCreate, &itemID)
	if err := l.InsertJob(ctx, job); err != nil {
		t.Fatalf("InsertJob: %v", err)
	}

	err := l.InTx(ctx, func(tx store.Tx) error {
		st, err := tx.JobStatus(ctx, job.ID)
		if err != nil {
			return err
		}
		if st != state.Pending {
			t.Fatalf("status in tx = %q", st)
		}
		if err := tx.InsertItem(ctx, store.Item{ID: itemID, Title: "write tests"}); err != nil {
			return err
		}
		return tx.SetJobStatus(ctx, job.ID, state.Completed)
	})
	if err != nil {
		t.Fatalf("InTx: %v", err)
	}

	item, err := l.GetItem(ctx, itemID)
	if err != nil {
		t.Fatalf("GetItem: %v", err)
	}
	if item.Title != "write tests" || item.Completed {
		t.Fatalf("unexpected item: %+v", item)
	}
	got, _ := l.GetJob(ctx, job.ID)
	if got.Status != state.Completed {
		t.Fatalf("job status = %q", got.Status)
	}
}

func testRollbackOnError(t *testing.T, l store.Ledger) {
	ctx := context.Background()
	itemID := uuid.New()
	job := pendingJob(command.OpCreate, &itemID)
	if err := l.InsertJob(ctx, job); err != nil {
		t.Fatalf("InsertJob: %v", err)
	}

	boom := errors.New("boom")
	err := l.InTx(ctx, func(tx store.Tx) error {
		if err := tx.InsertItem(ctx, store.Item{ID: itemID, Title: "never"}); err != nil {
			return err
		}
		if err := tx.SetJobStatus(ctx, job.ID, state.Completed); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("InTx err = %v", err)
	}
	if _, err := l.GetItem(ctx, itemID); !errors.Is(err, store.ErrItemNotFound) {
		t.Fatalf("expected item to be rolled back, err = %v", err)
	}
	got, _ := l.GetJob(ctx, job.ID)
	if got.Status != state.Pending {
		t.Fatalf("job status = %q, want pending", got.Status)
	}
}

func testToggleAndDelete(t *testing.T, l store.Ledger) {
	ctx := context.Background()
	itemID := uuid.New()
	err := l.InTx(ctx, func(tx store.Tx) error {
		if n, err := tx.ToggleItem(ctx, itemID); err != nil || n != 0 {
			t.Fatalf("toggle absent: n=%d err=%v", n, err)
		}
		if n, err := tx.DeleteItem(ctx, itemID); err != nil || n != 0 {
			t.Fatalf("delete absent: n=%d err=%v", n, err)
		}
		if err := tx.InsertItem(ctx, store.Item{ID: itemID, Title: "flip"}); err != nil {
			return err
		}
		n, err := tx.ToggleItem(ctx, itemID)
		if err != nil || n != 1 {
			t.Fatalf("toggle: n=%d err=%v", n, err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("InTx: %v", err)
	}
	item, err := l.GetItem(ctx, itemID)
	if err != nil || !item.Completed {
		t.Fatalf("expected completed item, got %+v err=%v", item, err)
	}

	err = l.InTx(ctx, func(tx store.Tx) error {
		n, err := tx.DeleteItem(ctx, itemID)
		if err != nil || n != 1 {
			t.Fatalf("delete: n=%d err=%v", n, err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("InTx: %v", err)
	}
	if _, err := l.GetItem(ctx, itemID); !errors.Is(err, store.ErrItemNotFound) {
		t.Fatalf("expected item to be deleted, err = %v", err)
	}
}

func testTerminalIsImmutable(t *testing.T, l store.Ledger) {
	ctx := context.Background()
	job := pendingJob(command.OpDelete, nil)
	if err := l.InsertJob(ctx, job); err != nil {
		t.Fatalf("InsertJob: %v", err)
	}
	if err := l.InTx(ctx, func(tx store.Tx) error {
		return tx.SetJobStatus(ctx, job.ID, state.Completed)
	}); err != nil {
		t.Fatalf("complete: %v", err)
	}

	err := l.InTx(ctx, func(tx store.Tx) error {
		return tx.SetJobStatus(ctx, job.ID, state.Failed)
	})
	if !errors.Is(err, store.ErrAlreadyTerminal) {
		t.Fatalf("second transition err = %v", err)
	}
	if err := l.MarkFailed(ctx, job.ID); !errors.Is(err, store.ErrAlreadyTerminal) {
		t.Fatalf("MarkFailed err = %v", err)
	}
	got, _ := l.GetJob(ctx, job.ID)
	if got.Status != state.Completed {
		t.Fatalf("status = %q, want completed", got.Status)
	}

	failed := pendingJob(command.OpToggle, nil)
	if err := l.InsertJob(ctx, failed); err != nil {
		t.Fatalf("InsertJob: %v", err)
	}
	if err := l.MarkFailed(ctx, failed.ID); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}
	got, _ = l.GetJob(ctx, failed.ID)
	if got.Status != state.Failed {
		t.Fatalf("status = %q, want failed", got.Status)
	}
}

func testListItemsPaging(t *testing.T, l store.Ledger) {
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	ids := make([]uuid.UUID, 3)
	err := l.InTx(ctx, func(tx store.Tx) error {
		for i := range ids {
			ids[i] = uuid.New()
			item := store.Item{ID: ids[i], Title: "item", CreatedAt: base.Add(time.Duration(i) * time.Minute)}
			if err := tx.InsertItem(ctx, item); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("InTx: %v", err)
	}

	first, err := l.ListItems(ctx, 2, 0)
	if err != nil {
		t.Fatalf("ListItems: %v", err)
	}
	if len(first) != 2 || first[0].ID != ids[2] || first[1].ID != ids[1] {
		t.Fatalf("unexpected first page: %+v", first)
	}
	second, err := l.ListItems(ctx, 2, 2)
	if err != nil {
		t.Fatalf("ListItems: %v", err)
	}
	if len(second) != 1 || second[0].ID != ids[0] {
		t.Fatalf("unexpected second page: %+v", second)
	}
	empty, err := l.ListItems(ctx, 2, 10)
	if err != nil {
		t.Fatalf("ListItems: %v", err)
	}
	if len(empty) != 0 {
		t.Fatalf("expected empty page, got %d", len(empty))
	}
}

func testListStuck(t *testing.T, l store.Ledger) {
	ctx := context.Background()
	old := pendingJob(command.OpToggle, nil)
	old.CreatedAt = time.Now().Add(-time.Hour).UTC()
	fresh := pendingJob(command.OpToggle, nil)
	done := pendingJob(command.OpDelete, nil)
	done.CreatedAt = time.Now().Add(-time.Hour).UTC()

	for _, job := range []store.Job{old, fresh, done} {
		if err := l.InsertJob(ctx, job); err != nil {
			t.Fatalf("InsertJob: %v", err)
		}
	}
	if err := l.MarkFailed(ctx, done.ID); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}

	stuck, err := l.ListStuck(ctx, time.Now().Add(-time.Minute), 10)
	if err != nil {
		t.Fatalf("ListStuck: %v", err)
	}
	if len(stuck) != 1 || stuck[0].ID != old.ID {
		t.Fatalf("unexpected stuck jobs: %+v", stuck)
	}
}

func testCountStuck(t *testing.T, l store.Ledger) {
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		job := pendingJob(command.OpToggle, nil)
		job.CreatedAt = time.Now().Add(-time.Duration(i+1) * time.Hour).UTC()
		if err := l.InsertJob(ctx, job); err != nil {
			t.Fatalf("InsertJob: %v", err)
		}
	}
	if err := l.InsertJob(ctx, pendingJob(command.OpToggle, nil)); err != nil {
		t.Fatalf("InsertJob: %v", err)
	}

	cutoff := time.Now().Add(-time.Minute)
	n, err := l.CountStuck(ctx, cutoff)
	if err != nil {
		t.Fatalf("CountStuck: %v", err)
	}
	if n != 3 {
		t.Fatalf("CountStuck = %d, want 3", n)
	}
	listed, err := l.ListStuck(ctx, cutoff, 2)
	if err != nil {
		t.Fatalf("ListStuck: %v", err)
	}
	if len(listed) != 2 {
		t.Fatalf("ListStuck returned %d, want limit 2", len(listed))
	}
}
