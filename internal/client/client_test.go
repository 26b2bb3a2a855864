package client

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"todoq/internal/api"
	"todoq/internal/metrics"
	"todoq/internal/producer"
	qmemory "todoq/internal/queue/memory"
	"todoq/internal/state"
	"todoq/internal/store"
	smemory "todoq/internal/store/memory"
)

const topic = "todo_tasks"

func newServer(t *testing.T) (*Client, *smemory.Store) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ledger := smemory.New()
	svc, err := producer.New(ledger, qmemory.New(), topic, nil, metrics.New(nil))
	if err != nil {
		t.Fatalf("new producer: %v", err)
	}
	srv := httptest.NewServer(api.NewRouter(ledger, svc, nil, nil))
	t.Cleanup(srv.Close)
	return New(srv.URL, srv.Client()), ledger
}

func TestCreateAndGetJob(t *testing.T) {
	c, _ := newServer(t)
	ctx := context.Background()

	accepted, err := c.Create(ctx, "buy milk")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if accepted.Status != state.Pending {
		t.Fatalf("status = %s", accepted.Status)
	}
	job, err := c.GetJob(ctx, accepted.JobID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if job.ID != accepted.JobID || job.Status != state.Pending {
		t.Fatalf("job = %+v", job)
	}
}

func TestAPIErrorCodes(t *testing.T) {
	c, _ := newServer(t)
	ctx := context.Background()

	_, err := c.Create(ctx, "")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Code != api.ErrMissingTitle {
		t.Fatalf("err = %v", err)
	}
	if _, err := c.GetJob(ctx, uuid.New()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v", err)
	}
	if _, err := c.ListItems(ctx, 0, 10); !errors.As(err, &apiErr) || apiErr.Code != api.ErrInvalidPagination {
		t.Fatalf("err = %v", err)
	}
}

func TestListAndGetItem(t *testing.T) {
	c, ledger := newServer(t)
	ctx := context.Background()
	item := store.Item{ID: uuid.New(), Title: "walk dog"}
	if err := ledger.InTx(ctx, func(tx store.Tx) error { return tx.InsertItem(ctx, item) }); err != nil {
		t.Fatalf("seed: %v", err)
	}

	items, err := c.ListItems(ctx, 1, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 1 || items[0].ID != item.ID {
		t.Fatalf("items = %+v", items)
	}
	got, err := c.GetItem(ctx, item.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Title != "walk dog" {
		t.Fatalf("item = %+v", got)
	}
}

func TestWaitJob(t *testing.T) {
	c, ledger := newServer(t)
	ctx := context.Background()

	accepted, err := c.Delete(ctx, uuid.New())
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = ledger.MarkFailed(context.Background(), accepted.JobID)
	}()

	waitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	job, err := c.WaitJob(waitCtx, accepted.JobID, 5*time.Millisecond)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if job.Status != state.Failed {
		t.Fatalf("status = %s", job.Status)
	}
}

func TestWaitJobTimesOut(t *testing.T) {
	c, _ := newServer(t)
	accepted, err := c.Toggle(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("toggle: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if _, err := c.WaitJob(ctx, accepted.JobID, 5*time.Millisecond); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v", err)
	}
}
