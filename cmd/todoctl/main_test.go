package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"todoq/internal/api"
	"todoq/internal/metrics"
	"todoq/internal/producer"
	qmemory "todoq/internal/queue/memory"
	"todoq/internal/store"
	smemory "todoq/internal/store/memory"
)

func setupServer(t *testing.T) (string, *smemory.Store) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ledger := smemory.New()
	svc, err := producer.New(ledger, qmemory.New(), "todo_tasks", nil, metrics.New(nil))
	if err != nil {
		t.Fatalf("new producer: %v", err)
	}
	srv := httptest.NewServer(api.NewRouter(ledger, svc, nil, nil))
	t.Cleanup(srv.Close)
	return srv.URL, ledger
}

func runCLI(t *testing.T, server string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--server", server}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func requireContains(t *testing.T, out, want string) {
	t.Helper()
	if !strings.Contains(out, want) {
		t.Fatalf("output missing %q:\n%s", want, out)
	}
}

func TestCreatePrintsPendingJob(t *testing.T) {
	server, _ := setupServer(t)
	out, err := runCLI(t, server, "create", "buy milk")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	requireContains(t, out, "pending")
}

func TestListAndGet(t *testing.T) {
	server, ledger := setupServer(t)
	ctx := context.Background()
	item := store.Item{ID: uuid.New(), Title: "walk dog", Completed: true}
	if err := ledger.InTx(ctx, func(tx store.Tx) error { return tx.InsertItem(ctx, item) }); err != nil {
		t.Fatalf("seed: %v", err)
	}

	out, err := runCLI(t, server, "list", "--limit", "5")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	requireContains(t, out, "walk dog")
	requireContains(t, out, "yes")

	out, err = runCLI(t, server, "get", item.ID.String())
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	requireContains(t, out, item.ID.String())
}

func TestListEmpty(t *testing.T) {
	server, _ := setupServer(t)
	out, err := runCLI(t, server, "list")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	requireContains(t, out, "No items")
}

func TestJobWaitReturnsTerminalStatus(t *testing.T) {
	server, ledger := setupServer(t)
	out, err := runCLI(t, server, "delete", uuid.NewString())
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	var jobID uuid.UUID
	for _, field := range strings.Fields(out) {
		if id, err := uuid.Parse(field); err == nil {
			jobID = id
		}
	}
	if jobID == uuid.Nil {
		t.Fatalf("no job id in output:\n%s", out)
	}
	if err := ledger.MarkFailed(context.Background(), jobID); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	out, err = runCLI(t, server, "job", jobID.String(), "--wait", "--timeout", "2s")
	if err != nil {
		t.Fatalf("job: %v", err)
	}
	requireContains(t, out, "failed")
}

func TestInvalidIDAndPagination(t *testing.T) {
	server, _ := setupServer(t)
	if _, err := runCLI(t, server, "toggle", "nope"); err == nil || !strings.Contains(err.Error(), "invalid id") {
		t.Fatalf("err = %v", err)
	}
	if _, err := runCLI(t, server, "list", "--limit", "101"); err == nil || !strings.Contains(err.Error(), api.ErrInvalidPagination) {
		t.Fatalf("err = %v", err)
	}
	if _, err := runCLI(t, server, "job", uuid.NewString()); err == nil || !strings.Contains(err.Error(), "404") {
		t.Fatalf("err = %v", err)
	}
}
