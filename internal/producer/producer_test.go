package producer

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"todoq/internal/command"
	"todoq/internal/metrics"
	"todoq/internal/queue"
	qmemory "todoq/internal/queue/memory"
	"todoq/internal/state"
	"todoq/internal/store"
	smemory "todoq/internal/store/memory"
)

const topic = "todo_tasks"

type failingPublisher struct{}

func (failingPublisher) Publish(ctx context.Context, topic string, msg queue.Message) error {
	return errors.New("broker down")
}

type failingLedger struct {
	store.Ledger
}

func (failingLedger) InsertJob(ctx context.Context, job store.Job) error {
	return errors.New("connection refused")
}

func newService(t *testing.T, ledger store.Ledger, pub queue.Publisher) (*Service, *metrics.Metrics) {
	t.Helper()
	m := metrics.New(nil)
	svc, err := New(ledger, pub, topic, nil, m)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	return svc, m
}

func TestCreateRecordsPendingJobAndPublishes(t *testing.T) {
	ledger := smemory.New()
	broker := qmemory.New()
	svc, m := newService(t, ledger, broker)

	accepted, err := svc.Create(context.Background(), "buy milk")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if accepted.Status != state.Pending {
		t.Fatalf("status = %s", accepted.Status)
	}

	job, err := ledger.GetJob(context.Background(), accepted.JobID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if job.Status != state.Pending || job.Operation != command.OpCreate || job.ItemID == nil {
		t.Fatalf("job = %+v", job)
	}

	published := broker.Published(topic)
	if len(published) != 1 {
		t.Fatalf("published = %d", len(published))
	}
	if published[0].Key != accepted.JobID.String() {
		t.Fatalf("key = %q", published[0].Key)
	}
	cmd, err := command.Decode(published[0].Value)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if cmd.JobID != accepted.JobID || *cmd.ItemID != *job.ItemID || *cmd.Title != "buy milk" {
		t.Fatalf("cmd = %+v", cmd)
	}
	if got := testutil.ToFloat64(m.JobsAccepted.WithLabelValues("create")); got != 1 {
		t.Fatalf("accepted metric = %v", got)
	}
}

func TestToggleAndDeleteCarryItemID(t *testing.T) {
	ledger := smemory.New()
	broker := qmemory.New()
	svc, _ := newService(t, ledger, broker)
	itemID := uuid.New()

	toggled, err := svc.Toggle(context.Background(), itemID)
	if err != nil {
		t.Fatalf("toggle: %v", err)
	}
	deleted, err := svc.Delete(context.Background(), itemID)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if toggled.JobID == deleted.JobID {
		t.Fatalf("job ids reused")
	}

	for i, want := range []command.Operation{command.OpToggle, command.OpDelete} {
		cmd, err := command.Decode(broker.Published(topic)[i].Value)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if cmd.Operation != want || *cmd.ItemID != itemID || cmd.Title != nil {
			t.Fatalf("cmd[%d] = %+v", i, cmd)
		}
	}
}

func TestEachCallAllocatesNewJob(t *testing.T) {
	svc, _ := newService(t, smemory.New(), qmemory.New())
	seen := make(map[uuid.UUID]bool)
	for i := 0; i < 5; i++ {
		accepted, err := svc.Create(context.Background(), "same title")
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		if seen[accepted.JobID] {
			t.Fatalf("duplicate job id %s", accepted.JobID)
		}
		seen[accepted.JobID] = true
	}
}

func TestCreateRejectsBlankTitle(t *testing.T) {
	broker := qmemory.New()
	svc, _ := newService(t, smemory.New(), broker)
	if _, err := svc.Create(context.Background(), "   "); !errors.Is(err, ErrEmptyTitle) {
		t.Fatalf("err = %v", err)
	}
	if len(broker.Published(topic)) != 0 {
		t.Fatalf("published a command for an invalid request")
	}
}

func TestLedgerFailureSkipsPublish(t *testing.T) {
	broker := qmemory.New()
	svc, _ := newService(t, failingLedger{}, broker)

	if _, err := svc.Toggle(context.Background(), uuid.New()); !errors.Is(err, ErrLedgerWrite) {
		t.Fatalf("err = %v", err)
	}
	if len(broker.Published(topic)) != 0 {
		t.Fatalf("published without a ledger record")
	}
}

func TestPublishFailureLeavesOrphan(t *testing.T) {
	ledger := smemory.New()
	svc, m := newService(t, ledger, failingPublisher{})
	jobID := uuid.New()
	svc.newID = func() uuid.UUID { return jobID }

	if _, err := svc.Delete(context.Background(), uuid.New()); !errors.Is(err, ErrPublish) {
		t.Fatalf("err = %v", err)
	}
	job, err := ledger.GetJob(context.Background(), jobID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if job.Status != state.Pending {
		t.Fatalf("status = %s", job.Status)
	}
	if got := testutil.ToFloat64(m.OrphanedJobs); got != 1 {
		t.Fatalf("orphaned metric = %v", got)
	}
}
