package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestHandlerExposesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.JobsAccepted.WithLabelValues("create").Inc()
	m.StuckJobs.Set(3)

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	body := rec.Body.String()
	if !strings.Contains(body, `todoq_jobs_accepted_total{operation="create"} 1`) {
		t.Fatalf("missing accepted counter:\n%s", body)
	}
	if !strings.Contains(body, "todoq_stuck_jobs 3") {
		t.Fatalf("missing stuck gauge:\n%s", body)
	}
}

func TestNewWithoutRegistry(t *testing.T) {
	m := New(nil)
	m.OrphanedJobs.Inc()
}
