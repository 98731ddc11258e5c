package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollector_RecordsCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordCheckIn()
	c.RecordCheckIn()
	c.RecordCheckout()
	c.RecordHeartbeat("pause")
	c.RecordRateLimited("checkin")

	if got := testutil.ToFloat64(c.checkins); got != 2 {
		t.Fatalf("checkins = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.checkouts); got != 1 {
		t.Fatalf("checkouts = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.heartbeats.WithLabelValues("pause")); got != 1 {
		t.Fatalf("heartbeats{pause} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.rateLimited.WithLabelValues("checkin")); got != 1 {
		t.Fatalf("rate_limited{checkin} = %v, want 1", got)
	}
}

func TestHandler_ExposesJobSeries(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	c.RecordJobRun("stale_session_autoclose", "ok", 42*time.Millisecond)

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Result().Body)

	out := string(body)
	if !strings.Contains(out, `telework_job_runs_total{job="stale_session_autoclose",status="ok"} 1`) {
		t.Fatalf("missing counter sample: %s", out)
	}
	if !strings.Contains(out, `telework_job_duration_seconds_count{job="stale_session_autoclose"} 1`) {
		t.Fatalf("missing histogram count sample: %s", out)
	}
}
