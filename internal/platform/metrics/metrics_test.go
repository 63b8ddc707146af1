package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.ObserveHTTP("GET", "/healthz", 200, time.Millisecond)
	m.ObserveClaim("payment", "accepted")
	m.ObserveConfirmation("verified")
	m.SetQueueDepth(3)
	m.ObserveRPC("eth_getTransactionReceipt", time.Second)
	m.ObserveCheckin("created")
	m.AddPoints("checkin", 10)

	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest("GET", "/metrics", nil))
	if rr.Code != 404 {
		t.Errorf("nil handler status = %d, want 404", rr.Code)
	}
}

func TestCounters(t *testing.T) {
	m, err := New()
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	m.ObserveClaim("payment", "accepted")
	m.ObserveClaim("payment", "accepted")
	m.ObserveCheckin("duplicate")
	m.AddPoints("checkin_sponsored", 25)
	m.AddPoints("checkin_sponsored", 0)
	m.ObserveHTTP("POST", "/api/claims/sponsorships", 503, time.Millisecond)

	if got := testutil.ToFloat64(m.claims.WithLabelValues("payment", "accepted")); got != 2 {
		t.Errorf("claims = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.checkins.WithLabelValues("duplicate")); got != 1 {
		t.Errorf("checkins = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.points.WithLabelValues("checkin_sponsored")); got != 25 {
		t.Errorf("points = %v, want 25", got)
	}
	if got := testutil.ToFloat64(m.httpRequests.WithLabelValues("POST", "/api/claims/sponsorships", "5xx")); got != 1 {
		t.Errorf("http requests = %v, want 1", got)
	}
}

func TestHandlerExposesFamilies(t *testing.T) {
	m, err := New()
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	m.SetQueueDepth(4)

	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest("GET", "/metrics", nil))

	body := rr.Body.String()
	for _, want := range []string{"flowb_payment_queue_depth 4", "go_goroutines"} {
		if !strings.Contains(body, want) {
			t.Errorf("exposition missing %q", want)
		}
	}
}
