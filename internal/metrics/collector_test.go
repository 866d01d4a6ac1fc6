package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewCollector(t *testing.T) {
	c := NewCollector()
	if c.registry == nil {
		t.Fatal("collector should own a registry")
	}

	// Registering twice must panic inside MustRegister, so a second
	// collector needs its own registry.
	c2 := NewCollector()
	if c.Registry() == c2.Registry() {
		t.Error("collectors should not share registries")
	}
}

func TestTierCounters(t *testing.T) {
	c := NewCollector()

	c.RecordTierHit("l1")
	c.RecordTierHit("l1")
	c.RecordTierMiss("l1")
	c.RecordTierHit("l2")
	c.RecordEviction("l1")

	if got := testutil.ToFloat64(c.tierHits.WithLabelValues("l1")); got != 2 {
		t.Errorf("l1 hits = %f, want 2", got)
	}
	if got := testutil.ToFloat64(c.tierMisses.WithLabelValues("l1")); got != 1 {
		t.Errorf("l1 misses = %f, want 1", got)
	}
	if got := testutil.ToFloat64(c.tierHits.WithLabelValues("l2")); got != 1 {
		t.Errorf("l2 hits = %f, want 1", got)
	}
	if got := testutil.ToFloat64(c.evictions.WithLabelValues("l1")); got != 1 {
		t.Errorf("l1 evictions = %f, want 1", got)
	}
}

func TestDedupOutcomes(t *testing.T) {
	c := NewCollector()

	c.RecordDedup(false)
	c.RecordDedup(true)
	c.RecordDedup(true)

	if got := testutil.ToFloat64(c.dedupTotal.WithLabelValues("executed")); got != 1 {
		t.Errorf("executed = %f, want 1", got)
	}
	if got := testutil.ToFloat64(c.dedupTotal.WithLabelValues("deduplicated")); got != 2 {
		t.Errorf("deduplicated = %f, want 2", got)
	}
}

func TestBreakerStateGauge(t *testing.T) {
	c := NewCollector()

	tests := []struct {
		state string
		want  float64
	}{
		{"CLOSED", 0},
		{"HALF_OPEN", 1},
		{"OPEN", 2},
		{"CLOSED", 0},
	}

	for _, tt := range tests {
		c.RecordBreakerState("origin-a", tt.state)
		if got := testutil.ToFloat64(c.breakerState.WithLabelValues("origin-a")); got != tt.want {
			t.Errorf("state %s gauge = %f, want %f", tt.state, got, tt.want)
		}
	}
}

func TestRateLimitDecisions(t *testing.T) {
	c := NewCollector()

	c.RecordRateLimitDecision(true)
	c.RecordRateLimitDecision(true)
	c.RecordRateLimitDecision(false)

	if got := testutil.ToFloat64(c.rateDecisions.WithLabelValues("allowed")); got != 2 {
		t.Errorf("allowed = %f, want 2", got)
	}
	if got := testutil.ToFloat64(c.rateDecisions.WithLabelValues("denied")); got != 1 {
		t.Errorf("denied = %f, want 1", got)
	}
}

func TestHandlerExposition(t *testing.T) {
	c := NewCollector()
	c.RecordTierHit("l1")
	c.RecordBatchFlush("high", 5, 80*time.Millisecond)
	c.RecordOperation("read", 10*time.Millisecond, true)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	c.Handler().ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	for _, metric := range []string{
		"tiercache_tier_hits_total",
		"tiercache_batch_flush_size",
		"tiercache_operation_duration_seconds",
	} {
		if !strings.Contains(body, metric) {
			t.Errorf("exposition missing %s", metric)
		}
	}
}
