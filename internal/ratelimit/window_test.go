package ratelimit

import (
	"testing"
	"time"
)

// TestTable_CheckBoundary walks the allow/deny boundary for a 3-request window
func TestTable_CheckBoundary(t *testing.T) {
	table := NewTable()
	now := time.Now()
	window := time.Second

	wantRemaining := []int{2, 1, 0}
	for i, want := range wantRemaining {
		decision := table.Check("client-a", 3, window, now)
		if !decision.Allowed {
			t.Fatalf("call %d: expected allowed", i+1)
		}
		if decision.Remaining != want {
			t.Errorf("call %d: expected remaining %d, got %d", i+1, want, decision.Remaining)
		}
	}

	decision := table.Check("client-a", 3, window, now.Add(100*time.Millisecond))
	if decision.Allowed {
		t.Fatal("call 4 inside window: expected denied")
	}
	if decision.RetryAfter <= 0 {
		t.Errorf("denied decision must carry positive RetryAfter, got %d", decision.RetryAfter)
	}

	// After the window fully elapses the next call is allowed again.
	decision = table.Check("client-a", 3, window, now.Add(window+10*time.Millisecond))
	if !decision.Allowed {
		t.Error("expected allowed after window elapsed")
	}
}

// TestTable_RetryAfterRoundsUp tests ceiling behavior of retry-after
func TestTable_RetryAfterRoundsUp(t *testing.T) {
	table := NewTable()
	now := time.Now()

	table.Check("c", 1, 10*time.Second, now)
	decision := table.Check("c", 1, 10*time.Second, now.Add(500*time.Millisecond))
	if decision.Allowed {
		t.Fatal("expected denied")
	}
	// 9.5s remaining rounds up to 10.
	if decision.RetryAfter != 10 {
		t.Errorf("expected RetryAfter 10, got %d", decision.RetryAfter)
	}
}

// TestTable_IdentifiersIndependent tests that windows do not bleed across identifiers
func TestTable_IdentifiersIndependent(t *testing.T) {
	table := NewTable()
	now := time.Now()

	for i := 0; i < 3; i++ {
		table.Check("a", 3, time.Second, now)
	}
	if table.Check("a", 3, time.Second, now).Allowed {
		t.Fatal("identifier a should be exhausted")
	}
	if !table.Check("b", 3, time.Second, now).Allowed {
		t.Error("identifier b should be unaffected")
	}
}

// TestTable_Reset tests window reset
func TestTable_Reset(t *testing.T) {
	table := NewTable()
	now := time.Now()

	table.Check("a", 1, time.Minute, now)
	if table.Check("a", 1, time.Minute, now).Allowed {
		t.Fatal("expected denied before reset")
	}

	if !table.Reset("a") {
		t.Error("Reset should report the window existed")
	}
	if table.Reset("a") {
		t.Error("second Reset should report absence")
	}
	if !table.Check("a", 1, time.Minute, now).Allowed {
		t.Error("expected allowed after reset")
	}
}

// TestTable_Stats tests entry counting and key sampling
func TestTable_Stats(t *testing.T) {
	table := NewTable()
	now := time.Now()

	table.Check("a", 5, time.Minute, now)
	table.Check("b", 5, time.Minute, now)
	table.Check("c", 5, time.Minute, now)

	entries, samples := table.Stats(2)
	if entries != 3 {
		t.Errorf("expected 3 entries, got %d", entries)
	}
	if len(samples) != 2 {
		t.Errorf("expected 2 sampled keys, got %d", len(samples))
	}
}

// TestTable_PruneStale tests reclamation of idle windows
func TestTable_PruneStale(t *testing.T) {
	table := NewTable()
	now := time.Now()

	table.Check("idle", 5, time.Minute, now.Add(-2*time.Hour))
	table.Check("active", 5, time.Minute, now)

	pruned := table.PruneStale(now, time.Hour)
	if pruned != 1 {
		t.Errorf("expected 1 pruned window, got %d", pruned)
	}
	entries, _ := table.Stats(10)
	if entries != 1 {
		t.Errorf("expected 1 remaining window, got %d", entries)
	}
}

// TestTable_SnapshotRestore tests persistence round-trip through the coordinator
func TestTable_SnapshotRestore(t *testing.T) {
	table := NewTable()
	now := time.Now()
	table.Check("a", 3, time.Minute, now)
	table.Check("a", 3, time.Minute, now)

	restored := NewTable()
	restored.Restore(table.Snapshot())

	decision := restored.Check("a", 3, time.Minute, now)
	if !decision.Allowed || decision.Remaining != 0 {
		t.Errorf("restored window lost state: %+v", decision)
	}
	if restored.Check("a", 3, time.Minute, now).Allowed {
		t.Error("restored window should now be exhausted")
	}
}
