package promote

import (
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/tiercache/tiercache/internal/config"
)

type fakeReporter struct {
	entries int
	bytes   int64
}

func (f *fakeReporter) EntryCount() int    { return f.entries }
func (f *fakeReporter) MemoryBytes() int64 { return f.bytes }

func roomyReporter() *fakeReporter {
	return &fakeReporter{entries: 0, bytes: 0}
}

func nsConfig(priority string) config.NamespaceConfig {
	ns := config.DefaultNamespace()
	ns.Priority = priority
	ns.L1TTL = 10 * time.Minute
	return ns
}

func TestStrategySelection(t *testing.T) {
	e := NewEngine(roomyReporter(), zap.NewNop())

	realtime := nsConfig("low")
	realtime.RealtimePatterns = []string{"quote:"}

	predictive := nsConfig("low")
	predictive.PredictivePatterns = []string{"model:"}

	tests := []struct {
		name        string
		key         string
		accessCount int64
		ns          config.NamespaceConfig
		want        Strategy
	}{
		{"high priority namespace", "k1", 0, nsConfig("high"), StrategyImmediate},
		{"realtime pattern match", "quote:AAPL", 0, realtime, StrategyImmediate},
		{"frequent access", "k1", 4, nsConfig("low"), StrategyConditional},
		{"predictive pattern", "model:gpt:result", 1, predictive, StrategyPredictive},
		{"default", "k1", 1, nsConfig("low"), StrategyLazy},
		{"realtime wins over access count", "quote:AAPL", 10, realtime, StrategyImmediate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := e.selectStrategy(Context{
				Key:             tt.key,
				AccessCount:     tt.accessCount,
				NamespaceConfig: tt.ns,
			})
			if got != tt.want {
				t.Errorf("selectStrategy() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestImmediatePromotion(t *testing.T) {
	e := NewEngine(roomyReporter(), zap.NewNop())

	d := e.Evaluate(Context{
		Key:             "quote:AAPL",
		Namespace:       "market",
		NamespaceConfig: nsConfig("high"),
		SizeBytes:       100,
	})

	if !d.ShouldPromote {
		t.Fatal("immediate strategy should always promote")
	}
	if d.Strategy != StrategyImmediate {
		t.Errorf("Strategy = %s, want immediate", d.Strategy)
	}
	if d.Priority != 100 {
		t.Errorf("Priority = %d, want 100", d.Priority)
	}
	if d.EstimatedLifespan != 10*time.Minute {
		t.Errorf("EstimatedLifespan = %v, want full TTL", d.EstimatedLifespan)
	}
}

func TestConditionalPromotion(t *testing.T) {
	e := NewEngine(roomyReporter(), zap.NewNop())

	tests := []struct {
		name        string
		accessCount int64
		priority    string
		promote     bool
		lifespan    time.Duration
	}{
		// accessCount > 3 routes to conditional; >= 2 then promotes at 80% TTL.
		{"frequent low priority", 5, "low", true, 8 * time.Minute},
		{"frequent medium priority", 4, "medium", true, 8 * time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := e.Evaluate(Context{
				Key:             "k1",
				AccessCount:     tt.accessCount,
				NamespaceConfig: nsConfig(tt.priority),
				SizeBytes:       100,
			})
			if d.ShouldPromote != tt.promote {
				t.Errorf("ShouldPromote = %v, want %v", d.ShouldPromote, tt.promote)
			}
			if tt.promote && d.EstimatedLifespan != tt.lifespan {
				t.Errorf("EstimatedLifespan = %v, want %v", d.EstimatedLifespan, tt.lifespan)
			}
		})
	}
}

func TestLazyPromotion(t *testing.T) {
	e := NewEngine(roomyReporter(), zap.NewNop())
	ns := nsConfig("low")

	// Too few accesses.
	d := e.Evaluate(Context{Key: "k1", AccessCount: 2, NamespaceConfig: ns, SizeBytes: 100,
		FirstAccessAt: time.Now().Add(-5 * time.Minute)})
	if d.ShouldPromote {
		t.Error("lazy should not promote below 3 accesses")
	}

	// Enough accesses but too young.
	d = e.Evaluate(Context{Key: "k1", AccessCount: 3, NamespaceConfig: ns, SizeBytes: 100,
		FirstAccessAt: time.Now().Add(-10 * time.Second)})
	if d.ShouldPromote {
		t.Error("lazy should not promote within 60s of first access")
	}

	// Both conditions hold.
	d = e.Evaluate(Context{Key: "k1", AccessCount: 3, NamespaceConfig: ns, SizeBytes: 100,
		FirstAccessAt: time.Now().Add(-5 * time.Minute)})
	if !d.ShouldPromote {
		t.Fatal("lazy should promote at 3+ accesses older than 60s")
	}
	if d.Strategy != StrategyLazy {
		t.Errorf("Strategy = %s, want lazy", d.Strategy)
	}
	if d.EstimatedLifespan != 6*time.Minute {
		t.Errorf("EstimatedLifespan = %v, want 60%% of TTL", d.EstimatedLifespan)
	}
}

func TestPredictivePromotion(t *testing.T) {
	e := NewEngine(roomyReporter(), zap.NewNop())
	ns := nsConfig("low")
	ns.PredictivePatterns = []string{"model:"}

	// Recent access in a scored namespace pushes well past 0.5.
	d := e.Evaluate(Context{
		Key:             "model:summary",
		Namespace:       "reports",
		AccessCount:     2,
		LastAccessAt:    time.Now().Add(-time.Second),
		NamespaceConfig: ns,
		SizeBytes:       100,
	})
	if !d.ShouldPromote {
		t.Fatal("predictive should promote with a strong usefulness score")
	}
	if d.Strategy != StrategyPredictive {
		t.Errorf("Strategy = %s, want predictive", d.Strategy)
	}
	if d.Priority <= 50 || d.Priority > 100 {
		t.Errorf("Priority = %d, want in (50, 100]", d.Priority)
	}
	if d.EstimatedLifespan <= 0 || d.EstimatedLifespan > 10*time.Minute {
		t.Errorf("EstimatedLifespan = %v, want within TTL", d.EstimatedLifespan)
	}
}

func TestUsefulnessScoreBounds(t *testing.T) {
	e := NewEngine(roomyReporter(), zap.NewNop())

	// Maximal inputs stay clamped at 1.
	score := e.usefulnessScore(Context{
		Namespace:    "reports",
		AccessCount:  100,
		LastAccessAt: time.Now(),
	})
	if score > 1 {
		t.Errorf("score = %f, want <= 1", score)
	}

	// Minimal inputs keep the base.
	score = e.usefulnessScore(Context{Namespace: "other"})
	if score != 0.5 {
		t.Errorf("score = %f, want base 0.5", score)
	}
}

func TestHeadroomBackpressure(t *testing.T) {
	ns := nsConfig("high")
	ns.MaxMemoryMB = 10
	ns.MaxEntries = 100

	tests := []struct {
		name     string
		reporter *fakeReporter
		size     int64
		promote  bool
	}{
		{"plenty of room", &fakeReporter{entries: 10, bytes: 1 << 20}, 1024, true},
		{"memory at 80%", &fakeReporter{entries: 10, bytes: 8 << 20}, 1024, false},
		{"entries at 80%", &fakeReporter{entries: 80, bytes: 1 << 20}, 1024, false},
		{"candidate pushes past 80%", &fakeReporter{entries: 10, bytes: 7 << 20}, 2 << 20, false},
		{"just under both", &fakeReporter{entries: 79, bytes: 6 << 20}, 1024, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewEngine(tt.reporter, zap.NewNop())
			d := e.Evaluate(Context{
				Key:             "k1",
				NamespaceConfig: ns,
				SizeBytes:       tt.size,
			})
			if d.ShouldPromote != tt.promote {
				t.Errorf("ShouldPromote = %v, want %v", d.ShouldPromote, tt.promote)
			}
		})
	}
}

func TestTTLFloor(t *testing.T) {
	e := NewEngine(roomyReporter(), zap.NewNop())
	ns := nsConfig("medium")
	ns.L1TTL = 30 * time.Second

	// Conditional computes 80% of 30s = 24s, which must be floored.
	d := e.Evaluate(Context{
		Key:             "k1",
		AccessCount:     5,
		NamespaceConfig: ns,
		SizeBytes:       100,
	})
	if !d.ShouldPromote {
		t.Fatal("expected promotion")
	}
	if d.EstimatedLifespan < MinTTL {
		t.Errorf("EstimatedLifespan = %v, want >= %v", d.EstimatedLifespan, MinTTL)
	}
}

func TestStatsAccounting(t *testing.T) {
	reporter := roomyReporter()
	e := NewEngine(reporter, zap.NewNop())
	ns := nsConfig("high")

	for i := 0; i < 3; i++ {
		e.Evaluate(Context{Key: "k1", NamespaceConfig: ns, SizeBytes: 100})
	}
	// Force a skip via headroom.
	reporter.entries = 10000
	e.Evaluate(Context{Key: "k1", NamespaceConfig: ns, SizeBytes: 100})

	stats := e.Stats()
	if stats.Evaluated != 4 {
		t.Errorf("Evaluated = %d, want 4", stats.Evaluated)
	}
	if stats.Promoted != 3 {
		t.Errorf("Promoted = %d, want 3", stats.Promoted)
	}
	if stats.Skipped != 1 {
		t.Errorf("Skipped = %d, want 1", stats.Skipped)
	}
	if stats.NoHeadroom != 1 {
		t.Errorf("NoHeadroom = %d, want 1", stats.NoHeadroom)
	}
	if stats.ByImmediate != 3 {
		t.Errorf("ByImmediate = %d, want 3", stats.ByImmediate)
	}
}
