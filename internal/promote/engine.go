// Package promote decides whether a value found in a slower tier should be
// copied into the in-memory tier, and with what TTL.
package promote

import (
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tiercache/tiercache/internal/config"
)

// Strategy identifies how a promotion decision was reached
type Strategy string

const (
	StrategyImmediate   Strategy = "immediate"
	StrategyConditional Strategy = "conditional"
	StrategyLazy        Strategy = "lazy"
	StrategyPredictive  Strategy = "predictive"
)

// MinTTL is the floor applied to every computed promotion lifespan
const MinTTL = 30 * time.Second

// Headroom thresholds: promotion stops once the memory tier reaches 80%
// of either budget. Soft backpressure, never an eviction.
const headroomRatio = 0.8

// Context carries everything the engine needs to evaluate one candidate
type Context struct {
	Key             string
	Namespace       string
	AccessCount     int64
	FirstAccessAt   time.Time
	LastAccessAt    time.Time
	Value           []byte
	SizeBytes       int64
	NamespaceConfig config.NamespaceConfig
}

// Decision is the outcome of evaluating one candidate
type Decision struct {
	ShouldPromote     bool
	Strategy          Strategy
	Priority          int // 0-100
	EstimatedLifespan time.Duration
}

// HeadroomReporter exposes the memory tier's current occupancy
type HeadroomReporter interface {
	EntryCount() int
	MemoryBytes() int64
}

// Stats tracks promotion engine statistics
type Stats struct {
	Evaluated   int64 `json:"evaluated"`
	Promoted    int64 `json:"promoted"`
	Skipped     int64 `json:"skipped"`
	NoHeadroom  int64 `json:"no_headroom"`
	ByImmediate int64 `json:"by_immediate"`
	ByCondition int64 `json:"by_conditional"`
	ByLazy      int64 `json:"by_lazy"`
	ByPredict   int64 `json:"by_predictive"`
}

// Engine evaluates promotion candidates against namespace policy and
// current memory-tier headroom
type Engine struct {
	reporter HeadroomReporter
	logger   *zap.Logger

	mu    sync.Mutex
	stats Stats
}

// NewEngine creates a promotion engine over the given headroom reporter
func NewEngine(reporter HeadroomReporter, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		reporter: reporter,
		logger:   logger,
	}
}

// Evaluate decides whether the candidate should be promoted. A full memory
// tier skips the promotion rather than forcing an eviction.
func (e *Engine) Evaluate(pctx Context) Decision {
	strategy := e.selectStrategy(pctx)
	decision := e.applyStrategy(strategy, pctx)

	noHeadroom := false
	if decision.ShouldPromote && !e.hasHeadroom(pctx) {
		noHeadroom = true
		e.logger.Debug("promotion skipped, no headroom",
			zap.String("namespace", pctx.Namespace),
			zap.String("key", pctx.Key))
		decision.ShouldPromote = false
	}

	if decision.ShouldPromote && decision.EstimatedLifespan < MinTTL {
		decision.EstimatedLifespan = MinTTL
	}

	e.mu.Lock()
	e.stats.Evaluated++
	if noHeadroom {
		e.stats.NoHeadroom++
	}
	if decision.ShouldPromote {
		e.stats.Promoted++
		e.countStrategy(strategy)
	} else {
		e.stats.Skipped++
	}
	e.mu.Unlock()
	return decision
}

// selectStrategy picks the strategy ladder rung, in priority order
func (e *Engine) selectStrategy(pctx Context) Strategy {
	ns := pctx.NamespaceConfig
	if ns.Priority == "high" || matchesAny(pctx.Key, ns.RealtimePatterns) {
		return StrategyImmediate
	}
	if pctx.AccessCount > 3 {
		return StrategyConditional
	}
	if matchesAny(pctx.Key, ns.PredictivePatterns) {
		return StrategyPredictive
	}
	return StrategyLazy
}

func (e *Engine) applyStrategy(strategy Strategy, pctx Context) Decision {
	ns := pctx.NamespaceConfig
	ttl := ns.L1TTL
	if ttl <= 0 {
		ttl = config.DefaultNamespace().L1TTL
	}

	switch strategy {
	case StrategyImmediate:
		return Decision{
			ShouldPromote:     true,
			Strategy:          strategy,
			Priority:          100,
			EstimatedLifespan: ttl,
		}

	case StrategyConditional:
		if pctx.AccessCount >= 2 {
			return Decision{
				ShouldPromote:     true,
				Strategy:          strategy,
				Priority:          70,
				EstimatedLifespan: time.Duration(0.8 * float64(ttl)),
			}
		}
		if ns.Priority == "medium" {
			return Decision{
				ShouldPromote:     true,
				Strategy:          strategy,
				Priority:          50,
				EstimatedLifespan: time.Duration(0.3 * float64(ttl)),
			}
		}
		return Decision{Strategy: strategy}

	case StrategyLazy:
		if pctx.AccessCount >= 3 && !pctx.FirstAccessAt.IsZero() &&
			time.Since(pctx.FirstAccessAt) > time.Minute {
			return Decision{
				ShouldPromote:     true,
				Strategy:          strategy,
				Priority:          30,
				EstimatedLifespan: time.Duration(0.6 * float64(ttl)),
			}
		}
		return Decision{Strategy: strategy}

	case StrategyPredictive:
		score := e.usefulnessScore(pctx)
		if score > 0.5 {
			return Decision{
				ShouldPromote:     true,
				Strategy:          strategy,
				Priority:          int(score * 100),
				EstimatedLifespan: time.Duration(score * float64(ttl)),
			}
		}
		return Decision{Strategy: strategy}
	}
	return Decision{Strategy: strategy}
}

// usefulnessScore estimates, in [0,1], how likely the value is to be read
// again soon. Base 0.5, frequency weight 0.3, namespace bonus, recency
// weight 0.1 within a 5-minute window.
func (e *Engine) usefulnessScore(pctx Context) float64 {
	score := 0.5

	freq := float64(pctx.AccessCount) / 10.0
	if freq > 1 {
		freq = 1
	}
	score += 0.3 * freq

	switch {
	case strings.Contains(pctx.Namespace, "reports"):
		score += 0.25
	case strings.Contains(pctx.Namespace, "market"):
		score += 0.2
	case strings.Contains(pctx.Namespace, "sentiment"):
		score += 0.15
	case strings.Contains(pctx.Namespace, "ai"):
		score += 0.1
	}

	if !pctx.LastAccessAt.IsZero() {
		elapsed := time.Since(pctx.LastAccessAt)
		if elapsed < 5*time.Minute {
			score += 0.1 * (1 - float64(elapsed)/float64(5*time.Minute))
		}
	}

	if score > 1 {
		score = 1
	}
	return score
}

// hasHeadroom checks both tier budgets at the 80% threshold before
// admitting the candidate
func (e *Engine) hasHeadroom(pctx Context) bool {
	if e.reporter == nil {
		return true
	}
	ns := pctx.NamespaceConfig
	def := config.DefaultNamespace()
	maxMemoryMB := ns.MaxMemoryMB
	if maxMemoryMB <= 0 {
		maxMemoryMB = def.MaxMemoryMB
	}
	maxEntries := ns.MaxEntries
	if maxEntries <= 0 {
		maxEntries = def.MaxEntries
	}

	currentMB := float64(e.reporter.MemoryBytes()) / (1024 * 1024)
	dataMB := float64(pctx.SizeBytes) / (1024 * 1024)
	if currentMB+dataMB > headroomRatio*float64(maxMemoryMB) {
		return false
	}
	if float64(e.reporter.EntryCount()) >= headroomRatio*float64(maxEntries) {
		return false
	}
	return true
}

func (e *Engine) countStrategy(strategy Strategy) {
	switch strategy {
	case StrategyImmediate:
		e.stats.ByImmediate++
	case StrategyConditional:
		e.stats.ByCondition++
	case StrategyLazy:
		e.stats.ByLazy++
	case StrategyPredictive:
		e.stats.ByPredict++
	}
}

// Stats returns a copy of the engine's counters
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

func matchesAny(key string, patterns []string) bool {
	for _, pattern := range patterns {
		if pattern != "" && strings.Contains(key, pattern) {
			return true
		}
	}
	return false
}
