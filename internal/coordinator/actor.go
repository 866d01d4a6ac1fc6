// Package coordinator implements the serialized single-writer tier (L0).
// One goroutine owns all canonical state; every read and mutation travels
// as a request message and is answered on a reply channel, so per-key
// operations are serialized by construction. Rate-limit check-and-record
// runs inside the same loop, which is what makes it atomic across
// concurrently running caller processes.
package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/tiercache/tiercache/internal/ratelimit"
	"github.com/tiercache/tiercache/pkg/errors"
	"github.com/tiercache/tiercache/pkg/types"
)

// Config represents coordinator configuration
type Config struct {
	SnapshotPath     string        `yaml:"snapshot_path"`
	SnapshotInterval time.Duration `yaml:"snapshot_interval"`
	SweepInterval    time.Duration `yaml:"sweep_interval"`
	WindowMaxAge     time.Duration `yaml:"window_max_age"`
	RequestBuffer    int           `yaml:"request_buffer"`
}

// Stats tracks coordinator activity
type Stats struct {
	Requests    uint64 `json:"requests"`
	Entries     int    `json:"entries"`
	RateWindows int    `json:"rate_windows"`
	Sweeps      uint64 `json:"sweeps"`
	Snapshots   uint64 `json:"snapshots"`
}

type kvEntry struct {
	Data      []byte    `json:"data"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

type opType int

const (
	opGet opType = iota
	opPut
	opDelete
	opClear
	opRateCheck
	opRateReset
	opRateStats
	opStats
)

type request struct {
	op   opType
	key  string
	data []byte
	ttl  time.Duration

	identifier  string
	maxRequests int
	window      time.Duration

	sampleLimit int

	reply chan response
}

type response struct {
	data     []byte
	found    bool
	decision types.RateLimitDecision
	entries  int
	samples  []string
	stats    Stats
	err      error
}

// Actor is the single-writer coordinator. All exported methods are safe for
// concurrent use; they only enqueue messages and wait for the reply.
type Actor struct {
	config   *Config
	logger   *zap.Logger
	requests chan request
	stopCh   chan struct{}
	done     chan struct{}

	// Owned exclusively by the run loop.
	entries map[string]*kvEntry
	limits  *ratelimit.Table
	stats   Stats
}

type snapshot struct {
	Entries map[string]*kvEntry `json:"entries"`
	Windows []*ratelimit.Window `json:"windows"`
	SavedAt time.Time           `json:"saved_at"`
}

// NewActor creates a coordinator actor and restores any snapshot on disk
func NewActor(config *Config, logger *zap.Logger) (*Actor, error) {
	if config == nil {
		config = &Config{}
	}
	if config.SnapshotInterval <= 0 {
		config.SnapshotInterval = time.Minute
	}
	if config.SweepInterval <= 0 {
		config.SweepInterval = 30 * time.Second
	}
	if config.WindowMaxAge <= 0 {
		config.WindowMaxAge = time.Hour
	}
	if config.RequestBuffer <= 0 {
		config.RequestBuffer = 256
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	a := &Actor{
		config:   config,
		logger:   logger,
		requests: make(chan request, config.RequestBuffer),
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
		entries:  make(map[string]*kvEntry),
		limits:   ratelimit.NewTable(),
	}

	if err := a.loadSnapshot(); err != nil {
		return nil, fmt.Errorf("failed to load coordinator snapshot: %w", err)
	}

	go a.run()

	return a, nil
}

// Get returns the value for key, or (nil, nil) on a miss
func (a *Actor) Get(ctx context.Context, key string) ([]byte, error) {
	resp, err := a.send(ctx, request{op: opGet, key: key})
	if err != nil {
		return nil, err
	}
	if !resp.found {
		return nil, nil
	}
	return resp.data, nil
}

// Put stores a value with a TTL
func (a *Actor) Put(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	_, err := a.send(ctx, request{op: opPut, key: key, data: data, ttl: ttl})
	return err
}

// Delete removes a key
func (a *Actor) Delete(ctx context.Context, key string) error {
	_, err := a.send(ctx, request{op: opDelete, key: key})
	return err
}

// Clear removes all entries with the given prefix; an empty prefix clears everything
func (a *Actor) Clear(ctx context.Context, prefix string) error {
	_, err := a.send(ctx, request{op: opClear, key: prefix})
	return err
}

// CheckRate atomically prunes, checks and records one request for the identifier
func (a *Actor) CheckRate(ctx context.Context, identifier string, maxRequests int, window time.Duration) (types.RateLimitDecision, error) {
	resp, err := a.send(ctx, request{
		op:          opRateCheck,
		identifier:  identifier,
		maxRequests: maxRequests,
		window:      window,
	})
	if err != nil {
		return types.RateLimitDecision{}, err
	}
	return resp.decision, nil
}

// ResetRate discards the sliding window for an identifier
func (a *Actor) ResetRate(ctx context.Context, identifier string) (bool, error) {
	resp, err := a.send(ctx, request{op: opRateReset, identifier: identifier})
	if err != nil {
		return false, err
	}
	return resp.found, nil
}

// RateStats returns the window count and up to limit sampled identifiers
func (a *Actor) RateStats(ctx context.Context, limit int) (int, []string, error) {
	resp, err := a.send(ctx, request{op: opRateStats, sampleLimit: limit})
	if err != nil {
		return 0, nil, err
	}
	return resp.entries, resp.samples, nil
}

// Stats returns a copy of coordinator activity counters
func (a *Actor) Stats(ctx context.Context) (Stats, error) {
	resp, err := a.send(ctx, request{op: opStats})
	if err != nil {
		return Stats{}, err
	}
	return resp.stats, nil
}

// Stop shuts the actor down after writing a final snapshot
func (a *Actor) Stop() {
	select {
	case <-a.stopCh:
		return
	default:
	}
	close(a.stopCh)
	<-a.done
}

func (a *Actor) send(ctx context.Context, req request) (response, error) {
	req.reply = make(chan response, 1)

	select {
	case a.requests <- req:
	case <-a.stopCh:
		return response{}, errors.NewError(errors.ErrCodeComponentStopped, "coordinator stopped").WithComponent("coordinator")
	case <-ctx.Done():
		return response{}, ctx.Err()
	}

	select {
	case resp := <-req.reply:
		return resp, resp.err
	case <-ctx.Done():
		return response{}, ctx.Err()
	}
}

// run is the single-writer loop. Nothing else touches entries or limits.
func (a *Actor) run() {
	defer close(a.done)

	sweep := time.NewTicker(a.config.SweepInterval)
	defer sweep.Stop()
	persist := time.NewTicker(a.config.SnapshotInterval)
	defer persist.Stop()

	for {
		select {
		case <-a.stopCh:
			a.drain()
			a.writeSnapshot()
			return
		case <-sweep.C:
			a.sweepExpired()
		case <-persist.C:
			a.writeSnapshot()
		case req := <-a.requests:
			req.reply <- a.handle(req)
		}
	}
}

// drain answers requests already queued at shutdown so no caller hangs
func (a *Actor) drain() {
	for {
		select {
		case req := <-a.requests:
			req.reply <- a.handle(req)
		default:
			return
		}
	}
}

func (a *Actor) handle(req request) response {
	a.stats.Requests++
	now := time.Now()

	switch req.op {
	case opGet:
		entry, exists := a.entries[req.key]
		if !exists || now.After(entry.ExpiresAt) {
			if exists {
				delete(a.entries, req.key)
			}
			return response{found: false}
		}
		data := make([]byte, len(entry.Data))
		copy(data, entry.Data)
		return response{data: data, found: true}

	case opPut:
		ttl := req.ttl
		if ttl <= 0 {
			ttl = time.Hour
		}
		data := make([]byte, len(req.data))
		copy(data, req.data)
		a.entries[req.key] = &kvEntry{
			Data:      data,
			CreatedAt: now,
			ExpiresAt: now.Add(ttl),
		}
		return response{}

	case opDelete:
		delete(a.entries, req.key)
		return response{}

	case opClear:
		if req.key == "" {
			a.entries = make(map[string]*kvEntry)
			return response{}
		}
		for key := range a.entries {
			if strings.HasPrefix(key, req.key) {
				delete(a.entries, key)
			}
		}
		return response{}

	case opRateCheck:
		return response{decision: a.limits.Check(req.identifier, req.maxRequests, req.window, now)}

	case opRateReset:
		return response{found: a.limits.Reset(req.identifier)}

	case opRateStats:
		limit := req.sampleLimit
		if limit <= 0 {
			limit = 10
		}
		entries, samples := a.limits.Stats(limit)
		return response{entries: entries, samples: samples}

	case opStats:
		stats := a.stats
		stats.Entries = len(a.entries)
		stats.RateWindows, _ = a.limits.Stats(0)
		return response{stats: stats}

	default:
		return response{err: errors.NewError(errors.ErrCodeInternalError, "unknown coordinator operation")}
	}
}

func (a *Actor) sweepExpired() {
	now := time.Now()
	removed := 0
	for key, entry := range a.entries {
		if now.After(entry.ExpiresAt) {
			delete(a.entries, key)
			removed++
		}
	}
	pruned := a.limits.PruneStale(now, a.config.WindowMaxAge)
	a.stats.Sweeps++

	if removed > 0 || pruned > 0 {
		a.logger.Debug("coordinator sweep",
			zap.Int("expired_entries", removed),
			zap.Int("pruned_windows", pruned))
	}
}

func (a *Actor) loadSnapshot() error {
	if a.config.SnapshotPath == "" {
		return nil
	}

	data, err := os.ReadFile(a.config.SnapshotPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		// A corrupt snapshot is not fatal; start empty rather than crash.
		a.logger.Error("corrupt coordinator snapshot, starting empty",
			zap.String("path", a.config.SnapshotPath),
			zap.Error(err))
		return nil
	}

	now := time.Now()
	for key, entry := range snap.Entries {
		if entry != nil && now.Before(entry.ExpiresAt) {
			a.entries[key] = entry
		}
	}
	a.limits.Restore(snap.Windows)

	a.logger.Info("coordinator snapshot restored",
		zap.Int("entries", len(a.entries)),
		zap.Time("saved_at", snap.SavedAt))
	return nil
}

func (a *Actor) writeSnapshot() {
	if a.config.SnapshotPath == "" {
		return
	}

	snap := snapshot{
		Entries: a.entries,
		Windows: a.limits.Snapshot(),
		SavedAt: time.Now(),
	}

	data, err := json.Marshal(&snap)
	if err != nil {
		a.logger.Error("failed to marshal coordinator snapshot", zap.Error(err))
		return
	}

	// Write-then-rename so a crash mid-write never corrupts the snapshot.
	tmp := a.config.SnapshotPath + ".tmp"
	if err := os.MkdirAll(filepath.Dir(a.config.SnapshotPath), 0750); err != nil {
		a.logger.Error("failed to create snapshot directory", zap.Error(err))
		return
	}
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		a.logger.Error("failed to write coordinator snapshot", zap.Error(err))
		return
	}
	if err := os.Rename(tmp, a.config.SnapshotPath); err != nil {
		a.logger.Error("failed to replace coordinator snapshot", zap.Error(err))
		return
	}
	a.stats.Snapshots++
}
