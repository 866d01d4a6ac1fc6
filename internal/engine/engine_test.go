package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/tiercache/tiercache/internal/config"
	tcerrors "github.com/tiercache/tiercache/pkg/errors"
	"github.com/tiercache/tiercache/pkg/types"
)

type fakeBackend struct {
	mu       sync.Mutex
	data     map[string][]byte
	gets     int
	puts     int
	deletes  int
	failGets bool
	corrupt  bool // Put stores a different value, for verification tests
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{data: make(map[string][]byte)}
}

func (f *fakeBackend) Get(ctx context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	if f.failGets {
		return nil, fmt.Errorf("backend down")
	}
	return f.data[key], nil
}

func (f *fakeBackend) Put(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.puts++
	stored := make([]byte, len(data))
	copy(stored, data)
	if f.corrupt {
		stored = append(stored, '!')
	}
	f.data[key] = stored
	return nil
}

func (f *fakeBackend) Delete(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes++
	delete(f.data, key)
	return nil
}

func (f *fakeBackend) List(ctx context.Context, prefix, cursor string) (types.ListResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var keys []string
	for key := range f.data {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return types.ListResult{Keys: keys, Complete: true}, nil
}

func (f *fakeBackend) Clear(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data = make(map[string][]byte)
	return nil
}

func (f *fakeBackend) Health(ctx context.Context) (types.HealthStatus, error) {
	return types.HealthStatus{Healthy: true, CheckedAt: time.Now()}, nil
}

func (f *fakeBackend) Capabilities() types.Capabilities {
	return types.Capabilities{List: true, Clear: true}
}

func (f *fakeBackend) Name() string { return "fake" }

func (f *fakeBackend) getCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.gets
}

func testConfig() *config.Configuration {
	cfg := config.NewDefault()
	cfg.Prefetch.Enabled = false
	cfg.Namespaces["market"] = config.NamespaceConfig{
		L1TTL:       time.Minute,
		Priority:    "high",
		MaxMemoryMB: 64,
		MaxEntries:  10000,
	}
	return cfg
}

func newTestEngine(t *testing.T, backend types.Backend) *Engine {
	t.Helper()
	e, err := New(testConfig(), backend, &Options{Logger: zap.NewNop()})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	t.Cleanup(func() { e.Close() })
	return e
}

func TestNewRequiresBackend(t *testing.T) {
	if _, err := New(testConfig(), nil, nil); err == nil {
		t.Error("New() should fail without a backend")
	}
}

func TestWriteThenReadFromL1(t *testing.T) {
	backend := newFakeBackend()
	e := newTestEngine(t, backend)
	ctx := context.Background()

	ok, err := e.Write(ctx, "market:quote:AAPL", []byte("190.25"), WriteOptions{})
	if err != nil || !ok {
		t.Fatalf("Write() = %v, %v", ok, err)
	}

	result, err := e.Read(ctx, "market:quote:AAPL", ReadOptions{})
	if err != nil {
		t.Fatalf("Read() error: %v", err)
	}
	if !result.Success {
		t.Fatal("Read() should succeed after Write()")
	}
	if string(result.Data) != "190.25" {
		t.Errorf("Data = %q, want %q", result.Data, "190.25")
	}
	if result.Source != types.SourceL1 {
		t.Errorf("Source = %s, want l1", result.Source)
	}
	if !result.Cached {
		t.Error("L1 read should report cached")
	}
}

func TestReadMissWithoutOrigin(t *testing.T) {
	e := newTestEngine(t, newFakeBackend())

	result, err := e.Read(context.Background(), "market:quote:MSFT", ReadOptions{})
	if err != nil {
		t.Fatalf("Read() error: %v", err)
	}
	if result.Success {
		t.Error("full miss without origin should report unsuccessful, not error")
	}
}

func TestMissDoesNotMaskLaterOriginRead(t *testing.T) {
	e := newTestEngine(t, newFakeBackend())
	ctx := context.Background()

	result, err := e.Read(ctx, "reports:weekly:7", ReadOptions{})
	if err != nil {
		t.Fatalf("Read() error: %v", err)
	}
	if result.Success {
		t.Fatal("full miss without origin should report unsuccessful")
	}
	if result.Data != nil {
		t.Fatalf("miss must carry nil data, got %v bytes", len(result.Data))
	}

	// The miss must not linger anywhere: a follow-up read that does supply
	// an origin has to reach it.
	var calls int64
	result, err = e.Read(ctx, "reports:weekly:7", ReadOptions{
		Origin: func(ctx context.Context) ([]byte, error) {
			atomic.AddInt64(&calls, 1)
			return []byte("built"), nil
		},
	})
	if err != nil {
		t.Fatalf("second Read() error: %v", err)
	}
	if atomic.LoadInt64(&calls) != 1 {
		t.Fatalf("origin calls = %d, want 1", calls)
	}
	if !result.Success || string(result.Data) != "built" {
		t.Errorf("result = %+v, want origin value", result)
	}
	if result.Source != types.SourceOrigin {
		t.Errorf("Source = %s, want origin", result.Source)
	}
}

func TestReadFromStorePromotesHighPriority(t *testing.T) {
	backend := newFakeBackend()
	backend.data["market:quote:AAPL"] = []byte("190.25")
	e := newTestEngine(t, backend)
	ctx := context.Background()

	result, err := e.Read(ctx, "market:quote:AAPL", ReadOptions{})
	if err != nil {
		t.Fatalf("Read() error: %v", err)
	}
	if result.Source != types.SourceL2 {
		t.Errorf("Source = %s, want l2", result.Source)
	}

	// High-priority namespace promotes immediately, so the second read
	// must come from L1 without touching the store again.
	before := backend.getCount()
	result, err = e.Read(ctx, "market:quote:AAPL", ReadOptions{ForceRefresh: true})
	if err != nil {
		t.Fatalf("second Read() error: %v", err)
	}
	if result.Source != types.SourceL1 {
		t.Errorf("second read Source = %s, want l1", result.Source)
	}
	if backend.getCount() != before {
		t.Error("promoted entry should not hit the store again")
	}
}

func TestOriginFetchOnFullMiss(t *testing.T) {
	backend := newFakeBackend()
	e := newTestEngine(t, backend)
	ctx := context.Background()

	var calls int64
	origin := func(ctx context.Context) ([]byte, error) {
		atomic.AddInt64(&calls, 1)
		return []byte("fresh"), nil
	}

	result, err := e.Read(ctx, "reports:daily:1", ReadOptions{Origin: origin})
	if err != nil {
		t.Fatalf("Read() error: %v", err)
	}
	if !result.Success || string(result.Data) != "fresh" {
		t.Fatalf("result = %+v", result)
	}
	if result.Source != types.SourceOrigin {
		t.Errorf("Source = %s, want origin", result.Source)
	}
	if result.Cached {
		t.Error("origin fetch should not report cached")
	}
	if atomic.LoadInt64(&calls) != 1 {
		t.Errorf("origin calls = %d, want 1", calls)
	}

	// The origin result warms the durable tier off the read path.
	e.batch.FlushAll()
	if backend.data["reports:daily:1"] == nil {
		t.Error("origin result should be written through to the store")
	}
}

func TestConcurrentReadsCoalesce(t *testing.T) {
	e := newTestEngine(t, newFakeBackend())
	ctx := context.Background()

	var calls int64
	origin := func(ctx context.Context) ([]byte, error) {
		atomic.AddInt64(&calls, 1)
		time.Sleep(50 * time.Millisecond)
		return []byte("once"), nil
	}

	var wg sync.WaitGroup
	results := make([]types.ReadResult, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, err := e.Read(ctx, "sentiment:acme", ReadOptions{Origin: origin})
			if err != nil {
				t.Errorf("Read() error: %v", err)
				return
			}
			results[i] = r
		}(i)
	}
	wg.Wait()

	if n := atomic.LoadInt64(&calls); n != 1 {
		t.Errorf("origin calls = %d, want 1 for coalesced reads", n)
	}
	for i, r := range results {
		if !r.Success || string(r.Data) != "once" {
			t.Errorf("result[%d] = %+v", i, r)
		}
	}
}

func TestCircuitOpensAfterOriginFailures(t *testing.T) {
	e := newTestEngine(t, newFakeBackend())
	ctx := context.Background()

	var calls int64
	origin := func(ctx context.Context) ([]byte, error) {
		atomic.AddInt64(&calls, 1)
		return nil, fmt.Errorf("origin down")
	}

	// Each read uses a distinct key so nothing coalesces or caches.
	for i := 0; i < 5; i++ {
		_, err := e.Read(ctx, fmt.Sprintf("reports:r%d", i), ReadOptions{Origin: origin})
		if err == nil {
			t.Fatalf("read %d should fail", i)
		}
	}

	before := atomic.LoadInt64(&calls)
	_, err := e.Read(ctx, "reports:r-next", ReadOptions{Origin: origin})
	if err == nil {
		t.Fatal("read with open breaker should fail")
	}
	if !tcerrors.IsCode(err, tcerrors.ErrCodeCircuitOpen) {
		t.Errorf("error = %v, want circuit open", err)
	}
	if atomic.LoadInt64(&calls) != before {
		t.Error("open breaker must reject without invoking the origin")
	}
}

func TestBreakerIsolatedPerNamespace(t *testing.T) {
	e := newTestEngine(t, newFakeBackend())
	ctx := context.Background()

	failing := func(ctx context.Context) ([]byte, error) {
		return nil, fmt.Errorf("down")
	}
	for i := 0; i < 5; i++ {
		e.Read(ctx, fmt.Sprintf("reports:r%d", i), ReadOptions{Origin: failing})
	}

	// A different namespace has its own breaker and still reaches its origin.
	result, err := e.Read(ctx, "sentiment:ok", ReadOptions{
		Origin: func(ctx context.Context) ([]byte, error) { return []byte("v"), nil },
	})
	if err != nil {
		t.Fatalf("Read() error: %v", err)
	}
	if !result.Success {
		t.Error("healthy namespace should not be affected by another's breaker")
	}
}

func TestWriteVerify(t *testing.T) {
	backend := newFakeBackend()
	e := newTestEngine(t, backend)
	ctx := context.Background()

	ok, err := e.Write(ctx, "market:quote:AAPL", []byte("190.25"), WriteOptions{Verify: true})
	if err != nil {
		t.Fatalf("Write() error: %v", err)
	}
	if !ok {
		t.Error("verified write should succeed")
	}

	backend.corrupt = true
	ok, err = e.Write(ctx, "market:quote:MSFT", []byte("410.10"), WriteOptions{Verify: true})
	if err != nil {
		t.Fatalf("Write() with mismatch should not error, got %v", err)
	}
	if ok {
		t.Error("read-back mismatch should report false")
	}
}

func TestInvalidate(t *testing.T) {
	backend := newFakeBackend()
	backend.data["market:quote:AAPL"] = []byte("1")
	backend.data["market:quote:MSFT"] = []byte("2")
	backend.data["reports:daily:1"] = []byte("3")
	e := newTestEngine(t, backend)
	ctx := context.Background()

	// Warm L1 with one of them.
	if _, err := e.Read(ctx, "market:quote:AAPL", ReadOptions{}); err != nil {
		t.Fatal(err)
	}

	count, err := e.Invalidate(ctx, "market:")
	if err != nil {
		t.Fatalf("Invalidate() error: %v", err)
	}
	// One L1 entry plus two store keys.
	if count != 3 {
		t.Errorf("count = %d, want 3", count)
	}
	if backend.data["market:quote:AAPL"] != nil || backend.data["market:quote:MSFT"] != nil {
		t.Error("store entries with the prefix should be deleted")
	}
	if backend.data["reports:daily:1"] == nil {
		t.Error("entries outside the prefix must survive")
	}

	result, err := e.Read(ctx, "market:quote:AAPL", ReadOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if result.Success {
		t.Error("invalidated key should miss")
	}
}

func TestReadObjectMalformedPayloadIsMiss(t *testing.T) {
	backend := newFakeBackend()
	backend.data["reports:daily:1"] = []byte("{not json")
	e := newTestEngine(t, backend)

	var v struct{ Total int }
	result, err := e.ReadObject(context.Background(), "reports:daily:1", &v, ReadOptions{})
	if err != nil {
		t.Fatalf("malformed payload must not surface an error, got %v", err)
	}
	if result.Success {
		t.Error("malformed payload should be treated as a miss")
	}
}

func TestObjectRoundTrip(t *testing.T) {
	e := newTestEngine(t, newFakeBackend())
	ctx := context.Background()

	type report struct {
		Total int    `json:"total"`
		Name  string `json:"name"`
	}

	ok, err := e.WriteObject(ctx, "reports:daily:2", report{Total: 42, Name: "daily"}, WriteOptions{})
	if err != nil || !ok {
		t.Fatalf("WriteObject() = %v, %v", ok, err)
	}

	var got report
	result, err := e.ReadObject(ctx, "reports:daily:2", &got, ReadOptions{})
	if err != nil {
		t.Fatalf("ReadObject() error: %v", err)
	}
	if !result.Success {
		t.Fatal("ReadObject() should hit")
	}
	if got.Total != 42 || got.Name != "daily" {
		t.Errorf("got = %+v", got)
	}
}

func TestStaleServe(t *testing.T) {
	cfg := testConfig()
	cfg.Memory.GracePeriod = time.Minute
	cfg.Namespaces["fast"] = config.NamespaceConfig{L1TTL: 20 * time.Millisecond, Priority: "medium"}
	backend := newFakeBackend()
	e, err := New(cfg, backend, &Options{Logger: zap.NewNop()})
	if err != nil {
		t.Fatal(err)
	}
	defer e.Close()
	ctx := context.Background()

	if _, err := e.Write(ctx, "fast:k1", []byte("v1"), WriteOptions{}); err != nil {
		t.Fatal(err)
	}

	time.Sleep(50 * time.Millisecond)

	// TTL passed, grace window active: the stale value is served.
	result, err := e.Read(ctx, "fast:k1", ReadOptions{})
	if err != nil {
		t.Fatalf("Read() error: %v", err)
	}
	if !result.Success || string(result.Data) != "v1" {
		t.Fatalf("stale read = %+v, want v1", result)
	}
	if result.Source != types.SourceL1 {
		t.Errorf("Source = %s, want l1", result.Source)
	}
}

func TestStats(t *testing.T) {
	e := newTestEngine(t, newFakeBackend())
	ctx := context.Background()

	e.Write(ctx, "market:quote:AAPL", []byte("1"), WriteOptions{})
	e.Read(ctx, "market:quote:AAPL", ReadOptions{})
	e.Read(ctx, "market:quote:GOOG", ReadOptions{})

	stats := e.Stats()
	if stats.L1.Hits != 1 {
		t.Errorf("L1.Hits = %d, want 1", stats.L1.Hits)
	}
	if stats.L1.Misses != 1 {
		t.Errorf("L1.Misses = %d, want 1", stats.L1.Misses)
	}
	if stats.Dedup.TotalRequests != 2 {
		t.Errorf("Dedup.TotalRequests = %d, want 2", stats.Dedup.TotalRequests)
	}
}

func TestHealth(t *testing.T) {
	e := newTestEngine(t, newFakeBackend())

	health, err := e.Health(context.Background())
	if err != nil {
		t.Fatalf("Health() error: %v", err)
	}
	if !health.Healthy {
		t.Error("fake backend should report healthy")
	}
}
