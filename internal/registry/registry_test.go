package registry

import (
	"bytes"
	"context"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"modelswitch/internal/model"
	"modelswitch/internal/store"
)

// artifactBytes encodes p into artifact wire form.
func artifactBytes(t *testing.T, p model.Predictor) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := model.Encode(&buf, p); err != nil {
		t.Fatalf("encode artifact: %v", err)
	}
	return buf.Bytes()
}

// countingStore wraps a Store, counts Open calls, and can gate them so tests
// control when a load completes.
type countingStore struct {
	inner store.Store
	opens atomic.Int32
	gate  chan struct{}
}

func (c *countingStore) Exists(ctx context.Context, v string) (bool, error) {
	return c.inner.Exists(ctx, v)
}

func (c *countingStore) Open(ctx context.Context, v string) (io.ReadCloser, error) {
	c.opens.Add(1)
	if c.gate != nil {
		<-c.gate
	}
	return c.inner.Open(ctx, v)
}

func (c *countingStore) Stat(ctx context.Context, v string) (store.Info, error) {
	return c.inner.Stat(ctx, v)
}

func (c *countingStore) List(ctx context.Context) ([]string, error) {
	return c.inner.List(ctx)
}

func newMemWith(t *testing.T, versions ...string) *store.MemStore {
	t.Helper()
	mem := store.NewMemStore()
	for i, v := range versions {
		mem.Put(v, artifactBytes(t, &model.Linear{Intercept: float64(i), Coefficients: []float64{1, 2}}))
	}
	return mem
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("condition not reached in time")
}

func TestResolveCachesInstance(t *testing.T) {
	cs := &countingStore{inner: newMemWith(t, "v1")}
	r := New(cs, Config{DefaultVersion: "v1"})
	ctx := context.Background()

	p1, used, err := r.Resolve(ctx, "")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if used != "v1" {
		t.Fatalf("expected v1, got %s", used)
	}
	p2, _, err := r.Resolve(ctx, "v1")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if p1 != p2 {
		t.Fatalf("expected the same cached instance")
	}
	if n := cs.opens.Load(); n != 1 {
		t.Fatalf("expected 1 load, got %d", n)
	}
	if _, ok := r.LoadDuration("v1"); !ok {
		t.Fatalf("expected load duration recorded")
	}
}

func TestResolveUnknownVersion(t *testing.T) {
	r := New(newMemWith(t, "v1"), Config{DefaultVersion: "v1"})
	ctx := context.Background()

	_, _, err := r.Resolve(ctx, "v9")
	if err == nil || !IsVersionNotFound(err) {
		t.Fatalf("expected version not found, got %v", err)
	}
	if r.IsLoaded("v9") {
		t.Fatalf("missing version must not be cached")
	}
	known, err := r.KnownVersions(ctx)
	if err != nil {
		t.Fatalf("known versions: %v", err)
	}
	for _, v := range known {
		if v == "v9" {
			t.Fatalf("v9 must not be listed")
		}
	}
}

func TestConcurrentResolveSingleFlight(t *testing.T) {
	cs := &countingStore{inner: newMemWith(t, "v1"), gate: make(chan struct{})}
	r := New(cs, Config{DefaultVersion: "v1"})

	const n = 8
	var ready, done sync.WaitGroup
	results := make([]model.Predictor, n)
	errs := make([]error, n)
	ready.Add(n)
	done.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer done.Done()
			ready.Done()
			results[i], _, errs[i] = r.Resolve(context.Background(), "v1")
		}(i)
	}
	ready.Wait()
	waitFor(t, func() bool { return cs.opens.Load() >= 1 })
	// Give the remaining callers time to join the in-flight load.
	time.Sleep(20 * time.Millisecond)
	close(cs.gate)
	done.Wait()

	if n := cs.opens.Load(); n != 1 {
		t.Fatalf("expected exactly 1 underlying load, got %d", n)
	}
	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if results[i] != results[0] {
			t.Fatalf("caller %d got a different instance", i)
		}
	}
}

func TestConcurrentResolveSharedFailure(t *testing.T) {
	mem := store.NewMemStore()
	mem.Put("v1", []byte("corrupt artifact"))
	cs := &countingStore{inner: mem, gate: make(chan struct{})}
	r := New(cs, Config{DefaultVersion: "v1"})

	const n = 5
	var ready, done sync.WaitGroup
	errs := make([]error, n)
	ready.Add(n)
	done.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer done.Done()
			ready.Done()
			_, _, errs[i] = r.Resolve(context.Background(), "v1")
		}(i)
	}
	ready.Wait()
	waitFor(t, func() bool { return cs.opens.Load() >= 1 })
	time.Sleep(20 * time.Millisecond)
	close(cs.gate)
	done.Wait()

	for i := 0; i < n; i++ {
		if !IsLoadFailed(errs[i]) {
			t.Fatalf("caller %d: expected load failure, got %v", i, errs[i])
		}
	}
	if r.IsLoaded("v1") {
		t.Fatalf("failed load must not be cached")
	}
}

func TestLoadFailureRetriesAfterFix(t *testing.T) {
	mem := store.NewMemStore()
	mem.Put("v1", []byte("corrupt artifact"))
	r := New(mem, Config{DefaultVersion: "v1"})
	ctx := context.Background()

	_, _, err := r.Resolve(ctx, "v1")
	if !IsLoadFailed(err) {
		t.Fatalf("expected load failure, got %v", err)
	}
	if r.IsLoaded("v1") {
		t.Fatalf("failed load must not poison the cache")
	}

	mem.Put("v1", artifactBytes(t, &model.Linear{Coefficients: []float64{1}}))
	p, _, err := r.Resolve(ctx, "v1")
	if err != nil {
		t.Fatalf("resolve after fix: %v", err)
	}
	if p == nil || !r.IsLoaded("v1") {
		t.Fatalf("expected cached instance after fix")
	}
}

func TestSetActiveValidation(t *testing.T) {
	r := New(newMemWith(t, "v1", "v2"), Config{DefaultVersion: "v1"})
	ctx := context.Background()

	if err := r.SetActive(ctx, "v3"); err == nil || !IsVersionNotFound(err) {
		t.Fatalf("expected version not found, got %v", err)
	}
	if got := r.Active(); got != "v1" {
		t.Fatalf("active pointer must be unchanged, got %s", got)
	}

	if err := r.SetActive(ctx, "v2"); err != nil {
		t.Fatalf("set active: %v", err)
	}
	if got := r.Active(); got != "v2" {
		t.Fatalf("expected v2 active, got %s", got)
	}
}

// Scenario from the service contract: lazy loads, a successful switch, and a
// rejected switch to a version without storage.
func TestSwitchScenario(t *testing.T) {
	r := New(newMemWith(t, "v1", "v2"), Config{DefaultVersion: "v1"})
	ctx := context.Background()

	_, used, err := r.Resolve(ctx, "")
	if err != nil || used != "v1" {
		t.Fatalf("resolve default: used=%s err=%v", used, err)
	}
	if !r.IsLoaded("v1") || r.IsLoaded("v2") {
		t.Fatalf("cache should hold exactly v1")
	}

	if err := r.SetActive(ctx, "v2"); err != nil {
		t.Fatalf("set active v2: %v", err)
	}
	_, used, err = r.Resolve(ctx, "")
	if err != nil || used != "v2" {
		t.Fatalf("resolve after switch: used=%s err=%v", used, err)
	}
	if !r.IsLoaded("v1") || !r.IsLoaded("v2") {
		t.Fatalf("cache should hold v1 and v2")
	}

	if err := r.SetActive(ctx, "v3"); !IsVersionNotFound(err) {
		t.Fatalf("expected version not found, got %v", err)
	}
	if got := r.Active(); got != "v2" {
		t.Fatalf("active must stay v2, got %s", got)
	}
}

func TestSwitchDuringInFlightResolve(t *testing.T) {
	cs := &countingStore{inner: newMemWith(t, "v1", "v2"), gate: make(chan struct{})}
	r := New(cs, Config{DefaultVersion: "v1"})

	type result struct {
		used string
		err  error
	}
	resCh := make(chan result, 1)
	go func() {
		_, used, err := r.Resolve(context.Background(), "")
		resCh <- result{used: used, err: err}
	}()
	waitFor(t, func() bool { return cs.opens.Load() >= 1 })

	// SetActive only probes existence; it must not wait on the gated load.
	if err := r.SetActive(context.Background(), "v2"); err != nil {
		t.Fatalf("set active: %v", err)
	}
	if got := r.Active(); got != "v2" {
		t.Fatalf("expected v2 active immediately, got %s", got)
	}

	close(cs.gate)
	res := <-resCh
	if res.err != nil {
		t.Fatalf("in-flight resolve: %v", res.err)
	}
	// The request snapshotted the old active version; it must complete
	// consistently with it.
	if res.used != "v1" {
		t.Fatalf("expected in-flight resolve to use v1, got %s", res.used)
	}
}

func TestAbandonedCallerDoesNotAbortLoad(t *testing.T) {
	cs := &countingStore{inner: newMemWith(t, "v1"), gate: make(chan struct{})}
	r := New(cs, Config{DefaultVersion: "v1"})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, _, err := r.Resolve(ctx, "v1")
		errCh <- err
	}()
	waitFor(t, func() bool { return cs.opens.Load() >= 1 })

	cancel()
	if err := <-errCh; err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	// The abandoned load still completes and populates the cache.
	close(cs.gate)
	waitFor(t, func() bool { return r.IsLoaded("v1") })

	_, _, err := r.Resolve(context.Background(), "v1")
	if err != nil {
		t.Fatalf("resolve after abandoned load: %v", err)
	}
	if n := cs.opens.Load(); n != 1 {
		t.Fatalf("expected the single abandoned load to serve later callers, got %d loads", n)
	}
}

func TestEvictAllowsReload(t *testing.T) {
	cs := &countingStore{inner: newMemWith(t, "v1")}
	r := New(cs, Config{DefaultVersion: "v1"})
	ctx := context.Background()

	if _, _, err := r.Resolve(ctx, "v1"); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !r.Evict("v1") {
		t.Fatalf("expected eviction of cached v1")
	}
	if r.Evict("v1") {
		t.Fatalf("second evict should report nothing cached")
	}
	if r.IsLoaded("v1") {
		t.Fatalf("v1 should be evicted")
	}
	if _, _, err := r.Resolve(ctx, "v1"); err != nil {
		t.Fatalf("resolve after evict: %v", err)
	}
	if n := cs.opens.Load(); n != 2 {
		t.Fatalf("expected reload after evict, got %d loads", n)
	}
}

func TestEvictAll(t *testing.T) {
	r := New(newMemWith(t, "v1", "v2"), Config{DefaultVersion: "v1"})
	ctx := context.Background()
	if _, _, err := r.Resolve(ctx, "v1"); err != nil {
		t.Fatalf("resolve v1: %v", err)
	}
	if _, _, err := r.Resolve(ctx, "v2"); err != nil {
		t.Fatalf("resolve v2: %v", err)
	}
	if n := r.EvictAll(); n != 2 {
		t.Fatalf("expected 2 evictions, got %d", n)
	}
	if r.LoadedCount() != 0 {
		t.Fatalf("expected empty cache")
	}
}

func TestFallbackToDefault(t *testing.T) {
	mem := newMemWith(t, "v1", "v2")
	r := New(mem, Config{DefaultVersion: "v1", FallbackToDefault: true})
	ctx := context.Background()

	if err := r.SetActive(ctx, "v2"); err != nil {
		t.Fatalf("set active: %v", err)
	}
	mem.Delete("v2")

	_, used, err := r.Resolve(ctx, "")
	if err != nil {
		t.Fatalf("expected fallback resolve to succeed, got %v", err)
	}
	if used != "v1" {
		t.Fatalf("expected fallback to v1, got %s", used)
	}

	// An explicit override never falls back.
	_, _, err = r.Resolve(ctx, "v2")
	if !IsVersionNotFound(err) {
		t.Fatalf("expected version not found for explicit v2, got %v", err)
	}
}

func TestWarmOnSwitch(t *testing.T) {
	cs := &countingStore{inner: newMemWith(t, "v1", "v2")}
	r := New(cs, Config{DefaultVersion: "v1", WarmOnSwitch: true})

	if err := r.SetActive(context.Background(), "v2"); err != nil {
		t.Fatalf("set active: %v", err)
	}
	waitFor(t, func() bool { return r.IsLoaded("v2") })
	if n := cs.opens.Load(); n != 1 {
		t.Fatalf("expected background warm load, got %d loads", n)
	}
}

// recordingObserver captures events for assertions.
type recordingObserver struct {
	mu      sync.Mutex
	loads   []string
	active  []string
	evicted []string
}

func (o *recordingObserver) ModelLoaded(v string, _ time.Duration, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	outcome := "ok"
	if err != nil {
		outcome = "err"
	}
	o.loads = append(o.loads, v+":"+outcome)
}

func (o *recordingObserver) ModelEvicted(v string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.evicted = append(o.evicted, v)
}

func (o *recordingObserver) ActiveChanged(_, newV string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.active = append(o.active, newV)
}

func (o *recordingObserver) Resolved(string, bool) {}

func TestObserverEvents(t *testing.T) {
	obs := &recordingObserver{}
	r := New(newMemWith(t, "v1", "v2"), Config{DefaultVersion: "v1", Observer: obs})
	ctx := context.Background()

	if _, _, err := r.Resolve(ctx, "v1"); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if _, _, err := r.Resolve(ctx, "v1"); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if err := r.SetActive(ctx, "v2"); err != nil {
		t.Fatalf("set active: %v", err)
	}
	r.Evict("v1")

	obs.mu.Lock()
	defer obs.mu.Unlock()
	if len(obs.loads) != 1 || obs.loads[0] != "v1:ok" {
		t.Fatalf("expected one successful load event, got %v", obs.loads)
	}
	if len(obs.active) != 2 || obs.active[0] != "v1" || obs.active[1] != "v2" {
		t.Fatalf("expected active events [v1 v2], got %v", obs.active)
	}
	if len(obs.evicted) != 1 || obs.evicted[0] != "v1" {
		t.Fatalf("expected evict event for v1, got %v", obs.evicted)
	}
}
