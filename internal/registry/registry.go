// Package registry maps model version identifiers to loaded instances. It
// owns the version cache, the active-version pointer, and the loader that
// materializes an instance from storage on first use.
package registry

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"modelswitch/internal/model"
	"modelswitch/internal/store"
)

// Config controls registry behavior.
type Config struct {
	// DefaultVersion is the active version at construction.
	DefaultVersion string
	// WarmOnSwitch loads the new active version in the background after a
	// switch. The swap itself never waits on the load.
	WarmOnSwitch bool
	// FallbackToDefault makes a defaulted resolve retry the default version
	// when the active version's storage has disappeared out-of-band.
	FallbackToDefault bool
	// Observer receives lifecycle events; nil means none.
	Observer Observer
}

type entry struct {
	predictor model.Predictor
	loadDur   time.Duration
	loadedAt  time.Time
}

// Registry is safe for concurrent use. Cache entries are immutable once
// inserted and live for the process lifetime unless explicitly evicted.
type Registry struct {
	st  store.Store
	cfg Config
	obs Observer

	activeMu sync.RWMutex
	active   string

	cacheMu sync.RWMutex
	cache   map[string]*entry

	group singleflight.Group
}

// New constructs a Registry with cfg.DefaultVersion active.
func New(st store.Store, cfg Config) *Registry {
	obs := cfg.Observer
	if obs == nil {
		obs = NopObserver{}
	}
	r := &Registry{
		st:     st,
		cfg:    cfg,
		obs:    obs,
		active: cfg.DefaultVersion,
		cache:  make(map[string]*entry),
	}
	r.obs.ActiveChanged("", cfg.DefaultVersion)
	return r
}

// Resolve returns the loaded model for version, defaulting to the active
// version when version is empty. The returned string is the version actually
// used, which matters for defaulted calls. Missing versions load on demand;
// concurrent callers for the same uncached version share a single load and
// all observe its outcome.
func (r *Registry) Resolve(ctx context.Context, version string) (model.Predictor, string, error) {
	requested := version != ""
	if !requested {
		version = r.Active()
	}

	if p, ok := r.cached(version); ok {
		r.obs.Resolved(version, true)
		return p, version, nil
	}

	p, err := r.loadShared(ctx, version)
	if err == nil {
		r.obs.Resolved(version, false)
		return p, version, nil
	}

	// The active version can lose its storage out-of-band after activation.
	// Whether to fail or fall back is a deployment decision.
	if !requested && r.cfg.FallbackToDefault && IsVersionNotFound(err) && version != r.cfg.DefaultVersion {
		fb := r.cfg.DefaultVersion
		if p, ok := r.cached(fb); ok {
			r.obs.Resolved(fb, true)
			return p, fb, nil
		}
		if p, ferr := r.loadShared(ctx, fb); ferr == nil {
			r.obs.Resolved(fb, false)
			return p, fb, nil
		}
	}
	return nil, version, err
}

func (r *Registry) cached(version string) (model.Predictor, bool) {
	r.cacheMu.RLock()
	e, ok := r.cache[version]
	r.cacheMu.RUnlock()
	if !ok {
		return nil, false
	}
	return e.predictor, true
}

// loadShared coordinates concurrent loads of one version: exactly one load
// runs and every waiter sees the same result. The load is detached from the
// caller's context so an abandoned request cannot abort a load that other
// waiters (or the cache) depend on; the abandoned caller itself returns on
// ctx.Done.
func (r *Registry) loadShared(ctx context.Context, version string) (model.Predictor, error) {
	loadCtx := context.WithoutCancel(ctx)
	ch := r.group.DoChan(version, func() (any, error) {
		if p, ok := r.cached(version); ok {
			return p, nil
		}
		return r.load(loadCtx, version)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(model.Predictor), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (r *Registry) load(ctx context.Context, version string) (model.Predictor, error) {
	ok, err := r.st.Exists(ctx, version)
	if err != nil {
		return nil, ErrLoadFailed(version, err)
	}
	if !ok {
		return nil, ErrVersionNotFound(version)
	}

	start := time.Now()
	rc, err := r.st.Open(ctx, version)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Deleted between the existence probe and the open.
			return nil, ErrVersionNotFound(version)
		}
		werr := ErrLoadFailed(version, err)
		r.obs.ModelLoaded(version, time.Since(start), werr)
		return nil, werr
	}
	defer rc.Close()

	p, err := model.Decode(rc)
	dur := time.Since(start)
	if err != nil {
		werr := ErrLoadFailed(version, err)
		r.obs.ModelLoaded(version, dur, werr)
		return nil, werr
	}

	r.cacheMu.Lock()
	if e, ok := r.cache[version]; ok {
		// A cache entry is never silently replaced; keep the existing one.
		r.cacheMu.Unlock()
		return e.predictor, nil
	}
	r.cache[version] = &entry{predictor: p, loadDur: dur, loadedAt: time.Now()}
	r.cacheMu.Unlock()

	r.obs.ModelLoaded(version, dur, nil)
	return p, nil
}

// SetActive atomically repoints the active version. The target must have
// storage present; on failure the pointer is left unchanged. SetActive never
// waits on a model load.
func (r *Registry) SetActive(ctx context.Context, version string) error {
	ok, err := r.st.Exists(ctx, version)
	if err != nil {
		return ErrLoadFailed(version, err)
	}
	if !ok {
		return ErrVersionNotFound(version)
	}

	r.activeMu.Lock()
	old := r.active
	r.active = version
	r.activeMu.Unlock()

	r.obs.ActiveChanged(old, version)

	if r.cfg.WarmOnSwitch {
		warmCtx := context.WithoutCancel(ctx)
		go func() { _, _ = r.loadShared(warmCtx, version) }()
	}
	return nil
}

// Active returns the current active version.
func (r *Registry) Active() string {
	r.activeMu.RLock()
	defer r.activeMu.RUnlock()
	return r.active
}

// IsLoaded reports whether version has a cached instance. It never triggers
// a load.
func (r *Registry) IsLoaded(version string) bool {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()
	_, ok := r.cache[version]
	return ok
}

// LoadedCount returns the number of cached instances.
func (r *Registry) LoadedCount() int {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()
	return len(r.cache)
}

// LoadDuration returns the recorded load duration for a cached version.
func (r *Registry) LoadDuration(version string) (time.Duration, bool) {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()
	e, ok := r.cache[version]
	if !ok {
		return 0, false
	}
	return e.loadDur, true
}

// KnownVersions enumerates versions discoverable in storage, not just cached
// ones. Admin/health surfaces use this; the prediction path never does.
func (r *Registry) KnownVersions(ctx context.Context) ([]string, error) {
	return r.st.List(ctx)
}

// Evict drops the cached instance for version, if any. The next resolve
// reloads from storage.
func (r *Registry) Evict(version string) bool {
	r.cacheMu.Lock()
	_, ok := r.cache[version]
	delete(r.cache, version)
	r.cacheMu.Unlock()
	if ok {
		// Detach any in-flight load so a post-evict resolve starts fresh.
		r.group.Forget(version)
		r.obs.ModelEvicted(version)
	}
	return ok
}

// EvictAll drops every cached instance and returns how many were dropped.
func (r *Registry) EvictAll() int {
	r.cacheMu.Lock()
	versions := make([]string, 0, len(r.cache))
	for v := range r.cache {
		versions = append(versions, v)
	}
	r.cache = make(map[string]*entry)
	r.cacheMu.Unlock()
	for _, v := range versions {
		r.group.Forget(v)
		r.obs.ModelEvicted(v)
	}
	return len(versions)
}

// Info is a diagnostic snapshot of one version for admin surfaces.
type Info struct {
	Version string
	Exists  bool
	Loaded  bool
	Active  bool
	LoadDur time.Duration
	HasLoad bool
	Size    int64
	ModTime time.Time
	HasStat bool
}

// Info reports storage and cache state for version. Unknown versions are not
// an error here; Exists is simply false.
func (r *Registry) Info(ctx context.Context, version string) (Info, error) {
	info := Info{Version: version, Active: r.Active() == version}

	st, err := r.st.Stat(ctx, version)
	switch {
	case err == nil:
		info.Exists = true
		info.HasStat = true
		info.Size = st.Size
		info.ModTime = st.ModTime
	case errors.Is(err, store.ErrNotFound):
	default:
		return Info{}, err
	}

	r.cacheMu.RLock()
	if e, ok := r.cache[version]; ok {
		info.Loaded = true
		info.LoadDur = e.loadDur
		info.HasLoad = true
	}
	r.cacheMu.RUnlock()
	return info, nil
}
