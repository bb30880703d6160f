package registry

import "time"

// Observer receives registry lifecycle events. Implementations must be safe
// for concurrent use and should not block; the registry calls them inline.
// The metrics layer implements this so the registry stays free of any metrics
// library dependency.
type Observer interface {
	// ModelLoaded fires once per load attempt with its duration and outcome.
	ModelLoaded(version string, d time.Duration, err error)
	// ModelEvicted fires when a cached instance is dropped.
	ModelEvicted(version string)
	// ActiveChanged fires after the active pointer swaps. oldVersion is empty
	// at construction time.
	ActiveChanged(oldVersion, newVersion string)
	// Resolved fires on every resolve, with the version used and whether it
	// was served from cache.
	Resolved(version string, cacheHit bool)
}

// NopObserver ignores all events.
type NopObserver struct{}

func (NopObserver) ModelLoaded(string, time.Duration, error) {}
func (NopObserver) ModelEvicted(string)                      {}
func (NopObserver) ActiveChanged(string, string)             {}
func (NopObserver) Resolved(string, bool)                    {}
