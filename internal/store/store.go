// Package store abstracts versioned model artifact storage. The registry only
// needs to probe, open, and enumerate artifacts; the concrete layout and
// transport belong to the backend.
package store

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrNotFound is returned when no artifact exists for a version.
//
// Backends should return an error satisfying errors.Is(err, ErrNotFound).
var ErrNotFound = errors.New("model artifact not found")

// ArtifactName is the artifact filename/key under each version directory.
const ArtifactName = "model.bin"

// Info describes a stored artifact.
type Info struct {
	Size    int64
	ModTime time.Time
}

// Store is an abstraction over versioned model artifact storage.
type Store interface {
	// Exists reports whether an artifact is present for version.
	Exists(ctx context.Context, version string) (bool, error)
	// Open opens the artifact for reading. Returns ErrNotFound when absent.
	Open(ctx context.Context, version string) (io.ReadCloser, error)
	// Stat returns artifact metadata. Returns ErrNotFound when absent.
	Stat(ctx context.Context, version string) (Info, error)
	// List enumerates versions with an artifact present, sorted.
	List(ctx context.Context) ([]string, error)
}
