package store

import (
	"bytes"
	"context"
	"io"
	"sort"
	"sync"
	"time"
)

// MemStore is an in-memory Store, used by tests and local experiments.
type MemStore struct {
	mu        sync.RWMutex
	artifacts map[string]memArtifact
}

type memArtifact struct {
	data    []byte
	modTime time.Time
}

// NewMemStore creates an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{artifacts: make(map[string]memArtifact)}
}

// Put stores or replaces the artifact for version.
func (s *MemStore) Put(version string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.artifacts[version] = memArtifact{data: append([]byte(nil), data...), modTime: time.Now()}
}

// Delete removes the artifact for version, if present.
func (s *MemStore) Delete(version string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.artifacts, version)
}

func (s *MemStore) Exists(ctx context.Context, version string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.artifacts[version]
	return ok, nil
}

func (s *MemStore) Open(ctx context.Context, version string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	a, ok := s.artifacts[version]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(a.data)), nil
}

func (s *MemStore) Stat(ctx context.Context, version string) (Info, error) {
	if err := ctx.Err(); err != nil {
		return Info{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.artifacts[version]
	if !ok {
		return Info{}, ErrNotFound
	}
	return Info{Size: int64(len(a.data)), ModTime: a.modTime}, nil
}

func (s *MemStore) List(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	versions := make([]string, 0, len(s.artifacts))
	for v := range s.artifacts {
		versions = append(versions, v)
	}
	sort.Strings(versions)
	return versions, nil
}
