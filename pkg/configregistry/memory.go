package configregistry

import (
	"context"
	"sync"
	"time"

	"github.com/pipewatch/pipewatch/pkg/pipeline"
)

type memoryRegistry struct {
	mu       sync.Mutex
	versions map[string][]pipeline.Version
	active   map[string]int
}

// NewMemoryRegistry returns an in-process registry for tests and
// single-node development.
func NewMemoryRegistry() Registry {
	return &memoryRegistry{
		versions: make(map[string][]pipeline.Version),
		active:   make(map[string]int),
	}
}

func (r *memoryRegistry) CreateVersion(_ context.Context, req CreateRequest) (pipeline.Version, error) {
	if err := validateCreate(req); err != nil {
		return pipeline.Version{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	next := len(r.versions[req.Name]) + 1
	v := pipeline.Version{
		Name:           req.Name,
		Kind:           req.Kind,
		ConnectorClass: req.ConnectorClass,
		Config:         req.Config.Clone(),
		Version:        next,
		Checksum:       Checksum(req.Config),
		CreatedAt:      time.Now().UTC(),
	}
	r.versions[req.Name] = append(r.versions[req.Name], v)
	return v, nil
}

func (r *memoryRegistry) ActivateVersion(_ context.Context, name string, version int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if version < 1 || version > len(r.versions[name]) {
		return ErrNotFound
	}
	r.active[name] = version
	return nil
}

func (r *memoryRegistry) GetVersion(_ context.Context, name string, version int) (pipeline.Version, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if version < 1 || version > len(r.versions[name]) {
		return pipeline.Version{}, ErrNotFound
	}
	return cloneVersion(r.versions[name][version-1]), nil
}

func (r *memoryRegistry) ActiveVersion(_ context.Context, name string) (pipeline.Version, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.versions[name]; !ok {
		return pipeline.Version{}, ErrNotFound
	}
	active, ok := r.active[name]
	if !ok {
		return pipeline.Version{}, ErrNoActiveVersion
	}
	return cloneVersion(r.versions[name][active-1]), nil
}

func (r *memoryRegistry) ActiveConfig(ctx context.Context, name string) (pipeline.Config, error) {
	v, err := r.ActiveVersion(ctx, name)
	if err != nil {
		return nil, err
	}
	return v.Config, nil
}

func (r *memoryRegistry) ListVersions(_ context.Context, name string) ([]pipeline.Version, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored := r.versions[name]
	out := make([]pipeline.Version, 0, len(stored))
	for _, v := range stored {
		out = append(out, cloneVersion(v))
	}
	return out, nil
}

func (r *memoryRegistry) Close() error { return nil }

// cloneVersion copies the config map so callers cannot mutate stored
// versions: immutability is the registry's core invariant.
func cloneVersion(v pipeline.Version) pipeline.Version {
	v.Config = v.Config.Clone()
	return v
}
