// Package configregistry stores immutable, versioned connector
// configurations keyed by connector name, with one active version pointer
// per name. It is the source of truth the dashboard resolves against.
package configregistry

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pipewatch/pipewatch/pkg/pipeline"
)

// ErrNotFound indicates the requested name or (name, version) pair does
// not exist in the registry.
var ErrNotFound = errors.New("registry version not found")

// ErrNoActiveVersion indicates the name exists but has no active pointer.
var ErrNoActiveVersion = errors.New("registry name has no active version")

// CreateRequest describes a new version to append. Versions are immutable
// once created; repeated identical configs produce new version numbers
// (no dedup — callers wanting dedup compare checksums first).
type CreateRequest struct {
	Name           string
	Kind           pipeline.ConnectorType
	ConnectorClass string
	Config         pipeline.Config
}

// Registry provides versioned connector configuration storage.
//
// ActivateVersion is the only operation that changes what ActiveConfig
// returns for a name, and it must never be observed half-applied.
type Registry interface {
	CreateVersion(ctx context.Context, req CreateRequest) (pipeline.Version, error)
	ActivateVersion(ctx context.Context, name string, version int) error
	GetVersion(ctx context.Context, name string, version int) (pipeline.Version, error)
	ActiveVersion(ctx context.Context, name string) (pipeline.Version, error)
	ActiveConfig(ctx context.Context, name string) (pipeline.Config, error)
	ListVersions(ctx context.Context, name string) ([]pipeline.Version, error)
	Close() error
}

func validateCreate(req CreateRequest) error {
	if req.Name == "" {
		return fmt.Errorf("registry name is required")
	}
	if len(req.Config) == 0 {
		return pipeline.ErrEmptyConfig
	}
	return nil
}

// Checksum returns the deterministic content hash of a configuration.
// encoding/json sorts map keys, so equal configs always hash equal.
func Checksum(config pipeline.Config) string {
	payload, err := json.Marshal(config)
	if err != nil {
		// Config maps are JSON-shaped by construction; a marshal failure
		// means a caller smuggled in an unserializable value.
		payload = []byte(fmt.Sprintf("%v", config))
	}
	hash := sha256.Sum256(payload)
	return hex.EncodeToString(hash[:])
}
