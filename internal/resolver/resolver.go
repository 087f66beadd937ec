// Package resolver computes a connector's effective configuration by
// following the registry indirection, degrading to the inline snapshot
// when the registry cannot answer.
package resolver

import (
	"context"

	"go.uber.org/zap"

	"github.com/pipewatch/pipewatch/pkg/configregistry"
	"github.com/pipewatch/pipewatch/pkg/pipeline"
)

// Source names which tier produced the effective config. Callers that need
// to know whether they got live or cached config ask the Resolution.
type Source string

const (
	// SourceRegistry: the registry's active version answered.
	SourceRegistry Source = "registry"
	// SourceSnapshot: registry unreachable or entry missing, last known
	// snapshot used instead.
	SourceSnapshot Source = "snapshot"
	// SourceInline: connector carries a plain inline config, no indirection.
	SourceInline Source = "inline"
)

// Resolution is the resolver's output.
type Resolution struct {
	Config pipeline.Config
	Source Source
	// Name and Version identify the registry entry when Source is registry.
	Name    string
	Version int
}

// Live reports whether the config came from the registry rather than a
// degraded tier.
func (r Resolution) Live() bool { return r.Source == SourceRegistry }

// Resolver resolves effective connector configurations.
type Resolver struct {
	registry configregistry.Registry // nil when disabled
	log      *zap.Logger
}

// New builds a resolver. registry may be nil; every connector then
// resolves from its snapshot or inline config.
func New(registry configregistry.Registry, log *zap.Logger) *Resolver {
	if log == nil {
		log = zap.NewNop()
	}
	return &Resolver{registry: registry, log: log}
}

// Resolve returns the effective configuration for conn. It never fails:
// registry errors are logged and absorbed, and the connector's own data is
// the floor the result degrades to.
func (r *Resolver) Resolve(ctx context.Context, conn *pipeline.Connector) Resolution {
	if conn == nil {
		return Resolution{Source: SourceInline}
	}
	if conn.Ref == nil || conn.Ref.RegistryConnector == "" {
		return Resolution{Config: conn.Config.Clone(), Source: SourceInline}
	}

	ref := conn.Ref
	if r.registry != nil {
		version, err := r.registry.ActiveVersion(ctx, ref.RegistryConnector)
		if err == nil {
			return Resolution{
				Config:  version.Config,
				Source:  SourceRegistry,
				Name:    version.Name,
				Version: version.Version,
			}
		}
		r.log.Warn("registry lookup failed, falling back to snapshot",
			zap.String("connector", conn.Name),
			zap.String("registry_connector", ref.RegistryConnector),
			zap.Error(err))
	}

	if ref.SnapshotConfig != nil {
		return Resolution{
			Config:  ref.SnapshotConfig.Clone(),
			Source:  SourceSnapshot,
			Name:    ref.RegistryConnector,
			Version: ref.RegistryVersion,
		}
	}
	// No snapshot either: the flat connector config is the last resort.
	return Resolution{Config: conn.Config.Clone(), Source: SourceSnapshot, Name: ref.RegistryConnector}
}
