// Package lifecycle manages staged connector configuration changes:
// stage, review diff, deploy to a new active registry version, or dismiss.
package lifecycle

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/pipewatch/pipewatch/internal/resolver"
	"github.com/pipewatch/pipewatch/internal/store"
	"github.com/pipewatch/pipewatch/pkg/confdiff"
	"github.com/pipewatch/pipewatch/pkg/configmask"
	"github.com/pipewatch/pipewatch/pkg/configregistry"
	"github.com/pipewatch/pipewatch/pkg/pipeline"
)

// Manager owns the pending-change lifecycle for connectors. At most one
// staged draft exists per connector; staging again overwrites it.
type Manager struct {
	store    store.Store
	registry configregistry.Registry // nil when disabled
	resolver *resolver.Resolver
	log      *zap.Logger
	now      func() time.Time
}

// New builds a Manager. registry may be nil; deploys then always take the
// degraded inline path.
func New(st store.Store, registry configregistry.Registry, res *resolver.Resolver, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		store:    st,
		registry: registry,
		resolver: res,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Stage records newConfig as the connector's pending draft, replacing any
// earlier draft. Validation happens before any store write.
func (m *Manager) Stage(ctx context.Context, connectorID string, newConfig pipeline.Config, author string) (pipeline.Connector, error) {
	if len(newConfig) == 0 {
		return pipeline.Connector{}, pipeline.ErrEmptyConfig
	}
	if _, err := m.store.GetConnector(ctx, connectorID); err != nil {
		return pipeline.Connector{}, err
	}
	if err := m.store.SetPendingConfig(ctx, connectorID, newConfig, author, m.now()); err != nil {
		return pipeline.Connector{}, err
	}
	return m.store.GetConnector(ctx, connectorID)
}

// Diff returns the field-level changes between the connector's effective
// active configuration and its pending draft. The diff is computed on the
// raw configs, then the values of sensitive entries are masked, so a
// rotated secret still appears as a change without leaking either value.
func (m *Manager) Diff(ctx context.Context, connectorID string) ([]confdiff.Entry, error) {
	conn, err := m.store.GetConnector(ctx, connectorID)
	if err != nil {
		return nil, err
	}
	if !conn.HasPendingChanges() {
		return nil, pipeline.ErrNoPendingChanges
	}
	active := m.resolver.Resolve(ctx, &conn)
	return maskedDiff(active.Config, conn.PendingConfig), nil
}

// maskedDiff diffs first and masks second; masking first would collapse a
// secret rotation into "no change".
func maskedDiff(oldConfig, newConfig pipeline.Config) []confdiff.Entry {
	entries := confdiff.Diff(oldConfig, newConfig)
	return confdiff.Redact(entries, configmask.IsSensitive, configmask.Placeholder)
}

// Deploy promotes the pending draft to the new active configuration.
//
// Normal path: create a new immutable registry version, activate it, update
// the connector's indirection record, clear the pending facet. Degraded
// path (registry unreachable): the pending config is written directly as
// the connector's persisted config — version history is lost for this
// deploy, which the audit row records as degraded. In every successful
// path the pending facet ends cleared; "config applied but still pending"
// is the one inconsistency this method must never leave behind.
func (m *Manager) Deploy(ctx context.Context, connectorID, author string) (store.DeployAudit, error) {
	conn, err := m.store.GetConnector(ctx, connectorID)
	if err != nil {
		return store.DeployAudit{}, err
	}
	if !conn.HasPendingChanges() {
		return store.DeployAudit{}, pipeline.ErrNoPendingChanges
	}

	active := m.resolver.Resolve(ctx, &conn)
	diff := maskedDiff(active.Config, conn.PendingConfig)
	pending := conn.PendingConfig.Clone()

	audit := store.DeployAudit{
		ConnectorID: conn.ID,
		Name:        conn.Name,
		Checksum:    configregistry.Checksum(pending),
		Diff:        diff,
		DeployedBy:  author,
		DeployedAt:  m.now(),
	}

	version, deployErr := m.deployToRegistry(ctx, conn, pending)
	switch {
	case deployErr == nil:
		audit.Version = version.Version
		ref := &pipeline.RegistryRef{
			RegistryConnector: conn.Name,
			RegistryVersion:   version.Version,
			Checksum:          version.Checksum,
			SnapshotConfig:    pending,
		}
		if err := m.store.UpdateConnectorConfig(ctx, conn.ID, pending, ref); err != nil {
			return store.DeployAudit{}, err
		}
	case pipeline.IsTransient(deployErr):
		// Registry unreachable: degrade rather than fail the deploy.
		m.log.Warn("registry unreachable, deploying pending config inline",
			zap.String("connector", conn.Name), zap.Error(deployErr))
		audit.Degraded = true
		ref := conn.Ref
		if ref != nil {
			updated := *ref
			updated.SnapshotConfig = pending
			updated.Checksum = audit.Checksum
			ref = &updated
		}
		if err := m.store.UpdateConnectorConfig(ctx, conn.ID, pending, ref); err != nil {
			return store.DeployAudit{}, err
		}
	default:
		return store.DeployAudit{}, deployErr
	}

	if err := m.store.SetPendingConfig(ctx, conn.ID, nil, "", time.Time{}); err != nil {
		return store.DeployAudit{}, fmt.Errorf("clear pending after deploy: %w", err)
	}

	recorded, err := m.store.RecordDeploy(ctx, audit)
	if err != nil {
		// The deploy itself succeeded; a lost audit row is logged, not fatal.
		m.log.Error("record deploy audit failed",
			zap.String("connector", conn.Name), zap.Error(err))
		return audit, nil
	}
	return recorded, nil
}

// Dismiss discards the pending draft without creating a version or
// touching the active configuration. No audit diff is recorded.
func (m *Manager) Dismiss(ctx context.Context, connectorID string) error {
	conn, err := m.store.GetConnector(ctx, connectorID)
	if err != nil {
		return err
	}
	if !conn.HasPendingChanges() {
		return pipeline.ErrNoPendingChanges
	}
	return m.store.SetPendingConfig(ctx, connectorID, nil, "", time.Time{})
}

func (m *Manager) deployToRegistry(ctx context.Context, conn pipeline.Connector, pending pipeline.Config) (pipeline.Version, error) {
	if m.registry == nil {
		return pipeline.Version{}, &pipeline.TransientError{
			Op:  "registry deploy",
			Err: configregistry.ErrRegistryDisabled,
		}
	}
	version, err := m.registry.CreateVersion(ctx, configregistry.CreateRequest{
		Name:           conn.Name,
		Kind:           conn.Type,
		ConnectorClass: conn.ConnectorClass,
		Config:         pending,
	})
	if err != nil {
		return pipeline.Version{}, err
	}
	if err := m.registry.ActivateVersion(ctx, conn.Name, version.Version); err != nil {
		return pipeline.Version{}, err
	}
	return version, nil
}
