// Package store persists pipelines, connectors, table objects, progress
// events and deploy audit records.
package store

import (
	"context"
	"time"

	"github.com/pipewatch/pipewatch/pkg/confdiff"
	"github.com/pipewatch/pipewatch/pkg/pipeline"
)

// DeployAudit records one deploy of a pending change, including the field
// diff reviewed at deploy time. Version is 0 for degraded deploys, where
// the registry was unreachable and no version could be created.
type DeployAudit struct {
	ID          string
	ConnectorID string
	Name        string
	Version     int
	Checksum    string
	Degraded    bool
	Diff        []confdiff.Entry
	DeployedBy  string
	DeployedAt  time.Time
}

// Store is the durable state behind the dashboard. Runtime task state is
// deliberately absent: that lives in the orchestration API and is only
// ever projected, never persisted as truth.
type Store interface {
	CreatePipeline(ctx context.Context, p pipeline.Pipeline) (pipeline.Pipeline, error)
	GetPipeline(ctx context.Context, id string) (pipeline.Pipeline, error)
	ListPipelines(ctx context.Context) ([]pipeline.Pipeline, error)
	SetPipelineState(ctx context.Context, id string, state pipeline.State) error

	CreateConnector(ctx context.Context, c pipeline.Connector) (pipeline.Connector, error)
	GetConnector(ctx context.Context, id string) (pipeline.Connector, error)
	// UpdateConnectorConfig replaces the connector's config facet (inline
	// config and registry ref together, since they are one persisted value).
	UpdateConnectorConfig(ctx context.Context, id string, config pipeline.Config, ref *pipeline.RegistryRef) error
	// SetPendingConfig stages a draft (overwriting any prior draft) when
	// config is non-nil, or clears the pending facet when config is nil.
	SetPendingConfig(ctx context.Context, id string, config pipeline.Config, updatedBy string, updatedAt time.Time) error

	UpsertTables(ctx context.Context, pipelineID string, tables []pipeline.Table) error
	ListTables(ctx context.Context, pipelineID string) ([]pipeline.Table, error)
	// SetTableStatuses stores the latest derived status as the fallback for
	// refreshes that observe no tasks. All tables of a pipeline share it.
	SetTableStatuses(ctx context.Context, pipelineID string, status pipeline.TableStatus) error

	AppendMilestoneEvent(ctx context.Context, event pipeline.MilestoneEvent) error
	ListMilestoneEvents(ctx context.Context, pipelineID string) ([]pipeline.MilestoneEvent, error)

	RecordDeploy(ctx context.Context, audit DeployAudit) (DeployAudit, error)
	ListDeploys(ctx context.Context, connectorID string) ([]DeployAudit, error)

	Close()
}
