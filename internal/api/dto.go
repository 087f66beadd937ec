package api

import (
	"context"
	"time"

	"github.com/samber/lo"

	"github.com/pipewatch/pipewatch/internal/resolver"
	"github.com/pipewatch/pipewatch/internal/status"
	"github.com/pipewatch/pipewatch/internal/store"
	"github.com/pipewatch/pipewatch/pkg/confdiff"
	"github.com/pipewatch/pipewatch/pkg/configmask"
	"github.com/pipewatch/pipewatch/pkg/pipeline"
)

type pipelineDTO struct {
	ID              string             `json:"id"`
	Name            string             `json:"name"`
	SourceType      string             `json:"source_type,omitempty"`
	DestinationType string             `json:"destination_type,omitempty"`
	State           pipeline.State     `json:"state"`
	Source          *connectorDTO      `json:"source,omitempty"`
	Sink            *connectorDTO      `json:"sink,omitempty"`
	Runtime         *runtimeDTO        `json:"runtime,omitempty"`
	CreatedAt       time.Time          `json:"created_at"`
	UpdatedAt       time.Time          `json:"updated_at"`
}

type connectorDTO struct {
	ID             string                 `json:"id"`
	PipelineID     string                 `json:"pipeline_id"`
	Name           string                 `json:"name"`
	Type           pipeline.ConnectorType `json:"type"`
	ConnectorClass string                 `json:"connector_class,omitempty"`
	TasksMax       int                    `json:"tasks_max,omitempty"`

	// Config is the resolved, masked configuration; ConfigSource names the
	// tier that answered (registry, snapshot or inline).
	Config          pipeline.Config `json:"config"`
	ConfigSource    resolver.Source `json:"config_source"`
	RegistryName    string          `json:"registry_name,omitempty"`
	RegistryVersion int             `json:"registry_version,omitempty"`

	HasPendingChanges bool            `json:"has_pending_changes"`
	PendingConfig     pipeline.Config `json:"pending_config,omitempty"`
	PendingUpdatedBy  string          `json:"pending_updated_by,omitempty"`
	PendingUpdatedAt  *time.Time      `json:"pending_updated_at,omitempty"`
}

type runtimeDTO struct {
	TableStatus pipeline.TableStatus `json:"table_status"`
	State       pipeline.State       `json:"state"`
	SourceTasks []taskDTO            `json:"source_tasks"`
	SinkTasks   []taskDTO            `json:"sink_tasks"`
	ObservedAt  time.Time            `json:"observed_at"`
	Stale       bool                 `json:"stale"`
}

type taskDTO struct {
	Connector  string `json:"connector"`
	TaskNumber int    `json:"task_number"`
	State      string `json:"state"`
	WorkerID   string `json:"worker_id,omitempty"`
}

type tableDTO struct {
	ID               string               `json:"id"`
	SchemaName       string               `json:"schema_name"`
	TableName        string               `json:"table_name"`
	Included         bool                 `json:"included"`
	SourceTopic      string               `json:"source_topic,omitempty"`
	DestinationTable string               `json:"destination_table,omitempty"`
	RowCount         int64                `json:"row_count,omitempty"`
	SizeEstimate     int64                `json:"size_estimate,omitempty"`
	Status           pipeline.TableStatus `json:"status,omitempty"`
}

type diffEntryDTO struct {
	Field      string `json:"field"`
	OldValue   any    `json:"old_value,omitempty"`
	NewValue   any    `json:"new_value,omitempty"`
	OldPresent bool   `json:"old_present"`
	NewPresent bool   `json:"new_present"`
}

type deployAuditDTO struct {
	ID          string         `json:"id"`
	ConnectorID string         `json:"connector_id"`
	Name        string         `json:"name"`
	Version     int            `json:"version,omitempty"`
	Checksum    string         `json:"checksum"`
	Degraded    bool           `json:"degraded"`
	Diff        []diffEntryDTO `json:"diff"`
	DeployedBy  string         `json:"deployed_by,omitempty"`
	DeployedAt  time.Time      `json:"deployed_at"`
}

type milestoneDTO struct {
	Name     pipeline.MilestoneName   `json:"name"`
	Status   pipeline.MilestoneStatus `json:"status"`
	Metadata map[string]string        `json:"metadata,omitempty"`
}

func (s *Server) toConnectorDTO(res resolver.Resolution, conn pipeline.Connector) *connectorDTO {
	dto := &connectorDTO{
		ID:                conn.ID,
		PipelineID:        conn.PipelineID,
		Name:              conn.Name,
		Type:              conn.Type,
		ConnectorClass:    conn.ConnectorClass,
		TasksMax:          conn.TasksMax,
		Config:            configmask.Mask(res.Config),
		ConfigSource:      res.Source,
		RegistryName:      res.Name,
		RegistryVersion:   res.Version,
		HasPendingChanges: conn.HasPendingChanges(),
	}
	if conn.HasPendingChanges() {
		dto.PendingConfig = configmask.Mask(conn.PendingConfig)
		dto.PendingUpdatedBy = conn.PendingConfigUpdatedBy
		at := conn.PendingConfigUpdatedAt
		dto.PendingUpdatedAt = &at
	}
	return dto
}

func (s *Server) toPipelineDTO(ctx context.Context, p pipeline.Pipeline) pipelineDTO {
	dto := pipelineDTO{
		ID:              p.ID,
		Name:            p.Name,
		SourceType:      p.SourceType,
		DestinationType: p.DestinationType,
		State:           p.State,
		CreatedAt:       p.CreatedAt,
		UpdatedAt:       p.UpdatedAt,
	}
	if p.Source != nil {
		dto.Source = s.toConnectorDTO(s.resolver.Resolve(ctx, p.Source), *p.Source)
	}
	if p.Sink != nil {
		dto.Sink = s.toConnectorDTO(s.resolver.Resolve(ctx, p.Sink), *p.Sink)
	}
	if view, ok := s.views.Get(p.ID); ok {
		dto.Runtime = toRuntimeDTO(view)
	}
	return dto
}

func toRuntimeDTO(view status.View) *runtimeDTO {
	return &runtimeDTO{
		TableStatus: view.TableStatus,
		State:       view.State,
		SourceTasks: toTaskDTOs(view.SourceTasks),
		SinkTasks:   toTaskDTOs(view.SinkTasks),
		ObservedAt:  view.ObservedAt,
		Stale:       view.Stale,
	}
}

func toTaskDTOs(tasks []pipeline.Task) []taskDTO {
	return lo.Map(tasks, func(t pipeline.Task, _ int) taskDTO {
		return taskDTO{Connector: t.ConnectorName, TaskNumber: t.TaskNumber, State: t.State, WorkerID: t.WorkerID}
	})
}

func toDiffDTOs(entries []confdiff.Entry) []diffEntryDTO {
	return lo.Map(entries, func(e confdiff.Entry, _ int) diffEntryDTO {
		return diffEntryDTO{
			Field:      e.Field,
			OldValue:   e.OldValue,
			NewValue:   e.NewValue,
			OldPresent: e.OldPresent,
			NewPresent: e.NewPresent,
		}
	})
}

func toAuditDTO(a store.DeployAudit) deployAuditDTO {
	return deployAuditDTO{
		ID:          a.ID,
		ConnectorID: a.ConnectorID,
		Name:        a.Name,
		Version:     a.Version,
		Checksum:    a.Checksum,
		Degraded:    a.Degraded,
		Diff:        toDiffDTOs(a.Diff),
		DeployedBy:  a.DeployedBy,
		DeployedAt:  a.DeployedAt,
	}
}
