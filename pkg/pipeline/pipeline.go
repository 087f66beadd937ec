package pipeline

import (
	"time"
)

// State captures lifecycle status for a pipeline.
type State string

const (
	StateDraft   State = "draft"
	StateReady   State = "ready"
	StateRunning State = "running"
	StatePaused  State = "paused"
	StateError   State = "error"
	StateStopped State = "stopped"
	StateDeleted State = "deleted"
)

// ConnectorType distinguishes the two ends of a pipeline.
type ConnectorType string

const (
	ConnectorSource ConnectorType = "source"
	ConnectorSink   ConnectorType = "sink"
)

// TableStatus is the derived, display-only status of a table.
// All tables of a pipeline share one derived status because tasks are
// tracked per connector, not per table.
type TableStatus string

const (
	TableStreaming    TableStatus = "streaming"
	TableSnapshotting TableStatus = "snapshotting"
	TablePaused       TableStatus = "paused"
	TableError        TableStatus = "error"
)

// TaskState values reported by the orchestration API.
const (
	TaskRunning = "RUNNING"
	TaskPaused  = "PAUSED"
	TaskFailed  = "FAILED"
)

// Pipeline defines a CDC pipeline between a source and a sink connector.
type Pipeline struct {
	ID              string
	Name            string
	SourceType      string
	DestinationType string
	State           State
	Source          *Connector
	Sink            *Connector
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Config is a connector configuration map. Values are JSON-shaped
// (string, bool, float64, nested maps and slices).
type Config map[string]any

// Clone returns a shallow copy so callers can mutate without aliasing.
func (c Config) Clone() Config {
	if c == nil {
		return nil
	}
	out := make(Config, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// RegistryRef is the indirection record stored in place of an inline config
// when a connector's configuration lives in the registry.
type RegistryRef struct {
	RegistryConnector string `json:"registry_connector"`
	RegistryVersion   int    `json:"registry_version"`
	Checksum          string `json:"checksum"`
	SnapshotConfig    Config `json:"snapshot_config,omitempty"`
}

// Connector is a source or sink task-runner definition.
type Connector struct {
	ID             string
	PipelineID     string
	Name           string // also the registry key
	Type           ConnectorType
	ConnectorClass string
	TasksMax       int

	// Config is the inline configuration, used when Ref is nil.
	Config Config
	// Ref, when set, points at the registry entry holding the config.
	Ref *RegistryRef

	PendingConfig          Config
	PendingConfigUpdatedBy string
	PendingConfigUpdatedAt time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasPendingChanges reports whether a staged draft exists. The flag is
// defined by the pending config itself so it can never disagree with it.
func (c *Connector) HasPendingChanges() bool {
	return c != nil && c.PendingConfig != nil
}

// ClearPending drops the staged draft and its bookkeeping fields.
func (c *Connector) ClearPending() {
	c.PendingConfig = nil
	c.PendingConfigUpdatedBy = ""
	c.PendingConfigUpdatedAt = time.Time{}
}

// Version is an immutable registry entry for a named connector config.
type Version struct {
	Name           string
	Kind           ConnectorType
	ConnectorClass string
	Config         Config
	Version        int
	Checksum       string
	CreatedAt      time.Time
}

// Task is a runtime fact read from the orchestration API. Tasks are never
// stored long-term; each poll supersedes the previous set.
type Task struct {
	ConnectorName string
	TaskNumber    int
	State         string
	WorkerID      string
}

// Table is a schema-qualified table participating in a pipeline.
type Table struct {
	ID               string
	PipelineID       string
	SchemaName       string
	TableName        string
	Included         bool
	SourceTopic      string
	DestinationTable string
	RowCount         int64
	SizeEstimate     int64
	// Status is derived from the current task set and recomputed on every
	// refresh; the persisted value is only the fallback when no live
	// signal is available.
	Status TableStatus
}

// QualifiedName returns schema.table.
func (t Table) QualifiedName() string {
	return t.SchemaName + "." + t.TableName
}

// MilestoneName identifies a bootstrap milestone.
type MilestoneName string

const (
	MilestoneSourceConnected  MilestoneName = "source_connected"
	MilestoneIngestingStarted MilestoneName = "ingesting_started"
	MilestoneStagingEvents    MilestoneName = "staging_events"
	MilestoneLoadingStarted   MilestoneName = "loading_started"
)

// MilestoneOrder is the fixed display order, independent of event arrival.
var MilestoneOrder = []MilestoneName{
	MilestoneSourceConnected,
	MilestoneIngestingStarted,
	MilestoneStagingEvents,
	MilestoneLoadingStarted,
}

// MilestoneStatus is the state of one milestone.
type MilestoneStatus string

const (
	MilestonePending    MilestoneStatus = "pending"
	MilestoneInProgress MilestoneStatus = "in_progress"
	MilestoneCompleted  MilestoneStatus = "completed"
	MilestoneFailed     MilestoneStatus = "failed"
)

// MilestoneEvent is one append-only progress event for a pipeline.
type MilestoneEvent struct {
	PipelineID string
	Name       MilestoneName
	Status     MilestoneStatus
	Metadata   map[string]string
	RecordedAt time.Time
}

// Milestone is the projected view of one milestone for display.
type Milestone struct {
	Name     MilestoneName
	Status   MilestoneStatus
	Metadata map[string]string
}
