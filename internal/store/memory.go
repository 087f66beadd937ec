package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pipewatch/pipewatch/pkg/pipeline"
)

// MemoryStore keeps everything in process. Tests and dev mode only.
type MemoryStore struct {
	mu         sync.Mutex
	pipelines  map[string]pipeline.Pipeline
	connectors map[string]pipeline.Connector
	tables     map[string][]pipeline.Table
	milestones map[string][]pipeline.MilestoneEvent
	deploys    map[string][]DeployAudit
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		pipelines:  make(map[string]pipeline.Pipeline),
		connectors: make(map[string]pipeline.Connector),
		tables:     make(map[string][]pipeline.Table),
		milestones: make(map[string][]pipeline.MilestoneEvent),
		deploys:    make(map[string][]DeployAudit),
	}
}

func (m *MemoryStore) CreatePipeline(_ context.Context, p pipeline.Pipeline) (pipeline.Pipeline, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if _, ok := m.pipelines[p.ID]; ok {
		return pipeline.Pipeline{}, pipeline.ErrAlreadyExists
	}
	if p.State == "" {
		p.State = pipeline.StateDraft
	}
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now
	stored := p
	stored.Source = nil
	stored.Sink = nil
	m.pipelines[p.ID] = stored
	return p, nil
}

func (m *MemoryStore) GetPipeline(_ context.Context, id string) (pipeline.Pipeline, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.pipelines[id]
	if !ok {
		return pipeline.Pipeline{}, pipeline.ErrNotFound
	}
	for _, c := range m.connectors {
		if c.PipelineID != id {
			continue
		}
		conn := cloneConnector(c)
		switch conn.Type {
		case pipeline.ConnectorSource:
			p.Source = &conn
		case pipeline.ConnectorSink:
			p.Sink = &conn
		}
	}
	return p, nil
}

func (m *MemoryStore) ListPipelines(_ context.Context) ([]pipeline.Pipeline, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]pipeline.Pipeline, 0, len(m.pipelines))
	for _, p := range m.pipelines {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) SetPipelineState(_ context.Context, id string, state pipeline.State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.pipelines[id]
	if !ok {
		return pipeline.ErrNotFound
	}
	p.State = state
	p.UpdatedAt = time.Now().UTC()
	m.pipelines[id] = p
	return nil
}

func (m *MemoryStore) CreateConnector(_ context.Context, c pipeline.Connector) (pipeline.Connector, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if _, ok := m.connectors[c.ID]; ok {
		return pipeline.Connector{}, pipeline.ErrAlreadyExists
	}
	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now
	m.connectors[c.ID] = cloneConnector(c)
	return c, nil
}

func (m *MemoryStore) GetConnector(_ context.Context, id string) (pipeline.Connector, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.connectors[id]
	if !ok {
		return pipeline.Connector{}, pipeline.ErrNotFound
	}
	return cloneConnector(c), nil
}

func (m *MemoryStore) UpdateConnectorConfig(_ context.Context, id string, config pipeline.Config, ref *pipeline.RegistryRef) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.connectors[id]
	if !ok {
		return pipeline.ErrNotFound
	}
	c.Config = config.Clone()
	c.Ref = cloneRef(ref)
	c.UpdatedAt = time.Now().UTC()
	m.connectors[id] = c
	return nil
}

func (m *MemoryStore) SetPendingConfig(_ context.Context, id string, config pipeline.Config, updatedBy string, updatedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.connectors[id]
	if !ok {
		return pipeline.ErrNotFound
	}
	if config == nil {
		c.ClearPending()
	} else {
		c.PendingConfig = config.Clone()
		c.PendingConfigUpdatedBy = updatedBy
		c.PendingConfigUpdatedAt = updatedAt
	}
	c.UpdatedAt = time.Now().UTC()
	m.connectors[id] = c
	return nil
}

func (m *MemoryStore) UpsertTables(_ context.Context, pipelineID string, tables []pipeline.Table) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing := m.tables[pipelineID]
	byName := make(map[string]int, len(existing))
	for i, t := range existing {
		byName[t.QualifiedName()] = i
	}
	for _, t := range tables {
		t.PipelineID = pipelineID
		if idx, ok := byName[t.QualifiedName()]; ok {
			t.ID = existing[idx].ID
			if t.Status == "" {
				t.Status = existing[idx].Status
			}
			existing[idx] = t
			continue
		}
		if t.ID == "" {
			t.ID = uuid.NewString()
		}
		existing = append(existing, t)
	}
	m.tables[pipelineID] = existing
	return nil
}

func (m *MemoryStore) ListTables(_ context.Context, pipelineID string) ([]pipeline.Table, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tables := m.tables[pipelineID]
	out := make([]pipeline.Table, len(tables))
	copy(out, tables)
	sort.Slice(out, func(i, j int) bool { return out[i].QualifiedName() < out[j].QualifiedName() })
	return out, nil
}

func (m *MemoryStore) SetTableStatuses(_ context.Context, pipelineID string, status pipeline.TableStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tables := m.tables[pipelineID]
	for i := range tables {
		tables[i].Status = status
	}
	return nil
}

func (m *MemoryStore) AppendMilestoneEvent(_ context.Context, event pipeline.MilestoneEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if event.RecordedAt.IsZero() {
		event.RecordedAt = time.Now().UTC()
	}
	m.milestones[event.PipelineID] = append(m.milestones[event.PipelineID], event)
	return nil
}

func (m *MemoryStore) ListMilestoneEvents(_ context.Context, pipelineID string) ([]pipeline.MilestoneEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	events := m.milestones[pipelineID]
	out := make([]pipeline.MilestoneEvent, len(events))
	copy(out, events)
	return out, nil
}

func (m *MemoryStore) RecordDeploy(_ context.Context, audit DeployAudit) (DeployAudit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if audit.ID == "" {
		audit.ID = uuid.NewString()
	}
	if audit.DeployedAt.IsZero() {
		audit.DeployedAt = time.Now().UTC()
	}
	m.deploys[audit.ConnectorID] = append(m.deploys[audit.ConnectorID], audit)
	return audit, nil
}

func (m *MemoryStore) ListDeploys(_ context.Context, connectorID string) ([]DeployAudit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	deploys := m.deploys[connectorID]
	out := make([]DeployAudit, len(deploys))
	copy(out, deploys)
	return out, nil
}

func (m *MemoryStore) Close() {}

func cloneConnector(c pipeline.Connector) pipeline.Connector {
	c.Config = c.Config.Clone()
	c.PendingConfig = c.PendingConfig.Clone()
	c.Ref = cloneRef(c.Ref)
	return c
}

func cloneRef(ref *pipeline.RegistryRef) *pipeline.RegistryRef {
	if ref == nil {
		return nil
	}
	out := *ref
	out.SnapshotConfig = ref.SnapshotConfig.Clone()
	return &out
}
