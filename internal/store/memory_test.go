package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pipewatch/pipewatch/pkg/pipeline"
)

func seedPipeline(t *testing.T, s Store) (pipeline.Pipeline, pipeline.Connector) {
	t.Helper()
	ctx := context.Background()
	p, err := s.CreatePipeline(ctx, pipeline.Pipeline{Name: "orders", SourceType: "postgres", DestinationType: "snowflake"})
	if err != nil {
		t.Fatalf("create pipeline: %v", err)
	}
	c, err := s.CreateConnector(ctx, pipeline.Connector{
		PipelineID: p.ID,
		Name:       "orders-src",
		Type:       pipeline.ConnectorSource,
		Config:     pipeline.Config{"database.hostname": "db1"},
	})
	if err != nil {
		t.Fatalf("create connector: %v", err)
	}
	return p, c
}

func TestPendingConfigRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_, c := seedPipeline(t, s)

	staged := pipeline.Config{"database.hostname": "db2"}
	at := time.Now().UTC().Truncate(time.Second)
	if err := s.SetPendingConfig(ctx, c.ID, staged, "ops@example.com", at); err != nil {
		t.Fatalf("set pending: %v", err)
	}

	got, err := s.GetConnector(ctx, c.ID)
	if err != nil {
		t.Fatalf("get connector: %v", err)
	}
	if !got.HasPendingChanges() {
		t.Fatal("expected pending changes")
	}
	if got.PendingConfigUpdatedBy != "ops@example.com" || !got.PendingConfigUpdatedAt.Equal(at) {
		t.Fatalf("pending bookkeeping wrong: %q %v", got.PendingConfigUpdatedBy, got.PendingConfigUpdatedAt)
	}

	// Overwrite replaces the earlier draft; drafts never stack.
	if err := s.SetPendingConfig(ctx, c.ID, pipeline.Config{"database.hostname": "db3"}, "other@example.com", at.Add(time.Minute)); err != nil {
		t.Fatalf("overwrite pending: %v", err)
	}
	got, _ = s.GetConnector(ctx, c.ID)
	if got.PendingConfig["database.hostname"] != "db3" {
		t.Fatalf("expected overwritten draft, got %v", got.PendingConfig)
	}

	// nil clears everything.
	if err := s.SetPendingConfig(ctx, c.ID, nil, "", time.Time{}); err != nil {
		t.Fatalf("clear pending: %v", err)
	}
	got, _ = s.GetConnector(ctx, c.ID)
	if got.HasPendingChanges() || got.PendingConfigUpdatedBy != "" {
		t.Fatalf("pending not fully cleared: %+v", got)
	}
}

func TestGetPipelineAttachesConnectors(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	p, _ := seedPipeline(t, s)
	if _, err := s.CreateConnector(ctx, pipeline.Connector{
		PipelineID: p.ID,
		Name:       "orders-sink",
		Type:       pipeline.ConnectorSink,
	}); err != nil {
		t.Fatalf("create sink: %v", err)
	}

	got, err := s.GetPipeline(ctx, p.ID)
	if err != nil {
		t.Fatalf("get pipeline: %v", err)
	}
	if got.Source == nil || got.Source.Name != "orders-src" {
		t.Fatalf("source not attached: %+v", got.Source)
	}
	if got.Sink == nil || got.Sink.Name != "orders-sink" {
		t.Fatalf("sink not attached: %+v", got.Sink)
	}
}

func TestTableStatusFallbackPersistence(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	p, _ := seedPipeline(t, s)

	tables := []pipeline.Table{
		{SchemaName: "public", TableName: "orders", Included: true, RowCount: 100},
		{SchemaName: "public", TableName: "customers", Included: true, RowCount: 50},
	}
	if err := s.UpsertTables(ctx, p.ID, tables); err != nil {
		t.Fatalf("upsert tables: %v", err)
	}
	if err := s.SetTableStatuses(ctx, p.ID, pipeline.TableStreaming); err != nil {
		t.Fatalf("set statuses: %v", err)
	}

	// Re-upsert from discovery must not wipe the stored status fallback.
	tables[0].RowCount = 120
	if err := s.UpsertTables(ctx, p.ID, tables); err != nil {
		t.Fatalf("re-upsert tables: %v", err)
	}

	got, err := s.ListTables(ctx, p.ID)
	if err != nil {
		t.Fatalf("list tables: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 tables, got %d", len(got))
	}
	for _, tbl := range got {
		if tbl.Status != pipeline.TableStreaming {
			t.Fatalf("status fallback lost for %s: %q", tbl.QualifiedName(), tbl.Status)
		}
	}
	if got[1].RowCount != 120 {
		t.Fatalf("row count not updated: %+v", got[1])
	}
}

func TestStoreNotFound(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	if _, err := s.GetPipeline(ctx, "nope"); !errors.Is(err, pipeline.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := s.GetConnector(ctx, "nope"); !errors.Is(err, pipeline.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := s.SetPendingConfig(ctx, "nope", pipeline.Config{"k": "v"}, "", time.Time{}); !errors.Is(err, pipeline.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := s.SetPipelineState(ctx, "nope", pipeline.StateRunning); !errors.Is(err, pipeline.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMilestoneEventsAppendOnly(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	p, _ := seedPipeline(t, s)

	base := time.Now().UTC()
	for i, status := range []pipeline.MilestoneStatus{pipeline.MilestoneInProgress, pipeline.MilestoneCompleted} {
		err := s.AppendMilestoneEvent(ctx, pipeline.MilestoneEvent{
			PipelineID: p.ID,
			Name:       pipeline.MilestoneSourceConnected,
			Status:     status,
			RecordedAt: base.Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatalf("append event: %v", err)
		}
	}

	events, err := s.ListMilestoneEvents(ctx, p.ID)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
}
