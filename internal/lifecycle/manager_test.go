package lifecycle

import (
	"context"
	"errors"
	"testing"

	"github.com/pipewatch/pipewatch/internal/resolver"
	"github.com/pipewatch/pipewatch/internal/store"
	"github.com/pipewatch/pipewatch/pkg/confdiff"
	"github.com/pipewatch/pipewatch/pkg/configmask"
	"github.com/pipewatch/pipewatch/pkg/configregistry"
	"github.com/pipewatch/pipewatch/pkg/pipeline"
)

type unreachableRegistry struct {
	configregistry.Registry
}

func (unreachableRegistry) CreateVersion(context.Context, configregistry.CreateRequest) (pipeline.Version, error) {
	return pipeline.Version{}, &pipeline.TransientError{Op: "registry create", Err: errors.New("connection refused")}
}

func fixture(t *testing.T, registry configregistry.Registry) (*Manager, store.Store, pipeline.Connector) {
	t.Helper()
	ctx := context.Background()
	st := store.NewMemoryStore()
	p, err := st.CreatePipeline(ctx, pipeline.Pipeline{Name: "orders"})
	if err != nil {
		t.Fatalf("create pipeline: %v", err)
	}
	conn, err := st.CreateConnector(ctx, pipeline.Connector{
		PipelineID:     p.ID,
		Name:           "orders-src",
		Type:           pipeline.ConnectorSource,
		ConnectorClass: "io.debezium.connector.postgresql.PostgresConnector",
		Config:         pipeline.Config{"database.hostname": "db1", "password": "hunter2"},
	})
	if err != nil {
		t.Fatalf("create connector: %v", err)
	}
	res := resolver.New(registry, nil)
	return New(st, registry, res, nil), st, conn
}

func TestStageOverwritesPriorDraft(t *testing.T) {
	ctx := context.Background()
	mgr, st, conn := fixture(t, configregistry.NewMemoryRegistry())

	if _, err := mgr.Stage(ctx, conn.ID, pipeline.Config{"database.hostname": "db2"}, "a@example.com"); err != nil {
		t.Fatalf("stage: %v", err)
	}
	staged, err := mgr.Stage(ctx, conn.ID, pipeline.Config{"database.hostname": "db3"}, "b@example.com")
	if err != nil {
		t.Fatalf("restage: %v", err)
	}
	if staged.PendingConfig["database.hostname"] != "db3" {
		t.Fatalf("expected overwritten draft, got %v", staged.PendingConfig)
	}
	if staged.PendingConfigUpdatedBy != "b@example.com" {
		t.Fatalf("author not updated: %q", staged.PendingConfigUpdatedBy)
	}

	got, _ := st.GetConnector(ctx, conn.ID)
	if !got.HasPendingChanges() {
		t.Fatal("expected exactly one pending draft")
	}
}

func TestStageValidation(t *testing.T) {
	ctx := context.Background()
	mgr, _, conn := fixture(t, configregistry.NewMemoryRegistry())

	if _, err := mgr.Stage(ctx, conn.ID, nil, ""); !errors.Is(err, pipeline.ErrEmptyConfig) {
		t.Fatalf("expected ErrEmptyConfig, got %v", err)
	}
	if _, err := mgr.Stage(ctx, "missing", pipeline.Config{"k": "v"}, ""); !errors.Is(err, pipeline.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDiffMasksSecrets(t *testing.T) {
	ctx := context.Background()
	mgr, _, conn := fixture(t, configregistry.NewMemoryRegistry())

	if _, err := mgr.Diff(ctx, conn.ID); !errors.Is(err, pipeline.ErrNoPendingChanges) {
		t.Fatalf("expected ErrNoPendingChanges, got %v", err)
	}

	if _, err := mgr.Stage(ctx, conn.ID, pipeline.Config{
		"database.hostname": "db2",
		"password":          "hunter3",
	}, ""); err != nil {
		t.Fatalf("stage: %v", err)
	}

	entries, err := mgr.Diff(ctx, conn.ID)
	if err != nil {
		t.Fatalf("diff: %v", err)
	}
	var pw *confdiff.Entry
	for i := range entries {
		if entries[i].OldValue == "hunter2" || entries[i].NewValue == "hunter3" {
			t.Fatalf("raw secret leaked into diff: %+v", entries[i])
		}
		if entries[i].Field == "password" {
			pw = &entries[i]
		}
	}
	// The rotation itself must be visible: masking happens after diffing.
	if pw == nil {
		t.Fatalf("rotated secret missing from diff: %+v", entries)
	}
	if pw.OldValue != configmask.Placeholder || pw.NewValue != configmask.Placeholder {
		t.Fatalf("rotated secret not masked: %+v", pw)
	}
	if !pw.OldPresent || !pw.NewPresent {
		t.Fatalf("presence flags lost in masking: %+v", pw)
	}
}

func TestDeployCreatesAndActivatesVersion(t *testing.T) {
	ctx := context.Background()
	reg := configregistry.NewMemoryRegistry()
	mgr, st, conn := fixture(t, reg)

	staged := pipeline.Config{"database.hostname": "db2", "password": "hunter3"}
	if _, err := mgr.Stage(ctx, conn.ID, staged, "ops@example.com"); err != nil {
		t.Fatalf("stage: %v", err)
	}

	audit, err := mgr.Deploy(ctx, conn.ID, "ops@example.com")
	if err != nil {
		t.Fatalf("deploy: %v", err)
	}
	if audit.Degraded || audit.Version != 1 {
		t.Fatalf("unexpected audit: %+v", audit)
	}

	// Active registry config equals the deployed config.
	config, err := reg.ActiveConfig(ctx, "orders-src")
	if err != nil {
		t.Fatalf("active config: %v", err)
	}
	if config["database.hostname"] != "db2" {
		t.Fatalf("active config mismatch: %v", config)
	}

	// Pending cleared, indirection record updated.
	got, _ := st.GetConnector(ctx, conn.ID)
	if got.HasPendingChanges() {
		t.Fatal("pending must be cleared after deploy")
	}
	if got.Ref == nil || got.Ref.RegistryVersion != 1 || got.Ref.RegistryConnector != "orders-src" {
		t.Fatalf("registry ref not written: %+v", got.Ref)
	}
	if got.Ref.SnapshotConfig["database.hostname"] != "db2" {
		t.Fatalf("snapshot not refreshed: %v", got.Ref.SnapshotConfig)
	}

	// The audit diff records the rotation, masked on both sides.
	deploys, _ := st.ListDeploys(ctx, conn.ID)
	if len(deploys) != 1 {
		t.Fatalf("expected 1 audit row, got %d", len(deploys))
	}
	var sawRotation bool
	for _, e := range deploys[0].Diff {
		if e.OldValue == "hunter2" || e.NewValue == "hunter3" {
			t.Fatalf("secret leaked into audit: %+v", e)
		}
		if e.Field == "password" {
			sawRotation = true
			if e.OldValue != configmask.Placeholder || e.NewValue != configmask.Placeholder {
				t.Fatalf("rotated secret not masked in audit: %+v", e)
			}
		}
	}
	if !sawRotation {
		t.Fatalf("secret rotation missing from audit diff: %+v", deploys[0].Diff)
	}
}

func TestDeploySecondVersionMonotonic(t *testing.T) {
	ctx := context.Background()
	reg := configregistry.NewMemoryRegistry()
	mgr, _, conn := fixture(t, reg)

	for i, host := range []string{"db2", "db3"} {
		if _, err := mgr.Stage(ctx, conn.ID, pipeline.Config{"database.hostname": host}, ""); err != nil {
			t.Fatalf("stage %d: %v", i, err)
		}
		audit, err := mgr.Deploy(ctx, conn.ID, "")
		if err != nil {
			t.Fatalf("deploy %d: %v", i, err)
		}
		if audit.Version != i+1 {
			t.Fatalf("expected version %d, got %d", i+1, audit.Version)
		}
	}
}

func TestDeployWithoutPending(t *testing.T) {
	ctx := context.Background()
	mgr, _, conn := fixture(t, configregistry.NewMemoryRegistry())

	if _, err := mgr.Deploy(ctx, conn.ID, ""); !errors.Is(err, pipeline.ErrNoPendingChanges) {
		t.Fatalf("expected ErrNoPendingChanges, got %v", err)
	}
}

func TestDeployDegradedWhenRegistryUnreachable(t *testing.T) {
	ctx := context.Background()
	mgr, st, conn := fixture(t, unreachableRegistry{})

	staged := pipeline.Config{"database.hostname": "db2"}
	if _, err := mgr.Stage(ctx, conn.ID, staged, ""); err != nil {
		t.Fatalf("stage: %v", err)
	}

	audit, err := mgr.Deploy(ctx, conn.ID, "")
	if err != nil {
		t.Fatalf("degraded deploy must succeed: %v", err)
	}
	if !audit.Degraded || audit.Version != 0 {
		t.Fatalf("expected degraded audit with no version, got %+v", audit)
	}

	got, _ := st.GetConnector(ctx, conn.ID)
	if got.HasPendingChanges() {
		t.Fatal("pending must be cleared even in degraded mode")
	}
	if got.Config["database.hostname"] != "db2" {
		t.Fatalf("pending config not written as persisted config: %v", got.Config)
	}
}

func TestDismissClearsWithoutVersion(t *testing.T) {
	ctx := context.Background()
	reg := configregistry.NewMemoryRegistry()
	mgr, st, conn := fixture(t, reg)

	if err := mgr.Dismiss(ctx, conn.ID); !errors.Is(err, pipeline.ErrNoPendingChanges) {
		t.Fatalf("expected ErrNoPendingChanges, got %v", err)
	}

	if _, err := mgr.Stage(ctx, conn.ID, pipeline.Config{"database.hostname": "db2"}, ""); err != nil {
		t.Fatalf("stage: %v", err)
	}
	if err := mgr.Dismiss(ctx, conn.ID); err != nil {
		t.Fatalf("dismiss: %v", err)
	}

	got, _ := st.GetConnector(ctx, conn.ID)
	if got.HasPendingChanges() {
		t.Fatal("pending must be cleared after dismiss")
	}
	if versions, _ := reg.ListVersions(ctx, "orders-src"); len(versions) != 0 {
		t.Fatalf("dismiss must not create versions, got %d", len(versions))
	}
	if deploys, _ := st.ListDeploys(ctx, conn.ID); len(deploys) != 0 {
		t.Fatalf("dismiss must not record audits, got %d", len(deploys))
	}
}

func TestMaskPlaceholderStable(t *testing.T) {
	// The diff stores masked values; the placeholder is part of the audit
	// contract and must stay fixed-length.
	if len(configmask.Placeholder) != 8 {
		t.Fatalf("placeholder length changed: %q", configmask.Placeholder)
	}
}
