package resolver

import (
	"context"
	"errors"
	"testing"

	"github.com/pipewatch/pipewatch/pkg/configregistry"
	"github.com/pipewatch/pipewatch/pkg/pipeline"
)

type failingRegistry struct {
	configregistry.Registry
}

func (f failingRegistry) ActiveVersion(context.Context, string) (pipeline.Version, error) {
	return pipeline.Version{}, &pipeline.TransientError{Op: "registry get", Err: errors.New("connection refused")}
}

func TestResolveFromRegistry(t *testing.T) {
	ctx := context.Background()
	reg := configregistry.NewMemoryRegistry()
	v, err := reg.CreateVersion(ctx, configregistry.CreateRequest{
		Name:   "orders-src",
		Kind:   pipeline.ConnectorSource,
		Config: pipeline.Config{"database.hostname": "live-host"},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := reg.ActivateVersion(ctx, "orders-src", v.Version); err != nil {
		t.Fatalf("activate: %v", err)
	}

	conn := &pipeline.Connector{
		Name: "orders-src",
		Ref: &pipeline.RegistryRef{
			RegistryConnector: "orders-src",
			SnapshotConfig:    pipeline.Config{"database.hostname": "stale-host"},
		},
	}
	res := New(reg, nil).Resolve(ctx, conn)
	if res.Source != SourceRegistry || !res.Live() {
		t.Fatalf("expected registry source, got %q", res.Source)
	}
	if res.Config["database.hostname"] != "live-host" {
		t.Fatalf("expected live config, got %v", res.Config)
	}
	if res.Version != v.Version {
		t.Fatalf("expected version %d, got %d", v.Version, res.Version)
	}
}

func TestResolveFallsBackToSnapshot(t *testing.T) {
	conn := &pipeline.Connector{
		Name: "orders-src",
		Ref: &pipeline.RegistryRef{
			RegistryConnector: "orders-src",
			RegistryVersion:   7,
			SnapshotConfig:    pipeline.Config{"database.hostname": "snapshot-host"},
		},
	}
	res := New(failingRegistry{}, nil).Resolve(context.Background(), conn)
	if res.Source != SourceSnapshot || res.Live() {
		t.Fatalf("expected snapshot source, got %q", res.Source)
	}
	if res.Config["database.hostname"] != "snapshot-host" {
		t.Fatalf("expected snapshot config, got %v", res.Config)
	}
	if res.Version != 7 {
		t.Fatalf("snapshot resolution should carry the last known version, got %d", res.Version)
	}
}

func TestResolveMissingEntryFallsBack(t *testing.T) {
	// Registry reachable but entry absent: same fallback, no error raised.
	conn := &pipeline.Connector{
		Name:   "orders-src",
		Config: pipeline.Config{"database.hostname": "flat-host"},
		Ref:    &pipeline.RegistryRef{RegistryConnector: "orders-src"},
	}
	res := New(configregistry.NewMemoryRegistry(), nil).Resolve(context.Background(), conn)
	if res.Source != SourceSnapshot {
		t.Fatalf("expected snapshot source, got %q", res.Source)
	}
	if res.Config["database.hostname"] != "flat-host" {
		t.Fatalf("expected flat config fallback, got %v", res.Config)
	}
}

func TestResolveInline(t *testing.T) {
	conn := &pipeline.Connector{
		Name:   "orders-sink",
		Config: pipeline.Config{"topics": "orders"},
	}
	res := New(nil, nil).Resolve(context.Background(), conn)
	if res.Source != SourceInline {
		t.Fatalf("expected inline source, got %q", res.Source)
	}
	if res.Config["topics"] != "orders" {
		t.Fatalf("unexpected config: %v", res.Config)
	}
}

func TestResolveNilRegistryWithRef(t *testing.T) {
	conn := &pipeline.Connector{
		Name: "orders-src",
		Ref: &pipeline.RegistryRef{
			RegistryConnector: "orders-src",
			SnapshotConfig:    pipeline.Config{"k": "v"},
		},
	}
	res := New(nil, nil).Resolve(context.Background(), conn)
	if res.Source != SourceSnapshot {
		t.Fatalf("disabled registry should resolve snapshot, got %q", res.Source)
	}
}
