package configregistry

import (
	"context"
	"errors"
	"testing"

	"pgregory.net/rapid"

	"github.com/pipewatch/pipewatch/pkg/pipeline"
)

func createReq(name string, config pipeline.Config) CreateRequest {
	return CreateRequest{
		Name:           name,
		Kind:           pipeline.ConnectorSource,
		ConnectorClass: "io.debezium.connector.postgresql.PostgresConnector",
		Config:         config,
	}
}

func TestCreateVersionMonotonic(t *testing.T) {
	ctx := context.Background()
	reg := NewMemoryRegistry()

	for i := 1; i <= 3; i++ {
		v, err := reg.CreateVersion(ctx, createReq("orders-src", pipeline.Config{"tasks.max": "1"}))
		if err != nil {
			t.Fatalf("create version %d: %v", i, err)
		}
		if v.Version != i {
			t.Fatalf("expected version %d, got %d", i, v.Version)
		}
	}

	// Identical content: new version number, no dedup, same checksum.
	versions, err := reg.ListVersions(ctx, "orders-src")
	if err != nil {
		t.Fatalf("list versions: %v", err)
	}
	if len(versions) != 3 {
		t.Fatalf("expected 3 versions, got %d", len(versions))
	}
	if versions[0].Checksum != versions[2].Checksum {
		t.Fatal("identical configs must hash identically")
	}
}

func TestCreateVersionValidation(t *testing.T) {
	ctx := context.Background()
	reg := NewMemoryRegistry()

	if _, err := reg.CreateVersion(ctx, createReq("", pipeline.Config{"k": "v"})); err == nil {
		t.Fatal("expected error for empty name")
	}
	if _, err := reg.CreateVersion(ctx, createReq("orders-src", nil)); !errors.Is(err, pipeline.ErrEmptyConfig) {
		t.Fatalf("expected ErrEmptyConfig, got %v", err)
	}
}

func TestVersionImmutability(t *testing.T) {
	ctx := context.Background()
	reg := NewMemoryRegistry()

	created, err := reg.CreateVersion(ctx, createReq("orders-src", pipeline.Config{"database.hostname": "db1"}))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := reg.GetVersion(ctx, "orders-src", created.Version)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	got.Config["database.hostname"] = "mutated"

	again, err := reg.GetVersion(ctx, "orders-src", created.Version)
	if err != nil {
		t.Fatalf("get again: %v", err)
	}
	if again.Config["database.hostname"] != "db1" {
		t.Fatalf("stored version mutated through returned copy: %v", again.Config)
	}

	// Later versions must not disturb earlier ones.
	if _, err := reg.CreateVersion(ctx, createReq("orders-src", pipeline.Config{"database.hostname": "db2"})); err != nil {
		t.Fatalf("create v2: %v", err)
	}
	first, err := reg.GetVersion(ctx, "orders-src", 1)
	if err != nil {
		t.Fatalf("get v1: %v", err)
	}
	if first.Config["database.hostname"] != "db1" {
		t.Fatalf("v1 changed after v2 created: %v", first.Config)
	}
}

func TestActivateVersionPointer(t *testing.T) {
	ctx := context.Background()
	reg := NewMemoryRegistry()

	if err := reg.ActivateVersion(ctx, "orders-src", 1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing version, got %v", err)
	}

	v1, _ := reg.CreateVersion(ctx, createReq("orders-src", pipeline.Config{"rev": "one"}))
	v2, _ := reg.CreateVersion(ctx, createReq("orders-src", pipeline.Config{"rev": "two"}))

	if _, err := reg.ActiveVersion(ctx, "orders-src"); !errors.Is(err, ErrNoActiveVersion) {
		t.Fatalf("expected ErrNoActiveVersion before activate, got %v", err)
	}

	if err := reg.ActivateVersion(ctx, "orders-src", v2.Version); err != nil {
		t.Fatalf("activate v2: %v", err)
	}
	config, err := reg.ActiveConfig(ctx, "orders-src")
	if err != nil {
		t.Fatalf("active config: %v", err)
	}
	if config["rev"] != "two" {
		t.Fatalf("active config should be v2, got %v", config)
	}

	// Repoint backwards is allowed; pointer always references an existing version.
	if err := reg.ActivateVersion(ctx, "orders-src", v1.Version); err != nil {
		t.Fatalf("activate v1: %v", err)
	}
	config, _ = reg.ActiveConfig(ctx, "orders-src")
	if config["rev"] != "one" {
		t.Fatalf("active config should be v1, got %v", config)
	}

	if err := reg.ActivateVersion(ctx, "orders-src", 99); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for version 99, got %v", err)
	}
}

func TestChecksumDeterministicRapid(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		raw := rapid.MapOfN(rapid.StringMatching(`[a-z.]{1,12}`), rapid.String(), 1, 8).Draw(t, "config")
		config := make(pipeline.Config, len(raw))
		for k, v := range raw {
			config[k] = v
		}
		if Checksum(config) != Checksum(config.Clone()) {
			t.Fatal("checksum differs for equal configs")
		}
	})
}

func TestChecksumDistinguishesContent(t *testing.T) {
	a := Checksum(pipeline.Config{"k": "v1"})
	b := Checksum(pipeline.Config{"k": "v2"})
	if a == b {
		t.Fatal("different configs must not collide trivially")
	}
}
