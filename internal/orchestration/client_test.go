package orchestration

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pipewatch/pipewatch/pkg/pipeline"
)

func TestStatusDecodesTasks(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/connectors/orders-src/status" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"name":      "orders-src",
			"connector": map[string]any{"state": "RUNNING", "worker_id": "worker-1"},
			"tasks": []map[string]any{
				{"id": 0, "state": "RUNNING", "worker_id": "worker-1"},
				{"id": 1, "state": "PAUSED", "worker_id": "worker-2"},
			},
		})
	}))
	defer server.Close()

	client, err := NewClient(Config{BaseURL: server.URL})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	status, err := client.Status(context.Background(), "orders-src")
	if err != nil {
		t.Fatalf("status: %v", err)
	}

	tasks := status.TaskList()
	if len(tasks) != 2 {
		t.Fatalf("expected 2 tasks, got %d", len(tasks))
	}
	if tasks[0].State != pipeline.TaskRunning || tasks[1].State != pipeline.TaskPaused {
		t.Fatalf("unexpected task states: %+v", tasks)
	}
	if tasks[1].ConnectorName != "orders-src" || tasks[1].TaskNumber != 1 {
		t.Fatalf("task identity wrong: %+v", tasks[1])
	}
}

func TestCommandRejectedSurfacesMessage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"success": false,
			"error":   "connector orders-src is rebalancing",
		})
	}))
	defer server.Close()

	client, _ := NewClient(Config{BaseURL: server.URL})
	err := client.Pause(context.Background(), "orders-src")
	if !pipeline.IsCommandRejected(err) {
		t.Fatalf("expected command rejection, got %v", err)
	}
	var rejected *pipeline.CommandRejectedError
	if !errors.As(err, &rejected) || rejected.Message != "connector orders-src is rebalancing" {
		t.Fatalf("rejection message not verbatim: %v", err)
	}
}

func TestCommandPathsAndSuccess(t *testing.T) {
	var paths []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.Method+" "+r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{"success": true})
	}))
	defer server.Close()

	client, _ := NewClient(Config{BaseURL: server.URL})
	ctx := context.Background()
	if err := client.Pause(ctx, "orders-src"); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if err := client.Resume(ctx, "orders-src"); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if err := client.RestartTask(ctx, "orders-src", 2); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if err := client.DeployPending(ctx, "conn-1"); err != nil {
		t.Fatalf("deploy pending: %v", err)
	}

	expect := []string{
		"POST /connectors/orders-src/pause",
		"POST /connectors/orders-src/resume",
		"POST /connectors/orders-src/tasks/2/restart",
		"POST /connectors/conn-1/deploy-pending",
	}
	for i, p := range expect {
		if paths[i] != p {
			t.Fatalf("expected %q, got %q", p, paths[i])
		}
	}
}

func TestListTables(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/list-tables" {
			http.NotFound(w, r)
			return
		}
		var req ListTablesRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Connection["host"] != "db.internal" {
			t.Errorf("connection params not forwarded: %v", req.Connection)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"tables": []map[string]any{
				{"schema": "public", "table": "orders", "rowCount": 100, "sizeEstimate": 4096},
			},
		})
	}))
	defer server.Close()

	client, _ := NewClient(Config{BaseURL: server.URL})
	tables, err := client.ListTables(context.Background(), ListTablesRequest{
		SourceType: "postgres",
		Connection: map[string]string{"host": "db.internal"},
	})
	if err != nil {
		t.Fatalf("list tables: %v", err)
	}
	if len(tables) != 1 || tables[0].Table != "orders" || tables[0].RowCount != 100 {
		t.Fatalf("unexpected tables: %+v", tables)
	}
}

func TestTransportFailureIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	client, _ := NewClient(Config{BaseURL: server.URL})
	if _, err := client.Status(context.Background(), "orders-src"); !pipeline.IsTransient(err) {
		t.Fatalf("expected transient error, got %v", err)
	}
}
