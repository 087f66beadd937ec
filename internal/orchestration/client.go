// Package orchestration is the client for the external connector
// orchestration API: live task status reads and the pause/resume/restart
// control commands. The API is asynchronous — a command can return success
// before the task has actually transitioned — so callers follow every
// command with a burst refresh rather than trusting the response.
package orchestration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pipewatch/pipewatch/pkg/pipeline"
)

// ConnectorStatus is the orchestration API's per-connector status payload.
type ConnectorStatus struct {
	Name      string `json:"name"`
	Connector struct {
		State    string `json:"state"`
		WorkerID string `json:"worker_id"`
	} `json:"connector"`
	Tasks []struct {
		ID       int    `json:"id"`
		State    string `json:"state"`
		WorkerID string `json:"worker_id"`
	} `json:"tasks"`
}

// TaskList converts the wire payload into domain tasks.
func (s ConnectorStatus) TaskList() []pipeline.Task {
	tasks := make([]pipeline.Task, 0, len(s.Tasks))
	for _, t := range s.Tasks {
		tasks = append(tasks, pipeline.Task{
			ConnectorName: s.Name,
			TaskNumber:    t.ID,
			State:         t.State,
			WorkerID:      t.WorkerID,
		})
	}
	return tasks
}

// DiscoveredTable is one row from the table discovery API.
type DiscoveredTable struct {
	Schema       string `json:"schema"`
	Table        string `json:"table"`
	RowCount     int64  `json:"rowCount"`
	SizeEstimate int64  `json:"sizeEstimate"`
}

// ListTablesRequest carries source connection parameters for discovery.
type ListTablesRequest struct {
	SourceType string            `json:"source_type"`
	Connection map[string]string `json:"connection"`
}

// Config parameterizes the client.
type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// Client talks to the orchestration control and status APIs.
type Client struct {
	baseURL string
	client  *http.Client
	token   string
}

func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("orchestration base URL is required")
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		token:   cfg.Token,
	}, nil
}

// Status fetches the live connector and task states for one connector.
func (c *Client) Status(ctx context.Context, name string) (ConnectorStatus, error) {
	var status ConnectorStatus
	path := fmt.Sprintf("/connectors/%s/status", url.PathEscape(name))
	if err := c.get(ctx, path, &status); err != nil {
		return ConnectorStatus{}, err
	}
	if status.Name == "" {
		status.Name = name
	}
	return status, nil
}

// Pause asks the orchestrator to pause all tasks of a connector.
func (c *Client) Pause(ctx context.Context, name string) error {
	return c.command(ctx, "pause", fmt.Sprintf("/connectors/%s/pause", url.PathEscape(name)), nil)
}

// Resume asks the orchestrator to resume a paused connector.
func (c *Client) Resume(ctx context.Context, name string) error {
	return c.command(ctx, "resume", fmt.Sprintf("/connectors/%s/resume", url.PathEscape(name)), nil)
}

// RestartTask restarts one task of a connector.
func (c *Client) RestartTask(ctx context.Context, name string, task int) error {
	return c.command(ctx, "restart-task",
		fmt.Sprintf("/connectors/%s/tasks/%d/restart", url.PathEscape(name), task), nil)
}

// DeployPending asks the backend to apply a connector's pending config to
// the running connector instance.
func (c *Client) DeployPending(ctx context.Context, connectorID string) error {
	return c.command(ctx, "deploy-pending",
		fmt.Sprintf("/connectors/%s/deploy-pending", url.PathEscape(connectorID)), nil)
}

// ListTables discovers candidate tables on the source database.
func (c *Client) ListTables(ctx context.Context, req ListTablesRequest) ([]DiscoveredTable, error) {
	raw, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal list-tables request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/list-tables", bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("create list-tables request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	c.authorize(httpReq)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, &pipeline.TransientError{Op: "list tables", Err: err}
	}
	defer resp.Body.Close()

	var result struct {
		Success bool              `json:"success"`
		Error   string            `json:"error"`
		Tables  []DiscoveredTable `json:"tables"`
	}
	if err := decodeBody(resp.Body, &result); err != nil {
		return nil, err
	}
	if !result.Success {
		return nil, &pipeline.CommandRejectedError{Command: "list-tables", Message: result.Error}
	}
	return result.Tables, nil
}

func (c *Client) command(ctx context.Context, command, path string, payload any) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal %s payload: %w", command, err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create %s request: %w", command, err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.authorize(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return &pipeline.TransientError{Op: command, Err: err}
	}
	defer resp.Body.Close()

	var result struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
	}
	if err := decodeBody(resp.Body, &result); err != nil {
		return err
	}
	if !result.Success {
		msg := result.Error
		if msg == "" {
			msg = fmt.Sprintf("status %d", resp.StatusCode)
		}
		// Surfaced verbatim to the operator; state is left unchanged and
		// nothing retries automatically.
		return &pipeline.CommandRejectedError{Command: command, Message: msg}
	}
	return nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	c.authorize(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return &pipeline.TransientError{Op: "GET " + path, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &pipeline.TransientError{
			Op:  "GET " + path,
			Err: fmt.Errorf("status %d", resp.StatusCode),
		}
	}
	return decodeBody(resp.Body, out)
}

func (c *Client) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

func decodeBody(body io.Reader, out any) error {
	raw, err := io.ReadAll(io.LimitReader(body, 1<<20))
	if err != nil {
		return &pipeline.TransientError{Op: "read response", Err: err}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &pipeline.TransientError{Op: "decode response", Err: err}
	}
	return nil
}
