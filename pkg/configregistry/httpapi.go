package configregistry

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

// httpRegistry talks to a remote registry service. The wire contract is a
// JSON envelope: {"success": bool, "data": ..., "error": "message"}.
type httpRegistry struct {
	baseURL string
	client  *http.Client
	token   string
}

func newHTTPRegistry(cfg Config) (*httpRegistry, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("registry_url is required for http registry")
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &httpRegistry{
		baseURL: strings.TrimSuffix(cfg.URL, "/"),
		client:  &http.Client{Timeout: timeout},
		token:   cfg.Token,
	}, nil
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

type wireVersion struct {
	Name           string          `json:"name"`
	Kind           string          `json:"kind"`
	ConnectorClass string          `json:"connectorClass"`
	Config         pipeline.Config `json:"config"`
	Version        int             `json:"version"`
	Checksum       string          `json:"checksum"`
	CreatedAt      time.Time       `json:"created_at"`
}

func (w wireVersion) toVersion() pipeline.Version {
	return pipeline.Version{
		Name:           w.Name,
		Kind:           pipeline.ConnectorType(w.Kind),
		ConnectorClass: w.ConnectorClass,
		Config:         w.Config,
		Version:        w.Version,
		Checksum:       w.Checksum,
		CreatedAt:      w.CreatedAt,
	}
}

func (r *httpRegistry) CreateVersion(ctx context.Context, req CreateRequest) (pipeline.Version, error) {
	if err := validateCreate(req); err != nil {
		return pipeline.Version{}, err
	}
	payload := map[string]any{
		"name":           req.Name,
		"kind":           string(req.Kind),
		"connectorClass": req.ConnectorClass,
		"config":         req.Config,
	}
	var result struct {
		Version wireVersion `json:"version"`
	}
	if err := r.do(ctx, http.MethodPost, "/registry/versions", payload, &result); err != nil {
		return pipeline.Version{}, err
	}
	v := result.Version.toVersion()
	if v.Name == "" {
		v.Name = req.Name
	}
	if v.Config == nil {
		v.Config = req.Config.Clone()
	}
	if v.Kind == "" {
		v.Kind = req.Kind
	}
	if v.ConnectorClass == "" {
		v.ConnectorClass = req.ConnectorClass
	}
	return v, nil
}

func (r *httpRegistry) ActivateVersion(ctx context.Context, name string, version int) error {
	payload := map[string]any{"name": name, "version": version}
	return r.do(ctx, http.MethodPost, "/registry/activate", payload, nil)
}

func (r *httpRegistry) GetVersion(ctx context.Context, name string, version int) (pipeline.Version, error) {
	var result wireVersion
	path := fmt.Sprintf("/registry/%s/versions/%d", url.PathEscape(name), version)
	if err := r.do(ctx, http.MethodGet, path, nil, &result); err != nil {
		return pipeline.Version{}, err
	}
	return result.toVersion(), nil
}

func (r *httpRegistry) ActiveVersion(ctx context.Context, name string) (pipeline.Version, error) {
	var result wireVersion
	path := fmt.Sprintf("/registry/%s/active", url.PathEscape(name))
	if err := r.do(ctx, http.MethodGet, path, nil, &result); err != nil {
		return pipeline.Version{}, err
	}
	return result.toVersion(), nil
}

func (r *httpRegistry) ActiveConfig(ctx context.Context, name string) (pipeline.Config, error) {
	// The remote answers config|null for this endpoint; null means the
	// name has no active pointer.
	var result *pipeline.Config
	path := fmt.Sprintf("/registry/%s/active-config", url.PathEscape(name))
	if err := r.do(ctx, http.MethodGet, path, nil, &result); err != nil {
		return nil, err
	}
	if result == nil || *result == nil {
		return nil, ErrNoActiveVersion
	}
	return *result, nil
}

func (r *httpRegistry) ListVersions(ctx context.Context, name string) ([]pipeline.Version, error) {
	var result []wireVersion
	path := fmt.Sprintf("/registry/%s/versions", url.PathEscape(name))
	if err := r.do(ctx, http.MethodGet, path, nil, &result); err != nil {
		return nil, err
	}
	versions := make([]pipeline.Version, 0, len(result))
	for _, w := range result {
		versions = append(versions, w.toVersion())
	}
	return versions, nil
}

func (r *httpRegistry) Close() error {
	r.client.CloseIdleConnections()
	return nil
}

func (r *httpRegistry) do(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal registry payload: %w", err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, r.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create registry request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return &pipeline.TransientError{Op: "registry " + method + " " + path, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &pipeline.TransientError{Op: "read registry response", Err: err}
	}
	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return &pipeline.TransientError{Op: "decode registry response", Err: err}
	}
	if !env.Success {
		msg := env.Error
		if msg == "" {
			msg = fmt.Sprintf("registry returned status %d", resp.StatusCode)
		}
		if strings.Contains(strings.ToLower(msg), "not found") {
			return ErrNotFound
		}
		return fmt.Errorf("registry %s %s: %s", method, path, msg)
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return &pipeline.TransientError{Op: "decode registry data", Err: err}
	}
	return nil
}
