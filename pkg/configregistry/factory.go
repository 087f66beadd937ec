package configregistry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrRegistryDisabled is returned when config selects no registry backend.
// Callers fall back to inline connector configs.
var ErrRegistryDisabled = errors.New("config registry disabled")

// Config selects and parameterizes a registry backend.
type Config struct {
	Type    string
	DSN     string
	URL     string
	Token   string
	Timeout time.Duration
	Cache   bool
}

// NewRegistry creates a registry from config. Returns ErrRegistryDisabled
// if the backend is disabled, which is not a failure.
func NewRegistry(ctx context.Context, cfg Config) (Registry, error) {
	typ := strings.ToLower(strings.TrimSpace(cfg.Type))
	switch typ {
	case "", "none", "disabled":
		return nil, ErrRegistryDisabled
	case "local", "memory", "mem":
		return wrap(NewMemoryRegistry(), cfg), nil
	case "postgres", "db":
		if cfg.DSN == "" {
			return nil, fmt.Errorf("registry_dsn is required for postgres registry")
		}
		reg, err := newPostgresRegistry(ctx, cfg.DSN)
		if err != nil {
			return nil, err
		}
		return wrap(reg, cfg), nil
	case "http", "remote":
		reg, err := newHTTPRegistry(cfg)
		if err != nil {
			return nil, err
		}
		return wrap(reg, cfg), nil
	default:
		return nil, fmt.Errorf("unsupported config registry type %q", typ)
	}
}

func wrap(base Registry, cfg Config) Registry {
	if !cfg.Cache {
		return base
	}
	return newCachedRegistry(base)
}
