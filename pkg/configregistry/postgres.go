package configregistry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pipewatch/pipewatch/pkg/pipeline"
)

type postgresRegistry struct {
	pool *pgxpool.Pool
}

// infraErr types a database failure as transient, matching the HTTP
// backend, so callers can degrade instead of hard-failing while the
// registry is unreachable.
func infraErr(op string, err error) error {
	return &pipeline.TransientError{Op: op, Err: err}
}

func newPostgresRegistry(ctx context.Context, dsn string) (*postgresRegistry, error) {
	if dsn == "" {
		return nil, errors.New("postgres DSN is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect config registry: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping config registry: %w", err)
	}
	if err := runMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &postgresRegistry{pool: pool}, nil
}

func (r *postgresRegistry) CreateVersion(ctx context.Context, req CreateRequest) (pipeline.Version, error) {
	if err := validateCreate(req); err != nil {
		return pipeline.Version{}, err
	}
	configJSON, err := json.Marshal(req.Config)
	if err != nil {
		return pipeline.Version{}, fmt.Errorf("marshal config: %w", err)
	}
	checksum := Checksum(req.Config)

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return pipeline.Version{}, infraErr("begin create version", err)
	}
	defer tx.Rollback(ctx)

	// Serialize per-name version assignment on the name row lock.
	if _, err := tx.Exec(ctx,
		`INSERT INTO config_registry_names (name) VALUES ($1)
		 ON CONFLICT (name) DO NOTHING`, req.Name); err != nil {
		return pipeline.Version{}, infraErr("ensure registry name", err)
	}
	if _, err := tx.Exec(ctx,
		"SELECT name FROM config_registry_names WHERE name = $1 FOR UPDATE", req.Name); err != nil {
		return pipeline.Version{}, infraErr("lock registry name", err)
	}

	var next int
	if err := tx.QueryRow(ctx,
		"SELECT COALESCE(MAX(version), 0) + 1 FROM config_versions WHERE name = $1",
		req.Name).Scan(&next); err != nil {
		return pipeline.Version{}, infraErr("fetch next version", err)
	}

	v := pipeline.Version{
		Name:           req.Name,
		Kind:           req.Kind,
		ConnectorClass: req.ConnectorClass,
		Config:         req.Config.Clone(),
		Version:        next,
		Checksum:       checksum,
	}
	if err := tx.QueryRow(ctx,
		`INSERT INTO config_versions (name, kind, connector_class, config, version, checksum)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING created_at`,
		req.Name, string(req.Kind), req.ConnectorClass, configJSON, next, checksum,
	).Scan(&v.CreatedAt); err != nil {
		return pipeline.Version{}, infraErr("insert config version", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return pipeline.Version{}, infraErr("commit create version", err)
	}
	return v, nil
}

func (r *postgresRegistry) ActivateVersion(ctx context.Context, name string, version int) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return infraErr("begin activate", err)
	}
	defer tx.Rollback(ctx)

	var exists bool
	if err := tx.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM config_versions WHERE name = $1 AND version = $2)",
		name, version).Scan(&exists); err != nil {
		return infraErr("check version exists", err)
	}
	if !exists {
		return ErrNotFound
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO config_active_versions (name, version)
		 VALUES ($1, $2)
		 ON CONFLICT (name) DO UPDATE SET version = EXCLUDED.version, activated_at = now()`,
		name, version); err != nil {
		return infraErr("repoint active version", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return infraErr("commit activate", err)
	}
	return nil
}

func (r *postgresRegistry) GetVersion(ctx context.Context, name string, version int) (pipeline.Version, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT name, kind, connector_class, config, version, checksum, created_at
		 FROM config_versions WHERE name = $1 AND version = $2`,
		name, version)
	return scanVersion(row)
}

func (r *postgresRegistry) ActiveVersion(ctx context.Context, name string) (pipeline.Version, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT v.name, v.kind, v.connector_class, v.config, v.version, v.checksum, v.created_at
		 FROM config_versions v
		 JOIN config_active_versions a ON a.name = v.name AND a.version = v.version
		 WHERE v.name = $1`,
		name)
	v, err := scanVersion(row)
	if errors.Is(err, ErrNotFound) {
		// Distinguish "name unknown" from "no pointer yet".
		var known bool
		if checkErr := r.pool.QueryRow(ctx,
			"SELECT EXISTS (SELECT 1 FROM config_versions WHERE name = $1)", name).Scan(&known); checkErr == nil && known {
			return pipeline.Version{}, ErrNoActiveVersion
		}
	}
	return v, err
}

func (r *postgresRegistry) ActiveConfig(ctx context.Context, name string) (pipeline.Config, error) {
	v, err := r.ActiveVersion(ctx, name)
	if err != nil {
		return nil, err
	}
	return v.Config, nil
}

func (r *postgresRegistry) ListVersions(ctx context.Context, name string) ([]pipeline.Version, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT name, kind, connector_class, config, version, checksum, created_at
		 FROM config_versions WHERE name = $1 ORDER BY version`,
		name)
	if err != nil {
		return nil, infraErr("list config versions", err)
	}
	defer rows.Close()

	versions := make([]pipeline.Version, 0)
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	if err := rows.Err(); err != nil {
		return nil, infraErr("iterate config versions", err)
	}
	return versions, nil
}

func (r *postgresRegistry) Close() error {
	if r.pool != nil {
		r.pool.Close()
	}
	return nil
}

func scanVersion(row pgx.Row) (pipeline.Version, error) {
	var v pipeline.Version
	var kind string
	var configJSON []byte
	if err := row.Scan(&v.Name, &kind, &v.ConnectorClass, &configJSON, &v.Version, &v.Checksum, &v.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return pipeline.Version{}, ErrNotFound
		}
		return pipeline.Version{}, infraErr("scan config version", err)
	}
	v.Kind = pipeline.ConnectorType(kind)
	if err := json.Unmarshal(configJSON, &v.Config); err != nil {
		return pipeline.Version{}, fmt.Errorf("unmarshal config: %w", err)
	}
	return v, nil
}
