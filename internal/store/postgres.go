package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pipewatch/pipewatch/pkg/pipeline"
)

// PostgresStore persists dashboard state in Postgres.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	if dsn == "" {
		return nil, errors.New("postgres DSN is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := runMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func (s *PostgresStore) CreatePipeline(ctx context.Context, p pipeline.Pipeline) (pipeline.Pipeline, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.State == "" {
		p.State = pipeline.StateDraft
	}
	row := s.pool.QueryRow(ctx,
		`INSERT INTO pipelines (id, name, source_type, destination_type, state)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING created_at, updated_at`,
		p.ID, p.Name, p.SourceType, p.DestinationType, string(p.State))
	if err := row.Scan(&p.CreatedAt, &p.UpdatedAt); err != nil {
		if isUniqueViolation(err) {
			return pipeline.Pipeline{}, pipeline.ErrAlreadyExists
		}
		return pipeline.Pipeline{}, fmt.Errorf("insert pipeline: %w", err)
	}
	return p, nil
}

func (s *PostgresStore) GetPipeline(ctx context.Context, id string) (pipeline.Pipeline, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, name, source_type, destination_type, state, created_at, updated_at
		 FROM pipelines WHERE id = $1`, id)
	p, err := scanPipeline(row)
	if err != nil {
		return pipeline.Pipeline{}, err
	}

	rows, err := s.pool.Query(ctx, connectorColumns+" FROM connectors WHERE pipeline_id = $1", id)
	if err != nil {
		return pipeline.Pipeline{}, fmt.Errorf("list pipeline connectors: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		c, err := scanConnector(rows)
		if err != nil {
			return pipeline.Pipeline{}, err
		}
		conn := c
		switch c.Type {
		case pipeline.ConnectorSource:
			p.Source = &conn
		case pipeline.ConnectorSink:
			p.Sink = &conn
		}
	}
	if err := rows.Err(); err != nil {
		return pipeline.Pipeline{}, fmt.Errorf("iterate pipeline connectors: %w", err)
	}
	return p, nil
}

func (s *PostgresStore) ListPipelines(ctx context.Context) ([]pipeline.Pipeline, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, source_type, destination_type, state, created_at, updated_at
		 FROM pipelines ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list pipelines: %w", err)
	}
	defer rows.Close()

	pipelines := make([]pipeline.Pipeline, 0)
	for rows.Next() {
		p, err := scanPipeline(rows)
		if err != nil {
			return nil, err
		}
		pipelines = append(pipelines, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pipelines: %w", err)
	}
	return pipelines, nil
}

func (s *PostgresStore) SetPipelineState(ctx context.Context, id string, state pipeline.State) error {
	cmd, err := s.pool.Exec(ctx,
		"UPDATE pipelines SET state = $2, updated_at = now() WHERE id = $1",
		id, string(state))
	if err != nil {
		return fmt.Errorf("update pipeline state: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return pipeline.ErrNotFound
	}
	return nil
}

const connectorColumns = `SELECT id, pipeline_id, name, type, connector_class, tasks_max,
	config, registry_ref, pending_config, pending_config_updated_by, pending_config_updated_at,
	created_at, updated_at`

func (s *PostgresStore) CreateConnector(ctx context.Context, c pipeline.Connector) (pipeline.Connector, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.TasksMax <= 0 {
		c.TasksMax = 1
	}
	configJSON, err := json.Marshal(c.Config)
	if err != nil {
		return pipeline.Connector{}, fmt.Errorf("marshal config: %w", err)
	}
	refJSON, err := marshalRef(c.Ref)
	if err != nil {
		return pipeline.Connector{}, err
	}
	row := s.pool.QueryRow(ctx,
		`INSERT INTO connectors (id, pipeline_id, name, type, connector_class, tasks_max, config, registry_ref)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING created_at, updated_at`,
		c.ID, c.PipelineID, c.Name, string(c.Type), c.ConnectorClass, c.TasksMax, configJSON, refJSON)
	if err := row.Scan(&c.CreatedAt, &c.UpdatedAt); err != nil {
		if isUniqueViolation(err) {
			return pipeline.Connector{}, pipeline.ErrAlreadyExists
		}
		return pipeline.Connector{}, fmt.Errorf("insert connector: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) GetConnector(ctx context.Context, id string) (pipeline.Connector, error) {
	row := s.pool.QueryRow(ctx, connectorColumns+" FROM connectors WHERE id = $1", id)
	return scanConnector(row)
}

func (s *PostgresStore) UpdateConnectorConfig(ctx context.Context, id string, config pipeline.Config, ref *pipeline.RegistryRef) error {
	configJSON, err := json.Marshal(config)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	refJSON, err := marshalRef(ref)
	if err != nil {
		return err
	}
	cmd, err := s.pool.Exec(ctx,
		"UPDATE connectors SET config = $2, registry_ref = $3, updated_at = now() WHERE id = $1",
		id, configJSON, refJSON)
	if err != nil {
		return fmt.Errorf("update connector config: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return pipeline.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) SetPendingConfig(ctx context.Context, id string, config pipeline.Config, updatedBy string, updatedAt time.Time) error {
	var configJSON any
	var by, at any
	if config != nil {
		raw, err := json.Marshal(config)
		if err != nil {
			return fmt.Errorf("marshal pending config: %w", err)
		}
		configJSON = raw
		by = emptyToNull(updatedBy)
		if updatedAt.IsZero() {
			updatedAt = time.Now().UTC()
		}
		at = updatedAt
	}
	cmd, err := s.pool.Exec(ctx,
		`UPDATE connectors
		 SET pending_config = $2, pending_config_updated_by = $3, pending_config_updated_at = $4, updated_at = now()
		 WHERE id = $1`,
		id, configJSON, by, at)
	if err != nil {
		return fmt.Errorf("set pending config: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return pipeline.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) UpsertTables(ctx context.Context, pipelineID string, tables []pipeline.Table) error {
	for _, t := range tables {
		if t.ID == "" {
			t.ID = uuid.NewString()
		}
		_, err := s.pool.Exec(ctx,
			`INSERT INTO pipeline_tables
			 (id, pipeline_id, schema_name, table_name, included, source_topic, destination_table, row_count, size_estimate, status)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			 ON CONFLICT (pipeline_id, schema_name, table_name) DO UPDATE SET
			   included = EXCLUDED.included,
			   source_topic = EXCLUDED.source_topic,
			   destination_table = EXCLUDED.destination_table,
			   row_count = EXCLUDED.row_count,
			   size_estimate = EXCLUDED.size_estimate`,
			t.ID, pipelineID, t.SchemaName, t.TableName, t.Included,
			t.SourceTopic, t.DestinationTable, t.RowCount, t.SizeEstimate, statusOrNull(t.Status))
		if err != nil {
			return fmt.Errorf("upsert table %s: %w", t.QualifiedName(), err)
		}
	}
	return nil
}

func (s *PostgresStore) ListTables(ctx context.Context, pipelineID string) ([]pipeline.Table, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, pipeline_id, schema_name, table_name, included, source_topic, destination_table, row_count, size_estimate, status
		 FROM pipeline_tables WHERE pipeline_id = $1 ORDER BY schema_name, table_name`,
		pipelineID)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer rows.Close()

	tables := make([]pipeline.Table, 0)
	for rows.Next() {
		var t pipeline.Table
		var status *string
		if err := rows.Scan(&t.ID, &t.PipelineID, &t.SchemaName, &t.TableName, &t.Included,
			&t.SourceTopic, &t.DestinationTable, &t.RowCount, &t.SizeEstimate, &status); err != nil {
			return nil, fmt.Errorf("scan table: %w", err)
		}
		if status != nil {
			t.Status = pipeline.TableStatus(*status)
		}
		tables = append(tables, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tables: %w", err)
	}
	return tables, nil
}

func (s *PostgresStore) SetTableStatuses(ctx context.Context, pipelineID string, status pipeline.TableStatus) error {
	_, err := s.pool.Exec(ctx,
		"UPDATE pipeline_tables SET status = $2 WHERE pipeline_id = $1",
		pipelineID, string(status))
	if err != nil {
		return fmt.Errorf("set table statuses: %w", err)
	}
	return nil
}

func (s *PostgresStore) AppendMilestoneEvent(ctx context.Context, event pipeline.MilestoneEvent) error {
	metadataJSON, err := json.Marshal(event.Metadata)
	if err != nil {
		return fmt.Errorf("marshal milestone metadata: %w", err)
	}
	if event.RecordedAt.IsZero() {
		event.RecordedAt = time.Now().UTC()
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO milestone_events (pipeline_id, name, status, metadata, recorded_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		event.PipelineID, string(event.Name), string(event.Status), metadataJSON, event.RecordedAt)
	if err != nil {
		return fmt.Errorf("insert milestone event: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListMilestoneEvents(ctx context.Context, pipelineID string) ([]pipeline.MilestoneEvent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT pipeline_id, name, status, metadata, recorded_at
		 FROM milestone_events WHERE pipeline_id = $1 ORDER BY recorded_at`,
		pipelineID)
	if err != nil {
		return nil, fmt.Errorf("list milestone events: %w", err)
	}
	defer rows.Close()

	events := make([]pipeline.MilestoneEvent, 0)
	for rows.Next() {
		var e pipeline.MilestoneEvent
		var name, status string
		var metadataJSON []byte
		if err := rows.Scan(&e.PipelineID, &name, &status, &metadataJSON, &e.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan milestone event: %w", err)
		}
		e.Name = pipeline.MilestoneName(name)
		e.Status = pipeline.MilestoneStatus(status)
		if len(metadataJSON) > 0 {
			_ = json.Unmarshal(metadataJSON, &e.Metadata)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate milestone events: %w", err)
	}
	return events, nil
}

func (s *PostgresStore) RecordDeploy(ctx context.Context, audit DeployAudit) (DeployAudit, error) {
	if audit.ID == "" {
		audit.ID = uuid.NewString()
	}
	diffJSON, err := json.Marshal(audit.Diff)
	if err != nil {
		return DeployAudit{}, fmt.Errorf("marshal deploy diff: %w", err)
	}
	if audit.DeployedAt.IsZero() {
		audit.DeployedAt = time.Now().UTC()
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO deploy_audits (id, connector_id, name, version, checksum, degraded, diff, deployed_by, deployed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		audit.ID, audit.ConnectorID, audit.Name, audit.Version, audit.Checksum,
		audit.Degraded, diffJSON, emptyToNull(audit.DeployedBy), audit.DeployedAt)
	if err != nil {
		return DeployAudit{}, fmt.Errorf("insert deploy audit: %w", err)
	}
	return audit, nil
}

func (s *PostgresStore) ListDeploys(ctx context.Context, connectorID string) ([]DeployAudit, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, connector_id, name, version, checksum, degraded, diff, deployed_by, deployed_at
		 FROM deploy_audits WHERE connector_id = $1 ORDER BY deployed_at`,
		connectorID)
	if err != nil {
		return nil, fmt.Errorf("list deploy audits: %w", err)
	}
	defer rows.Close()

	audits := make([]DeployAudit, 0)
	for rows.Next() {
		var a DeployAudit
		var diffJSON []byte
		var by *string
		if err := rows.Scan(&a.ID, &a.ConnectorID, &a.Name, &a.Version, &a.Checksum, &a.Degraded, &diffJSON, &by, &a.DeployedAt); err != nil {
			return nil, fmt.Errorf("scan deploy audit: %w", err)
		}
		if len(diffJSON) > 0 {
			_ = json.Unmarshal(diffJSON, &a.Diff)
		}
		if by != nil {
			a.DeployedBy = *by
		}
		audits = append(audits, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate deploy audits: %w", err)
	}
	return audits, nil
}

func scanPipeline(row pgx.Row) (pipeline.Pipeline, error) {
	var p pipeline.Pipeline
	var state string
	if err := row.Scan(&p.ID, &p.Name, &p.SourceType, &p.DestinationType, &state, &p.CreatedAt, &p.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return pipeline.Pipeline{}, pipeline.ErrNotFound
		}
		return pipeline.Pipeline{}, fmt.Errorf("scan pipeline: %w", err)
	}
	p.State = pipeline.State(state)
	return p, nil
}

func scanConnector(row pgx.Row) (pipeline.Connector, error) {
	var c pipeline.Connector
	var typ string
	var configJSON, refJSON, pendingJSON []byte
	var pendingBy *string
	var pendingAt *time.Time

	if err := row.Scan(&c.ID, &c.PipelineID, &c.Name, &typ, &c.ConnectorClass, &c.TasksMax,
		&configJSON, &refJSON, &pendingJSON, &pendingBy, &pendingAt, &c.CreatedAt, &c.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return pipeline.Connector{}, pipeline.ErrNotFound
		}
		return pipeline.Connector{}, fmt.Errorf("scan connector: %w", err)
	}
	c.Type = pipeline.ConnectorType(typ)
	if len(configJSON) > 0 {
		if err := json.Unmarshal(configJSON, &c.Config); err != nil {
			return pipeline.Connector{}, fmt.Errorf("unmarshal connector config: %w", err)
		}
	}
	if len(refJSON) > 0 {
		if err := json.Unmarshal(refJSON, &c.Ref); err != nil {
			return pipeline.Connector{}, fmt.Errorf("unmarshal registry ref: %w", err)
		}
	}
	if len(pendingJSON) > 0 {
		if err := json.Unmarshal(pendingJSON, &c.PendingConfig); err != nil {
			return pipeline.Connector{}, fmt.Errorf("unmarshal pending config: %w", err)
		}
	}
	if pendingBy != nil {
		c.PendingConfigUpdatedBy = *pendingBy
	}
	if pendingAt != nil {
		c.PendingConfigUpdatedAt = *pendingAt
	}
	return c, nil
}

func marshalRef(ref *pipeline.RegistryRef) (any, error) {
	if ref == nil {
		return nil, nil
	}
	raw, err := json.Marshal(ref)
	if err != nil {
		return nil, fmt.Errorf("marshal registry ref: %w", err)
	}
	return raw, nil
}

func statusOrNull(status pipeline.TableStatus) any {
	if status == "" {
		return nil
	}
	return string(status)
}

func emptyToNull(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
