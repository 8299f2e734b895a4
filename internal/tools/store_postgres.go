package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore keeps descriptors and the execution log in Postgres.
// The variable parts of a descriptor (params, limits, per-kind config)
// live in a single JSONB column so the schema survives descriptor
// format growth.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// descriptorSpec is the JSONB envelope stored alongside the fixed
// descriptor columns.
type descriptorSpec struct {
	Params         []Param        `json:"params,omitempty"`
	Limits         Limits         `json:"limits,omitempty"`
	TimeoutSeconds int            `json:"timeout_seconds,omitempty"`
	REST           *RESTConfig    `json:"rest,omitempty"`
	Query          *QueryConfig   `json:"query,omitempty"`
	Webhook        *WebhookConfig `json:"webhook,omitempty"`
}

// NewPostgresStore connects to Postgres and ensures the tool schema
// exists.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := initToolSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

func initToolSchema(ctx context.Context, pool *pgxpool.Pool) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS tool_descriptors (
			id TEXT PRIMARY KEY,
			gym_id TEXT NOT NULL,
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			kind TEXT NOT NULL,
			spec JSONB NOT NULL DEFAULT '{}'::jsonb,
			enabled BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			UNIQUE (gym_id, name)
		)`,
		`CREATE TABLE IF NOT EXISTS tool_executions (
			id TEXT PRIMARY KEY,
			gym_id TEXT NOT NULL,
			member_id TEXT NOT NULL DEFAULT '',
			session_id TEXT NOT NULL DEFAULT '',
			tool_id TEXT NOT NULL,
			tool_name TEXT NOT NULL,
			kind TEXT NOT NULL,
			status TEXT NOT NULL,
			args JSONB,
			result TEXT NOT NULL DEFAULT '',
			error TEXT NOT NULL DEFAULT '',
			duration_ms BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tool_exec_member
			ON tool_executions (gym_id, member_id, tool_name, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_tool_exec_gym
			ON tool_executions (gym_id, tool_name, created_at)`,
	}
	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init tool schema: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) UpsertDescriptor(ctx context.Context, d Descriptor) (Descriptor, error) {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	spec, err := json.Marshal(descriptorSpec{
		Params:         d.Params,
		Limits:         d.Limits,
		TimeoutSeconds: d.TimeoutSeconds,
		REST:           d.REST,
		Query:          d.Query,
		Webhook:        d.Webhook,
	})
	if err != nil {
		return Descriptor{}, fmt.Errorf("marshal tool spec: %w", err)
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO tool_descriptors (id, gym_id, name, description, kind, spec, enabled)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (gym_id, name) DO UPDATE SET
			description = EXCLUDED.description,
			kind = EXCLUDED.kind,
			spec = EXCLUDED.spec,
			enabled = EXCLUDED.enabled,
			updated_at = now()
		RETURNING id, created_at, updated_at`,
		d.ID, d.GymID, d.Name, d.Description, string(d.Kind), spec, d.Enabled)
	if err := row.Scan(&d.ID, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return Descriptor{}, fmt.Errorf("upsert tool %s: %w", d.Name, err)
	}
	return d, nil
}

const descriptorColumns = `id, gym_id, name, description, kind, spec, enabled, created_at, updated_at`

func scanDescriptor(row pgx.Row) (Descriptor, error) {
	var (
		d    Descriptor
		kind string
		spec []byte
	)
	if err := row.Scan(&d.ID, &d.GymID, &d.Name, &d.Description, &kind, &spec, &d.Enabled, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return Descriptor{}, err
	}
	d.Kind = Kind(kind)
	var ds descriptorSpec
	if err := json.Unmarshal(spec, &ds); err != nil {
		return Descriptor{}, fmt.Errorf("decode tool spec for %s: %w", d.Name, err)
	}
	d.Params = ds.Params
	d.Limits = ds.Limits
	d.TimeoutSeconds = ds.TimeoutSeconds
	d.REST = ds.REST
	d.Query = ds.Query
	d.Webhook = ds.Webhook
	return d, nil
}

func (s *PostgresStore) GetDescriptor(ctx context.Context, gymID, name string) (Descriptor, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+descriptorColumns+` FROM tool_descriptors WHERE gym_id = $1 AND name = $2`,
		gymID, name)
	d, err := scanDescriptor(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Descriptor{}, ErrNotFound
	}
	if err != nil {
		return Descriptor{}, fmt.Errorf("get tool %s: %w", name, err)
	}
	return d, nil
}

func (s *PostgresStore) ListDescriptors(ctx context.Context, gymID string) ([]Descriptor, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+descriptorColumns+` FROM tool_descriptors WHERE gym_id = $1 ORDER BY name`,
		gymID)
	if err != nil {
		return nil, fmt.Errorf("list tools: %w", err)
	}
	defer rows.Close()

	var out []Descriptor
	for rows.Next() {
		d, err := scanDescriptor(rows)
		if err != nil {
			return nil, fmt.Errorf("list tools: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *PostgresStore) DeleteDescriptor(ctx context.Context, gymID, name string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM tool_descriptors WHERE gym_id = $1 AND name = $2`, gymID, name)
	if err != nil {
		return fmt.Errorf("delete tool %s: %w", name, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) InsertExecution(ctx context.Context, e Execution) error {
	args, err := json.Marshal(e.Args)
	if err != nil {
		return fmt.Errorf("marshal execution args: %w", err)
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO tool_executions
			(id, gym_id, member_id, session_id, tool_id, tool_name, kind, status, args, result, error, duration_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		e.ID, e.GymID, e.MemberID, e.SessionID, e.ToolID, e.ToolName, string(e.Kind),
		e.Status, args, e.Result, e.Error, e.DurationMS, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("record execution %s: %w", e.ID, err)
	}
	return nil
}

func (s *PostgresStore) ListExecutions(ctx context.Context, gymID string, limit int) ([]Execution, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, gym_id, member_id, session_id, tool_id, tool_name, kind, status, args, result, error, duration_ms, created_at
		FROM tool_executions WHERE gym_id = $1 ORDER BY created_at DESC LIMIT $2`,
		gymID, limit)
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	defer rows.Close()

	var out []Execution
	for rows.Next() {
		var (
			e    Execution
			kind string
			args []byte
		)
		if err := rows.Scan(&e.ID, &e.GymID, &e.MemberID, &e.SessionID, &e.ToolID, &e.ToolName,
			&kind, &e.Status, &args, &e.Result, &e.Error, &e.DurationMS, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("list executions: %w", err)
		}
		e.Kind = Kind(kind)
		if len(args) > 0 {
			if err := json.Unmarshal(args, &e.Args); err != nil {
				return nil, fmt.Errorf("decode execution args: %w", err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CountMemberExecutionsSince(ctx context.Context, gymID, memberID, toolName string, since time.Time) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM tool_executions
		WHERE gym_id = $1 AND member_id = $2 AND tool_name = $3
			AND created_at >= $4 AND status <> $5`,
		gymID, memberID, toolName, since, StatusRateLimited).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count member executions: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) CountGymExecutionsSince(ctx context.Context, gymID, toolName string, since time.Time) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM tool_executions
		WHERE gym_id = $1 AND tool_name = $2
			AND created_at >= $3 AND status <> $4`,
		gymID, toolName, since, StatusRateLimited).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count gym executions: %w", err)
	}
	return n, nil
}

// Pool exposes the underlying connection pool so query tools can run
// against the same database.
func (s *PostgresStore) Pool() *pgxpool.Pool {
	return s.pool
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}
