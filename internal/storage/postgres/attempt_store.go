// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/scrape-engine-gateway/internal/engine"
	"github.com/JakeFAU/scrape-engine-gateway/internal/jobs"
)

const defaultTable = "scrape_attempts"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// AttemptStoreConfig controls the Postgres connection pool used for attempt rows.
type AttemptStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// AttemptStore writes finished scrape attempts into Postgres.
type AttemptStore struct {
	pool  execCloser
	table string
}

// NewAttemptStore creates a Postgres-backed AttemptStore using the provided config.
func NewAttemptStore(ctx context.Context, cfg AttemptStoreConfig) (*AttemptStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &AttemptStore{pool: pool, table: table}, nil
}

// NewAttemptStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewAttemptStoreWithPool(pool execCloser, table string) (*AttemptStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &AttemptStore{pool: pool, table: name}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		return defaultTable, nil
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Close releases the underlying pool resources.
func (s *AttemptStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// RecordAttempt inserts one attempt row.
func (s *AttemptStore) RecordAttempt(ctx context.Context, attempt jobs.Attempt) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("attempt store is not configured")
	}
	if attempt.JobID == "" {
		return fmt.Errorf("job id is required")
	}
	anomaliesJSON, err := json.Marshal(normalizeAnomalies(attempt.Anomalies))
	if err != nil {
		return fmt.Errorf("marshal anomalies: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	job_id,
	engine,
	url,
	engine_job_id,
	outcome,
	error_text,
	anomaly_count,
	anomalies,
	duration_ms,
	finished_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10
)`, s.table)

	args := []any{
		attempt.JobID,
		string(attempt.Engine),
		attempt.URL,
		attempt.EngineJobID,
		attempt.Outcome,
		attempt.ErrorText,
		len(attempt.Anomalies),
		anomaliesJSON,
		attempt.Duration.Milliseconds(),
		attempt.FinishedAt,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert attempt: %w", err)
	}
	return nil
}

func normalizeAnomalies(log engine.AnomalyLog) engine.AnomalyLog {
	if len(log) == 0 {
		return engine.AnomalyLog{}
	}
	return log
}
