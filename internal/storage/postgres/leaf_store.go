// Package postgres mirrors assembled heat rows into Postgres.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/athlete-results-crawler/internal/dataset"
)

const defaultTable = "leaf_records"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for heat rows.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Begin(context.Context) (pgx.Tx, error)
	Close()
}

// LeafStore replaces a job's heat rows in one transaction.
type LeafStore struct {
	pool  pool
	table string
}

// NewLeafStore connects to Postgres using cfg.
func NewLeafStore(ctx context.Context, cfg Config) (*LeafStore, error) {
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
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &LeafStore{pool: p, table: table}, nil
}

// NewLeafStoreWithPool builds a store on an existing pool.
func NewLeafStoreWithPool(p pool, table string) (*LeafStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &LeafStore{pool: p, table: name}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Close releases the pool.
func (s *LeafStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the table when it does not exist.
func (s *LeafStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	job_id TEXT NOT NULL,
	surfer_id TEXT NOT NULL,
	surfer_name TEXT NOT NULL,
	country TEXT NOT NULL,
	event_id TEXT NOT NULL,
	event_name TEXT NOT NULL,
	event_location TEXT NOT NULL,
	tour_type TEXT NOT NULL,
	event_year INTEGER NOT NULL,
	event_final_position INTEGER,
	event_points_earned DOUBLE PRECISION,
	heat_id TEXT NOT NULL,
	round_name TEXT NOT NULL,
	heat_position INTEGER NOT NULL,
	heat_total_score DOUBLE PRECISION NOT NULL,
	heat_advanced BOOLEAN NOT NULL,
	heat_date TEXT NOT NULL,
	wave_scores JSONB NOT NULL,
	PRIMARY KEY (job_id, surfer_id, event_id, heat_id)
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create %s: %w", s.table, err)
	}
	return nil
}

// StoreLeafRows replaces every row recorded for jobID with rows.
func (s *LeafStore) StoreLeafRows(ctx context.Context, jobID string, rows []dataset.LeafRow) (err error) {
	if s == nil || s.pool == nil {
		return fmt.Errorf("leaf store is not configured")
	}
	if jobID == "" {
		return fmt.Errorf("job id is required")
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if _, err = tx.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE job_id = $1`, s.table), jobID); err != nil {
		return fmt.Errorf("clear rows for %s: %w", jobID, err)
	}
	insert := fmt.Sprintf(`
INSERT INTO %s (
	job_id,
	surfer_id,
	surfer_name,
	country,
	event_id,
	event_name,
	event_location,
	tour_type,
	event_year,
	event_final_position,
	event_points_earned,
	heat_id,
	round_name,
	heat_position,
	heat_total_score,
	heat_advanced,
	heat_date,
	wave_scores
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18
) ON CONFLICT DO NOTHING`, s.table)
	for _, row := range rows {
		waves, mErr := json.Marshal(row.WaveScores)
		if mErr != nil {
			err = fmt.Errorf("marshal wave scores: %w", mErr)
			return err
		}
		if _, err = tx.Exec(ctx, insert, rowArgs(jobID, row, waves)...); err != nil {
			return fmt.Errorf("insert heat %s/%s: %w", row.EventID, row.HeatID, err)
		}
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func rowArgs(jobID string, row dataset.LeafRow, waves []byte) []any {
	return []any{
		jobID,
		row.EntityID,
		row.EntityName,
		row.Country,
		row.EventID,
		row.EventName,
		row.EventLocation,
		row.TourType,
		row.EventYear,
		row.EventFinalPosition,
		row.EventPointsEarned,
		row.HeatID,
		row.RoundName,
		row.HeatPosition,
		row.HeatTotalScore,
		row.HeatAdvanced,
		row.HeatDate,
		waves,
	}
}
