// Package archive persists completed pipeline runs to Postgres. The core
// pipeline never depends on it; the gateway records runs fire-and-forget
// so archival latency and failures stay off the request path.
package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/neurosec-ai/cortex/pkg/cognition"
)

// Statements run one at a time: pgx's extended protocol does not accept
// multi-statement strings.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS analysis_runs (
		id            BIGSERIAL PRIMARY KEY,
		threat_id     TEXT NOT NULL,
		level         TEXT NOT NULL,
		source        TEXT,
		pathway       TEXT,
		combined_glaf DOUBLE PRECISION,
		confidence    DOUBLE PRECISION,
		summary       TEXT,
		analysis      JSONB,
		total_ms      DOUBLE PRECISION,
		created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_analysis_runs_threat ON analysis_runs (threat_id)`,
	`CREATE INDEX IF NOT EXISTS idx_analysis_runs_created ON analysis_runs (created_at DESC)`,
}

// Store writes analysis runs to Postgres.
type Store struct {
	pool *pgxpool.Pool
}

// New connects to url and ensures the schema exists.
func New(ctx context.Context, url string) (*Store, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("archive connect: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("archive ping: %w", err)
	}
	for _, stmt := range schema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			pool.Close()
			return nil, fmt.Errorf("archive schema: %w", err)
		}
	}
	return &Store{pool: pool}, nil
}

// Record persists one completed run. Errors are returned, not logged;
// callers decide whether archival failure matters.
func (s *Store) Record(ctx context.Context, result *cognition.PipelineResult) error {
	t := result.Context.Threat
	payload, err := json.Marshal(result.Analysis)
	if err != nil {
		return fmt.Errorf("archive marshal: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO analysis_runs
			(threat_id, level, source, pathway, combined_glaf, confidence, summary, analysis, total_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		t.ID, string(t.Level), t.Source,
		string(result.Context.Thalamic.Pathway),
		result.Context.GlafScores.Combined,
		result.Analysis.Confidence,
		result.Analysis.Summary,
		payload,
		result.TotalMs,
	)
	if err != nil {
		return fmt.Errorf("archive insert: %w", err)
	}
	return nil
}

// RecentRun is one row returned by Recent.
type RecentRun struct {
	ThreatID   string    `json:"threat_id"`
	Level      string    `json:"level"`
	Pathway    string    `json:"pathway"`
	Summary    string    `json:"summary"`
	Confidence float64   `json:"confidence"`
	TotalMs    float64   `json:"total_ms"`
	CreatedAt  time.Time `json:"created_at"`
}

// Recent returns the most recent runs, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]RecentRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx, `
		SELECT threat_id, level, pathway, summary, confidence, total_ms, created_at
		FROM analysis_runs ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("archive query: %w", err)
	}
	defer rows.Close()

	var out []RecentRun
	for rows.Next() {
		var r RecentRun
		if err := rows.Scan(&r.ThreatID, &r.Level, &r.Pathway, &r.Summary, &r.Confidence, &r.TotalMs, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("archive scan: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}
