// Package store persists run history in Postgres. Runs are written once, at
// their terminal boundary; the full trace is kept as JSONB alongside the
// queryable columns.
package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"

	"github.com/Samrat2803/cognitive-core/internal/agent"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrNotFound is returned when a run or artifact id has no row.
var ErrNotFound = errors.New("not found")

// Store wraps the Postgres connection.
type Store struct {
	db *sql.DB
}

// New wraps an existing connection; used by tests with a mock driver.
func New(db *sql.DB) *Store { return &Store{db: db} }

// NewWithDSN opens a connection, verifies it and applies pending migrations.
func NewWithDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}

func runMigrations(db *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return err
	}
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return err
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

// Close releases the connection pool.
func (s *Store) Close() error { return s.db.Close() }

// SaveRun upserts the terminal state of a run and its artifact rows.
func (s *Store) SaveRun(ctx context.Context, rs *agent.RunState) error {
	state, err := json.Marshal(rs)
	if err != nil {
		return fmt.Errorf("marshal run state: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var finished sql.NullTime
	if !rs.FinishedAt.IsZero() {
		finished = sql.NullTime{Time: rs.FinishedAt, Valid: true}
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, query_text, status, reason, submitted_at, started_at, finished_at, state)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			reason = EXCLUDED.reason,
			finished_at = EXCLUDED.finished_at,
			state = EXCLUDED.state`,
		rs.Query.ID, rs.Query.Text, string(rs.Status), rs.Reason,
		rs.Query.SubmittedAt, rs.StartedAt, finished, state)
	if err != nil {
		return fmt.Errorf("upsert run: %w", err)
	}

	for _, a := range rs.Artifacts {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO artifacts (id, run_id, topic, kind, storage_ref, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (id) DO NOTHING`,
			a.ID, a.RunID, a.Topic, string(a.Kind), a.StorageRef, a.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert artifact %s: %w", a.ID, err)
		}
	}
	return tx.Commit()
}

// GetRun loads a persisted run by id.
func (s *Store) GetRun(ctx context.Context, runID string) (*agent.RunState, error) {
	var state []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT state FROM runs WHERE id = $1`, runID).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select run: %w", err)
	}
	var rs agent.RunState
	if err := json.Unmarshal(state, &rs); err != nil {
		return nil, fmt.Errorf("unmarshal run state: %w", err)
	}
	return &rs, nil
}

// RunSummary is one row of the run listing.
type RunSummary struct {
	ID          string          `json:"id"`
	QueryText   string          `json:"query_text"`
	Status      agent.RunStatus `json:"status"`
	Reason      string          `json:"reason,omitempty"`
	SubmittedAt time.Time       `json:"submitted_at"`
	FinishedAt  *time.Time      `json:"finished_at,omitempty"`
}

// ListRuns returns the most recent runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, query_text, status, reason, submitted_at, finished_at
		FROM runs ORDER BY submitted_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var r RunSummary
		var finished sql.NullTime
		if err := rows.Scan(&r.ID, &r.QueryText, &r.Status, &r.Reason, &r.SubmittedAt, &finished); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		if finished.Valid {
			t := finished.Time
			r.FinishedAt = &t
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetArtifact loads artifact metadata by id.
func (s *Store) GetArtifact(ctx context.Context, artifactID string) (agent.Artifact, error) {
	var a agent.Artifact
	var kind string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, run_id, topic, kind, storage_ref, created_at
		FROM artifacts WHERE id = $1`, artifactID).
		Scan(&a.ID, &a.RunID, &a.Topic, &kind, &a.StorageRef, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return agent.Artifact{}, ErrNotFound
	}
	if err != nil {
		return agent.Artifact{}, fmt.Errorf("select artifact: %w", err)
	}
	a.Kind = agent.ChartKind(kind)
	return a, nil
}
