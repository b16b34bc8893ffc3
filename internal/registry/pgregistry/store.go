// Package pgregistry implements the run registry on Postgres. It is the
// backend to pick when several service replicas share one data volume and
// need a single source of truth for run state.
package pgregistry

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/reporthub-labs/reporthub-go/internal/domain"
	"github.com/reporthub-labs/reporthub-go/internal/registry"
)

const schema = `
CREATE TABLE IF NOT EXISTS projects (
	name       TEXT PRIMARY KEY,
	seq        BIGSERIAL,
	created_at TIMESTAMPTZ NOT NULL
);

-- meta is TEXT rather than JSONB: JSONB canonicalizes the document and the
-- caller's metadata must round-trip byte-verbatim.
CREATE TABLE IF NOT EXISTS runs (
	run_id            TEXT PRIMARY KEY,
	project           TEXT NOT NULL REFERENCES projects(name),
	status            TEXT NOT NULL,
	created_at        TIMESTAMPTZ NOT NULL,
	updated_at        TIMESTAMPTZ NOT NULL,
	meta              TEXT NOT NULL DEFAULT '{}',
	bundle_sha256     TEXT NOT NULL DEFAULT '',
	bundle_size_bytes BIGINT NOT NULL DEFAULT 0,
	bundle_object_key TEXT NOT NULL DEFAULT '',
	reason            TEXT NOT NULL DEFAULT '',
	log_tail          TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS runs_project_created_at_idx
	ON runs (project, created_at, run_id);
`

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Migrate applies the registry schema. Statements are idempotent so every
// replica can run this at startup.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply registry schema: %w", err)
	}
	return nil
}

func (s *Store) CreateProject(ctx context.Context, name string) error {
	if err := domain.ValidateProjectName(name); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO projects (name, created_at) VALUES ($1, $2)`,
		name, time.Now().UTC())
	if isUniqueViolation(err) {
		return registry.ErrAlreadyExists
	}
	return err
}

func (s *Store) CreateRun(ctx context.Context, run domain.Run) error {
	if err := run.Validate(); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO projects (name, created_at) VALUES ($1, $2)
		 ON CONFLICT (name) DO NOTHING`,
		run.Project, run.CreatedAt); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs (
			run_id, project, status, created_at, updated_at, meta,
			bundle_sha256, bundle_size_bytes, bundle_object_key, reason, log_tail
		 ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		run.ID, run.Project, string(run.Status), run.CreatedAt, run.UpdatedAt,
		metaOrEmpty(run.Meta), run.BundleSHA256, run.BundleSizeBytes,
		run.BundleObjectKey, run.Reason, run.LogTail)
	if isUniqueViolation(err) {
		return registry.ErrAlreadyExists
	}
	if err != nil {
		return err
	}

	return tx.Commit()
}

const runColumns = `run_id, project, status, created_at, updated_at, meta,
	bundle_sha256, bundle_size_bytes, bundle_object_key, reason, log_tail`

func (s *Store) GetRun(ctx context.Context, project, runID string) (domain.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM runs WHERE project = $1 AND run_id = $2`,
		project, runID)
	return scanRun(row)
}

func (s *Store) ListProjects(ctx context.Context) ([]domain.Project, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, created_at FROM projects ORDER BY seq`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var projects []domain.Project
	for rows.Next() {
		var project domain.Project
		if err := rows.Scan(&project.Name, &project.CreatedAt); err != nil {
			return nil, err
		}
		projects = append(projects, project)
	}
	return projects, rows.Err()
}

func (s *Store) ListRuns(ctx context.Context, project string) ([]domain.Run, error) {
	var exists bool
	if err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM projects WHERE name = $1)`,
		project).Scan(&exists); err != nil {
		return nil, err
	}
	if !exists {
		return nil, registry.ErrNotFound
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs
		 WHERE project = $1
		 ORDER BY created_at, run_id`,
		project)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []domain.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func (s *Store) LatestReadyRun(ctx context.Context, project string) (domain.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM runs
		 WHERE project = $1 AND status = $2
		 ORDER BY created_at DESC, run_id DESC
		 LIMIT 1`,
		project, string(domain.StatusReady))
	return scanRun(row)
}

func (s *Store) UpdateRunStatus(ctx context.Context, project, runID string, status domain.Status, reason, logTail string) error {
	if !status.Valid() {
		return fmt.Errorf("unknown run status: %q", status)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var current string
	err = tx.QueryRowContext(ctx,
		`SELECT status FROM runs WHERE project = $1 AND run_id = $2 FOR UPDATE`,
		project, runID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return registry.ErrNotFound
	}
	if err != nil {
		return err
	}
	if !domain.Status(current).CanTransition(status) {
		return fmt.Errorf("%w: %s -> %s", registry.ErrIllegalTransition, current, status)
	}

	if status != domain.StatusFailed {
		reason = ""
		logTail = ""
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE runs
		 SET status = $1, updated_at = $2, reason = $3, log_tail = $4
		 WHERE project = $5 AND run_id = $6`,
		string(status), time.Now().UTC(), reason, logTail, project, runID); err != nil {
		return err
	}

	return tx.Commit()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (domain.Run, error) {
	var (
		run    domain.Run
		status string
		meta   []byte
	)
	err := row.Scan(&run.ID, &run.Project, &status, &run.CreatedAt, &run.UpdatedAt,
		&meta, &run.BundleSHA256, &run.BundleSizeBytes, &run.BundleObjectKey,
		&run.Reason, &run.LogTail)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Run{}, registry.ErrNotFound
	}
	if err != nil {
		return domain.Run{}, err
	}
	run.Status = domain.Status(status)
	run.Meta = domain.NormalizeMeta(meta)
	return run, nil
}

func metaOrEmpty(meta json.RawMessage) []byte {
	if len(meta) == 0 {
		return []byte(`{}`)
	}
	return meta
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
