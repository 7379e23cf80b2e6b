package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/subfold/subfold/internal/archive"
)

// Repository implements the archive persistence interfaces on PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// New constructs a Repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ensure Repository satisfies interfaces.
var (
	_ archive.FlushRepository    = (*Repository)(nil)
	_ archive.DecisionRepository = (*Repository)(nil)
)

// InsertFlush stores one drained telemetry window.
func (r *Repository) InsertFlush(ctx context.Context, flush *archive.Flush) error {
	const query = `INSERT INTO telemetry_flushes (id, project_id, flushed_at, events)
		VALUES ($1, $2, $3, $4)`
	_, err := r.pool.Exec(ctx, query, flush.ID, flush.ProjectID, flush.FlushedAt, flush.Events)
	if err != nil {
		return fmt.Errorf("insert flush for %s: %w", flush.ProjectID, err)
	}
	return nil
}

// ListFlushesByProject returns persisted windows, newest first.
func (r *Repository) ListFlushesByProject(ctx context.Context, projectID string, limit int) ([]archive.Flush, error) {
	if limit <= 0 {
		limit = 50
	}
	const query = `SELECT id, project_id, flushed_at, events FROM telemetry_flushes
		WHERE project_id = $1 ORDER BY flushed_at DESC LIMIT $2`
	rows, err := r.pool.Query(ctx, query, strings.TrimSpace(projectID), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var flushes []archive.Flush
	for rows.Next() {
		var f archive.Flush
		if err := rows.Scan(&f.ID, &f.ProjectID, &f.FlushedAt, &f.Events); err != nil {
			return nil, err
		}
		flushes = append(flushes, f)
	}
	return flushes, rows.Err()
}

// AppendDecision records a remediation decision.
func (r *Repository) AppendDecision(ctx context.Context, decision *archive.Decision) error {
	if decision.CreatedAt.IsZero() {
		decision.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO decision_log (project_id, action, created_at)
		VALUES ($1, $2, $3) RETURNING id`
	row := r.pool.QueryRow(ctx, query, decision.ProjectID, decision.Action, decision.CreatedAt)
	if err := row.Scan(&decision.ID); err != nil {
		return fmt.Errorf("append decision for %s: %w", decision.ProjectID, err)
	}
	return nil
}

// ListDecisionsByProject returns the decision log, newest first.
func (r *Repository) ListDecisionsByProject(ctx context.Context, projectID string, limit int) ([]archive.Decision, error) {
	if limit <= 0 {
		limit = 100
	}
	const query = `SELECT id, project_id, action, created_at FROM decision_log
		WHERE project_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2`
	rows, err := r.pool.Query(ctx, query, strings.TrimSpace(projectID), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var decisions []archive.Decision
	for rows.Next() {
		var d archive.Decision
		if err := rows.Scan(&d.ID, &d.ProjectID, &d.Action, &d.CreatedAt); err != nil {
			return nil, err
		}
		decisions = append(decisions, d)
	}
	return decisions, rows.Err()
}
