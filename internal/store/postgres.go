package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"protoscript/internal/models"
)

// AuditLog records job lifecycle events in Postgres. It is an operational
// trail only; the status document in the blob store stays authoritative.
type AuditLog struct {
	pool *pgxpool.Pool
}

// NewAuditLog creates a pooled connection to Postgres.
func NewAuditLog(ctx context.Context, dsn string) (*AuditLog, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &AuditLog{pool: pool}, nil
}

func (a *AuditLog) Close() {
	if a.pool != nil {
		a.pool.Close()
	}
}

// Record adds an audit row.
func (a *AuditLog) Record(ctx context.Context, jobID, event, detail string) error {
	_, err := a.pool.Exec(ctx, `
		INSERT INTO protocol_job_events (job_id, event, detail, recorded_at)
		VALUES ($1, $2, $3, NOW())
	`, jobID, event, detail)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

// Events lists a job's audit rows oldest first.
func (a *AuditLog) Events(ctx context.Context, jobID string) ([]models.AuditEvent, error) {
	rows, err := a.pool.Query(ctx, `
		SELECT job_id, event, detail, recorded_at
		FROM protocol_job_events
		WHERE job_id = $1
		ORDER BY recorded_at ASC, id ASC
	`, jobID)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	var events []models.AuditEvent
	for rows.Next() {
		var ev models.AuditEvent
		if err := rows.Scan(&ev.JobID, &ev.Event, &ev.Detail, &ev.Recorded); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}
	return events, nil
}

// DeleteJob drops a job's audit rows; used by the retention sweep.
func (a *AuditLog) DeleteJob(ctx context.Context, jobID string) error {
	if _, err := a.pool.Exec(ctx, `DELETE FROM protocol_job_events WHERE job_id = $1`, jobID); err != nil {
		return fmt.Errorf("delete audit events: %w", err)
	}
	return nil
}

// OpenAuditLog connects and migrates the audit log. An empty dsn disables
// auditing and returns nil.
func OpenAuditLog(ctx context.Context, dsn string) (*AuditLog, error) {
	if dsn == "" {
		return nil, nil
	}
	a, err := NewAuditLog(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if err := a.RunMigrations(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}
	return a, nil
}
