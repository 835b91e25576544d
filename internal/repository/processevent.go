package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dharsanguruparan/ScanDrop/internal/model"
)

// ProcessEventRepository appends to and reads the write-only audit log.
type ProcessEventRepository struct {
	pool *pgxpool.Pool
}

// NewProcessEventRepository constructs a repository.
func NewProcessEventRepository(pool *pgxpool.Pool) *ProcessEventRepository {
	return &ProcessEventRepository{pool: pool}
}

// Append writes one audit row. Rows are never updated or deleted.
func (r *ProcessEventRepository) Append(ctx context.Context, ev *model.ProcessEvent) error {
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	err := r.pool.QueryRow(ctx, `
		INSERT INTO process_events (container, zip_file_name, event, reason, created_at)
		VALUES ($1,$2,$3,$4,$5) RETURNING id
	`, ev.Container, ev.ZipFileName, ev.Event, nullable(ev.Reason), ev.CreatedAt).Scan(&ev.ID)
	if err != nil {
		return fmt.Errorf("insert process event: %w", err)
	}
	return nil
}

// ListByZip returns the audit trail for one archive in insertion order.
func (r *ProcessEventRepository) ListByZip(ctx context.Context, container, zipFileName string) ([]*model.ProcessEvent, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, container, zip_file_name, event, reason, created_at
		FROM process_events WHERE container=$1 AND zip_file_name=$2 ORDER BY id
	`, container, zipFileName)
	if err != nil {
		return nil, fmt.Errorf("select process events: %w", err)
	}
	defer rows.Close()
	var events []*model.ProcessEvent
	for rows.Next() {
		var (
			ev     model.ProcessEvent
			reason sql.NullString
		)
		if err := rows.Scan(&ev.ID, &ev.Container, &ev.ZipFileName, &ev.Event, &reason, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan process event: %w", err)
		}
		ev.Reason = reason.String
		events = append(events, &ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("select process events: %w", err)
	}
	return events, nil
}
