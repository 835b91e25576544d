package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Connect opens a pgx connection pool using the provided DSN.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	cfg.MaxConns = 8
	cfg.MaxConnIdleTime = 5 * time.Minute
	return pgxpool.NewWithConfig(ctx, cfg)
}

// EnsureSchema creates the envelope tables if needed. Having the migration
// in code keeps the service self-contained so docker-compose can bootstrap
// everything.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	const stmt = `
CREATE TABLE IF NOT EXISTS envelopes (
	id UUID PRIMARY KEY,
	container TEXT NOT NULL,
	zip_file_name TEXT NOT NULL,
	po_box TEXT NOT NULL,
	jurisdiction TEXT NOT NULL,
	case_number TEXT,
	classification TEXT NOT NULL,
	status TEXT NOT NULL,
	opening_date TIMESTAMPTZ,
	delivery_date TIMESTAMPTZ,
	zip_created_date TIMESTAMPTZ,
	upload_failure_count INT NOT NULL DEFAULT 0,
	zip_deleted BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	UNIQUE (container, zip_file_name)
);
CREATE TABLE IF NOT EXISTS scannable_items (
	id UUID PRIMARY KEY,
	envelope_id UUID NOT NULL REFERENCES envelopes(id),
	document_control_number TEXT NOT NULL,
	file_name TEXT NOT NULL,
	document_type TEXT NOT NULL,
	document_subtype TEXT,
	scanning_date TIMESTAMPTZ,
	ocr_data JSONB,
	document_url TEXT,
	document_id TEXT
);
CREATE TABLE IF NOT EXISTS payments (
	id BIGSERIAL PRIMARY KEY,
	envelope_id UUID NOT NULL REFERENCES envelopes(id),
	document_control_number TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS non_scannable_items (
	id BIGSERIAL PRIMARY KEY,
	envelope_id UUID NOT NULL REFERENCES envelopes(id),
	item_description TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS process_events (
	id BIGSERIAL PRIMARY KEY,
	container TEXT NOT NULL,
	zip_file_name TEXT NOT NULL,
	event TEXT NOT NULL,
	reason TEXT,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_envelopes_status ON envelopes(status);
CREATE INDEX IF NOT EXISTS idx_envelopes_container ON envelopes(container);
CREATE INDEX IF NOT EXISTS idx_scannable_items_envelope ON scannable_items(envelope_id);
CREATE INDEX IF NOT EXISTS idx_process_events_zip ON process_events(container, zip_file_name);`
	_, err := pool.Exec(ctx, stmt)
	if err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
