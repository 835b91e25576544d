// Package repository wraps all SQL used by the pipeline and the status API.
// Aggregates come back fully populated; there is no lazy loading.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dharsanguruparan/ScanDrop/internal/model"
)

// ErrNotFound is returned when an envelope does not exist.
var ErrNotFound = errors.New("envelope not found")

// EnvelopeRepository persists the Envelope aggregate.
type EnvelopeRepository struct {
	pool *pgxpool.Pool
}

// NewEnvelopeRepository constructs a repository.
func NewEnvelopeRepository(pool *pgxpool.Pool) *EnvelopeRepository {
	return &EnvelopeRepository{pool: pool}
}

// Create inserts the envelope and all child records in one transaction.
func (r *EnvelopeRepository) Create(ctx context.Context, env *model.Envelope) error {
	now := time.Now().UTC()
	env.CreatedAt = now
	env.UpdatedAt = now
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO envelopes (id, container, zip_file_name, po_box, jurisdiction, case_number,
			classification, status, opening_date, delivery_date, zip_created_date,
			upload_failure_count, zip_deleted, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
	`, env.ID, env.Container, env.ZipFileName, env.PoBox, env.Jurisdiction, nullable(env.CaseNumber),
		env.Classification, env.Status, nullTime(env.OpeningDate), nullTime(env.DeliveryDate),
		nullTime(env.ZipCreatedDate), env.UploadFailureCount, env.ZipDeleted, env.CreatedAt, env.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert envelope: %w", err)
	}
	for i := range env.ScannableItems {
		item := &env.ScannableItems[i]
		if item.ID == uuid.Nil {
			item.ID = uuid.New()
		}
		ocr, err := json.Marshal(item.OcrData)
		if err != nil {
			return fmt.Errorf("marshal ocr data: %w", err)
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO scannable_items (id, envelope_id, document_control_number, file_name,
				document_type, document_subtype, scanning_date, ocr_data, document_url, document_id)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		`, item.ID, env.ID, item.DocumentControlNumber, item.FileName, item.DocumentType,
			nullable(item.DocumentSubtype), nullTime(item.ScanningDate), ocr,
			nullable(item.DocumentURL), nullable(item.DocumentID))
		if err != nil {
			return fmt.Errorf("insert scannable item %s: %w", item.FileName, err)
		}
	}
	for _, payment := range env.Payments {
		if _, err := tx.Exec(ctx, `
			INSERT INTO payments (envelope_id, document_control_number) VALUES ($1,$2)
		`, env.ID, payment.DocumentControlNumber); err != nil {
			return fmt.Errorf("insert payment: %w", err)
		}
	}
	for _, item := range env.NonScannableItems {
		if _, err := tx.Exec(ctx, `
			INSERT INTO non_scannable_items (envelope_id, item_description) VALUES ($1,$2)
		`, env.ID, item.Description); err != nil {
			return fmt.Errorf("insert non-scannable item: %w", err)
		}
	}
	return tx.Commit(ctx)
}

// Get returns the fully populated aggregate by id.
func (r *EnvelopeRepository) Get(ctx context.Context, id uuid.UUID) (*model.Envelope, error) {
	return r.fetchOne(ctx, `WHERE id=$1`, id)
}

// FindByZip returns the envelope for a container/archive pair, ErrNotFound
// when no row exists.
func (r *EnvelopeRepository) FindByZip(ctx context.Context, container, zipFileName string) (*model.Envelope, error) {
	return r.fetchOne(ctx, `WHERE container=$1 AND zip_file_name=$2`, container, zipFileName)
}

// ListByContainer returns all envelopes for a container, newest first.
func (r *EnvelopeRepository) ListByContainer(ctx context.Context, container string) ([]*model.Envelope, error) {
	rows, err := r.pool.Query(ctx, envelopeSelect+` WHERE container=$1 ORDER BY created_at DESC`, container)
	if err != nil {
		return nil, fmt.Errorf("list envelopes: %w", err)
	}
	defer rows.Close()
	var envs []*model.Envelope
	for rows.Next() {
		env, err := scanEnvelope(rows)
		if err != nil {
			return nil, err
		}
		envs = append(envs, env)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list envelopes: %w", err)
	}
	for _, env := range envs {
		if err := r.loadChildren(ctx, env); err != nil {
			return nil, err
		}
	}
	return envs, nil
}

// UpdateStatus sets the envelope status in a single atomic write.
func (r *EnvelopeRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status model.Status) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE envelopes SET status=$1, updated_at=$2 WHERE id=$3
	`, status, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetDocumentReferences assigns document references to every item and moves
// the envelope to uploaded, all in one transaction so concurrent workers
// never observe a half-written state.
func (r *EnvelopeRepository) SetDocumentReferences(ctx context.Context, id uuid.UUID, items []model.ScannableItem) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)
	for i := range items {
		item := &items[i]
		if _, err := tx.Exec(ctx, `
			UPDATE scannable_items SET document_url=$1, document_id=$2 WHERE id=$3 AND envelope_id=$4
		`, item.DocumentURL, item.DocumentID, item.ID, id); err != nil {
			return fmt.Errorf("set reference for %s: %w", item.FileName, err)
		}
	}
	if _, err := tx.Exec(ctx, `
		UPDATE envelopes SET status=$1, updated_at=$2 WHERE id=$3
	`, model.StatusUploaded, time.Now().UTC(), id); err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	return tx.Commit(ctx)
}

// IncrementUploadFailure bumps the counter surfaced for alerting.
func (r *EnvelopeRepository) IncrementUploadFailure(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE envelopes SET upload_failure_count = upload_failure_count + 1, updated_at=$1 WHERE id=$2
	`, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("increment upload failure: %w", err)
	}
	return nil
}

// MarkZipDeleted records that the source archive is gone from its container.
func (r *EnvelopeRepository) MarkZipDeleted(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE envelopes SET zip_deleted=TRUE, updated_at=$1 WHERE id=$2
	`, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("mark zip deleted: %w", err)
	}
	return nil
}

const envelopeSelect = `
	SELECT id, container, zip_file_name, po_box, jurisdiction, case_number, classification,
		status, opening_date, delivery_date, zip_created_date, upload_failure_count,
		zip_deleted, created_at, updated_at
	FROM envelopes`

func (r *EnvelopeRepository) fetchOne(ctx context.Context, where string, args ...any) (*model.Envelope, error) {
	rows, err := r.pool.Query(ctx, envelopeSelect+" "+where, args...)
	if err != nil {
		return nil, fmt.Errorf("select envelope: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("select envelope: %w", err)
		}
		return nil, ErrNotFound
	}
	env, err := scanEnvelope(rows)
	if err != nil {
		return nil, err
	}
	rows.Close()
	if err := r.loadChildren(ctx, env); err != nil {
		return nil, err
	}
	return env, nil
}

func scanEnvelope(row pgx.Row) (*model.Envelope, error) {
	var (
		env         model.Envelope
		caseNumber  sql.NullString
		openingDate sql.NullTime
		delivery    sql.NullTime
		zipCreated  sql.NullTime
	)
	err := row.Scan(&env.ID, &env.Container, &env.ZipFileName, &env.PoBox, &env.Jurisdiction,
		&caseNumber, &env.Classification, &env.Status, &openingDate, &delivery, &zipCreated,
		&env.UploadFailureCount, &env.ZipDeleted, &env.CreatedAt, &env.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("scan envelope: %w", err)
	}
	env.CaseNumber = caseNumber.String
	env.OpeningDate = openingDate.Time
	env.DeliveryDate = delivery.Time
	env.ZipCreatedDate = zipCreated.Time
	return &env, nil
}

// loadChildren populates every child collection with explicit queries.
func (r *EnvelopeRepository) loadChildren(ctx context.Context, env *model.Envelope) error {
	rows, err := r.pool.Query(ctx, `
		SELECT id, document_control_number, file_name, document_type, document_subtype,
			scanning_date, ocr_data, document_url, document_id
		FROM scannable_items WHERE envelope_id=$1 ORDER BY file_name
	`, env.ID)
	if err != nil {
		return fmt.Errorf("select scannable items: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			item     model.ScannableItem
			subtype  sql.NullString
			scanned  sql.NullTime
			ocrJSON  []byte
			docURL   sql.NullString
			docID    sql.NullString
		)
		if err := rows.Scan(&item.ID, &item.DocumentControlNumber, &item.FileName, &item.DocumentType,
			&subtype, &scanned, &ocrJSON, &docURL, &docID); err != nil {
			return fmt.Errorf("scan scannable item: %w", err)
		}
		item.DocumentSubtype = subtype.String
		item.ScanningDate = scanned.Time
		item.DocumentURL = docURL.String
		item.DocumentID = docID.String
		if len(ocrJSON) > 0 {
			if err := json.Unmarshal(ocrJSON, &item.OcrData); err != nil {
				return fmt.Errorf("unmarshal ocr data: %w", err)
			}
		}
		env.ScannableItems = append(env.ScannableItems, item)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("select scannable items: %w", err)
	}

	payRows, err := r.pool.Query(ctx, `
		SELECT document_control_number FROM payments WHERE envelope_id=$1 ORDER BY id
	`, env.ID)
	if err != nil {
		return fmt.Errorf("select payments: %w", err)
	}
	defer payRows.Close()
	for payRows.Next() {
		var payment model.Payment
		if err := payRows.Scan(&payment.DocumentControlNumber); err != nil {
			return fmt.Errorf("scan payment: %w", err)
		}
		env.Payments = append(env.Payments, payment)
	}
	if err := payRows.Err(); err != nil {
		return fmt.Errorf("select payments: %w", err)
	}

	nonRows, err := r.pool.Query(ctx, `
		SELECT item_description FROM non_scannable_items WHERE envelope_id=$1 ORDER BY id
	`, env.ID)
	if err != nil {
		return fmt.Errorf("select non-scannable items: %w", err)
	}
	defer nonRows.Close()
	for nonRows.Next() {
		var item model.NonScannableItem
		if err := nonRows.Scan(&item.Description); err != nil {
			return fmt.Errorf("scan non-scannable item: %w", err)
		}
		env.NonScannableItems = append(env.NonScannableItems, item)
	}
	if err := nonRows.Err(); err != nil {
		return fmt.Errorf("select non-scannable items: %w", err)
	}
	return nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
