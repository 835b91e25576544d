// Package lifecycle drives the envelope state machine and its append-only
// audit log. Every transition and every pre-persistence failure produces
// exactly one ProcessEvent.
package lifecycle

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dharsanguruparan/ScanDrop/internal/model"
)

// EnvelopeStore is the subset of the envelope repository the state machine
// mutates through.
type EnvelopeStore interface {
	UpdateStatus(ctx context.Context, id uuid.UUID, status model.Status) error
	SetDocumentReferences(ctx context.Context, id uuid.UUID, items []model.ScannableItem) error
	IncrementUploadFailure(ctx context.Context, id uuid.UUID) error
}

// EventLog appends audit rows.
type EventLog interface {
	Append(ctx context.Context, ev *model.ProcessEvent) error
}

// Service coordinates status changes with their audit events.
type Service struct {
	envelopes EnvelopeStore
	events    EventLog
	log       zerolog.Logger
}

// New constructs the lifecycle service.
func New(envelopes EnvelopeStore, events EventLog, log zerolog.Logger) *Service {
	return &Service{envelopes: envelopes, events: events, log: log}
}

// RecordEvent appends an audit row that is not tied to a persisted
// envelope, e.g. a validation failure before any row exists.
func (s *Service) RecordEvent(ctx context.Context, container, zipFileName string, event model.Event, reason string) error {
	ev := &model.ProcessEvent{
		Container:   container,
		ZipFileName: zipFileName,
		Event:       event,
		Reason:      reason,
	}
	if err := s.events.Append(ctx, ev); err != nil {
		return fmt.Errorf("append %s event: %w", event, err)
	}
	s.log.Info().
		Str("container", container).
		Str("zip", zipFileName).
		Str("event", string(event)).
		Str("reason", reason).
		Msg("process event recorded")
	return nil
}

// MarkUploaded assigns document references and moves created → uploaded in
// one atomic write, then appends the doc_uploaded event.
func (s *Service) MarkUploaded(ctx context.Context, env *model.Envelope) error {
	if !model.CanTransition(env.Status, model.StatusUploaded) {
		return fmt.Errorf("illegal transition %s -> %s for envelope %s", env.Status, model.StatusUploaded, env.ID)
	}
	if err := s.envelopes.SetDocumentReferences(ctx, env.ID, env.ScannableItems); err != nil {
		return fmt.Errorf("set document references: %w", err)
	}
	env.Status = model.StatusUploaded
	return s.RecordEvent(ctx, env.Container, env.ZipFileName, model.EventDocUploaded, "")
}

// MarkProcessed moves uploaded → processed once every scannable item is
// verified to carry a document reference. The check is explicit; callers
// never get to assume it.
func (s *Service) MarkProcessed(ctx context.Context, env *model.Envelope) error {
	if !model.CanTransition(env.Status, model.StatusProcessed) {
		return fmt.Errorf("illegal transition %s -> %s for envelope %s", env.Status, model.StatusProcessed, env.ID)
	}
	if !env.AllItemsReferenced() {
		return fmt.Errorf("envelope %s has items without document references", env.ID)
	}
	if err := s.envelopes.UpdateStatus(ctx, env.ID, model.StatusProcessed); err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	env.Status = model.StatusProcessed
	return s.RecordEvent(ctx, env.Container, env.ZipFileName, model.EventDocProcessed, "")
}

// MarkCompleted moves processed → completed after the processing-complete
// notification was delivered, appending the notification_sent event.
func (s *Service) MarkCompleted(ctx context.Context, env *model.Envelope) error {
	if !model.CanTransition(env.Status, model.StatusCompleted) {
		return fmt.Errorf("illegal transition %s -> %s for envelope %s", env.Status, model.StatusCompleted, env.ID)
	}
	if err := s.envelopes.UpdateStatus(ctx, env.ID, model.StatusCompleted); err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	env.Status = model.StatusCompleted
	return s.RecordEvent(ctx, env.Container, env.ZipFileName, model.EventNotificationSent, "")
}

// RecordNotificationFailure appends the notification_failure event; the
// envelope stays processed and the delivery is retried later.
func (s *Service) RecordNotificationFailure(ctx context.Context, env *model.Envelope, reason string) error {
	return s.RecordEvent(ctx, env.Container, env.ZipFileName, model.EventNotificationFailure, reason)
}

// RecordUploadFailure bumps the failure counter and appends the
// doc_upload_failure event. The status is left unchanged so the next
// scheduler pass retries the upload.
func (s *Service) RecordUploadFailure(ctx context.Context, env *model.Envelope, reason string) error {
	if err := s.envelopes.IncrementUploadFailure(ctx, env.ID); err != nil {
		return fmt.Errorf("increment upload failure: %w", err)
	}
	env.UploadFailureCount++
	return s.RecordEvent(ctx, env.Container, env.ZipFileName, model.EventDocUploadFailure, reason)
}
