// Package pipeline drives one ingestion pass: list the archives in each
// source container, and walk every archive through verification, parsing,
// persistence, document upload and downstream hand-off. One archive failing
// never stops the others.
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dharsanguruparan/ScanDrop/internal/config"
	"github.com/dharsanguruparan/ScanDrop/internal/fail"
	"github.com/dharsanguruparan/ScanDrop/internal/lease"
	"github.com/dharsanguruparan/ScanDrop/internal/metafile"
	"github.com/dharsanguruparan/ScanDrop/internal/model"
	"github.com/dharsanguruparan/ScanDrop/internal/notify"
	"github.com/dharsanguruparan/ScanDrop/internal/ocrvalidation"
	"github.com/dharsanguruparan/ScanDrop/internal/queue"
	"github.com/dharsanguruparan/ScanDrop/internal/repository"
)

// BlobStore is the source-container surface the pipeline drives.
type BlobStore interface {
	ListArchives(ctx context.Context, container string) ([]string, error)
	Download(ctx context.Context, container, name string) ([]byte, error)
	Delete(ctx context.Context, container, name string) error
	MoveToRejected(ctx context.Context, container, name string) error
}

// Verifier checks the outer archive signature and yields the inner zip.
type Verifier interface {
	Verify(container string, outer []byte) ([]byte, error)
}

// Parser turns the inner zip into an envelope aggregate plus its PDFs.
type Parser interface {
	Parse(container, zipFileName string, inner []byte) (*model.Envelope, []metafile.PDF, error)
}

// EnvelopeStore is the persistence slice the pipeline needs.
type EnvelopeStore interface {
	Create(ctx context.Context, env *model.Envelope) error
	FindByZip(ctx context.Context, container, zipFileName string) (*model.Envelope, error)
	MarkZipDeleted(ctx context.Context, id uuid.UUID) error
}

// Lifecycle is the envelope state machine surface.
type Lifecycle interface {
	RecordEvent(ctx context.Context, container, zipFileName string, event model.Event, reason string) error
	MarkProcessed(ctx context.Context, env *model.Envelope) error
	MarkCompleted(ctx context.Context, env *model.Envelope) error
	RecordNotificationFailure(ctx context.Context, env *model.Envelope, reason string) error
}

// Uploads coordinates document uploads for one envelope.
type Uploads interface {
	Process(ctx context.Context, env *model.Envelope, pdfs []metafile.PDF) error
}

// Publisher enqueues the outbound tasks.
type Publisher interface {
	PublishError(ctx context.Context, payload queue.ErrorNotificationPayload) error
	PublishProcessed(ctx context.Context, payload queue.ProcessedPayload) error
}

// Gate paces transient-failure retries per archive. Archives a gate holds
// back are skipped silently until a later pass. Satisfied by lease.Manager.
type Gate interface {
	IsReadyToRetry(ctx context.Context, obj lease.ObjectRef) (bool, error)
	SetRetryDelayIfPossible(ctx context.Context, obj lease.ObjectRef) (bool, error)
}

// Option configures optional pipeline stages.
type Option func(*Pipeline)

// WithOCRValidation installs the downstream OCR check, run for envelopes
// whose classification carries OCR data.
func WithOCRValidation(v ocrvalidation.Validator) Option {
	return func(p *Pipeline) { p.ocr = v }
}

// WithRetryGate installs the lease-backed retry gate checked before each
// archive is picked up.
func WithRetryGate(g Gate) Option {
	return func(p *Pipeline) { p.gate = g }
}

// Pipeline wires the stages together for a set of configured containers.
type Pipeline struct {
	containers []config.Container
	blobs      BlobStore
	verifier   Verifier
	parser     Parser
	envelopes  EnvelopeStore
	lifecycle  Lifecycle
	uploads    Uploads
	publisher  Publisher
	ocr        ocrvalidation.Validator
	gate       Gate
	log        zerolog.Logger
}

// New constructs a Pipeline.
func New(containers []config.Container, blobs BlobStore, verifier Verifier, parser Parser,
	envelopes EnvelopeStore, lifecycle Lifecycle, uploads Uploads, publisher Publisher,
	log zerolog.Logger, opts ...Option) *Pipeline {
	p := &Pipeline{
		containers: containers,
		blobs:      blobs,
		verifier:   verifier,
		parser:     parser,
		envelopes:  envelopes,
		lifecycle:  lifecycle,
		uploads:    uploads,
		publisher:  publisher,
		log:        log.With().Str("component", "pipeline").Logger(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run performs one pass over every configured container. Archive failures
// are handled per archive and never abort the pass.
func (p *Pipeline) Run(ctx context.Context) error {
	for i := range p.containers {
		ct := p.containers[i]
		names, err := p.blobs.ListArchives(ctx, ct.Name)
		if err != nil {
			p.log.Error().Err(err).Str("container", ct.Name).Msg("list archives")
			continue
		}
		for _, name := range names {
			if err := ctx.Err(); err != nil {
				return err
			}
			if p.gate != nil {
				ready, err := p.gate.IsReadyToRetry(ctx, lease.ObjectRef{Container: ct.Name, Name: name})
				if err != nil {
					p.log.Error().Err(err).Str("container", ct.Name).Str("zip", name).Msg("retry gate check")
					continue
				}
				if !ready {
					continue
				}
			}
			if err := p.ProcessArchive(ctx, ct, name); err != nil {
				p.handleFailure(ctx, ct, name, err)
			}
		}
	}
	return nil
}

// ProcessArchive walks a single archive through to completion. Errors
// carrying a fail.Kind are terminal for the archive, except upload
// failures; those and kindless errors leave it in place for a later pass.
func (p *Pipeline) ProcessArchive(ctx context.Context, ct config.Container, name string) error {
	log := p.log.With().Str("container", ct.Name).Str("zip", name).Logger()

	if !ct.Enabled {
		return fail.Newf(fail.ServiceDisabled, "container %s is disabled", ct.Name)
	}

	env, err := p.envelopes.FindByZip(ctx, ct.Name, name)
	switch {
	case err == nil:
		log.Info().Str("status", string(env.Status)).Msg("resuming known archive")
		return p.resume(ctx, ct, name, env)
	case errors.Is(err, repository.ErrNotFound):
		// First sighting, fall through.
	default:
		return fmt.Errorf("lookup envelope: %w", err)
	}

	outer, err := p.blobs.Download(ctx, ct.Name, name)
	if err != nil {
		return fmt.Errorf("download archive: %w", err)
	}

	inner, err := p.verifier.Verify(ct.Name, outer)
	if err != nil {
		return err
	}

	if err := p.lifecycle.RecordEvent(ctx, ct.Name, name, model.EventZipProcessingStarted, ""); err != nil {
		return fmt.Errorf("record processing start: %w", err)
	}

	env, pdfs, err := p.parser.Parse(ct.Name, name, inner)
	if err != nil {
		return err
	}

	if err := p.validateOcr(ctx, env); err != nil {
		return err
	}

	if err := p.envelopes.Create(ctx, env); err != nil {
		return fmt.Errorf("persist envelope: %w", err)
	}
	log.Info().Str("envelope_id", env.ID.String()).Msg("envelope created")

	if err := p.uploads.Process(ctx, env, pdfs); err != nil {
		return err
	}
	return p.finish(ctx, ct, name, env)
}

// resume picks up an archive whose envelope already exists, continuing from
// whatever status the previous pass reached.
func (p *Pipeline) resume(ctx context.Context, ct config.Container, name string, env *model.Envelope) error {
	switch env.Status {
	case model.StatusCompleted, model.StatusConsumed:
		return p.removeArchive(ctx, ct, name, env)
	case model.StatusProcessed:
		return p.finish(ctx, ct, name, env)
	case model.StatusUploaded:
		if err := p.lifecycle.MarkProcessed(ctx, env); err != nil {
			return err
		}
		return p.finish(ctx, ct, name, env)
	case model.StatusCreated:
		outer, err := p.blobs.Download(ctx, ct.Name, name)
		if err != nil {
			return fmt.Errorf("download archive: %w", err)
		}
		inner, err := p.verifier.Verify(ct.Name, outer)
		if err != nil {
			return err
		}
		// Reparse for the payloads only; the stored aggregate keeps the
		// references already assigned on earlier attempts.
		_, pdfs, err := p.parser.Parse(ct.Name, name, inner)
		if err != nil {
			return err
		}
		if err := p.uploads.Process(ctx, env, pdfs); err != nil {
			return err
		}
		return p.finish(ctx, ct, name, env)
	default:
		return fmt.Errorf("envelope %s in unexpected status %q", env.ID, env.Status)
	}
}

// finish hands the processed envelope downstream, completes it and removes
// the source archive. The downstream enqueue gates completion.
func (p *Pipeline) finish(ctx context.Context, ct config.Container, name string, env *model.Envelope) error {
	payload := queue.ProcessedPayload{
		EnvelopeID: env.ID.String(),
		CaseNumber: env.CaseNumber,
		CcdAction:  ccdAction(env.Classification),
	}
	if err := p.publisher.PublishProcessed(ctx, payload); err != nil {
		if recErr := p.lifecycle.RecordNotificationFailure(ctx, env, err.Error()); recErr != nil {
			p.log.Error().Err(recErr).Str("zip", name).Msg("record notification failure")
		}
		return fmt.Errorf("publish processed message: %w", err)
	}
	if err := p.lifecycle.MarkCompleted(ctx, env); err != nil {
		return err
	}
	return p.removeArchive(ctx, ct, name, env)
}

func (p *Pipeline) removeArchive(ctx context.Context, ct config.Container, name string, env *model.Envelope) error {
	if err := p.blobs.Delete(ctx, ct.Name, name); err != nil {
		return fmt.Errorf("delete archive: %w", err)
	}
	if err := p.envelopes.MarkZipDeleted(ctx, env.ID); err != nil {
		return fmt.Errorf("mark zip deleted: %w", err)
	}
	p.log.Info().Str("container", ct.Name).Str("zip", name).Msg("archive removed")
	return nil
}

// handleFailure decides what a processing error means for the archive. A
// recognized failure kind is terminal: the failure is recorded, a
// notification is enqueued and the archive is moved aside for manual
// review. Anything else is treated as transient and retried next pass.
func (p *Pipeline) handleFailure(ctx context.Context, ct config.Container, name string, procErr error) {
	log := p.log.With().Str("container", ct.Name).Str("zip", name).Logger()

	kind, ok := fail.KindOf(procErr)
	if !ok || kind == fail.DocumentUrlNotRetrieved {
		// Upload failures already left their own event behind; infra
		// errors carry no kind. Both resolve on a later pass, with no
		// cap; the counted retry budget applies only to validation
		// outages.
		log.Warn().Err(procErr).Msg("transient failure, archive kept for retry")
		var outage *validationOutageError
		if errors.As(procErr, &outage) {
			p.scheduleRetry(ctx, ct, name)
		}
		return
	}

	log.Error().Err(procErr).Stringer("kind", kind).Msg("archive rejected")
	p.reject(ctx, ct, name, kind, procErr)
}

// reject records the terminal failure, raises the notification and moves
// the archive aside for manual review.
func (p *Pipeline) reject(ctx context.Context, ct config.Container, name string, kind fail.Kind, procErr error) {
	log := p.log.With().Str("container", ct.Name).Str("zip", name).Logger()

	if err := p.lifecycle.RecordEvent(ctx, ct.Name, name, eventFor(kind), procErr.Error()); err != nil {
		log.Error().Err(err).Msg("record failure event")
	}
	if err := p.publisher.PublishError(ctx, notify.BuildPayload(ct.Name, name, ct.Name, procErr)); err != nil {
		log.Error().Err(err).Msg("enqueue error notification")
	}
	if err := p.blobs.MoveToRejected(ctx, ct.Name, name); err != nil {
		log.Error().Err(err).Msg("move archive to rejected")
	}
}

// scheduleRetry records the next validation-retry delay when a gate is
// installed. An exhausted retry budget turns the outage terminal.
func (p *Pipeline) scheduleRetry(ctx context.Context, ct config.Container, name string) {
	if p.gate == nil {
		return
	}
	obj := lease.ObjectRef{Container: ct.Name, Name: name}
	_, err := p.gate.SetRetryDelayIfPossible(ctx, obj)
	switch {
	case err == nil:
		// Delay recorded, or another worker owns the object this cycle.
	case errors.Is(err, lease.ErrRetriesExhausted):
		giveUp := fail.New(fail.RescanRequired, "validation attempts exhausted, archive left for manual rescan")
		if env, findErr := p.envelopes.FindByZip(ctx, ct.Name, name); findErr == nil {
			giveUp.PoBox = env.PoBox
		}
		p.reject(ctx, ct, name, fail.RescanRequired, giveUp)
	default:
		p.log.Error().Err(err).Str("container", ct.Name).Str("zip", name).Msg("record retry delay")
	}
}

// validationOutageError marks an OCR-validation outage. Only outages feed
// the counted retry budget; other transient failures retry uncapped.
type validationOutageError struct {
	err error
}

func (e *validationOutageError) Error() string { return e.err.Error() }
func (e *validationOutageError) Unwrap() error { return e.err }

// validateOcr runs the downstream OCR check for classifications that carry
// OCR data. A rejected verdict is terminal; an unavailable service is a
// transient outage and keeps the archive for a later pass.
func (p *Pipeline) validateOcr(ctx context.Context, env *model.Envelope) error {
	if p.ocr == nil || env.Classification != model.ClassificationSupplementaryEvidenceWithOcr {
		return nil
	}
	req := ocrvalidation.Request{
		Container:   env.Container,
		ZipFileName: env.ZipFileName,
		PoBox:       env.PoBox,
	}
	for i := range env.ScannableItems {
		req.OcrFields = append(req.OcrFields, env.ScannableItems[i].OcrData...)
	}
	err := p.ocr.Validate(ctx, req)
	if err == nil {
		return nil
	}
	var rejected *ocrvalidation.RejectedError
	if errors.As(err, &rejected) {
		fe := fail.Wrap(fail.InvalidMetafile, "ocr validation rejected", err)
		fe.PoBox = env.PoBox
		return fe
	}
	return &validationOutageError{err: fmt.Errorf("ocr validation: %w", err)}
}

func eventFor(kind fail.Kind) model.Event {
	switch kind {
	case fail.SignatureVerificationFailed:
		return model.EventDocSignatureFailure
	case fail.ServiceDisabled:
		return model.EventServiceDisabled
	default:
		return model.EventFileValidationFailure
	}
}

// ccdAction maps the envelope classification onto the downstream case
// action verb.
func ccdAction(c model.Classification) string {
	switch c {
	case model.ClassificationException:
		return "createException"
	case model.ClassificationNewApplication:
		return "createCase"
	default:
		return "attachToExistingCase"
	}
}
