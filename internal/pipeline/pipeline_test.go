package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/ScanDrop/internal/config"
	"github.com/dharsanguruparan/ScanDrop/internal/fail"
	"github.com/dharsanguruparan/ScanDrop/internal/lease"
	"github.com/dharsanguruparan/ScanDrop/internal/metafile"
	"github.com/dharsanguruparan/ScanDrop/internal/model"
	"github.com/dharsanguruparan/ScanDrop/internal/ocrvalidation"
	"github.com/dharsanguruparan/ScanDrop/internal/queue"
	"github.com/dharsanguruparan/ScanDrop/internal/repository"
)

type fakeBlobs struct {
	archives map[string][]string
	data     map[string][]byte
	deleted  []string
	rejected []string
}

func (f *fakeBlobs) ListArchives(_ context.Context, container string) ([]string, error) {
	return f.archives[container], nil
}

func (f *fakeBlobs) Download(_ context.Context, container, name string) ([]byte, error) {
	data, ok := f.data[container+"/"+name]
	if !ok {
		return nil, errors.New("object missing")
	}
	return data, nil
}

func (f *fakeBlobs) Delete(_ context.Context, container, name string) error {
	f.deleted = append(f.deleted, container+"/"+name)
	return nil
}

func (f *fakeBlobs) MoveToRejected(_ context.Context, container, name string) error {
	f.rejected = append(f.rejected, container+"/"+name)
	return nil
}

type fakeVerifier struct {
	err error
}

func (f *fakeVerifier) Verify(_ string, outer []byte) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	return outer, nil
}

type fakeParser struct {
	env  *model.Envelope
	pdfs []metafile.PDF
	err  error
}

func (f *fakeParser) Parse(_, _ string, _ []byte) (*model.Envelope, []metafile.PDF, error) {
	if f.err != nil {
		return nil, nil, f.err
	}
	return f.env, f.pdfs, nil
}

type fakeEnvelopes struct {
	existing   *model.Envelope
	created    []*model.Envelope
	zipDeleted []uuid.UUID
}

func (f *fakeEnvelopes) Create(_ context.Context, env *model.Envelope) error {
	f.created = append(f.created, env)
	return nil
}

func (f *fakeEnvelopes) FindByZip(_ context.Context, _, _ string) (*model.Envelope, error) {
	if f.existing == nil {
		return nil, repository.ErrNotFound
	}
	return f.existing, nil
}

func (f *fakeEnvelopes) MarkZipDeleted(_ context.Context, id uuid.UUID) error {
	f.zipDeleted = append(f.zipDeleted, id)
	return nil
}

type recordedEvent struct {
	event  model.Event
	reason string
}

type fakeLifecycle struct {
	events    []recordedEvent
	processed int
	completed int
	notifyErr int
}

func (f *fakeLifecycle) RecordEvent(_ context.Context, _, _ string, event model.Event, reason string) error {
	f.events = append(f.events, recordedEvent{event: event, reason: reason})
	return nil
}

func (f *fakeLifecycle) MarkProcessed(_ context.Context, env *model.Envelope) error {
	f.processed++
	env.Status = model.StatusProcessed
	return nil
}

func (f *fakeLifecycle) MarkCompleted(_ context.Context, env *model.Envelope) error {
	f.completed++
	env.Status = model.StatusCompleted
	return nil
}

func (f *fakeLifecycle) RecordNotificationFailure(_ context.Context, _ *model.Envelope, _ string) error {
	f.notifyErr++
	return nil
}

type fakeUploads struct {
	calls int
	err   error
}

func (f *fakeUploads) Process(_ context.Context, env *model.Envelope, _ []metafile.PDF) error {
	f.calls++
	if f.err != nil {
		return f.err
	}
	env.Status = model.StatusProcessed
	return nil
}

type fakePublisher struct {
	errorPayloads []queue.ErrorNotificationPayload
	processed     []queue.ProcessedPayload
	processedErr  error
}

func (f *fakePublisher) PublishError(_ context.Context, payload queue.ErrorNotificationPayload) error {
	f.errorPayloads = append(f.errorPayloads, payload)
	return nil
}

func (f *fakePublisher) PublishProcessed(_ context.Context, payload queue.ProcessedPayload) error {
	if f.processedErr != nil {
		return f.processedErr
	}
	f.processed = append(f.processed, payload)
	return nil
}

type fakeGate struct {
	ready    bool
	setErr   error
	setCalls int
}

func (f *fakeGate) IsReadyToRetry(_ context.Context, _ lease.ObjectRef) (bool, error) {
	return f.ready, nil
}

func (f *fakeGate) SetRetryDelayIfPossible(_ context.Context, _ lease.ObjectRef) (bool, error) {
	f.setCalls++
	if f.setErr != nil {
		return false, f.setErr
	}
	return true, nil
}

type fakeOcr struct {
	err   error
	calls int
}

func (f *fakeOcr) Validate(_ context.Context, _ ocrvalidation.Request) error {
	f.calls++
	return f.err
}

type fixture struct {
	blobs     *fakeBlobs
	verifier  *fakeVerifier
	parser    *fakeParser
	envelopes *fakeEnvelopes
	lifecycle *fakeLifecycle
	uploads   *fakeUploads
	publisher *fakePublisher
	pipe      *Pipeline
}

func newFixture(containers ...config.Container) *fixture {
	f := &fixture{
		blobs: &fakeBlobs{
			archives: map[string][]string{},
			data:     map[string][]byte{},
		},
		verifier:  &fakeVerifier{},
		parser:    &fakeParser{},
		envelopes: &fakeEnvelopes{},
		lifecycle: &fakeLifecycle{},
		uploads:   &fakeUploads{},
		publisher: &fakePublisher{},
	}
	f.pipe = New(containers, f.blobs, f.verifier, f.parser, f.envelopes,
		f.lifecycle, f.uploads, f.publisher, zerolog.Nop())
	return f
}

func testEnvelope() *model.Envelope {
	return &model.Envelope{
		ID:             uuid.New(),
		Container:      "sscs",
		ZipFileName:    "env.zip",
		PoBox:          "PO 7231",
		CaseNumber:     "1234",
		Classification: model.ClassificationNewApplication,
		Status:         model.StatusCreated,
	}
}

func TestRun_FreshArchiveSucceeds(t *testing.T) {
	ct := config.Container{Name: "sscs", Enabled: true}
	f := newFixture(ct)
	f.blobs.archives["sscs"] = []string{"env.zip"}
	f.blobs.data["sscs/env.zip"] = []byte("outer")
	f.parser.env = testEnvelope()

	require.NoError(t, f.pipe.Run(context.Background()))

	require.Len(t, f.envelopes.created, 1)
	require.Equal(t, 1, f.uploads.calls)
	require.Len(t, f.publisher.processed, 1)
	require.Equal(t, "createCase", f.publisher.processed[0].CcdAction)
	require.Equal(t, 1, f.lifecycle.completed)
	require.Equal(t, []string{"sscs/env.zip"}, f.blobs.deleted)
	require.Len(t, f.envelopes.zipDeleted, 1)
	require.Empty(t, f.blobs.rejected)

	require.NotEmpty(t, f.lifecycle.events)
	require.Equal(t, model.EventZipProcessingStarted, f.lifecycle.events[0].event)
}

func TestRun_SignatureFailureRejectsArchive(t *testing.T) {
	ct := config.Container{Name: "sscs", Enabled: true}
	f := newFixture(ct)
	f.blobs.archives["sscs"] = []string{"bad.zip"}
	f.blobs.data["sscs/bad.zip"] = []byte("outer")
	f.verifier.err = fail.New(fail.SignatureVerificationFailed, "signature mismatch")

	require.NoError(t, f.pipe.Run(context.Background()))

	require.Equal(t, []string{"sscs/bad.zip"}, f.blobs.rejected)
	require.Empty(t, f.blobs.deleted)
	require.Len(t, f.publisher.errorPayloads, 1)
	require.Equal(t, "ERR_SIG_VERIFY_FAILED", f.publisher.errorPayloads[0].ErrorCode)

	require.Len(t, f.lifecycle.events, 1)
	require.Equal(t, model.EventDocSignatureFailure, f.lifecycle.events[0].event)
}

func TestRun_ParseFailureNotificationCarriesPoBox(t *testing.T) {
	ct := config.Container{Name: "sscs", Enabled: true}
	f := newFixture(ct)
	f.blobs.archives["sscs"] = []string{"env.zip"}
	f.blobs.data["sscs/env.zip"] = []byte("outer")
	f.parser.err = &fail.Error{
		Kind:  fail.DisallowedDocumentTypes,
		Msg:   "disallowed document types [Form]",
		PoBox: "PO 7231",
	}

	require.NoError(t, f.pipe.Run(context.Background()))

	require.Len(t, f.publisher.errorPayloads, 1)
	require.Equal(t, "PO 7231", f.publisher.errorPayloads[0].PoBox)
}

func TestRun_DisabledContainerRejectsWithServiceDisabled(t *testing.T) {
	ct := config.Container{Name: "sscs", Enabled: false}
	f := newFixture(ct)
	f.blobs.archives["sscs"] = []string{"env.zip"}

	require.NoError(t, f.pipe.Run(context.Background()))

	require.Equal(t, []string{"sscs/env.zip"}, f.blobs.rejected)
	require.Len(t, f.lifecycle.events, 1)
	require.Equal(t, model.EventServiceDisabled, f.lifecycle.events[0].event)
	require.Len(t, f.publisher.errorPayloads, 1)
	require.Equal(t, "ERR_SERVICE_DISABLED", f.publisher.errorPayloads[0].ErrorCode)
}

func TestRun_UploadFailureIsTransient(t *testing.T) {
	ct := config.Container{Name: "sscs", Enabled: true}
	f := newFixture(ct)
	f.blobs.archives["sscs"] = []string{"env.zip"}
	f.blobs.data["sscs/env.zip"] = []byte("outer")
	f.parser.env = testEnvelope()
	f.uploads.err = fail.New(fail.DocumentUrlNotRetrieved, "missing document URLs: [a.pdf]")

	require.NoError(t, f.pipe.Run(context.Background()))

	require.Empty(t, f.blobs.rejected, "archive must stay for the next pass")
	require.Empty(t, f.blobs.deleted)
	require.Empty(t, f.publisher.errorPayloads)
	require.Zero(t, f.lifecycle.completed)
}

func TestRun_DownstreamEnqueueFailureKeepsArchive(t *testing.T) {
	ct := config.Container{Name: "sscs", Enabled: true}
	f := newFixture(ct)
	f.blobs.archives["sscs"] = []string{"env.zip"}
	f.blobs.data["sscs/env.zip"] = []byte("outer")
	f.parser.env = testEnvelope()
	f.publisher.processedErr = errors.New("broker down")

	require.NoError(t, f.pipe.Run(context.Background()))

	require.Zero(t, f.lifecycle.completed)
	require.Equal(t, 1, f.lifecycle.notifyErr)
	require.Empty(t, f.blobs.deleted)
	require.Empty(t, f.blobs.rejected)
}

func TestRun_IsolatesArchiveFailures(t *testing.T) {
	ct := config.Container{Name: "sscs", Enabled: true}
	f := newFixture(ct)
	f.blobs.archives["sscs"] = []string{"missing.zip", "good.zip"}
	f.blobs.data["sscs/good.zip"] = []byte("outer")
	f.parser.env = testEnvelope()

	require.NoError(t, f.pipe.Run(context.Background()))

	// The first archive cannot be downloaded; the second still completes.
	require.Equal(t, []string{"sscs/good.zip"}, f.blobs.deleted)
	require.Equal(t, 1, f.lifecycle.completed)
}

func withOptions(f *fixture, ct config.Container, opts ...Option) {
	f.pipe = New([]config.Container{ct}, f.blobs, f.verifier, f.parser, f.envelopes,
		f.lifecycle, f.uploads, f.publisher, zerolog.Nop(), opts...)
}

func TestRun_GateHoldsBackArchive(t *testing.T) {
	ct := config.Container{Name: "sscs", Enabled: true}
	f := newFixture(ct)
	f.blobs.archives["sscs"] = []string{"env.zip"}
	f.blobs.data["sscs/env.zip"] = []byte("outer")
	f.parser.env = testEnvelope()
	withOptions(f, ct, WithRetryGate(&fakeGate{ready: false}))

	require.NoError(t, f.pipe.Run(context.Background()))

	require.Zero(t, f.uploads.calls)
	require.Empty(t, f.blobs.deleted)
	require.Empty(t, f.blobs.rejected)
}

func TestRun_ValidationOutageRecordsRetryDelay(t *testing.T) {
	ct := config.Container{Name: "sscs", Enabled: true}
	f := newFixture(ct)
	f.blobs.archives["sscs"] = []string{"env.zip"}
	f.blobs.data["sscs/env.zip"] = []byte("outer")
	env := testEnvelope()
	env.Classification = model.ClassificationSupplementaryEvidenceWithOcr
	f.parser.env = env
	gate := &fakeGate{ready: true}
	ocr := &fakeOcr{err: &ocrvalidation.UnavailableError{Status: 503}}
	withOptions(f, ct, WithRetryGate(gate), WithOCRValidation(ocr))

	require.NoError(t, f.pipe.Run(context.Background()))

	require.Equal(t, 1, gate.setCalls)
	require.Empty(t, f.blobs.rejected)
}

func TestRun_UploadFailureNeverTouchesRetryBudget(t *testing.T) {
	ct := config.Container{Name: "sscs", Enabled: true}
	f := newFixture(ct)
	f.blobs.archives["sscs"] = []string{"env.zip"}
	f.blobs.data["sscs/env.zip"] = []byte("outer")
	f.parser.env = testEnvelope()
	f.uploads.err = fail.New(fail.DocumentUrlNotRetrieved, "missing document URLs: [a.pdf]")
	gate := &fakeGate{ready: true}
	withOptions(f, ct, WithRetryGate(gate))

	require.NoError(t, f.pipe.Run(context.Background()))

	// Upload failures stay retryable forever; no counted budget, no
	// terminal state.
	require.Zero(t, gate.setCalls)
	require.Empty(t, f.blobs.rejected)
	require.Empty(t, f.publisher.errorPayloads)
}

func TestRun_ExhaustedValidationRetriesRejectWithRescanRequired(t *testing.T) {
	ct := config.Container{Name: "sscs", Enabled: true}
	f := newFixture(ct)
	f.blobs.archives["sscs"] = []string{"env.zip"}
	f.blobs.data["sscs/env.zip"] = []byte("outer")
	env := testEnvelope()
	env.Classification = model.ClassificationSupplementaryEvidenceWithOcr
	f.parser.env = env
	gate := &fakeGate{ready: true, setErr: lease.ErrRetriesExhausted}
	ocr := &fakeOcr{err: &ocrvalidation.UnavailableError{Status: 503}}
	withOptions(f, ct, WithRetryGate(gate), WithOCRValidation(ocr))

	require.NoError(t, f.pipe.Run(context.Background()))

	require.Equal(t, []string{"sscs/env.zip"}, f.blobs.rejected)
	require.Len(t, f.publisher.errorPayloads, 1)
	require.Equal(t, "ERR_RESCAN_REQUIRED", f.publisher.errorPayloads[0].ErrorCode)
}

func TestProcessArchive_OcrRejectionIsTerminal(t *testing.T) {
	ct := config.Container{Name: "sscs", Enabled: true}
	f := newFixture(ct)
	f.blobs.archives["sscs"] = []string{"env.zip"}
	f.blobs.data["sscs/env.zip"] = []byte("outer")
	env := testEnvelope()
	env.Classification = model.ClassificationSupplementaryEvidenceWithOcr
	f.parser.env = env
	ocr := &fakeOcr{err: &ocrvalidation.RejectedError{Status: 422, Message: "bad fields"}}
	withOptions(f, ct, WithOCRValidation(ocr))

	require.NoError(t, f.pipe.Run(context.Background()))

	require.Equal(t, 1, ocr.calls)
	require.Empty(t, f.envelopes.created, "rejected envelopes must not be persisted")
	require.Equal(t, []string{"sscs/env.zip"}, f.blobs.rejected)
	require.Len(t, f.publisher.errorPayloads, 1)
	require.Equal(t, "ERR_METAFILE_INVALID", f.publisher.errorPayloads[0].ErrorCode)
	require.Equal(t, "PO 7231", f.publisher.errorPayloads[0].PoBox)
}

func TestProcessArchive_OcrOutageIsTransient(t *testing.T) {
	ct := config.Container{Name: "sscs", Enabled: true}
	f := newFixture(ct)
	f.blobs.archives["sscs"] = []string{"env.zip"}
	f.blobs.data["sscs/env.zip"] = []byte("outer")
	env := testEnvelope()
	env.Classification = model.ClassificationSupplementaryEvidenceWithOcr
	f.parser.env = env
	ocr := &fakeOcr{err: &ocrvalidation.UnavailableError{Status: 503}}
	withOptions(f, ct, WithOCRValidation(ocr))

	require.NoError(t, f.pipe.Run(context.Background()))

	require.Empty(t, f.blobs.rejected)
	require.Empty(t, f.envelopes.created)
	require.Empty(t, f.publisher.errorPayloads)
}

func TestProcessArchive_OcrSkippedForOtherClassifications(t *testing.T) {
	ct := config.Container{Name: "sscs", Enabled: true}
	f := newFixture(ct)
	f.blobs.archives["sscs"] = []string{"env.zip"}
	f.blobs.data["sscs/env.zip"] = []byte("outer")
	f.parser.env = testEnvelope()
	ocr := &fakeOcr{err: &ocrvalidation.UnavailableError{Status: 503}}
	withOptions(f, ct, WithOCRValidation(ocr))

	require.NoError(t, f.pipe.Run(context.Background()))

	require.Zero(t, ocr.calls)
	require.Equal(t, 1, f.lifecycle.completed)
}

func TestProcessArchive_ResumeCompletedOnlyCleansUp(t *testing.T) {
	ct := config.Container{Name: "sscs", Enabled: true}
	f := newFixture(ct)
	env := testEnvelope()
	env.Status = model.StatusCompleted
	f.envelopes.existing = env

	require.NoError(t, f.pipe.ProcessArchive(context.Background(), ct, "env.zip"))

	require.Equal(t, []string{"sscs/env.zip"}, f.blobs.deleted)
	require.Zero(t, f.uploads.calls)
	require.Empty(t, f.publisher.processed)
}

func TestProcessArchive_ResumeUploadedMarksProcessedAndFinishes(t *testing.T) {
	ct := config.Container{Name: "sscs", Enabled: true}
	f := newFixture(ct)
	env := testEnvelope()
	env.Status = model.StatusUploaded
	f.envelopes.existing = env

	require.NoError(t, f.pipe.ProcessArchive(context.Background(), ct, "env.zip"))

	require.Equal(t, 1, f.lifecycle.processed)
	require.Len(t, f.publisher.processed, 1)
	require.Equal(t, 1, f.lifecycle.completed)
	require.Equal(t, []string{"sscs/env.zip"}, f.blobs.deleted)
}
