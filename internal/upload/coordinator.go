// Package upload coordinates document uploads for an envelope and
// reconciles the results against its declared scannable items.
package upload

import (
	"context"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/dharsanguruparan/ScanDrop/internal/docstore"
	"github.com/dharsanguruparan/ScanDrop/internal/fail"
	"github.com/dharsanguruparan/ScanDrop/internal/metafile"
	"github.com/dharsanguruparan/ScanDrop/internal/model"
)

// Uploader sends PDFs to the document store. The operation is idempotent
// per file name, so retries are safe.
type Uploader interface {
	Upload(ctx context.Context, container string, files []metafile.PDF) (map[string]docstore.Reference, error)
}

// Lifecycle is the slice of the lifecycle service the coordinator reports
// into.
type Lifecycle interface {
	MarkUploaded(ctx context.Context, env *model.Envelope) error
	MarkProcessed(ctx context.Context, env *model.Envelope) error
	RecordUploadFailure(ctx context.Context, env *model.Envelope, reason string) error
}

// Coordinator uploads an envelope's documents and advances its lifecycle.
type Coordinator struct {
	store     Uploader
	lifecycle Lifecycle
	log       zerolog.Logger
}

// New constructs a Coordinator.
func New(store Uploader, lifecycle Lifecycle, log zerolog.Logger) *Coordinator {
	return &Coordinator{store: store, lifecycle: lifecycle, log: log}
}

// Process uploads the envelope's pending PDFs, assigns document references,
// and moves the envelope through uploaded to processed. Items that already
// carry a reference from an earlier attempt are skipped, never re-uploaded.
// On failure the envelope is left retryable: counter bumped, failure event
// appended, status unchanged.
func (c *Coordinator) Process(ctx context.Context, env *model.Envelope, pdfs []metafile.PDF) error {
	pending := c.pendingFiles(env, pdfs)

	var refs map[string]docstore.Reference
	if len(pending) > 0 {
		var err error
		refs, err = c.store.Upload(ctx, env.Container, pending)
		if err != nil {
			if recordErr := c.lifecycle.RecordUploadFailure(ctx, env, err.Error()); recordErr != nil {
				c.log.Error().Err(recordErr).Str("zip", env.ZipFileName).Msg("record upload failure")
			}
			return fail.Wrap(fail.DocumentUrlNotRetrieved, "upload documents", err)
		}
	}

	if missing := missingFileNames(env, refs); len(missing) > 0 {
		reason := "missing document URLs: [" + strings.Join(missing, ", ") + "]"
		if recordErr := c.lifecycle.RecordUploadFailure(ctx, env, reason); recordErr != nil {
			c.log.Error().Err(recordErr).Str("zip", env.ZipFileName).Msg("record upload failure")
		}
		return fail.New(fail.DocumentUrlNotRetrieved, reason)
	}

	for i := range env.ScannableItems {
		item := &env.ScannableItems[i]
		if item.HasReference() {
			continue
		}
		ref := refs[item.FileName]
		item.DocumentURL = ref.URL
		item.DocumentID = ref.ID
	}

	if err := c.lifecycle.MarkUploaded(ctx, env); err != nil {
		return err
	}
	return c.lifecycle.MarkProcessed(ctx, env)
}

// pendingFiles returns the PDFs whose items still lack a reference.
func (c *Coordinator) pendingFiles(env *model.Envelope, pdfs []metafile.PDF) []metafile.PDF {
	referenced := make(map[string]bool, len(env.ScannableItems))
	for i := range env.ScannableItems {
		item := &env.ScannableItems[i]
		if item.HasReference() {
			referenced[item.FileName] = true
		}
	}
	pending := make([]metafile.PDF, 0, len(pdfs))
	for _, pdf := range pdfs {
		if !referenced[pdf.FileName] {
			pending = append(pending, pdf)
		}
	}
	return pending
}

// missingFileNames lists every item without a reference that the upload
// result does not cover, sorted for a stable failure message.
func missingFileNames(env *model.Envelope, refs map[string]docstore.Reference) []string {
	var missing []string
	for i := range env.ScannableItems {
		item := &env.ScannableItems[i]
		if item.HasReference() {
			continue
		}
		if _, ok := refs[item.FileName]; !ok {
			missing = append(missing, item.FileName)
		}
	}
	sort.Strings(missing)
	return missing
}
