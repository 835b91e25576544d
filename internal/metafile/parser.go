// Package metafile extracts and validates the contents of a verified inner
// archive: exactly one metadata file plus the PDF documents it declares.
package metafile

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"io"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/dharsanguruparan/ScanDrop/internal/fail"
	"github.com/dharsanguruparan/ScanDrop/internal/model"
)

const (
	metadataExt = ".metadata"
	pdfExt      = ".pdf"
)

// PDF is one extracted binary document payload.
type PDF struct {
	FileName string
	Content  []byte
}

// Option configures a Parser.
type Option func(*Parser)

// WithPDFCheck installs a structural check run over every PDF payload.
func WithPDFCheck(check func([]byte) error) Option {
	return func(p *Parser) { p.checkPDF = check }
}

// Parser turns inner-archive bytes into a populated Envelope plus its PDF
// payloads.
type Parser struct {
	validate *validator.Validate
	checkPDF func([]byte) error
}

// NewParser constructs a Parser.
func NewParser(opts ...Option) *Parser {
	p := &Parser{validate: validator.New()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// rawMetadata mirrors the metadata file schema. Validation tags cover the
// required-field rules; cross-reference and business rules run afterwards.
type rawMetadata struct {
	PoBox             string         `json:"po_box" validate:"required"`
	Jurisdiction      string         `json:"jurisdiction" validate:"required"`
	Classification    string         `json:"classification" validate:"required"`
	CaseNumber        string         `json:"case_number"`
	DeliveryDate      time.Time      `json:"delivery_date"`
	OpeningDate       time.Time      `json:"opening_date"`
	ZipFileCreatedAt  time.Time      `json:"zip_file_createddate" validate:"required"`
	ScannableItems    []rawItem      `json:"scannable_items" validate:"required,min=1,dive"`
	Payments          []rawPayment   `json:"payments" validate:"dive"`
	NonScannableItems []rawNonScan   `json:"non_scannable_items" validate:"dive"`
}

type rawItem struct {
	DocumentControlNumber string    `json:"document_control_number" validate:"required"`
	FileName              string    `json:"file_name" validate:"required"`
	DocumentType          string    `json:"document_type" validate:"required"`
	DocumentSubtype       string    `json:"document_subtype"`
	ScanningDate          time.Time `json:"scanning_date"`
	OcrData               string    `json:"ocr_data"`
}

type rawPayment struct {
	DocumentControlNumber string `json:"document_control_number" validate:"required"`
}

type rawNonScan struct {
	Description string `json:"item_description" validate:"required"`
}

// Parse validates the inner archive and returns the Envelope (status
// created, not yet persisted) with its PDF payloads in archive order.
func (p *Parser) Parse(container, zipFileName string, inner []byte) (*model.Envelope, []PDF, error) {
	metadata, pdfs, err := p.scanArchive(inner)
	if err != nil {
		return nil, nil, err
	}

	var raw rawMetadata
	if err := json.Unmarshal(metadata, &raw); err != nil {
		return nil, nil, fail.Wrap(fail.InvalidMetafile, "decode metadata", err)
	}
	// From here the po_box is known; failures carry it for notifications.
	if err := p.validate.Struct(&raw); err != nil {
		return nil, nil, withPoBox(raw.PoBox, fail.Wrap(fail.InvalidMetafile, "metadata missing required fields", err))
	}

	classification, err := model.ParseClassification(raw.Classification)
	if err != nil {
		return nil, nil, withPoBox(raw.PoBox, fail.Wrap(fail.InvalidMetafile, "classification", err))
	}

	items, err := buildItems(raw.ScannableItems)
	if err != nil {
		return nil, nil, withPoBox(raw.PoBox, err)
	}
	if err := crossReference(items, pdfs); err != nil {
		return nil, nil, withPoBox(raw.PoBox, err)
	}
	if err := checkDisallowedTypes(classification, items); err != nil {
		return nil, nil, withPoBox(raw.PoBox, err)
	}

	env := &model.Envelope{
		ID:             uuid.New(),
		Container:      container,
		ZipFileName:    zipFileName,
		PoBox:          raw.PoBox,
		Jurisdiction:   raw.Jurisdiction,
		CaseNumber:     raw.CaseNumber,
		Classification: classification,
		Status:         model.StatusCreated,
		OpeningDate:    raw.OpeningDate,
		DeliveryDate:   raw.DeliveryDate,
		ZipCreatedDate: raw.ZipFileCreatedAt,
		ScannableItems: items,
	}
	for _, payment := range raw.Payments {
		env.Payments = append(env.Payments, model.Payment{DocumentControlNumber: payment.DocumentControlNumber})
	}
	for _, item := range raw.NonScannableItems {
		env.NonScannableItems = append(env.NonScannableItems, model.NonScannableItem{Description: item.Description})
	}
	return env, pdfs, nil
}

// scanArchive walks the inner archive: exactly one metadata entry,
// zero-or-more PDFs, nothing else.
func (p *Parser) scanArchive(inner []byte) ([]byte, []PDF, error) {
	reader, err := zip.NewReader(bytes.NewReader(inner), int64(len(inner)))
	if err != nil {
		return nil, nil, fail.Wrap(fail.ZipProcessingFailed, "open inner archive", err)
	}
	var metadata []byte
	var pdfs []PDF
	for _, entry := range reader.File {
		data, err := readEntry(entry)
		if err != nil {
			return nil, nil, fail.Wrap(fail.ZipProcessingFailed, "read entry "+entry.Name, err)
		}
		switch strings.ToLower(path.Ext(entry.Name)) {
		case metadataExt:
			if metadata != nil {
				return nil, nil, fail.New(fail.ZipProcessingFailed, "more than one metadata file in archive")
			}
			metadata = data
		case pdfExt:
			if p.checkPDF != nil {
				if err := p.checkPDF(data); err != nil {
					return nil, nil, fail.Wrap(fail.ZipProcessingFailed, "corrupt pdf "+entry.Name, err)
				}
			}
			pdfs = append(pdfs, PDF{FileName: entry.Name, Content: data})
		default:
			return nil, nil, fail.Newf(fail.ZipProcessingFailed, "unexpected entry %q in inner archive", entry.Name)
		}
	}
	if metadata == nil {
		return nil, nil, fail.New(fail.ZipProcessingFailed, "no metadata file in archive")
	}
	return metadata, pdfs, nil
}

func buildItems(raws []rawItem) ([]model.ScannableItem, error) {
	items := make([]model.ScannableItem, 0, len(raws))
	for _, raw := range raws {
		docType, err := model.ParseDocumentType(raw.DocumentType)
		if err != nil {
			return nil, fail.Wrap(fail.InvalidMetafile, "scannable item "+raw.FileName, err)
		}
		ocr, err := parseOcrData(raw.OcrData)
		if err != nil {
			return nil, &fail.Error{
				Kind:                  fail.OcrDataParse,
				Msg:                   "invalid OCR data for " + raw.FileName,
				DocumentControlNumber: raw.DocumentControlNumber,
				Err:                   err,
			}
		}
		items = append(items, model.ScannableItem{
			ID:                    uuid.New(),
			DocumentControlNumber: raw.DocumentControlNumber,
			FileName:              raw.FileName,
			DocumentType:          docType,
			DocumentSubtype:       raw.DocumentSubtype,
			ScanningDate:          raw.ScanningDate,
			OcrData:               ocr,
		})
	}
	return items, nil
}

// crossReference requires declared items and PDF entries to match exactly
// in both directions, naming every offending file.
func crossReference(items []model.ScannableItem, pdfs []PDF) error {
	declared := make(map[string]bool, len(items))
	for i := range items {
		declared[items[i].FileName] = true
	}
	present := make(map[string]bool, len(pdfs))
	for i := range pdfs {
		present[pdfs[i].FileName] = true
	}

	var missingPdfs []string
	for i := range items {
		if !present[items[i].FileName] {
			missingPdfs = append(missingPdfs, items[i].FileName)
		}
	}
	if len(missingPdfs) > 0 {
		sort.Strings(missingPdfs)
		return fail.Newf(fail.NoPdfFileFound, "no pdf found for declared files: %s", formatList(missingPdfs))
	}

	var undeclared []string
	for i := range pdfs {
		if !declared[pdfs[i].FileName] {
			undeclared = append(undeclared, pdfs[i].FileName)
		}
	}
	if len(undeclared) > 0 {
		sort.Strings(undeclared)
		return fail.Newf(fail.MetadataNotFound, "no metadata declared for files: %s", formatList(undeclared))
	}
	return nil
}

// checkDisallowedTypes enforces the classification business rule:
// supplementary_evidence forbids form and sscs1 items.
func checkDisallowedTypes(classification model.Classification, items []model.ScannableItem) error {
	if classification != model.ClassificationSupplementaryEvidence {
		return nil
	}
	seen := make(map[model.DocumentType]bool)
	var offending []string
	for i := range items {
		t := items[i].DocumentType
		if t != model.DocTypeForm && t != model.DocTypeSSCS1 {
			continue
		}
		if !seen[t] {
			seen[t] = true
			offending = append(offending, t.Display())
		}
	}
	if len(offending) == 0 {
		return nil
	}
	return fail.Newf(fail.DisallowedDocumentTypes,
		"documents with types not allowed for classification %s: %s",
		classification, formatList(offending))
}

// withPoBox attaches the decoded po_box to a failure that lacks one.
func withPoBox(poBox string, err error) error {
	if fe := fail.AsError(err); fe != nil && fe.PoBox == "" {
		fe.PoBox = poBox
	}
	return err
}

func formatList(names []string) string {
	return "[" + strings.Join(names, ", ") + "]"
}

func readEntry(entry *zip.File) ([]byte, error) {
	rc, err := entry.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}
