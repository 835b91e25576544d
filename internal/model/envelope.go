// Package model contains the domain types shared across packages: the
// Envelope aggregate, its child records, the lifecycle enums, and the
// append-only ProcessEvent record.
package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Classification governs which document types an envelope may contain.
type Classification string

const (
	ClassificationException                    Classification = "exception"
	ClassificationNewApplication               Classification = "new_application"
	ClassificationSupplementaryEvidence        Classification = "supplementary_evidence"
	ClassificationSupplementaryEvidenceWithOcr Classification = "supplementary_evidence_with_ocr"
)

// ParseClassification accepts any casing on input and normalizes to the
// lowercase canonical form.
func ParseClassification(s string) (Classification, error) {
	switch c := Classification(strings.ToLower(strings.TrimSpace(s))); c {
	case ClassificationException,
		ClassificationNewApplication,
		ClassificationSupplementaryEvidence,
		ClassificationSupplementaryEvidenceWithOcr:
		return c, nil
	default:
		return "", fmt.Errorf("unknown classification %q", s)
	}
}

// DocumentType categorizes a single scannable document.
type DocumentType string

const (
	DocTypeCherished  DocumentType = "cherished"
	DocTypeCoversheet DocumentType = "coversheet"
	DocTypeForm       DocumentType = "form"
	DocTypeOther      DocumentType = "other"
	DocTypeSSCS1      DocumentType = "sscs1"
)

// ParseDocumentType is case-insensitive on input, lowercase canonical out.
func ParseDocumentType(s string) (DocumentType, error) {
	switch t := DocumentType(strings.ToLower(strings.TrimSpace(s))); t {
	case DocTypeCherished, DocTypeCoversheet, DocTypeForm, DocTypeOther, DocTypeSSCS1:
		return t, nil
	default:
		return "", fmt.Errorf("unknown document type %q", s)
	}
}

// Display returns the human form used in validation messages.
func (t DocumentType) Display() string {
	switch t {
	case DocTypeSSCS1:
		return "SSCS1"
	default:
		if t == "" {
			return ""
		}
		return strings.ToUpper(string(t[:1])) + string(t[1:])
	}
}

// OcrField is one (name, value) pair extracted by the scanning provider.
type OcrField struct {
	Name  string `json:"metadata_field_name"`
	Value string `json:"metadata_field_value"`
}

// ScannableItem is one physical document within an envelope. The document
// reference (URL + id) is assigned once after a successful upload and is
// immutable afterwards.
type ScannableItem struct {
	ID                    uuid.UUID
	DocumentControlNumber string
	FileName              string
	DocumentType          DocumentType
	DocumentSubtype       string
	ScanningDate          time.Time
	OcrData               []OcrField
	DocumentURL           string
	DocumentID            string
}

// HasReference reports whether the item already carries its document store
// reference.
func (s *ScannableItem) HasReference() bool {
	return s != nil && s.DocumentURL != "" && s.DocumentID != ""
}

// Payment is parsed verbatim from metadata and immutable after creation.
type Payment struct {
	DocumentControlNumber string
}

// NonScannableItem is parsed verbatim from metadata and immutable after
// creation.
type NonScannableItem struct {
	Description string
}

// Envelope is the aggregate root for one ingested archive. It is created
// once per successfully parsed archive and never deleted, only
// status-mutated.
type Envelope struct {
	ID                 uuid.UUID
	Container          string
	ZipFileName        string
	PoBox              string
	Jurisdiction       string
	CaseNumber         string
	Classification     Classification
	Status             Status
	OpeningDate        time.Time
	DeliveryDate       time.Time
	ZipCreatedDate     time.Time
	UploadFailureCount int
	ZipDeleted         bool
	CreatedAt          time.Time
	UpdatedAt          time.Time
	ScannableItems     []ScannableItem
	Payments           []Payment
	NonScannableItems  []NonScannableItem
}

// AllItemsReferenced reports whether every scannable item carries a non-null
// document reference. The processed transition checks this rather than
// assuming it.
func (e *Envelope) AllItemsReferenced() bool {
	for i := range e.ScannableItems {
		if !e.ScannableItems[i].HasReference() {
			return false
		}
	}
	return true
}
