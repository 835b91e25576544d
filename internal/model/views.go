package model

import "time"

// EnvelopeView is the JSON shape returned by the status API. Server-side
// detail such as object keys stays out of the response.
type EnvelopeView struct {
	ID                 string              `json:"id"`
	Container          string              `json:"container"`
	ZipFileName        string              `json:"zip_file_name"`
	PoBox              string              `json:"po_box"`
	Jurisdiction       string              `json:"jurisdiction"`
	CaseNumber         string              `json:"case_number,omitempty"`
	Classification     Classification      `json:"classification"`
	Status             Status              `json:"status"`
	UploadFailureCount int                 `json:"upload_failure_count"`
	ZipDeleted         bool                `json:"zip_deleted"`
	CreatedAt          time.Time           `json:"created_at"`
	ScannableItems     []ScannableItemView `json:"scannable_items"`
}

// ScannableItemView is the per-document slice of EnvelopeView.
type ScannableItemView struct {
	DocumentControlNumber string       `json:"document_control_number"`
	FileName              string       `json:"file_name"`
	DocumentType          DocumentType `json:"document_type"`
	DocumentSubtype       string       `json:"document_subtype,omitempty"`
	DocumentURL           string       `json:"document_url,omitempty"`
	DocumentID            string       `json:"document_id,omitempty"`
}

// ProcessEventView is the JSON shape of one audit-log row.
type ProcessEventView struct {
	Container   string    `json:"container"`
	ZipFileName string    `json:"zip_file_name"`
	Event       Event     `json:"event"`
	Reason      string    `json:"reason,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// NewEnvelopeView maps an Envelope to its API view. A nil envelope maps to
// nil rather than panicking.
func NewEnvelopeView(e *Envelope) *EnvelopeView {
	if e == nil {
		return nil
	}
	items := make([]ScannableItemView, 0, len(e.ScannableItems))
	for i := range e.ScannableItems {
		it := &e.ScannableItems[i]
		items = append(items, ScannableItemView{
			DocumentControlNumber: it.DocumentControlNumber,
			FileName:              it.FileName,
			DocumentType:          it.DocumentType,
			DocumentSubtype:       it.DocumentSubtype,
			DocumentURL:           it.DocumentURL,
			DocumentID:            it.DocumentID,
		})
	}
	return &EnvelopeView{
		ID:                 e.ID.String(),
		Container:          e.Container,
		ZipFileName:        e.ZipFileName,
		PoBox:              e.PoBox,
		Jurisdiction:       e.Jurisdiction,
		CaseNumber:         e.CaseNumber,
		Classification:     e.Classification,
		Status:             e.Status,
		UploadFailureCount: e.UploadFailureCount,
		ZipDeleted:         e.ZipDeleted,
		CreatedAt:          e.CreatedAt,
		ScannableItems:     items,
	}
}

// NewProcessEventView maps a ProcessEvent to its API view; nil in, nil out.
func NewProcessEventView(ev *ProcessEvent) *ProcessEventView {
	if ev == nil {
		return nil
	}
	return &ProcessEventView{
		Container:   ev.Container,
		ZipFileName: ev.ZipFileName,
		Event:       ev.Event,
		Reason:      ev.Reason,
		CreatedAt:   ev.CreatedAt,
	}
}
