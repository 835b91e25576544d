package model

import "time"

// Status describes where an envelope sits in its fixed lifecycle.
type Status string

const (
	StatusCreated   Status = "created"
	StatusUploaded  Status = "uploaded"
	StatusProcessed Status = "processed"
	StatusCompleted Status = "completed"
	// StatusConsumed is set once a downstream consumer acknowledges the
	// envelope; the trigger is external to this service.
	StatusConsumed Status = "consumed"
)

// transitions is the full state machine. Anything not listed is illegal.
var transitions = map[Status][]Status{
	StatusCreated:   {StatusUploaded},
	StatusUploaded:  {StatusProcessed},
	StatusProcessed: {StatusCompleted},
	StatusCompleted: {StatusConsumed},
	StatusConsumed:  {},
}

// CanTransition reports whether from → to is a legal status change.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Event is the kind of one ProcessEvent row.
type Event string

const (
	EventZipProcessingStarted  Event = "zip_processing_started"
	EventDocUploaded           Event = "doc_uploaded"
	EventDocUploadFailure      Event = "doc_upload_failure"
	EventDocProcessed          Event = "doc_processed"
	EventNotificationSent      Event = "notification_sent"
	EventNotificationFailure   Event = "notification_failure"
	EventFileValidationFailure Event = "file_validation_failure"
	EventDocSignatureFailure   Event = "doc_signature_failure"
	EventServiceDisabled       Event = "service_disabled"
)

// ProcessEvent is one immutable audit-log row. Rows exist independently of
// Envelope rows so pre-persistence failures still leave a trail.
type ProcessEvent struct {
	ID          int64
	Container   string
	ZipFileName string
	Event       Event
	Reason      string
	CreatedAt   time.Time
}
