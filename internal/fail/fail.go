// Package fail defines the closed set of pipeline failure kinds and the
// error type that carries them. Callers branch on the kind with KindOf
// rather than matching error strings.
package fail

import (
	"errors"
	"fmt"
)

// Kind enumerates every failure the pipeline can raise. The notification
// dispatcher matches exhaustively over this set.
type Kind int

const (
	ZipProcessingFailed Kind = iota
	SignatureVerificationFailed
	InvalidMetafile
	NoPdfFileFound
	MetadataNotFound
	DisallowedDocumentTypes
	OcrDataParse
	DocumentUrlNotRetrieved
	FileLimitExceeded
	PaymentsDisabled
	ServiceDisabled
	AntivirusFailed
	RescanRequired
)

// Kinds lists every failure kind; tests use it to keep lookups exhaustive.
var Kinds = []Kind{
	ZipProcessingFailed,
	SignatureVerificationFailed,
	InvalidMetafile,
	NoPdfFileFound,
	MetadataNotFound,
	DisallowedDocumentTypes,
	OcrDataParse,
	DocumentUrlNotRetrieved,
	FileLimitExceeded,
	PaymentsDisabled,
	ServiceDisabled,
	AntivirusFailed,
	RescanRequired,
}

func (k Kind) String() string {
	switch k {
	case ZipProcessingFailed:
		return "zip_processing_failed"
	case SignatureVerificationFailed:
		return "signature_verification_failed"
	case InvalidMetafile:
		return "invalid_metafile"
	case NoPdfFileFound:
		return "no_pdf_file_found"
	case MetadataNotFound:
		return "metadata_not_found"
	case DisallowedDocumentTypes:
		return "disallowed_document_types"
	case OcrDataParse:
		return "ocr_data_parse"
	case DocumentUrlNotRetrieved:
		return "document_url_not_retrieved"
	case FileLimitExceeded:
		return "file_limit_exceeded"
	case PaymentsDisabled:
		return "payments_disabled"
	case ServiceDisabled:
		return "service_disabled"
	case AntivirusFailed:
		return "antivirus_failed"
	case RescanRequired:
		return "rescan_required"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Error is a pipeline failure with a kind and optional document context.
// PoBox is set once metadata has decoded so notifications can carry it.
type Error struct {
	Kind                  Kind
	Msg                   string
	PoBox                 string
	DocumentControlNumber string
	ReferenceID           string
	Err                   error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an Error with a fixed message.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Newf builds an Error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to an underlying error.
func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf extracts the failure kind from an error chain.
func KindOf(err error) (Kind, bool) {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind, true
	}
	return 0, false
}

// AsError extracts the *Error from a chain, nil when absent.
func AsError(err error) *Error {
	var fe *Error
	if errors.As(err, &fe) {
		return fe
	}
	return nil
}
