package notify

import "github.com/dharsanguruparan/ScanDrop/internal/fail"

// ErrorCode is the closed set of codes the error-reporting service accepts.
type ErrorCode string

const (
	ErrFileLimitExceeded   ErrorCode = "ERR_FILE_LIMIT_EXCEEDED"
	ErrMetafileInvalid     ErrorCode = "ERR_METAFILE_INVALID"
	ErrPaymentsDisabled    ErrorCode = "ERR_PAYMENTS_DISABLED"
	ErrServiceDisabled     ErrorCode = "ERR_SERVICE_DISABLED"
	ErrAvFailed            ErrorCode = "ERR_AV_FAILED"
	ErrSigVerifyFailed     ErrorCode = "ERR_SIG_VERIFY_FAILED"
	ErrRescanRequired      ErrorCode = "ERR_RESCAN_REQUIRED"
	ErrZipProcessingFailed ErrorCode = "ERR_ZIP_PROCESSING_FAILED"
)

// CodeFor maps a failure kind to its error code. The switch covers the full
// fail.Kind set; TestCodeFor_CoversEveryKind in handler_test.go keeps it
// exhaustive.
func CodeFor(kind fail.Kind) ErrorCode {
	switch kind {
	case fail.FileLimitExceeded:
		return ErrFileLimitExceeded
	case fail.InvalidMetafile, fail.DisallowedDocumentTypes, fail.OcrDataParse:
		return ErrMetafileInvalid
	case fail.PaymentsDisabled:
		return ErrPaymentsDisabled
	case fail.ServiceDisabled:
		return ErrServiceDisabled
	case fail.AntivirusFailed:
		return ErrAvFailed
	case fail.SignatureVerificationFailed:
		return ErrSigVerifyFailed
	case fail.RescanRequired:
		return ErrRescanRequired
	case fail.ZipProcessingFailed, fail.NoPdfFileFound, fail.MetadataNotFound, fail.DocumentUrlNotRetrieved:
		return ErrZipProcessingFailed
	default:
		return ErrZipProcessingFailed
	}
}
