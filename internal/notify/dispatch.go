package notify

import (
	"github.com/dharsanguruparan/ScanDrop/internal/fail"
	"github.com/dharsanguruparan/ScanDrop/internal/queue"
)

// BuildPayload translates a pipeline failure into the notification task
// payload. Unclassified errors fall back to the generic zip-processing
// code so a trail always exists.
func BuildPayload(container, zipFileName, service string, err error) queue.ErrorNotificationPayload {
	payload := queue.ErrorNotificationPayload{
		Container:        container,
		ZipFileName:      zipFileName,
		ErrorCode:        string(ErrZipProcessingFailed),
		ErrorDescription: err.Error(),
		Service:          service,
	}
	if fe := fail.AsError(err); fe != nil {
		payload.ErrorCode = string(CodeFor(fe.Kind))
		payload.PoBox = fe.PoBox
		payload.DocumentControlNumber = fe.DocumentControlNumber
		payload.ReferenceID = fe.ReferenceID
	}
	return payload
}
