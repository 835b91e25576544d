package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"

	"github.com/dharsanguruparan/ScanDrop/internal/queue"
)

// Handler consumes error-notification tasks and applies the disposition
// policy: permanent rejections dead-letter, transient failures redeliver.
type Handler struct {
	sender Sender
	log    zerolog.Logger
}

// NewHandler constructs a Handler.
func NewHandler(sender Sender, log zerolog.Logger) *Handler {
	return &Handler{sender: sender, log: log}
}

// Mux returns the asynq ServeMux with the notification handler registered.
func (h *Handler) Mux() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TaskErrorNotification, h.ProcessTask)
	return mux
}

// ProcessTask dispatches one notification.
//
// Return value doubles as the message disposition:
//   - nil completes the message;
//   - an error wrapping asynq.SkipRetry dead-letters it;
//   - any other error leaves it for redelivery after the visibility
//     timeout, with no in-process retry loop.
func (h *Handler) ProcessTask(ctx context.Context, task *asynq.Task) error {
	var payload queue.ErrorNotificationPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("Unknown exception: decode notification payload: %v: %w", err, asynq.SkipRetry)
	}

	req := Request{
		ZipFileName:           payload.ZipFileName,
		PoBox:                 payload.PoBox,
		DocumentControlNumber: payload.DocumentControlNumber,
		ErrorCode:             payload.ErrorCode,
		ErrorDescription:      payload.ErrorDescription,
		ReferenceID:           payload.ReferenceID,
		Service:               payload.Service,
	}

	id, err := h.sender.Send(ctx, req)
	if err == nil {
		h.log.Info().
			Str("container", payload.Container).
			Str("zip", payload.ZipFileName).
			Str("error_code", payload.ErrorCode).
			Str("notification_id", id).
			Msg("error notification sent")
		return nil
	}

	var clientErr *ClientError
	if errors.As(err, &clientErr) {
		h.log.Warn().
			Str("zip", payload.ZipFileName).
			Int("status", clientErr.Status).
			Str("message", clientErr.Message).
			Msg("notification permanently rejected")
		return fmt.Errorf("Client error: %s: %w", clientErr.Message, asynq.SkipRetry)
	}

	if isTransient(err) {
		h.log.Warn().Err(err).Str("zip", payload.ZipFileName).Msg("notification dispatch failed, leaving for redelivery")
		return err
	}

	h.log.Error().Err(err).Str("zip", payload.ZipFileName).Msg("unexpected notification dispatch failure")
	return fmt.Errorf("Unknown exception: %v: %w", err, asynq.SkipRetry)
}

// isTransient classifies failures worth another delivery attempt: 5xx
// responses, transport and timeout errors, and an open circuit breaker.
func isTransient(err error) bool {
	var serverErr *ServerError
	if errors.As(err, &serverErr) {
		return true
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
