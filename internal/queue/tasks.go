// Package queue defines the asynq task types exchanged between the
// pipeline and the workers, plus the enqueue helpers.
package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
)

const (
	// TaskErrorNotification is scheduled whenever the pipeline raises a
	// failure that the error-reporting service must hear about.
	TaskErrorNotification = "notification:error"
	// TaskEnvelopeProcessed carries the processing-complete message for
	// downstream consumers. Delivery is at-least-once; consumers are
	// expected to be idempotent.
	TaskEnvelopeProcessed = "envelope:processed"

	// EnvelopesQueue is the asynq queue downstream consumers read from.
	EnvelopesQueue = "envelopes"
)

// ErrorNotificationPayload is serialized into the notification task.
type ErrorNotificationPayload struct {
	Container             string `json:"container"`
	ZipFileName           string `json:"zip_file_name"`
	PoBox                 string `json:"po_box"`
	DocumentControlNumber string `json:"document_control_number,omitempty"`
	ErrorCode             string `json:"error_code"`
	ErrorDescription      string `json:"error_description"`
	ReferenceID           string `json:"reference_id,omitempty"`
	Service               string `json:"service"`
}

// ProcessedPayload is the downstream processing-complete message.
type ProcessedPayload struct {
	EnvelopeID string `json:"envelope_id"`
	CaseNumber string `json:"case_id"`
	CcdAction  string `json:"ccd_action"`
}

// Publisher enqueues pipeline tasks. It wraps a single shared asynq client
// with an explicit Close, never a package-level singleton.
type Publisher struct {
	client *asynq.Client
}

// NewPublisher constructs a Publisher over an asynq client.
func NewPublisher(client *asynq.Client) *Publisher {
	return &Publisher{client: client}
}

// Close releases the underlying client connection.
func (p *Publisher) Close() error {
	return p.client.Close()
}

// PublishError enqueues an error notification for dispatch.
func (p *Publisher) PublishError(ctx context.Context, payload ErrorNotificationPayload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal notification payload: %w", err)
	}
	task := asynq.NewTask(TaskErrorNotification, data)
	if _, err := p.client.EnqueueContext(ctx, task, asynq.MaxRetry(5)); err != nil {
		return fmt.Errorf("enqueue notification task: %w", err)
	}
	return nil
}

// PublishProcessed emits the processing-complete message onto the
// downstream queue.
func (p *Publisher) PublishProcessed(ctx context.Context, payload ProcessedPayload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal processed payload: %w", err)
	}
	task := asynq.NewTask(TaskEnvelopeProcessed, data)
	if _, err := p.client.EnqueueContext(ctx, task, asynq.Queue(EnvelopesQueue), asynq.MaxRetry(10)); err != nil {
		return fmt.Errorf("enqueue processed task: %w", err)
	}
	return nil
}
