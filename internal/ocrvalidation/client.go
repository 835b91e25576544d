// Package ocrvalidation calls the downstream OCR validation service for
// envelopes whose metadata carries extracted OCR fields. The surface is a
// single Validate call; scheduling and retry pacing live with the caller.
package ocrvalidation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dharsanguruparan/ScanDrop/internal/model"
)

// Request is the validation payload for one envelope.
type Request struct {
	Container   string           `json:"container"`
	ZipFileName string           `json:"zip_file_name"`
	PoBox       string           `json:"po_box"`
	OcrFields   []model.OcrField `json:"ocr_fields"`
}

// RejectedError means the service examined the fields and rejected them.
// Retrying the same payload will not change the outcome.
type RejectedError struct {
	Status  int
	Message string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("ocr validation rejected (status %d): %s", e.Status, e.Message)
}

// UnavailableError means the service could not give a verdict. The caller
// may retry later.
type UnavailableError struct {
	Status int
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("ocr validation unavailable (status %d)", e.Status)
}

// Validator is what the validation-retry scheduler depends on.
type Validator interface {
	Validate(ctx context.Context, req Request) error
}

// Client posts validation requests over HTTP.
type Client struct {
	url        string
	httpClient *http.Client
}

// NewClient constructs a Client for the given endpoint.
func NewClient(url string, timeout time.Duration) *Client {
	return &Client{
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Validate submits the envelope's OCR fields. A nil return means the
// service accepted them. A *RejectedError is final; any other error is
// worth retrying.
func (c *Client) Validate(ctx context.Context, req Request) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal validation request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build validation request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("post validation request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		var parsed struct {
			Message string `json:"message"`
		}
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
		if err := json.Unmarshal(data, &parsed); err != nil || parsed.Message == "" {
			parsed.Message = http.StatusText(resp.StatusCode)
		}
		return &RejectedError{Status: resp.StatusCode, Message: parsed.Message}
	default:
		return &UnavailableError{Status: resp.StatusCode}
	}
}
