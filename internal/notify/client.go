// Package notify talks to the external error-reporting service and applies
// the queue-message disposition policy for dispatch outcomes.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"
)

// Request is the HTTP notification body.
type Request struct {
	ZipFileName           string `json:"zip_file_name"`
	PoBox                 string `json:"po_box"`
	DocumentControlNumber string `json:"document_control_number,omitempty"`
	ErrorCode             string `json:"error_code"`
	ErrorDescription      string `json:"error_description"`
	ReferenceID           string `json:"reference_id,omitempty"`
	Service               string `json:"service"`
}

// ClientError is a 4xx rejection: the request itself is bad and a retry can
// never succeed.
type ClientError struct {
	Status  int
	Message string
}

func (e *ClientError) Error() string {
	return fmt.Sprintf("notification rejected (%d): %s", e.Status, e.Message)
}

// ServerError is a 5xx response: transient, worth another delivery attempt.
type ServerError struct {
	Status int
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("notification service error (%d)", e.Status)
}

// Sender dispatches one notification. Implemented by *Client; fakes stand
// in for tests.
type Sender interface {
	Send(ctx context.Context, req Request) (string, error)
}

// Client posts notifications with a circuit breaker in front. 4xx
// rejections do not count as breaker failures: the service answered, the
// request was just wrong.
type Client struct {
	url     string
	hc      *http.Client
	breaker *gobreaker.CircuitBreaker[string]
}

// NewClient constructs a Client.
func NewClient(url string, timeout time.Duration) *Client {
	settings := gobreaker.Settings{
		Name: "error-notifications",
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			_, isClient := err.(*ClientError)
			return isClient
		},
	}
	return &Client{
		url:     url,
		hc:      &http.Client{Timeout: timeout},
		breaker: gobreaker.NewCircuitBreaker[string](settings),
	}
}

// Send posts the notification and returns the notification id on 2xx.
func (c *Client) Send(ctx context.Context, req Request) (string, error) {
	return c.breaker.Execute(func() (string, error) {
		return c.post(ctx, req)
	})
}

func (c *Client) post(ctx context.Context, req Request) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal notification: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build notification request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.hc.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("post notification: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		var out struct {
			NotificationID string `json:"notification_id"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return "", fmt.Errorf("decode notification response: %w", err)
		}
		return out.NotificationID, nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		var out struct {
			Message string `json:"message"`
		}
		data, _ := io.ReadAll(resp.Body)
		if err := json.Unmarshal(data, &out); err != nil || out.Message == "" {
			out.Message = string(data)
		}
		return "", &ClientError{Status: resp.StatusCode, Message: out.Message}
	default:
		return "", &ServerError{Status: resp.StatusCode}
	}
}
