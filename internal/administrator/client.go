// Package administrator is the boundary to the external permission
// administrator: the national authority that grants or denies access to a
// metering point's data. Wire formats differ per country; this client speaks
// a plain JSON rendition and classifies failures as retryable or permanent so
// the engine can absorb them into the state machine.
package administrator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"gridward/internal/permission/models"
)

// Decision is the administrator's answer to a transmitted request.
type Decision string

const (
	DecisionAccepted Decision = "accepted"
	DecisionRejected Decision = "rejected"
	DecisionInvalid  Decision = "invalid"
)

// Ack carries the correlation keys the administrator assigned; its
// asynchronous decision will reference them.
type Ack struct {
	CMRequestID    string `json:"cmRequestId"`
	ConversationID string `json:"conversationId"`
}

// Client transmits permission requests to the administrator.
type Client interface {
	// Send submits the request. A returned error is classified via
	// Retryable.
	Send(ctx context.Context, req models.PermissionRequest) (Ack, error)
	// Terminate asks the administrator to end an active consent on its
	// side.
	Terminate(ctx context.Context, req models.PermissionRequest) error
}

// APIError is a transmission failure with an HTTP status attached.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("administrator returned %d: %s", e.StatusCode, e.Message)
}

// Retryable reports whether the failure is transient: server-side errors and
// rate limiting are worth retrying, client-side rejections are permanent.
// Transport-level errors without a status are treated as transient.
func Retryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= 500 || apiErr.StatusCode == http.StatusTooManyRequests
	}
	return true
}

// HTTPClient implements Client against an administrator HTTP endpoint.
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

type sendPayload struct {
	PermissionID    string `json:"permissionId"`
	MeteringPointID string `json:"meteringPointId"`
	Start           string `json:"start,omitempty"`
	End             string `json:"end,omitempty"`
}

func (c *HTTPClient) Send(ctx context.Context, req models.PermissionRequest) (Ack, error) {
	payload := sendPayload{
		PermissionID:    string(req.PermissionID),
		MeteringPointID: string(req.MeteringPointID),
	}
	if req.Start != nil {
		payload.Start = req.Start.Format(time.RFC3339)
	}
	if req.End != nil {
		payload.End = req.End.Format(time.RFC3339)
	}
	var ack Ack
	if err := c.post(ctx, "/permission-requests", payload, &ack); err != nil {
		return Ack{}, err
	}
	return ack, nil
}

func (c *HTTPClient) Terminate(ctx context.Context, req models.PermissionRequest) error {
	payload := map[string]string{
		"permissionId": string(req.PermissionID),
		"consentId":    string(req.ConsentID),
	}
	return c.post(ctx, "/terminations", payload, nil)
}

func (c *HTTPClient) post(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode administrator payload: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build administrator request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("administrator transmission: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{StatusCode: resp.StatusCode, Message: string(raw)}
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode administrator response: %w", err)
		}
	}
	return nil
}
