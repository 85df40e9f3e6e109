// Package dataapi is the boundary to the external consumption-data API that
// serves historical readings for an authorized metering point.
package dataapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"gridward/internal/dataneeds"
	"gridward/pkg/domain"
)

// Request specifies one fetch of consumption readings. From and To are dates,
// both inclusive.
type Request struct {
	MeteringPointID domain.MeteringPointID
	From            time.Time
	To              time.Time
	Granularity     dataneeds.Granularity
}

// Reading is a single consumption value.
type Reading struct {
	At  time.Time `json:"at"`
	KWH float64   `json:"kwh"`
}

// Series is the ordered result of a fetch. Empty means the API answered but
// had no finalized data for the window yet.
type Series struct {
	Readings []Reading
}

// Empty reports whether the fetch produced no readings.
func (s Series) Empty() bool { return len(s.Readings) == 0 }

// CoverageEnd returns the timestamp of the last reading. Only meaningful for
// non-empty series.
func (s Series) CoverageEnd() time.Time {
	if len(s.Readings) == 0 {
		return time.Time{}
	}
	return s.Readings[len(s.Readings)-1].At
}

// Client fetches consumption readings.
type Client interface {
	Fetch(ctx context.Context, req Request) (Series, error)
}

// APIError is a fetch failure with an HTTP status attached.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("data api returned %d: %s", e.StatusCode, e.Message)
}

// Retryable reports whether the failure is transient (rate limiting, server
// errors, transport failures) rather than a permanent rejection.
func Retryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= 500 || apiErr.StatusCode == http.StatusTooManyRequests
	}
	return true
}

// RateLimited reports whether the API asked us to back off.
func RateLimited(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests
}

// Unauthorized reports whether the API no longer accepts our authorization
// for the metering point, which means the permission was revoked on the
// administrator's side.
func Unauthorized(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) &&
		(apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden)
}

// HTTPClient implements Client against a consumption-data HTTP endpoint.
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 60 * time.Second},
	}
}

func (c *HTTPClient) Fetch(ctx context.Context, req Request) (Series, error) {
	query := url.Values{
		"meteringPointId": {string(req.MeteringPointID)},
		"from":            {req.From.Format(time.DateOnly)},
		"to":              {req.To.Format(time.DateOnly)},
		"granularity":     {string(req.Granularity)},
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/consumption?"+query.Encode(), nil)
	if err != nil {
		return Series{}, fmt.Errorf("build data api request: %w", err)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return Series{}, fmt.Errorf("data api fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return Series{}, &APIError{StatusCode: resp.StatusCode, Message: string(raw)}
	}

	var readings []Reading
	if err := json.NewDecoder(resp.Body).Decode(&readings); err != nil {
		return Series{}, fmt.Errorf("decode data api response: %w", err)
	}
	return Series{Readings: readings}, nil
}
