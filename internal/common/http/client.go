// internal/common/http/client.go
package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// StatusError is returned for non-2xx responses so callers can branch on the
// code without parsing error strings.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.Code)
}

// Client is a JSON-speaking HTTP client shared by external-service
// integrations. An optional bearer token is attached to every request.
type Client struct {
	httpClient  *http.Client
	bearerToken string
}

func NewClient(timeout time.Duration) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// NewClientWithBearer returns a client that authorizes every request with the
// given token. An empty token behaves like NewClient.
func NewClientWithBearer(timeout time.Duration, token string) *Client {
	c := NewClient(timeout)
	c.bearerToken = token
	return c
}

// PostJSON marshals in, POSTs it to url and decodes the response body into
// out. A nil out discards the body. Non-2xx responses yield a *StatusError.
func (c *Client) PostJSON(ctx context.Context, url string, in, out interface{}) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.bearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.bearerToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{Code: resp.StatusCode}
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
