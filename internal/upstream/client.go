// Package upstream is the client side of the computation service contract:
// one Compute call per layer+parameter combination, returning a JSON payload
// tagged with the data-source flag.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/atlasview/layerd/internal/reliability"
	"github.com/atlasview/layerd/pkg/logger"
)

type Metadata struct {
	// DataSource declares provenance: "real", "fallback" or "unknown".
	// Its absence must never be read as real.
	DataSource string `json:"dataSource"`
}

type Payload struct {
	Data     json.RawMessage `json:"data"`
	Metadata Metadata        `json:"metadata"`
}

type Client interface {
	Compute(ctx context.Context, layerID string, params map[string]any) (*Payload, error)
}

// userAgentRoundTripper adds a User-Agent header to every outbound request.
type userAgentRoundTripper struct {
	Wrapped   http.RoundTripper
	UserAgent string
}

func (rt *userAgentRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	// clone request to avoid mutating the original
	clone := req.Clone(req.Context())
	clone.Header.Set("User-Agent", rt.UserAgent)
	return rt.Wrapped.RoundTrip(clone)
}

// HTTPClient talks to the computation service over HTTP. Deadlines come from
// the per-attempt context supplied by the reliability gate, so the underlying
// http.Client carries no timeout of its own.
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
	logger     logger.Logger
}

var _ Client = (*HTTPClient)(nil)

func NewHTTPClient(baseURL, userAgent string, l logger.Logger) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Transport: &userAgentRoundTripper{
				Wrapped:   http.DefaultTransport,
				UserAgent: userAgent,
			},
		},
		logger: l,
	}
}

func (c *HTTPClient) Compute(ctx context.Context, layerID string, params map[string]any) (*Payload, error) {
	body, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("failed to encode params: %w", err)
	}

	computeURL := fmt.Sprintf("%s/api/v1/compute/%s", c.baseURL, url.PathEscape(layerID))
	c.logger.Debug("upstream compute", "url", computeURL, "layer", layerID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, computeURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, &reliability.TransientNetworkError{Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &reliability.TransientNetworkError{Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &reliability.UpstreamError{Status: resp.StatusCode, Body: respBody}
	}

	var p Payload
	if err := json.Unmarshal(respBody, &p); err != nil {
		// A truncated or garbled body from a struggling upstream; retryable.
		return nil, &reliability.TransientNetworkError{Err: fmt.Errorf("malformed payload: %w", err)}
	}

	return &p, nil
}
