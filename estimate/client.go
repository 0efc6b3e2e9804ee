package estimate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/pithecene-io/vellum/iox"
	"github.com/pithecene-io/vellum/transport"
	"github.com/pithecene-io/vellum/types"
)

// DefaultTimeout bounds a remote estimate request.
const DefaultTimeout = 30 * time.Second

// maxResponse bounds how much of a response body is read.
const maxResponse = 1 << 20

// Client requests estimates from the companion analysis endpoint.
type Client struct {
	url        string
	credential string
	http       *http.Client
}

// NewClient creates a Client for url. credential is optional and lets the
// server count tokens exactly.
func NewClient(url, credential string) (*Client, error) {
	if url == "" {
		return nil, errors.New("estimate endpoint is required")
	}
	return &Client{
		url:        url,
		credential: credential,
		http: &http.Client{
			Timeout:   DefaultTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}, nil
}

type remoteRequest struct {
	Content  string `json:"content"`
	FileType string `json:"file_type"`
	APIKey   string `json:"api_key,omitempty"`
}

type remoteResponse struct {
	EstimatedTokens     float64 `json:"estimated_tokens"`
	EstimatedCost       float64 `json:"estimated_cost"`
	MaxSafeOutputTokens float64 `json:"max_safe_output_tokens"`
	Error               string  `json:"error"`
}

// Estimate posts req to the endpoint.
func (c *Client) Estimate(ctx context.Context, req Request) (*Estimate, error) {
	if req.Content == "" {
		return nil, fmt.Errorf("estimate: no content provided")
	}
	fileType := req.FileType
	if fileType == "" {
		fileType = "txt"
	}
	body, err := json.Marshal(remoteRequest{Content: req.Content, FileType: fileType, APIKey: c.credential})
	if err != nil {
		return nil, fmt.Errorf("estimate: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("estimate: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("User-Agent", types.UserAgent)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("estimate: request failed: %w", err)
	}
	defer iox.DrainClose(resp.Body)

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponse))
	if err != nil {
		return nil, fmt.Errorf("estimate: read response: %w", err)
	}

	var out remoteResponse
	decodeErr := json.Unmarshal(data, &out)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &transport.StatusError{Code: resp.StatusCode, Body: string(data)}
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("estimate: decode response: %w", decodeErr)
	}
	if out.Error != "" {
		return nil, &transport.UpstreamError{Message: out.Error}
	}

	return &Estimate{
		EstimatedTokens:     int64(out.EstimatedTokens),
		EstimatedCost:       out.EstimatedCost,
		MaxSafeOutputTokens: int64(out.MaxSafeOutputTokens),
		Method:              "remote",
	}, nil
}

var _ Estimator = (*Client)(nil)
