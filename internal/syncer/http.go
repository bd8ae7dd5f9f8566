package syncer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/roach88/replica/internal/protocol"
)

// MutationsPath is the push endpoint, relative to the server base URL.
const MutationsPath = "/v1/mutations"

// maxErrorBody bounds how much of an error response is kept.
const maxErrorBody = 512

// HTTPTransport pushes mutation batches as JSON over HTTP.
type HTTPTransport struct {
	baseURL string
	token   string
	client  *http.Client
}

// HTTPOption configures an HTTPTransport.
type HTTPOption func(*HTTPTransport)

// WithHTTPClient sets the client. Default: a client with a 30s timeout.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(t *HTTPTransport) {
		t.client = c
	}
}

// NewHTTPTransport creates a transport for the server at baseURL. An empty
// token sends no Authorization header.
func NewHTTPTransport(baseURL, token string, opts ...HTTPOption) *HTTPTransport {
	t := &HTTPTransport{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// SendMutations implements MutationSender. Any non-2xx response is a
// *TransportError.
func (t *HTTPTransport) SendMutations(ctx context.Context, in protocol.SyncMutationsInput) (protocol.SyncMutationsOutput, error) {
	var out protocol.SyncMutationsOutput

	body, err := json.Marshal(in)
	if err != nil {
		return out, fmt.Errorf("encode mutations: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+MutationsPath, bytes.NewReader(body))
	if err != nil {
		return out, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if t.token != "" {
		req.Header.Set("Authorization", "Bearer "+t.token)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return out, fmt.Errorf("post mutations: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return out, &TransportError{
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(snippet)),
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return out, fmt.Errorf("decode results: %w", err)
	}
	return out, nil
}
