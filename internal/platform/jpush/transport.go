package jpush

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
)

// maxResponseBody caps how much of a vendor answer is read.
const maxResponseBody = 1 << 20

// Response is the raw vendor answer.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Transport performs one authenticated POST against the JPush API. Implementations
// must honour ctx for cancellation and deadlines.
type Transport interface {
	Post(ctx context.Context, url string, header http.Header, body []byte) (*Response, error)
}

// HTTPTransport is the net/http Transport used in production.
type HTTPTransport struct {
	client *http.Client
}

// NewHTTPTransport wraps client; nil selects a default client. Deadlines come from the
// caller's context, so the client needs no timeout of its own.
func NewHTTPTransport(client *http.Client) *HTTPTransport {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPTransport{client: client}
}

func (t *HTTPTransport) Post(ctx context.Context, url string, header http.Header, body []byte) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	for k, v := range header {
		req.Header[k] = v
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: raw}, nil
}
