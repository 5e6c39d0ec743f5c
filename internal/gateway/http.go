package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"golang.org/x/time/rate"
)

const maxResponseSize = 8 * 1024 * 1024

// HTTPWorker posts requests as JSON to a worker endpoint.
type HTTPWorker struct {
	endpoint   string
	token      string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// HTTPOption configures an HTTPWorker.
type HTTPOption func(*HTTPWorker)

// WithToken sends token as a bearer credential.
func WithToken(token string) HTTPOption {
	return func(w *HTTPWorker) { w.token = token }
}

// WithRateLimit paces calls to perSecond with the given burst. A
// non-positive rate disables pacing.
func WithRateLimit(perSecond float64, burst int) HTTPOption {
	return func(w *HTTPWorker) {
		if perSecond <= 0 {
			w.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		if burst < 1 {
			burst = 1
		}
		w.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(w *HTTPWorker) {
		if c != nil {
			w.httpClient = c
		}
	}
}

// NewHTTPWorker creates an HTTPWorker. The call deadline comes from the
// gateway context, so the client carries no timeout of its own.
func NewHTTPWorker(endpoint string, opts ...HTTPOption) (*HTTPWorker, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("worker endpoint required")
	}
	w := &HTTPWorker{
		endpoint:   endpoint,
		httpClient: &http.Client{},
		limiter:    rate.NewLimiter(rate.Inf, 1),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Call implements Worker.
func (w *HTTPWorker) Call(ctx context.Context, req Request) (Response, error) {
	if err := w.limiter.Wait(ctx); err != nil {
		return Response{}, fmt.Errorf("rate limiter: %w", err)
	}

	body, err := json.Marshal(req)
	if err != nil {
		return Response{}, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, w.endpoint, bytes.NewReader(body))
	if err != nil {
		return Response{}, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if w.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+w.token)
	}

	resp, err := w.httpClient.Do(httpReq)
	if err != nil {
		return Response{}, fmt.Errorf("worker request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return Response{}, fmt.Errorf("read response: %w", err)
	}

	var out Response
	decodeErr := json.Unmarshal(data, &out)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if decodeErr == nil && out.Error != "" {
			return out, nil
		}
		return Response{}, fmt.Errorf("worker returned status %d: %s", resp.StatusCode, truncate(data, 200))
	}
	if decodeErr != nil {
		return Response{}, &decodeError{err: decodeErr}
	}
	return out, nil
}

// decodeError marks a reachable worker that answered with malformed JSON.
type decodeError struct {
	err error
}

func (e *decodeError) Error() string { return "decode response: " + e.err.Error() }
func (e *decodeError) Unwrap() error { return e.err }

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
