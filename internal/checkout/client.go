package checkout

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/hanko-field/pos/internal/domain"
)

const (
	defaultTimeout    = 15 * time.Second
	idempotencyHeader = "Idempotency-Key"
	purchasePath      = "purchases"
	maxErrorBody      = 256
)

// PurchaseError is a transport or server failure while submitting a purchase. Status is zero when
// no HTTP response was received or the response body could not be decoded.
type PurchaseError struct {
	Status int
	Body   string
	Err    error
}

// Error implements the error interface.
func (e *PurchaseError) Error() string {
	switch {
	case e.Status != 0 && e.Body != "":
		return fmt.Sprintf("checkout: purchase status %d: %s", e.Status, e.Body)
	case e.Status != 0:
		return fmt.Sprintf("checkout: purchase status %d", e.Status)
	case e.Err != nil:
		return fmt.Sprintf("checkout: purchase: %v", e.Err)
	default:
		return "checkout: purchase failed"
	}
}

// Unwrap exposes the underlying transport error.
func (e *PurchaseError) Unwrap() error { return e.Err }

// HTTPClient matches the subset of http.Client used by Client.
type HTTPClient interface {
	Do(*http.Request) (*http.Response, error)
}

// Client submits purchase requests to the backend.
type Client struct {
	base  *url.URL
	http  HTTPClient
	keyFn func() string
}

// ClientOption customises the purchase client.
type ClientOption func(*Client)

// WithHTTPClient replaces the default instrumented HTTP client.
func WithHTTPClient(client HTTPClient) ClientOption {
	return func(c *Client) {
		if client != nil {
			c.http = client
		}
	}
}

// WithIdempotencyKeys overrides the key generator used for the Idempotency-Key header.
func WithIdempotencyKeys(fn func() string) ClientOption {
	return func(c *Client) {
		if fn != nil {
			c.keyFn = fn
		}
	}
}

// NewClient constructs a purchase client rooted at baseURL.
func NewClient(baseURL string, timeout time.Duration, opts ...ClientOption) (*Client, error) {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		return nil, errors.New("checkout: base URL is required")
	}
	parsed, err := url.Parse(strings.TrimRight(baseURL, "/") + "/")
	if err != nil {
		return nil, fmt.Errorf("checkout: parse base URL: %w", err)
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	c := &Client{
		base: parsed,
		http: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		keyFn: func() string { return ulid.Make().String() },
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Purchase posts the request and decodes the backend confirmation. A 2xx response with
// success=false is returned as-is; interpreting the flag is the caller's job.
func (c *Client) Purchase(ctx context.Context, req domain.PurchaseRequest) (domain.PurchaseResult, error) {
	if req.Items == nil {
		req.Items = []domain.PurchaseItem{}
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return domain.PurchaseResult{}, &PurchaseError{Err: fmt.Errorf("encode request: %w", err)}
	}

	endpoint := c.base.ResolveReference(&url.URL{Path: purchasePath})
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), bytes.NewReader(payload))
	if err != nil {
		return domain.PurchaseResult{}, &PurchaseError{Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set(idempotencyHeader, ensureIdempotencyKey(IdempotencyKeyFromContext(ctx), c.keyFn))

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return domain.PurchaseResult{}, &PurchaseError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return domain.PurchaseResult{}, &PurchaseError{Status: resp.StatusCode, Body: drainError(resp.Body)}
	}

	var result domain.PurchaseResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return domain.PurchaseResult{}, &PurchaseError{Err: fmt.Errorf("decode response: %w", err)}
	}
	return result, nil
}

type idempotencyKeyContextKey struct{}

// WithIdempotencyKey pins the Idempotency-Key sent with purchases issued under ctx, so a
// retried checkout of the same cart reuses the key of the failed attempt.
func WithIdempotencyKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, idempotencyKeyContextKey{}, strings.TrimSpace(key))
}

// IdempotencyKeyFromContext returns the key pinned with WithIdempotencyKey, if any.
func IdempotencyKeyFromContext(ctx context.Context) string {
	key, _ := ctx.Value(idempotencyKeyContextKey{}).(string)
	return key
}

func ensureIdempotencyKey(key string, fn func() string) string {
	if key = strings.TrimSpace(key); key != "" {
		return key
	}
	return fn()
}

func drainError(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, maxErrorBody))
	return strings.TrimSpace(string(b))
}
