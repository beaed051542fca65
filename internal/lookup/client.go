package lookup

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

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/hanko-field/pos/internal/domain"
	"github.com/hanko-field/pos/internal/platform/requestctx"
)

const (
	defaultTimeout = 5 * time.Second
	lookupPath     = "products/lookup"
	maxErrorBody   = 256
)

var (
	// ErrNotFound reports that the backend has no product for the code. It is an expected
	// outcome and never wraps a transport failure.
	ErrNotFound = errors.New("lookup: product not found")
	// ErrInvalidCode is returned for a blank code; no request is sent.
	ErrInvalidCode = errors.New("lookup: code is required")
)

// Error is a transport or server failure. Status is zero when no HTTP response was received.
type Error struct {
	Status int
	Body   string
	Err    error
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.Status != 0 && e.Body != "":
		return fmt.Sprintf("lookup: status %d: %s", e.Status, e.Body)
	case e.Status != 0:
		return fmt.Sprintf("lookup: status %d", e.Status)
	case e.Err != nil:
		return fmt.Sprintf("lookup: %v", e.Err)
	default:
		return "lookup: request failed"
	}
}

// Unwrap exposes the underlying transport error.
func (e *Error) Unwrap() error { return e.Err }

// HTTPClient matches the subset of http.Client used by Client.
type HTTPClient interface {
	Do(*http.Request) (*http.Response, error)
}

// Client resolves scanned codes against the product lookup endpoint. Each call issues exactly one
// request; results are not cached.
type Client struct {
	base *url.URL
	http HTTPClient
}

// Option customises the client.
type Option func(*Client)

// WithHTTPClient replaces the default instrumented HTTP client.
func WithHTTPClient(client HTTPClient) Option {
	return func(c *Client) {
		if client != nil {
			c.http = client
		}
	}
}

// NewClient constructs a lookup client rooted at baseURL.
func NewClient(baseURL string, timeout time.Duration, opts ...Option) (*Client, error) {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		return nil, errors.New("lookup: base URL is required")
	}
	parsed, err := url.Parse(strings.TrimRight(baseURL, "/") + "/")
	if err != nil {
		return nil, fmt.Errorf("lookup: parse base URL: %w", err)
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
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Lookup resolves code to a product. It returns ErrNotFound when the backend answers with its
// empty sentinel and *Error for any non-2xx status, transport failure or malformed body.
func (c *Client) Lookup(ctx context.Context, code string) (domain.Product, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return domain.Product{}, ErrInvalidCode
	}

	endpoint := c.base.ResolveReference(&url.URL{
		Path:     lookupPath,
		RawQuery: url.Values{"code": []string{code}}.Encode(),
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return domain.Product{}, &Error{Err: err}
	}
	req.Header.Set("Accept", "application/json")

	logger := requestctx.Logger(ctx)

	resp, err := c.http.Do(req)
	if err != nil {
		logger.Warn("product lookup request failed", zap.Error(err))
		return domain.Product{}, &Error{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		lookupErr := &Error{Status: resp.StatusCode, Body: drainError(resp.Body)}
		logger.Warn("product lookup rejected", zap.Int("status", resp.StatusCode))
		return domain.Product{}, lookupErr
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.Product{}, &Error{Err: fmt.Errorf("read body: %w", err)}
	}
	product, found, err := decodeProduct(body)
	if err != nil {
		logger.Warn("product lookup returned malformed body", zap.Error(err))
		return domain.Product{}, &Error{Err: err}
	}
	if !found {
		logger.Debug("product not found")
		return domain.Product{}, ErrNotFound
	}
	return product, nil
}

type productPayload struct {
	ProductID int64  `json:"product_id"`
	Code      string `json:"code"`
	Name      string `json:"name"`
	Price     int64  `json:"price"`
}

// decodeProduct treats an empty body, JSON null and an empty object as the not-found sentinel.
func decodeProduct(body []byte) (domain.Product, bool, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 || bytes.Equal(body, []byte("null")) {
		return domain.Product{}, false, nil
	}

	var payload productPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return domain.Product{}, false, fmt.Errorf("decode product: %w", err)
	}
	if payload.ProductID == 0 && strings.TrimSpace(payload.Code) == "" && strings.TrimSpace(payload.Name) == "" {
		return domain.Product{}, false, nil
	}
	return domain.Product{
		ID:    payload.ProductID,
		Code:  payload.Code,
		Name:  payload.Name,
		Price: payload.Price,
	}, true, nil
}

func drainError(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, maxErrorBody))
	return strings.TrimSpace(string(b))
}
