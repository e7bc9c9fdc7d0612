package ledger

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
)

const (
	// DefaultEndpoint is the public GraphQL endpoint of the ledger.
	DefaultEndpoint = "https://gql.waveapps.com/graphql/public"
	// DefaultTimeout bounds every ledger request.
	DefaultTimeout = 20 * time.Second

	maxErrorBody = 1 << 16
	maxLogBody   = 512
)

// Request outcome labels reported to the observer.
const (
	StatusOK             = "ok"
	StatusTransportError = "transport_error"
	StatusHTTPError      = "http_error"
	StatusAPIError       = "api_error"
)

// HTTPClient matches the subset of http.Client used by Client.
type HTTPClient interface {
	Do(*http.Request) (*http.Response, error)
}

// Observer receives one callback per ledger request.
type Observer func(ctx context.Context, operation, status string, elapsed time.Duration)

// Option customises the Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client HTTPClient) Option {
	return func(c *Client) {
		if client != nil {
			c.http = client
		}
	}
}

// WithTimeout overrides the per-request timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

// WithLogger registers a structured logger.
func WithLogger(logger func(ctx context.Context, event string, fields map[string]any)) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithObserver registers a request observer, typically metrics.
func WithObserver(observer Observer) Option {
	return func(c *Client) {
		if observer != nil {
			c.observer = observer
		}
	}
}

// WithClock injects a clock for latency measurement.
func WithClock(clock func() time.Time) Option {
	return func(c *Client) {
		if clock != nil {
			c.now = clock
		}
	}
}

// Client talks to the ledger's GraphQL API with a bearer token.
type Client struct {
	endpoint string
	token    string
	http     HTTPClient
	timeout  time.Duration
	logger   func(ctx context.Context, event string, fields map[string]any)
	observer Observer
	now      func() time.Time
}

// NewClient constructs a ledger client. An empty endpoint uses DefaultEndpoint.
func NewClient(endpoint, token string, opts ...Option) (*Client, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("ledger: parse endpoint: %w", err)
	}
	if parsed.Scheme != "https" && parsed.Scheme != "http" {
		return nil, fmt.Errorf("ledger: endpoint %q must be http(s)", endpoint)
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, errors.New("ledger: access token is required")
	}

	client := &Client{
		endpoint: parsed.String(),
		token:    token,
		http:     http.DefaultClient,
		timeout:  DefaultTimeout,
		logger:   func(context.Context, string, map[string]any) {},
		observer: func(context.Context, string, string, time.Duration) {},
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	return client, nil
}

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type graphQLError struct {
	Message    string `json:"message"`
	Path       []any  `json:"path"`
	Extensions struct {
		Code string `json:"code"`
	} `json:"extensions"`
}

type graphQLResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []graphQLError  `json:"errors"`
}

// execute posts one GraphQL document and decodes its data into out.
func (c *Client) execute(ctx context.Context, operation, query string, variables map[string]any, out any) (err error) {
	start := c.now()
	defer func() {
		c.observer(ctx, operation, requestStatus(err), c.now().Sub(start))
	}()

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(graphQLRequest{Query: query, Variables: variables}); err != nil {
		return fmt.Errorf("ledger: encode %s: %w", operation, err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.endpoint, &buf)
	if err != nil {
		return fmt.Errorf("ledger: build %s request: %w", operation, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger(ctx, "ledger.request.transport_failed", map[string]any{
			"operation": operation,
			"error":     err.Error(),
		})
		return &TransportError{Operation: operation, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		return &TransportError{Operation: operation, Err: fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode != http.StatusOK {
		excerpt := truncate(strings.TrimSpace(string(body)), maxLogBody)
		c.logger(ctx, "ledger.request.http_failed", map[string]any{
			"operation": operation,
			"status":    resp.StatusCode,
			"body":      excerpt,
		})
		return &HTTPError{Operation: operation, Status: resp.StatusCode, Body: excerpt}
	}

	var envelope graphQLResponse
	if err := json.Unmarshal(body, &envelope); err != nil {
		return &APIError{Operation: operation, Cause: fmt.Errorf("decode response: %w", err)}
	}
	if len(envelope.Errors) > 0 {
		apiErr := &APIError{Operation: operation, InputErrors: convertGraphQLErrors(envelope.Errors)}
		c.logger(ctx, "ledger.request.api_failed", map[string]any{
			"operation": operation,
			"errors":    apiErr.Error(),
		})
		return apiErr
	}
	if out == nil {
		return nil
	}
	if len(envelope.Data) == 0 || string(envelope.Data) == "null" {
		return &APIError{Operation: operation, Cause: errors.New("response has no data")}
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return &APIError{Operation: operation, Cause: fmt.Errorf("decode data: %w", err)}
	}
	return nil
}

func convertGraphQLErrors(errs []graphQLError) []InputError {
	out := make([]InputError, 0, len(errs))
	for _, e := range errs {
		path := make([]string, 0, len(e.Path))
		for _, segment := range e.Path {
			path = append(path, fmt.Sprint(segment))
		}
		out = append(out, InputError{Code: e.Extensions.Code, Message: e.Message, Path: path})
	}
	return out
}

func requestStatus(err error) string {
	var (
		transportErr *TransportError
		httpErr      *HTTPError
		apiErr       *APIError
	)
	switch {
	case err == nil:
		return StatusOK
	case errors.As(err, &httpErr):
		return StatusHTTPError
	case errors.As(err, &apiErr):
		return StatusAPIError
	case errors.As(err, &transportErr):
		return StatusTransportError
	default:
		return StatusTransportError
	}
}

func truncate(value string, limit int) string {
	if len(value) <= limit {
		return value
	}
	return value[:limit] + "..."
}
