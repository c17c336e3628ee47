package poller

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultMaxBodySize caps how much of a response body is read.
const DefaultMaxBodySize = 1 << 20 // 1MB

// pool limits for many sources sharing one transport
const (
	defaultMaxIdleConns        = 100
	defaultMaxIdleConnsPerHost = 10
	defaultMaxConnsPerHost     = 10
	defaultIdleConnTimeout     = 60 * time.Second
)

var (
	// ErrStatus is wrapped by the error of a response whose HTTP status is
	// not 2xx.
	ErrStatus = errors.New("unexpected HTTP status")

	// ErrBodyTooLarge is returned when a body exceeds the client's limit.
	ErrBodyTooLarge = errors.New("response body too large")
)

// Request is one poll of a source.
type Request struct {
	// Method defaults to GET.
	Method string

	URL string

	// Headers are set after the default Accept header, so they can
	// replace it.
	Headers map[string]string

	// Timeout bounds the whole request. Zero means only ctx bounds it.
	Timeout time.Duration
}

// Response is what a [Client] got back for a [Request].
type Response struct {
	Body        []byte
	StatusCode  int
	ContentType string
	Latency     time.Duration

	// Error is a transport or read failure. A non-2xx status is not
	// reported here; see [Response.Err].
	Error error
}

// OK reports whether the request completed with a 2xx status.
func (r Response) OK() bool {
	return r.Error == nil && r.StatusCode >= 200 && r.StatusCode < 300
}

// Err returns the transport error, or an [ErrStatus] error for a non-2xx
// status, or nil.
func (r Response) Err() error {
	if r.Error != nil {
		return r.Error
	}
	if !r.OK() {
		return fmt.Errorf("%w %d", ErrStatus, r.StatusCode)
	}
	return nil
}

// ClientOption configures a [Client].
type ClientOption func(*Client)

// WithMaxBodySize sets the body limit. Values <= 0 keep the default.
func WithMaxBodySize(n int64) ClientOption {
	return func(c *Client) {
		if n > 0 {
			c.maxBody = n
		}
	}
}

// WithTransport replaces the pooled transport.
func WithTransport(rt http.RoundTripper) ClientOption {
	return func(c *Client) {
		if rt != nil {
			c.httpClient.Transport = rt
		}
	}
}

// Client fetches JSON sources over a shared connection pool.
//
// Timeouts are per request, through the context, so sources can differ.
type Client struct {
	httpClient *http.Client
	maxBody    int64
}

// NewClient creates a [Client] with a pooled transport: 100 idle
// connections, 10 idle and 10 active per host, 60s idle timeout.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		httpClient: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        defaultMaxIdleConns,
				MaxIdleConnsPerHost: defaultMaxIdleConnsPerHost,
				MaxConnsPerHost:     defaultMaxConnsPerHost,
				IdleConnTimeout:     defaultIdleConnTimeout,
			},
		},
		maxBody: DefaultMaxBodySize,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Fetch performs req. It always returns a Response; failures land in
// Response.Error.
func (c *Client) Fetch(ctx context.Context, req Request) Response {
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	start := time.Now()
	fail := func(status int, err error) Response {
		return Response{StatusCode: status, Latency: time.Since(start), Error: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, nil)
	if err != nil {
		return fail(0, fmt.Errorf("failed to create request: %w", err))
	}
	httpReq.Header.Set("Accept", "application/json")
	for key, value := range req.Headers {
		httpReq.Header.Set(key, value)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fail(0, fmt.Errorf("request failed: %w", err))
	}
	defer func() { _ = resp.Body.Close() }()

	// one extra byte tells a body at the limit from one over it
	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if err != nil {
		return fail(resp.StatusCode, fmt.Errorf("failed to read response body: %w", err))
	}
	if int64(len(body)) > c.maxBody {
		return fail(resp.StatusCode, fmt.Errorf("%w: limit %d bytes", ErrBodyTooLarge, c.maxBody))
	}

	return Response{
		Body:        body,
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Latency:     time.Since(start),
	}
}

// Close drops idle pooled connections. The client stays usable.
func (c *Client) Close() {
	if c == nil || c.httpClient == nil {
		return
	}
	c.httpClient.CloseIdleConnections()
}
