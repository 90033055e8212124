// Package httpjson is the shared transport for the REST venues the engine
// talks to: the swap venue, the router and the price feed.
package httpjson

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Phathdt/pmm-sub001/internal/chain/ratelimit"
	"github.com/Phathdt/pmm-sub001/internal/circuitbreaker"
)

const (
	DefaultTimeout = 15 * time.Second
	maxErrorBody   = 512
)

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Service    string
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s %s: http status %d: %s", e.Service, e.Method, e.Path, e.StatusCode, e.Body)
}

func (e *StatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Client sends JSON requests to one base URL.
type Client struct {
	service    string
	baseURL    string
	httpClient *http.Client
	header     http.Header
	breaker    *circuitbreaker.Breaker
}

type Option func(*Client)

// WithHeader sets a header on every request.
func WithHeader(key, value string) Option {
	return func(c *Client) {
		if value != "" {
			c.header.Set(key, value)
		}
	}
}

// WithBreaker routes every call through b.
func WithBreaker(b *circuitbreaker.Breaker) Option {
	return func(c *Client) { c.breaker = b }
}

// WithLimiter rate limits outbound calls.
func WithLimiter(l *ratelimit.Limiter) Option {
	return func(c *Client) {
		c.httpClient.Transport = &ratelimit.Transport{Limiter: l, Method: c.methodLabel}
	}
}

func New(service, baseURL string, timeout time.Duration, opts ...Option) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	c := &Client{
		service: service,
		baseURL: strings.TrimRight(baseURL, "/"),
		header:  make(http.Header),
	}
	c.httpClient = &http.Client{
		Timeout:   timeout,
		Transport: &ratelimit.Transport{Limiter: ratelimit.NewLimiter(0, 0, service), Method: c.methodLabel},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the configured base URL without a trailing slash.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// methodLabel keeps the first two path segments so ids stay out of metric labels.
func (c *Client) methodLabel(r *http.Request) string {
	path := strings.TrimPrefix(r.URL.Path, strings.TrimRight(mustPath(c.baseURL), "/"))
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) > 2 {
		parts = parts[:2]
	}
	return r.Method + " /" + strings.Join(parts, "/")
}

func mustPath(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Path
}

// Get issues a GET and decodes the JSON response into out.
func (c *Client) Get(ctx context.Context, path string, query url.Values, out any) error {
	return c.Do(ctx, http.MethodGet, path, query, nil, out)
}

// Post issues a POST with in as the JSON body and decodes the response into out.
// A nil out discards the response body.
func (c *Client) Post(ctx context.Context, path string, in, out any) error {
	return c.Do(ctx, http.MethodPost, path, nil, in, out)
}

func (c *Client) Do(ctx context.Context, method, path string, query url.Values, in, out any) error {
	call := func() error {
		return c.do(ctx, method, path, query, in, out)
	}
	if c.breaker == nil {
		return call()
	}
	return c.breaker.Execute(call)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, in, out any) error {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s request: %w", path, err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, vs := range c.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s %s: %w", c.service, method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read %s response: %w", path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := strings.TrimSpace(string(respBody))
		if len(msg) > maxErrorBody {
			msg = msg[:maxErrorBody]
		}
		return &StatusError{Service: c.service, Method: method, Path: path, StatusCode: resp.StatusCode, Body: msg}
	}
	if out == nil || len(bytes.TrimSpace(respBody)) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
