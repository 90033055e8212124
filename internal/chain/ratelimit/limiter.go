package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/Phathdt/pmm-sub001/internal/metrics"
	"golang.org/x/time/rate"
)

// Limiter is a token bucket shared by all calls to one provider.
type Limiter struct {
	limiter  *rate.Limiter
	provider string
}

// NewLimiter allows rps calls per second with the given burst. A
// non-positive rps disables limiting.
func NewLimiter(rps float64, burst int, provider string) *Limiter {
	limit := rate.Limit(rps)
	if rps <= 0 {
		limit = rate.Inf
	}
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{
		limiter:  rate.NewLimiter(limit, burst),
		provider: provider,
	}
}

// Wait consumes exactly one token, blocking until it is available or ctx ends.
func (l *Limiter) Wait(ctx context.Context) error {
	r := l.limiter.Reserve()
	if !r.OK() {
		return fmt.Errorf("ratelimit %s: cannot reserve token", l.provider)
	}
	delay := r.Delay()
	if delay <= 0 {
		return nil
	}
	metrics.RPCRateLimitWaits.WithLabelValues(l.provider).Inc()
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		r.Cancel()
		return ctx.Err()
	}
}

// Transport is an http.RoundTripper that rate limits outbound requests and
// records per-call metrics labelled by provider and method.
type Transport struct {
	Base    http.RoundTripper
	Limiter *Limiter
	// Method derives the metric label from a request. Defaults to the URL path.
	Method func(*http.Request) string
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	method := req.URL.Path
	if t.Method != nil {
		method = t.Method(req)
	}
	provider := "unknown"
	if t.Limiter != nil {
		provider = t.Limiter.provider
		if err := t.Limiter.Wait(req.Context()); err != nil {
			RecordCall(provider, method, err)
			return nil, err
		}
	}

	resp, err := base.RoundTrip(req)
	switch {
	case err != nil:
		RecordCall(provider, method, err)
	case resp.StatusCode >= 400:
		metrics.RPCCallsTotal.WithLabelValues(provider, method, ClassifyStatus(resp.StatusCode)).Inc()
	default:
		RecordCall(provider, method, nil)
	}
	return resp, err
}

// NewHTTPClient returns an http.Client that goes through a rate-limited Transport.
func NewHTTPClient(timeout time.Duration, limiter *Limiter) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: &Transport{Limiter: limiter},
	}
}

// RecordCall records one external call with its error classification.
func RecordCall(provider, method string, err error) {
	metrics.RPCCallsTotal.WithLabelValues(provider, method, ClassifyError(err)).Inc()
}

// ClassifyStatus buckets an HTTP status code for metric labels.
func ClassifyStatus(code int) string {
	switch {
	case code == http.StatusTooManyRequests:
		return "rate_limited"
	case code >= 500:
		return "server_error"
	case code >= 400:
		return "client_error"
	default:
		return "ok"
	}
}

// ClassifyError buckets a transport error for metric labels.
func ClassifyError(err error) string {
	if err == nil {
		return "ok"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timeout"
	}
	lower := strings.ToLower(err.Error())
	switch {
	case strings.Contains(lower, "timeout"):
		return "timeout"
	case strings.Contains(lower, "rate limit") || strings.Contains(lower, "429") || strings.Contains(lower, "too many requests"):
		return "rate_limited"
	case strings.Contains(lower, "connection refused") || strings.Contains(lower, "connection reset") ||
		strings.Contains(lower, "no such host") || strings.Contains(lower, "broken pipe") ||
		strings.Contains(lower, "eof"):
		return "network_error"
	default:
		return "client_error"
	}
}
