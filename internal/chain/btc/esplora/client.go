package esplora

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/Phathdt/pmm-sub001/internal/chain/ratelimit"
)

const maxErrorBody = 512

// HTTPError is returned for non-2xx responses.
type HTTPError struct {
	StatusCode int
	Body       string
	Path       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("esplora %s: http status %d: %s", e.Path, e.StatusCode, e.Body)
}

func (e *HTTPError) HTTPStatusCode() int {
	return e.StatusCode
}

// IsNotFound reports whether err is a 404 from Esplora.
func IsNotFound(err error) bool {
	var httpErr *HTTPError
	return errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusNotFound
}

// Client talks to an Esplora-compatible REST API (mempool.space, blockstream.info).
type Client struct {
	httpClient *http.Client
	baseURL    string
	logger     *slog.Logger
}

func NewClient(baseURL string, timeout time.Duration, limiter *ratelimit.Limiter, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: &ratelimit.Transport{Limiter: limiter, Method: methodLabel},
		},
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger.With("component", "esplora"),
	}
}

// methodLabel collapses ids out of the path so metric labels stay bounded.
func methodLabel(r *http.Request) string {
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	switch {
	case len(parts) >= 2 && parts[len(parts)-2] == "tx":
		return "tx"
	case len(parts) >= 1 && parts[len(parts)-1] == "utxo":
		return "address_utxo"
	case len(parts) >= 1:
		return parts[len(parts)-1]
	default:
		return "unknown"
	}
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("esplora %s: %w", path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := string(respBody)
		if len(msg) > maxErrorBody {
			msg = msg[:maxErrorBody]
		}
		return nil, &HTTPError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(msg), Path: path}
	}
	return respBody, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	raw, err := c.do(ctx, http.MethodGet, path, nil, "")
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
