package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/Phathdt/pmm-sub001/internal/chain/ratelimit"
)

const (
	defaultTimeout = 30 * time.Second
	// maxResponseBytes caps a single JSON-RPC response body.
	maxResponseBytes = 4 << 20
)

// RPCClient is the subset of the Solana JSON-RPC API used to submit payouts.
type RPCClient interface {
	GetLatestBlockhash(ctx context.Context, commitment string) (*LatestBlockhash, error)
	SendTransaction(ctx context.Context, signedTxBase64 string) (string, error)
	GetSignatureStatuses(ctx context.Context, signatures ...string) ([]*SignatureStatus, error)
	GetAccountInfo(ctx context.Context, address string) (*AccountInfo, error)
}

// Client speaks JSON-RPC 2.0 over HTTP POST to a single Solana endpoint.
type Client struct {
	endpoint string
	http     *http.Client
	limiter  *ratelimit.Limiter
	nextID   atomic.Int64
	logger   *slog.Logger
}

var _ RPCClient = (*Client)(nil)

func NewClient(rpcURL string, logger *slog.Logger) *Client {
	return &Client{
		endpoint: rpcURL,
		http:     &http.Client{Timeout: defaultTimeout},
		logger:   logger.With("component", "solana_rpc"),
	}
}

// SetRateLimiter throttles every subsequent call through l.
func (c *Client) SetRateLimiter(l *ratelimit.Limiter) {
	c.limiter = l
}

func (c *Client) call(ctx context.Context, method string, params []interface{}) (result json.RawMessage, err error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}
	}
	start := time.Now()
	defer func() {
		ratelimit.RecordCall("solana", method, err)
		c.logger.Debug("rpc call", "method", method, "duration", time.Since(start), "error", err)
	}()

	payload, err := json.Marshal(Request{
		JSONRPC: "2.0",
		ID:      int(c.nextID.Add(1)),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", method, err)
	}

	raw, err := c.post(ctx, payload)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}

	var resp Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", method, err)
	}
	if resp.Error != nil {
		return nil, resp.Error
	}
	return resp.Result, nil
}

// post sends one request body and returns the response body of a 200 answer.
func (c *Client) post(ctx context.Context, payload []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &HTTPStatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	return body, nil
}
