// Package swapquote is the client for the BTC to USDC swap venue. It follows
// the 1Click intents API and only maps the fields the rebalancing flow reads.
package swapquote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/url"
	"strings"
	"time"

	"github.com/Phathdt/pmm-sub001/internal/httpjson"
)

const (
	DefaultQuoteDeadline = 30 * time.Minute
	quoteWaitingTimeMs   = 3000
)

// ErrEmptyQuote is returned when the venue answers without a deposit address.
var ErrEmptyQuote = errors.New("swap venue returned quote without deposit address")

type Config struct {
	OriginAsset      string
	DestinationAsset string
	RefundAddress    string
	Recipient        string
	SlippageBps      int64
	QuoteDeadline    time.Duration
}

type Client struct {
	http   *httpjson.Client
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

func NewClient(http *httpjson.Client, cfg Config, logger *slog.Logger) *Client {
	if cfg.QuoteDeadline <= 0 {
		cfg.QuoteDeadline = DefaultQuoteDeadline
	}
	return &Client{
		http:   http,
		cfg:    cfg,
		logger: logger.With("component", "swapquote"),
		now:    time.Now,
	}
}

// RequestQuote asks for an EXACT_INPUT quote selling amountSats of the origin
// asset. The returned quote is binding until its deadline.
func (c *Client) RequestQuote(ctx context.Context, amountSats *big.Int) (*Quote, error) {
	if amountSats == nil || amountSats.Sign() <= 0 {
		return nil, fmt.Errorf("request quote: amount must be positive")
	}
	req := quoteRequest{
		Dry:                false,
		SwapType:           "EXACT_INPUT",
		SlippageTolerance:  c.cfg.SlippageBps,
		OriginAsset:        c.cfg.OriginAsset,
		DepositType:        "ORIGIN_CHAIN",
		DestinationAsset:   c.cfg.DestinationAsset,
		Amount:             amountSats.String(),
		RefundTo:           c.cfg.RefundAddress,
		RefundType:         "ORIGIN_CHAIN",
		Recipient:          c.cfg.Recipient,
		RecipientType:      "DESTINATION_CHAIN",
		Deadline:           c.now().Add(c.cfg.QuoteDeadline).UTC().Format(time.RFC3339),
		QuoteWaitingTimeMs: quoteWaitingTimeMs,
	}

	var resp quoteResponse
	if err := c.http.Post(ctx, "/v0/quote", req, &resp); err != nil {
		return nil, fmt.Errorf("request quote: %w", err)
	}
	if strings.TrimSpace(resp.Quote.DepositAddress) == "" {
		return nil, ErrEmptyQuote
	}

	amountIn, err := parseAmount("amountIn", resp.Quote.AmountIn)
	if err != nil {
		return nil, fmt.Errorf("request quote: %w", err)
	}
	amountOut, err := parseAmount("amountOut", resp.Quote.AmountOut)
	if err != nil {
		return nil, fmt.Errorf("request quote: %w", err)
	}

	quote := &Quote{
		QuoteID:        resp.CorrelationID,
		DepositAddress: resp.Quote.DepositAddress,
		AmountIn:       amountIn,
		AmountOut:      amountOut,
		AmountOutUSD:   resp.Quote.AmountOutUSD,
		TimeEstimate:   time.Duration(resp.Quote.TimeEstimate) * time.Second,
	}
	if resp.Quote.Deadline != "" {
		if deadline, err := time.Parse(time.RFC3339, resp.Quote.Deadline); err == nil {
			quote.Deadline = deadline
		}
	}

	c.logger.Info("swap quote received",
		"quote_id", quote.QuoteID,
		"deposit_address", quote.DepositAddress,
		"amount_in", quote.AmountIn.String(),
		"amount_out", quote.AmountOut.String(),
	)
	return quote, nil
}

// SubmitDeposit tells the venue which origin-chain transaction funds the
// deposit address, which speeds up detection.
func (c *Client) SubmitDeposit(ctx context.Context, txHash, depositAddress string) error {
	req := submitDepositRequest{TxHash: txHash, DepositAddress: depositAddress}
	if err := c.http.Post(ctx, "/v0/deposit/submit", req, nil); err != nil {
		return fmt.Errorf("submit deposit %s: %w", txHash, err)
	}
	return nil
}

// GetStatus returns the swap status for depositAddress.
func (c *Client) GetStatus(ctx context.Context, depositAddress string) (*Status, error) {
	var resp statusResponse
	query := url.Values{"depositAddress": {depositAddress}}
	if err := c.http.Get(ctx, "/v0/status", query, &resp); err != nil {
		return nil, fmt.Errorf("get swap status %s: %w", depositAddress, err)
	}

	st := &Status{
		Status:                 SwapStatus(strings.ToUpper(resp.Status)),
		DepositAddress:         depositAddress,
		OriginChainTxHash:      firstHash(resp.SwapDetails.OriginChainTxHashes),
		DestinationChainTxHash: firstHash(resp.SwapDetails.DestinationChainTxHashes),
	}
	if resp.SwapDetails.AmountOut != "" {
		amountOut, err := parseAmount("amountOut", resp.SwapDetails.AmountOut)
		if err != nil {
			return nil, fmt.Errorf("get swap status %s: %w", depositAddress, err)
		}
		st.AmountOut = amountOut
	}
	if resp.UpdatedAt != "" {
		if ts, err := time.Parse(time.RFC3339, resp.UpdatedAt); err == nil {
			st.UpdatedAt = ts
		}
	}
	return st, nil
}
