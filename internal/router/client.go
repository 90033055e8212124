// Package router is the client for the trade router that matches users with
// the PMM. It is the source of settled trades, protocol fees and liquidation
// payloads, and the sink for payout transaction hashes.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/url"
	"strings"
	"time"

	"github.com/Phathdt/pmm-sub001/internal/domain/model"
	"github.com/Phathdt/pmm-sub001/internal/httpjson"
)

// ErrIncompleteLiquidation is returned when the router's liquidation payload
// lacks a field the liquidation contract needs.
var ErrIncompleteLiquidation = errors.New("liquidation payload incomplete")

// TradeStatus is the router's view of one trade.
type TradeStatus struct {
	TradeID     string
	Status      model.TradeStatus
	CompletedAt *time.Time
}

// IsCompleted reports whether the trade settled on-chain.
func (s *TradeStatus) IsCompleted() bool {
	return s != nil && s.Status == model.TradeStatusCompleted
}

// ProtocolFee is the fee the payment contract forwards to the protocol.
type ProtocolFee struct {
	TradeID string
	Amount  *big.Int
}

// Liquidation carries the router-signed authorization for a lending payout.
type Liquidation struct {
	TradeID     string
	PositionID  string
	Signature   string
	Deadline    int64
	ProtocolFee *big.Int
}

type envelope[T any] struct {
	Data T `json:"data"`
}

type settledTradeDTO struct {
	TradeID        string     `json:"tradeId"`
	TradeHash      string     `json:"tradeHash"`
	Amount         string     `json:"amount"`
	SettlementTxID string     `json:"settlementTxId"`
	VaultAddress   string     `json:"vaultAddress"`
	Status         string     `json:"status"`
	CompletedAt    *time.Time `json:"completedAt"`
}

type tradeStatusDTO struct {
	TradeID     string     `json:"tradeId"`
	Status      string     `json:"status"`
	CompletedAt *time.Time `json:"completedAt"`
}

type protocolFeeDTO struct {
	TradeID     string `json:"tradeId"`
	ProtocolFee string `json:"protocolFee"`
}

type liquidationDTO struct {
	TradeID     string `json:"tradeId"`
	PositionID  string `json:"positionId"`
	Signature   string `json:"signature"`
	Deadline    int64  `json:"deadline"`
	ProtocolFee string `json:"protocolFee"`
}

type settlementDTO struct {
	TradeID string `json:"tradeId"`
	TxHash  string `json:"txHash"`
	Error   string `json:"error,omitempty"`
}

type Client struct {
	http   *httpjson.Client
	logger *slog.Logger
}

func NewClient(http *httpjson.Client, logger *slog.Logger) *Client {
	return &Client{http: http, logger: logger.With("component", "router")}
}

// ListSettledTrades returns trades whose proceeds were paid to the PMM in BTC.
func (c *Client) ListSettledTrades(ctx context.Context) ([]model.SettledTrade, error) {
	var resp envelope[[]settledTradeDTO]
	query := url.Values{"paymentNetwork": {"bitcoin"}}
	if err := c.http.Get(ctx, "/v1/pmm/settled-trades", query, &resp); err != nil {
		return nil, fmt.Errorf("list settled trades: %w", err)
	}
	trades := make([]model.SettledTrade, 0, len(resp.Data))
	for _, dto := range resp.Data {
		trades = append(trades, model.SettledTrade{
			TradeID:        dto.TradeID,
			TradeHash:      dto.TradeHash,
			Amount:         dto.Amount,
			SettlementTxID: dto.SettlementTxID,
			VaultAddress:   dto.VaultAddress,
			Status:         model.TradeStatus(strings.ToUpper(dto.Status)),
			CompletedAt:    dto.CompletedAt,
		})
	}
	return trades, nil
}

func (c *Client) GetTradeStatus(ctx context.Context, tradeID string) (*TradeStatus, error) {
	var resp envelope[tradeStatusDTO]
	if err := c.http.Get(ctx, "/v1/trades/"+url.PathEscape(tradeID)+"/status", nil, &resp); err != nil {
		return nil, fmt.Errorf("get trade status %s: %w", tradeID, err)
	}
	return &TradeStatus{
		TradeID:     tradeID,
		Status:      model.TradeStatus(strings.ToUpper(resp.Data.Status)),
		CompletedAt: resp.Data.CompletedAt,
	}, nil
}

func (c *Client) GetProtocolFee(ctx context.Context, tradeID string) (*ProtocolFee, error) {
	var resp envelope[protocolFeeDTO]
	if err := c.http.Get(ctx, "/v1/trades/"+url.PathEscape(tradeID)+"/protocol-fee", nil, &resp); err != nil {
		return nil, fmt.Errorf("get protocol fee %s: %w", tradeID, err)
	}
	fee, err := parseUint(resp.Data.ProtocolFee, true)
	if err != nil {
		return nil, fmt.Errorf("get protocol fee %s: %w", tradeID, err)
	}
	return &ProtocolFee{TradeID: tradeID, Amount: fee}, nil
}

// GetLiquidation returns the liquidation payload. Missing position id,
// signature or deadline yields ErrIncompleteLiquidation.
func (c *Client) GetLiquidation(ctx context.Context, tradeID string) (*Liquidation, error) {
	var resp envelope[liquidationDTO]
	if err := c.http.Get(ctx, "/v1/trades/"+url.PathEscape(tradeID)+"/liquidation", nil, &resp); err != nil {
		return nil, fmt.Errorf("get liquidation %s: %w", tradeID, err)
	}
	dto := resp.Data
	var missing []string
	if strings.TrimSpace(dto.PositionID) == "" {
		missing = append(missing, "positionId")
	}
	if strings.TrimSpace(dto.Signature) == "" {
		missing = append(missing, "signature")
	}
	if dto.Deadline <= 0 {
		missing = append(missing, "deadline")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("get liquidation %s: %w: missing %s", tradeID, ErrIncompleteLiquidation, strings.Join(missing, ", "))
	}
	fee, err := parseUint(dto.ProtocolFee, true)
	if err != nil {
		return nil, fmt.Errorf("get liquidation %s: %w", tradeID, err)
	}
	return &Liquidation{
		TradeID:     tradeID,
		PositionID:  dto.PositionID,
		Signature:   dto.Signature,
		Deadline:    dto.Deadline,
		ProtocolFee: fee,
	}, nil
}

// SubmitSettlementTx reports the payout transaction for a trade. failure is
// empty on success.
func (c *Client) SubmitSettlementTx(ctx context.Context, tradeID, txHash, failure string) error {
	body := settlementDTO{TradeID: tradeID, TxHash: txHash, Error: failure}
	if err := c.http.Post(ctx, "/v1/pmm/settlements", body, nil); err != nil {
		return fmt.Errorf("submit settlement tx %s: %w", tradeID, err)
	}
	c.logger.Info("settlement tx reported", "trade_id", tradeID, "tx_hash", txHash)
	return nil
}

func parseUint(raw string, emptyIsZero bool) (*big.Int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" && emptyIsZero {
		return new(big.Int), nil
	}
	v, ok := new(big.Int).SetString(raw, 10)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("invalid unsigned integer %q", raw)
	}
	return v, nil
}
