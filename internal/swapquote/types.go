package swapquote

import (
	"fmt"
	"math/big"
	"time"
)

// SwapStatus is the venue's execution status for a deposit address.
type SwapStatus string

const (
	StatusPendingDeposit    SwapStatus = "PENDING_DEPOSIT"
	StatusKnownDepositTx    SwapStatus = "KNOWN_DEPOSIT_TX"
	StatusIncompleteDeposit SwapStatus = "INCOMPLETE_DEPOSIT"
	StatusProcessing        SwapStatus = "PROCESSING"
	StatusSuccess           SwapStatus = "SUCCESS"
	StatusRefunded          SwapStatus = "REFUNDED"
	StatusFailed            SwapStatus = "FAILED"
)

// IsFinal reports whether the venue will not change the status again.
func (s SwapStatus) IsFinal() bool {
	switch s {
	case StatusSuccess, StatusRefunded, StatusFailed:
		return true
	}
	return false
}

// Quote is an accepted (non-dry) venue quote. Amounts are in base units of
// the origin and destination assets.
type Quote struct {
	QuoteID        string
	DepositAddress string
	AmountIn       *big.Int
	AmountOut      *big.Int
	AmountOutUSD   string
	Deadline       time.Time
	TimeEstimate   time.Duration
}

// Status is the swap progress for one deposit address.
type Status struct {
	Status                 SwapStatus
	DepositAddress         string
	AmountOut              *big.Int
	OriginChainTxHash      string
	DestinationChainTxHash string
	UpdatedAt              time.Time
}

type quoteRequest struct {
	Dry                bool   `json:"dry"`
	SwapType           string `json:"swapType"`
	SlippageTolerance  int64  `json:"slippageTolerance"`
	OriginAsset        string `json:"originAsset"`
	DepositType        string `json:"depositType"`
	DestinationAsset   string `json:"destinationAsset"`
	Amount             string `json:"amount"`
	RefundTo           string `json:"refundTo"`
	RefundType         string `json:"refundType"`
	Recipient          string `json:"recipient"`
	RecipientType      string `json:"recipientType"`
	Deadline           string `json:"deadline"`
	QuoteWaitingTimeMs int    `json:"quoteWaitingTimeMs,omitempty"`
}

type quoteResponse struct {
	CorrelationID string `json:"correlationId"`
	Timestamp     string `json:"timestamp"`
	Signature     string `json:"signature"`
	Quote         struct {
		DepositAddress string `json:"depositAddress"`
		AmountIn       string `json:"amountIn"`
		AmountOut      string `json:"amountOut"`
		AmountOutUSD   string `json:"amountOutUsd"`
		Deadline       string `json:"deadline"`
		TimeEstimate   int    `json:"timeEstimate"`
	} `json:"quote"`
}

type submitDepositRequest struct {
	TxHash         string `json:"txHash"`
	DepositAddress string `json:"depositAddress"`
}

type chainTxHash struct {
	Hash        string `json:"hash"`
	ExplorerURL string `json:"explorerUrl"`
}

type statusResponse struct {
	Status      string `json:"status"`
	UpdatedAt   string `json:"updatedAt"`
	SwapDetails struct {
		AmountOut                string        `json:"amountOut"`
		OriginChainTxHashes      []chainTxHash `json:"originChainTxHashes"`
		DestinationChainTxHashes []chainTxHash `json:"destinationChainTxHashes"`
	} `json:"swapDetails"`
	QuoteResponse struct {
		Quote struct {
			DepositAddress string `json:"depositAddress"`
		} `json:"quote"`
	} `json:"quoteResponse"`
}

func parseAmount(field, raw string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(raw, 10)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("invalid %s %q", field, raw)
	}
	return v, nil
}

func firstHash(hashes []chainTxHash) string {
	if len(hashes) == 0 {
		return ""
	}
	return hashes[0].Hash
}
