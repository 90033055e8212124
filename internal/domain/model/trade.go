package model

import "time"

// TradeStatus as reported by the router.
type TradeStatus string

const (
	TradeStatusSettling  TradeStatus = "SETTLING"
	TradeStatusCompleted TradeStatus = "COMPLETED"
	TradeStatusFailed    TradeStatus = "FAILED"
)

// SettledTrade is a trade whose proceeds were paid to the PMM in BTC.
type SettledTrade struct {
	TradeID        string      `json:"tradeId"`
	TradeHash      string      `json:"tradeHash"`
	Amount         string      `json:"amount"`
	SettlementTxID string      `json:"settlementTxId"`
	VaultAddress   string      `json:"vaultAddress"`
	Status         TradeStatus `json:"status"`
	CompletedAt    *time.Time  `json:"completedAt,omitempty"`
}
