package model

import "time"

// RebalancingStatus is persisted verbatim; values must not change.
type RebalancingStatus string

const (
	RebalancingStatusPending          RebalancingStatus = "PENDING"
	RebalancingStatusMempoolVerified  RebalancingStatus = "MEMPOOL_VERIFIED"
	RebalancingStatusQuoteRequested   RebalancingStatus = "QUOTE_REQUESTED"
	RebalancingStatusQuoteAccepted    RebalancingStatus = "QUOTE_ACCEPTED"
	RebalancingStatusDepositSubmitted RebalancingStatus = "DEPOSIT_SUBMITTED"
	RebalancingStatusSwapProcessing   RebalancingStatus = "SWAP_PROCESSING"
	RebalancingStatusCompleted        RebalancingStatus = "COMPLETED"
	RebalancingStatusFailed           RebalancingStatus = "FAILED"
	RebalancingStatusStuck            RebalancingStatus = "STUCK"
	RebalancingStatusRefunded         RebalancingStatus = "REFUNDED"
)

// progression is the happy-path order. Side branches are handled in CanTransition.
var progression = map[RebalancingStatus]int{
	RebalancingStatusPending:          0,
	RebalancingStatusMempoolVerified:  1,
	RebalancingStatusQuoteRequested:   2,
	RebalancingStatusQuoteAccepted:    3,
	RebalancingStatusDepositSubmitted: 4,
	RebalancingStatusSwapProcessing:   5,
	RebalancingStatusCompleted:        6,
}

func (s RebalancingStatus) String() string {
	return string(s)
}

func (s RebalancingStatus) Valid() bool {
	if _, ok := progression[s]; ok {
		return true
	}
	switch s {
	case RebalancingStatusFailed, RebalancingStatusStuck, RebalancingStatusRefunded:
		return true
	}
	return false
}

// IsTerminal reports whether no scheduler may touch a record in this status.
func (s RebalancingStatus) IsTerminal() bool {
	switch s {
	case RebalancingStatusCompleted, RebalancingStatusStuck, RebalancingStatusRefunded:
		return true
	}
	return false
}

// IsRetryable reports whether schedulers may drive the record again.
func (s RebalancingStatus) IsRetryable() bool {
	return s == RebalancingStatusPending || s == RebalancingStatusFailed
}

// CanTransition reports whether from -> to is a legal lifecycle move.
func CanTransition(from, to RebalancingStatus) bool {
	if !from.Valid() || !to.Valid() || from.IsTerminal() {
		return false
	}
	switch to {
	case RebalancingStatusFailed, RebalancingStatusStuck, RebalancingStatusRefunded:
		return from != to
	case RebalancingStatusPending:
		return from == RebalancingStatusFailed
	}
	if from == RebalancingStatusFailed {
		return false
	}
	return progression[to] > progression[from]
}

// Rebalancing converts the BTC proceeds of one trade into USDC.
// Satoshi and micro-USD amounts are base-10 integer strings.
type Rebalancing struct {
	ID            int64   `db:"id"`
	RebalancingID string  `db:"rebalancing_id"`
	TradeHash     string  `db:"trade_hash"`
	TradeID       *string `db:"trade_id"`

	Amount       string  `db:"amount"`
	RealAmount   *string `db:"real_amount"`
	OraclePrice  *string `db:"oracle_price"`
	QuotePrice   *string `db:"quote_price"`
	SlippageBps  *int64  `db:"slippage_bps"`
	ExpectedUsdc *string `db:"expected_usdc"`
	ActualUsdc   *string `db:"actual_usdc"`

	TxID            *string `db:"tx_id"`
	VaultAddress    *string `db:"vault_address"`
	DepositAddress  *string `db:"deposit_address"`
	NearVaultTxID   *string `db:"near_vault_tx_id"`
	QuoteID         *string `db:"quote_id"`
	NearTxID        *string `db:"near_tx_id"`
	NearDepositID   *string `db:"near_deposit_id"`
	MempoolVerified bool    `db:"mempool_verified"`

	Status           RebalancingStatus `db:"status"`
	RetryCount       int               `db:"retry_count"`
	Error            *string           `db:"error"`
	TradeCompletedAt time.Time         `db:"trade_completed_at"`
	CreatedAt        time.Time         `db:"created_at"`
	UpdatedAt        time.Time         `db:"updated_at"`
}

// TradeIDOrEmpty is a logging convenience.
func (r *Rebalancing) TradeIDOrEmpty() string {
	if r == nil || r.TradeID == nil {
		return ""
	}
	return *r.TradeID
}

// RebalancingPatch holds optional column updates applied together with a status change.
// Nil fields are left untouched.
type RebalancingPatch struct {
	Error          *string
	OraclePrice    *string
	QuotePrice     *string
	SlippageBps    *int64
	ExpectedUsdc   *string
	ActualUsdc     *string
	DepositAddress *string
	NearVaultTxID  *string
	QuoteID        *string
	NearTxID       *string
	NearDepositID  *string
}

// StringPtr returns a pointer to s.
func StringPtr(s string) *string {
	return &s
}
