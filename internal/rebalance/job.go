package rebalance

import (
	"fmt"
	"time"
)

// QuoteQueue carries verified records to the swap processor.
const QuoteQueue = "rebalance-quote"

// QuoteJob is the swap-processing job payload.
type QuoteJob struct {
	ID            int64  `json:"id"`
	RebalancingID string `json:"rebalancingId"`
	TradeHash     string `json:"tradeHash"`
	Amount        string `json:"amount"`
	RealAmount    string `json:"realAmount"`
	TxID          string `json:"txId"`
}

// QuoteJobKey is the idempotency key for one retry attempt of a record.
// Re-enqueueing the same attempt is a no-op; a new attempt gets a new key.
func QuoteJobKey(rebalancingID string, retryCount int) string {
	return fmt.Sprintf("rebalance-quote-%s-%d", rebalancingID, retryCount)
}

// Config drives every rebalancing scheduler.
type Config struct {
	Enabled          bool
	MaxRetryDuration time.Duration
	SkipConfirmation bool

	SlippageThresholdBps   int64
	SlippageHighWarningBps int64

	PendingInterval    time.Duration
	MonitorInterval    time.Duration
	RetryInterval      time.Duration
	SwapStatusInterval time.Duration

	// RecordTimeout bounds the work on one record within a tick.
	RecordTimeout time.Duration
	JobRetention  time.Duration
	// StallTimeout is how long a record may sit in an intermediate swap
	// status before the retry scheduler fails it.
	StallTimeout time.Duration

	// DepositNetworkID is the registry id of the Bitcoin network that funds
	// swap deposits.
	DepositNetworkID string
}

func (c Config) withDefaults() Config {
	if c.MaxRetryDuration <= 0 {
		c.MaxRetryDuration = 24 * time.Hour
	}
	if c.PendingInterval <= 0 {
		c.PendingInterval = 5 * time.Minute
	}
	if c.MonitorInterval <= 0 {
		c.MonitorInterval = 10 * time.Minute
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = 15 * time.Minute
	}
	if c.SwapStatusInterval <= 0 {
		c.SwapStatusInterval = 2 * time.Minute
	}
	if c.RecordTimeout <= 0 {
		c.RecordTimeout = 60 * time.Second
	}
	if c.JobRetention <= 0 {
		c.JobRetention = 24 * time.Hour
	}
	if c.StallTimeout <= 0 {
		c.StallTimeout = 30 * time.Minute
	}
	return c
}
