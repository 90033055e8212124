package rebalance

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/Phathdt/pmm-sub001/internal/alert"
	"github.com/Phathdt/pmm-sub001/internal/chain/btc/esplora"
	"github.com/Phathdt/pmm-sub001/internal/domain/model"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fixedClock() time.Time { return testNow }

func enabledConfig() Config {
	return Config{
		Enabled:                true,
		MaxRetryDuration:       24 * time.Hour,
		SlippageThresholdBps:   300,
		SlippageHighWarningBps: 100,
		RecordTimeout:          5 * time.Second,
		StallTimeout:           30 * time.Minute,
		DepositNetworkID:       "bitcoin",
	}
}

type recordingNotifier struct {
	mu     sync.Mutex
	alerts []alert.Alert
}

func (n *recordingNotifier) Notify(_ context.Context, a alert.Alert) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerts = append(n.alerts, a)
}

func (n *recordingNotifier) sent() []alert.Alert {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]alert.Alert(nil), n.alerts...)
}

type fakeTxFetcher struct {
	txs   map[string]*esplora.Transaction
	errs  map[string]error
	calls int
}

func (f *fakeTxFetcher) GetTransaction(_ context.Context, txid string) (*esplora.Transaction, error) {
	f.calls++
	if err := f.errs[txid]; err != nil {
		return nil, err
	}
	return f.txs[txid], nil
}

func confirmedTx(txid string, outputs ...esplora.Vout) *esplora.Transaction {
	return &esplora.Transaction{TxID: txid, Status: esplora.TxStatus{Confirmed: true}, Vout: outputs}
}

func newRecord(id int64, status model.RebalancingStatus, completedAgo time.Duration) model.Rebalancing {
	return model.Rebalancing{
		ID:               id,
		RebalancingID:    "rb" + string(rune('a'+id)),
		TradeHash:        "0xhash" + string(rune('a'+id)),
		TradeID:          model.StringPtr("trade-" + string(rune('a'+id))),
		Amount:           "5000",
		TxID:             model.StringPtr("btctx"),
		VaultAddress:     model.StringPtr("vault"),
		Status:           status,
		TradeCompletedAt: testNow.Add(-completedAgo),
		UpdatedAt:        testNow.Add(-time.Minute),
	}
}
