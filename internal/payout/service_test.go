package payout

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/Phathdt/pmm-sub001/internal/alert"
	"github.com/Phathdt/pmm-sub001/internal/config"
	"github.com/Phathdt/pmm-sub001/internal/domain/model"
	"github.com/Phathdt/pmm-sub001/internal/store/redis"
	"github.com/Phathdt/pmm-sub001/internal/transfer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeSender struct {
	hash string
	err  error
	reqs []transfer.Request
	kind []model.TradeType
}

func (f *fakeSender) Transfer(_ context.Context, tradeType model.TradeType, req transfer.Request) (string, error) {
	f.kind = append(f.kind, tradeType)
	f.reqs = append(f.reqs, req)
	return f.hash, f.err
}

type report struct{ tradeID, txHash, failure string }

type fakeReporter struct {
	mu      sync.Mutex
	reports []report
	err     error
}

func (f *fakeReporter) SubmitSettlementTx(_ context.Context, tradeID, txHash, failure string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reports = append(f.reports, report{tradeID, txHash, failure})
	return f.err
}

type recordingNotifier struct{ alerts []alert.Alert }

func (n *recordingNotifier) Notify(_ context.Context, a alert.Alert) { n.alerts = append(n.alerts, a) }

type harness struct {
	queue    *redis.InMemoryQueue
	sender   *fakeSender
	reporter *fakeReporter
	notifier *recordingNotifier
	svc      *Service
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	registry, err := config.NewNetworkRegistry(
		model.Network{ID: "base", Type: model.NetworkTypeEVM, ChainID: 8453, Tokens: []model.Token{
			{NetworkID: "base", Address: "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913", Symbol: "USDC", Decimals: 6},
		}},
		model.Network{ID: "bitcoin", Type: model.NetworkTypeBTC, Tokens: []model.Token{
			{NetworkID: "bitcoin", Address: model.NativeTokenAddress, Symbol: "BTC", Decimals: 8},
		}},
	)
	require.NoError(t, err)
	h := &harness{
		queue:    redis.NewInMemoryQueue(8, discardLogger()),
		sender:   &fakeSender{hash: "0xpaid"},
		reporter: &fakeReporter{},
		notifier: &recordingNotifier{},
	}
	h.svc = NewService(h.queue, h.sender, h.reporter, registry, h.notifier, discardLogger())
	return h
}

func usdcJob() Job {
	return Job{
		TradeID:   "trade-1",
		TradeType: "lending",
		NetworkID: "base",
		ToAddress: "0x00000000000000000000000000000000000000aa",
		Amount:    "2500000",
		Token:     "0x833589fcd6edb6e08f4c7c32d4f71b54bda02913",
	}
}

func queued(t *testing.T, job Job) redis.Job {
	t.Helper()
	body, err := json.Marshal(job)
	require.NoError(t, err)
	return redis.Job{ID: "1", Queue: Queue, Key: job.Key(), Payload: body}
}

func TestHandle_SuccessReportsHash(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.svc.Handle(context.Background(), queued(t, usdcJob())))

	require.Len(t, h.sender.reqs, 1)
	assert.Equal(t, model.TradeTypeLending, h.sender.kind[0])
	assert.Equal(t, "2500000", h.sender.reqs[0].Amount.String())
	assert.Equal(t, "USDC", h.sender.reqs[0].Token.Symbol)
	assert.Equal(t, []report{{"trade-1", "0xpaid", ""}}, h.reporter.reports)
	assert.Empty(t, h.notifier.alerts)
}

func TestHandle_FailureWithSyntheticHash(t *testing.T) {
	h := newHarness(t)
	h.sender.hash = "0x00000000000000000000000000000000000000000000000000000000deadbeef"
	h.sender.err = errors.New("PositionExpired()")

	err := h.svc.Handle(context.Background(), queued(t, usdcJob()))
	require.Error(t, err)

	require.Len(t, h.notifier.alerts, 1)
	assert.Equal(t, alert.AlertTypeTransferFailed, h.notifier.alerts[0].Type)
	require.Len(t, h.reporter.reports, 1)
	assert.Equal(t, h.sender.hash, h.reporter.reports[0].txHash)
	assert.Equal(t, "PositionExpired()", h.reporter.reports[0].failure)
}

func TestHandle_FailureWithoutHashOnlyAlerts(t *testing.T) {
	h := newHarness(t)
	h.sender.hash = ""
	h.sender.err = transfer.ErrInsufficientFunds

	err := h.svc.Handle(context.Background(), queued(t, usdcJob()))
	require.ErrorIs(t, err, transfer.ErrInsufficientFunds)
	assert.Len(t, h.notifier.alerts, 1)
	assert.Empty(t, h.reporter.reports)
}

func TestHandle_UnsupportedCombinationIsAcked(t *testing.T) {
	h := newHarness(t)
	h.sender.hash = ""
	h.sender.err = transfer.ErrUnsupportedCombination

	require.NoError(t, h.svc.Handle(context.Background(), queued(t, usdcJob())))
	assert.Empty(t, h.notifier.alerts)
	assert.Empty(t, h.reporter.reports)
}

func TestHandle_InvalidJobsAreDropped(t *testing.T) {
	h := newHarness(t)
	bad := usdcJob()
	bad.Amount = "-5"
	require.NoError(t, h.svc.Handle(context.Background(), queued(t, bad)))

	unknownToken := usdcJob()
	unknownToken.Token = "0xdead"
	require.NoError(t, h.svc.Handle(context.Background(), queued(t, unknownToken)))

	require.NoError(t, h.svc.Handle(context.Background(), redis.Job{Key: "x", Payload: []byte("{")}))
	assert.Empty(t, h.sender.reqs)
}

func TestSubmit_OnePayoutPerTrade(t *testing.T) {
	h := newHarness(t)
	job := Job{TradeID: "trade-9", NetworkID: "bitcoin", ToAddress: "bc1qrecipient", Amount: "150000"}

	require.NoError(t, h.svc.Submit(context.Background(), job))
	err := h.svc.Submit(context.Background(), job)
	assert.ErrorIs(t, err, redis.ErrDuplicateJob)
	assert.Equal(t, 1, h.queue.Len(Queue))
}

func TestSubmit_Validation(t *testing.T) {
	h := newHarness(t)
	cases := map[string]Job{
		"missing trade":  {NetworkID: "bitcoin", ToAddress: "bc1q", Amount: "1"},
		"bad trade type": {TradeID: "t", TradeType: "FUTURES", NetworkID: "bitcoin", ToAddress: "bc1q", Amount: "1"},
		"zero amount":    {TradeID: "t", NetworkID: "bitcoin", ToAddress: "bc1q", Amount: "0"},
		"unknown token":  {TradeID: "t", NetworkID: "bitcoin", ToAddress: "bc1q", Amount: "1", Token: "0xabc"},
	}
	for name, job := range cases {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, h.svc.Submit(context.Background(), job), ErrInvalidJob)
		})
	}
}

func TestRun_ProcessesQueuedPayout(t *testing.T) {
	h := newHarness(t)
	job := Job{TradeID: "trade-2", NetworkID: "bitcoin", ToAddress: "bc1qrecipient", Amount: "150000"}
	require.NoError(t, h.svc.Submit(context.Background(), job))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = h.svc.Run(ctx) }()

	assert.Eventually(t, func() bool {
		return h.queue.State(Queue, job.Key()) == "completed"
	}, 2*time.Second, 10*time.Millisecond)

	h.reporter.mu.Lock()
	defer h.reporter.mu.Unlock()
	assert.Equal(t, []report{{"trade-2", "0xpaid", ""}}, h.reporter.reports)
}
