package rebalance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/Phathdt/pmm-sub001/internal/domain/model"
	"github.com/Phathdt/pmm-sub001/internal/metrics"
	"github.com/Phathdt/pmm-sub001/internal/router"
	"github.com/Phathdt/pmm-sub001/internal/scheduler"
	"github.com/Phathdt/pmm-sub001/internal/store"
	"github.com/google/uuid"
)

const stageMonitor = "monitor"

// TradeSource lists BTC-paid trades and their settlement status.
// *router.Client implements it.
type TradeSource interface {
	ListSettledTrades(ctx context.Context) ([]model.SettledTrade, error)
	GetTradeStatus(ctx context.Context, tradeID string) (*router.TradeStatus, error)
}

// SettlementMonitorScheduler opens a PENDING rebalancing for every trade that
// completed on-chain and has no record yet.
type SettlementMonitorScheduler struct {
	repo   store.RebalancingRepository
	trades TradeSource
	cfg    Config
	now    func() time.Time
	newID  func() string
	logger *slog.Logger
}

func NewSettlementMonitorScheduler(repo store.RebalancingRepository, trades TradeSource, cfg Config, logger *slog.Logger) *SettlementMonitorScheduler {
	return &SettlementMonitorScheduler{
		repo:   repo,
		trades: trades,
		cfg:    cfg.withDefaults(),
		now:    time.Now,
		newID:  NewRebalancingID,
		logger: logger.With("component", "settlement_monitor"),
	}
}

// NewRebalancingID returns 32 lowercase hex characters.
func NewRebalancingID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}

func (s *SettlementMonitorScheduler) Run(ctx context.Context) error {
	return scheduler.New("settlement_monitor", s.cfg.MonitorInterval, s.logger).Run(ctx, s.Tick)
}

func (s *SettlementMonitorScheduler) Tick(ctx context.Context) error {
	if !s.cfg.Enabled {
		s.logger.Debug("rebalancing disabled, skipping tick")
		return nil
	}
	trades, err := s.trades.ListSettledTrades(ctx)
	if err != nil {
		return fmt.Errorf("list settled trades: %w", err)
	}

	created := 0
	for i := range trades {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		trade := &trades[i]
		var outcome string
		err := guard(func() error {
			recordCtx, cancel := context.WithTimeout(ctx, s.cfg.RecordTimeout)
			defer cancel()
			var err error
			outcome, err = s.processTrade(recordCtx, trade)
			return err
		})
		if err != nil {
			outcome = outcomeError
			s.logger.Error("settlement check failed", "trade_id", trade.TradeID, "trade_hash", trade.TradeHash, "error", err)
		}
		if outcome == "created" {
			created++
		}
		metrics.RebalancingRecordsProcessed.WithLabelValues(stageMonitor, outcome).Inc()
	}
	if created > 0 {
		s.logger.Info("rebalancings opened", "created", created, "candidates", len(trades))
	}
	return nil
}

func (s *SettlementMonitorScheduler) processTrade(ctx context.Context, trade *model.SettledTrade) (string, error) {
	log := s.logger.With("trade_id", trade.TradeID, "trade_hash", trade.TradeHash)

	if strings.TrimSpace(trade.TradeHash) == "" {
		log.Warn("settled trade without trade hash")
		return "invalid", nil
	}
	if amount, ok := new(big.Int).SetString(trade.Amount, 10); !ok || amount.Sign() <= 0 {
		log.Warn("settled trade has invalid amount", "amount", trade.Amount)
		return "invalid", nil
	}

	exists, err := s.repo.ExistsByTradeHash(ctx, trade.TradeHash)
	if err != nil {
		return "", err
	}
	if exists {
		return "exists", nil
	}

	status, err := s.trades.GetTradeStatus(ctx, trade.TradeID)
	if err != nil {
		return "", err
	}
	if !status.IsCompleted() {
		log.Debug("trade not completed yet", "status", status.Status)
		return "not_completed", nil
	}

	completedAt := s.now()
	switch {
	case status.CompletedAt != nil:
		completedAt = *status.CompletedAt
	case trade.CompletedAt != nil:
		completedAt = *trade.CompletedAt
	}

	tradeID := trade.TradeID
	rec := &model.Rebalancing{
		RebalancingID:    s.newID(),
		TradeHash:        trade.TradeHash,
		TradeID:          &tradeID,
		Amount:           trade.Amount,
		TxID:             optional(trade.SettlementTxID),
		VaultAddress:     optional(trade.VaultAddress),
		Status:           model.RebalancingStatusPending,
		TradeCompletedAt: completedAt.UTC(),
	}
	if err := s.repo.Create(ctx, rec); err != nil {
		if errors.Is(err, store.ErrDuplicateTradeHash) {
			log.Debug("rebalancing created concurrently")
			return "exists", nil
		}
		return "", err
	}
	metrics.RebalancingCreatedTotal.Inc()
	log.Info("rebalancing opened", "rebalancing_id", rec.RebalancingID, "amount", rec.Amount, "tx_id", trade.SettlementTxID)
	return "created", nil
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
