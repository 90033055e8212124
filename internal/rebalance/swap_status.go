package rebalance

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Phathdt/pmm-sub001/internal/alert"
	"github.com/Phathdt/pmm-sub001/internal/domain/model"
	"github.com/Phathdt/pmm-sub001/internal/metrics"
	"github.com/Phathdt/pmm-sub001/internal/retry"
	"github.com/Phathdt/pmm-sub001/internal/scheduler"
	"github.com/Phathdt/pmm-sub001/internal/store"
	"github.com/Phathdt/pmm-sub001/internal/swapquote"
)

const stageSwapStatus = "swap_status"

// SwapTracker reports venue progress for a deposit address.
// *swapquote.Client implements it.
type SwapTracker interface {
	GetStatus(ctx context.Context, depositAddress string) (*swapquote.Status, error)
}

// MapSwapStatus maps a venue status onto the rebalancing lifecycle. The
// second result is false when the venue status implies no change.
func MapSwapStatus(s swapquote.SwapStatus) (model.RebalancingStatus, bool) {
	switch s {
	case swapquote.StatusKnownDepositTx, swapquote.StatusProcessing:
		return model.RebalancingStatusSwapProcessing, true
	case swapquote.StatusSuccess:
		return model.RebalancingStatusCompleted, true
	case swapquote.StatusRefunded:
		return model.RebalancingStatusRefunded, true
	case swapquote.StatusFailed, swapquote.StatusIncompleteDeposit:
		return model.RebalancingStatusFailed, true
	}
	return "", false
}

// SwapStatusScheduler follows submitted deposits until the venue settles,
// refunds or fails the swap.
type SwapStatusScheduler struct {
	lifecycle
	venue  SwapTracker
	cfg    Config
	logger *slog.Logger
}

func NewSwapStatusScheduler(repo store.RebalancingRepository, venue SwapTracker, notifier Notifier, cfg Config, logger *slog.Logger) *SwapStatusScheduler {
	cfg = cfg.withDefaults()
	logger = logger.With("component", "swap_status")
	return &SwapStatusScheduler{
		lifecycle: lifecycle{repo: repo, notifier: notifier, maxRetry: cfg.MaxRetryDuration, now: time.Now, logger: logger},
		venue:     venue,
		cfg:       cfg,
		logger:    logger,
	}
}

func (s *SwapStatusScheduler) Run(ctx context.Context) error {
	return scheduler.New("swap_status", s.cfg.SwapStatusInterval, s.logger).Run(ctx, s.Tick)
}

func (s *SwapStatusScheduler) Tick(ctx context.Context) error {
	if !s.cfg.Enabled {
		s.logger.Debug("rebalancing disabled, skipping tick")
		return nil
	}
	records, err := s.repo.FindByStatus(ctx, model.RebalancingStatusDepositSubmitted, model.RebalancingStatusSwapProcessing)
	if err != nil {
		return fmt.Errorf("find in-flight swaps: %w", err)
	}

	for i := range records {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		rec := &records[i]
		var outcome string
		err := guard(func() error {
			recordCtx, cancel := context.WithTimeout(ctx, s.cfg.RecordTimeout)
			defer cancel()
			var err error
			outcome, err = s.Check(recordCtx, rec)
			return err
		})
		if err != nil {
			log := recordLogger(s.logger, rec)
			if retry.IsTransient(err) {
				outcome = outcomeTransient
				log.Info("swap status check deferred", "error", err)
			} else {
				outcome = outcomeError
				log.Error("swap status check failed", "error", err)
			}
		}
		metrics.RebalancingRecordsProcessed.WithLabelValues(stageSwapStatus, outcome).Inc()
	}
	return nil
}

// Check polls the venue for one in-flight record and applies the result.
func (s *SwapStatusScheduler) Check(ctx context.Context, rec *model.Rebalancing) (string, error) {
	log := recordLogger(s.logger, rec)

	if elapsed, expired := s.expired(rec); expired {
		if err := s.markStuck(ctx, rec, stageSwapStatus, elapsed); err != nil {
			return "", err
		}
		return outcomeStuck, nil
	}
	if rec.DepositAddress == nil || *rec.DepositAddress == "" {
		log.Warn("in-flight rebalancing has no deposit address", "status", rec.Status)
		return "missing_deposit_address", nil
	}

	status, err := s.venue.GetStatus(ctx, *rec.DepositAddress)
	if err != nil {
		return "", fmt.Errorf("swap status for %s: %w", *rec.DepositAddress, err)
	}
	next, ok := MapSwapStatus(status.Status)
	if !ok || next == rec.Status {
		return "unchanged", nil
	}

	var patch model.RebalancingPatch
	switch next {
	case model.RebalancingStatusSwapProcessing:
		if rec.Status != model.RebalancingStatusDepositSubmitted {
			return "unchanged", nil
		}
	case model.RebalancingStatusCompleted:
		if status.AmountOut != nil {
			patch.ActualUsdc = model.StringPtr(status.AmountOut.String())
		}
		if status.DestinationChainTxHash != "" {
			patch.NearTxID = model.StringPtr(status.DestinationChainTxHash)
		}
		if status.OriginChainTxHash != "" {
			patch.NearDepositID = model.StringPtr(status.OriginChainTxHash)
		}
	case model.RebalancingStatusRefunded, model.RebalancingStatusFailed:
		patch.Error = model.StringPtr(fmt.Sprintf("swap %s at venue", status.Status))
	}

	if err := s.transition(ctx, rec, next, patch); err != nil {
		return "", err
	}
	switch next {
	case model.RebalancingStatusRefunded, model.RebalancingStatusFailed:
		log.Warn("swap did not complete", "venue_status", status.Status)
		s.notifier.Notify(ctx, alert.SwapFailedAlert(rec.RebalancingID, *rec.DepositAddress, string(status.Status)))
	case model.RebalancingStatusCompleted:
		log.Info("swap completed",
			"actual_usdc", derefOr(patch.ActualUsdc, ""),
			"expected_usdc", derefOr(rec.ExpectedUsdc, ""),
			"near_tx_id", derefOr(patch.NearTxID, ""),
		)
	}
	return "status_" + string(status.Status), nil
}
