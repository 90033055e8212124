package rebalance

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Phathdt/pmm-sub001/internal/domain/model"
	"github.com/Phathdt/pmm-sub001/internal/metrics"
	"github.com/Phathdt/pmm-sub001/internal/scheduler"
	"github.com/Phathdt/pmm-sub001/internal/store"
)

const stageRetry = "retry"

// retryStatuses are the non-terminal statuses a record can be left in when a
// stage gives up or the process dies mid-swap.
var retryStatuses = []model.RebalancingStatus{
	model.RebalancingStatusFailed,
	model.RebalancingStatusMempoolVerified,
	model.RebalancingStatusQuoteRequested,
	model.RebalancingStatusQuoteAccepted,
}

// RetryScheduler returns failed records to PENDING while their retry window
// is open and marks them STUCK once it closes.
type RetryScheduler struct {
	lifecycle
	cfg    Config
	logger *slog.Logger
}

func NewRetryScheduler(repo store.RebalancingRepository, notifier Notifier, cfg Config, logger *slog.Logger) *RetryScheduler {
	cfg = cfg.withDefaults()
	logger = logger.With("component", "rebalance_retry")
	return &RetryScheduler{
		lifecycle: lifecycle{repo: repo, notifier: notifier, maxRetry: cfg.MaxRetryDuration, now: time.Now, logger: logger},
		cfg:       cfg,
		logger:    logger,
	}
}

func (s *RetryScheduler) Run(ctx context.Context) error {
	return scheduler.New("rebalance_retry", s.cfg.RetryInterval, s.logger).Run(ctx, s.Tick)
}

func (s *RetryScheduler) Tick(ctx context.Context) error {
	if !s.cfg.Enabled {
		s.logger.Debug("rebalancing disabled, skipping tick")
		return nil
	}
	records, err := s.repo.FindByStatus(ctx, retryStatuses...)
	if err != nil {
		return fmt.Errorf("find retryable rebalancings: %w", err)
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
			outcome, err = s.Retry(recordCtx, rec)
			return err
		})
		if err != nil {
			outcome = outcomeError
			recordLogger(s.logger, rec).Error("retry handling failed", "status", rec.Status, "error", err)
		}
		metrics.RebalancingRecordsProcessed.WithLabelValues(stageRetry, outcome).Inc()
	}
	return nil
}

// Retry applies the retry rules to one record and reports what it did.
func (s *RetryScheduler) Retry(ctx context.Context, rec *model.Rebalancing) (string, error) {
	log := recordLogger(s.logger, rec)

	if elapsed, expired := s.expired(rec); expired {
		if err := s.markStuck(ctx, rec, stageRetry, elapsed); err != nil {
			return "", err
		}
		return outcomeStuck, nil
	}

	switch rec.Status {
	case model.RebalancingStatusFailed:
		if err := s.requeue(ctx, rec); err != nil {
			return "", err
		}
		log.Info("rebalancing scheduled for retry", "retry_count", rec.RetryCount, "last_error", derefOr(rec.Error, ""))
		return "requeued", nil

	case model.RebalancingStatusMempoolVerified, model.RebalancingStatusQuoteRequested:
		idle := s.now().Sub(rec.UpdatedAt)
		if idle < s.cfg.StallTimeout {
			return "in_progress", nil
		}
		reason := fmt.Sprintf("stalled in %s for %s", rec.Status, idle.Truncate(time.Second))
		if err := s.fail(ctx, rec, reason, model.RebalancingPatch{}); err != nil {
			return "", err
		}
		log.Warn("stalled rebalancing failed", "idle", idle.String())
		return "stalled", nil

	case model.RebalancingStatusQuoteAccepted:
		// A deposit may already be on its way to the venue.
		if s.now().Sub(rec.UpdatedAt) >= s.cfg.StallTimeout {
			log.Warn("rebalancing waiting on deposit, manual review may be needed",
				"deposit_address", derefOr(rec.DepositAddress, ""),
				"updated_at", rec.UpdatedAt,
			)
		}
		return "awaiting_deposit", nil
	}
	return "skipped", nil
}
