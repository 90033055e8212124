package rebalance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/Phathdt/pmm-sub001/internal/domain/model"
	"github.com/Phathdt/pmm-sub001/internal/metrics"
	"github.com/Phathdt/pmm-sub001/internal/retry"
	"github.com/Phathdt/pmm-sub001/internal/scheduler"
	"github.com/Phathdt/pmm-sub001/internal/store"
	"github.com/Phathdt/pmm-sub001/internal/store/redis"
	"github.com/Phathdt/pmm-sub001/internal/tracing"
	"go.opentelemetry.io/otel/attribute"
)

const stageVerify = "verify"

// Verification outcomes, also used as metric labels.
const (
	outcomeStuck           = "stuck"
	outcomeMissingTxID     = "missing_tx_id"
	outcomeNotFound        = "tx_not_found"
	outcomeUnconfirmed     = "unconfirmed"
	outcomeExtractFailed   = "extraction_failed"
	outcomeEnqueued        = "enqueued"
	outcomeAlreadyVerified = "already_verified"
	outcomeTransient       = "transient"
	outcomeError           = "error"
)

// PendingVerificationScheduler verifies the BTC settlement transaction of
// every PENDING record and hands verified records to the swap processor.
type PendingVerificationScheduler struct {
	lifecycle
	txs    TxFetcher
	queue  redis.JobQueue
	cfg    Config
	logger *slog.Logger
}

func NewPendingVerificationScheduler(
	repo store.RebalancingRepository,
	txs TxFetcher,
	queue redis.JobQueue,
	notifier Notifier,
	cfg Config,
	logger *slog.Logger,
) *PendingVerificationScheduler {
	cfg = cfg.withDefaults()
	logger = logger.With("component", "pending_verification")
	return &PendingVerificationScheduler{
		lifecycle: lifecycle{repo: repo, notifier: notifier, maxRetry: cfg.MaxRetryDuration, now: time.Now, logger: logger},
		txs:       txs,
		queue:     queue,
		cfg:       cfg,
		logger:    logger,
	}
}

func (s *PendingVerificationScheduler) Run(ctx context.Context) error {
	return scheduler.New("pending_verification", s.cfg.PendingInterval, s.logger).Run(ctx, s.Tick)
}

// Tick processes all PENDING records oldest first. Per-record failures are
// logged and never end the tick early.
func (s *PendingVerificationScheduler) Tick(ctx context.Context) error {
	if !s.cfg.Enabled {
		s.logger.Debug("rebalancing disabled, skipping tick")
		return nil
	}
	records, err := s.repo.FindPending(ctx)
	if err != nil {
		return fmt.Errorf("find pending rebalancings: %w", err)
	}
	if len(records) == 0 {
		return nil
	}
	s.logger.Info("verifying pending rebalancings", "count", len(records))

	for i := range records {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.processRecord(ctx, &records[i])
	}
	return nil
}

func (s *PendingVerificationScheduler) processRecord(ctx context.Context, rec *model.Rebalancing) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.RecordTimeout)
	defer cancel()
	ctx, span := tracing.StartSpan(ctx, "rebalance.verify",
		attribute.String("rebalancing_id", rec.RebalancingID),
		attribute.String("trade_hash", rec.TradeHash),
	)

	var outcome string
	err := guard(func() error {
		var err error
		outcome, err = s.Verify(ctx, rec)
		return err
	})
	tracing.End(span, err)

	log := recordLogger(s.logger, rec)
	if err != nil {
		if retry.IsTransient(err) {
			outcome = outcomeTransient
			log.Info("verification deferred", "error", err)
		} else {
			outcome = outcomeError
			log.Error("verification failed", "error", err)
		}
	}
	metrics.RebalancingRecordsProcessed.WithLabelValues(stageVerify, outcome).Inc()
}

// Verify runs the verification steps for one record and reports the
// outcome. It is idempotent: a record whose real amount is already set is
// only re-enqueued, never re-extracted.
func (s *PendingVerificationScheduler) Verify(ctx context.Context, rec *model.Rebalancing) (string, error) {
	log := recordLogger(s.logger, rec)

	if elapsed, expired := s.expired(rec); expired {
		if err := s.markStuck(ctx, rec, stageVerify, elapsed); err != nil {
			return "", err
		}
		return outcomeStuck, nil
	}

	if rec.TxID == nil || *rec.TxID == "" {
		log.Warn("rebalancing has no settlement tx id, cannot verify")
		return outcomeMissingTxID, nil
	}

	if rec.RealAmount != nil {
		log.Debug("real amount already set, re-enqueueing", "real_amount", *rec.RealAmount)
		if rec.Status == model.RebalancingStatusPending {
			if err := s.transition(ctx, rec, model.RebalancingStatusMempoolVerified, model.RebalancingPatch{}); err != nil {
				return "", err
			}
		}
		if err := s.enqueue(ctx, rec); err != nil {
			return "", err
		}
		return outcomeEnqueued, nil
	}

	tx, err := s.txs.GetTransaction(ctx, *rec.TxID)
	if err != nil {
		return "", fmt.Errorf("fetch settlement tx %s: %w", *rec.TxID, err)
	}
	if tx == nil {
		log.Debug("settlement tx not visible yet", "tx_id", *rec.TxID)
		return outcomeNotFound, nil
	}
	if !tx.Status.Confirmed && !s.cfg.SkipConfirmation {
		log.Debug("settlement tx not confirmed yet", "tx_id", *rec.TxID)
		return outcomeUnconfirmed, nil
	}

	realAmount, ok := ExtractRealAmount(tx.Vout, rec.VaultAddress)
	if !ok {
		log.Warn("could not extract real amount from settlement tx",
			"tx_id", *rec.TxID,
			"expected_amount", rec.Amount,
			"vault_address", derefOr(rec.VaultAddress, ""),
			"outputs", len(tx.Vout),
		)
		return outcomeExtractFailed, nil
	}
	if expected, ok := new(big.Int).SetString(rec.Amount, 10); !ok || expected.Cmp(realAmount) != 0 {
		log.Warn("real amount differs from expected amount",
			"tx_id", *rec.TxID,
			"expected_amount", rec.Amount,
			"real_amount", realAmount.String(),
			"vault_address", derefOr(rec.VaultAddress, ""),
		)
	}

	if err := s.repo.MarkVerified(ctx, rec.ID, realAmount.String()); err != nil {
		if errors.Is(err, store.ErrRealAmountAlreadySet) {
			log.Warn("real amount was set concurrently, leaving record to the next tick")
			return outcomeAlreadyVerified, nil
		}
		return "", err
	}
	amount := realAmount.String()
	rec.RealAmount = &amount
	rec.MempoolVerified = true
	rec.Status = model.RebalancingStatusMempoolVerified
	metrics.RebalancingTransitionsTotal.WithLabelValues(rec.Status.String()).Inc()
	log.Info("settlement tx verified", "tx_id", *rec.TxID, "real_amount", amount)

	if err := s.enqueue(ctx, rec); err != nil {
		return "", err
	}
	return outcomeEnqueued, nil
}

func (s *PendingVerificationScheduler) enqueue(ctx context.Context, rec *model.Rebalancing) error {
	job := QuoteJob{
		ID:            rec.ID,
		RebalancingID: rec.RebalancingID,
		TradeHash:     rec.TradeHash,
		Amount:        rec.Amount,
		RealAmount:    derefOr(rec.RealAmount, ""),
		TxID:          derefOr(rec.TxID, ""),
	}
	key := QuoteJobKey(rec.RebalancingID, rec.RetryCount)

	err := s.queue.Enqueue(ctx, QuoteQueue, key, job, redis.EnqueueOptions{Retention: s.cfg.JobRetention})
	switch {
	case errors.Is(err, redis.ErrDuplicateJob):
		metrics.QueueEnqueueTotal.WithLabelValues(QuoteQueue, "duplicate").Inc()
		recordLogger(s.logger, rec).Debug("quote job already enqueued", "job_key", key)
		return nil
	case err != nil:
		metrics.QueueEnqueueTotal.WithLabelValues(QuoteQueue, "error").Inc()
		return fmt.Errorf("enqueue quote job %s: %w", key, err)
	}
	metrics.QueueEnqueueTotal.WithLabelValues(QuoteQueue, "ok").Inc()
	recordLogger(s.logger, rec).Info("quote job enqueued", "job_key", key)
	return nil
}

func derefOr(p *string, fallback string) string {
	if p == nil {
		return fallback
	}
	return *p
}
