package rebalance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Phathdt/pmm-sub001/internal/alert"
	"github.com/Phathdt/pmm-sub001/internal/chain/btc/esplora"
	"github.com/Phathdt/pmm-sub001/internal/domain/model"
	"github.com/Phathdt/pmm-sub001/internal/metrics"
	"github.com/Phathdt/pmm-sub001/internal/store"
)

// ErrIllegalTransition is returned when a stage tries a status move the
// lifecycle does not allow.
var ErrIllegalTransition = errors.New("illegal rebalancing status transition")

// TxFetcher returns a Bitcoin transaction, or nil when the provider does not
// know it yet. *esplora.Client implements it.
type TxFetcher interface {
	GetTransaction(ctx context.Context, txid string) (*esplora.Transaction, error)
}

// Notifier delivers alerts without blocking. *alert.Notifier implements it.
type Notifier interface {
	Notify(ctx context.Context, a alert.Alert)
}

// lifecycle writes status changes for every stage so the transition rules,
// the STUCK timeout and their metrics live in one place.
type lifecycle struct {
	repo     store.RebalancingRepository
	notifier Notifier
	maxRetry time.Duration
	now      func() time.Time
	logger   *slog.Logger
}

// expired reports whether the record's retry window, anchored at trade
// completion, has elapsed.
func (l *lifecycle) expired(rec *model.Rebalancing) (time.Duration, bool) {
	elapsed := l.now().Sub(rec.TradeCompletedAt)
	return elapsed, elapsed >= l.maxRetry
}

func (l *lifecycle) transition(ctx context.Context, rec *model.Rebalancing, to model.RebalancingStatus, patch model.RebalancingPatch) error {
	if !model.CanTransition(rec.Status, to) {
		return fmt.Errorf("%w: %s -> %s for %s", ErrIllegalTransition, rec.Status, to, rec.RebalancingID)
	}
	if err := l.repo.UpdateStatus(ctx, rec.ID, rec.Status, to, patch); err != nil {
		if errors.Is(err, store.ErrStatusConflict) {
			return fmt.Errorf("%w: %s -> %s for %s: %w", ErrIllegalTransition, rec.Status, to, rec.RebalancingID, err)
		}
		return err
	}
	metrics.RebalancingTransitionsTotal.WithLabelValues(to.String()).Inc()
	l.logger.Info("rebalancing status changed",
		"rebalancing_id", rec.RebalancingID,
		"trade_hash", rec.TradeHash,
		"from", rec.Status,
		"to", to,
	)
	rec.Status = to
	if patch.Error != nil {
		rec.Error = patch.Error
	}
	return nil
}

// annotate writes patch without changing the status.
func (l *lifecycle) annotate(ctx context.Context, rec *model.Rebalancing, patch model.RebalancingPatch) error {
	if err := l.repo.UpdateStatus(ctx, rec.ID, rec.Status, rec.Status, patch); err != nil {
		if errors.Is(err, store.ErrStatusConflict) {
			return fmt.Errorf("%w: %s for %s: %w", ErrIllegalTransition, rec.Status, rec.RebalancingID, err)
		}
		return err
	}
	if patch.Error != nil {
		rec.Error = patch.Error
	}
	return nil
}

// requeue returns a FAILED record to PENDING and bumps its retry count in a
// single guarded write.
func (l *lifecycle) requeue(ctx context.Context, rec *model.Rebalancing) error {
	count, err := l.repo.Requeue(ctx, rec.ID)
	if err != nil {
		if errors.Is(err, store.ErrStatusConflict) {
			return fmt.Errorf("%w: %s -> %s for %s: %w", ErrIllegalTransition, rec.Status, model.RebalancingStatusPending, rec.RebalancingID, err)
		}
		return fmt.Errorf("requeue: %w", err)
	}
	metrics.RebalancingTransitionsTotal.WithLabelValues(model.RebalancingStatusPending.String()).Inc()
	l.logger.Info("rebalancing status changed",
		"rebalancing_id", rec.RebalancingID,
		"trade_hash", rec.TradeHash,
		"from", rec.Status,
		"to", model.RebalancingStatusPending,
		"retry_count", count,
	)
	rec.Status = model.RebalancingStatusPending
	rec.RetryCount = count
	return nil
}

// markStuck moves the record to STUCK with a readable reason and alerts.
func (l *lifecycle) markStuck(ctx context.Context, rec *model.Rebalancing, stage string, elapsed time.Duration) error {
	lastError := "none"
	if rec.Error != nil && *rec.Error != "" {
		lastError = *rec.Error
	}
	reason := fmt.Sprintf("exceeded max retry duration: %.1fh elapsed since trade completion (max %.1fh); last error: %s",
		elapsed.Hours(), l.maxRetry.Hours(), lastError)

	if err := l.transition(ctx, rec, model.RebalancingStatusStuck, model.RebalancingPatch{Error: &reason}); err != nil {
		return fmt.Errorf("mark stuck: %w", err)
	}
	metrics.RebalancingStuckTotal.WithLabelValues(stage).Inc()
	l.logger.Warn("rebalancing stuck",
		"rebalancing_id", rec.RebalancingID,
		"trade_hash", rec.TradeHash,
		"trade_id", rec.TradeIDOrEmpty(),
		"elapsed_hours", elapsed.Hours(),
		"last_error", lastError,
	)
	l.notifier.Notify(ctx, alert.StuckAlert(rec.RebalancingID, rec.TradeIDOrEmpty(), elapsed.Hours(), l.maxRetry.Hours(), lastError))
	return nil
}

// fail records reason and moves the record to FAILED.
func (l *lifecycle) fail(ctx context.Context, rec *model.Rebalancing, reason string, patch model.RebalancingPatch) error {
	patch.Error = &reason
	return l.transition(ctx, rec, model.RebalancingStatusFailed, patch)
}

// recordLogger scopes a logger to one record.
func recordLogger(logger *slog.Logger, rec *model.Rebalancing) *slog.Logger {
	return logger.With(
		"rebalancing_id", rec.RebalancingID,
		"trade_hash", rec.TradeHash,
		"trade_id", rec.TradeIDOrEmpty(),
	)
}

// guard runs fn for one record and converts a panic into an error so a bad
// record never takes down the tick.
func guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}
