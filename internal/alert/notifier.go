package alert

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"
)

const defaultNotifyTimeout = 10 * time.Second

// Notifier delivers alerts in the background. Notify never blocks on the
// network and never returns an error; delivery failures are only logged.
type Notifier struct {
	alerter Alerter
	timeout time.Duration
	logger  *slog.Logger
	wg      sync.WaitGroup
}

func NewNotifier(alerter Alerter, logger *slog.Logger) *Notifier {
	if alerter == nil {
		alerter = &NoopAlerter{}
	}
	return &Notifier{
		alerter: alerter,
		timeout: defaultNotifyTimeout,
		logger:  logger.With("component", "notifier"),
	}
}

// Notify sends a in its own goroutine, detached from ctx cancellation.
func (n *Notifier) Notify(ctx context.Context, a Alert) {
	sendCtx := context.WithoutCancel(ctx)
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				n.logger.Error("alert delivery panicked", "type", a.Type, "panic", r)
			}
		}()
		ctx, cancel := context.WithTimeout(sendCtx, n.timeout)
		defer cancel()
		if err := n.alerter.Send(ctx, a); err != nil {
			n.logger.Warn("alert delivery failed", "type", a.Type, "subject", a.Subject, "error", err)
		}
	}()
}

// Wait blocks until in-flight deliveries finish. Used on shutdown and in tests.
func (n *Notifier) Wait() {
	n.wg.Wait()
}

// StuckAlert reports a rebalancing that exhausted its retry window.
func StuckAlert(rebalancingID, tradeID string, elapsedHours, maxHours float64, lastError string) Alert {
	if lastError == "" {
		lastError = "none"
	}
	return Alert{
		Type:    AlertTypeStuck,
		Subject: rebalancingID,
		Title:   "Rebalancing stuck",
		Message: fmt.Sprintf("No completion after %.1fh (max %.0fh)", elapsedHours, maxHours),
		Fields: map[string]string{
			"rebalancing_id": rebalancingID,
			"trade_id":       tradeID,
			"elapsed_hours":  strconv.FormatFloat(elapsedHours, 'f', 1, 64),
			"max_hours":      strconv.FormatFloat(maxHours, 'f', 0, 64),
			"last_error":     lastError,
		},
	}
}

// SlippageAlert reports a quote above the warning level; exceeded selects
// the rejection variant.
func SlippageAlert(rebalancingID string, slippageBps, thresholdBps int64, expectedUsd, quotedUsd string, exceeded bool) Alert {
	a := Alert{
		Type:    AlertTypeSlippageHigh,
		Subject: rebalancingID,
		Title:   "High swap slippage",
		Message: fmt.Sprintf("Quote slippage %d bps (threshold %d bps)", slippageBps, thresholdBps),
		Fields: map[string]string{
			"rebalancing_id": rebalancingID,
			"slippage_bps":   strconv.FormatInt(slippageBps, 10),
			"threshold_bps":  strconv.FormatInt(thresholdBps, 10),
			"expected_usd":   expectedUsd,
			"quoted_usd":     quotedUsd,
		},
	}
	if exceeded {
		a.Type = AlertTypeSlippageExceeded
		a.Title = "Swap quote rejected: slippage exceeded"
	}
	return a
}

// TransferFailedAlert reports an outbound payment that did not go through.
func TransferFailedAlert(tradeID, networkID, toAddress, amount string, err error) Alert {
	return Alert{
		Type:    AlertTypeTransferFailed,
		Subject: tradeID,
		Title:   "Transfer failed",
		Message: err.Error(),
		Fields: map[string]string{
			"trade_id":   tradeID,
			"network_id": networkID,
			"to_address": toAddress,
			"amount":     amount,
		},
	}
}

// SwapFailedAlert reports a venue swap that ended refunded or failed.
func SwapFailedAlert(rebalancingID, depositAddress, venueStatus string) Alert {
	return Alert{
		Type:    AlertTypeSwapFailed,
		Subject: rebalancingID,
		Title:   "Swap did not complete",
		Message: fmt.Sprintf("Venue reported %s", venueStatus),
		Fields: map[string]string{
			"rebalancing_id":  rebalancingID,
			"deposit_address": depositAddress,
			"venue_status":    venueStatus,
		},
	}
}

// DepositUnknownAlert reports a venue deposit whose broadcast outcome is
// unknown. txHash is empty when no transaction was signed.
func DepositUnknownAlert(rebalancingID, depositAddress, txHash string, err error) Alert {
	return Alert{
		Type:    AlertTypeDepositUnknown,
		Subject: rebalancingID,
		Title:   "Deposit outcome unknown, manual review required",
		Message: err.Error(),
		Fields: map[string]string{
			"rebalancing_id":  rebalancingID,
			"deposit_address": depositAddress,
			"tx_hash":         txHash,
		},
	}
}
