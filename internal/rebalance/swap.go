package rebalance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/Phathdt/pmm-sub001/internal/alert"
	"github.com/Phathdt/pmm-sub001/internal/domain/model"
	"github.com/Phathdt/pmm-sub001/internal/metrics"
	"github.com/Phathdt/pmm-sub001/internal/retry"
	"github.com/Phathdt/pmm-sub001/internal/store"
	"github.com/Phathdt/pmm-sub001/internal/store/redis"
	"github.com/Phathdt/pmm-sub001/internal/swapquote"
	"github.com/Phathdt/pmm-sub001/internal/tracing"
	"github.com/Phathdt/pmm-sub001/internal/transfer"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
)

const (
	stageSwap   = "swap"
	btcDecimals = 8
)

// QuoteVenue quotes and tracks BTC to USDC swaps. *swapquote.Client implements it.
type QuoteVenue interface {
	RequestQuote(ctx context.Context, amountSats *big.Int) (*swapquote.Quote, error)
	SubmitDeposit(ctx context.Context, txHash, depositAddress string) error
}

// PriceOracle returns the spot BTC/USD price. *pricefeed.Oracle implements it.
type PriceOracle interface {
	BTCPrice(ctx context.Context) (decimal.Decimal, error)
}

// DepositSender pays the venue deposit address. *transfer.Dispatcher implements it.
type DepositSender interface {
	Transfer(ctx context.Context, tradeType model.TradeType, req transfer.Request) (string, error)
}

// SwapProcessor consumes quote jobs: it quotes the verified BTC amount,
// checks slippage against spot and sends the BTC deposit.
type SwapProcessor struct {
	lifecycle
	queue    redis.JobQueue
	venue    QuoteVenue
	oracle   PriceOracle
	deposits DepositSender
	guard    SlippageGuard
	cfg      Config
	logger   *slog.Logger
}

func NewSwapProcessor(
	repo store.RebalancingRepository,
	queue redis.JobQueue,
	venue QuoteVenue,
	oracle PriceOracle,
	deposits DepositSender,
	notifier Notifier,
	cfg Config,
	logger *slog.Logger,
) *SwapProcessor {
	cfg = cfg.withDefaults()
	logger = logger.With("component", "swap_processor")
	return &SwapProcessor{
		lifecycle: lifecycle{repo: repo, notifier: notifier, maxRetry: cfg.MaxRetryDuration, now: time.Now, logger: logger},
		queue:     queue,
		venue:     venue,
		oracle:    oracle,
		deposits:  deposits,
		guard:     SlippageGuard{ThresholdBps: cfg.SlippageThresholdBps, HighWarningBps: cfg.SlippageHighWarningBps},
		cfg:       cfg,
		logger:    logger,
	}
}

// Run consumes QuoteQueue until ctx is done.
func (p *SwapProcessor) Run(ctx context.Context) error {
	return p.queue.Consume(ctx, QuoteQueue, p.Handle)
}

// Handle processes one quote job. Transient failures leave the status
// unchanged for the retry scheduler; terminal ones move the record to FAILED.
func (p *SwapProcessor) Handle(ctx context.Context, job redis.Job) error {
	var payload QuoteJob
	if err := job.Decode(&payload); err != nil {
		metrics.RebalancingRecordsProcessed.WithLabelValues(stageSwap, "invalid_job").Inc()
		return err
	}
	if !p.cfg.Enabled {
		p.logger.Info("rebalancing disabled, dropping quote job", "job_key", job.Key)
		return nil
	}

	rec, err := p.repo.FindByID(ctx, payload.ID)
	if err != nil {
		return fmt.Errorf("load rebalancing %d: %w", payload.ID, err)
	}
	if rec == nil {
		p.logger.Warn("quote job for unknown rebalancing", "id", payload.ID, "rebalancing_id", payload.RebalancingID)
		metrics.RebalancingRecordsProcessed.WithLabelValues(stageSwap, "not_found").Inc()
		return nil
	}

	ctx, span := tracing.StartSpan(ctx, "rebalance.swap",
		attribute.String("rebalancing_id", rec.RebalancingID),
		attribute.String("trade_hash", rec.TradeHash),
	)
	var outcome string
	err = guard(func() error {
		var err error
		outcome, err = p.Process(ctx, rec)
		return err
	})
	tracing.End(span, err)

	if err == nil {
		metrics.RebalancingRecordsProcessed.WithLabelValues(stageSwap, outcome).Inc()
		return nil
	}

	log := recordLogger(p.logger, rec)
	if retry.IsTransient(err) || errors.Is(err, ErrIllegalTransition) {
		metrics.RebalancingRecordsProcessed.WithLabelValues(stageSwap, outcomeTransient).Inc()
		log.Warn("swap attempt deferred", "status", rec.Status, "error", err)
		return err
	}
	metrics.RebalancingRecordsProcessed.WithLabelValues(stageSwap, outcomeError).Inc()
	log.Error("swap attempt failed", "status", rec.Status, "error", err)
	if model.CanTransition(rec.Status, model.RebalancingStatusFailed) {
		if ferr := p.fail(ctx, rec, err.Error(), model.RebalancingPatch{}); ferr != nil {
			log.Error("could not record swap failure", "error", ferr)
		}
	}
	return err
}

// Process drives one record from MEMPOOL_VERIFIED to DEPOSIT_SUBMITTED.
func (p *SwapProcessor) Process(ctx context.Context, rec *model.Rebalancing) (string, error) {
	log := recordLogger(p.logger, rec)

	switch rec.Status {
	case model.RebalancingStatusMempoolVerified, model.RebalancingStatusQuoteRequested:
	default:
		log.Info("skipping quote job, record already moved on", "status", rec.Status)
		return "skipped", nil
	}

	if elapsed, expired := p.expired(rec); expired {
		if err := p.markStuck(ctx, rec, stageSwap, elapsed); err != nil {
			return "", err
		}
		return outcomeStuck, nil
	}

	sats, err := swapAmount(rec)
	if err != nil {
		return "", retry.Terminal(err)
	}

	if rec.Status == model.RebalancingStatusMempoolVerified {
		if err := p.transition(ctx, rec, model.RebalancingStatusQuoteRequested, model.RebalancingPatch{}); err != nil {
			return "", err
		}
	}

	quote, err := p.venue.RequestQuote(ctx, sats)
	if err != nil {
		return "", fmt.Errorf("request quote: %w", err)
	}
	spot, err := p.oracle.BTCPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("oracle price: %w", err)
	}
	spotFloat, _ := spot.Float64()

	result, err := p.guard.Check(sats, quote.AmountOut, spotFloat)
	if err != nil {
		return "", retry.Terminal(err)
	}
	metrics.SlippageBps.Observe(float64(result.SlippageBps))

	patch := model.RebalancingPatch{
		OraclePrice:  model.StringPtr(spot.String()),
		QuotePrice:   model.StringPtr(impliedPrice(sats, quote.AmountOut)),
		SlippageBps:  &result.SlippageBps,
		ExpectedUsdc: model.StringPtr(result.ExpectedUsdMicros.String()),
	}
	log = log.With("slippage_bps", result.SlippageBps, "expected_usd", result.ExpectedUsd, "quoted_usd", result.QuotedUsd)

	if !result.Acceptable {
		reason := fmt.Sprintf("slippage %d bps exceeds threshold %d bps (expected $%s, quoted $%s)",
			result.SlippageBps, p.guard.ThresholdBps, result.ExpectedUsd, result.QuotedUsd)
		if err := p.fail(ctx, rec, reason, patch); err != nil {
			return "", err
		}
		log.Warn("quote rejected on slippage")
		p.notifier.Notify(ctx, alert.SlippageAlert(rec.RebalancingID, result.SlippageBps, p.guard.ThresholdBps, result.ExpectedUsd, result.QuotedUsd, true))
		return "slippage_exceeded", nil
	}
	if result.HighWarning {
		log.Warn("quote slippage above warning level")
		p.notifier.Notify(ctx, alert.SlippageAlert(rec.RebalancingID, result.SlippageBps, p.guard.HighWarningBps, result.ExpectedUsd, result.QuotedUsd, false))
	}

	patch.QuoteID = model.StringPtr(quote.QuoteID)
	patch.DepositAddress = model.StringPtr(quote.DepositAddress)
	if err := p.transition(ctx, rec, model.RebalancingStatusQuoteAccepted, patch); err != nil {
		return "", err
	}
	rec.QuoteID = patch.QuoteID
	rec.DepositAddress = patch.DepositAddress
	log.Info("quote accepted", "quote_id", quote.QuoteID, "deposit_address", quote.DepositAddress)

	txHash, err := p.deposits.Transfer(ctx, model.TradeTypeSwap, transfer.Request{
		ToAddress: quote.DepositAddress,
		Amount:    sats,
		Token: model.Token{
			NetworkID: p.cfg.DepositNetworkID,
			Address:   model.NativeTokenAddress,
			Symbol:    "BTC",
			Decimals:  btcDecimals,
		},
		TradeID: rec.TradeIDOrEmpty(),
	})
	if err != nil {
		decision := retry.Classify(err)
		if txHash == "" && !decision.IsTransient() {
			// Rejected before a transaction was signed.
			return "", retry.Terminal(fmt.Errorf("send deposit to %s: %w", quote.DepositAddress, err))
		}
		return "", p.depositUnknown(ctx, rec, quote.DepositAddress, txHash, decision.Reason, err)
	}

	if err := p.transition(ctx, rec, model.RebalancingStatusDepositSubmitted, model.RebalancingPatch{NearVaultTxID: &txHash}); err != nil {
		log.Error("deposit sent but status not saved", "tx_hash", txHash, "error", err)
		p.notifier.Notify(ctx, alert.DepositUnknownAlert(rec.RebalancingID, quote.DepositAddress, txHash, err))
		return "", retry.Transient(err)
	}
	rec.NearVaultTxID = &txHash

	if err := p.venue.SubmitDeposit(ctx, txHash, quote.DepositAddress); err != nil {
		log.Warn("deposit notification to venue failed, venue will detect it on-chain", "tx_hash", txHash, "error", err)
	}
	log.Info("deposit submitted", "tx_hash", txHash, "amount_sats", sats.String())
	return "deposit_submitted", nil
}

// depositUnknown handles a deposit send that may have reached the network.
// The record stays in QUOTE_ACCEPTED, which the retry scheduler never
// requeues, so no second deposit goes out before an operator looks at it.
func (p *SwapProcessor) depositUnknown(ctx context.Context, rec *model.Rebalancing, depositAddress, txHash, reason string, cause error) error {
	log := recordLogger(p.logger, rec)
	msg := fmt.Sprintf("deposit outcome unknown (%s): %v", reason, cause)
	patch := model.RebalancingPatch{Error: &msg}
	if txHash != "" {
		patch.NearVaultTxID = &txHash
	}
	if err := p.annotate(context.WithoutCancel(ctx), rec, patch); err != nil {
		log.Error("could not record unknown deposit", "tx_hash", txHash, "error", err)
	} else if txHash != "" {
		rec.NearVaultTxID = &txHash
	}
	log.Error("deposit outcome unknown, manual review required",
		"deposit_address", depositAddress,
		"tx_hash", txHash,
		"reason", reason,
		"error", cause,
	)
	p.notifier.Notify(ctx, alert.DepositUnknownAlert(rec.RebalancingID, depositAddress, txHash, cause))
	return retry.Transient(fmt.Errorf("send deposit to %s: %w", depositAddress, cause))
}

// swapAmount prefers the verified on-chain amount over the trade amount.
func swapAmount(rec *model.Rebalancing) (*big.Int, error) {
	raw := rec.Amount
	if rec.RealAmount != nil && *rec.RealAmount != "" {
		raw = *rec.RealAmount
	}
	sats, ok := new(big.Int).SetString(raw, 10)
	if !ok || sats.Sign() <= 0 {
		return nil, fmt.Errorf("invalid swap amount %q", raw)
	}
	return sats, nil
}

// impliedPrice is the USD per BTC the quote pays.
func impliedPrice(sats, usdMicros *big.Int) string {
	if sats.Sign() == 0 || usdMicros == nil {
		return "0"
	}
	btc := decimal.NewFromBigInt(sats, -btcDecimals)
	usd := decimal.NewFromBigInt(usdMicros, -6)
	return usd.DivRound(btc, 2).StringFixed(2)
}
