package payout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"github.com/Phathdt/pmm-sub001/internal/alert"
	"github.com/Phathdt/pmm-sub001/internal/domain/model"
	"github.com/Phathdt/pmm-sub001/internal/metrics"
	"github.com/Phathdt/pmm-sub001/internal/store/redis"
	"github.com/Phathdt/pmm-sub001/internal/transfer"
)

// Queue carries settlement payouts to the dispatcher.
const Queue = "settlement-transfer"

var ErrInvalidJob = errors.New("invalid payout job")

// Job is one settlement payout. Amount is in the token's base units and
// Token is the token address, or "native".
type Job struct {
	TradeID   string `json:"tradeId"`
	TradeType string `json:"tradeType"`
	NetworkID string `json:"networkId"`
	ToAddress string `json:"toAddress"`
	Amount    string `json:"amount"`
	Token     string `json:"token"`
}

// Key is the idempotency key: one payout per trade.
func (j Job) Key() string {
	return "settlement-transfer-" + j.TradeID
}

func (j Job) tradeType() (model.TradeType, error) {
	switch t := model.TradeType(strings.ToUpper(strings.TrimSpace(j.TradeType))); t {
	case model.TradeTypeSwap, model.TradeTypeLending:
		return t, nil
	case "":
		return model.TradeTypeSwap, nil
	default:
		return "", fmt.Errorf("%w: trade type %q", ErrInvalidJob, j.TradeType)
	}
}

func (j Job) validate() error {
	switch {
	case strings.TrimSpace(j.TradeID) == "":
		return fmt.Errorf("%w: empty trade id", ErrInvalidJob)
	case strings.TrimSpace(j.NetworkID) == "":
		return fmt.Errorf("%w: empty network id", ErrInvalidJob)
	case strings.TrimSpace(j.ToAddress) == "":
		return fmt.Errorf("%w: empty recipient", ErrInvalidJob)
	}
	if _, err := j.amount(); err != nil {
		return err
	}
	_, err := j.tradeType()
	return err
}

func (j Job) tokenAddress() string {
	if t := strings.TrimSpace(j.Token); t != "" {
		return t
	}
	return model.NativeTokenAddress
}

func (j Job) amount() (*big.Int, error) {
	v, ok := new(big.Int).SetString(strings.TrimSpace(j.Amount), 10)
	if !ok || v.Sign() <= 0 {
		return nil, fmt.Errorf("%w: amount %q", ErrInvalidJob, j.Amount)
	}
	return v, nil
}

// Sender executes transfers. *transfer.Dispatcher implements it.
type Sender interface {
	Transfer(ctx context.Context, tradeType model.TradeType, req transfer.Request) (string, error)
}

// Reporter tells the router how a payout ended. *router.Client implements it.
type Reporter interface {
	SubmitSettlementTx(ctx context.Context, tradeID, txHash, failure string) error
}

// TokenResolver resolves token metadata. *config.NetworkRegistry implements it.
type TokenResolver interface {
	Token(networkID, address string) (model.Token, error)
}

type Notifier interface {
	Notify(ctx context.Context, a alert.Alert)
}

// Service submits and executes settlement payouts.
type Service struct {
	queue    redis.JobQueue
	sender   Sender
	reporter Reporter
	tokens   TokenResolver
	notifier Notifier
	logger   *slog.Logger
}

func NewService(queue redis.JobQueue, sender Sender, reporter Reporter, tokens TokenResolver, notifier Notifier, logger *slog.Logger) *Service {
	return &Service{
		queue:    queue,
		sender:   sender,
		reporter: reporter,
		tokens:   tokens,
		notifier: notifier,
		logger:   logger.With("component", "payout"),
	}
}

// Submit validates and enqueues a payout. A second payout for the same trade
// returns redis.ErrDuplicateJob.
func (s *Service) Submit(ctx context.Context, job Job) error {
	if err := job.validate(); err != nil {
		return err
	}
	if _, err := s.tokens.Token(job.NetworkID, job.tokenAddress()); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidJob, err)
	}
	if err := s.queue.Enqueue(ctx, Queue, job.Key(), job, redis.EnqueueOptions{}); err != nil {
		if errors.Is(err, redis.ErrDuplicateJob) {
			metrics.QueueEnqueueTotal.WithLabelValues(Queue, "duplicate").Inc()
		} else {
			metrics.QueueEnqueueTotal.WithLabelValues(Queue, "error").Inc()
		}
		return err
	}
	metrics.QueueEnqueueTotal.WithLabelValues(Queue, "ok").Inc()
	s.logger.Info("payout enqueued", "trade_id", job.TradeID, "network", job.NetworkID, "amount", job.Amount)
	return nil
}

func (s *Service) Run(ctx context.Context) error {
	return s.queue.Consume(ctx, Queue, s.Handle)
}

// Handle executes one payout job. Invalid jobs and unsupported network and
// trade type pairs are acked without retry.
func (s *Service) Handle(ctx context.Context, qj redis.Job) error {
	var job Job
	if err := qj.Decode(&job); err != nil {
		s.logger.Error("dropping undecodable payout job", "job_key", qj.Key, "error", err)
		return nil
	}
	log := s.logger.With("trade_id", job.TradeID, "network", job.NetworkID, "to", job.ToAddress)

	if err := job.validate(); err != nil {
		log.Error("dropping invalid payout job", "error", err)
		return nil
	}
	tradeType, _ := job.tradeType()
	amount, _ := job.amount()
	token, err := s.tokens.Token(job.NetworkID, job.tokenAddress())
	if err != nil {
		log.Error("dropping payout for unknown token", "token", job.Token, "error", err)
		return nil
	}

	txHash, err := s.sender.Transfer(ctx, tradeType, transfer.Request{
		ToAddress: job.ToAddress,
		Amount:    amount,
		Token:     token,
		TradeID:   job.TradeID,
	})
	if err != nil {
		if errors.Is(err, transfer.ErrUnsupportedCombination) {
			log.Error("no transfer strategy for payout, job dropped", "trade_type", tradeType, "error", err)
			return nil
		}
		s.notifier.Notify(ctx, alert.TransferFailedAlert(job.TradeID, job.NetworkID, job.ToAddress, job.Amount, err))
		if txHash != "" {
			if rerr := s.reporter.SubmitSettlementTx(ctx, job.TradeID, txHash, err.Error()); rerr != nil {
				log.Error("reporting failed payout", "tx_hash", txHash, "error", rerr)
			}
		}
		return fmt.Errorf("payout %s: %w", job.TradeID, err)
	}

	if err := s.reporter.SubmitSettlementTx(ctx, job.TradeID, txHash, ""); err != nil {
		log.Error("payout sent but not reported", "tx_hash", txHash, "error", err)
		return err
	}
	log.Info("payout settled", "tx_hash", txHash, "amount", job.Amount)
	return nil
}
