// Package transfer executes outbound payments. A Dispatcher picks one
// Strategy per (network type, trade type) and every strategy returns the
// resulting transaction hash.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/Phathdt/pmm-sub001/internal/domain/model"
	"github.com/Phathdt/pmm-sub001/internal/metrics"
	"github.com/Phathdt/pmm-sub001/internal/tracing"
	"go.opentelemetry.io/otel/attribute"
)

var (
	// ErrUnsupportedCombination means no strategy is registered for the
	// network type and trade type. It is never retried.
	ErrUnsupportedCombination = errors.New("unsupported network and trade type combination")
	// ErrMissingLiquidationFields means the router did not supply the data a
	// liquidation payout must carry.
	ErrMissingLiquidationFields = errors.New("missing liquidation fields")
	ErrInvalidRequest           = errors.New("invalid transfer request")
)

// Request is one payout. Amount is in the token's base units.
type Request struct {
	ToAddress string
	Amount    *big.Int
	Token     model.Token
	TradeID   string

	// Network is filled in by the Dispatcher from Token.NetworkID.
	Network model.Network
}

func (r Request) validate() error {
	if r.ToAddress == "" {
		return fmt.Errorf("%w: empty recipient", ErrInvalidRequest)
	}
	if r.Amount == nil || r.Amount.Sign() <= 0 {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidRequest)
	}
	if r.Token.NetworkID == "" {
		return fmt.Errorf("%w: token has no network", ErrInvalidRequest)
	}
	return nil
}

// Strategy executes a payout on one kind of network.
type Strategy interface {
	Transfer(ctx context.Context, req Request) (string, error)
}

// NetworkResolver looks up static network configuration.
type NetworkResolver interface {
	Network(id string) (model.Network, error)
}

type strategyKey struct {
	network model.NetworkType
	trade   model.TradeType
}

type Dispatcher struct {
	networks NetworkResolver
	logger   *slog.Logger

	mu         sync.RWMutex
	strategies map[strategyKey]Strategy
}

func NewDispatcher(networks NetworkResolver, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		networks:   networks,
		logger:     logger.With("component", "transfer_dispatcher"),
		strategies: make(map[strategyKey]Strategy),
	}
}

// Register binds s to the pair, replacing any previous binding.
func (d *Dispatcher) Register(networkType model.NetworkType, tradeType model.TradeType, s Strategy) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.strategies[strategyKey{networkType, tradeType}] = s
}

// Strategy returns the strategy for the pair or ErrUnsupportedCombination.
func (d *Dispatcher) Strategy(networkType model.NetworkType, tradeType model.TradeType) (Strategy, error) {
	d.mu.RLock()
	s, ok := d.strategies[strategyKey{networkType, tradeType}]
	d.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: network_type=%s trade_type=%s", ErrUnsupportedCombination, networkType, tradeType)
	}
	return s, nil
}

// Transfer resolves the token's network and strategy and runs the payout.
// The strategy's hash and error are returned unchanged, so a liquidation
// failure still yields its synthetic hash.
func (d *Dispatcher) Transfer(ctx context.Context, tradeType model.TradeType, req Request) (txHash string, err error) {
	if err := req.validate(); err != nil {
		return "", err
	}
	network, err := d.networks.Network(req.Token.NetworkID)
	if err != nil {
		return "", fmt.Errorf("resolve network %s: %w", req.Token.NetworkID, err)
	}
	strategy, err := d.Strategy(network.Type, tradeType)
	if err != nil {
		metrics.TransfersTotal.WithLabelValues(network.Type.String(), tradeType.String(), "unsupported").Inc()
		return "", err
	}
	req.Network = network

	ctx, span := tracing.StartSpan(ctx, "transfer.execute",
		attribute.String("network", network.ID),
		attribute.String("trade_type", tradeType.String()),
		attribute.String("trade_id", req.TradeID),
	)
	defer func() { tracing.End(span, err) }()

	log := d.logger.With("network", network.ID, "trade_type", tradeType, "trade_id", req.TradeID, "to", req.ToAddress)
	start := time.Now()
	txHash, err = strategy.Transfer(ctx, req)
	metrics.TransferLatency.WithLabelValues(network.Type.String()).Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.TransfersTotal.WithLabelValues(network.Type.String(), tradeType.String(), "error").Inc()
		log.Error("transfer failed", "amount", req.Amount.String(), "tx_hash", txHash, "error", err)
		return txHash, err
	}
	metrics.TransfersTotal.WithLabelValues(network.Type.String(), tradeType.String(), "ok").Inc()
	log.Info("transfer sent", "amount", req.Amount.String(), "tx_hash", txHash)
	return txHash, nil
}
