package transfer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/Phathdt/pmm-sub001/internal/chain/evm"
	"github.com/Phathdt/pmm-sub001/internal/nonce"
	"github.com/Phathdt/pmm-sub001/internal/router"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
)

const (
	DefaultReceiptTimeout  = 3 * time.Minute
	DefaultReceiptPoll     = 2 * time.Second
	DefaultPaymentDeadline = 30 * time.Minute
)

// SignerSource hands out nonce-aware signers. *nonce.Sequencer implements it.
type SignerSource interface {
	Get(ctx context.Context, networkID string) (*nonce.Signer, error)
	Reset(networkID string)
}

// ProtocolFeeSource is implemented by *router.Client.
type ProtocolFeeSource interface {
	GetProtocolFee(ctx context.Context, tradeID string) (*router.ProtocolFee, error)
}

// LiquidationSource is implemented by *router.Client.
type LiquidationSource interface {
	GetLiquidation(ctx context.Context, tradeID string) (*router.Liquidation, error)
}

type EVMOptions struct {
	ReceiptTimeout  time.Duration
	ReceiptPoll     time.Duration
	PaymentDeadline time.Duration
}

func (o EVMOptions) withDefaults() EVMOptions {
	if o.ReceiptTimeout <= 0 {
		o.ReceiptTimeout = DefaultReceiptTimeout
	}
	if o.ReceiptPoll <= 0 {
		o.ReceiptPoll = DefaultReceiptPoll
	}
	if o.PaymentDeadline <= 0 {
		o.PaymentDeadline = DefaultPaymentDeadline
	}
	return o
}

// evmSender holds what the payment and liquidation strategies share:
// allowance top-up, send with nonce reset on failure, receipt wait and
// revert decoding.
type evmSender struct {
	signers SignerSource
	opts    EVMOptions
	logger  *slog.Logger
	now     func() time.Time
}

// ensureAllowance makes sure spender may pull amount of token. A non-zero
// but insufficient allowance is revoked first because some tokens reject
// changing one non-zero allowance to another.
func (s *evmSender) ensureAllowance(ctx context.Context, signer *nonce.Signer, token, spender common.Address, amount *big.Int) error {
	current, err := s.allowance(ctx, signer, token, spender)
	if err != nil {
		return err
	}
	if current.Cmp(amount) >= 0 {
		return nil
	}

	log := s.logger.With("network", signer.NetworkID(), "token", token.Hex(), "spender", spender.Hex())
	if current.Sign() > 0 {
		log.Info("revoking insufficient allowance", "current", current.String(), "required", amount.String())
		if err := s.approve(ctx, signer, token, spender, new(big.Int)); err != nil {
			return fmt.Errorf("revoke allowance: %w", err)
		}
	}
	if err := s.approve(ctx, signer, token, spender, amount); err != nil {
		return fmt.Errorf("approve allowance: %w", err)
	}
	log.Info("allowance approved", "amount", amount.String())
	return nil
}

func (s *evmSender) allowance(ctx context.Context, signer *nonce.Signer, token, spender common.Address) (*big.Int, error) {
	data, err := evm.ERC20ABI.Pack("allowance", signer.Address(), spender)
	if err != nil {
		return nil, fmt.Errorf("pack allowance: %w", err)
	}
	out, err := signer.Backend().CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("read allowance: %w", err)
	}
	values, err := evm.ERC20ABI.Unpack("allowance", out)
	if err != nil || len(values) != 1 {
		return nil, fmt.Errorf("decode allowance: %v", err)
	}
	current, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("decode allowance: unexpected type %T", values[0])
	}
	return current, nil
}

func (s *evmSender) approve(ctx context.Context, signer *nonce.Signer, token, spender common.Address, amount *big.Int) error {
	data, err := evm.ERC20ABI.Pack("approve", spender, amount)
	if err != nil {
		return fmt.Errorf("pack approve: %w", err)
	}
	_, err = s.send(ctx, signer, nonce.TxRequest{To: token, Data: data}, evm.ERC20ABI)
	return err
}

// send submits the transaction and waits for a successful receipt. On any
// failure the signer is evicted so the next send re-reads the chain nonce,
// and revert data is decoded against contractABI into a *ContractError.
func (s *evmSender) send(ctx context.Context, signer *nonce.Signer, req nonce.TxRequest, contractABI abi.ABI) (common.Hash, error) {
	tx, err := signer.Send(ctx, req)
	if err != nil {
		s.signers.Reset(signer.NetworkID())
		return common.Hash{}, decodeRevert(err, contractABI)
	}

	waitCtx, cancel := context.WithTimeout(ctx, s.opts.ReceiptTimeout)
	defer cancel()
	receipt, err := evm.WaitMined(waitCtx, signer.Backend(), tx.Hash(), s.opts.ReceiptPoll)
	if err != nil {
		return tx.Hash(), err
	}
	if receipt.Status == types.ReceiptStatusSuccessful {
		return tx.Hash(), nil
	}

	s.signers.Reset(signer.NetworkID())
	reverted := fmt.Errorf("transaction %s reverted in block %s", tx.Hash().Hex(), receipt.BlockNumber)
	to := req.To
	msg := ethereum.CallMsg{From: signer.Address(), To: &to, Value: req.Value, Data: req.Data}
	if _, callErr := signer.Backend().CallContract(ctx, msg, receipt.BlockNumber); callErr != nil {
		if data, ok := evm.RevertData(callErr); ok {
			if ce := DecodeContractError(contractABI, data); ce != nil {
				return tx.Hash(), fmt.Errorf("%w: %w", reverted, ce)
			}
		}
	}
	return tx.Hash(), reverted
}

func decodeRevert(err error, contractABI abi.ABI) error {
	data, ok := evm.RevertData(err)
	if !ok {
		return err
	}
	ce := DecodeContractError(contractABI, data)
	if ce == nil {
		return err
	}
	return fmt.Errorf("%w: %w", ce, err)
}

func (s *evmSender) deadline() *big.Int {
	return big.NewInt(s.now().Add(s.opts.PaymentDeadline).Unix())
}

// EVMStrategy pays swap settlements through the network's payment contract.
type EVMStrategy struct {
	evmSender
	fees ProtocolFeeSource
}

func NewEVMStrategy(signers SignerSource, fees ProtocolFeeSource, opts EVMOptions, logger *slog.Logger) *EVMStrategy {
	return &EVMStrategy{
		evmSender: evmSender{
			signers: signers,
			opts:    opts.withDefaults(),
			logger:  logger.With("component", "transfer_evm"),
			now:     time.Now,
		},
		fees: fees,
	}
}

func (s *EVMStrategy) Transfer(ctx context.Context, req Request) (string, error) {
	contract, err := contractAddress(req.Network.PaymentContract, "payment", req.Network.ID)
	if err != nil {
		return "", err
	}
	call, err := parsePayout(req)
	if err != nil {
		return "", err
	}

	signer, err := s.signers.Get(ctx, req.Network.ID)
	if err != nil {
		return "", fmt.Errorf("get signer: %w", err)
	}
	fee, err := s.fees.GetProtocolFee(ctx, req.TradeID)
	if err != nil {
		return "", fmt.Errorf("fetch protocol fee: %w", err)
	}
	if !call.native {
		if err := s.ensureAllowance(ctx, signer, call.token, contract, req.Amount); err != nil {
			return "", err
		}
	}

	data, err := evm.PaymentABI.Pack("payment", call.tradeID, call.token, call.to, req.Amount, fee.Amount, s.deadline())
	if err != nil {
		return "", fmt.Errorf("pack payment: %w", err)
	}
	hash, err := s.send(ctx, signer, nonce.TxRequest{To: contract, Value: call.value(req.Amount), Data: data}, evm.PaymentABI)
	if err != nil {
		return "", fmt.Errorf("payment for trade %s: %w", req.TradeID, err)
	}
	return hash.Hex(), nil
}

// LiquidationStrategy pays lending payouts through the liquidation contract.
// A decoded revert yields a synthetic hash derived from the error selector
// alongside the error.
type LiquidationStrategy struct {
	evmSender
	liquidations LiquidationSource
}

func NewLiquidationStrategy(signers SignerSource, liquidations LiquidationSource, opts EVMOptions, logger *slog.Logger) *LiquidationStrategy {
	return &LiquidationStrategy{
		evmSender: evmSender{
			signers: signers,
			opts:    opts.withDefaults(),
			logger:  logger.With("component", "transfer_evm_liquidation"),
			now:     time.Now,
		},
		liquidations: liquidations,
	}
}

func (s *LiquidationStrategy) Transfer(ctx context.Context, req Request) (string, error) {
	contract, err := contractAddress(req.Network.LiquidationContract, "liquidation", req.Network.ID)
	if err != nil {
		return "", err
	}
	call, err := parsePayout(req)
	if err != nil {
		return "", err
	}

	liq, err := s.liquidations.GetLiquidation(ctx, req.TradeID)
	if err != nil {
		if errors.Is(err, router.ErrIncompleteLiquidation) {
			return "", fmt.Errorf("%w: %w", ErrMissingLiquidationFields, err)
		}
		return "", fmt.Errorf("fetch liquidation: %w", err)
	}
	positionID, err := parseBytes32(liq.PositionID)
	if err != nil {
		return "", fmt.Errorf("%w: position id: %w", ErrMissingLiquidationFields, err)
	}
	signature, err := hexutil.Decode(liq.Signature)
	if err != nil || len(signature) == 0 {
		return "", fmt.Errorf("%w: signature %q", ErrMissingLiquidationFields, liq.Signature)
	}

	signer, err := s.signers.Get(ctx, req.Network.ID)
	if err != nil {
		return "", fmt.Errorf("get signer: %w", err)
	}
	if !call.native {
		if err := s.ensureAllowance(ctx, signer, call.token, contract, req.Amount); err != nil {
			return "", err
		}
	}

	data, err := evm.LiquidationABI.Pack("liquidatePayment",
		call.tradeID, positionID, call.token, call.to, req.Amount, liq.ProtocolFee, big.NewInt(liq.Deadline), signature)
	if err != nil {
		return "", fmt.Errorf("pack liquidatePayment: %w", err)
	}
	hash, err := s.send(ctx, signer, nonce.TxRequest{To: contract, Value: call.value(req.Amount), Data: data}, evm.LiquidationABI)
	if err != nil {
		var ce *ContractError
		if errors.As(err, &ce) {
			return SyntheticTxHash(ce.Selector), fmt.Errorf("liquidation payment for trade %s: %w", req.TradeID, err)
		}
		return "", fmt.Errorf("liquidation payment for trade %s: %w", req.TradeID, err)
	}
	return hash.Hex(), nil
}

type payoutCall struct {
	tradeID [32]byte
	token   common.Address
	to      common.Address
	native  bool
}

func (c payoutCall) value(amount *big.Int) *big.Int {
	if c.native {
		return amount
	}
	return nil
}

func parsePayout(req Request) (payoutCall, error) {
	var call payoutCall
	tradeID, err := parseBytes32(req.TradeID)
	if err != nil {
		return call, fmt.Errorf("%w: trade id: %w", ErrInvalidRequest, err)
	}
	if !common.IsHexAddress(req.ToAddress) {
		return call, fmt.Errorf("%w: recipient %q is not an EVM address", ErrInvalidRequest, req.ToAddress)
	}
	call.tradeID = tradeID
	call.to = common.HexToAddress(req.ToAddress)
	call.native = req.Token.IsNative()
	if !call.native {
		if !common.IsHexAddress(req.Token.Address) {
			return call, fmt.Errorf("%w: token %q is not an EVM address", ErrInvalidRequest, req.Token.Address)
		}
		call.token = common.HexToAddress(req.Token.Address)
	}
	return call, nil
}

func contractAddress(raw, kind, networkID string) (common.Address, error) {
	raw = strings.TrimSpace(raw)
	if !common.IsHexAddress(raw) {
		return common.Address{}, fmt.Errorf("network %s has no %s contract configured", networkID, kind)
	}
	addr := common.HexToAddress(raw)
	if addr == (common.Address{}) {
		return common.Address{}, fmt.Errorf("network %s: %s contract is the zero address", networkID, kind)
	}
	return addr, nil
}

func parseBytes32(raw string) ([32]byte, error) {
	var out [32]byte
	b, err := hexutil.Decode(strings.TrimSpace(raw))
	if err != nil {
		return out, fmt.Errorf("decode %q: %w", raw, err)
	}
	if len(b) != 32 {
		return out, fmt.Errorf("%q is %d bytes, want 32", raw, len(b))
	}
	copy(out[:], b)
	return out, nil
}
