package transfer

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	solrpc "github.com/Phathdt/pmm-sub001/internal/chain/solana/rpc"
	"github.com/gagliardetto/solana-go"
	associatedtokenaccount "github.com/gagliardetto/solana-go/programs/associated-token-account"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/programs/token"
)

const (
	DefaultSolanaConfirmTimeout = 60 * time.Second
	DefaultSolanaPollInterval   = 2 * time.Second
)

var (
	ErrSolanaTxFailed       = errors.New("solana transaction failed")
	ErrSolanaConfirmTimeout = errors.New("solana transaction not confirmed in time")
)

// SolanaStrategy pays SOL through the system program and SPL tokens through
// TransferChecked into the recipient's associated token account.
type SolanaStrategy struct {
	rpc            solrpc.RPCClient
	key            solana.PrivateKey
	owner          solana.PublicKey
	commitment     string
	confirmTimeout time.Duration
	pollInterval   time.Duration
	logger         *slog.Logger
}

func NewSolanaStrategy(client solrpc.RPCClient, base58Key string, logger *slog.Logger) (*SolanaStrategy, error) {
	key, err := solana.PrivateKeyFromBase58(base58Key)
	if err != nil {
		return nil, fmt.Errorf("decode solana private key: %w", err)
	}
	owner := key.PublicKey()
	return &SolanaStrategy{
		rpc:            client,
		key:            key,
		owner:          owner,
		commitment:     solrpc.CommitmentConfirmed,
		confirmTimeout: DefaultSolanaConfirmTimeout,
		pollInterval:   DefaultSolanaPollInterval,
		logger:         logger.With("component", "transfer_solana", "owner", owner.String()),
	}, nil
}

// Transfer sends the transaction and waits for the configured commitment.
// A confirmation timeout returns the signature together with the error,
// since the transaction may still land.
func (s *SolanaStrategy) Transfer(ctx context.Context, req Request) (string, error) {
	if !req.Amount.IsUint64() {
		return "", fmt.Errorf("%w: amount %s does not fit u64", ErrInvalidRequest, req.Amount)
	}
	to, err := solana.PublicKeyFromBase58(req.ToAddress)
	if err != nil {
		return "", fmt.Errorf("%w: recipient %q: %v", ErrInvalidRequest, req.ToAddress, err)
	}

	instructions, err := s.instructions(ctx, to, req)
	if err != nil {
		return "", err
	}

	latest, err := s.rpc.GetLatestBlockhash(ctx, s.commitment)
	if err != nil {
		return "", fmt.Errorf("get latest blockhash: %w", err)
	}
	blockhash, err := solana.HashFromBase58(latest.Blockhash)
	if err != nil {
		return "", fmt.Errorf("parse blockhash: %w", err)
	}

	tx, err := solana.NewTransaction(instructions, blockhash, solana.TransactionPayer(s.owner))
	if err != nil {
		return "", fmt.Errorf("build transaction: %w", err)
	}
	if _, err := tx.Sign(func(pub solana.PublicKey) *solana.PrivateKey {
		if pub.Equals(s.owner) {
			return &s.key
		}
		return nil
	}); err != nil {
		return "", fmt.Errorf("sign transaction: %w", err)
	}
	raw, err := tx.MarshalBinary()
	if err != nil {
		return "", fmt.Errorf("encode transaction: %w", err)
	}

	sig, err := s.rpc.SendTransaction(ctx, base64.StdEncoding.EncodeToString(raw))
	if err != nil {
		return "", fmt.Errorf("send transaction: %w", err)
	}
	if err := s.waitConfirmed(ctx, sig); err != nil {
		return sig, err
	}
	s.logger.Info("solana transfer confirmed", "signature", sig, "to", req.ToAddress, "amount", req.Amount.String())
	return sig, nil
}

func (s *SolanaStrategy) instructions(ctx context.Context, to solana.PublicKey, req Request) ([]solana.Instruction, error) {
	amount := req.Amount.Uint64()
	if req.Token.IsNative() {
		return []solana.Instruction{
			system.NewTransferInstruction(amount, s.owner, to).Build(),
		}, nil
	}

	mint, err := solana.PublicKeyFromBase58(req.Token.Address)
	if err != nil {
		return nil, fmt.Errorf("%w: mint %q: %v", ErrInvalidRequest, req.Token.Address, err)
	}
	source, _, err := solana.FindAssociatedTokenAddress(s.owner, mint)
	if err != nil {
		return nil, fmt.Errorf("derive source token account: %w", err)
	}
	destination, _, err := solana.FindAssociatedTokenAddress(to, mint)
	if err != nil {
		return nil, fmt.Errorf("derive destination token account: %w", err)
	}

	var out []solana.Instruction
	account, err := s.rpc.GetAccountInfo(ctx, destination.String())
	if err != nil {
		return nil, fmt.Errorf("check destination token account: %w", err)
	}
	if account == nil {
		out = append(out, associatedtokenaccount.NewCreateInstruction(s.owner, to, mint).Build())
	}
	out = append(out, token.NewTransferCheckedInstruction(
		amount, req.Token.Decimals, source, mint, destination, s.owner, nil,
	).Build())
	return out, nil
}

func (s *SolanaStrategy) waitConfirmed(ctx context.Context, sig string) error {
	ctx, cancel := context.WithTimeout(ctx, s.confirmTimeout)
	defer cancel()
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		statuses, err := s.rpc.GetSignatureStatuses(ctx, sig)
		if err != nil {
			s.logger.Debug("signature status poll failed", "signature", sig, "error", err)
		} else if len(statuses) == 1 && statuses[0] != nil {
			st := statuses[0]
			if st.Failed() {
				return fmt.Errorf("%w: %s: %s", ErrSolanaTxFailed, sig, string(st.Err))
			}
			if st.Reached(s.commitment) {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %s", ErrSolanaConfirmTimeout, sig)
		case <-ticker.C:
		}
	}
}
