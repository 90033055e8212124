package nonce

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"sync"

	"github.com/Phathdt/pmm-sub001/internal/chain/evm"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// gasLimitBufferPct pads estimated gas to absorb state drift between
// estimation and inclusion.
const gasLimitBufferPct = 20

// TxRequest describes one contract call or value transfer.
type TxRequest struct {
	To    common.Address
	Value *big.Int
	Data  []byte
}

// Signer owns one account on one network. Nonces handed out by a Signer are
// strictly increasing, also under concurrent use.
type Signer struct {
	networkID string
	key       *ecdsa.PrivateKey
	address   common.Address
	chainID   *big.Int
	backend   evm.Backend

	mu     sync.Mutex
	next   uint64
	seeded bool
}

func NewSigner(networkID string, key *ecdsa.PrivateKey, chainID *big.Int, backend evm.Backend) *Signer {
	return &Signer{
		networkID: networkID,
		key:       key,
		address:   crypto.PubkeyToAddress(key.PublicKey),
		chainID:   new(big.Int).Set(chainID),
		backend:   backend,
	}
}

func (s *Signer) NetworkID() string       { return s.networkID }
func (s *Signer) Address() common.Address { return s.address }
func (s *Signer) Backend() evm.Backend    { return s.backend }
func (s *Signer) ChainID() *big.Int       { return new(big.Int).Set(s.chainID) }

// NextNonce allocates the next nonce. The first call seeds the counter from
// the chain's pending nonce.
func (s *Signer) NextNonce(ctx context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.seeded {
		pending, err := s.backend.PendingNonceAt(ctx, s.address)
		if err != nil {
			return 0, fmt.Errorf("seed nonce for %s on %s: %w", s.address.Hex(), s.networkID, err)
		}
		s.next = pending
		s.seeded = true
	}
	n := s.next
	s.next++
	return n, nil
}

// Refresh re-reads the pending nonce and moves the local counter forward if
// the chain is ahead. It never moves the counter backwards, so nonces already
// handed out stay unique.
func (s *Signer) Refresh(ctx context.Context) (uint64, error) {
	pending, err := s.backend.PendingNonceAt(ctx, s.address)
	if err != nil {
		return 0, fmt.Errorf("refresh nonce for %s on %s: %w", s.address.Hex(), s.networkID, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.seeded || pending > s.next {
		s.next = pending
		s.seeded = true
	}
	return s.next, nil
}

// peek returns the next nonce without allocating it.
func (s *Signer) peek() (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next, s.seeded
}

// Send estimates gas, allocates a nonce, signs an EIP-1559 transaction and
// submits it. Gas estimation runs before nonce allocation so a reverting call
// does not consume a nonce. Callers should Reset the signer through the
// Sequencer when the send fails.
func (s *Signer) Send(ctx context.Context, req TxRequest) (*types.Transaction, error) {
	value := req.Value
	if value == nil {
		value = new(big.Int)
	}
	to := req.To
	msg := ethereum.CallMsg{From: s.address, To: &to, Value: value, Data: req.Data}

	gas, err := s.backend.EstimateGas(ctx, msg)
	if err != nil {
		return nil, fmt.Errorf("estimate gas: %w", err)
	}
	gas += gas * gasLimitBufferPct / 100

	tip, err := s.backend.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, fmt.Errorf("suggest gas tip: %w", err)
	}
	head, err := s.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch head: %w", err)
	}
	feeCap := new(big.Int).Set(tip)
	if head != nil && head.BaseFee != nil {
		feeCap.Add(feeCap, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))
	}

	nonce, err := s.NextNonce(ctx)
	if err != nil {
		return nil, err
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   s.chainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gas,
		To:        &to,
		Value:     value,
		Data:      req.Data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(s.chainID), s.key)
	if err != nil {
		return nil, fmt.Errorf("sign tx: %w", err)
	}
	if err := s.backend.SendTransaction(ctx, signed); err != nil {
		return nil, fmt.Errorf("send tx nonce=%d: %w", nonce, err)
	}
	return signed, nil
}
