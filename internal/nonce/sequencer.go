package nonce

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/Phathdt/pmm-sub001/internal/chain/evm"
	"github.com/Phathdt/pmm-sub001/internal/domain/model"
	"github.com/Phathdt/pmm-sub001/internal/metrics"
	"github.com/Phathdt/pmm-sub001/internal/scheduler"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultRefreshInterval = time.Minute
	refreshConcurrency     = 8
)

// Key identifies one cached signer.
type Key struct {
	NetworkID string
	Account   common.Address
}

func (k Key) String() string {
	return k.NetworkID + "/" + k.Account.Hex()
}

// SignerFactory builds a fresh signer for a network.
type SignerFactory func(ctx context.Context, networkID string) (*Signer, error)

// Sequencer caches one Signer per (network, account). Get returns the same
// instance until Reset evicts it.
type Sequencer struct {
	account common.Address
	factory SignerFactory
	logger  *slog.Logger

	mu      sync.RWMutex
	signers map[Key]*Signer
	group   singleflight.Group
}

func NewSequencer(account common.Address, factory SignerFactory, logger *slog.Logger) *Sequencer {
	return &Sequencer{
		account: account,
		factory: factory,
		logger:  logger.With("component", "nonce_sequencer", "account", account.Hex()),
		signers: make(map[Key]*Signer),
	}
}

func (s *Sequencer) key(networkID string) Key {
	return Key{NetworkID: networkID, Account: s.account}
}

// Get returns the cached signer for networkID, building it on first use.
// Concurrent first calls share one construction.
func (s *Sequencer) Get(ctx context.Context, networkID string) (*Signer, error) {
	k := s.key(networkID)

	s.mu.RLock()
	signer, ok := s.signers[k]
	s.mu.RUnlock()
	if ok {
		return signer, nil
	}

	v, err, _ := s.group.Do(k.String(), func() (interface{}, error) {
		s.mu.RLock()
		existing, ok := s.signers[k]
		s.mu.RUnlock()
		if ok {
			return existing, nil
		}

		built, err := s.factory(ctx, networkID)
		if err != nil {
			return nil, fmt.Errorf("build signer for %s: %w", networkID, err)
		}
		if built.Address() != s.account {
			return nil, fmt.Errorf("build signer for %s: factory returned account %s, want %s",
				networkID, built.Address().Hex(), s.account.Hex())
		}

		s.mu.Lock()
		s.signers[k] = built
		metrics.NonceCachedSigners.Set(float64(len(s.signers)))
		s.mu.Unlock()

		s.logger.Info("nonce signer created", "network", networkID)
		return built, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Signer), nil
}

// Reset evicts the signer for networkID so the next Get re-derives the
// nonce from chain state.
func (s *Sequencer) Reset(networkID string) {
	k := s.key(networkID)
	s.mu.Lock()
	_, existed := s.signers[k]
	delete(s.signers, k)
	metrics.NonceCachedSigners.Set(float64(len(s.signers)))
	s.mu.Unlock()

	if existed {
		metrics.NonceResetsTotal.WithLabelValues(networkID).Inc()
		s.logger.Info("nonce signer reset", "network", networkID)
	}
}

// Len returns the number of cached signers.
func (s *Sequencer) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.signers)
}

// RefreshAll refreshes every cached signer concurrently. A failing network
// is logged and does not stop the others.
func (s *Sequencer) RefreshAll(ctx context.Context) {
	s.mu.RLock()
	snapshot := make([]*Signer, 0, len(s.signers))
	for _, signer := range s.signers {
		snapshot = append(snapshot, signer)
	}
	s.mu.RUnlock()

	var g errgroup.Group
	g.SetLimit(refreshConcurrency)
	for _, signer := range snapshot {
		signer := signer
		g.Go(func() error {
			next, err := signer.Refresh(ctx)
			if err != nil {
				metrics.NonceRefreshTotal.WithLabelValues(signer.NetworkID(), "error").Inc()
				s.logger.Warn("nonce refresh failed", "network", signer.NetworkID(), "error", err)
				return nil
			}
			metrics.NonceRefreshTotal.WithLabelValues(signer.NetworkID(), "ok").Inc()
			s.logger.Debug("nonce refreshed", "network", signer.NetworkID(), "next_nonce", next)
			return nil
		})
	}
	_ = g.Wait()
}

// Run refreshes all signers every interval until ctx is cancelled.
func (s *Sequencer) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	loop := scheduler.New("nonce_refresh", interval, s.logger)
	return loop.Run(ctx, func(ctx context.Context) error {
		s.RefreshAll(ctx)
		return nil
	})
}

// NetworkResolver looks up static network configuration.
type NetworkResolver interface {
	Network(id string) (model.Network, error)
}

// NewSignerFactory returns a factory that dials the network's RPC through
// pool and checks that the node serves the configured chain.
func NewSignerFactory(networks NetworkResolver, pool *evm.ClientPool, key *ecdsa.PrivateKey) SignerFactory {
	return func(ctx context.Context, networkID string) (*Signer, error) {
		network, err := networks.Network(networkID)
		if err != nil {
			return nil, err
		}
		if network.Type != model.NetworkTypeEVM {
			return nil, fmt.Errorf("network %s is %s, not EVM", networkID, network.Type)
		}
		backend, err := pool.Get(ctx, network.RPCURL)
		if err != nil {
			return nil, err
		}
		chainID, err := backend.ChainID(ctx)
		if err != nil {
			return nil, fmt.Errorf("read chain id: %w", err)
		}
		if chainID.Cmp(big.NewInt(network.ChainID)) != 0 {
			return nil, fmt.Errorf("network %s: node reports chain id %s, registry says %d", networkID, chainID, network.ChainID)
		}
		return NewSigner(networkID, key, chainID, backend), nil
	}
}

// ParsePrivateKey decodes a hex EVM private key with or without 0x prefix.
func ParsePrivateKey(hexKey string) (*ecdsa.PrivateKey, error) {
	if len(hexKey) >= 2 && (hexKey[:2] == "0x" || hexKey[:2] == "0X") {
		hexKey = hexKey[2:]
	}
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("parse evm private key: %w", err)
	}
	return key, nil
}
