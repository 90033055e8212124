package evm

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
)

//go:generate mockgen -source=client.go -destination=mocks/mock_client.go -package=mocks

// Backend is the subset of the Ethereum JSON-RPC API used to send payouts.
// *ethclient.Client satisfies it.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

var _ Backend = (*ethclient.Client)(nil)

// Dialer opens a Backend for an RPC endpoint.
type Dialer func(ctx context.Context, rpcURL string) (Backend, error)

// DialHTTP is the production Dialer.
func DialHTTP(ctx context.Context, rpcURL string) (Backend, error) {
	trimmed := strings.TrimSpace(rpcURL)
	if trimmed == "" {
		return nil, fmt.Errorf("evm endpoint required")
	}
	c, err := ethclient.DialContext(ctx, trimmed)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", trimmed, err)
	}
	return c, nil
}

// ClientPool shares one Backend per RPC URL across strategies and signers.
type ClientPool struct {
	dial Dialer

	mu      sync.Mutex
	clients map[string]Backend
}

func NewClientPool(dial Dialer) *ClientPool {
	if dial == nil {
		dial = DialHTTP
	}
	return &ClientPool{dial: dial, clients: make(map[string]Backend)}
}

func (p *ClientPool) Get(ctx context.Context, rpcURL string) (Backend, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.clients[rpcURL]; ok {
		return c, nil
	}
	c, err := p.dial(ctx, rpcURL)
	if err != nil {
		return nil, err
	}
	p.clients[rpcURL] = c
	return c, nil
}

// Close closes every pooled client that supports it.
func (p *ClientPool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for url, c := range p.clients {
		if closer, ok := c.(interface{ Close() }); ok {
			closer.Close()
		}
		delete(p.clients, url)
	}
}

// WaitMined polls for the receipt of hash until it is available or ctx ends.
func WaitMined(ctx context.Context, b Backend, hash common.Hash, poll time.Duration) (*types.Receipt, error) {
	if poll <= 0 {
		poll = 2 * time.Second
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for {
		receipt, err := b.TransactionReceipt(ctx, hash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			return nil, fmt.Errorf("fetch receipt %s: %w", hash.Hex(), err)
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("wait for receipt %s: %w", hash.Hex(), ctx.Err())
		case <-ticker.C:
		}
	}
}

// RevertData extracts the ABI-encoded revert payload carried by a node
// error, if any.
func RevertData(err error) ([]byte, bool) {
	var dataErr rpc.DataError
	if !errors.As(err, &dataErr) {
		return nil, false
	}
	switch data := dataErr.ErrorData().(type) {
	case string:
		raw, decodeErr := hexutil.Decode(data)
		if decodeErr != nil || len(raw) < 4 {
			return nil, false
		}
		return raw, true
	case []byte:
		if len(data) < 4 {
			return nil, false
		}
		return data, true
	}
	return nil, false
}
