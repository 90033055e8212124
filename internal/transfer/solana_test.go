package transfer

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	solrpc "github.com/Phathdt/pmm-sub001/internal/chain/solana/rpc"
	"github.com/Phathdt/pmm-sub001/internal/domain/model"
	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSolanaRPC struct {
	mu           sync.Mutex
	blockhash    string
	sent         []string
	accountCalls []string
	account      *solrpc.AccountInfo
	statuses     [][]*solrpc.SignatureStatus
	sendErr      error
}

func (f *fakeSolanaRPC) GetLatestBlockhash(context.Context, string) (*solrpc.LatestBlockhash, error) {
	return &solrpc.LatestBlockhash{Blockhash: f.blockhash, LastValidBlockHeight: 100}, nil
}

func (f *fakeSolanaRPC) SendTransaction(_ context.Context, tx string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return "", f.sendErr
	}
	f.sent = append(f.sent, tx)
	return "sig-1", nil
}

func (f *fakeSolanaRPC) GetSignatureStatuses(context.Context, ...string) ([]*solrpc.SignatureStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.statuses) == 0 {
		return []*solrpc.SignatureStatus{nil}, nil
	}
	next := f.statuses[0]
	if len(f.statuses) > 1 {
		f.statuses = f.statuses[1:]
	}
	return next, nil
}

func (f *fakeSolanaRPC) GetAccountInfo(_ context.Context, address string) (*solrpc.AccountInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accountCalls = append(f.accountCalls, address)
	return f.account, nil
}

func newSolanaHarness(t *testing.T, rpc *fakeSolanaRPC) *SolanaStrategy {
	t.Helper()
	key, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	s, err := NewSolanaStrategy(rpc, key.String(), discardLogger())
	require.NoError(t, err)
	s.pollInterval = time.Millisecond
	s.confirmTimeout = 200 * time.Millisecond
	return s
}

func randomPubkey(t *testing.T) solana.PublicKey {
	t.Helper()
	key, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	return key.PublicKey()
}

func solRequest(to string, token model.Token) Request {
	return Request{ToAddress: to, Amount: big.NewInt(1_500_000), Token: token, TradeID: "trade-sol"}
}

func confirmed() []*solrpc.SignatureStatus {
	return []*solrpc.SignatureStatus{{Slot: 10, ConfirmationStatus: solrpc.CommitmentConfirmed}}
}

func TestSolanaStrategy_NativeTransfer(t *testing.T) {
	rpc := &fakeSolanaRPC{
		blockhash: randomPubkey(t).String(),
		statuses:  [][]*solrpc.SignatureStatus{{nil}, confirmed()},
	}
	s := newSolanaHarness(t, rpc)

	sig, err := s.Transfer(context.Background(), solRequest(randomPubkey(t).String(),
		model.Token{NetworkID: "solana", Address: model.NativeTokenAddress, Decimals: 9}))
	require.NoError(t, err)
	assert.Equal(t, "sig-1", sig)
	require.Len(t, rpc.sent, 1)
	_, err = base64.StdEncoding.DecodeString(rpc.sent[0])
	require.NoError(t, err)
	assert.Empty(t, rpc.accountCalls)
}

func TestSolanaStrategy_SPLTransferChecksDestinationAccount(t *testing.T) {
	rpc := &fakeSolanaRPC{
		blockhash: randomPubkey(t).String(),
		statuses:  [][]*solrpc.SignatureStatus{confirmed()},
	}
	s := newSolanaHarness(t, rpc)
	to := randomPubkey(t)
	mint := randomPubkey(t)

	_, err := s.Transfer(context.Background(), solRequest(to.String(),
		model.Token{NetworkID: "solana", Address: mint.String(), Decimals: 6}))
	require.NoError(t, err)

	ata, _, err := solana.FindAssociatedTokenAddress(to, mint)
	require.NoError(t, err)
	assert.Equal(t, []string{ata.String()}, rpc.accountCalls)

	withATA, err := s.instructions(context.Background(), to, solRequest(to.String(),
		model.Token{NetworkID: "solana", Address: mint.String(), Decimals: 6}))
	require.NoError(t, err)
	assert.Len(t, withATA, 2)

	rpc.account = &solrpc.AccountInfo{Lamports: 2039280, Owner: solana.TokenProgramID.String()}
	existing, err := s.instructions(context.Background(), to, solRequest(to.String(),
		model.Token{NetworkID: "solana", Address: mint.String(), Decimals: 6}))
	require.NoError(t, err)
	assert.Len(t, existing, 1)
}

func TestSolanaStrategy_FailedTransaction(t *testing.T) {
	rpc := &fakeSolanaRPC{
		blockhash: randomPubkey(t).String(),
		statuses: [][]*solrpc.SignatureStatus{{{
			ConfirmationStatus: solrpc.CommitmentConfirmed,
			Err:                json.RawMessage(`{"InstructionError":[0,"Custom"]}`),
		}}},
	}
	s := newSolanaHarness(t, rpc)

	sig, err := s.Transfer(context.Background(), solRequest(randomPubkey(t).String(),
		model.Token{NetworkID: "solana", Address: model.NativeTokenAddress}))
	assert.ErrorIs(t, err, ErrSolanaTxFailed)
	assert.Equal(t, "sig-1", sig)
}

func TestSolanaStrategy_ConfirmTimeoutReturnsSignature(t *testing.T) {
	rpc := &fakeSolanaRPC{blockhash: randomPubkey(t).String()}
	s := newSolanaHarness(t, rpc)

	sig, err := s.Transfer(context.Background(), solRequest(randomPubkey(t).String(),
		model.Token{NetworkID: "solana", Address: model.NativeTokenAddress}))
	assert.ErrorIs(t, err, ErrSolanaConfirmTimeout)
	assert.Equal(t, "sig-1", sig)
}

func TestSolanaStrategy_Rejects(t *testing.T) {
	rpc := &fakeSolanaRPC{blockhash: randomPubkey(t).String(), sendErr: errors.New("blockhash not found")}
	s := newSolanaHarness(t, rpc)

	_, err := s.Transfer(context.Background(), solRequest("not-base58!",
		model.Token{NetworkID: "solana", Address: model.NativeTokenAddress}))
	assert.ErrorIs(t, err, ErrInvalidRequest)

	sig, err := s.Transfer(context.Background(), solRequest(randomPubkey(t).String(),
		model.Token{NetworkID: "solana", Address: model.NativeTokenAddress}))
	require.Error(t, err)
	assert.Empty(t, sig)
}
