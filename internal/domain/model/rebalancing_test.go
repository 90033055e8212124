package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRebalancingStatusValues(t *testing.T) {
	assert.Equal(t, RebalancingStatus("PENDING"), RebalancingStatusPending)
	assert.Equal(t, RebalancingStatus("MEMPOOL_VERIFIED"), RebalancingStatusMempoolVerified)
	assert.Equal(t, RebalancingStatus("QUOTE_REQUESTED"), RebalancingStatusQuoteRequested)
	assert.Equal(t, RebalancingStatus("QUOTE_ACCEPTED"), RebalancingStatusQuoteAccepted)
	assert.Equal(t, RebalancingStatus("DEPOSIT_SUBMITTED"), RebalancingStatusDepositSubmitted)
	assert.Equal(t, RebalancingStatus("SWAP_PROCESSING"), RebalancingStatusSwapProcessing)
	assert.Equal(t, RebalancingStatus("COMPLETED"), RebalancingStatusCompleted)
	assert.Equal(t, RebalancingStatus("FAILED"), RebalancingStatusFailed)
	assert.Equal(t, RebalancingStatus("STUCK"), RebalancingStatusStuck)
	assert.Equal(t, RebalancingStatus("REFUNDED"), RebalancingStatusRefunded)
}

func TestRebalancingStatus_TerminalAndRetryable(t *testing.T) {
	terminal := []RebalancingStatus{RebalancingStatusCompleted, RebalancingStatusStuck, RebalancingStatusRefunded}
	for _, s := range terminal {
		assert.True(t, s.IsTerminal(), s)
		assert.False(t, s.IsRetryable(), s)
	}

	assert.True(t, RebalancingStatusPending.IsRetryable())
	assert.True(t, RebalancingStatusFailed.IsRetryable())
	assert.False(t, RebalancingStatusMempoolVerified.IsRetryable())
	assert.False(t, RebalancingStatusFailed.IsTerminal())
	assert.False(t, RebalancingStatus("BOGUS").Valid())
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to RebalancingStatus
		want     bool
	}{
		{RebalancingStatusPending, RebalancingStatusMempoolVerified, true},
		{RebalancingStatusMempoolVerified, RebalancingStatusQuoteRequested, true},
		{RebalancingStatusQuoteAccepted, RebalancingStatusDepositSubmitted, true},
		{RebalancingStatusSwapProcessing, RebalancingStatusCompleted, true},
		{RebalancingStatusMempoolVerified, RebalancingStatusPending, false},
		{RebalancingStatusQuoteRequested, RebalancingStatusFailed, true},
		{RebalancingStatusPending, RebalancingStatusStuck, true},
		{RebalancingStatusDepositSubmitted, RebalancingStatusRefunded, true},
		{RebalancingStatusFailed, RebalancingStatusPending, true},
		{RebalancingStatusFailed, RebalancingStatusQuoteRequested, false},
		{RebalancingStatusStuck, RebalancingStatusPending, false},
		{RebalancingStatusCompleted, RebalancingStatusFailed, false},
		{RebalancingStatusRefunded, RebalancingStatusStuck, false},
		{RebalancingStatusFailed, RebalancingStatusFailed, false},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, CanTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestTokenIsNative(t *testing.T) {
	assert.True(t, Token{Address: "native"}.IsNative())
	assert.True(t, Token{Address: ""}.IsNative())
	assert.True(t, Token{Address: "0x0000000000000000000000000000000000000000"}.IsNative())
	assert.False(t, Token{Address: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"}.IsNative())
}

func TestNetworkTypeIsBitcoin(t *testing.T) {
	assert.True(t, NetworkTypeBTC.IsBitcoin())
	assert.True(t, NetworkTypeTBTC.IsBitcoin())
	assert.False(t, NetworkTypeEVM.IsBitcoin())
	assert.False(t, NetworkTypeSolana.IsBitcoin())
}
