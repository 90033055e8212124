package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNetworkTypeString(t *testing.T) {
	assert.Equal(t, "EVM", NetworkTypeEVM.String())
	assert.Equal(t, "SOLANA", NetworkTypeSolana.String())
}

func TestTradeTypeConstants(t *testing.T) {
	assert.Equal(t, TradeType("SWAP"), TradeTypeSwap)
	assert.Equal(t, TradeType("LENDING"), TradeTypeLending)
	assert.Equal(t, "LENDING", TradeTypeLending.String())
}
