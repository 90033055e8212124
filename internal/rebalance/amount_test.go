package rebalance

import (
	"testing"

	"github.com/Phathdt/pmm-sub001/internal/chain/btc/esplora"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func vout(addr string, value int64) esplora.Vout {
	return esplora.Vout{ScriptPubKeyAddress: addr, Value: value}
}

func TestExtractRealAmount(t *testing.T) {
	vault := "vault"
	tests := []struct {
		name    string
		outputs []esplora.Vout
		vault   *string
		want    int64
		ok      bool
	}{
		{"skips vault change", []esplora.Vout{vout("vault", 1000), vout("other", 5000)}, &vault, 5000, true},
		{"falls back when only vault outputs", []esplora.Vout{vout("vault", 1000)}, &vault, 1000, true},
		{"largest non-vault output", []esplora.Vout{vout("a", 300), vout("vault", 9000), vout("b", 700)}, &vault, 700, true},
		{"no vault uses largest overall", []esplora.Vout{vout("a", 300), vout("b", 700)}, nil, 700, true},
		{"empty vault uses largest overall", []esplora.Vout{vout("vault", 900), vout("b", 700)}, new(string), 900, true},
		{"output without address counts", []esplora.Vout{vout("", 400), vout("vault", 100)}, &vault, 400, true},
		{"no outputs", nil, &vault, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ExtractRealAmount(tt.outputs, tt.vault)
			require.Equal(t, tt.ok, ok)
			if !tt.ok {
				assert.Nil(t, got)
				return
			}
			assert.Equal(t, tt.want, got.Int64())
		})
	}
}

func TestExtractRealAmount_TieKeepsFirst(t *testing.T) {
	outputs := []esplora.Vout{vout("a", 500), vout("b", 500)}
	got, ok := ExtractRealAmount(outputs, nil)
	require.True(t, ok)
	assert.Equal(t, int64(500), got.Int64())
}
