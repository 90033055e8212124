package rebalance

import (
	"math/big"
	"strings"

	"github.com/Phathdt/pmm-sub001/internal/chain/btc/esplora"
)

// ExtractRealAmount returns the value of the output that left the settlement
// vault: the largest output not paying vaultAddress. When the vault is
// unknown, or every output pays the vault, it falls back to the largest
// output overall. Ties keep the first output. It reports false only when
// there are no outputs.
//
// This is a best-effort heuristic. Nothing proves which output the vault
// intended as the payment, so callers compare the result against the
// expected amount and only warn on mismatch.
func ExtractRealAmount(outputs []esplora.Vout, vaultAddress *string) (*big.Int, bool) {
	if len(outputs) == 0 {
		return nil, false
	}

	vault := ""
	if vaultAddress != nil {
		vault = strings.TrimSpace(*vaultAddress)
	}
	if vault != "" {
		best := -1
		for i, out := range outputs {
			if out.ScriptPubKeyAddress == vault {
				continue
			}
			if best < 0 || out.Value > outputs[best].Value {
				best = i
			}
		}
		if best >= 0 {
			return big.NewInt(outputs[best].Value), true
		}
	}

	best := 0
	for i, out := range outputs {
		if out.Value > outputs[best].Value {
			best = i
		}
	}
	return big.NewInt(outputs[best].Value), true
}
