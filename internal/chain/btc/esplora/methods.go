package esplora

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// GetTransaction returns the transaction, or (nil, nil) when Esplora does not
// know it yet.
func (c *Client) GetTransaction(ctx context.Context, txid string) (*Transaction, error) {
	var tx Transaction
	if err := c.getJSON(ctx, "/tx/"+url.PathEscape(txid), &tx); err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get transaction %s: %w", txid, err)
	}
	return &tx, nil
}

// GetAddressUTXOs lists confirmed and mempool outputs spendable by address.
func (c *Client) GetAddressUTXOs(ctx context.Context, address string) ([]UTXO, error) {
	var utxos []UTXO
	if err := c.getJSON(ctx, "/address/"+url.PathEscape(address)+"/utxo", &utxos); err != nil {
		return nil, fmt.Errorf("get utxos %s: %w", address, err)
	}
	return utxos, nil
}

func (c *Client) GetFeeEstimates(ctx context.Context) (FeeEstimates, error) {
	var fees FeeEstimates
	if err := c.getJSON(ctx, "/fee-estimates", &fees); err != nil {
		return nil, fmt.Errorf("get fee estimates: %w", err)
	}
	return fees, nil
}

// Broadcast submits a raw transaction (hex) and returns its txid.
func (c *Client) Broadcast(ctx context.Context, rawTxHex string) (string, error) {
	body, err := c.do(ctx, http.MethodPost, "/tx", strings.NewReader(rawTxHex), "text/plain")
	if err != nil {
		return "", fmt.Errorf("broadcast transaction: %w", err)
	}
	return strings.TrimSpace(string(body)), nil
}

// FeeRate picks the estimate for target blocks, falling back to the nearest
// slower target and finally to floor sat/vB.
func (f FeeEstimates) FeeRate(target int, floor float64) float64 {
	for _, t := range []int{target, 2, 3, 6, 144} {
		if t < target {
			continue
		}
		if rate, ok := f[fmt.Sprint(t)]; ok && rate > 0 {
			if rate < floor {
				return floor
			}
			return rate
		}
	}
	return floor
}
