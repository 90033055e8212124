package rpc

import (
	"context"
	"encoding/json"
	"fmt"
)

// GetLatestBlockhash returns a recent blockhash for transaction construction.
func (c *Client) GetLatestBlockhash(ctx context.Context, commitment string) (*LatestBlockhash, error) {
	params := []interface{}{map[string]string{"commitment": commitment}}
	result, err := c.call(ctx, "getLatestBlockhash", params)
	if err != nil {
		return nil, fmt.Errorf("getLatestBlockhash: %w", err)
	}

	var wrapped contextResult
	if err := json.Unmarshal(result, &wrapped); err != nil {
		return nil, fmt.Errorf("unmarshal blockhash: %w", err)
	}
	var bh LatestBlockhash
	if err := json.Unmarshal(wrapped.Value, &bh); err != nil {
		return nil, fmt.Errorf("unmarshal blockhash value: %w", err)
	}
	if bh.Blockhash == "" {
		return nil, fmt.Errorf("getLatestBlockhash: empty blockhash")
	}
	return &bh, nil
}

// SendTransaction submits a signed, base64-encoded transaction and returns
// its signature. Preflight runs at confirmed commitment.
func (c *Client) SendTransaction(ctx context.Context, signedTxBase64 string) (string, error) {
	params := []interface{}{
		signedTxBase64,
		map[string]interface{}{
			"encoding":            "base64",
			"preflightCommitment": CommitmentConfirmed,
			"maxRetries":          3,
		},
	}
	result, err := c.call(ctx, "sendTransaction", params)
	if err != nil {
		return "", fmt.Errorf("sendTransaction: %w", err)
	}

	var sig string
	if err := json.Unmarshal(result, &sig); err != nil {
		return "", fmt.Errorf("unmarshal signature: %w", err)
	}
	return sig, nil
}

// GetSignatureStatuses returns one entry per signature, nil for unknown ones.
func (c *Client) GetSignatureStatuses(ctx context.Context, signatures ...string) ([]*SignatureStatus, error) {
	params := []interface{}{
		signatures,
		map[string]bool{"searchTransactionHistory": true},
	}
	result, err := c.call(ctx, "getSignatureStatuses", params)
	if err != nil {
		return nil, fmt.Errorf("getSignatureStatuses: %w", err)
	}

	var wrapped contextResult
	if err := json.Unmarshal(result, &wrapped); err != nil {
		return nil, fmt.Errorf("unmarshal signature statuses: %w", err)
	}
	var statuses []*SignatureStatus
	if err := json.Unmarshal(wrapped.Value, &statuses); err != nil {
		return nil, fmt.Errorf("unmarshal signature status values: %w", err)
	}
	return statuses, nil
}

// GetAccountInfo returns nil, nil for accounts that do not exist.
func (c *Client) GetAccountInfo(ctx context.Context, address string) (*AccountInfo, error) {
	params := []interface{}{
		address,
		map[string]string{"encoding": "base64", "commitment": CommitmentConfirmed},
	}
	result, err := c.call(ctx, "getAccountInfo", params)
	if err != nil {
		return nil, fmt.Errorf("getAccountInfo: %w", err)
	}

	var wrapped contextResult
	if err := json.Unmarshal(result, &wrapped); err != nil {
		return nil, fmt.Errorf("unmarshal account info: %w", err)
	}
	if len(wrapped.Value) == 0 || string(wrapped.Value) == "null" {
		return nil, nil
	}
	var info AccountInfo
	if err := json.Unmarshal(wrapped.Value, &info); err != nil {
		return nil, fmt.Errorf("unmarshal account info value: %w", err)
	}
	return &info, nil
}
