package transfer

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"

	"github.com/Phathdt/pmm-sub001/internal/chain/btc/esplora"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

const (
	DustLimitSats       = 546
	DefaultFeeTarget    = 3
	DefaultMinFeeRate   = 1.0
	p2wpkhInputVBytes   = 68
	p2wpkhOutputVBytes  = 31
	txOverheadVBytes    = 11
	outputValueAndLenVB = 9
)

var ErrInsufficientFunds = errors.New("insufficient funds")

// BitcoinWallet is the Esplora surface the Bitcoin strategy needs.
// *esplora.Client implements it.
type BitcoinWallet interface {
	GetAddressUTXOs(ctx context.Context, address string) ([]esplora.UTXO, error)
	GetFeeEstimates(ctx context.Context) (esplora.FeeEstimates, error)
	Broadcast(ctx context.Context, rawTxHex string) (string, error)
}

// BitcoinStrategy pays native BTC from a single P2WPKH address.
type BitcoinStrategy struct {
	wallet     BitcoinWallet
	params     *chaincfg.Params
	key        *btcec.PrivateKey
	address    *btcutil.AddressWitnessPubKeyHash
	pkScript   []byte
	feeTarget  int
	minFeeRate float64
	logger     *slog.Logger
}

func NewBitcoinStrategy(wallet BitcoinWallet, wif string, params *chaincfg.Params, logger *slog.Logger) (*BitcoinStrategy, error) {
	decoded, err := btcutil.DecodeWIF(wif)
	if err != nil {
		return nil, fmt.Errorf("decode wif: %w", err)
	}
	if !decoded.IsForNet(params) {
		return nil, fmt.Errorf("wif is not for %s", params.Name)
	}
	addr, err := btcutil.NewAddressWitnessPubKeyHash(btcutil.Hash160(decoded.SerializePubKey()), params)
	if err != nil {
		return nil, fmt.Errorf("derive p2wpkh address: %w", err)
	}
	pkScript, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return nil, fmt.Errorf("build p2wpkh script: %w", err)
	}
	return &BitcoinStrategy{
		wallet:     wallet,
		params:     params,
		key:        decoded.PrivKey,
		address:    addr,
		pkScript:   pkScript,
		feeTarget:  DefaultFeeTarget,
		minFeeRate: DefaultMinFeeRate,
		logger:     logger.With("component", "transfer_bitcoin", "address", addr.EncodeAddress()),
	}, nil
}

// Address returns the wallet's receive and change address.
func (s *BitcoinStrategy) Address() string {
	return s.address.EncodeAddress()
}

func (s *BitcoinStrategy) Transfer(ctx context.Context, req Request) (string, error) {
	if !req.Token.IsNative() {
		return "", fmt.Errorf("%w: bitcoin only pays native BTC, got token %q", ErrInvalidRequest, req.Token.Address)
	}
	if !req.Amount.IsInt64() || req.Amount.Int64() < DustLimitSats {
		return "", fmt.Errorf("%w: amount %s sats is below dust or too large", ErrInvalidRequest, req.Amount)
	}
	amount := req.Amount.Int64()

	dest, err := btcutil.DecodeAddress(req.ToAddress, s.params)
	if err != nil {
		return "", fmt.Errorf("%w: recipient %q: %v", ErrInvalidRequest, req.ToAddress, err)
	}
	if !dest.IsForNet(s.params) {
		return "", fmt.Errorf("%w: recipient %q is not a %s address", ErrInvalidRequest, req.ToAddress, s.params.Name)
	}
	destScript, err := txscript.PayToAddrScript(dest)
	if err != nil {
		return "", fmt.Errorf("build recipient script: %w", err)
	}

	utxos, err := s.wallet.GetAddressUTXOs(ctx, s.address.EncodeAddress())
	if err != nil {
		return "", fmt.Errorf("list utxos: %w", err)
	}
	estimates, err := s.wallet.GetFeeEstimates(ctx)
	if err != nil {
		return "", fmt.Errorf("fetch fee estimates: %w", err)
	}
	feeRate := estimates.FeeRate(s.feeTarget, s.minFeeRate)

	selected, change, fee, err := selectCoins(utxos, amount, len(destScript), feeRate)
	if err != nil {
		return "", err
	}

	tx, err := s.buildAndSign(selected, destScript, amount, change)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return "", fmt.Errorf("serialize tx: %w", err)
	}

	txid, err := s.wallet.Broadcast(ctx, hex.EncodeToString(buf.Bytes()))
	if err != nil {
		// The node may have accepted the transaction before the call failed.
		return tx.TxHash().String(), fmt.Errorf("broadcast: %w", err)
	}
	s.logger.Info("bitcoin transfer broadcast",
		"txid", txid,
		"to", req.ToAddress,
		"amount_sats", amount,
		"fee_sats", fee,
		"fee_rate", feeRate,
		"inputs", len(selected),
	)
	return txid, nil
}

// selectCoins picks UTXOs largest first until they cover amount plus fee.
// Change below the dust limit is left to the miner.
func selectCoins(utxos []esplora.UTXO, amount int64, destScriptLen int, feeRate float64) (selected []esplora.UTXO, change, fee int64, err error) {
	sorted := make([]esplora.UTXO, len(utxos))
	copy(sorted, utxos)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Value > sorted[j].Value })

	destOutput := outputValueAndLenVB + destScriptLen
	var total int64
	for _, u := range sorted {
		selected = append(selected, u)
		total += u.Value

		base := txOverheadVBytes + len(selected)*p2wpkhInputVBytes + destOutput
		feeNoChange := vbytesFee(base, feeRate)
		feeWithChange := vbytesFee(base+p2wpkhOutputVBytes, feeRate)

		if total >= amount+feeWithChange {
			change = total - amount - feeWithChange
			if change >= DustLimitSats {
				return selected, change, feeWithChange, nil
			}
		}
		if total >= amount+feeNoChange {
			return selected, 0, total - amount, nil
		}
	}
	return nil, 0, 0, fmt.Errorf("%w: have %d sats in %d utxos, need %d plus fee", ErrInsufficientFunds, total, len(utxos), amount)
}

func vbytesFee(vbytes int, feeRate float64) int64 {
	return int64(math.Ceil(float64(vbytes) * feeRate))
}

func (s *BitcoinStrategy) buildAndSign(inputs []esplora.UTXO, destScript []byte, amount, change int64) (*wire.MsgTx, error) {
	tx := wire.NewMsgTx(wire.TxVersion)
	prevOuts := txscript.NewMultiPrevOutFetcher(make(map[wire.OutPoint]*wire.TxOut, len(inputs)))

	for _, u := range inputs {
		hash, err := chainhash.NewHashFromStr(u.TxID)
		if err != nil {
			return nil, fmt.Errorf("parse utxo txid %q: %w", u.TxID, err)
		}
		outPoint := wire.NewOutPoint(hash, u.Vout)
		tx.AddTxIn(wire.NewTxIn(outPoint, nil, nil))
		prevOuts.AddPrevOut(*outPoint, wire.NewTxOut(u.Value, s.pkScript))
	}
	tx.AddTxOut(wire.NewTxOut(amount, destScript))
	if change > 0 {
		tx.AddTxOut(wire.NewTxOut(change, s.pkScript))
	}

	sigHashes := txscript.NewTxSigHashes(tx, prevOuts)
	for i, u := range inputs {
		witness, err := txscript.WitnessSignature(tx, sigHashes, i, u.Value, s.pkScript, txscript.SigHashAll, s.key, true)
		if err != nil {
			return nil, fmt.Errorf("sign input %d: %w", i, err)
		}
		tx.TxIn[i].Witness = witness
	}
	return tx, nil
}

// ParseBitcoinNetwork maps a config name to chain parameters.
func ParseBitcoinNetwork(name string) (*chaincfg.Params, error) {
	switch name {
	case "mainnet", "":
		return &chaincfg.MainNetParams, nil
	case "testnet", "testnet3":
		return &chaincfg.TestNet3Params, nil
	case "signet":
		return &chaincfg.SigNetParams, nil
	case "regtest":
		return &chaincfg.RegressionNetParams, nil
	}
	return nil, fmt.Errorf("unknown bitcoin network %q", name)
}
