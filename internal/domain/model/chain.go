package model

import "strings"

// NetworkType groups networks that share transaction construction and signing.
type NetworkType string

const (
	NetworkTypeEVM    NetworkType = "EVM"
	NetworkTypeBTC    NetworkType = "BTC"
	NetworkTypeTBTC   NetworkType = "TBTC"
	NetworkTypeSolana NetworkType = "SOLANA"
)

func (t NetworkType) String() string {
	return string(t)
}

// IsBitcoin reports whether the type is a Bitcoin mainnet or test network.
func (t NetworkType) IsBitcoin() bool {
	return t == NetworkTypeBTC || t == NetworkTypeTBTC
}

// TradeType distinguishes plain swaps from lending (liquidation) payouts.
type TradeType string

const (
	TradeTypeSwap    TradeType = "SWAP"
	TradeTypeLending TradeType = "LENDING"
)

func (t TradeType) String() string {
	return string(t)
}

// NativeTokenAddress marks the network's own coin in Token.Address.
const NativeTokenAddress = "native"

// Network is one entry of the network registry.
type Network struct {
	ID                  string      `yaml:"id"`
	Type                NetworkType `yaml:"type"`
	ChainID             int64       `yaml:"chain_id"`
	RPCURL              string      `yaml:"rpc_url"`
	PaymentContract     string      `yaml:"payment_contract"`
	LiquidationContract string      `yaml:"liquidation_contract"`
	Confirmations       int         `yaml:"confirmations"`
	ExplorerURL         string      `yaml:"explorer_url"`
	Tokens              []Token     `yaml:"tokens"`
}

// Token identifies an asset on a network. Amounts are always in base units.
type Token struct {
	NetworkID string `yaml:"network_id" json:"network_id"`
	Address   string `yaml:"address" json:"address"`
	Symbol    string `yaml:"symbol" json:"symbol"`
	Decimals  uint8  `yaml:"decimals" json:"decimals"`
}

// IsNative reports whether the token is the network's own coin.
func (t Token) IsNative() bool {
	addr := strings.TrimSpace(strings.ToLower(t.Address))
	return addr == "" || addr == NativeTokenAddress || addr == "0x0000000000000000000000000000000000000000"
}
