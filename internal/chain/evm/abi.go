package evm

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const erc20ABIJSON = `[
  {"type":"function","name":"allowance","stateMutability":"view",
   "inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],
   "outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"approve","stateMutability":"nonpayable",
   "inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],
   "outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"balanceOf","stateMutability":"view",
   "inputs":[{"name":"account","type":"address"}],
   "outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"decimals","stateMutability":"view",
   "inputs":[],"outputs":[{"name":"","type":"uint8"}]}
]`

// paymentABIJSON is the PMM payment entry point used for swap settlements.
const paymentABIJSON = `[
  {"type":"function","name":"payment","stateMutability":"payable",
   "inputs":[
     {"name":"tradeId","type":"bytes32"},
     {"name":"token","type":"address"},
     {"name":"toUser","type":"address"},
     {"name":"amount","type":"uint256"},
     {"name":"protocolFee","type":"uint256"},
     {"name":"deadline","type":"uint256"}],
   "outputs":[]},
  {"type":"error","name":"InvalidDeadline","inputs":[]},
  {"type":"error","name":"InvalidPaymentAmount","inputs":[]},
  {"type":"error","name":"Unauthorized","inputs":[]},
  {"type":"error","name":"TradeAlreadyPaid","inputs":[{"name":"tradeId","type":"bytes32"}]},
  {"type":"error","name":"InsufficientAllowance","inputs":[{"name":"required","type":"uint256"},{"name":"actual","type":"uint256"}]},
  {"type":"error","name":"ProtocolFeeTooHigh","inputs":[{"name":"fee","type":"uint256"},{"name":"amount","type":"uint256"}]}
]`

// liquidationABIJSON is the lending payout entry point. The router signs
// (tradeId, positionId, amount, deadline) before the PMM may pay.
const liquidationABIJSON = `[
  {"type":"function","name":"liquidatePayment","stateMutability":"payable",
   "inputs":[
     {"name":"tradeId","type":"bytes32"},
     {"name":"positionId","type":"bytes32"},
     {"name":"token","type":"address"},
     {"name":"toUser","type":"address"},
     {"name":"amount","type":"uint256"},
     {"name":"protocolFee","type":"uint256"},
     {"name":"deadline","type":"uint256"},
     {"name":"signature","type":"bytes"}],
   "outputs":[]},
  {"type":"error","name":"InvalidSignature","inputs":[]},
  {"type":"error","name":"DeadlineExpired","inputs":[{"name":"deadline","type":"uint256"}]},
  {"type":"error","name":"PositionNotLiquidatable","inputs":[{"name":"positionId","type":"bytes32"}]},
  {"type":"error","name":"PositionAlreadyClosed","inputs":[{"name":"positionId","type":"bytes32"}]},
  {"type":"error","name":"TradeAlreadyPaid","inputs":[{"name":"tradeId","type":"bytes32"}]}
]`

var (
	ERC20ABI       = mustParseABI("erc20", erc20ABIJSON)
	PaymentABI     = mustParseABI("payment", paymentABIJSON)
	LiquidationABI = mustParseABI("liquidation", liquidationABIJSON)
)

func mustParseABI(name, raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("parse %s abi: %v", name, err))
	}
	return parsed
}
