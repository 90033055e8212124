package transfer

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// ContractError is a decoded revert. Name is empty when the selector is not
// part of the contract ABI.
type ContractError struct {
	Name     string
	Selector [4]byte
	Args     []interface{}
}

func (e *ContractError) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("contract reverted with unknown error 0x%s", hex.EncodeToString(e.Selector[:]))
	}
	if len(e.Args) == 0 {
		return fmt.Sprintf("contract reverted: %s()", e.Name)
	}
	args := make([]string, len(e.Args))
	for i, a := range e.Args {
		args[i] = formatArg(a)
	}
	return fmt.Sprintf("contract reverted: %s(%s)", e.Name, strings.Join(args, ", "))
}

func formatArg(v interface{}) string {
	switch a := v.(type) {
	case [32]byte:
		return "0x" + hex.EncodeToString(a[:])
	case []byte:
		return "0x" + hex.EncodeToString(a)
	case common.Address:
		return a.Hex()
	default:
		return fmt.Sprint(a)
	}
}

// DecodeContractError decodes revert data against the custom errors of
// contractABI, then the standard Error(string) and Panic(uint256) forms.
// It returns nil when data is too short to carry a selector.
func DecodeContractError(contractABI abi.ABI, data []byte) *ContractError {
	if len(data) < 4 {
		return nil
	}
	ce := &ContractError{}
	copy(ce.Selector[:], data[:4])

	for name, e := range contractABI.Errors {
		if string(e.ID[:4]) != string(data[:4]) {
			continue
		}
		ce.Name = name
		if args, err := e.Inputs.Unpack(data[4:]); err == nil {
			ce.Args = args
		}
		return ce
	}

	if reason, err := abi.UnpackRevert(data); err == nil {
		ce.Name = "Error"
		ce.Args = []interface{}{reason}
	}
	return ce
}

// SyntheticTxHash derives a hash-shaped value from an error selector so a
// failed liquidation still has a deterministic reference.
func SyntheticTxHash(selector [4]byte) string {
	return "0x" + hex.EncodeToString(common.LeftPadBytes(selector[:], 32))
}
