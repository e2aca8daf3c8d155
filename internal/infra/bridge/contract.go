package bridge

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Caller executes read-only contract calls.
type Caller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, block *big.Int) ([]byte, error)
}

// MustParseABI parses a JSON ABI definition and panics on failure.
func MustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("invalid abi: %v", err))
	}
	return parsed
}

// CallView packs method, calls contract at latest and unpacks the outputs.
func CallView(ctx context.Context, c Caller, contract common.Address, parsed abi.ABI, method string, args ...any) ([]any, error) {
	data, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	out, err := c.CallContract(ctx, ethereum.CallMsg{To: &contract, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	values, err := parsed.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	return values, nil
}

// LogsByTopic returns the logs of receipt emitted by address with topic0.
// A zero address matches any emitter.
func LogsByTopic(receipt *types.Receipt, address common.Address, topic common.Hash) []*types.Log {
	var logs []*types.Log
	for _, l := range receipt.Logs {
		if len(l.Topics) == 0 || l.Topics[0] != topic {
			continue
		}
		if address != (common.Address{}) && l.Address != address {
			continue
		}
		logs = append(logs, l)
	}
	return logs
}

// SelectLog picks logs[index] or returns ErrMessageNotFound.
func SelectLog(logs []*types.Log, index int, txHash common.Hash) (*types.Log, error) {
	if index < 0 || index >= len(logs) {
		return nil, fmt.Errorf("%w: index %d of %d in tx %s", ErrMessageNotFound, index, len(logs), txHash.Hex())
	}
	return logs[index], nil
}

// RelayGasLimit is used for relay transactions whose gas cannot be estimated
// reliably before the proof is verified on chain.
const RelayGasLimit uint64 = 1_500_000
