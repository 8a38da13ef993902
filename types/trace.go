// Package types models the execution traces consumed by the circuit input
// builder: per-step struct logs, per-transaction metadata and the per-block
// envelope, in the JSON layout produced by the node's struct logger and
// prestate tracer.
package types

import (
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/holiman/uint256"

	"github.com/s4t0shi-n4k4m0t0/zkevm-circuits/params"
)

// ExecStep is one instruction of a struct-log trace. Stack entries are
// bottom-to-top; memory, when the tracer captured it, is the full byte image
// of the executing frame.
type ExecStep struct {
	PC         uint64
	Op         vm.OpCode
	Gas        uint64
	GasCost    uint64
	Depth      int
	Error      string
	Stack      []hexutil.U256
	Memory     hexutil.Bytes
	ReturnData hexutil.Bytes
	Refund     uint64
}

type execStepJSON struct {
	PC         uint64         `json:"pc"`
	Op         string         `json:"op"`
	Gas        uint64         `json:"gas"`
	GasCost    uint64         `json:"gasCost"`
	Depth      int            `json:"depth"`
	Error      string         `json:"error,omitempty"`
	Stack      []hexutil.U256 `json:"stack,omitempty"`
	Memory     hexutil.Bytes  `json:"memory,omitempty"`
	ReturnData hexutil.Bytes  `json:"returnData,omitempty"`
	Refund     uint64         `json:"refund,omitempty"`
}

// MarshalJSON encodes the step with the struct logger's field set, the opcode
// as its mnemonic.
func (s ExecStep) MarshalJSON() ([]byte, error) {
	return json.Marshal(&execStepJSON{
		PC:         s.PC,
		Op:         s.Op.String(),
		Gas:        s.Gas,
		GasCost:    s.GasCost,
		Depth:      s.Depth,
		Error:      s.Error,
		Stack:      s.Stack,
		Memory:     s.Memory,
		ReturnData: s.ReturnData,
		Refund:     s.Refund,
	})
}

// UnmarshalJSON decodes a struct-log step, resolving the opcode mnemonic.
func (s *ExecStep) UnmarshalJSON(input []byte) error {
	var dec execStepJSON
	if err := json.Unmarshal(input, &dec); err != nil {
		return err
	}
	op, err := OpFromString(dec.Op)
	if err != nil {
		return err
	}
	*s = ExecStep{
		PC:         dec.PC,
		Op:         op,
		Gas:        dec.Gas,
		GasCost:    dec.GasCost,
		Depth:      dec.Depth,
		Error:      dec.Error,
		Stack:      dec.Stack,
		Memory:     dec.Memory,
		ReturnData: dec.ReturnData,
		Refund:     dec.Refund,
	}
	return nil
}

// OpFromString resolves a struct-log opcode mnemonic. Both KECCAK256 and the
// legacy SHA3 spelling are accepted.
func OpFromString(name string) (vm.OpCode, error) {
	if name == "SHA3" {
		return vm.KECCAK256, nil
	}
	op := vm.StringToOp(name)
	if op == vm.STOP && name != "STOP" && name != "" {
		return 0, fmt.Errorf("unknown opcode %q", name)
	}
	return op, nil
}

// StackLen returns the stack depth at this step.
func (s *ExecStep) StackLen() int { return len(s.Stack) }

// StackBack returns the n-th value from the top of the stack (0 is the top).
// Positions beyond the stack read as zero; the dispatch engine validates
// depth against the opcode's pop count before any handler dereferences the
// stack.
func (s *ExecStep) StackBack(n int) *uint256.Int {
	if n < 0 || n >= len(s.Stack) {
		return new(uint256.Int)
	}
	return (*uint256.Int)(&s.Stack[len(s.Stack)-1-n])
}

// StackTop returns the top of the stack, zero when empty.
func (s *ExecStep) StackTop() *uint256.Int { return s.StackBack(0) }

// ExecTrace is the struct logger's result for one transaction: total gas
// used, the declared success flag and one ExecStep per instruction.
type ExecTrace struct {
	Gas         uint64        `json:"gas"`
	Failed      bool          `json:"failed"`
	ReturnValue hexutil.Bytes `json:"returnValue,omitempty"`
	StructLogs  []*ExecStep   `json:"structLogs"`
}

// TxTrace carries the transaction metadata the builder needs alongside the
// struct logs. A nil To marks contract creation. L1 fee parameters are the
// oracle values current at execution and the last committed ones; both are
// nil for bridged L1 messages.
type TxTrace struct {
	Type           uint8                `json:"type"`
	Nonce          hexutil.Uint64       `json:"nonce"`
	From           common.Address       `json:"from"`
	To             *common.Address      `json:"to"`
	Gas            hexutil.Uint64       `json:"gas"`
	GasPrice       *hexutil.Big         `json:"gasPrice"`
	Value          *hexutil.Big         `json:"value"`
	Data           hexutil.Bytes        `json:"input"`
	AccessList     gethtypes.AccessList `json:"accessList,omitempty"`
	L1Fee          *L1FeeParams         `json:"l1Fee,omitempty"`
	L1FeeCommitted *L1FeeParams         `json:"l1FeeCommitted,omitempty"`
}

// IsCreate reports whether the transaction deploys a contract.
func (tx *TxTrace) IsCreate() bool { return tx.To == nil }

// IsL1Msg reports whether the transaction was injected by the L1 bridge.
func (tx *TxTrace) IsL1Msg() bool { return tx.Type == params.L1MessageTxType }

// ValueInt returns the transferred value as a uint256.
func (tx *TxTrace) ValueInt() *uint256.Int { return bigToU256(tx.Value) }

// GasPriceInt returns the effective gas price as a uint256.
func (tx *TxTrace) GasPriceInt() *uint256.Int { return bigToU256(tx.GasPrice) }

func bigToU256(b *hexutil.Big) *uint256.Int {
	if b == nil {
		return new(uint256.Int)
	}
	v, _ := uint256.FromBig(b.ToInt())
	return v
}

// AccountTrace is one account of the pre-state, in the prestate tracer's
// layout.
type AccountTrace struct {
	Nonce   hexutil.Uint64              `json:"nonce"`
	Balance *hexutil.Big                `json:"balance"`
	Code    hexutil.Bytes               `json:"code,omitempty"`
	Storage map[common.Hash]common.Hash `json:"storage,omitempty"`
}

// BlockTrace bundles everything the builder consumes for one block: header
// fields, per-transaction metadata and struct logs in execution order, and
// the touched pre-state.
type BlockTrace struct {
	ChainID          hexutil.Uint64                   `json:"chainId"`
	Coinbase         common.Address                   `json:"coinbase"`
	Number           hexutil.Uint64                   `json:"number"`
	Time             hexutil.Uint64                   `json:"timestamp"`
	GasLimit         hexutil.Uint64                   `json:"gasLimit"`
	BaseFee          *hexutil.Big                     `json:"baseFee,omitempty"`
	Transactions     []*TxTrace                       `json:"transactions"`
	ExecutionResults []*ExecTrace                     `json:"executionResults"`
	Prestate         map[common.Address]*AccountTrace `json:"prestate,omitempty"`
}

// BaseFeeInt returns the block base fee as a uint256, zero when absent.
func (bt *BlockTrace) BaseFeeInt() *uint256.Int { return bigToU256(bt.BaseFee) }
