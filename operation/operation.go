// Package operation defines the typed bus operations recorded while
// replaying a block, and the container that assigns each one its slot in
// the global read/write counter order.
package operation

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// RW marks an operation as a read or a write of its target.
type RW uint8

const (
	Read RW = iota
	Write
)

// IsRead reports whether the operation reads its target.
func (rw RW) IsRead() bool { return rw == Read }

// IsWrite reports whether the operation writes its target.
func (rw RW) IsWrite() bool { return rw == Write }

func (rw RW) String() string {
	if rw == Read {
		return "READ"
	}
	return "WRITE"
}

// Target names the table an operation belongs to. The zero value is
// reserved so an empty Ref is visibly invalid.
type Target uint8

const (
	TargetStart Target = iota + 1
	TargetMemory
	TargetStack
	TargetStorage
	TargetTransientStorage
	TargetTxAccessListAccount
	TargetTxAccessListAccountStorage
	TargetTxRefund
	TargetAccount
	TargetCallContext
	TargetTxReceipt
	TargetTxLog
	// TargetStepState is reserved for the multi-chunk continuation protocol
	// and is never emitted by the builder today.
	TargetStepState
)

var targetNames = [...]string{
	TargetStart:                      "Start",
	TargetMemory:                     "Memory",
	TargetStack:                      "Stack",
	TargetStorage:                    "Storage",
	TargetTransientStorage:           "TransientStorage",
	TargetTxAccessListAccount:        "TxAccessListAccount",
	TargetTxAccessListAccountStorage: "TxAccessListAccountStorage",
	TargetTxRefund:                   "TxRefund",
	TargetAccount:                    "Account",
	TargetCallContext:                "CallContext",
	TargetTxReceipt:                  "TxReceipt",
	TargetTxLog:                      "TxLog",
	TargetStepState:                  "StepState",
}

func (t Target) String() string {
	if int(t) < len(targetNames) && targetNames[t] != "" {
		return targetNames[t]
	}
	return fmt.Sprintf("Target(%d)", t)
}

// Op is implemented by every concrete operation payload.
type Op interface {
	Target() Target
	String() string
}

// Operation is one recorded bus operation: a payload plus its position in
// the strict global order and its reversibility flag.
type Operation struct {
	RWC        uint64
	RW         RW
	Reversible bool
	Op         Op
}

func (op Operation) String() string {
	return fmt.Sprintf("%d %s %s", op.RWC, op.RW, op.Op)
}

// Ref locates an operation inside an OperationContainer.
type Ref struct {
	Target Target
	Index  int
}

// HashToUint256 interprets a hash as a big-endian word.
func HashToUint256(h common.Hash) uint256.Int {
	var v uint256.Int
	v.SetBytes(h[:])
	return v
}

// AddressToUint256 interprets an address as a big-endian word.
func AddressToUint256(a common.Address) uint256.Int {
	var v uint256.Int
	v.SetBytes(a[:])
	return v
}

// BoolToUint256 maps false to 0 and true to 1.
func BoolToUint256(b bool) uint256.Int {
	if b {
		return *uint256.NewInt(1)
	}
	return uint256.Int{}
}
