package circuitinput

import (
	"fmt"

	"github.com/ethereum/go-ethereum/core/vm"

	"github.com/s4t0shi-n4k4m0t0/zkevm-circuits/operation"
)

// ExecState distinguishes real instruction steps from the synthetic
// transaction boundary steps.
type ExecState uint8

const (
	ExecStateOp ExecState = iota
	ExecStateBeginTx
	ExecStateEndTx
)

func (s ExecState) String() string {
	switch s {
	case ExecStateBeginTx:
		return "BEGIN_TX"
	case ExecStateEndTx:
		return "END_TX"
	default:
		return "OP"
	}
}

// ExecStep is one trace step's projection into the circuit input: its
// position, the frame it ran in, and references to every bus operation it
// produced, in emission order. Steps are append-only once returned; only
// the producing handler sets Error and corrects GasCost.
type ExecStep struct {
	State ExecState
	// Op is meaningful only when State is ExecStateOp.
	Op vm.OpCode

	PC         uint64
	StackSize  int
	MemorySize uint64
	GasLeft    uint64
	GasCost    uint64

	CallIndex              int
	RWCounter              uint64
	ReversibleWriteCounter int
	LogID                  int

	Error ExecError

	BusMappingInstance []operation.Ref

	// CopyRWCounterDelta counts the operations emitted through copy events,
	// which the copy circuit re-reads as one contiguous counter range.
	CopyRWCounterDelta uint64
}

func (s *ExecStep) String() string {
	if s.State != ExecStateOp {
		return fmt.Sprintf("%s rwc=%d", s.State, s.RWCounter)
	}
	return fmt.Sprintf("%s pc=%d rwc=%d", s.Op, s.PC, s.RWCounter)
}
