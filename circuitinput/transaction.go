package circuitinput

import (
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/holiman/uint256"

	"github.com/s4t0shi-n4k4m0t0/zkevm-circuits/operation"
	"github.com/s4t0shi-n4k4m0t0/zkevm-circuits/types"
)

// CallKind names how a call frame was launched.
type CallKind uint8

const (
	CallKindCall CallKind = iota
	CallKindCallCode
	CallKindDelegateCall
	CallKindStaticCall
	CallKindCreate
	CallKindCreate2
)

var callKindNames = [...]string{"CALL", "CALLCODE", "DELEGATECALL", "STATICCALL", "CREATE", "CREATE2"}

func (k CallKind) String() string {
	if int(k) < len(callKindNames) {
		return callKindNames[k]
	}
	return "CallKind(?)"
}

// IsCreate reports whether the kind deploys a contract.
func (k CallKind) IsCreate() bool { return k == CallKindCreate || k == CallKindCreate2 }

// CallKindOfOp maps a launch opcode to its kind.
func CallKindOfOp(op vm.OpCode) (CallKind, bool) {
	switch op {
	case vm.CALL:
		return CallKindCall, true
	case vm.CALLCODE:
		return CallKindCallCode, true
	case vm.DELEGATECALL:
		return CallKindDelegateCall, true
	case vm.STATICCALL:
		return CallKindStaticCall, true
	case vm.CREATE:
		return CallKindCreate, true
	case vm.CREATE2:
		return CallKindCreate2, true
	}
	return 0, false
}

// isCallOrCreate reports whether op launches a new frame.
func isCallOrCreate(op vm.OpCode) bool {
	_, ok := CallKindOfOp(op)
	return ok
}

// Call is one frame of the call stack. The id doubles as the global counter
// value at the frame's first operation, which keeps ids unique and
// monotonic across the block. After the frame pops, the struct stays
// read-only on the transaction for receipt and reversion bookkeeping.
type Call struct {
	ID       int
	CallerID int
	Kind     CallKind
	Depth    int

	IsRoot       bool
	IsStatic     bool
	IsPersistent bool
	IsSuccess    bool

	// RWCounterEndOfReversion is the counter of the last reversal replay
	// entry for this frame, zero for persistent frames. Known only once
	// the enclosing reversion completes; context operations recording it
	// are patched at finalize.
	RWCounterEndOfReversion uint64

	CallerAddress common.Address
	// Address is the storage context, CodeAddress the account whose code
	// runs. They differ for CALLCODE and DELEGATECALL.
	Address     common.Address
	CodeAddress common.Address
	CodeHash    common.Hash

	Value uint256.Int

	CallDataOffset   uint64
	CallDataLength   uint64
	ReturnDataOffset uint64
	ReturnDataLength uint64

	LastCalleeID               int
	LastCalleeReturnDataOffset uint64
	LastCalleeReturnDataLength uint64
}

// IsCreate reports whether the frame runs init code.
func (c *Call) IsCreate() bool { return c.Kind.IsCreate() }

// CallContext is the mutable per-frame replay state, alive only while the
// frame is on the stack.
type CallContext struct {
	// Index locates the frame's Call on the transaction.
	Index                  int
	ReversibleWriteCounter int
	CallData               []byte
	Memory                 *Memory
	ReturnData             []byte
}

type groupCall struct {
	// callIdx indexes the transaction's calls, offset counts the enclosing
	// frames' reversible writes pending at entry.
	callIdx int
	offset  int
}

// reversionGroup collects the reversible operations of one failing frame
// and every successful frame nested inside it.
type reversionGroup struct {
	calls  []groupCall
	opRefs []operation.Ref
}

// Transaction is one processed transaction: its decoded trace, the frames
// it created and the exec steps it produced.
type Transaction struct {
	Trace *types.TxTrace
	Calls []*Call
	Steps []*ExecStep
}

var errCallStackEmpty = errors.New("call context stack is empty")

// TransactionContext is the mutable replay state of one transaction.
type TransactionContext struct {
	ID    int
	LogID int
	// StepIndex is the position of the step being replayed, used to look
	// up pre-scanned launch outcomes.
	StepIndex int

	calls           []*CallContext
	reversionGroups []*reversionGroup
	callSuccess     map[int]bool
}

// NewTransactionContext pre-scans the trace so launch opcodes know their
// outcome before the child frame replays.
func NewTransactionContext(id int, trace *types.ExecTrace) *TransactionContext {
	return &TransactionContext{
		ID:          id,
		callSuccess: scanCallSuccess(trace.StructLogs),
	}
}

// CallCtx returns the live frame context.
func (tc *TransactionContext) CallCtx() (*CallContext, error) {
	if len(tc.calls) == 0 {
		return nil, errCallStackEmpty
	}
	return tc.calls[len(tc.calls)-1], nil
}

// CallerCtx returns the context of the live frame's parent.
func (tc *TransactionContext) CallerCtx() (*CallContext, error) {
	if len(tc.calls) < 2 {
		return nil, errCallStackEmpty
	}
	return tc.calls[len(tc.calls)-2], nil
}

// PushCallCtx enters a frame. A failing frame opens a fresh reversion
// group; a successful frame inside an open group joins it, offset by the
// caller's pending reversible writes.
func (tc *TransactionContext) PushCallCtx(callIdx int, callData []byte, isSuccess bool) {
	if !isSuccess {
		tc.reversionGroups = append(tc.reversionGroups, &reversionGroup{
			calls: []groupCall{{callIdx: callIdx, offset: 0}},
		})
	} else if len(tc.reversionGroups) > 0 {
		group := tc.reversionGroups[len(tc.reversionGroups)-1]
		last := group.calls[len(group.calls)-1]
		offset := last.offset
		if len(tc.calls) > 0 {
			offset += tc.calls[len(tc.calls)-1].ReversibleWriteCounter
		}
		group.calls = append(group.calls, groupCall{callIdx: callIdx, offset: offset})
	}
	tc.calls = append(tc.calls, &CallContext{
		Index:    callIdx,
		CallData: callData,
		Memory:   NewMemory(),
	})
}

// PopCallCtx leaves a frame. A successful frame hands its reversible write
// count to the caller, since those writes now belong to the caller's
// reversion window.
func (tc *TransactionContext) PopCallCtx(isSuccess bool) error {
	if len(tc.calls) == 0 {
		return errCallStackEmpty
	}
	popped := tc.calls[len(tc.calls)-1]
	tc.calls = tc.calls[:len(tc.calls)-1]
	if isSuccess && len(tc.calls) > 0 {
		tc.calls[len(tc.calls)-1].ReversibleWriteCounter += popped.ReversibleWriteCounter
	}
	return nil
}

// callIsSuccess reports the pre-scanned outcome of the launch at stepIdx.
func (tc *TransactionContext) callIsSuccess(stepIdx int) bool {
	return tc.callSuccess[stepIdx]
}

// scanCallSuccess resolves every launch opcode's outcome ahead of the
// replay. An entered frame succeeds when its closing step is a clean STOP,
// RETURN or SELFDESTRUCT; a launch that never enters succeeds when the
// next step's stack top is nonzero.
func scanCallSuccess(steps []*types.ExecStep) map[int]bool {
	outcome := make(map[int]bool)
	for i, step := range steps {
		if !isCallOrCreate(step.Op) {
			continue
		}
		if step.Error != "" || i+1 >= len(steps) {
			outcome[i] = false
			continue
		}
		next := steps[i+1]
		if next.Depth == step.Depth {
			// never entered: precompile, empty code, or a launch failure
			outcome[i] = !next.StackTop().IsZero()
			continue
		}
		outcome[i] = frameSucceeded(steps, i+1, step.Depth+1)
	}
	return outcome
}

// frameSucceeded inspects the closing step of the frame starting at start
// with the given depth.
func frameSucceeded(steps []*types.ExecStep, start, depth int) bool {
	last := -1
	for j := start; j < len(steps); j++ {
		if steps[j].Depth < depth {
			break
		}
		if steps[j].Depth == depth {
			last = j
		}
	}
	if last < 0 {
		return false
	}
	closing := steps[last]
	if closing.Error != "" {
		return false
	}
	switch closing.Op {
	case vm.STOP, vm.RETURN, vm.SELFDESTRUCT:
		return true
	}
	return false
}
