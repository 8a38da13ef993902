package circuitinput

import (
	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/ethereum/go-ethereum/log"

	"github.com/s4t0shi-n4k4m0t0/zkevm-circuits/types"
)

// stepHandler emits the bus operations of one trace step. steps[0] is the
// step being replayed, the tail provides lookahead into the same
// transaction.
type stepHandler func(s *StateRef, step *ExecStep, steps []*types.ExecStep) error

// handlerTable dispatches opcodes to their handlers. A nil entry falls
// back to a bare step with no operations.
type handlerTable [256]stepHandler

func newHandlerTable() *handlerTable {
	tbl := new(handlerTable)

	tbl[vm.STOP] = opStop
	for _, op := range []vm.OpCode{
		vm.ADD, vm.MUL, vm.SUB, vm.DIV, vm.SDIV, vm.MOD, vm.SMOD,
		vm.SIGNEXTEND, vm.LT, vm.GT, vm.SLT, vm.SGT, vm.EQ, vm.AND,
		vm.OR, vm.XOR, vm.BYTE, vm.SHL, vm.SHR, vm.SAR, vm.EXP,
	} {
		tbl[op] = makeStackHandler(2, 1)
	}
	tbl[vm.ADDMOD] = makeStackHandler(3, 1)
	tbl[vm.MULMOD] = makeStackHandler(3, 1)
	tbl[vm.ISZERO] = makeStackHandler(1, 1)
	tbl[vm.NOT] = makeStackHandler(1, 1)
	tbl[vm.KECCAK256] = opSha3

	tbl[vm.ADDRESS] = makeCallContextPush(addressWordOf)
	tbl[vm.BALANCE] = makeAccountReadHandler(accountReadBalance)
	tbl[vm.ORIGIN] = opTxValuePush
	tbl[vm.CALLER] = makeCallContextPush(callerWordOf)
	tbl[vm.CALLVALUE] = makeCallContextPush(valueWordOf)
	tbl[vm.CALLDATALOAD] = opCalldataload
	tbl[vm.CALLDATASIZE] = makeCallContextPush(callDataLengthWordOf)
	tbl[vm.CALLDATACOPY] = opCalldatacopy
	tbl[vm.CODESIZE] = opCodesize
	tbl[vm.CODECOPY] = opCodecopy
	tbl[vm.GASPRICE] = opTxValuePush
	tbl[vm.EXTCODESIZE] = makeAccountReadHandler(accountReadCodeSizeHash)
	tbl[vm.EXTCODECOPY] = opExtcodecopy
	tbl[vm.RETURNDATASIZE] = makeCallContextPush(lastCalleeReturnLengthWordOf)
	tbl[vm.RETURNDATACOPY] = opReturndatacopy
	tbl[vm.EXTCODEHASH] = makeAccountReadHandler(accountReadCodeSizeHash)

	// Block header values come straight from the trace header; only the
	// stack movement is recorded.
	tbl[vm.BLOCKHASH] = makeStackHandler(1, 1)
	for _, op := range []vm.OpCode{
		vm.COINBASE, vm.TIMESTAMP, vm.NUMBER, vm.PREVRANDAO,
		vm.GASLIMIT, vm.CHAINID, vm.BASEFEE, vm.BLOBBASEFEE,
	} {
		tbl[op] = makeStackHandler(0, 1)
	}
	tbl[vm.BLOBHASH] = makeStackHandler(1, 1)
	tbl[vm.SELFBALANCE] = opSelfbalance

	tbl[vm.POP] = makeStackHandler(1, 0)
	tbl[vm.MLOAD] = opMload
	tbl[vm.MSTORE] = makeMstoreHandler(32)
	tbl[vm.MSTORE8] = makeMstoreHandler(1)
	tbl[vm.SLOAD] = opSload
	tbl[vm.SSTORE] = opSstore
	tbl[vm.JUMP] = makeStackHandler(1, 0)
	tbl[vm.JUMPI] = makeStackHandler(2, 0)
	tbl[vm.PC] = makeStackHandler(0, 1)
	tbl[vm.MSIZE] = makeStackHandler(0, 1)
	tbl[vm.GAS] = makeStackHandler(0, 1)
	tbl[vm.JUMPDEST] = opNoop
	tbl[vm.TLOAD] = opTload
	tbl[vm.TSTORE] = opTstore
	tbl[vm.MCOPY] = opMcopy

	for op := vm.PUSH0; op <= vm.PUSH32; op++ {
		tbl[op] = makeStackHandler(0, 1)
	}
	for i := 0; i < 16; i++ {
		tbl[vm.DUP1+vm.OpCode(i)] = makeDupHandler(i + 1)
		tbl[vm.SWAP1+vm.OpCode(i)] = makeSwapHandler(i + 1)
	}
	for i := 0; i <= 4; i++ {
		tbl[vm.LOG0+vm.OpCode(i)] = makeLogHandler(i)
	}

	tbl[vm.CREATE] = opCreate
	tbl[vm.CREATE2] = opCreate
	tbl[vm.CALL] = opCall
	tbl[vm.CALLCODE] = opCall
	tbl[vm.DELEGATECALL] = opCall
	tbl[vm.STATICCALL] = opCall
	tbl[vm.RETURN] = opReturnRevert
	tbl[vm.REVERT] = opReturnRevert
	tbl[vm.SELFDESTRUCT] = opSelfdestruct

	return tbl
}

// errorHandler picks the handler for a classified failure. Depth failures
// reuse the launch handlers, which model them as a never-entered child.
// A nil result sends the step to the generic failure path.
func errorHandler(execErr ExecError) stepHandler {
	switch execErr {
	case ErrInvalidJump:
		return errorInvalidJump
	case ErrOOGCall:
		return errorOOGCall
	case ErrOOGLog:
		return errorOOGLog
	case ErrOOGMemoryCopy:
		return errorOOGMemoryCopy
	case ErrOOGSloadSstore:
		return errorOOGSloadSstore
	case ErrOOGAccountAccess:
		return errorOOGAccountAccess
	case ErrOOGStaticMemoryExpansion:
		return makeErrorStackReads(1)
	case ErrOOGDynamicMemoryExpansion, ErrOOGExp, ErrOOGSha3:
		return makeErrorStackReads(2)
	case ErrOOGCreate:
		return errorOOGCreate
	case ErrCodeStoreOutOfGas, ErrMaxCodeSizeExceeded:
		return errorCodeStore
	case ErrInvalidCreationCode:
		return errorCreationCode
	case ErrPrecompileFailed:
		return errorPrecompileFailed
	case ErrWriteProtection:
		return errorWriteProtection
	case ErrReturnDataOutOfBounds:
		return errorReturnDataOutOfBound
	case ErrDepthCall:
		return opCall
	case ErrDepthCreate, ErrDepthCreate2:
		return opCreate
	default:
		return nil
	}
}

// genAssociatedOps replays one step: it validates the memory mirror,
// allocates the exec step, classifies failures and runs the opcode
// handler.
func (s *StateRef) genAssociatedOps(table *handlerTable, steps []*types.ExecStep) (*ExecStep, error) {
	cur := steps[0]
	if err := s.checkMemoryMirror(cur); err != nil {
		return nil, err
	}
	step, err := s.NewStep(cur)
	if err != nil {
		return nil, err
	}

	execErr, err := s.getStepError(steps)
	if err != nil {
		return nil, err
	}
	if execErr != ErrNone {
		step.Error = execErr
		stepErrorCounter.Inc(1)
		if handler := errorHandler(execErr); handler != nil {
			return step, handler(s, step, steps)
		}
		return step, s.handleGenericFailure(step, steps, execErr)
	}

	handler := table[cur.Op]
	if handler == nil {
		log.Debug("No handler for opcode, emitting bare step", "op", cur.Op, "pc", cur.PC)
		stepDummyCounter.Inc(1)
		return step, nil
	}
	return step, handler(s, step, steps)
}

// isLaunchFailure reports whether the error aborted a call or create
// before its child frame ran. The operand stack is known to be intact
// for these, so the child can still be parsed.
func isLaunchFailure(execErr ExecError) bool {
	switch execErr {
	case ErrInsufficientBalanceCall, ErrInsufficientBalanceCreate, ErrInsufficientBalanceCreate2,
		ErrNonceUintOverflowCreate, ErrNonceUintOverflowCreate2,
		ErrContractAddressCollisionCreate, ErrContractAddressCollisionCreate2:
		return true
	}
	return false
}

// handleGenericFailure closes the failing frame without opcode-specific
// operations. A failed launch still registers its never-entered child so
// frame ids and reversion bookkeeping stay balanced; the parent frame
// lives on, so no caller restore is emitted. Every other failure kills
// the frame it ran in.
func (s *StateRef) handleGenericFailure(step *ExecStep, steps []*types.ExecStep, execErr ExecError) error {
	cur := steps[0]
	log.Debug("Handling step failure generically", "op", cur.Op, "err", execErr, "pc", cur.PC)
	if isLaunchFailure(execErr) {
		call, callData, err := s.ParseCall(cur)
		if err != nil {
			return err
		}
		s.PushCall(call, callData)
		return s.HandleReturn(step, steps, false)
	}
	return s.HandleReturn(step, steps, true)
}
