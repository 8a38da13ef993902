package circuitinput

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/ethereum/go-ethereum/log"
	gethparams "github.com/ethereum/go-ethereum/params"

	"github.com/s4t0shi-n4k4m0t0/zkevm-circuits/params"
	"github.com/s4t0shi-n4k4m0t0/zkevm-circuits/state"
	"github.com/s4t0shi-n4k4m0t0/zkevm-circuits/types"
)

// Fatal builder errors. These indicate a trace that violates the builder's
// assumptions; the produced log must be discarded.
var (
	ErrAccountNotFound   = errors.New("account not found in state")
	ErrCodeNotFound      = errors.New("code not found in code db")
	ErrCreationCollision = errors.New("contract deployment collision")
	ErrGasMismatch       = errors.New("gas cost reconciliation failed")
	ErrMemoryMismatch    = errors.New("memory mirror diverged from trace")
	ErrUnexpectedStep    = errors.New("unexpected execution step")
	ErrTraceTruncated    = errors.New("trace ended inside an open frame")
)

// ExecError classifies a declared or derived failure of one step. The zero
// value means the step succeeded.
type ExecError uint8

const (
	ErrNone ExecError = iota
	ErrInvalidJump
	ErrInvalidOpcode
	ErrStackOverflow
	ErrStackUnderflow
	ErrWriteProtection
	ErrDepthCall
	ErrDepthCreate
	ErrDepthCreate2
	ErrInsufficientBalanceCall
	ErrInsufficientBalanceCreate
	ErrInsufficientBalanceCreate2
	ErrNonceUintOverflowCreate
	ErrNonceUintOverflowCreate2
	ErrContractAddressCollisionCreate
	ErrContractAddressCollisionCreate2
	ErrCodeStoreOutOfGas
	ErrMaxCodeSizeExceeded
	ErrInvalidCreationCode
	ErrReturnDataOutOfBounds
	ErrPrecompileFailed
	ErrOOGConstant
	ErrOOGCall
	ErrOOGCreate
	ErrOOGLog
	ErrOOGExp
	ErrOOGSha3
	ErrOOGMemoryCopy
	ErrOOGSloadSstore
	ErrOOGAccountAccess
	ErrOOGStaticMemoryExpansion
	ErrOOGDynamicMemoryExpansion
	ErrUnknown
)

var execErrorNames = [...]string{
	"None", "InvalidJump", "InvalidOpcode", "StackOverflow", "StackUnderflow",
	"WriteProtection", "DepthCall", "DepthCreate", "DepthCreate2",
	"InsufficientBalanceCall", "InsufficientBalanceCreate", "InsufficientBalanceCreate2",
	"NonceUintOverflowCreate", "NonceUintOverflowCreate2",
	"ContractAddressCollisionCreate", "ContractAddressCollisionCreate2",
	"CodeStoreOutOfGas", "MaxCodeSizeExceeded", "InvalidCreationCode",
	"ReturnDataOutOfBounds", "PrecompileFailed",
	"OutOfGasConstant", "OutOfGasCall", "OutOfGasCreate", "OutOfGasLog",
	"OutOfGasExp", "OutOfGasSha3", "OutOfGasMemoryCopy", "OutOfGasSloadSstore",
	"OutOfGasAccountAccess", "OutOfGasStaticMemoryExpansion",
	"OutOfGasDynamicMemoryExpansion", "Unknown",
}

func (e ExecError) String() string {
	if int(e) < len(execErrorNames) {
		return execErrorNames[e]
	}
	return fmt.Sprintf("ExecError(%d)", e)
}

// oogErrorFor selects the out-of-gas subtype from the failing opcode.
func oogErrorFor(op vm.OpCode) ExecError {
	switch {
	case op >= vm.LOG0 && op <= vm.LOG4:
		return ErrOOGLog
	}
	switch op {
	case vm.MLOAD, vm.MSTORE, vm.MSTORE8:
		return ErrOOGStaticMemoryExpansion
	case vm.RETURN, vm.REVERT:
		return ErrOOGDynamicMemoryExpansion
	case vm.CALLDATACOPY, vm.CODECOPY, vm.EXTCODECOPY, vm.RETURNDATACOPY, vm.MCOPY:
		return ErrOOGMemoryCopy
	case vm.BALANCE, vm.EXTCODESIZE, vm.EXTCODEHASH:
		return ErrOOGAccountAccess
	case vm.EXP:
		return ErrOOGExp
	case vm.KECCAK256:
		return ErrOOGSha3
	case vm.CALL, vm.CALLCODE, vm.DELEGATECALL, vm.STATICCALL:
		return ErrOOGCall
	case vm.SLOAD, vm.SSTORE:
		return ErrOOGSloadSstore
	case vm.CREATE, vm.CREATE2:
		return ErrOOGCreate
	default:
		return ErrOOGConstant
	}
}

func depthErrorFor(op vm.OpCode) ExecError {
	switch op {
	case vm.CREATE:
		return ErrDepthCreate
	case vm.CREATE2:
		return ErrDepthCreate2
	default:
		return ErrDepthCall
	}
}

func balanceErrorFor(op vm.OpCode) ExecError {
	switch op {
	case vm.CREATE:
		return ErrInsufficientBalanceCreate
	case vm.CREATE2:
		return ErrInsufficientBalanceCreate2
	default:
		return ErrInsufficientBalanceCall
	}
}

// reportedError maps a declared trace error string onto the taxonomy. The
// node reports a few kinds through dynamic messages, hence the prefix
// matches.
func reportedError(op vm.OpCode, msg string) ExecError {
	switch {
	case strings.HasPrefix(msg, vm.ErrOutOfGas.Error()),
		msg == vm.ErrGasUintOverflow.Error():
		return oogErrorFor(op)
	case msg == vm.ErrCodeStoreOutOfGas.Error():
		return ErrCodeStoreOutOfGas
	case strings.HasPrefix(msg, "stack underflow"):
		return ErrStackUnderflow
	case strings.HasPrefix(msg, "stack limit reached"):
		return ErrStackOverflow
	case strings.HasPrefix(msg, "invalid opcode"):
		return ErrInvalidOpcode
	case msg == vm.ErrInvalidJump.Error():
		return ErrInvalidJump
	case msg == vm.ErrWriteProtection.Error():
		return ErrWriteProtection
	case msg == vm.ErrDepth.Error():
		return depthErrorFor(op)
	case msg == vm.ErrInsufficientBalance.Error():
		return balanceErrorFor(op)
	case msg == vm.ErrNonceUintOverflow.Error():
		if op == vm.CREATE2 {
			return ErrNonceUintOverflowCreate2
		}
		return ErrNonceUintOverflowCreate
	case msg == vm.ErrContractAddressCollision.Error():
		if op == vm.CREATE2 {
			return ErrContractAddressCollisionCreate2
		}
		return ErrContractAddressCollisionCreate
	case msg == vm.ErrMaxCodeSizeExceeded.Error(),
		msg == vm.ErrMaxInitCodeSizeExceeded.Error():
		return ErrMaxCodeSizeExceeded
	case msg == vm.ErrInvalidCode.Error():
		return ErrInvalidCreationCode
	case msg == vm.ErrReturnDataOutOfBounds.Error():
		return ErrReturnDataOutOfBounds
	default:
		log.Warn("Unrecognized step error", "op", op, "err", msg)
		return ErrUnknown
	}
}

// getStepError decides whether the current step failed, combining the
// trace's declared error with bounds derived from the snapshot. A revert
// is not an error here; the REVERT handler models it as a normal exit.
func (s *StateRef) getStepError(steps []*types.ExecStep) (ExecError, error) {
	cur := steps[0]
	if cur.Error != "" {
		if cur.Op == vm.REVERT && cur.Error == vm.ErrExecutionReverted.Error() {
			return ErrNone, nil
		}
		return reportedError(cur.Op, cur.Error), nil
	}
	if cur.Op == vm.INVALID {
		return ErrInvalidOpcode, nil
	}
	if pops, pushes, ok := opStackCounts(cur.Op); ok {
		if cur.StackLen() < pops {
			return ErrStackUnderflow, nil
		}
		if cur.StackLen()-pops+pushes > params.StackLimit {
			return ErrStackOverflow, nil
		}
	}
	if len(steps) < 2 {
		return ErrNone, nil
	}
	next := steps[1]
	call, err := s.Call()
	if err != nil {
		return ErrNone, err
	}

	// A launch that stays at the same depth with a zero result failed
	// before the child executed a single step.
	if isCallOrCreate(cur.Op) && next.Depth == cur.Depth && next.StackTop().IsZero() {
		return s.classifyLaunchFailure(cur, call)
	}

	// The frame died here without a terminating opcode.
	if next.Depth == cur.Depth-1 {
		switch cur.Op {
		case vm.STOP, vm.RETURN, vm.REVERT, vm.SELFDESTRUCT:
		case vm.JUMP, vm.JUMPI:
			return ErrInvalidJump, nil
		case vm.RETURNDATACOPY:
			return ErrReturnDataOutOfBounds, nil
		default:
			if call.IsStatic && isStateMutating(cur.Op) {
				return ErrWriteProtection, nil
			}
			return ErrNone, fmt.Errorf("%w: frame died at %s pc %d", ErrUnexpectedStep, cur.Op, cur.PC)
		}
	}

	// Failed create frames surface their code deposit error on RETURN.
	if cur.Op == vm.RETURN && call.IsCreate() && !call.IsSuccess {
		return s.classifyDepositFailure(cur)
	}
	return ErrNone, nil
}

func (s *StateRef) classifyLaunchFailure(cur *types.ExecStep, call *Call) (ExecError, error) {
	if cur.Depth >= params.CallCreateDepth {
		return depthErrorFor(cur.Op), nil
	}
	var value, target int
	switch cur.Op {
	case vm.CALL, vm.CALLCODE:
		value, target = 2, 1
	case vm.DELEGATECALL, vm.STATICCALL:
		value, target = -1, 1
	case vm.CREATE, vm.CREATE2:
		value, target = 0, -1
	}
	if value >= 0 {
		transfer := cur.StackBack(value)
		if transfer.Gt(s.sdb.GetBalance(call.Address)) {
			return balanceErrorFor(cur.Op), nil
		}
	}
	if cur.Op == vm.CREATE || cur.Op == vm.CREATE2 {
		if s.sdb.GetNonce(call.Address) == math.MaxUint64 {
			if cur.Op == vm.CREATE2 {
				return ErrNonceUintOverflowCreate2, nil
			}
			return ErrNonceUintOverflowCreate, nil
		}
		contract := s.createdAddress(cur, call)
		_, acc := s.sdb.GetAccount(contract)
		if acc.Nonce > 0 || (acc.CodeHash != (common.Hash{}) && acc.CodeHash != state.EmptyCodeHash) {
			if cur.Op == vm.CREATE2 {
				return ErrContractAddressCollisionCreate2, nil
			}
			return ErrContractAddressCollisionCreate, nil
		}
	}
	if target >= 0 && isPrecompileAddress(addressFromWord(cur.StackBack(target))) {
		return ErrPrecompileFailed, nil
	}
	return ErrNone, fmt.Errorf("%w: %s failed without a classifiable cause at pc %d", ErrUnexpectedStep, cur.Op, cur.PC)
}

func (s *StateRef) classifyDepositFailure(cur *types.ExecStep) (ExecError, error) {
	callCtx, err := s.CallCtx()
	if err != nil {
		return ErrNone, err
	}
	offset := lowU64(cur.StackBack(0))
	length := lowU64(cur.StackBack(1))
	if length > 0 && callCtx.Memory.Byte(offset) == 0xEF {
		return ErrInvalidCreationCode, nil
	}
	if length > gethparams.MaxCodeSize {
		return ErrMaxCodeSizeExceeded, nil
	}
	return ErrCodeStoreOutOfGas, nil
}

func isStateMutating(op vm.OpCode) bool {
	if op >= vm.LOG0 && op <= vm.LOG4 {
		return true
	}
	switch op {
	case vm.SSTORE, vm.TSTORE, vm.CREATE, vm.CREATE2, vm.SELFDESTRUCT:
		return true
	}
	return false
}
