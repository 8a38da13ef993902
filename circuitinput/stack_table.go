package circuitinput

import "github.com/ethereum/go-ethereum/core/vm"

// opStackCounts returns the stack items an opcode consumes and produces.
// Unknown opcodes return ok=false; they cannot underflow or overflow
// because they halt with an invalid-opcode failure instead.
func opStackCounts(op vm.OpCode) (pops, pushes int, ok bool) {
	switch {
	case op.IsPush():
		return 0, 1, true
	case op >= vm.DUP1 && op <= vm.DUP16:
		n := int(op-vm.DUP1) + 1
		return n, n + 1, true
	case op >= vm.SWAP1 && op <= vm.SWAP16:
		n := int(op-vm.SWAP1) + 2
		return n, n, true
	case op >= vm.LOG0 && op <= vm.LOG4:
		return int(op-vm.LOG0) + 2, 0, true
	}
	switch op {
	case vm.STOP, vm.JUMPDEST, vm.INVALID:
		return 0, 0, true
	case vm.ADD, vm.MUL, vm.SUB, vm.DIV, vm.SDIV, vm.MOD, vm.SMOD, vm.EXP,
		vm.SIGNEXTEND, vm.LT, vm.GT, vm.SLT, vm.SGT, vm.EQ, vm.AND, vm.OR,
		vm.XOR, vm.BYTE, vm.SHL, vm.SHR, vm.SAR, vm.KECCAK256:
		return 2, 1, true
	case vm.ADDMOD, vm.MULMOD:
		return 3, 1, true
	case vm.ISZERO, vm.NOT, vm.BALANCE, vm.CALLDATALOAD, vm.EXTCODESIZE,
		vm.EXTCODEHASH, vm.BLOCKHASH, vm.MLOAD, vm.SLOAD, vm.TLOAD, vm.BLOBHASH:
		return 1, 1, true
	case vm.ADDRESS, vm.ORIGIN, vm.CALLER, vm.CALLVALUE, vm.CALLDATASIZE,
		vm.CODESIZE, vm.GASPRICE, vm.RETURNDATASIZE, vm.COINBASE, vm.TIMESTAMP,
		vm.NUMBER, vm.PREVRANDAO, vm.GASLIMIT, vm.CHAINID, vm.SELFBALANCE,
		vm.BASEFEE, vm.BLOBBASEFEE, vm.PC, vm.MSIZE, vm.GAS:
		return 0, 1, true
	case vm.CALLDATACOPY, vm.CODECOPY, vm.RETURNDATACOPY, vm.MCOPY:
		return 3, 0, true
	case vm.EXTCODECOPY:
		return 4, 0, true
	case vm.POP, vm.JUMP, vm.SELFDESTRUCT:
		return 1, 0, true
	case vm.MSTORE, vm.MSTORE8, vm.SSTORE, vm.TSTORE, vm.JUMPI,
		vm.RETURN, vm.REVERT:
		return 2, 0, true
	case vm.CREATE:
		return 3, 1, true
	case vm.CREATE2:
		return 4, 1, true
	case vm.CALL, vm.CALLCODE:
		return 7, 1, true
	case vm.DELEGATECALL, vm.STATICCALL:
		return 6, 1, true
	default:
		return 0, 0, false
	}
}
