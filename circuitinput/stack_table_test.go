package circuitinput

import (
	"testing"

	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/stretchr/testify/require"
)

func TestOpStackCounts(t *testing.T) {
	cases := []struct {
		op           vm.OpCode
		pops, pushes int
	}{
		{vm.PUSH1, 0, 1},
		{vm.PUSH32, 0, 1},
		{vm.DUP1, 1, 2},
		{vm.DUP16, 16, 17},
		{vm.SWAP1, 2, 2},
		{vm.SWAP16, 17, 17},
		{vm.LOG0, 2, 0},
		{vm.LOG4, 6, 0},
		{vm.STOP, 0, 0},
		{vm.INVALID, 0, 0},
		{vm.ADD, 2, 1},
		{vm.KECCAK256, 2, 1},
		{vm.ADDMOD, 3, 1},
		{vm.ISZERO, 1, 1},
		{vm.TLOAD, 1, 1},
		{vm.MSIZE, 0, 1},
		{vm.BLOBBASEFEE, 0, 1},
		{vm.CALLDATACOPY, 3, 0},
		{vm.MCOPY, 3, 0},
		{vm.EXTCODECOPY, 4, 0},
		{vm.POP, 1, 0},
		{vm.SELFDESTRUCT, 1, 0},
		{vm.MSTORE, 2, 0},
		{vm.JUMPI, 2, 0},
		{vm.CREATE, 3, 1},
		{vm.CREATE2, 4, 1},
		{vm.CALL, 7, 1},
		{vm.CALLCODE, 7, 1},
		{vm.DELEGATECALL, 6, 1},
		{vm.STATICCALL, 6, 1},
	}
	for _, c := range cases {
		pops, pushes, ok := opStackCounts(c.op)
		require.True(t, ok, c.op)
		require.Equal(t, c.pops, pops, c.op)
		require.Equal(t, c.pushes, pushes, c.op)
	}

	_, _, ok := opStackCounts(vm.OpCode(0x0c))
	require.False(t, ok)
}
