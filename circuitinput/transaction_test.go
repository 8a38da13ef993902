package circuitinput

import (
	"testing"

	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/stretchr/testify/require"

	"github.com/s4t0shi-n4k4m0t0/zkevm-circuits/types"
)

func TestCallKindOfOp(t *testing.T) {
	cases := []struct {
		op   vm.OpCode
		kind CallKind
	}{
		{vm.CALL, CallKindCall},
		{vm.CALLCODE, CallKindCallCode},
		{vm.DELEGATECALL, CallKindDelegateCall},
		{vm.STATICCALL, CallKindStaticCall},
		{vm.CREATE, CallKindCreate},
		{vm.CREATE2, CallKindCreate2},
	}
	for _, c := range cases {
		kind, ok := CallKindOfOp(c.op)
		require.True(t, ok, c.op)
		require.Equal(t, c.kind, kind)
	}
	_, ok := CallKindOfOp(vm.ADD)
	require.False(t, ok)

	require.True(t, CallKindCreate.IsCreate())
	require.True(t, CallKindCreate2.IsCreate())
	require.False(t, CallKindDelegateCall.IsCreate())
	require.Equal(t, "CREATE2", CallKindCreate2.String())
}

// TestScanCallSuccess covers the launch outcome pre-scan: entered frames
// judged by their closing step, never-entered launches by the pushed
// result, declared errors and truncated traces by fiat.
func TestScanCallSuccess(t *testing.T) {
	erroredLaunch := traceStep(13, vm.STATICCALL, 0, 0, 1, word(0), word(0), word(0), word(0), word(0), word(0))
	erroredLaunch.Error = vm.ErrOutOfGas.Error()

	steps := []*types.ExecStep{
		traceStep(0, vm.PUSH1, 0, 0, 1),
		traceStep(2, vm.CALL, 0, 0, 1, word(0), word(0), word(0), word(0), word(0), word(0), word(0)),
		traceStep(0, vm.PUSH1, 0, 0, 2),
		traceStep(2, vm.CREATE, 0, 0, 2, word(0), word(0), word(0)),
		traceStep(0, vm.PUSH1, 0, 0, 3),
		traceStep(2, vm.REVERT, 0, 0, 3, word(0), word(0)),
		traceStep(4, vm.RETURN, 0, 0, 2, word(0), word(0)),
		traceStep(10, vm.CALL, 0, 0, 1, word(0), word(0), word(0), word(0), word(0), word(0), word(0)),
		traceStep(11, vm.PUSH1, 0, 0, 1, word(1)),
		erroredLaunch,
		traceStep(20, vm.CREATE2, 0, 0, 1, word(0), word(0), word(0), word(0)),
	}

	want := map[int]bool{
		1:  true,  // child closes with a clean RETURN
		3:  false, // nested create closes with REVERT
		7:  true,  // never entered, nonzero result on the stack
		9:  false, // declared error on the launch itself
		10: false, // trace ends at the launch
	}
	require.Equal(t, want, scanCallSuccess(steps))
}

// TestReversionGroupOffsets exercises the group bookkeeping directly: a
// failing frame opens a group, successful frames nested under it join at
// an offset counting the caller's pending reversible writes.
func TestReversionGroupOffsets(t *testing.T) {
	tc := &TransactionContext{callSuccess: map[int]bool{}}

	tc.PushCallCtx(0, nil, false)
	require.Len(t, tc.reversionGroups, 1)
	require.Equal(t, []groupCall{{callIdx: 0, offset: 0}}, tc.reversionGroups[0].calls)

	ctx, err := tc.CallCtx()
	require.NoError(t, err)
	ctx.ReversibleWriteCounter = 2

	tc.PushCallCtx(1, nil, true)
	require.Len(t, tc.reversionGroups, 1)
	require.Equal(t, groupCall{callIdx: 1, offset: 2}, tc.reversionGroups[0].calls[1])

	// a nested failure opens its own group
	tc.PushCallCtx(2, nil, false)
	require.Len(t, tc.reversionGroups, 2)
	require.Equal(t, []groupCall{{callIdx: 2, offset: 0}}, tc.reversionGroups[1].calls)
}

func TestPopCallCtxPropagation(t *testing.T) {
	tc := &TransactionContext{callSuccess: map[int]bool{}}
	tc.PushCallCtx(0, nil, true)
	tc.PushCallCtx(1, nil, true)

	child, err := tc.CallCtx()
	require.NoError(t, err)
	child.ReversibleWriteCounter = 3

	// a successful pop hands the pending writes to the caller
	require.NoError(t, tc.PopCallCtx(true))
	root, err := tc.CallCtx()
	require.NoError(t, err)
	require.Equal(t, 3, root.ReversibleWriteCounter)

	// a failed pop does not: its writes were just replayed
	tc.PushCallCtx(2, nil, false)
	failed, err := tc.CallCtx()
	require.NoError(t, err)
	failed.ReversibleWriteCounter = 9
	require.NoError(t, tc.PopCallCtx(false))
	root, err = tc.CallCtx()
	require.NoError(t, err)
	require.Equal(t, 3, root.ReversibleWriteCounter)

	require.NoError(t, tc.PopCallCtx(true))
	require.ErrorIs(t, tc.PopCallCtx(true), errCallStackEmpty)
	_, err = tc.CallCtx()
	require.ErrorIs(t, err, errCallStackEmpty)
}
