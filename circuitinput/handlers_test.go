package circuitinput

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/stretchr/testify/require"

	"github.com/s4t0shi-n4k4m0t0/zkevm-circuits/operation"
	"github.com/s4t0shi-n4k4m0t0/zkevm-circuits/types"
)

func TestStorageWriteOps(t *testing.T) {
	// PUSH1 1, PUSH1 2, SSTORE, STOP
	code := []byte{0x60, 0x01, 0x60, 0x02, 0x55, 0x00}
	tx := &types.TxTrace{From: testSender, To: &testContract, Gas: 50000, L1Fee: &types.L1FeeParams{}}
	exec := &types.ExecTrace{
		Gas: 43106,
		StructLogs: []*types.ExecStep{
			traceStep(0, vm.PUSH1, 29000, 3, 1),
			traceStep(2, vm.PUSH1, 28997, 3, 1, word(1)),
			traceStep(4, vm.SSTORE, 28994, 22100, 1, word(1), word(2)),
			traceStep(5, vm.STOP, 6894, 0, 1),
		},
	}
	trace := singleTxTrace(tx, exec, map[common.Address]*types.AccountTrace{
		testSender:   account(0, 1_000_000, nil),
		testContract: account(1, 0, code),
		testCoinbase: account(0, 0, nil),
	})

	b := newTestBuilder(trace)
	require.NoError(t, b.HandleBlock())

	blk := b.Block()
	steps := blk.Txs[0].Steps
	require.Len(t, steps, 6)
	require.Len(t, steps[0].BusMappingInstance, 34)

	sstore := steps[3]
	require.Equal(t, vm.SSTORE, sstore.Op)
	require.Equal(t, ExecStateOp, sstore.State)
	require.Equal(t, 2, sstore.StackSize)
	require.Len(t, sstore.BusMappingInstance, 10)

	ops := opsOf(sstore, blk.Container)
	for _, i := range []int{0, 1, 2} {
		require.Equal(t, operation.TargetCallContext, ops[i].Op.Target())
		require.False(t, ops[i].RW.IsWrite())
	}
	stor := ops[7].Op.(*operation.StorageOp)
	require.True(t, ops[7].RW.IsWrite())
	require.True(t, ops[7].Reversible)
	require.Equal(t, testContract, stor.Addr)
	require.Equal(t, common.BigToHash(big.NewInt(2)), stor.Key)
	require.Equal(t, uint64(1), stor.Value.Uint64())
	require.True(t, stor.ValuePrev.IsZero())
	require.True(t, stor.Committed.IsZero())

	warm := ops[8].Op.(*operation.TxAccessListAccountStorageOp)
	require.True(t, warm.IsWarm)
	require.False(t, warm.IsWarmPrev)

	refund := ops[9].Op.(*operation.TxRefundOp)
	require.Zero(t, refund.Value)
	require.Zero(t, refund.ValuePrev)

	_, stored := b.StateDB().GetStorage(testContract, common.BigToHash(big.NewInt(2)))
	require.Equal(t, uint64(1), stored.Uint64())

	require.Equal(t, 56, blk.Container.Len())
	requireConsecutiveCounters(t, blk.Container)
}

func TestSloadWarmTracking(t *testing.T) {
	slot := common.BigToHash(big.NewInt(5))
	// PUSH1 5, SLOAD, POP, PUSH1 5, SLOAD, POP, STOP
	code := []byte{0x60, 0x05, 0x54, 0x50, 0x60, 0x05, 0x54, 0x50, 0x00}
	tx := &types.TxTrace{From: testSender, To: &testContract, Gas: 30000, L1Fee: &types.L1FeeParams{}}
	exec := &types.ExecTrace{
		Gas: 23210,
		StructLogs: []*types.ExecStep{
			traceStep(0, vm.PUSH1, 9000, 3, 1),
			traceStep(2, vm.SLOAD, 8997, 2100, 1, word(5)),
			traceStep(3, vm.POP, 6897, 2, 1, word(9)),
			traceStep(4, vm.PUSH1, 6895, 3, 1),
			traceStep(6, vm.SLOAD, 6892, 100, 1, word(5)),
			traceStep(7, vm.POP, 6792, 2, 1, word(9)),
			traceStep(8, vm.STOP, 6790, 0, 1),
		},
	}
	trace := singleTxTrace(tx, exec, map[common.Address]*types.AccountTrace{
		testSender: account(0, 1_000_000, nil),
		testContract: {
			Nonce:   1,
			Balance: bigInt(0),
			Code:    code,
			Storage: map[common.Hash]common.Hash{slot: common.BigToHash(big.NewInt(9))},
		},
		testCoinbase: account(0, 0, nil),
	})

	b := newTestBuilder(trace)
	require.NoError(t, b.HandleBlock())

	blk := b.Block()
	coldLoad := opsOf(blk.Txs[0].Steps[2], blk.Container)
	require.Len(t, coldLoad, 7)
	read := coldLoad[4].Op.(*operation.StorageOp)
	require.False(t, coldLoad[4].RW.IsWrite())
	require.Equal(t, uint64(9), read.Value.Uint64())
	require.Equal(t, uint64(9), read.ValuePrev.Uint64())
	require.Equal(t, uint64(9), read.Committed.Uint64())
	result := coldLoad[6].Op.(*operation.StackOp)
	require.True(t, coldLoad[6].RW.IsWrite())
	require.Equal(t, uint64(9), result.Value.Uint64())

	warms := blk.Container.Ops(operation.TargetTxAccessListAccountStorage)
	require.Len(t, warms, 2)
	first := warms[0].Op.(*operation.TxAccessListAccountStorageOp)
	require.True(t, first.IsWarm)
	require.False(t, first.IsWarmPrev)
	second := warms[1].Op.(*operation.TxAccessListAccountStorageOp)
	require.True(t, second.IsWarm)
	require.True(t, second.IsWarmPrev)

	require.Equal(t, 62, blk.Container.Len())
	requireConsecutiveCounters(t, blk.Container)
}

func TestStackOpsTrace(t *testing.T) {
	// PUSH1 1, PUSH1 2, DUP2, SWAP1, ADD, POP, POP, STOP
	code := []byte{0x60, 0x01, 0x60, 0x02, 0x81, 0x90, 0x01, 0x50, 0x50, 0x00}
	tx := &types.TxTrace{From: testSender, To: &testContract, Gas: 30000, L1Fee: &types.L1FeeParams{}}
	exec := &types.ExecTrace{
		Gas: 21019,
		StructLogs: []*types.ExecStep{
			traceStep(0, vm.PUSH1, 9000, 3, 1),
			traceStep(2, vm.PUSH1, 8997, 3, 1, word(1)),
			traceStep(4, vm.DUP2, 8994, 3, 1, word(1), word(2)),
			traceStep(5, vm.SWAP1, 8991, 3, 1, word(1), word(2), word(1)),
			traceStep(6, vm.ADD, 8988, 3, 1, word(1), word(1), word(2)),
			traceStep(7, vm.POP, 8985, 2, 1, word(1), word(3)),
			traceStep(8, vm.POP, 8983, 2, 1, word(1)),
			traceStep(9, vm.STOP, 8981, 0, 1),
		},
	}
	trace := singleTxTrace(tx, exec, map[common.Address]*types.AccountTrace{
		testSender:   account(0, 1_000_000, nil),
		testContract: account(1, 0, code),
		testCoinbase: account(0, 0, nil),
	})

	b := newTestBuilder(trace)
	require.NoError(t, b.HandleBlock())

	blk := b.Block()
	steps := blk.Txs[0].Steps

	push := opsOf(steps[1], blk.Container)
	require.Len(t, push, 1)
	top := push[0].Op.(*operation.StackOp)
	require.True(t, push[0].RW.IsWrite())
	require.Equal(t, 1023, top.Pointer)
	require.Equal(t, uint64(1), top.Value.Uint64())

	dup := opsOf(steps[3], blk.Container)
	require.Len(t, dup, 2)
	dupRead := dup[0].Op.(*operation.StackOp)
	require.Equal(t, 1023, dupRead.Pointer)
	require.Equal(t, uint64(1), dupRead.Value.Uint64())
	dupWrite := dup[1].Op.(*operation.StackOp)
	require.True(t, dup[1].RW.IsWrite())
	require.Equal(t, 1021, dupWrite.Pointer)
	require.Equal(t, uint64(1), dupWrite.Value.Uint64())

	swap := opsOf(steps[4], blk.Container)
	require.Len(t, swap, 4)
	require.Equal(t, 1022, swap[0].Op.(*operation.StackOp).Pointer)
	require.Equal(t, uint64(2), swap[0].Op.(*operation.StackOp).Value.Uint64())
	require.Equal(t, 1021, swap[1].Op.(*operation.StackOp).Pointer)
	require.Equal(t, uint64(1), swap[1].Op.(*operation.StackOp).Value.Uint64())
	require.Equal(t, uint64(1), swap[2].Op.(*operation.StackOp).Value.Uint64())
	require.Equal(t, uint64(2), swap[3].Op.(*operation.StackOp).Value.Uint64())

	add := opsOf(steps[5], blk.Container)
	require.Len(t, add, 3)
	sum := add[2].Op.(*operation.StackOp)
	require.True(t, add[2].RW.IsWrite())
	require.Equal(t, 1022, sum.Pointer)
	require.Equal(t, uint64(3), sum.Value.Uint64())

	require.Equal(t, 57, blk.Container.Len())
	requireConsecutiveCounters(t, blk.Container)
}

func TestTransientStorageOps(t *testing.T) {
	key := common.BigToHash(big.NewInt(1))
	// PUSH1 7, PUSH1 1, TSTORE, PUSH1 1, TLOAD, POP, STOP
	code := []byte{0x60, 0x07, 0x60, 0x01, 0x5d, 0x60, 0x01, 0x5c, 0x50, 0x00}
	tx := &types.TxTrace{From: testSender, To: &testContract, Gas: 30000, L1Fee: &types.L1FeeParams{}}
	exec := &types.ExecTrace{
		Gas: 21211,
		StructLogs: []*types.ExecStep{
			traceStep(0, vm.PUSH1, 9000, 3, 1),
			traceStep(2, vm.PUSH1, 8997, 3, 1, word(7)),
			traceStep(4, vm.TSTORE, 8994, 100, 1, word(7), word(1)),
			traceStep(5, vm.PUSH1, 8894, 3, 1),
			traceStep(7, vm.TLOAD, 8891, 100, 1, word(1)),
			traceStep(8, vm.POP, 8791, 2, 1, word(7)),
			traceStep(9, vm.STOP, 8789, 0, 1),
		},
	}
	trace := singleTxTrace(tx, exec, map[common.Address]*types.AccountTrace{
		testSender:   account(0, 1_000_000, nil),
		testContract: account(1, 0, code),
		testCoinbase: account(0, 0, nil),
	})

	b := newTestBuilder(trace)
	require.NoError(t, b.HandleBlock())

	blk := b.Block()
	tstore := opsOf(blk.Txs[0].Steps[3], blk.Container)
	require.Len(t, tstore, 8)
	write := tstore[7].Op.(*operation.TransientStorageOp)
	require.True(t, tstore[7].RW.IsWrite())
	require.True(t, tstore[7].Reversible)
	require.Equal(t, testContract, write.Addr)
	require.Equal(t, key, write.Key)
	require.Equal(t, uint64(7), write.Value.Uint64())
	require.True(t, write.ValuePrev.IsZero())

	tload := opsOf(blk.Txs[0].Steps[5], blk.Container)
	require.Len(t, tload, 4)
	read := tload[2].Op.(*operation.TransientStorageOp)
	require.False(t, tload[2].RW.IsWrite())
	require.Equal(t, uint64(7), read.Value.Uint64())
	loaded := tload[3].Op.(*operation.StackOp)
	require.Equal(t, uint64(7), loaded.Value.Uint64())

	v := b.StateDB().GetTransientStorage(testContract, key)
	require.Equal(t, uint64(7), v.Uint64())

	require.Equal(t, 60, blk.Container.Len())
	requireConsecutiveCounters(t, blk.Container)
}
