package circuitinput

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"github.com/s4t0shi-n4k4m0t0/zkevm-circuits/operation"
	"github.com/s4t0shi-n4k4m0t0/zkevm-circuits/types"
)

// TestCalldatacopyAndLogEvents drives calldata through memory into a log:
// one copy event materializes the calldata, a second one feeds the log data
// table, and both agree byte for byte with the recorded memory operations.
func TestCalldatacopyAndLogEvents(t *testing.T) {
	// CALLDATASIZE, PUSH1 0, PUSH1 0, CALLDATACOPY, PUSH1 4, PUSH1 0, LOG0, STOP
	code := []byte{0x36, 0x60, 0x00, 0x60, 0x00, 0x37, 0x60, 0x04, 0x60, 0x00, 0xa0, 0x00}
	data := []byte{0xde, 0xad, 0xbe, 0xef}
	tx := &types.TxTrace{
		From:  testSender,
		To:    &testContract,
		Gas:   30000,
		Data:  hexutil.Bytes(data),
		L1Fee: &types.L1FeeParams{},
	}
	exec := &types.ExecTrace{
		Gas: 21491,
		StructLogs: []*types.ExecStep{
			traceStep(0, vm.CALLDATASIZE, 8936, 2, 1),
			traceStep(1, vm.PUSH1, 8934, 3, 1, word(4)),
			traceStep(3, vm.PUSH1, 8931, 3, 1, word(4), word(0)),
			traceStep(5, vm.CALLDATACOPY, 8928, 6, 1, word(4), word(0), word(0)),
			traceStep(6, vm.PUSH1, 8922, 3, 1),
			traceStep(8, vm.PUSH1, 8919, 3, 1, word(4)),
			traceStep(10, vm.LOG0, 8916, 407, 1, word(4), word(0)),
			traceStep(11, vm.STOP, 8509, 0, 1),
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

	size := opsOf(steps[1], blk.Container)
	require.Len(t, size, 2)
	lenRead := size[0].Op.(*operation.CallContextOp)
	require.Equal(t, operation.CallContextCallDataLength, lenRead.Field)
	require.Equal(t, uint64(4), lenRead.Value.Uint64())

	ccopy := steps[4]
	require.Len(t, ccopy.BusMappingInstance, 9)
	require.Equal(t, uint64(4), ccopy.CopyRWCounterDelta)
	ccopyOps := opsOf(ccopy, blk.Container)
	for i := 0; i < 4; i++ {
		mem := ccopyOps[5+i].Op.(*operation.MemoryOp)
		require.True(t, ccopyOps[5+i].RW.IsWrite())
		require.Equal(t, 1, mem.CallID)
		require.Equal(t, uint64(i), mem.Addr)
		require.Equal(t, data[i], mem.Byte)
	}

	logStep := steps[7]
	require.Equal(t, vm.LOG0, logStep.Op)
	require.Len(t, logStep.BusMappingInstance, 13)
	require.Equal(t, uint64(8), logStep.CopyRWCounterDelta)
	logOps := opsOf(logStep, blk.Container)
	addr := logOps[4].Op.(*operation.TxLogOp)
	require.Equal(t, operation.TxLogAddress, addr.Field)
	require.Equal(t, 1, addr.LogID)
	require.Equal(t, operation.AddressToUint256(testContract), addr.Value)
	for i := 0; i < 4; i++ {
		rd := logOps[5+2*i].Op.(*operation.MemoryOp)
		require.False(t, logOps[5+2*i].RW.IsWrite())
		require.Equal(t, data[i], rd.Byte)
		wr := logOps[6+2*i].Op.(*operation.TxLogOp)
		require.Equal(t, operation.TxLogData, wr.Field)
		require.Equal(t, i, wr.Index)
		require.Equal(t, uint64(data[i]), wr.Value.Uint64())
	}

	require.Len(t, blk.CopyEvents, 2)
	fromCalldata := blk.CopyEvents[0]
	require.Equal(t, CopyTxCalldata, fromCalldata.SrcType)
	require.Equal(t, 1, fromCalldata.SrcID.Num)
	require.Equal(t, uint64(4), fromCalldata.SrcAddrEnd)
	require.Equal(t, CopyMemory, fromCalldata.DstType)
	require.Equal(t, uint64(44), fromCalldata.RWCounterStart)
	require.Equal(t, 4, fromCalldata.DataLen())

	toLog := blk.CopyEvents[1]
	require.Equal(t, CopyMemory, toLog.SrcType)
	require.Equal(t, CopyTxLog, toLog.DstType)
	require.Equal(t, 1, toLog.LogID)
	require.Equal(t, uint64(55), toLog.RWCounterStart)
	for i, cb := range toLog.Bytes {
		require.Equal(t, data[i], cb.Value)
		require.False(t, cb.IsPadding)
	}

	receipts := blk.Container.Ops(operation.TargetTxReceipt)
	require.Equal(t, uint64(1), receipts[1].Op.(*operation.TxReceiptOp).Value)
	require.Len(t, blk.Container.Ops(operation.TargetTxLog), 5)

	require.Equal(t, 72, blk.Container.Len())
	requireConsecutiveCounters(t, blk.Container)
}

func TestMstoreKeccakMload(t *testing.T) {
	// PUSH1 42, PUSH1 0, MSTORE, PUSH1 32, PUSH1 0, KECCAK256,
	// PUSH1 0, MLOAD, POP, POP, STOP
	code := []byte{
		0x60, 0x2a, 0x60, 0x00, 0x52, 0x60, 0x20, 0x60, 0x00, 0x20,
		0x60, 0x00, 0x51, 0x50, 0x50, 0x00,
	}
	memImage := make([]byte, 32)
	memImage[31] = 0x2a
	hash := crypto.Keccak256Hash(memImage)
	hashWord := hexutil.U256(operation.HashToUint256(hash))

	tx := &types.TxTrace{From: testSender, To: &testContract, Gas: 30000, L1Fee: &types.L1FeeParams{}}
	exec := &types.ExecTrace{
		Gas: 21064,
		StructLogs: []*types.ExecStep{
			traceStep(0, vm.PUSH1, 9000, 3, 1),
			traceStep(2, vm.PUSH1, 8997, 3, 1, word(42)),
			traceStep(4, vm.MSTORE, 8994, 6, 1, word(42), word(0)),
			traceStep(5, vm.PUSH1, 8988, 3, 1),
			traceStep(7, vm.PUSH1, 8985, 3, 1, word(32)),
			traceStep(9, vm.KECCAK256, 8982, 36, 1, word(32), word(0)),
			traceStep(10, vm.PUSH1, 8946, 3, 1, hashWord),
			traceStep(12, vm.MLOAD, 8943, 3, 1, hashWord, word(0)),
			traceStep(13, vm.POP, 8940, 2, 1, hashWord, word(42)),
			traceStep(14, vm.POP, 8938, 2, 1, hashWord),
			traceStep(15, vm.STOP, 8936, 0, 1),
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

	mstore := steps[3]
	require.Len(t, mstore.BusMappingInstance, 34)
	mstoreOps := opsOf(mstore, blk.Container)
	for i := 0; i < 32; i++ {
		mem := mstoreOps[2+i].Op.(*operation.MemoryOp)
		require.True(t, mstoreOps[2+i].RW.IsWrite())
		require.Equal(t, uint64(i), mem.Addr)
		require.Equal(t, memImage[i], mem.Byte)
	}

	keccak := steps[6]
	require.Equal(t, uint64(32), keccak.MemorySize)
	require.Len(t, keccak.BusMappingInstance, 35)
	keccakOps := opsOf(keccak, blk.Container)
	digest := keccakOps[2].Op.(*operation.StackOp)
	require.True(t, keccakOps[2].RW.IsWrite())
	require.Equal(t, operation.HashToUint256(hash), digest.Value)
	for i := 0; i < 32; i++ {
		mem := keccakOps[3+i].Op.(*operation.MemoryOp)
		require.False(t, keccakOps[3+i].RW.IsWrite())
		require.Equal(t, memImage[i], mem.Byte)
	}

	mload := steps[8]
	require.Len(t, mload.BusMappingInstance, 34)
	mloadOps := opsOf(mload, blk.Container)
	loaded := mloadOps[1].Op.(*operation.StackOp)
	require.True(t, mloadOps[1].RW.IsWrite())
	require.Equal(t, uint64(42), loaded.Value.Uint64())

	// the keccak preimage is registered, but hashing copies no bus bytes
	require.Equal(t, [][]byte{memImage}, blk.Sha3Inputs)
	require.Empty(t, blk.CopyEvents)
	require.Zero(t, keccak.CopyRWCounterDelta)

	require.Equal(t, 154, blk.Container.Len())
	requireConsecutiveCounters(t, blk.Container)
}
