package operation

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

func TestContainerInsertAndResolve(t *testing.T) {
	c := NewContainer()

	ref1 := c.Insert(1, Write, false, &StartOp{})
	ref2 := c.Insert(2, Read, false, NewStackOp(1, 1023, uint256.NewInt(5)))
	ref3 := c.Insert(3, Write, true, NewStackOp(1, 1022, uint256.NewInt(6)))

	require.Equal(t, Ref{TargetStart, 0}, ref1)
	require.Equal(t, Ref{TargetStack, 0}, ref2)
	require.Equal(t, Ref{TargetStack, 1}, ref3)

	op := c.Get(ref3)
	require.NotNil(t, op)
	require.Equal(t, uint64(3), op.RWC)
	require.True(t, op.RW.IsWrite())
	require.True(t, op.Reversible)
	require.Equal(t, 1022, op.Op.(*StackOp).Pointer)

	require.Nil(t, c.Get(Ref{TargetMemory, 0}))
	require.Equal(t, 3, c.Len())
	require.Len(t, c.Ops(TargetStack), 2)
}

func TestContainerAllVisitsEverything(t *testing.T) {
	c := NewContainer()
	c.Insert(1, Write, false, &StartOp{})
	c.Insert(2, Write, false, NewMemoryOp(1, 0, 0xff))
	c.Insert(3, Write, false, NewTxReceiptOp(1, TxReceiptLogLength, 0))

	var seen []Target
	c.All(func(op Operation) { seen = append(seen, op.Op.Target()) })
	require.Equal(t, []Target{TargetStart, TargetMemory, TargetTxReceipt}, seen)
}

func TestContainerSortedByCounter(t *testing.T) {
	c := NewContainer()
	c.Insert(0, Read, false, &StartOp{})
	c.Insert(3, Write, false, NewMemoryOp(1, 0, 0xaa))
	c.Insert(1, Read, false, NewStackOp(1, 1023, uint256.NewInt(7)))
	c.Insert(2, Write, false, NewTxReceiptOp(1, TxReceiptLogLength, 0))
	c.Insert(4, Read, false, NewStackOp(1, 1022, uint256.NewInt(8)))

	sorted := c.Sorted()
	require.Len(t, sorted, 5)
	for i, op := range sorted {
		require.Equal(t, uint64(i), op.RWC)
	}
	require.Equal(t, TargetStack, sorted[1].Op.Target())
	require.Equal(t, TargetTxReceipt, sorted[2].Op.Target())
	require.Equal(t, TargetMemory, sorted[3].Op.Target())
}

func TestReverseOpSwapsValues(t *testing.T) {
	addr := common.HexToAddress("0x11")
	key := common.BigToHash(common.Big1)

	tests := []struct {
		name string
		op   Op
		chk  func(t *testing.T, rev Op)
	}{
		{
			"storage",
			NewStorageOp(addr, key, *uint256.NewInt(2), *uint256.NewInt(1), 1, *uint256.NewInt(1)),
			func(t *testing.T, rev Op) {
				s := rev.(*StorageOp)
				require.Equal(t, uint64(1), s.Value.Uint64())
				require.Equal(t, uint64(2), s.ValuePrev.Uint64())
				require.Equal(t, uint64(1), s.Committed.Uint64())
			},
		},
		{
			"transient storage",
			NewTransientStorageOp(addr, key, *uint256.NewInt(9), *uint256.NewInt(3), 1),
			func(t *testing.T, rev Op) {
				s := rev.(*TransientStorageOp)
				require.Equal(t, uint64(3), s.Value.Uint64())
				require.Equal(t, uint64(9), s.ValuePrev.Uint64())
			},
		},
		{
			"account",
			NewAccountOp(addr, AccountBalance, *uint256.NewInt(50), *uint256.NewInt(100)),
			func(t *testing.T, rev Op) {
				a := rev.(*AccountOp)
				require.Equal(t, uint64(100), a.Value.Uint64())
				require.Equal(t, uint64(50), a.ValuePrev.Uint64())
			},
		},
		{
			"access list account",
			NewTxAccessListAccountOp(1, addr, true, false),
			func(t *testing.T, rev Op) {
				a := rev.(*TxAccessListAccountOp)
				require.False(t, a.IsWarm)
				require.True(t, a.IsWarmPrev)
			},
		},
		{
			"access list storage",
			NewTxAccessListAccountStorageOp(1, addr, key, true, false),
			func(t *testing.T, rev Op) {
				a := rev.(*TxAccessListAccountStorageOp)
				require.False(t, a.IsWarm)
				require.True(t, a.IsWarmPrev)
			},
		},
		{
			"refund",
			NewTxRefundOp(1, 4800, 0),
			func(t *testing.T, rev Op) {
				r := rev.(*TxRefundOp)
				require.Equal(t, uint64(0), r.Value)
				require.Equal(t, uint64(4800), r.ValuePrev)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rev, err := ReverseOp(tt.op)
			require.NoError(t, err)
			tt.chk(t, rev)

			// reversing twice restores the original payload
			back, err := ReverseOp(rev)
			require.NoError(t, err)
			require.Equal(t, tt.op, back)
		})
	}
}

func TestReverseOpRejectsIrreversible(t *testing.T) {
	_, err := ReverseOp(NewStackOp(1, 1023, uint256.NewInt(1)))
	require.Error(t, err)
	_, err = ReverseOp(NewMemoryOp(1, 0, 1))
	require.Error(t, err)
	_, err = ReverseOp(NewCallContextOp(1, CallContextIsSuccess, BoolToUint256(true)))
	require.Error(t, err)
}

func TestWordConversions(t *testing.T) {
	addr := common.HexToAddress("0x00000000000000000000000000000000000000ff")
	addrWord := AddressToUint256(addr)
	require.Equal(t, uint64(0xff), addrWord.Uint64())

	hash := common.BigToHash(common.Big257)
	hashWord := HashToUint256(hash)
	require.Equal(t, uint64(257), hashWord.Uint64())

	falseWord := BoolToUint256(false)
	require.True(t, falseWord.IsZero())
	trueWord := BoolToUint256(true)
	require.Equal(t, uint64(1), trueWord.Uint64())
}
