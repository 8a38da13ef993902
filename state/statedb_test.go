package state

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

func TestAccessListWarmCold(t *testing.T) {
	sdb := New()
	addr := common.HexToAddress("0xcafe")
	slot := common.BigToHash(common.Big1)

	require.False(t, sdb.CheckAccountInAccessList(addr))
	require.True(t, sdb.AddAccountToAccessList(addr), "first add must report cold")
	require.False(t, sdb.AddAccountToAccessList(addr), "second add must report warm")
	require.True(t, sdb.CheckAccountInAccessList(addr))

	require.True(t, sdb.AddStorageToAccessList(addr, slot))
	require.False(t, sdb.AddStorageToAccessList(addr, slot))
	require.True(t, sdb.CheckStorageInAccessList(addr, slot))

	sdb.RemoveAccountFromAccessList(addr)
	sdb.RemoveStorageFromAccessList(addr, slot)
	require.False(t, sdb.CheckAccountInAccessList(addr))
	require.False(t, sdb.CheckStorageInAccessList(addr, slot))
}

func TestCommittedStorageSnapshot(t *testing.T) {
	sdb := New()
	addr := common.HexToAddress("0x1234")
	slot := common.BigToHash(common.Big2)

	acc := NewAccount()
	acc.Storage[slot] = *uint256.NewInt(7)
	sdb.SetAccount(addr, acc)

	ok, committed := sdb.GetCommittedStorage(addr, slot)
	require.True(t, ok)
	require.Equal(t, uint64(7), committed.Uint64())

	sdb.SetStorage(addr, slot, *uint256.NewInt(9))
	_, cur := sdb.GetStorage(addr, slot)
	require.Equal(t, uint64(9), cur.Uint64())

	// the snapshot must not follow later writes
	_, committed = sdb.GetCommittedStorage(addr, slot)
	require.Equal(t, uint64(7), committed.Uint64())
}

func TestGetAccountMissing(t *testing.T) {
	sdb := New()
	addr := common.HexToAddress("0xdead")

	found, acc := sdb.GetAccount(addr)
	require.False(t, found)
	require.True(t, acc.IsEmpty())

	// the read-only view must not materialize the account
	found, _ = sdb.GetAccount(addr)
	require.False(t, found)

	mut := sdb.GetAccountMut(addr)
	mut.Nonce = 3
	found, acc = sdb.GetAccount(addr)
	require.True(t, found)
	require.Equal(t, uint64(3), acc.Nonce)
	require.Equal(t, uint64(3), sdb.GetNonce(addr))
}

func TestTransientStorage(t *testing.T) {
	sdb := New()
	addr := common.HexToAddress("0xbeef")
	slot := common.BigToHash(common.Big3)

	before := sdb.GetTransientStorage(addr, slot)
	require.True(t, before.IsZero())
	sdb.SetTransientStorage(addr, slot, *uint256.NewInt(42))
	set := sdb.GetTransientStorage(addr, slot)
	require.Equal(t, uint64(42), set.Uint64())

	sdb.ClearTransientStorage()
	cleared := sdb.GetTransientStorage(addr, slot)
	require.True(t, cleared.IsZero())
}

func TestDestructAccount(t *testing.T) {
	sdb := New()
	addr := common.HexToAddress("0xaaaa")

	acc := NewAccount()
	acc.Nonce = 5
	acc.Balance = uint256.NewInt(100)
	acc.CodeHash = common.HexToHash("0x01")
	sdb.SetAccount(addr, acc)

	sdb.DestructAccount(addr)
	found, got := sdb.GetAccount(addr)
	require.True(t, found, "destructed account keeps its entry")
	require.True(t, got.IsEmpty())
}

func TestAccountIsEmpty(t *testing.T) {
	tests := []struct {
		name  string
		acc   *Account
		empty bool
	}{
		{"fresh", NewAccount(), true},
		{"empty code hash", &Account{Balance: new(uint256.Int), CodeHash: EmptyCodeHash}, true},
		{"nonzero nonce", &Account{Nonce: 1, Balance: new(uint256.Int)}, false},
		{"nonzero balance", &Account{Balance: uint256.NewInt(1)}, false},
		{"has code", &Account{Balance: new(uint256.Int), CodeHash: common.HexToHash("0x02")}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.empty, tt.acc.IsEmpty())
		})
	}
}

func TestRefundCounter(t *testing.T) {
	sdb := New()
	require.Zero(t, sdb.Refund())
	sdb.SetRefund(4800)
	require.Equal(t, uint64(4800), sdb.Refund())
	sdb.SetRefund(0)
	require.Zero(t, sdb.Refund())
}
