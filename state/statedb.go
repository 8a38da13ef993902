// Package state provides the in-memory account ledger and code store the
// circuit input builder runs against. The ledger keeps current values only;
// commitment structures live entirely outside this module.
package state

import (
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Account is the ledger's view of one address. A missing or all-zero account
// is "empty" in the EIP-161 sense.
type Account struct {
	Nonce    uint64
	Balance  *uint256.Int
	CodeHash common.Hash
	Storage  map[common.Hash]uint256.Int
}

// NewAccount returns an empty account with allocated fields.
func NewAccount() *Account {
	return &Account{
		Balance: new(uint256.Int),
		Storage: make(map[common.Hash]uint256.Int),
	}
}

// IsEmpty reports whether the account is indistinguishable from a
// never-touched one: zero nonce, zero balance and no code.
func (a *Account) IsEmpty() bool {
	noCode := a.CodeHash == (common.Hash{}) || a.CodeHash == EmptyCodeHash
	return a.Nonce == 0 && (a.Balance == nil || a.Balance.IsZero()) && noCode
}

func (a *Account) zero() {
	a.Nonce = 0
	a.Balance = new(uint256.Int)
	a.CodeHash = common.Hash{}
	a.Storage = make(map[common.Hash]uint256.Int)
}

type storageKey struct {
	addr common.Address
	slot common.Hash
}

// StateDB is the mutable ledger. It is owned and mutated by exactly one
// builder traversal at a time; there is no internal locking.
type StateDB struct {
	accounts  map[common.Address]*Account
	committed map[storageKey]uint256.Int

	accessedAccounts mapset.Set[common.Address]
	accessedStorage  mapset.Set[storageKey]

	transient map[storageKey]uint256.Int
	refund    uint64
}

// New returns an empty ledger.
func New() *StateDB {
	return &StateDB{
		accounts:         make(map[common.Address]*Account),
		committed:        make(map[storageKey]uint256.Int),
		accessedAccounts: mapset.NewThreadUnsafeSet[common.Address](),
		accessedStorage:  mapset.NewThreadUnsafeSet[storageKey](),
		transient:        make(map[storageKey]uint256.Int),
	}
}

// GetAccount returns whether the address exists and its account. The account
// of a missing address is a fresh empty value; callers must not mutate
// through it, use GetAccountMut for that.
func (s *StateDB) GetAccount(addr common.Address) (bool, *Account) {
	if acc, ok := s.accounts[addr]; ok {
		return true, acc
	}
	return false, NewAccount()
}

// GetAccountMut returns the account for mutation, creating an empty entry
// when the address was absent.
func (s *StateDB) GetAccountMut(addr common.Address) *Account {
	acc, ok := s.accounts[addr]
	if !ok {
		acc = NewAccount()
		s.accounts[addr] = acc
	}
	return acc
}

// SetAccount installs an account, recording its storage as the committed
// snapshot for slots not seen before. Used when seeding pre-state.
func (s *StateDB) SetAccount(addr common.Address, acc *Account) {
	if acc.Balance == nil {
		acc.Balance = new(uint256.Int)
	}
	if acc.Storage == nil {
		acc.Storage = make(map[common.Hash]uint256.Int)
	}
	s.accounts[addr] = acc
	for slot, val := range acc.Storage {
		key := storageKey{addr, slot}
		if _, ok := s.committed[key]; !ok {
			s.committed[key] = val
		}
	}
}

// GetNonce returns the nonce of addr, zero when absent.
func (s *StateDB) GetNonce(addr common.Address) uint64 {
	if acc, ok := s.accounts[addr]; ok {
		return acc.Nonce
	}
	return 0
}

// GetBalance returns a copy of the balance of addr, zero when absent.
func (s *StateDB) GetBalance(addr common.Address) *uint256.Int {
	if acc, ok := s.accounts[addr]; ok {
		return new(uint256.Int).Set(acc.Balance)
	}
	return new(uint256.Int)
}

// GetStorage returns whether the slot has a value and the value itself.
func (s *StateDB) GetStorage(addr common.Address, slot common.Hash) (bool, uint256.Int) {
	if acc, ok := s.accounts[addr]; ok {
		if val, ok := acc.Storage[slot]; ok {
			return true, val
		}
	}
	return false, uint256.Int{}
}

// SetStorage writes a slot of the current state. The committed snapshot is
// untouched.
func (s *StateDB) SetStorage(addr common.Address, slot common.Hash, val uint256.Int) {
	acc := s.GetAccountMut(addr)
	if val.IsZero() {
		delete(acc.Storage, slot)
		return
	}
	acc.Storage[slot] = val
}

// GetCommittedStorage returns the slot value as of the seeded pre-state.
func (s *StateDB) GetCommittedStorage(addr common.Address, slot common.Hash) (bool, uint256.Int) {
	val, ok := s.committed[storageKey{addr, slot}]
	return ok, val
}

// GetTransientStorage returns the transient slot value, zero by default.
func (s *StateDB) GetTransientStorage(addr common.Address, slot common.Hash) uint256.Int {
	return s.transient[storageKey{addr, slot}]
}

// SetTransientStorage writes a transient slot.
func (s *StateDB) SetTransientStorage(addr common.Address, slot common.Hash, val uint256.Int) {
	key := storageKey{addr, slot}
	if val.IsZero() {
		delete(s.transient, key)
		return
	}
	s.transient[key] = val
}

// ClearTransientStorage drops all transient slots. Called between
// transactions.
func (s *StateDB) ClearTransientStorage() {
	s.transient = make(map[storageKey]uint256.Int)
}

// ClearAccessLists re-colds every address and storage slot. EIP-2929 access
// lists are scoped to one transaction.
func (s *StateDB) ClearAccessLists() {
	s.accessedAccounts = mapset.NewThreadUnsafeSet[common.Address]()
	s.accessedStorage = mapset.NewThreadUnsafeSet[storageKey]()
}

// AddAccountToAccessList warms an address and reports whether it was cold.
func (s *StateDB) AddAccountToAccessList(addr common.Address) bool {
	return s.accessedAccounts.Add(addr)
}

// RemoveAccountFromAccessList re-colds an address during reversion replay.
func (s *StateDB) RemoveAccountFromAccessList(addr common.Address) {
	s.accessedAccounts.Remove(addr)
}

// CheckAccountInAccessList reports whether the address is warm.
func (s *StateDB) CheckAccountInAccessList(addr common.Address) bool {
	return s.accessedAccounts.Contains(addr)
}

// AddStorageToAccessList warms a storage slot and reports whether it was
// cold.
func (s *StateDB) AddStorageToAccessList(addr common.Address, slot common.Hash) bool {
	return s.accessedStorage.Add(storageKey{addr, slot})
}

// RemoveStorageFromAccessList re-colds a storage slot.
func (s *StateDB) RemoveStorageFromAccessList(addr common.Address, slot common.Hash) {
	s.accessedStorage.Remove(storageKey{addr, slot})
}

// CheckStorageInAccessList reports whether the storage slot is warm.
func (s *StateDB) CheckStorageInAccessList(addr common.Address, slot common.Hash) bool {
	return s.accessedStorage.Contains(storageKey{addr, slot})
}

// Refund returns the accumulated gas refund counter.
func (s *StateDB) Refund() uint64 { return s.refund }

// SetRefund overwrites the gas refund counter.
func (s *StateDB) SetRefund(val uint64) { s.refund = val }

// DestructAccount zeroes an account in place, keeping the entry.
func (s *StateDB) DestructAccount(addr common.Address) {
	if acc, ok := s.accounts[addr]; ok {
		acc.zero()
	}
}
