package operation

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// StackOp touches one stack cell of a call frame. Pointer counts from the
// bottom of the 1024-slot stack, so the top of an n-deep stack sits at
// 1024-n.
type StackOp struct {
	CallID  int
	Pointer int
	Value   uint256.Int
}

// NewStackOp copies value; later stack mutation must not alias into the log.
func NewStackOp(callID, pointer int, value *uint256.Int) *StackOp {
	return &StackOp{CallID: callID, Pointer: pointer, Value: *value}
}

func (op *StackOp) Target() Target { return TargetStack }
func (op *StackOp) String() string {
	return fmt.Sprintf("Stack{call=%d ptr=%d val=%s}", op.CallID, op.Pointer, op.Value.Hex())
}

// MemoryOp touches one byte of a call frame's memory.
type MemoryOp struct {
	CallID int
	Addr   uint64
	Byte   byte
}

func NewMemoryOp(callID int, addr uint64, b byte) *MemoryOp {
	return &MemoryOp{CallID: callID, Addr: addr, Byte: b}
}

func (op *MemoryOp) Target() Target { return TargetMemory }
func (op *MemoryOp) String() string {
	return fmt.Sprintf("Memory{call=%d addr=%d byte=%#x}", op.CallID, op.Addr, op.Byte)
}

// StorageOp touches one persistent storage slot. Committed carries the slot
// value as of the start of the block, reads set Value == ValuePrev.
type StorageOp struct {
	Addr      common.Address
	Key       common.Hash
	Value     uint256.Int
	ValuePrev uint256.Int
	TxID      int
	Committed uint256.Int
}

func NewStorageOp(addr common.Address, key common.Hash, value, valuePrev uint256.Int, txID int, committed uint256.Int) *StorageOp {
	return &StorageOp{Addr: addr, Key: key, Value: value, ValuePrev: valuePrev, TxID: txID, Committed: committed}
}

func (op *StorageOp) Target() Target { return TargetStorage }
func (op *StorageOp) String() string {
	return fmt.Sprintf("Storage{addr=%s key=%s val=%s prev=%s}", op.Addr, op.Key.TerminalString(), op.Value.Hex(), op.ValuePrev.Hex())
}

// TransientStorageOp touches one EIP-1153 transient slot.
type TransientStorageOp struct {
	Addr      common.Address
	Key       common.Hash
	Value     uint256.Int
	ValuePrev uint256.Int
	TxID      int
}

func NewTransientStorageOp(addr common.Address, key common.Hash, value, valuePrev uint256.Int, txID int) *TransientStorageOp {
	return &TransientStorageOp{Addr: addr, Key: key, Value: value, ValuePrev: valuePrev, TxID: txID}
}

func (op *TransientStorageOp) Target() Target { return TargetTransientStorage }
func (op *TransientStorageOp) String() string {
	return fmt.Sprintf("TransientStorage{addr=%s key=%s val=%s prev=%s}", op.Addr, op.Key.TerminalString(), op.Value.Hex(), op.ValuePrev.Hex())
}

// AccountField selects the account column an AccountOp touches.
type AccountField uint8

const (
	AccountNonce AccountField = iota
	AccountBalance
	AccountCodeHash
)

var accountFieldNames = [...]string{"Nonce", "Balance", "CodeHash"}

func (f AccountField) String() string {
	if int(f) < len(accountFieldNames) {
		return accountFieldNames[f]
	}
	return fmt.Sprintf("AccountField(%d)", f)
}

// AccountOp touches one field of an account. Reads set Value == ValuePrev.
type AccountOp struct {
	Addr      common.Address
	Field     AccountField
	Value     uint256.Int
	ValuePrev uint256.Int
}

func NewAccountOp(addr common.Address, field AccountField, value, valuePrev uint256.Int) *AccountOp {
	return &AccountOp{Addr: addr, Field: field, Value: value, ValuePrev: valuePrev}
}

func (op *AccountOp) Target() Target { return TargetAccount }
func (op *AccountOp) String() string {
	return fmt.Sprintf("Account{addr=%s field=%s val=%s prev=%s}", op.Addr, op.Field, op.Value.Hex(), op.ValuePrev.Hex())
}

// CallContextField selects the per-call column a CallContextOp touches.
type CallContextField uint8

const (
	CallContextTxID CallContextField = iota
	CallContextRwCounterEndOfReversion
	CallContextIsPersistent
	CallContextIsSuccess
	CallContextL1Fee
	CallContextDepth
	CallContextCallerAddress
	CallContextCalleeAddress
	CallContextCallDataOffset
	CallContextCallDataLength
	CallContextReturnDataOffset
	CallContextReturnDataLength
	CallContextValue
	CallContextIsStatic
	CallContextLastCalleeID
	CallContextLastCalleeReturnDataOffset
	CallContextLastCalleeReturnDataLength
	CallContextIsRoot
	CallContextIsCreate
	CallContextCodeHash
	CallContextCallerID
	CallContextProgramCounter
	CallContextStackPointer
	CallContextGasLeft
	CallContextMemorySize
	CallContextReversibleWriteCounter
)

var callContextFieldNames = [...]string{
	"TxId", "RwCounterEndOfReversion", "IsPersistent", "IsSuccess", "L1Fee",
	"Depth", "CallerAddress", "CalleeAddress", "CallDataOffset", "CallDataLength",
	"ReturnDataOffset", "ReturnDataLength", "Value", "IsStatic", "LastCalleeId",
	"LastCalleeReturnDataOffset", "LastCalleeReturnDataLength", "IsRoot", "IsCreate",
	"CodeHash", "CallerId", "ProgramCounter", "StackPointer", "GasLeft",
	"MemorySize", "ReversibleWriteCounter",
}

func (f CallContextField) String() string {
	if int(f) < len(callContextFieldNames) {
		return callContextFieldNames[f]
	}
	return fmt.Sprintf("CallContextField(%d)", f)
}

// CallContextOp records one per-call bookkeeping value.
type CallContextOp struct {
	CallID int
	Field  CallContextField
	Value  uint256.Int
}

func NewCallContextOp(callID int, field CallContextField, value uint256.Int) *CallContextOp {
	return &CallContextOp{CallID: callID, Field: field, Value: value}
}

func (op *CallContextOp) Target() Target { return TargetCallContext }
func (op *CallContextOp) String() string {
	return fmt.Sprintf("CallContext{call=%d field=%s val=%s}", op.CallID, op.Field, op.Value.Hex())
}

// TxAccessListAccountOp tracks warming of an address within a transaction.
type TxAccessListAccountOp struct {
	TxID       int
	Addr       common.Address
	IsWarm     bool
	IsWarmPrev bool
}

func NewTxAccessListAccountOp(txID int, addr common.Address, isWarm, isWarmPrev bool) *TxAccessListAccountOp {
	return &TxAccessListAccountOp{TxID: txID, Addr: addr, IsWarm: isWarm, IsWarmPrev: isWarmPrev}
}

func (op *TxAccessListAccountOp) Target() Target { return TargetTxAccessListAccount }
func (op *TxAccessListAccountOp) String() string {
	return fmt.Sprintf("TxAccessListAccount{tx=%d addr=%s warm=%t prev=%t}", op.TxID, op.Addr, op.IsWarm, op.IsWarmPrev)
}

// TxAccessListAccountStorageOp tracks warming of a storage slot within a
// transaction.
type TxAccessListAccountStorageOp struct {
	TxID       int
	Addr       common.Address
	Key        common.Hash
	IsWarm     bool
	IsWarmPrev bool
}

func NewTxAccessListAccountStorageOp(txID int, addr common.Address, key common.Hash, isWarm, isWarmPrev bool) *TxAccessListAccountStorageOp {
	return &TxAccessListAccountStorageOp{TxID: txID, Addr: addr, Key: key, IsWarm: isWarm, IsWarmPrev: isWarmPrev}
}

func (op *TxAccessListAccountStorageOp) Target() Target { return TargetTxAccessListAccountStorage }
func (op *TxAccessListAccountStorageOp) String() string {
	return fmt.Sprintf("TxAccessListAccountStorage{tx=%d addr=%s key=%s warm=%t prev=%t}", op.TxID, op.Addr, op.Key.TerminalString(), op.IsWarm, op.IsWarmPrev)
}

// TxRefundOp tracks the gas refund counter of a transaction.
type TxRefundOp struct {
	TxID      int
	Value     uint64
	ValuePrev uint64
}

func NewTxRefundOp(txID int, value, valuePrev uint64) *TxRefundOp {
	return &TxRefundOp{TxID: txID, Value: value, ValuePrev: valuePrev}
}

func (op *TxRefundOp) Target() Target { return TargetTxRefund }
func (op *TxRefundOp) String() string {
	return fmt.Sprintf("TxRefund{tx=%d val=%d prev=%d}", op.TxID, op.Value, op.ValuePrev)
}

// TxReceiptField selects the receipt column a TxReceiptOp touches.
type TxReceiptField uint8

const (
	TxReceiptPostStateOrStatus TxReceiptField = iota
	TxReceiptLogLength
	TxReceiptCumulativeGasUsed
)

var txReceiptFieldNames = [...]string{"PostStateOrStatus", "LogLength", "CumulativeGasUsed"}

func (f TxReceiptField) String() string {
	if int(f) < len(txReceiptFieldNames) {
		return txReceiptFieldNames[f]
	}
	return fmt.Sprintf("TxReceiptField(%d)", f)
}

// TxReceiptOp records one receipt value of a transaction.
type TxReceiptOp struct {
	TxID  int
	Field TxReceiptField
	Value uint64
}

func NewTxReceiptOp(txID int, field TxReceiptField, value uint64) *TxReceiptOp {
	return &TxReceiptOp{TxID: txID, Field: field, Value: value}
}

func (op *TxReceiptOp) Target() Target { return TargetTxReceipt }
func (op *TxReceiptOp) String() string {
	return fmt.Sprintf("TxReceipt{tx=%d field=%s val=%d}", op.TxID, op.Field, op.Value)
}

// TxLogField selects the log column a TxLogOp touches.
type TxLogField uint8

const (
	TxLogAddress TxLogField = iota
	TxLogTopic
	TxLogData
)

var txLogFieldNames = [...]string{"Address", "Topic", "Data"}

func (f TxLogField) String() string {
	if int(f) < len(txLogFieldNames) {
		return txLogFieldNames[f]
	}
	return fmt.Sprintf("TxLogField(%d)", f)
}

// TxLogOp records one piece of an emitted log: its address, one topic or
// one data byte when Field selects Topic or Data, Index counts within the
// field.
type TxLogOp struct {
	TxID  int
	LogID int
	Field TxLogField
	Index int
	Value uint256.Int
}

func NewTxLogOp(txID, logID int, field TxLogField, index int, value uint256.Int) *TxLogOp {
	return &TxLogOp{TxID: txID, LogID: logID, Field: field, Index: index, Value: value}
}

func (op *TxLogOp) Target() Target { return TargetTxLog }
func (op *TxLogOp) String() string {
	return fmt.Sprintf("TxLog{tx=%d log=%d field=%s idx=%d val=%s}", op.TxID, op.LogID, op.Field, op.Index, op.Value.Hex())
}

// StartOp anchors counter zero of the whole block.
type StartOp struct{}

func (op *StartOp) Target() Target { return TargetStart }
func (op *StartOp) String() string { return "Start{}" }
