package circuitinput

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"
	"github.com/holiman/uint256"

	"github.com/s4t0shi-n4k4m0t0/zkevm-circuits/operation"
	"github.com/s4t0shi-n4k4m0t0/zkevm-circuits/params"
	"github.com/s4t0shi-n4k4m0t0/zkevm-circuits/state"
	"github.com/s4t0shi-n4k4m0t0/zkevm-circuits/types"
)

// StateRef bundles everything one transaction's replay mutates: the
// ledger, the output block and both context layers. Handlers receive it
// as their only view of the builder.
type StateRef struct {
	cfg       *Config
	block     *Block
	blockCtx  *BlockContext
	tx        *Transaction
	txCtx     *TransactionContext
	execTrace *types.ExecTrace
	sdb       *state.StateDB
	codeDB    *state.CodeDB
}

// Call returns the live frame.
func (s *StateRef) Call() (*Call, error) {
	ctx, err := s.txCtx.CallCtx()
	if err != nil {
		return nil, err
	}
	return s.tx.Calls[ctx.Index], nil
}

// CallCtx returns the live frame's replay context.
func (s *StateRef) CallCtx() (*CallContext, error) { return s.txCtx.CallCtx() }

// CallerCall returns the live frame's parent.
func (s *StateRef) CallerCall() (*Call, error) {
	ctx, err := s.txCtx.CallerCtx()
	if err != nil {
		return nil, err
	}
	return s.tx.Calls[ctx.Index], nil
}

// CallerCtx returns the parent frame's replay context.
func (s *StateRef) CallerCtx() (*CallContext, error) { return s.txCtx.CallerCtx() }

// TxID returns the one-based transaction index.
func (s *StateRef) TxID() int { return s.txCtx.ID }

// NewStep projects a trace step into the circuit input using the live
// frame's bookkeeping.
func (s *StateRef) NewStep(cur *types.ExecStep) (*ExecStep, error) {
	callCtx, err := s.CallCtx()
	if err != nil {
		return nil, err
	}
	return &ExecStep{
		State:                  ExecStateOp,
		Op:                     cur.Op,
		PC:                     cur.PC,
		StackSize:              cur.StackLen(),
		MemorySize:             callCtx.Memory.Len(),
		GasLeft:                cur.Gas,
		GasCost:                cur.GasCost,
		CallIndex:              callCtx.Index,
		RWCounter:              s.blockCtx.RWC.Peek(),
		ReversibleWriteCounter: callCtx.ReversibleWriteCounter,
		LogID:                  s.txCtx.LogID,
	}, nil
}

// NewBeginTxStep returns the synthetic step opening the transaction. Its
// gas cost is filled in once the intrinsic cost is known.
func (s *StateRef) NewBeginTxStep() *ExecStep {
	return &ExecStep{
		State:     ExecStateBeginTx,
		GasLeft:   uint64(s.tx.Trace.Gas),
		RWCounter: s.blockCtx.RWC.Peek(),
	}
}

// NewEndTxStep returns the synthetic step closing the transaction.
func (s *StateRef) NewEndTxStep(gasLeft uint64) *ExecStep {
	return &ExecStep{
		State:     ExecStateEndTx,
		GasLeft:   gasLeft,
		RWCounter: s.blockCtx.RWC.Peek(),
		LogID:     s.txCtx.LogID,
	}
}

// stackPosition converts "n items below the top" into the absolute cell
// index recorded on stack operations.
func stackPosition(cur *types.ExecStep, n int) int {
	return params.StackLimit - cur.StackLen() + n
}

// PushOp records an operation at the next counter slot without touching
// the ledger. Reads and mirror-maintained writes go through here.
func (s *StateRef) PushOp(step *ExecStep, rw operation.RW, op operation.Op) operation.Ref {
	ref := s.block.Container.Insert(s.blockCtx.RWC.Take(), rw, false, op)
	step.BusMappingInstance = append(step.BusMappingInstance, ref)
	return ref
}

// PushWrite records an irreversible write and applies it to the ledger.
func (s *StateRef) PushWrite(step *ExecStep, op operation.Op) operation.Ref {
	s.applyOp(op)
	ref := s.block.Container.Insert(s.blockCtx.RWC.Take(), operation.Write, false, op)
	step.BusMappingInstance = append(step.BusMappingInstance, ref)
	return ref
}

// PushWriteReversible records a write a later reversion may undo. Inside
// a non-persistent frame the operation joins the innermost reversion
// group so HandleReversion can replay it backwards.
func (s *StateRef) PushWriteReversible(step *ExecStep, op operation.Op) error {
	s.applyOp(op)
	ref := s.block.Container.Insert(s.blockCtx.RWC.Take(), operation.Write, true, op)
	step.BusMappingInstance = append(step.BusMappingInstance, ref)

	callCtx, err := s.CallCtx()
	if err != nil {
		return err
	}
	if !s.tx.Calls[callCtx.Index].IsPersistent {
		if len(s.txCtx.reversionGroups) == 0 {
			return fmt.Errorf("%w: reversible write outside any reversion group", ErrUnexpectedStep)
		}
		group := s.txCtx.reversionGroups[len(s.txCtx.reversionGroups)-1]
		group.opRefs = append(group.opRefs, ref)
	}
	callCtx.ReversibleWriteCounter++
	return nil
}

// applyOp folds a write into the ledger. Payloads whose state lives in
// the mirrors (stack, memory, call context, receipts, logs) fall through.
func (s *StateRef) applyOp(op operation.Op) {
	switch o := op.(type) {
	case *operation.StorageOp:
		s.sdb.SetStorage(o.Addr, o.Key, o.Value)
	case *operation.TransientStorageOp:
		s.sdb.SetTransientStorage(o.Addr, o.Key, o.Value)
	case *operation.AccountOp:
		acc := s.sdb.GetAccountMut(o.Addr)
		switch o.Field {
		case operation.AccountNonce:
			acc.Nonce = o.Value.Uint64()
		case operation.AccountBalance:
			acc.Balance = new(uint256.Int).Set(&o.Value)
		case operation.AccountCodeHash:
			acc.CodeHash = common.Hash(o.Value.Bytes32())
		}
	case *operation.TxAccessListAccountOp:
		if o.IsWarm {
			s.sdb.AddAccountToAccessList(o.Addr)
		} else {
			s.sdb.RemoveAccountFromAccessList(o.Addr)
		}
	case *operation.TxAccessListAccountStorageOp:
		if o.IsWarm {
			s.sdb.AddStorageToAccessList(o.Addr, o.Key)
		} else {
			s.sdb.RemoveStorageFromAccessList(o.Addr, o.Key)
		}
	case *operation.TxRefundOp:
		s.sdb.SetRefund(o.Value)
	}
}

// HandleReversion replays the innermost reversion group backwards: each
// reversible write gets a mirror write with value and previous value
// swapped, restoring the ledger. Afterwards every frame in the group
// learns its reversion end counter.
func (s *StateRef) HandleReversion(step *ExecStep) error {
	n := len(s.txCtx.reversionGroups)
	if n == 0 {
		return fmt.Errorf("%w: reversion requested with no open group", ErrUnexpectedStep)
	}
	group := s.txCtx.reversionGroups[n-1]
	s.txCtx.reversionGroups = s.txCtx.reversionGroups[:n-1]

	for i := len(group.opRefs) - 1; i >= 0; i-- {
		orig := s.block.Container.Get(group.opRefs[i])
		if orig == nil {
			return fmt.Errorf("%w: dangling reversion group ref", ErrUnexpectedStep)
		}
		rev, err := operation.ReverseOp(orig.Op)
		if err != nil {
			return err
		}
		s.applyOp(rev)
		ref := s.block.Container.Insert(s.blockCtx.RWC.Take(), operation.Write, false, rev)
		step.BusMappingInstance = append(step.BusMappingInstance, ref)
	}

	end := s.blockCtx.RWC.Peek() - 1
	for _, gc := range group.calls {
		s.tx.Calls[gc.callIdx].RWCounterEndOfReversion = end - uint64(gc.offset)
	}
	return nil
}

// HandleRestoreContext emits the operations restoring the caller frame
// when the live frame exits: a read of every context value the caller
// resumes with, then the three writes publishing the callee result.
func (s *StateRef) HandleRestoreContext(step *ExecStep, steps []*types.ExecStep, returnDataOffset, returnDataLength uint64) error {
	call, err := s.Call()
	if err != nil {
		return err
	}
	if call.IsRoot {
		return nil
	}
	if len(steps) < 2 {
		return fmt.Errorf("%w: frame exit with no caller step", ErrTraceTruncated)
	}
	next := steps[1]
	caller, err := s.CallerCall()
	if err != nil {
		return err
	}
	callerCtx, err := s.CallerCtx()
	if err != nil {
		return err
	}

	s.PushOp(step, operation.Read, operation.NewCallContextOp(call.ID, operation.CallContextCallerID, u64Word(uint64(caller.ID))))

	reads := []struct {
		field operation.CallContextField
		value uint256.Int
	}{
		{operation.CallContextIsRoot, operation.BoolToUint256(caller.IsRoot)},
		{operation.CallContextIsCreate, operation.BoolToUint256(caller.IsCreate())},
		{operation.CallContextCodeHash, operation.HashToUint256(caller.CodeHash)},
		{operation.CallContextProgramCounter, u64Word(next.PC)},
		{operation.CallContextStackPointer, u64Word(uint64(stackPosition(next, 0)))},
		{operation.CallContextGasLeft, u64Word(next.Gas)},
		{operation.CallContextMemorySize, u64Word(callerCtx.Memory.WordSize())},
		{operation.CallContextReversibleWriteCounter, u64Word(uint64(callerCtx.ReversibleWriteCounter))},
	}
	for _, r := range reads {
		s.PushOp(step, operation.Read, operation.NewCallContextOp(caller.ID, r.field, r.value))
	}

	writes := []struct {
		field operation.CallContextField
		value uint256.Int
	}{
		{operation.CallContextLastCalleeID, u64Word(uint64(call.ID))},
		{operation.CallContextLastCalleeReturnDataOffset, u64Word(returnDataOffset)},
		{operation.CallContextLastCalleeReturnDataLength, u64Word(returnDataLength)},
	}
	for _, w := range writes {
		s.PushOp(step, operation.Write, operation.NewCallContextOp(caller.ID, w.field, w.value))
	}
	return nil
}

// HandleReturn closes the live frame: it reverts the frame's writes when
// it failed, restores the caller context when the trace resumes there,
// publishes the return data and pops the frame.
func (s *StateRef) HandleReturn(step *ExecStep, steps []*types.ExecStep, needRestore bool) error {
	cur := steps[0]
	call, err := s.Call()
	if err != nil {
		return err
	}
	callCtx, err := s.CallCtx()
	if err != nil {
		return err
	}

	// A deploying RETURN hands back code, not return data.
	var retOffset, retLength uint64
	if (cur.Op == vm.RETURN || cur.Op == vm.REVERT) && cur.Error == "" && !call.IsRoot {
		if !(call.IsCreate() && cur.Op == vm.RETURN) {
			retOffset = lowU64(cur.StackBack(0))
			retLength = lowU64(cur.StackBack(1))
		}
	}

	if !call.IsSuccess {
		if err := s.HandleReversion(step); err != nil {
			return err
		}
	}
	if needRestore {
		if err := s.HandleRestoreContext(step, steps, retOffset, retLength); err != nil {
			return err
		}
	}
	if !call.IsRoot {
		caller, err := s.CallerCall()
		if err != nil {
			return err
		}
		caller.LastCalleeID = call.ID
		caller.LastCalleeReturnDataOffset = retOffset
		caller.LastCalleeReturnDataLength = retLength

		callerCtx, err := s.CallerCtx()
		if err != nil {
			return err
		}
		if retLength > 0 {
			callerCtx.ReturnData = callCtx.Memory.ReadChunk(retOffset, retLength)
		} else {
			callerCtx.ReturnData = nil
		}
	}
	return s.txCtx.PopCallCtx(call.IsSuccess)
}

// ParseCall derives the child frame a launch opcode creates. It runs
// before the launch emits any operation, so the frame id equals the
// counter at the step's start.
func (s *StateRef) ParseCall(cur *types.ExecStep) (*Call, []byte, error) {
	kind, ok := CallKindOfOp(cur.Op)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s does not launch a frame", ErrUnexpectedStep, cur.Op)
	}
	caller, err := s.Call()
	if err != nil {
		return nil, nil, err
	}
	callerCtx, err := s.CallCtx()
	if err != nil {
		return nil, nil, err
	}

	isSuccess := s.txCtx.callIsSuccess(s.txCtx.StepIndex)
	call := &Call{
		ID:            int(s.blockCtx.RWC.Peek()),
		CallerID:      caller.ID,
		Kind:          kind,
		Depth:         caller.Depth + 1,
		IsStatic:      caller.IsStatic || cur.Op == vm.STATICCALL,
		IsSuccess:     isSuccess,
		IsPersistent:  caller.IsPersistent && isSuccess,
		CallerAddress: caller.Address,
	}

	var callData []byte
	switch kind {
	case CallKindCall, CallKindCallCode, CallKindDelegateCall, CallKindStaticCall:
		target := addressFromWord(cur.StackBack(1))
		call.CodeAddress = target
		switch kind {
		case CallKindCall, CallKindStaticCall:
			call.Address = target
		case CallKindCallCode:
			call.Address = caller.Address
		case CallKindDelegateCall:
			call.Address = caller.Address
			call.CallerAddress = caller.CallerAddress
		}
		if kind == CallKindCall || kind == CallKindCallCode {
			call.Value = *cur.StackBack(2)
			call.CallDataOffset = lowU64(cur.StackBack(3))
			call.CallDataLength = lowU64(cur.StackBack(4))
			call.ReturnDataOffset = lowU64(cur.StackBack(5))
			call.ReturnDataLength = lowU64(cur.StackBack(6))
		} else {
			if kind == CallKindDelegateCall {
				call.Value = caller.Value
			}
			call.CallDataOffset = lowU64(cur.StackBack(2))
			call.CallDataLength = lowU64(cur.StackBack(3))
			call.ReturnDataOffset = lowU64(cur.StackBack(4))
			call.ReturnDataLength = lowU64(cur.StackBack(5))
		}
		exists, acc := s.sdb.GetAccount(call.CodeAddress)
		call.CodeHash = state.EmptyCodeHash
		if exists && acc.CodeHash != (common.Hash{}) {
			call.CodeHash = acc.CodeHash
		}
		callData = callerCtx.Memory.ReadChunk(call.CallDataOffset, call.CallDataLength)

	case CallKindCreate, CallKindCreate2:
		call.Value = *cur.StackBack(0)
		offset := lowU64(cur.StackBack(1))
		length := lowU64(cur.StackBack(2))
		initCode := callerCtx.Memory.ReadChunk(offset, length)
		if kind == CallKindCreate {
			call.Address = crypto.CreateAddress(caller.Address, s.sdb.GetNonce(caller.Address))
		} else {
			salt := cur.StackBack(3).Bytes32()
			call.Address = crypto.CreateAddress2(caller.Address, salt, crypto.Keccak256(initCode))
		}
		call.CodeAddress = call.Address
		call.CodeHash = s.codeDB.Insert(initCode)
	}
	return call, callData, nil
}

// PushCall registers a parsed frame and enters its context.
func (s *StateRef) PushCall(call *Call, callData []byte) {
	idx := len(s.tx.Calls)
	s.tx.Calls = append(s.tx.Calls, call)
	s.txCtx.PushCallCtx(idx, callData, call.IsSuccess)
}

// createdAddress computes the address a CREATE or CREATE2 at cur would
// deploy to, without touching the ledger.
func (s *StateRef) createdAddress(cur *types.ExecStep, caller *Call) common.Address {
	if cur.Op == vm.CREATE {
		return crypto.CreateAddress(caller.Address, s.sdb.GetNonce(caller.Address))
	}
	callCtx, err := s.CallCtx()
	if err != nil {
		return common.Address{}
	}
	offset := lowU64(cur.StackBack(1))
	length := lowU64(cur.StackBack(2))
	initCode := callCtx.Memory.ReadChunk(offset, length)
	salt := cur.StackBack(3).Bytes32()
	return crypto.CreateAddress2(caller.Address, salt, crypto.Keccak256(initCode))
}

// TransferWithFee moves value from sender to receiver, charging the fee
// to the sender first. The fee deduction is irreversible; the value legs
// and any receiver creation revert with the frame. A zero value transfer
// without creation emits nothing.
func (s *StateRef) TransferWithFee(step *ExecStep, from, to common.Address, toExists, mustCreate bool, value, fee *uint256.Int) error {
	if fee != nil && !fee.IsZero() {
		exists, sender := s.sdb.GetAccount(from)
		if !exists {
			return fmt.Errorf("%w: fee payer %s", ErrAccountNotFound, from.Hex())
		}
		prev := *sender.Balance
		var bal uint256.Int
		bal.Sub(&prev, fee)
		s.PushWrite(step, operation.NewAccountOp(from, operation.AccountBalance, bal, prev))
	}
	if !toExists && (mustCreate || !value.IsZero()) {
		op := operation.NewAccountOp(to, operation.AccountCodeHash, operation.HashToUint256(state.EmptyCodeHash), uint256.Int{})
		if err := s.PushWriteReversible(step, op); err != nil {
			return err
		}
	}
	if value.IsZero() {
		return nil
	}
	fromPrev := *s.sdb.GetBalance(from)
	var fromBal uint256.Int
	fromBal.Sub(&fromPrev, value)
	if err := s.PushWriteReversible(step, operation.NewAccountOp(from, operation.AccountBalance, fromBal, fromPrev)); err != nil {
		return err
	}
	toPrev := *s.sdb.GetBalance(to)
	var toBal uint256.Int
	toBal.Add(&toPrev, value)
	return s.PushWriteReversible(step, operation.NewAccountOp(to, operation.AccountBalance, toBal, toPrev))
}

// Transfer is TransferWithFee without the fee leg.
func (s *StateRef) Transfer(step *ExecStep, from, to common.Address, toExists, mustCreate bool, value *uint256.Int) error {
	return s.TransferWithFee(step, from, to, toExists, mustCreate, value, nil)
}

// TransferTo credits the receiver only, used for rewards and destruct
// payouts where the debit side is implicit or recorded elsewhere.
func (s *StateRef) TransferTo(step *ExecStep, to common.Address, toExists, mustCreate bool, value *uint256.Int, reversible bool) error {
	if !toExists && (mustCreate || !value.IsZero()) {
		op := operation.NewAccountOp(to, operation.AccountCodeHash, operation.HashToUint256(state.EmptyCodeHash), uint256.Int{})
		if reversible {
			if err := s.PushWriteReversible(step, op); err != nil {
				return err
			}
		} else {
			s.PushWrite(step, op)
		}
	}
	if value.IsZero() {
		return nil
	}
	prev := *s.sdb.GetBalance(to)
	var bal uint256.Int
	bal.Add(&prev, value)
	op := operation.NewAccountOp(to, operation.AccountBalance, bal, prev)
	if reversible {
		return s.PushWriteReversible(step, op)
	}
	s.PushWrite(step, op)
	return nil
}

// checkMemoryMirror compares the mirror against the trace's snapshot when
// one is present. In strict mode a divergence aborts the build, otherwise
// it is logged and the snapshot wins.
func (s *StateRef) checkMemoryMirror(cur *types.ExecStep) error {
	if cur.Memory == nil {
		return nil
	}
	callCtx, err := s.CallCtx()
	if err != nil {
		return err
	}
	if callCtx.Memory.Equal(cur.Memory) {
		return nil
	}
	if s.cfg.StrictMemoryCheck {
		return fmt.Errorf("%w: at %s pc %d", ErrMemoryMismatch, cur.Op, cur.PC)
	}
	log.Debug("Memory mirror diverged from trace snapshot, healing", "op", cur.Op, "pc", cur.PC)
	callCtx.Memory = NewMemoryFromBytes(cur.Memory)
	return nil
}

// codeHashWord returns an account's code hash as a bus word: the empty
// code hash for an existing codeless account, zero for a missing one.
func (s *StateRef) codeHashWord(addr common.Address) (bool, uint256.Int) {
	exists, acc := s.sdb.GetAccount(addr)
	if !exists {
		return false, uint256.Int{}
	}
	hash := acc.CodeHash
	if hash == (common.Hash{}) {
		hash = state.EmptyCodeHash
	}
	return true, operation.HashToUint256(hash)
}

func u64Word(v uint64) uint256.Int { return *uint256.NewInt(v) }

func addressFromWord(w *uint256.Int) common.Address {
	return common.Address(w.Bytes20())
}

// isPrecompileAddress reports whether addr is one of the nine reserved
// precompile addresses.
func isPrecompileAddress(addr common.Address) bool {
	for i := 0; i < common.AddressLength-1; i++ {
		if addr[i] != 0 {
			return false
		}
	}
	return addr[common.AddressLength-1] >= 1 && addr[common.AddressLength-1] <= params.NumPrecompiles
}
