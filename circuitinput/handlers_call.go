package circuitinput

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"

	"github.com/s4t0shi-n4k4m0t0/zkevm-circuits/operation"
	"github.com/s4t0shi-n4k4m0t0/zkevm-circuits/params"
	"github.com/s4t0shi-n4k4m0t0/zkevm-circuits/state"
	"github.com/s4t0shi-n4k4m0t0/zkevm-circuits/types"
)

// pushLaunchContext reads the caller context columns every launch opcode
// consumes.
func (s *StateRef) pushLaunchContext(step *ExecStep, caller *Call) {
	s.pushReversionInfo(step, caller)
	s.PushOp(step, operation.Read, operation.NewCallContextOp(caller.ID, operation.CallContextIsStatic, operation.BoolToUint256(caller.IsStatic)))
	s.PushOp(step, operation.Read, operation.NewCallContextOp(caller.ID, operation.CallContextDepth, u64Word(uint64(caller.Depth))))
	s.PushOp(step, operation.Read, operation.NewCallContextOp(caller.ID, operation.CallContextCalleeAddress, operation.AddressToUint256(caller.Address)))
}

// pushChildContext writes the full context block a freshly entered frame
// runs under. RwCounterEndOfReversion is written as zero here and patched
// once the enclosing reversion is replayed.
func (s *StateRef) pushChildContext(step *ExecStep, child *Call) {
	writes := []struct {
		field operation.CallContextField
		value uint256.Int
	}{
		{operation.CallContextCallerID, u64Word(uint64(child.CallerID))},
		{operation.CallContextTxID, u64Word(uint64(s.TxID()))},
		{operation.CallContextDepth, u64Word(uint64(child.Depth))},
		{operation.CallContextCallerAddress, operation.AddressToUint256(child.CallerAddress)},
		{operation.CallContextCalleeAddress, operation.AddressToUint256(child.Address)},
		{operation.CallContextCallDataOffset, u64Word(child.CallDataOffset)},
		{operation.CallContextCallDataLength, u64Word(child.CallDataLength)},
		{operation.CallContextReturnDataOffset, u64Word(child.ReturnDataOffset)},
		{operation.CallContextReturnDataLength, u64Word(child.ReturnDataLength)},
		{operation.CallContextValue, child.Value},
		{operation.CallContextIsSuccess, operation.BoolToUint256(child.IsSuccess)},
		{operation.CallContextIsStatic, operation.BoolToUint256(child.IsStatic)},
		{operation.CallContextLastCalleeID, u64Word(0)},
		{operation.CallContextLastCalleeReturnDataOffset, u64Word(0)},
		{operation.CallContextLastCalleeReturnDataLength, u64Word(0)},
		{operation.CallContextIsRoot, operation.BoolToUint256(child.IsRoot)},
		{operation.CallContextIsCreate, operation.BoolToUint256(child.IsCreate())},
		{operation.CallContextCodeHash, operation.HashToUint256(child.CodeHash)},
		{operation.CallContextRwCounterEndOfReversion, u64Word(child.RWCounterEndOfReversion)},
		{operation.CallContextIsPersistent, operation.BoolToUint256(child.IsPersistent)},
	}
	for _, w := range writes {
		s.PushOp(step, operation.Write, operation.NewCallContextOp(child.ID, w.field, w.value))
	}
}

// opCall covers CALL, CALLCODE, DELEGATECALL and STATICCALL. A launch
// whose callee is a precompile or carries no code never enters; its frame
// opens and closes within this step. Depth failures dispatch here too and
// take the early exit before any state moves.
func opCall(s *StateRef, step *ExecStep, steps []*types.ExecStep) error {
	cur := steps[0]
	caller, err := s.Call()
	if err != nil {
		return err
	}
	child, callData, err := s.ParseCall(cur)
	if err != nil {
		return err
	}

	s.pushLaunchContext(step, caller)

	pops := 7
	if cur.Op == vm.DELEGATECALL || cur.Op == vm.STATICCALL {
		pops = 6
	}
	for i := 0; i < pops; i++ {
		s.PushOp(step, operation.Read, operation.NewStackOp(caller.ID, stackPosition(cur, i), cur.StackBack(i)))
	}
	result := operation.BoolToUint256(child.IsSuccess)
	s.PushOp(step, operation.Write, operation.NewStackOp(caller.ID, stackPosition(cur, pops-1), &result))

	_, hashWord := s.codeHashWord(child.CodeAddress)
	s.PushOp(step, operation.Read, operation.NewAccountOp(child.CodeAddress, operation.AccountCodeHash, hashWord, hashWord))
	if err := s.pushAccountWarming(step, child.CodeAddress); err != nil {
		return err
	}

	if child.Depth > params.CallCreateDepth {
		s.PushCall(child, callData)
		return s.HandleReturn(step, steps, false)
	}

	s.PushCall(child, callData)
	if child.Kind == CallKindCall {
		exists, _ := s.sdb.GetAccount(child.Address)
		if err := s.Transfer(step, child.CallerAddress, child.Address, exists, false, &child.Value); err != nil {
			return err
		}
	}

	emptyWord := operation.HashToUint256(state.EmptyCodeHash)
	hasCode := !hashWord.IsZero() && !hashWord.Eq(&emptyWord)
	if isPrecompileAddress(child.CodeAddress) || !hasCode {
		return s.HandleReturn(step, steps, false)
	}
	s.pushChildContext(step, child)
	return nil
}

// opCreate covers CREATE and CREATE2. The creator nonce and address
// warming stay with the parent frame, everything after the frame switch
// reverts with the child.
func opCreate(s *StateRef, step *ExecStep, steps []*types.ExecStep) error {
	cur := steps[0]
	caller, err := s.Call()
	if err != nil {
		return err
	}
	callerCtx, err := s.CallCtx()
	if err != nil {
		return err
	}
	child, _, err := s.ParseCall(cur)
	if err != nil {
		return err
	}

	s.pushLaunchContext(step, caller)

	pops := 3
	if cur.Op == vm.CREATE2 {
		pops = 4
	}
	for i := 0; i < pops; i++ {
		s.PushOp(step, operation.Read, operation.NewStackOp(caller.ID, stackPosition(cur, i), cur.StackBack(i)))
	}
	var result uint256.Int
	if child.IsSuccess {
		result = operation.AddressToUint256(child.Address)
	}
	s.PushOp(step, operation.Write, operation.NewStackOp(caller.ID, stackPosition(cur, pops-1), &result))

	offset := lowU64(cur.StackBack(1))
	length := lowU64(cur.StackBack(2))
	var initCode []byte
	if length > 0 {
		callerCtx.Memory.Extend(offset, length)
		initCode = callerCtx.Memory.ReadChunk(offset, length)
		bytecode, ok := s.codeDB.GetBytecode(child.CodeHash)
		if !ok {
			return fmt.Errorf("%w: %s", ErrCodeNotFound, child.CodeHash.TerminalString())
		}
		ev := &CopyEvent{
			SrcType:        CopyMemory,
			SrcID:          CopyIDFromNumber(caller.ID),
			SrcAddr:        offset,
			SrcAddrEnd:     offset + length,
			DstType:        CopyBytecode,
			DstID:          CopyIDFromHash(child.CodeHash),
			RWCounterStart: s.blockCtx.RWC.Peek(),
		}
		for i := uint64(0); i < length; i++ {
			_, isCode := bytecode.At(i)
			s.PushOp(step, operation.Read, operation.NewMemoryOp(caller.ID, offset+i, initCode[i]))
			ev.Bytes = append(ev.Bytes, CopyByte{Value: initCode[i], IsCode: isCode})
		}
		s.block.AddCopyEvent(ev)
		step.CopyRWCounterDelta += length
		copyEventCounter.Inc(1)
	}

	if child.Depth > params.CallCreateDepth {
		s.PushCall(child, nil)
		return s.HandleReturn(step, steps, false)
	}

	nonce := s.sdb.GetNonce(caller.Address)
	if err := s.PushWriteReversible(step, operation.NewAccountOp(caller.Address, operation.AccountNonce, u64Word(nonce+1), u64Word(nonce))); err != nil {
		return err
	}
	if err := s.pushAccountWarming(step, child.Address); err != nil {
		return err
	}

	exists, _ := s.sdb.GetAccount(child.Address)
	s.PushCall(child, nil)
	if err := s.Transfer(step, child.CallerAddress, child.Address, exists, true, &child.Value); err != nil {
		return err
	}
	if err := s.PushWriteReversible(step, operation.NewAccountOp(child.Address, operation.AccountNonce, u64Word(1), u64Word(0))); err != nil {
		return err
	}
	s.pushChildContext(step, child)

	if cur.Op == vm.CREATE {
		preimage, err := rlp.EncodeToBytes([]interface{}{caller.Address, nonce})
		if err != nil {
			return err
		}
		s.block.AddSha3Input(preimage)
	} else {
		salt := cur.StackBack(3).Bytes32()
		preimage := make([]byte, 0, 1+common.AddressLength+2*common.HashLength)
		preimage = append(preimage, 0xff)
		preimage = append(preimage, caller.Address.Bytes()...)
		preimage = append(preimage, salt[:]...)
		preimage = append(preimage, crypto.Keccak256(initCode)...)
		s.block.AddSha3Input(preimage)
	}
	s.block.AddSha3Input(initCode)

	// Empty init code deploys immediately; the trace never enters the
	// child.
	if length == 0 {
		return s.HandleReturn(step, steps, false)
	}
	return nil
}

// opReturnRevert covers RETURN and REVERT. A successful deploying RETURN
// commits the returned bytes as the contract code; any other non-root
// exit copies the returned range into the caller's reserved region.
func opReturnRevert(s *StateRef, step *ExecStep, steps []*types.ExecStep) error {
	cur := steps[0]
	call, err := s.Call()
	if err != nil {
		return err
	}
	callCtx, err := s.CallCtx()
	if err != nil {
		return err
	}

	offset := lowU64(cur.StackBack(0))
	length := lowU64(cur.StackBack(1))
	s.PushOp(step, operation.Read, operation.NewStackOp(call.ID, stackPosition(cur, 0), cur.StackBack(0)))
	s.PushOp(step, operation.Read, operation.NewStackOp(call.ID, stackPosition(cur, 1), cur.StackBack(1)))

	if call.IsCreate() && call.IsSuccess && cur.Op == vm.RETURN {
		if length > 0 {
			callCtx.Memory.Extend(offset, length)
			deployed := callCtx.Memory.ReadChunk(offset, length)
			codeHash := s.codeDB.Insert(deployed)
			s.block.AddSha3Input(deployed)
			bytecode, _ := s.codeDB.GetBytecode(codeHash)
			ev := &CopyEvent{
				SrcType:        CopyMemory,
				SrcID:          CopyIDFromNumber(call.ID),
				SrcAddr:        offset,
				SrcAddrEnd:     offset + length,
				DstType:        CopyBytecode,
				DstID:          CopyIDFromHash(codeHash),
				RWCounterStart: s.blockCtx.RWC.Peek(),
			}
			for i := uint64(0); i < length; i++ {
				_, isCode := bytecode.At(i)
				s.PushOp(step, operation.Read, operation.NewMemoryOp(call.ID, offset+i, deployed[i]))
				ev.Bytes = append(ev.Bytes, CopyByte{Value: deployed[i], IsCode: isCode})
			}
			s.block.AddCopyEvent(ev)
			step.CopyRWCounterDelta += length
			copyEventCounter.Inc(1)

			_, prevWord := s.codeHashWord(call.Address)
			if err := s.PushWriteReversible(step, operation.NewAccountOp(call.Address, operation.AccountCodeHash, operation.HashToUint256(codeHash), prevWord)); err != nil {
				return err
			}
		}
	} else if !call.IsRoot {
		copyLen := call.ReturnDataLength
		if length < copyLen {
			copyLen = length
		}
		if copyLen > 0 {
			callerCtx, err := s.CallerCtx()
			if err != nil {
				return err
			}
			callCtx.Memory.Extend(offset, copyLen)
			data := callCtx.Memory.ReadChunk(offset, copyLen)
			ev := &CopyEvent{
				SrcType:        CopyMemory,
				SrcID:          CopyIDFromNumber(call.ID),
				SrcAddr:        offset,
				SrcAddrEnd:     offset + copyLen,
				DstType:        CopyMemory,
				DstID:          CopyIDFromNumber(call.CallerID),
				DstAddr:        call.ReturnDataOffset,
				RWCounterStart: s.blockCtx.RWC.Peek(),
			}
			for i := uint64(0); i < copyLen; i++ {
				s.PushOp(step, operation.Read, operation.NewMemoryOp(call.ID, offset+i, data[i]))
				s.PushOp(step, operation.Write, operation.NewMemoryOp(call.CallerID, call.ReturnDataOffset+i, data[i]))
				ev.Bytes = append(ev.Bytes, CopyByte{Value: data[i]})
			}
			callerCtx.Memory.WriteChunk(call.ReturnDataOffset, data)
			s.block.AddCopyEvent(ev)
			step.CopyRWCounterDelta += 2 * copyLen
			copyEventCounter.Inc(1)
		}
	}
	return s.HandleReturn(step, steps, !call.IsRoot)
}

// opSelfdestruct is a reduced model: the balance moves and the account
// zeroes, but the storage wipe only applies in persistent frames since it
// cannot be replayed backwards. EIP-3529 removed the refund, so none is
// recorded.
func opSelfdestruct(s *StateRef, step *ExecStep, steps []*types.ExecStep) error {
	cur := steps[0]
	call, err := s.Call()
	if err != nil {
		return err
	}
	receiver := addressFromWord(cur.StackBack(0))
	s.PushOp(step, operation.Read, operation.NewStackOp(call.ID, stackPosition(cur, 0), cur.StackBack(0)))
	if err := s.pushAccountWarming(step, receiver); err != nil {
		return err
	}

	balance := *s.sdb.GetBalance(call.Address)
	if receiver != call.Address {
		exists, _ := s.sdb.GetAccount(receiver)
		if err := s.TransferTo(step, receiver, exists, false, &balance, true); err != nil {
			return err
		}
	}

	_, acc := s.sdb.GetAccount(call.Address)
	prevNonce, prevHash := acc.Nonce, acc.CodeHash
	if err := s.PushWriteReversible(step, operation.NewAccountOp(call.Address, operation.AccountBalance, uint256.Int{}, balance)); err != nil {
		return err
	}
	if err := s.PushWriteReversible(step, operation.NewAccountOp(call.Address, operation.AccountNonce, uint256.Int{}, u64Word(prevNonce))); err != nil {
		return err
	}
	if err := s.PushWriteReversible(step, operation.NewAccountOp(call.Address, operation.AccountCodeHash, uint256.Int{}, operation.HashToUint256(prevHash))); err != nil {
		return err
	}
	if call.IsPersistent {
		s.sdb.DestructAccount(call.Address)
	}
	return s.HandleReturn(step, steps, !call.IsRoot)
}
