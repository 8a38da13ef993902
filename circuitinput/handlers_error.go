package circuitinput

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/vm"

	"github.com/s4t0shi-n4k4m0t0/zkevm-circuits/operation"
	"github.com/s4t0shi-n4k4m0t0/zkevm-circuits/types"
)

// Error handlers record the operations the proving side needs to verify
// that the failure was legitimate, then close the frame. All of them end
// in a caller restore except precompile launches, where the parent keeps
// running.

func errorInvalidJump(s *StateRef, step *ExecStep, steps []*types.ExecStep) error {
	cur := steps[0]
	call, err := s.Call()
	if err != nil {
		return err
	}
	pops := 1
	if cur.Op == vm.JUMPI {
		pops = 2
	}
	for i := 0; i < pops; i++ {
		s.PushOp(step, operation.Read, operation.NewStackOp(call.ID, stackPosition(cur, i), cur.StackBack(i)))
	}
	return s.HandleReturn(step, steps, true)
}

func errorOOGCall(s *StateRef, step *ExecStep, steps []*types.ExecStep) error {
	cur := steps[0]
	call, err := s.Call()
	if err != nil {
		return err
	}
	s.PushOp(step, operation.Read, operation.NewCallContextOp(call.ID, operation.CallContextTxID, u64Word(uint64(s.TxID()))))
	pops := 7
	if cur.Op == vm.DELEGATECALL || cur.Op == vm.STATICCALL {
		pops = 6
	}
	for i := 0; i < pops; i++ {
		s.PushOp(step, operation.Read, operation.NewStackOp(call.ID, stackPosition(cur, i), cur.StackBack(i)))
	}
	callee := addressFromWord(cur.StackBack(1))
	_, hashWord := s.codeHashWord(callee)
	s.PushOp(step, operation.Read, operation.NewAccountOp(callee, operation.AccountCodeHash, hashWord, hashWord))
	isWarm := s.sdb.CheckAccountInAccessList(callee)
	s.PushOp(step, operation.Read, operation.NewTxAccessListAccountOp(s.TxID(), callee, isWarm, isWarm))
	return s.HandleReturn(step, steps, true)
}

func errorOOGLog(s *StateRef, step *ExecStep, steps []*types.ExecStep) error {
	cur := steps[0]
	call, err := s.Call()
	if err != nil {
		return err
	}
	for i := 0; i < 2; i++ {
		s.PushOp(step, operation.Read, operation.NewStackOp(call.ID, stackPosition(cur, i), cur.StackBack(i)))
	}
	return s.HandleReturn(step, steps, true)
}

func errorOOGMemoryCopy(s *StateRef, step *ExecStep, steps []*types.ExecStep) error {
	cur := steps[0]
	call, err := s.Call()
	if err != nil {
		return err
	}
	pops := 3
	if cur.Op == vm.EXTCODECOPY {
		s.PushOp(step, operation.Read, operation.NewCallContextOp(call.ID, operation.CallContextTxID, u64Word(uint64(s.TxID()))))
		pops = 4
	}
	for i := 0; i < pops; i++ {
		s.PushOp(step, operation.Read, operation.NewStackOp(call.ID, stackPosition(cur, i), cur.StackBack(i)))
	}
	if cur.Op == vm.EXTCODECOPY {
		addr := addressFromWord(cur.StackBack(0))
		isWarm := s.sdb.CheckAccountInAccessList(addr)
		s.PushOp(step, operation.Read, operation.NewTxAccessListAccountOp(s.TxID(), addr, isWarm, isWarm))
	}
	return s.HandleReturn(step, steps, true)
}

func errorOOGSloadSstore(s *StateRef, step *ExecStep, steps []*types.ExecStep) error {
	cur := steps[0]
	call, err := s.Call()
	if err != nil {
		return err
	}
	s.PushOp(step, operation.Read, operation.NewCallContextOp(call.ID, operation.CallContextTxID, u64Word(uint64(s.TxID()))))
	pops := 1
	if cur.Op == vm.SSTORE {
		pops = 2
	}
	for i := 0; i < pops; i++ {
		s.PushOp(step, operation.Read, operation.NewStackOp(call.ID, stackPosition(cur, i), cur.StackBack(i)))
	}
	key := common.Hash(cur.StackBack(0).Bytes32())
	isWarm := s.sdb.CheckStorageInAccessList(call.Address, key)
	s.PushOp(step, operation.Read, operation.NewTxAccessListAccountStorageOp(s.TxID(), call.Address, key, isWarm, isWarm))
	return s.HandleReturn(step, steps, true)
}

// makeErrorStackReads records the top operands the failed instruction
// would have consumed, then closes the frame.
func makeErrorStackReads(pops int) stepHandler {
	return func(s *StateRef, step *ExecStep, steps []*types.ExecStep) error {
		cur := steps[0]
		call, err := s.Call()
		if err != nil {
			return err
		}
		for i := 0; i < pops; i++ {
			s.PushOp(step, operation.Read, operation.NewStackOp(call.ID, stackPosition(cur, i), cur.StackBack(i)))
		}
		return s.HandleReturn(step, steps, true)
	}
}

// errorOOGCreate covers a create launch that ran out of gas before the
// child frame existed. CREATE2 carries the extra salt operand.
func errorOOGCreate(s *StateRef, step *ExecStep, steps []*types.ExecStep) error {
	pops := 3
	if steps[0].Op == vm.CREATE2 {
		pops = 4
	}
	return makeErrorStackReads(pops)(s, step, steps)
}

func errorOOGAccountAccess(s *StateRef, step *ExecStep, steps []*types.ExecStep) error {
	cur := steps[0]
	call, err := s.Call()
	if err != nil {
		return err
	}
	s.PushOp(step, operation.Read, operation.NewCallContextOp(call.ID, operation.CallContextTxID, u64Word(uint64(s.TxID()))))
	s.PushOp(step, operation.Read, operation.NewStackOp(call.ID, stackPosition(cur, 0), cur.StackBack(0)))
	addr := addressFromWord(cur.StackBack(0))
	isWarm := s.sdb.CheckAccountInAccessList(addr)
	s.PushOp(step, operation.Read, operation.NewTxAccessListAccountOp(s.TxID(), addr, isWarm, isWarm))
	return s.HandleReturn(step, steps, true)
}

// errorCodeStore records the code that failed to deploy so the proving
// side can charge the deposit cost against it. A declared max-code-size
// error can also land on the create instruction itself (init code too
// large), where the frame dies before any deposit exists.
func errorCodeStore(s *StateRef, step *ExecStep, steps []*types.ExecStep) error {
	cur := steps[0]
	if cur.Op == vm.CREATE || cur.Op == vm.CREATE2 {
		return errorOOGCreate(s, step, steps)
	}
	call, err := s.Call()
	if err != nil {
		return err
	}
	callCtx, err := s.CallCtx()
	if err != nil {
		return err
	}
	for i := 0; i < 2; i++ {
		s.PushOp(step, operation.Read, operation.NewStackOp(call.ID, stackPosition(cur, i), cur.StackBack(i)))
	}
	offset := lowU64(cur.StackBack(0))
	length := lowU64(cur.StackBack(1))
	if length > 0 {
		callCtx.Memory.Extend(offset, length)
		code := callCtx.Memory.ReadChunk(offset, length)
		codeHash := s.codeDB.Insert(code)
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
			s.PushOp(step, operation.Read, operation.NewMemoryOp(call.ID, offset+i, code[i]))
			ev.Bytes = append(ev.Bytes, CopyByte{Value: code[i], IsCode: isCode})
		}
		s.block.AddCopyEvent(ev)
		step.CopyRWCounterDelta += length
		copyEventCounter.Inc(1)
	}
	return s.HandleReturn(step, steps, true)
}

// errorCreationCode reads the leading byte that disqualified the
// deployment.
func errorCreationCode(s *StateRef, step *ExecStep, steps []*types.ExecStep) error {
	cur := steps[0]
	call, err := s.Call()
	if err != nil {
		return err
	}
	callCtx, err := s.CallCtx()
	if err != nil {
		return err
	}
	for i := 0; i < 2; i++ {
		s.PushOp(step, operation.Read, operation.NewStackOp(call.ID, stackPosition(cur, i), cur.StackBack(i)))
	}
	offset := lowU64(cur.StackBack(0))
	callCtx.Memory.Extend(offset, 1)
	s.PushOp(step, operation.Read, operation.NewMemoryOp(call.ID, offset, callCtx.Memory.Byte(offset)))
	return s.HandleReturn(step, steps, true)
}

// errorPrecompileFailed closes a precompile launch whose callee ran out
// of gas or rejected its input. The parent frame continues.
func errorPrecompileFailed(s *StateRef, step *ExecStep, steps []*types.ExecStep) error {
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
	result := operation.BoolToUint256(false)
	s.PushOp(step, operation.Write, operation.NewStackOp(caller.ID, stackPosition(cur, pops-1), &result))
	s.PushCall(child, callData)
	return s.HandleReturn(step, steps, false)
}

func errorWriteProtection(s *StateRef, step *ExecStep, steps []*types.ExecStep) error {
	cur := steps[0]
	call, err := s.Call()
	if err != nil {
		return err
	}
	s.PushOp(step, operation.Read, operation.NewCallContextOp(call.ID, operation.CallContextIsStatic, operation.BoolToUint256(call.IsStatic)))
	var pops int
	switch cur.Op {
	case vm.CALL:
		pops = 3
	case vm.SSTORE, vm.TSTORE, vm.LOG0, vm.LOG1, vm.LOG2, vm.LOG3, vm.LOG4:
		pops = 2
	case vm.SELFDESTRUCT:
		pops = 1
	}
	for i := 0; i < pops; i++ {
		s.PushOp(step, operation.Read, operation.NewStackOp(call.ID, stackPosition(cur, i), cur.StackBack(i)))
	}
	return s.HandleReturn(step, steps, true)
}

func errorReturnDataOutOfBound(s *StateRef, step *ExecStep, steps []*types.ExecStep) error {
	cur := steps[0]
	call, err := s.Call()
	if err != nil {
		return err
	}
	for i := 0; i < 3; i++ {
		s.PushOp(step, operation.Read, operation.NewStackOp(call.ID, stackPosition(cur, i), cur.StackBack(i)))
	}
	s.PushOp(step, operation.Read, operation.NewCallContextOp(call.ID, operation.CallContextLastCalleeID, u64Word(uint64(call.LastCalleeID))))
	s.PushOp(step, operation.Read, operation.NewCallContextOp(call.ID, operation.CallContextLastCalleeReturnDataLength, u64Word(call.LastCalleeReturnDataLength)))
	return s.HandleReturn(step, steps, true)
}
