package circuitinput

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	gethparams "github.com/ethereum/go-ethereum/params"
	"github.com/holiman/uint256"

	"github.com/s4t0shi-n4k4m0t0/zkevm-circuits/operation"
	"github.com/s4t0shi-n4k4m0t0/zkevm-circuits/types"
)

func errTruncated(cur *types.ExecStep) error {
	return fmt.Errorf("%w: missing result step for %s at pc %d", ErrTraceTruncated, cur.Op, cur.PC)
}

// makeStackHandler covers every opcode whose bus footprint is its stack
// movement alone: pops reads of the operands and, for producing opcodes,
// one write of the result taken from the next step's stack top.
func makeStackHandler(pops, pushes int) stepHandler {
	return func(s *StateRef, step *ExecStep, steps []*types.ExecStep) error {
		cur := steps[0]
		call, err := s.Call()
		if err != nil {
			return err
		}
		for i := 0; i < pops; i++ {
			s.PushOp(step, operation.Read, operation.NewStackOp(call.ID, stackPosition(cur, i), cur.StackBack(i)))
		}
		if pushes > 0 {
			if len(steps) < 2 {
				return errTruncated(cur)
			}
			s.PushOp(step, operation.Write, operation.NewStackOp(call.ID, stackPosition(cur, pops-1), steps[1].StackTop()))
		}
		return nil
	}
}

func makeDupHandler(n int) stepHandler {
	return func(s *StateRef, step *ExecStep, steps []*types.ExecStep) error {
		cur := steps[0]
		call, err := s.Call()
		if err != nil {
			return err
		}
		value := cur.StackBack(n - 1)
		s.PushOp(step, operation.Read, operation.NewStackOp(call.ID, stackPosition(cur, n-1), value))
		s.PushOp(step, operation.Write, operation.NewStackOp(call.ID, stackPosition(cur, 0)-1, value))
		return nil
	}
}

func makeSwapHandler(n int) stepHandler {
	return func(s *StateRef, step *ExecStep, steps []*types.ExecStep) error {
		cur := steps[0]
		call, err := s.Call()
		if err != nil {
			return err
		}
		deep, top := cur.StackBack(n), cur.StackBack(0)
		s.PushOp(step, operation.Read, operation.NewStackOp(call.ID, stackPosition(cur, n), deep))
		s.PushOp(step, operation.Read, operation.NewStackOp(call.ID, stackPosition(cur, 0), top))
		s.PushOp(step, operation.Write, operation.NewStackOp(call.ID, stackPosition(cur, n), top))
		s.PushOp(step, operation.Write, operation.NewStackOp(call.ID, stackPosition(cur, 0), deep))
		return nil
	}
}

func opNoop(*StateRef, *ExecStep, []*types.ExecStep) error { return nil }

func opStop(s *StateRef, step *ExecStep, steps []*types.ExecStep) error {
	call, err := s.Call()
	if err != nil {
		return err
	}
	return s.HandleReturn(step, steps, !call.IsRoot)
}

// contextValue selects the context column and value an opcode exposes.
type contextValue func(call *Call) (operation.CallContextField, uint256.Int)

func addressWordOf(call *Call) (operation.CallContextField, uint256.Int) {
	return operation.CallContextCalleeAddress, operation.AddressToUint256(call.Address)
}

func callerWordOf(call *Call) (operation.CallContextField, uint256.Int) {
	return operation.CallContextCallerAddress, operation.AddressToUint256(call.CallerAddress)
}

func valueWordOf(call *Call) (operation.CallContextField, uint256.Int) {
	return operation.CallContextValue, call.Value
}

func callDataLengthWordOf(call *Call) (operation.CallContextField, uint256.Int) {
	return operation.CallContextCallDataLength, u64Word(call.CallDataLength)
}

func lastCalleeReturnLengthWordOf(call *Call) (operation.CallContextField, uint256.Int) {
	return operation.CallContextLastCalleeReturnDataLength, u64Word(call.LastCalleeReturnDataLength)
}

// makeCallContextPush reads one context column and pushes it.
func makeCallContextPush(valueOf contextValue) stepHandler {
	return func(s *StateRef, step *ExecStep, steps []*types.ExecStep) error {
		cur := steps[0]
		call, err := s.Call()
		if err != nil {
			return err
		}
		field, value := valueOf(call)
		s.PushOp(step, operation.Read, operation.NewCallContextOp(call.ID, field, value))
		if len(steps) < 2 {
			return errTruncated(cur)
		}
		s.PushOp(step, operation.Write, operation.NewStackOp(call.ID, stackPosition(cur, -1), steps[1].StackTop()))
		return nil
	}
}

// opTxValuePush covers ORIGIN and GASPRICE: the pushed value lives in the
// transaction table, the bus only records which transaction was asked.
func opTxValuePush(s *StateRef, step *ExecStep, steps []*types.ExecStep) error {
	cur := steps[0]
	call, err := s.Call()
	if err != nil {
		return err
	}
	s.PushOp(step, operation.Read, operation.NewCallContextOp(call.ID, operation.CallContextTxID, u64Word(uint64(s.TxID()))))
	if len(steps) < 2 {
		return errTruncated(cur)
	}
	s.PushOp(step, operation.Write, operation.NewStackOp(call.ID, stackPosition(cur, -1), steps[1].StackTop()))
	return nil
}

func opSelfbalance(s *StateRef, step *ExecStep, steps []*types.ExecStep) error {
	cur := steps[0]
	call, err := s.Call()
	if err != nil {
		return err
	}
	s.PushOp(step, operation.Read, operation.NewCallContextOp(call.ID, operation.CallContextCalleeAddress, operation.AddressToUint256(call.Address)))
	balance := *s.sdb.GetBalance(call.Address)
	s.PushOp(step, operation.Read, operation.NewAccountOp(call.Address, operation.AccountBalance, balance, balance))
	if len(steps) < 2 {
		return errTruncated(cur)
	}
	s.PushOp(step, operation.Write, operation.NewStackOp(call.ID, stackPosition(cur, -1), steps[1].StackTop()))
	return nil
}

// pushReversionInfo reads the three context columns every reversible
// write is checked against.
func (s *StateRef) pushReversionInfo(step *ExecStep, call *Call) {
	s.PushOp(step, operation.Read, operation.NewCallContextOp(call.ID, operation.CallContextTxID, u64Word(uint64(s.TxID()))))
	s.PushOp(step, operation.Read, operation.NewCallContextOp(call.ID, operation.CallContextRwCounterEndOfReversion, u64Word(call.RWCounterEndOfReversion)))
	s.PushOp(step, operation.Read, operation.NewCallContextOp(call.ID, operation.CallContextIsPersistent, operation.BoolToUint256(call.IsPersistent)))
}

// pushAccountWarming records the access list transition of addr as a
// reversible write.
func (s *StateRef) pushAccountWarming(step *ExecStep, addr common.Address) error {
	isWarmPrev := s.sdb.CheckAccountInAccessList(addr)
	return s.PushWriteReversible(step, operation.NewTxAccessListAccountOp(s.TxID(), addr, true, isWarmPrev))
}

// pushStorageWarming records the access list transition of a storage slot
// as a reversible write.
func (s *StateRef) pushStorageWarming(step *ExecStep, addr common.Address, key common.Hash) error {
	isWarmPrev := s.sdb.CheckStorageInAccessList(addr, key)
	return s.PushWriteReversible(step, operation.NewTxAccessListAccountStorageOp(s.TxID(), addr, key, true, isWarmPrev))
}

// accountReadValue selects the account column and value an opcode reads.
type accountReadValue func(s *StateRef, addr common.Address) (operation.AccountField, uint256.Int)

func accountReadBalance(s *StateRef, addr common.Address) (operation.AccountField, uint256.Int) {
	return operation.AccountBalance, *s.sdb.GetBalance(addr)
}

// accountReadCodeSizeHash serves EXTCODESIZE and EXTCODEHASH; both prove
// against the code hash column, the size is derived from the code table.
func accountReadCodeSizeHash(s *StateRef, addr common.Address) (operation.AccountField, uint256.Int) {
	_, word := s.codeHashWord(addr)
	return operation.AccountCodeHash, word
}

// makeAccountReadHandler covers BALANCE, EXTCODESIZE and EXTCODEHASH:
// reversion info, the address pop, the EIP-2929 warming write, the
// account read and the result push.
func makeAccountReadHandler(read accountReadValue) stepHandler {
	return func(s *StateRef, step *ExecStep, steps []*types.ExecStep) error {
		cur := steps[0]
		call, err := s.Call()
		if err != nil {
			return err
		}
		s.pushReversionInfo(step, call)
		addr := addressFromWord(cur.StackBack(0))
		s.PushOp(step, operation.Read, operation.NewStackOp(call.ID, stackPosition(cur, 0), cur.StackBack(0)))
		if err := s.pushAccountWarming(step, addr); err != nil {
			return err
		}
		field, value := read(s, addr)
		s.PushOp(step, operation.Read, operation.NewAccountOp(addr, field, value, value))
		if len(steps) < 2 {
			return errTruncated(cur)
		}
		s.PushOp(step, operation.Write, operation.NewStackOp(call.ID, stackPosition(cur, 0), steps[1].StackTop()))
		return nil
	}
}

func opSload(s *StateRef, step *ExecStep, steps []*types.ExecStep) error {
	cur := steps[0]
	call, err := s.Call()
	if err != nil {
		return err
	}
	s.pushReversionInfo(step, call)
	key := common.Hash(cur.StackBack(0).Bytes32())
	s.PushOp(step, operation.Read, operation.NewStackOp(call.ID, stackPosition(cur, 0), cur.StackBack(0)))
	_, value := s.sdb.GetStorage(call.Address, key)
	_, committed := s.sdb.GetCommittedStorage(call.Address, key)
	s.PushOp(step, operation.Read, operation.NewStorageOp(call.Address, key, value, value, s.TxID(), committed))
	if err := s.pushStorageWarming(step, call.Address, key); err != nil {
		return err
	}
	if len(steps) < 2 {
		return errTruncated(cur)
	}
	s.PushOp(step, operation.Write, operation.NewStackOp(call.ID, stackPosition(cur, 0), steps[1].StackTop()))
	return nil
}

func opSstore(s *StateRef, step *ExecStep, steps []*types.ExecStep) error {
	cur := steps[0]
	call, err := s.Call()
	if err != nil {
		return err
	}
	s.pushReversionInfo(step, call)
	s.PushOp(step, operation.Read, operation.NewCallContextOp(call.ID, operation.CallContextIsStatic, operation.BoolToUint256(call.IsStatic)))
	s.PushOp(step, operation.Read, operation.NewCallContextOp(call.ID, operation.CallContextCalleeAddress, operation.AddressToUint256(call.Address)))

	key := common.Hash(cur.StackBack(0).Bytes32())
	value := *cur.StackBack(1)
	s.PushOp(step, operation.Read, operation.NewStackOp(call.ID, stackPosition(cur, 0), cur.StackBack(0)))
	s.PushOp(step, operation.Read, operation.NewStackOp(call.ID, stackPosition(cur, 1), cur.StackBack(1)))

	_, prev := s.sdb.GetStorage(call.Address, key)
	_, committed := s.sdb.GetCommittedStorage(call.Address, key)
	if err := s.PushWriteReversible(step, operation.NewStorageOp(call.Address, key, value, prev, s.TxID(), committed)); err != nil {
		return err
	}
	if err := s.pushStorageWarming(step, call.Address, key); err != nil {
		return err
	}
	refund := s.sdb.Refund()
	return s.PushWriteReversible(step, operation.NewTxRefundOp(s.TxID(), sstoreRefund(refund, &value, &prev, &committed), refund))
}

// sstoreRefund applies the EIP-3529 refund schedule to the running
// counter.
func sstoreRefund(current uint64, value, prev, committed *uint256.Int) uint64 {
	refund := current
	if prev.Eq(value) {
		return refund
	}
	if committed.Eq(prev) {
		if !committed.IsZero() && value.IsZero() {
			refund += gethparams.SstoreClearsScheduleRefundEIP3529
		}
		return refund
	}
	if !committed.IsZero() {
		if prev.IsZero() {
			refund -= gethparams.SstoreClearsScheduleRefundEIP3529
		} else if value.IsZero() {
			refund += gethparams.SstoreClearsScheduleRefundEIP3529
		}
	}
	if committed.Eq(value) {
		if committed.IsZero() {
			refund += gethparams.SstoreSetGasEIP2200 - gethparams.WarmStorageReadCostEIP2929
		} else {
			refund += (gethparams.SstoreResetGasEIP2200 - gethparams.ColdSloadCostEIP2929) - gethparams.WarmStorageReadCostEIP2929
		}
	}
	return refund
}

func opTload(s *StateRef, step *ExecStep, steps []*types.ExecStep) error {
	cur := steps[0]
	call, err := s.Call()
	if err != nil {
		return err
	}
	s.PushOp(step, operation.Read, operation.NewCallContextOp(call.ID, operation.CallContextTxID, u64Word(uint64(s.TxID()))))
	key := common.Hash(cur.StackBack(0).Bytes32())
	s.PushOp(step, operation.Read, operation.NewStackOp(call.ID, stackPosition(cur, 0), cur.StackBack(0)))
	value := s.sdb.GetTransientStorage(call.Address, key)
	s.PushOp(step, operation.Read, operation.NewTransientStorageOp(call.Address, key, value, value, s.TxID()))
	if len(steps) < 2 {
		return errTruncated(cur)
	}
	s.PushOp(step, operation.Write, operation.NewStackOp(call.ID, stackPosition(cur, 0), steps[1].StackTop()))
	return nil
}

func opTstore(s *StateRef, step *ExecStep, steps []*types.ExecStep) error {
	cur := steps[0]
	call, err := s.Call()
	if err != nil {
		return err
	}
	s.pushReversionInfo(step, call)
	s.PushOp(step, operation.Read, operation.NewCallContextOp(call.ID, operation.CallContextIsStatic, operation.BoolToUint256(call.IsStatic)))
	s.PushOp(step, operation.Read, operation.NewCallContextOp(call.ID, operation.CallContextCalleeAddress, operation.AddressToUint256(call.Address)))

	key := common.Hash(cur.StackBack(0).Bytes32())
	value := *cur.StackBack(1)
	s.PushOp(step, operation.Read, operation.NewStackOp(call.ID, stackPosition(cur, 0), cur.StackBack(0)))
	s.PushOp(step, operation.Read, operation.NewStackOp(call.ID, stackPosition(cur, 1), cur.StackBack(1)))

	prev := s.sdb.GetTransientStorage(call.Address, key)
	return s.PushWriteReversible(step, operation.NewTransientStorageOp(call.Address, key, value, prev, s.TxID()))
}
