package circuitinput

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	gethparams "github.com/ethereum/go-ethereum/params"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"

	"github.com/s4t0shi-n4k4m0t0/zkevm-circuits/operation"
	"github.com/s4t0shi-n4k4m0t0/zkevm-circuits/params"
	"github.com/s4t0shi-n4k4m0t0/zkevm-circuits/state"
	"github.com/s4t0shi-n4k4m0t0/zkevm-circuits/types"
)

// intrinsicGas prices the transaction envelope: base cost, calldata, and
// the Shanghai init code surcharge for creations.
func (s *StateRef) intrinsicGas() uint64 {
	trace := s.tx.Trace
	gas := gethparams.TxGas
	if trace.IsCreate() {
		gas = gethparams.TxGasContractCreation
	}
	gas += types.TxDataGasCost(trace.Data)
	if trace.IsCreate() && s.cfg.ChainConfig.Shanghai {
		words := (uint64(len(trace.Data)) + 31) / 32
		gas += words * gethparams.InitCodeWordGas
	}
	return gas
}

// txL1Fee returns the rollup data fee the sender pays on top of gas.
// Bridged messages are exempt.
func (s *StateRef) txL1Fee() uint64 {
	if s.tx.Trace.IsL1Msg() {
		return 0
	}
	return s.tx.Trace.L1Fee.TxFee(s.tx.Trace.Data)
}

// txGasLeft returns the gas remaining when execution stopped, before the
// refund is paid out. Transactions without steps spent exactly what the
// trace declares.
func (s *StateRef) txGasLeft() uint64 {
	limit := uint64(s.tx.Trace.Gas)
	logs := s.execTrace.StructLogs
	if len(logs) == 0 {
		used := s.execTrace.Gas
		if used == 0 {
			used = s.intrinsicGas()
		}
		if used > limit {
			return 0
		}
		return limit - used
	}
	last := logs[len(logs)-1]
	if last.GasCost > last.Gas {
		return 0
	}
	return last.Gas - last.GasCost
}

// genBeginTxOps opens the transaction: it prices the L1 commitment, seeds
// the root call context, bumps the nonce, pre-warms the access list and
// moves value and fee. Contract-bound and creating transactions also get
// their root frame context written out.
func (s *StateRef) genBeginTxOps(step *ExecStep) error {
	trace := s.tx.Trace
	call := s.tx.Calls[0]
	txID := s.TxID()
	l1Fee := s.txL1Fee()

	if trace.IsL1Msg() {
		// The bridge debits the sender on L1, so the account may not
		// exist yet on this side.
		exists, _ := s.sdb.GetAccount(trace.From)
		_, fromHash := s.codeHashWord(trace.From)
		s.PushOp(step, operation.Read, operation.NewAccountOp(trace.From, operation.AccountCodeHash, fromHash, fromHash))
		if !exists {
			s.PushWrite(step, operation.NewAccountOp(trace.From, operation.AccountCodeHash, operation.HashToUint256(state.EmptyCodeHash), uint256.Int{}))
		}
	} else if trace.L1Fee != nil {
		committed := trace.L1FeeCommitted
		if committed == nil {
			committed = &types.L1FeeParams{}
		}
		oracle := []struct {
			slot           common.Hash
			value, backing uint64
		}{
			{params.L1BaseFeeSlot, uint64(trace.L1Fee.BaseFee), uint64(committed.BaseFee)},
			{params.L1OverheadSlot, uint64(trace.L1Fee.Overhead), uint64(committed.Overhead)},
			{params.L1ScalarSlot, uint64(trace.L1Fee.Scalar), uint64(committed.Scalar)},
		}
		for _, o := range oracle {
			v := u64Word(o.value)
			s.PushOp(step, operation.Read, operation.NewStorageOp(params.L1GasPriceOracleAddress, o.slot, v, v, txID, u64Word(o.backing)))
		}
	}
	s.PushOp(step, operation.Write, operation.NewCallContextOp(call.ID, operation.CallContextL1Fee, u64Word(l1Fee)))

	rootCtx := []struct {
		field operation.CallContextField
		value uint256.Int
	}{
		{operation.CallContextTxID, u64Word(uint64(txID))},
		{operation.CallContextRwCounterEndOfReversion, u64Word(call.RWCounterEndOfReversion)},
		{operation.CallContextIsPersistent, operation.BoolToUint256(call.IsPersistent)},
		{operation.CallContextIsSuccess, operation.BoolToUint256(call.IsSuccess)},
	}
	for _, w := range rootCtx {
		s.PushOp(step, operation.Write, operation.NewCallContextOp(call.ID, w.field, w.value))
	}

	nonce := uint64(trace.Nonce)
	s.PushWrite(step, operation.NewAccountOp(trace.From, operation.AccountNonce, u64Word(nonce+1), u64Word(nonce)))

	warmed := make([]common.Address, 0, params.NumPrecompiles+3)
	for i := byte(1); i <= params.NumPrecompiles; i++ {
		warmed = append(warmed, common.BytesToAddress([]byte{i}))
	}
	warmed = append(warmed, trace.From, call.Address)
	if s.cfg.ChainConfig.Shanghai {
		warmed = append(warmed, s.block.Coinbase)
	}
	for _, addr := range warmed {
		isWarmPrev := s.sdb.CheckAccountInAccessList(addr)
		s.PushWrite(step, operation.NewTxAccessListAccountOp(txID, addr, true, isWarmPrev))
	}
	for _, entry := range trace.AccessList {
		isWarmPrev := s.sdb.CheckAccountInAccessList(entry.Address)
		s.PushWrite(step, operation.NewTxAccessListAccountOp(txID, entry.Address, true, isWarmPrev))
		for _, key := range entry.StorageKeys {
			wasWarm := s.sdb.CheckStorageInAccessList(entry.Address, key)
			s.PushWrite(step, operation.NewTxAccessListAccountStorageOp(txID, entry.Address, key, true, wasWarm))
		}
	}

	intrinsic := s.intrinsicGas()
	if uint64(trace.Gas) < intrinsic {
		return fmt.Errorf("%w: gas limit %d below intrinsic %d", ErrGasMismatch, trace.Gas, intrinsic)
	}

	_, calleeHash := s.codeHashWord(call.Address)
	s.PushOp(step, operation.Read, operation.NewAccountOp(call.Address, operation.AccountCodeHash, calleeHash, calleeHash))
	if trace.IsCreate() {
		if exists, acc := s.sdb.GetAccount(call.Address); exists &&
			(acc.Nonce > 0 || (acc.CodeHash != (common.Hash{}) && acc.CodeHash != state.EmptyCodeHash)) {
			return fmt.Errorf("%w: %s", ErrCreationCollision, call.Address)
		}
	}

	toExists, _ := s.sdb.GetAccount(call.Address)
	var fee *uint256.Int
	if !trace.IsL1Msg() {
		fee = new(uint256.Int).Mul(trace.GasPriceInt(), uint256.NewInt(uint64(trace.Gas)))
		fee.Add(fee, uint256.NewInt(l1Fee))
	}
	if err := s.TransferWithFee(step, trace.From, call.Address, toExists, trace.IsCreate(), trace.ValueInt(), fee); err != nil {
		return err
	}

	if trace.IsCreate() {
		preimage, err := rlp.EncodeToBytes([]interface{}{trace.From, nonce})
		if err != nil {
			return err
		}
		s.block.AddSha3Input(preimage)
		s.block.AddSha3Input(trace.Data)
		if len(trace.Data) > 0 {
			bytecode, ok := s.codeDB.GetBytecode(call.CodeHash)
			if !ok {
				return fmt.Errorf("%w: %s", ErrCodeNotFound, call.CodeHash.TerminalString())
			}
			ev := &CopyEvent{
				SrcType:        CopyTxCalldata,
				SrcID:          CopyIDFromNumber(txID),
				SrcAddrEnd:     uint64(len(trace.Data)),
				DstType:        CopyBytecode,
				DstID:          CopyIDFromHash(call.CodeHash),
				RWCounterStart: s.blockCtx.RWC.Peek(),
			}
			for i, b := range trace.Data {
				_, isCode := bytecode.At(uint64(i))
				ev.Bytes = append(ev.Bytes, CopyByte{Value: b, IsCode: isCode})
			}
			s.block.AddCopyEvent(ev)
			copyEventCounter.Inc(1)
		}
	}

	emptyWord := operation.HashToUint256(state.EmptyCodeHash)
	hasCode := !calleeHash.IsZero() && !calleeHash.Eq(&emptyWord)
	switch {
	case trace.IsCreate():
		if err := s.PushWriteReversible(step, operation.NewAccountOp(call.Address, operation.AccountNonce, u64Word(1), u64Word(0))); err != nil {
			return err
		}
		s.pushRootContext(step, call, uint64(len(trace.Data)))
	case isPrecompileAddress(call.Address):
		// Precompile roots run no steps; the reversion replay below is
		// all that remains of them.
	case hasCode:
		s.pushRootContext(step, call, uint64(len(trace.Data)))
	}

	logs := s.execTrace.StructLogs
	if len(logs) > 0 {
		want := uint64(trace.Gas) - intrinsic
		switch {
		case logs[0].Gas == want:
			step.GasCost = intrinsic
		case len(trace.AccessList) > 0:
			// EIP-2930 warming cost is not itemized; fold it into the
			// begin step.
			step.GasCost = uint64(trace.Gas) - logs[0].Gas
		default:
			return fmt.Errorf("%w: first step holds %d gas, want %d", ErrGasMismatch, logs[0].Gas, want)
		}
	} else {
		step.GasCost = intrinsic
	}

	if isPrecompileAddress(call.Address) && !call.IsSuccess {
		return s.HandleReversion(step)
	}
	return nil
}

// pushRootContext writes the frame context the root call executes under.
func (s *StateRef) pushRootContext(step *ExecStep, call *Call, callDataLen uint64) {
	writes := []struct {
		field operation.CallContextField
		value uint256.Int
	}{
		{operation.CallContextDepth, u64Word(1)},
		{operation.CallContextCallerAddress, operation.AddressToUint256(call.CallerAddress)},
		{operation.CallContextCalleeAddress, operation.AddressToUint256(call.Address)},
		{operation.CallContextCallDataOffset, u64Word(0)},
		{operation.CallContextCallDataLength, u64Word(callDataLen)},
		{operation.CallContextValue, call.Value},
		{operation.CallContextIsStatic, operation.BoolToUint256(false)},
		{operation.CallContextLastCalleeID, u64Word(0)},
		{operation.CallContextLastCalleeReturnDataOffset, u64Word(0)},
		{operation.CallContextLastCalleeReturnDataLength, u64Word(0)},
		{operation.CallContextIsRoot, operation.BoolToUint256(true)},
		{operation.CallContextIsCreate, operation.BoolToUint256(call.IsCreate())},
		{operation.CallContextCodeHash, operation.HashToUint256(call.CodeHash)},
	}
	for _, w := range writes {
		s.PushOp(step, operation.Write, operation.NewCallContextOp(call.ID, w.field, w.value))
	}
}

// genEndTxOps closes the transaction: it refunds unspent gas, rewards the
// coinbase and writes the receipt columns. The cumulative gas chain links
// every transaction to its predecessor.
func (s *StateRef) genEndTxOps(step *ExecStep, isLastTx bool) error {
	trace := s.tx.Trace
	call := s.tx.Calls[0]
	txID := s.TxID()

	s.PushOp(step, operation.Read, operation.NewCallContextOp(call.ID, operation.CallContextTxID, u64Word(uint64(txID))))
	s.PushOp(step, operation.Read, operation.NewCallContextOp(call.ID, operation.CallContextIsPersistent, operation.BoolToUint256(call.IsPersistent)))
	s.PushOp(step, operation.Read, operation.NewCallContextOp(call.ID, operation.CallContextL1Fee, u64Word(s.txL1Fee())))

	refund := s.sdb.Refund()
	s.PushOp(step, operation.Read, operation.NewTxRefundOp(txID, refund, refund))

	gasLeft := step.GasLeft
	gasUsed := uint64(trace.Gas) - gasLeft
	if maxRefund := gasUsed / gethparams.RefundQuotientEIP3529; refund > maxRefund {
		refund = maxRefund
	}

	if !trace.IsL1Msg() {
		exists, _ := s.sdb.GetAccount(trace.From)
		if !exists {
			return fmt.Errorf("%w: sender %s", ErrAccountNotFound, trace.From)
		}
		prev := *s.sdb.GetBalance(trace.From)
		credit := new(uint256.Int).Mul(trace.GasPriceInt(), uint256.NewInt(gasLeft+refund))
		s.PushWrite(step, operation.NewAccountOp(trace.From, operation.AccountBalance, *new(uint256.Int).Add(&prev, credit), prev))

		tip := trace.GasPriceInt().Clone()
		if s.block.BaseFee != nil {
			if tip.Lt(s.block.BaseFee) {
				tip.Clear()
			} else {
				tip.Sub(tip, s.block.BaseFee)
			}
		}
		reward := new(uint256.Int).Mul(tip, uint256.NewInt(gasUsed-refund))
		reward.Add(reward, uint256.NewInt(s.txL1Fee()))

		coinbaseExists, _ := s.sdb.GetAccount(s.block.Coinbase)
		if !coinbaseExists {
			return fmt.Errorf("%w: coinbase %s", ErrAccountNotFound, s.block.Coinbase)
		}
		_, cbHash := s.codeHashWord(s.block.Coinbase)
		s.PushOp(step, operation.Read, operation.NewAccountOp(s.block.Coinbase, operation.AccountCodeHash, cbHash, cbHash))
		if err := s.TransferTo(step, s.block.Coinbase, true, false, reward, false); err != nil {
			return err
		}
	}

	status := uint64(1)
	if s.execTrace.Failed {
		status = 0
	}
	s.PushOp(step, operation.Write, operation.NewTxReceiptOp(txID, operation.TxReceiptPostStateOrStatus, status))
	s.PushOp(step, operation.Write, operation.NewTxReceiptOp(txID, operation.TxReceiptLogLength, uint64(s.txCtx.LogID)))
	if txID > 1 {
		s.PushOp(step, operation.Read, operation.NewTxReceiptOp(txID-1, operation.TxReceiptCumulativeGasUsed, s.blockCtx.CumulativeGasUsed))
	}
	s.blockCtx.CumulativeGasUsed += gasUsed - refund
	s.PushOp(step, operation.Write, operation.NewTxReceiptOp(txID, operation.TxReceiptCumulativeGasUsed, s.blockCtx.CumulativeGasUsed))

	if !isLastTx {
		s.PushOp(step, operation.Write, operation.NewCallContextOp(int(s.blockCtx.RWC.Peek())+1, operation.CallContextTxID, u64Word(uint64(txID)+1)))
	}
	return nil
}
