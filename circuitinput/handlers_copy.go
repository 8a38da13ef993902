package circuitinput

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/s4t0shi-n4k4m0t0/zkevm-circuits/operation"
	"github.com/s4t0shi-n4k4m0t0/zkevm-circuits/state"
	"github.com/s4t0shi-n4k4m0t0/zkevm-circuits/types"
)

// chunkOf returns length bytes of data starting at offset, zero padded
// past the end.
func chunkOf(data []byte, offset, length uint64) []byte {
	chunk := make([]byte, length)
	if offset < uint64(len(data)) {
		copy(chunk, data[offset:])
	}
	return chunk
}

func makeLogHandler(topics int) stepHandler {
	return func(s *StateRef, step *ExecStep, steps []*types.ExecStep) error {
		cur := steps[0]
		call, err := s.Call()
		if err != nil {
			return err
		}
		callCtx, err := s.CallCtx()
		if err != nil {
			return err
		}

		mStart := lowU64(cur.StackBack(0))
		mSize := lowU64(cur.StackBack(1))
		s.PushOp(step, operation.Read, operation.NewStackOp(call.ID, stackPosition(cur, 0), cur.StackBack(0)))
		s.PushOp(step, operation.Read, operation.NewStackOp(call.ID, stackPosition(cur, 1), cur.StackBack(1)))
		s.PushOp(step, operation.Read, operation.NewCallContextOp(call.ID, operation.CallContextTxID, u64Word(uint64(s.TxID()))))
		s.PushOp(step, operation.Read, operation.NewCallContextOp(call.ID, operation.CallContextCalleeAddress, operation.AddressToUint256(call.Address)))

		// Logs of frames bound for reversion never reach a receipt; only
		// the stack movement is recorded for those.
		if call.IsPersistent {
			s.txCtx.LogID++
			s.PushOp(step, operation.Write, operation.NewTxLogOp(s.TxID(), s.txCtx.LogID, operation.TxLogAddress, 0, operation.AddressToUint256(call.Address)))
		}
		for i := 0; i < topics; i++ {
			topic := cur.StackBack(2 + i)
			s.PushOp(step, operation.Read, operation.NewStackOp(call.ID, stackPosition(cur, 2+i), topic))
			if call.IsPersistent {
				s.PushOp(step, operation.Write, operation.NewTxLogOp(s.TxID(), s.txCtx.LogID, operation.TxLogTopic, i, *topic))
			}
		}

		if call.IsPersistent && mSize > 0 {
			callCtx.Memory.Extend(mStart, mSize)
			ev := &CopyEvent{
				SrcType:        CopyMemory,
				SrcID:          CopyIDFromNumber(call.ID),
				SrcAddr:        mStart,
				SrcAddrEnd:     mStart + mSize,
				DstType:        CopyTxLog,
				DstID:          CopyIDFromNumber(s.TxID()),
				LogID:          s.txCtx.LogID,
				RWCounterStart: s.blockCtx.RWC.Peek(),
			}
			for i := uint64(0); i < mSize; i++ {
				b := callCtx.Memory.Byte(mStart + i)
				s.PushOp(step, operation.Read, operation.NewMemoryOp(call.ID, mStart+i, b))
				s.PushOp(step, operation.Write, operation.NewTxLogOp(s.TxID(), s.txCtx.LogID, operation.TxLogData, int(i), u64Word(uint64(b))))
				ev.Bytes = append(ev.Bytes, CopyByte{Value: b})
			}
			s.block.AddCopyEvent(ev)
			step.CopyRWCounterDelta += 2 * mSize
			copyEventCounter.Inc(1)
		}
		return nil
	}
}

func opCalldataload(s *StateRef, step *ExecStep, steps []*types.ExecStep) error {
	cur := steps[0]
	call, err := s.Call()
	if err != nil {
		return err
	}
	offset := lowU64(cur.StackBack(0))
	s.PushOp(step, operation.Read, operation.NewStackOp(call.ID, stackPosition(cur, 0), cur.StackBack(0)))

	if call.IsRoot {
		s.PushOp(step, operation.Read, operation.NewCallContextOp(call.ID, operation.CallContextTxID, u64Word(uint64(s.TxID()))))
		s.PushOp(step, operation.Read, operation.NewCallContextOp(call.ID, operation.CallContextCallDataLength, u64Word(call.CallDataLength)))
	} else {
		s.PushOp(step, operation.Read, operation.NewCallContextOp(call.ID, operation.CallContextCallerID, u64Word(uint64(call.CallerID))))
		s.PushOp(step, operation.Read, operation.NewCallContextOp(call.ID, operation.CallContextCallDataLength, u64Word(call.CallDataLength)))
		s.PushOp(step, operation.Read, operation.NewCallContextOp(call.ID, operation.CallContextCallDataOffset, u64Word(call.CallDataOffset)))

		callerCtx, err := s.CallerCtx()
		if err != nil {
			return err
		}
		if offset < call.CallDataLength {
			for i := uint64(0); i < 32 && offset+i < call.CallDataLength; i++ {
				addr := call.CallDataOffset + offset + i
				s.PushOp(step, operation.Read, operation.NewMemoryOp(call.CallerID, addr, callerCtx.Memory.Byte(addr)))
			}
		}
	}
	if len(steps) < 2 {
		return errTruncated(cur)
	}
	s.PushOp(step, operation.Write, operation.NewStackOp(call.ID, stackPosition(cur, 0), steps[1].StackTop()))
	return nil
}

func opCalldatacopy(s *StateRef, step *ExecStep, steps []*types.ExecStep) error {
	cur := steps[0]
	call, err := s.Call()
	if err != nil {
		return err
	}
	callCtx, err := s.CallCtx()
	if err != nil {
		return err
	}

	destOffset := lowU64(cur.StackBack(0))
	dataOffset := lowU64(cur.StackBack(1))
	length := lowU64(cur.StackBack(2))
	for i := 0; i < 3; i++ {
		s.PushOp(step, operation.Read, operation.NewStackOp(call.ID, stackPosition(cur, i), cur.StackBack(i)))
	}

	var ev *CopyEvent
	if call.IsRoot {
		s.PushOp(step, operation.Read, operation.NewCallContextOp(call.ID, operation.CallContextTxID, u64Word(uint64(s.TxID()))))
		s.PushOp(step, operation.Read, operation.NewCallContextOp(call.ID, operation.CallContextCallDataLength, u64Word(call.CallDataLength)))
		ev = &CopyEvent{
			SrcType:    CopyTxCalldata,
			SrcID:      CopyIDFromNumber(s.TxID()),
			SrcAddr:    dataOffset,
			SrcAddrEnd: call.CallDataLength,
			DstType:    CopyMemory,
			DstID:      CopyIDFromNumber(call.ID),
			DstAddr:    destOffset,
		}
	} else {
		s.PushOp(step, operation.Read, operation.NewCallContextOp(call.ID, operation.CallContextCallerID, u64Word(uint64(call.CallerID))))
		s.PushOp(step, operation.Read, operation.NewCallContextOp(call.ID, operation.CallContextCallDataOffset, u64Word(call.CallDataOffset)))
		s.PushOp(step, operation.Read, operation.NewCallContextOp(call.ID, operation.CallContextCallDataLength, u64Word(call.CallDataLength)))
		ev = &CopyEvent{
			SrcType:    CopyMemory,
			SrcID:      CopyIDFromNumber(call.CallerID),
			SrcAddr:    call.CallDataOffset + dataOffset,
			SrcAddrEnd: call.CallDataOffset + call.CallDataLength,
			DstType:    CopyMemory,
			DstID:      CopyIDFromNumber(call.ID),
			DstAddr:    destOffset,
		}
	}
	if length == 0 {
		return nil
	}
	ev.RWCounterStart = s.blockCtx.RWC.Peek()
	callCtx.Memory.Extend(destOffset, length)

	data := chunkOf(callCtx.CallData, dataOffset, length)
	var reads uint64
	for i := uint64(0); i < length; i++ {
		pad := dataOffset+i >= call.CallDataLength
		if !call.IsRoot && !pad {
			s.PushOp(step, operation.Read, operation.NewMemoryOp(call.CallerID, call.CallDataOffset+dataOffset+i, data[i]))
			reads++
		}
		s.PushOp(step, operation.Write, operation.NewMemoryOp(call.ID, destOffset+i, data[i]))
		ev.Bytes = append(ev.Bytes, CopyByte{Value: data[i], IsPadding: pad})
	}
	callCtx.Memory.WriteChunk(destOffset, data)
	s.block.AddCopyEvent(ev)
	step.CopyRWCounterDelta += reads + length
	copyEventCounter.Inc(1)
	return nil
}

func opCodesize(s *StateRef, step *ExecStep, steps []*types.ExecStep) error {
	cur := steps[0]
	call, err := s.Call()
	if err != nil {
		return err
	}
	s.PushOp(step, operation.Read, operation.NewCallContextOp(call.ID, operation.CallContextCodeHash, operation.HashToUint256(call.CodeHash)))
	if len(steps) < 2 {
		return errTruncated(cur)
	}
	s.PushOp(step, operation.Write, operation.NewStackOp(call.ID, stackPosition(cur, -1), steps[1].StackTop()))
	return nil
}

// copyBytecode emits the memory writes transferring code bytes into the
// live frame and the matching copy event.
func (s *StateRef) copyBytecode(step *ExecStep, call *Call, codeHash common.Hash, destOffset, codeOffset, length uint64) error {
	callCtx, err := s.CallCtx()
	if err != nil {
		return err
	}
	code, ok := s.codeDB.GetBytecode(codeHash)
	if !ok {
		return fmt.Errorf("%w: %s", ErrCodeNotFound, codeHash.TerminalString())
	}
	ev := &CopyEvent{
		SrcType:        CopyBytecode,
		SrcID:          CopyIDFromHash(codeHash),
		SrcAddr:        codeOffset,
		SrcAddrEnd:     uint64(code.Len()),
		DstType:        CopyMemory,
		DstID:          CopyIDFromNumber(call.ID),
		DstAddr:        destOffset,
		RWCounterStart: s.blockCtx.RWC.Peek(),
	}
	callCtx.Memory.Extend(destOffset, length)
	data := make([]byte, length)
	for i := uint64(0); i < length; i++ {
		b, isCode := code.At(codeOffset + i)
		pad := codeOffset+i >= uint64(code.Len())
		data[i] = b
		s.PushOp(step, operation.Write, operation.NewMemoryOp(call.ID, destOffset+i, b))
		ev.Bytes = append(ev.Bytes, CopyByte{Value: b, IsCode: isCode, IsPadding: pad})
	}
	callCtx.Memory.WriteChunk(destOffset, data)
	s.block.AddCopyEvent(ev)
	step.CopyRWCounterDelta += length
	copyEventCounter.Inc(1)
	return nil
}

func opCodecopy(s *StateRef, step *ExecStep, steps []*types.ExecStep) error {
	cur := steps[0]
	call, err := s.Call()
	if err != nil {
		return err
	}
	destOffset := lowU64(cur.StackBack(0))
	codeOffset := lowU64(cur.StackBack(1))
	length := lowU64(cur.StackBack(2))
	for i := 0; i < 3; i++ {
		s.PushOp(step, operation.Read, operation.NewStackOp(call.ID, stackPosition(cur, i), cur.StackBack(i)))
	}
	s.PushOp(step, operation.Read, operation.NewCallContextOp(call.ID, operation.CallContextCodeHash, operation.HashToUint256(call.CodeHash)))
	if length == 0 {
		return nil
	}
	return s.copyBytecode(step, call, call.CodeHash, destOffset, codeOffset, length)
}

func opExtcodecopy(s *StateRef, step *ExecStep, steps []*types.ExecStep) error {
	cur := steps[0]
	call, err := s.Call()
	if err != nil {
		return err
	}
	addr := addressFromWord(cur.StackBack(0))
	destOffset := lowU64(cur.StackBack(1))
	codeOffset := lowU64(cur.StackBack(2))
	length := lowU64(cur.StackBack(3))
	for i := 0; i < 4; i++ {
		s.PushOp(step, operation.Read, operation.NewStackOp(call.ID, stackPosition(cur, i), cur.StackBack(i)))
	}
	s.pushReversionInfo(step, call)
	if err := s.pushAccountWarming(step, addr); err != nil {
		return err
	}
	_, hashWord := s.codeHashWord(addr)
	s.PushOp(step, operation.Read, operation.NewAccountOp(addr, operation.AccountCodeHash, hashWord, hashWord))
	if length == 0 {
		return nil
	}
	codeHash := common.Hash(hashWord.Bytes32())
	if codeHash == (common.Hash{}) {
		codeHash = state.EmptyCodeHash
	}
	return s.copyBytecode(step, call, codeHash, destOffset, codeOffset, length)
}

func opReturndatacopy(s *StateRef, step *ExecStep, steps []*types.ExecStep) error {
	cur := steps[0]
	call, err := s.Call()
	if err != nil {
		return err
	}
	callCtx, err := s.CallCtx()
	if err != nil {
		return err
	}
	destOffset := lowU64(cur.StackBack(0))
	dataOffset := lowU64(cur.StackBack(1))
	length := lowU64(cur.StackBack(2))
	for i := 0; i < 3; i++ {
		s.PushOp(step, operation.Read, operation.NewStackOp(call.ID, stackPosition(cur, i), cur.StackBack(i)))
	}
	s.PushOp(step, operation.Read, operation.NewCallContextOp(call.ID, operation.CallContextLastCalleeID, u64Word(uint64(call.LastCalleeID))))
	s.PushOp(step, operation.Read, operation.NewCallContextOp(call.ID, operation.CallContextLastCalleeReturnDataOffset, u64Word(call.LastCalleeReturnDataOffset)))
	s.PushOp(step, operation.Read, operation.NewCallContextOp(call.ID, operation.CallContextLastCalleeReturnDataLength, u64Word(call.LastCalleeReturnDataLength)))
	if length == 0 {
		return nil
	}

	// Bounds were checked by error derivation; every byte is real.
	srcAddr := call.LastCalleeReturnDataOffset + dataOffset
	data := chunkOf(callCtx.ReturnData, dataOffset, length)
	ev := &CopyEvent{
		SrcType:        CopyMemory,
		SrcID:          CopyIDFromNumber(call.LastCalleeID),
		SrcAddr:        srcAddr,
		SrcAddrEnd:     call.LastCalleeReturnDataOffset + call.LastCalleeReturnDataLength,
		DstType:        CopyMemory,
		DstID:          CopyIDFromNumber(call.ID),
		DstAddr:        destOffset,
		RWCounterStart: s.blockCtx.RWC.Peek(),
	}
	callCtx.Memory.Extend(destOffset, length)
	for i := uint64(0); i < length; i++ {
		s.PushOp(step, operation.Read, operation.NewMemoryOp(call.LastCalleeID, srcAddr+i, data[i]))
		s.PushOp(step, operation.Write, operation.NewMemoryOp(call.ID, destOffset+i, data[i]))
		ev.Bytes = append(ev.Bytes, CopyByte{Value: data[i]})
	}
	callCtx.Memory.WriteChunk(destOffset, data)
	s.block.AddCopyEvent(ev)
	step.CopyRWCounterDelta += 2 * length
	copyEventCounter.Inc(1)
	return nil
}

func opMload(s *StateRef, step *ExecStep, steps []*types.ExecStep) error {
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
	s.PushOp(step, operation.Read, operation.NewStackOp(call.ID, stackPosition(cur, 0), cur.StackBack(0)))
	if len(steps) < 2 {
		return errTruncated(cur)
	}
	s.PushOp(step, operation.Write, operation.NewStackOp(call.ID, stackPosition(cur, 0), steps[1].StackTop()))

	callCtx.Memory.Extend(offset, 32)
	for i := uint64(0); i < 32; i++ {
		s.PushOp(step, operation.Read, operation.NewMemoryOp(call.ID, offset+i, callCtx.Memory.Byte(offset+i)))
	}
	return nil
}

func makeMstoreHandler(width int) stepHandler {
	return func(s *StateRef, step *ExecStep, steps []*types.ExecStep) error {
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
		s.PushOp(step, operation.Read, operation.NewStackOp(call.ID, stackPosition(cur, 0), cur.StackBack(0)))
		s.PushOp(step, operation.Read, operation.NewStackOp(call.ID, stackPosition(cur, 1), cur.StackBack(1)))

		word := cur.StackBack(1).Bytes32()
		data := word[:]
		if width == 1 {
			data = word[31:]
		}
		callCtx.Memory.Extend(offset, uint64(width))
		for i, b := range data {
			s.PushOp(step, operation.Write, operation.NewMemoryOp(call.ID, offset+uint64(i), b))
		}
		callCtx.Memory.WriteChunk(offset, data)
		return nil
	}
}

func opSha3(s *StateRef, step *ExecStep, steps []*types.ExecStep) error {
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
	size := lowU64(cur.StackBack(1))
	s.PushOp(step, operation.Read, operation.NewStackOp(call.ID, stackPosition(cur, 0), cur.StackBack(0)))
	s.PushOp(step, operation.Read, operation.NewStackOp(call.ID, stackPosition(cur, 1), cur.StackBack(1)))
	if len(steps) < 2 {
		return errTruncated(cur)
	}
	s.PushOp(step, operation.Write, operation.NewStackOp(call.ID, stackPosition(cur, 1), steps[1].StackTop()))

	callCtx.Memory.Extend(offset, size)
	data := callCtx.Memory.ReadChunk(offset, size)
	for i := uint64(0); i < size; i++ {
		s.PushOp(step, operation.Read, operation.NewMemoryOp(call.ID, offset+i, data[i]))
	}
	s.block.AddSha3Input(data)
	return nil
}

func opMcopy(s *StateRef, step *ExecStep, steps []*types.ExecStep) error {
	cur := steps[0]
	call, err := s.Call()
	if err != nil {
		return err
	}
	callCtx, err := s.CallCtx()
	if err != nil {
		return err
	}
	dstOffset := lowU64(cur.StackBack(0))
	srcOffset := lowU64(cur.StackBack(1))
	length := lowU64(cur.StackBack(2))
	for i := 0; i < 3; i++ {
		s.PushOp(step, operation.Read, operation.NewStackOp(call.ID, stackPosition(cur, i), cur.StackBack(i)))
	}
	if length == 0 {
		return nil
	}
	callCtx.Memory.Extend(srcOffset, length)
	callCtx.Memory.Extend(dstOffset, length)

	// Overlap-safe: all reads observe the pre-copy contents.
	data := callCtx.Memory.ReadChunk(srcOffset, length)
	ev := &CopyEvent{
		SrcType:        CopyMemory,
		SrcID:          CopyIDFromNumber(call.ID),
		SrcAddr:        srcOffset,
		SrcAddrEnd:     srcOffset + length,
		DstType:        CopyMemory,
		DstID:          CopyIDFromNumber(call.ID),
		DstAddr:        dstOffset,
		RWCounterStart: s.blockCtx.RWC.Peek(),
	}
	for i := uint64(0); i < length; i++ {
		s.PushOp(step, operation.Read, operation.NewMemoryOp(call.ID, srcOffset+i, data[i]))
		s.PushOp(step, operation.Write, operation.NewMemoryOp(call.ID, dstOffset+i, data[i]))
		ev.Bytes = append(ev.Bytes, CopyByte{Value: data[i]})
	}
	callCtx.Memory.WriteChunk(dstOffset, data)
	s.block.AddCopyEvent(ev)
	step.CopyRWCounterDelta += 2 * length
	copyEventCounter.Inc(1)
	return nil
}
