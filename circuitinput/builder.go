package circuitinput

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"github.com/s4t0shi-n4k4m0t0/zkevm-circuits/operation"
	"github.com/s4t0shi-n4k4m0t0/zkevm-circuits/params"
	"github.com/s4t0shi-n4k4m0t0/zkevm-circuits/state"
	"github.com/s4t0shi-n4k4m0t0/zkevm-circuits/types"
)

// Config tunes the builder. StrictMemoryCheck turns memory mirror
// divergence from a healed warning into a fatal error.
type Config struct {
	StrictMemoryCheck bool
	ChainConfig       *params.ChainConfig
}

// CircuitInputBuilder turns one block trace into the circuit input: the
// operation log, the exec steps and the copy events. It owns the replay
// ledger seeded from the trace's pre-state.
type CircuitInputBuilder struct {
	cfg      *Config
	sdb      *state.StateDB
	codeDB   *state.CodeDB
	trace    *types.BlockTrace
	block    *Block
	blockCtx *BlockContext
	handlers *handlerTable
}

// NewCircuitInputBuilder seeds the ledger from the trace's pre-state and
// anchors the operation log at counter zero.
func NewCircuitInputBuilder(cfg *Config, trace *types.BlockTrace) *CircuitInputBuilder {
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.ChainConfig == nil {
		cfg.ChainConfig = &params.ChainConfig{ChainID: uint64(trace.ChainID), Shanghai: true}
	}

	sdb := state.New()
	codeDB := state.NewCodeDB()
	for addr, pre := range trace.Prestate {
		acc := state.NewAccount()
		acc.Nonce = uint64(pre.Nonce)
		if pre.Balance != nil {
			acc.Balance, _ = uint256.FromBig(pre.Balance.ToInt())
		}
		if len(pre.Code) > 0 {
			acc.CodeHash = codeDB.Insert(pre.Code)
		} else {
			acc.CodeHash = state.EmptyCodeHash
		}
		for slot, val := range pre.Storage {
			var v uint256.Int
			v.SetBytes(val[:])
			acc.Storage[slot] = v
		}
		sdb.SetAccount(addr, acc)
	}

	b := &CircuitInputBuilder{
		cfg:      cfg,
		sdb:      sdb,
		codeDB:   codeDB,
		trace:    trace,
		block:    NewBlock(trace),
		blockCtx: NewBlockContext(),
		handlers: newHandlerTable(),
	}
	b.block.Container.Insert(0, operation.Read, false, &operation.StartOp{})
	return b
}

// Block returns the assembled circuit input. Valid after HandleBlock.
func (b *CircuitInputBuilder) Block() *Block { return b.block }

// StateDB exposes the replay ledger, holding post-state once HandleBlock
// returns.
func (b *CircuitInputBuilder) StateDB() *state.StateDB { return b.sdb }

// CodeDB exposes the collected bytecodes.
func (b *CircuitInputBuilder) CodeDB() *state.CodeDB { return b.codeDB }

// HandleBlock replays every transaction of the trace in order and then
// resolves the reversion endpoints recorded along the way.
func (b *CircuitInputBuilder) HandleBlock() error {
	for i, txTrace := range b.trace.Transactions {
		if i >= len(b.trace.ExecutionResults) {
			return fmt.Errorf("%w: transaction %d has no execution result", ErrTraceTruncated, i)
		}
		if err := b.handleTx(i, txTrace, b.trace.ExecutionResults[i]); err != nil {
			return fmt.Errorf("tx %d: %w", i, err)
		}
	}
	b.finalize()
	return nil
}

func (b *CircuitInputBuilder) handleTx(idx int, txTrace *types.TxTrace, execTrace *types.ExecTrace) error {
	txID := idx + 1
	b.sdb.ClearAccessLists()
	b.sdb.ClearTransientStorage()

	txCtx := NewTransactionContext(txID, execTrace)
	tx := &Transaction{Trace: txTrace}
	s := &StateRef{
		cfg:       b.cfg,
		block:     b.block,
		blockCtx:  b.blockCtx,
		tx:        tx,
		txCtx:     txCtx,
		execTrace: execTrace,
		sdb:       b.sdb,
		codeDB:    b.codeDB,
	}

	root := &Call{
		ID:            int(b.blockCtx.RWC.Peek()),
		Depth:         1,
		IsRoot:        true,
		IsPersistent:  !execTrace.Failed,
		IsSuccess:     !execTrace.Failed,
		CallerAddress: txTrace.From,
		Value:         *txTrace.ValueInt(),
	}
	var rootData []byte
	if txTrace.IsCreate() {
		root.Kind = CallKindCreate
		root.Address = crypto.CreateAddress(txTrace.From, uint64(txTrace.Nonce))
		root.CodeAddress = root.Address
		root.CodeHash = b.codeDB.Insert(txTrace.Data)
	} else {
		root.Kind = CallKindCall
		root.Address = *txTrace.To
		root.CodeAddress = *txTrace.To
		if _, hashWord := s.codeHashWord(root.Address); !hashWord.IsZero() {
			root.CodeHash = common.Hash(hashWord.Bytes32())
		} else {
			root.CodeHash = state.EmptyCodeHash
		}
		rootData = txTrace.Data
	}
	tx.Calls = append(tx.Calls, root)
	txCtx.PushCallCtx(0, rootData, root.IsSuccess)

	beginStep := s.NewBeginTxStep()
	if err := s.genBeginTxOps(beginStep); err != nil {
		return err
	}

	steps := []*ExecStep{beginStep}
	logs := execTrace.StructLogs
	for i := 0; i < len(logs); i++ {
		txCtx.StepIndex = i
		step, err := s.genAssociatedOps(b.handlers, logs[i:])
		if err != nil {
			return err
		}
		steps = append(steps, step)
	}
	stepCounter.Inc(int64(len(logs)))

	// Executed frames unwind inside the loop; a transaction without
	// steps still holds its root context here.
	for len(txCtx.calls) > 0 {
		if err := txCtx.PopCallCtx(root.IsSuccess); err != nil {
			return err
		}
	}

	endStep := s.NewEndTxStep(s.txGasLeft())
	if err := s.genEndTxOps(endStep, idx == len(b.trace.Transactions)-1); err != nil {
		return err
	}
	steps = append(steps, endStep)

	tx.Steps = steps
	b.block.Txs = append(b.block.Txs, tx)
	txCounter.Inc(1)
	return nil
}

// finalize patches the reversion endpoint of every frame into the context
// operations that were recorded before it was known. Persistent frames
// keep zero.
func (b *CircuitInputBuilder) finalize() {
	callByID := make(map[int]*Call, 8)
	for _, tx := range b.block.Txs {
		for _, call := range tx.Calls {
			callByID[call.ID] = call
		}
	}
	for _, entry := range b.block.Container.Ops(operation.TargetCallContext) {
		op, ok := entry.Op.(*operation.CallContextOp)
		if !ok || op.Field != operation.CallContextRwCounterEndOfReversion {
			continue
		}
		if call, ok := callByID[op.CallID]; ok {
			op.Value = u64Word(call.RWCounterEndOfReversion)
		}
	}
	blockCounter.Inc(1)
	opCounter.Inc(int64(b.block.Container.Len()))
}
