package circuitinput

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/s4t0shi-n4k4m0t0/zkevm-circuits/operation"
	"github.com/s4t0shi-n4k4m0t0/zkevm-circuits/types"
)

// RWCounter hands out the global operation order. Counter zero is reserved
// for the start anchor, so the first real operation sits at one.
type RWCounter struct {
	next uint64
}

// NewRWCounter returns a counter whose first Take yields 1.
func NewRWCounter() *RWCounter { return &RWCounter{next: 1} }

// Take returns the next counter slot and advances.
func (c *RWCounter) Take() uint64 {
	v := c.next
	c.next++
	return v
}

// Peek returns the slot the next Take will return.
func (c *RWCounter) Peek() uint64 { return c.next }

// BlockContext is the mutable cross-transaction bookkeeping of one block
// replay.
type BlockContext struct {
	RWC *RWCounter
	// CumulativeGasUsed chains receipt gas totals across the block's
	// transactions.
	CumulativeGasUsed uint64
}

// NewBlockContext returns a fresh context with the counter at its start.
func NewBlockContext() *BlockContext {
	return &BlockContext{RWC: NewRWCounter()}
}

// Block is the assembled circuit input of one block: header values, the
// processed transactions and the three outputs the prover consumes.
type Block struct {
	ChainID  uint64
	Coinbase common.Address
	Number   uint64
	Time     uint64
	GasLimit uint64
	BaseFee  *uint256.Int

	Txs []*Transaction

	Container  *operation.OperationContainer
	CopyEvents []*CopyEvent
	Sha3Inputs [][]byte
}

// NewBlock seeds a block from trace header data.
func NewBlock(trace *types.BlockTrace) *Block {
	return &Block{
		ChainID:   uint64(trace.ChainID),
		Coinbase:  trace.Coinbase,
		Number:    uint64(trace.Number),
		Time:      uint64(trace.Time),
		GasLimit:  uint64(trace.GasLimit),
		BaseFee:   trace.BaseFeeInt(),
		Container: operation.NewContainer(),
	}
}

// AddCopyEvent appends a finished copy event.
func (b *Block) AddCopyEvent(ev *CopyEvent) {
	b.CopyEvents = append(b.CopyEvents, ev)
}

// AddSha3Input registers a keccak preimage the hashing subsystem must
// prove. The input is copied.
func (b *Block) AddSha3Input(data []byte) {
	input := make([]byte, len(data))
	copy(input, data)
	b.Sha3Inputs = append(b.Sha3Inputs, input)
}
