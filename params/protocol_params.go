// Package params holds the rollup-side protocol constants used by the circuit
// input builder. Constants shared with L1 execution (intrinsic gas, refund
// quotients, stack limits) come from github.com/ethereum/go-ethereum/params.
package params

import "github.com/ethereum/go-ethereum/common"

// L1GasPriceOracleAddress is the predeployed contract holding the L1 fee
// parameters on the rollup. The begin-tx step reads its three parameter slots
// for every non-privileged transaction.
var L1GasPriceOracleAddress = common.HexToAddress("0x5300000000000000000000000000000000000002")

// Storage slots of the L1 gas price oracle predeploy.
var (
	L1BaseFeeSlot  = common.BigToHash(common.Big1)
	L1OverheadSlot = common.BigToHash(common.Big2)
	L1ScalarSlot   = common.BigToHash(common.Big3)
)

const (
	// NumPrecompiles is the count of reserved precompile addresses
	// (0x01..0x09) warmed at the start of every transaction.
	NumPrecompiles = 9

	// TxL1CommitExtraCost is the flat L1 data gas added on top of calldata
	// gas and overhead when pricing a transaction's L1 commitment.
	TxL1CommitExtraCost = 64

	// TxL1FeePrecision divides the raw L1 fee product; the oracle scalar is
	// expressed in units of 1e-9.
	TxL1FeePrecision = 1_000_000_000

	// L1MessageTxType marks transactions injected by the L1 bridge. They are
	// exempt from fee charging, refunds and the coinbase reward.
	L1MessageTxType = 0x7e

	// StackLimit mirrors the VM stack depth bound used when deriving stack
	// overflow conditions from a trace.
	StackLimit = 1024

	// CallCreateDepth is the maximum call frame depth. A launch attempted at
	// this depth fails before the child runs.
	CallCreateDepth = 1024
)

// ChainConfig carries the fork switches the builder needs. There is no block
// scheduling here: a trace is processed under one fixed rule set.
type ChainConfig struct {
	ChainID uint64

	// Shanghai enables EIP-3651 coinbase warming and EIP-3860 init code
	// word gas in the intrinsic cost.
	Shanghai bool
}
