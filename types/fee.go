package types

import (
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethparams "github.com/ethereum/go-ethereum/params"
	"github.com/holiman/uint256"

	"github.com/s4t0shi-n4k4m0t0/zkevm-circuits/params"
)

// L1FeeParams are the three oracle parameters pricing a transaction's L1
// data commitment.
type L1FeeParams struct {
	BaseFee  hexutil.Uint64 `json:"baseFee"`
	Overhead hexutil.Uint64 `json:"overhead"`
	Scalar   hexutil.Uint64 `json:"scalar"`
}

// TxDataGasCost prices calldata the way intrinsic gas does: 4 per zero byte,
// 16 per nonzero byte.
func TxDataGasCost(data []byte) uint64 {
	var cost uint64
	for _, b := range data {
		if b == 0 {
			cost += ethparams.TxDataZeroGas
		} else {
			cost += ethparams.TxDataNonZeroGasEIP2028
		}
	}
	return cost
}

// TxFee returns the L1 commitment fee for a transaction carrying data:
// (dataGas + overhead + extra) * baseFee * scalar / precision. A nil receiver
// prices to zero, matching bridged messages.
func (p *L1FeeParams) TxFee(data []byte) uint64 {
	if p == nil {
		return 0
	}
	l1Gas := TxDataGasCost(data) + uint64(p.Overhead) + params.TxL1CommitExtraCost
	fee := new(uint256.Int).SetUint64(l1Gas)
	fee.Mul(fee, new(uint256.Int).SetUint64(uint64(p.BaseFee)))
	fee.Mul(fee, new(uint256.Int).SetUint64(uint64(p.Scalar)))
	fee.Div(fee, new(uint256.Int).SetUint64(params.TxL1FeePrecision))
	return fee.Uint64()
}
