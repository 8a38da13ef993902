package circuitinput

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// CopyDataType tags one side of a bulk byte transfer.
type CopyDataType uint8

const (
	CopyMemory CopyDataType = iota + 1
	CopyBytecode
	CopyTxCalldata
	CopyTxLog
	CopyReturnData
)

var copyDataTypeNames = [...]string{
	CopyMemory:     "Memory",
	CopyBytecode:   "Bytecode",
	CopyTxCalldata: "TxCalldata",
	CopyTxLog:      "TxLog",
	CopyReturnData: "ReturnData",
}

func (t CopyDataType) String() string {
	if int(t) < len(copyDataTypeNames) && copyDataTypeNames[t] != "" {
		return copyDataTypeNames[t]
	}
	return fmt.Sprintf("CopyDataType(%d)", t)
}

// NumberOrHash identifies one side of a copy: a call or transaction id for
// addressable spaces, a code hash for bytecode.
type NumberOrHash struct {
	Num    int
	Hash   common.Hash
	IsHash bool
}

// CopyIDFromNumber builds a numeric copy identifier.
func CopyIDFromNumber(n int) NumberOrHash { return NumberOrHash{Num: n} }

// CopyIDFromHash builds a hash copy identifier.
func CopyIDFromHash(h common.Hash) NumberOrHash { return NumberOrHash{Hash: h, IsHash: true} }

func (id NumberOrHash) String() string {
	if id.IsHash {
		return id.Hash.TerminalString()
	}
	return fmt.Sprintf("%d", id.Num)
}

// CopyByte is one transferred byte with its classification flags.
type CopyByte struct {
	Value     byte
	IsCode    bool
	IsPadding bool
}

// CopyEvent records one bulk byte-range transfer between two addressable
// spaces. RWCounterStart is the counter of the first operation the copy
// emitted; the byte payload must match those operations exactly since the
// prover cross-checks both.
type CopyEvent struct {
	SrcType CopyDataType
	SrcID   NumberOrHash
	SrcAddr uint64
	// SrcAddrEnd bounds readable source bytes; reads past it pad with zero.
	SrcAddrEnd uint64

	DstType CopyDataType
	DstID   NumberOrHash
	DstAddr uint64

	// LogID is set when the destination is a transaction log.
	LogID int

	RWCounterStart uint64
	Bytes          []CopyByte
}

// DataLen returns the number of transferred bytes.
func (ev *CopyEvent) DataLen() uint64 { return uint64(len(ev.Bytes)) }
