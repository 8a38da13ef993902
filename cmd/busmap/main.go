// busmap converts a block execution trace into the circuit input tables
// and reports what it produced. With --dump it also writes the complete
// operation log for offline inspection.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/rpc"
	cli "github.com/urfave/cli/v2"

	"github.com/s4t0shi-n4k4m0t0/zkevm-circuits/circuitinput"
	"github.com/s4t0shi-n4k4m0t0/zkevm-circuits/operation"
	"github.com/s4t0shi-n4k4m0t0/zkevm-circuits/params"
	"github.com/s4t0shi-n4k4m0t0/zkevm-circuits/types"
)

var (
	traceFlag = &cli.StringFlag{
		Name:  "trace",
		Usage: "block trace JSON `FILE`, raw or wrapped in an RPC result envelope",
	}
	rpcFlag = &cli.StringFlag{
		Name:  "rpc",
		Usage: "fetch the trace from this JSON-RPC endpoint instead of a file",
	}
	blockFlag = &cli.Uint64Flag{
		Name:  "block",
		Usage: "block number to fetch with --rpc",
	}
	outFlag = &cli.StringFlag{
		Name:  "out",
		Usage: "write the summary to `FILE` instead of stdout",
	}
	dumpFlag = &cli.StringFlag{
		Name:  "dump",
		Usage: "write the full operation log, copy events and keccak inputs to `FILE`",
	}
	chainIDFlag = &cli.Uint64Flag{
		Name:  "chain-id",
		Usage: "override the chain id recorded in the trace",
	}
	shanghaiFlag = &cli.BoolFlag{
		Name:  "shanghai",
		Usage: "apply Shanghai rules during replay",
		Value: true,
	}
	strictMemoryFlag = &cli.BoolFlag{
		Name:  "strict-memory",
		Usage: "treat memory mirror divergence as fatal instead of healing from the trace",
	}
	verbosityFlag = &cli.IntFlag{
		Name:  "verbosity",
		Usage: "logging verbosity: 0=silent, 1=error, 2=warn, 3=info, 4=debug, 5=detail",
		Value: 3,
	}
)

func newApp() *cli.App {
	return &cli.App{
		Name:  "busmap",
		Usage: "map a block execution trace to zk circuit inputs",
		Flags: []cli.Flag{
			traceFlag,
			rpcFlag,
			blockFlag,
			outFlag,
			dumpFlag,
			chainIDFlag,
			shanghaiFlag,
			strictMemoryFlag,
			verbosityFlag,
		},
		Action: run,
	}
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx *cli.Context) error {
	level := log.FromLegacyLevel(ctx.Int(verbosityFlag.Name))
	log.SetDefault(log.NewLogger(log.NewTerminalHandlerWithLevel(os.Stderr, level, false)))

	var (
		trace *types.BlockTrace
		err   error
	)
	switch {
	case ctx.IsSet(rpcFlag.Name):
		trace, err = fetchTrace(ctx.Context, ctx.String(rpcFlag.Name), ctx.Uint64(blockFlag.Name))
	case ctx.IsSet(traceFlag.Name):
		trace, err = types.BlockTraceFromFile(ctx.String(traceFlag.Name))
	default:
		return errors.New("either --trace or --rpc is required")
	}
	if err != nil {
		return err
	}

	cfg := &circuitinput.Config{
		StrictMemoryCheck: ctx.Bool(strictMemoryFlag.Name),
		ChainConfig: &params.ChainConfig{
			ChainID:  uint64(trace.ChainID),
			Shanghai: ctx.Bool(shanghaiFlag.Name),
		},
	}
	if ctx.IsSet(chainIDFlag.Name) {
		cfg.ChainConfig.ChainID = ctx.Uint64(chainIDFlag.Name)
	}

	builder := circuitinput.NewCircuitInputBuilder(cfg, trace)
	if err := builder.HandleBlock(); err != nil {
		return err
	}
	blk := builder.Block()
	log.Info("Block mapped", "number", blk.Number, "txs", len(blk.Txs),
		"ops", blk.Container.Len(), "copyEvents", len(blk.CopyEvents), "sha3Inputs", len(blk.Sha3Inputs))

	if path := ctx.String(dumpFlag.Name); path != "" {
		if err := writeDump(path, blk); err != nil {
			return err
		}
		log.Info("Wrote operation dump", "file", path)
	}
	return writeSummary(ctx.String(outFlag.Name), blk)
}

// fetchTrace pulls a block trace from a node exposing the rollup tracing
// API. The endpoint returns the same document the file loader accepts.
func fetchTrace(ctx context.Context, url string, number uint64) (*types.BlockTrace, error) {
	client, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, err
	}
	defer client.Close()

	var raw json.RawMessage
	if err := client.CallContext(ctx, &raw, "scroll_getBlockTraceByNumberOrHash", hexutil.Uint64(number)); err != nil {
		return nil, err
	}
	return types.BlockTraceFromJSON(raw)
}

type txSummary struct {
	ID      int    `json:"id"`
	Steps   int    `json:"steps"`
	Calls   int    `json:"calls"`
	Failed  bool   `json:"failed"`
	GasUsed uint64 `json:"gasUsed"`
}

type blockSummary struct {
	ChainID      uint64         `json:"chainId"`
	Number       uint64         `json:"number"`
	BaseFee      string         `json:"baseFee,omitempty"`
	Txs          []txSummary    `json:"txs"`
	Operations   int            `json:"operations"`
	ByTarget     map[string]int `json:"operationsByTarget"`
	CopyEvents   int            `json:"copyEvents"`
	Sha3Inputs   int            `json:"sha3Inputs"`
	RWCounterEnd uint64         `json:"rwCounterEnd"`
}

func writeSummary(path string, blk *circuitinput.Block) error {
	summary := blockSummary{
		ChainID:    blk.ChainID,
		Number:     blk.Number,
		Operations: blk.Container.Len(),
		ByTarget:   make(map[string]int),
		CopyEvents: len(blk.CopyEvents),
		Sha3Inputs: len(blk.Sha3Inputs),
	}
	if blk.BaseFee != nil {
		summary.BaseFee = blk.BaseFee.String()
	}

	// Cumulative gas lives in the receipt bucket; per-tx usage is the
	// difference between consecutive entries.
	cumulative := make(map[int]uint64)
	for _, entry := range blk.Container.Ops(operation.TargetTxReceipt) {
		op, ok := entry.Op.(*operation.TxReceiptOp)
		if !ok || op.Field != operation.TxReceiptCumulativeGasUsed {
			continue
		}
		cumulative[op.TxID] = op.Value
	}
	prev := uint64(0)
	for i, tx := range blk.Txs {
		txID := i + 1
		summary.Txs = append(summary.Txs, txSummary{
			ID:      txID,
			Steps:   len(tx.Steps),
			Calls:   len(tx.Calls),
			Failed:  !tx.Calls[0].IsSuccess,
			GasUsed: cumulative[txID] - prev,
		})
		prev = cumulative[txID]
	}

	blk.Container.All(func(op operation.Operation) {
		summary.ByTarget[op.Op.Target().String()]++
		if op.RWC >= summary.RWCounterEnd {
			summary.RWCounterEnd = op.RWC + 1
		}
	})

	data, err := json.MarshalIndent(&summary, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	if path == "" {
		_, err = os.Stdout.Write(data)
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

type opDump struct {
	RWC        uint64 `json:"rwc"`
	RW         string `json:"rw"`
	Reversible bool   `json:"reversible,omitempty"`
	Target     string `json:"target"`
	Op         string `json:"op"`
}

type copyEventDump struct {
	Src            string        `json:"src"`
	SrcAddr        uint64        `json:"srcAddr"`
	SrcAddrEnd     uint64        `json:"srcAddrEnd"`
	Dst            string        `json:"dst"`
	DstAddr        uint64        `json:"dstAddr"`
	LogID          int           `json:"logId,omitempty"`
	RWCounterStart uint64        `json:"rwCounterStart"`
	Bytes          hexutil.Bytes `json:"bytes"`
}

type blockDump struct {
	ChainID    uint64          `json:"chainId"`
	Number     uint64          `json:"number"`
	Operations []opDump        `json:"operations"`
	CopyEvents []copyEventDump `json:"copyEvents"`
	Sha3Inputs []hexutil.Bytes `json:"sha3Inputs"`
}

func writeDump(path string, blk *circuitinput.Block) error {
	dump := blockDump{
		ChainID: blk.ChainID,
		Number:  blk.Number,
	}

	for _, op := range blk.Container.Sorted() {
		dump.Operations = append(dump.Operations, opDump{
			RWC:        op.RWC,
			RW:         op.RW.String(),
			Reversible: op.Reversible,
			Target:     op.Op.Target().String(),
			Op:         op.Op.String(),
		})
	}

	for _, ev := range blk.CopyEvents {
		payload := make([]byte, len(ev.Bytes))
		for i, b := range ev.Bytes {
			payload[i] = b.Value
		}
		dump.CopyEvents = append(dump.CopyEvents, copyEventDump{
			Src:            fmt.Sprintf("%s(%s)", ev.SrcType, ev.SrcID),
			SrcAddr:        ev.SrcAddr,
			SrcAddrEnd:     ev.SrcAddrEnd,
			Dst:            fmt.Sprintf("%s(%s)", ev.DstType, ev.DstID),
			DstAddr:        ev.DstAddr,
			LogID:          ev.LogID,
			RWCounterStart: ev.RWCounterStart,
			Bytes:          payload,
		})
	}
	for _, input := range blk.Sha3Inputs {
		dump.Sha3Inputs = append(dump.Sha3Inputs, input)
	}

	data, err := json.MarshalIndent(&dump, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}
