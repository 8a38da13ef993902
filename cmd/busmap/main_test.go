package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const transferTrace = `{
	"chainId": "0x1",
	"coinbase": "0xdd440000000000000000000000000000000000dd",
	"number": "0x10",
	"timestamp": "0x64",
	"gasLimit": "0x1c9c380",
	"transactions": [
		{"from": "0xaa110000000000000000000000000000000000aa",
		 "to": "0xbb220000000000000000000000000000000000bb",
		 "gas": "0x5208"}
	],
	"executionResults": [
		{"gas": 21000, "failed": false, "structLogs": []}
	],
	"prestate": {
		"0xaa110000000000000000000000000000000000aa": {"nonce": "0x5", "balance": "0xf4240"},
		"0xdd440000000000000000000000000000000000dd": {"nonce": "0x0", "balance": "0x0"}
	}
}`

func TestRunTransferTrace(t *testing.T) {
	dir := t.TempDir()
	tracePath := filepath.Join(dir, "trace.json")
	outPath := filepath.Join(dir, "summary.json")
	dumpPath := filepath.Join(dir, "dump.json")
	require.NoError(t, os.WriteFile(tracePath, []byte(transferTrace), 0o644))

	err := newApp().Run([]string{
		"busmap", "--trace", tracePath, "--out", outPath, "--dump", dumpPath, "--verbosity", "1",
	})
	require.NoError(t, err)

	data, err := os.ReadFile(outPath)
	require.NoError(t, err)
	var summary blockSummary
	require.NoError(t, json.Unmarshal(data, &summary))
	require.Equal(t, uint64(1), summary.ChainID)
	require.Equal(t, uint64(16), summary.Number)
	require.Len(t, summary.Txs, 1)
	require.False(t, summary.Txs[0].Failed)
	require.Equal(t, uint64(21000), summary.Txs[0].GasUsed)
	require.Equal(t, summary.Operations, int(summary.RWCounterEnd))
	require.NotZero(t, summary.ByTarget["Account"])

	dumpData, err := os.ReadFile(dumpPath)
	require.NoError(t, err)
	var dump blockDump
	require.NoError(t, json.Unmarshal(dumpData, &dump))
	require.Len(t, dump.Operations, summary.Operations)
	require.Equal(t, uint64(0), dump.Operations[0].RWC)
	require.Equal(t, "Start", dump.Operations[0].Target)
}

func TestRunMissingTraceFile(t *testing.T) {
	err := newApp().Run([]string{
		"busmap", "--trace", filepath.Join(t.TempDir(), "absent.json"), "--verbosity", "1",
	})
	require.Error(t, err)
}

func TestRunRequiresInput(t *testing.T) {
	err := newApp().Run([]string{"busmap", "--verbosity", "1"})
	require.ErrorContains(t, err, "--trace or --rpc")
}
