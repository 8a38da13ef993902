package types

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/log"
)

// BlockTraceFromJSON decodes a block trace that is either the bare object or
// wrapped in a JSON-RPC response envelope ({"result": ...}), which is what a
// raw debug endpoint dump looks like.
func BlockTraceFromJSON(data []byte) (*BlockTrace, error) {
	trace := new(BlockTrace)
	bareErr := json.Unmarshal(data, trace)
	if bareErr == nil && (len(trace.Transactions) > 0 || len(trace.ExecutionResults) > 0) {
		return trace, nil
	}

	var envelope struct {
		Result *BlockTrace `json:"result"`
	}
	if err := json.Unmarshal(data, &envelope); err == nil && envelope.Result != nil {
		log.Debug("decoded block trace from rpc envelope")
		return envelope.Result, nil
	}
	if bareErr != nil {
		return nil, fmt.Errorf("decode block trace: %w", bareErr)
	}
	return trace, nil
}

// BlockTraceFromFile loads a block trace JSON file.
func BlockTraceFromFile(path string) (*BlockTrace, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read block trace %s: %w", path, err)
	}
	trace, err := BlockTraceFromJSON(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return trace, nil
}
