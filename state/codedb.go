package state

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/ethereum/go-ethereum/crypto"
	lru "github.com/hashicorp/golang-lru"
)

// EmptyCodeHash is the keccak hash of empty code.
var EmptyCodeHash = crypto.Keccak256Hash(nil)

const decodedCacheSize = 1024

// Bytecode is contract code with its bytes classified as instructions or
// PUSH immediate data. Copy events into code regions need the flag per byte.
type Bytecode struct {
	code   []byte
	isCode []bool
}

// DecodeBytecode scans code once, marking PUSH immediates as data.
func DecodeBytecode(code []byte) *Bytecode {
	b := &Bytecode{code: code, isCode: make([]bool, len(code))}
	for i := 0; i < len(code); {
		op := vm.OpCode(code[i])
		b.isCode[i] = true
		i++
		if op.IsPush() {
			i += int(op - vm.PUSH1 + 1)
		}
	}
	return b
}

// Len returns the code length in bytes.
func (b *Bytecode) Len() int { return len(b.code) }

// At returns the byte at i and whether it is an instruction. Out of range
// reads return a zero padding byte.
func (b *Bytecode) At(i uint64) (byte, bool) {
	if i >= uint64(len(b.code)) {
		return 0, false
	}
	return b.code[i], b.isCode[i]
}

// Raw returns the underlying code bytes.
func (b *Bytecode) Raw() []byte { return b.code }

// CodeDB stores contract code by keccak hash and caches decoded bytecode.
type CodeDB struct {
	codes   map[common.Hash][]byte
	decoded *lru.Cache
}

// NewCodeDB returns an empty code store.
func NewCodeDB() *CodeDB {
	cache, _ := lru.New(decodedCacheSize)
	return &CodeDB{
		codes:   make(map[common.Hash][]byte),
		decoded: cache,
	}
}

// Insert stores code and returns its hash. Empty code maps to
// EmptyCodeHash without an entry.
func (db *CodeDB) Insert(code []byte) common.Hash {
	if len(code) == 0 {
		return EmptyCodeHash
	}
	hash := crypto.Keccak256Hash(code)
	db.codes[hash] = code
	return hash
}

// Get returns the raw code for hash. EmptyCodeHash and the zero hash
// resolve to empty code.
func (db *CodeDB) Get(hash common.Hash) ([]byte, bool) {
	if hash == EmptyCodeHash || hash == (common.Hash{}) {
		return nil, true
	}
	code, ok := db.codes[hash]
	return code, ok
}

// GetBytecode returns the decoded form of the code for hash, using the
// decode cache.
func (db *CodeDB) GetBytecode(hash common.Hash) (*Bytecode, bool) {
	if cached, ok := db.decoded.Get(hash); ok {
		return cached.(*Bytecode), true
	}
	code, ok := db.Get(hash)
	if !ok {
		return nil, false
	}
	b := DecodeBytecode(code)
	db.decoded.Add(hash, b)
	return b, true
}
