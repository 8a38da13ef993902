// Package circuitinput builds the per-block circuit input: it replays an
// execution trace step by step and emits the strictly ordered bus operation
// log, the exec step sequence and the copy events the proving system
// consumes.
package circuitinput

import (
	"math"

	"github.com/holiman/uint256"
)

// Memory mirrors one call frame's byte memory. The trace only carries
// coarse snapshots (and often none at all), so handlers keep this mirror
// up to date themselves and read copy sources from it.
type Memory struct {
	data []byte
}

// NewMemory returns an empty frame memory.
func NewMemory() *Memory { return &Memory{} }

// NewMemoryFromBytes copies data into a fresh memory.
func NewMemoryFromBytes(data []byte) *Memory {
	m := &Memory{data: make([]byte, len(data))}
	copy(m.data, data)
	return m
}

// Len returns the current memory size in bytes.
func (m *Memory) Len() uint64 { return uint64(len(m.data)) }

// WordSize returns the memory size in 32-byte words, rounding up.
func (m *Memory) WordSize() uint64 { return (m.Len() + 31) / 32 }

// Byte returns the byte at addr, zero beyond the current size.
func (m *Memory) Byte(addr uint64) byte {
	if addr >= m.Len() {
		return 0
	}
	return m.data[addr]
}

// ReadChunk returns length bytes starting at offset, zero padded past the
// current size. The result is always a fresh slice.
func (m *Memory) ReadChunk(offset, length uint64) []byte {
	chunk := make([]byte, length)
	if offset < m.Len() {
		copy(chunk, m.data[offset:])
	}
	return chunk
}

// Extend grows memory to cover [offset, offset+length), rounded up to a
// word boundary. Growth is zero filled; a zero length never grows.
func (m *Memory) Extend(offset, length uint64) {
	if length == 0 {
		return
	}
	end := (offset + length + 31) / 32 * 32
	if end > m.Len() {
		m.data = append(m.data, make([]byte, end-m.Len())...)
	}
}

// WriteChunk copies data into memory at offset, extending first.
func (m *Memory) WriteChunk(offset uint64, data []byte) {
	m.Extend(offset, uint64(len(data)))
	copy(m.data[offset:], data)
}

// Equal reports whether the mirrored contents match a trace snapshot,
// treating bytes past either length as zero.
func (m *Memory) Equal(snapshot []byte) bool {
	n := len(m.data)
	if len(snapshot) > n {
		n = len(snapshot)
	}
	for i := 0; i < n; i++ {
		var a, b byte
		if i < len(m.data) {
			a = m.data[i]
		}
		if i < len(snapshot) {
			b = snapshot[i]
		}
		if a != b {
			return false
		}
	}
	return true
}

// lowU64 truncates a word to uint64, saturating on overflow. Offsets that
// overflow only ever pair with zero lengths in valid traces.
func lowU64(v *uint256.Int) uint64 {
	if !v.IsUint64() {
		return math.MaxUint64
	}
	return v.Uint64()
}
