package flash

import (
	"math/bits"
	"sync"
)

// Puya P25Q vendor and type codes reported by Memory.ReadMID.
const (
	vendorPuya = 0x85
	typeP25Q   = 0x60
)

// Stats counts operations issued to a Memory.
type Stats struct {
	Reads        int
	Writes       int
	PageErases   int
	BlockErases  int
	BytesWritten int
}

// Memory is a RAM-backed Device with NOR flash semantics: erase sets
// bytes to 0xFF, programming can only clear bits.
type Memory struct {
	mu        sync.Mutex
	data      []byte
	stats     Stats
	failAfter int // mutating ops left before power loss, -1 = never
}

// NewMemory returns an erased device of the given size.
// size must be a power of two of at least one block.
func NewMemory(size uint32) *Memory {
	if size < BlockSize || bits.OnesCount32(size) != 1 {
		panic("flash: memory size must be a power of two >= 64KiB")
	}
	data := make([]byte, size)
	for i := range data {
		data[i] = 0xFF
	}
	return newMemoryOn(data)
}

func newMemoryOn(data []byte) *Memory {
	return &Memory{data: data, failAfter: -1}
}

// Size returns the device size in bytes.
func (m *Memory) Size() uint32 {
	return uint32(len(m.data))
}

// ReadMID reports a Puya part whose capacity code matches the memory size.
func (m *Memory) ReadMID() (MID, error) {
	return MID{vendorPuya, typeP25Q, uint8(bits.TrailingZeros32(m.Size()))}, nil
}

func (m *Memory) ReadPage(addr uint32, buf []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.inRange(addr, len(buf)) {
		return ErrOutOfBounds
	}
	copy(buf, m.data[addr:])
	m.stats.Reads++
	return nil
}

func (m *Memory) WritePage(addr uint32, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.inRange(addr, len(data)) {
		return ErrOutOfBounds
	}
	if m.powerLost() {
		return ErrPowerLoss
	}
	dst := m.data[addr : int(addr)+len(data)]
	for i, b := range data {
		dst[i] &= b
	}
	m.stats.Writes++
	m.stats.BytesWritten += len(data)
	return nil
}

func (m *Memory) EraseBlock64K(addr uint32) error {
	return m.erase(addr&^(BlockSize-1), BlockSize, &m.stats.BlockErases)
}

func (m *Memory) ErasePage(addr uint32) error {
	return m.erase(PageBase(addr), PageSize, &m.stats.PageErases)
}

func (m *Memory) erase(base uint32, n int, counter *int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.inRange(base, n) {
		return ErrOutOfBounds
	}
	if m.powerLost() {
		return ErrPowerLoss
	}
	region := m.data[base : int(base)+n]
	for i := range region {
		region[i] = 0xFF
	}
	*counter++
	return nil
}

// Stats returns a snapshot of the operation counters.
func (m *Memory) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

// ResetStats clears the operation counters.
func (m *Memory) ResetStats() {
	m.mu.Lock()
	m.stats = Stats{}
	m.mu.Unlock()
}

// FailAfter makes every write or erase after the next n fail with
// ErrPowerLoss without touching the contents. A negative n disables it.
func (m *Memory) FailAfter(n int) {
	m.mu.Lock()
	m.failAfter = n
	m.mu.Unlock()
}

// Bytes returns a copy of length n starting at addr, for inspection.
func (m *Memory) Bytes(addr uint32, n int) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]byte, n)
	copy(out, m.data[addr:])
	return out
}

// powerLost consumes one mutating op from the fault budget. Must hold mu.
func (m *Memory) powerLost() bool {
	if m.failAfter < 0 {
		return false
	}
	if m.failAfter == 0 {
		return true
	}
	m.failAfter--
	return false
}

func (m *Memory) inRange(addr uint32, n int) bool {
	return uint64(addr)+uint64(n) <= uint64(len(m.data))
}
