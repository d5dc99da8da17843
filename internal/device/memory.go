package device

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/23skdu/longbow-coopvec/internal/coopvec"
	"github.com/23skdu/longbow-coopvec/internal/metrics"
)

var allocatedBytes int64

func traceAlloc(delta int64) {
	newVal := atomic.AddInt64(&allocatedBytes, delta)
	metrics.RecordEmulatorMemory(newVal)
}

// AllocatedBytes is the number of bytes currently held by emulator
// buffers, pooled ones included.
func AllocatedBytes() int64 {
	return atomic.LoadInt64(&allocatedBytes)
}

// MaxMemory bounds a single emulator allocation.
var MaxMemory int64 = 1 << 30

const (
	addressBase  = 0x100000
	addressAlign = 256
)

// memory is the emulator's buffer heap. Freed buffers are kept in a pool
// keyed by capacity and reused zeroed.
type memory struct {
	mu       sync.Mutex
	pool     map[int][]*Buffer
	live     map[uint64]*Buffer
	next     Handle
	nextAddr uint64
}

func newMemory() *memory {
	return &memory{
		pool:     make(map[int][]*Buffer),
		live:     make(map[uint64]*Buffer),
		nextAddr: addressBase,
	}
}

func (m *memory) allocate(size int) (*Buffer, error) {
	if size <= 0 || int64(size) > MaxMemory {
		return nil, fmt.Errorf("%w: invalid allocation size: %d (must be in (0, %d])", ErrResource, size, MaxMemory)
	}
	class := coopvec.AlignUp(size, addressAlign)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.next++
	if pool := m.pool[class]; len(pool) > 0 {
		b := pool[len(pool)-1]
		m.pool[class] = pool[:len(pool)-1]
		b.Handle = m.next
		b.Data = b.Data[:size]
		clear(b.Data)
		m.live[b.Address] = b
		return b, nil
	}
	b := &Buffer{
		Handle:  m.next,
		Address: m.nextAddr,
		Data:    make([]byte, size, class),
	}
	m.nextAddr += uint64(class)
	m.live[b.Address] = b
	traceAlloc(int64(class))
	return b, nil
}

func (m *memory) free(b *Buffer) {
	if b == nil || b.Data == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.live[b.Address] != b {
		return
	}
	delete(m.live, b.Address)
	class := cap(b.Data)
	m.pool[class] = append(m.pool[class], b)
}

// release drops every pooled buffer.
func (m *memory) release() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for class, pool := range m.pool {
		traceAlloc(-int64(class * len(pool)))
	}
	m.pool = make(map[int][]*Buffer)
}

// resolve maps a device address to the live buffer containing it and the
// byte offset inside that buffer.
func (m *memory) resolve(addr uint64) (*Buffer, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for base, b := range m.live {
		if addr >= base && addr < base+uint64(cap(b.Data)) {
			return b, int(addr - base), nil
		}
	}
	return nil, 0, fmt.Errorf("device address %#x not mapped", addr)
}
