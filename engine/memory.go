package engine

import (
	"github.com/tetratelabs/wazero/experimental"
	"go.uber.org/zap"
)

// trackedMemory is a linear memory whose size is accounted on its store.
type trackedMemory struct {
	store *Store
	buf   []byte
	max   uint64
	// grown is set once the initial allocation has been made.
	grown bool
}

func (s *Store) allocator() experimental.MemoryAllocator {
	return experimental.MemoryAllocatorFunc(func(capacity, maxBytes uint64) experimental.LinearMemory {
		return &trackedMemory{store: s, max: maxBytes}
	})
}

// Reallocate grows the memory to size bytes. Growth past the store's ceiling
// returns nil, which the guest observes as a failed memory.grow. The initial
// allocation is always granted and checked after instantiation.
func (m *trackedMemory) Reallocate(size uint64) []byte {
	old := uint64(len(m.buf))
	if m.grown && m.store.maxMemory > 0 {
		if m.store.MemoryConsumed()-old+size > m.store.maxMemory {
			Logger().Debug("memory growth refused",
				zap.String("component", m.store.componentID),
				zap.Uint64("requested", size),
				zap.Uint64("limit", m.store.maxMemory))
			return nil
		}
	}

	if uint64(cap(m.buf)) >= size {
		m.buf = m.buf[:size]
	} else {
		c := size * 2
		if m.max > 0 && c > m.max {
			c = m.max
		}
		if c < size {
			c = size
		}
		buf := make([]byte, size, c)
		copy(buf, m.buf)
		m.buf = buf
	}

	m.grown = true
	m.store.memory.Add(size - old)
	return m.buf
}

// Free releases the memory when the instance closes. The store keeps its
// final reading so metrics see the peak the instance reached.
func (m *trackedMemory) Free() {
	m.buf = nil
}
