package engine

import (
	"context"
	"fmt"

	"github.com/tetratelabs/wazero/api"
)

// CabiRealloc is the guest export used to allocate memory for values the
// host returns.
const CabiRealloc = "cabi_realloc"

// guestMemory wraps the caller's memory with trapping accessors. An out of
// range access panics, which wazero turns into a trap for the guest call.
type guestMemory struct {
	mem api.Memory
	mod api.Module
}

func memoryOf(mod api.Module) guestMemory {
	mem := mod.Memory()
	if mem == nil {
		panic(fmt.Errorf("module %q exports no memory", mod.Name()))
	}
	return guestMemory{mem: mem, mod: mod}
}

func (m guestMemory) read(ptr, length uint32) []byte {
	b, ok := m.mem.Read(ptr, length)
	if !ok {
		panic(fmt.Errorf("out of bounds read: ptr=%d len=%d", ptr, length))
	}
	out := make([]byte, length)
	copy(out, b)
	return out
}

func (m guestMemory) readString(ptr, length uint32) string {
	return string(m.read(ptr, length))
}

func (m guestMemory) load32(off uint32) uint32 {
	v, ok := m.mem.ReadUint32Le(off)
	if !ok {
		panic(fmt.Errorf("out of bounds read at %d", off))
	}
	return v
}

func (m guestMemory) u8(off uint32, v byte) {
	if !m.mem.WriteByte(off, v) {
		panic(fmt.Errorf("out of bounds write at %d", off))
	}
}

func (m guestMemory) u32(off, v uint32) {
	if !m.mem.WriteUint32Le(off, v) {
		panic(fmt.Errorf("out of bounds write at %d", off))
	}
}

func (m guestMemory) u64(off uint32, v uint64) {
	if !m.mem.WriteUint64Le(off, v) {
		panic(fmt.Errorf("out of bounds write at %d", off))
	}
}

// alloc reserves size bytes in guest memory through cabi_realloc.
func (m guestMemory) alloc(ctx context.Context, align, size uint32) uint32 {
	if size == 0 {
		return align
	}
	realloc := m.mod.ExportedFunction(CabiRealloc)
	if realloc == nil {
		panic(fmt.Errorf("guest does not export %s", CabiRealloc))
	}
	res, err := realloc.Call(ctx, 0, 0, uint64(align), uint64(size))
	if err != nil {
		panic(fmt.Errorf("%s: %w", CabiRealloc, err))
	}
	return uint32(res[0])
}

// lower copies data into guest memory and returns (ptr, len).
func (m guestMemory) lower(ctx context.Context, data []byte) (uint32, uint32) {
	ptr := m.alloc(ctx, 1, uint32(len(data)))
	if len(data) > 0 && !m.mem.Write(ptr, data) {
		panic(fmt.Errorf("out of bounds write at %d", ptr))
	}
	return ptr, uint32(len(data))
}

// writeString stores a string as (ptr, len) at off.
func (m guestMemory) writeString(ctx context.Context, off uint32, s string) {
	ptr, n := m.lower(ctx, []byte(s))
	m.u32(off, ptr)
	m.u32(off+4, n)
}

// writeHandleResult stores result<handle> at ret with the payload at ret+at.
func (m guestMemory) writeHandleResult(ret, at, handle uint32, err error) {
	if err != nil {
		m.u8(ret, 1)
		return
	}
	m.u8(ret, 0)
	m.u32(ret+at, handle)
}

// writeOptionString stores option<string> at ret with the payload at ret+at.
func (m guestMemory) writeOptionString(ctx context.Context, ret, at uint32, s string, ok bool) {
	if !ok {
		m.u8(ret, 0)
		return
	}
	m.u8(ret, 1)
	m.writeString(ctx, ret+at, s)
}

// writeStrings lowers a list<string> and stores it as (ptr, len) at off.
func (m guestMemory) writeStrings(ctx context.Context, off uint32, ss []string) {
	base := m.alloc(ctx, 4, uint32(8*len(ss)))
	for i, s := range ss {
		m.writeString(ctx, base+uint32(8*i), s)
	}
	m.u32(off, base)
	m.u32(off+4, uint32(len(ss)))
}
