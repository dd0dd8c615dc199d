package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/tetratelabs/wazero/api"
	"go.bytecodealliance.org/wit"

	"github.com/wippyai/wasm-http-trigger/abi"
	"github.com/wippyai/wasm-http-trigger/keyvalue"
)

// ErrBadHandle is raised when a guest passes a key-value handle it does not
// hold.
var ErrBadHandle = errors.New("unknown key-value store handle")

// keyValueTable holds the key-value stores an instance has opened. Labels
// outside allowed are refused.
type keyValueTable struct {
	manager *keyvalue.Manager
	allowed []string

	mu     sync.Mutex
	stores map[uint32]*keyvalue.Store
	next   uint32
}

func (t *keyValueTable) open(label string) (uint32, error) {
	if t.manager == nil {
		return 0, fmt.Errorf("%w: %q", keyvalue.ErrNoSuchStore, label)
	}
	s, err := t.manager.Open(label, t.allowed)
	if err != nil {
		return 0, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stores == nil {
		t.stores = make(map[uint32]*keyvalue.Store)
	}
	t.next++
	t.stores[t.next] = s
	return t.next, nil
}

func (t *keyValueTable) get(h uint32) *keyvalue.Store {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.stores[h]
	if !ok {
		panic(fmt.Errorf("%w: %d", ErrBadHandle, h))
	}
	return s
}

func (t *keyValueTable) drop(h uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.stores, h)
}

func (t *keyValueTable) close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	clear(t.stores)
}

// keyValueBindings implements fermyon:spin/key-value over the store's
// key-value table.
func keyValueBindings(kv *abi.KeyValue) map[string]binding {
	fail := func(ctx context.Context, c call, ret, at uint32, err error) {
		c.mem.u8(ret, 1)
		switch {
		case errors.Is(err, keyvalue.ErrNoSuchStore):
			c.mem.u8(ret+at, abi.Case(kv.Error, "no-such-store"))
		case errors.Is(err, keyvalue.ErrAccessDenied):
			c.mem.u8(ret+at, abi.Case(kv.Error, "access-denied"))
		default:
			c.mem.u8(ret+at, abi.Case(kv.Error, "other"))
			c.mem.writeString(ctx, ret+at+abi.Payload(kv.Error), err.Error())
		}
	}
	key := func(c call, stack []uint64) string {
		return c.mem.readString(api.DecodeU32(stack[1]), api.DecodeU32(stack[2]))
	}

	return map[string]binding{
		"[static]store.open": func(f *wit.Function) hostFn {
			at := abi.Payload(abi.ResultType(f))
			return func(ctx context.Context, c call, stack []uint64) {
				label := c.mem.readString(api.DecodeU32(stack[0]), api.DecodeU32(stack[1]))
				ret := api.DecodeU32(stack[2])
				h, err := c.store.kv.open(label)
				if err != nil {
					fail(ctx, c, ret, at, err)
					return
				}
				c.mem.u8(ret, 0)
				c.mem.u32(ret+at, h)
			}
		},
		"[method]store.get": func(f *wit.Function) hostFn {
			res := abi.ResultType(f)
			at := abi.Payload(res)
			value := at + abi.Payload(abi.OK(res))
			return func(ctx context.Context, c call, stack []uint64) {
				ret := api.DecodeU32(stack[3])
				v, ok, err := c.store.kv.get(api.DecodeU32(stack[0])).Get(ctx, key(c, stack))
				if err != nil {
					fail(ctx, c, ret, at, err)
					return
				}
				c.mem.u8(ret, 0)
				if !ok {
					c.mem.u8(ret+at, 0)
					return
				}
				ptr, n := c.mem.lower(ctx, v)
				c.mem.u8(ret+at, 1)
				c.mem.u32(ret+value, ptr)
				c.mem.u32(ret+value+4, n)
			}
		},
		"[method]store.set": func(f *wit.Function) hostFn {
			at := abi.Payload(abi.ResultType(f))
			return func(ctx context.Context, c call, stack []uint64) {
				value := c.mem.read(api.DecodeU32(stack[3]), api.DecodeU32(stack[4]))
				ret := api.DecodeU32(stack[5])
				if err := c.store.kv.get(api.DecodeU32(stack[0])).Set(ctx, key(c, stack), value); err != nil {
					fail(ctx, c, ret, at, err)
					return
				}
				c.mem.u8(ret, 0)
			}
		},
		"[method]store.delete": func(f *wit.Function) hostFn {
			at := abi.Payload(abi.ResultType(f))
			return func(ctx context.Context, c call, stack []uint64) {
				ret := api.DecodeU32(stack[3])
				if err := c.store.kv.get(api.DecodeU32(stack[0])).Delete(ctx, key(c, stack)); err != nil {
					fail(ctx, c, ret, at, err)
					return
				}
				c.mem.u8(ret, 0)
			}
		},
		"[method]store.exists": func(f *wit.Function) hostFn {
			at := abi.Payload(abi.ResultType(f))
			return func(ctx context.Context, c call, stack []uint64) {
				ret := api.DecodeU32(stack[3])
				ok, err := c.store.kv.get(api.DecodeU32(stack[0])).Exists(ctx, key(c, stack))
				if err != nil {
					fail(ctx, c, ret, at, err)
					return
				}
				c.mem.u8(ret, 0)
				var b byte
				if ok {
					b = 1
				}
				c.mem.u8(ret+at, b)
			}
		},
		"[method]store.get-keys": func(f *wit.Function) hostFn {
			at := abi.Payload(abi.ResultType(f))
			return func(ctx context.Context, c call, stack []uint64) {
				ret := api.DecodeU32(stack[1])
				keys, err := c.store.kv.get(api.DecodeU32(stack[0])).Keys(ctx)
				if err != nil {
					fail(ctx, c, ret, at, err)
					return
				}
				c.mem.u8(ret, 0)
				c.mem.writeStrings(ctx, ret+at, keys)
			}
		},
		"[resource-drop]store": func(*wit.Function) hostFn {
			return func(_ context.Context, c call, stack []uint64) {
				c.store.kv.drop(api.DecodeU32(stack[0]))
			}
		},
	}
}
