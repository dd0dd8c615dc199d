package engine

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wippyai/wasm-http-trigger/internal/wasmtest"
)

const latest = "wasi:http/incoming-handler@0.2.0"

func newEngine(t *testing.T) *Engine {
	t.Helper()
	ctx := context.Background()
	e, err := New(ctx, Config{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close(ctx) })
	return e
}

func TestEngine_CompileExports(t *testing.T) {
	e := newEngine(t)
	wasm := wasmtest.Handlers(map[string]wasmtest.Behavior{
		latest: {},
		"wasi:http/incoming-handler@0.2.0-rc-2023-10-18": {},
	})

	c, err := e.Compile(context.Background(), "hello", wasm)
	require.NoError(t, err)
	assert.Equal(t, "hello", c.ID())
	assert.Equal(t, []string{
		latest + "#handle",
		"wasi:http/incoming-handler@0.2.0-rc-2023-10-18#handle",
	}, c.Exports())
}

func TestEngine_CompileInvalid(t *testing.T) {
	e := newEngine(t)
	_, err := e.Compile(context.Background(), "bad", []byte("not wasm"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad")
}

func TestEngine_RespondThenTrap(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	c, err := e.Compile(ctx, "hello", wasmtest.Handlers(map[string]wasmtest.Behavior{
		latest: {Respond: true, Status: 201, Body: "hi", Trap: true},
	}))
	require.NoError(t, err)

	inst, store, err := e.Instantiate(ctx, c, InstanceConfig{OutboundHTTP: true})
	require.NoError(t, err)
	defer store.Close()

	outparam, signal, err := store.HTTP().NewResponseOutparam()
	require.NoError(t, err)

	fn := inst.ExportedFunction(latest + "#handle")
	require.NotNil(t, fn)
	_, err = store.Call(ctx, fn, 0, uint64(outparam))
	require.Error(t, err)

	res, ok := <-signal
	require.True(t, ok)
	require.NotNil(t, res.Response)
	assert.Equal(t, 201, res.Response.Status)

	body, err := io.ReadAll(res.Response.Body)
	require.NoError(t, err)
	assert.Equal(t, "hi", string(body))

	assert.Equal(t, uint64(65536), store.MemoryConsumed())
}

func TestEngine_MissingExportIsNil(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	c, err := e.Compile(ctx, "hello", wasmtest.Handlers(map[string]wasmtest.Behavior{latest: {}}))
	require.NoError(t, err)

	inst, store, err := e.Instantiate(ctx, c, InstanceConfig{})
	require.NoError(t, err)
	defer store.Close()

	assert.Nil(t, inst.ExportedFunction("nope"))
	assert.Nil(t, store.HTTP())
}

func TestEngine_MemoryLimit(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	c, err := e.Compile(ctx, "big", wasmtest.HandlersWithMemory(map[string]wasmtest.Behavior{latest: {}}, 4))
	require.NoError(t, err)

	_, _, err = e.Instantiate(ctx, c, InstanceConfig{MaxMemory: 2 * 65536})
	assert.ErrorIs(t, err, ErrMemoryLimit)

	_, store, err := e.Instantiate(ctx, c, InstanceConfig{MaxMemory: 4 * 65536})
	require.NoError(t, err)
	assert.Equal(t, uint64(4*65536), store.MemoryConsumed())
	require.NoError(t, store.Close())
}

func TestEngine_HostCallWithoutCapabilityTraps(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	c, err := e.Compile(ctx, "hello", wasmtest.Handlers(map[string]wasmtest.Behavior{
		latest: {Respond: true, Status: 200},
	}))
	require.NoError(t, err)

	inst, store, err := e.Instantiate(ctx, c, InstanceConfig{})
	require.NoError(t, err)
	defer store.Close()

	_, err = store.Call(ctx, inst.ExportedFunction(latest+"#handle"), 0, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), ErrNoCapability.Error())
}

func TestStore_CloseIdempotent(t *testing.T) {
	s := NewStore("x", nil)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.Equal(t, "x", s.ComponentID())
}

type sleepyFunc struct{}

func (sleepyFunc) Call(ctx context.Context, _ ...uint64) ([]uint64, error) {
	s, ok := StoreFromContext(ctx)
	if !ok {
		return nil, assert.AnError
	}
	s.AddMemoryConsumed(10)
	return nil, nil
}

func TestStore_CallCarriesStore(t *testing.T) {
	s := NewStore("x", nil)
	_, err := s.Call(context.Background(), sleepyFunc{})
	require.NoError(t, err)
	assert.Equal(t, uint64(10), s.MemoryConsumed())
	assert.GreaterOrEqual(t, s.CPUTimeElapsed().Nanoseconds(), int64(0))
}
