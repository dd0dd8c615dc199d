package engine

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/experimental"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-http-trigger/keyvalue"
	"github.com/wippyai/wasm-http-trigger/wasihttp"
)

// Engine compiles and instantiates guests on a shared wazero runtime.
type Engine struct {
	runtime wazero.Runtime
}

// Config holds configuration for engine creation
type Config struct {
	// MemoryLimitPages caps every memory in pages (64KB each).
	// 0 means the wazero default.
	MemoryLimitPages uint32
}

// New creates an engine with WASI preview1, the wasi:http host modules of
// every supported release and fermyon:spin/key-value registered.
func New(ctx context.Context, cfg Config) (*Engine, error) {
	runtimeCfg := wazero.NewRuntimeConfig()
	if cfg.MemoryLimitPages > 0 {
		runtimeCfg = runtimeCfg.WithMemoryLimitPages(cfg.MemoryLimitPages)
	}
	r := wazero.NewRuntimeWithConfig(ctx, runtimeCfg)

	if _, err := wasi_snapshot_preview1.Instantiate(ctx, r); err != nil {
		_ = r.Close(ctx)
		return nil, fmt.Errorf("instantiate wasi preview1: %w", err)
	}
	if err := registerHostModules(ctx, r); err != nil {
		_ = r.Close(ctx)
		return nil, err
	}
	return &Engine{runtime: r}, nil
}

// Close releases the runtime and every module compiled on it.
func (e *Engine) Close(ctx context.Context) error {
	return e.runtime.Close(ctx)
}

// Component is a compiled guest.
type Component struct {
	compiled wazero.CompiledModule
	id       string
}

// Compile validates and compiles a guest binary.
func (e *Engine) Compile(ctx context.Context, id string, wasm []byte) (*Component, error) {
	compiled, err := e.runtime.CompileModule(ctx, wasm)
	if err != nil {
		return nil, fmt.Errorf("compile component %s: %w", id, err)
	}
	Logger().Debug("component compiled",
		zap.String("component", id),
		zap.Int("exports", len(compiled.ExportedFunctions())))
	return &Component{id: id, compiled: compiled}, nil
}

// ID returns the component id.
func (c *Component) ID() string { return c.id }

// Exports returns the names of the exported functions, sorted.
func (c *Component) Exports() []string {
	defs := c.compiled.ExportedFunctions()
	names := make([]string, 0, len(defs))
	for name := range defs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Imports returns the imported functions as "module#name", sorted.
func (c *Component) Imports() []string {
	defs := c.compiled.ImportedFunctions()
	names := make([]string, 0, len(defs))
	for _, def := range defs {
		mod, name, _ := def.Import()
		names = append(names, mod+"#"+name)
	}
	sort.Strings(names)
	return names
}

// InstanceConfig describes one instantiation.
type InstanceConfig struct {
	Stdout io.Writer
	Stderr io.Writer

	// KeyValue backs fermyon:spin/key-value. Only KeyValueStores may be
	// opened.
	KeyValue       *keyvalue.Manager
	KeyValueStores []string

	// MaxMemory caps the instance's linear memory in bytes. 0 means no cap.
	MaxMemory uint64

	// OutboundHTTP grants the wasi:http capability.
	OutboundHTTP bool
}

// Instance is one running guest.
type Instance struct {
	module api.Module
}

// ExportedFunction returns the named export, or nil.
func (i *Instance) ExportedFunction(name string) Function {
	if fn := i.module.ExportedFunction(name); fn != nil {
		return fn
	}
	return nil
}

// Instantiate creates a fresh instance of c and its store.
func (e *Engine) Instantiate(ctx context.Context, c *Component, cfg InstanceConfig) (*Instance, *Store, error) {
	store := &Store{
		componentID: c.id,
		maxMemory:   cfg.MaxMemory,
		kv:          keyValueTable{manager: cfg.KeyValue, allowed: cfg.KeyValueStores},
	}
	if cfg.OutboundHTTP {
		store.http = wasihttp.NewView()
	}

	modCfg := wazero.NewModuleConfig().
		WithName(""). // anonymous for parallel instantiation
		WithStartFunctions("_initialize")
	if cfg.Stdout != nil {
		modCfg = modCfg.WithStdout(cfg.Stdout)
	}
	if cfg.Stderr != nil {
		modCfg = modCfg.WithStderr(cfg.Stderr)
	}

	instCtx := experimental.WithMemoryAllocator(WithStore(ctx, store), store.allocator())
	mod, err := e.runtime.InstantiateModule(instCtx, c.compiled, modCfg)
	if err != nil {
		_ = store.Close()
		return nil, nil, fmt.Errorf("instantiate component %s: %w", c.id, err)
	}
	store.module = mod

	if cfg.MaxMemory > 0 && store.MemoryConsumed() > cfg.MaxMemory {
		consumed := store.MemoryConsumed()
		_ = store.Close()
		return nil, nil, fmt.Errorf("%w: component %s needs %d bytes, limit is %d",
			ErrMemoryLimit, c.id, consumed, cfg.MaxMemory)
	}

	return &Instance{module: mod}, store, nil
}
