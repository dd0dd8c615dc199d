package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.bytecodealliance.org/wit"

	"github.com/wippyai/wasm-http-trigger/abi"
	"github.com/wippyai/wasm-http-trigger/wasihttp"
)

// hostFn implements an imported function for one guest call.
type hostFn func(ctx context.Context, c call, stack []uint64)

// binding builds the implementation of a declared function. It runs once at
// registration, so return-area offsets are computed from the declaration.
type binding func(f *wit.Function) hostFn

// call is what a host function sees of its caller.
type call struct {
	name  string
	mem   guestMemory
	store *Store
}

func (c call) http() *wasihttp.View {
	if c.store.http == nil {
		panic(fmt.Errorf("%s: %w", c.name, ErrNoCapability))
	}
	return c.store.http
}

// bind resolves the calling store and charges the call to host time.
func bind(name string, fn hostFn) api.GoModuleFunc {
	return func(ctx context.Context, mod api.Module, stack []uint64) {
		store, ok := StoreFromContext(ctx)
		if !ok {
			panic(fmt.Errorf("%s: %w", name, ErrNoCapability))
		}
		defer store.trackHost(time.Now())
		fn(ctx, call{name: name, mem: memoryOf(mod), store: store}, stack)
	}
}

type hostModule struct {
	iface    abi.Interface
	bindings map[string]binding
}

func hostModules() []hostModule {
	var mods []hostModule
	for _, h := range abi.Releases() {
		if h.Legacy() {
			mods = append(mods,
				hostModule{iface: h.Types, bindings: legacyTypesBindings()},
				hostModule{iface: h.Streams, bindings: legacyStreamsBindings()},
			)
			continue
		}
		mods = append(mods,
			hostModule{iface: h.Types, bindings: typesBindings()},
			hostModule{iface: h.Streams, bindings: streamsBindings()},
			hostModule{iface: h.Error, bindings: errorBindings()},
		)
	}
	kv := abi.SpinKeyValue()
	return append(mods, hostModule{iface: kv.Interface, bindings: keyValueBindings(kv)})
}

// registerHostModules exports every declared function with the core
// signature its WIT type flattens to.
func registerHostModules(ctx context.Context, r wazero.Runtime) error {
	for _, m := range hostModules() {
		builder := r.NewHostModuleBuilder(m.iface.Module)
		for _, f := range m.iface.Functions {
			b, ok := m.bindings[f.Name]
			if !ok {
				return fmt.Errorf("%s: no host binding for %s", m.iface.Module, f.Name)
			}
			params, results := abi.Signature(f)
			builder.NewFunctionBuilder().
				WithGoModuleFunction(bind(f.Name, b(f)), params, results).
				Export(f.Name)
		}
		if _, err := builder.Instantiate(ctx); err != nil {
			return fmt.Errorf("instantiate host module %s: %w", m.iface.Module, err)
		}
	}
	return nil
}

func must(h uint32, err error) uint32 {
	if err != nil {
		panic(err)
	}
	return h
}

func dropResource(*wit.Function) hostFn {
	return func(_ context.Context, c call, stack []uint64) {
		c.http().Drop(api.DecodeU32(stack[0]))
	}
}

// errorCodeName renders a guest error discriminant of t.
func errorCodeName(t *wit.TypeDef, tag uint32) string {
	if name := abi.CaseName(t, tag); name != "" {
		return name
	}
	return fmt.Sprintf("%s(%d)", t.TypeName(), tag)
}
