package wasmtest

import (
	"fmt"
	"sort"
	"strings"

	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/wasm-http-trigger/abi"
)

// Behavior describes what a generated handler does.
type Behavior struct {
	Body    string
	Status  int32
	Respond bool
	// Trap makes the handler trap after everything else.
	Trap bool
}

// Scratch addresses used by generated guests.
const (
	bodyResult   = 16
	streamResult = 32
	writeResult  = 48
	kvOpen       = 64
	kvSet        = 80
	kvExists     = 96
	bodyData     = 256
)

// ImportFunction imports the named function of iface with the core signature
// its declaration flattens to.
func (m *Module) ImportFunction(iface abi.Interface, name string) uint32 {
	f := iface.Function(name)
	if f == nil {
		panic(fmt.Sprintf("wasmtest: %s does not declare %s", iface.Module, name))
	}
	params, results := abi.Signature(f)
	return m.Import(iface.Module, name, coreTypes(params), coreTypes(results))
}

func coreTypes(ts []api.ValueType) []ValType {
	out := make([]ValType, len(ts))
	for i, t := range ts {
		out[i] = ValType(t)
	}
	return out
}

type httpImports struct {
	legacy                                          bool
	newFields, newResponse, setStatus, responseBody uint32
	bodyWrite, bodyFinish, outparamSet              uint32
	streamWrite, streamDrop                         uint32
}

func importHTTP(m *Module, version string) httpImports {
	h := abi.Release(version)
	if h == nil {
		panic("wasmtest: unknown wasi:http version " + version)
	}
	imp := httpImports{legacy: h.Legacy()}
	imp.newFields = m.ImportFunction(h.Types, "[constructor]fields")
	imp.newResponse = m.ImportFunction(h.Types, "[constructor]outgoing-response")
	if imp.legacy {
		imp.responseBody = m.ImportFunction(h.Types, "[method]outgoing-response.write")
	} else {
		imp.setStatus = m.ImportFunction(h.Types, "[method]outgoing-response.set-status-code")
		imp.responseBody = m.ImportFunction(h.Types, "[method]outgoing-response.body")
	}
	imp.bodyWrite = m.ImportFunction(h.Types, "[method]outgoing-body.write")
	imp.bodyFinish = m.ImportFunction(h.Types, "[static]outgoing-body.finish")
	imp.outparamSet = m.ImportFunction(h.Types, "[static]response-outparam.set")
	imp.streamWrite = m.ImportFunction(h.Streams, "[method]output-stream.blocking-write-and-flush")
	imp.streamDrop = m.ImportFunction(h.Streams, "[resource-drop]output-stream")
	return imp
}

// version returns the package version of an interface name such as
// "wasi:http/incoming-handler@0.2.0".
func version(iface string) string {
	if i := strings.LastIndexByte(iface, '@'); i >= 0 {
		return iface[i+1:]
	}
	return ""
}

// Handlers builds a guest exporting "<iface>#handle" for every key of
// handlers, with one page of memory.
func Handlers(handlers map[string]Behavior) []byte {
	return HandlersWithMemory(handlers, 1)
}

// HandlersWithMemory is Handlers with an explicit initial memory size.
func HandlersWithMemory(handlers map[string]Behavior, pages uint32) []byte {
	ifaces := make([]string, 0, len(handlers))
	for iface := range handlers {
		ifaces = append(ifaces, iface)
	}
	sort.Strings(ifaces)

	m := New()
	imports := map[string]httpImports{}
	for _, iface := range ifaces {
		if !handlers[iface].Respond {
			continue
		}
		v := version(iface)
		if _, ok := imports[v]; !ok {
			imports[v] = importHTTP(m, v)
		}
	}

	m.Memory(pages)
	for i, iface := range ifaces {
		b := handlers[iface]
		offset := int32(bodyData + 64*i)
		if b.Body != "" {
			m.Data(uint32(offset), []byte(b.Body))
		}
		fn := m.Func([]ValType{I32, I32}, nil, []ValType{I32, I32}, handlerBody(imports[version(iface)], b, offset)...)
		m.Export(iface+"#handle", fn)
	}
	return m.Bytes()
}

// handlerBody takes (request, outparam) in locals 0 and 1 and keeps the
// response handle in local 2 and the headers handle in local 3.
func handlerBody(imp httpImports, b Behavior, data int32) [][]byte {
	var code [][]byte
	if b.Respond {
		if imp.legacy {
			code = append(code,
				I32Const(0), I32Const(0), Call(imp.newFields), LocalSet(3),
				I32Const(b.Status), LocalGet(3), Call(imp.newResponse), LocalSet(2),
				LocalGet(2), I32Const(bodyResult), Call(imp.responseBody),

				LocalGet(1), I32Const(0), LocalGet(2), I32Const(0), I32Const(0),
				Call(imp.outparamSet),
			)
		} else {
			code = append(code,
				Call(imp.newFields),
				Call(imp.newResponse),
				LocalSet(2),

				LocalGet(2), I32Const(b.Status), Call(imp.setStatus), Drop,
				LocalGet(2), I32Const(bodyResult), Call(imp.responseBody),

				LocalGet(1), I32Const(0), LocalGet(2), I32Const(0), I64Const(0),
				I32Const(0), I32Const(0), I32Const(0), I32Const(0),
				Call(imp.outparamSet),
			)
		}

		code = append(code, LoadI32At(bodyResult+4), I32Const(streamResult), Call(imp.bodyWrite))
		if b.Body != "" {
			code = append(code,
				LoadI32At(streamResult+4), I32Const(data), I32Const(int32(len(b.Body))), I32Const(writeResult),
				Call(imp.streamWrite),
			)
		}
		code = append(code, LoadI32At(streamResult+4), Call(imp.streamDrop))
		if imp.legacy {
			code = append(code, LoadI32At(bodyResult+4), I32Const(0), I32Const(0), Call(imp.bodyFinish))
		} else {
			code = append(code, LoadI32At(bodyResult+4), I32Const(0), I32Const(0), I32Const(writeResult), Call(imp.bodyFinish))
		}
	}
	if b.Trap {
		code = append(code, Unreachable)
	}
	return code
}

// KeyValue builds a guest driving fermyon:spin/key-value. Every export takes
// no arguments and returns an i32:
//
//	open        opens label and returns the result tag
//	open-error  the error case left by a failed open
//	set         stores value under key in the opened store, returns the tag
//	exists      1 when key is present in the opened store
func KeyValue(label, key, value string) []byte {
	kv := abi.SpinKeyValue()
	m := New()
	open := m.ImportFunction(kv.Interface, "[static]store.open")
	set := m.ImportFunction(kv.Interface, "[method]store.set")
	exists := m.ImportFunction(kv.Interface, "[method]store.exists")

	m.Memory(1)
	labelAt, keyAt, valueAt := int32(bodyData), int32(bodyData+64), int32(bodyData+128)
	for _, d := range []struct {
		at int32
		s  string
	}{{labelAt, label}, {keyAt, key}, {valueAt, value}} {
		if d.s != "" {
			m.Data(uint32(d.at), []byte(d.s))
		}
	}

	i32 := []ValType{I32}
	handle := LoadI32At(kvOpen + 4)
	m.Export("open", m.Func(nil, i32, nil,
		I32Const(labelAt), I32Const(int32(len(label))), I32Const(kvOpen), Call(open),
		LoadI32At(kvOpen)))
	m.Export("open-error", m.Func(nil, i32, nil, LoadI32At(kvOpen+4)))
	m.Export("set", m.Func(nil, i32, nil,
		handle, I32Const(keyAt), I32Const(int32(len(key))), I32Const(valueAt), I32Const(int32(len(value))),
		I32Const(kvSet), Call(set),
		LoadI32At(kvSet)))
	m.Export("exists", m.Func(nil, i32, nil,
		handle, I32Const(keyAt), I32Const(int32(len(key))), I32Const(kvExists), Call(exists),
		LoadI32At(kvExists+4)))
	return m.Bytes()
}
