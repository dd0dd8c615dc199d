// Package wasmtest assembles small core wasm modules for tests.
package wasmtest

import (
	"bytes"
	"fmt"
)

// ValType is a wasm value type.
type ValType byte

const (
	I32 ValType = 0x7f
	I64 ValType = 0x7e
)

type funcType struct {
	params  []ValType
	results []ValType
}

func (t funcType) key() string {
	return fmt.Sprint(t.params, t.results)
}

type importFunc struct {
	module string
	name   string
	typ    uint32
}

type function struct {
	code   []byte
	locals []ValType
	typ    uint32
}

type export struct {
	name string
	kind byte
	idx  uint32
}

type segment struct {
	data   []byte
	offset uint32
}

// Module is a wasm module under construction. Imports must be added before
// the module's own functions.
type Module struct {
	typeIdx  map[string]uint32
	types    []funcType
	imports  []importFunc
	funcs    []function
	exports  []export
	data     []segment
	memPages uint32
	memory   bool
}

// New creates an empty module.
func New() *Module {
	return &Module{typeIdx: map[string]uint32{}}
}

func (m *Module) typeOf(params, results []ValType) uint32 {
	t := funcType{params: params, results: results}
	if idx, ok := m.typeIdx[t.key()]; ok {
		return idx
	}
	idx := uint32(len(m.types))
	m.types = append(m.types, t)
	m.typeIdx[t.key()] = idx
	return idx
}

// Import declares an imported function and returns its function index.
func (m *Module) Import(module, name string, params, results []ValType) uint32 {
	if len(m.funcs) > 0 {
		panic("wasmtest: imports must precede functions")
	}
	m.imports = append(m.imports, importFunc{module: module, name: name, typ: m.typeOf(params, results)})
	return uint32(len(m.imports) - 1)
}

// Func defines a function with the given extra locals and body, without the
// trailing end opcode, and returns its function index.
func (m *Module) Func(params, results, locals []ValType, body ...[]byte) uint32 {
	m.funcs = append(m.funcs, function{
		typ:    m.typeOf(params, results),
		locals: locals,
		code:   bytes.Join(body, nil),
	})
	return uint32(len(m.imports) + len(m.funcs) - 1)
}

// Export exports a function.
func (m *Module) Export(name string, fn uint32) {
	m.exports = append(m.exports, export{name: name, kind: 0x00, idx: fn})
}

// Memory declares memory 0 with a minimum size in pages and exports it as
// "memory".
func (m *Module) Memory(pages uint32) {
	m.memory = true
	m.memPages = pages
	m.exports = append(m.exports, export{name: "memory", kind: 0x02, idx: 0})
}

// Data places bytes in memory 0 at offset.
func (m *Module) Data(offset uint32, data []byte) {
	m.data = append(m.data, segment{offset: offset, data: data})
}

// Bytes encodes the module.
func (m *Module) Bytes() []byte {
	var out bytes.Buffer
	out.Write([]byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00})

	section(&out, 1, vec(len(m.types), func(b *bytes.Buffer, i int) {
		t := m.types[i]
		b.WriteByte(0x60)
		valTypes(b, t.params)
		valTypes(b, t.results)
	}))

	if len(m.imports) > 0 {
		section(&out, 2, vec(len(m.imports), func(b *bytes.Buffer, i int) {
			imp := m.imports[i]
			name(b, imp.module)
			name(b, imp.name)
			b.WriteByte(0x00)
			uleb(b, uint64(imp.typ))
		}))
	}

	if len(m.funcs) > 0 {
		section(&out, 3, vec(len(m.funcs), func(b *bytes.Buffer, i int) {
			uleb(b, uint64(m.funcs[i].typ))
		}))
	}

	if m.memory {
		section(&out, 5, vec(1, func(b *bytes.Buffer, _ int) {
			b.WriteByte(0x00)
			uleb(b, uint64(m.memPages))
		}))
	}

	if len(m.exports) > 0 {
		section(&out, 7, vec(len(m.exports), func(b *bytes.Buffer, i int) {
			e := m.exports[i]
			name(b, e.name)
			b.WriteByte(e.kind)
			uleb(b, uint64(e.idx))
		}))
	}

	if len(m.funcs) > 0 {
		section(&out, 10, vec(len(m.funcs), func(b *bytes.Buffer, i int) {
			f := m.funcs[i]
			var body bytes.Buffer
			uleb(&body, uint64(len(f.locals)))
			for _, l := range f.locals {
				body.WriteByte(0x01)
				body.WriteByte(byte(l))
			}
			body.Write(f.code)
			body.WriteByte(0x0b)
			uleb(b, uint64(body.Len()))
			b.Write(body.Bytes())
		}))
	}

	if len(m.data) > 0 {
		section(&out, 11, vec(len(m.data), func(b *bytes.Buffer, i int) {
			d := m.data[i]
			b.WriteByte(0x00)
			b.Write(I32Const(int32(d.offset)))
			b.WriteByte(0x0b)
			uleb(b, uint64(len(d.data)))
			b.Write(d.data)
		}))
	}

	return out.Bytes()
}

func section(out *bytes.Buffer, id byte, content []byte) {
	out.WriteByte(id)
	uleb(out, uint64(len(content)))
	out.Write(content)
}

func vec(n int, item func(*bytes.Buffer, int)) []byte {
	var b bytes.Buffer
	uleb(&b, uint64(n))
	for i := 0; i < n; i++ {
		item(&b, i)
	}
	return b.Bytes()
}

func valTypes(b *bytes.Buffer, ts []ValType) {
	uleb(b, uint64(len(ts)))
	for _, t := range ts {
		b.WriteByte(byte(t))
	}
}

func name(b *bytes.Buffer, s string) {
	uleb(b, uint64(len(s)))
	b.WriteString(s)
}

func uleb(b *bytes.Buffer, v uint64) {
	for {
		c := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			c |= 0x80
		}
		b.WriteByte(c)
		if v == 0 {
			return
		}
	}
}

func sleb(b *bytes.Buffer, v int64) {
	for {
		c := byte(v & 0x7f)
		v >>= 7
		done := (v == 0 && c&0x40 == 0) || (v == -1 && c&0x40 != 0)
		if !done {
			c |= 0x80
		}
		b.WriteByte(c)
		if done {
			return
		}
	}
}

// I32Const pushes v.
func I32Const(v int32) []byte {
	var b bytes.Buffer
	b.WriteByte(0x41)
	sleb(&b, int64(v))
	return b.Bytes()
}

// I64Const pushes v.
func I64Const(v int64) []byte {
	var b bytes.Buffer
	b.WriteByte(0x42)
	sleb(&b, v)
	return b.Bytes()
}

// Call calls function idx.
func Call(idx uint32) []byte {
	var b bytes.Buffer
	b.WriteByte(0x10)
	uleb(&b, uint64(idx))
	return b.Bytes()
}

// LocalGet pushes local idx.
func LocalGet(idx uint32) []byte {
	var b bytes.Buffer
	b.WriteByte(0x20)
	uleb(&b, uint64(idx))
	return b.Bytes()
}

// LocalSet pops into local idx.
func LocalSet(idx uint32) []byte {
	var b bytes.Buffer
	b.WriteByte(0x21)
	uleb(&b, uint64(idx))
	return b.Bytes()
}

// LoadI32At pushes the i32 stored at a constant address.
func LoadI32At(addr int32) []byte {
	return append(I32Const(addr), 0x28, 0x02, 0x00)
}

var (
	Drop        = []byte{0x1a}
	Unreachable = []byte{0x00}
)
