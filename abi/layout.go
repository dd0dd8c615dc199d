package abi

import (
	"fmt"

	"github.com/tetratelabs/wazero/api"
	"go.bytecodealliance.org/wit"
)

// Signature returns the core wasm params and results of f when imported by
// a guest. Results that do not fit a single core value are returned through
// a trailing pointer param.
func Signature(f *wit.Function) (params, results []api.ValueType) {
	core := f.CoreFunction(wit.Imported)
	for _, p := range core.Params {
		params = append(params, valueType(p.Type))
	}
	for _, r := range core.Results {
		results = append(results, valueType(r.Type))
	}
	return params, results
}

// valueType maps a flattened type to its core value type. Flattening only
// yields 32 and 64 bit integers, floats and pointers.
func valueType(t wit.Type) api.ValueType {
	switch t.(type) {
	case wit.U64, wit.S64:
		return api.ValueTypeI64
	case wit.F32:
		return api.ValueTypeF32
	case wit.F64:
		return api.ValueTypeF64
	default:
		return api.ValueTypeI32
	}
}

// ResultType returns the single result type of f, or nil.
func ResultType(f *wit.Function) wit.Type {
	if len(f.Results) != 1 {
		return nil
	}
	return f.Results[0].Type
}

func kindOf(t wit.Type) wit.TypeDefKind {
	td, ok := t.(*wit.TypeDef)
	if !ok {
		panic(fmt.Sprintf("abi: %T is not a type definition", t))
	}
	return wit.Despecialize(td.Root().Kind)
}

func variantOf(t wit.Type) *wit.Variant {
	v, ok := kindOf(t).(*wit.Variant)
	if !ok {
		panic(fmt.Sprintf("abi: %s is not a variant", describe(t)))
	}
	return v
}

// Payload returns the offset of the payload of a variant, option or result
// stored in linear memory. The discriminant sits at offset 0.
func Payload(t wit.Type) uint32 {
	v := variantOf(t)
	return uint32(wit.Align(wit.Discriminant(len(v.Cases)).Size(), v.Align()))
}

// Offset returns the offset of field i of a record or tuple.
func Offset(t wit.Type, i int) uint32 {
	r, ok := kindOf(t).(*wit.Record)
	if !ok || i >= len(r.Fields) {
		panic(fmt.Sprintf("abi: no field %d in %s", i, describe(t)))
	}
	var off uintptr
	for j, f := range r.Fields {
		off = wit.Align(off, f.Type.Align())
		if j == i {
			break
		}
		off += f.Type.Size()
	}
	return uint32(off)
}

// FieldType returns the type of field i of a record or tuple.
func FieldType(t wit.Type, i int) wit.Type {
	r, ok := kindOf(t).(*wit.Record)
	if !ok || i >= len(r.Fields) {
		panic(fmt.Sprintf("abi: no field %d in %s", i, describe(t)))
	}
	return r.Fields[i].Type
}

// Size returns the size of t in linear memory.
func Size(t wit.Type) uint32 {
	return uint32(t.Size())
}

// Elem returns the element type of a list.
func Elem(t wit.Type) wit.Type {
	l, ok := kindOf(t).(*wit.List)
	if !ok {
		panic(fmt.Sprintf("abi: %s is not a list", describe(t)))
	}
	return l.Type
}

// OK returns the ok type of a result, nil for "_".
func OK(t wit.Type) wit.Type {
	return variantOf(t).Cases[0].Type
}

// Err returns the error type of a result, nil for "_".
func Err(t wit.Type) wit.Type {
	return variantOf(t).Cases[1].Type
}

// Case returns the discriminant of the named case of a variant or enum. An
// unknown name is a declaration bug and panics.
func Case(t wit.Type, name string) uint8 {
	i, ok := CaseIndex(t, name)
	if !ok {
		panic(fmt.Sprintf("abi: no case %q in %s", name, describe(t)))
	}
	return i
}

// CaseIndex looks up the discriminant of the named case.
func CaseIndex(t wit.Type, name string) (uint8, bool) {
	for i, c := range variantOf(t).Cases {
		if c.Name == name {
			return uint8(i), true
		}
	}
	return 0, false
}

// CaseName returns the name of case i, or "" when i is out of range.
func CaseName(t wit.Type, i uint32) string {
	cases := variantOf(t).Cases
	if int(i) >= len(cases) {
		return ""
	}
	return cases[i].Name
}

// CaseType returns the payload type of case i, nil when it has none.
func CaseType(t wit.Type, i uint8) wit.Type {
	cases := variantOf(t).Cases
	if int(i) >= len(cases) {
		return nil
	}
	return cases[i].Type
}

func describe(t wit.Type) string {
	if name := t.TypeName(); name != "" {
		return name
	}
	if td, ok := t.(*wit.TypeDef); ok {
		return fmt.Sprintf("%T", td.Kind)
	}
	return fmt.Sprintf("%T", t)
}
