// Package abi declares the WIT interfaces the host implements and derives
// their core wasm signatures and linear-memory layouts from the canonical ABI.
//
// Declarations are built from go.bytecodealliance.org/wit types, so the
// flattening of every parameter and the placement of every returned value
// follow the same rules the guest's bindings were generated with:
//
//	Signature(f)  - core params/results of an imported function
//	Payload(t)    - offset of a variant, option or result payload
//	Offset(t, i)  - offset of field i of a record or tuple
//	Case(t, name) - discriminant of a named case
package abi

import (
	"go.bytecodealliance.org/wit"
)

func resource(name string) *wit.TypeDef {
	return &wit.TypeDef{Name: &name, Kind: &wit.Resource{}}
}

func own(r *wit.TypeDef) wit.Type {
	return &wit.TypeDef{Kind: &wit.Own{Type: r}}
}

func borrow(r *wit.TypeDef) wit.Type {
	return &wit.TypeDef{Kind: &wit.Borrow{Type: r}}
}

func list(t wit.Type) wit.Type {
	return &wit.TypeDef{Kind: &wit.List{Type: t}}
}

func option(t wit.Type) wit.Type {
	return &wit.TypeDef{Kind: &wit.Option{Type: t}}
}

// result builds result<ok, err>; nil stands for "_".
func result(ok, err wit.Type) wit.Type {
	return &wit.TypeDef{Kind: &wit.Result{OK: ok, Err: err}}
}

func tuple(types ...wit.Type) wit.Type {
	return &wit.TypeDef{Kind: &wit.Tuple{Types: types}}
}

func record(name string, fields ...wit.Field) *wit.TypeDef {
	return &wit.TypeDef{Name: &name, Kind: &wit.Record{Fields: fields}}
}

func variant(name string, cases ...wit.Case) *wit.TypeDef {
	return &wit.TypeDef{Name: &name, Kind: &wit.Variant{Cases: cases}}
}

func enum(name string, cases ...string) *wit.TypeDef {
	e := &wit.Enum{}
	for _, c := range cases {
		e.Cases = append(e.Cases, wit.EnumCase{Name: c})
	}
	return &wit.TypeDef{Name: &name, Kind: e}
}

func param(name string, t wit.Type) wit.Param {
	return wit.Param{Name: name, Type: t}
}

func results(types []wit.Type) []wit.Param {
	out := make([]wit.Param, len(types))
	for i, t := range types {
		out[i] = wit.Param{Type: t}
	}
	return out
}

func constructorOf(r *wit.TypeDef, params ...wit.Param) *wit.Function {
	return &wit.Function{
		Name:    "[constructor]" + r.TypeName(),
		Kind:    &wit.Constructor{Type: r},
		Params:  params,
		Results: []wit.Param{{Type: own(r)}},
	}
}

func methodOf(r *wit.TypeDef, name string, params []wit.Param, res ...wit.Type) *wit.Function {
	return &wit.Function{
		Name:    "[method]" + r.TypeName() + "." + name,
		Kind:    &wit.Method{Type: r},
		Params:  append([]wit.Param{param("self", borrow(r))}, params...),
		Results: results(res),
	}
}

func staticOf(r *wit.TypeDef, name string, params []wit.Param, res ...wit.Type) *wit.Function {
	return &wit.Function{
		Name:    "[static]" + r.TypeName() + "." + name,
		Kind:    &wit.Static{Type: r},
		Params:  params,
		Results: results(res),
	}
}

func params(ps ...wit.Param) []wit.Param { return ps }

// Interface is an imported WIT interface as a core module sees it: the
// import module name and the functions it provides.
type Interface struct {
	Module    string
	Functions []*wit.Function
}

// Function returns the named function, or nil.
func (i Interface) Function(name string) *wit.Function {
	for _, f := range i.Functions {
		if f.Name == name {
			return f
		}
	}
	return nil
}
