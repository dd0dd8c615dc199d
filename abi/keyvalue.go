package abi

import (
	"go.bytecodealliance.org/wit"
)

// KeyValue is the fermyon:spin/key-value interface.
type KeyValue struct {
	Interface
	Error *wit.TypeDef
}

// KeyValueModule is the import module name of the key-value interface.
const KeyValueModule = "fermyon:spin/key-value@2.0.0"

// SpinKeyValue declares fermyon:spin/key-value@2.0.0.
func SpinKeyValue() *KeyValue {
	store := resource("store")
	kv := &KeyValue{
		Error: variant("error",
			wit.Case{Name: "store-table-full"},
			wit.Case{Name: "no-such-store"},
			wit.Case{Name: "access-denied"},
			wit.Case{Name: "other", Type: wit.String{}},
		),
	}
	bytes := list(wit.U8{})
	key := param("key", wit.String{})

	kv.Interface = Interface{
		Module: KeyValueModule,
		Functions: []*wit.Function{
			staticOf(store, "open", params(param("label", wit.String{})), result(own(store), kv.Error)),
			methodOf(store, "get", params(key), result(option(bytes), kv.Error)),
			methodOf(store, "set", params(key, param("value", bytes)), result(nil, kv.Error)),
			methodOf(store, "delete", params(key), result(nil, kv.Error)),
			methodOf(store, "exists", params(key), result(wit.Bool{}, kv.Error)),
			methodOf(store, "get-keys", nil, result(list(wit.String{}), kv.Error)),
			store.ResourceDrop(),
		},
	}
	return kv
}
