// Package engine is the WebAssembly execution boundary of the trigger.
//
// It wraps wazero to compile guest binaries once and instantiate them fresh
// for every request. Each instantiation yields an Instance, which exposes the
// guest's exported functions, and a Store, the instance's private state:
//
//	Engine    - wazero runtime plus the shared host modules
//	Component - a compiled guest, reusable across requests
//	Instance  - one running guest; only its exports are reachable
//	Store     - wasi:http view, key-value handles, memory accounting and
//	            guest CPU time
//
// # Host Modules
//
// The engine registers wasi:http/types and wasi:io/streams for every supported
// release, wasi:io/error where the release has it, and fermyon:spin/key-value.
// Each function is exported with the core signature its WIT declaration in
// package abi flattens to, and return areas are laid out from the same
// declarations. 0.2.0 and 0.2.0-rc-2023-11-10 share one set of bindings;
// 0.2.0-rc-2023-10-18 has its own for the older error variant and stream
// status tuples. Host functions locate the calling store through the context
// passed to Store.Call.
//
// # Memory
//
// Linear memory is allocated through a tracking allocator. The store records
// how many bytes the instance holds, and a configured ceiling refuses growth
// past the limit. Instantiation fails if the initial memory already exceeds it.
//
// # Thread Safety
//
// Engine and Component are safe for concurrent use. An Instance and its Store
// belong to a single invocation.
package engine
