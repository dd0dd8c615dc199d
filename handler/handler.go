// Package handler selects and calls the guest's incoming-handler entrypoint.
//
// Guests export exactly one of several wire-compatible versions of
// wasi:http/incoming-handler. The versions share a call shape and differ only
// in namespace, so the version is a closed tag resolved once at startup and
// dispatch is a plain switch over it.
package handler

import (
	"context"
	"fmt"
	"strings"

	"go.bytecodealliance.org/wit"

	"github.com/wippyai/wasm-http-trigger/engine"
)

// Type identifies a handler interface version.
type Type int

const (
	Latest Type = iota
	V2023_11_10
	V2023_10_18
)

const handleFunc = "handle"

// Interface names per handler version.
const (
	LatestInterface      = "wasi:http/incoming-handler@0.2.0"
	V2023_11_10Interface = "wasi:http/incoming-handler@0.2.0-rc-2023-11-10"
	V2023_10_18Interface = "wasi:http/incoming-handler@0.2.0-rc-2023-10-18"
)

// Types lists every handler type, newest first.
var Types = []Type{Latest, V2023_11_10, V2023_10_18}

// String returns the tag used on the command line.
func (t Type) String() string {
	switch t {
	case Latest:
		return "latest"
	case V2023_11_10:
		return "2023-11-10"
	case V2023_10_18:
		return "2023-10-18"
	default:
		return fmt.Sprintf("handler.Type(%d)", int(t))
	}
}

// Interface returns the fully qualified interface name.
func (t Type) Interface() string {
	switch t {
	case Latest:
		return LatestInterface
	case V2023_11_10:
		return V2023_11_10Interface
	case V2023_10_18:
		return V2023_10_18Interface
	default:
		panic(fmt.Sprintf("unknown handler type %d", int(t)))
	}
}

// Entrypoint returns the core export name of the handle function.
func (t Type) Entrypoint() string {
	return t.Interface() + "#" + handleFunc
}

// ParseType parses a command-line tag.
func ParseType(s string) (Type, error) {
	for _, t := range Types {
		if t.String() == s {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown handler type %q (want latest, 2023-11-10 or 2023-10-18)", s)
}

// FromExports resolves the handler type from a guest's export names. The
// guest must export exactly one supported version.
func FromExports(exports []string) (Type, error) {
	var found []Type
	for _, name := range exports {
		iface, fn, ok := strings.Cut(name, "#")
		if !ok || fn != handleFunc {
			continue
		}
		t, ok := typeOf(iface)
		if ok {
			found = append(found, t)
		}
	}

	switch len(found) {
	case 0:
		return 0, fmt.Errorf("component does not export any supported wasi:http/incoming-handler version")
	case 1:
		return found[0], nil
	default:
		return 0, fmt.Errorf("component exports multiple wasi:http/incoming-handler versions (%s, %s)",
			found[0], found[1])
	}
}

func typeOf(iface string) (Type, bool) {
	id, err := wit.ParseIdent(iface)
	if err != nil || id.Namespace != "wasi" || id.Package != "http" || id.Extension != "incoming-handler" {
		return 0, false
	}
	if id.Version == nil {
		return 0, false
	}
	for _, t := range Types {
		if "wasi:http/incoming-handler@"+id.Version.String() == t.Interface() {
			return t, true
		}
	}
	return 0, false
}

// Proxy is a loaded incoming-handler entrypoint.
type Proxy struct {
	fn  engine.Function
	typ Type
}

// Load resolves the entrypoint for t. Each tag only ever looks up its own
// export. An unknown tag is a programming error and panics.
func (t Type) Load(exports engine.Exports) (*Proxy, error) {
	var fn engine.Function
	switch t {
	case Latest:
		fn = exports.ExportedFunction(LatestInterface + "#" + handleFunc)
	case V2023_11_10:
		fn = exports.ExportedFunction(V2023_11_10Interface + "#" + handleFunc)
	case V2023_10_18:
		fn = exports.ExportedFunction(V2023_10_18Interface + "#" + handleFunc)
	default:
		panic(fmt.Sprintf("unknown handler type %d", int(t)))
	}
	if fn == nil {
		return nil, fmt.Errorf("component does not export %s", t.Entrypoint())
	}
	return &Proxy{fn: fn, typ: t}, nil
}

// Type returns the version this proxy calls.
func (p *Proxy) Type() Type { return p.typ }

// CallHandle invokes the guest's handle(request, response-outparam).
func (p *Proxy) CallHandle(ctx context.Context, store *engine.Store, request, outparam uint32) error {
	if _, err := store.Call(ctx, p.fn, uint64(request), uint64(outparam)); err != nil {
		return fmt.Errorf("%s: %w", p.typ.Entrypoint(), err)
	}
	return nil
}
