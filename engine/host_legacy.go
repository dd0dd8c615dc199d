package engine

import (
	"context"
	"errors"

	"github.com/tetratelabs/wazero/api"
	"go.bytecodealliance.org/wit"

	"github.com/wippyai/wasm-http-trigger/abi"
	"github.com/wippyai/wasm-http-trigger/wasihttp"
)

// Bindings for wasi:http 0.2.0-rc-2023-10-18. Operations without an error
// channel trap on failure.

func legacyTypesBindings() map[string]binding {
	return map[string]binding{
		"[constructor]fields":    legacyNewFields,
		"[method]fields.append":  legacyFieldsAppend,
		"[method]fields.entries": fieldsEntries,
		"[resource-drop]fields":  dropResource,

		"[method]incoming-request.method":          requestMethod,
		"[method]incoming-request.path-with-query": requestPathWithQuery,
		"[method]incoming-request.scheme":          requestScheme,
		"[method]incoming-request.authority":       requestAuthority,
		"[method]incoming-request.headers":         requestHeaders,
		"[method]incoming-request.consume":         requestConsume,
		"[resource-drop]incoming-request":          dropResource,

		"[method]incoming-body.stream": incomingBodyStream,
		"[resource-drop]incoming-body": dropResource,

		"[constructor]outgoing-response":   legacyNewOutgoingResponse,
		"[method]outgoing-response.write":  outgoingResponseBody,
		"[resource-drop]outgoing-response": dropResource,

		"[method]outgoing-body.write":  outgoingBodyWrite,
		"[static]outgoing-body.finish": legacyFinishOutgoingBody,
		"[resource-drop]outgoing-body": dropResource,

		"[static]response-outparam.set":    legacySetResponseOutparam,
		"[resource-drop]response-outparam": dropResource,
	}
}

// legacyNewFields builds fields from a list<tuple<string, list<u8>>>.
func legacyNewFields(f *wit.Function) hostFn {
	entry := abi.Elem(f.Params[0].Type)
	size := abi.Size(entry)
	name, value := abi.Offset(entry, 0), abi.Offset(entry, 1)

	return func(_ context.Context, c call, stack []uint64) {
		view := c.http()
		h := must(view.NewFields())
		base, n := api.DecodeU32(stack[0]), api.DecodeU32(stack[1])
		for i := uint32(0); i < n; i++ {
			off := base + size*i
			k := c.mem.readString(c.mem.load32(off+name), c.mem.load32(off+name+4))
			v := c.mem.read(c.mem.load32(off+value), c.mem.load32(off+value+4))
			if err := view.FieldsAppend(h, k, v); err != nil {
				panic(err)
			}
		}
		stack[0] = api.EncodeU32(h)
	}
}

func legacyFieldsAppend(*wit.Function) hostFn {
	return func(_ context.Context, c call, stack []uint64) {
		name := c.mem.readString(api.DecodeU32(stack[1]), api.DecodeU32(stack[2]))
		value := c.mem.read(api.DecodeU32(stack[3]), api.DecodeU32(stack[4]))
		if err := c.http().FieldsAppend(api.DecodeU32(stack[0]), name, value); err != nil {
			panic(err)
		}
	}
}

// legacyNewOutgoingResponse takes the status up front and borrows the
// headers.
func legacyNewOutgoingResponse(*wit.Function) hostFn {
	return func(_ context.Context, c call, stack []uint64) {
		status := int(api.DecodeU32(stack[0]))
		stack[0] = api.EncodeU32(must(c.http().NewOutgoingResponseFrom(api.DecodeU32(stack[1]), status)))
	}
}

func legacyFinishOutgoingBody(*wit.Function) hostFn {
	return func(_ context.Context, c call, stack []uint64) {
		view := c.http()
		if stack[1] != 0 {
			view.Drop(api.DecodeU32(stack[2]))
		}
		if err := view.FinishOutgoingBody(api.DecodeU32(stack[0])); err != nil {
			panic(err)
		}
	}
}

// legacySetResponseOutparam takes result<outgoing-response, error> where
// every error case carries a message: (tag, handle|case, ptr, len).
func legacySetResponseOutparam(f *wit.Function) hostFn {
	code := abi.Err(f.Params[1].Type).(*wit.TypeDef)

	return func(_ context.Context, c call, stack []uint64) {
		view := c.http()
		outparam := api.DecodeU32(stack[0])
		if stack[1] == 0 {
			if err := view.SetResponseOutparam(outparam, api.DecodeU32(stack[2])); err != nil {
				panic(err)
			}
			return
		}

		tag := api.DecodeU32(stack[2])
		var message string
		if abi.CaseType(code, uint8(tag)) != nil {
			message = c.mem.readString(api.DecodeU32(stack[3]), api.DecodeU32(stack[4]))
		}
		if err := view.SetResponseOutparamError(outparam, errorCodeName(code, tag), message); err != nil {
			panic(err)
		}
	}
}

func legacyStreamsBindings() map[string]binding {
	return map[string]binding{
		"[method]input-stream.read":          legacyStreamRead,
		"[method]input-stream.blocking-read": legacyStreamRead,
		"[resource-drop]input-stream":        dropResource,

		"[method]output-stream.check-write":              streamCheckWrite,
		"[method]output-stream.write":                    streamWrite,
		"[method]output-stream.blocking-write-and-flush": streamWrite,
		"[method]output-stream.flush":                    streamFlush,
		"[method]output-stream.blocking-flush":           streamFlush,
		"[resource-drop]output-stream":                   dropResource,
	}
}

// legacyStreamRead reports end of body as an empty chunk with status ended
// rather than an error.
func legacyStreamRead(f *wit.Function) hostFn {
	res := abi.ResultType(f)
	at := abi.Payload(res)
	chunk := abi.OK(res)
	data, status := at+abi.Offset(chunk, 0), at+abi.Offset(chunk, 1)
	statusType := abi.FieldType(chunk, 1)
	open, ended := abi.Case(statusType, "open"), abi.Case(statusType, "ended")

	return func(ctx context.Context, c call, stack []uint64) {
		ret := api.DecodeU32(stack[2])
		b, err := c.http().InputStreamRead(api.DecodeU32(stack[0]), stack[1])

		var se *wasihttp.StreamError
		tag := open
		switch {
		case err == nil:
		case errors.As(err, &se) && se.Closed:
			b, tag = nil, ended
		default:
			c.mem.u8(ret, 1)
			return
		}
		ptr, n := c.mem.lower(ctx, b)
		c.mem.u8(ret, 0)
		c.mem.u32(ret+data, ptr)
		c.mem.u32(ret+data+4, n)
		c.mem.u8(ret+status, tag)
	}
}
