package engine

import (
	"context"
	"errors"
	"strings"

	"github.com/tetratelabs/wazero/api"
	"go.bytecodealliance.org/wit"

	"github.com/wippyai/wasm-http-trigger/abi"
	"github.com/wippyai/wasm-http-trigger/wasihttp"
)

// checkWriteBudget is what output-stream.check-write reports. Body pipes
// never apply backpressure.
const checkWriteBudget = 1 << 20

// Bindings shared by every release.
var (
	requestPathWithQuery = optionString((*wasihttp.View).IncomingRequestPathWithQuery)
	requestAuthority     = optionString((*wasihttp.View).IncomingRequestAuthority)
	requestConsume       = handleResult((*wasihttp.View).IncomingRequestConsume)
	incomingBodyStream   = handleResult((*wasihttp.View).IncomingBodyStream)
	outgoingResponseBody = handleResult((*wasihttp.View).OutgoingResponseBody)
	outgoingBodyWrite    = handleResult((*wasihttp.View).OutgoingBodyWrite)
)

func typesBindings() map[string]binding {
	return map[string]binding{
		"[constructor]fields":    newFields,
		"[method]fields.append":  fieldsAppend,
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

		"[constructor]outgoing-response":            newOutgoingResponse,
		"[method]outgoing-response.set-status-code": setStatusCode,
		"[method]outgoing-response.body":            outgoingResponseBody,
		"[resource-drop]outgoing-response":          dropResource,

		"[method]outgoing-body.write":  outgoingBodyWrite,
		"[static]outgoing-body.finish": finishOutgoingBody,
		"[resource-drop]outgoing-body": dropResource,

		"[static]response-outparam.set":    setResponseOutparam,
		"[resource-drop]response-outparam": dropResource,
	}
}

// handleResult binds a method returning result<own<T>>.
func handleResult(get func(*wasihttp.View, uint32) (uint32, error)) binding {
	return func(f *wit.Function) hostFn {
		at := abi.Payload(abi.ResultType(f))
		return func(_ context.Context, c call, stack []uint64) {
			h, err := get(c.http(), api.DecodeU32(stack[0]))
			c.mem.writeHandleResult(api.DecodeU32(stack[1]), at, h, err)
		}
	}
}

// optionString binds a method returning option<string>.
func optionString(get func(*wasihttp.View, uint32) (string, bool, error)) binding {
	return func(f *wit.Function) hostFn {
		at := abi.Payload(abi.ResultType(f))
		return func(ctx context.Context, c call, stack []uint64) {
			s, ok, err := get(c.http(), api.DecodeU32(stack[0]))
			if err != nil {
				panic(err)
			}
			c.mem.writeOptionString(ctx, api.DecodeU32(stack[1]), at, s, ok)
		}
	}
}

func newFields(*wit.Function) hostFn {
	return func(_ context.Context, c call, stack []uint64) {
		stack[0] = api.EncodeU32(must(c.http().NewFields()))
	}
}

func fieldsAppend(f *wit.Function) hostFn {
	res := abi.ResultType(f)
	at := abi.Payload(res)
	headerError := abi.Err(res)
	invalidSyntax := abi.Case(headerError, "invalid-syntax")
	immutable := abi.Case(headerError, "immutable")

	return func(_ context.Context, c call, stack []uint64) {
		self := api.DecodeU32(stack[0])
		name := c.mem.readString(api.DecodeU32(stack[1]), api.DecodeU32(stack[2]))
		value := c.mem.read(api.DecodeU32(stack[3]), api.DecodeU32(stack[4]))
		ret := api.DecodeU32(stack[5])

		err := c.http().FieldsAppend(self, name, value)
		switch {
		case err == nil:
			c.mem.u8(ret, 0)
		case errors.Is(err, wasihttp.ErrImmutableFields):
			c.mem.u8(ret, 1)
			c.mem.u8(ret+at, immutable)
		case errors.Is(err, wasihttp.ErrInvalidField):
			c.mem.u8(ret, 1)
			c.mem.u8(ret+at, invalidSyntax)
		default:
			panic(err)
		}
	}
}

func fieldsEntries(f *wit.Function) hostFn {
	entry := abi.Elem(abi.ResultType(f))
	size := abi.Size(entry)
	align := uint32(entry.Align())
	name, value := abi.Offset(entry, 0), abi.Offset(entry, 1)

	return func(ctx context.Context, c call, stack []uint64) {
		entries, err := c.http().FieldsEntries(api.DecodeU32(stack[0]))
		if err != nil {
			panic(err)
		}
		ret := api.DecodeU32(stack[1])

		base := c.mem.alloc(ctx, align, size*uint32(len(entries)))
		for i, e := range entries {
			off := base + size*uint32(i)
			c.mem.writeString(ctx, off+name, e.Name)
			ptr, n := c.mem.lower(ctx, e.Value)
			c.mem.u32(off+value, ptr)
			c.mem.u32(off+value+4, n)
		}
		c.mem.u32(ret, base)
		c.mem.u32(ret+4, uint32(len(entries)))
	}
}

func requestMethod(f *wit.Function) hostFn {
	method := abi.ResultType(f)
	at := abi.Payload(method)
	other := abi.Case(method, "other")

	return func(ctx context.Context, c call, stack []uint64) {
		m, err := c.http().IncomingRequestMethod(api.DecodeU32(stack[0]))
		if err != nil {
			panic(err)
		}
		ret := api.DecodeU32(stack[1])
		if m == strings.ToUpper(m) {
			if tag, ok := abi.CaseIndex(method, strings.ToLower(m)); ok && abi.CaseType(method, tag) == nil {
				c.mem.u8(ret, tag)
				return
			}
		}
		c.mem.u8(ret, other)
		c.mem.writeString(ctx, ret+at, m)
	}
}

func requestScheme(f *wit.Function) hostFn {
	opt := abi.ResultType(f)
	at := abi.Payload(opt)
	scheme := abi.CaseType(opt, 1)
	schemeAt := at + abi.Payload(scheme)
	other := abi.Case(scheme, "other")

	return func(ctx context.Context, c call, stack []uint64) {
		s, err := c.http().IncomingRequestScheme(api.DecodeU32(stack[0]))
		if err != nil {
			panic(err)
		}
		ret := api.DecodeU32(stack[1])
		c.mem.u8(ret, 1)
		if tag, ok := abi.CaseIndex(scheme, strings.ToUpper(s)); ok && abi.CaseType(scheme, tag) == nil {
			c.mem.u8(ret+at, tag)
			return
		}
		c.mem.u8(ret+at, other)
		c.mem.writeString(ctx, ret+schemeAt, s)
	}
}

func requestHeaders(*wit.Function) hostFn {
	return func(_ context.Context, c call, stack []uint64) {
		stack[0] = api.EncodeU32(must(c.http().IncomingRequestHeaders(api.DecodeU32(stack[0]))))
	}
}

func newOutgoingResponse(*wit.Function) hostFn {
	return func(_ context.Context, c call, stack []uint64) {
		stack[0] = api.EncodeU32(must(c.http().NewOutgoingResponse(api.DecodeU32(stack[0]))))
	}
}

func setStatusCode(*wit.Function) hostFn {
	return func(_ context.Context, c call, stack []uint64) {
		err := c.http().OutgoingResponseSetStatusCode(api.DecodeU32(stack[0]), int(api.DecodeU32(stack[1])))
		if err != nil {
			stack[0] = 1
			return
		}
		stack[0] = 0
	}
}

func finishOutgoingBody(f *wit.Function) hostFn {
	res := abi.ResultType(f)
	at := abi.Payload(res)
	code := abi.Err(res)
	internal := abi.Case(code, "internal-error")
	message := at + abi.Payload(code)

	return func(_ context.Context, c call, stack []uint64) {
		view := c.http()
		if stack[1] != 0 {
			view.Drop(api.DecodeU32(stack[2]))
		}
		ret := api.DecodeU32(stack[3])
		if err := view.FinishOutgoingBody(api.DecodeU32(stack[0])); err != nil {
			c.mem.u8(ret, 1)
			c.mem.u8(ret+at, internal)
			c.mem.u8(ret+message, 0)
			return
		}
		c.mem.u8(ret, 0)
	}
}

// setResponseOutparam takes the flattened result<outgoing-response,
// error-code>: the result tag, then the joined payload slots.
func setResponseOutparam(f *wit.Function) hostFn {
	code := abi.Err(f.Params[1].Type).(*wit.TypeDef)
	internal := uint32(abi.Case(code, "internal-error"))

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
		// internal-error(option<string>) occupies (is-some, ptr, len)
		if tag == internal && api.DecodeU32(stack[3]) != 0 {
			message = c.mem.readString(uint32(stack[4]), api.DecodeU32(stack[5]))
		}
		if err := view.SetResponseOutparamError(outparam, errorCodeName(code, tag), message); err != nil {
			panic(err)
		}
	}
}

func streamsBindings() map[string]binding {
	return map[string]binding{
		"[method]input-stream.read":          streamRead,
		"[method]input-stream.blocking-read": streamRead,
		"[resource-drop]input-stream":        dropResource,

		"[method]output-stream.check-write":              streamCheckWrite,
		"[method]output-stream.write":                    streamWrite,
		"[method]output-stream.blocking-write-and-flush": streamWrite,
		"[method]output-stream.flush":                    streamFlush,
		"[method]output-stream.blocking-flush":           streamFlush,
		"[resource-drop]output-stream":                   dropResource,
	}
}

// writeStreamError stores a stream-error, or the older write-error enum,
// at off.
func writeStreamError(c call, t wit.Type, off uint32, err error) {
	var se *wasihttp.StreamError
	if errors.As(err, &se) && se.Closed {
		c.mem.u8(off, abi.Case(t, "closed"))
		return
	}
	failed := abi.Case(t, "last-operation-failed")
	c.mem.u8(off, failed)
	if abi.CaseType(t, failed) != nil {
		c.mem.u32(off+abi.Payload(t), must(c.http().NewIOError(err)))
	}
}

func streamRead(f *wit.Function) hostFn {
	res := abi.ResultType(f)
	at := abi.Payload(res)
	streamError := abi.Err(res)

	return func(ctx context.Context, c call, stack []uint64) {
		ret := api.DecodeU32(stack[2])
		data, err := c.http().InputStreamRead(api.DecodeU32(stack[0]), stack[1])
		if err != nil {
			c.mem.u8(ret, 1)
			writeStreamError(c, streamError, ret+at, err)
			return
		}
		ptr, n := c.mem.lower(ctx, data)
		c.mem.u8(ret, 0)
		c.mem.u32(ret+at, ptr)
		c.mem.u32(ret+at+4, n)
	}
}

func streamCheckWrite(f *wit.Function) hostFn {
	at := abi.Payload(abi.ResultType(f))
	return func(_ context.Context, c call, stack []uint64) {
		ret := api.DecodeU32(stack[1])
		c.mem.u8(ret, 0)
		c.mem.u64(ret+at, checkWriteBudget)
	}
}

func streamWrite(f *wit.Function) hostFn {
	res := abi.ResultType(f)
	at := abi.Payload(res)
	writeError := abi.Err(res)

	return func(_ context.Context, c call, stack []uint64) {
		data := c.mem.read(api.DecodeU32(stack[1]), api.DecodeU32(stack[2]))
		ret := api.DecodeU32(stack[3])
		if err := c.http().OutputStreamWrite(api.DecodeU32(stack[0]), data); err != nil {
			c.mem.u8(ret, 1)
			writeStreamError(c, writeError, ret+at, err)
			return
		}
		c.mem.u8(ret, 0)
	}
}

func streamFlush(*wit.Function) hostFn {
	return func(_ context.Context, c call, stack []uint64) {
		c.mem.u8(api.DecodeU32(stack[1]), 0)
	}
}

func errorBindings() map[string]binding {
	return map[string]binding{
		"[method]error.to-debug-string": ioErrorDebugString,
		"[resource-drop]error":          dropResource,
	}
}

func ioErrorDebugString(*wit.Function) hostFn {
	return func(ctx context.Context, c call, stack []uint64) {
		msg, err := c.http().IOErrorDebugString(api.DecodeU32(stack[0]))
		if err != nil {
			panic(err)
		}
		c.mem.writeString(ctx, api.DecodeU32(stack[1]), msg)
	}
}
