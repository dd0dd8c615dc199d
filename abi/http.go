package abi

import (
	"go.bytecodealliance.org/wit"
)

// HTTP is the wasi:http surface of one release: the functions of
// wasi:http/types and the wasi:io interfaces it depends on, plus the named
// types the host needs to encode values.
type HTTP struct {
	Version string

	Types   Interface
	Streams Interface
	// Error is empty for releases without wasi:io/error.
	Error Interface

	Method *wit.TypeDef
	Scheme *wit.TypeDef
	// ErrorCode is error-code, or the older error variant.
	ErrorCode *wit.TypeDef
}

// Interfaces returns the non-empty interfaces of the release.
func (h *HTTP) Interfaces() []Interface {
	out := []Interface{h.Types, h.Streams}
	if h.Error.Module != "" {
		out = append(out, h.Error)
	}
	return out
}

// Legacy reports whether the release predates wasi:io/error.
func (h *HTTP) Legacy() bool {
	return h.Error.Module == ""
}

// Release versions of wasi:http.
const (
	Version020        = "0.2.0"
	VersionRC20231110 = "0.2.0-rc-2023-11-10"
	VersionRC20231018 = "0.2.0-rc-2023-10-18"
)

// Releases returns the declarations of every supported release, newest
// first. 0.2.0-rc-2023-11-10 shares the 0.2.0 shapes.
func Releases() []*HTTP {
	return []*HTTP{
		preview2(Version020),
		preview2(VersionRC20231110),
		rc20231018(),
	}
}

// Release returns the declarations of one release, or nil.
func Release(version string) *HTTP {
	for _, h := range Releases() {
		if h.Version == version {
			return h
		}
	}
	return nil
}

func methodType() *wit.TypeDef {
	return variant("method",
		wit.Case{Name: "get"},
		wit.Case{Name: "head"},
		wit.Case{Name: "post"},
		wit.Case{Name: "put"},
		wit.Case{Name: "delete"},
		wit.Case{Name: "connect"},
		wit.Case{Name: "options"},
		wit.Case{Name: "trace"},
		wit.Case{Name: "patch"},
		wit.Case{Name: "other", Type: wit.String{}},
	)
}

func schemeType() *wit.TypeDef {
	return variant("scheme",
		wit.Case{Name: "HTTP"},
		wit.Case{Name: "HTTPS"},
		wit.Case{Name: "other", Type: wit.String{}},
	)
}

func errorCodeType() *wit.TypeDef {
	dnsError := record("DNS-error-payload",
		wit.Field{Name: "rcode", Type: option(wit.String{})},
		wit.Field{Name: "info-code", Type: option(wit.U16{})},
	)
	tlsAlert := record("TLS-alert-received-payload",
		wit.Field{Name: "alert-id", Type: option(wit.U8{})},
		wit.Field{Name: "alert-message", Type: option(wit.String{})},
	)
	fieldSize := record("field-size-payload",
		wit.Field{Name: "field-name", Type: option(wit.String{})},
		wit.Field{Name: "field-size", Type: option(wit.U32{})},
	)
	optU32 := option(wit.U32{})
	optU64 := option(wit.U64{})
	optString := option(wit.String{})

	return variant("error-code",
		wit.Case{Name: "DNS-timeout"},
		wit.Case{Name: "DNS-error", Type: dnsError},
		wit.Case{Name: "destination-not-found"},
		wit.Case{Name: "destination-unavailable"},
		wit.Case{Name: "destination-IP-prohibited"},
		wit.Case{Name: "destination-IP-unroutable"},
		wit.Case{Name: "connection-refused"},
		wit.Case{Name: "connection-terminated"},
		wit.Case{Name: "connection-timeout"},
		wit.Case{Name: "connection-read-timeout"},
		wit.Case{Name: "connection-write-timeout"},
		wit.Case{Name: "connection-limit-reached"},
		wit.Case{Name: "TLS-protocol-error"},
		wit.Case{Name: "TLS-certificate-error"},
		wit.Case{Name: "TLS-alert-received", Type: tlsAlert},
		wit.Case{Name: "HTTP-request-denied"},
		wit.Case{Name: "HTTP-request-length-required"},
		wit.Case{Name: "HTTP-request-body-size", Type: optU64},
		wit.Case{Name: "HTTP-request-method-invalid"},
		wit.Case{Name: "HTTP-request-URI-invalid"},
		wit.Case{Name: "HTTP-request-URI-too-long"},
		wit.Case{Name: "HTTP-request-header-section-size", Type: optU32},
		wit.Case{Name: "HTTP-request-header-size", Type: option(fieldSize)},
		wit.Case{Name: "HTTP-request-trailer-section-size", Type: optU32},
		wit.Case{Name: "HTTP-request-trailer-size", Type: fieldSize},
		wit.Case{Name: "HTTP-response-incomplete"},
		wit.Case{Name: "HTTP-response-header-section-size", Type: optU32},
		wit.Case{Name: "HTTP-response-header-size", Type: fieldSize},
		wit.Case{Name: "HTTP-response-body-size", Type: optU64},
		wit.Case{Name: "HTTP-response-trailer-section-size", Type: optU32},
		wit.Case{Name: "HTTP-response-trailer-size", Type: fieldSize},
		wit.Case{Name: "HTTP-response-transfer-coding", Type: optString},
		wit.Case{Name: "HTTP-response-content-coding", Type: optString},
		wit.Case{Name: "HTTP-response-timeout"},
		wit.Case{Name: "HTTP-upgrade-failed"},
		wit.Case{Name: "HTTP-protocol-error"},
		wit.Case{Name: "loop-detected"},
		wit.Case{Name: "configuration-error"},
		wit.Case{Name: "internal-error", Type: optString},
	)
}

func preview2(version string) *HTTP {
	var (
		fields           = resource("fields")
		incomingRequest  = resource("incoming-request")
		incomingBody     = resource("incoming-body")
		outgoingResponse = resource("outgoing-response")
		outgoingBody     = resource("outgoing-body")
		responseOutparam = resource("response-outparam")
		inputStream      = resource("input-stream")
		outputStream     = resource("output-stream")
		ioError          = resource("error")
	)
	h := &HTTP{
		Version:   version,
		Method:    methodType(),
		Scheme:    schemeType(),
		ErrorCode: errorCodeType(),
	}

	headerError := variant("header-error",
		wit.Case{Name: "invalid-syntax"},
		wit.Case{Name: "forbidden"},
		wit.Case{Name: "immutable"},
	)
	streamError := variant("stream-error",
		wit.Case{Name: "last-operation-failed", Type: own(ioError)},
		wit.Case{Name: "closed"},
	)
	bytes := list(wit.U8{})
	entry := tuple(wit.String{}, bytes)

	h.Types = Interface{
		Module: "wasi:http/types@" + version,
		Functions: []*wit.Function{
			constructorOf(fields),
			methodOf(fields, "append",
				params(param("name", wit.String{}), param("value", bytes)),
				result(nil, headerError)),
			methodOf(fields, "entries", nil, list(entry)),
			fields.ResourceDrop(),

			methodOf(incomingRequest, "method", nil, h.Method),
			methodOf(incomingRequest, "path-with-query", nil, option(wit.String{})),
			methodOf(incomingRequest, "scheme", nil, option(h.Scheme)),
			methodOf(incomingRequest, "authority", nil, option(wit.String{})),
			methodOf(incomingRequest, "headers", nil, own(fields)),
			methodOf(incomingRequest, "consume", nil, result(own(incomingBody), nil)),
			incomingRequest.ResourceDrop(),

			methodOf(incomingBody, "stream", nil, result(own(inputStream), nil)),
			incomingBody.ResourceDrop(),

			constructorOf(outgoingResponse, param("headers", own(fields))),
			methodOf(outgoingResponse, "set-status-code",
				params(param("status-code", wit.U16{})),
				result(nil, nil)),
			methodOf(outgoingResponse, "body", nil, result(own(outgoingBody), nil)),
			outgoingResponse.ResourceDrop(),

			methodOf(outgoingBody, "write", nil, result(own(outputStream), nil)),
			staticOf(outgoingBody, "finish",
				params(param("this", own(outgoingBody)), param("trailers", option(own(fields)))),
				result(nil, h.ErrorCode)),
			outgoingBody.ResourceDrop(),

			staticOf(responseOutparam, "set",
				params(param("param", own(responseOutparam)),
					param("response", result(own(outgoingResponse), h.ErrorCode)))),
			responseOutparam.ResourceDrop(),
		},
	}

	read := result(bytes, streamError)
	write := result(nil, streamError)
	contents := params(param("contents", bytes))
	h.Streams = Interface{
		Module: "wasi:io/streams@" + version,
		Functions: []*wit.Function{
			methodOf(inputStream, "read", params(param("len", wit.U64{})), read),
			methodOf(inputStream, "blocking-read", params(param("len", wit.U64{})), read),
			inputStream.ResourceDrop(),

			methodOf(outputStream, "check-write", nil, result(wit.U64{}, streamError)),
			methodOf(outputStream, "write", contents, write),
			methodOf(outputStream, "blocking-write-and-flush", contents, write),
			methodOf(outputStream, "flush", nil, write),
			methodOf(outputStream, "blocking-flush", nil, write),
			outputStream.ResourceDrop(),
		},
	}

	h.Error = Interface{
		Module: "wasi:io/error@" + version,
		Functions: []*wit.Function{
			methodOf(ioError, "to-debug-string", nil, wit.String{}),
			ioError.ResourceDrop(),
		},
	}
	return h
}

// rc20231018 declares the first resource-based release. It reports errors
// through a four-case error variant and reads streams as (data, status)
// tuples.
func rc20231018() *HTTP {
	const version = VersionRC20231018
	var (
		fields           = resource("fields")
		incomingRequest  = resource("incoming-request")
		incomingBody     = resource("incoming-body")
		outgoingResponse = resource("outgoing-response")
		outgoingBody     = resource("outgoing-body")
		responseOutparam = resource("response-outparam")
		inputStream      = resource("input-stream")
		outputStream     = resource("output-stream")
	)
	h := &HTTP{
		Version: version,
		Method:  methodType(),
		Scheme:  schemeType(),
		ErrorCode: variant("error",
			wit.Case{Name: "invalid-url", Type: wit.String{}},
			wit.Case{Name: "timeout-error", Type: wit.String{}},
			wit.Case{Name: "protocol-error", Type: wit.String{}},
			wit.Case{Name: "unexpected-error", Type: wit.String{}},
		),
	}

	bytes := list(wit.U8{})
	entries := list(tuple(wit.String{}, bytes))

	h.Types = Interface{
		Module: "wasi:http/types@" + version,
		Functions: []*wit.Function{
			constructorOf(fields, param("entries", entries)),
			methodOf(fields, "append", params(param("name", wit.String{}), param("value", bytes))),
			methodOf(fields, "entries", nil, entries),
			fields.ResourceDrop(),

			methodOf(incomingRequest, "method", nil, h.Method),
			methodOf(incomingRequest, "path-with-query", nil, option(wit.String{})),
			methodOf(incomingRequest, "scheme", nil, option(h.Scheme)),
			methodOf(incomingRequest, "authority", nil, option(wit.String{})),
			methodOf(incomingRequest, "headers", nil, own(fields)),
			methodOf(incomingRequest, "consume", nil, result(own(incomingBody), nil)),
			incomingRequest.ResourceDrop(),

			methodOf(incomingBody, "stream", nil, result(own(inputStream), nil)),
			incomingBody.ResourceDrop(),

			constructorOf(outgoingResponse,
				param("status-code", wit.U16{}),
				param("headers", borrow(fields))),
			methodOf(outgoingResponse, "write", nil, result(own(outgoingBody), nil)),
			outgoingResponse.ResourceDrop(),

			methodOf(outgoingBody, "write", nil, result(own(outputStream), nil)),
			staticOf(outgoingBody, "finish",
				params(param("this", own(outgoingBody)), param("trailers", option(own(fields))))),
			outgoingBody.ResourceDrop(),

			staticOf(responseOutparam, "set",
				params(param("param", own(responseOutparam)),
					param("response", result(own(outgoingResponse), h.ErrorCode)))),
			responseOutparam.ResourceDrop(),
		},
	}

	status := enum("stream-status", "open", "ended")
	writeError := enum("write-error", "last-operation-failed", "closed")
	read := result(tuple(bytes, status), nil)
	write := result(nil, writeError)
	contents := params(param("contents", bytes))
	h.Streams = Interface{
		Module: "wasi:io/streams@" + version,
		Functions: []*wit.Function{
			methodOf(inputStream, "read", params(param("len", wit.U64{})), read),
			methodOf(inputStream, "blocking-read", params(param("len", wit.U64{})), read),
			inputStream.ResourceDrop(),

			methodOf(outputStream, "check-write", nil, result(wit.U64{}, writeError)),
			methodOf(outputStream, "write", contents, write),
			methodOf(outputStream, "blocking-write-and-flush", contents, write),
			methodOf(outputStream, "flush", nil, write),
			methodOf(outputStream, "blocking-flush", nil, write),
			outputStream.ResourceDrop(),
		},
	}
	return h
}
