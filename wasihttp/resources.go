package wasihttp

import (
	"io"
	"net/http"
	"sync"
)

// StreamError mirrors wasi:io/streams stream-error.
type StreamError struct {
	Err    error
	Closed bool
}

func (e *StreamError) Error() string {
	if e.Closed {
		return "stream closed"
	}
	return "last operation failed: " + e.Err.Error()
}

func (e *StreamError) Unwrap() error { return e.Err }

// Field is one header entry as seen by the guest.
type Field struct {
	Name  string
	Value []byte
}

type fieldsResource struct {
	entries   []Field
	immutable bool
}

func (f *fieldsResource) Type() ResourceType { return ResourceFields }
func (f *fieldsResource) Drop()              {}

func (f *fieldsResource) header() http.Header {
	h := make(http.Header, len(f.entries))
	for _, e := range f.entries {
		h.Add(e.Name, string(e.Value))
	}
	return h
}

type incomingRequestResource struct {
	req      *http.Request
	body     *IncomingBody
	consumed bool
}

func (r *incomingRequestResource) Type() ResourceType { return ResourceIncomingRequest }
func (r *incomingRequestResource) Drop() {
	if !r.consumed && r.body != nil {
		_ = r.body.Close()
	}
}

type incomingBodyResource struct {
	body       *IncomingBody
	streamOpen bool
}

func (b *incomingBodyResource) Type() ResourceType { return ResourceIncomingBody }
func (b *incomingBodyResource) Drop()              { _ = b.body.Close() }

type inputStreamResource struct {
	body *IncomingBody
}

func (s *inputStreamResource) Type() ResourceType { return ResourceInputStream }
func (s *inputStreamResource) Drop()              {}

type outgoingResponseResource struct {
	header http.Header
	body   *outgoingBodyResource
	status int
}

func (r *outgoingResponseResource) Type() ResourceType { return ResourceOutgoingResponse }
func (r *outgoingResponseResource) Drop()              {}

type outgoingBodyResource struct {
	pipe        *bodyPipe
	streamTaken bool
}

func (b *outgoingBodyResource) Type() ResourceType { return ResourceOutgoingBody }

// Drop without finish marks the body incomplete.
func (b *outgoingBodyResource) Drop() { b.pipe.CloseWithError(ErrBodyIncomplete) }

type outputStreamResource struct {
	pipe *bodyPipe
}

func (s *outputStreamResource) Type() ResourceType { return ResourceOutputStream }
func (s *outputStreamResource) Drop()              {}

// Response is what the guest delivered through its response outparam.
type Response struct {
	Header http.Header
	// Body streams the guest's writes. It is never nil.
	Body   io.ReadCloser
	Status int
}

// ResponseResult is the value carried by a response signal. Exactly one of
// Response and Err is set.
type ResponseResult struct {
	Response *Response
	Err      error
}

type outparamResource struct {
	signal chan ResponseResult
	once   sync.Once
}

func (o *outparamResource) Type() ResourceType { return ResourceResponseOutparam }

// Drop closes the signal if nothing was sent.
func (o *outparamResource) Drop() { o.once.Do(func() { close(o.signal) }) }

func (o *outparamResource) fire(res ResponseResult) bool {
	fired := false
	o.once.Do(func() {
		o.signal <- res
		close(o.signal)
		fired = true
	})
	return fired
}
