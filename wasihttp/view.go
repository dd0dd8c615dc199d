package wasihttp

import (
	"errors"
	"fmt"
	"io"
	"maps"
	"net/http"
	"slices"
	"strings"

	"golang.org/x/net/http/httpguts"
)

// ErrorCode is the error a guest reports through its response outparam
// instead of a response.
type ErrorCode struct {
	Code    string
	Message string
}

func (e *ErrorCode) Error() string {
	msg := "guest reported an error code"
	if e.Code != "" {
		msg = "guest reported error code " + e.Code
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}

var (
	ErrImmutableFields = errors.New("fields are immutable")
	ErrInvalidField    = errors.New("invalid header field")
	ErrAlreadyTaken    = errors.New("resource already taken")
	ErrInvalidStatus   = errors.New("invalid status code")
)

// View is the guest's wasi:http state for one instance. Handles are only
// meaningful within a single View.
type View struct {
	table *Table
}

// NewView creates an empty view.
func NewView() *View {
	return &View{table: NewTable()}
}

// Table exposes the underlying resource table.
func (v *View) Table() *Table {
	return v.table
}

// Close drops every remaining resource. Unset outparams close their signal
// and unfinished response bodies end with ErrBodyIncomplete.
func (v *View) Close() {
	v.table.Close()
}

// Drop releases a handle owned by the guest.
func (v *View) Drop(h uint32) bool {
	return v.table.Drop(h)
}

// NewIncomingRequest registers the request head and its body.
func (v *View) NewIncomingRequest(req *http.Request, body *IncomingBody) (uint32, error) {
	if body == nil {
		body = NewIncomingBody(nil, 0)
	}
	return v.table.Push(&incomingRequestResource{req: req, body: body})
}

// NewResponseOutparam registers an outparam and returns the consumer side of
// its signal. The signal carries at most one value and is closed afterwards,
// or closed without a value once the outparam is dropped.
func (v *View) NewResponseOutparam() (uint32, <-chan ResponseResult, error) {
	o := &outparamResource{signal: make(chan ResponseResult, 1)}
	h, err := v.table.Push(o)
	if err != nil {
		return 0, nil, err
	}
	return h, o.signal, nil
}

func (v *View) incomingRequest(h uint32) (*incomingRequestResource, error) {
	return get[*incomingRequestResource](v.table, h, ResourceIncomingRequest)
}

// IncomingRequestMethod returns the request method.
func (v *View) IncomingRequestMethod(h uint32) (string, error) {
	r, err := v.incomingRequest(h)
	if err != nil {
		return "", err
	}
	if r.req.Method == "" {
		return http.MethodGet, nil
	}
	return r.req.Method, nil
}

// IncomingRequestPathWithQuery returns the request target.
func (v *View) IncomingRequestPathWithQuery(h uint32) (string, bool, error) {
	r, err := v.incomingRequest(h)
	if err != nil {
		return "", false, err
	}
	if r.req.URL == nil {
		return "", false, nil
	}
	return r.req.URL.RequestURI(), true, nil
}

// IncomingRequestScheme returns the request scheme.
func (v *View) IncomingRequestScheme(h uint32) (string, error) {
	r, err := v.incomingRequest(h)
	if err != nil {
		return "", err
	}
	if r.req.URL != nil && r.req.URL.Scheme != "" {
		return r.req.URL.Scheme, nil
	}
	if r.req.TLS != nil {
		return "https", nil
	}
	return "http", nil
}

// IncomingRequestAuthority returns the request authority.
func (v *View) IncomingRequestAuthority(h uint32) (string, bool, error) {
	r, err := v.incomingRequest(h)
	if err != nil {
		return "", false, err
	}
	if r.req.Host != "" {
		return r.req.Host, true, nil
	}
	if r.req.URL != nil && r.req.URL.Host != "" {
		return r.req.URL.Host, true, nil
	}
	return "", false, nil
}

// IncomingRequestHeaders returns an immutable fields handle holding the
// request headers, names lower-cased and sorted.
func (v *View) IncomingRequestHeaders(h uint32) (uint32, error) {
	r, err := v.incomingRequest(h)
	if err != nil {
		return 0, err
	}
	f := &fieldsResource{immutable: true}
	for _, name := range slices.Sorted(maps.Keys(r.req.Header)) {
		for _, value := range r.req.Header[name] {
			f.entries = append(f.entries, Field{Name: strings.ToLower(name), Value: []byte(value)})
		}
	}
	return v.table.Push(f)
}

// IncomingRequestConsume hands out the request body. It succeeds once.
func (v *View) IncomingRequestConsume(h uint32) (uint32, error) {
	r, err := v.incomingRequest(h)
	if err != nil {
		return 0, err
	}
	if r.consumed {
		return 0, fmt.Errorf("%w: incoming body", ErrAlreadyTaken)
	}
	r.consumed = true
	return v.table.Push(&incomingBodyResource{body: r.body})
}

// IncomingBodyStream returns the input stream of an incoming body. It
// succeeds once.
func (v *View) IncomingBodyStream(h uint32) (uint32, error) {
	b, err := get[*incomingBodyResource](v.table, h, ResourceIncomingBody)
	if err != nil {
		return 0, err
	}
	if b.streamOpen {
		return 0, fmt.Errorf("%w: input stream", ErrAlreadyTaken)
	}
	b.streamOpen = true
	return v.table.Push(&inputStreamResource{body: b.body})
}

// InputStreamRead reads up to n bytes. End of body is a closed StreamError.
func (v *View) InputStreamRead(h uint32, n uint64) ([]byte, error) {
	s, err := get[*inputStreamResource](v.table, h, ResourceInputStream)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return []byte{}, nil
	}
	if n > maxReadSize {
		n = maxReadSize
	}
	buf := make([]byte, n)
	read, err := s.body.Read(buf)
	if read > 0 {
		return buf[:read], nil
	}
	switch {
	case err == nil:
		return []byte{}, nil
	case errors.Is(err, io.EOF):
		return nil, &StreamError{Closed: true}
	default:
		return nil, &StreamError{Err: err}
	}
}

const maxReadSize = 64 << 10

// NewFields creates an empty mutable fields resource.
func (v *View) NewFields() (uint32, error) {
	return v.table.Push(&fieldsResource{})
}

// FieldsAppend adds an entry. Names must be tokens and values valid field
// values.
func (v *View) FieldsAppend(h uint32, name string, value []byte) error {
	f, err := get[*fieldsResource](v.table, h, ResourceFields)
	if err != nil {
		return err
	}
	if f.immutable {
		return ErrImmutableFields
	}
	if !httpguts.ValidHeaderFieldName(name) || !httpguts.ValidHeaderFieldValue(string(value)) {
		return fmt.Errorf("%w: %q", ErrInvalidField, name)
	}
	f.entries = append(f.entries, Field{Name: name, Value: append([]byte(nil), value...)})
	return nil
}

// FieldsEntries returns a copy of the entries in insertion order.
func (v *View) FieldsEntries(h uint32) ([]Field, error) {
	f, err := get[*fieldsResource](v.table, h, ResourceFields)
	if err != nil {
		return nil, err
	}
	out := make([]Field, len(f.entries))
	copy(out, f.entries)
	return out, nil
}

// NewOutgoingResponse creates a 200 response taking ownership of fields.
func (v *View) NewOutgoingResponse(fields uint32) (uint32, error) {
	f, err := take[*fieldsResource](v.table, fields, ResourceFields)
	if err != nil {
		return 0, err
	}
	return v.table.Push(&outgoingResponseResource{header: f.header(), status: http.StatusOK})
}

// NewOutgoingResponseFrom creates a response with the given status and a
// copy of the borrowed fields.
func (v *View) NewOutgoingResponseFrom(fields uint32, status int) (uint32, error) {
	f, err := get[*fieldsResource](v.table, fields, ResourceFields)
	if err != nil {
		return 0, err
	}
	if status < 100 || status > 999 {
		return 0, fmt.Errorf("%w: %d", ErrInvalidStatus, status)
	}
	return v.table.Push(&outgoingResponseResource{header: f.header(), status: status})
}

// OutgoingResponseSetStatusCode sets the status code.
func (v *View) OutgoingResponseSetStatusCode(h uint32, code int) error {
	r, err := get[*outgoingResponseResource](v.table, h, ResourceOutgoingResponse)
	if err != nil {
		return err
	}
	if code < 100 || code > 999 {
		return fmt.Errorf("%w: %d", ErrInvalidStatus, code)
	}
	r.status = code
	return nil
}

// OutgoingResponseBody returns the response body. It succeeds once.
func (v *View) OutgoingResponseBody(h uint32) (uint32, error) {
	r, err := get[*outgoingResponseResource](v.table, h, ResourceOutgoingResponse)
	if err != nil {
		return 0, err
	}
	if r.body != nil {
		return 0, fmt.Errorf("%w: outgoing body", ErrAlreadyTaken)
	}
	r.body = &outgoingBodyResource{pipe: newBodyPipe()}
	return v.table.Push(r.body)
}

// OutgoingBodyWrite returns the output stream of a body. It succeeds once.
func (v *View) OutgoingBodyWrite(h uint32) (uint32, error) {
	b, err := get[*outgoingBodyResource](v.table, h, ResourceOutgoingBody)
	if err != nil {
		return 0, err
	}
	if b.streamTaken {
		return 0, fmt.Errorf("%w: output stream", ErrAlreadyTaken)
	}
	b.streamTaken = true
	return v.table.Push(&outputStreamResource{pipe: b.pipe})
}

// OutputStreamWrite appends p to the body.
func (v *View) OutputStreamWrite(h uint32, p []byte) error {
	s, err := get[*outputStreamResource](v.table, h, ResourceOutputStream)
	if err != nil {
		return err
	}
	if _, err := s.pipe.Write(p); err != nil {
		if errors.Is(err, io.ErrClosedPipe) {
			return &StreamError{Closed: true}
		}
		return &StreamError{Err: err}
	}
	return nil
}

// FinishOutgoingBody consumes the body and ends it cleanly.
func (v *View) FinishOutgoingBody(h uint32) error {
	b, err := take[*outgoingBodyResource](v.table, h, ResourceOutgoingBody)
	if err != nil {
		return err
	}
	b.pipe.CloseWithError(nil)
	return nil
}

// SetResponseOutparam consumes both handles and fires the signal with the
// response. A response whose body was never requested has an empty body.
func (v *View) SetResponseOutparam(outparam, response uint32) error {
	o, err := take[*outparamResource](v.table, outparam, ResourceResponseOutparam)
	if err != nil {
		return err
	}
	r, err := take[*outgoingResponseResource](v.table, response, ResourceOutgoingResponse)
	if err != nil {
		o.Drop()
		return err
	}

	var body io.ReadCloser = http.NoBody
	if r.body != nil {
		body = r.body.pipe
	}
	o.fire(ResponseResult{Response: &Response{Status: r.status, Header: r.header, Body: body}})
	return nil
}

// SetResponseOutparamError consumes the outparam and fires the signal with
// the guest's error code and optional message.
func (v *View) SetResponseOutparamError(outparam uint32, code, message string) error {
	o, err := take[*outparamResource](v.table, outparam, ResourceResponseOutparam)
	if err != nil {
		return err
	}
	o.fire(ResponseResult{Err: &ErrorCode{Code: code, Message: message}})
	return nil
}

type ioErrorResource struct {
	err error
}

func (e *ioErrorResource) Type() ResourceType { return ResourceIOError }
func (e *ioErrorResource) Drop()              {}

// NewIOError registers a wasi:io error resource for a failed stream
// operation.
func (v *View) NewIOError(err error) (uint32, error) {
	return v.table.Push(&ioErrorResource{err: err})
}

// IOErrorDebugString renders an error resource.
func (v *View) IOErrorDebugString(h uint32) (string, error) {
	e, err := get[*ioErrorResource](v.table, h, ResourceIOError)
	if err != nil {
		return "", err
	}
	return e.err.Error(), nil
}
