package wasihttp

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func respond(t *testing.T, v *View, outparam uint32, status int) uint32 {
	t.Helper()
	fields, err := v.NewFields()
	require.NoError(t, err)
	require.NoError(t, v.FieldsAppend(fields, "content-type", []byte("text/plain")))
	resp, err := v.NewOutgoingResponse(fields)
	require.NoError(t, err)
	require.NoError(t, v.OutgoingResponseSetStatusCode(resp, status))
	body, err := v.OutgoingResponseBody(resp)
	require.NoError(t, err)
	require.NoError(t, v.SetResponseOutparam(outparam, resp))
	return body
}

func TestView_ResponseStreamsAfterSet(t *testing.T) {
	v := NewView()
	outparam, signal, err := v.NewResponseOutparam()
	require.NoError(t, err)

	body := respond(t, v, outparam, http.StatusCreated)

	res, ok := <-signal
	require.True(t, ok)
	require.NoError(t, res.Err)
	assert.Equal(t, http.StatusCreated, res.Response.Status)
	assert.Equal(t, "text/plain", res.Response.Header.Get("Content-Type"))

	stream, err := v.OutgoingBodyWrite(body)
	require.NoError(t, err)
	require.NoError(t, v.OutputStreamWrite(stream, []byte("hello ")))
	require.NoError(t, v.OutputStreamWrite(stream, []byte("world")))
	require.True(t, v.Drop(stream))
	require.NoError(t, v.FinishOutgoingBody(body))

	data, err := io.ReadAll(res.Response.Body)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))

	_, ok = <-signal
	assert.False(t, ok)
}

func TestView_UnfinishedBodyFailsOnClose(t *testing.T) {
	v := NewView()
	outparam, signal, err := v.NewResponseOutparam()
	require.NoError(t, err)

	body := respond(t, v, outparam, http.StatusOK)
	stream, err := v.OutgoingBodyWrite(body)
	require.NoError(t, err)
	require.NoError(t, v.OutputStreamWrite(stream, []byte("partial")))

	res := <-signal
	v.Close()

	data, err := io.ReadAll(res.Response.Body)
	assert.Equal(t, "partial", string(data))
	assert.ErrorIs(t, err, ErrBodyIncomplete)
}

func TestView_OutparamDroppedClosesSignal(t *testing.T) {
	v := NewView()
	_, signal, err := v.NewResponseOutparam()
	require.NoError(t, err)

	v.Close()

	_, ok := <-signal
	assert.False(t, ok)
}

func TestView_OutparamFiresOnce(t *testing.T) {
	v := NewView()
	outparam, signal, err := v.NewResponseOutparam()
	require.NoError(t, err)

	require.NoError(t, v.SetResponseOutparamError(outparam, "internal-error", "boom"))
	err = v.SetResponseOutparamError(outparam, "again", "")
	assert.ErrorIs(t, err, ErrInvalidHandle)

	res := <-signal
	var code *ErrorCode
	require.True(t, errors.As(res.Err, &code))
	assert.Equal(t, "internal-error", code.Code)
	assert.Equal(t, "guest reported error code internal-error: boom", code.Error())
	assert.Nil(t, res.Response)
}

func TestView_ResponseWithoutBody(t *testing.T) {
	v := NewView()
	outparam, signal, err := v.NewResponseOutparam()
	require.NoError(t, err)

	fields, err := v.NewFields()
	require.NoError(t, err)
	resp, err := v.NewOutgoingResponse(fields)
	require.NoError(t, err)
	require.NoError(t, v.SetResponseOutparam(outparam, resp))

	res := <-signal
	data, err := io.ReadAll(res.Response.Body)
	require.NoError(t, err)
	assert.Empty(t, data)
	assert.Equal(t, http.StatusOK, res.Response.Status)
}

func TestView_IncomingRequest(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "http://example.com/hello?x=1", strings.NewReader("payload"))
	req.Header.Set("X-Custom", "yes")

	v := NewView()
	h, err := v.NewIncomingRequest(req, NewIncomingBody(req.Body, time.Second))
	require.NoError(t, err)

	method, err := v.IncomingRequestMethod(h)
	require.NoError(t, err)
	assert.Equal(t, http.MethodPost, method)

	path, ok, err := v.IncomingRequestPathWithQuery(h)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "/hello?x=1", path)

	authority, ok, err := v.IncomingRequestAuthority(h)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "example.com", authority)

	fields, err := v.IncomingRequestHeaders(h)
	require.NoError(t, err)
	entries, err := v.FieldsEntries(fields)
	require.NoError(t, err)
	assert.Contains(t, entries, Field{Name: "x-custom", Value: []byte("yes")})
	assert.ErrorIs(t, v.FieldsAppend(fields, "x-other", []byte("no")), ErrImmutableFields)

	body, err := v.IncomingRequestConsume(h)
	require.NoError(t, err)
	_, err = v.IncomingRequestConsume(h)
	assert.ErrorIs(t, err, ErrAlreadyTaken)

	stream, err := v.IncomingBodyStream(body)
	require.NoError(t, err)

	var got []byte
	for {
		chunk, err := v.InputStreamRead(stream, 4)
		if err != nil {
			var se *StreamError
			require.True(t, errors.As(err, &se))
			assert.True(t, se.Closed)
			break
		}
		got = append(got, chunk...)
	}
	assert.Equal(t, "payload", string(got))
}

func TestView_FieldsValidation(t *testing.T) {
	v := NewView()
	fields, err := v.NewFields()
	require.NoError(t, err)

	assert.ErrorIs(t, v.FieldsAppend(fields, "bad name", []byte("x")), ErrInvalidField)
	assert.ErrorIs(t, v.FieldsAppend(fields, "x-ok", []byte("a\nb")), ErrInvalidField)
	assert.NoError(t, v.FieldsAppend(fields, "x-ok", []byte("fine")))
}

func TestView_WrongHandleType(t *testing.T) {
	v := NewView()
	fields, err := v.NewFields()
	require.NoError(t, err)

	err = v.OutgoingResponseSetStatusCode(fields, 200)
	assert.ErrorIs(t, err, ErrInvalidHandle)
}

func TestView_IncomingHeadersSorted(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "http://example.com/", nil)
	req.Header.Set("X-Zulu", "z")
	req.Header.Set("Accept", "*/*")
	req.Header.Add("X-Multi", "1")
	req.Header.Add("X-Multi", "2")

	v := NewView()
	h, err := v.NewIncomingRequest(req, nil)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		fields, err := v.IncomingRequestHeaders(h)
		require.NoError(t, err)
		entries, err := v.FieldsEntries(fields)
		require.NoError(t, err)
		assert.Equal(t, []Field{
			{Name: "accept", Value: []byte("*/*")},
			{Name: "x-multi", Value: []byte("1")},
			{Name: "x-multi", Value: []byte("2")},
			{Name: "x-zulu", Value: []byte("z")},
		}, entries)
	}
}

func TestView_NewOutgoingResponseFromBorrows(t *testing.T) {
	v := NewView()
	outparam, signal, err := v.NewResponseOutparam()
	require.NoError(t, err)
	fields, err := v.NewFields()
	require.NoError(t, err)
	require.NoError(t, v.FieldsAppend(fields, "x-kept", []byte("1")))

	_, err = v.NewOutgoingResponseFrom(fields, 42)
	assert.ErrorIs(t, err, ErrInvalidStatus)

	resp, err := v.NewOutgoingResponseFrom(fields, http.StatusTeapot)
	require.NoError(t, err)
	_, err = v.FieldsEntries(fields)
	require.NoError(t, err, "fields stay with the guest")

	require.NoError(t, v.SetResponseOutparam(outparam, resp))
	res := <-signal
	require.NotNil(t, res.Response)
	assert.Equal(t, http.StatusTeapot, res.Response.Status)
	assert.Equal(t, "1", res.Response.Header.Get("x-kept"))
}
