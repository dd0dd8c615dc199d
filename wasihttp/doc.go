// Package wasihttp holds the host side of wasi:http for one guest instance.
//
// A View owns a resource table of handles the guest can reference:
//   - incoming-request, incoming-body and input-stream for the inbound request
//   - fields, outgoing-response, outgoing-body and output-stream for the reply
//   - response-outparam, the single-fire channel that delivers the reply
//
// The View is the instance's outbound HTTP capability: besides serving the
// guest's handler it performs outgoing requests restricted to an allow list.
//
// Response bodies stream through an in-memory pipe, so a response can be
// returned to the HTTP layer while the guest is still writing it. Closing the
// View drops every remaining resource: an unset outparam closes its signal and
// an unfinished body surfaces ErrBodyIncomplete to the reader.
package wasihttp
