package wasihttp

import (
	"errors"
	"fmt"
	"math"
	"sync"
)

// ResourceType identifies a resource kind for type-checked handle lookups.
type ResourceType uint8

const (
	ResourceFields ResourceType = iota + 1
	ResourceIncomingRequest
	ResourceIncomingBody
	ResourceInputStream
	ResourceOutgoingResponse
	ResourceOutgoingBody
	ResourceOutputStream
	ResourceResponseOutparam
	ResourceIOError
)

var resourceNames = map[ResourceType]string{
	ResourceFields:           "fields",
	ResourceIncomingRequest:  "incoming-request",
	ResourceIncomingBody:     "incoming-body",
	ResourceInputStream:      "input-stream",
	ResourceOutgoingResponse: "outgoing-response",
	ResourceOutgoingBody:     "outgoing-body",
	ResourceOutputStream:     "output-stream",
	ResourceResponseOutparam: "response-outparam",
	ResourceIOError:          "error",
}

func (t ResourceType) String() string {
	if n, ok := resourceNames[t]; ok {
		return n
	}
	return fmt.Sprintf("resource(%d)", uint8(t))
}

// Resource is a value the guest references by handle.
type Resource interface {
	// Type returns the resource type identifier.
	Type() ResourceType
	// Drop releases any underlying resources.
	Drop()
}

var (
	ErrTableClosed   = errors.New("resource table closed")
	ErrTableFull     = errors.New("resource table exhausted")
	ErrInvalidHandle = errors.New("invalid resource handle")
)

// Table maps guest handles to resources. Handle 0 is never issued.
type Table struct {
	entries map[uint32]Resource
	mu      sync.Mutex
	next    uint32
	closed  bool
}

// NewTable creates an empty table.
func NewTable() *Table {
	return &Table{entries: make(map[uint32]Resource), next: 1}
}

// Push stores r and returns its handle.
func (t *Table) Push(r Resource) (uint32, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return 0, ErrTableClosed
	}
	if t.next == math.MaxUint32 {
		return 0, ErrTableFull
	}
	h := t.next
	t.next++
	t.entries[h] = r
	return h, nil
}

// Get returns the resource for a handle.
func (t *Table) Get(h uint32) (Resource, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.entries[h]
	return r, ok
}

// Take removes a resource without dropping it, transferring ownership to the
// caller.
func (t *Table) Take(h uint32) (Resource, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.entries[h]
	if ok {
		delete(t.entries, h)
	}
	return r, ok
}

// Drop removes and drops a resource. It reports whether the handle existed.
func (t *Table) Drop(h uint32) bool {
	r, ok := t.Take(h)
	if ok {
		r.Drop()
	}
	return ok
}

// Len returns the number of live resources.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Close drops every resource and rejects further pushes.
func (t *Table) Close() {
	t.mu.Lock()
	t.closed = true
	entries := t.entries
	t.entries = make(map[uint32]Resource)
	t.mu.Unlock()

	for _, r := range entries {
		r.Drop()
	}
}

func get[T Resource](t *Table, h uint32, typ ResourceType) (T, error) {
	var zero T
	r, ok := t.Get(h)
	if !ok {
		return zero, fmt.Errorf("%w: %s %d", ErrInvalidHandle, typ, h)
	}
	v, ok := r.(T)
	if !ok || r.Type() != typ {
		return zero, fmt.Errorf("%w: handle %d is %s, not %s", ErrInvalidHandle, h, r.Type(), typ)
	}
	return v, nil
}

func take[T Resource](t *Table, h uint32, typ ResourceType) (T, error) {
	v, err := get[T](t, h, typ)
	if err != nil {
		return v, err
	}
	t.Take(h)
	return v, nil
}
