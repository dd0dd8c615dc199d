package wasihttp

import (
	"errors"
	"io"
	"sync"
	"time"
)

var (
	// ErrBodyReadTimeout is returned when a single read of the inbound body
	// does not complete within the configured timeout.
	ErrBodyReadTimeout = errors.New("request body read timed out")
	// ErrBodyIncomplete is surfaced to the response reader when the guest
	// drops its outgoing body without finishing it.
	ErrBodyIncomplete = errors.New("guest did not finish the response body")
)

type readResult struct {
	data []byte
	err  error
}

// IncomingBody wraps an inbound request body so that every Read gives up
// after a fixed timeout. A read that times out stays in flight and its data is
// returned by the next Read.
type IncomingBody struct {
	r        io.ReadCloser
	pending  chan readResult
	err      error
	leftover []byte
	timeout  time.Duration
}

// NewIncomingBody wraps r with a per-read timeout. A non-positive timeout
// disables the limit.
func NewIncomingBody(r io.ReadCloser, timeout time.Duration) *IncomingBody {
	if r == nil {
		r = io.NopCloser(eofReader{})
	}
	return &IncomingBody{r: r, timeout: timeout}
}

// Read implements io.Reader.
func (b *IncomingBody) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if len(b.leftover) > 0 {
		n := copy(p, b.leftover)
		b.leftover = b.leftover[n:]
		return n, nil
	}
	if b.err != nil {
		return 0, b.err
	}

	if b.pending == nil {
		ch := make(chan readResult, 1)
		buf := make([]byte, len(p))
		go func() {
			n, err := b.r.Read(buf)
			ch <- readResult{data: buf[:n], err: err}
		}()
		b.pending = ch
	}

	var timeout <-chan time.Time
	if b.timeout > 0 {
		timer := time.NewTimer(b.timeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case res := <-b.pending:
		b.pending = nil
		n := copy(p, res.data)
		b.leftover = res.data[n:]
		b.err = res.err
		if n == 0 && b.err != nil {
			return 0, b.err
		}
		return n, nil
	case <-timeout:
		return 0, ErrBodyReadTimeout
	}
}

// Close closes the underlying body.
func (b *IncomingBody) Close() error {
	return b.r.Close()
}

type eofReader struct{}

func (eofReader) Read([]byte) (int, error) { return 0, io.EOF }

// bodyPipe is an unbounded in-memory pipe. Writes never block, so the guest
// can write its body before anyone reads the response.
type bodyPipe struct {
	err          error
	cond         *sync.Cond
	buf          []byte
	mu           sync.Mutex
	closed       bool
	readerClosed bool
}

func newBodyPipe() *bodyPipe {
	p := &bodyPipe{}
	p.cond = sync.NewCond(&p.mu)
	return p
}

func (p *bodyPipe) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.readerClosed {
		return 0, io.ErrClosedPipe
	}
	if p.closed {
		return 0, errors.New("write to finished body")
	}
	p.buf = append(p.buf, b...)
	p.cond.Broadcast()
	return len(b), nil
}

// CloseWithError finishes the write side. A nil err means a clean EOF.
// Only the first call has an effect.
func (p *bodyPipe) CloseWithError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	p.err = err
	p.cond.Broadcast()
}

func (p *bodyPipe) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for len(p.buf) == 0 && !p.closed && !p.readerClosed {
		p.cond.Wait()
	}
	if p.readerClosed {
		return 0, io.ErrClosedPipe
	}
	if len(p.buf) > 0 {
		n := copy(b, p.buf)
		p.buf = p.buf[n:]
		return n, nil
	}
	if p.err != nil {
		return 0, p.err
	}
	return 0, io.EOF
}

// Close is the reader side close. Pending and future writes fail.
func (p *bodyPipe) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.readerClosed = true
	p.buf = nil
	p.cond.Broadcast()
	return nil
}
