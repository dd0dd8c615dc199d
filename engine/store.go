package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/wasm-http-trigger/wasihttp"
)

// Function is a callable guest export. wazero's api.Function satisfies it.
type Function interface {
	Call(ctx context.Context, params ...uint64) ([]uint64, error)
}

// Exports resolves guest exports by name. A missing export yields nil.
type Exports interface {
	ExportedFunction(name string) Function
}

// Store is the private state of one guest instance.
type Store struct {
	http      *wasihttp.View
	kv        keyValueTable
	module    api.Module
	closeOnce sync.Once

	componentID string
	maxMemory   uint64

	memory    atomic.Uint64
	guestTime atomic.Int64
	hostTime  atomic.Int64
}

// NewStore creates a store without an instance. The engine attaches the
// instance on instantiation; callers driving their own Exports use it as is.
// A nil view means the instance has no outbound HTTP capability.
func NewStore(componentID string, view *wasihttp.View) *Store {
	return &Store{componentID: componentID, http: view}
}

// ComponentID returns the id of the component this store belongs to.
func (s *Store) ComponentID() string { return s.componentID }

// HTTP returns the instance's outbound HTTP capability, or nil when the
// instance was built without one.
func (s *Store) HTTP() *wasihttp.View { return s.http }

// MemoryConsumed returns the bytes of linear memory the instance holds.
func (s *Store) MemoryConsumed() uint64 { return s.memory.Load() }

// AddMemoryConsumed records memory held outside the engine's allocator.
func (s *Store) AddMemoryConsumed(n uint64) { s.memory.Add(n) }

// CPUTimeElapsed returns the time spent executing guest code: the wall time
// of guest calls minus the time spent in host functions.
func (s *Store) CPUTimeElapsed() time.Duration {
	d := time.Duration(s.guestTime.Load() - s.hostTime.Load())
	if d < 0 {
		return 0
	}
	return d
}

// Call invokes fn with this store reachable from host functions.
func (s *Store) Call(ctx context.Context, fn Function, params ...uint64) ([]uint64, error) {
	start := time.Now()
	defer func() { s.guestTime.Add(int64(time.Since(start))) }()
	return fn.Call(WithStore(ctx, s), params...)
}

func (s *Store) trackHost(start time.Time) {
	s.hostTime.Add(int64(time.Since(start)))
}

// Close releases the instance and every guest-visible resource. It is safe to
// call more than once.
func (s *Store) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if s.http != nil {
			s.http.Close()
		}
		s.kv.close()
		if s.module != nil {
			err = s.module.Close(context.Background())
		}
	})
	return err
}

type storeKey struct{}

// WithStore returns a context carrying s.
func WithStore(ctx context.Context, s *Store) context.Context {
	return context.WithValue(ctx, storeKey{}, s)
}

// StoreFromContext returns the store carried by ctx, if any.
func StoreFromContext(ctx context.Context) (*Store, bool) {
	s, ok := ctx.Value(storeKey{}).(*Store)
	return s, ok && s != nil
}
