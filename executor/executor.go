package executor

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/sourcegraph/conc"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/wippyai/wasm-http-trigger/engine"
	"github.com/wippyai/wasm-http-trigger/errors"
	"github.com/wippyai/wasm-http-trigger/hooks"
	"github.com/wippyai/wasm-http-trigger/tracker"
)

// Instantiator creates guest instances by component id.
type Instantiator interface {
	Instantiate(ctx context.Context, componentID string, cfg engine.InstanceConfig) (engine.Exports, *engine.Store, error)
}

// EngineInstantiator instantiates compiled components on an engine.
type EngineInstantiator struct {
	Engine     *engine.Engine
	Components map[string]*engine.Component
}

func (e *EngineInstantiator) Instantiate(ctx context.Context, componentID string, cfg engine.InstanceConfig) (engine.Exports, *engine.Store, error) {
	c, ok := e.Components[componentID]
	if !ok {
		return nil, nil, fmt.Errorf("unknown component %q", componentID)
	}
	inst, store, err := e.Engine.Instantiate(ctx, c, cfg)
	if err != nil {
		return nil, nil, err
	}
	return inst, store, nil
}

// Executor holds what every invocation shares.
type Executor struct {
	inst       Instantiator
	hooks      *hooks.Chain
	tracker    *tracker.MemoryTracker
	logger     *zap.Logger
	stderr     io.Writer
	isTerminal func() bool
	monitors   conc.WaitGroup

	mu sync.Mutex
	// closed is set by Shutdown; monitors started afterwards run inline.
	closed bool
}

// Option configures an Executor.
type Option func(*Executor)

// WithLogger sets the logger. The package logger is used otherwise.
func WithLogger(l *zap.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

// WithTracker sets the memory tracker updated after every invocation.
func WithTracker(t *tracker.MemoryTracker) Option {
	return func(e *Executor) { e.tracker = t }
}

// WithStderr sets the stream post-response warnings go to and whether it is
// interactive. Interactive streams get an error log entry instead.
func WithStderr(w io.Writer, isTerminal bool) Option {
	return func(e *Executor) {
		e.stderr = w
		e.isTerminal = func() bool { return isTerminal }
	}
}

// New creates an executor.
func New(inst Instantiator, opts ...Option) *Executor {
	e := &Executor{
		inst:   inst,
		hooks:  hooks.NewChain(),
		stderr: os.Stderr,
		isTerminal: func() bool {
			return term.IsTerminal(int(os.Stderr.Fd()))
		},
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = Logger()
	}
	if e.tracker == nil {
		e.tracker = tracker.New()
	}
	return e
}

// AddHooks appends hooks to the chain. Hooks must be added before LoadApp.
func (e *Executor) AddHooks(hs ...hooks.Hook) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.hooks.Add(hs...)
}

// Tracker returns the executor's memory tracker.
func (e *Executor) Tracker() *tracker.MemoryTracker { return e.tracker }

// App is a loaded application.
type App struct {
	exec *Executor
	app  *hooks.App
}

// LoadApp runs the app configuration hooks.
func (e *Executor) LoadApp(ctx context.Context, app *hooks.App) (*App, error) {
	if err := e.hooks.ConfigureApp(ctx, app); err != nil {
		return nil, errors.HostSetup(errors.PhaseConfigure, err, "failed to configure app")
	}
	return &App{exec: e, app: app}, nil
}

// Config returns the app as seen by hooks.
func (a *App) Config() *hooks.App { return a.app }

// InstanceBuilder starts building an instance of a component.
func (a *App) InstanceBuilder(componentID string) (*TriggerInstanceBuilder, error) {
	if _, ok := a.app.Component(componentID); !ok {
		return nil, errors.New(errors.PhaseInstantiate, errors.KindHostSetup).
			Component(componentID).
			Detail("unknown component").
			Build()
	}
	return &TriggerInstanceBuilder{
		exec:    a.exec,
		builder: hooks.NewInstanceBuilder(a.app, componentID),
	}, nil
}

// TriggerInstanceBuilder builds one instance.
type TriggerInstanceBuilder struct {
	exec    *Executor
	builder *hooks.InstanceBuilder
}

// ComponentID returns the id of the component being built.
func (b *TriggerInstanceBuilder) ComponentID() string { return b.builder.ComponentID }

// Builder exposes the settings hooks will see.
func (b *TriggerInstanceBuilder) Builder() *hooks.InstanceBuilder { return b.builder }

// Instantiate runs the prepare hooks in order and creates the instance. A
// hook failure aborts instantiation.
func (b *TriggerInstanceBuilder) Instantiate(ctx context.Context) (engine.Exports, *engine.Store, error) {
	id := b.builder.ComponentID
	if err := b.exec.hooks.PrepareInstance(ctx, b.builder); err != nil {
		return nil, nil, errors.New(errors.PhaseInstantiate, errors.KindHostSetup).
			Component(id).
			Detail("instance hook failed").
			Cause(err).
			Build()
	}
	exports, store, err := b.exec.inst.Instantiate(ctx, id, b.builder.InstanceConfig())
	if err != nil {
		return nil, nil, errors.New(errors.PhaseInstantiate, errors.KindHostSetup).
			Component(id).
			Detail("failed to instantiate component").
			Cause(err).
			Build()
	}
	return exports, store, nil
}

// Shutdown stops tracking new detached guests and waits for the outstanding
// monitors until ctx is done.
func (e *Executor) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.monitors.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for guest invocations: %w", ctx.Err())
	}
}
