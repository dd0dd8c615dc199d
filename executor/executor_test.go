package executor

import (
	"bytes"
	"context"
	stderrors "errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/wippyai/wasm-http-trigger/engine"
	"github.com/wippyai/wasm-http-trigger/errors"
	"github.com/wippyai/wasm-http-trigger/handler"
	"github.com/wippyai/wasm-http-trigger/hooks"
	"github.com/wippyai/wasm-http-trigger/routes"
	"github.com/wippyai/wasm-http-trigger/telemetry"
	"github.com/wippyai/wasm-http-trigger/tracker"
	"github.com/wippyai/wasm-http-trigger/wasihttp"
)

// guestFunc is a fake guest entrypoint driving the store's wasi:http view.
type guestFunc func(ctx context.Context, view *wasihttp.View, request, outparam uint32) error

func (f guestFunc) Call(ctx context.Context, params ...uint64) ([]uint64, error) {
	store, ok := engine.StoreFromContext(ctx)
	if !ok {
		return nil, stderrors.New("no store in context")
	}
	return nil, f(ctx, store.HTTP(), uint32(params[0]), uint32(params[1]))
}

// fakeExports exposes one entrypoint under one name.
type fakeExports struct {
	fn   engine.Function
	name string
}

func (e fakeExports) ExportedFunction(name string) engine.Function {
	if name == e.name {
		return e.fn
	}
	return nil
}

// fakeInstantiator hands out stores that optionally lack the capability.
type fakeInstantiator struct {
	fn        guestFunc
	typ       handler.Type
	noHTTP    bool
	lastStore *engine.Store
	configs   []engine.InstanceConfig
}

func (f *fakeInstantiator) Instantiate(_ context.Context, id string, cfg engine.InstanceConfig) (engine.Exports, *engine.Store, error) {
	f.configs = append(f.configs, cfg)
	var view *wasihttp.View
	if cfg.OutboundHTTP && !f.noHTTP {
		view = wasihttp.NewView()
	}
	f.lastStore = engine.NewStore(id, view)
	return fakeExports{fn: f.fn, name: f.typ.Entrypoint()}, f.lastStore, nil
}

type harness struct {
	exec   *Executor
	inst   *fakeInstantiator
	logs   *observer.ObservedLogs
	stderr *bytes.Buffer
	spans  *tracetest.SpanRecorder
	app    *App
	route  *routes.RouteMatch
}

func newHarness(t *testing.T, fn guestFunc, terminal bool, hs ...hooks.Hook) *harness {
	t.Helper()

	core, logs := observer.New(zapcore.DebugLevel)
	spans := tracetest.NewSpanRecorder()
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans)))
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	stderr := &bytes.Buffer{}
	inst := &fakeInstantiator{fn: fn, typ: handler.Latest}
	exec := New(inst, WithLogger(zap.New(core)), WithStderr(stderr, terminal), WithTracker(tracker.New()))
	exec.AddHooks(hs...)

	app, err := exec.LoadApp(context.Background(), &hooks.App{Components: []hooks.Component{{ID: "hello"}}})
	require.NoError(t, err)

	r, err := routes.Parse("hello", "/hello/...")
	require.NoError(t, err)
	match, ok := r.Match("/hello/world")
	require.True(t, ok)

	return &harness{exec: exec, inst: inst, logs: logs, stderr: stderr, spans: spans, app: app, route: match}
}

func (h *harness) execute(t *testing.T, typ handler.Type) (*wasihttp.Response, error) {
	t.Helper()
	b, err := h.app.InstanceBuilder("hello")
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "http://example.com/hello/world?x=1", nil)
	return h.exec.WasiHTTP(typ).Execute(context.Background(), b, h.route, req, netip.MustParseAddrPort("10.0.0.1:4000"))
}

func respond(view *wasihttp.View, outparam uint32, status int, body string) error {
	fields, err := view.NewFields()
	if err != nil {
		return err
	}
	resp, err := view.NewOutgoingResponse(fields)
	if err != nil {
		return err
	}
	if err := view.OutgoingResponseSetStatusCode(resp, status); err != nil {
		return err
	}
	b, err := view.OutgoingResponseBody(resp)
	if err != nil {
		return err
	}
	if err := view.SetResponseOutparam(outparam, resp); err != nil {
		return err
	}
	stream, err := view.OutgoingBodyWrite(b)
	if err != nil {
		return err
	}
	if err := view.OutputStreamWrite(stream, []byte(body)); err != nil {
		return err
	}
	view.Drop(stream)
	return view.FinishOutgoingBody(b)
}

func shutdown(t *testing.T, e *Executor) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, e.Shutdown(ctx))
}

func TestExecute_Response(t *testing.T) {
	h := newHarness(t, func(_ context.Context, view *wasihttp.View, _, outparam uint32) error {
		return respond(view, outparam, http.StatusTeapot, "short and stout")
	}, false)

	resp, err := h.execute(t, handler.Latest)
	require.NoError(t, err)
	assert.Equal(t, http.StatusTeapot, resp.Status)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "short and stout", string(body))

	shutdown(t, h.exec)
	assert.Zero(t, h.logs.FilterLevelExact(zapcore.WarnLevel).Len())
	assert.Empty(t, h.stderr.String())
}

func TestExecute_ResponseThenFailureReturnsResponse(t *testing.T) {
	h := newHarness(t, func(_ context.Context, view *wasihttp.View, _, outparam uint32) error {
		if err := respond(view, outparam, http.StatusOK, "ok"); err != nil {
			return err
		}
		return stderrors.New("trap after response")
	}, false)

	resp, err := h.execute(t, handler.Latest)
	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusOK, resp.Status)

	shutdown(t, h.exec)

	warnings := h.logs.FilterMessage("Component error after response started").FilterLevelExact(zapcore.WarnLevel)
	require.Equal(t, 1, warnings.Len())
	assert.Contains(t, h.stderr.String(), "Warning:")
	assert.Contains(t, h.stderr.String(), "trap after response")

	logged := warnings.All()[0].ContextMap()["error"]
	assert.Contains(t, logged, "post_response")
}

func TestExecute_PostResponseErrorOnTerminal(t *testing.T) {
	h := newHarness(t, func(_ context.Context, view *wasihttp.View, _, outparam uint32) error {
		_ = respond(view, outparam, http.StatusOK, "ok")
		return stderrors.New("late")
	}, true)

	_, err := h.execute(t, handler.Latest)
	require.NoError(t, err)
	shutdown(t, h.exec)

	assert.Equal(t, 1, h.logs.FilterMessage("Component error after response started").FilterLevelExact(zapcore.ErrorLevel).Len())
	assert.Empty(t, h.stderr.String())
}

func TestExecute_FailureBeforeResponse(t *testing.T) {
	trap := stderrors.New("unreachable executed")
	h := newHarness(t, func(context.Context, *wasihttp.View, uint32, uint32) error {
		return trap
	}, false)

	resp, err := h.execute(t, handler.Latest)
	require.Error(t, err)
	assert.Nil(t, resp)
	assert.ErrorIs(t, err, errors.ErrGuestError)
	assert.ErrorIs(t, err, trap)

	var e *errors.Error
	require.True(t, stderrors.As(err, &e))
	assert.Equal(t, "hello", e.Component)

	var outer sdktrace.ReadOnlySpan
	for _, s := range h.spans.Ended() {
		if s.Name() == "execute_wasm_component hello" {
			outer = s
		}
	}
	require.NotNil(t, outer)
	assert.Equal(t, codes.Error, outer.Status().Code)
	assert.Contains(t, outer.Attributes(), telemetry.BlameKey.String("guest"))
}

func TestExecute_NoResponse(t *testing.T) {
	h := newHarness(t, func(context.Context, *wasihttp.View, uint32, uint32) error {
		return nil
	}, false)

	_, err := h.execute(t, handler.Latest)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrResponseNotProduced)
	assert.Contains(t, err.Error(), "guest failed to produce a response prior to returning")
}

func TestExecute_ErrorCodeResponse(t *testing.T) {
	h := newHarness(t, func(_ context.Context, view *wasihttp.View, _, outparam uint32) error {
		return view.SetResponseOutparamError(outparam, "internal-error", "")
	}, false)

	_, err := h.execute(t, handler.Latest)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrResponseNotProduced)
	shutdown(t, h.exec)
}

func TestExecute_Panic(t *testing.T) {
	h := newHarness(t, func(context.Context, *wasihttp.View, uint32, uint32) error {
		panic("engine defect")
	}, false)

	_, err := h.execute(t, handler.Latest)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrGuestPanic)
	assert.Contains(t, err.Error(), "engine defect")

	blame, ok := errors.BlameOf(err)
	require.True(t, ok)
	assert.Equal(t, errors.BlameHost, blame)
}

func TestExecute_MissingCapability(t *testing.T) {
	h := newHarness(t, func(context.Context, *wasihttp.View, uint32, uint32) error {
		t.Error("guest must not run")
		return nil
	}, false)
	h.inst.noHTTP = true

	_, err := h.execute(t, handler.Latest)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrHostSetup)
	assert.Contains(t, err.Error(), "missing outbound HTTP capability")
}

type failingHook struct{ err error }

func (h failingHook) PrepareInstance(context.Context, *hooks.InstanceBuilder) error { return h.err }

func TestExecute_HookFailureAbortsInstantiation(t *testing.T) {
	hookErr := stderrors.New("memory ceiling misconfigured")
	h := newHarness(t, func(context.Context, *wasihttp.View, uint32, uint32) error {
		t.Error("guest must not run")
		return nil
	}, false, failingHook{err: hookErr})

	_, err := h.execute(t, handler.Latest)
	require.Error(t, err)
	assert.ErrorIs(t, err, hookErr)
	assert.ErrorIs(t, err, errors.ErrHostSetup)
	assert.Empty(t, h.inst.configs)
}

type disableHTTP struct{}

func (disableHTTP) PrepareInstance(_ context.Context, b *hooks.InstanceBuilder) error {
	b.OutboundHTTP = false
	return nil
}

func TestExecute_HooksShapeInstance(t *testing.T) {
	h := newHarness(t, func(context.Context, *wasihttp.View, uint32, uint32) error { return nil }, false,
		&hooks.MaxInstanceMemory{Limit: 1 << 20}, disableHTTP{})

	_, err := h.execute(t, handler.Latest)
	assert.ErrorIs(t, err, errors.ErrHostSetup)
	require.Len(t, h.inst.configs, 1)
	assert.Equal(t, uint64(1<<20), h.inst.configs[0].MaxMemory)
	assert.False(t, h.inst.configs[0].OutboundHTTP)
}

func TestExecute_WrongHandlerVersion(t *testing.T) {
	h := newHarness(t, func(context.Context, *wasihttp.View, uint32, uint32) error {
		t.Error("guest must not run")
		return nil
	}, false)

	_, err := h.execute(t, handler.V2023_10_18)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrHostSetup)
	assert.Contains(t, err.Error(), handler.V2023_10_18Interface)
}

func TestExecute_GuestSeesDerivedHeaders(t *testing.T) {
	var seen []wasihttp.Field
	h := newHarness(t, func(_ context.Context, view *wasihttp.View, request, outparam uint32) error {
		fields, err := view.IncomingRequestHeaders(request)
		if err != nil {
			return err
		}
		seen, err = view.FieldsEntries(fields)
		if err != nil {
			return err
		}
		return respond(view, outparam, http.StatusOK, "")
	}, false)

	_, err := h.execute(t, handler.Latest)
	require.NoError(t, err)
	shutdown(t, h.exec)

	get := func(name string) string {
		for _, f := range seen {
			if f.Name == name {
				return string(f.Value)
			}
		}
		return ""
	}
	assert.Equal(t, "http://example.com/hello/world?x=1", get("spin-full-url"))
	assert.Equal(t, "/world", get("spin-path-info"))
	assert.Equal(t, "10.0.0.1:4000", get("spin-client-addr"))
	assert.Equal(t, "example.com", get("host"))
}

func TestExecute_MetricsLine(t *testing.T) {
	h := newHarness(t, func(ctx context.Context, view *wasihttp.View, _, outparam uint32) error {
		store, _ := engine.StoreFromContext(ctx)
		store.AddMemoryConsumed(2 * 1024 * 1024)
		return respond(view, outparam, http.StatusOK, "ok")
	}, false)

	_, err := h.execute(t, handler.Latest)
	require.NoError(t, err)
	shutdown(t, h.exec)

	pattern := regexp.MustCompile(`^GET request to /hello/world\?x=1 handled\. Component: hello, Peak memory usage: 2\.0MB, CPU time: \S+, Wall-clock time: \S+$`)
	var found bool
	for _, entry := range h.logs.FilterLevelExact(zapcore.InfoLevel).All() {
		if pattern.MatchString(entry.Message) {
			found = true
		}
	}
	assert.True(t, found, "metrics line not logged")

	assert.Equal(t, uint64(2*1024*1024), h.exec.Tracker().PeakMemory())
	assert.Equal(t, uint64(2*1024*1024), h.exec.Tracker().CurrentMemory())
}

func TestExecute_StoreClosedAfterGuest(t *testing.T) {
	h := newHarness(t, func(_ context.Context, view *wasihttp.View, _, outparam uint32) error {
		fields, _ := view.NewFields()
		resp, _ := view.NewOutgoingResponse(fields)
		body, _ := view.OutgoingResponseBody(resp)
		if err := view.SetResponseOutparam(outparam, resp); err != nil {
			return err
		}
		stream, _ := view.OutgoingBodyWrite(body)
		return view.OutputStreamWrite(stream, []byte("partial"))
	}, false)

	resp, err := h.execute(t, handler.Latest)
	require.NoError(t, err)

	data, err := io.ReadAll(resp.Body)
	assert.Equal(t, "partial", string(data))
	assert.ErrorIs(t, err, wasihttp.ErrBodyIncomplete)
	shutdown(t, h.exec)
}

func TestLoadApp_ConfigureFailure(t *testing.T) {
	exec := New(&fakeInstantiator{})
	exec.AddHooks(&hooks.InitialKVSetter{Pairs: []hooks.KeyValue{{Key: "k", Value: "v"}}})

	_, err := exec.LoadApp(context.Background(), &hooks.App{})
	require.Error(t, err)
	assert.ErrorIs(t, err, hooks.ErrNoStore)
	assert.ErrorIs(t, err, errors.ErrHostSetup)
}

func TestApp_UnknownComponent(t *testing.T) {
	exec := New(&fakeInstantiator{})
	app, err := exec.LoadApp(context.Background(), &hooks.App{})
	require.NoError(t, err)

	_, err = app.InstanceBuilder("nope")
	assert.ErrorIs(t, err, errors.ErrHostSetup)
}

func TestShutdown_RespectsDeadline(t *testing.T) {
	release := make(chan struct{})
	h := newHarness(t, func(_ context.Context, view *wasihttp.View, _, outparam uint32) error {
		if err := respond(view, outparam, http.StatusOK, ""); err != nil {
			return err
		}
		<-release
		return nil
	}, false)

	_, err := h.execute(t, handler.Latest)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, h.exec.Shutdown(ctx), context.DeadlineExceeded)

	close(release)
	shutdown(t, h.exec)
}

func TestShutdown_LaterInvocationsFinishInline(t *testing.T) {
	h := newHarness(t, func(_ context.Context, view *wasihttp.View, _, outparam uint32) error {
		if err := respond(view, outparam, http.StatusOK, "ok"); err != nil {
			return err
		}
		return stderrors.New("late")
	}, false)
	shutdown(t, h.exec)

	resp, err := h.execute(t, handler.Latest)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Status)

	// no monitor was started, so the failure is logged before Execute returns
	assert.Equal(t, 1, h.logs.FilterMessage("Component error after response started").Len())
	shutdown(t, h.exec)
}
