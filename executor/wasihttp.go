package executor

import (
	"context"
	"io"
	"net/http"
	"net/netip"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"
	"github.com/sourcegraph/conc/panics"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-http-trigger/engine"
	"github.com/wippyai/wasm-http-trigger/errors"
	"github.com/wippyai/wasm-http-trigger/handler"
	"github.com/wippyai/wasm-http-trigger/headers"
	"github.com/wippyai/wasm-http-trigger/routes"
	"github.com/wippyai/wasm-http-trigger/telemetry"
	"github.com/wippyai/wasm-http-trigger/wasihttp"
)

// BodyReadTimeout bounds every read of the request body by the guest.
const BodyReadTimeout = 600 * time.Second

const noResponse = "guest failed to produce a response prior to returning"

// InstanceBuilder yields the instance for one invocation.
type InstanceBuilder interface {
	Instantiate(ctx context.Context) (engine.Exports, *engine.Store, error)
}

// WasiHTTPExecutor executes requests against wasi:http guests of one handler
// version.
type WasiHTTPExecutor struct {
	exec        *Executor
	HandlerType handler.Type
}

// WasiHTTP returns an executor for guests of the given handler version.
func (e *Executor) WasiHTTP(t handler.Type) *WasiHTTPExecutor {
	return &WasiHTTPExecutor{exec: e, HandlerType: t}
}

type invocation struct {
	start     time.Time
	id        string
	component string
	method    string
	uri       string
}

// Execute runs req through a fresh guest and returns the guest's response or
// a classified error, never both.
func (w *WasiHTTPExecutor) Execute(
	ctx context.Context,
	builder InstanceBuilder,
	route *routes.RouteMatch,
	req *http.Request,
	clientAddr netip.AddrPort,
) (resp *wasihttp.Response, err error) {
	inv := invocation{
		start:     time.Now(),
		id:        uuid.NewString(),
		component: route.ComponentID(),
		method:    req.Method,
		uri:       req.RequestURI,
	}
	if req.URL != nil {
		inv.uri = req.URL.RequestURI()
	}

	ctx, span := telemetry.Tracer().Start(ctx, "execute_wasm_component "+inv.component,
		trace.WithAttributes(attribute.String("invocation.id", inv.id)))
	defer func() {
		if err != nil {
			err = errors.WithComponent(err, inv.component)
			telemetry.MarkError(span, err)
		}
		span.End()
	}()

	exports, store, err := builder.Instantiate(ctx)
	if err != nil {
		if _, ok := errors.KindOf(err); ok {
			return nil, err
		}
		return nil, errors.HostSetup(errors.PhaseInstantiate, err, "failed to instantiate component")
	}

	derived, err := headers.Prepare(req, route, clientAddr)
	if err != nil {
		_ = store.Close()
		return nil, errors.HeaderPrep(err)
	}
	if dropped := headers.Replace(req.Header, derived); dropped > 0 {
		w.exec.logger.Debug("dropped invalid headers",
			zap.String("component", inv.component),
			zap.Int("count", dropped))
	}

	view := store.HTTP()
	if view == nil {
		_ = store.Close()
		return nil, errors.HostSetup(errors.PhaseInstantiate, nil, "missing outbound HTTP capability")
	}

	body := wasihttp.NewIncomingBody(req.Body, BodyReadTimeout)
	head := req.Clone(ctx)
	head.Body = http.NoBody

	reqHandle, err := view.NewIncomingRequest(head, body)
	if err != nil {
		_ = store.Close()
		return nil, errors.HostSetup(errors.PhaseDispatch, err, "failed to register request")
	}
	outparam, signal, err := view.NewResponseOutparam()
	if err != nil {
		_ = store.Close()
		return nil, errors.HostSetup(errors.PhaseDispatch, err, "failed to register response outparam")
	}

	proxy, err := w.HandlerType.Load(exports)
	if err != nil {
		_ = store.Close()
		return nil, errors.HostSetup(errors.PhaseDispatch, err, "failed to load handler")
	}

	done := make(chan error, 1)
	taskCtx := context.WithoutCancel(ctx)
	go func() {
		done <- w.exec.runGuest(taskCtx, inv, proxy, store, reqHandle, outparam)
	}()

	res, ok := <-signal
	if ok {
		w.exec.detach(inv, done)
		if res.Err != nil {
			return nil, errors.ResponseNotProduced(res.Err, "guest failed to produce a response")
		}
		return res.Response, nil
	}

	if err := <-done; err != nil {
		return nil, err
	}
	return nil, errors.ResponseNotProduced(nil, noResponse)
}

// runGuest calls the handler, reports metrics and closes the store. Closing
// the store closes the response signal if the guest never set it.
func (e *Executor) runGuest(
	ctx context.Context,
	inv invocation,
	proxy *handler.Proxy,
	store *engine.Store,
	request, outparam uint32,
) error {
	ctx, span := telemetry.Tracer().Start(ctx, "execute_wasi")
	defer span.End()

	var callErr error
	recovered := panics.Try(func() {
		callErr = proxy.CallHandle(ctx, store, request, outparam)
	})

	var err error
	switch {
	case recovered != nil:
		err = errors.GuestPanic(recovered.Value)
		e.logger.Debug("guest invocation panicked",
			zap.String("invocation", inv.id),
			zap.String("stack", string(recovered.Stack)))
	case callErr != nil:
		err = errors.GuestError(callErr)
	}
	if err != nil {
		err = errors.WithComponent(err, inv.component)
		telemetry.MarkError(span, err)
	}

	e.report(inv, store)
	_ = store.Close()
	return err
}

// detach hands the running guest to a monitor that logs a late failure.
// Once the executor is shut down the caller waits for the guest instead.
func (e *Executor) detach(inv invocation, done <-chan error) {
	monitor := func() {
		if err := <-done; err != nil {
			e.postResponseError(inv, errors.PostResponse(err))
		}
	}

	e.mu.Lock()
	closed := e.closed
	if !closed {
		e.monitors.Go(monitor)
	}
	e.mu.Unlock()
	if closed {
		monitor()
	}
}

var warningStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("3"))

func (e *Executor) postResponseError(inv invocation, err error) {
	fields := []zap.Field{
		zap.String("component", inv.component),
		zap.String("invocation", inv.id),
		zap.Error(err),
	}
	if e.isTerminal() {
		e.logger.Error("Component error after response started", fields...)
		return
	}
	_, _ = io.WriteString(e.stderr, warningStyle.Render("Warning:")+" component error after response started: "+err.Error()+"\n")
	e.logger.Warn("Component error after response started", fields...)
}
