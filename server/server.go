// Package server exposes one component route over HTTP.
package server

import (
	"io"
	"net/http"
	"net/netip"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-http-trigger/executor"
	"github.com/wippyai/wasm-http-trigger/handler"
	"github.com/wippyai/wasm-http-trigger/routes"
	"github.com/wippyai/wasm-http-trigger/wasihttp"
)

// Server is an http.Handler running every matching request through a fresh
// guest instance.
type Server struct {
	wasi   *executor.WasiHTTPExecutor
	app    *executor.App
	route  *routes.Route
	logger *zap.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger. The package logger is used otherwise.
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// New creates a server for route, dispatching to guests of handler version t.
func New(exec *executor.Executor, app *executor.App, route *routes.Route, t handler.Type, opts ...Option) *Server {
	s := &Server{
		wasi:  exec.WasiHTTP(t),
		app:   app,
		route: route,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = Logger()
	}
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	match, ok := s.route.Match(r.URL.Path)
	if !ok {
		http.NotFound(w, r)
		return
	}

	builder, err := s.app.InstanceBuilder(match.ComponentID())
	if err != nil {
		s.fail(w, r, err)
		return
	}

	resp, err := s.wasi.Execute(r.Context(), builder, match, r, clientAddr(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.stream(w, r, resp)
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	s.logger.Error("Error processing request",
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.Error(err))
	http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
}

func (s *Server) stream(w http.ResponseWriter, r *http.Request, resp *wasihttp.Response) {
	defer resp.Body.Close()

	for name, values := range resp.Header {
		for _, v := range values {
			w.Header().Add(name, v)
		}
	}
	w.WriteHeader(resp.Status)

	flusher, _ := w.(http.Flusher)
	buf := make([]byte, 32*1024)
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				s.logger.Debug("client went away", zap.String("path", r.URL.Path), zap.Error(werr))
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if err == io.EOF {
			return
		}
		if err != nil {
			s.logger.Warn("Response body failed",
				zap.String("path", r.URL.Path),
				zap.Error(err))
			return
		}
	}
}

// clientAddr parses the peer address. Unparseable addresses yield the zero
// value.
func clientAddr(r *http.Request) netip.AddrPort {
	ap, err := netip.ParseAddrPort(r.RemoteAddr)
	if err != nil {
		return netip.AddrPort{}
	}
	return ap
}
