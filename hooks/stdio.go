package hooks

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"go.uber.org/zap"
)

// StdioLogging routes guest stdout and stderr. Followed components write to
// the process streams; with a log directory every component also appends to
// <dir>/<component>_stdout.txt and _stderr.txt.
type StdioLogging struct {
	Stdout io.Writer
	Stderr io.Writer

	files map[string]*lockedWriter

	// Follow lists component ids to follow; "*" follows all.
	Follow []string
	LogDir string

	mu sync.Mutex

	// TruncateLogs empties the log files once when the app is configured.
	TruncateLogs bool
}

func (*StdioLogging) Name() string { return "stdio-logging" }

func (h *StdioLogging) follows(id string) bool {
	return slices.Contains(h.Follow, "*") || slices.Contains(h.Follow, id)
}

// ConfigureApp creates the log directory and opens every component's files.
func (h *StdioLogging) ConfigureApp(_ context.Context, app *App) error {
	if h.LogDir == "" {
		return nil
	}
	if err := os.MkdirAll(h.LogDir, 0o755); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}

	flags := os.O_CREATE | os.O_WRONLY | os.O_APPEND
	if h.TruncateLogs {
		flags |= os.O_TRUNC
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.files == nil {
		h.files = make(map[string]*lockedWriter)
	}
	for _, c := range app.Components {
		for _, stream := range []string{"stdout", "stderr"} {
			path := filepath.Join(h.LogDir, c.ID+"_"+stream+".txt")
			f, err := os.OpenFile(path, flags, 0o644)
			if err != nil {
				return fmt.Errorf("open %s: %w", path, err)
			}
			h.files[c.ID+"_"+stream] = &lockedWriter{w: f, c: f}
		}
	}
	Logger().Info("Logging component stdio", zap.String("dir", h.LogDir))
	return nil
}

// PrepareInstance wires the builder's writers.
func (h *StdioLogging) PrepareInstance(_ context.Context, b *InstanceBuilder) error {
	b.Stdout = h.writer(b.ComponentID, "stdout", h.Stdout)
	b.Stderr = h.writer(b.ComponentID, "stderr", h.Stderr)
	return nil
}

func (h *StdioLogging) writer(id, stream string, process io.Writer) io.Writer {
	var ws []io.Writer
	if process != nil && h.follows(id) {
		ws = append(ws, process)
	}
	h.mu.Lock()
	if f, ok := h.files[id+"_"+stream]; ok {
		ws = append(ws, f)
	}
	h.mu.Unlock()

	switch len(ws) {
	case 0:
		return io.Discard
	case 1:
		return ws[0]
	default:
		return io.MultiWriter(ws...)
	}
}

// Close closes the log files.
func (h *StdioLogging) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	var errs []error
	for key, f := range h.files {
		errs = append(errs, f.Close())
		delete(h.files, key)
	}
	return errors.Join(errs...)
}

// lockedWriter serializes writes from concurrent instances.
type lockedWriter struct {
	w  io.Writer
	c  io.Closer
	mu sync.Mutex
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

func (l *lockedWriter) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.c.Close()
}
