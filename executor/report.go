package executor

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-http-trigger/engine"
)

// report logs the per-invocation metrics line and feeds the tracker.
func (e *Executor) report(inv invocation, store *engine.Store) {
	consumed := store.MemoryConsumed()
	e.tracker.UpdateMemory(consumed)

	e.logger.Info(fmt.Sprintf(
		"%s request to %s handled. Component: %s, Peak memory usage: %s, CPU time: %s, Wall-clock time: %s",
		inv.method,
		inv.uri,
		inv.component,
		FormatBytes(consumed),
		formatDuration(store.CPUTimeElapsed()),
		formatDuration(time.Since(inv.start)),
	), zap.String("invocation", inv.id))
}

// FormatBytes renders n with a binary unit and one decimal.
func FormatBytes(n uint64) string {
	const (
		kb = 1024
		mb = kb * 1024
		gb = mb * 1024
	)
	switch {
	case n < kb:
		return fmt.Sprintf("%dB", n)
	case n < mb:
		return fmt.Sprintf("%.1fKB", float64(n)/kb)
	case n < gb:
		return fmt.Sprintf("%.1fMB", float64(n)/mb)
	default:
		return fmt.Sprintf("%.1fGB", float64(n)/gb)
	}
}

// formatDuration renders whole seconds with two decimals, otherwise
// microseconds. The millisecond branch is only reached for durations of at
// least one second, which the seconds branch already takes.
func formatDuration(d time.Duration) string {
	secs := int64(d / time.Second)
	ms := d.Milliseconds()
	switch {
	case secs > 0:
		return fmt.Sprintf("%.2fs", d.Seconds())
	case ms >= 1000:
		return fmt.Sprintf("%dms", ms)
	default:
		return fmt.Sprintf("%dµs", d.Microseconds())
	}
}
