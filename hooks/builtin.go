package hooks

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-http-trigger/keyvalue"
	"github.com/wippyai/wasm-http-trigger/sqlite"
	"github.com/wippyai/wasm-http-trigger/tracker"
)

// ErrNoStore is returned when a seeding hook has work but the app has no
// store to apply it to.
var ErrNoStore = errors.New("no default store configured")

// SQLStatementExecutor runs statements against the default database when the
// app is configured. A statement starting with "@" names a file whose
// contents are executed instead.
type SQLStatementExecutor struct {
	Statements []string
}

func (*SQLStatementExecutor) Name() string { return "sqlite-statements" }

func (h *SQLStatementExecutor) ConfigureApp(ctx context.Context, app *App) error {
	if len(h.Statements) == 0 {
		return nil
	}
	if app.SQLite == nil {
		return fmt.Errorf("sqlite: %w", ErrNoStore)
	}
	for _, stmt := range h.Statements {
		if path, ok := strings.CutPrefix(stmt, "@"); ok {
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("read sql file: %w", err)
			}
			stmt = string(data)
		}
		if err := app.SQLite.Execute(ctx, sqlite.DefaultLabel, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (*SQLStatementExecutor) PrepareInstance(context.Context, *InstanceBuilder) error { return nil }

// KeyValue is one seed entry.
type KeyValue struct {
	Key   string
	Value string
}

// ParseKeyValue parses "key=value".
func ParseKeyValue(s string) (KeyValue, error) {
	k, v, ok := strings.Cut(s, "=")
	if !ok || k == "" {
		return KeyValue{}, fmt.Errorf("invalid key-value %q: want key=value", s)
	}
	return KeyValue{Key: k, Value: v}, nil
}

// InitialKVSetter writes seed entries into the default key-value store when
// the app is configured.
type InitialKVSetter struct {
	Pairs []KeyValue
}

func (*InitialKVSetter) Name() string { return "key-value-seed" }

func (h *InitialKVSetter) ConfigureApp(ctx context.Context, app *App) error {
	if len(h.Pairs) == 0 {
		return nil
	}
	if app.KeyValue == nil {
		return fmt.Errorf("key-value: %w", ErrNoStore)
	}
	store, err := app.KeyValue.Open(keyvalue.DefaultLabel, []string{keyvalue.DefaultLabel})
	if err != nil {
		return err
	}
	for _, kv := range h.Pairs {
		if err := store.Set(ctx, kv.Key, []byte(kv.Value)); err != nil {
			return err
		}
	}
	return nil
}

func (*InitialKVSetter) PrepareInstance(context.Context, *InstanceBuilder) error { return nil }

// SQLiteDefaultStoreSummary logs where the default database lives if any
// component uses it.
type SQLiteDefaultStoreSummary struct{}

func (SQLiteDefaultStoreSummary) Name() string { return "sqlite-summary" }

func (SQLiteDefaultStoreSummary) ConfigureApp(_ context.Context, app *App) error {
	if app.SQLite == nil {
		return nil
	}
	for _, c := range app.Components {
		if c.UsesSQLite(sqlite.DefaultLabel) {
			Logger().Info("Storing default SQLite data", zap.String("location", app.SQLite.DefaultLocation()))
			return nil
		}
	}
	return nil
}

func (SQLiteDefaultStoreSummary) PrepareInstance(context.Context, *InstanceBuilder) error { return nil }

// KeyValueDefaultStoreSummary logs where the default key-value store lives if
// any component uses it.
type KeyValueDefaultStoreSummary struct{}

func (KeyValueDefaultStoreSummary) Name() string { return "key-value-summary" }

func (KeyValueDefaultStoreSummary) ConfigureApp(_ context.Context, app *App) error {
	if app.KeyValue == nil {
		return nil
	}
	for _, c := range app.Components {
		if c.UsesKeyValue(keyvalue.DefaultLabel) {
			Logger().Info("Storing default key-value data", zap.String("location", app.KeyValue.DefaultLocation()))
			return nil
		}
	}
	return nil
}

func (KeyValueDefaultStoreSummary) PrepareInstance(context.Context, *InstanceBuilder) error {
	return nil
}

// MemoryTracker counts prepared instances.
type MemoryTracker struct {
	Tracker *tracker.MemoryTracker
}

func (*MemoryTracker) Name() string { return "memory-tracker" }

func (h *MemoryTracker) PrepareInstance(context.Context, *InstanceBuilder) error {
	h.Tracker.IncrementInstanceCount()
	return nil
}

// MaxInstanceMemory caps every instance's linear memory.
type MaxInstanceMemory struct {
	Limit uint64
}

func (*MaxInstanceMemory) Name() string { return "max-instance-memory" }

func (h *MaxInstanceMemory) PrepareInstance(_ context.Context, b *InstanceBuilder) error {
	b.MaxMemory = h.Limit
	return nil
}

// Options selects the built-in hooks.
type Options struct {
	Stdio         *StdioLogging
	Tracker       *tracker.MemoryTracker
	SQLStatements []string
	KeyValues     []KeyValue

	// MaxInstanceMemory registers the memory cap when non-zero.
	MaxInstanceMemory uint64
}

// Builtin returns the built-in hooks in their canonical order.
func Builtin(o Options) *Chain {
	c := NewChain()
	if o.Stdio != nil {
		c.Add(o.Stdio)
	}
	c.Add(
		&SQLStatementExecutor{Statements: o.SQLStatements},
		&InitialKVSetter{Pairs: o.KeyValues},
		SQLiteDefaultStoreSummary{},
		KeyValueDefaultStoreSummary{},
	)
	if o.Tracker != nil {
		c.Add(&MemoryTracker{Tracker: o.Tracker})
	}
	if o.MaxInstanceMemory > 0 {
		c.Add(&MaxInstanceMemory{Limit: o.MaxInstanceMemory})
	}
	return c
}
