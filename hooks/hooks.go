package hooks

import (
	"context"
	"fmt"
	"io"
	"slices"

	"github.com/wippyai/wasm-http-trigger/engine"
	"github.com/wippyai/wasm-http-trigger/keyvalue"
	"github.com/wippyai/wasm-http-trigger/sqlite"
)

// Component is the per-component configuration hooks can see.
type Component struct {
	ID              string
	KeyValueStores  []string
	SQLiteDatabases []string
}

// UsesKeyValue reports whether the component is granted the labelled store.
func (c Component) UsesKeyValue(label string) bool {
	return slices.Contains(c.KeyValueStores, label)
}

// UsesSQLite reports whether the component is granted the labelled database.
func (c Component) UsesSQLite(label string) bool {
	return slices.Contains(c.SQLiteDatabases, label)
}

// App is the loaded application as seen by configuration hooks.
type App struct {
	KeyValue   *keyvalue.Manager
	SQLite     *sqlite.Manager
	Components []Component
}

// Component returns the component with the given id.
func (a *App) Component(id string) (Component, bool) {
	for _, c := range a.Components {
		if c.ID == id {
			return c, true
		}
	}
	return Component{}, false
}

// InstanceBuilder collects the settings of an instance about to be created.
type InstanceBuilder struct {
	Stdout io.Writer
	Stderr io.Writer

	KeyValue *keyvalue.Manager
	// KeyValueStores are the labels the guest may open.
	KeyValueStores []string

	ComponentID string

	// MaxMemory caps linear memory in bytes; 0 means no cap.
	MaxMemory uint64

	// OutboundHTTP grants the wasi:http capability. It starts enabled.
	OutboundHTTP bool
}

// NewInstanceBuilder creates a builder with the app's key-value stores, the
// labels the component is granted and outbound HTTP enabled.
func NewInstanceBuilder(app *App, componentID string) *InstanceBuilder {
	b := &InstanceBuilder{ComponentID: componentID, OutboundHTTP: true}
	if app != nil {
		b.KeyValue = app.KeyValue
		if c, ok := app.Component(componentID); ok {
			b.KeyValueStores = slices.Clone(c.KeyValueStores)
		}
	}
	return b
}

// InstanceConfig converts the builder into an engine configuration.
func (b *InstanceBuilder) InstanceConfig() engine.InstanceConfig {
	return engine.InstanceConfig{
		Stdout:         b.Stdout,
		Stderr:         b.Stderr,
		KeyValue:       b.KeyValue,
		KeyValueStores: b.KeyValueStores,
		MaxMemory:      b.MaxMemory,
		OutboundHTTP:   b.OutboundHTTP,
	}
}

// Hook runs before every instance is created.
type Hook interface {
	PrepareInstance(ctx context.Context, b *InstanceBuilder) error
}

// AppConfigurer is implemented by hooks that also run once at app load.
type AppConfigurer interface {
	ConfigureApp(ctx context.Context, app *App) error
}

// Named hooks report their name in chain errors.
type Named interface {
	Name() string
}

func hookName(h Hook) string {
	if n, ok := h.(Named); ok {
		return n.Name()
	}
	return fmt.Sprintf("%T", h)
}

// Chain is an ordered list of hooks.
type Chain struct {
	hooks []Hook
}

// NewChain creates a chain with the given hooks in order.
func NewChain(hooks ...Hook) *Chain {
	c := &Chain{}
	c.Add(hooks...)
	return c
}

// Add appends hooks. Nil hooks are skipped.
func (c *Chain) Add(hooks ...Hook) {
	for _, h := range hooks {
		if h != nil {
			c.hooks = append(c.hooks, h)
		}
	}
}

// Len returns the number of hooks.
func (c *Chain) Len() int { return len(c.hooks) }

// Hooks returns a copy of the hooks in order.
func (c *Chain) Hooks() []Hook {
	return slices.Clone(c.hooks)
}

// Names returns the hook names in order.
func (c *Chain) Names() []string {
	names := make([]string, len(c.hooks))
	for i, h := range c.hooks {
		names[i] = hookName(h)
	}
	return names
}

// ConfigureApp runs every AppConfigurer in order and stops at the first error.
func (c *Chain) ConfigureApp(ctx context.Context, app *App) error {
	for _, h := range c.hooks {
		ac, ok := h.(AppConfigurer)
		if !ok {
			continue
		}
		if err := ac.ConfigureApp(ctx, app); err != nil {
			return fmt.Errorf("%s: %w", hookName(h), err)
		}
	}
	return nil
}

// PrepareInstance runs every hook in order and stops at the first error.
func (c *Chain) PrepareInstance(ctx context.Context, b *InstanceBuilder) error {
	for _, h := range c.hooks {
		if err := h.PrepareInstance(ctx, b); err != nil {
			return fmt.Errorf("%s: %w", hookName(h), err)
		}
	}
	return nil
}
