package config

import (
	"fmt"
)

// Args are the trigger's command-line arguments.
type Args struct {
	Wasm        string `mapstructure:"wasm" validate:"required"`
	ComponentID string `mapstructure:"component-id" validate:"required"`
	Route       string `mapstructure:"route" validate:"required,startswith=/"`
	Listen      string `mapstructure:"listen" validate:"required,hostname_port"`
	// HandlerType forces the handler version; empty detects it from exports.
	HandlerType string `mapstructure:"handler-type" validate:"omitempty,oneof=latest 2023-11-10 2023-10-18"`

	KeyValues        []string `mapstructure:"key-value" validate:"dive,contains=="`
	SQLiteStatements []string `mapstructure:"sqlite" validate:"dive,required"`
	KeyValueStores   []string `mapstructure:"key-value-store" validate:"dive,required"`
	SQLiteDatabases  []string `mapstructure:"sqlite-database" validate:"dive,required"`
	Follow           []string `mapstructure:"follow"`

	LogDir            string `mapstructure:"log-dir"`
	StateDir          string `mapstructure:"state-dir"`
	RuntimeConfigFile string `mapstructure:"runtime-config-file" validate:"omitempty,file"`

	// MaxInstanceMemory overrides the runtime config; 0 means unset.
	MaxInstanceMemory uint64 `mapstructure:"max-instance-memory"`
	TruncateLogs      bool   `mapstructure:"truncate-logs"`
	Dashboard         bool   `mapstructure:"dashboard"`
}

// Validate checks the arguments.
func (a *Args) Validate() error {
	if err := validate.Struct(a); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	return nil
}

// MaxInstanceMemory returns the memory ceiling and whether one is set. The
// command-line override wins over the runtime config.
func MaxInstanceMemory(args *Args, resolved *Resolved) (uint64, bool) {
	if args != nil && args.MaxInstanceMemory > 0 {
		return args.MaxInstanceMemory, true
	}
	if resolved != nil && resolved.Runtime.MaxInstanceMemory != nil {
		return *resolved.Runtime.MaxInstanceMemory, true
	}
	return 0, false
}
