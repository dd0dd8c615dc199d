// Package config loads the trigger's runtime configuration and CLI arguments.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/go-playground/validator/v10"
	"github.com/invopop/jsonschema"
	"github.com/pelletier/go-toml/v2"
	"go.uber.org/zap"
)

var validate = validator.New()

// StoreConfig configures one labelled store.
type StoreConfig struct {
	Type string `toml:"type" json:"type" validate:"required,oneof=spin" jsonschema:"enum=spin,description=Store implementation"`
	Path string `toml:"path,omitempty" json:"path,omitempty" jsonschema:"description=Database file; relative to the runtime config file"`
}

// RuntimeConfig is the TOML runtime configuration file.
type RuntimeConfig struct {
	// MaxInstanceMemory caps guest linear memory in bytes.
	MaxInstanceMemory *uint64 `toml:"max_instance_memory,omitempty" json:"max_instance_memory,omitempty" validate:"omitempty,gt=0" jsonschema:"description=Maximum linear memory per instance in bytes"`

	KeyValueStores  map[string]StoreConfig `toml:"key_value_store,omitempty" json:"key_value_store,omitempty" validate:"dive"`
	SQLiteDatabases map[string]StoreConfig `toml:"sqlite_database,omitempty" json:"sqlite_database,omitempty" validate:"dive"`
}

// LoadRuntimeConfig reads and validates a runtime config file. An empty path
// yields an empty config.
func LoadRuntimeConfig(path string) (*RuntimeConfig, error) {
	if path == "" {
		return &RuntimeConfig{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read runtime config: %w", err)
	}
	return ParseRuntimeConfig(data)
}

// ParseRuntimeConfig decodes and validates TOML runtime config.
func ParseRuntimeConfig(data []byte) (*RuntimeConfig, error) {
	var rc RuntimeConfig
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&rc); err != nil {
		return nil, fmt.Errorf("parse runtime config: %w", err)
	}
	if err := validate.Struct(&rc); err != nil {
		return nil, fmt.Errorf("invalid runtime config: %w", err)
	}
	return &rc, nil
}

// Schema returns the JSON schema of the runtime config file.
func Schema() ([]byte, error) {
	reflector := jsonschema.Reflector{ExpandedStruct: true}
	schema := reflector.Reflect(&RuntimeConfig{})
	out, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	return out, nil
}

const (
	defaultKeyValueFile = "sqlite_key_value.db"
	defaultSQLiteFile   = "sqlite_db.db"
	defaultLabel        = "default"
)

// Resolved is a runtime config bound to the directories it is used from.
type Resolved struct {
	Runtime *RuntimeConfig
	File    string
	// StateDir holds default store files. Empty keeps them in memory.
	StateDir string
	LogDir   string
}

// Resolve loads the runtime config file, if any, and binds it to the state
// and log directories.
func Resolve(file, stateDir, logDir string) (*Resolved, error) {
	rc, err := LoadRuntimeConfig(file)
	if err != nil {
		return nil, err
	}
	return &Resolved{Runtime: rc, File: file, StateDir: stateDir, LogDir: logDir}, nil
}

func (r *Resolved) path(p string) string {
	if p == "" || filepath.IsAbs(p) || r.File == "" {
		return p
	}
	return filepath.Join(filepath.Dir(r.File), p)
}

// KeyValuePath returns the database file of the default key-value store, or
// "" for an in-memory store.
func (r *Resolved) KeyValuePath() string {
	if sc, ok := r.Runtime.KeyValueStores[defaultLabel]; ok && sc.Path != "" {
		return r.path(sc.Path)
	}
	if r.StateDir == "" {
		return ""
	}
	return filepath.Join(r.StateDir, defaultKeyValueFile)
}

// KeyValueLabels returns every configured key-value label including the
// default, sorted.
func (r *Resolved) KeyValueLabels() []string {
	return labels(r.Runtime.KeyValueStores)
}

// SQLitePaths maps every database label, including the default, to its file.
// An empty file means in memory.
func (r *Resolved) SQLitePaths() map[string]string {
	paths := map[string]string{defaultLabel: ""}
	if r.StateDir != "" {
		paths[defaultLabel] = filepath.Join(r.StateDir, defaultSQLiteFile)
	}
	for label, sc := range r.Runtime.SQLiteDatabases {
		paths[label] = r.path(sc.Path)
	}
	return paths
}

func labels(m map[string]StoreConfig) []string {
	out := []string{defaultLabel}
	for l := range m {
		if l != defaultLabel {
			out = append(out, l)
		}
	}
	sort.Strings(out)
	return out
}

// Summarize logs where runtime data lives.
func (r *Resolved) Summarize(logger *zap.Logger) {
	fields := []zap.Field{zap.String("state_dir", orMemory(r.StateDir))}
	if r.File != "" {
		fields = append(fields, zap.String("runtime_config", r.File))
	}
	if r.LogDir != "" {
		fields = append(fields, zap.String("log_dir", r.LogDir))
	}
	logger.Info("Runtime configuration resolved", fields...)
}

func orMemory(p string) string {
	if p == "" {
		return "in memory"
	}
	return p
}
