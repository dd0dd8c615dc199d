// Package keyvalue provides the labelled key-value stores granted to guests.
//
// All stores of a Manager live in one sqlite database, either a file under the
// state directory or an in-memory database.
package keyvalue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"sync"

	_ "modernc.org/sqlite"
)

// DefaultLabel is the store every component may be granted without runtime
// configuration.
const DefaultLabel = "default"

var (
	ErrNoSuchStore  = errors.New("no such key-value store")
	ErrAccessDenied = errors.New("access to key-value store denied")
)

const schema = `CREATE TABLE IF NOT EXISTS key_value (
	store TEXT NOT NULL,
	key   TEXT NOT NULL,
	value BLOB NOT NULL,
	PRIMARY KEY (store, key)
)`

// Manager owns the backing database and the set of known labels.
type Manager struct {
	db     *sql.DB
	path   string
	labels []string
	mu     sync.RWMutex
}

// Open opens the database at path, or an in-memory database when path is
// empty, and registers the given labels.
func Open(ctx context.Context, path string, labels ...string) (*Manager, error) {
	dsn := path
	if dsn == "" {
		dsn = ":memory:"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open key-value database: %w", err)
	}
	if path == "" {
		// every connection would get its own in-memory database
		db.SetMaxOpenConns(1)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create key-value schema: %w", err)
	}

	m := &Manager{db: db, path: path}
	for _, l := range labels {
		m.Register(l)
	}
	return m, nil
}

// Register adds a label.
func (m *Manager) Register(label string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !slices.Contains(m.labels, label) {
		m.labels = append(m.labels, label)
	}
}

// Labels returns the registered labels.
func (m *Manager) Labels() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.labels)
}

// DefaultLocation describes where the data lives.
func (m *Manager) DefaultLocation() string {
	if m.path == "" {
		return "in memory"
	}
	return m.path
}

// Open returns the store for label if it is registered and in allowed.
func (m *Manager) Open(label string, allowed []string) (*Store, error) {
	m.mu.RLock()
	known := slices.Contains(m.labels, label)
	m.mu.RUnlock()
	if !known {
		return nil, fmt.Errorf("%w: %q", ErrNoSuchStore, label)
	}
	if !slices.Contains(allowed, label) {
		return nil, fmt.Errorf("%w: %q", ErrAccessDenied, label)
	}
	return &Store{db: m.db, label: label}, nil
}

// Close closes the database.
func (m *Manager) Close() error {
	return m.db.Close()
}

// Store is one labelled key-value store.
type Store struct {
	db    *sql.DB
	label string
}

// Label returns the store's label.
func (s *Store) Label() string { return s.label }

// Get returns the value for key and whether it exists.
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM key_value WHERE store = ? AND key = ?`, s.label, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get %q: %w", key, err)
	}
	return value, true, nil
}

// Set stores value under key, replacing any previous value.
func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO key_value (store, key, value) VALUES (?, ?, ?)
		 ON CONFLICT (store, key) DO UPDATE SET value = excluded.value`, s.label, key, value)
	if err != nil {
		return fmt.Errorf("set %q: %w", key, err)
	}
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM key_value WHERE store = ? AND key = ?`, s.label, key); err != nil {
		return fmt.Errorf("delete %q: %w", key, err)
	}
	return nil
}

// Exists reports whether key is set.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	_, ok, err := s.Get(ctx, key)
	return ok, err
}

// Keys returns every key in the store, sorted.
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key FROM key_value WHERE store = ? ORDER BY key`, s.label)
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("list keys: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}
