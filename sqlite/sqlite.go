// Package sqlite provides the labelled sqlite databases granted to guests.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"

	_ "modernc.org/sqlite"
)

// DefaultLabel is the database every component may be granted without
// runtime configuration.
const DefaultLabel = "default"

// ErrNoSuchDatabase is returned for labels that were never configured.
var ErrNoSuchDatabase = errors.New("no such sqlite database")

// Manager lazily opens one connection pool per label.
type Manager struct {
	paths map[string]string
	dbs   map[string]*sql.DB
	mu    sync.Mutex
}

// New creates a manager. paths maps labels to database files; an empty path
// is an in-memory database.
func New(paths map[string]string) *Manager {
	p := make(map[string]string, len(paths))
	for label, path := range paths {
		p[label] = path
	}
	return &Manager{paths: p, dbs: make(map[string]*sql.DB)}
}

// Labels returns the configured labels, sorted.
func (m *Manager) Labels() []string {
	labels := make([]string, 0, len(m.paths))
	for l := range m.paths {
		labels = append(labels, l)
	}
	sort.Strings(labels)
	return labels
}

// Location describes where the database for label lives.
func (m *Manager) Location(label string) (string, bool) {
	path, ok := m.paths[label]
	if !ok {
		return "", false
	}
	if path == "" {
		return "in memory", true
	}
	return path, true
}

// DefaultLocation describes where the default database lives.
func (m *Manager) DefaultLocation() string {
	loc, ok := m.Location(DefaultLabel)
	if !ok {
		return "not configured"
	}
	return loc
}

// DB returns the connection pool for label, opening it on first use.
func (m *Manager) DB(ctx context.Context, label string) (*sql.DB, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if db, ok := m.dbs[label]; ok {
		return db, nil
	}
	path, ok := m.paths[label]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNoSuchDatabase, label)
	}

	dsn := path
	if dsn == "" {
		dsn = ":memory:"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database %q: %w", label, err)
	}
	if path == "" {
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open sqlite database %q: %w", label, err)
	}
	m.dbs[label] = db
	return db, nil
}

// Execute runs a statement against the database for label.
func (m *Manager) Execute(ctx context.Context, label, stmt string, args ...any) error {
	db, err := m.DB(ctx, label)
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, stmt, args...); err != nil {
		return fmt.Errorf("execute on %q: %w", label, err)
	}
	return nil
}

// Close closes every opened database.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for label, db := range m.dbs {
		if err := db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %q: %w", label, err))
		}
		delete(m.dbs, label)
	}
	return errors.Join(errs...)
}
