// Package storage defines the database-backed connection string store.
// Two backends are provided: SQLite (default, zero-config) and PostgreSQL.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jkaninda/echoservice/internal/connection"
)

// ErrNotFound is returned when no connection string has the given name.
var ErrNotFound = errors.New("connection string not found")

// ConnectionString is a stored named connection string. Value may hold
// secret references; it is stored as given.
type ConnectionString struct {
	Name      string    `json:"name"`
	Value     string    `json:"value"`
	Provider  string    `json:"provider,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ConnectionStringStore persists named connection strings. Names are
// matched case-insensitively.
type ConnectionStringStore interface {
	Get(ctx context.Context, name string) (*ConnectionString, error)
	List(ctx context.Context) ([]ConnectionString, error)
	// Put creates or replaces the entry with the same name.
	Put(ctx context.Context, cs *ConnectionString) error
	Delete(ctx context.Context, name string) error
}

// Store is implemented by both backends.
type Store interface {
	ConnectionStrings() ConnectionStringStore

	Ping(ctx context.Context) error
	Close() error

	// Driver returns the storage driver name ("sqlite" or "postgres").
	Driver() string
}

// DriverSQLite is the SQLite driver name.
const DriverSQLite = "sqlite"

// DriverPostgres is the PostgreSQL driver name.
const DriverPostgres = "postgres"

// Source exposes a Store to the connection resolver.
type Source struct {
	store Store
}

// NewSource wraps store as a connection.Source.
func NewSource(store Store) *Source {
	return &Source{store: store}
}

func (s *Source) Name() string { return "store/" + s.store.Driver() }

func (s *Source) Lookup(ctx context.Context, name string) (connection.Entry, bool, error) {
	cs, err := s.store.ConnectionStrings().Get(ctx, name)
	if errors.Is(err, ErrNotFound) {
		return connection.Entry{}, false, nil
	}
	if err != nil {
		return connection.Entry{}, false, err
	}
	return connection.Entry{Name: cs.Name, Value: cs.Value, Provider: cs.Provider}, true, nil
}

func (s *Source) List(ctx context.Context) ([]connection.Entry, error) {
	all, err := s.store.ConnectionStrings().List(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing stored connection strings: %w", err)
	}
	out := make([]connection.Entry, 0, len(all))
	for _, cs := range all {
		out = append(out, connection.Entry{Name: cs.Name, Value: cs.Value, Provider: cs.Provider})
	}
	return out, nil
}
