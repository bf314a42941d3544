package postgres

import (
	"context"

	"github.com/jkaninda/echoservice/internal/storage"
)

// Store implements storage.Store backed by PostgreSQL.
type Store struct {
	pgDB  *DB
	conns *ConnectionStringRepository
}

// NewStore wraps an open DB as a storage.Store.
func NewStore(pgDB *DB) *Store {
	return &Store{pgDB: pgDB, conns: NewConnectionStringRepository(pgDB.GormDB())}
}

func (s *Store) ConnectionStrings() storage.ConnectionStringStore { return s.conns }

func (s *Store) Ping(ctx context.Context) error { return s.pgDB.Ping(ctx) }

func (s *Store) Close() error { return s.pgDB.Close() }

func (s *Store) Driver() string { return storage.DriverPostgres }
