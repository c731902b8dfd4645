package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/relink-io/relink"
)

// Store implements relink.Storage over a two-column SQLite table.
type Store struct {
	db      *sql.DB
	table   string
	queries queries
}

var _ relink.Storage = (*Store)(nil)

// NewStore constructs a SQLite store with validated configuration.
func NewStore(db *sql.DB, opts ...Option) (*Store, error) {
	if db == nil {
		return nil, ErrDBRequired
	}

	var cfg Config
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg = cfg.withDefaults()

	table, err := sanitizeTableName(cfg.Table)
	if err != nil {
		return nil, err
	}

	return &Store{
		db:      db,
		table:   table,
		queries: newQueries(table),
	}, nil
}

// MustNewStore constructs a SQLite store or panics on error.
func MustNewStore(db *sql.DB, opts ...Option) *Store {
	store, err := NewStore(db, opts...)
	if err != nil {
		panic(err)
	}

	return store
}

// Migrate creates the key-value table if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, s.queries.create); err != nil {
		return fmt.Errorf("relink sqlite: migrate failed: %w", err)
	}

	return nil
}

// Get implements relink.Storage.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, s.queries.get, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %q", relink.ErrNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("relink sqlite: get %q failed: %w", key, err)
	}

	return value, nil
}

// Set implements relink.Storage.
func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	if _, err := s.db.ExecContext(ctx, s.queries.set, key, value); err != nil {
		return fmt.Errorf("relink sqlite: set %q failed: %w", key, err)
	}

	return nil
}

// Delete implements relink.Storage.
func (s *Store) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, s.queries.del, key); err != nil {
		return fmt.Errorf("relink sqlite: delete %q failed: %w", key, err)
	}

	return nil
}

func sanitizeTableName(name string) (string, error) {
	if name == "" {
		return "", ErrInvalidTableName
	}
	for i, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_':
		case r >= '0' && r <= '9':
			if i == 0 {
				return "", fmt.Errorf("%w: %q", ErrInvalidTableName, name)
			}
		default:
			return "", fmt.Errorf("%w: %q", ErrInvalidTableName, name)
		}
	}

	return name, nil
}
