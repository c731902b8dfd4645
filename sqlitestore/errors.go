package sqlitestore

import "errors"

var (
	// ErrDBRequired is returned when NewStore receives a nil database handle.
	ErrDBRequired = errors.New("relink sqlite: db is required")
	// ErrInvalidTableName is returned when the configured table name is unsafe.
	ErrInvalidTableName = errors.New("relink sqlite: invalid table name")
)
