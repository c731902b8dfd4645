package relink

import (
	"fmt"

	"github.com/google/uuid"
)

// ID uniquely identifies a queued message.
type ID = uuid.UUID

// IDGenerator produces unique message identifiers.
type IDGenerator interface {
	// New returns a fresh identifier.
	New() (ID, error)
}

// UUIDv7Generator generates time-ordered UUID v7 identifiers.
type UUIDv7Generator struct{}

// New implements IDGenerator.
func (UUIDv7Generator) New() (ID, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.Nil, fmt.Errorf("relink: generate id failed: %w", err)
	}

	return id, nil
}
