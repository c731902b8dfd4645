package relink

import "errors"

var (
	// ErrTypeRequired is returned when a message type is empty.
	ErrTypeRequired = errors.New("relink message type is required")
	// ErrInvalidPayload is returned when a payload is not valid JSON.
	ErrInvalidPayload = errors.New("relink payload must be valid JSON")
	// ErrInvalidEnvelope is returned when an inbound frame is not a valid envelope.
	ErrInvalidEnvelope = errors.New("relink envelope is invalid")
	// ErrQueueCorrupt indicates a persisted queue snapshot could not be decoded.
	ErrQueueCorrupt = errors.New("relink persisted queue snapshot is corrupt")
	// ErrStorageKeyRequired is returned when a Storage is configured without a key.
	ErrStorageKeyRequired = errors.New("relink storage key is required")
	// ErrNotFound signals that a storage key has no value.
	ErrNotFound = errors.New("relink storage key not found")
	// ErrSupervisorClosed is returned by operations on a closed Supervisor.
	ErrSupervisorClosed = errors.New("relink supervisor is closed")
	// ErrLivenessTimeout indicates no inbound activity within the liveness window.
	ErrLivenessTimeout = errors.New("relink connection liveness timeout")
)
