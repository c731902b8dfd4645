package relink

// Status represents the lifecycle state of the logical connection.
type Status int

const (
	// StatusDisconnected indicates no connection and no pending reconnect.
	StatusDisconnected Status = iota
	// StatusConnecting indicates a transport dial is in progress.
	StatusConnecting
	// StatusConnected indicates the transport is open and usable.
	StatusConnected
	// StatusReconnecting indicates a reconnect attempt is scheduled or pending.
	StatusReconnecting
	// StatusFailed indicates reconnect attempts are exhausted; Connect resets it.
	StatusFailed
)

// String returns the lowercase name of the status.
func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusReconnecting:
		return "reconnecting"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}
