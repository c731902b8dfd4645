package relink

// NetworkStatus reports whether the host currently has network connectivity.
//
// The Supervisor uses an offline-to-online edge to retry immediately instead of
// waiting out a scheduled backoff delay.
type NetworkStatus interface {
	// Online reports current connectivity.
	Online() bool
	// OnChange registers an observer of connectivity edges and returns an
	// unsubscribe function.
	OnChange(fn func(online bool)) (unsubscribe func())
}

// AlwaysOnline is a NetworkStatus that never reports an outage.
type AlwaysOnline struct{}

// Online implements NetworkStatus.
func (AlwaysOnline) Online() bool {
	return true
}

// OnChange implements NetworkStatus.
func (AlwaysOnline) OnChange(func(bool)) func() {
	return func() {}
}
