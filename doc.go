// Package relink provides a resilient client for a single logical real-time
// connection over a pluggable message transport.
//
// Typical flow:
//  1. Construct a Supervisor with a transport Dialer (see wstransport for WebSocket).
//  2. Call Connect; the Supervisor dials, reconnects with exponential backoff and
//     jitter on failure, and sends heartbeats while connected.
//  3. Call Send at any time: messages produced while disconnected are buffered in
//     a bounded FIFO queue and flushed, in order, once connectivity is restored.
//
// For durable buffering across process restarts (SQLite-backed), see the
// sqlitestore package.
package relink
