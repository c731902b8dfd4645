// Package wstransport provides a WebSocket transport for relink, built on
// github.com/coder/websocket. Envelopes travel as text frames.
package wstransport
