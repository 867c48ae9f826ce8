// Package transport abstracts the duplex byte-message connection that
// stream.FramedStream is built on, so the framing and reconnect layers
// never depend directly on gorilla/websocket.
package transport

import "context"

// Conn is one live duplex connection carrying whole WebSocket binary
// messages. Each message may contain one or more encoded packets
// (the server batches and/or zlib-wraps them).
type Conn interface {
	// ReadMessage blocks until the next binary message arrives, ctx
	// is cancelled, or the connection fails.
	ReadMessage(ctx context.Context) ([]byte, error)
	// WriteMessage sends data as a single binary message. Safe to
	// call concurrently with ReadMessage, but not with another
	// WriteMessage (callers serialize their own writes).
	WriteMessage(ctx context.Context, data []byte) error
	// Close tears down the connection, attempting a clean close
	// handshake where the underlying transport supports one.
	Close() error
}

// Connector dials a fresh Conn to one server address.
type Connector interface {
	Connect(ctx context.Context, server string) (Conn, error)
}
