// Package stream implements the three layered wrappers that turn one
// transport.Conn into the caller-facing packet stream: FramedStream
// (codec + buffering), HeartbeatStream (keep-alive injection), and
// ReconnectStream (state machine + backoff + round-robin).
package stream

import (
	"context"
	"errors"

	"github.com/bililive-go/bililive/packet"
	"github.com/bililive-go/bililive/transport"
)

// FramedStream turns a transport.Conn's raw binary messages into a
// sequence of decoded packets. It owns the accumulating read buffer
// for the lifetime of one connection; on reconnect a new FramedStream
// is created and the old buffer is discarded, matching the protocol's
// guarantee that frames never span reconnects.
//
// gorilla/websocket replies to WebSocket-level ping control frames
// automatically (the default ping handler sends the matching pong
// before the next read returns), so FramedStream does not need to
// implement that reflex itself — it only has to keep reading.
type FramedStream struct {
	conn    transport.Conn
	buf     []byte
	pending []*packet.Packet
}

// NewFramedStream wraps conn.
func NewFramedStream(conn transport.Conn) *FramedStream {
	return &FramedStream{conn: conn}
}

// Recv returns the next decoded packet, reading and decoding further
// transport messages as needed.
func (f *FramedStream) Recv(ctx context.Context) (*packet.Packet, error) {
	for {
		if len(f.pending) > 0 {
			p := f.pending[0]
			f.pending = f.pending[1:]
			return p, nil
		}

		rest, pkts, err := packet.Decode(f.buf)
		if err == nil {
			f.buf = rest
			f.pending = pkts
			continue
		}
		if !errors.Is(err, packet.ErrIncomplete) {
			return nil, err
		}

		msg, rerr := f.conn.ReadMessage(ctx)
		if rerr != nil {
			return nil, rerr
		}
		f.buf = append(f.buf, msg...)
	}
}

// Send encodes and writes p.
func (f *FramedStream) Send(ctx context.Context, p *packet.Packet) error {
	return f.conn.WriteMessage(ctx, packet.Encode(p))
}

// Close tears down the underlying connection.
func (f *FramedStream) Close() error {
	return f.conn.Close()
}
