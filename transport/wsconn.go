package transport

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bililive-go/bililive/bilierr"
)

// defaultUserAgent matches what the live site's own web client sends;
// servers are known to reject unfamiliar or absent User-Agent headers.
const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// WSConnector dials servers with gorilla/websocket. It is the default
// Connector used by stream.ReconnectStream when no other Connector is
// supplied.
type WSConnector struct {
	Dialer  websocket.Dialer
	Header  http.Header
	Timeout time.Duration
}

// NewWSConnector returns a WSConnector configured with sane defaults.
func NewWSConnector() *WSConnector {
	header := http.Header{}
	header.Set("User-Agent", defaultUserAgent)
	return &WSConnector{
		Dialer:  websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		Header:  header,
		Timeout: 10 * time.Second,
	}
}

// Connect dials server, which must be a full wss:// URL.
func (c *WSConnector) Connect(ctx context.Context, server string) (Conn, error) {
	ws, _, err := c.Dialer.DialContext(ctx, server, c.Header)
	if err != nil {
		return nil, bilierr.NewWebSocketError("dial "+server, err)
	}
	return &wsConn{ws: ws}, nil
}

// wsConn adapts a *websocket.Conn to the Conn interface, serializing
// writes with a mutex because gorilla requires a single writer at a
// time but stream.HeartbeatStream and callers may both write.
type wsConn struct {
	ws        *websocket.Conn
	wsMu      sync.Mutex
	closeOnce sync.Once
}

func (c *wsConn) ReadMessage(ctx context.Context) ([]byte, error) {
	type result struct {
		data []byte
		err  error
	}
	done := make(chan result, 1)
	go func() {
		_, data, err := c.ws.ReadMessage()
		done <- result{data, err}
	}()

	select {
	case <-ctx.Done():
		_ = c.ws.Close()
		<-done
		return nil, ctx.Err()
	case r := <-done:
		if r.err != nil {
			return nil, bilierr.NewWebSocketError("read message", r.err)
		}
		return r.data, nil
	}
}

func (c *wsConn) WriteMessage(ctx context.Context, data []byte) error {
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.ws.SetWriteDeadline(deadline)
	}
	c.wsMu.Lock()
	defer c.wsMu.Unlock()
	if err := c.ws.WriteMessage(websocket.BinaryMessage, data); err != nil {
		return bilierr.NewWebSocketError("write message", err)
	}
	return nil
}

func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.wsMu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.wsMu.Unlock()
		err = c.ws.Close()
	})
	if err != nil {
		return bilierr.NewWebSocketError("close", err)
	}
	return nil
}
