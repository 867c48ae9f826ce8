package stream

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/bililive-go/bililive/bilierr"
	"github.com/bililive-go/bililive/packet"
)

// HeartbeatInterval is the cadence at which HeartbeatStream injects
// OpHeartBeat packets, matching what the live service expects to keep
// a connection from being dropped as idle.
const HeartbeatInterval = 30 * time.Second

// HeartbeatStream layers periodic keep-alive injection over a
// FramedStream. A single internal goroutine drives a timer that fires
// every HeartbeatInterval; reads happen concurrently on a second
// goroutine. Neither goroutine needs an explicit wake-proxy: the
// select loop in each is itself the shared wake point, which is the
// direct equivalent of the original poll-based implementation's
// AtomicWaker without needing one.
type HeartbeatStream struct {
	inner  *FramedStream
	clock  clockwork.Clock
	logger *slog.Logger

	sendMu sync.Mutex

	hbMu          sync.Mutex
	lastHeartbeat time.Time

	recvCh chan recvResult
	hbErr  chan error
	done   chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
}

type recvResult struct {
	pkt *packet.Packet
	err error
}

// NewHeartbeatStream wraps inner, using clock as the source of time
// for both the heartbeat timer and LastHeartbeat bookkeeping (tests
// pass a clockwork.FakeClock to drive this deterministically).
func NewHeartbeatStream(inner *FramedStream, clock clockwork.Clock) *HeartbeatStream {
	h := &HeartbeatStream{
		inner:  inner,
		clock:  clock,
		logger: slog.Default(),
		recvCh: make(chan recvResult, 1),
		hbErr:  make(chan error, 1),
		done:   make(chan struct{}),
	}
	h.wg.Add(2)
	go h.readLoop()
	go h.heartbeatLoop()
	return h
}

func (h *HeartbeatStream) readLoop() {
	defer h.wg.Done()
	ctx := context.Background()
	for {
		p, err := h.inner.Recv(ctx)
		if err != nil {
			select {
			case h.recvCh <- recvResult{err: err}:
			case <-h.done:
			}
			return
		}

		if p.Op == packet.OpHeartBeatResponse {
			// Record the heartbeat timestamp before anything else
			// observes this packet, so a slow or blocked consumer
			// can never make the recorded time stale.
			h.hbMu.Lock()
			h.lastHeartbeat = h.clock.Now()
			h.hbMu.Unlock()
		}

		select {
		case h.recvCh <- recvResult{pkt: p}:
		case <-h.done:
			return
		}
	}
}

func (h *HeartbeatStream) heartbeatLoop() {
	defer h.wg.Done()

	if h.sendHeartbeat() {
		return
	}

	timer := h.clock.NewTimer(HeartbeatInterval)
	defer timer.Stop()

	for {
		select {
		case <-h.done:
			return
		case <-timer.Chan():
			if h.sendHeartbeat() {
				return
			}
			timer.Reset(HeartbeatInterval)
		}
	}
}

// sendHeartbeat sends one OpHeartBeat packet and reports whether the
// loop should stop (true on send failure).
func (h *HeartbeatStream) sendHeartbeat() bool {
	err := h.Send(context.Background(), packet.Heartbeat())
	if err != nil {
		h.logger.Warn("heartbeat send failed", "error", err)
		select {
		case h.hbErr <- err:
		default:
		}
		return true
	}
	return false
}

// Recv returns the next application-visible packet. Heartbeat
// responses are consumed internally for timing purposes but are still
// forwarded to the caller, since their body carries the room's current
// popularity count.
func (h *HeartbeatStream) Recv(ctx context.Context) (*packet.Packet, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case err := <-h.hbErr:
		return nil, err
	case r := <-h.recvCh:
		return r.pkt, r.err
	}
}

// Send writes p, serialized against concurrent heartbeat injection.
func (h *HeartbeatStream) Send(ctx context.Context, p *packet.Packet) error {
	h.sendMu.Lock()
	defer h.sendMu.Unlock()
	if err := h.inner.Send(ctx, p); err != nil {
		return bilierr.NewWebSocketError("heartbeat stream send", err)
	}
	return nil
}

// LastHeartbeat returns the time the most recent heartbeat response
// was observed, or the zero Time if none has arrived yet.
func (h *HeartbeatStream) LastHeartbeat() time.Time {
	h.hbMu.Lock()
	defer h.hbMu.Unlock()
	return h.lastHeartbeat
}

// Close stops the heartbeat timer and closes the underlying stream.
// Safe to call more than once.
func (h *HeartbeatStream) Close() error {
	var err error
	h.once.Do(func() {
		close(h.done)
		err = h.inner.Close()
		h.wg.Wait()
	})
	return err
}
