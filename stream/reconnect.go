package stream

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/bililive-go/bililive/bilierr"
	"github.com/bililive-go/bililive/config"
	"github.com/bililive-go/bililive/packet"
	"github.com/bililive-go/bililive/retry"
	"github.com/bililive-go/bililive/transport"
)

// State names the phase a ReconnectStream's driving goroutine is in.
type State int

const (
	// StateConnecting is the brief phase spent dialing and performing
	// the room-enter handshake.
	StateConnecting State = iota
	// StateActive means a connection is up and packets are flowing.
	StateActive
	// StateReconnecting means the active connection just failed and a
	// new one is about to be attempted.
	StateReconnecting
	// StateBackingOff means a reconnect attempt failed and the driver
	// is waiting out a retry delay before trying again.
	StateBackingOff
	// StateTerminated means the stream is permanently closed, either
	// because the caller closed it or because retries were exhausted.
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "Connecting"
	case StateActive:
		return "Active"
	case StateReconnecting:
		return "Reconnecting"
	case StateBackingOff:
		return "BackingOff"
	case StateTerminated:
		return "Terminated"
	default:
		return "Unknown"
	}
}

// settings holds the construction-time options shared by Connect and
// ConnectWithRetry.
type settings struct {
	connector transport.Connector
	policy    retry.Policy
	clock     clockwork.Clock
	logger    *slog.Logger
}

func defaultSettings() *settings {
	return &settings{
		connector: transport.NewWSConnector(),
		clock:     clockwork.NewRealClock(),
		logger:    slog.Default(),
	}
}

// Option configures a Connect or ConnectWithRetry call.
type Option func(*settings)

// WithConnector overrides the default transport.WSConnector, mainly
// for tests that substitute an in-memory Connector.
func WithConnector(c transport.Connector) Option {
	return func(s *settings) { s.connector = c }
}

// WithRetryPolicy overrides the default truncated BEB policy. It has
// no effect on Connect, which never retries.
func WithRetryPolicy(p retry.Policy) Option {
	return func(s *settings) { s.policy = p }
}

// WithClock overrides the default real-time clock; tests pass a
// clockwork.FakeClock to control backoff and heartbeat timing.
func WithClock(c clockwork.Clock) Option {
	return func(s *settings) { s.clock = c }
}

// WithLogger overrides the default slog.Default() logger used to
// report reconnect attempts, backoff delays, and decode errors.
func WithLogger(l *slog.Logger) Option {
	return func(s *settings) { s.logger = l }
}

// dialAndHandshake performs one full connect attempt against the next
// server in rc's rotation: open a transport, send the room-enter
// handshake, and wrap the result in a HeartbeatStream.
func dialAndHandshake(ctx context.Context, connector transport.Connector, clock clockwork.Clock, rc *config.RetryContext) (*HeartbeatStream, error) {
	server := rc.NextServer()
	conn, err := connector.Connect(ctx, server)
	if err != nil {
		return nil, err
	}

	framed := NewFramedStream(conn)
	cfg := rc.Config()
	enter, err := packet.RoomEnter(cfg.RoomID, cfg.UID, cfg.Token)
	if err != nil {
		_ = framed.Close()
		return nil, err
	}
	if err := framed.Send(ctx, enter); err != nil {
		_ = framed.Close()
		return nil, err
	}

	return NewHeartbeatStream(framed, clock), nil
}

func isDisconnect(err error) bool {
	var wsErr *bilierr.WebSocketError
	var ioErr *bilierr.IOError
	return errors.As(err, &wsErr) || errors.As(err, &ioErr)
}

// Stream is a single, non-reconnecting packet stream. A disconnect —
// a WebSocket or I/O failure — ends the stream and is surfaced as-is
// from Recv; callers that want automatic reconnection should use
// ConnectWithRetry instead.
type Stream struct {
	hb *HeartbeatStream
}

// Connect dials one of cfg's servers and performs the room-enter
// handshake. It does not retry: a dial failure is returned directly,
// and once connected, any later disconnect is surfaced as-is from
// Recv with no attempt to reconnect.
func Connect(ctx context.Context, cfg *config.StreamConfig, opts ...Option) (*Stream, error) {
	s := defaultSettings()
	for _, o := range opts {
		o(s)
	}

	rc := config.NewRetryContext(cfg)
	hb, err := dialAndHandshake(ctx, s.connector, s.clock, rc)
	if err != nil {
		return nil, err
	}
	return &Stream{hb: hb}, nil
}

// Recv returns the next packet, or the raw disconnect/parse error that
// ended the stream.
func (s *Stream) Recv(ctx context.Context) (*packet.Packet, error) {
	return s.hb.Recv(ctx)
}

// Send writes p over the connection.
func (s *Stream) Send(ctx context.Context, p *packet.Packet) error {
	return s.hb.Send(ctx, p)
}

// Close tears down the connection. Safe to call more than once.
func (s *Stream) Close() error {
	return s.hb.Close()
}

// ReconnectStream presents one logical, always-reconnecting packet
// stream over a rotating set of servers. It is the type callers use
// directly: one goroutine owns the whole Connecting -> Active ->
// Reconnecting -> BackingOff -> Terminated cycle, communicating with
// callers over channels instead of a poll-based waker.
type ReconnectStream struct {
	rc        *config.RetryContext
	connector transport.Connector
	policy    retry.Policy
	clock     clockwork.Clock
	logger    *slog.Logger

	recvCh chan recvResult
	sendCh chan sendRequest

	closeOnce sync.Once
	closeCh   chan struct{}
	doneCh    chan struct{}

	closeMu  sync.Mutex
	closeErr error

	stateMu sync.Mutex
	state   State
}

type sendRequest struct {
	pkt    *packet.Packet
	respCh chan error
}

// ConnectWithRetry dials cfg's servers in round-robin order,
// reconnecting with backoff on every disconnect, until the caller
// calls Close or the retry policy is exhausted.
func ConnectWithRetry(ctx context.Context, cfg *config.StreamConfig, opts ...Option) (*ReconnectStream, error) {
	s := defaultSettings()
	s.policy = retry.DefaultBEBPolicy()
	for _, o := range opts {
		o(s)
	}

	rs := &ReconnectStream{
		rc:        config.NewRetryContext(cfg),
		connector: s.connector,
		policy:    s.policy,
		clock:     s.clock,
		logger:    s.logger,
		recvCh:    make(chan recvResult, 1),
		sendCh:    make(chan sendRequest),
		closeCh:   make(chan struct{}),
		doneCh:    make(chan struct{}),
		state:     StateConnecting,
	}

	go rs.run(ctx)
	return rs, nil
}

// run is the single goroutine that owns the connection lifecycle.
func (rs *ReconnectStream) run(ctx context.Context) {
	defer close(rs.doneCh)
	defer rs.setState(StateTerminated)
	iter := rs.policy.NewIterator()
	attempt := 0

	for {
		rs.setState(StateConnecting)
		hb, err := dialAndHandshake(ctx, rs.connector, rs.clock, rs.rc)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			rs.setState(StateBackingOff)
			delay, ok := iter.Next()
			if !ok {
				rs.logger.Warn("retries exhausted, giving up", "attempts", attempt, "error", err)
				rs.failAll(bilierr.ErrExhausted)
				return
			}
			attempt++
			rs.logger.Warn("disconnected, reconnecting", "attempt", attempt, "delay", delay, "error", err)
			if !rs.sleep(ctx, delay) {
				return
			}
			continue
		}

		// A successful connect resets the backoff episode.
		iter = rs.policy.NewIterator()
		attempt = 0
		rs.setState(StateActive)
		if rs.serveActive(ctx, hb) {
			return
		}
		rs.setState(StateReconnecting)
	}
}

// serveActive pumps packets and send requests between the caller and
// hb until either the connection drops (returns false, to reconnect)
// or the caller closes the stream (returns true, to terminate).
func (rs *ReconnectStream) serveActive(ctx context.Context, hb *HeartbeatStream) bool {
	terminate := func() bool {
		rs.setCloseErr(hb.Close())
		return true
	}
	reconnect := func() bool {
		_ = hb.Close()
		return false
	}

	type inbound struct {
		pkt *packet.Packet
		err error
	}
	inCh := make(chan inbound, 1)
	go func() {
		for {
			p, err := hb.Recv(ctx)
			inCh <- inbound{p, err}
			if err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-rs.closeCh:
			return terminate()
		case <-ctx.Done():
			return terminate()
		case in := <-inCh:
			if in.err != nil {
				if isDisconnect(in.err) {
					return reconnect()
				}
				// A parse error on one frame does not kill the
				// connection; surface it and keep serving.
				rs.logger.Warn("decode error", "error", in.err)
				select {
				case rs.recvCh <- recvResult{err: in.err}:
				case <-rs.closeCh:
					return terminate()
				case <-ctx.Done():
					return terminate()
				}
				continue
			}
			select {
			case rs.recvCh <- recvResult{pkt: in.pkt}:
			case <-rs.closeCh:
				return terminate()
			case <-ctx.Done():
				return terminate()
			}
		case req := <-rs.sendCh:
			err := hb.Send(ctx, req.pkt)
			req.respCh <- err
			if err != nil && isDisconnect(err) {
				return reconnect()
			}
		}
	}
}

func (rs *ReconnectStream) sleep(ctx context.Context, d time.Duration) bool {
	timer := rs.clock.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-rs.closeCh:
		return false
	case <-timer.Chan():
		return true
	}
}

func (rs *ReconnectStream) failAll(err error) {
	rs.setState(StateTerminated)
	select {
	case rs.recvCh <- recvResult{err: err}:
	default:
	}
}

func (rs *ReconnectStream) setState(s State) {
	rs.stateMu.Lock()
	rs.state = s
	rs.stateMu.Unlock()
}

// setCloseErr records err as the underlying transport's close-path
// failure, if any, for Close to aggregate. A no-op for nil.
func (rs *ReconnectStream) setCloseErr(err error) {
	if err == nil {
		return
	}
	rs.closeMu.Lock()
	rs.closeErr = err
	rs.closeMu.Unlock()
}

// drainPending non-blockingly consumes one already-queued error from
// recvCh, so a pending decode or exhaustion error isn't silently dropped
// by a caller that closes the stream instead of calling Recv again.
func (rs *ReconnectStream) drainPending() error {
	select {
	case r := <-rs.recvCh:
		return r.err
	default:
		return nil
	}
}

// State returns the driver's current phase.
func (rs *ReconnectStream) State() State {
	rs.stateMu.Lock()
	defer rs.stateMu.Unlock()
	return rs.state
}

// Recv returns the next packet across however many reconnects it
// takes, or an error once the stream has terminated: io.EOF after
// Close, bilierr.ErrExhausted otherwise.
func (rs *ReconnectStream) Recv(ctx context.Context) (*packet.Packet, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-rs.doneCh:
		select {
		case <-rs.closeCh:
			return nil, io.EOF
		default:
		}
		return nil, bilierr.ErrExhausted
	case r := <-rs.recvCh:
		return r.pkt, r.err
	}
}

// Send writes p over whichever connection is currently active.
func (rs *ReconnectStream) Send(ctx context.Context, p *packet.Packet) error {
	req := sendRequest{pkt: p, respCh: make(chan error, 1)}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-rs.doneCh:
		return bilierr.ErrExhausted
	case rs.sendCh <- req:
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-req.respCh:
		return err
	}
}

// Close terminates the stream and waits for its driving goroutine to
// exit, returning the aggregate of any underlying transport close
// failure and any decode or exhaustion error still queued but never
// delivered to a caller. Safe to call more than once.
func (rs *ReconnectStream) Close() error {
	rs.closeOnce.Do(func() {
		close(rs.closeCh)
	})
	<-rs.doneCh
	rs.closeMu.Lock()
	closeErr := rs.closeErr
	rs.closeMu.Unlock()
	return bilierr.Aggregate(closeErr, rs.drainPending())
}
