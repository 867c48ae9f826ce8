// Package builder assembles a config.StreamConfig from explicit
// values and, optionally, values resolved through a Requester. It is a
// runtime-checked builder: Build reports every missing or failed field
// at once instead of encoding requirements in the type system.
package builder

import (
	"context"

	"github.com/bililive-go/bililive/bilierr"
	"github.com/bililive-go/bililive/config"
)

// Requester resolves the pieces of a StreamConfig that come from
// Bilibili's HTTP API rather than from the caller directly. See
// package bootstrap for the default net/http-based implementation.
type Requester interface {
	// ResolveRoomID maps a (possibly short) room ID to the room ID
	// the danmaku service actually uses.
	ResolveRoomID(ctx context.Context, roomID uint64) (uint64, error)
	// ResolveServers returns the auth token and the ordered list of
	// broadcast servers for roomID.
	ResolveServers(ctx context.Context, roomID uint64) (token string, servers []string, err error)
}

// Builder accumulates configuration before a single Build call.
type Builder struct {
	roomID    uint64
	haveRoom  bool
	uid       uint64
	token     string
	haveToken bool
	servers   []string

	resolveErr *bilierr.BuildError
}

// Option configures a Builder.
type Option func(*Builder)

// New creates an empty Builder.
func New(opts ...Option) *Builder {
	b := &Builder{}
	for _, o := range opts {
		o(b)
	}
	return b
}

// WithRoomID sets the room to join directly, skipping ByShortRoomID.
func WithRoomID(roomID uint64) Option {
	return func(b *Builder) {
		b.roomID = roomID
		b.haveRoom = true
	}
}

// WithUID sets the caller's own UID, sent in the room-enter handshake.
// Optional; zero means connecting anonymously.
func WithUID(uid uint64) Option {
	return func(b *Builder) { b.uid = uid }
}

// WithToken sets the auth token directly, skipping FetchServerConfig.
func WithToken(token string) Option {
	return func(b *Builder) {
		b.token = token
		b.haveToken = true
	}
}

// WithServers sets the broadcast server list directly, skipping
// FetchServerConfig.
func WithServers(servers []string) Option {
	return func(b *Builder) { b.servers = servers }
}

// ByShortRoomID resolves RoomID from a short room ID (the room number
// shown in the URL, which may differ from the room ID the danmaku
// service expects) through requester. Call before Build; has no
// effect if WithRoomID already set an explicit room.
func (b *Builder) ByShortRoomID(ctx context.Context, requester Requester, shortRoomID uint64) *Builder {
	if b.haveRoom {
		return b
	}
	roomID, err := requester.ResolveRoomID(ctx, shortRoomID)
	if err != nil {
		b.resolveErr = b.resolveErr.Add("resolve room ID: %w", err)
		return b
	}
	b.roomID = roomID
	b.haveRoom = true
	return b
}

// FetchServerConfig resolves Token and Servers through requester, using
// whichever room ID has been established so far (explicitly via
// WithRoomID, or resolved by an earlier ByShortRoomID call — call
// FetchServerConfig after ByShortRoomID in a chain, not before). Has no
// effect if WithToken/WithServers already set explicit values. If no
// room ID has been established yet, it records an error that Build
// reports.
func (b *Builder) FetchServerConfig(ctx context.Context, requester Requester) *Builder {
	if b.haveToken && len(b.servers) > 0 {
		return b
	}
	if !b.haveRoom {
		if b.resolveErr == nil {
			b.resolveErr = &bilierr.BuildError{}
		}
		b.resolveErr = b.resolveErr.Add("fetch server config: no room ID established yet; call WithRoomID or ByShortRoomID first")
		return b
	}
	token, servers, err := requester.ResolveServers(ctx, b.roomID)
	if err != nil {
		if b.resolveErr == nil {
			b.resolveErr = &bilierr.BuildError{}
		}
		b.resolveErr = b.resolveErr.Add("fetch server config: %w", err)
		return b
	}
	if !b.haveToken {
		b.token = token
		b.haveToken = true
	}
	if len(b.servers) == 0 {
		b.servers = servers
	}
	return b
}

// Build validates the accumulated configuration and returns an
// immutable config.StreamConfig, or a *bilierr.BuildError enumerating
// every problem found.
func (b *Builder) Build() (*config.StreamConfig, error) {
	errs := b.resolveErr
	if !b.haveRoom {
		errs = addErr(errs, "room ID not set: call WithRoomID or ByShortRoomID")
	}
	if !b.haveToken {
		errs = addErr(errs, "token not set: call WithToken or FetchServerConfig")
	}
	if len(b.servers) == 0 {
		errs = addErr(errs, "servers not set: call WithServers or FetchServerConfig")
	}
	if errs.HasErrors() {
		return nil, errs
	}

	return &config.StreamConfig{
		RoomID:  b.roomID,
		UID:     b.uid,
		Token:   b.token,
		Servers: append([]string(nil), b.servers...),
	}, nil
}

func addErr(e *bilierr.BuildError, format string, args ...any) *bilierr.BuildError {
	return e.Add(format, args...)
}
