// Package packet implements the Bilibili live danmaku wire protocol:
// a 16-byte big-endian header followed by a body that is either raw
// JSON, a big-endian int32, or a zlib-wrapped run of further packets.
package packet

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/bililive-go/bililive/bilierr"
)

// HeaderSize is the fixed size, in bytes, of every packet header.
const HeaderSize = 16

// ProtocolVersion identifies how a packet's body is encoded. The set
// is closed: any other wire value is a hard parse error, never a
// successful decode with an unrecognized protocol.
type ProtocolVersion uint16

const (
	// Json marks a body that is a single raw JSON document.
	Json ProtocolVersion = 0
	// Int32BE marks a body that is a single big-endian int32 (used by
	// heartbeat-reply packets to carry the room's popularity count).
	Int32BE ProtocolVersion = 1
	// Zlib marks a body that, once inflated, is itself a run of
	// zero or more further packets (only one level of nesting is
	// ever produced by the server; decoders do not need to recurse
	// past one level).
	Zlib ProtocolVersion = 2
)

func (p ProtocolVersion) String() string {
	switch p {
	case Json:
		return "Json"
	case Int32BE:
		return "Int32BE"
	case Zlib:
		return "Zlib"
	default:
		return fmt.Sprintf("ProtocolVersion(%d)", uint16(p))
	}
}

// Operation identifies the kind of packet. Recognized operations have
// named constants; anything else decodes to OperationUnknown, which
// preserves the original wire value instead of discarding it.
type Operation uint32

const (
	// OpHeartBeat is sent by the client every 30 seconds to keep the
	// connection alive.
	OpHeartBeat Operation = 2
	// OpHeartBeatResponse is the server's reply to OpHeartBeat; its
	// body is a big-endian int32 popularity count.
	OpHeartBeatResponse Operation = 3
	// OpNotification carries a JSON command payload (chat, gifts,
	// room state changes, etc.).
	OpNotification Operation = 5
	// OpRoomEnter is sent once, immediately after connecting, to join
	// a room.
	OpRoomEnter Operation = 7
	// OpRoomEnterResponse is the server's acknowledgement of
	// OpRoomEnter.
	OpRoomEnterResponse Operation = 8
)

// OperationUnknown returns an Operation for a wire value outside the
// recognized set, preserving that value so it round-trips through
// Encode(Decode(x)) unchanged.
func OperationUnknown(code uint32) Operation { return Operation(code) }

// IsUnknown reports whether op is outside the recognized operation
// set.
func (op Operation) IsUnknown() bool {
	switch op {
	case OpHeartBeat, OpHeartBeatResponse, OpNotification, OpRoomEnter, OpRoomEnterResponse:
		return false
	default:
		return true
	}
}

func (op Operation) String() string {
	switch op {
	case OpHeartBeat:
		return "HeartBeat"
	case OpHeartBeatResponse:
		return "HeartBeatResponse"
	case OpNotification:
		return "Notification"
	case OpRoomEnter:
		return "RoomEnter"
	case OpRoomEnterResponse:
		return "RoomEnterResponse"
	default:
		return fmt.Sprintf("Unknown(%d)", uint32(op))
	}
}

// Packet is a single decoded protocol frame.
type Packet struct {
	Protocol ProtocolVersion
	Op       Operation
	SeqID    uint32
	Body     []byte
}

// New constructs a Packet with the conventional default sequence ID.
func New(protocol ProtocolVersion, op Operation, body []byte) *Packet {
	return &Packet{Protocol: protocol, Op: op, SeqID: 1, Body: body}
}

// clientPlatform and clientVersion identify this client to the
// broadcast server in the room-enter handshake, matching what the live
// site's own web client reports.
const (
	clientPlatform  = "web"
	clientVersion   = "1.8.2"
	clientEnterType = 2
)

// RoomEnter builds the handshake packet sent immediately after the
// WebSocket connects. key is the auth token returned by the server's
// broadcast-info API, empty when connecting anonymously.
func RoomEnter(roomID, uid uint64, key string) (*Packet, error) {
	body := struct {
		UID       uint64          `json:"uid"`
		RoomID    uint64          `json:"roomid"`
		Protover  ProtocolVersion `json:"protover"`
		Platform  string          `json:"platform"`
		ClientVer string          `json:"clientver"`
		Type      int             `json:"type"`
		Key       string          `json:"key"`
	}{
		UID:       uid,
		RoomID:    roomID,
		Protover:  Zlib,
		Platform:  clientPlatform,
		ClientVer: clientVersion,
		Type:      clientEnterType,
		Key:       key,
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, bilierr.NewParseError("marshal room-enter body", err)
	}
	return New(Json, OpRoomEnter, data), nil
}

// Heartbeat builds the periodic keep-alive packet. Its body is always
// empty; the server infers the request from the operation code alone.
func Heartbeat() *Packet {
	return New(Json, OpHeartBeat, nil)
}

// AsJSON unmarshals the packet body as JSON into a value of type T.
// Returns a *bilierr.ParseError on failure.
func AsJSON[T any](p *Packet) (T, error) {
	var v T
	if err := json.Unmarshal(p.Body, &v); err != nil {
		return v, bilierr.NewParseError("decode JSON body", err)
	}
	return v, nil
}

// AsInt32BE interprets the packet body as a big-endian int32, as used
// by OpHeartBeatResponse bodies. The body must be exactly 4 bytes.
func AsInt32BE(p *Packet) (int32, error) {
	if len(p.Body) != 4 {
		return 0, bilierr.NewParseError("int32be body must be exactly 4 bytes", fmt.Errorf("got %d bytes", len(p.Body)))
	}
	return int32(binary.BigEndian.Uint32(p.Body[:4])), nil
}

// Encode serializes a single Packet (never recursively compressing;
// callers that want a Zlib-wrapped frame should call Compress).
func Encode(p *Packet) []byte {
	total := uint32(HeaderSize) + uint32(len(p.Body))
	buf := make([]byte, total)

	binary.BigEndian.PutUint32(buf[0:4], total)
	binary.BigEndian.PutUint16(buf[4:6], HeaderSize)
	binary.BigEndian.PutUint16(buf[6:8], uint16(p.Protocol))
	binary.BigEndian.PutUint32(buf[8:12], uint32(p.Op))
	binary.BigEndian.PutUint32(buf[12:16], p.SeqID)
	copy(buf[HeaderSize:], p.Body)
	return buf
}

// Compress zlib-wraps the already-encoded bytes of zero or more inner
// packets into a single Zlib-protocol outer packet.
func Compress(op Operation, innerEncoded []byte) (*Packet, error) {
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	if _, err := w.Write(innerEncoded); err != nil {
		_ = w.Close()
		return nil, bilierr.NewParseError("zlib compress", err)
	}
	if err := w.Close(); err != nil {
		return nil, bilierr.NewParseError("zlib compress", err)
	}
	return New(Zlib, op, buf.Bytes()), nil
}

// ErrIncomplete is returned by Decode when buf does not yet contain a
// complete frame. Callers should read more bytes and retry; rest is
// nil and buf is left unmodified, so no unconfirmed bytes are ever
// consumed.
var ErrIncomplete = errors.New("packet: incomplete frame")

// Decode reads exactly one frame from the front of buf.
//
// On success it returns the decoded packets (more than one if the
// frame was Zlib-wrapped and inflated to several inner frames), and
// the remaining unconsumed bytes.
//
// If buf does not yet hold a complete frame, Decode returns
// ErrIncomplete and leaves buf untouched (callers must retain buf and
// append more bytes before retrying — Decode never buffers internally).
//
// If buf holds a structurally invalid frame (header length wrong,
// declared size too small, unrecognized protocol version, malformed
// compressed payload), Decode returns a *bilierr.ParseError. A parse
// error on one frame does not imply the stream is unrecoverable; the
// caller decides whether to keep reading from the connection.
func Decode(buf []byte) (rest []byte, packets []*Packet, err error) {
	if len(buf) < HeaderSize {
		return nil, nil, ErrIncomplete
	}

	total := binary.BigEndian.Uint32(buf[0:4])
	headerLen := binary.BigEndian.Uint16(buf[4:6])

	if total < HeaderSize {
		return nil, nil, bilierr.NewParseError("decode header", fmt.Errorf("declared size %d smaller than header", total))
	}
	if headerLen != HeaderSize {
		return nil, nil, bilierr.NewParseError("decode header", fmt.Errorf("unexpected header length %d", headerLen))
	}
	if uint32(len(buf)) < total {
		return nil, nil, ErrIncomplete
	}

	proto := ProtocolVersion(binary.BigEndian.Uint16(buf[6:8]))
	op := Operation(binary.BigEndian.Uint32(buf[8:12]))
	seq := binary.BigEndian.Uint32(buf[12:16])
	body := buf[HeaderSize:total]
	rest = buf[total:]

	switch proto {
	case Json, Int32BE:
		return rest, []*Packet{{Protocol: proto, Op: op, SeqID: seq, Body: body}}, nil

	case Zlib:
		inflated, ierr := inflateOnce(body)
		if ierr != nil {
			return nil, nil, bilierr.NewParseError("zlib inflate", ierr)
		}
		inner, ierr := decodeAll(inflated)
		if ierr != nil {
			return nil, nil, ierr
		}
		return rest, inner, nil

	default:
		return nil, nil, bilierr.NewParseError("decode header", fmt.Errorf("unrecognized protocol version %d", uint16(proto)))
	}
}

// decodeAll decodes every frame from a fully-buffered, already-
// inflated byte slice (the single level of nesting a Zlib packet's
// body is guaranteed to contain). Unlike Decode, a trailing partial
// frame here is a hard error: the inflated buffer is complete by
// construction, so leftover bytes that don't form a full frame
// indicate a malformed stream, not a need for more input.
func decodeAll(buf []byte) ([]*Packet, error) {
	var out []*Packet
	for len(buf) > 0 {
		rest, pkts, err := Decode(buf)
		if errors.Is(err, ErrIncomplete) {
			return nil, bilierr.NewParseError("decode nested packets", fmt.Errorf("%d trailing bytes do not form a full frame", len(buf)))
		}
		if err != nil {
			return nil, err
		}
		out = append(out, pkts...)
		buf = rest
	}
	return out, nil
}

// inflateOnce zlib-inflates data exactly once; it does not recurse
// into a further Zlib layer (the protocol never nests more than one
// level deep).
func inflateOnce(data []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}
