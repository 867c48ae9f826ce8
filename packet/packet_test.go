package packet_test

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bililive-go/bililive/bilierr"
	"github.com/bililive-go/bililive/packet"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	p := packet.New(packet.Json, packet.OpNotification, []byte(`{"cmd":"DANMU_MSG"}`))
	wire := packet.Encode(p)

	rest, got, err := packet.Decode(wire)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Empty(t, rest)
	assert.Equal(t, p.Protocol, got[0].Protocol)
	assert.Equal(t, p.Op, got[0].Op)
	assert.Equal(t, p.SeqID, got[0].SeqID)
	assert.Equal(t, p.Body, got[0].Body)
}

func TestDecodeIncompleteHeader(t *testing.T) {
	wire := packet.Encode(packet.New(packet.Json, packet.OpHeartBeat, []byte("x")))

	for cut := 0; cut < packet.HeaderSize; cut++ {
		_, pkts, err := packet.Decode(wire[:cut])
		assert.Nil(t, pkts)
		assert.True(t, errors.Is(err, packet.ErrIncomplete), "cut=%d", cut)
	}
}

func TestDecodeIncompleteBody(t *testing.T) {
	wire := packet.Encode(packet.New(packet.Json, packet.OpHeartBeat, []byte("hello world")))

	_, pkts, err := packet.Decode(wire[:packet.HeaderSize+3])
	assert.Nil(t, pkts)
	assert.True(t, errors.Is(err, packet.ErrIncomplete))
}

func TestDecodeDoesNotConsumeIncompleteBytes(t *testing.T) {
	full := packet.Encode(packet.New(packet.Json, packet.OpHeartBeat, []byte("hello")))
	partial := full[:len(full)-2]

	rest, pkts, err := packet.Decode(partial)
	assert.Nil(t, rest)
	assert.Nil(t, pkts)
	assert.True(t, errors.Is(err, packet.ErrIncomplete))
}

func TestDecodeMultiplePacketsInOneBuffer(t *testing.T) {
	a := packet.Encode(packet.New(packet.Json, packet.OpNotification, []byte("a")))
	b := packet.Encode(packet.New(packet.Json, packet.OpNotification, []byte("b")))
	buf := append(append([]byte{}, a...), b...)

	rest, pkts, err := packet.Decode(buf)
	require.NoError(t, err)
	require.Len(t, pkts, 1)
	assert.Equal(t, []byte("a"), pkts[0].Body)
	assert.Equal(t, b, rest)

	rest2, pkts2, err := packet.Decode(rest)
	require.NoError(t, err)
	require.Len(t, pkts2, 1)
	assert.Equal(t, []byte("b"), pkts2[0].Body)
	assert.Empty(t, rest2)
}

func TestDecodeUnrecognizedProtocolIsHardError(t *testing.T) {
	wire := packet.Encode(packet.New(packet.Json, packet.OpHeartBeat, nil))
	binary.BigEndian.PutUint16(wire[6:8], 3) // not Json/Int32BE/Zlib

	_, pkts, err := packet.Decode(wire)
	assert.Nil(t, pkts)
	var perr *bilierr.ParseError
	require.ErrorAs(t, err, &perr)
}

func TestDecodeBadHeaderLengthIsHardError(t *testing.T) {
	wire := packet.Encode(packet.New(packet.Json, packet.OpHeartBeat, nil))
	binary.BigEndian.PutUint16(wire[4:6], 12)

	_, pkts, err := packet.Decode(wire)
	assert.Nil(t, pkts)
	var perr *bilierr.ParseError
	require.ErrorAs(t, err, &perr)
}

func TestZlibWrappedMultiPacketTransparency(t *testing.T) {
	a := packet.Encode(packet.New(packet.Json, packet.OpNotification, []byte("one")))
	b := packet.Encode(packet.New(packet.Json, packet.OpNotification, []byte("two")))
	inner := append(append([]byte{}, a...), b...)

	outer, err := packet.Compress(packet.OpNotification, inner)
	require.NoError(t, err)
	wire := packet.Encode(outer)

	rest, pkts, err := packet.Decode(wire)
	require.NoError(t, err)
	assert.Empty(t, rest)
	require.Len(t, pkts, 2)
	assert.Equal(t, []byte("one"), pkts[0].Body)
	assert.Equal(t, []byte("two"), pkts[1].Body)
}

func TestOperationUnknownPreservesWireValue(t *testing.T) {
	const weird = uint32(123456)
	wire := packet.Encode(packet.New(packet.Json, packet.OperationUnknown(weird), []byte("x")))

	_, pkts, err := packet.Decode(wire)
	require.NoError(t, err)
	require.Len(t, pkts, 1)
	assert.True(t, pkts[0].Op.IsUnknown())
	assert.Equal(t, weird, uint32(pkts[0].Op))
}

func TestAsInt32BE(t *testing.T) {
	p := packet.New(packet.Int32BE, packet.OpHeartBeatResponse, []byte{0, 0, 1, 44})
	v, err := packet.AsInt32BE(p)
	require.NoError(t, err)
	assert.Equal(t, int32(300), v)
}

func TestAsInt32BERejectsWrongLength(t *testing.T) {
	short := packet.New(packet.Int32BE, packet.OpHeartBeatResponse, []byte{0, 0, 1})
	_, err := packet.AsInt32BE(short)
	var perr *bilierr.ParseError
	require.ErrorAs(t, err, &perr)

	long := packet.New(packet.Int32BE, packet.OpHeartBeatResponse, []byte{0, 0, 1, 44, 0})
	_, err = packet.AsInt32BE(long)
	require.ErrorAs(t, err, &perr)
}

func TestRoomEnterBuildsKeyField(t *testing.T) {
	p, err := packet.RoomEnter(12345, 9, "tok")
	require.NoError(t, err)
	assert.Equal(t, packet.OpRoomEnter, p.Op)

	body, err := packet.AsJSON[map[string]any](p)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"uid":       float64(9),
		"roomid":    float64(12345),
		"protover":  float64(packet.Zlib),
		"platform":  "web",
		"clientver": "1.8.2",
		"type":      float64(2),
		"key":       "tok",
	}, body)
}

func TestHeartbeatBodyIsEmpty(t *testing.T) {
	p := packet.Heartbeat()
	assert.Equal(t, packet.OpHeartBeat, p.Op)
	assert.Empty(t, p.Body)

	wire := packet.Encode(p)
	assert.Equal(t, uint32(packet.HeaderSize), binary.BigEndian.Uint32(wire[0:4]))
}
