package stream_test

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bililive-go/bililive/packet"
	"github.com/bililive-go/bililive/stream"
)

func TestHeartbeatStreamSendsOnSchedule(t *testing.T) {
	conn := newFakeConn()
	clock := clockwork.NewFakeClock()
	fs := stream.NewFramedStream(conn)
	hb := stream.NewHeartbeatStream(fs, clock)
	defer hb.Close()

	// The first heartbeat fires immediately, before any timer is
	// registered; BlockUntil(1) here observes the timer started right
	// after it, so the remaining 4 advances land the next 4 beats at
	// t=30,60,90,120.
	clock.BlockUntil(1)
	for i := 0; i < 4; i++ {
		clock.Advance(stream.HeartbeatInterval)
		clock.BlockUntil(1)
	}

	count := 0
	for {
		select {
		case data := <-conn.writes:
			_, pkts, err := packet.Decode(data)
			require.NoError(t, err)
			require.Len(t, pkts, 1)
			assert.Equal(t, packet.OpHeartBeat, pkts[0].Op)
			count++
		default:
			assert.Equal(t, 5, count, "expected exactly 5 heartbeats at t=0,30,60,90,120")
			return
		}
	}
}

func TestHeartbeatStreamRecordsLastHeartbeatOnResponse(t *testing.T) {
	conn := newFakeConn()
	clock := clockwork.NewFakeClock()
	fs := stream.NewFramedStream(conn)
	hb := stream.NewHeartbeatStream(fs, clock)
	defer hb.Close()

	assert.True(t, hb.LastHeartbeat().IsZero())

	resp := packet.New(packet.Int32BE, packet.OpHeartBeatResponse, []byte{0, 0, 0, 42})
	conn.push(packet.Encode(resp))

	p, err := hb.Recv(context.Background())
	require.NoError(t, err)
	assert.Equal(t, packet.OpHeartBeatResponse, p.Op)

	deadline := time.Now().Add(time.Second)
	for hb.LastHeartbeat().IsZero() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	assert.False(t, hb.LastHeartbeat().IsZero())
}

func TestHeartbeatStreamForwardsApplicationPackets(t *testing.T) {
	conn := newFakeConn()
	clock := clockwork.NewFakeClock()
	fs := stream.NewFramedStream(conn)
	hb := stream.NewHeartbeatStream(fs, clock)
	defer hb.Close()

	conn.push(packet.Encode(packet.New(packet.Json, packet.OpNotification, []byte("hi"))))

	p, err := hb.Recv(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []byte("hi"), p.Body)
}
