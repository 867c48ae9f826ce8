package stream_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bililive-go/bililive/bilierr"
	"github.com/bililive-go/bililive/config"
	"github.com/bililive-go/bililive/packet"
	"github.com/bililive-go/bililive/retry"
	"github.com/bililive-go/bililive/stream"
	"github.com/bililive-go/bililive/transport"
)

func TestReconnectStreamRotatesServersAndRecoversFromFailure(t *testing.T) {
	cfg := &config.StreamConfig{RoomID: 1, Servers: []string{"s1", "s2", "s3"}}

	goodConn := newFakeConn()
	goodConn.push(packet.Encode(packet.New(packet.Json, packet.OpNotification, []byte("ok"))))

	connector := &fakeConnector{
		results: []func() (transport.Conn, error){
			func() (transport.Conn, error) { return nil, errors.New("dial failed") },
			func() (transport.Conn, error) { return nil, errors.New("dial failed") },
			func() (transport.Conn, error) { return goodConn, nil },
		},
	}

	policy, err := retry.NewBEBPolicy(time.Millisecond, 2, 10)
	require.NoError(t, err)

	rs, err := stream.ConnectWithRetry(context.Background(), cfg,
		stream.WithConnector(connector),
		stream.WithRetryPolicy(policy),
	)
	require.NoError(t, err)
	defer rs.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	p, err := rs.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("ok"), p.Body)

	assert.Equal(t, []string{"s1", "s2", "s3"}, connector.dialedServers())
}

func TestReconnectStreamExhaustsRetries(t *testing.T) {
	cfg := &config.StreamConfig{Servers: []string{"s1"}}
	connector := &fakeConnector{} // no results configured: every dial fails

	policy, err := retry.NewBEBPolicy(time.Millisecond, 1, 2)
	require.NoError(t, err)

	rs, err := stream.ConnectWithRetry(context.Background(), cfg,
		stream.WithConnector(connector),
		stream.WithRetryPolicy(policy),
	)
	require.NoError(t, err)
	defer rs.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err = rs.Recv(ctx)
	require.Error(t, err)
	var ioErr *bilierr.IOError
	assert.ErrorAs(t, err, &ioErr)
}

func TestReconnectStreamCloseStopsStream(t *testing.T) {
	cfg := &config.StreamConfig{Servers: []string{"s1"}}
	conn := newFakeConn()
	connector := &fakeConnector{results: []func() (transport.Conn, error){
		func() (transport.Conn, error) { return conn, nil },
	}}

	rs, err := stream.ConnectWithRetry(context.Background(), cfg, stream.WithConnector(connector))
	require.NoError(t, err)
	require.NoError(t, rs.Close())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err = rs.Recv(ctx)
	require.Error(t, err)
}

func TestReconnectStreamClosePropagatesTransportCloseError(t *testing.T) {
	cfg := &config.StreamConfig{Servers: []string{"s1"}}
	conn := newFakeConn()
	conn.closeErr = errors.New("close frame write failed")
	connector := &fakeConnector{results: []func() (transport.Conn, error){
		func() (transport.Conn, error) { return conn, nil },
	}}

	rs, err := stream.ConnectWithRetry(context.Background(), cfg, stream.WithConnector(connector))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	for rs.State() != stream.StateActive {
		select {
		case <-ctx.Done():
			t.Fatal("stream never became active")
		default:
			time.Sleep(time.Millisecond)
		}
	}

	err = rs.Close()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "close frame write failed")
}

func TestConnectSurfacesDialFailureDirectly(t *testing.T) {
	cfg := &config.StreamConfig{Servers: []string{"s1"}}
	wantErr := errors.New("dial failed")
	connector := &fakeConnector{
		results: []func() (transport.Conn, error){
			func() (transport.Conn, error) { return nil, wantErr },
		},
	}

	_, err := stream.Connect(context.Background(), cfg, stream.WithConnector(connector))
	require.Error(t, err)
	assert.ErrorIs(t, err, wantErr)
}

func TestConnectDoesNotRetryOnDisconnect(t *testing.T) {
	cfg := &config.StreamConfig{Servers: []string{"s1"}}
	conn := newFakeConn()
	connector := &fakeConnector{results: []func() (transport.Conn, error){
		func() (transport.Conn, error) { return conn, nil },
	}}

	s, err := stream.Connect(context.Background(), cfg, stream.WithConnector(connector))
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, conn.Close())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err = s.Recv(ctx)
	require.Error(t, err)

	// A single dial only; no reconnect attempt follows the disconnect.
	assert.Equal(t, []string{"s1"}, connector.dialedServers())
}
