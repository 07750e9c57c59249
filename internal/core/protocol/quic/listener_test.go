package quic

import (
	"bufio"
	"context"
	"testing"
	"time"

	"github.com/quic-go/quic-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/relpose/internal/core/protocol"
	"github.com/zeusync/relpose/internal/core/tracking/store"
	"github.com/zeusync/relpose/internal/ingest"
)

func startListener(t *testing.T, token string) (*Listener, *store.Store) {
	t.Helper()
	st := store.New(4)
	cfg := DefaultConfig()
	cfg.Addr = "127.0.0.1:0"
	cfg.Token = token

	l := NewListener(cfg, ingest.NewHandler(st, nil), nil)
	require.NoError(t, l.Start(context.Background()))
	t.Cleanup(func() { _ = l.Close() })
	return l, st
}

func dial(t *testing.T, l *Listener) (*quic.Conn, *quic.Stream) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := quic.DialAddr(ctx, l.Addr().String(), InsecureClientTLS(), &quic.Config{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.CloseWithError(0, "") })

	stream, err := conn.OpenStreamSync(ctx)
	require.NoError(t, err)
	return conn, stream
}

func writeLine(t *testing.T, s *quic.Stream, typ protocol.MessageType, payload any) {
	t.Helper()
	data, err := protocol.JSONCodec{}.Encode(typ, payload)
	require.NoError(t, err)
	_, err = s.Write(append(data, '\n'))
	require.NoError(t, err)
}

func TestListener_IngestAndAck(t *testing.T) {
	l, st := startListener(t, "secret")
	_, stream := dial(t, l)

	writeLine(t, stream, protocol.MessageHello, protocol.HelloFrame{Client: "test", Token: "secret"})
	writeLine(t, stream, protocol.MessagePose, protocol.PoseFrame{
		Device:      "controller_1",
		Position:    [3]float64{1, 2, 3},
		Orientation: [4]float64{1, 0, 0, 0},
	})
	writeLine(t, stream, protocol.MessagePose, protocol.PoseFrame{Device: ""})
	_, err := stream.Write([]byte("not json\n"))
	require.NoError(t, err)
	writeLine(t, stream, protocol.MessageLost, protocol.LostFrame{Device: "controller_1"})
	require.NoError(t, stream.Close())

	_ = stream.SetReadDeadline(time.Now().Add(5 * time.Second))
	line, err := bufio.NewReader(stream).ReadBytes('\n')
	require.NoError(t, err)

	env, err := protocol.JSONCodec{}.Decode(line)
	require.NoError(t, err)
	require.Equal(t, protocol.MessageAck, env.Type)
	var ack protocol.AckFrame
	require.NoError(t, env.DecodePayload(&ack))
	assert.Equal(t, protocol.AckFrame{Accepted: 2, Rejected: 2}, ack)

	e, ok := st.Get("controller_1")
	require.True(t, ok)
	assert.Equal(t, 3.0, e.Pose.Position.Z)
	assert.False(t, e.Tracked, "lost envelope marks the device untracked")
	assert.Equal(t, int64(1), l.Connections())
}

func TestListener_RejectsBadToken(t *testing.T) {
	l, st := startListener(t, "secret")
	conn, stream := dial(t, l)

	writeLine(t, stream, protocol.MessageHello, protocol.HelloFrame{Token: "wrong"})
	writeLine(t, stream, protocol.MessagePose, protocol.PoseFrame{
		Device:      "controller_1",
		Orientation: [4]float64{1, 0, 0, 0},
	})
	_ = stream.Close()

	_ = stream.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, err := bufio.NewReader(stream).ReadBytes('\n')
	assert.Error(t, err)

	select {
	case <-conn.Context().Done():
	case <-time.After(5 * time.Second):
		t.Fatal("connection was not closed after a bad token")
	}
	assert.Zero(t, st.Len())
}

func TestListener_NoTokenRequired(t *testing.T) {
	l, st := startListener(t, "")
	_, stream := dial(t, l)

	writeLine(t, stream, protocol.MessageHello, protocol.HelloFrame{})
	writeLine(t, stream, protocol.MessagePose, protocol.PoseFrame{
		Device:      "tracker_1",
		Orientation: [4]float64{0, 0, 0, 2},
	})
	require.NoError(t, stream.Close())

	_ = stream.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, err := bufio.NewReader(stream).ReadBytes('\n')
	require.NoError(t, err)
	assert.Equal(t, 1, st.Len())
}

func TestListener_Lifecycle(t *testing.T) {
	l := NewListener(Config{Addr: "127.0.0.1:0"}, ingest.NewHandler(store.New(1), nil), nil)
	assert.Nil(t, l.Addr())
	assert.ErrorIs(t, l.Close(), ErrNotRunning)

	require.NoError(t, l.Start(context.Background()))
	assert.ErrorIs(t, l.Start(context.Background()), ErrAlreadyRunning)
	assert.NotNil(t, l.Addr())
	require.NoError(t, l.Close())
}
