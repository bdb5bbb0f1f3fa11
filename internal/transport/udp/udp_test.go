package udp

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	srv, err := Listen("127.0.0.1:0", 4)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.Serve(ctx)

	cl, err := Dial(srv.Addr().String())
	require.NoError(t, err)
	acks := make(chan []byte, 1)
	go cl.ReadAcks(ctx, func(b []byte) { acks <- b })

	require.NoError(t, cl.Send([]byte("0 1,2,3\n")))
	select {
	case d := <-srv.Inbox():
		assert.Equal(t, "0 1,2,3\n", string(d.Payload))
		assert.Equal(t, cl.LocalAddr(), d.Source)
		require.NoError(t, srv.Reply(d.Source, []byte("0 OK\n")))
	case <-time.After(2 * time.Second):
		t.Fatal("no datagram")
	}
	select {
	case b := <-acks:
		assert.Equal(t, "0 OK\n", string(b))
	case <-time.After(2 * time.Second):
		t.Fatal("no ack")
	}
}

func TestFullInboxDrops(t *testing.T) {
	srv, err := Listen("127.0.0.1:0", 1)
	require.NoError(t, err)
	dropped := make(chan string, 8)
	srv.OnDrop(func(src string) { dropped <- src })
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.Serve(ctx)

	cl, err := Dial(srv.Addr().String())
	require.NoError(t, err)
	defer cl.Close()
	require.NoError(t, cl.Send([]byte("a")))
	require.NoError(t, cl.Send([]byte("b")))

	select {
	case src := <-dropped:
		assert.Equal(t, cl.LocalAddr(), src)
	case <-time.After(2 * time.Second):
		t.Fatal("expected a drop")
	}
}
