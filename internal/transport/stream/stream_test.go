package stream

import (
	"context"
	"net"
	"testing"
	"time"

	proxyproto "github.com/pires/go-proxyproto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nuha.dev/trackpoint/internal/transport"
)

func TestLinesBecomeDatagrams(t *testing.T) {
	inbox := make(chan transport.Datagram, 8)
	srv := NewServer("127.0.0.1:0", inbox, nil)
	require.NoError(t, srv.Listen())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.Serve(ctx)

	cl, err := Dial(srv.Addr().String())
	require.NoError(t, err)
	acks := make(chan string, 4)
	go cl.ReadAcks(ctx, func(b []byte) { acks <- string(b) })

	require.NoError(t, cl.Send([]byte("BATCH:ID:3|1,2,3;\n......")))
	require.NoError(t, cl.Send([]byte("4 1,2,3")))

	var got []transport.Datagram
	for len(got) < 2 {
		select {
		case d := <-inbox:
			got = append(got, d)
		case <-time.After(2 * time.Second):
			t.Fatalf("got %d datagrams", len(got))
		}
	}
	assert.Equal(t, "BATCH:ID:3|1,2,3;\n", string(got[0].Payload))
	assert.Equal(t, "4 1,2,3\n", string(got[1].Payload))
	assert.Equal(t, cl.LocalAddr(), got[0].Source)

	require.NoError(t, srv.Reply(got[0].Source, []byte("BATCH_OK:3\n")))
	select {
	case a := <-acks:
		assert.Equal(t, "BATCH_OK:3\n", a)
	case <-time.After(2 * time.Second):
		t.Fatal("no ack")
	}
}

func TestReplyUnknownPeer(t *testing.T) {
	srv := NewServer("127.0.0.1:0", make(chan transport.Datagram), nil)
	assert.ErrorIs(t, srv.Reply("10.0.0.1:9", []byte("x")), ErrUnknownPeer)
}

const spoofedHeader = "PROXY TCP4 10.9.9.9 127.0.0.1 5555 7700\r\n"

func sendWithHeader(t *testing.T, trusted []string) (transport.Datagram, net.Conn) {
	t.Helper()
	inbox := make(chan transport.Datagram, 8)
	srv := NewServer("127.0.0.1:0", inbox, nil)
	require.NoError(t, srv.TrustProxies(trusted))
	require.NoError(t, srv.Listen())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go srv.Serve(ctx)

	c, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	_, err = c.Write([]byte(spoofedHeader + "4 1,2,3\n"))
	require.NoError(t, err)

	select {
	case d := <-inbox:
		return d, c
	case <-time.After(2 * time.Second):
		t.Fatal("no datagram")
	}
	return transport.Datagram{}, nil
}

func TestProxyHeaderIgnoredFromUntrustedPeer(t *testing.T) {
	d, c := sendWithHeader(t, nil)
	assert.Equal(t, "4 1,2,3\n", string(d.Payload))
	assert.Equal(t, c.LocalAddr().String(), d.Source)
	assert.NotEqual(t, "10.9.9.9:5555", d.Source)
}

func TestProxyHeaderIgnoredOutsideTrustedList(t *testing.T) {
	d, c := sendWithHeader(t, []string{"10.0.0.0/8"})
	assert.Equal(t, c.LocalAddr().String(), d.Source)
}

func TestProxyHeaderUsedFromTrustedUpstream(t *testing.T) {
	d, _ := sendWithHeader(t, []string{"127.0.0.1"})
	assert.Equal(t, "4 1,2,3\n", string(d.Payload))
	assert.Equal(t, "10.9.9.9:5555", d.Source)
}

func TestTrustProxiesPolicy(t *testing.T) {
	srv := NewServer("127.0.0.1:0", make(chan transport.Datagram), nil)
	peer := &net.TCPAddr{IP: net.ParseIP("192.168.1.5"), Port: 4000}

	pol, err := srv.policy(peer)
	require.NoError(t, err)
	assert.Equal(t, proxyproto.IGNORE, pol)

	require.NoError(t, srv.TrustProxies([]string{"192.168.1.0/24"}))
	pol, err = srv.policy(peer)
	require.NoError(t, err)
	assert.Equal(t, proxyproto.USE, pol)

	assert.Error(t, srv.TrustProxies([]string{"not-an-address"}))
}
