package simlink

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nuha.dev/trackpoint/internal/transport"
	"nuha.dev/trackpoint/internal/vclock"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func TestDeliveryAfterLatency(t *testing.T) {
	clk := vclock.New(epoch)
	n := New(clk, 50*time.Millisecond)
	var got []transport.Datagram
	n.Attach("collector", func(d transport.Datagram) { got = append(got, d) })
	dev := n.Attach("dev-1", nil)

	buf := []byte("0 1,2,3\n")
	require.NoError(t, dev.Dial("collector").Send(buf))
	buf[0] = 'x'

	clk.Advance(49 * time.Millisecond)
	assert.Empty(t, got)
	clk.Advance(time.Millisecond)
	require.Len(t, got, 1)
	assert.Equal(t, "dev-1", got[0].Source)
	assert.Equal(t, "0 1,2,3\n", string(got[0].Payload))
	assert.Equal(t, epoch.Add(50*time.Millisecond), got[0].Received)
}

func TestUnknownAndClosedPorts(t *testing.T) {
	clk := vclock.New(epoch)
	n := New(clk, 0)
	p := n.Attach("dev-1", nil)
	require.NoError(t, p.SendTo("nowhere", []byte("x")))
	clk.Advance(time.Second)
	assert.Equal(t, uint64(1), n.Undeliverable())

	p.Close()
	assert.ErrorIs(t, p.SendTo("nowhere", []byte("x")), transport.ErrClosed)
}
