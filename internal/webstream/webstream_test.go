package webstream

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"
	"nhooyr.io/websocket"
	"nuha.dev/trackpoint/internal/position"
	"nuha.dev/trackpoint/internal/sublist"
)

func TestSubscribeReceivesFrames(t *testing.T) {
	subs := sublist.NewSublistMap()
	ws := NewWebstream(subs)
	srv := httptest.NewServer(ws)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer c.Close(websocket.StatusNormalClosure, "")

	require.NoError(t, c.Write(ctx, websocket.MessageText, []byte("ADDSUB:ue-1")))
	require.Eventually(t, func() bool {
		l, ok := subs.GetSublist("ue-1", false)
		return ok && l.Len() == 1
	}, 2*time.Second, 10*time.Millisecond)

	p := position.NewPoint("ue-1", 4, r3.Vec{X: 1, Y: 2, Z: 3}, position.Confirmed, time.UnixMilli(1000))
	subs.Publish(&p)

	typ, frame, err := c.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, websocket.MessageBinary, typ)
	got, err := sublist.DecodePoint(frame)
	require.NoError(t, err)
	assert.Equal(t, uint32(4), got.Seq)
	assert.Equal(t, "ue-1", got.Device)

	require.NoError(t, c.Write(ctx, websocket.MessageText, []byte("DELSUB:ue-1")))
	require.Eventually(t, func() bool {
		l, _ := subs.GetSublist("ue-1", false)
		return l.Len() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestPushDropsWhenFull(t *testing.T) {
	ws := NewWebstream(sublist.NewSublistMap())
	wc := &WebstreamClient{srv: ws, logger: ws.logger, wch: make(chan []byte, 1)}
	assert.NoError(t, wc.Push("a", []byte{1}))
	assert.NoError(t, wc.Push("a", []byte{2}))
	assert.Equal(t, uint64(1), wc.dropped)
	wc.closed = 1
	assert.Error(t, wc.Push("a", []byte{3}))
}
