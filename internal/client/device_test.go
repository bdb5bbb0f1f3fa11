package client

import (
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"
	"nuha.dev/trackpoint/internal/mobility"
	"nuha.dev/trackpoint/internal/position"
	"nuha.dev/trackpoint/internal/protocol"
	"nuha.dev/trackpoint/internal/transport"
	"nuha.dev/trackpoint/internal/vclock"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

type recorder struct {
	sent [][]byte
	err  error
}

func (r *recorder) Send(p []byte) error {
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, transport.Own(p))
	return nil
}

type countObserver struct {
	outcomes map[string]int
	samples  int
	acked    int
}

func (c *countObserver) Sampled(string) { c.samples++ }
func (c *countObserver) Flushed(_ string, o string, _ int) {
	if c.outcomes == nil {
		c.outcomes = map[string]int{}
	}
	c.outcomes[o]++
}
func (c *countObserver) Acked(_ string, n int) { c.acked += n }

func newTestDevice(t *testing.T, conf ClientConfig, src mobility.Source) (*Device, *recorder, *vclock.Clock) {
	t.Helper()
	require.NoError(t, conf.Validate())
	clk := vclock.New(epoch)
	rec := &recorder{}
	d := NewDevice("dev-1", conf, &DeviceParam{
		Scheduler: clk,
		Source:    src,
		Link:      rec,
		Rand:      rand.New(rand.NewSource(1)),
	})
	return d, rec, clk
}

func fill(t *testing.T, d *Device, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.True(t, d.Sample())
	}
}

func TestBufferRejectsNonIncreasingIds(t *testing.T) {
	b := NewBuffer()
	require.NoError(t, b.Put(position.Sample{ID: 3}))
	require.NoError(t, b.Put(position.Sample{ID: 5}))
	assert.Error(t, b.Put(position.Sample{ID: 5}))
	assert.Error(t, b.Put(position.Sample{ID: 4}))

	assert.True(t, b.Remove(5))
	assert.False(t, b.Remove(5))
	// a removed id is still never reused
	assert.Error(t, b.Put(position.Sample{ID: 5}))
	require.NoError(t, b.Put(position.Sample{ID: 6}))
	assert.Equal(t, []uint32{3, 6}, b.IDs())
}

func TestBufferNewestFirst(t *testing.T) {
	b := NewBuffer()
	for i := uint32(0); i < 5; i++ {
		require.NoError(t, b.Put(position.Sample{ID: i}))
	}
	got := b.Newest(3)
	require.Len(t, got, 3)
	assert.Equal(t, []uint32{4, 3, 2}, []uint32{got[0].ID, got[1].ID, got[2].ID})
	assert.Len(t, b.Newest(0), 5)
}

func TestFlushBelowThresholdKeepsAccumulating(t *testing.T) {
	conf := DefaultClientConfig()
	conf.AmountToSend = 3
	d, rec, _ := newTestDevice(t, conf, mobility.Static{})
	fill(t, d, 2)
	assert.Equal(t, FlushBelowThreshold, d.Flush())
	assert.Empty(t, rec.sent)
	assert.Equal(t, 2, d.Buffer().Len())
}

func TestFlushNeverDropsAtThresholdOne(t *testing.T) {
	conf := DefaultClientConfig()
	conf.AmountToSend = 2
	conf.LossThreshold = 1
	conf.PaddingBytes = 8
	d, rec, _ := newTestDevice(t, conf, mobility.Static{Pos: r3.Vec{X: 1, Y: 2, Z: 3}})
	fill(t, d, 3)

	for i := 0; i < 20; i++ {
		require.Equal(t, FlushSent, d.Flush())
	}
	require.Len(t, rec.sent, 20)
	b, errs := protocol.Parse(rec.sent[0])
	require.Empty(t, errs)
	assert.Equal(t, []uint32{2, 1, 0}, b.Seqs())
	assert.Equal(t, 8, b.Padding)
	assert.Equal(t, uint64(20), d.Stats().Sent)
	assert.Zero(t, d.Stats().Lost)
	// nothing acknowledged yet
	assert.Equal(t, 3, d.Buffer().Len())
}

func TestFlushAlwaysDropsAtThresholdZero(t *testing.T) {
	conf := DefaultClientConfig()
	conf.AmountToSend = 1
	conf.LossThreshold = 0
	d, rec, _ := newTestDevice(t, conf, mobility.Static{})
	fill(t, d, 4)
	before := d.Buffer().Newest(0)

	for i := 0; i < 10; i++ {
		require.Equal(t, FlushDropped, d.Flush())
	}
	assert.Empty(t, rec.sent)
	assert.Equal(t, before, d.Buffer().Newest(0))
	assert.Equal(t, uint64(10), d.Stats().Sent)
	assert.Equal(t, uint64(10), d.Stats().Lost)
}

func TestTransportFailureLeavesBuffer(t *testing.T) {
	conf := DefaultClientConfig()
	conf.AmountToSend = 1
	conf.LossThreshold = 1
	d, rec, _ := newTestDevice(t, conf, mobility.Static{})
	rec.err = errors.New("network unreachable")
	fill(t, d, 2)

	assert.Equal(t, FlushFailed, d.Flush())
	assert.Equal(t, 2, d.Buffer().Len())
	assert.Equal(t, uint64(1), d.Stats().Failed)
	assert.Zero(t, d.Stats().Lost)
}

func TestAckRemovesOnlyNamedIds(t *testing.T) {
	conf := DefaultClientConfig()
	d, _, _ := newTestDevice(t, conf, mobility.Static{})
	fill(t, d, 6)

	removed := d.HandleAck([]byte("1 OK\nnot an ack\nOK 3\nBATCH_OK:4,x\n99 OK\n"))
	assert.Equal(t, 3, removed)
	assert.Equal(t, []uint32{0, 2, 5}, d.Buffer().IDs())

	// same ack again changes nothing
	assert.Zero(t, d.HandleAck([]byte("1 OK\nOK 3\n")))
	assert.Equal(t, []uint32{0, 2, 5}, d.Buffer().IDs())
	assert.Equal(t, uint64(3), d.Stats().Acked)
}

func TestFireAndForgetClearsOnBatch(t *testing.T) {
	conf := DefaultClientConfig()
	conf.AmountToSend = 2
	conf.AckMode = AckModeNone
	conf.LossThreshold = 0
	d, rec, _ := newTestDevice(t, conf, mobility.Static{})
	fill(t, d, 3)

	assert.Equal(t, FlushDropped, d.Flush())
	assert.Zero(t, d.Buffer().Len())
	assert.Empty(t, rec.sent)
}

func TestMaxBatchSendsNewest(t *testing.T) {
	conf := DefaultClientConfig()
	conf.AmountToSend = 1
	conf.MaxBatch = 2
	conf.LossThreshold = 1
	d, rec, _ := newTestDevice(t, conf, mobility.Static{})
	fill(t, d, 5)

	require.Equal(t, FlushSent, d.Flush())
	b, _ := protocol.Parse(rec.sent[0])
	assert.Equal(t, []uint32{4, 3}, b.Seqs())
}

func TestRangeGateHoldsBuffer(t *testing.T) {
	conf := DefaultClientConfig()
	conf.AmountToSend = 1
	conf.LossThreshold = 1
	conf.Range = 100
	conf.Anchor = r3.Vec{X: 0, Y: 0}
	src := &mobility.Static{Pos: r3.Vec{X: 150}}
	d, rec, _ := newTestDevice(t, conf, src)
	fill(t, d, 2)

	assert.Equal(t, FlushOutOfRange, d.Flush())
	assert.Equal(t, 2, d.Buffer().Len())
	assert.Empty(t, rec.sent)

	src.Pos = r3.Vec{X: 60, Y: 80}
	assert.Equal(t, FlushSent, d.Flush())
}

func TestSampleSkipsWhenSourceDown(t *testing.T) {
	down := true
	src := &mobility.Flaky{Source: mobility.Static{}, Down: func() bool { return down }}
	d, _, _ := newTestDevice(t, DefaultClientConfig(), src)

	assert.False(t, d.Sample())
	down = false
	assert.True(t, d.Sample())
	assert.Equal(t, []uint32{0}, d.Buffer().IDs())
	assert.Equal(t, uint64(1), d.Stats().Skipped)
}

func TestSampleKinematics(t *testing.T) {
	conf := DefaultClientConfig()
	conf.SendKinematics = true
	src := &mobility.Linear{Vel: r3.Vec{X: 0, Y: 2}, Start: epoch, Now: func() time.Time { return epoch }}
	d, _, _ := newTestDevice(t, conf, src)
	fill(t, d, 1)

	s, ok := d.Buffer().Get(0)
	require.True(t, ok)
	assert.True(t, s.HasSpeed)
	assert.Equal(t, 2.0, s.Speed)
	assert.InDelta(t, 1.5707963, s.Heading, 1e-6)
}

func TestHostStartStop(t *testing.T) {
	clk := vclock.New(epoch)
	h := NewHost(clk)
	obs := &countObserver{}
	conf := DefaultClientConfig()
	conf.AmountToSend = 3
	conf.LossThreshold = 1
	rec := &recorder{}

	id, err := h.Start("dev-a", conf, DeviceParam{Source: mobility.Static{}, Link: rec, Observer: obs})
	require.NoError(t, err)
	d, ok := h.Device(id)
	require.True(t, ok)

	clk.RunUntil(epoch.Add(4 * time.Second))
	assert.Equal(t, 5, obs.samples)
	// sends at 3s and 4s, the send tick runs before the sample tick
	assert.Len(t, rec.sent, 2)

	require.NoError(t, h.Stop(id))
	assert.False(t, d.Running())
	assert.Zero(t, clk.Pending())
	clk.Advance(10 * time.Second)
	assert.Equal(t, 5, obs.samples)
	assert.ErrorIs(t, h.Stop(id), ErrUnknownHandle)
}

func TestHostRejectsInvalidConfig(t *testing.T) {
	h := NewHost(vclock.New(epoch))
	conf := DefaultClientConfig()
	conf.LossThreshold = 2
	_, err := h.Start("bad", conf, DeviceParam{Source: mobility.Static{}, Link: &recorder{}})
	assert.Error(t, err)
	conf = DefaultClientConfig()
	conf.AckMode = "maybe"
	_, err = h.Start("bad", conf, DeviceParam{Source: mobility.Static{}, Link: &recorder{}})
	assert.Error(t, err)
}
