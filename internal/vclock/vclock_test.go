package vclock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func TestClockOrdersByTimeThenInsertion(t *testing.T) {
	c := New(epoch)
	var got []string
	c.ScheduleAt(epoch.Add(2*time.Second), func() { got = append(got, "c") })
	c.ScheduleAt(epoch.Add(time.Second), func() { got = append(got, "a") })
	c.ScheduleAt(epoch.Add(time.Second), func() { got = append(got, "b") })
	c.ScheduleAt(epoch, func() { got = append(got, "first") })

	c.RunUntil(epoch.Add(10 * time.Second))
	assert.Equal(t, []string{"first", "a", "b", "c"}, got)
	assert.Equal(t, epoch.Add(10*time.Second), c.Now())
	assert.Equal(t, uint64(4), c.Fired())
}

func TestClockCancelledEventNeverFires(t *testing.T) {
	c := New(epoch)
	fired := false
	h := c.ScheduleAt(epoch.Add(time.Second), func() { fired = true })
	assert.Equal(t, 1, c.Pending())
	assert.True(t, h.Cancel())
	assert.False(t, h.Cancel())
	assert.Equal(t, 0, c.Pending())
	c.Advance(5 * time.Second)
	assert.False(t, fired)
}

func TestClockPastScheduleRunsNow(t *testing.T) {
	c := New(epoch)
	c.Advance(time.Minute)
	var at time.Time
	c.ScheduleAt(epoch, func() { at = c.Now() })
	require.True(t, c.Step())
	assert.Equal(t, epoch.Add(time.Minute), at)
}

func TestClockPeriodicReschedule(t *testing.T) {
	c := New(epoch)
	n := 0
	var tick func()
	tick = func() {
		n++
		After(c, time.Second, tick)
	}
	After(c, 0, tick)
	c.RunUntil(epoch.Add(5 * time.Second))
	assert.Equal(t, 6, n)
	assert.Equal(t, 1, c.Pending())
}

func TestClockRunUntilLeavesLaterEvents(t *testing.T) {
	c := New(epoch)
	fired := false
	c.ScheduleAt(epoch.Add(3*time.Second), func() { fired = true })
	c.RunUntil(epoch.Add(2 * time.Second))
	assert.False(t, fired)
	assert.Equal(t, epoch.Add(2*time.Second), c.Now())
	c.RunUntil(epoch.Add(3 * time.Second))
	assert.True(t, fired)
}

func TestRealtimeSerializesCallbacks(t *testing.T) {
	rt := NewRealtime(16)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go rt.Run(ctx)

	done := make(chan int, 3)
	order := 0
	After(rt, 5*time.Millisecond, func() { order++; done <- order })
	require.True(t, rt.Submit(func() { order++; done <- order }))

	first := <-done
	second := <-done
	assert.Equal(t, 1, first)
	assert.Equal(t, 2, second)
}

func TestRealtimeCancel(t *testing.T) {
	rt := NewRealtime(4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go rt.Run(ctx)

	fired := make(chan struct{}, 1)
	h := After(rt, 20*time.Millisecond, func() { fired <- struct{}{} })
	assert.True(t, h.Cancel())
	select {
	case <-fired:
		t.Fatal("cancelled callback fired")
	case <-time.After(60 * time.Millisecond):
	}
}

func TestRealtimeSubmitDropsWhenFull(t *testing.T) {
	rt := NewRealtime(1)
	assert.True(t, rt.Submit(func() {}))
	assert.False(t, rt.Submit(func() {}))
	assert.Equal(t, uint64(1), rt.Dropped())
}
