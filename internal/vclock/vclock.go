// Package vclock provides the scheduler the protocol components run on: a
// deterministic virtual clock for simulation and tests, and a realtime
// adapter that serializes callbacks onto a single goroutine.
package vclock

import (
	"container/heap"
	"time"
)

// Handle cancels a scheduled callback. Cancel reports whether the callback
// was still pending.
type Handle interface {
	Cancel() bool
}

// Scheduler runs callbacks at points in time. Callbacks never run
// concurrently with each other.
type Scheduler interface {
	Now() time.Time
	ScheduleAt(t time.Time, fn func()) Handle
}

// After schedules fn d after the scheduler's current time.
func After(s Scheduler, d time.Duration, fn func()) Handle {
	return s.ScheduleAt(s.Now().Add(d), fn)
}

type event struct {
	at        time.Time
	seq       uint64
	fn        func()
	index     int
	cancelled bool
	fired     bool
}

func (e *event) Cancel() bool {
	if e.cancelled || e.fired {
		return false
	}
	e.cancelled = true
	return true
}

type eventQueue []*event

func (q eventQueue) Len() int { return len(q) }

func (q eventQueue) Less(i, j int) bool {
	if q[i].at.Equal(q[j].at) {
		return q[i].seq < q[j].seq
	}
	return q[i].at.Before(q[j].at)
}

func (q eventQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *eventQueue) Push(x interface{}) {
	e := x.(*event)
	e.index = len(*q)
	*q = append(*q, e)
}

func (q *eventQueue) Pop() interface{} {
	old := *q
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*q = old[:n-1]
	return e
}

// Clock is a virtual clock. Time only moves when events are stepped. Events
// fire in non-decreasing time order; ties fire in scheduling order.
type Clock struct {
	now   time.Time
	seq   uint64
	queue eventQueue
	fired uint64
}

func New(start time.Time) *Clock {
	return &Clock{now: start}
}

func (c *Clock) Now() time.Time {
	return c.now
}

// ScheduleAt queues fn. A time in the past is treated as now.
func (c *Clock) ScheduleAt(t time.Time, fn func()) Handle {
	if t.Before(c.now) {
		t = c.now
	}
	e := &event{at: t, seq: c.seq, fn: fn}
	c.seq++
	heap.Push(&c.queue, e)
	return e
}

// Pending counts queued events that have not been cancelled.
func (c *Clock) Pending() int {
	n := 0
	for _, e := range c.queue {
		if !e.cancelled {
			n++
		}
	}
	return n
}

// Fired counts callbacks run so far.
func (c *Clock) Fired() uint64 {
	return c.fired
}

// Step runs the next pending event. It returns false when nothing is queued.
func (c *Clock) Step() bool {
	for c.queue.Len() > 0 {
		e := heap.Pop(&c.queue).(*event)
		if e.cancelled {
			continue
		}
		c.now = e.at
		e.fired = true
		c.fired++
		e.fn()
		return true
	}
	return false
}

// RunUntil runs every event due at or before t and leaves the clock at t.
func (c *Clock) RunUntil(t time.Time) {
	for c.queue.Len() > 0 {
		next := c.queue[0]
		if next.cancelled {
			heap.Pop(&c.queue)
			continue
		}
		if next.at.After(t) {
			break
		}
		c.Step()
	}
	if t.After(c.now) {
		c.now = t
	}
}

// Advance is RunUntil(Now()+d).
func (c *Clock) Advance(d time.Duration) {
	c.RunUntil(c.now.Add(d))
}

// Drain runs events until the queue is empty or limit callbacks have fired.
// Periodic callbacks reschedule forever, so callers normally use RunUntil.
func (c *Clock) Drain(limit int) int {
	n := 0
	for n < limit && c.Step() {
		n++
	}
	return n
}
