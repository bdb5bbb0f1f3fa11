package vclock

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Realtime is a Scheduler on the wall clock. Timers only enqueue callbacks;
// Run executes them one at a time, so components keep the same single
// consumer guarantees they have on the virtual Clock.
type Realtime struct {
	calls   chan func()
	dropped uint64
	mu      sync.Mutex
	timers  map[*rtHandle]struct{}
	closed  bool
	done    chan struct{}
}

type rtHandle struct {
	rt        *Realtime
	timer     *time.Timer
	cancelled uint32
	fired     uint32
}

func (h *rtHandle) Cancel() bool {
	if !atomic.CompareAndSwapUint32(&h.cancelled, 0, 1) {
		return false
	}
	h.timer.Stop()
	h.rt.forget(h)
	return atomic.LoadUint32(&h.fired) == 0
}

// NewRealtime creates a scheduler whose queue holds up to size callbacks.
func NewRealtime(size int) *Realtime {
	return &Realtime{calls: make(chan func(), size), timers: make(map[*rtHandle]struct{}), done: make(chan struct{})}
}

func (r *Realtime) Now() time.Time {
	return time.Now()
}

func (r *Realtime) ScheduleAt(t time.Time, fn func()) Handle {
	h := &rtHandle{rt: r}
	r.mu.Lock()
	defer r.mu.Unlock()
	h.timer = time.AfterFunc(time.Until(t), func() {
		r.forget(h)
		r.enqueue(func() {
			if atomic.LoadUint32(&h.cancelled) == 1 {
				return
			}
			atomic.StoreUint32(&h.fired, 1)
			fn()
		}, true)
	})
	if !r.closed {
		r.timers[h] = struct{}{}
	}
	return h
}

// Submit hands fn to the run loop. It never blocks: when the queue is full
// fn is dropped and false is returned.
func (r *Realtime) Submit(fn func()) bool {
	return r.enqueue(fn, false)
}

// Dropped counts submissions rejected because the queue was full.
func (r *Realtime) Dropped() uint64 {
	return atomic.LoadUint64(&r.dropped)
}

func (r *Realtime) enqueue(fn func(), wait bool) bool {
	if wait {
		select {
		case r.calls <- fn:
			return true
		case <-r.done:
			return false
		}
	}
	select {
	case r.calls <- fn:
		return true
	default:
		atomic.AddUint64(&r.dropped, 1)
		return false
	}
}

func (r *Realtime) forget(h *rtHandle) {
	r.mu.Lock()
	delete(r.timers, h)
	r.mu.Unlock()
}

// Run executes queued callbacks until ctx is done, then stops every timer
// still pending.
func (r *Realtime) Run(ctx context.Context) {
	defer r.stopTimers()
	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-r.calls:
			fn()
		}
	}
}

func (r *Realtime) stopTimers() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.closed {
		close(r.done)
	}
	r.closed = true
	for h := range r.timers {
		h.timer.Stop()
	}
	r.timers = make(map[*rtHandle]struct{})
}
