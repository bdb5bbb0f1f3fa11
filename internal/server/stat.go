package server

import (
	"sync"
	"time"
)

type counter struct {
	base time.Time
	cnt  uint64
}

// Stat counts events in fixed time buckets kept in a ring, newest at head.
type Stat struct {
	mu    sync.Mutex
	buf   [60]counter
	phead int
	dur   time.Duration
}

func NewStat(dur time.Duration) *Stat {
	o := &Stat{}
	o.dur = dur
	return o
}

func (s *Stat) CounterIncr(amt uint64, t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f := t.Truncate(s.dur)
	last := &s.buf[s.phead]
	if f.After(last.base) {
		if last.cnt != 0 {
			s.phead = (s.phead + 1) % len(s.buf)
		}
		s.buf[s.phead] = counter{base: f, cnt: amt}
	} else if f.Equal(last.base) {
		last.cnt += amt
	}
}

// Recent returns up to n bucket counts, newest first. Buckets with no events
// in between are not represented.
func (s *Stat) Recent(n int) []uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n > len(s.buf) {
		n = len(s.buf)
	}
	out := make([]uint64, 0, n)
	for i := 0; i < n; i++ {
		c := s.buf[(s.phead-i+len(s.buf))%len(s.buf)]
		if c.cnt == 0 {
			break
		}
		out = append(out, c.cnt)
	}
	return out
}
