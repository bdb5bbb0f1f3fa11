package sublist

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
	"nuha.dev/trackpoint/internal/position"
)

// ALL is the key of the list that receives every device's frames.
const ALL = "*"

type SublistMap struct {
	mu   sync.Mutex
	list map[string]*Sublist
	log  zerolog.Logger
}

func NewSublistMap() *SublistMap {
	m := &SublistMap{}
	m.list = make(map[string]*Sublist)
	m.log = zlog.With().Str("module", "sublist").Logger()
	return m
}

func (s *SublistMap) GetSublist(key string, create bool) (*Sublist, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.list[key]
	if ok {
		return l, true
	}
	if !create {
		return nil, false
	}
	l = newSublist(key, s.log)
	s.list[key] = l
	return l, true
}

// Publish sends the point frame to the device's own subscribers and to the
// ALL list.
func (s *SublistMap) Publish(p *position.Point) {
	frame := EncodePoint(p)
	if l, ok := s.GetSublist(p.Device, false); ok {
		l.Send(p.Device, frame)
	}
	if l, ok := s.GetSublist(ALL, false); ok {
		l.Send(p.Device, frame)
	}
}

// PublishEvent notifies the device's subscribers of a state change.
func (s *SublistMap) PublishEvent(device, topic string, t time.Time) {
	if l, ok := s.GetSublist(device, false); ok {
		l.Send(device, encodeEvent(device, topic, t))
	}
}

type subflag struct {
	sub Subscriber
	err error
}

// Sublist remembers the last frame so new subscribers start with the
// latest known point.
type Sublist struct {
	key        string
	mu         sync.Mutex
	list       []subflag
	last       []byte
	last_prune time.Time
	prune_dur  time.Duration
	log        zerolog.Logger
}

func newSublist(key string, logger zerolog.Logger) *Sublist {
	o := &Sublist{}
	o.key = key
	o.list = make([]subflag, 0, 8)
	o.prune_dur = 20 * time.Second
	o.last_prune = time.Now()
	o.log = logger.With().Str("key", key).Logger()
	return o
}

func (s *Sublist) Subscribe(sub Subscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.list = append(s.list, subflag{sub: sub})
	if s.last != nil {
		_ = sub.Push(s.key, s.last)
	}
	s.log.Debug().Str("subscriber", sub.Name()).Int("count", len(s.list)).Msg("subscribed")
}

func (s *Sublist) Unsubscribe(sub Subscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.list {
		if s.list[i].sub == sub {
			s.list = append(s.list[:i], s.list[i+1:]...)
			return
		}
	}
}

func (s *Sublist) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.list)
}

func (s *Sublist) Send(sender string, d []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(d) > 0 && d[0] == FRAME_POINT {
		s.last = d
	}
	for i := range s.list {
		s.list[i].err = s.list[i].sub.Push(sender, d)
	}
	if time.Since(s.last_prune) > s.prune_dur {
		s.prune()
		s.last_prune = time.Now()
	}
}

// Prune drops subscribers that failed their last push or are closed.
func (s *Sublist) Prune() {
	s.mu.Lock()
	s.prune()
	s.mu.Unlock()
}

func (s *Sublist) prune() {
	kept := s.list[:0]
	for _, f := range s.list {
		if f.err != nil || f.sub.Closed() {
			s.log.Debug().Str("subscriber", f.sub.Name()).AnErr("push_error", f.err).Msg("pruned")
			continue
		}
		kept = append(kept, f)
	}
	for i := len(kept); i < len(s.list); i++ {
		s.list[i] = subflag{}
	}
	s.list = kept
}
