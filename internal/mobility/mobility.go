// Package mobility holds the position sources read by devices: the
// interfaces the sampler consumes and the movement models used by the
// simulator and tests.
package mobility

import (
	"errors"
	"math/rand"
	"time"

	"gonum.org/v1/gonum/spatial/r3"
	"nuha.dev/trackpoint/internal/position"
)

var ErrUnavailable = errors.New("position unavailable")

// Source reports where a device is right now.
type Source interface {
	Position() (r3.Vec, error)
}

// VelocitySource is implemented by sources that also know how fast the
// device moves.
type VelocitySource interface {
	Velocity() (r3.Vec, error)
}

// Static never moves.
type Static struct {
	Pos r3.Vec
}

func (s Static) Position() (r3.Vec, error) { return s.Pos, nil }

func (s Static) Velocity() (r3.Vec, error) { return r3.Vec{}, nil }

// Linear moves with constant velocity from Origin starting at Start.
type Linear struct {
	Origin r3.Vec
	Vel    r3.Vec
	Start  time.Time
	Now    func() time.Time
}

func (l *Linear) Position() (r3.Vec, error) {
	dt := l.Now().Sub(l.Start).Seconds()
	return r3.Add(l.Origin, r3.Scale(dt, l.Vel)), nil
}

func (l *Linear) Velocity() (r3.Vec, error) { return l.Vel, nil }

// Flaky wraps a source and fails while Down returns true.
type Flaky struct {
	Source
	Down func() bool
}

func (f *Flaky) Position() (r3.Vec, error) {
	if f.Down() {
		return r3.Vec{}, ErrUnavailable
	}
	return f.Source.Position()
}

func (f *Flaky) Velocity() (r3.Vec, error) {
	if f.Down() {
		return r3.Vec{}, ErrUnavailable
	}
	if vs, ok := f.Source.(VelocitySource); ok {
		return vs.Velocity()
	}
	return r3.Vec{}, ErrUnavailable
}

type segment struct {
	from, to   r3.Vec
	start, end time.Time
}

// RandomWaypoint moves in straight lines at a fixed speed between random
// points of an area, using the clock it is given.
type RandomWaypoint struct {
	area  position.Area
	speed float64
	rng   *rand.Rand
	now   func() time.Time
	seg   segment
}

func NewRandomWaypoint(area position.Area, speed float64, seed int64, now func() time.Time) *RandomWaypoint {
	o := &RandomWaypoint{}
	o.area = area
	o.speed = speed
	o.rng = rand.New(rand.NewSource(seed))
	o.now = now
	t := now()
	start := o.pick()
	o.seg = segment{from: start, to: start, start: t, end: t}
	o.next(start, t)
	return o
}

func (w *RandomWaypoint) pick() r3.Vec {
	return r3.Vec{
		X: w.area.MinX + w.rng.Float64()*(w.area.MaxX-w.area.MinX),
		Y: w.area.MinY + w.rng.Float64()*(w.area.MaxY-w.area.MinY),
	}
}

func (w *RandomWaypoint) next(from r3.Vec, t time.Time) {
	if w.speed <= 0 {
		w.seg = segment{from: from, to: from, start: t, end: t}
		return
	}
	to := w.pick()
	d := time.Duration(r3.Norm(r3.Sub(to, from)) / w.speed * float64(time.Second))
	if d <= 0 {
		d = time.Millisecond
	}
	w.seg = segment{from: from, to: to, start: t, end: t.Add(d)}
}

func (w *RandomWaypoint) advance() time.Time {
	t := w.now()
	for w.speed > 0 && !t.Before(w.seg.end) {
		w.next(w.seg.to, w.seg.end)
	}
	return t
}

func (w *RandomWaypoint) Position() (r3.Vec, error) {
	t := w.advance()
	if w.speed <= 0 || !w.seg.end.After(w.seg.start) {
		return w.seg.from, nil
	}
	frac := float64(t.Sub(w.seg.start)) / float64(w.seg.end.Sub(w.seg.start))
	return position.Lerp(w.seg.from, w.seg.to, frac), nil
}

func (w *RandomWaypoint) Velocity() (r3.Vec, error) {
	w.advance()
	if w.speed <= 0 || !w.seg.end.After(w.seg.start) {
		return r3.Vec{}, nil
	}
	secs := w.seg.end.Sub(w.seg.start).Seconds()
	return r3.Scale(1/secs, r3.Sub(w.seg.to, w.seg.from)), nil
}
