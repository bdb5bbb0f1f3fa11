package server

import (
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/spatial/r3"
	"nuha.dev/trackpoint/internal/position"
)

type synthesized struct {
	pos  r3.Vec
	kind position.Kind
	at   time.Time
}

// ApplyResult describes what one confirmed sample did to a track.
type ApplyResult struct {
	Duplicate bool
	Overwrote bool
	Trailing  bool
	Filled    int
	Deferred  bool
}

// Track is the reconstruction state of one device. Confirmed samples always
// win over synthesized points; synthesized points only ever fill ids between
// or below confirmed ones.
type Track struct {
	device    string
	mode      Interpolation
	maxFill   int
	interval  time.Duration
	confirmed map[uint32]position.Sample
	received  map[uint32]time.Time
	ids       []uint32
	synth     map[uint32]synthesized

	lastConfirmed r3.Vec
	lastPosition  r3.Vec
	speed         float64
	heading       float64
	lastUpdate    time.Time
	updated       bool
	estimated     bool
	estimates     uint64
}

func NewTrack(device string, mode Interpolation, maxFill int, sampleInterval time.Duration) *Track {
	o := &Track{}
	o.device = device
	o.mode = mode
	o.maxFill = maxFill
	o.interval = sampleInterval
	o.confirmed = make(map[uint32]position.Sample)
	o.received = make(map[uint32]time.Time)
	o.synth = make(map[uint32]synthesized)
	return o
}

func (t *Track) Device() string {
	return t.device
}

// Len counts the ids that resolve to a stored point.
func (t *Track) Len() int {
	return len(t.confirmed) + len(t.synth)
}

func (t *Track) ConfirmedLen() int {
	return len(t.ids)
}

// Span returns the lowest and highest confirmed id.
func (t *Track) Span() (uint32, uint32, bool) {
	if len(t.ids) == 0 {
		return 0, 0, false
	}
	return t.ids[0], t.ids[len(t.ids)-1], true
}

func (t *Track) index(id uint32) int {
	return sort.Search(len(t.ids), func(i int) bool { return t.ids[i] >= id })
}

// neighbours returns the nearest confirmed ids strictly below and above id.
func (t *Track) neighbours(id uint32) (a uint32, hasA bool, b uint32, hasB bool) {
	i := t.index(id)
	if i > 0 {
		a, hasA = t.ids[i-1], true
	}
	j := i
	if j < len(t.ids) && t.ids[j] == id {
		j++
	}
	if j < len(t.ids) {
		b, hasB = t.ids[j], true
	}
	return
}

func (t *Track) interpolate(a, b, id uint32) r3.Vec {
	pa, pb := t.confirmed[a].Pos, t.confirmed[b].Pos
	if t.mode == Midpoint {
		return position.Midpoint(pa, pb)
	}
	return position.Lerp(pa, pb, float64(id-a)/float64(b-a))
}

// resolvedAt is the receipt time of whichever of a and b arrived last.
func (t *Track) resolvedAt(a, b uint32) time.Time {
	ta, tb := t.received[a], t.received[b]
	if tb.After(ta) {
		return tb
	}
	return ta
}

// fillGap synthesizes every id strictly between the confirmed ids a and b.
func (t *Track) fillGap(a, b uint32) (int, bool) {
	if b-a <= 1 {
		return 0, false
	}
	if int64(b-a-1) > int64(t.maxFill) {
		return 0, true
	}
	n := 0
	at := t.resolvedAt(a, b)
	for id := a + 1; id < b; id++ {
		t.synth[id] = synthesized{pos: t.interpolate(a, b, id), kind: position.Interpolated, at: at}
		n++
	}
	return n, false
}

// backFill holds every id below the lowest confirmed id at its position.
func (t *Track) backFill(low uint32) (int, bool) {
	if low == 0 {
		return 0, false
	}
	if int64(low) > int64(t.maxFill) {
		return 0, true
	}
	p, at := t.confirmed[low].Pos, t.received[low]
	for id := uint32(0); id < low; id++ {
		t.synth[id] = synthesized{pos: p, kind: position.Held, at: at}
	}
	return int(low), false
}

// Apply stores a confirmed sample received at now and re-resolves the gaps
// on both sides of it.
func (t *Track) Apply(s position.Sample, now time.Time) ApplyResult {
	var res ApplyResult
	old, exists := t.confirmed[s.ID]
	if exists && old.SameAs(s) {
		res.Duplicate = true
		return res
	}
	trailing := len(t.ids) == 0 || s.ID >= t.ids[len(t.ids)-1]
	if exists {
		res.Overwrote = true
	} else {
		i := t.index(s.ID)
		t.ids = append(t.ids, 0)
		copy(t.ids[i+1:], t.ids[i:])
		t.ids[i] = s.ID
	}
	t.confirmed[s.ID] = s
	t.received[s.ID] = now
	delete(t.synth, s.ID)

	a, hasA, b, hasB := t.neighbours(s.ID)
	var n int
	var deferred bool
	if hasA {
		n, deferred = t.fillGap(a, s.ID)
		res.Filled += n
		res.Deferred = res.Deferred || deferred
	} else {
		n, deferred = t.backFill(s.ID)
		res.Filled += n
		res.Deferred = res.Deferred || deferred
	}
	if hasB {
		n, deferred = t.fillGap(s.ID, b)
		res.Filled += n
		res.Deferred = res.Deferred || deferred
	}

	if trailing {
		res.Trailing = true
		t.updateKinematics(s, a, hasA, now)
	}
	return res
}

func (t *Track) updateKinematics(s position.Sample, prev uint32, hasPrev bool, now time.Time) {
	var prevPos r3.Vec
	if hasPrev {
		prevPos = t.confirmed[prev].Pos
	}
	if s.HasHeading {
		t.heading = s.Heading
	} else if hasPrev {
		if h, ok := position.Heading(prevPos, s.Pos); ok {
			t.heading = h
		}
	}
	if s.HasSpeed {
		t.speed = s.Speed
	} else if hasPrev && t.interval > 0 {
		dt := float64(s.ID-prev) * t.interval.Seconds()
		t.speed = position.PlanarSpeed(r3.Sub(s.Pos, prevPos)) / dt
	}
	t.lastConfirmed = s.Pos
	t.lastPosition = s.Pos
	t.lastUpdate = now
	t.updated = true
	t.estimated = false
}

// Lookup resolves id to a point. Ids above the trailing edge hold the last
// confirmed position; gaps too large to store are computed here. A point is
// stamped with the receipt time of the confirmed samples it derives from.
func (t *Track) Lookup(id uint32) (position.Point, bool) {
	if s, ok := t.confirmed[id]; ok {
		return position.NewPoint(t.device, id, s.Pos, position.Confirmed, t.received[id]), true
	}
	if s, ok := t.synth[id]; ok {
		return position.NewPoint(t.device, id, s.pos, s.kind, s.at), true
	}
	if len(t.ids) == 0 {
		return position.Point{}, false
	}
	a, hasA, b, hasB := t.neighbours(id)
	switch {
	case hasA && hasB:
		return position.NewPoint(t.device, id, t.interpolate(a, b, id), position.Interpolated, t.resolvedAt(a, b)), true
	case hasA:
		return position.NewPoint(t.device, id, t.confirmed[a].Pos, position.Held, t.received[a]), true
	default:
		return position.NewPoint(t.device, id, t.confirmed[b].Pos, position.Held, t.received[b]), true
	}
}

// Range resolves ids from..to inclusive, at most limit points.
func (t *Track) Range(from, to uint32, limit int) []position.Point {
	if to < from {
		return nil
	}
	out := make([]position.Point, 0, 16)
	for id := uint64(from); id <= uint64(to) && len(out) < limit; id++ {
		p, ok := t.Lookup(uint32(id))
		if !ok {
			break
		}
		out = append(out, p)
	}
	return out
}

// Estimate dead-reckons from the current position when the device had no
// trailing-edge update since the previous tick and is moving. The result
// becomes the new current position, so successive estimates compound;
// elapsed time is always measured from the last confirmed update.
func (t *Track) Estimate(now time.Time, area position.Area) (r3.Vec, bool) {
	if t.updated || t.speed <= 0 || len(t.ids) == 0 {
		return t.lastPosition, false
	}
	elapsed := now.Sub(t.lastUpdate).Seconds()
	if elapsed < 0 {
		elapsed = 0
	}
	d := t.speed * elapsed
	p := t.lastPosition
	p.X += d * math.Cos(t.heading)
	p.Y += d * math.Sin(t.heading)
	t.lastPosition = area.Clamp(p)
	t.estimated = true
	t.estimates++
	return t.lastPosition, true
}

// EndTick clears the per-tick update flag.
func (t *Track) EndTick() {
	t.updated = false
}

// TrackState is a copy of the kinematic part of a track.
type TrackState struct {
	Device        string    `json:"device"`
	Confirmed     int       `json:"confirmed"`
	Synthesized   int       `json:"synthesized"`
	MinSeq        uint32    `json:"min_seq"`
	MaxSeq        uint32    `json:"max_seq"`
	LastConfirmed r3.Vec    `json:"last_confirmed"`
	LastPosition  r3.Vec    `json:"last_position"`
	Speed         float64   `json:"speed"`
	Heading       float64   `json:"heading"`
	LastUpdate    time.Time `json:"last_update"`
	Updated       bool      `json:"updated"`
	Estimated     bool      `json:"estimated"`
	Estimates     uint64    `json:"estimates"`
}

func (t *Track) State() TrackState {
	lo, hi, _ := t.Span()
	return TrackState{
		Device:        t.device,
		Confirmed:     len(t.ids),
		Synthesized:   len(t.synth),
		MinSeq:        lo,
		MaxSeq:        hi,
		LastConfirmed: t.lastConfirmed,
		LastPosition:  t.lastPosition,
		Speed:         t.speed,
		Heading:       t.heading,
		LastUpdate:    t.lastUpdate,
		Updated:       t.updated,
		Estimated:     t.estimated,
		Estimates:     t.estimates,
	}
}
