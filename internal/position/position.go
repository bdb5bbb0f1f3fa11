package position

import (
	"math"
	"strconv"
	"time"

	"github.com/phuslu/log"
	"gonum.org/v1/gonum/spatial/r3"
)

// Sample is one position reading taken by a device. Speed and Heading are
// only meaningful when the matching Has flag is set.
type Sample struct {
	ID         uint32
	Pos        r3.Vec
	Speed      float64
	Heading    float64
	HasSpeed   bool
	HasHeading bool
}

func (s *Sample) MarshalObject(e *log.Entry) {
	e.Uint32("seq", s.ID).Float64("x", s.Pos.X).Float64("y", s.Pos.Y).Float64("z", s.Pos.Z)
	if s.HasSpeed {
		e.Float64("speed", s.Speed)
	}
	if s.HasHeading {
		e.Float64("heading", s.Heading)
	}
}

// SameAs reports whether both samples carry identical payloads.
func (s Sample) SameAs(o Sample) bool {
	return s == o
}

// Kind tells where a reconstructed point comes from.
type Kind uint8

const (
	Confirmed Kind = iota
	Interpolated
	Held
	Estimated
)

func (k Kind) String() string {
	switch k {
	case Confirmed:
		return "confirmed"
	case Interpolated:
		return "interpolated"
	case Held:
		return "held"
	case Estimated:
		return "estimated"
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// ParseKind is the inverse of Kind.String. Unknown names map to Confirmed.
func ParseKind(s string) Kind {
	switch s {
	case "interpolated":
		return Interpolated
	case "held":
		return Held
	case "estimated":
		return Estimated
	}
	return Confirmed
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(b []byte) error {
	*k = ParseKind(string(b))
	return nil
}

// Point is a reconstructed trajectory point as seen by the collector.
type Point struct {
	Device string    `json:"device"`
	Seq    uint32    `json:"seq"`
	X      float64   `json:"x"`
	Y      float64   `json:"y"`
	Z      float64   `json:"z"`
	Kind   Kind      `json:"kind"`
	Time   time.Time `json:"time"`
}

func NewPoint(device string, seq uint32, p r3.Vec, kind Kind, t time.Time) Point {
	return Point{Device: device, Seq: seq, X: p.X, Y: p.Y, Z: p.Z, Kind: kind, Time: t}
}

func (p Point) Vec() r3.Vec {
	return r3.Vec{X: p.X, Y: p.Y, Z: p.Z}
}

func (p *Point) MarshalObject(e *log.Entry) {
	e.Str("device", p.Device).Uint32("seq", p.Seq).Str("kind", p.Kind.String()).Float64("x", p.X).Float64("y", p.Y).Float64("z", p.Z)
}

// Lerp returns a + t*(b-a).
func Lerp(a, b r3.Vec, t float64) r3.Vec {
	return r3.Add(a, r3.Scale(t, r3.Sub(b, a)))
}

// Midpoint returns the per-axis mean of a and b.
func Midpoint(a, b r3.Vec) r3.Vec {
	return r3.Scale(0.5, r3.Add(a, b))
}

// Heading returns the planar direction from a to b in radians and false when
// the two points share x and y.
func Heading(a, b r3.Vec) (float64, bool) {
	dx, dy := b.X-a.X, b.Y-a.Y
	if dx == 0 && dy == 0 {
		return 0, false
	}
	return math.Atan2(dy, dx), true
}

// PlanarSpeed is the magnitude of the x/y part of a velocity vector.
func PlanarSpeed(v r3.Vec) float64 {
	return math.Hypot(v.X, v.Y)
}

// Area bounds the x/y operating region used to clamp estimates.
type Area struct {
	MinX float64 `mapstructure:"min_x"`
	MaxX float64 `mapstructure:"max_x" validate:"gtefield=MinX"`
	MinY float64 `mapstructure:"min_y"`
	MaxY float64 `mapstructure:"max_y" validate:"gtefield=MinY"`
}

func DefaultArea() Area {
	return Area{MinX: 0, MaxX: 1000, MinY: 0, MaxY: 1000}
}

// Clamp forces x and y into the area. z is left alone.
func (a Area) Clamp(p r3.Vec) r3.Vec {
	p.X = math.Max(a.MinX, math.Min(a.MaxX, p.X))
	p.Y = math.Max(a.MinY, math.Min(a.MaxY, p.Y))
	return p
}

func (a Area) Contains(p r3.Vec) bool {
	return p.X >= a.MinX && p.X <= a.MaxX && p.Y >= a.MinY && p.Y <= a.MaxY
}
