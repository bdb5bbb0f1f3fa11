// Package sim runs devices and a collector on one virtual clock over a
// simulated link, and scores the reconstructed trajectories against the
// positions the devices actually sampled.
package sim

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
	"time"

	"github.com/phuslu/log"
	"gonum.org/v1/gonum/spatial/r3"
	"nuha.dev/trackpoint/internal/client"
	"nuha.dev/trackpoint/internal/mobility"
	"nuha.dev/trackpoint/internal/server"
	"nuha.dev/trackpoint/internal/store"
	"nuha.dev/trackpoint/internal/sublist"
	"nuha.dev/trackpoint/internal/transport"
	"nuha.dev/trackpoint/internal/transport/simlink"
	"nuha.dev/trackpoint/internal/vclock"
)

const CollectorAddr = "collector"

var Epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

type Param struct {
	Devices   int
	Duration  time.Duration
	Seed      int64
	Latency   time.Duration
	Speed     float64
	Client    client.ClientConfig
	Collector server.CollectorConfig

	Store             store.Store
	Events            store.EventStore
	Sublist           *sublist.SublistMap
	ClientObserver    client.Observer
	CollectorObserver server.Observer
	// Tap sees every datagram before the collector does.
	Tap func(transport.Datagram)
}

type Sim struct {
	log   log.Logger
	p     Param
	clock *vclock.Clock
	net   *simlink.Network
	host  *client.Host
	coll  *server.Collector
	stop  func()
	devs  []*member
}

type member struct {
	name string
	dev  *client.Device
	rec  *recorder
	port *simlink.Port
}

// recorder remembers what the mobility source returned at each instant.
type recorder struct {
	src  mobility.Source
	now  func() time.Time
	seen map[int64]r3.Vec
}

func (r *recorder) Position() (r3.Vec, error) {
	p, err := r.src.Position()
	if err == nil {
		r.seen[r.now().UnixNano()] = p
	}
	return p, err
}

func (r *recorder) Velocity() (r3.Vec, error) {
	if vs, ok := r.src.(mobility.VelocitySource); ok {
		return vs.Velocity()
	}
	return r3.Vec{}, mobility.ErrUnavailable
}

func New(p Param) (*Sim, error) {
	if p.Devices < 1 {
		return nil, fmt.Errorf("sim: need at least one device")
	}
	if err := p.Collector.Validate(); err != nil {
		return nil, fmt.Errorf("sim collector: %w", err)
	}
	s := &Sim{p: p}
	s.log = log.DefaultLogger
	s.log.Context = log.NewContext(nil).Str("module", "sim").Value()
	s.clock = vclock.New(Epoch)
	s.net = simlink.New(s.clock, p.Latency)
	s.host = client.NewHost(s.clock)

	cport := s.net.Attach(CollectorAddr, func(dg transport.Datagram) {
		if p.Tap != nil {
			p.Tap(dg)
		}
		s.coll.HandleDatagram(dg)
	})
	s.coll = server.NewCollector(p.Collector, &server.CollectorParam{
		Replier:  cport,
		Store:    p.Store,
		Events:   p.Events,
		Sublist:  p.Sublist,
		Observer: p.CollectorObserver,
	})

	for i := 0; i < p.Devices; i++ {
		name := fmt.Sprintf("ue-%02d", i)
		seed := p.Seed + int64(i)
		rec := &recorder{
			src:  mobility.NewRandomWaypoint(p.Collector.Area, p.Speed, seed, s.clock.Now),
			now:  s.clock.Now,
			seen: make(map[int64]r3.Vec),
		}
		m := &member{name: name, rec: rec}
		var dev *client.Device
		m.port = s.net.Attach(name, func(dg transport.Datagram) {
			if dev != nil {
				dev.HandleAck(dg.Payload)
			}
		})
		conf := p.Client
		conf.Seed = seed
		h, err := s.host.Start(name, conf, client.DeviceParam{
			Source:   rec,
			Link:     m.port.Dial(CollectorAddr),
			Rand:     rand.New(rand.NewSource(seed)),
			Observer: p.ClientObserver,
		})
		if err != nil {
			return nil, err
		}
		dev, _ = s.host.Device(h)
		m.dev = dev
		s.devs = append(s.devs, m)
	}
	s.stop = s.coll.Schedule(s.clock)
	return s, nil
}

func (s *Sim) Clock() *vclock.Clock {
	return s.clock
}

func (s *Sim) Collector() *server.Collector {
	return s.coll
}

func (s *Sim) Device(name string) (*client.Device, bool) {
	for _, m := range s.devs {
		if m.name == name {
			return m.dev, true
		}
	}
	return nil, false
}

// Run advances the clock by the configured duration, stops the devices and
// lets in-flight datagrams and acks settle.
func (s *Sim) Run() Report {
	s.clock.RunUntil(Epoch.Add(s.p.Duration))
	s.host.StopAll()
	s.clock.Advance(2*s.p.Latency + time.Millisecond)
	s.stop()
	r := s.Report()
	s.log.Info().Int("devices", len(r.Devices)).Uint64("delivered", r.Delivered).Float64("mean_error", r.MeanError).Msg("simulation done")
	return r
}

type DeviceReport struct {
	Name      string  `json:"name"`
	Samples   uint64  `json:"samples"`
	Sent      uint64  `json:"sent"`
	Lost      uint64  `json:"lost"`
	Acked     uint64  `json:"acked"`
	Buffered  int     `json:"buffered"`
	Confirmed int     `json:"confirmed"`
	Scored    int     `json:"scored"`
	MeanError float64 `json:"mean_error"`
	MaxError  float64 `json:"max_error"`
}

type Report struct {
	Devices       []DeviceReport `json:"devices"`
	Delivered     uint64         `json:"delivered"`
	Undeliverable uint64         `json:"undeliverable"`
	MeanError     float64        `json:"mean_error"`
}

// Report scores every sample id the collector can resolve against the
// position the device sampled under that id.
func (s *Sim) Report() Report {
	r := Report{Delivered: s.net.Delivered(), Undeliverable: s.net.Undeliverable()}
	var sum float64
	var n int
	for _, m := range s.devs {
		dev := m.dev
		st := dev.Stats()
		dr := DeviceReport{
			Name:     m.name,
			Samples:  st.Samples,
			Sent:     st.Sent,
			Lost:     st.Lost,
			Acked:    st.Acked,
			Buffered: dev.Buffer().Len(),
		}
		if info, ok := s.coll.Device(m.name); ok {
			dr.Confirmed = info.State.Confirmed
			truth := m.rec.byID(s.p.Client.SampleInterval)
			var dsum float64
			for id, want := range truth {
				p, ok := s.coll.Lookup(m.name, uint32(id))
				if !ok {
					continue
				}
				e := r3.Norm(r3.Sub(p.Vec(), want))
				dsum += e
				dr.MaxError = math.Max(dr.MaxError, e)
				dr.Scored++
			}
			if dr.Scored > 0 {
				dr.MeanError = dsum / float64(dr.Scored)
			}
			sum += dsum
			n += dr.Scored
		}
		r.Devices = append(r.Devices, dr)
	}
	if n > 0 {
		r.MeanError = sum / float64(n)
	}
	return r
}

// byID orders the recorded sample instants. The sources never fail, so the
// k-th sampling instant carries id k.
func (r *recorder) byID(interval time.Duration) []r3.Vec {
	keys := make([]int64, 0, len(r.seen))
	for k := range r.seen {
		if time.Duration(k-Epoch.UnixNano())%interval == 0 {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	out := make([]r3.Vec, len(keys))
	for i, k := range keys {
		out[i] = r.seen[k]
	}
	return out
}
