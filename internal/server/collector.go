package server

import (
	"context"
	"sync"
	"time"

	"github.com/phuslu/log"
	"nuha.dev/trackpoint/internal/position"
	"nuha.dev/trackpoint/internal/protocol"
	"nuha.dev/trackpoint/internal/store"
	"nuha.dev/trackpoint/internal/sublist"
	"nuha.dev/trackpoint/internal/transport"
	"nuha.dev/trackpoint/internal/vclock"
)

const (
	BATCH_RECEIVED     string = "batch_received"
	LINE_MALFORMED     string = "line_malformed"
	NEW_DEVICE_CREATED string = "new_device_created"
	GAP_DEFERRED       string = "gap_deferred"
	POSITION_ESTIMATED string = "position_estimated"
	ACK_FAILED         string = "ack_failed"
	INBOX_DROPPED      string = "inbox_dropped"
)

// Observer receives the collector events exported as metrics.
type Observer interface {
	Ingested(device string, applied, duplicates, parseErrors, synthesized int)
	Estimated(device string)
	DeviceCount(n int)
	InboxDropped()
}

type nopObserver struct{}

func (nopObserver) Ingested(string, int, int, int, int) {}
func (nopObserver) Estimated(string)                    {}
func (nopObserver) DeviceCount(int)                     {}
func (nopObserver) InboxDropped()                       {}

type CollectorParam struct {
	Replier  transport.Replier
	Store    store.Store
	Events   store.EventStore
	Sublist  *sublist.SublistMap
	Observer Observer
	Logger   *log.Logger
}

// BatchResult summarizes one ingested datagram.
type BatchResult struct {
	Device      string
	Applied     int
	Duplicates  int
	ParseErrors int
	Synthesized int
	Acked       []uint32
}

// Collector reconstructs the trajectories of every reporting device. Ingest
// and ticks must come from a single goroutine or scheduler; queries may come
// from anywhere.
type Collector struct {
	mu       sync.Mutex
	log      log.Logger
	conf     CollectorConfig
	mode     Interpolation
	devices  *DeviceList
	replier  transport.Replier
	store    store.Store
	events   store.EventStore
	sublist  *sublist.SublistMap
	observer Observer
	ticks    uint64
}

func NewCollector(conf CollectorConfig, p *CollectorParam) *Collector {
	o := &Collector{}
	if p.Logger != nil {
		o.log = *p.Logger
	} else {
		o.log = log.DefaultLogger
		if conf.LogLevel != "" {
			o.log.Level = log.ParseLevel(conf.LogLevel)
		}
	}
	o.log.Context = log.NewContext(nil).Str("module", "collector").Value()
	o.conf = conf
	mode, err := ParseInterpolation(conf.Interpolation)
	if err != nil {
		o.log.Warn().Err(err).Msg("falling back to linear interpolation")
	}
	o.mode = mode
	o.devices = NewDeviceList()
	o.replier = p.Replier
	o.store = p.Store
	if o.store == nil {
		o.store = store.Nop{}
	}
	o.events = p.Events
	if o.events == nil {
		o.events = store.NopEvents{}
	}
	o.sublist = p.Sublist
	o.observer = p.Observer
	if o.observer == nil {
		o.observer = nopObserver{}
	}
	return o
}

func (c *Collector) device(name string, now time.Time) *Device {
	if d, ok := c.devices.Get(name); ok {
		return d
	}
	d := &Device{
		Name:      name,
		Source:    name,
		Track:     NewTrack(name, c.mode, c.conf.MaxGapFill, c.conf.SampleInterval),
		Stat:      NewStat(time.Minute),
		FirstSeen: now,
	}
	c.devices.add(d)
	c.log.Info().Str("event", NEW_DEVICE_CREATED).EmbedObject(d).Msg("")
	c.events.SaveEvent(name, NEW_DEVICE_CREATED, "", now)
	c.observer.DeviceCount(c.devices.Len())
	return d
}

// HandleDatagram parses one batch, applies every well formed entry to the
// sender's track and acknowledges the entries it parsed.
func (c *Collector) HandleDatagram(dg transport.Datagram) BatchResult {
	now := dg.Received
	if now.IsZero() {
		now = time.Now()
	}
	batch, errs := protocol.Parse(dg.Payload)
	res := BatchResult{Device: dg.Source, ParseErrors: len(errs)}
	for _, err := range errs {
		c.log.Warn().Err(err).Str("event", LINE_MALFORMED).Str("device", dg.Source).Msg("")
	}

	var out []position.Point
	c.mu.Lock()
	if len(batch.Entries) > 0 {
		dev := c.device(dg.Source, now)
		dev.LastSeen = now
		dev.Batches++
		dev.Entries += uint64(len(batch.Entries))
		dev.ParseErrors += uint64(len(errs))
		dev.Stat.CounterIncr(uint64(len(batch.Entries)), now)
		res.Acked = make([]uint32, 0, len(batch.Entries))
		for i := range batch.Entries {
			s := batch.Entries[i]
			ar := dev.Track.Apply(s, now)
			res.Acked = append(res.Acked, s.ID)
			if ar.Duplicate {
				res.Duplicates++
				dev.Duplicates++
				continue
			}
			res.Applied++
			res.Synthesized += ar.Filled
			if ar.Deferred {
				c.log.Warn().Str("event", GAP_DEFERRED).EmbedObject(dev).Uint32("seq", s.ID).Int("max_gap_fill", c.conf.MaxGapFill).Msg("gap resolved on lookup")
			}
			out = append(out, position.NewPoint(dev.Name, s.ID, s.Pos, position.Confirmed, now))
		}
		c.log.Debug().Str("event", BATCH_RECEIVED).EmbedObject(dev).Int("applied", res.Applied).Int("duplicates", res.Duplicates).Int("padding", batch.Padding).Msg("")
	}
	c.mu.Unlock()

	for i := range out {
		c.store.Put(out[i])
	}
	if c.sublist != nil && len(out) > 0 {
		c.sublist.Publish(&out[len(out)-1])
	}
	if len(res.Acked) > 0 && c.replier != nil {
		if err := c.replier.Reply(dg.Source, protocol.EncodeAck(batch.Framing, res.Acked)); err != nil {
			c.log.Warn().Err(err).Str("event", ACK_FAILED).Str("device", dg.Source).Msg("")
		}
	}
	if len(batch.Entries) > 0 || len(errs) > 0 {
		c.observer.Ingested(dg.Source, res.Applied, res.Duplicates, res.ParseErrors, res.Synthesized)
	}
	return res
}

// Tick dead-reckons every moving device that had no trailing-edge update
// since the previous tick, then clears the update flags.
func (c *Collector) Tick(now time.Time) int {
	var out []position.Point
	c.mu.Lock()
	for _, dev := range c.devices.Sorted() {
		if p, ok := dev.Track.Estimate(now, c.conf.Area); ok {
			_, hi, _ := dev.Track.Span()
			out = append(out, position.NewPoint(dev.Name, hi, p, position.Estimated, now))
		}
		dev.Track.EndTick()
	}
	c.ticks++
	c.mu.Unlock()

	for i := range out {
		c.log.Debug().Str("event", POSITION_ESTIMATED).EmbedObject(&out[i]).Msg("")
		c.store.Put(out[i])
		if c.sublist != nil {
			c.sublist.Publish(&out[i])
		}
		c.observer.Estimated(out[i].Device)
	}
	return len(out)
}

func (c *Collector) Ticks() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ticks
}

// Schedule runs Tick every EstimateInterval on sched, first one interval
// from now. The returned func stops it.
func (c *Collector) Schedule(sched vclock.Scheduler) func() {
	var h vclock.Handle
	stopped := false
	var tick func()
	tick = func() {
		if stopped {
			return
		}
		c.Tick(sched.Now())
		h = vclock.After(sched, c.conf.EstimateInterval, tick)
	}
	h = vclock.After(sched, c.conf.EstimateInterval, tick)
	return func() {
		stopped = true
		h.Cancel()
	}
}

// Run is the realtime loop: it is the only consumer of inbox and also
// drives the estimation ticks.
func (c *Collector) Run(ctx context.Context, inbox <-chan transport.Datagram) {
	ticker := time.NewTicker(c.conf.EstimateInterval)
	defer ticker.Stop()
	c.log.Info().Dur("estimate_interval", c.conf.EstimateInterval).Str("interpolation", c.mode.String()).Msg("collector running")
	for {
		select {
		case <-ctx.Done():
			return
		case dg := <-inbox:
			c.HandleDatagram(dg)
		case t := <-ticker.C:
			c.Tick(t)
		}
	}
}

// DroppedDatagram is called by transports whose inbox is full.
func (c *Collector) DroppedDatagram(source string) {
	c.log.Warn().Str("event", INBOX_DROPPED).Str("device", source).Msg("")
	c.observer.InboxDropped()
}

func (c *Collector) Devices() []DeviceInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	list := c.devices.Sorted()
	out := make([]DeviceInfo, 0, len(list))
	for _, d := range list {
		out = append(out, d.Info())
	}
	return out
}

func (c *Collector) Device(name string) (DeviceInfo, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.devices.Get(name)
	if !ok {
		return DeviceInfo{}, false
	}
	return d.Info(), true
}

func (c *Collector) Lookup(name string, id uint32) (position.Point, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.devices.Get(name)
	if !ok {
		return position.Point{}, false
	}
	return d.Track.Lookup(id)
}

// Trajectory resolves ids from..to of a device, at most limit points.
func (c *Collector) Trajectory(name string, from, to uint32, limit int) ([]position.Point, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.devices.Get(name)
	if !ok {
		return nil, false
	}
	return d.Track.Range(from, to, limit), true
}

// Current returns the device's rolling position: the last confirmed sample
// or the latest estimate after it.
func (c *Collector) Current(name string) (position.Point, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.devices.Get(name)
	if !ok {
		return position.Point{}, false
	}
	st := d.Track.State()
	kind := position.Confirmed
	if st.Estimated {
		kind = position.Estimated
	}
	return position.NewPoint(name, st.MaxSeq, st.LastPosition, kind, st.LastUpdate), true
}
