package client

import (
	"math/rand"

	"github.com/phuslu/log"
	"gonum.org/v1/gonum/spatial/r3"
	"nuha.dev/trackpoint/internal/mobility"
	"nuha.dev/trackpoint/internal/position"
	"nuha.dev/trackpoint/internal/protocol"
	"nuha.dev/trackpoint/internal/transport"
	"nuha.dev/trackpoint/internal/vclock"
)

const (
	SAMPLE_TAKEN   string = "sample_taken"
	SAMPLE_SKIPPED string = "sample_skipped"
	BATCH_SENT     string = "batch_sent"
	BATCH_LOST     string = "batch_lost"
	BATCH_FAILED   string = "batch_failed"
	BATCH_HELD     string = "batch_held"
	ACK_RECEIVED   string = "ack_received"
	ACK_MALFORMED  string = "ack_malformed"
)

// FlushOutcome is what a single Flush call did.
type FlushOutcome uint8

const (
	FlushBelowThreshold FlushOutcome = iota
	FlushOutOfRange
	FlushDropped
	FlushSent
	FlushFailed
)

func (o FlushOutcome) String() string {
	switch o {
	case FlushBelowThreshold:
		return "below_threshold"
	case FlushOutOfRange:
		return "out_of_range"
	case FlushDropped:
		return "dropped"
	case FlushSent:
		return "sent"
	case FlushFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Stats are the per device counters. Sent counts every batch that left the
// buffer, including the ones the loss simulator swallowed.
type Stats struct {
	Samples uint64
	Skipped uint64
	Sent    uint64
	Lost    uint64
	Failed  uint64
	Acked   uint64
	Energy  uint64
}

// Observer receives the device events exported as metrics.
type Observer interface {
	Sampled(device string)
	Flushed(device string, outcome string, entries int)
	Acked(device string, removed int)
}

type nopObserver struct{}

func (nopObserver) Sampled(string)             {}
func (nopObserver) Flushed(string, string, int) {}
func (nopObserver) Acked(string, int)           {}

type DeviceParam struct {
	Scheduler vclock.Scheduler
	Source    mobility.Source
	Link      transport.Sender
	Rand      *rand.Rand
	Observer  Observer
	Logger    *log.Logger
}

// Device is one tracking client. All methods must run on the scheduler's
// callback goroutine.
type Device struct {
	name     string
	log      log.Logger
	conf     ClientConfig
	framing  protocol.Framing
	sched    vclock.Scheduler
	source   mobility.Source
	link     transport.Sender
	rng      *rand.Rand
	observer Observer
	buf      *Buffer
	next_id  uint32
	stats    Stats
	sample_h vclock.Handle
	send_h   vclock.Handle
	running  bool
}

func NewDevice(name string, conf ClientConfig, p *DeviceParam) *Device {
	o := &Device{}
	if p.Logger != nil {
		o.log = *p.Logger
	} else {
		o.log = log.DefaultLogger
		if conf.LogLevel != "" {
			o.log.Level = log.ParseLevel(conf.LogLevel)
		}
	}
	o.log.Context = log.NewContext(nil).Str("module", "device").Str("device", name).Value()
	o.name = name
	o.conf = conf
	o.framing = conf.framing()
	o.sched = p.Scheduler
	o.source = p.Source
	o.link = p.Link
	o.rng = p.Rand
	if o.rng == nil {
		o.rng = rand.New(rand.NewSource(conf.Seed))
	}
	o.observer = p.Observer
	if o.observer == nil {
		o.observer = nopObserver{}
	}
	o.buf = NewBuffer()
	return o
}

func (d *Device) MarshalObject(e *log.Entry) {
	e.Str("device", d.name).Int("buffered", d.buf.Len()).Uint32("next_id", d.next_id)
}

func (d *Device) Name() string {
	return d.name
}

func (d *Device) Buffer() *Buffer {
	return d.buf
}

func (d *Device) Stats() Stats {
	return d.stats
}

func (d *Device) Running() bool {
	return d.running
}

// Start schedules the sampling and sending cadences, both first firing now.
func (d *Device) Start() {
	if d.running {
		return
	}
	d.running = true
	now := d.sched.Now()
	d.send_h = d.sched.ScheduleAt(now, d.sendTick)
	d.sample_h = d.sched.ScheduleAt(now, d.sampleTick)
}

// Stop cancels both cadences. Buffered samples are kept.
func (d *Device) Stop() {
	if !d.running {
		return
	}
	d.running = false
	if d.sample_h != nil {
		d.sample_h.Cancel()
	}
	if d.send_h != nil {
		d.send_h.Cancel()
	}
}

func (d *Device) sampleTick() {
	d.Sample()
	d.sample_h = vclock.After(d.sched, d.conf.SampleInterval, d.sampleTick)
}

func (d *Device) sendTick() {
	d.Flush()
	d.send_h = vclock.After(d.sched, d.conf.BatchInterval, d.sendTick)
}

// Sample reads the mobility source and buffers the result under the next
// sequence id. An unavailable source skips the sample without using an id.
func (d *Device) Sample() bool {
	pos, err := d.source.Position()
	if err != nil {
		d.stats.Skipped++
		d.log.Warn().Err(err).Str("event", SAMPLE_SKIPPED).EmbedObject(d).Msg("")
		return false
	}
	s := position.Sample{ID: d.next_id, Pos: pos}
	if d.conf.SendKinematics {
		if vs, ok := d.source.(mobility.VelocitySource); ok {
			if v, err := vs.Velocity(); err == nil {
				s.Speed = position.PlanarSpeed(v)
				s.HasSpeed = true
				if h, ok := position.Heading(r3.Vec{}, v); ok {
					s.Heading = h
					s.HasHeading = true
				}
			}
		}
	}
	if err := d.buf.Put(s); err != nil {
		d.stats.Skipped++
		d.log.Error().Err(err).Str("event", SAMPLE_SKIPPED).EmbedObject(d).Msg("")
		return false
	}
	d.next_id++
	d.stats.Samples++
	d.stats.Energy++
	d.observer.Sampled(d.name)
	d.log.Debug().Str("event", SAMPLE_TAKEN).EmbedObject(&s).Uint64("energy", d.stats.Energy).Msg("")
	return true
}

func (d *Device) inRange() bool {
	if d.conf.Range <= 0 {
		return true
	}
	pos, err := d.source.Position()
	if err != nil {
		return false
	}
	dist := r3.Norm(r3.Sub(pos, d.conf.Anchor))
	return dist <= d.conf.Range
}

// Flush runs one transmit decision. In ack mode entries only leave the buffer
// through HandleAck; in none mode they leave as soon as they are batched.
func (d *Device) Flush() FlushOutcome {
	n := d.buf.Len()
	if n == 0 || n < d.conf.AmountToSend {
		return d.flushed(FlushBelowThreshold, 0)
	}
	if !d.inRange() {
		d.log.Debug().Str("event", BATCH_HELD).EmbedObject(d).Msg("out of range")
		return d.flushed(FlushOutOfRange, 0)
	}

	entries := d.buf.Newest(d.conf.MaxBatch)
	payload := protocol.Encode(d.framing, entries, d.conf.PaddingBytes)
	if d.conf.AckMode == AckModeNone {
		for i := range entries {
			d.buf.Remove(entries[i].ID)
		}
	}

	d.stats.Sent++
	if d.rng.Float64() >= d.conf.LossThreshold {
		d.stats.Lost++
		d.log.Info().Str("event", BATCH_LOST).EmbedObject(d).Int("entries", len(entries)).Msg("")
		return d.flushed(FlushDropped, len(entries))
	}
	if err := d.link.Send(payload); err != nil {
		d.stats.Failed++
		d.log.Warn().Err(err).Str("event", BATCH_FAILED).EmbedObject(d).Int("entries", len(entries)).Msg("")
		return d.flushed(FlushFailed, len(entries))
	}
	d.log.Info().Str("event", BATCH_SENT).EmbedObject(d).Int("entries", len(entries)).Int("bytes", len(payload)).Msg("")
	return d.flushed(FlushSent, len(entries))
}

func (d *Device) flushed(o FlushOutcome, entries int) FlushOutcome {
	d.observer.Flushed(d.name, o.String(), entries)
	return o
}

// HandleAck removes every id named in payload. Unknown ids are ignored and
// malformed lines are logged and skipped.
func (d *Device) HandleAck(payload []byte) int {
	ids, errs := protocol.ParseAck(payload)
	for _, err := range errs {
		d.log.Warn().Err(err).Str("event", ACK_MALFORMED).EmbedObject(d).Msg("")
	}
	removed := 0
	for _, id := range ids {
		if d.buf.Remove(id) {
			removed++
		}
	}
	d.stats.Acked += uint64(removed)
	d.observer.Acked(d.name, removed)
	d.log.Debug().Str("event", ACK_RECEIVED).EmbedObject(d).Int("ids", len(ids)).Int("removed", removed).Msg("")
	return removed
}
