package server

import (
	"sort"
	"time"

	"github.com/phuslu/log"
)

// Device is the collector side view of one reporting device.
type Device struct {
	Name        string
	Source      string
	Track       *Track
	Stat        *Stat
	FirstSeen   time.Time
	LastSeen    time.Time
	Batches     uint64
	Entries     uint64
	Duplicates  uint64
	ParseErrors uint64
}

func (d *Device) MarshalObject(e *log.Entry) {
	e.Str("device", d.Name).Str("source", d.Source).Uint64("batches", d.Batches).Int("confirmed", d.Track.ConfirmedLen())
}

// DeviceInfo is a copy of the counters and kinematics of a device.
type DeviceInfo struct {
	Name        string     `json:"name"`
	Source      string     `json:"source"`
	FirstSeen   time.Time  `json:"first_seen"`
	LastSeen    time.Time  `json:"last_seen"`
	Batches     uint64     `json:"batches"`
	Entries     uint64     `json:"entries"`
	Duplicates  uint64     `json:"duplicates"`
	ParseErrors uint64     `json:"parse_errors"`
	PerMinute   []uint64   `json:"per_minute"`
	State       TrackState `json:"state"`
}

func (d *Device) Info() DeviceInfo {
	return DeviceInfo{
		Name:        d.Name,
		Source:      d.Source,
		FirstSeen:   d.FirstSeen,
		LastSeen:    d.LastSeen,
		Batches:     d.Batches,
		Entries:     d.Entries,
		Duplicates:  d.Duplicates,
		ParseErrors: d.ParseErrors,
		PerMinute:   d.Stat.Recent(10),
		State:       d.Track.State(),
	}
}

// DeviceList is not locked; the collector serializes access to it.
type DeviceList struct {
	list map[string]*Device
}

func NewDeviceList() *DeviceList {
	return &DeviceList{list: make(map[string]*Device)}
}

func (l *DeviceList) Get(name string) (*Device, bool) {
	d, ok := l.list[name]
	return d, ok
}

func (l *DeviceList) add(d *Device) {
	l.list[d.Name] = d
}

func (l *DeviceList) Len() int {
	return len(l.list)
}

// Sorted returns devices ordered by name so ticks visit them deterministically.
func (l *DeviceList) Sorted() []*Device {
	out := make([]*Device, 0, len(l.list))
	for _, d := range l.list {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
