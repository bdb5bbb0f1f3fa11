package client

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/phuslu/log"
	"nuha.dev/trackpoint/internal/vclock"
)

const (
	DEVICE_STARTED string = "device_started"
	DEVICE_STOPPED string = "device_stopped"
)

var ErrUnknownHandle = errors.New("unknown device handle")

// Handle identifies a device started on a Host.
type Handle uint64

// Host owns the devices driven by one scheduler.
type Host struct {
	mu      sync.Mutex
	log     log.Logger
	sched   vclock.Scheduler
	next    Handle
	devices map[Handle]*Device
}

func NewHost(sched vclock.Scheduler) *Host {
	o := &Host{}
	o.log = log.DefaultLogger
	o.log.Context = log.NewContext(nil).Str("module", "device-host").Value()
	o.sched = sched
	o.devices = make(map[Handle]*Device)
	return o
}

// Start validates conf, creates the device and starts its cadences.
// p.Scheduler is replaced by the host's scheduler.
func (h *Host) Start(name string, conf ClientConfig, p DeviceParam) (Handle, error) {
	if err := conf.Validate(); err != nil {
		return 0, fmt.Errorf("device %s: %w", name, err)
	}
	if p.Source == nil || p.Link == nil {
		return 0, fmt.Errorf("device %s: source and link are required", name)
	}
	p.Scheduler = h.sched
	d := NewDevice(name, conf, &p)

	h.mu.Lock()
	h.next++
	id := h.next
	h.devices[id] = d
	h.mu.Unlock()

	d.Start()
	h.log.Info().Str("event", DEVICE_STARTED).EmbedObject(d).Uint64("handle", uint64(id)).Msg("")
	return id, nil
}

func (h *Host) Stop(id Handle) error {
	h.mu.Lock()
	d, ok := h.devices[id]
	delete(h.devices, id)
	h.mu.Unlock()
	if !ok {
		return ErrUnknownHandle
	}
	d.Stop()
	h.log.Info().Str("event", DEVICE_STOPPED).EmbedObject(d).Uint64("handle", uint64(id)).Msg("")
	return nil
}

func (h *Host) Device(id Handle) (*Device, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	d, ok := h.devices[id]
	return d, ok
}

// Handles lists running devices in start order.
func (h *Host) Handles() []Handle {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Handle, 0, len(h.devices))
	for id := range h.devices {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (h *Host) StopAll() {
	for _, id := range h.Handles() {
		_ = h.Stop(id)
	}
}
