// Package simlink is an in-memory datagram network driven by a scheduler.
// Delivery happens latency after the send on the scheduler's timeline and
// datagrams to unknown addresses vanish, as they would over UDP.
package simlink

import (
	"sync/atomic"
	"time"

	"github.com/phuslu/log"
	"nuha.dev/trackpoint/internal/transport"
	"nuha.dev/trackpoint/internal/vclock"
)

const DATAGRAM_UNDELIVERABLE string = "datagram_undeliverable"

type Network struct {
	log           log.Logger
	sched         vclock.Scheduler
	latency       time.Duration
	ports         map[string]*Port
	delivered     uint64
	undeliverable uint64
}

func New(sched vclock.Scheduler, latency time.Duration) *Network {
	o := &Network{}
	o.log = log.DefaultLogger
	o.log.Context = log.NewContext(nil).Str("module", "simlink").Value()
	o.sched = sched
	o.latency = latency
	o.ports = make(map[string]*Port)
	return o
}

// Port is one attached address. Received datagrams are passed to recv on the
// scheduler's callback goroutine.
type Port struct {
	n      *Network
	addr   string
	recv   func(transport.Datagram)
	closed bool
}

func (n *Network) Attach(addr string, recv func(transport.Datagram)) *Port {
	p := &Port{n: n, addr: addr, recv: recv}
	n.ports[addr] = p
	return p
}

func (n *Network) Delivered() uint64 {
	return atomic.LoadUint64(&n.delivered)
}

func (n *Network) Undeliverable() uint64 {
	return atomic.LoadUint64(&n.undeliverable)
}

func (n *Network) deliver(src, dst string, payload []byte) {
	vclock.After(n.sched, n.latency, func() {
		p, ok := n.ports[dst]
		if !ok || p.closed || p.recv == nil {
			atomic.AddUint64(&n.undeliverable, 1)
			n.log.Debug().Str("event", DATAGRAM_UNDELIVERABLE).Str("src", src).Str("dst", dst).Msg("")
			return
		}
		atomic.AddUint64(&n.delivered, 1)
		p.recv(transport.Datagram{Source: src, Payload: payload, Received: n.sched.Now()})
	})
}

func (p *Port) Addr() string {
	return p.addr
}

func (p *Port) SendTo(dst string, b []byte) error {
	if p.closed {
		return transport.ErrClosed
	}
	p.n.deliver(p.addr, dst, transport.Own(b))
	return nil
}

// Reply makes a Port usable as the collector's transport.Replier.
func (p *Port) Reply(dst string, b []byte) error {
	return p.SendTo(dst, b)
}

// Dial returns a Sender bound to dst.
func (p *Port) Dial(dst string) transport.Sender {
	return transport.SenderFunc(func(b []byte) error {
		return p.SendTo(dst, b)
	})
}

// Close detaches the port. Datagrams in flight to it are lost.
func (p *Port) Close() {
	p.closed = true
	if p.n.ports[p.addr] == p {
		delete(p.n.ports, p.addr)
	}
}
