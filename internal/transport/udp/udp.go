// Package udp carries batches and acks over UDP. A device is identified by
// the source address of its datagrams.
package udp

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/phuslu/log"
	"nuha.dev/trackpoint/internal/transport"
)

const maxDatagram = 64 * 1024

type Server struct {
	log    log.Logger
	conn   *net.UDPConn
	inbox  chan transport.Datagram
	onDrop func(source string)
}

// Listen binds addr. Received datagrams are queued on a channel of
// inboxSize; when it is full they are dropped and onDrop is called.
func Listen(addr string, inboxSize int) (*Server, error) {
	ua, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}
	c, err := net.ListenUDP("udp", ua)
	if err != nil {
		return nil, err
	}
	o := &Server{}
	o.log = log.DefaultLogger
	o.log.Context = log.NewContext(nil).Str("module", "udp-server").Value()
	o.conn = c
	o.inbox = make(chan transport.Datagram, inboxSize)
	o.onDrop = func(string) {}
	return o, nil
}

func (s *Server) Inbox() <-chan transport.Datagram {
	return s.inbox
}

func (s *Server) OnDrop(fn func(source string)) {
	s.onDrop = fn
}

func (s *Server) Addr() net.Addr {
	return s.conn.LocalAddr()
}

// Serve reads until ctx is done or the socket fails.
func (s *Server) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.conn.Close()
	}()
	s.log.Info().Msgf("listening on %s", s.conn.LocalAddr())
	buf := make([]byte, maxDatagram)
	for {
		n, from, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.log.Error().Err(err).Msg("read error")
			return err
		}
		d := transport.Datagram{Source: from.String(), Payload: transport.Own(buf[:n]), Received: time.Now()}
		select {
		case s.inbox <- d:
		default:
			s.onDrop(d.Source)
		}
	}
}

func (s *Server) Reply(dst string, p []byte) error {
	ua, err := net.ResolveUDPAddr("udp", dst)
	if err != nil {
		return err
	}
	_, err = s.conn.WriteToUDP(p, ua)
	return err
}

func (s *Server) Close() error {
	return s.conn.Close()
}

// Client is a connected device socket.
type Client struct {
	log  log.Logger
	conn *net.UDPConn
}

func Dial(addr string) (*Client, error) {
	ua, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}
	c, err := net.DialUDP("udp", nil, ua)
	if err != nil {
		return nil, err
	}
	o := &Client{conn: c}
	o.log = log.DefaultLogger
	o.log.Context = log.NewContext(nil).Str("module", "udp-client").Str("local", c.LocalAddr().String()).Value()
	return o, nil
}

func (c *Client) Send(p []byte) error {
	_, err := c.conn.Write(p)
	return err
}

func (c *Client) LocalAddr() string {
	return c.conn.LocalAddr().String()
}

// ReadAcks passes every received datagram to fn until ctx is done.
func (c *Client) ReadAcks(ctx context.Context, fn func([]byte)) error {
	go func() {
		<-ctx.Done()
		c.conn.Close()
	}()
	buf := make([]byte, maxDatagram)
	for {
		n, err := c.conn.Read(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			// ICMP port unreachable surfaces here while the collector is down
			c.log.Debug().Err(err).Msg("read error")
			continue
		}
		fn(transport.Own(buf[:n]))
	}
}

func (c *Client) Close() error {
	return c.conn.Close()
}
