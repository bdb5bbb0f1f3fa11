// Package stream carries newline framed batches over TCP for devices that
// cannot use datagrams. Every line is delivered as its own datagram; lines
// starting with '.' are padding and are discarded.
package stream

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/phuslu/log"
	proxyproto "github.com/pires/go-proxyproto"
	"nuha.dev/trackpoint/internal/transport"
)

const (
	NEW_CONNECTION    string = "new_connection"
	CONNECTION_CLOSED string = "connection_closed"
)

var ErrUnknownPeer = errors.New("stream: no connection for peer")

type Server struct {
	mu          sync.Mutex
	log         log.Logger
	addr        string
	listener    net.Listener
	inbox       chan<- transport.Datagram
	onDrop      func(source string)
	cid_counter uint64
	conns       map[string]*Conn
	idle        time.Duration
	policy      proxyproto.PolicyFunc
}

// NewServer delivers received lines to inbox. A full inbox drops the line
// and calls onDrop.
func NewServer(addr string, inbox chan<- transport.Datagram, onDrop func(source string)) *Server {
	s := &Server{}
	s.log = log.DefaultLogger
	s.log.Context = log.NewContext(nil).Str("module", "stream-server").Value()
	s.addr = addr
	s.inbox = inbox
	s.onDrop = onDrop
	if s.onDrop == nil {
		s.onDrop = func(string) {}
	}
	s.conns = make(map[string]*Conn)
	s.idle = 5 * time.Minute
	s.policy = ignoreProxyHeaders
	return s
}

// ignoreProxyHeaders keeps the socket's peer address as the source, so a
// device cannot claim another device's identity with a PROXY header.
func ignoreProxyHeaders(net.Addr) (proxyproto.Policy, error) {
	return proxyproto.IGNORE, nil
}

// TrustProxies honours PROXY headers only from the given addresses or CIDRs.
// It must be called before Listen. An empty list restores the default of
// ignoring every header.
func (s *Server) TrustProxies(upstreams []string) error {
	policy := proxyproto.PolicyFunc(ignoreProxyHeaders)
	if len(upstreams) > 0 {
		var err error
		if policy, err = proxyproto.LaxWhiteListPolicy(upstreams); err != nil {
			return err
		}
	}
	s.mu.Lock()
	s.policy = policy
	s.mu.Unlock()
	return nil
}

func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.listener = &proxyproto.Listener{Listener: ln, Policy: s.policy}
	s.mu.Unlock()
	return nil
}

func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Serve accepts until ctx is done. Listen must have been called.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	pln := s.listener
	s.mu.Unlock()
	go func() {
		<-ctx.Done()
		pln.Close()
		s.mu.Lock()
		for _, c := range s.conns {
			c.Close()
		}
		s.mu.Unlock()
	}()
	s.log.Info().Msgf("starting stream server on %s", pln.Addr())
	for {
		_c, err := pln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.log.Error().Err(err).Msg("failed to accept new connection")
			return err
		}
		s.mu.Lock()
		cid := s.cid_counter
		s.cid_counter++
		s.mu.Unlock()
		go s.handle(_c, cid)
	}
}

// handle owns one connection. Resolving the peer reads the PROXY header, so
// it happens here and not on the accept loop.
func (s *Server) handle(_c net.Conn, cid uint64) {
	_c.SetReadDeadline(time.Now().Add(s.idle))
	c := NewConn(_c, cid)
	src := c.RemoteAddr().String()
	s.mu.Lock()
	s.conns[src] = c
	s.mu.Unlock()
	s.log.Info().Str("event", NEW_CONNECTION).EmbedObject(c).Msg("")
	defer func() {
		s.mu.Lock()
		if s.conns[src] == c {
			delete(s.conns, src)
		}
		s.mu.Unlock()
		c.Close()
		s.log.Info().Str("event", CONNECTION_CLOSED).EmbedObject(c).Msg("")
	}()
	for {
		c.SetReadDeadline(time.Now().Add(s.idle))
		line, err := c.ReadLine()
		if err != nil {
			if err != io.EOF && !errors.Is(err, net.ErrClosed) {
				s.log.Debug().Err(err).EmbedObject(c).Msg("read error")
			}
			return
		}
		line = bytes.TrimRight(line, "\r")
		if len(line) == 0 || line[0] == '.' {
			continue
		}
		d := transport.Datagram{Source: src, Payload: append(transport.Own(line), '\n'), Received: time.Now()}
		select {
		case s.inbox <- d:
		default:
			s.onDrop(src)
		}
	}
}

func (s *Server) Reply(dst string, p []byte) error {
	s.mu.Lock()
	c, ok := s.conns[dst]
	s.mu.Unlock()
	if !ok {
		return ErrUnknownPeer
	}
	_, err := c.Write(p)
	return err
}

// Client is a device side stream connection.
type Client struct {
	c *Conn
}

func Dial(addr string) (*Client, error) {
	c, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Client{c: NewConn(c, 0)}, nil
}

func (cl *Client) LocalAddr() string {
	return cl.c.LocalAddr().String()
}

// Send writes p, terminating it with a newline so trailing padding never
// merges with the next batch.
func (cl *Client) Send(p []byte) error {
	if len(p) == 0 || p[len(p)-1] != '\n' {
		p = append(transport.Own(p), '\n')
	}
	_, err := cl.c.Write(p)
	return err
}

// ReadAcks passes every ack line, newline included, to fn.
func (cl *Client) ReadAcks(ctx context.Context, fn func([]byte)) error {
	go func() {
		<-ctx.Done()
		cl.c.Close()
	}()
	for {
		line, err := cl.c.ReadLine()
		if err != nil {
			if ctx.Err() != nil || err == io.EOF || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		fn(append(transport.Own(line), '\n'))
	}
}

func (cl *Client) Close() error {
	return cl.c.Close()
}
