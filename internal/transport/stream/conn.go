package stream

import (
	"bufio"
	"net"
	"sync"

	"github.com/phuslu/log"
)

// Conn is an accepted stream connection. Behind a load balancer speaking the
// PROXY protocol, RemoteAddr is the original peer.
type Conn struct {
	cid   uint64
	tuple []string
	r     *bufio.Reader
	wmu   sync.Mutex
	net.Conn
}

func NewConn(c net.Conn, cid uint64) *Conn {
	sourceip, sourceport, _ := net.SplitHostPort(c.RemoteAddr().String())
	targetip, targetport, _ := net.SplitHostPort(c.LocalAddr().String())

	return &Conn{cid: cid, tuple: []string{sourceip, sourceport, targetip, targetport}, r: bufio.NewReader(c), Conn: c}
}

func (c *Conn) Read(p []byte) (int, error) {
	return c.r.Read(p)
}

// ReadLine returns the next line without its terminator.
func (c *Conn) ReadLine() ([]byte, error) {
	line, err := c.r.ReadBytes('\n')
	if err != nil {
		return line, err
	}
	return line[:len(line)-1], nil
}

func (c *Conn) Write(p []byte) (int, error) {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return c.Conn.Write(p)
}

func (c *Conn) MarshalObject(e *log.Entry) {
	e.Uint64("cid", c.cid).Strs("socket", c.tuple)
}
