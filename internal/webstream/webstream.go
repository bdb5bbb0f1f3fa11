// Package webstream pushes sublist frames to websocket clients. After the
// upgrade a client sends "ADDSUB:a,b" or "DELSUB:a" text messages; "*"
// subscribes to every device.
package webstream

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"nhooyr.io/websocket"
	"nuha.dev/trackpoint/internal/sublist"
)

const (
	CSub   string = "ADDSUB:"
	CUnsub string = "DELSUB:"
)

type WebstreamServer struct {
	logger  zerolog.Logger
	sublist *sublist.SublistMap
	queue   int
	idle    time.Duration
	clients int64
}

func NewWebstream(subs *sublist.SublistMap) *WebstreamServer {
	o := &WebstreamServer{}
	o.logger = log.With().Str("module", "websocket").Logger()
	o.sublist = subs
	o.queue = 64
	o.idle = time.Minute
	return o
}

// Clients is the number of connected websocket clients.
func (ws *WebstreamServer) Clients() int64 {
	return atomic.LoadInt64(&ws.clients)
}

func (ws *WebstreamServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, CompressionMode: websocket.CompressionDisabled,
	})
	if err != nil {
		ws.logger.Err(err).Msg("Error while upgrading websocket")
		return
	}
	defer c.Close(websocket.StatusInternalError, "unhandled error")

	atomic.AddInt64(&ws.clients, 1)
	defer atomic.AddInt64(&ws.clients, -1)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	wc := &WebstreamClient{
		srv:    ws,
		c:      c,
		name:   r.RemoteAddr,
		logger: ws.logger.With().Str("remote", r.RemoteAddr).Logger(),
		wch:    make(chan []byte, ws.queue),
		subs:   make(map[string]*sublist.Sublist),
	}
	go wc.writeLoop(ctx)
	err = wc.readloop(ctx)
	wc.unsubscribeAll()
	if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
		c.Close(websocket.StatusNormalClosure, "")
	}
}

type WebstreamClient struct {
	srv     *WebstreamServer
	c       *websocket.Conn
	name    string
	logger  zerolog.Logger
	wch     chan []byte
	dropped uint64
	closed  uint32

	mu   sync.Mutex
	subs map[string]*sublist.Sublist
}

func (wc *WebstreamClient) readloop(ctx context.Context) error {
	for {
		readCtx, cancel := context.WithTimeout(ctx, wc.srv.idle)
		_, msg, err := wc.c.Read(readCtx)
		cancel()
		if err != nil {
			atomic.StoreUint32(&wc.closed, 1)
			if websocket.CloseStatus(err) != websocket.StatusNormalClosure {
				wc.logger.Debug().Err(err).Msg("read error")
			}
			return err
		}
		s := string(msg)
		switch {
		case strings.HasPrefix(s, CSub):
			names := strings.Split(s[len(CSub):], ",")
			wc.logger.Debug().Strs("addsub", names).Msg("receive add subscription message")
			for _, v := range names {
				wc.subscribe(strings.TrimSpace(v))
			}
		case strings.HasPrefix(s, CUnsub):
			names := strings.Split(s[len(CUnsub):], ",")
			wc.logger.Debug().Strs("delsub", names).Msg("receive delete subscription message")
			for _, v := range names {
				wc.unsubscribe(strings.TrimSpace(v))
			}
		}
	}
}

func (wc *WebstreamClient) subscribe(key string) {
	if key == "" {
		return
	}
	wc.mu.Lock()
	defer wc.mu.Unlock()
	if _, ok := wc.subs[key]; ok {
		return
	}
	l, _ := wc.srv.sublist.GetSublist(key, true)
	wc.subs[key] = l
	l.Subscribe(wc)
}

func (wc *WebstreamClient) unsubscribe(key string) {
	wc.mu.Lock()
	defer wc.mu.Unlock()
	if l, ok := wc.subs[key]; ok {
		l.Unsubscribe(wc)
		delete(wc.subs, key)
	}
}

func (wc *WebstreamClient) unsubscribeAll() {
	wc.mu.Lock()
	defer wc.mu.Unlock()
	for k, l := range wc.subs {
		l.Unsubscribe(wc)
		delete(wc.subs, k)
	}
}

func (wc *WebstreamClient) writeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case d := <-wc.wch:
			wctx, cancel := context.WithTimeout(ctx, 10*time.Second)
			err := wc.c.Write(wctx, websocket.MessageBinary, d)
			cancel()
			if err != nil {
				wc.logger.Err(err).Msg("Error while writing to connection")
				atomic.StoreUint32(&wc.closed, 1)
				return
			}
		}
	}
}

// Push never blocks the publisher: frames are dropped when the client
// falls behind.
func (wc *WebstreamClient) Push(sender string, data []byte) error {
	if wc.Closed() {
		return websocket.CloseError{Code: websocket.StatusGoingAway}
	}
	select {
	case wc.wch <- data:
	default:
		atomic.AddUint64(&wc.dropped, 1)
		wc.logger.Debug().Str("sender", sender).Msg("dropping frame")
	}
	return nil
}

func (wc *WebstreamClient) Closed() bool {
	return atomic.LoadUint32(&wc.closed) == 1
}

func (wc *WebstreamClient) Name() string {
	return wc.name
}
