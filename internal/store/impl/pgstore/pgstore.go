package pgstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/phuslu/log"
	"nuha.dev/trackpoint/internal/position"
)

const schema = `CREATE TABLE IF NOT EXISTS %s (
	run_id      uuid        NOT NULL,
	device      text        NOT NULL,
	seq         bigint      NOT NULL,
	x           double precision NOT NULL,
	y           double precision NOT NULL,
	z           double precision NOT NULL,
	kind        text        NOT NULL,
	point_time  timestamptz NOT NULL,
	server_time timestamptz NOT NULL
)`

var columns = []string{"run_id", "device", "seq", "x", "y", "z", "kind", "point_time", "server_time"}

type Store struct {
	config *StoreConfig
	cond   *sync.Cond
	wlock  *sync.Mutex
	wbuf   buffer
	ready  []buffer
	closed bool
	done   chan struct{}
	dbp    *pgxpool.Pool
	log    log.Logger
	table  string
	runID  string
}

type StoreConfig struct {
	BufSize     int
	TickerDur   time.Duration
	MaxAgeFlush time.Duration
}

func DefaultStoreConfig() StoreConfig {
	return StoreConfig{BufSize: 500, TickerDur: time.Second, MaxAgeFlush: 2 * time.Second}
}

type buffer struct {
	seq uint64
	t1  time.Time
	t2  time.Time
	buf []record
}

func new_buffer(seq uint64, len int) buffer {
	return buffer{seq: seq, buf: make([]record, 0, len)}
}

type record struct {
	p    position.Point
	srvt time.Time
}

func NewStore(db *pgxpool.Pool, table string, runID string, config *StoreConfig) *Store {
	o := &Store{}
	o.config = config
	o.table = table
	o.runID = runID
	o.dbp = db
	o.log = log.DefaultLogger
	o.log.Context = log.NewContext(nil).Str("module", "pgstore").Str("table", table).Value()
	o.wbuf = new_buffer(0, o.config.BufSize)
	o.wlock = &sync.Mutex{}
	o.cond = sync.NewCond(&sync.Mutex{})
	o.done = make(chan struct{})
	return o
}

// Run starts the age flusher and the writer. Both stop with ctx; buffers
// already handed to the writer are written before it returns.
func (st *Store) Run(ctx context.Context) {
	go st.timer_flusher(ctx)
	go st.handle()
	go func() {
		<-ctx.Done()
		st.wlock.Lock()
		if len(st.wbuf.buf) != 0 {
			st.flush()
		}
		st.wlock.Unlock()
		st.cond.L.Lock()
		st.closed = true
		st.cond.L.Unlock()
		st.cond.Signal()
	}()
}

// Done is closed once the writer has drained.
func (st *Store) Done() <-chan struct{} {
	return st.done
}

func (st *Store) timer_flusher(ctx context.Context) {
	ticker := time.NewTicker(st.config.TickerDur)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-ticker.C:
			st.wlock.Lock()
			if len(st.wbuf.buf) != 0 && t.Sub(st.wbuf.t1) > st.config.MaxAgeFlush {
				st.flush()
			}
			st.wlock.Unlock()
		}
	}
}

func (st *Store) Put(p position.Point) {
	rec := record{p: p, srvt: time.Now().UTC()}
	st.wlock.Lock()
	if len(st.wbuf.buf) == 0 {
		st.wbuf.t1 = rec.srvt
	}
	st.wbuf.buf = append(st.wbuf.buf, rec)
	if len(st.wbuf.buf) >= st.config.BufSize {
		st.flush()
	}
	st.wlock.Unlock()
}

// flush hands the write buffer to the writer. Caller holds wlock.
func (st *Store) flush() {
	next := st.wbuf.seq + 1
	st.wbuf.t2 = time.Now().UTC()
	st.cond.L.Lock()
	st.ready = append(st.ready, st.wbuf)
	st.cond.L.Unlock()
	st.cond.Signal()
	st.wbuf = new_buffer(next, st.config.BufSize)
}

func (st *Store) handle() {
	defer close(st.done)
	st.log.Info().Msg("starting flusher task")
	for {
		st.cond.L.Lock()
		for len(st.ready) == 0 && !st.closed {
			st.cond.Wait()
		}
		if len(st.ready) == 0 && st.closed {
			st.cond.L.Unlock()
			return
		}
		buf := st.ready[0]
		st.ready = st.ready[1:]
		st.cond.L.Unlock()

		t1 := time.Now()
		err := st.copy(context.Background(), buf.buf)
		if err != nil {
			st.log.Error().Err(err).Uint64("seq", buf.seq).Int("length", len(buf.buf)).Msg("flush error")
		} else {
			st.log.Debug().Str("action", "flush").Uint64("seq", buf.seq).Int("length", len(buf.buf)).Dur("time_taken", time.Since(t1)).Msg("flush successfull")
		}
	}
}

func (st *Store) copy(ctx context.Context, recs []record) error {
	_, err := st.copyFrom(ctx, recs)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UndefinedTable {
		st.log.Info().Msg("table missing, creating")
		if err := st.EnsureSchema(ctx); err != nil {
			return err
		}
		_, err = st.copyFrom(ctx, recs)
		return err
	}
	return err
}

func (st *Store) copyFrom(ctx context.Context, recs []record) (int64, error) {
	return st.dbp.CopyFrom(ctx,
		pgx.Identifier{st.table},
		columns,
		pgx.CopyFromSlice(len(recs), func(i int) ([]interface{}, error) {
			d := &recs[i].p
			return []interface{}{st.runID, d.Device, int64(d.Seq), d.X, d.Y, d.Z, d.Kind.String(), d.Time, recs[i].srvt}, nil
		}))
}

func (st *Store) EnsureSchema(ctx context.Context) error {
	_, err := st.dbp.Exec(ctx, createTable(st.table))
	return err
}

func createTable(table string) string {
	return fmt.Sprintf(schema, pgx.Identifier{table}.Sanitize())
}

// Latest returns the newest points of a device, newest first.
func (st *Store) Latest(ctx context.Context, device string, limit int) ([]position.Point, error) {
	q := `SELECT device, seq, x, y, z, kind, point_time FROM ` + pgx.Identifier{st.table}.Sanitize() +
		` WHERE device = $1 ORDER BY server_time DESC, seq DESC LIMIT $2`
	rows, err := st.dbp.Query(ctx, q, device, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]position.Point, 0, limit)
	for rows.Next() {
		var p position.Point
		var seq int64
		var kind string
		if err := rows.Scan(&p.Device, &seq, &p.X, &p.Y, &p.Z, &kind, &p.Time); err != nil {
			return nil, err
		}
		p.Seq = uint32(seq)
		p.Kind = position.ParseKind(kind)
		out = append(out, p)
	}
	return out, rows.Err()
}
