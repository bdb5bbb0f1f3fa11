package sqlitestore

import (
	"context"
	"database/sql"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/phuslu/log"
	"nuha.dev/trackpoint/internal/position"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS point (
	run_id      TEXT NOT NULL,
	device      TEXT NOT NULL,
	seq         INTEGER NOT NULL,
	x           DOUBLE NOT NULL,
	y           DOUBLE NOT NULL,
	z           DOUBLE NOT NULL,
	kind        TEXT NOT NULL,
	point_time  INTEGER NOT NULL,
	server_time TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS point_device_idx ON point (device, point_time);
`

type StoreConfig struct {
	QueueSize int
	BatchSize int
	FlushDur  time.Duration
}

func DefaultStoreConfig() StoreConfig {
	return StoreConfig{QueueSize: 4096, BatchSize: 256, FlushDur: time.Second}
}

// Store keeps points in a SQLite file. Put only queues; Run writes batches
// in one transaction each.
type Store struct {
	db      *sql.DB
	log     log.Logger
	config  StoreConfig
	runID   string
	ch      chan position.Point
	dropped uint64
	done    chan struct{}
}

func Open(path string, runID string, config StoreConfig) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if _, err = db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}
	o := &Store{}
	o.db = db
	o.config = config
	o.runID = runID
	o.log = log.DefaultLogger
	o.log.Context = log.NewContext(nil).Str("module", "sqlitestore").Str("path", path).Value()
	o.ch = make(chan position.Point, config.QueueSize)
	o.done = make(chan struct{})
	return o, nil
}

func (st *Store) Put(p position.Point) {
	select {
	case st.ch <- p:
	default:
		atomic.AddUint64(&st.dropped, 1)
		st.log.Error().EmbedObject(&p).Msg("store put blocked")
	}
}

func (st *Store) Dropped() uint64 {
	return atomic.LoadUint64(&st.dropped)
}

// Run drains the queue until ctx is done, then writes what is left.
func (st *Store) Run(ctx context.Context) {
	defer close(st.done)
	ticker := time.NewTicker(st.config.FlushDur)
	defer ticker.Stop()
	buf := make([]position.Point, 0, st.config.BatchSize)
	flush := func() {
		if len(buf) == 0 {
			return
		}
		if err := st.Write(context.Background(), buf); err != nil {
			st.log.Error().Err(err).Int("length", len(buf)).Msg("flush error")
		}
		buf = buf[:0]
	}
	for {
		select {
		case p := <-st.ch:
			buf = append(buf, p)
			if len(buf) >= st.config.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-ctx.Done():
			for {
				select {
				case p := <-st.ch:
					buf = append(buf, p)
				default:
					flush()
					return
				}
			}
		}
	}
}

func (st *Store) Done() <-chan struct{} {
	return st.done
}

func (st *Store) Write(ctx context.Context, pts []position.Point) error {
	tx, err := st.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO point (run_id, device, seq, x, y, z, kind, point_time) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()
	for i := range pts {
		p := &pts[i]
		if _, err := stmt.ExecContext(ctx, st.runID, p.Device, int64(p.Seq), p.X, p.Y, p.Z, p.Kind.String(), p.Time.UnixMilli()); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// Latest returns the newest points of a device, newest first.
func (st *Store) Latest(ctx context.Context, device string, limit int) ([]position.Point, error) {
	rows, err := st.db.QueryContext(ctx, `SELECT device, seq, x, y, z, kind, point_time FROM point WHERE device = ? ORDER BY rowid DESC LIMIT ?`, device, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []position.Point
	for rows.Next() {
		var p position.Point
		var seq, ms int64
		var kind string
		if err := rows.Scan(&p.Device, &seq, &p.X, &p.Y, &p.Z, &kind, &ms); err != nil {
			return nil, err
		}
		p.Seq = uint32(seq)
		p.Kind = position.ParseKind(kind)
		p.Time = time.UnixMilli(ms).UTC()
		out = append(out, p)
	}
	return out, rows.Err()
}

// Devices lists every device with stored points.
func (st *Store) Devices(ctx context.Context) ([]string, error) {
	rows, err := st.db.QueryContext(ctx, `SELECT DISTINCT device FROM point ORDER BY device`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (st *Store) Close() error {
	return st.db.Close()
}
