package pgstore

import (
	"context"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/phuslu/log"
)

// PgMiscStore keeps device lifecycle events.
type PgMiscStore struct {
	db    *pgxpool.Pool
	log   log.Logger
	runID string
}

func NewMiscStore(db *pgxpool.Pool, runID string) *PgMiscStore {
	m := PgMiscStore{}
	m.db = db
	m.runID = runID
	m.log = log.DefaultLogger
	m.log.Context = log.NewContext(nil).Str("module", "misc_store").Value()
	return &m
}

func (st *PgMiscStore) EnsureSchema(ctx context.Context) error {
	_, err := st.db.Exec(ctx, `CREATE TABLE IF NOT EXISTS device_event (
	run_id uuid NOT NULL,
	device text NOT NULL,
	event_type text NOT NULL,
	message text NOT NULL,
	received_time timestamptz NOT NULL
)`)
	return err
}

func (st *PgMiscStore) SaveEvent(device string, event_type string, message string, t time.Time) {
	_, err := st.db.Exec(context.Background(), `INSERT INTO device_event (run_id,device,event_type,message,received_time) VALUES ($1,$2,$3,$4,$5)`, st.runID, device, event_type, message, t)
	if err != nil {
		st.log.Error().Err(err).Str("device", device).Str("event_type", event_type).Msg("error saving event")
	}
}
