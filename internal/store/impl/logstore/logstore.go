package logstore

import (
	"time"

	"github.com/phuslu/log"
	"nuha.dev/trackpoint/internal/position"
)

// LogStore writes every point as a log line.
type LogStore struct {
	log   log.Logger
	runID string
}

func NewStore(runID string) *LogStore {
	o := &LogStore{}
	o.log = log.DefaultLogger
	o.log.Context = log.NewContext(nil).Str("module", "logstore").Str("run_id", runID).Value()
	o.runID = runID
	return o
}

func (l *LogStore) Put(p position.Point) {
	l.log.Info().EmbedObject(&p).Time("time", p.Time).Msg("point")
}

func (l *LogStore) SaveEvent(device string, event string, message string, t time.Time) {
	l.log.Info().Str("device", device).Str("event", event).Str("message", message).Time("time", t).Msg("device event")
}
