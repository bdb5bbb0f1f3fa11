package natsstore

import (
	"encoding/json"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/phuslu/log"
	"nuha.dev/trackpoint/internal/position"
)

// Publisher is the part of *nats.Conn the store needs.
type Publisher interface {
	Publish(subj string, data []byte) error
}

type message struct {
	RunID string `json:"run_id"`
	position.Point
}

// Store publishes every point as JSON on <prefix>.<device>.
type Store struct {
	pub    Publisher
	log    log.Logger
	prefix string
	runID  string
}

func NewStore(pub Publisher, prefix string, runID string) *Store {
	o := &Store{}
	o.pub = pub
	o.prefix = prefix
	o.runID = runID
	o.log = log.DefaultLogger
	o.log.Context = log.NewContext(nil).Str("module", "natsstore").Value()
	return o
}

// Connect dials url and returns the connection ready for NewStore.
func Connect(url string, name string) (*nats.Conn, error) {
	return nats.Connect(url, nats.Name(name), nats.MaxReconnects(-1))
}

// Subject maps a device name to a subject token; dots and spaces would
// split or break it.
func (st *Store) Subject(device string) string {
	r := strings.NewReplacer(".", "_", " ", "_", "*", "_", ">", "_")
	return st.prefix + "." + r.Replace(device)
}

func (st *Store) Put(p position.Point) {
	b, err := json.Marshal(message{RunID: st.runID, Point: p})
	if err != nil {
		st.log.Error().Err(err).EmbedObject(&p).Msg("marshal error")
		return
	}
	if err := st.pub.Publish(st.Subject(p.Device), b); err != nil {
		st.log.Error().Err(err).EmbedObject(&p).Msg("publish error")
	}
}
