package natsstore

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nuha.dev/trackpoint/internal/position"
)

type published struct {
	subj string
	data []byte
}

type fakePub struct {
	msgs []published
}

func (f *fakePub) Publish(subj string, data []byte) error {
	f.msgs = append(f.msgs, published{subj, data})
	return nil
}

func TestPutPublishesJSON(t *testing.T) {
	pub := &fakePub{}
	st := NewStore(pub, "trackpoint", "run-1")
	st.Put(position.Point{Device: "ue.1", Seq: 4, X: 1, Kind: position.Held, Time: time.Unix(10, 0).UTC()})

	require.Len(t, pub.msgs, 1)
	assert.Equal(t, "trackpoint.ue_1", pub.msgs[0].subj)
	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(pub.msgs[0].data, &got))
	assert.Equal(t, "run-1", got["run_id"])
	assert.Equal(t, "held", got["kind"])
	assert.Equal(t, 4.0, got["seq"])
}
