package pgstore

import (
	"strings"
	"testing"
	"time"

	"nuha.dev/trackpoint/internal/position"
)

func TestCreateTableQuotesName(t *testing.T) {
	q := createTable("points")
	if !strings.Contains(q, `"points"`) {
		t.Errorf("table name not quoted: %s", q)
	}
}

func TestPutFlushesFullBuffer(t *testing.T) {
	conf := &StoreConfig{BufSize: 3, TickerDur: time.Second, MaxAgeFlush: time.Second}
	st := NewStore(nil, "points", "run-1", conf)
	for i := uint32(0); i < 7; i++ {
		st.Put(position.Point{Device: "a", Seq: i})
	}
	if len(st.ready) != 2 {
		t.Fatalf("expected 2 ready buffers, got %d", len(st.ready))
	}
	if st.ready[0].seq != 0 || st.ready[1].seq != 1 {
		t.Error("buffers out of order")
	}
	if len(st.wbuf.buf) != 1 || st.wbuf.seq != 2 {
		t.Error("write buffer not rotated")
	}
}
