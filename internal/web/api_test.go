package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nuha.dev/trackpoint/internal/position"
	"nuha.dev/trackpoint/internal/server"
	"nuha.dev/trackpoint/internal/transport"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

type fakeReader struct {
	err    error
	device string
	limit  int
}

func (f *fakeReader) Latest(ctx context.Context, device string, limit int) ([]position.Point, error) {
	f.device, f.limit = device, limit
	if f.err != nil {
		return nil, f.err
	}
	return []position.Point{{Device: device, Seq: 9, Kind: position.Estimated}}, nil
}

func newTestApi(t *testing.T, reader *fakeReader) http.Handler {
	t.Helper()
	c := server.NewCollector(server.DefaultCollectorConfig(), &server.CollectorParam{})
	c.HandleDatagram(transport.Datagram{Source: "ue-1", Payload: []byte("0 0,0,0\n4 10,0,0\n"), Received: epoch})
	p := &ApiParam{Collector: c}
	if reader != nil {
		p.Reader = reader
	}
	return NewApi(p, &ApiConfig{ListenAddr: ":0"}).Handler()
}

func get(t *testing.T, h http.Handler, url string, v interface{}) int {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, url, nil))
	if v != nil && rec.Code == http.StatusOK {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
	}
	return rec.Code
}

func TestDevices(t *testing.T) {
	h := newTestApi(t, nil)
	var list []server.DeviceInfo
	require.Equal(t, http.StatusOK, get(t, h, "/devices", &list))
	require.Len(t, list, 1)
	assert.Equal(t, "ue-1", list[0].Name)
	assert.Equal(t, uint32(4), list[0].State.MaxSeq)

	var info server.DeviceInfo
	assert.Equal(t, http.StatusOK, get(t, h, "/devices/ue-1", &info))
	assert.Equal(t, uint64(2), info.Entries)
	assert.Equal(t, http.StatusNotFound, get(t, h, "/devices/nope", nil))
}

func TestTrajectory(t *testing.T) {
	h := newTestApi(t, nil)
	var pts []position.Point
	require.Equal(t, http.StatusOK, get(t, h, "/devices/ue-1/trajectory", &pts))
	require.Len(t, pts, 5)
	assert.Equal(t, 2.5, pts[1].X)
	assert.Equal(t, position.Interpolated, pts[1].Kind)
	assert.Equal(t, position.Confirmed, pts[4].Kind)

	require.Equal(t, http.StatusOK, get(t, h, "/devices/ue-1/trajectory?from=1&to=3&limit=2", &pts))
	assert.Len(t, pts, 2)
	assert.Equal(t, uint32(1), pts[0].Seq)

	assert.Equal(t, http.StatusBadRequest, get(t, h, "/devices/ue-1/trajectory?from=3&to=1", nil))
	assert.Equal(t, http.StatusBadRequest, get(t, h, "/devices/ue-1/trajectory?limit=0", nil))
	assert.Equal(t, http.StatusBadRequest, get(t, h, "/devices/ue-1/trajectory?from=x", nil))
}

func TestPointAndCurrent(t *testing.T) {
	h := newTestApi(t, nil)
	var p position.Point
	require.Equal(t, http.StatusOK, get(t, h, "/devices/ue-1/points/2", &p))
	assert.Equal(t, 5.0, p.X)
	assert.Equal(t, http.StatusBadRequest, get(t, h, "/devices/ue-1/points/-1", nil))

	require.Equal(t, http.StatusOK, get(t, h, "/devices/ue-1/current", &p))
	assert.Equal(t, uint32(4), p.Seq)
	assert.Equal(t, position.Confirmed, p.Kind)
}

func TestLatestRecords(t *testing.T) {
	assert.Equal(t, http.StatusNotImplemented, get(t, newTestApi(t, nil), "/records/latest?device=ue-1", nil))

	r := &fakeReader{}
	h := newTestApi(t, r)
	var pts []position.Point
	require.Equal(t, http.StatusOK, get(t, h, "/records/latest?device=ue-1&limit=5", &pts))
	assert.Equal(t, "ue-1", r.device)
	assert.Equal(t, 5, r.limit)
	require.Len(t, pts, 1)
	assert.Equal(t, position.Estimated, pts[0].Kind)

	assert.Equal(t, http.StatusBadRequest, get(t, h, "/records/latest", nil))

	r.err = errors.New("db down")
	assert.Equal(t, http.StatusInternalServerError, get(t, h, "/records/latest?device=ue-1", nil))
}
