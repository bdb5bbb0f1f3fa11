package sqlitestore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nuha.dev/trackpoint/internal/position"
)

func openTest(t *testing.T) *Store {
	t.Helper()
	st, err := Open(filepath.Join(t.TempDir(), "points.db"), "run-1", DefaultStoreConfig())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestWriteAndLatest(t *testing.T) {
	st := openTest(t)
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	pts := []position.Point{
		{Device: "a", Seq: 0, X: 1, Y: 2, Z: 3, Kind: position.Confirmed, Time: ts},
		{Device: "a", Seq: 1, X: 2, Y: 2, Z: 3, Kind: position.Interpolated, Time: ts},
		{Device: "b", Seq: 0, X: 9, Kind: position.Estimated, Time: ts},
	}
	require.NoError(t, st.Write(context.Background(), pts))

	got, err := st.Latest(context.Background(), "a", 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, pts[1], got[0])
	assert.Equal(t, pts[0], got[1])

	devices, err := st.Devices(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, devices)
}

func TestRunFlushesOnCancel(t *testing.T) {
	st := openTest(t)
	ctx, cancel := context.WithCancel(context.Background())
	go st.Run(ctx)
	for i := uint32(0); i < 5; i++ {
		st.Put(position.Point{Device: "a", Seq: i, Time: time.Unix(int64(i), 0).UTC()})
	}
	cancel()
	<-st.Done()

	got, err := st.Latest(context.Background(), "a", 10)
	require.NoError(t, err)
	assert.Len(t, got, 5)
	assert.Zero(t, st.Dropped())
}
