package snapshot

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"edgeclassifier/internal/logger"
	"edgeclassifier/internal/model"
	"edgeclassifier/internal/repository/sqlite"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

type fixture struct {
	svc        *Service
	dir        string
	snapshots  *sqlite.SnapshotRepository
	detections *sqlite.DetectionRepository
}

func newFixture(t *testing.T, limit int) fixture {
	t.Helper()
	db, err := sqlite.New(filepath.Join(t.TempDir(), "snap.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	f := fixture{
		dir:        filepath.Join(t.TempDir(), "images"),
		snapshots:  sqlite.NewSnapshotRepository(db),
		detections: sqlite.NewDetectionRepository(db),
	}
	f.svc = NewService(Options{Directory: f.dir, Limit: limit, RunID: "run-1"}, logger.Discard(), f.snapshots, f.detections)
	f.svc.now = func() time.Time { return time.Date(2026, 5, 4, 10, 11, 12, 0, time.UTC) }
	return f
}

func newFrame(uri string, seq uint64) *model.Frame {
	return model.NewFrame(uri, seq, gocv.NewMat())
}

func TestAddImage_LimitPerStream(t *testing.T) {
	f := newFixture(t, 2)

	a := newFrame("rtsp://cam1/live", 1)
	defer a.Close()
	b := newFrame("rtsp://cam2/live", 1)
	defer b.Close()

	assert.True(t, f.svc.AddImage(a, []byte("1")))
	assert.True(t, f.svc.AddImage(a, []byte("2")))
	assert.False(t, f.svc.AddImage(a, []byte("3")))
	assert.True(t, f.svc.AddImage(b, []byte("4")))

	images, _ := f.svc.Pending()
	assert.Equal(t, 3, images)
}

func TestFlush_WritesFilesAndRows(t *testing.T) {
	f := newFixture(t, 5)

	frame := newFrame("rtsp://cam1/live", 42)
	defer frame.Close()
	frame.AddLabel("Class 180 (71%)", 0.02, 0.9)
	f.svc.AddImage(frame, []byte{0xFF, 0xD8, 0xFF, 0xD9})

	assert.Equal(t, 1, f.svc.Flush())

	name := "2026-05-04_10-11-12.000_rtsp___cam1_live_42.jpg"
	data, err := os.ReadFile(filepath.Join(f.dir, name))
	require.NoError(t, err)
	assert.Equal(t, []byte{0xFF, 0xD8, 0xFF, 0xD9}, data)

	row, err := f.snapshots.GetByFilename(name)
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, "rtsp://cam1/live", row.StreamURI)
	assert.Equal(t, uint64(42), row.Seq)
	assert.Equal(t, int64(4), row.FileSize)

	images, _ := f.svc.Pending()
	assert.Zero(t, images)
	assert.True(t, f.svc.AddImage(frame, []byte{1}), "counters reset after flush")
}

func TestRecordDetections(t *testing.T) {
	f := newFixture(t, 5)

	frame := newFrame("cam", 3)
	defer frame.Close()
	f.svc.RecordDetections(frame, []model.Detection{
		{ClassIndex: 3, Probability: 0.92, Label: "Class 3 (92%)"},
		{ClassIndex: 180, Probability: 0.6, Label: "Class 180 (60%)", Target: true},
	})
	_, pending := f.svc.Pending()
	assert.Equal(t, 2, pending)

	f.svc.Flush()

	records, err := f.detections.Recent("cam", 10)
	require.NoError(t, err)
	require.Len(t, records, 2)
	for _, r := range records {
		assert.Equal(t, "run-1", r.RunID)
		assert.Equal(t, uint64(3), r.Seq)
	}
	targets, err := f.detections.CountTargets("cam")
	require.NoError(t, err)
	assert.Equal(t, 1, targets)
}

func TestRun_FlushesOnShutdown(t *testing.T) {
	f := newFixture(t, 5)
	f.svc.flushInterval = time.Hour

	frame := newFrame("cam", 1)
	defer frame.Close()
	f.svc.AddImage(frame, []byte{1, 2, 3})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.svc.Run(ctx) }()
	cancel()
	require.NoError(t, <-done)

	recent, err := f.snapshots.Recent(10)
	require.NoError(t, err)
	assert.Len(t, recent, 1)
}

func TestFilename(t *testing.T) {
	ts := time.Date(2026, 1, 2, 3, 4, 5, 600_000_000, time.UTC)
	assert.Equal(t, "2026-01-02_03-04-05.600_udp___garage_9.jpg", Filename(ts, "udp://garage", 9))
}

func TestParseFilename(t *testing.T) {
	ts := time.Date(2026, 1, 2, 3, 4, 5, 600_000_000, time.Local)

	gotTS, stream, seq, err := ParseFilename(Filename(ts, "rtsp://cam_1/live", 77))
	require.NoError(t, err)
	assert.True(t, ts.Equal(gotTS))
	assert.Equal(t, "rtsp___cam_1_live", stream)
	assert.Equal(t, uint64(77), seq)

	for _, bad := range []string{"a.jpg", "2026-01-02_03-04-05.600_cam.jpg", "2026-01-02_03-04-05.600_cam_x.jpg", "2026-01-02_03-04-05.600_cam_1.png"} {
		_, _, _, err := ParseFilename(bad)
		assert.ErrorIs(t, err, ErrBadFilename, bad)
	}
}
