package recorder

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeRecord(i int) TraceRecord {
	return TraceRecord{
		TimestampNs: int64(i) * int64(16*time.Millisecond),
		EventType:   1,
		RawX:        float64(100 + i),
		RawY:        float64(200 + i),
		FilteredX:   float64(100 + i),
		FilteredY:   float64(200 + i),
		DisplayX:    float64(100 + i),
		DisplayY:    float64(200 + i),
		Hover:       i%100 == 0,
	}
}

func TestRecorderRoundTrip(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "trace")

	rec, err := NewRecorder(dir, "synthetic", 1920, 1080)
	require.NoError(t, err)

	want := make([]TraceRecord, 0, 5)
	for i := 0; i < 5; i++ {
		r := makeRecord(i)
		want = append(want, r)
		require.NoError(t, rec.Record(r))
	}
	require.NoError(t, rec.Record(TraceRecord{
		TimestampNs: 5 * int64(16*time.Millisecond),
		Status:      "calibrate_topLeft",
	}))
	require.NoError(t, rec.Close())

	reader, err := NewReader(dir)
	require.NoError(t, err)

	header := reader.Header()
	assert.Equal(t, "1.0", header.Version)
	assert.NotEmpty(t, header.SessionID)
	assert.Equal(t, "synthetic", header.SourceKind)
	assert.Equal(t, 1920, header.ScreenWidth)
	assert.Equal(t, 1080, header.ScreenHeight)
	assert.Equal(t, uint64(6), header.TotalRecords)
	assert.Equal(t, int64(0), header.StartNs)
	assert.Equal(t, 5*int64(16*time.Millisecond), header.EndNs)

	for i, w := range want {
		got, err := reader.ReadRecord()
		require.NoError(t, err)
		if diff := cmp.Diff(w, got); diff != "" {
			t.Errorf("record %d mismatch (-want +got):\n%s", i, diff)
		}
	}

	status, err := reader.ReadRecord()
	require.NoError(t, err)
	assert.Equal(t, "calibrate_topLeft", status.Status)

	_, err = reader.ReadRecord()
	assert.Equal(t, io.EOF, err)
}

func TestRecorderChunkRotation(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "trace")

	rec, err := NewRecorder(dir, "subprocess", 1920, 1080)
	require.NoError(t, err)

	const total = 2*ChunkSize + 500
	for i := 0; i < total; i++ {
		require.NoError(t, rec.Record(makeRecord(i)))
	}
	require.NoError(t, rec.Close())

	for chunk := 0; chunk < 3; chunk++ {
		path := filepath.Join(dir, "chunks", fmt.Sprintf("%06d%s", chunk, FileExtension))
		_, err := os.Stat(path)
		assert.NoError(t, err, "chunk %d should exist", chunk)
	}

	reader, err := NewReader(dir)
	require.NoError(t, err)
	assert.Equal(t, uint64(total), reader.TotalRecords())

	count := 0
	for {
		_, err := reader.ReadRecord()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		count++
	}
	assert.Equal(t, total, count)
}

func TestReaderSeekAcrossChunks(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "trace")

	rec, err := NewRecorder(dir, "synthetic", 1920, 1080)
	require.NoError(t, err)
	for i := 0; i < ChunkSize+50; i++ {
		require.NoError(t, rec.Record(makeRecord(i)))
	}
	require.NoError(t, rec.Close())

	reader, err := NewReader(dir)
	require.NoError(t, err)

	// Land in the second chunk, then jump back into the first.
	require.NoError(t, reader.Seek(ChunkSize+10))
	got, err := reader.ReadRecord()
	require.NoError(t, err)
	assert.Equal(t, makeRecord(ChunkSize+10).RawX, got.RawX)

	require.NoError(t, reader.Seek(3))
	got, err = reader.ReadRecord()
	require.NoError(t, err)
	assert.Equal(t, makeRecord(3).RawX, got.RawX)

	err = reader.Seek(uint64(ChunkSize + 50))
	assert.Error(t, err)
}

func TestReaderSeekToTimestamp(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "trace")

	rec, err := NewRecorder(dir, "synthetic", 1920, 1080)
	require.NoError(t, err)
	for i := 0; i < 100; i++ {
		require.NoError(t, rec.Record(makeRecord(i)))
	}
	require.NoError(t, rec.Close())

	reader, err := NewReader(dir)
	require.NoError(t, err)

	require.NoError(t, reader.SeekToTimestamp(50*int64(16*time.Millisecond)))
	assert.Equal(t, uint64(50), reader.CurrentRecord())

	// Between two records lands on the later one.
	require.NoError(t, reader.SeekToTimestamp(50*int64(16*time.Millisecond)+1))
	assert.Equal(t, uint64(51), reader.CurrentRecord())

	// Past the end clamps to the last record.
	require.NoError(t, reader.SeekToTimestamp(time.Hour.Nanoseconds()))
	assert.Equal(t, uint64(99), reader.CurrentRecord())
}

func TestRecorderClosed(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "trace")

	rec, err := NewRecorder(dir, "synthetic", 1920, 1080)
	require.NoError(t, err)
	require.NoError(t, rec.Record(makeRecord(0)))
	require.NoError(t, rec.Close())

	assert.Error(t, rec.Record(makeRecord(1)))
	assert.NoError(t, rec.Close())
}

func TestReaderMissingTrace(t *testing.T) {
	_, err := NewReader(filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, err)
}
