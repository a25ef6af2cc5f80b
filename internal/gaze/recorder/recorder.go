// Package recorder provides recording and replay of gaze pipeline traces.
//
// A trace is a directory: header.json with session metadata, chunks/ of
// length-prefixed msgpack records, and index.bin for seeking. Traces are
// written live by the pipeline, replayed through source.Replay for
// offline tuning, and rendered by the trace-plot tool.
package recorder

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"
)

// FileExtension is the extension of chunk files inside a trace.
const FileExtension = ".gzl"

// ChunkSize is the number of records per chunk file.
const ChunkSize = 1000

// TraceRecord is one recorded pipeline event. Tick records carry the raw
// target plus the filtered and display points; status records carry only
// Status; blink records carry only EventType.
type TraceRecord struct {
	TimestampNs int64   `msgpack:"ts"`
	EventType   int     `msgpack:"et"`
	RawX        float64 `msgpack:"rx"`
	RawY        float64 `msgpack:"ry"`
	FilteredX   float64 `msgpack:"fx"`
	FilteredY   float64 `msgpack:"fy"`
	DisplayX    float64 `msgpack:"dx"`
	DisplayY    float64 `msgpack:"dy"`
	Hover       bool    `msgpack:"h"`
	Status      string  `msgpack:"st,omitempty"`
}

// LogHeader describes a recorded trace.
type LogHeader struct {
	Version      string `json:"version"`
	CreatedNs    int64  `json:"created_ns"`
	SessionID    string `json:"session_id"`
	SourceKind   string `json:"source_kind"`
	ScreenWidth  int    `json:"screen_width"`
	ScreenHeight int    `json:"screen_height"`
	TotalRecords uint64 `json:"total_records"`
	StartNs      int64  `json:"start_ns"`
	EndNs        int64  `json:"end_ns"`
}

// IndexEntry is one entry of the seek index.
type IndexEntry struct {
	RecordID    uint64
	TimestampNs int64
	ChunkID     uint32
	Offset      uint32
}

// Recorder writes TraceRecords to a trace directory.
type Recorder struct {
	basePath string

	header       LogHeader
	index        []IndexEntry
	currentChunk int
	chunkFile    *os.File
	chunkOffset  uint32

	recordCount uint64
	startNs     int64
	endNs       int64

	mu     sync.Mutex
	closed bool
}

// NewRecorder creates a Recorder writing to the given directory. An
// empty path records into a timestamped directory under the temp dir.
func NewRecorder(basePath, sourceKind string, screenW, screenH int) (*Recorder, error) {
	if basePath == "" {
		basePath = filepath.Join(os.TempDir(),
			fmt.Sprintf("gazetrace_%d", time.Now().Unix()))
	}
	if err := os.MkdirAll(filepath.Join(basePath, "chunks"), 0755); err != nil {
		return nil, fmt.Errorf("failed to create trace directory: %w", err)
	}

	return &Recorder{
		basePath:     basePath,
		currentChunk: -1,
		index:        make([]IndexEntry, 0),
		header: LogHeader{
			Version:      "1.0",
			CreatedNs:    time.Now().UnixNano(),
			SessionID:    uuid.NewString(),
			SourceKind:   sourceKind,
			ScreenWidth:  screenW,
			ScreenHeight: screenH,
		},
	}, nil
}

// Record appends one record to the trace.
func (r *Recorder) Record(rec TraceRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return fmt.Errorf("recorder is closed")
	}

	if r.recordCount == 0 {
		r.startNs = rec.TimestampNs
	}
	r.endNs = rec.TimestampNs

	chunkIdx := int(r.recordCount / ChunkSize)
	if chunkIdx != r.currentChunk {
		if err := r.rotateChunk(chunkIdx); err != nil {
			return err
		}
	}

	data, err := msgpack.Marshal(&rec)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(data)))
	if _, err := r.chunkFile.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("failed to write record length: %w", err)
	}
	if _, err := r.chunkFile.Write(data); err != nil {
		return fmt.Errorf("failed to write record: %w", err)
	}

	r.index = append(r.index, IndexEntry{
		RecordID:    r.recordCount,
		TimestampNs: rec.TimestampNs,
		ChunkID:     uint32(chunkIdx),
		Offset:      r.chunkOffset,
	})

	r.chunkOffset += uint32(4 + len(data))
	r.recordCount++
	return nil
}

// rotateChunk closes the current chunk and opens the next one.
func (r *Recorder) rotateChunk(chunkIdx int) error {
	if r.chunkFile != nil {
		if err := r.chunkFile.Close(); err != nil {
			return err
		}
	}

	chunkPath := filepath.Join(r.basePath, "chunks",
		fmt.Sprintf("%06d%s", chunkIdx, FileExtension))
	f, err := os.Create(chunkPath)
	if err != nil {
		return fmt.Errorf("failed to create chunk file: %w", err)
	}

	r.chunkFile = f
	r.currentChunk = chunkIdx
	r.chunkOffset = 0
	return nil
}

// Close finalizes the trace, writing the header and the seek index.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	if r.chunkFile != nil {
		r.chunkFile.Close()
	}

	r.header.TotalRecords = r.recordCount
	r.header.StartNs = r.startNs
	r.header.EndNs = r.endNs

	headerData, err := json.MarshalIndent(r.header, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal header: %w", err)
	}
	headerPath := filepath.Join(r.basePath, "header.json")
	if err := os.WriteFile(headerPath, headerData, 0644); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	indexFile, err := os.Create(filepath.Join(r.basePath, "index.bin"))
	if err != nil {
		return fmt.Errorf("failed to create index file: %w", err)
	}
	defer indexFile.Close()

	for _, entry := range r.index {
		if err := binary.Write(indexFile, binary.BigEndian, entry.RecordID); err != nil {
			return err
		}
		if err := binary.Write(indexFile, binary.BigEndian, entry.TimestampNs); err != nil {
			return err
		}
		if err := binary.Write(indexFile, binary.BigEndian, entry.ChunkID); err != nil {
			return err
		}
		if err := binary.Write(indexFile, binary.BigEndian, entry.Offset); err != nil {
			return err
		}
	}
	return nil
}

// Path returns the trace directory.
func (r *Recorder) Path() string {
	return r.basePath
}

// SessionID returns the identifier stamped into the trace header.
func (r *Recorder) SessionID() string {
	return r.header.SessionID
}

// RecordCount returns the number of records written so far.
func (r *Recorder) RecordCount() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recordCount
}

// Reader reads TraceRecords back from a trace directory.
type Reader struct {
	basePath string
	header   LogHeader
	index    []IndexEntry

	currentRecord uint64
	currentChunk  int
	chunkData     []byte

	mu sync.Mutex
}

// NewReader opens a trace for reading.
func NewReader(basePath string) (*Reader, error) {
	r := &Reader{
		basePath:     basePath,
		currentChunk: -1,
	}

	headerData, err := os.ReadFile(filepath.Join(basePath, "header.json"))
	if err != nil {
		return nil, fmt.Errorf("failed to read trace header: %w", err)
	}
	if err := json.Unmarshal(headerData, &r.header); err != nil {
		return nil, fmt.Errorf("failed to parse trace header: %w", err)
	}

	indexFile, err := os.Open(filepath.Join(basePath, "index.bin"))
	if err != nil {
		return nil, fmt.Errorf("failed to open trace index: %w", err)
	}
	defer indexFile.Close()

	r.index = make([]IndexEntry, 0, r.header.TotalRecords)
	for {
		var entry IndexEntry
		if err := binary.Read(indexFile, binary.BigEndian, &entry.RecordID); err != nil {
			if err == io.EOF {
				break
			}
			return nil, err
		}
		if err := binary.Read(indexFile, binary.BigEndian, &entry.TimestampNs); err != nil {
			return nil, err
		}
		if err := binary.Read(indexFile, binary.BigEndian, &entry.ChunkID); err != nil {
			return nil, err
		}
		if err := binary.Read(indexFile, binary.BigEndian, &entry.Offset); err != nil {
			return nil, err
		}
		r.index = append(r.index, entry)
	}

	return r, nil
}

// Header returns the trace header.
func (r *Reader) Header() LogHeader {
	return r.header
}

// TotalRecords returns the number of records in the trace.
func (r *Reader) TotalRecords() uint64 {
	return uint64(len(r.index))
}

// CurrentRecord returns the cursor position.
func (r *Reader) CurrentRecord() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.currentRecord
}

// Seek moves the cursor to the given record index.
func (r *Reader) Seek(idx uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if idx >= uint64(len(r.index)) {
		return fmt.Errorf("record index out of range: %d >= %d", idx, len(r.index))
	}
	r.currentRecord = idx
	return nil
}

// SeekToTimestamp moves the cursor to the first record at or after the
// given timestamp, or to the last record when the timestamp is past the
// end of the trace.
func (r *Reader) SeekToTimestamp(timestampNs int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, entry := range r.index {
		if entry.TimestampNs >= timestampNs {
			r.currentRecord = uint64(i)
			return nil
		}
	}
	if len(r.index) == 0 {
		return fmt.Errorf("trace is empty")
	}
	r.currentRecord = uint64(len(r.index) - 1)
	return nil
}

// ReadRecord returns the record at the cursor and advances. io.EOF marks
// the end of the trace.
func (r *Reader) ReadRecord() (TraceRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.currentRecord >= uint64(len(r.index)) {
		return TraceRecord{}, io.EOF
	}

	entry := r.index[r.currentRecord]
	if int(entry.ChunkID) != r.currentChunk {
		if err := r.loadChunk(int(entry.ChunkID)); err != nil {
			return TraceRecord{}, err
		}
	}

	offset := entry.Offset
	if offset+4 > uint32(len(r.chunkData)) {
		return TraceRecord{}, fmt.Errorf("invalid record offset %d in chunk %d", offset, entry.ChunkID)
	}
	recLen := binary.BigEndian.Uint32(r.chunkData[offset:])
	offset += 4
	if offset+recLen > uint32(len(r.chunkData)) {
		return TraceRecord{}, fmt.Errorf("invalid record length %d in chunk %d", recLen, entry.ChunkID)
	}

	var rec TraceRecord
	if err := msgpack.Unmarshal(r.chunkData[offset:offset+recLen], &rec); err != nil {
		return TraceRecord{}, fmt.Errorf("failed to unmarshal record %d: %w", r.currentRecord, err)
	}

	r.currentRecord++
	return rec, nil
}

// loadChunk reads a whole chunk file into memory.
func (r *Reader) loadChunk(chunkIdx int) error {
	chunkPath := filepath.Join(r.basePath, "chunks",
		fmt.Sprintf("%06d%s", chunkIdx, FileExtension))
	data, err := os.ReadFile(chunkPath)
	if err != nil {
		return fmt.Errorf("failed to read chunk: %w", err)
	}
	r.chunkData = data
	r.currentChunk = chunkIdx
	return nil
}
