package stream

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"

	"draftflow/pkg/models"

	"github.com/valyala/bytebufferpool"
)

// Per-run chunk log: a flat file of CRC-framed records, one JSON-encoded
// chunk each. Record layout: 4 (crc) + 4 (length) + payload. A torn tail
// from a crash is truncated on open; everything before it is replayable.
const chunkRecordHeader = 8

var crcTable = crc32.MakeTable(crc32.Castagnoli)

// ChunkLog persists a run's stream backlog so reconnecting clients can be
// served across process restarts.
type ChunkLog struct {
	f         *os.File
	path      string
	syncEach  bool
	maxRecord int64
}

// OpenChunkLog opens (or creates) the log at path and replays any existing
// records, truncating a torn tail. The recovered chunks are returned in
// append order.
func OpenChunkLog(path string, syncEach bool, maxRecord int64) (*ChunkLog, []models.Chunk, error) {
	if maxRecord <= 0 {
		return nil, nil, fmt.Errorf("chunk log missing max_record_bytes; ensure config defaults applied")
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open chunk log: %w", err)
	}
	l := &ChunkLog{f: f, path: path, syncEach: syncEach, maxRecord: maxRecord}
	chunks, validSize, err := l.scan()
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	if fi, serr := f.Stat(); serr == nil && validSize < fi.Size() {
		if err := f.Truncate(validSize); err != nil {
			f.Close()
			return nil, nil, fmt.Errorf("failed to truncate torn chunk log: %w", err)
		}
	}
	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		f.Close()
		return nil, nil, err
	}
	return l, chunks, nil
}

// ReadChunkLog replays a closed log without keeping a handle open.
func ReadChunkLog(path string, maxRecord int64) ([]models.Chunk, error) {
	l, chunks, err := OpenChunkLog(path, false, maxRecord)
	if err != nil {
		return nil, err
	}
	_ = l.Close()
	return chunks, nil
}

func (l *ChunkLog) scan() ([]models.Chunk, int64, error) {
	if _, err := l.f.Seek(0, io.SeekStart); err != nil {
		return nil, 0, err
	}
	var out []models.Chunk
	validSize := int64(0)
	for {
		var hdr [chunkRecordHeader]byte
		if _, err := io.ReadFull(l.f, hdr[:]); err != nil {
			break
		}
		crc := binary.BigEndian.Uint32(hdr[0:4])
		length := int64(binary.BigEndian.Uint32(hdr[4:8]))
		if length <= 0 || length > l.maxRecord {
			break
		}
		data := make([]byte, length)
		if _, err := io.ReadFull(l.f, data); err != nil {
			break
		}
		if crc32.Checksum(data, crcTable) != crc {
			break
		}
		var c models.Chunk
		if err := json.Unmarshal(data, &c); err != nil {
			break
		}
		out = append(out, c)
		validSize += chunkRecordHeader + length
	}
	return out, validSize, nil
}

// Append writes one chunk record.
func (l *ChunkLog) Append(c models.Chunk) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode chunk: %w", err)
	}
	if int64(len(data)) > l.maxRecord {
		return fmt.Errorf("chunk record of %d bytes exceeds max_record_bytes", len(data))
	}
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)
	var hdr [chunkRecordHeader]byte
	binary.BigEndian.PutUint32(hdr[0:4], crc32.Checksum(data, crcTable))
	binary.BigEndian.PutUint32(hdr[4:8], uint32(len(data)))
	_, _ = buf.Write(hdr[:])
	_, _ = buf.Write(data)
	if _, err := l.f.Write(buf.B); err != nil {
		return fmt.Errorf("failed to append chunk record: %w", err)
	}
	if l.syncEach {
		if err := l.f.Sync(); err != nil {
			return fmt.Errorf("failed to fsync chunk log: %w", err)
		}
	}
	return nil
}

// Close syncs and closes the log file.
func (l *ChunkLog) Close() error {
	if l.f == nil {
		return nil
	}
	var firstErr error
	if err := l.f.Sync(); err != nil && !errors.Is(err, os.ErrClosed) {
		firstErr = err
	}
	if err := l.f.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	l.f = nil
	return firstErr
}
