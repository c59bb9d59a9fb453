package recorder

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

var (
	ErrClosed          = errors.New("wal writer closed")
	ErrPayloadTooLarge = errors.New("wal payload too large")
)

const maxPayloadLen = uint64(^uint32(0))

// Writer appends records to segment files rotated by size or age. Append
// returns once the record has been handed to the file; it is fsynced on
// every append with SyncEveryAppend, otherwise at most every SyncInterval
// and on Close.
type Writer struct {
	cfg Config
	now func() time.Time

	mu       sync.Mutex
	seg      *segment
	segID    uint64
	header   []byte
	sum      [recordChecksumSize]byte
	lastSync time.Time
	closed   bool
}

type segment struct {
	file     *os.File
	buf      *bufio.Writer
	size     int64
	openedAt time.Time
}

// NewWriter validates cfg and creates the target directory. The first
// segment is opened by the first Append.
func NewWriter(cfg Config) (*Writer, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, err
	}
	return &Writer{
		cfg:    cfg,
		now:    func() time.Time { return time.Now().UTC() },
		header: make([]byte, recordHeaderSize),
	}, nil
}

// Append writes one record.
func (w *Writer) Append(rec Record) error {
	if len(rec.Key) > maxKeyLen {
		return ErrKeyTooLong
	}
	if uint64(len(rec.Payload)) > maxPayloadLen {
		return ErrPayloadTooLarge
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}

	now := w.now()
	size := rec.size()
	if w.shouldRotate(now, size) {
		if err := w.closeSegment(); err != nil {
			return err
		}
		if err := w.openSegment(now); err != nil {
			return err
		}
	}

	encodeHeader(w.header, rec)
	key := []byte(rec.Key)
	binary.LittleEndian.PutUint32(w.sum[:], checksum(w.header, key, rec.Payload))
	for _, part := range [][]byte{w.header, key, rec.Payload, w.sum[:]} {
		if _, err := w.seg.buf.Write(part); err != nil {
			return err
		}
	}
	if err := w.seg.buf.Flush(); err != nil {
		return err
	}
	w.seg.size += size

	if w.cfg.SyncEveryAppend || (w.cfg.SyncInterval > 0 && now.Sub(w.lastSync) >= w.cfg.SyncInterval) {
		return w.syncLocked(now)
	}
	return nil
}

// Sync forces the current segment to stable storage.
func (w *Writer) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	return w.syncLocked(w.now())
}

// Close syncs and closes the current segment. Later appends fail with ErrClosed.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	return w.closeSegment()
}

func (w *Writer) syncLocked(now time.Time) error {
	if w.seg == nil {
		return nil
	}
	if err := w.seg.buf.Flush(); err != nil {
		return err
	}
	if err := w.seg.file.Sync(); err != nil {
		return err
	}
	w.lastSync = now
	return nil
}

func (w *Writer) shouldRotate(now time.Time, nextSize int64) bool {
	if w.seg == nil {
		return true
	}
	if w.cfg.SegmentMaxBytes > 0 && w.seg.size+nextSize > w.cfg.SegmentMaxBytes {
		return true
	}
	return w.cfg.SegmentMaxDuration > 0 && now.Sub(w.seg.openedAt) >= w.cfg.SegmentMaxDuration
}

func (w *Writer) closeSegment() error {
	seg := w.seg
	if seg == nil {
		return nil
	}
	w.seg = nil
	if err := seg.buf.Flush(); err != nil {
		_ = seg.file.Close()
		return err
	}
	if err := seg.file.Sync(); err != nil {
		_ = seg.file.Close()
		return err
	}
	return seg.file.Close()
}

// openSegment creates the next segment file. Names sort in write order:
// prefix, open time, then a counter for segments opened in the same second.
func (w *Writer) openSegment(now time.Time) error {
	ts := now.Format("20060102-150405")
	for {
		w.segID++
		name := fmt.Sprintf("%s-%s-%06d.wal", w.cfg.FilePrefix, ts, w.segID)
		file, err := os.OpenFile(filepath.Join(w.cfg.Dir, name), os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
		if err != nil {
			if errors.Is(err, os.ErrExist) {
				continue
			}
			return err
		}
		w.seg = &segment{
			file:     file,
			buf:      bufio.NewWriterSize(file, w.cfg.BufferSize),
			openedAt: now,
		}
		w.lastSync = now
		return nil
	}
}
