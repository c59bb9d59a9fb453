package recorder

import (
	"bufio"
	"encoding/binary"
	"errors"
	"io"
)

var ErrChecksumMismatch = errors.New("wal checksum mismatch")

// ReaderOptions controls record decoding.
type ReaderOptions struct {
	DisableChecksum bool
	MaxPayloadSize  int
}

// Reader decodes WAL records sequentially.
type Reader struct {
	r         *bufio.Reader
	opts      ReaderOptions
	headerBuf []byte
	offset    int64
}

// NewReader wraps an io.Reader with WAL decoding.
func NewReader(r io.Reader, opts ReaderOptions) *Reader {
	return &Reader{
		r:         bufio.NewReader(r),
		opts:      opts,
		headerBuf: make([]byte, recordHeaderSize),
	}
}

// Next returns the next record. It returns io.EOF at a clean end of input and
// io.ErrUnexpectedEOF when the last record is cut short.
func (r *Reader) Next() (Record, error) {
	n, err := io.ReadFull(r.r, r.headerBuf)
	if err != nil {
		if err == io.EOF && n == 0 {
			return Record{}, io.EOF
		}
		return Record{}, io.ErrUnexpectedEOF
	}

	header, err := decodeRecordHeader(r.headerBuf)
	if err != nil {
		return Record{}, err
	}
	if r.opts.MaxPayloadSize > 0 && header.payloadLen > uint32(r.opts.MaxPayloadSize) {
		return Record{}, ErrPayloadTooLarge
	}

	body := make([]byte, int(header.keyLen)+int(header.payloadLen))
	if _, err := io.ReadFull(r.r, body); err != nil {
		return Record{}, io.ErrUnexpectedEOF
	}

	var checksumBuf [recordChecksumSize]byte
	if _, err := io.ReadFull(r.r, checksumBuf[:]); err != nil {
		return Record{}, io.ErrUnexpectedEOF
	}
	if !r.opts.DisableChecksum {
		expected := binary.LittleEndian.Uint32(checksumBuf[:])
		if sum := checksum(r.headerBuf, body); sum != expected {
			return Record{}, ErrChecksumMismatch
		}
	}

	r.offset += int64(recordHeaderSize + len(body) + recordChecksumSize)
	return Record{
		Seq:       header.seq,
		Timestamp: header.timestamp,
		Key:       string(body[:header.keyLen]),
		Payload:   body[header.keyLen:],
	}, nil
}

// Offset is the number of bytes taken by the records returned so far.
func (r *Reader) Offset() int64 {
	return r.offset
}
