package recorder

import (
	"bytes"
	"encoding/binary"
	"errors"
	"hash/crc32"
)

// Record layout, little endian:
//
//	magic[4] version[2] headerSize[2] keyLen[2] reserved[2] payloadLen[4] seq[8] ts[8]
//	key[keyLen] payload[payloadLen] crc32c(header+key+payload)[4]
const (
	recordVersion      uint16 = 2
	recordHeaderSize          = 32
	recordChecksumSize        = 4
	maxKeyLen                 = 1<<16 - 1
)

var (
	recordMagic = [4]byte{'W', 'A', 'L', '1'}
	crcTable    = crc32.MakeTable(crc32.Castagnoli)
)

var (
	ErrInvalidMagic            = errors.New("wal invalid magic")
	ErrUnsupportedRecordVer    = errors.New("wal unsupported record version")
	ErrInvalidRecordHeaderSize = errors.New("wal invalid header size")
	ErrKeyTooLong              = errors.New("wal key too long")
)

// Record is one keyed entry of the log.
type Record struct {
	Seq       uint64
	Timestamp int64
	Key       string
	Payload   []byte
}

func (r Record) size() int64 {
	return int64(recordHeaderSize + len(r.Key) + len(r.Payload) + recordChecksumSize)
}

func encodeHeader(dst []byte, rec Record) {
	_ = dst[recordHeaderSize-1]
	copy(dst[0:4], recordMagic[:])
	binary.LittleEndian.PutUint16(dst[4:6], recordVersion)
	binary.LittleEndian.PutUint16(dst[6:8], uint16(recordHeaderSize))
	binary.LittleEndian.PutUint16(dst[8:10], uint16(len(rec.Key)))
	binary.LittleEndian.PutUint16(dst[10:12], 0)
	binary.LittleEndian.PutUint32(dst[12:16], uint32(len(rec.Payload)))
	binary.LittleEndian.PutUint64(dst[16:24], rec.Seq)
	binary.LittleEndian.PutUint64(dst[24:32], uint64(rec.Timestamp))
}

func checksum(parts ...[]byte) uint32 {
	var crc uint32
	for _, p := range parts {
		crc = crc32.Update(crc, crcTable, p)
	}
	return crc
}

type recordHeader struct {
	seq        uint64
	timestamp  int64
	keyLen     uint16
	payloadLen uint32
}

func decodeRecordHeader(src []byte) (recordHeader, error) {
	if len(src) < recordHeaderSize {
		return recordHeader{}, ErrInvalidRecordHeaderSize
	}
	if !bytes.Equal(src[0:4], recordMagic[:]) {
		return recordHeader{}, ErrInvalidMagic
	}
	if ver := binary.LittleEndian.Uint16(src[4:6]); ver != recordVersion {
		return recordHeader{}, ErrUnsupportedRecordVer
	}
	if headerSize := binary.LittleEndian.Uint16(src[6:8]); headerSize != recordHeaderSize {
		return recordHeader{}, ErrInvalidRecordHeaderSize
	}
	return recordHeader{
		keyLen:     binary.LittleEndian.Uint16(src[8:10]),
		payloadLen: binary.LittleEndian.Uint32(src[12:16]),
		seq:        binary.LittleEndian.Uint64(src[16:24]),
		timestamp:  int64(binary.LittleEndian.Uint64(src[24:32])),
	}, nil
}
