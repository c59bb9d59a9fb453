package recorder

import (
	"bytes"
	"context"
	"io"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	rec := Record{Seq: 7, Timestamp: 42, Key: "Execution:Orders:O-1", Payload: []byte(`{"v":1}`)}

	header := make([]byte, recordHeaderSize)
	encodeHeader(header, rec)
	buf.Write(header)
	buf.WriteString(rec.Key)
	buf.Write(rec.Payload)
	sum := checksum(header, []byte(rec.Key), rec.Payload)
	buf.Write([]byte{byte(sum), byte(sum >> 8), byte(sum >> 16), byte(sum >> 24)})

	r := NewReader(bytes.NewReader(buf.Bytes()), ReaderOptions{})
	got, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, rec, got)

	corrupted := bytes.Clone(buf.Bytes())
	corrupted[recordHeaderSize+2] ^= 0xff
	_, err = NewReader(bytes.NewReader(corrupted), ReaderOptions{}).Next()
	require.ErrorIs(t, err, ErrChecksumMismatch)

	_, err = NewReader(bytes.NewReader(buf.Bytes()[:buf.Len()-3]), ReaderOptions{}).Next()
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func openTestStore(t *testing.T, dir string) *Store {
	cfg := DefaultConfig(dir)
	cfg.SyncInterval = 0
	s, err := Open(context.Background(), cfg)
	require.NoError(t, err)
	return s
}

func TestStoreReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s := openTestStore(t, dir)
	require.NoError(t, s.AppendEvent(ctx, "Execution:Orders:O-1", []byte("a")))
	require.NoError(t, s.AppendEvent(ctx, "Execution:Orders:O-1", []byte("b")))
	require.NoError(t, s.AppendEvent(ctx, "Execution:Accounts:A-1", []byte("c")))
	require.NoError(t, s.Close())

	s = openTestStore(t, dir)
	defer s.Close()

	keys, err := s.Keys(ctx, "Execution:Orders:*")
	require.NoError(t, err)
	assert.Equal(t, []string{"Execution:Orders:O-1"}, keys)

	events, err := s.ReadEvents(ctx, "Execution:Orders:O-1")
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("a"), []byte("b")}, events)
	assert.Equal(t, uint64(3), s.seq)

	require.NoError(t, s.AppendEvent(ctx, "Execution:Orders:O-1", []byte("d")))
	events, err = s.ReadEvents(ctx, "Execution:Orders:O-1")
	require.NoError(t, err)
	assert.Len(t, events, 3)
}

func TestStoreIgnoresTornTail(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s := openTestStore(t, dir)
	require.NoError(t, s.AppendEvent(ctx, "k", []byte("complete")))
	require.NoError(t, s.Close())

	files, err := collectFiles(dir, defaultFilePrefix)
	require.NoError(t, err)
	require.Len(t, files, 1)
	f, err := os.OpenFile(files[0], os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.Write(recordMagic[:])
	require.NoError(t, err)
	require.NoError(t, f.Close())

	s = openTestStore(t, dir)
	events, err := s.ReadEvents(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("complete")}, events)

	// the torn segment is no longer the newest once a new one is written
	require.NoError(t, s.AppendEvent(ctx, "k", []byte("after")))
	require.NoError(t, s.Close())

	s = openTestStore(t, dir)
	defer s.Close()
	events, err = s.ReadEvents(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("complete"), []byte("after")}, events)
}

func TestPlaybackRejectsTornMiddleSegment(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(DefaultConfig(dir))
	require.NoError(t, err)
	require.NoError(t, w.Append(Record{Seq: 1, Key: "k", Payload: []byte("a")}))
	require.NoError(t, w.Close())

	files, err := collectFiles(dir, defaultFilePrefix)
	require.NoError(t, err)
	require.Len(t, files, 1)
	f, err := os.OpenFile(files[0], os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.Write(recordMagic[:])
	require.NoError(t, err)
	require.NoError(t, f.Close())

	w, err = NewWriter(DefaultConfig(dir))
	require.NoError(t, err)
	require.NoError(t, w.Append(Record{Seq: 2, Key: "k", Payload: []byte("b")}))
	require.NoError(t, w.Close())

	pb, err := NewPlayback(PlaybackConfig{Dir: dir})
	require.NoError(t, err)
	err = pb.Run(context.Background(), func(Record) error { return nil })
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestStoreFlush(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s := openTestStore(t, dir)
	require.NoError(t, s.AppendEvent(ctx, "k", []byte("x")))
	require.NoError(t, s.Flush(ctx))
	keys, err := s.Keys(ctx, "*")
	require.NoError(t, err)
	assert.Empty(t, keys)

	require.NoError(t, s.AppendEvent(ctx, "k2", []byte("y")))
	require.NoError(t, s.Close())

	s = openTestStore(t, dir)
	defer s.Close()
	keys, err = s.Keys(ctx, "*")
	require.NoError(t, err)
	assert.Equal(t, []string{"k2"}, keys)
}

func TestConfigValidate(t *testing.T) {
	testCases := []struct {
		desc string
		cfg  Config
	}{
		{"empty dir", Config{}},
		{"negative sync interval", Config{Dir: "x", SyncInterval: -1}},
		{"negative segment age", Config{Dir: "x", SegmentMaxDuration: -1}},
	}
	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			require.Error(t, tc.cfg.withDefaults().Validate())
		})
	}
	require.NoError(t, DefaultConfig("x").Validate())
}
