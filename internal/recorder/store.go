package recorder

import (
	"context"
	"fmt"
	"os"
	"path"
	"slices"
	"sync"
	"time"
)

// Store is a keyed event log kept in WAL segments. Every log is also held in
// memory; the segments are replayed into it on Open.
type Store struct {
	cfg Config

	mu     sync.Mutex
	writer *Writer
	seq    uint64
	logs   map[string][][]byte
}

// Open replays the segments under cfg.Dir and starts a writer for new records.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Store{cfg: cfg, logs: make(map[string][][]byte)}

	pb, err := NewPlayback(PlaybackConfig{
		Dir:             cfg.Dir,
		FilePrefix:      cfg.FilePrefix,
		DisableChecksum: cfg.DisableChecksum,
		RepairTornTail:  true,
	})
	if err != nil {
		return nil, err
	}
	err = pb.Run(ctx, func(rec Record) error {
		s.logs[rec.Key] = append(s.logs[rec.Key], slices.Clone(rec.Payload))
		s.seq = max(s.seq, rec.Seq)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("replay wal %s, err: %w", cfg.Dir, err)
	}

	if s.writer, err = NewWriter(cfg); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) AppendEvent(_ context.Context, key string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := Record{
		Seq:       s.seq + 1,
		Timestamp: time.Now().UTC().UnixNano(),
		Key:       key,
		Payload:   slices.Clone(data),
	}
	if err := s.writer.Append(rec); err != nil {
		return fmt.Errorf("wal append %s, err: %w", key, err)
	}
	s.seq = rec.Seq
	s.logs[key] = append(s.logs[key], rec.Payload)
	return nil
}

func (s *Store) Keys(_ context.Context, pattern string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var keys []string
	for key := range s.logs {
		ok, err := path.Match(pattern, key)
		if err != nil {
			return nil, err
		}
		if ok {
			keys = append(keys, key)
		}
	}
	slices.Sort(keys)
	return keys, nil
}

func (s *Store) ReadEvents(_ context.Context, key string) ([][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.logs[key]), nil
}

// Flush closes the writer, removes every segment and starts over.
func (s *Store) Flush(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.writer.Close(); err != nil {
		return err
	}
	files, err := collectFiles(s.cfg.Dir, s.cfg.FilePrefix)
	if err != nil {
		return err
	}
	for _, f := range files {
		if err := os.Remove(f); err != nil {
			return err
		}
	}
	clear(s.logs)
	s.seq = 0
	w, err := NewWriter(s.cfg)
	if err != nil {
		return err
	}
	s.writer = w
	return nil
}

// Close syncs and closes the current segment.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writer.Close()
}
