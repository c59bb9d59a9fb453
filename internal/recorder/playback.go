package recorder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/yanun0323/logs"
)

// PlaybackConfig controls WAL playback behavior.
type PlaybackConfig struct {
	Dir             string
	FilePrefix      string
	DisableChecksum bool
	MaxPayloadSize  int
	// RepairTornTail truncates a torn record off the newest segment so that
	// later segments can follow it.
	RepairTornTail bool
}

func (c PlaybackConfig) withDefaults() PlaybackConfig {
	if c.FilePrefix == "" {
		c.FilePrefix = defaultFilePrefix
	}
	return c
}

// Validate checks if the config is usable.
func (c PlaybackConfig) Validate() error {
	if c.Dir == "" {
		return fmt.Errorf("invalid playback config: Dir is empty")
	}
	if c.MaxPayloadSize < 0 {
		return fmt.Errorf("invalid playback config: MaxPayloadSize must be >= 0")
	}
	return nil
}

// Playback replays WAL records in file order.
type Playback struct {
	cfg PlaybackConfig
}

// NewPlayback validates the config and creates a playback.
func NewPlayback(cfg PlaybackConfig) (*Playback, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Playback{cfg: cfg}, nil
}

// Run calls handler for every record. A record cut short at the end of the
// newest segment, as left by a crash, is dropped; anywhere else it is an error.
func (p *Playback) Run(ctx context.Context, handler func(Record) error) error {
	if handler == nil {
		return errors.New("playback handler is nil")
	}
	files, err := collectFiles(p.cfg.Dir, p.cfg.FilePrefix)
	if err != nil {
		return err
	}
	for i, path := range files {
		if err := p.playFile(ctx, path, i == len(files)-1, handler); err != nil {
			return err
		}
	}
	return nil
}

func collectFiles(dir, filePrefix string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	prefix := filePrefix + "-"
	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ".wal") {
			continue
		}
		files = append(files, filepath.Join(dir, name))
	}
	sort.Strings(files)
	return files, nil
}

func (p *Playback) playFile(ctx context.Context, path string, newest bool, handler func(Record) error) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	reader := NewReader(file, ReaderOptions{
		DisableChecksum: p.cfg.DisableChecksum,
		MaxPayloadSize:  p.cfg.MaxPayloadSize,
	})

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		rec, err := reader.Next()
		switch {
		case err == nil:
		case errors.Is(err, io.EOF):
			return nil
		case errors.Is(err, io.ErrUnexpectedEOF) && newest:
			logs.Errorf("wal %s ends with a torn record at offset %d, ignore the tail", path, reader.Offset())
			if p.cfg.RepairTornTail {
				if err := os.Truncate(path, reader.Offset()); err != nil {
					return fmt.Errorf("truncate %s, err: %w", path, err)
				}
			}
			return nil
		default:
			return fmt.Errorf("read %s, err: %w", path, err)
		}
		if err := handler(rec); err != nil {
			return err
		}
	}
}
