package database

import (
	"context"
	"path"
	"slices"
	"sync"
)

// Store is an append-only event log keyed by aggregate.
type Store interface {
	// AppendEvent appends one serialized event to the log at key.
	AppendEvent(ctx context.Context, key string, data []byte) error
	// Keys lists the keys matching a glob pattern such as "Execution:Orders:*".
	Keys(ctx context.Context, pattern string) ([]string, error)
	// ReadEvents returns the log at key in append order.
	ReadEvents(ctx context.Context, key string) ([][]byte, error)
	// Flush removes every log.
	Flush(ctx context.Context) error
}

// MemoryStore keeps logs in process memory.
type MemoryStore struct {
	mu   sync.RWMutex
	logs map[string][][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{logs: make(map[string][][]byte)}
}

func (s *MemoryStore) AppendEvent(_ context.Context, key string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs[key] = append(s.logs[key], slices.Clone(data))
	return nil
}

func (s *MemoryStore) Keys(_ context.Context, pattern string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
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

func (s *MemoryStore) ReadEvents(_ context.Context, key string) ([][]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.logs[key]), nil
}

func (s *MemoryStore) Flush(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.logs)
	return nil
}
