// Package chaos injects broker stream faults between a gateway and the
// engine: dropped, duplicated and reordered events.
package chaos

import (
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"executor/internal/bus"
)

// Config controls chaos injection behavior.
type Config struct {
	Seed          int64
	DropRate      float64
	DuplicateRate float64
	// ReorderWindow buffers this many messages and releases a random one
	// each time the window is full. 1 keeps the order.
	ReorderWindow int
}

// Validate ensures the config is within supported ranges.
func (c Config) Validate() error {
	if c.DropRate < 0 || c.DropRate > 1 {
		return fmt.Errorf("dropRate must be between 0 and 1")
	}
	if c.DuplicateRate < 0 || c.DuplicateRate > 1 {
		return fmt.Errorf("duplicateRate must be between 0 and 1")
	}
	if c.ReorderWindow <= 0 {
		return fmt.Errorf("reorderWindow must be >= 1")
	}
	return nil
}

// Stats counts the faults injected so far.
type Stats struct {
	Received   uint64
	Dropped    uint64
	Duplicated uint64
	Reordered  uint64
}

// Endpoint forwards messages to the next endpoint after applying chaos rules.
type Endpoint struct {
	cfg  Config
	next bus.Endpoint

	mu      sync.Mutex
	rng     *rand.Rand
	pending []any

	received   atomic.Uint64
	dropped    atomic.Uint64
	duplicated atomic.Uint64
	reordered  atomic.Uint64
}

// NewEndpoint creates a chaos endpoint in front of next.
func NewEndpoint(cfg Config, next bus.Endpoint) (*Endpoint, error) {
	if cfg.ReorderWindow <= 0 {
		cfg.ReorderWindow = 1
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UTC().UnixNano()
	}
	return &Endpoint{
		cfg:  cfg,
		next: next,
		rng:  rand.New(rand.NewSource(cfg.Seed)),
	}, nil
}

// Send applies chaos to a single message.
func (e *Endpoint) Send(msg any) {
	e.received.Add(1)
	for _, out := range e.process(msg) {
		e.next.Send(out)
	}
}

// Flush releases every message still held by the reorder window.
func (e *Endpoint) Flush() {
	for _, out := range e.drain() {
		e.next.Send(out)
	}
}

// Stats returns the counters.
func (e *Endpoint) Stats() Stats {
	return Stats{
		Received:   e.received.Load(),
		Dropped:    e.dropped.Load(),
		Duplicated: e.duplicated.Load(),
		Reordered:  e.reordered.Load(),
	}
}

func (e *Endpoint) process(msg any) []any {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.shouldDrop() {
		e.dropped.Add(1)
		return nil
	}
	if e.cfg.ReorderWindow <= 1 {
		return e.applyDuplicate(msg)
	}
	e.pending = append(e.pending, msg)
	if len(e.pending) < e.cfg.ReorderWindow {
		return nil
	}
	return e.applyDuplicate(e.take())
}

func (e *Endpoint) drain() []any {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]any, 0, len(e.pending))
	for len(e.pending) > 0 {
		out = append(out, e.applyDuplicate(e.take())...)
	}
	return out
}

// take removes a random pending message. Caller holds mu.
func (e *Endpoint) take() any {
	idx := e.rng.Intn(len(e.pending))
	if idx != 0 {
		e.reordered.Add(1)
	}
	msg := e.pending[idx]
	e.pending = append(e.pending[:idx], e.pending[idx+1:]...)
	return msg
}

func (e *Endpoint) shouldDrop() bool {
	return e.cfg.DropRate > 0 && e.rng.Float64() < e.cfg.DropRate
}

func (e *Endpoint) applyDuplicate(msg any) []any {
	out := []any{msg}
	if e.cfg.DuplicateRate > 0 && e.rng.Float64() < e.cfg.DuplicateRate {
		e.duplicated.Add(1)
		out = append(out, msg)
	}
	return out
}
