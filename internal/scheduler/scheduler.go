// Package scheduler delivers one-shot deferred messages to bus endpoints.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/google/btree"
	"github.com/yanun0323/logs"

	"executor/internal/bus"
)

const (
	defaultTick = 10 * time.Millisecond
	degree      = 32
)

type delivery struct {
	due      time.Time
	seq      uint64
	receiver bus.Endpoint
	sender   bus.Endpoint
	msg      any
}

// dueLess orders deliveries by due time, then by schedule order.
func dueLess(a, b delivery) bool {
	if !a.due.Equal(b.due) {
		return a.due.Before(b.due)
	}
	return a.seq < b.seq
}

// Scheduler keeps pending deliveries in a B-tree ordered by due time and
// fires them from Run on every tick.
type Scheduler struct {
	mu      sync.Mutex
	pending *btree.BTreeG[delivery]
	seq     uint64
	tick    time.Duration
	now     func() time.Time
}

// New creates a scheduler. A zero tick or nil clock falls back to defaults.
func New(tick time.Duration, clock func() time.Time) *Scheduler {
	if tick <= 0 {
		tick = defaultTick
	}
	if clock == nil {
		clock = time.Now
	}
	return &Scheduler{
		pending: btree.NewG[delivery](degree, dueLess),
		tick:    tick,
		now:     clock,
	}
}

// ScheduleSendOnce delivers msg to receiver on the first tick at or after now+delay.
func (s *Scheduler) ScheduleSendOnce(delay time.Duration, receiver bus.Endpoint, msg any, sender bus.Endpoint) {
	if receiver == nil {
		logs.Errorf("schedule %T dropped, no receiver", msg)
		return
	}
	if delay < 0 {
		delay = 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	s.pending.ReplaceOrInsert(delivery{
		due:      s.now().Add(delay),
		seq:      s.seq,
		receiver: receiver,
		sender:   sender,
		msg:      msg,
	})
}

// Len returns the number of pending deliveries.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending.Len()
}

// Next returns the due time of the earliest pending delivery.
func (s *Scheduler) Next() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.pending.Min()
	return d.due, ok
}

// Fire delivers every message due at or before now and returns how many were sent.
func (s *Scheduler) Fire(now time.Time) int {
	s.mu.Lock()
	var due []delivery
	for {
		d, ok := s.pending.Min()
		if !ok || d.due.After(now) {
			break
		}
		s.pending.DeleteMin()
		due = append(due, d)
	}
	s.mu.Unlock()

	// receivers may schedule again, so send outside the lock
	for _, d := range due {
		d.receiver.Send(d.msg)
	}
	return len(due)
}

// Run fires due deliveries every tick until ctx is done.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if n := s.Len(); n > 0 {
				logs.Infof("scheduler stopped with %d pending deliveries", n)
			}
			return
		case <-ticker.C:
			s.Fire(s.now())
		}
	}
}
