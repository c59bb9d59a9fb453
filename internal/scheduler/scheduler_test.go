package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"executor/internal/bus"
)

type inbox struct {
	mu   sync.Mutex
	msgs []any
}

func (i *inbox) Send(msg any) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.msgs = append(i.msgs, msg)
}

func (i *inbox) received() []any {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]any(nil), i.msgs...)
}

func TestFireOrder(t *testing.T) {
	epoch := time.Date(2024, time.March, 1, 9, 0, 0, 0, time.UTC)
	now := epoch
	s := New(time.Millisecond, func() time.Time { return now })
	box := &inbox{}

	s.ScheduleSendOnce(2*time.Second, box, "c", nil)
	s.ScheduleSendOnce(time.Second, box, "a", nil)
	s.ScheduleSendOnce(time.Second, box, "b", nil)
	s.ScheduleSendOnce(-time.Second, box, "now", nil)
	require.Equal(t, 4, s.Len())

	next, ok := s.Next()
	require.True(t, ok)
	assert.Equal(t, epoch, next)

	testCases := []struct {
		desc  string
		at    time.Duration
		fired int
		total []any
	}{
		{desc: "immediate", at: 0, fired: 1, total: []any{"now"}},
		{desc: "before first", at: 999 * time.Millisecond, fired: 0, total: []any{"now"}},
		{desc: "same due keeps schedule order", at: time.Second, fired: 2, total: []any{"now", "a", "b"}},
		{desc: "last", at: time.Hour, fired: 1, total: []any{"now", "a", "b", "c"}},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			assert.Equal(t, tc.fired, s.Fire(epoch.Add(tc.at)))
			assert.Equal(t, tc.total, box.received())
		})
	}
	assert.Zero(t, s.Len())
}

func TestNilReceiverDropped(t *testing.T) {
	s := New(0, nil)
	s.ScheduleSendOnce(time.Second, nil, "lost", nil)
	assert.Zero(t, s.Len())
}

func TestRescheduleFromReceiver(t *testing.T) {
	epoch := time.Date(2024, time.March, 1, 9, 0, 0, 0, time.UTC)
	s := New(time.Millisecond, func() time.Time { return epoch })
	box := &inbox{}
	again := bus.EndpointFunc(func(msg any) {
		box.Send(msg)
		s.ScheduleSendOnce(time.Minute, box, "again", nil)
	})

	s.ScheduleSendOnce(0, again, "first", nil)
	assert.Equal(t, 1, s.Fire(epoch))
	assert.Equal(t, 1, s.Len())
}

func TestRun(t *testing.T) {
	s := New(time.Millisecond, nil)
	box := &inbox{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Run(ctx)
	}()

	s.ScheduleSendOnce(5*time.Millisecond, box, "tick", nil)
	assert.Eventually(t, func() bool { return len(box.received()) == 1 }, time.Second, time.Millisecond)

	cancel()
	<-done
}
