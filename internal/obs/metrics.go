package obs

import (
	"sync/atomic"
	"time"

	"executor/internal/schema"
)

// Failure classifies a message the engine could not process.
type Failure uint8

const (
	_failure_beg Failure = iota
	FailureNotFound
	FailureInvalidTransition
	FailureDuplicate
	FailurePersistence
	FailureGateway
	_failure_end
)

var failureNames = [...]string{"", "NOT_FOUND", "INVALID_TRANSITION", "DUPLICATE", "PERSISTENCE", "GATEWAY"}

func (f Failure) String() string {
	if f <= _failure_beg || f >= _failure_end {
		return "UNKNOWN"
	}
	return failureNames[f]
}

// Metrics collects lightweight counters and latency stats.
type Metrics struct {
	commandCount uint64
	eventCount   uint64
	eventCounts  [schema.MaxEventType + 1]uint64
	failures     [_failure_end]uint64
	publishDrops uint64

	processLatency LatencyStats
}

// LatencyStats aggregates duration samples in nanoseconds.
type LatencyStats struct {
	count uint64
	sum   uint64
	min   uint64
	max   uint64
}

// LatencySnapshot is a point-in-time view of latency stats.
type LatencySnapshot struct {
	Count uint64
	Min   time.Duration
	Max   time.Duration
	Avg   time.Duration
}

// Snapshot captures the current metrics values.
type Snapshot struct {
	CommandCount   uint64
	EventCount     uint64
	EventCounts    map[schema.EventType]uint64
	Failures       map[Failure]uint64
	PublishDrops   uint64
	ProcessLatency LatencySnapshot
}

// NewMetrics allocates a metrics container.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// IncCommand counts a processed command.
func (m *Metrics) IncCommand() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.commandCount, 1)
}

// ObserveEvent counts a processed event by type.
func (m *Metrics) ObserveEvent(t schema.EventType) {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.eventCount, 1)
	idx := int(t)
	if idx >= 0 && idx < len(m.eventCounts) {
		atomic.AddUint64(&m.eventCounts[idx], 1)
	}
}

// IncFailure counts a failed message.
func (m *Metrics) IncFailure(f Failure) {
	if m == nil {
		return
	}
	if f > _failure_beg && f < _failure_end {
		atomic.AddUint64(&m.failures[f], 1)
	}
}

// IncPublishDrop records an event the publisher could not deliver.
func (m *Metrics) IncPublishDrop() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.publishDrops, 1)
}

// ObserveProcess measures the time spent handling one message.
func (m *Metrics) ObserveProcess(d time.Duration) {
	if m == nil {
		return
	}
	m.processLatency.Observe(d)
}

func (m *Metrics) CommandCount() uint64 {
	if m == nil {
		return 0
	}
	return atomic.LoadUint64(&m.commandCount)
}

func (m *Metrics) EventCount() uint64 {
	if m == nil {
		return 0
	}
	return atomic.LoadUint64(&m.eventCount)
}

// Snapshot returns a copy of the current metrics values.
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	eventCounts := make(map[schema.EventType]uint64)
	for i := range m.eventCounts {
		if v := atomic.LoadUint64(&m.eventCounts[i]); v > 0 {
			eventCounts[schema.EventType(i)] = v
		}
	}
	failures := make(map[Failure]uint64)
	for i := range m.failures {
		if v := atomic.LoadUint64(&m.failures[i]); v > 0 {
			failures[Failure(i)] = v
		}
	}
	return Snapshot{
		CommandCount:   atomic.LoadUint64(&m.commandCount),
		EventCount:     atomic.LoadUint64(&m.eventCount),
		EventCounts:    eventCounts,
		Failures:       failures,
		PublishDrops:   atomic.LoadUint64(&m.publishDrops),
		ProcessLatency: m.processLatency.Snapshot(),
	}
}

// Observe records a duration sample.
func (l *LatencyStats) Observe(d time.Duration) {
	if d < 0 {
		return
	}
	nanos := uint64(d)
	atomic.AddUint64(&l.count, 1)
	atomic.AddUint64(&l.sum, nanos)

	for {
		low := atomic.LoadUint64(&l.min)
		if low != 0 && nanos >= low {
			break
		}
		if atomic.CompareAndSwapUint64(&l.min, low, nanos) {
			break
		}
	}

	for {
		high := atomic.LoadUint64(&l.max)
		if nanos <= high {
			break
		}
		if atomic.CompareAndSwapUint64(&l.max, high, nanos) {
			break
		}
	}
}

// Snapshot returns the aggregated latency stats.
func (l *LatencyStats) Snapshot() LatencySnapshot {
	count := atomic.LoadUint64(&l.count)
	if count == 0 {
		return LatencySnapshot{}
	}
	sum := atomic.LoadUint64(&l.sum)
	return LatencySnapshot{
		Count: count,
		Min:   time.Duration(atomic.LoadUint64(&l.min)),
		Max:   time.Duration(atomic.LoadUint64(&l.max)),
		Avg:   time.Duration(sum / count),
	}
}
