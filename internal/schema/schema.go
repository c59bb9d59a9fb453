package schema

import (
	"time"

	"github.com/google/uuid"
)

// SchemaVersion is the current event schema version.
const SchemaVersion uint16 = 1

// EventType defines the concrete kind of a domain event.
type EventType uint16

const (
	EventUnknown EventType = iota
	EventOrderInitialized
	EventOrderSubmitted
	EventOrderAccepted
	EventOrderRejected
	EventOrderWorking
	EventOrderModified
	EventOrderCancelReject
	EventOrderCancelled
	EventOrderExpired
	EventOrderPartiallyFilled
	EventOrderFilled
	EventAccountState
	EventTrade
	eventTypeEnd
)

var eventTypeNames = [...]string{
	"Unknown",
	"OrderInitialized",
	"OrderSubmitted",
	"OrderAccepted",
	"OrderRejected",
	"OrderWorking",
	"OrderModified",
	"OrderCancelReject",
	"OrderCancelled",
	"OrderExpired",
	"OrderPartiallyFilled",
	"OrderFilled",
	"AccountStateEvent",
	"TradeEvent",
}

// MaxEventType is the highest defined event type, for sizing counters.
const MaxEventType = int(eventTypeEnd) - 1

func (t EventType) String() string {
	if int(t) >= len(eventTypeNames) {
		return eventTypeNames[EventUnknown]
	}
	return eventTypeNames[t]
}

// ParseEventType resolves a name produced by EventType.String.
func ParseEventType(name string) (EventType, bool) {
	for i, n := range eventTypeNames {
		if i > 0 && n == name {
			return EventType(i), true
		}
	}
	return EventUnknown, false
}

// IsOrderEvent reports whether events of this type target an order.
func (t EventType) IsOrderEvent() bool {
	return t >= EventOrderInitialized && t <= EventOrderFilled
}

// EventHeader is the common metadata attached to every event.
type EventHeader struct {
	ID        uuid.UUID `json:"eventId"`
	Timestamp time.Time `json:"eventTimestamp"`
}

// NewHeader builds a header with a fresh random id.
func NewHeader(ts time.Time) EventHeader {
	return EventHeader{ID: uuid.New(), Timestamp: ts}
}

// Header returns the event metadata.
func (h EventHeader) Header() EventHeader {
	return h
}

// Event is implemented by every domain event.
type Event interface {
	Header() EventHeader
	Type() EventType
}
