package engine

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"executor/internal/bus"
	"executor/internal/order"
	"executor/internal/schema"
)

// ReasonGTDExpiryBackup is the cancel reason of the scheduled good-till-date safeguard.
const ReasonGTDExpiryBackup = "GTD_EXPIRY_BACKUP"

// Gateway is the trading venue. Calls are one-way; responses come back as events.
type Gateway interface {
	SubmitOrder(o *order.Order)
	SubmitAtomicOrder(a *order.AtomicOrder)
	CancelOrder(o *order.Order)
	ModifyOrder(o *order.Order, price decimal.Decimal)
	AccountInquiry()
	SubscribeToPositionEvents()
}

// Publisher receives every event the engine has processed.
type Publisher interface {
	Send(event schema.Event)
}

// Scheduler delivers msg to receiver once, no earlier than delay from now.
type Scheduler interface {
	ScheduleSendOnce(delay time.Duration, receiver bus.Endpoint, msg any, sender bus.Endpoint)
}

// Command is a request handled by the engine.
type Command interface {
	CommandHeader() Header
}

// Header identifies a command.
type Header struct {
	ID        uuid.UUID
	Timestamp time.Time
}

// NewHeader builds a header with a fresh random id.
func NewHeader(ts time.Time) Header {
	return Header{ID: uuid.New(), Timestamp: ts}
}

func (h Header) CommandHeader() Header {
	return h
}

type SubmitOrder struct {
	Header
	Order      *order.Order
	TraderID   schema.TraderID
	AccountID  schema.AccountID
	StrategyID schema.StrategyID
	PositionID schema.PositionID
}

type SubmitAtomicOrder struct {
	Header
	AtomicOrder *order.AtomicOrder
	TraderID    schema.TraderID
	AccountID   schema.AccountID
	StrategyID  schema.StrategyID
	PositionID  schema.PositionID
}

type CancelOrder struct {
	Header
	OrderID schema.OrderID
	Reason  string
}

type ModifyOrder struct {
	Header
	OrderID       schema.OrderID
	ModifiedPrice decimal.Decimal
}

type AccountInquiry struct {
	Header
}
