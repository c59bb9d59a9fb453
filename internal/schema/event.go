package schema

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// OrderEvent is an event addressed to a single order.
type OrderEvent interface {
	Event
	OrderRef() OrderID
}

// FillEvent is an order event carrying an execution.
type FillEvent interface {
	OrderEvent
	Execution() Fill
}

// OrderEventBase carries the fields shared by all order events.
type OrderEventBase struct {
	EventHeader
	OrderID OrderID `json:"orderId"`
}

// OrderRef returns the order the event is addressed to.
func (b OrderEventBase) OrderRef() OrderID {
	return b.OrderID
}

// OrderInitialized seeds a new order aggregate.
type OrderInitialized struct {
	OrderEventBase
	Symbol      Symbol              `json:"symbol"`
	Label       Label               `json:"label"`
	Side        OrderSide           `json:"side"`
	OrderType   OrderType           `json:"orderType"`
	Quantity    decimal.Decimal     `json:"quantity"`
	Price       decimal.NullDecimal `json:"price"`
	TimeInForce TimeInForce         `json:"timeInForce"`
	ExpireTime  *time.Time          `json:"expireTime,omitempty"`
}

func (OrderInitialized) Type() EventType { return EventOrderInitialized }

// OrderSubmitted records that the order was handed to the gateway.
type OrderSubmitted struct {
	OrderEventBase
	AccountID     AccountID `json:"accountId"`
	SubmittedTime time.Time `json:"submittedTime"`
}

func (OrderSubmitted) Type() EventType { return EventOrderSubmitted }

// OrderAccepted records broker acceptance.
type OrderAccepted struct {
	OrderEventBase
	AccountID    AccountID `json:"accountId"`
	Label        Label     `json:"label"`
	AcceptedTime time.Time `json:"acceptedTime"`
}

func (OrderAccepted) Type() EventType { return EventOrderAccepted }

// OrderRejected records broker rejection.
type OrderRejected struct {
	OrderEventBase
	AccountID      AccountID `json:"accountId"`
	RejectedTime   time.Time `json:"rejectedTime"`
	RejectedReason string    `json:"rejectedReason"`
}

func (OrderRejected) Type() EventType { return EventOrderRejected }

// OrderWorking records the order going live at the venue.
type OrderWorking struct {
	OrderEventBase
	AccountID     AccountID           `json:"accountId"`
	BrokerOrderID BrokerOrderID       `json:"brokerOrderId"`
	Symbol        Symbol              `json:"symbol"`
	Label         Label               `json:"label"`
	Side          OrderSide           `json:"side"`
	OrderType     OrderType           `json:"orderType"`
	Quantity      decimal.Decimal     `json:"quantity"`
	Price         decimal.NullDecimal `json:"price"`
	TimeInForce   TimeInForce         `json:"timeInForce"`
	ExpireTime    *time.Time          `json:"expireTime,omitempty"`
	WorkingTime   time.Time           `json:"workingTime"`
}

func (OrderWorking) Type() EventType { return EventOrderWorking }

// OrderModified records a price modification acknowledged by the broker.
type OrderModified struct {
	OrderEventBase
	AccountID     AccountID       `json:"accountId"`
	BrokerOrderID BrokerOrderID   `json:"brokerOrderId"`
	ModifiedPrice decimal.Decimal `json:"modifiedPrice"`
	ModifiedTime  time.Time       `json:"modifiedTime"`
}

func (OrderModified) Type() EventType { return EventOrderModified }

// OrderCancelReject records a refused cancel or modify request.
type OrderCancelReject struct {
	OrderEventBase
	AccountID          AccountID `json:"accountId"`
	RejectedTime       time.Time `json:"rejectedTime"`
	RejectedResponseTo string    `json:"rejectedResponseTo"`
	RejectedReason     string    `json:"rejectedReason"`
}

func (OrderCancelReject) Type() EventType { return EventOrderCancelReject }

// OrderCancelled records a cancellation.
type OrderCancelled struct {
	OrderEventBase
	AccountID     AccountID `json:"accountId"`
	CancelledTime time.Time `json:"cancelledTime"`
}

func (OrderCancelled) Type() EventType { return EventOrderCancelled }

// OrderExpired records a venue side expiry.
type OrderExpired struct {
	OrderEventBase
	AccountID   AccountID `json:"accountId"`
	ExpiredTime time.Time `json:"expiredTime"`
}

func (OrderExpired) Type() EventType { return EventOrderExpired }

// Fill is the execution detail shared by fill events. FilledQuantity and
// AveragePrice are cumulative for the order.
type Fill struct {
	AccountID        AccountID       `json:"accountId"`
	ExecutionID      ExecutionID     `json:"executionId"`
	PositionIDBroker string          `json:"positionIdBroker"`
	Symbol           Symbol          `json:"symbol"`
	Side             OrderSide       `json:"side"`
	FilledQuantity   decimal.Decimal `json:"filledQuantity"`
	AveragePrice     decimal.Decimal `json:"averagePrice"`
	Currency         Currency        `json:"currency"`
	ExecutionTime    time.Time       `json:"executionTime"`
}

// Execution returns the fill detail.
func (f Fill) Execution() Fill {
	return f
}

// OrderPartiallyFilled records an execution leaving quantity open.
type OrderPartiallyFilled struct {
	OrderEventBase
	Fill
	LeavesQuantity decimal.Decimal `json:"leavesQuantity"`
}

func (OrderPartiallyFilled) Type() EventType { return EventOrderPartiallyFilled }

// OrderFilled records the execution completing the order.
type OrderFilled struct {
	OrderEventBase
	Fill
}

func (OrderFilled) Type() EventType { return EventOrderFilled }

// AccountStateEvent is a full snapshot of account balances from the broker.
type AccountStateEvent struct {
	EventHeader
	AccountID             AccountID       `json:"accountId"`
	Currency              Currency        `json:"currency"`
	CashBalance           decimal.Decimal `json:"cashBalance"`
	CashStartDay          decimal.Decimal `json:"cashStartDay"`
	CashActivityDay       decimal.Decimal `json:"cashActivityDay"`
	MarginUsedLiquidation decimal.Decimal `json:"marginUsedLiquidation"`
	MarginUsedMaintenance decimal.Decimal `json:"marginUsedMaintenance"`
	MarginRatio           decimal.Decimal `json:"marginRatio"`
	MarginCallStatus      string          `json:"marginCallStatus"`
}

func (AccountStateEvent) Type() EventType { return EventAccountState }

// TradeEvent wraps an order event with the trader it belongs to.
type TradeEvent struct {
	TraderID TraderID
	Event    OrderEvent
}

// Header returns the header of the wrapped event.
func (e TradeEvent) Header() EventHeader {
	if e.Event == nil {
		return EventHeader{}
	}
	return e.Event.Header()
}

func (TradeEvent) Type() EventType { return EventTrade }

func (e TradeEvent) String() string {
	if e.Event == nil {
		return fmt.Sprintf("TradeEvent(TraderID=%s)", e.TraderID)
	}
	return fmt.Sprintf("TradeEvent(TraderID=%s, %s(OrderID=%s))", e.TraderID, e.Event.Type(), e.Event.OrderRef())
}
