package order

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"executor/internal/schema"
	"executor/pkg/exception"
)

// Spec carries the fields a strategy chooses when creating an order.
type Spec struct {
	ID          schema.OrderID
	Symbol      schema.Symbol
	Label       schema.Label
	Side        schema.OrderSide
	Quantity    decimal.Decimal
	Price       decimal.NullDecimal
	TimeInForce schema.TimeInForce
	ExpireTime  *time.Time
	Timestamp   time.Time
	// InitID is the id of the OrderInitialized event; a random one is used when zero.
	InitID uuid.UUID
}

// NewMarket creates a DAY market order. Any price or expiry on spec is ignored.
func NewMarket(spec Spec) (*Order, error) {
	spec.Price = schema.NoPrice
	spec.TimeInForce = schema.TimeInForceDAY
	spec.ExpireTime = nil
	return newOrder(schema.OrderTypeMarket, spec)
}

// NewLimit creates a limit order.
func NewLimit(spec Spec) (*Order, error) {
	return newPricedOrder(schema.OrderTypeLimit, spec)
}

// NewStopMarket creates a stop market order triggered at spec.Price.
func NewStopMarket(spec Spec) (*Order, error) {
	return newPricedOrder(schema.OrderTypeStopMarket, spec)
}

// NewStopLimit creates a stop limit order.
func NewStopLimit(spec Spec) (*Order, error) {
	return newPricedOrder(schema.OrderTypeStopLimit, spec)
}

// NewMarketIfTouched creates a market-if-touched order.
func NewMarketIfTouched(spec Spec) (*Order, error) {
	return newPricedOrder(schema.OrderTypeMarketIfTouched, spec)
}

func newPricedOrder(orderType schema.OrderType, spec Spec) (*Order, error) {
	if !spec.Price.Valid || !spec.Price.Decimal.IsPositive() {
		return nil, fmt.Errorf("%w: %s order requires a positive price", exception.ErrInvalidArgument, orderType)
	}
	return newOrder(orderType, spec)
}

func newOrder(orderType schema.OrderType, spec Spec) (*Order, error) {
	return New(Initialized(orderType, spec))
}

// Initialized builds the OrderInitialized event for spec without validating it.
func Initialized(orderType schema.OrderType, spec Spec) schema.OrderInitialized {
	header := schema.EventHeader{ID: spec.InitID, Timestamp: spec.Timestamp}
	if header.ID == uuid.Nil {
		header.ID = uuid.New()
	}
	return schema.OrderInitialized{
		OrderEventBase: schema.OrderEventBase{EventHeader: header, OrderID: spec.ID},
		Symbol:         spec.Symbol,
		Label:          spec.Label,
		Side:           spec.Side,
		OrderType:      orderType,
		Quantity:       spec.Quantity,
		Price:          spec.Price,
		TimeInForce:    spec.TimeInForce,
		ExpireTime:     copyTime(spec.ExpireTime),
	}
}
