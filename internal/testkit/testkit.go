// Package testkit builds orders and broker events for tests.
package testkit

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"executor/internal/order"
	"executor/internal/schema"
)

const (
	Trader   schema.TraderID   = "TESTER-000"
	Account  schema.AccountID  = "FXCM-02851908-SIMULATED"
	Strategy schema.StrategyID = "SCALPER-01"
	Symbol   schema.Symbol     = "AUDUSD.FXCM"
	Currency schema.Currency   = "USD"
)

// Epoch is the fixed instant all stub timestamps derive from.
var Epoch = time.Date(2024, time.March, 1, 9, 0, 0, 0, time.UTC)

// Dec parses a decimal literal.
func Dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func base(o *order.Order) schema.OrderEventBase {
	return schema.OrderEventBase{EventHeader: schema.NewHeader(Epoch), OrderID: o.ID()}
}

// Market creates a DAY market order.
func Market(id schema.OrderID, side schema.OrderSide, qty string) *order.Order {
	o, err := order.NewMarket(order.Spec{
		ID:        id,
		Symbol:    Symbol,
		Label:     "U1_E",
		Side:      side,
		Quantity:  Dec(qty),
		Timestamp: Epoch,
	})
	must(err)
	return o
}

// Limit creates a DAY limit order.
func Limit(id schema.OrderID, side schema.OrderSide, qty, price string) *order.Order {
	o, err := order.NewLimit(order.Spec{
		ID:          id,
		Symbol:      Symbol,
		Label:       "U1_E",
		Side:        side,
		Quantity:    Dec(qty),
		Price:       schema.OptionalPrice(price),
		TimeInForce: schema.TimeInForceDAY,
		Timestamp:   Epoch,
	})
	must(err)
	return o
}

// StopMarket creates a GTC stop market order, used as a stop-loss leg.
func StopMarket(id schema.OrderID, side schema.OrderSide, qty, price string) *order.Order {
	o, err := order.NewStopMarket(order.Spec{
		ID:          id,
		Symbol:      Symbol,
		Label:       "U1_SL",
		Side:        side,
		Quantity:    Dec(qty),
		Price:       schema.OptionalPrice(price),
		TimeInForce: schema.TimeInForceGTC,
		Timestamp:   Epoch,
	})
	must(err)
	return o
}

// GTDLimit creates a limit order expiring at expire.
func GTDLimit(id schema.OrderID, side schema.OrderSide, qty, price string, expire time.Time) *order.Order {
	o, err := order.NewLimit(order.Spec{
		ID:          id,
		Symbol:      Symbol,
		Label:       "U1_E",
		Side:        side,
		Quantity:    Dec(qty),
		Price:       schema.OptionalPrice(price),
		TimeInForce: schema.TimeInForceGTD,
		ExpireTime:  &expire,
		Timestamp:   Epoch,
	})
	must(err)
	return o
}

func Submitted(o *order.Order) schema.OrderSubmitted {
	return schema.OrderSubmitted{OrderEventBase: base(o), AccountID: Account, SubmittedTime: Epoch}
}

func Accepted(o *order.Order) schema.OrderAccepted {
	return schema.OrderAccepted{OrderEventBase: base(o), AccountID: Account, Label: o.Label(), AcceptedTime: Epoch}
}

func Rejected(o *order.Order) schema.OrderRejected {
	return schema.OrderRejected{OrderEventBase: base(o), AccountID: Account, RejectedTime: Epoch, RejectedReason: "INVALID_ORDER"}
}

func Working(o *order.Order) schema.OrderWorking {
	expire, _ := o.ExpireTime()
	var expirePtr *time.Time
	if o.TimeInForce() == schema.TimeInForceGTD {
		expirePtr = &expire
	}
	return schema.OrderWorking{
		OrderEventBase: base(o),
		AccountID:      Account,
		BrokerOrderID:  schema.BrokerOrderID(fmt.Sprintf("B-%s", o.ID())),
		Symbol:         o.Symbol(),
		Label:          o.Label(),
		Side:           o.Side(),
		OrderType:      o.Type(),
		Quantity:       o.Quantity(),
		Price:          o.Price(),
		TimeInForce:    o.TimeInForce(),
		ExpireTime:     expirePtr,
		WorkingTime:    Epoch,
	}
}

func Modified(o *order.Order, price string) schema.OrderModified {
	return schema.OrderModified{
		OrderEventBase: base(o),
		AccountID:      Account,
		BrokerOrderID:  schema.BrokerOrderID(fmt.Sprintf("B-%s", o.ID())),
		ModifiedPrice:  Dec(price),
		ModifiedTime:   Epoch,
	}
}

func CancelReject(o *order.Order) schema.OrderCancelReject {
	return schema.OrderCancelReject{
		OrderEventBase:     base(o),
		AccountID:          Account,
		RejectedTime:       Epoch,
		RejectedResponseTo: "CANCEL_REQUEST",
		RejectedReason:     "ORDER_NOT_FOUND",
	}
}

func Cancelled(o *order.Order) schema.OrderCancelled {
	return schema.OrderCancelled{OrderEventBase: base(o), AccountID: Account, CancelledTime: Epoch}
}

func Expired(o *order.Order) schema.OrderExpired {
	return schema.OrderExpired{OrderEventBase: base(o), AccountID: Account, ExpiredTime: Epoch}
}

// Fill builds fill detail with cumulative filled quantity and average price.
func Fill(o *order.Order, execID schema.ExecutionID, filled, avg string) schema.Fill {
	return schema.Fill{
		AccountID:        Account,
		ExecutionID:      execID,
		PositionIDBroker: "ET-" + string(o.ID()),
		Symbol:           o.Symbol(),
		Side:             o.Side(),
		FilledQuantity:   Dec(filled),
		AveragePrice:     Dec(avg),
		Currency:         Currency,
		ExecutionTime:    Epoch,
	}
}

func PartiallyFilled(o *order.Order, execID schema.ExecutionID, filled, avg string) schema.OrderPartiallyFilled {
	f := Fill(o, execID, filled, avg)
	return schema.OrderPartiallyFilled{OrderEventBase: base(o), Fill: f, LeavesQuantity: o.Quantity().Sub(f.FilledQuantity)}
}

func Filled(o *order.Order, execID schema.ExecutionID, avg string) schema.OrderFilled {
	return schema.OrderFilled{OrderEventBase: base(o), Fill: Fill(o, execID, o.Quantity().String(), avg)}
}

// AccountState builds an account snapshot with the given cash balance.
func AccountState(cash string) schema.AccountStateEvent {
	return schema.AccountStateEvent{
		EventHeader:           schema.NewHeader(Epoch),
		AccountID:             Account,
		Currency:              Currency,
		CashBalance:           Dec(cash),
		CashStartDay:          Dec(cash),
		CashActivityDay:       decimal.Zero,
		MarginUsedLiquidation: decimal.Zero,
		MarginUsedMaintenance: decimal.Zero,
		MarginRatio:           decimal.Zero,
		MarginCallStatus:      "N",
	}
}

func must(err error) {
	if err != nil {
		panic(err)
	}
}
