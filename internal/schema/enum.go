package schema

import (
	"fmt"
)

// OrderSide buy, sell
type OrderSide uint8

const (
	_order_side_beg OrderSide = iota
	OrderSideBuy
	OrderSideSell
	_order_side_end
)

var orderSideNames = [...]string{"", "BUY", "SELL"}

func (s OrderSide) IsAvailable() bool {
	return s > _order_side_beg && s < _order_side_end
}

func (s OrderSide) String() string {
	if !s.IsAvailable() {
		return "UNKNOWN"
	}
	return orderSideNames[s]
}

func (s OrderSide) MarshalText() ([]byte, error) {
	return marshalEnum(s.IsAvailable(), s.String())
}

func (s *OrderSide) UnmarshalText(b []byte) error {
	return unmarshalEnum(b, orderSideNames[:], (*uint8)(s))
}

// OrderType market, limit, stop market, stop limit, market if touched
type OrderType uint8

const (
	_order_type_beg OrderType = iota
	OrderTypeMarket
	OrderTypeLimit
	OrderTypeStopMarket
	OrderTypeStopLimit
	OrderTypeMarketIfTouched
	_order_type_end
)

var orderTypeNames = [...]string{"", "MARKET", "LIMIT", "STOP_MARKET", "STOP_LIMIT", "MIT"}

func (t OrderType) IsAvailable() bool {
	return t > _order_type_beg && t < _order_type_end
}

func (t OrderType) String() string {
	if !t.IsAvailable() {
		return "UNKNOWN"
	}
	return orderTypeNames[t]
}

func (t OrderType) MarshalText() ([]byte, error) {
	return marshalEnum(t.IsAvailable(), t.String())
}

func (t *OrderType) UnmarshalText(b []byte) error {
	return unmarshalEnum(b, orderTypeNames[:], (*uint8)(t))
}

// TimeInForce DAY, GTC, IOC, FOK, GTD
type TimeInForce uint8

const (
	_time_in_force_beg TimeInForce = iota
	TimeInForceDAY
	TimeInForceGTC
	TimeInForceIOC
	TimeInForceFOK
	TimeInForceGTD
	_time_in_force_end
)

var timeInForceNames = [...]string{"", "DAY", "GTC", "IOC", "FOK", "GTD"}

func (t TimeInForce) IsAvailable() bool {
	return t > _time_in_force_beg && t < _time_in_force_end
}

func (t TimeInForce) String() string {
	if !t.IsAvailable() {
		return "UNKNOWN"
	}
	return timeInForceNames[t]
}

func (t TimeInForce) MarshalText() ([]byte, error) {
	return marshalEnum(t.IsAvailable(), t.String())
}

func (t *TimeInForce) UnmarshalText(b []byte) error {
	return unmarshalEnum(b, timeInForceNames[:], (*uint8)(t))
}

// OrderStatus is the state of the order state machine.
type OrderStatus uint8

const (
	_order_status_beg OrderStatus = iota
	OrderStatusInitialized
	OrderStatusSubmitted
	OrderStatusAccepted
	OrderStatusWorking
	OrderStatusPartiallyFilled
	OrderStatusFilled
	OrderStatusCancelled
	OrderStatusRejected
	OrderStatusExpired
	_order_status_end
)

var orderStatusNames = [...]string{
	"",
	"INITIALIZED",
	"SUBMITTED",
	"ACCEPTED",
	"WORKING",
	"PARTIALLY_FILLED",
	"FILLED",
	"CANCELLED",
	"REJECTED",
	"EXPIRED",
}

// OrderStatuses lists every valid status in declaration order.
func OrderStatuses() []OrderStatus {
	out := make([]OrderStatus, 0, int(_order_status_end)-1)
	for s := _order_status_beg + 1; s < _order_status_end; s++ {
		out = append(out, s)
	}
	return out
}

func (s OrderStatus) IsAvailable() bool {
	return s > _order_status_beg && s < _order_status_end
}

// IsTerminal reports whether no further transition can leave the status.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCancelled, OrderStatusRejected, OrderStatusExpired:
		return true
	default:
		return false
	}
}

func (s OrderStatus) String() string {
	if !s.IsAvailable() {
		return "UNKNOWN"
	}
	return orderStatusNames[s]
}

func (s OrderStatus) MarshalText() ([]byte, error) {
	return marshalEnum(s.IsAvailable(), s.String())
}

func (s *OrderStatus) UnmarshalText(b []byte) error {
	return unmarshalEnum(b, orderStatusNames[:], (*uint8)(s))
}

// MarketPosition long, short, flat
type MarketPosition uint8

const (
	_market_position_beg MarketPosition = iota
	MarketPositionFlat
	MarketPositionLong
	MarketPositionShort
	_market_position_end
)

var marketPositionNames = [...]string{"", "FLAT", "LONG", "SHORT"}

func (p MarketPosition) IsAvailable() bool {
	return p > _market_position_beg && p < _market_position_end
}

func (p MarketPosition) String() string {
	if !p.IsAvailable() {
		return "UNKNOWN"
	}
	return marketPositionNames[p]
}

func (p MarketPosition) MarshalText() ([]byte, error) {
	return marshalEnum(p.IsAvailable(), p.String())
}

func (p *MarketPosition) UnmarshalText(b []byte) error {
	return unmarshalEnum(b, marketPositionNames[:], (*uint8)(p))
}

func marshalEnum(ok bool, name string) ([]byte, error) {
	if !ok {
		return nil, fmt.Errorf("marshal enum: unavailable value %s", name)
	}
	return []byte(name), nil
}

func unmarshalEnum(b []byte, names []string, dst *uint8) error {
	text := string(b)
	for i, name := range names {
		if i == 0 {
			continue
		}
		if name == text {
			*dst = uint8(i)
			return nil
		}
	}
	return fmt.Errorf("unmarshal enum: unknown value %q", text)
}
