package order

import (
	"fmt"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"executor/internal/schema"
	"executor/pkg/exception"
)

// Order is the aggregate of one order. It is created from an OrderInitialized
// event and mutated only through Apply.
type Order struct {
	id          schema.OrderID
	symbol      schema.Symbol
	label       schema.Label
	side        schema.OrderSide
	orderType   schema.OrderType
	quantity    decimal.Decimal
	timeInForce schema.TimeInForce
	expireTime  *time.Time
	timestamp   time.Time

	fsm            *StateMachine
	orderIDs       []schema.OrderID
	brokerOrderIDs []schema.BrokerOrderID
	executionIDs   []schema.ExecutionID
	events         []schema.OrderEvent

	accountID      schema.AccountID
	filledQuantity decimal.Decimal
	price          decimal.NullDecimal
	averagePrice   decimal.NullDecimal
	slippage       decimal.Decimal
	isWorking      bool
	isCompleted    bool
}

// New builds an order from its initializing event.
func New(initial schema.OrderInitialized) (*Order, error) {
	if _, err := schema.NewOrderID(string(initial.OrderID)); err != nil {
		return nil, err
	}
	if !initial.Side.IsAvailable() {
		return nil, fmt.Errorf("%w: order side %d", exception.ErrInvalidArgument, initial.Side)
	}
	if !initial.OrderType.IsAvailable() {
		return nil, fmt.Errorf("%w: order type %d", exception.ErrInvalidArgument, initial.OrderType)
	}
	if !initial.TimeInForce.IsAvailable() {
		return nil, fmt.Errorf("%w: time in force %d", exception.ErrInvalidArgument, initial.TimeInForce)
	}
	if !initial.Quantity.IsPositive() {
		return nil, fmt.Errorf("%w: quantity %s must be positive", exception.ErrInvalidArgument, initial.Quantity)
	}
	if err := validateExpireTime(initial.TimeInForce, initial.ExpireTime, initial.Timestamp); err != nil {
		return nil, err
	}

	o := &Order{
		id:             initial.OrderID,
		symbol:         initial.Symbol,
		label:          initial.Label,
		side:           initial.Side,
		orderType:      initial.OrderType,
		quantity:       initial.Quantity,
		timeInForce:    initial.TimeInForce,
		expireTime:     copyTime(initial.ExpireTime),
		timestamp:      initial.Timestamp,
		fsm:            NewStateMachine(),
		orderIDs:       []schema.OrderID{initial.OrderID},
		events:         []schema.OrderEvent{initial},
		filledQuantity: decimal.Zero,
		price:          initial.Price,
		slippage:       decimal.Zero,
	}
	return o, nil
}

func validateExpireTime(tif schema.TimeInForce, expire *time.Time, ts time.Time) error {
	if tif == schema.TimeInForceGTD {
		if expire == nil {
			return fmt.Errorf("%w: GTD order requires an expire time", exception.ErrInvalidExpireTime)
		}
		if expire.Before(ts) {
			return fmt.Errorf("%w: expire time %s is before %s", exception.ErrInvalidExpireTime, expire.Format(time.RFC3339Nano), ts.Format(time.RFC3339Nano))
		}
		return nil
	}
	if expire != nil {
		return fmt.Errorf("%w: %s order must not have an expire time", exception.ErrInvalidExpireTime, tif)
	}
	return nil
}

// Apply applies an order event. On error the order is left unmodified.
func (o *Order) Apply(event schema.OrderEvent) error {
	if event == nil {
		return exception.ErrNilInstance
	}
	if event.OrderRef() != o.id {
		return fmt.Errorf("%w: %s for %s applied to %s", exception.ErrEventMismatch, event.Type(), event.OrderRef(), o.id)
	}
	next, err := Next(o.fsm.State(), event.Type())
	if err != nil {
		return fmt.Errorf("order %s: %w", o.id, err)
	}
	if fill, ok := event.(schema.FillEvent); ok {
		if err := o.validateFill(fill.Execution(), event.Type() == schema.EventOrderFilled); err != nil {
			return err
		}
	}

	switch e := event.(type) {
	case schema.OrderSubmitted:
		o.accountID = e.AccountID
	case schema.OrderAccepted, schema.OrderCancelReject:
		// status only
	case schema.OrderRejected, schema.OrderCancelled, schema.OrderExpired:
		o.setCompleted()
	case schema.OrderWorking:
		o.brokerOrderIDs = append(o.brokerOrderIDs, e.BrokerOrderID)
		o.setWorking()
	case schema.OrderModified:
		o.brokerOrderIDs = appendUnique(o.brokerOrderIDs, e.BrokerOrderID)
		o.price = decimal.NewNullDecimal(e.ModifiedPrice)
	case schema.OrderPartiallyFilled:
		o.applyFill(e.Fill)
	case schema.OrderFilled:
		o.applyFill(e.Fill)
		o.setCompleted()
	default:
		return fmt.Errorf("%w: unsupported event %T", exception.ErrInvalidStateTransition, event)
	}

	o.fsm.state = next
	o.events = append(o.events, event)
	return nil
}

// validateFill accepts a fill only once per execution id and only when it
// moves the cumulative filled quantity forward. A final fill must complete
// the order quantity; a partial one must leave some of it open.
func (o *Order) validateFill(fill schema.Fill, final bool) error {
	if slices.Contains(o.executionIDs, fill.ExecutionID) {
		return fmt.Errorf("%w: %s execution %s already applied", exception.ErrInvalidFill, o.id, fill.ExecutionID)
	}
	if !fill.FilledQuantity.GreaterThan(o.filledQuantity) {
		return fmt.Errorf("%w: %s filled quantity %s does not exceed %s", exception.ErrInvalidFill, o.id, fill.FilledQuantity, o.filledQuantity)
	}
	switch {
	case fill.FilledQuantity.GreaterThan(o.quantity):
		return fmt.Errorf("%w: %s filled quantity %s exceeds %s", exception.ErrInvalidFill, o.id, fill.FilledQuantity, o.quantity)
	case final && !fill.FilledQuantity.Equal(o.quantity):
		return fmt.Errorf("%w: %s filled with %s of %s", exception.ErrInvalidFill, o.id, fill.FilledQuantity, o.quantity)
	case !final && fill.FilledQuantity.Equal(o.quantity):
		return fmt.Errorf("%w: %s partial fill covers the whole quantity %s", exception.ErrInvalidFill, o.id, o.quantity)
	}
	return nil
}

func (o *Order) applyFill(fill schema.Fill) {
	o.executionIDs = append(o.executionIDs, fill.ExecutionID)
	o.filledQuantity = fill.FilledQuantity
	o.averagePrice = decimal.NewNullDecimal(fill.AveragePrice)
	o.slippage = o.calculateSlippage()
}

func (o *Order) calculateSlippage() decimal.Decimal {
	if !o.price.Valid || !o.averagePrice.Valid {
		return decimal.Zero
	}
	if o.side == schema.OrderSideBuy {
		return o.averagePrice.Decimal.Sub(o.price.Decimal)
	}
	return o.price.Decimal.Sub(o.averagePrice.Decimal)
}

func (o *Order) setWorking() {
	o.isWorking = true
	o.isCompleted = false
}

func (o *Order) setCompleted() {
	o.isWorking = false
	o.isCompleted = true
}

// AddModifiedOrderID records an order id superseding the current one.
func (o *Order) AddModifiedOrderID(id schema.OrderID) {
	o.orderIDs = appendUnique(o.orderIDs, id)
}

func (o *Order) ID() schema.OrderID { return o.id }

// LastOrderID returns the most recent superseding id.
func (o *Order) LastOrderID() schema.OrderID { return o.orderIDs[len(o.orderIDs)-1] }

// OrderIDs returns the superseding ids; the first is always ID().
func (o *Order) OrderIDs() []schema.OrderID { return slices.Clone(o.orderIDs) }

// BrokerOrderID returns the last broker assigned id.
func (o *Order) BrokerOrderID() (schema.BrokerOrderID, bool) { return last(o.brokerOrderIDs) }

func (o *Order) BrokerOrderIDs() []schema.BrokerOrderID { return slices.Clone(o.brokerOrderIDs) }

// ExecutionID returns the last execution id.
func (o *Order) ExecutionID() (schema.ExecutionID, bool) { return last(o.executionIDs) }

func (o *Order) ExecutionIDs() []schema.ExecutionID { return slices.Clone(o.executionIDs) }

func (o *Order) AccountID() schema.AccountID { return o.accountID }

func (o *Order) Symbol() schema.Symbol { return o.symbol }

func (o *Order) Label() schema.Label { return o.label }

func (o *Order) Side() schema.OrderSide { return o.side }

func (o *Order) Type() schema.OrderType { return o.orderType }

func (o *Order) Quantity() decimal.Decimal { return o.quantity }

func (o *Order) FilledQuantity() decimal.Decimal { return o.filledQuantity }

func (o *Order) Price() decimal.NullDecimal { return o.price }

func (o *Order) AveragePrice() decimal.NullDecimal { return o.averagePrice }

func (o *Order) Slippage() decimal.Decimal { return o.slippage }

func (o *Order) TimeInForce() schema.TimeInForce { return o.timeInForce }

// ExpireTime returns the expiry, present only for GTD orders.
func (o *Order) ExpireTime() (time.Time, bool) {
	if o.expireTime == nil {
		return time.Time{}, false
	}
	return *o.expireTime, true
}

// Timestamp is the creation time taken from the initializing event.
func (o *Order) Timestamp() time.Time { return o.timestamp }

// Status is derived from the state machine only.
func (o *Order) Status() schema.OrderStatus { return o.fsm.State() }

func (o *Order) IsBuy() bool { return o.side == schema.OrderSideBuy }

func (o *Order) IsSell() bool { return o.side == schema.OrderSideSell }

func (o *Order) IsWorking() bool { return o.isWorking }

func (o *Order) IsCompleted() bool { return o.isCompleted }

// InitialEvent returns the OrderInitialized event the order was built from.
func (o *Order) InitialEvent() schema.OrderInitialized {
	return o.events[0].(schema.OrderInitialized)
}

// LastEvent returns the most recently applied event.
func (o *Order) LastEvent() schema.OrderEvent { return o.events[len(o.events)-1] }

func (o *Order) Events() []schema.OrderEvent { return slices.Clone(o.events) }

func (o *Order) EventCount() int { return len(o.events) }

func (o *Order) String() string {
	return fmt.Sprintf("Order(%s, %s %s %s %s, %s)", o.id, o.side, o.quantity, o.symbol, o.orderType, o.Status())
}

func appendUnique[T comparable](list []T, v T) []T {
	if slices.Contains(list, v) {
		return list
	}
	return append(list, v)
}

func last[T any](list []T) (T, bool) {
	var zero T
	if len(list) == 0 {
		return zero, false
	}
	return list[len(list)-1], true
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
