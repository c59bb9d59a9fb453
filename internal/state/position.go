package state

import (
	"fmt"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"executor/internal/schema"
	"executor/pkg/exception"
)

// orderFill is the cumulative execution of one order seen by a position.
type orderFill struct {
	quantity decimal.Decimal
	average  decimal.Decimal
}

// Position accumulates the fills of every order sharing a position id.
// Fill events carry cumulative order quantities; only the increment since
// the previous fill of the same order changes the position.
type Position struct {
	id           schema.PositionID
	symbol       schema.Symbol
	fromOrderID  schema.OrderID
	entrySide    schema.OrderSide
	orderIDs     []schema.OrderID
	executionIDs []schema.ExecutionID
	fills        map[schema.OrderID]orderFill
	events       []schema.FillEvent

	netQuantity       decimal.Decimal
	peakQuantity      decimal.Decimal
	averageOpenPrice  decimal.Decimal
	averageClosePrice decimal.NullDecimal
	closedQuantity    decimal.Decimal
	realizedPnL       decimal.Decimal

	openedTime  time.Time
	closedTime  *time.Time
	lastUpdated time.Time
}

// NewPosition opens a position from its first fill.
func NewPosition(id schema.PositionID, fill schema.FillEvent) (*Position, error) {
	if _, err := schema.NewPositionID(string(id)); err != nil {
		return nil, err
	}
	if fill == nil {
		return nil, exception.ErrNilInstance
	}
	exec := fill.Execution()
	p := &Position{
		id:               id,
		symbol:           exec.Symbol,
		fromOrderID:      fill.OrderRef(),
		entrySide:        exec.Side,
		fills:            make(map[schema.OrderID]orderFill),
		netQuantity:      decimal.Zero,
		peakQuantity:     decimal.Zero,
		averageOpenPrice: decimal.Zero,
		closedQuantity:   decimal.Zero,
		realizedPnL:      decimal.Zero,
	}
	if err := p.Apply(fill); err != nil {
		return nil, err
	}
	return p, nil
}

// Apply adds the increment of a fill to the position. On error the
// position is left unmodified.
func (p *Position) Apply(fill schema.FillEvent) error {
	if fill == nil {
		return exception.ErrNilInstance
	}
	exec := fill.Execution()
	if exec.Symbol != p.symbol {
		return fmt.Errorf("%w: position %s on %s got fill for %s", exception.ErrEventMismatch, p.id, p.symbol, exec.Symbol)
	}
	if !exec.Side.IsAvailable() {
		return fmt.Errorf("%w: position %s fill side %d", exception.ErrInvalidFill, p.id, exec.Side)
	}

	prev := p.fills[fill.OrderRef()]
	if prev.quantity.IsZero() {
		prev = orderFill{quantity: decimal.Zero, average: decimal.Zero}
	}
	deltaQty := exec.FilledQuantity.Sub(prev.quantity)
	if !deltaQty.IsPositive() {
		return fmt.Errorf("%w: position %s fill %s of %s adds nothing", exception.ErrInvalidFill, p.id, exec.ExecutionID, fill.OrderRef())
	}
	notional := exec.AveragePrice.Mul(exec.FilledQuantity).Sub(prev.average.Mul(prev.quantity))
	price := notional.Div(deltaQty)

	signed := deltaQty
	if exec.Side == schema.OrderSideSell {
		signed = signed.Neg()
	}
	p.applyDelta(signed, price, exec.ExecutionTime)

	p.fills[fill.OrderRef()] = orderFill{quantity: exec.FilledQuantity, average: exec.AveragePrice}
	if !slices.Contains(p.orderIDs, fill.OrderRef()) {
		p.orderIDs = append(p.orderIDs, fill.OrderRef())
	}
	p.executionIDs = append(p.executionIDs, exec.ExecutionID)
	p.events = append(p.events, fill)
	p.lastUpdated = exec.ExecutionTime
	return nil
}

func (p *Position) applyDelta(signed, price decimal.Decimal, ts time.Time) {
	current := p.netQuantity
	next := current.Add(signed)

	switch {
	case current.IsZero() || current.Sign() == signed.Sign():
		// opening or adding
		size := current.Abs()
		p.averageOpenPrice = p.averageOpenPrice.Mul(size).Add(price.Mul(signed.Abs())).Div(size.Add(signed.Abs()))
		if current.IsZero() {
			p.closedTime = nil
			p.openedTime = ts
		}
	default:
		// reducing, possibly through zero
		closing := decimal.Min(current.Abs(), signed.Abs())
		p.realize(current, closing, price)
		if next.IsZero() {
			closed := ts
			p.closedTime = &closed
		} else if next.Sign() != current.Sign() {
			p.averageOpenPrice = price
			p.openedTime = ts
		}
	}

	p.netQuantity = next
	if next.Abs().GreaterThan(p.peakQuantity) {
		p.peakQuantity = next.Abs()
	}
}

func (p *Position) realize(current, closing, price decimal.Decimal) {
	points := price.Sub(p.averageOpenPrice)
	if current.IsNegative() {
		points = points.Neg()
	}
	p.realizedPnL = p.realizedPnL.Add(points.Mul(closing))

	prevClose := p.averageClosePrice.Decimal
	total := p.closedQuantity.Add(closing)
	p.averageClosePrice = decimal.NewNullDecimal(prevClose.Mul(p.closedQuantity).Add(price.Mul(closing)).Div(total))
	p.closedQuantity = total
}

func (p *Position) ID() schema.PositionID { return p.id }

func (p *Position) Symbol() schema.Symbol { return p.symbol }

// FromOrderID is the order whose fill opened the position.
func (p *Position) FromOrderID() schema.OrderID { return p.fromOrderID }

func (p *Position) EntrySide() schema.OrderSide { return p.entrySide }

func (p *Position) OrderIDs() []schema.OrderID { return slices.Clone(p.orderIDs) }

func (p *Position) ExecutionIDs() []schema.ExecutionID { return slices.Clone(p.executionIDs) }

// LastExecutionID returns the id of the most recent fill.
func (p *Position) LastExecutionID() schema.ExecutionID {
	return p.executionIDs[len(p.executionIDs)-1]
}

// NetQuantity is signed: positive long, negative short.
func (p *Position) NetQuantity() decimal.Decimal { return p.netQuantity }

// Quantity is the absolute size.
func (p *Position) Quantity() decimal.Decimal { return p.netQuantity.Abs() }

func (p *Position) PeakQuantity() decimal.Decimal { return p.peakQuantity }

func (p *Position) MarketPosition() schema.MarketPosition {
	switch p.netQuantity.Sign() {
	case 1:
		return schema.MarketPositionLong
	case -1:
		return schema.MarketPositionShort
	default:
		return schema.MarketPositionFlat
	}
}

// AverageOpenPrice is the volume weighted entry price of the current exposure.
func (p *Position) AverageOpenPrice() decimal.Decimal { return p.averageOpenPrice }

func (p *Position) AverageClosePrice() decimal.NullDecimal { return p.averageClosePrice }

// RealizedPoints is the directional price gain of the closed quantity per unit.
func (p *Position) RealizedPoints() decimal.Decimal {
	if p.closedQuantity.IsZero() {
		return decimal.Zero
	}
	return p.realizedPnL.Div(p.closedQuantity)
}

// RealizedPnL is the realized gain in quote currency.
func (p *Position) RealizedPnL() decimal.Decimal { return p.realizedPnL }

func (p *Position) IsOpen() bool { return !p.netQuantity.IsZero() }

func (p *Position) IsClosed() bool { return p.netQuantity.IsZero() }

func (p *Position) IsLong() bool { return p.netQuantity.IsPositive() }

func (p *Position) IsShort() bool { return p.netQuantity.IsNegative() }

func (p *Position) OpenedTime() time.Time { return p.openedTime }

// ClosedTime is set while the position is flat.
func (p *Position) ClosedTime() (time.Time, bool) {
	if p.closedTime == nil {
		return time.Time{}, false
	}
	return *p.closedTime, true
}

func (p *Position) LastUpdated() time.Time { return p.lastUpdated }

func (p *Position) Events() []schema.FillEvent { return slices.Clone(p.events) }

func (p *Position) LastEvent() schema.FillEvent { return p.events[len(p.events)-1] }

func (p *Position) EventCount() int { return len(p.events) }

func (p *Position) String() string {
	return fmt.Sprintf("Position(%s, %s %s %s)", p.id, p.MarketPosition(), p.Quantity(), p.symbol)
}
