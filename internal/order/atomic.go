package order

import (
	"fmt"

	"executor/internal/schema"
	"executor/pkg/exception"
)

// AtomicOrder groups an entry with its stop-loss and optional take-profit.
// Each leg still runs its own state machine.
type AtomicOrder struct {
	ID         schema.AtomicOrderID
	Entry      *Order
	StopLoss   *Order
	TakeProfit *Order
}

// NewAtomicOrder checks that the legs are distinct and that the exits close the entry.
func NewAtomicOrder(id schema.AtomicOrderID, entry, stopLoss, takeProfit *Order) (*AtomicOrder, error) {
	if entry == nil || stopLoss == nil {
		return nil, fmt.Errorf("%w: atomic order %s requires entry and stop-loss", exception.ErrNilInstance, id)
	}
	a := &AtomicOrder{ID: id, Entry: entry, StopLoss: stopLoss, TakeProfit: takeProfit}

	seen := make(map[schema.OrderID]struct{}, 3)
	for _, leg := range a.Legs() {
		if _, ok := seen[leg.ID()]; ok {
			return nil, fmt.Errorf("%w: atomic order %s repeats leg %s", exception.ErrInvalidArgument, id, leg.ID())
		}
		seen[leg.ID()] = struct{}{}
		if leg != entry && leg.Side() == entry.Side() {
			return nil, fmt.Errorf("%w: atomic order %s exit %s has the entry side", exception.ErrInvalidArgument, id, leg.ID())
		}
	}
	return a, nil
}

// HasTakeProfit reports whether the take-profit leg is present.
func (a *AtomicOrder) HasTakeProfit() bool {
	return a.TakeProfit != nil
}

// Legs returns entry, stop-loss and, when present, take-profit in that order.
func (a *AtomicOrder) Legs() []*Order {
	legs := []*Order{a.Entry, a.StopLoss}
	if a.TakeProfit != nil {
		legs = append(legs, a.TakeProfit)
	}
	return legs
}
