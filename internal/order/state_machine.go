package order

import (
	"fmt"

	"executor/internal/schema"
	"executor/pkg/exception"
)

// Transition is a (state, trigger) pair of the order state machine.
type Transition struct {
	From    schema.OrderStatus
	Trigger schema.EventType
}

// transitionTable enumerates every legal transition; any other pair is invalid.
var transitionTable = map[Transition]schema.OrderStatus{
	{schema.OrderStatusInitialized, schema.EventOrderSubmitted}:    schema.OrderStatusSubmitted,
	{schema.OrderStatusInitialized, schema.EventOrderCancelled}:    schema.OrderStatusCancelled,
	{schema.OrderStatusInitialized, schema.EventOrderCancelReject}: schema.OrderStatusInitialized,

	{schema.OrderStatusSubmitted, schema.EventOrderRejected}:     schema.OrderStatusRejected,
	{schema.OrderStatusSubmitted, schema.EventOrderAccepted}:     schema.OrderStatusAccepted,
	{schema.OrderStatusSubmitted, schema.EventOrderCancelled}:    schema.OrderStatusCancelled,
	{schema.OrderStatusSubmitted, schema.EventOrderCancelReject}: schema.OrderStatusSubmitted,

	{schema.OrderStatusAccepted, schema.EventOrderWorking}:      schema.OrderStatusWorking,
	{schema.OrderStatusAccepted, schema.EventOrderCancelReject}: schema.OrderStatusAccepted,

	{schema.OrderStatusWorking, schema.EventOrderCancelled}:       schema.OrderStatusCancelled,
	{schema.OrderStatusWorking, schema.EventOrderModified}:        schema.OrderStatusWorking,
	{schema.OrderStatusWorking, schema.EventOrderExpired}:         schema.OrderStatusExpired,
	{schema.OrderStatusWorking, schema.EventOrderFilled}:          schema.OrderStatusFilled,
	{schema.OrderStatusWorking, schema.EventOrderPartiallyFilled}: schema.OrderStatusPartiallyFilled,
	{schema.OrderStatusWorking, schema.EventOrderCancelReject}:    schema.OrderStatusWorking,

	{schema.OrderStatusPartiallyFilled, schema.EventOrderPartiallyFilled}: schema.OrderStatusPartiallyFilled,
	{schema.OrderStatusPartiallyFilled, schema.EventOrderCancelled}:       schema.OrderStatusCancelled,
	{schema.OrderStatusPartiallyFilled, schema.EventOrderFilled}:          schema.OrderStatusFilled,
}

func init() {
	if err := ValidateTable(transitionTable); err != nil {
		panic(err)
	}
}

// ValidateTable checks that every cancel reject row is an identity transition
// and that terminal states have no outgoing rows.
func ValidateTable(table map[Transition]schema.OrderStatus) error {
	for tr, to := range table {
		if !tr.From.IsAvailable() || !to.IsAvailable() {
			return fmt.Errorf("%w: unknown state in %s -> %s", exception.ErrInvalidTransitionTable, tr, to)
		}
		if tr.Trigger == schema.EventOrderCancelReject && tr.From != to {
			return fmt.Errorf("%w: %s must leave the state unchanged", exception.ErrInvalidTransitionTable, tr)
		}
		if tr.From.IsTerminal() {
			return fmt.Errorf("%w: terminal state has outgoing row %s", exception.ErrInvalidTransitionTable, tr)
		}
	}
	return nil
}

func (t Transition) String() string {
	return fmt.Sprintf("(%s, %s)", t.From, t.Trigger)
}

// Next returns the state reached from `from` on `trigger`.
func Next(from schema.OrderStatus, trigger schema.EventType) (schema.OrderStatus, error) {
	to, ok := transitionTable[Transition{From: from, Trigger: trigger}]
	if !ok {
		return from, fmt.Errorf("%w: %s on %s", exception.ErrInvalidStateTransition, from, trigger)
	}
	return to, nil
}

// Transitions returns a copy of the transition table.
func Transitions() map[Transition]schema.OrderStatus {
	out := make(map[Transition]schema.OrderStatus, len(transitionTable))
	for k, v := range transitionTable {
		out[k] = v
	}
	return out
}

// StateMachine tracks the current status of one order.
type StateMachine struct {
	state schema.OrderStatus
}

// NewStateMachine creates a state machine in the Initialized state.
func NewStateMachine() *StateMachine {
	return &StateMachine{state: schema.OrderStatusInitialized}
}

// State returns the current state.
func (m *StateMachine) State() schema.OrderStatus {
	return m.state
}

// Process moves the machine along the trigger. The state is unchanged on error.
func (m *StateMachine) Process(trigger schema.EventType) error {
	next, err := Next(m.state, trigger)
	if err != nil {
		return err
	}
	m.state = next
	return nil
}
