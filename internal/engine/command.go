package engine

import (
	"context"

	"github.com/yanun0323/logs"

	"executor/internal/database"
	"executor/internal/order"
	"executor/internal/schema"
	"executor/pkg/exception"
)

func (e *Engine) handleCommand(ctx context.Context, cmd Command) {
	switch c := cmd.(type) {
	case SubmitOrder:
		e.submitOrder(ctx, c)
	case SubmitAtomicOrder:
		e.submitAtomicOrder(ctx, c)
	case CancelOrder:
		e.cancelOrder(c)
	case ModifyOrder:
		e.modifyOrder(c)
	case AccountInquiry:
		e.gateway.AccountInquiry()
	default:
		logs.Errorf("engine received command %T, err: %+v", cmd, exception.ErrUnknownMessage)
	}
}

func (e *Engine) submitOrder(ctx context.Context, cmd SubmitOrder) {
	if cmd.Order == nil {
		e.fail(exception.ErrNilInstance, "submit order")
		return
	}
	reg := database.Registration{
		TraderID:   cmd.TraderID,
		AccountID:  cmd.AccountID,
		StrategyID: cmd.StrategyID,
		PositionID: cmd.PositionID,
	}
	if err := e.db.AddOrder(ctx, cmd.Order, reg); err != nil {
		e.fail(err, "submit order %s", cmd.Order.ID())
		return
	}

	e.gateway.SubmitOrder(cmd.Order)
	e.submitted(ctx, cmd.Order, cmd.AccountID, cmd.TraderID)
}

func (e *Engine) submitAtomicOrder(ctx context.Context, cmd SubmitAtomicOrder) {
	if cmd.AtomicOrder == nil {
		e.fail(exception.ErrNilInstance, "submit atomic order")
		return
	}
	reg := database.Registration{
		TraderID:   cmd.TraderID,
		AccountID:  cmd.AccountID,
		StrategyID: cmd.StrategyID,
		PositionID: cmd.PositionID,
	}
	if err := e.db.AddAtomicOrder(ctx, cmd.AtomicOrder, reg); err != nil {
		e.fail(err, "submit atomic order %s", cmd.AtomicOrder.ID)
		return
	}

	e.gateway.SubmitAtomicOrder(cmd.AtomicOrder)
	for _, leg := range cmd.AtomicOrder.Legs() {
		e.submitted(ctx, leg, cmd.AccountID, cmd.TraderID)
	}
}

// submitted records the hand-off to the gateway on the local order.
func (e *Engine) submitted(ctx context.Context, o *order.Order, account schema.AccountID, trader schema.TraderID) {
	now := e.now()
	event := schema.OrderSubmitted{
		OrderEventBase: schema.OrderEventBase{EventHeader: schema.NewHeader(now), OrderID: o.ID()},
		AccountID:      account,
		SubmittedTime:  now,
	}
	if err := o.Apply(event); err != nil {
		e.fail(err, "apply %s to order %s", event.Type(), o.ID())
		return
	}
	if err := e.db.UpdateOrder(ctx, o); err != nil {
		e.fail(err, "persist %s of order %s", event.Type(), o.ID())
	}
	e.publisher.Send(schema.TradeEvent{TraderID: trader, Event: event})
}

func (e *Engine) cancelOrder(cmd CancelOrder) {
	o, ok := e.db.GetOrder(cmd.OrderID)
	if !ok {
		e.fail(exception.ErrNotFound, "cancel order %s (%s)", cmd.OrderID, cmd.Reason)
		return
	}
	if o.IsCompleted() {
		logs.Infof("cancel order %s (%s) ignored, order already %s", cmd.OrderID, cmd.Reason, o.Status())
		return
	}
	e.gateway.CancelOrder(o)
}

func (e *Engine) modifyOrder(cmd ModifyOrder) {
	o, ok := e.db.GetOrder(cmd.OrderID)
	if !ok {
		e.fail(exception.ErrNotFound, "modify order %s", cmd.OrderID)
		return
	}
	if o.IsCompleted() {
		logs.Infof("modify order %s ignored, order already %s", cmd.OrderID, o.Status())
		return
	}

	_, inFlight := e.modifyBuffer[cmd.OrderID]
	e.modifyBuffer[cmd.OrderID] = cmd
	if !o.IsWorking() {
		logs.Infof("modify order %s to %s buffered until working, order %s", cmd.OrderID, cmd.ModifiedPrice, o.Status())
		return
	}
	if inFlight {
		logs.Infof("modify order %s to %s buffered behind modification in flight", cmd.OrderID, cmd.ModifiedPrice)
		return
	}
	e.gateway.ModifyOrder(o, cmd.ModifiedPrice)
}
