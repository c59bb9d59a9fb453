package engine

import (
	"context"

	"github.com/yanun0323/logs"

	"executor/internal/order"
	"executor/internal/schema"
	"executor/internal/state"
	"executor/pkg/exception"
)

func (e *Engine) handleOrderEvent(ctx context.Context, event schema.OrderEvent) {
	id := event.OrderRef()
	o, ok := e.db.GetOrder(id)
	if !ok {
		e.fail(exception.ErrNotFound, "%s for order %s", event.Type(), id)
		return
	}
	if err := o.Apply(event); err != nil {
		e.fail(err, "apply %s to order %s", event.Type(), id)
		return
	}
	if err := e.db.UpdateOrder(ctx, o); err != nil {
		e.fail(err, "persist %s of order %s", event.Type(), id)
	}

	switch ev := event.(type) {
	case schema.OrderWorking:
		e.drainModify(o)
		e.scheduleExpiryBackup(o)
	case schema.OrderModified, schema.OrderCancelReject:
		e.drainModify(o)
	case schema.OrderRejected, schema.OrderCancelled, schema.OrderExpired:
		delete(e.modifyBuffer, id)
	case schema.OrderPartiallyFilled:
		e.handleFill(ctx, o, ev)
	case schema.OrderFilled:
		delete(e.modifyBuffer, id)
		e.handleFill(ctx, o, ev)
	}

	trader, ok := e.db.TraderIDForOrder(id)
	if !ok {
		e.fail(exception.ErrNotFound, "trader of order %s, %s not published", id, event.Type())
		return
	}
	e.publisher.Send(schema.TradeEvent{TraderID: trader, Event: event})
}

// drainModify sends the buffered modification if it still changes the price.
func (e *Engine) drainModify(o *order.Order) {
	cmd, ok := e.modifyBuffer[o.ID()]
	if !ok {
		return
	}
	delete(e.modifyBuffer, o.ID())

	price := o.Price()
	if price.Valid && price.Decimal.Equal(cmd.ModifiedPrice) {
		return
	}
	e.gateway.ModifyOrder(o, cmd.ModifiedPrice)
}

func (e *Engine) scheduleExpiryBackup(o *order.Order) {
	if !e.opt.GTDExpiryBackups || o.TimeInForce() != schema.TimeInForceGTD {
		return
	}
	expire, ok := o.ExpireTime()
	if !ok {
		return
	}
	now := e.now()
	delay := expire.Sub(now)
	if delay <= 0 {
		return
	}
	cmd := CancelOrder{
		Header:  NewHeader(now),
		OrderID: o.ID(),
		Reason:  ReasonGTDExpiryBackup,
	}
	e.scheduler.ScheduleSendOnce(delay, e, cmd, e)
	logs.Infof("order %s expiry backup scheduled in %s", o.ID(), delay)
}

func (e *Engine) handleFill(ctx context.Context, o *order.Order, fill schema.FillEvent) {
	positionID, ok := e.db.PositionIDForOrder(o.ID())
	if !ok {
		e.fail(exception.ErrNotFound, "position of order %s for %s", o.ID(), fill.Type())
		return
	}

	p, ok := e.db.GetPosition(positionID)
	if !ok {
		opened, err := state.NewPosition(positionID, fill)
		if err != nil {
			e.fail(err, "open position %s from order %s", positionID, o.ID())
			return
		}
		if err := e.db.AddPosition(ctx, opened); err != nil {
			e.fail(err, "add position %s", positionID)
		}
		return
	}

	if err := p.Apply(fill); err != nil {
		e.fail(err, "apply %s of order %s to position %s", fill.Type(), o.ID(), positionID)
		return
	}
	if err := e.db.UpdatePosition(ctx, p); err != nil {
		e.fail(err, "persist position %s", positionID)
	}
}

func (e *Engine) handleAccountState(ctx context.Context, event schema.AccountStateEvent) {
	a, ok := e.db.GetAccount(event.AccountID)
	if !ok {
		opened, err := state.NewAccount(event)
		if err != nil {
			e.fail(err, "open account %s", event.AccountID)
			return
		}
		if err := e.db.AddAccount(ctx, opened); err != nil {
			e.fail(err, "add account %s", event.AccountID)
			return
		}
	} else {
		if err := a.Apply(event); err != nil {
			e.fail(err, "apply account state to %s", event.AccountID)
			return
		}
		if err := e.db.UpdateAccount(ctx, a); err != nil {
			e.fail(err, "persist account %s", event.AccountID)
		}
	}
	e.publisher.Send(event)
}
