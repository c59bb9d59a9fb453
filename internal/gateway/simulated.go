// Package gateway provides a simulated trading venue answering engine
// requests with broker events.
package gateway

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/logs"

	"executor/internal/bus"
	"executor/internal/order"
	"executor/internal/schema"
	"executor/pkg/exception"
)

const (
	defaultQueueSize = 4096

	reasonDisconnected = "GATEWAY_DISCONNECTED"
	reasonNotWorking   = "ORDER_NOT_WORKING"
	reasonOCO          = "OCO_SIBLING_FILLED"
)

// Config controls the simulated venue.
type Config struct {
	AccountID schema.AccountID
	Currency  schema.Currency
	Cash      decimal.Decimal
	// ResendOnReconnect accepts orders submitted while disconnected once the
	// gateway reconnects. Otherwise they are rejected.
	ResendOnReconnect bool
	QueueSize         int
	Clock             func() time.Time
}

// ticket is the venue copy of an order, taken when the order is received.
type ticket struct {
	id          schema.OrderID
	seq         uint64
	brokerID    schema.BrokerOrderID
	symbol      schema.Symbol
	label       schema.Label
	side        schema.OrderSide
	orderType   schema.OrderType
	quantity    decimal.Decimal
	price       decimal.NullDecimal
	timeInForce schema.TimeInForce
	expire      *time.Time
	// exit legs of the same atomic order, cancelled when this leg fills
	siblings []schema.OrderID
}

func newTicket(o *order.Order) *ticket {
	t := &ticket{
		id:          o.ID(),
		symbol:      o.Symbol(),
		label:       o.Label(),
		side:        o.Side(),
		orderType:   o.Type(),
		quantity:    o.Quantity(),
		price:       o.Price(),
		timeInForce: o.TimeInForce(),
	}
	if expire, ok := o.ExpireTime(); ok {
		t.expire = &expire
	}
	return t
}

// Simulated is an in-process venue. Market orders fill at the last quote of
// their symbol; resting orders fill when a quote crosses their price.
// Responses are queued and delivered to the receiver by Run.
type Simulated struct {
	cfg Config

	recvMu   sync.RWMutex
	receiver bus.Endpoint

	mu         sync.Mutex
	connected  bool
	subscribed bool
	seq        uint64
	pending    []*ticket
	live       map[schema.OrderID]*ticket
	quotes     map[schema.Symbol]decimal.Decimal

	out *bus.Queue[any]
}

// NewSimulated creates a connected gateway.
func NewSimulated(cfg Config) *Simulated {
	if cfg.Currency == "" {
		cfg.Currency = "USD"
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Simulated{
		cfg:       cfg,
		connected: true,
		live:      make(map[schema.OrderID]*ticket),
		quotes:    make(map[schema.Symbol]decimal.Decimal),
		out:       bus.NewQueue[any](cfg.QueueSize),
	}
}

// Connect sets the endpoint receiving every broker event.
func (g *Simulated) Connect(receiver bus.Endpoint) {
	g.recvMu.Lock()
	defer g.recvMu.Unlock()
	g.receiver = receiver
}

// Run delivers queued events until ctx is done or Close drains the queue.
func (g *Simulated) Run(ctx context.Context) {
	g.out.Run(ctx, g.deliver)
}

// Deliver sends every queued event on the caller's goroutine and returns how
// many were sent. It is the synchronous alternative to Run.
func (g *Simulated) Deliver() int {
	return g.out.Drain(g.deliver)
}

func (g *Simulated) deliver(msg any) {
	g.recvMu.RLock()
	receiver := g.receiver
	g.recvMu.RUnlock()
	if receiver == nil {
		logs.Errorf("gateway dropped %T, err: %+v", msg, exception.ErrNilInstance)
		return
	}
	receiver.Send(msg)
}

// Close stops accepting events. Queued events are still delivered by Run.
func (g *Simulated) Close() {
	g.out.Close()
}

func (g *Simulated) SubmitOrder(o *order.Order) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.submit(newTicket(o))
}

// SubmitAtomicOrder accepts every leg. The exits form a one-cancels-other pair.
func (g *Simulated) SubmitAtomicOrder(a *order.AtomicOrder) {
	g.mu.Lock()
	defer g.mu.Unlock()

	entry := newTicket(a.Entry)
	stop := newTicket(a.StopLoss)
	legs := []*ticket{entry, stop}
	if a.TakeProfit != nil {
		take := newTicket(a.TakeProfit)
		stop.siblings = []schema.OrderID{take.id}
		take.siblings = []schema.OrderID{stop.id}
		legs = append(legs, take)
	}
	for _, leg := range legs {
		g.submit(leg)
	}
}

func (g *Simulated) CancelOrder(o *order.Order) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.connected {
		g.emit(g.cancelReject(o.ID(), "CANCEL", reasonDisconnected))
		return
	}
	if _, ok := g.live[o.ID()]; !ok {
		g.emit(g.cancelReject(o.ID(), "CANCEL", reasonNotWorking))
		return
	}
	g.cancel(o.ID())
}

func (g *Simulated) ModifyOrder(o *order.Order, price decimal.Decimal) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.connected {
		g.emit(g.cancelReject(o.ID(), "MODIFY", reasonDisconnected))
		return
	}
	t, ok := g.live[o.ID()]
	if !ok {
		g.emit(g.cancelReject(o.ID(), "MODIFY", reasonNotWorking))
		return
	}

	now := g.cfg.Clock()
	t.price = decimal.NewNullDecimal(price)
	g.emit(schema.OrderModified{
		OrderEventBase: g.base(t.id, now),
		AccountID:      g.cfg.AccountID,
		BrokerOrderID:  t.brokerID,
		ModifiedPrice:  price,
		ModifiedTime:   now,
	})
	if quote, ok := g.quotes[t.symbol]; ok {
		g.match(t, quote)
	}
}

func (g *Simulated) AccountInquiry() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.emit(schema.AccountStateEvent{
		EventHeader:           schema.NewHeader(g.cfg.Clock()),
		AccountID:             g.cfg.AccountID,
		Currency:              g.cfg.Currency,
		CashBalance:           g.cfg.Cash,
		CashStartDay:          g.cfg.Cash,
		CashActivityDay:       decimal.Zero,
		MarginUsedLiquidation: decimal.Zero,
		MarginUsedMaintenance: decimal.Zero,
		MarginRatio:           decimal.Zero,
		MarginCallStatus:      "N",
	})
}

func (g *Simulated) SubscribeToPositionEvents() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.subscribed = true
	logs.Info("gateway position events subscribed")
}

// Subscribed reports whether position events were requested.
func (g *Simulated) Subscribed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.subscribed
}

// Quote sets the last price of symbol and fills every live order it crosses.
func (g *Simulated) Quote(symbol schema.Symbol, price decimal.Decimal) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.quotes[symbol] = price
	if !g.connected {
		return
	}
	for _, t := range g.sortedLive() {
		if _, ok := g.live[t.id]; ok && t.symbol == symbol {
			g.match(t, price)
		}
	}
}

// Expire expires every live GTD order whose expiry is at or before now.
func (g *Simulated) Expire(now time.Time) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	expired := 0
	for _, t := range g.sortedLive() {
		if t.expire == nil || t.expire.After(now) {
			continue
		}
		delete(g.live, t.id)
		g.emit(schema.OrderExpired{OrderEventBase: g.base(t.id, now), AccountID: g.cfg.AccountID, ExpiredTime: now})
		expired++
	}
	return expired
}

// Disconnect holds new submissions until Reconnect.
func (g *Simulated) Disconnect() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.connected = false
}

// Reconnect resends or rejects the orders received while disconnected and
// returns their ids.
func (g *Simulated) Reconnect() []schema.OrderID {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.connected = true
	pending := g.pending
	g.pending = nil

	ids := make([]schema.OrderID, 0, len(pending))
	for _, t := range pending {
		ids = append(ids, t.id)
		if g.cfg.ResendOnReconnect {
			g.accept(t)
			continue
		}
		now := g.cfg.Clock()
		g.emit(schema.OrderRejected{
			OrderEventBase: g.base(t.id, now),
			AccountID:      g.cfg.AccountID,
			RejectedTime:   now,
			RejectedReason: reasonDisconnected,
		})
	}
	return ids
}

// Working returns the ids of the live orders.
func (g *Simulated) Working() []schema.OrderID {
	g.mu.Lock()
	defer g.mu.Unlock()
	ids := make([]schema.OrderID, 0, len(g.live))
	for _, t := range g.sortedLive() {
		ids = append(ids, t.id)
	}
	return ids
}

func (g *Simulated) submit(t *ticket) {
	if !g.connected {
		g.pending = append(g.pending, t)
		logs.Infof("gateway disconnected, order %s held for reconnect", t.id)
		return
	}
	g.accept(t)
}

func (g *Simulated) accept(t *ticket) {
	now := g.cfg.Clock()
	g.seq++
	t.seq = g.seq
	t.brokerID = schema.BrokerOrderID(fmt.Sprintf("B-%d", g.seq))

	g.emit(schema.OrderAccepted{
		OrderEventBase: g.base(t.id, now),
		AccountID:      g.cfg.AccountID,
		Label:          t.label,
		AcceptedTime:   now,
	})
	g.emit(schema.OrderWorking{
		OrderEventBase: g.base(t.id, now),
		AccountID:      g.cfg.AccountID,
		BrokerOrderID:  t.brokerID,
		Symbol:         t.symbol,
		Label:          t.label,
		Side:           t.side,
		OrderType:      t.orderType,
		Quantity:       t.quantity,
		Price:          t.price,
		TimeInForce:    t.timeInForce,
		ExpireTime:     t.expire,
		WorkingTime:    now,
	})
	g.live[t.id] = t

	if quote, ok := g.quotes[t.symbol]; ok {
		g.match(t, quote)
	}
}

// match fills t at quote when the quote satisfies its order type.
func (g *Simulated) match(t *ticket, quote decimal.Decimal) {
	if !triggered(t, quote) {
		return
	}

	now := g.cfg.Clock()
	g.seq++
	delete(g.live, t.id)
	g.emit(schema.OrderFilled{
		OrderEventBase: g.base(t.id, now),
		Fill: schema.Fill{
			AccountID:        g.cfg.AccountID,
			ExecutionID:      schema.ExecutionID(fmt.Sprintf("E-%d", g.seq)),
			PositionIDBroker: string(t.brokerID),
			Symbol:           t.symbol,
			Side:             t.side,
			FilledQuantity:   t.quantity,
			AveragePrice:     quote,
			Currency:         g.cfg.Currency,
			ExecutionTime:    now,
		},
	})

	for _, sibling := range t.siblings {
		if _, ok := g.live[sibling]; ok {
			logs.Infof("gateway cancels %s, %s", sibling, reasonOCO)
			g.cancel(sibling)
		}
	}
}

func triggered(t *ticket, quote decimal.Decimal) bool {
	if t.orderType == schema.OrderTypeMarket {
		return true
	}
	if !t.price.Valid {
		return false
	}
	price := t.price.Decimal
	buy := t.side == schema.OrderSideBuy
	switch t.orderType {
	case schema.OrderTypeLimit, schema.OrderTypeMarketIfTouched:
		if buy {
			return quote.LessThanOrEqual(price)
		}
		return quote.GreaterThanOrEqual(price)
	case schema.OrderTypeStopMarket, schema.OrderTypeStopLimit:
		if buy {
			return quote.GreaterThanOrEqual(price)
		}
		return quote.LessThanOrEqual(price)
	default:
		return false
	}
}

func (g *Simulated) cancel(id schema.OrderID) {
	now := g.cfg.Clock()
	delete(g.live, id)
	g.emit(schema.OrderCancelled{OrderEventBase: g.base(id, now), AccountID: g.cfg.AccountID, CancelledTime: now})
}

func (g *Simulated) cancelReject(id schema.OrderID, responseTo, reason string) schema.OrderCancelReject {
	now := g.cfg.Clock()
	return schema.OrderCancelReject{
		OrderEventBase:     g.base(id, now),
		AccountID:          g.cfg.AccountID,
		RejectedTime:       now,
		RejectedResponseTo: responseTo,
		RejectedReason:     reason,
	}
}

func (g *Simulated) base(id schema.OrderID, now time.Time) schema.OrderEventBase {
	return schema.OrderEventBase{EventHeader: schema.NewHeader(now), OrderID: id}
}

// sortedLive returns live tickets in acceptance order so fills are deterministic.
func (g *Simulated) sortedLive() []*ticket {
	out := make([]*ticket, 0, len(g.live))
	for _, t := range g.live {
		out = append(out, t)
	}
	slices.SortFunc(out, func(a, b *ticket) int {
		return cmp.Compare(a.seq, b.seq)
	})
	return out
}

func (g *Simulated) emit(msg any) {
	if err := g.out.Publish(context.Background(), msg); err != nil {
		logs.Errorf("gateway emit %T, err: %+v", msg, err)
	}
}
