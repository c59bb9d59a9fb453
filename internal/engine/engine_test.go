package engine_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"executor/internal/bus"
	"executor/internal/database"
	"executor/internal/engine"
	"executor/internal/obs"
	"executor/internal/order"
	"executor/internal/schema"
	"executor/internal/testkit"
	"executor/pkg/exception"
)

type modifyCall struct {
	OrderID schema.OrderID
	Price   decimal.Decimal
}

type fakeGateway struct {
	mu        sync.Mutex
	submitted []schema.OrderID
	atomics   []schema.AtomicOrderID
	cancelled []schema.OrderID
	modified  []modifyCall
	inquiries int
}

func (g *fakeGateway) SubmitOrder(o *order.Order) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.submitted = append(g.submitted, o.ID())
}

func (g *fakeGateway) SubmitAtomicOrder(a *order.AtomicOrder) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.atomics = append(g.atomics, a.ID)
}

func (g *fakeGateway) CancelOrder(o *order.Order) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cancelled = append(g.cancelled, o.ID())
}

func (g *fakeGateway) ModifyOrder(o *order.Order, price decimal.Decimal) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.modified = append(g.modified, modifyCall{OrderID: o.ID(), Price: price})
}

func (g *fakeGateway) AccountInquiry() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.inquiries++
}

func (g *fakeGateway) SubscribeToPositionEvents() {}

type fakePublisher struct {
	mu     sync.Mutex
	events []schema.Event
}

func (p *fakePublisher) Send(event schema.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *fakePublisher) types() []schema.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]schema.EventType, 0, len(p.events))
	for _, e := range p.events {
		if trade, ok := e.(schema.TradeEvent); ok {
			out = append(out, trade.Event.Type())
			continue
		}
		out = append(out, e.Type())
	}
	return out
}

type scheduled struct {
	Delay    time.Duration
	Receiver bus.Endpoint
	Msg      any
}

type fakeScheduler struct {
	calls []scheduled
}

func (s *fakeScheduler) ScheduleSendOnce(delay time.Duration, receiver bus.Endpoint, msg any, _ bus.Endpoint) {
	s.calls = append(s.calls, scheduled{Delay: delay, Receiver: receiver, Msg: msg})
}

type harness struct {
	engine    *engine.Engine
	db        *database.Database
	gateway   *fakeGateway
	publisher *fakePublisher
	scheduler *fakeScheduler
}

func newHarness(t *testing.T, opt engine.Options) *harness {
	t.Helper()
	h := &harness{
		db:        database.New(database.NewMemoryStore(), database.Options{LoadCache: true}),
		gateway:   &fakeGateway{},
		publisher: &fakePublisher{},
		scheduler: &fakeScheduler{},
	}
	e, err := engine.New(engine.Config{
		Database:  h.db,
		Gateway:   h.gateway,
		Publisher: h.publisher,
		Scheduler: h.scheduler,
		Options:   opt,
		Clock:     func() time.Time { return testkit.Epoch },
	})
	require.NoError(t, err)
	h.engine = e
	return h
}

func (h *harness) process(msgs ...any) {
	for _, msg := range msgs {
		h.engine.Process(context.Background(), msg)
	}
}

func submit(o *order.Order, position schema.PositionID) engine.SubmitOrder {
	return engine.SubmitOrder{
		Header:     engine.NewHeader(testkit.Epoch),
		Order:      o,
		TraderID:   testkit.Trader,
		AccountID:  testkit.Account,
		StrategyID: testkit.Strategy,
		PositionID: position,
	}
}

func modify(id schema.OrderID, price string) engine.ModifyOrder {
	return engine.ModifyOrder{Header: engine.NewHeader(testkit.Epoch), OrderID: id, ModifiedPrice: testkit.Dec(price)}
}

func cancel(id schema.OrderID) engine.CancelOrder {
	return engine.CancelOrder{Header: engine.NewHeader(testkit.Epoch), OrderID: id, Reason: "USER"}
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := engine.New(engine.Config{})
	assert.ErrorIs(t, err, exception.ErrNilInstance)
}

func TestMarketBuyFilledOpensPosition(t *testing.T) {
	h := newHarness(t, engine.Options{})
	o := testkit.Market("O-1", schema.OrderSideBuy, "100")

	h.process(submit(o, "P-1"))
	assert.Equal(t, []schema.OrderID{"O-1"}, h.gateway.submitted)
	assert.Equal(t, schema.OrderStatusSubmitted, o.Status())

	h.process(testkit.Accepted(o), testkit.Working(o), testkit.Filled(o, "E-1", "1.2000"))

	cached, ok := h.db.GetOrder("O-1")
	require.True(t, ok)
	assert.Equal(t, schema.OrderStatusFilled, cached.Status())
	assert.True(t, cached.IsCompleted())
	assert.True(t, h.db.IsOrderCompleted("O-1"))

	p, ok := h.db.GetPosition("P-1")
	require.True(t, ok)
	assert.True(t, p.IsLong())
	assert.True(t, p.NetQuantity().Equal(testkit.Dec("100")))
	assert.True(t, p.AverageOpenPrice().Equal(testkit.Dec("1.2")))

	assert.Equal(t, []schema.EventType{
		schema.EventOrderSubmitted,
		schema.EventOrderAccepted,
		schema.EventOrderWorking,
		schema.EventOrderFilled,
	}, h.publisher.types())
	for _, e := range h.publisher.events {
		trade, ok := e.(schema.TradeEvent)
		require.True(t, ok)
		assert.Equal(t, testkit.Trader, trade.TraderID)
	}
	assert.Equal(t, uint64(1), h.engine.CommandCount())
	assert.Equal(t, uint64(3), h.engine.EventCount())
}

func TestSecondFillUpdatesPosition(t *testing.T) {
	h := newHarness(t, engine.Options{})
	o := testkit.Limit("O-1", schema.OrderSideSell, "100", "1.3")

	h.process(
		submit(o, "P-1"),
		testkit.Accepted(o),
		testkit.Working(o),
		testkit.PartiallyFilled(o, "E-1", "40", "1.3"),
		testkit.Filled(o, "E-2", "1.3"),
	)

	p, ok := h.db.GetPosition("P-1")
	require.True(t, ok)
	assert.True(t, p.IsShort())
	assert.True(t, p.Quantity().Equal(testkit.Dec("100")))
	assert.Equal(t, []schema.ExecutionID{"E-1", "E-2"}, p.ExecutionIDs())
	assert.Equal(t, []schema.PositionID{"P-1"}, h.db.PositionOpenIDs(database.Scope{Trader: testkit.Trader}).Slice())
}

func TestRedeliveredFillAppliedOnce(t *testing.T) {
	h := newHarness(t, engine.Options{})
	o := testkit.Limit("O-1", schema.OrderSideBuy, "100", "1.3")
	fill := testkit.PartiallyFilled(o, "E-1", "40", "1.3")

	h.process(submit(o, "P-1"), testkit.Accepted(o), testkit.Working(o), fill, fill)

	assert.Equal(t, []schema.ExecutionID{"E-1"}, o.ExecutionIDs())
	assert.True(t, o.FilledQuantity().Equal(testkit.Dec("40")))
	p, ok := h.db.GetPosition("P-1")
	require.True(t, ok)
	assert.Equal(t, []schema.ExecutionID{"E-1"}, p.ExecutionIDs())
	assert.True(t, p.NetQuantity().Equal(testkit.Dec("40")))

	published := 0
	for _, typ := range h.publisher.types() {
		if typ == schema.EventOrderPartiallyFilled {
			published++
		}
	}
	assert.Equal(t, 1, published)
	assert.Equal(t, uint64(1), h.engine.Metrics().Snapshot().Failures[obs.FailureInvalidTransition])
}

func TestFillWithoutPositionIsStillPublished(t *testing.T) {
	h := newHarness(t, engine.Options{})
	o := testkit.Market("O-1", schema.OrderSideBuy, "10")

	h.process(submit(o, ""), testkit.Accepted(o), testkit.Working(o), testkit.Filled(o, "E-1", "1.1"))

	assert.Equal(t, schema.OrderStatusFilled, o.Status())
	assert.Zero(t, h.db.PositionIDs(database.Scope{}).Len())
	assert.Equal(t, schema.EventOrderFilled, h.publisher.types()[3])
	assert.Equal(t, uint64(1), h.engine.Metrics().Snapshot().Failures[obs.FailureNotFound])
}

func TestDuplicateSubmitSkipsGateway(t *testing.T) {
	h := newHarness(t, engine.Options{})
	o := testkit.Market("O-1", schema.OrderSideBuy, "10")
	again := testkit.Market("O-1", schema.OrderSideSell, "20")

	h.process(submit(o, "P-1"), submit(again, "P-1"))

	assert.Len(t, h.gateway.submitted, 1)
	cached, ok := h.db.GetOrder("O-1")
	require.True(t, ok)
	assert.Same(t, o, cached)
	assert.Equal(t, uint64(1), h.engine.Metrics().Snapshot().Failures[obs.FailureDuplicate])
}

func TestModifyBufferedUntilWorking(t *testing.T) {
	h := newHarness(t, engine.Options{})
	o := testkit.Limit("O-1", schema.OrderSideBuy, "100", "1.2000")

	h.process(submit(o, "P-1"), testkit.Accepted(o), modify("O-1", "1.2050"))
	assert.Empty(t, h.gateway.modified)
	assert.Equal(t, 1, h.engine.PendingModifications())

	h.process(testkit.Working(o))
	require.Len(t, h.gateway.modified, 1)
	assert.True(t, h.gateway.modified[0].Price.Equal(testkit.Dec("1.2050")))
	assert.Zero(t, h.engine.PendingModifications())

	h.process(testkit.Modified(o, "1.2050"))
	assert.Len(t, h.gateway.modified, 1)
	assert.True(t, o.Price().Decimal.Equal(testkit.Dec("1.2050")))
}

func TestModifyLastWriteWins(t *testing.T) {
	h := newHarness(t, engine.Options{})
	o := testkit.Limit("O-1", schema.OrderSideBuy, "100", "1.2000")

	h.process(submit(o, "P-1"), modify("O-1", "1.1000"), modify("O-1", "1.1500"), testkit.Accepted(o), testkit.Working(o))

	require.Len(t, h.gateway.modified, 1)
	assert.True(t, h.gateway.modified[0].Price.Equal(testkit.Dec("1.15")))
}

func TestModifyUnchangedPriceNotSent(t *testing.T) {
	h := newHarness(t, engine.Options{})
	o := testkit.Limit("O-1", schema.OrderSideBuy, "100", "1.2000")

	h.process(submit(o, "P-1"), testkit.Accepted(o), modify("O-1", "1.2"), testkit.Working(o))

	assert.Empty(t, h.gateway.modified)
	assert.Zero(t, h.engine.PendingModifications())
}

func TestModifyInFlight(t *testing.T) {
	h := newHarness(t, engine.Options{})
	o := testkit.Limit("O-1", schema.OrderSideBuy, "100", "1.2000")
	h.process(submit(o, "P-1"), testkit.Accepted(o), testkit.Working(o))

	h.process(modify("O-1", "1.2100"))
	require.Len(t, h.gateway.modified, 1)

	h.process(modify("O-1", "1.2200"))
	assert.Len(t, h.gateway.modified, 1)
	assert.Equal(t, 1, h.engine.PendingModifications())

	h.process(testkit.Modified(o, "1.2100"))
	require.Len(t, h.gateway.modified, 2)
	assert.True(t, h.gateway.modified[1].Price.Equal(testkit.Dec("1.22")))
	assert.Zero(t, h.engine.PendingModifications())
}

func TestModifyBufferClearedOnCompletion(t *testing.T) {
	testCases := []struct {
		desc  string
		event func(o *order.Order) schema.OrderEvent
	}{
		{desc: "cancelled", event: func(o *order.Order) schema.OrderEvent { return testkit.Cancelled(o) }},
		{desc: "rejected", event: func(o *order.Order) schema.OrderEvent { return testkit.Rejected(o) }},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			h := newHarness(t, engine.Options{})
			o := testkit.Limit("O-1", schema.OrderSideBuy, "100", "1.2000")

			h.process(submit(o, "P-1"), modify("O-1", "1.2050"))
			require.Equal(t, 1, h.engine.PendingModifications())

			h.process(tc.event(o))
			assert.Zero(t, h.engine.PendingModifications())
			assert.Empty(t, h.gateway.modified)

			h.process(modify("O-1", "1.3000"))
			assert.Zero(t, h.engine.PendingModifications())
		})
	}
}

func TestCancel(t *testing.T) {
	h := newHarness(t, engine.Options{})
	working := testkit.Limit("O-1", schema.OrderSideBuy, "100", "1.2000")
	filled := testkit.Market("O-2", schema.OrderSideBuy, "100")

	h.process(
		submit(working, "P-1"), testkit.Accepted(working), testkit.Working(working),
		submit(filled, "P-2"), testkit.Accepted(filled), testkit.Working(filled), testkit.Filled(filled, "E-1", "1.2"),
	)

	h.process(cancel("O-2"))
	assert.Empty(t, h.gateway.cancelled)

	h.process(cancel("O-1"))
	assert.Equal(t, []schema.OrderID{"O-1"}, h.gateway.cancelled)
}

func TestUnknownOrderIsDropped(t *testing.T) {
	h := newHarness(t, engine.Options{})
	ghost := testkit.Market("O-9", schema.OrderSideBuy, "1")

	h.process(cancel("O-9"), modify("O-9", "1.1"), testkit.Accepted(ghost))

	assert.Empty(t, h.gateway.cancelled)
	assert.Empty(t, h.gateway.modified)
	assert.Empty(t, h.publisher.events)
	assert.Equal(t, uint64(3), h.engine.Metrics().Snapshot().Failures[obs.FailureNotFound])
}

func TestInvalidTransitionIsNotPublished(t *testing.T) {
	h := newHarness(t, engine.Options{})
	o := testkit.Market("O-1", schema.OrderSideBuy, "10")

	h.process(submit(o, "P-1"), testkit.Working(o))

	assert.Equal(t, schema.OrderStatusSubmitted, o.Status())
	assert.Equal(t, []schema.EventType{schema.EventOrderSubmitted}, h.publisher.types())
	assert.Equal(t, uint64(1), h.engine.Metrics().Snapshot().Failures[obs.FailureInvalidTransition])
}

func TestGTDExpiryBackup(t *testing.T) {
	testCases := []struct {
		desc      string
		enabled   bool
		expire    time.Duration
		scheduled bool
	}{
		{desc: "scheduled at expiry", enabled: true, expire: time.Hour, scheduled: true},
		{desc: "disabled", enabled: false, expire: time.Hour},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			h := newHarness(t, engine.Options{GTDExpiryBackups: tc.enabled})
			o := testkit.GTDLimit("O-1", schema.OrderSideBuy, "100", "1.2", testkit.Epoch.Add(tc.expire))

			h.process(submit(o, "P-1"), testkit.Accepted(o), testkit.Working(o))

			if !tc.scheduled {
				assert.Empty(t, h.scheduler.calls)
				return
			}
			require.Len(t, h.scheduler.calls, 1)
			call := h.scheduler.calls[0]
			assert.Equal(t, tc.expire, call.Delay)
			assert.Same(t, h.engine, call.Receiver)
			cmd, ok := call.Msg.(engine.CancelOrder)
			require.True(t, ok)
			assert.Equal(t, schema.OrderID("O-1"), cmd.OrderID)
			assert.Equal(t, engine.ReasonGTDExpiryBackup, cmd.Reason)

			h.process(cmd)
			assert.Equal(t, []schema.OrderID{"O-1"}, h.gateway.cancelled)
		})
	}
}

func TestGTDExpiryBackupIsNoopAfterCompletion(t *testing.T) {
	h := newHarness(t, engine.Options{GTDExpiryBackups: true})
	o := testkit.GTDLimit("O-1", schema.OrderSideBuy, "100", "1.2", testkit.Epoch.Add(time.Minute))

	h.process(submit(o, "P-1"), testkit.Accepted(o), testkit.Working(o), testkit.Filled(o, "E-1", "1.2"))
	require.Len(t, h.scheduler.calls, 1)

	h.process(h.scheduler.calls[0].Msg)
	assert.Empty(t, h.gateway.cancelled)
}

func TestSubmitAtomicOrder(t *testing.T) {
	h := newHarness(t, engine.Options{})
	entry := testkit.Limit("O-1", schema.OrderSideBuy, "100", "1.2")
	stop := testkit.StopMarket("O-2", schema.OrderSideSell, "100", "1.1")
	take := testkit.Limit("O-3", schema.OrderSideSell, "100", "1.3")
	atomic, err := order.NewAtomicOrder("AO-1", entry, stop, take)
	require.NoError(t, err)

	h.process(engine.SubmitAtomicOrder{
		Header:      engine.NewHeader(testkit.Epoch),
		AtomicOrder: atomic,
		TraderID:    testkit.Trader,
		AccountID:   testkit.Account,
		StrategyID:  testkit.Strategy,
		PositionID:  "P-1",
	})

	assert.Equal(t, []schema.AtomicOrderID{"AO-1"}, h.gateway.atomics)
	for _, leg := range atomic.Legs() {
		assert.Equal(t, schema.OrderStatusSubmitted, leg.Status(), leg.ID())
	}
	assert.Equal(t, 3, h.db.OrderIDs(database.Scope{Trader: testkit.Trader, Strategy: testkit.Strategy}).Len())
}

func TestSubmitAtomicOrderRegistersNothingOnDuplicate(t *testing.T) {
	h := newHarness(t, engine.Options{})
	stop := testkit.StopMarket("O-2", schema.OrderSideSell, "100", "1.1")
	h.process(submit(stop, "P-1"))

	entry := testkit.Limit("O-1", schema.OrderSideBuy, "100", "1.2")
	atomic, err := order.NewAtomicOrder("AO-1", entry, testkit.StopMarket("O-2", schema.OrderSideSell, "100", "1.1"), nil)
	require.NoError(t, err)
	h.process(engine.SubmitAtomicOrder{Header: engine.NewHeader(testkit.Epoch), AtomicOrder: atomic, TraderID: testkit.Trader, AccountID: testkit.Account, StrategyID: testkit.Strategy})

	assert.Empty(t, h.gateway.atomics)
	_, ok := h.db.GetOrder("O-1")
	assert.False(t, ok)
}

func TestAccountState(t *testing.T) {
	h := newHarness(t, engine.Options{})

	h.process(engine.AccountInquiry{Header: engine.NewHeader(testkit.Epoch)})
	assert.Equal(t, 1, h.gateway.inquiries)

	h.process(testkit.AccountState("100000"), testkit.AccountState("99000"))

	a, ok := h.db.GetAccount(testkit.Account)
	require.True(t, ok)
	assert.True(t, a.CashBalance().Equal(testkit.Dec("99000")))
	assert.Equal(t, 2, a.EventCount())
	require.Len(t, h.publisher.events, 2)
	_, wrapped := h.publisher.events[0].(schema.TradeEvent)
	assert.False(t, wrapped)
}

func TestUnknownMessage(t *testing.T) {
	h := newHarness(t, engine.Options{})
	h.process("hello", 42)
	assert.Zero(t, h.engine.CommandCount())
	assert.Zero(t, h.engine.EventCount())
}

func TestRunDrainsMailbox(t *testing.T) {
	h := newHarness(t, engine.Options{MailboxCapacity: 16})
	o := testkit.Market("O-1", schema.OrderSideBuy, "100")

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.engine.Run(context.Background())
	}()

	h.engine.Send(submit(o, "P-1"))
	h.engine.Send(testkit.Accepted(o))
	h.engine.Send(testkit.Working(o))
	h.engine.Send(testkit.Filled(o, "E-1", "1.2"))
	h.engine.Stop()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("engine did not stop")
	}
	assert.True(t, h.db.IsPositionOpen("P-1"))
	assert.Equal(t, uint64(4), h.engine.Metrics().Snapshot().ProcessLatency.Count)
}
