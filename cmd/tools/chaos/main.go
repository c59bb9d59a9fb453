package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"time"

	"github.com/shopspring/decimal"

	"executor/internal/bus"
	"executor/internal/chaos"
	"executor/internal/database"
	"executor/internal/engine"
	"executor/internal/gateway"
	"executor/internal/obs"
	"executor/internal/order"
	"executor/internal/publisher"
	"executor/internal/scheduler"
	"executor/internal/schema"
)

const (
	trader   schema.TraderID   = "CHAOS-001"
	account  schema.AccountID  = "SIM-00000001-SIMULATED"
	strategy schema.StrategyID = "RANDOM-01"
	symbol   schema.Symbol     = "AUDUSD.SIM"
)

func main() {
	seed := flag.Int64("seed", 0, "RNG seed (0=now)")
	orders := flag.Int("orders", 200, "Number of orders to submit")
	dropRate := flag.Float64("drop-rate", 0, "Drop probability of broker events [0-1]")
	dupRate := flag.Float64("dup-rate", 0.1, "Duplicate probability of broker events [0-1]")
	reorderWindow := flag.Int("reorder-window", 1, "Reorder window of broker events (>=1)")
	verbose := flag.Bool("verbose", false, "Log every published event")
	flag.Parse()

	if *seed == 0 {
		*seed = time.Now().UTC().UnixNano()
	}
	rng := rand.New(rand.NewSource(*seed))
	ctx := context.Background()

	g := gateway.NewSimulated(gateway.Config{
		AccountID: account,
		Currency:  "USD",
		Cash:      decimal.NewFromInt(1_000_000),
	})
	db := database.New(database.NewMemoryStore(), database.Options{LoadCache: true})
	metrics := obs.NewMetrics()
	var pub publisher.Publisher = publisher.Multi{}
	if *verbose {
		pub = publisher.Log{}
	}
	e, err := engine.New(engine.Config{
		Database:  db,
		Gateway:   g,
		Publisher: pub,
		Scheduler: scheduler.New(time.Millisecond, nil),
		Metrics:   metrics,
	})
	if err != nil {
		log.Fatalf("engine init failed: %v", err)
	}

	faulty, err := chaos.NewEndpoint(chaos.Config{
		Seed:          *seed,
		DropRate:      *dropRate,
		DuplicateRate: *dupRate,
		ReorderWindow: *reorderWindow,
	}, bus.EndpointFunc(func(msg any) {
		e.Process(ctx, msg)
	}))
	if err != nil {
		log.Fatalf("chaos config invalid: %v", err)
	}
	g.Connect(faulty)

	// The engine is driven on this goroutine. Each step delivers the queued
	// broker events through the chaos endpoint before the next step.
	e.Process(ctx, engine.AccountInquiry{Header: engine.NewHeader(time.Now())})
	g.Deliver()

	price := decimal.RequireFromString("1.2000")
	tick := decimal.RequireFromString("0.0005")
	g.Quote(symbol, price)

	for i := range *orders {
		o, err := randomOrder(rng, i, price, tick)
		if err != nil {
			log.Fatalf("create order failed: %v", err)
		}
		e.Process(ctx, engine.SubmitOrder{
			Header:     engine.NewHeader(time.Now()),
			Order:      o,
			TraderID:   trader,
			AccountID:  account,
			StrategyID: strategy,
			PositionID: schema.PositionID(fmt.Sprintf("P-%d", i%8)),
		})
		g.Deliver()

		switch rng.Intn(4) {
		case 0:
			e.Process(ctx, engine.CancelOrder{Header: engine.NewHeader(time.Now()), OrderID: o.ID()})
		case 1:
			e.Process(ctx, engine.ModifyOrder{
				Header:        engine.NewHeader(time.Now()),
				OrderID:       o.ID(),
				ModifiedPrice: price.Add(tick.Mul(decimal.NewFromInt(int64(rng.Intn(5) - 2)))),
			})
		}
		g.Deliver()

		price = price.Add(tick.Mul(decimal.NewFromInt(int64(rng.Intn(5) - 2))))
		g.Quote(symbol, price)
		g.Deliver()
	}
	for {
		faulty.Flush()
		if g.Deliver() == 0 {
			break
		}
	}

	violations := verify(db)
	report(*seed, metrics.Snapshot(), faulty.Stats(), db, e.PendingModifications())
	if violations > 0 {
		log.Fatalf("%d order invariants violated", violations)
	}
}

func randomOrder(rng *rand.Rand, i int, price, tick decimal.Decimal) (*order.Order, error) {
	side := schema.OrderSideBuy
	if rng.Intn(2) == 1 {
		side = schema.OrderSideSell
	}
	spec := order.Spec{
		ID:        schema.OrderID(fmt.Sprintf("O-%d", i)),
		Symbol:    symbol,
		Label:     "CHAOS",
		Side:      side,
		Quantity:  decimal.NewFromInt(int64(1+rng.Intn(10)) * 1000),
		Timestamp: time.Now().UTC(),
	}
	if rng.Intn(3) == 0 {
		return order.NewMarket(spec)
	}
	offset := tick.Mul(decimal.NewFromInt(int64(1 + rng.Intn(3))))
	if side == schema.OrderSideBuy {
		offset = offset.Neg()
	}
	spec.Price = decimal.NewNullDecimal(price.Add(offset))
	spec.TimeInForce = schema.TimeInForceGTC
	return order.NewLimit(spec)
}

// verify checks the order invariants that must survive any broker fault.
func verify(db *database.Database) int {
	var violations int
	for _, o := range db.Orders(database.Scope{}) {
		if o.FilledQuantity().GreaterThan(o.Quantity()) {
			log.Printf("order %s overfilled: %s/%s", o.ID(), o.FilledQuantity(), o.Quantity())
			violations++
		}
		if o.Status() == schema.OrderStatusFilled && !o.FilledQuantity().Equal(o.Quantity()) {
			log.Printf("order %s filled with %s/%s", o.ID(), o.FilledQuantity(), o.Quantity())
			violations++
		}
		if o.IsCompleted() != db.IsOrderCompleted(o.ID()) {
			log.Printf("order %s completed index out of sync", o.ID())
			violations++
		}
	}
	return violations
}

func report(seed int64, snap obs.Snapshot, stats chaos.Stats, db *database.Database, pendingModify int) {
	fmt.Printf("seed=%d\n", seed)
	fmt.Printf("broker events received=%d dropped=%d duplicated=%d reordered=%d\n",
		stats.Received, stats.Dropped, stats.Duplicated, stats.Reordered)
	fmt.Printf("engine commands=%d events=%d failures=%v pending-modify=%d\n",
		snap.CommandCount, snap.EventCount, snap.Failures, pendingModify)
	fmt.Printf("orders total=%d working=%d completed=%d positions open=%d closed=%d\n",
		db.OrderIDs(database.Scope{}).Len(),
		db.OrderWorkingIDs(database.Scope{}).Len(),
		db.OrderCompletedIDs(database.Scope{}).Len(),
		db.PositionOpenIDs(database.Scope{}).Len(),
		db.PositionClosedIDs(database.Scope{}).Len())
	fmt.Printf("process latency avg=%s max=%s\n", snap.ProcessLatency.Avg, snap.ProcessLatency.Max)
}
