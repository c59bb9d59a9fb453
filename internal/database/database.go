package database

import (
	"context"
	"fmt"
	"slices"

	"github.com/bytedance/sonic"

	"executor/internal/codec"
	"executor/internal/order"
	"executor/internal/schema"
	"executor/internal/state"
	"executor/pkg/exception"
)

const (
	keyPrefix      = "Execution:"
	keyOrders      = keyPrefix + "Orders:"
	keyPositions   = keyPrefix + "Positions:"
	keyAccounts    = keyPrefix + "Accounts:"
	keyIndexOrders = keyPrefix + "Index:Orders:"
)

// Registration binds an order to its owners. It is persisted once per order,
// after the order's events, and is the source of every relational index on
// rebuild. Legs of an atomic order list the whole group; a leg is only
// restored when every leg of its group is registered.
type Registration struct {
	OrderID    schema.OrderID    `json:"orderId"`
	TraderID   schema.TraderID   `json:"traderId"`
	AccountID  schema.AccountID  `json:"accountId"`
	StrategyID schema.StrategyID `json:"strategyId"`
	PositionID schema.PositionID `json:"positionId,omitempty"`
	Group      []schema.OrderID  `json:"group,omitempty"`
}

// Scope filters queries. An empty Trader selects every trader and an empty
// Strategy selects every strategy of the trader.
type Scope struct {
	Trader   schema.TraderID
	Strategy schema.StrategyID
}

// Options controls database behavior.
type Options struct {
	// LoadCache enables rebuilding the cache from the store in LoadCaches.
	LoadCache bool
}

type traderStrategy struct {
	trader   schema.TraderID
	strategy schema.StrategyID
}

// Database owns the cached orders, positions and accounts, their indices and
// the event logs they are rebuilt from. It is not safe for concurrent use.
type Database struct {
	store Store
	opt   Options

	orders    map[schema.OrderID]*order.Order
	positions map[schema.PositionID]*state.Position
	accounts  map[schema.AccountID]*state.Account

	orderOwner    map[schema.OrderID]Registration
	positionOwner map[schema.PositionID]Registration

	traderOrders      setIndex[schema.TraderID, schema.OrderID]
	traderPositions   setIndex[schema.TraderID, schema.PositionID]
	traderStrategies  setIndex[schema.TraderID, schema.StrategyID]
	strategyOrders    setIndex[traderStrategy, schema.OrderID]
	strategyPositions setIndex[traderStrategy, schema.PositionID]
	accountOrders     setIndex[schema.AccountID, schema.OrderID]
	accountPositions  setIndex[schema.AccountID, schema.PositionID]
	positionOrders    setIndex[schema.PositionID, schema.OrderID]

	orderIDs        Set[schema.OrderID]
	ordersWorking   Set[schema.OrderID]
	ordersCompleted Set[schema.OrderID]
	positionIDs     Set[schema.PositionID]
	positionsOpen   Set[schema.PositionID]
	positionsClosed Set[schema.PositionID]
}

// New creates an empty database over store.
func New(store Store, opt Options) *Database {
	db := &Database{store: store, opt: opt}
	db.ClearCaches()
	return db
}

// ClearCaches drops every cached aggregate and index. The store is untouched.
func (db *Database) ClearCaches() {
	db.orders = make(map[schema.OrderID]*order.Order)
	db.positions = make(map[schema.PositionID]*state.Position)
	db.accounts = make(map[schema.AccountID]*state.Account)
	db.orderOwner = make(map[schema.OrderID]Registration)
	db.positionOwner = make(map[schema.PositionID]Registration)
	db.traderOrders = setIndex[schema.TraderID, schema.OrderID]{}
	db.traderPositions = setIndex[schema.TraderID, schema.PositionID]{}
	db.traderStrategies = setIndex[schema.TraderID, schema.StrategyID]{}
	db.strategyOrders = setIndex[traderStrategy, schema.OrderID]{}
	db.strategyPositions = setIndex[traderStrategy, schema.PositionID]{}
	db.accountOrders = setIndex[schema.AccountID, schema.OrderID]{}
	db.accountPositions = setIndex[schema.AccountID, schema.PositionID]{}
	db.positionOrders = setIndex[schema.PositionID, schema.OrderID]{}
	db.orderIDs = NewSet[schema.OrderID]()
	db.ordersWorking = NewSet[schema.OrderID]()
	db.ordersCompleted = NewSet[schema.OrderID]()
	db.positionIDs = NewSet[schema.PositionID]()
	db.positionsOpen = NewSet[schema.PositionID]()
	db.positionsClosed = NewSet[schema.PositionID]()
}

// Flush clears the caches and every persisted log.
func (db *Database) Flush(ctx context.Context) error {
	if err := db.store.Flush(ctx); err != nil {
		return fmt.Errorf("flush store, err: %w", err)
	}
	db.ClearCaches()
	return nil
}

// AddOrder persists a new order's events and registration, then caches and
// indexes it. An order already cached is left untouched, and nothing is
// cached when persisting fails.
func (db *Database) AddOrder(ctx context.Context, o *order.Order, reg Registration) error {
	if o == nil {
		return exception.ErrNilInstance
	}
	if _, ok := db.orders[o.ID()]; ok {
		return fmt.Errorf("%w: order %s", exception.ErrDuplicateAggregate, o.ID())
	}
	reg.OrderID = o.ID()
	reg.Group = nil

	rec, err := encodeOrder(o, reg)
	if err != nil {
		return err
	}
	if err := rec.persistEvents(ctx, db.store); err != nil {
		return err
	}
	if err := rec.persistRegistration(ctx, db.store); err != nil {
		return err
	}
	db.cacheOrder(o, reg)
	return nil
}

// AddAtomicOrder adds every leg of a under the same registration. Every leg
// is encoded and persisted before any is cached, so a failure leaves the
// cache without any leg of a. Registrations are written last; a rebuild
// drops a group whose registrations are incomplete.
func (db *Database) AddAtomicOrder(ctx context.Context, a *order.AtomicOrder, reg Registration) error {
	if a == nil {
		return exception.ErrNilInstance
	}
	legs := a.Legs()
	group := make([]schema.OrderID, 0, len(legs))
	for _, leg := range legs {
		if _, ok := db.orders[leg.ID()]; ok || slices.Contains(group, leg.ID()) {
			return fmt.Errorf("%w: order %s of %s", exception.ErrDuplicateAggregate, leg.ID(), a.ID)
		}
		group = append(group, leg.ID())
	}

	records := make([]orderRecords, 0, len(legs))
	for _, leg := range legs {
		legReg := reg
		legReg.OrderID = leg.ID()
		legReg.Group = group
		rec, err := encodeOrder(leg, legReg)
		if err != nil {
			return fmt.Errorf("atomic order %s, err: %w", a.ID, err)
		}
		records = append(records, rec)
	}
	for _, rec := range records {
		if err := rec.persistEvents(ctx, db.store); err != nil {
			return fmt.Errorf("atomic order %s, err: %w", a.ID, err)
		}
	}
	for _, rec := range records {
		if err := rec.persistRegistration(ctx, db.store); err != nil {
			return fmt.Errorf("atomic order %s, err: %w", a.ID, err)
		}
	}
	for _, rec := range records {
		db.cacheOrder(rec.order, rec.reg)
	}
	return nil
}

func (db *Database) cacheOrder(o *order.Order, reg Registration) {
	db.orders[o.ID()] = o
	db.indexOrder(reg)
	db.classifyOrder(o)
}

// orderRecords holds the encoded store records of one new order.
type orderRecords struct {
	order        *order.Order
	reg          Registration
	events       [][]byte
	registration []byte
}

func encodeOrder(o *order.Order, reg Registration) (orderRecords, error) {
	rec := orderRecords{order: o, reg: reg}
	for _, e := range o.Events() {
		data, err := codec.EncodeEvent(e)
		if err != nil {
			return rec, fmt.Errorf("encode %s of %s, err: %w", e.Type(), o.ID(), err)
		}
		rec.events = append(rec.events, data)
	}
	data, err := sonic.Marshal(reg)
	if err != nil {
		return rec, fmt.Errorf("%w: registration of %s, err: %w", exception.ErrSerialization, o.ID(), err)
	}
	rec.registration = data
	return rec, nil
}

func (r orderRecords) persistEvents(ctx context.Context, store Store) error {
	key := keyOrders + string(r.order.ID())
	for _, data := range r.events {
		if err := store.AppendEvent(ctx, key, data); err != nil {
			return fmt.Errorf("persist events of %s, err: %w", r.order.ID(), err)
		}
	}
	return nil
}

func (r orderRecords) persistRegistration(ctx context.Context, store Store) error {
	if err := store.AppendEvent(ctx, keyIndexOrders+string(r.order.ID()), r.registration); err != nil {
		return fmt.Errorf("persist registration of %s, err: %w", r.order.ID(), err)
	}
	return nil
}

// UpdateOrder reclassifies a cached order and persists its latest event.
func (db *Database) UpdateOrder(ctx context.Context, o *order.Order) error {
	if o == nil {
		return exception.ErrNilInstance
	}
	if _, ok := db.orders[o.ID()]; !ok {
		return fmt.Errorf("%w: order %s", exception.ErrNotFound, o.ID())
	}
	db.classifyOrder(o)
	return appendAll(ctx, db.store, keyOrders+string(o.ID()), []schema.OrderEvent{o.LastEvent()})
}

// AddPosition caches a new position opened by a fill.
func (db *Database) AddPosition(ctx context.Context, p *state.Position) error {
	if p == nil {
		return exception.ErrNilInstance
	}
	if _, ok := db.positions[p.ID()]; ok {
		return fmt.Errorf("%w: position %s", exception.ErrDuplicateAggregate, p.ID())
	}
	if err := appendAll(ctx, db.store, keyPositions+string(p.ID()), p.Events()); err != nil {
		return err
	}
	db.positions[p.ID()] = p
	db.positionIDs.Add(p.ID())
	db.classifyPosition(p)
	return nil
}

// UpdatePosition reclassifies a cached position and persists its latest fill.
func (db *Database) UpdatePosition(ctx context.Context, p *state.Position) error {
	if p == nil {
		return exception.ErrNilInstance
	}
	if _, ok := db.positions[p.ID()]; !ok {
		return fmt.Errorf("%w: position %s", exception.ErrNotFound, p.ID())
	}
	db.classifyPosition(p)
	return appendAll(ctx, db.store, keyPositions+string(p.ID()), []schema.FillEvent{p.LastEvent()})
}

// AddAccount caches a new account.
func (db *Database) AddAccount(ctx context.Context, a *state.Account) error {
	if a == nil {
		return exception.ErrNilInstance
	}
	if _, ok := db.accounts[a.ID()]; ok {
		return fmt.Errorf("%w: account %s", exception.ErrDuplicateAggregate, a.ID())
	}
	if err := appendAll(ctx, db.store, keyAccounts+string(a.ID()), a.Events()); err != nil {
		return err
	}
	db.accounts[a.ID()] = a
	return nil
}

// UpdateAccount persists the latest state of a cached account.
func (db *Database) UpdateAccount(ctx context.Context, a *state.Account) error {
	if a == nil {
		return exception.ErrNilInstance
	}
	if _, ok := db.accounts[a.ID()]; !ok {
		return fmt.Errorf("%w: account %s", exception.ErrNotFound, a.ID())
	}
	return appendAll(ctx, db.store, keyAccounts+string(a.ID()), []schema.AccountStateEvent{a.LastEvent()})
}

func (db *Database) GetOrder(id schema.OrderID) (*order.Order, bool) {
	o, ok := db.orders[id]
	return o, ok
}

func (db *Database) GetPosition(id schema.PositionID) (*state.Position, bool) {
	p, ok := db.positions[id]
	return p, ok
}

func (db *Database) GetAccount(id schema.AccountID) (*state.Account, bool) {
	a, ok := db.accounts[id]
	return a, ok
}

// GetPositionForOrder returns the position the order is registered under, if it exists yet.
func (db *Database) GetPositionForOrder(id schema.OrderID) (*state.Position, bool) {
	positionID, ok := db.PositionIDForOrder(id)
	if !ok {
		return nil, false
	}
	return db.GetPosition(positionID)
}

func (db *Database) indexOrder(reg Registration) {
	key := traderStrategy{reg.TraderID, reg.StrategyID}
	db.orderOwner[reg.OrderID] = reg
	db.orderIDs.Add(reg.OrderID)
	db.traderOrders.add(reg.TraderID, reg.OrderID)
	db.traderStrategies.add(reg.TraderID, reg.StrategyID)
	db.strategyOrders.add(key, reg.OrderID)
	db.accountOrders.add(reg.AccountID, reg.OrderID)

	if reg.PositionID == "" {
		return
	}
	db.positionOrders.add(reg.PositionID, reg.OrderID)
	if _, ok := db.positionOwner[reg.PositionID]; !ok {
		db.positionOwner[reg.PositionID] = reg
	}
	db.traderPositions.add(reg.TraderID, reg.PositionID)
	db.strategyPositions.add(key, reg.PositionID)
	db.accountPositions.add(reg.AccountID, reg.PositionID)
}

func (db *Database) classifyOrder(o *order.Order) {
	switch {
	case o.IsWorking():
		db.ordersWorking.Add(o.ID())
		db.ordersCompleted.Remove(o.ID())
	case o.IsCompleted():
		db.ordersCompleted.Add(o.ID())
		db.ordersWorking.Remove(o.ID())
	default:
		db.ordersWorking.Remove(o.ID())
		db.ordersCompleted.Remove(o.ID())
	}
}

func (db *Database) classifyPosition(p *state.Position) {
	if p.IsOpen() {
		db.positionsOpen.Add(p.ID())
		db.positionsClosed.Remove(p.ID())
		return
	}
	db.positionsClosed.Add(p.ID())
	db.positionsOpen.Remove(p.ID())
}

func appendAll[E schema.Event](ctx context.Context, store Store, key string, events []E) error {
	for _, e := range events {
		data, err := codec.EncodeEvent(e)
		if err != nil {
			return fmt.Errorf("persist %s to %s, err: %w", e.Type(), key, err)
		}
		if err := store.AppendEvent(ctx, key, data); err != nil {
			return fmt.Errorf("persist %s to %s, err: %w", e.Type(), key, err)
		}
	}
	return nil
}
