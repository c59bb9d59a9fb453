package database

import (
	"executor/internal/order"
	"executor/internal/schema"
	"executor/internal/state"
)

func (db *Database) TraderIDForOrder(id schema.OrderID) (schema.TraderID, bool) {
	reg, ok := db.orderOwner[id]
	return reg.TraderID, ok
}

func (db *Database) AccountIDForOrder(id schema.OrderID) (schema.AccountID, bool) {
	reg, ok := db.orderOwner[id]
	return reg.AccountID, ok
}

func (db *Database) StrategyIDForOrder(id schema.OrderID) (schema.StrategyID, bool) {
	reg, ok := db.orderOwner[id]
	return reg.StrategyID, ok
}

// PositionIDForOrder reports false when the order was registered without a position.
func (db *Database) PositionIDForOrder(id schema.OrderID) (schema.PositionID, bool) {
	reg, ok := db.orderOwner[id]
	return reg.PositionID, ok && reg.PositionID != ""
}

func (db *Database) TraderIDForPosition(id schema.PositionID) (schema.TraderID, bool) {
	reg, ok := db.positionOwner[id]
	return reg.TraderID, ok
}

func (db *Database) AccountIDForPosition(id schema.PositionID) (schema.AccountID, bool) {
	reg, ok := db.positionOwner[id]
	return reg.AccountID, ok
}

func (db *Database) StrategyIDForPosition(id schema.PositionID) (schema.StrategyID, bool) {
	reg, ok := db.positionOwner[id]
	return reg.StrategyID, ok
}

// PositionOrderIDs returns the orders registered under a position.
func (db *Database) PositionOrderIDs(id schema.PositionID) Set[schema.OrderID] {
	return db.positionOrders.get(id).clone()
}

func (db *Database) TraderIDs() Set[schema.TraderID] {
	out := NewSet[schema.TraderID]()
	for trader := range db.traderOrders {
		out.Add(trader)
	}
	return out
}

func (db *Database) AccountIDs() Set[schema.AccountID] {
	out := NewSet[schema.AccountID]()
	for account := range db.accountOrders {
		out.Add(account)
	}
	for account := range db.accounts {
		out.Add(account)
	}
	return out
}

func (db *Database) StrategyIDs(trader schema.TraderID) Set[schema.StrategyID] {
	return db.traderStrategies.get(trader).clone()
}

// AccountOrderIDs returns the orders placed through an account.
func (db *Database) AccountOrderIDs(account schema.AccountID) Set[schema.OrderID] {
	return db.accountOrders.get(account).Intersect(db.orderIDs)
}

// AccountPositionIDs returns the positions held on an account.
func (db *Database) AccountPositionIDs(account schema.AccountID) Set[schema.PositionID] {
	return db.accountPositions.get(account).Intersect(db.positionIDs)
}

func (db *Database) OrderIDs(scope Scope) Set[schema.OrderID] {
	return db.scopeOrders(scope, db.orderIDs)
}

func (db *Database) OrderWorkingIDs(scope Scope) Set[schema.OrderID] {
	return db.scopeOrders(scope, db.ordersWorking)
}

func (db *Database) OrderCompletedIDs(scope Scope) Set[schema.OrderID] {
	return db.scopeOrders(scope, db.ordersCompleted)
}

func (db *Database) PositionIDs(scope Scope) Set[schema.PositionID] {
	return db.scopePositions(scope, db.positionIDs)
}

func (db *Database) PositionOpenIDs(scope Scope) Set[schema.PositionID] {
	return db.scopePositions(scope, db.positionsOpen)
}

func (db *Database) PositionClosedIDs(scope Scope) Set[schema.PositionID] {
	return db.scopePositions(scope, db.positionsClosed)
}

func (db *Database) Orders(scope Scope) []*order.Order {
	return lookup(db.OrderIDs(scope), db.orders)
}

func (db *Database) OrdersWorking(scope Scope) []*order.Order {
	return lookup(db.OrderWorkingIDs(scope), db.orders)
}

func (db *Database) OrdersCompleted(scope Scope) []*order.Order {
	return lookup(db.OrderCompletedIDs(scope), db.orders)
}

func (db *Database) Positions(scope Scope) []*state.Position {
	return lookup(db.PositionIDs(scope), db.positions)
}

func (db *Database) PositionsOpen(scope Scope) []*state.Position {
	return lookup(db.PositionOpenIDs(scope), db.positions)
}

func (db *Database) PositionsClosed(scope Scope) []*state.Position {
	return lookup(db.PositionClosedIDs(scope), db.positions)
}

func (db *Database) IsOrderWorking(id schema.OrderID) bool { return db.ordersWorking.Contains(id) }

func (db *Database) IsOrderCompleted(id schema.OrderID) bool { return db.ordersCompleted.Contains(id) }

func (db *Database) IsPositionOpen(id schema.PositionID) bool { return db.positionsOpen.Contains(id) }

func (db *Database) IsPositionClosed(id schema.PositionID) bool {
	return db.positionsClosed.Contains(id)
}

func (db *Database) scopeOrders(scope Scope, partition Set[schema.OrderID]) Set[schema.OrderID] {
	switch {
	case scope.Trader == "":
		return partition.clone()
	case scope.Strategy == "":
		return partition.Intersect(db.traderOrders.get(scope.Trader))
	default:
		return partition.Intersect(db.strategyOrders.get(traderStrategy{scope.Trader, scope.Strategy}))
	}
}

func (db *Database) scopePositions(scope Scope, partition Set[schema.PositionID]) Set[schema.PositionID] {
	switch {
	case scope.Trader == "":
		return partition.clone()
	case scope.Strategy == "":
		return partition.Intersect(db.traderPositions.get(scope.Trader))
	default:
		return partition.Intersect(db.strategyPositions.get(traderStrategy{scope.Trader, scope.Strategy}))
	}
}

func lookup[K ~string, V any](ids Set[K], cache map[K]V) []V {
	out := make([]V, 0, ids.Len())
	for _, id := range ids.Slice() {
		if v, ok := cache[id]; ok {
			out = append(out, v)
		}
	}
	return out
}
