package database_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"executor/internal/codec"
	"executor/internal/database"
	"executor/internal/order"
	"executor/internal/schema"
	"executor/internal/state"
	"executor/internal/testkit"
	"executor/pkg/exception"
)

const positionID schema.PositionID = "P-123456"

func registration(position schema.PositionID) database.Registration {
	return database.Registration{
		TraderID:   testkit.Trader,
		AccountID:  testkit.Account,
		StrategyID: testkit.Strategy,
		PositionID: position,
	}
}

func newDatabase() (*database.Database, *database.MemoryStore) {
	store := database.NewMemoryStore()
	return database.New(store, database.Options{LoadCache: true}), store
}

func apply(t require.TestingT, db *database.Database, o *order.Order, events ...schema.OrderEvent) {
	for _, e := range events {
		require.NoError(t, o.Apply(e))
		require.NoError(t, db.UpdateOrder(context.Background(), o))
	}
}

func TestAddOrderIsGuarded(t *testing.T) {
	ctx := context.Background()
	db, store := newDatabase()
	o := testkit.Limit("O-1", schema.OrderSideBuy, "10", "1.0")

	require.NoError(t, db.AddOrder(ctx, o, registration(positionID)))

	other := testkit.Limit("O-1", schema.OrderSideSell, "99", "2.0")
	err := db.AddOrder(ctx, other, database.Registration{TraderID: "OTHER-001", AccountID: testkit.Account, StrategyID: "S-1"})
	require.ErrorIs(t, err, exception.ErrDuplicateAggregate)

	cached, ok := db.GetOrder("O-1")
	require.True(t, ok)
	assert.Same(t, o, cached)
	trader, _ := db.TraderIDForOrder("O-1")
	assert.Equal(t, testkit.Trader, trader)

	records, err := store.ReadEvents(ctx, "Execution:Orders:O-1")
	require.NoError(t, err)
	assert.Len(t, records, 1)

	_, ok = db.GetOrder("O-2")
	assert.False(t, ok)
	require.ErrorIs(t, db.UpdateOrder(ctx, testkit.Limit("O-2", schema.OrderSideBuy, "1", "1")), exception.ErrNotFound)
}

func TestOrderPartitions(t *testing.T) {
	ctx := context.Background()
	db, store := newDatabase()
	o := testkit.Limit("O-1", schema.OrderSideBuy, "10", "1.0")
	require.NoError(t, db.AddOrder(ctx, o, registration(positionID)))

	scope := database.Scope{Trader: testkit.Trader}
	assert.Equal(t, 0, db.OrderWorkingIDs(scope).Len())

	apply(t, db, o, testkit.Submitted(o), testkit.Accepted(o), testkit.Working(o))
	assert.True(t, db.IsOrderWorking("O-1"))
	assert.False(t, db.IsOrderCompleted("O-1"))
	assert.Equal(t, []schema.OrderID{"O-1"}, db.OrderWorkingIDs(scope).Slice())

	apply(t, db, o, testkit.Cancelled(o))
	assert.False(t, db.IsOrderWorking("O-1"))
	assert.Equal(t, []schema.OrderID{"O-1"}, db.OrderCompletedIDs(scope).Slice())
	assert.Len(t, db.OrdersCompleted(database.Scope{}), 1)

	records, err := store.ReadEvents(ctx, "Execution:Orders:O-1")
	require.NoError(t, err)
	assert.Len(t, records, 5)
}

func TestScopedQueries(t *testing.T) {
	ctx := context.Background()
	db, _ := newDatabase()

	orders := []struct {
		id       schema.OrderID
		trader   schema.TraderID
		strategy schema.StrategyID
		position schema.PositionID
	}{
		{"O-1", "TESTER-000", "SCALPER-01", "P-1"},
		{"O-2", "TESTER-000", "SCALPER-01", "P-1"},
		{"O-3", "TESTER-000", "TREND-02", "P-2"},
		{"O-4", "TESTER-001", "SCALPER-01", "P-3"},
	}
	for _, tc := range orders {
		reg := database.Registration{TraderID: tc.trader, AccountID: testkit.Account, StrategyID: tc.strategy, PositionID: tc.position}
		require.NoError(t, db.AddOrder(ctx, testkit.Market(tc.id, schema.OrderSideBuy, "1"), reg))
	}

	testCases := []struct {
		desc  string
		scope database.Scope
		want  []schema.OrderID
	}{
		{"all", database.Scope{}, []schema.OrderID{"O-1", "O-2", "O-3", "O-4"}},
		{"trader", database.Scope{Trader: "TESTER-000"}, []schema.OrderID{"O-1", "O-2", "O-3"}},
		{"trader strategy", database.Scope{Trader: "TESTER-000", Strategy: "SCALPER-01"}, []schema.OrderID{"O-1", "O-2"}},
		{"unknown trader", database.Scope{Trader: "NOBODY-000"}, []schema.OrderID{}},
	}
	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			assert.Equal(t, tc.want, db.OrderIDs(tc.scope).Slice())
		})
	}

	assert.Equal(t, []schema.TraderID{"TESTER-000", "TESTER-001"}, db.TraderIDs().Slice())
	assert.Equal(t, []schema.StrategyID{"SCALPER-01", "TREND-02"}, db.StrategyIDs("TESTER-000").Slice())
	assert.Equal(t, []schema.OrderID{"O-1", "O-2"}, db.PositionOrderIDs("P-1").Slice())
	assert.Equal(t, 4, db.AccountOrderIDs(testkit.Account).Len())
	position, ok := db.PositionIDForOrder("O-3")
	require.True(t, ok)
	assert.Equal(t, schema.PositionID("P-2"), position)
	strategy, ok := db.StrategyIDForPosition("P-3")
	require.True(t, ok)
	assert.Equal(t, schema.StrategyID("SCALPER-01"), strategy)
	trader, ok := db.TraderIDForPosition("P-3")
	require.True(t, ok)
	assert.Equal(t, schema.TraderID("TESTER-001"), trader)

	// positions only show up once they exist
	assert.Equal(t, 0, db.PositionIDs(database.Scope{Trader: "TESTER-000"}).Len())
}

func TestPositionAndAccount(t *testing.T) {
	ctx := context.Background()
	db, _ := newDatabase()
	o := testkit.Market("O-1", schema.OrderSideBuy, "100")
	require.NoError(t, db.AddOrder(ctx, o, registration(positionID)))

	p, err := state.NewPosition(positionID, testkit.Filled(o, "E-1", "1.2"))
	require.NoError(t, err)
	require.NoError(t, db.AddPosition(ctx, p))
	require.ErrorIs(t, db.AddPosition(ctx, p), exception.ErrDuplicateAggregate)
	assert.True(t, db.IsPositionOpen(positionID))
	assert.Equal(t, []schema.PositionID{positionID}, db.PositionOpenIDs(database.Scope{Trader: testkit.Trader, Strategy: testkit.Strategy}).Slice())
	found, ok := db.GetPositionForOrder("O-1")
	require.True(t, ok)
	assert.Same(t, p, found)

	closing := testkit.Market("O-2", schema.OrderSideSell, "100")
	require.NoError(t, p.Apply(testkit.Filled(closing, "E-2", "1.3")))
	require.NoError(t, db.UpdatePosition(ctx, p))
	assert.True(t, db.IsPositionClosed(positionID))
	assert.Len(t, db.PositionsClosed(database.Scope{}), 1)

	a, err := state.NewAccount(testkit.AccountState("1000"))
	require.NoError(t, err)
	require.NoError(t, db.AddAccount(ctx, a))
	require.ErrorIs(t, db.AddAccount(ctx, a), exception.ErrDuplicateAggregate)
	require.NoError(t, a.Apply(testkit.AccountState("900")))
	require.NoError(t, db.UpdateAccount(ctx, a))
	assert.Equal(t, []schema.AccountID{testkit.Account}, db.AccountIDs().Slice())
}

func TestAddAtomicOrderAllOrNothing(t *testing.T) {
	ctx := context.Background()
	db, _ := newDatabase()

	existing := testkit.StopMarket("O-2", schema.OrderSideSell, "10", "0.9")
	require.NoError(t, db.AddOrder(ctx, existing, registration("P-9")))

	entry := testkit.Limit("O-1", schema.OrderSideBuy, "10", "1.0")
	stop := testkit.StopMarket("O-2", schema.OrderSideSell, "10", "0.9")
	a, err := order.NewAtomicOrder("AO-1", entry, stop, nil)
	require.NoError(t, err)

	require.ErrorIs(t, db.AddAtomicOrder(ctx, a, registration(positionID)), exception.ErrDuplicateAggregate)
	_, ok := db.GetOrder("O-1")
	assert.False(t, ok)

	take := testkit.Limit("O-3", schema.OrderSideSell, "10", "1.1")
	a, err = order.NewAtomicOrder("AO-2", entry, testkit.StopMarket("O-4", schema.OrderSideSell, "10", "0.9"), take)
	require.NoError(t, err)
	require.NoError(t, db.AddAtomicOrder(ctx, a, registration(positionID)))
	assert.Equal(t, []schema.OrderID{"O-1", "O-3", "O-4"}, db.PositionOrderIDs(positionID).Slice())
}

func TestLoadCachesRoundTrip(t *testing.T) {
	ctx := context.Background()
	db, store := newDatabase()

	filled := testkit.Market("O-1", schema.OrderSideBuy, "100")
	require.NoError(t, db.AddOrder(ctx, filled, registration(positionID)))
	apply(t, db, filled, testkit.Submitted(filled), testkit.Accepted(filled), testkit.Working(filled))
	fill := testkit.Filled(filled, "E-1", "1.2000")
	apply(t, db, filled, fill)
	p, err := state.NewPosition(positionID, fill)
	require.NoError(t, err)
	require.NoError(t, db.AddPosition(ctx, p))

	working := testkit.Limit("O-2", schema.OrderSideSell, "50", "1.3")
	require.NoError(t, db.AddOrder(ctx, working, registration(positionID)))
	apply(t, db, working, testkit.Submitted(working), testkit.Accepted(working), testkit.Working(working), testkit.Modified(working, "1.31"))
	partial := testkit.PartiallyFilled(working, "E-2", "20", "1.31")
	apply(t, db, working, partial)
	require.NoError(t, p.Apply(partial))
	require.NoError(t, db.UpdatePosition(ctx, p))

	a, err := state.NewAccount(testkit.AccountState("100000"))
	require.NoError(t, err)
	require.NoError(t, db.AddAccount(ctx, a))

	rebuilt := database.New(store, database.Options{LoadCache: true})
	report, err := rebuilt.LoadCaches(ctx)
	require.NoError(t, err)
	assert.Empty(t, report.Skipped)
	assert.Equal(t, 2, report.Orders)
	assert.Equal(t, 1, report.Positions)
	assert.Equal(t, 1, report.Accounts)

	require.NoError(t, database.CompareSnapshots(db.Snapshot(), rebuilt.Snapshot()))
	assert.Equal(t, []schema.OrderID{"O-2"}, rebuilt.OrderWorkingIDs(database.Scope{Trader: testkit.Trader}).Slice())
	assert.Equal(t, []schema.OrderID{"O-1"}, rebuilt.OrderCompletedIDs(database.Scope{}).Slice())
	assert.Equal(t, []schema.OrderID{"O-1", "O-2"}, rebuilt.PositionOrderIDs(positionID).Slice())

	path := filepath.Join(t.TempDir(), "snapshot.json")
	require.NoError(t, database.WriteSnapshot(path, rebuilt.Snapshot()))
	loaded, err := database.ReadSnapshot(path)
	require.NoError(t, err)
	require.NoError(t, database.CompareSnapshots(db.Snapshot(), loaded))
}

func TestLoadCachesSkipsBrokenLogs(t *testing.T) {
	ctx := context.Background()
	db, store := newDatabase()

	good := testkit.Limit("O-1", schema.OrderSideBuy, "10", "1.0")
	require.NoError(t, db.AddOrder(ctx, good, registration(positionID)))

	corrupt := testkit.Limit("O-2", schema.OrderSideBuy, "10", "1.0")
	require.NoError(t, db.AddOrder(ctx, corrupt, registration(positionID)))
	require.NoError(t, store.AppendEvent(ctx, "Execution:Orders:O-2", []byte("{corrupt")))

	// a log that does not start with OrderInitialized
	headless := testkit.Limit("O-3", schema.OrderSideBuy, "10", "1.0")
	data, err := codec.EncodeEvent(testkit.Submitted(headless))
	require.NoError(t, err)
	require.NoError(t, store.AppendEvent(ctx, "Execution:Orders:O-3", data))

	rebuilt := database.New(store, database.Options{LoadCache: true})
	report, err := rebuilt.LoadCaches(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Orders)
	assert.ElementsMatch(t, []string{"Execution:Orders:O-2", "Execution:Orders:O-3"}, report.Skipped)
	_, ok := rebuilt.GetOrder("O-1")
	assert.True(t, ok)
	_, ok = rebuilt.GetOrder("O-2")
	assert.False(t, ok)
	assert.Equal(t, []schema.OrderID{"O-1"}, rebuilt.OrderIDs(database.Scope{}).Slice())
}

func TestLoadCacheDisabled(t *testing.T) {
	ctx := context.Background()
	db, store := newDatabase()
	require.NoError(t, db.AddOrder(ctx, testkit.Market("O-1", schema.OrderSideBuy, "1"), registration(positionID)))

	cold := database.New(store, database.Options{})
	report, err := cold.LoadCaches(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Orders)
	assert.Equal(t, 0, cold.OrderIDs(database.Scope{}).Len())

	require.NoError(t, db.Flush(ctx))
	assert.Equal(t, 0, db.OrderIDs(database.Scope{}).Len())
	keys, err := store.Keys(ctx, "Execution:*")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestProperty_RebuildReproducesState(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		ctx := context.Background()
		db, store := newDatabase()

		count := rapid.IntRange(1, 6).Draw(t, "orders")
		for i := 0; i < count; i++ {
			id := schema.OrderID(fmt.Sprintf("O-%d", i))
			position := schema.PositionID(fmt.Sprintf("P-%d", rapid.IntRange(0, 2).Draw(t, "position")))
			side := rapid.SampledFrom([]schema.OrderSide{schema.OrderSideBuy, schema.OrderSideSell}).Draw(t, "side")
			o := testkit.Limit(id, side, "100", "1.0")
			require.NoError(t, db.AddOrder(ctx, o, registration(position)))

			steps := rapid.IntRange(0, 6).Draw(t, "steps")
			lifecycle := []func() schema.OrderEvent{
				func() schema.OrderEvent { return testkit.Submitted(o) },
				func() schema.OrderEvent { return testkit.Accepted(o) },
				func() schema.OrderEvent { return testkit.Working(o) },
				func() schema.OrderEvent { return testkit.Modified(o, "1.01") },
				func() schema.OrderEvent {
					return testkit.PartiallyFilled(o, schema.ExecutionID(fmt.Sprintf("E-%d-1", i)), "40", "1.01")
				},
				func() schema.OrderEvent { return testkit.Filled(o, schema.ExecutionID(fmt.Sprintf("E-%d-2", i)), "1.02") },
			}
			for _, next := range lifecycle[:steps] {
				e := next()
				apply(t, db, o, e)
				fill, ok := e.(schema.FillEvent)
				if !ok {
					continue
				}
				if p, ok := db.GetPosition(position); ok {
					require.NoError(t, p.Apply(fill))
					require.NoError(t, db.UpdatePosition(ctx, p))
					continue
				}
				p, err := state.NewPosition(position, fill)
				require.NoError(t, err)
				require.NoError(t, db.AddPosition(ctx, p))
			}
		}

		rebuilt := database.New(store, database.Options{LoadCache: true})
		report, err := rebuilt.LoadCaches(ctx)
		require.NoError(t, err)
		require.Empty(t, report.Skipped)
		require.NoError(t, database.CompareSnapshots(db.Snapshot(), rebuilt.Snapshot()))
		require.Equal(t, db.OrderWorkingIDs(database.Scope{}).Slice(), rebuilt.OrderWorkingIDs(database.Scope{}).Slice())
		require.Equal(t, db.PositionOpenIDs(database.Scope{}).Slice(), rebuilt.PositionOpenIDs(database.Scope{}).Slice())
	})
}

// brokenStore fails every append to a key containing failOn.
type brokenStore struct {
	*database.MemoryStore
	failOn string
}

func (s *brokenStore) AppendEvent(ctx context.Context, key string, data []byte) error {
	if s.failOn != "" && strings.Contains(key, s.failOn) {
		return errStoreDown
	}
	return s.MemoryStore.AppendEvent(ctx, key, data)
}

var errStoreDown = errors.New("store down")

func TestAddAtomicOrderStoreFailure(t *testing.T) {
	testCases := []struct {
		desc   string
		failOn string
	}{
		{"stop loss events", "Orders:O-SL"},
		{"stop loss registration", "Index:Orders:O-SL"},
		{"entry registration", "Index:Orders:O-EN"},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			ctx := context.Background()
			store := &brokenStore{MemoryStore: database.NewMemoryStore(), failOn: tc.failOn}
			db := database.New(store, database.Options{LoadCache: true})

			entry := testkit.Market("O-EN", schema.OrderSideBuy, "10")
			stop := testkit.StopMarket("O-SL", schema.OrderSideSell, "10", "0.9")
			atomic, err := order.NewAtomicOrder("AO-1", entry, stop, nil)
			require.NoError(t, err)

			require.ErrorIs(t, db.AddAtomicOrder(ctx, atomic, registration(positionID)), errStoreDown)
			for _, id := range []schema.OrderID{"O-EN", "O-SL"} {
				_, ok := db.GetOrder(id)
				assert.False(t, ok, id)
			}
			assert.Zero(t, db.OrderIDs(database.Scope{}).Len())
			assert.Zero(t, db.PositionOrderIDs(positionID).Len())

			rebuilt := database.New(store.MemoryStore, database.Options{LoadCache: true})
			report, err := rebuilt.LoadCaches(ctx)
			require.NoError(t, err)
			assert.Zero(t, report.Orders)
			assert.Zero(t, rebuilt.OrderIDs(database.Scope{}).Len())
			_, ok := rebuilt.GetOrder("O-EN")
			assert.False(t, ok)
		})
	}
}

func TestAddOrderNotCachedWhenStoreFails(t *testing.T) {
	testCases := []struct {
		desc   string
		failOn string
	}{
		{"events", "Execution:Orders:O-1"},
		{"registration", "Index:Orders:O-1"},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			ctx := context.Background()
			store := &brokenStore{MemoryStore: database.NewMemoryStore(), failOn: tc.failOn}
			db := database.New(store, database.Options{LoadCache: true})

			require.ErrorIs(t, db.AddOrder(ctx, testkit.Market("O-1", schema.OrderSideBuy, "10"), registration(positionID)), errStoreDown)
			_, ok := db.GetOrder("O-1")
			assert.False(t, ok)

			regs, err := store.Keys(ctx, "Execution:Index:Orders:*")
			require.NoError(t, err)
			assert.Empty(t, regs)

			report, err := database.New(store.MemoryStore, database.Options{LoadCache: true}).LoadCaches(ctx)
			require.NoError(t, err)
			assert.Zero(t, report.Orders)
		})
	}
}
