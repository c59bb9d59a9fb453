package database

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/yanun0323/logs"

	"executor/internal/codec"
	"executor/internal/order"
	"executor/internal/schema"
	"executor/internal/state"
	"executor/pkg/exception"
)

// RebuildReport summarizes a LoadCaches run.
type RebuildReport struct {
	Orders    int
	Positions int
	Accounts  int
	// Skipped lists the keys whose logs could not be replayed.
	Skipped []string
}

// LoadCaches replaces the caches with the aggregates replayed from the store.
// A log that cannot be replayed is skipped and reported; it does not stop
// the others. Only store failures are returned as errors.
func (db *Database) LoadCaches(ctx context.Context) (RebuildReport, error) {
	var report RebuildReport
	if !db.opt.LoadCache {
		logs.Info("load cache disabled, start with empty execution cache")
		return report, nil
	}
	db.ClearCaches()

	if err := db.loadOrders(ctx, &report); err != nil {
		return report, err
	}
	if err := db.loadRegistrations(ctx, &report); err != nil {
		return report, err
	}
	if err := db.loadPositions(ctx, &report); err != nil {
		return report, err
	}
	if err := db.loadAccounts(ctx, &report); err != nil {
		return report, err
	}

	logs.Infof("execution cache loaded, orders: %d, positions: %d, accounts: %d, skipped: %d",
		report.Orders, report.Positions, report.Accounts, len(report.Skipped))
	return report, nil
}

func (db *Database) loadOrders(ctx context.Context, report *RebuildReport) error {
	return db.replay(ctx, keyOrders, report, func(id string, events []schema.Event) error {
		initial, ok := events[0].(schema.OrderInitialized)
		if !ok {
			return fmt.Errorf("%w: first record is %s", exception.ErrSerialization, events[0].Type())
		}
		if string(initial.OrderID) != id {
			return fmt.Errorf("%w: log holds order %s", exception.ErrSerialization, initial.OrderID)
		}
		o, err := order.New(initial)
		if err != nil {
			return err
		}
		for _, e := range events[1:] {
			oe, ok := e.(schema.OrderEvent)
			if !ok {
				return fmt.Errorf("%w: %s in order log", exception.ErrSerialization, e.Type())
			}
			if err := o.Apply(oe); err != nil {
				return err
			}
		}
		db.orders[o.ID()] = o
		report.Orders++
		return nil
	})
}

// loadRegistrations indexes the replayed orders. An order without a
// registration, or a leg of an atomic order whose group is not fully
// registered, was never acknowledged and is dropped from the cache.
func (db *Database) loadRegistrations(ctx context.Context, report *RebuildReport) error {
	keys, err := db.store.Keys(ctx, keyIndexOrders+"*")
	if err != nil {
		return fmt.Errorf("list registrations, err: %w", err)
	}
	regs := make([]Registration, 0, len(keys))
	registered := NewSet[schema.OrderID]()
	for _, key := range keys {
		records, err := db.store.ReadEvents(ctx, key)
		if err != nil {
			return fmt.Errorf("read %s, err: %w", key, err)
		}
		if len(records) == 0 {
			continue
		}
		var reg Registration
		if err := sonic.Unmarshal(records[0], &reg); err != nil {
			logs.Errorf("skip registration %s, err: %+v", key, err)
			continue
		}
		regs = append(regs, reg)
		registered.Add(reg.OrderID)
	}

	for _, reg := range regs {
		o, ok := db.orders[reg.OrderID]
		if !ok {
			continue
		}
		if missing := slices.IndexFunc(reg.Group, func(id schema.OrderID) bool { return !registered.Contains(id) }); missing >= 0 {
			logs.Errorf("skip order %s, group leg %s is not registered", reg.OrderID, reg.Group[missing])
			continue
		}
		db.indexOrder(reg)
		db.classifyOrder(o)
	}

	var orphans []schema.OrderID
	for id := range db.orders {
		if _, ok := db.orderOwner[id]; !ok {
			orphans = append(orphans, id)
		}
	}
	slices.Sort(orphans)
	for _, id := range orphans {
		logs.Errorf("drop unregistered order %s", id)
		delete(db.orders, id)
		report.Orders--
		report.Skipped = append(report.Skipped, keyOrders+string(id))
	}
	return nil
}

func (db *Database) loadPositions(ctx context.Context, report *RebuildReport) error {
	return db.replay(ctx, keyPositions, report, func(id string, events []schema.Event) error {
		fills := make([]schema.FillEvent, 0, len(events))
		for _, e := range events {
			fill, ok := e.(schema.FillEvent)
			if !ok {
				return fmt.Errorf("%w: %s in position log", exception.ErrSerialization, e.Type())
			}
			fills = append(fills, fill)
		}
		p, err := state.NewPosition(schema.PositionID(id), fills[0])
		if err != nil {
			return err
		}
		for _, fill := range fills[1:] {
			if err := p.Apply(fill); err != nil {
				return err
			}
		}
		db.positions[p.ID()] = p
		db.positionIDs.Add(p.ID())
		db.classifyPosition(p)
		report.Positions++
		return nil
	})
}

func (db *Database) loadAccounts(ctx context.Context, report *RebuildReport) error {
	return db.replay(ctx, keyAccounts, report, func(id string, events []schema.Event) error {
		states := make([]schema.AccountStateEvent, 0, len(events))
		for _, e := range events {
			s, ok := e.(schema.AccountStateEvent)
			if !ok {
				return fmt.Errorf("%w: %s in account log", exception.ErrSerialization, e.Type())
			}
			states = append(states, s)
		}
		if string(states[0].AccountID) != id {
			return fmt.Errorf("%w: log holds account %s", exception.ErrSerialization, states[0].AccountID)
		}
		a, err := state.NewAccount(states[0])
		if err != nil {
			return err
		}
		for _, s := range states[1:] {
			if err := a.Apply(s); err != nil {
				return err
			}
		}
		db.accounts[a.ID()] = a
		report.Accounts++
		return nil
	})
}

// replay decodes every log under prefix and hands it to build. Logs that
// fail to decode or build are skipped.
func (db *Database) replay(ctx context.Context, prefix string, report *RebuildReport, build func(id string, events []schema.Event) error) error {
	keys, err := db.store.Keys(ctx, prefix+"*")
	if err != nil {
		return fmt.Errorf("list %s, err: %w", prefix, err)
	}
	for _, key := range keys {
		records, err := db.store.ReadEvents(ctx, key)
		if err != nil {
			return fmt.Errorf("read %s, err: %w", key, err)
		}
		if err := replayLog(strings.TrimPrefix(key, prefix), records, build); err != nil {
			logs.Errorf("skip rebuild of %s, err: %+v", key, err)
			report.Skipped = append(report.Skipped, key)
		}
	}
	return nil
}

func replayLog(id string, records [][]byte, build func(id string, events []schema.Event) error) error {
	if len(records) == 0 {
		return fmt.Errorf("%w: empty log", exception.ErrSerialization)
	}
	events := make([]schema.Event, 0, len(records))
	for i, record := range records {
		e, err := codec.DecodeEvent(record)
		if err != nil {
			return fmt.Errorf("record %d, err: %w", i, err)
		}
		events = append(events, e)
	}
	return build(id, events)
}
