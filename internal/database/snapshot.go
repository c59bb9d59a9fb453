package database

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	"executor/internal/schema"
)

// Snapshot captures the cached aggregates at a point in time.
type Snapshot struct {
	Timestamp int64           `json:"timestamp"`
	Orders    []OrderEntry    `json:"orders"`
	Positions []PositionEntry `json:"positions"`
	Accounts  []AccountEntry  `json:"accounts"`
}

// OrderEntry is the comparable state of one order.
type OrderEntry struct {
	ID             schema.OrderID     `json:"id"`
	Trader         schema.TraderID    `json:"trader"`
	Strategy       schema.StrategyID  `json:"strategy"`
	Position       schema.PositionID  `json:"position,omitempty"`
	Status         schema.OrderStatus `json:"status"`
	Quantity       string             `json:"quantity"`
	FilledQuantity string             `json:"filledQuantity"`
	Price          string             `json:"price,omitempty"`
	AveragePrice   string             `json:"averagePrice,omitempty"`
	Slippage       string             `json:"slippage"`
	BrokerOrderIDs string             `json:"brokerOrderIds"`
	ExecutionIDs   string             `json:"executionIds"`
	Working        bool               `json:"working"`
	Completed      bool               `json:"completed"`
	Events         int                `json:"events"`
}

// PositionEntry is the comparable state of one position.
type PositionEntry struct {
	ID               schema.PositionID     `json:"id"`
	Market           schema.MarketPosition `json:"market"`
	NetQuantity      string                `json:"netQuantity"`
	AverageOpenPrice string                `json:"averageOpenPrice"`
	RealizedPnL      string                `json:"realizedPnl"`
	Open             bool                  `json:"open"`
	Events           int                   `json:"events"`
}

// AccountEntry is the comparable state of one account.
type AccountEntry struct {
	ID          schema.AccountID `json:"id"`
	CashBalance string           `json:"cashBalance"`
	FreeEquity  string           `json:"freeEquity"`
	Events      int              `json:"events"`
}

// Snapshot builds a snapshot of the caches, ordered by id.
func (db *Database) Snapshot() Snapshot {
	snap := Snapshot{
		Timestamp: time.Now().UTC().UnixNano(),
		Orders:    make([]OrderEntry, 0, len(db.orders)),
		Positions: make([]PositionEntry, 0, len(db.positions)),
		Accounts:  make([]AccountEntry, 0, len(db.accounts)),
	}
	for _, o := range lookup(NewSetFromKeys(db.orders), db.orders) {
		reg := db.orderOwner[o.ID()]
		entry := OrderEntry{
			ID:             o.ID(),
			Trader:         reg.TraderID,
			Strategy:       reg.StrategyID,
			Position:       reg.PositionID,
			Status:         o.Status(),
			Quantity:       o.Quantity().String(),
			FilledQuantity: o.FilledQuantity().String(),
			Slippage:       o.Slippage().String(),
			BrokerOrderIDs: joinIDs(o.BrokerOrderIDs()),
			ExecutionIDs:   joinIDs(o.ExecutionIDs()),
			Working:        o.IsWorking(),
			Completed:      o.IsCompleted(),
			Events:         o.EventCount(),
		}
		if price := o.Price(); price.Valid {
			entry.Price = price.Decimal.String()
		}
		if avg := o.AveragePrice(); avg.Valid {
			entry.AveragePrice = avg.Decimal.String()
		}
		snap.Orders = append(snap.Orders, entry)
	}
	for _, p := range lookup(NewSetFromKeys(db.positions), db.positions) {
		snap.Positions = append(snap.Positions, PositionEntry{
			ID:               p.ID(),
			Market:           p.MarketPosition(),
			NetQuantity:      p.NetQuantity().String(),
			AverageOpenPrice: p.AverageOpenPrice().String(),
			RealizedPnL:      p.RealizedPnL().String(),
			Open:             p.IsOpen(),
			Events:           p.EventCount(),
		})
	}
	for _, a := range lookup(NewSetFromKeys(db.accounts), db.accounts) {
		snap.Accounts = append(snap.Accounts, AccountEntry{
			ID:          a.ID(),
			CashBalance: a.CashBalance().String(),
			FreeEquity:  a.FreeEquity().String(),
			Events:      a.EventCount(),
		})
	}
	return snap
}

// NewSetFromKeys collects the keys of a map.
func NewSetFromKeys[K ~string, V any](m map[K]V) Set[K] {
	out := make(Set[K], len(m))
	for k := range m {
		out.Add(k)
	}
	return out
}

func joinIDs[T ~string](ids []T) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = string(id)
	}
	return strings.Join(parts, ",")
}

// WriteSnapshot writes a snapshot to disk as JSON.
func WriteSnapshot(path string, snapshot Snapshot) error {
	data, err := sonic.ConfigStd.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0o644)
}

// ReadSnapshot loads a snapshot from disk.
func ReadSnapshot(path string) (Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Snapshot{}, err
	}
	var snap Snapshot
	if err := sonic.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

// CompareSnapshots reports the first difference between two snapshots.
// Timestamps are ignored.
func CompareSnapshots(expected, actual Snapshot) error {
	if err := compareEntries("order", expected.Orders, actual.Orders, func(e OrderEntry) string { return string(e.ID) }); err != nil {
		return err
	}
	if err := compareEntries("position", expected.Positions, actual.Positions, func(e PositionEntry) string { return string(e.ID) }); err != nil {
		return err
	}
	return compareEntries("account", expected.Accounts, actual.Accounts, func(e AccountEntry) string { return string(e.ID) })
}

func compareEntries[E comparable](kind string, expected, actual []E, id func(E) string) error {
	if len(expected) != len(actual) {
		return fmt.Errorf("snapshot %s count mismatch: expected=%d actual=%d", kind, len(expected), len(actual))
	}
	expectedMap := make(map[string]E, len(expected))
	for _, entry := range expected {
		expectedMap[id(entry)] = entry
	}
	for _, entry := range actual {
		want, ok := expectedMap[id(entry)]
		if !ok {
			return fmt.Errorf("snapshot missing %s: %s", kind, id(entry))
		}
		if want != entry {
			return fmt.Errorf("snapshot %s mismatch: expected=%+v actual=%+v", kind, want, entry)
		}
	}
	return nil
}
