package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"executor/internal/codec"
	"executor/internal/database"
	"executor/internal/errors"
	"executor/internal/ops"
	"executor/internal/recorder"
)

func main() {
	if err := run(); err != nil {
		log.Printf("replay: %v", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "Path to JSON config")
	envPath := flag.String("env", ".env", "Path to .env overrides")
	snapshotOut := flag.String("snapshot-out", "", "Write the rebuilt snapshot to this path")
	snapshotIn := flag.String("verify-snapshot", "", "Compare the rebuilt snapshot with this file")
	walDir := flag.String("wal-dir", "", "Print the raw records of a WAL directory instead of rebuilding")
	walPrefix := flag.String("wal-prefix", "", "WAL file prefix (default: wal)")
	noChecksum := flag.Bool("no-checksum", false, "Disable checksum validation of WAL records")
	decode := flag.Bool("decode", false, "Decode WAL record payloads")
	flag.Parse()

	ctx := context.Background()
	if *walDir != "" {
		return dumpWAL(ctx, recorder.PlaybackConfig{
			Dir:             *walDir,
			FilePrefix:      *walPrefix,
			DisableChecksum: *noChecksum,
		}, *decode)
	}

	loaded, err := ops.Load(*configPath, *envPath)
	if err != nil {
		return errors.Wrap(err, "load config")
	}
	store, closeStore, err := ops.OpenStore(ctx, loaded)
	if err != nil {
		return errors.Wrap(err, "open store")
	}
	defer func() { _ = closeStore() }()

	db := database.New(store, database.Options{LoadCache: true})
	report, err := db.LoadCaches(ctx)
	if err != nil {
		return errors.Wrap(err, "load caches")
	}
	for _, key := range report.Skipped {
		fmt.Printf("skipped %s\n", key)
	}

	snapshot := db.Snapshot()
	for _, o := range snapshot.Orders {
		fmt.Printf("order %s status=%s filled=%s/%s avg=%s trader=%s strategy=%s position=%s events=%d\n",
			o.ID, o.Status, o.FilledQuantity, o.Quantity, o.AveragePrice, o.Trader, o.Strategy, o.Position, o.Events)
	}
	for _, p := range snapshot.Positions {
		fmt.Printf("position %s %s net=%s avg=%s pnl=%s events=%d\n",
			p.ID, p.Market, p.NetQuantity, p.AverageOpenPrice, p.RealizedPnL, p.Events)
	}
	for _, a := range snapshot.Accounts {
		fmt.Printf("account %s cash=%s free=%s events=%d\n", a.ID, a.CashBalance, a.FreeEquity, a.Events)
	}

	if *snapshotOut != "" {
		if err := database.WriteSnapshot(*snapshotOut, snapshot); err != nil {
			return errors.Wrap(err, "write snapshot")
		}
	}
	if *snapshotIn != "" {
		expected, err := database.ReadSnapshot(*snapshotIn)
		if err != nil {
			return errors.Wrap(err, "read snapshot")
		}
		if err := database.CompareSnapshots(expected, snapshot); err != nil {
			return errors.Wrap(err, "snapshot mismatch")
		}
		fmt.Println("snapshot verified")
	}
	return nil
}

func dumpWAL(ctx context.Context, cfg recorder.PlaybackConfig, decode bool) error {
	pb, err := recorder.NewPlayback(cfg)
	if err != nil {
		return errors.Wrap(err, "playback init")
	}
	var index int
	return pb.Run(ctx, func(rec recorder.Record) error {
		index++
		fmt.Printf("%06d seq=%d ts=%d key=%s len=%d\n", index, rec.Seq, rec.Timestamp, rec.Key, len(rec.Payload))
		if !decode {
			return nil
		}
		event, err := codec.DecodeEvent(rec.Payload)
		if err != nil {
			fmt.Printf("  decode failed: %v\n", err)
			return nil
		}
		fmt.Printf("  %s %+v\n", event.Type(), event)
		return nil
	})
}
