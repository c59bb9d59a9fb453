package main

import (
	"context"
	"flag"
	"log"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	pyroscope "github.com/grafana/pyroscope-go"
	"github.com/shopspring/decimal"
	"github.com/yanun0323/logs"
	"github.com/yanun0323/pkg/sys"

	"executor/internal/database"
	"executor/internal/engine"
	"executor/internal/errors"
	"executor/internal/gateway"
	"executor/internal/obs"
	"executor/internal/ops"
	"executor/internal/order"
	"executor/internal/publisher"
	"executor/internal/scheduler"
	"executor/internal/schema"
)

func main() {
	if err := run(); err != nil {
		log.Printf("executor: %v", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "Path to JSON config")
	envPath := flag.String("env", ".env", "Path to .env overrides")
	flush := flag.Bool("flush", false, "Flush the event store before start")
	statsInterval := flag.Duration("stats-interval", 15*time.Second, "Metrics log interval (0=disable)")
	symbol := flag.String("symbol", "AUDUSD.FXCM", "Symbol quoted by the simulated gateway")
	quote := flag.String("quote", "", "Initial quote of -symbol (empty=no quote)")
	cash := flag.String("cash", "100000", "Cash balance reported by the simulated gateway")
	demo := flag.Bool("demo", false, "Submit a market order and a GTD limit order on start")
	flag.Parse()

	loaded, err := ops.Load(*configPath, *envPath)
	if err != nil {
		return errors.Wrap(err, "load config")
	}

	if loaded.PyroscopeAddr != "" {
		profiler, err := pyroscope.Start(pyroscope.Config{
			ApplicationName: "executor",
			ServerAddress:   loaded.PyroscopeAddr,
			Tags:            map[string]string{"trader": loaded.TraderID.String()},
			ProfileTypes: []pyroscope.ProfileType{
				pyroscope.ProfileCPU,
				pyroscope.ProfileAllocObjects,
				pyroscope.ProfileAllocSpace,
				pyroscope.ProfileInuseObjects,
				pyroscope.ProfileInuseSpace,
			},
		})
		if err != nil {
			return errors.Wrap(err, "start pyroscope")
		}
		defer func() {
			_ = profiler.Stop()
		}()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, closeStore, err := ops.OpenStore(ctx, loaded)
	if err != nil {
		return errors.Wrap(err, "open store")
	}
	defer func() {
		if err := closeStore(); err != nil {
			logs.Errorf("close store, err: %+v", err)
		}
	}()

	db := database.New(store, database.Options{LoadCache: loaded.Engine.LoadCache})
	if *flush {
		if err := db.Flush(ctx); err != nil {
			return errors.Wrap(err, "flush database")
		}
	}
	report, err := db.LoadCaches(ctx)
	if err != nil {
		return errors.Wrap(err, "load caches")
	}
	if len(report.Skipped) > 0 {
		logs.Errorf("event logs skipped on load: %v", report.Skipped)
	}

	metrics := obs.NewMetrics()
	publishers := publisher.Multi{publisher.Log{}}
	var kafka *publisher.Kafka
	if loaded.Kafka.Enabled() {
		kafka = publisher.NewKafka(publisher.KafkaConfig{
			Brokers:      loaded.Kafka.Brokers,
			Topic:        loaded.Kafka.Topic,
			BatchTimeout: loaded.Kafka.BatchTimeout,
		}, metrics)
		publishers = append(publishers, kafka)
	}

	cashBalance, err := decimal.NewFromString(*cash)
	if err != nil {
		return errors.Wrap(err, "parse cash")
	}
	gw := gateway.NewSimulated(gateway.Config{
		AccountID:         loaded.AccountID,
		Cash:              cashBalance,
		ResendOnReconnect: true,
	})
	sched := scheduler.New(loaded.SchedulerTick, nil)

	e, err := engine.New(engine.Config{
		Database:  db,
		Gateway:   gw,
		Publisher: publishers,
		Scheduler: sched,
		Metrics:   metrics,
		Options: engine.Options{
			GTDExpiryBackups: loaded.Engine.GTDExpiryBackups,
			MailboxCapacity:  loaded.Engine.MailboxCapacity,
		},
	})
	if err != nil {
		return errors.Wrap(err, "create engine")
	}
	gw.Connect(e)

	var wg sync.WaitGroup
	runners := []func(context.Context){e.Run, gw.Run, sched.Run}
	if kafka != nil {
		runners = append(runners, kafka.Run)
	}
	for _, run := range runners {
		wg.Add(1)
		go func() {
			defer wg.Done()
			run(ctx)
		}()
	}

	if *quote != "" {
		price, err := decimal.NewFromString(*quote)
		if err != nil {
			return errors.Wrap(err, "parse quote")
		}
		gw.Quote(schema.Symbol(*symbol), price)
	}
	gw.SubscribeToPositionEvents()
	e.Send(engine.AccountInquiry{Header: engine.NewHeader(time.Now())})

	if *demo {
		if err := submitDemo(e, loaded, schema.Symbol(*symbol)); err != nil {
			return err
		}
	}

	logs.Infof("executor started, trader: %s, account: %s, store: %s", loaded.TraderID, loaded.AccountID, loaded.Backend)
	waitForShutdown(ctx, metrics, *statsInterval)

	cancel()
	wg.Wait()
	logs.Infof("executor stopped, commands: %d, events: %d, pending modifications: %d",
		e.CommandCount(), e.EventCount(), e.PendingModifications())
	return nil
}

func waitForShutdown(ctx context.Context, metrics *obs.Metrics, interval time.Duration) {
	var tick <-chan time.Time
	if interval > 0 {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		tick = ticker.C
	}
	shutdown := sys.Shutdown()
	for {
		select {
		case <-shutdown:
			logs.Info("shutdown signal received")
			return
		case <-ctx.Done():
			return
		case <-tick:
			snap := metrics.Snapshot()
			logs.Infof("commands: %d, events: %d, failures: %v, publish drops: %d, process avg: %s, max: %s",
				snap.CommandCount, snap.EventCount, snap.Failures, snap.PublishDrops,
				snap.ProcessLatency.Avg, snap.ProcessLatency.Max)
		}
	}
}

func submitDemo(e *engine.Engine, loaded ops.Loaded, symbol schema.Symbol) error {
	now := time.Now().UTC()
	positionID := schema.PositionID("P-" + uuid.NewString())

	market, err := order.NewMarket(order.Spec{
		ID:        schema.OrderID("O-" + uuid.NewString()),
		Symbol:    symbol,
		Label:     "DEMO_E",
		Side:      schema.OrderSideBuy,
		Quantity:  decimal.NewFromInt(100000),
		Timestamp: now,
	})
	if err != nil {
		return errors.Wrap(err, "create demo market order")
	}

	expire := now.Add(time.Minute)
	limit, err := order.NewLimit(order.Spec{
		ID:          schema.OrderID("O-" + uuid.NewString()),
		Symbol:      symbol,
		Label:       "DEMO_TP",
		Side:        schema.OrderSideSell,
		Quantity:    decimal.NewFromInt(100000),
		Price:       decimal.NewNullDecimal(decimal.RequireFromString("99999")),
		TimeInForce: schema.TimeInForceGTD,
		ExpireTime:  &expire,
		Timestamp:   now,
	})
	if err != nil {
		return errors.Wrap(err, "create demo limit order")
	}

	for _, o := range []*order.Order{market, limit} {
		e.Send(engine.SubmitOrder{
			Header:     engine.NewHeader(now),
			Order:      o,
			TraderID:   loaded.TraderID,
			AccountID:  loaded.AccountID,
			StrategyID: loaded.StrategyID,
			PositionID: positionID,
		})
	}
	return nil
}
