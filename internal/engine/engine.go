package engine

import (
	"context"
	"time"

	"github.com/yanun0323/logs"

	"executor/internal/bus"
	"executor/internal/database"
	"executor/internal/errors"
	"executor/internal/obs"
	"executor/internal/schema"
	"executor/pkg/exception"
)

const defaultMailboxCapacity = 65536

// Options toggles engine behavior.
type Options struct {
	// GTDExpiryBackups schedules a cancel at the expiry of every working GTD order.
	GTDExpiryBackups bool
	MailboxCapacity  int
}

// Config wires the engine to its collaborators.
type Config struct {
	Database  *database.Database
	Gateway   Gateway
	Publisher Publisher
	Scheduler Scheduler
	Metrics   *obs.Metrics
	Options   Options
	// Clock defaults to time.Now.
	Clock func() time.Time
}

// Engine processes commands and events one at a time from its mailbox. It is
// the only writer of its database.
type Engine struct {
	db        *database.Database
	gateway   Gateway
	publisher Publisher
	scheduler Scheduler
	metrics   *obs.Metrics
	opt       Options
	now       func() time.Time

	mailbox *bus.Queue[any]
	// latest pending modification per order, sent once the order is working
	modifyBuffer map[schema.OrderID]ModifyOrder
}

var _ bus.Endpoint = (*Engine)(nil)

// New creates an engine. Database, Gateway, Publisher and Scheduler are required.
func New(cfg Config) (*Engine, error) {
	if cfg.Database == nil || cfg.Gateway == nil || cfg.Publisher == nil || cfg.Scheduler == nil {
		return nil, errors.Wrap(exception.ErrNilInstance, "engine requires database, gateway, publisher and scheduler")
	}
	if cfg.Metrics == nil {
		cfg.Metrics = obs.NewMetrics()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Options.MailboxCapacity <= 0 {
		cfg.Options.MailboxCapacity = defaultMailboxCapacity
	}
	return &Engine{
		db:           cfg.Database,
		gateway:      cfg.Gateway,
		publisher:    cfg.Publisher,
		scheduler:    cfg.Scheduler,
		metrics:      cfg.Metrics,
		opt:          cfg.Options,
		now:          cfg.Clock,
		mailbox:      bus.NewQueue[any](cfg.Options.MailboxCapacity),
		modifyBuffer: make(map[schema.OrderID]ModifyOrder),
	}, nil
}

// Send enqueues a command or event, waiting while the mailbox is full.
func (e *Engine) Send(msg any) {
	if err := e.mailbox.Publish(context.Background(), msg); err != nil {
		logs.Errorf("engine mailbox rejected %T, err: %+v", msg, err)
	}
}

// Run processes the mailbox until ctx is done or Stop drains it.
func (e *Engine) Run(ctx context.Context) {
	e.mailbox.Run(ctx, func(msg any) {
		e.Process(ctx, msg)
	})
}

// Stop closes the mailbox. Messages already queued are still processed by Run.
func (e *Engine) Stop() {
	e.mailbox.Close()
}

// Process handles one message synchronously. It must not be called
// concurrently with itself or with Run.
func (e *Engine) Process(ctx context.Context, msg any) {
	start := time.Now()
	defer func() {
		e.metrics.ObserveProcess(time.Since(start))
	}()

	switch m := msg.(type) {
	case Command:
		e.metrics.IncCommand()
		e.handleCommand(ctx, m)
	case schema.AccountStateEvent:
		e.metrics.ObserveEvent(m.Type())
		e.handleAccountState(ctx, m)
	case schema.OrderEvent:
		e.metrics.ObserveEvent(m.Type())
		e.handleOrderEvent(ctx, m)
	default:
		logs.Errorf("engine received %T, err: %+v", msg, exception.ErrUnknownMessage)
	}
}

// Database exposes the engine's database for read-only queries.
func (e *Engine) Database() *database.Database { return e.db }

// Metrics returns the engine counters.
func (e *Engine) Metrics() *obs.Metrics { return e.metrics }

func (e *Engine) CommandCount() uint64 { return e.metrics.CommandCount() }

func (e *Engine) EventCount() uint64 { return e.metrics.EventCount() }

// PendingModifications is the number of buffered modify commands.
func (e *Engine) PendingModifications() int { return len(e.modifyBuffer) }

// Pending reports the number of queued messages.
func (e *Engine) Pending() int { return e.mailbox.Len() }

func (e *Engine) fail(err error, format string, args ...any) {
	e.metrics.IncFailure(failureOf(err))
	logs.Errorf(format+", err: %+v", append(args, err)...)
}

func failureOf(err error) obs.Failure {
	switch {
	case errors.Is(err, exception.ErrNotFound):
		return obs.FailureNotFound
	case errors.Is(err, exception.ErrDuplicateAggregate):
		return obs.FailureDuplicate
	case errors.Is(err, exception.ErrInvalidStateTransition),
		errors.Is(err, exception.ErrInvalidFill),
		errors.Is(err, exception.ErrEventMismatch):
		return obs.FailureInvalidTransition
	default:
		return obs.FailurePersistence
	}
}
