package publisher

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/yanun0323/logs"

	"executor/internal/bus"
	"executor/internal/codec"
	"executor/internal/obs"
	"executor/internal/schema"
)

const (
	defaultQueueSize    = 8192
	defaultBatchTimeout = 10 * time.Millisecond

	headerType   = "type"
	headerTrader = "trader"
)

// KafkaConfig configures the Kafka publisher.
type KafkaConfig struct {
	Brokers      []string
	Topic        string
	BatchTimeout time.Duration
	QueueSize    int
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka encodes events on the caller's goroutine and writes them from Run,
// keyed by aggregate id so each order keeps its order within a partition.
type Kafka struct {
	writer  messageWriter
	queue   *bus.Queue[kafka.Message]
	metrics *obs.Metrics
}

// NewKafka creates a publisher writing to cfg.Topic.
func NewKafka(cfg KafkaConfig, metrics *obs.Metrics) *Kafka {
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = defaultBatchTimeout
	}
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		BatchTimeout:           cfg.BatchTimeout,
		AllowAutoTopicCreation: true,
	}
	logs.Infof("kafka publisher created, brokers: %v, topic: %s", cfg.Brokers, cfg.Topic)
	return newKafka(writer, cfg.QueueSize, metrics)
}

func newKafka(writer messageWriter, queueSize int, metrics *obs.Metrics) *Kafka {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	return &Kafka{
		writer:  writer,
		queue:   bus.NewQueue[kafka.Message](queueSize),
		metrics: metrics,
	}
}

// Send queues event without blocking. Events are dropped when the queue is full.
func (k *Kafka) Send(event schema.Event) {
	data, err := codec.EncodeEvent(event)
	if err != nil {
		logs.Errorf("kafka encode %T, err: %+v", event, err)
		k.metrics.IncPublishDrop()
		return
	}

	headers := []kafka.Header{{Key: headerType, Value: []byte(event.Type().String())}}
	if trade, ok := event.(schema.TradeEvent); ok {
		headers = append(headers, kafka.Header{Key: headerTrader, Value: []byte(trade.TraderID)})
	}
	msg := kafka.Message{
		Key:     []byte(Key(event)),
		Value:   data,
		Headers: headers,
		Time:    event.Header().Timestamp,
	}
	if err := k.queue.TryPublish(msg); err != nil {
		logs.Errorf("kafka queue %s, err: %+v", msg.Key, err)
		k.metrics.IncPublishDrop()
	}
}

// Run writes queued messages until ctx is done or Close drains the queue,
// then closes the writer.
func (k *Kafka) Run(ctx context.Context) {
	defer func() {
		if err := k.writer.Close(); err != nil {
			logs.Errorf("close kafka writer, err: %+v", err)
		}
	}()

	k.queue.Run(ctx, func(msg kafka.Message) {
		if err := k.writer.WriteMessages(ctx, msg); err != nil {
			logs.Errorf("kafka write %s, err: %+v", msg.Key, err)
			k.metrics.IncPublishDrop()
		}
	})
}

// Close stops accepting events.
func (k *Kafka) Close() {
	k.queue.Close()
}
