package kafka

import (
	"context"
	"errors"
	"fmt"
	"sync"

	constant "github.com/Evantastic/distribuidos-12020-common/common/constants"
	"github.com/Evantastic/distribuidos-12020-common/common/log"
	libOpentelemetry "github.com/Evantastic/distribuidos-12020-common/common/opentelemetry"
	ckafka "github.com/confluentinc/confluent-kafka-go/v2/kafka"
)

// pollTimeoutMs bounds each Poll so ReadMessage notices ctx cancellation.
const pollTimeoutMs = 100

var (
	// ErrNilConsumer is returned when a *Consumer receiver is nil.
	ErrNilConsumer = errors.New("kafka consumer is nil")
	// ErrNilMessage is returned when Commit is given no message.
	ErrNilMessage = errors.New("kafka message is nil")
)

// Consumer is a group member subscribed to a single topic.
//
// Consumer is not safe for concurrent ReadMessage calls; librdkafka delivers
// messages to one poller.
type Consumer struct {
	consumer *ckafka.Consumer
	logger   log.Logger
	topic    string

	closedCh chan struct{}
	logsDone chan struct{}

	once sync.Once
	err  error
}

// NewConsumer creates a consumer in cfg.GroupID and subscribes it to
// cfg.Topic. Offsets are auto-committed by librdkafka; Commit is available
// for callers that need an explicit commit point.
func NewConsumer(ctx context.Context, cfg Config, logger log.Logger) (*Consumer, error) {
	cfg = cfg.withDefaults()

	if err := cfg.validateConsumer(); err != nil {
		return nil, err
	}

	logger = log.OrNop(logger).With(log.String("component", "kafka.consumer"))

	c, err := ckafka.NewConsumer(&ckafka.ConfigMap{
		"bootstrap.servers":      cfg.Host,
		"group.id":               cfg.GroupID,
		"auto.offset.reset":      cfg.AutoOffsetReset,
		"go.logs.channel.enable": cfg.EnableLogs,
	})
	if err != nil {
		_ = libOpentelemetry.RecordConnectionFailure(ctx, constant.MessagingKafka, "new_consumer")

		return nil, fmt.Errorf("failed to create kafka consumer: %w", err)
	}

	if err := c.SubscribeTopics([]string{cfg.Topic}, nil); err != nil {
		_ = c.Close()

		return nil, fmt.Errorf("failed to subscribe to topic %q: %w", cfg.Topic, err)
	}

	kc := &Consumer{
		consumer: c,
		logger:   logger,
		topic:    cfg.Topic,
		closedCh: make(chan struct{}),
		logsDone: make(chan struct{}),
	}

	if cfg.EnableLogs {
		go forwardLogs(ctx, c.Logs(), kc.closedCh, kc.logsDone, logger)
	} else {
		close(kc.logsDone)
	}

	logger.Log(ctx, log.LevelInfo, "kafka consumer subscribed",
		log.String("bootstrap_servers", cfg.Host),
		log.String("group_id", cfg.GroupID),
		log.String("topic", cfg.Topic),
	)

	return kc, nil
}

// ReadMessage polls until a message arrives, a fatal broker error occurs or
// ctx is done. Non-fatal broker errors are logged and skipped.
func (c *Consumer) ReadMessage(ctx context.Context) (*Message, error) {
	if c == nil {
		return nil, ErrNilConsumer
	}

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-c.closedCh:
			return nil, ErrClosed
		default:
		}

		switch ev := c.consumer.Poll(pollTimeoutMs).(type) {
		case nil:
			continue
		case *ckafka.Message:
			if ev.TopicPartition.Error != nil {
				return nil, fmt.Errorf("kafka consume: %w", ev.TopicPartition.Error)
			}

			return fromKafkaMessage(ev), nil
		case ckafka.Error:
			if ev.IsFatal() {
				c.logger.Log(ctx, log.LevelError, "fatal kafka consumer error", log.Err(ev))

				return nil, fmt.Errorf("kafka consume: %w", ev)
			}

			c.logger.Log(ctx, log.LevelWarn, "kafka consumer error", log.Err(ev))
		default:
			c.logger.Log(ctx, log.LevelDebug, "ignoring kafka event", log.String("event", ev.String()))
		}
	}
}

// Commit stores msg's offset + 1 as the group's position for its partition.
func (c *Consumer) Commit(_ context.Context, msg *Message) error {
	if c == nil {
		return ErrNilConsumer
	}

	if msg == nil {
		return ErrNilMessage
	}

	select {
	case <-c.closedCh:
		return ErrClosed
	default:
	}

	topic := msg.Topic
	if topic == "" {
		topic = c.topic
	}

	_, err := c.consumer.CommitOffsets([]ckafka.TopicPartition{{
		Topic:     &topic,
		Partition: msg.Partition,
		Offset:    ckafka.Offset(msg.Offset + 1),
	}})
	if err != nil {
		return fmt.Errorf("kafka commit: %w", err)
	}

	return nil
}

// Ping requests metadata for the subscribed topic, bounded by ctx's deadline.
func (c *Consumer) Ping(ctx context.Context) error {
	if c == nil {
		return ErrNilConsumer
	}

	select {
	case <-c.closedCh:
		return ErrClosed
	default:
	}

	topic := c.topic
	if _, err := c.consumer.GetMetadata(&topic, false, metadataTimeoutMs(ctx)); err != nil {
		return fmt.Errorf("kafka metadata: %w", err)
	}

	return nil
}

// Raw returns the underlying confluent consumer.
func (c *Consumer) Raw() *ckafka.Consumer {
	if c == nil {
		return nil
	}

	return c.consumer
}

// Close leaves the group and releases the consumer. Calling Close more than
// once returns the first result.
func (c *Consumer) Close() error {
	if c == nil {
		return ErrNilConsumer
	}

	c.once.Do(func() {
		close(c.closedCh)
		<-c.logsDone

		if err := c.consumer.Close(); err != nil {
			c.err = fmt.Errorf("failed to close kafka consumer: %w", err)
		}

		c.logger.Log(context.Background(), log.LevelInfo, "kafka consumer closed")
	})

	return c.err
}
