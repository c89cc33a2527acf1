package kafka

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Evantastic/distribuidos-12020-common/common/backoff"
	constant "github.com/Evantastic/distribuidos-12020-common/common/constants"
	"github.com/Evantastic/distribuidos-12020-common/common/log"
	libOpentelemetry "github.com/Evantastic/distribuidos-12020-common/common/opentelemetry"
	ckafka "github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

const (
	queueFullRetryDelay    = time.Second
	defaultMetadataTimeout = 5 * time.Second
)

var (
	// ErrNilProducer is returned when a *Producer receiver is nil.
	ErrNilProducer = errors.New("kafka producer is nil")
	// ErrClosed is returned when a closed producer or consumer is used.
	ErrClosed = errors.New("kafka client is closed")
	// ErrNoTopic is returned when neither the message nor the config names a topic.
	ErrNoTopic = errors.New("kafka message has no topic")
)

// Producer is a synchronous producer: Produce returns once the broker has
// acknowledged the message or ctx is done.
//
// Background goroutines drain producer events and, when enabled, librdkafka
// logs. Close must be called to stop them and flush queued messages.
type Producer struct {
	producer     *ckafka.Producer
	logger       log.Logger
	topic        string
	flushTimeout time.Duration

	errCh      chan error
	closedCh   chan struct{}
	eventsDone chan struct{}
	logsDone   chan struct{}

	mu     sync.RWMutex
	closed bool
	once   sync.Once
	err    error
}

// NewProducer creates a producer for cfg.Host. ctx bounds the lifetime of the
// background goroutines; it is not used for the (non-blocking) construction.
func NewProducer(ctx context.Context, cfg Config, logger log.Logger) (*Producer, error) {
	cfg = cfg.withDefaults()

	if err := cfg.validateProducer(); err != nil {
		return nil, err
	}

	logger = log.OrNop(logger).With(log.String("component", "kafka.producer"))

	p, err := ckafka.NewProducer(&ckafka.ConfigMap{
		"bootstrap.servers":      cfg.Host,
		"go.logs.channel.enable": cfg.EnableLogs,
	})
	if err != nil {
		_ = libOpentelemetry.RecordConnectionFailure(ctx, constant.MessagingKafka, "new_producer")

		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	kp := &Producer{
		producer:     p,
		logger:       logger,
		topic:        cfg.Topic,
		flushTimeout: cfg.FlushTimeout,
		errCh:        make(chan error, 1),
		closedCh:     make(chan struct{}),
		eventsDone:   make(chan struct{}),
		logsDone:     make(chan struct{}),
	}

	if cfg.EnableLogs {
		go forwardLogs(ctx, p.Logs(), kp.closedCh, kp.logsDone, logger)
	} else {
		close(kp.logsDone)
	}

	go kp.monitorEvents(ctx)

	logger.Log(ctx, log.LevelInfo, "kafka producer created", log.String("bootstrap_servers", cfg.Host))

	return kp, nil
}

// Produce sends msg and waits for its delivery report.
//
// If the local queue is full the call retries until ctx is done. When ctx is
// done before the report arrives, ctx.Err() is returned; the message may
// still be delivered later. A Close while waiting returns ErrClosed and the
// message is left to the flush.
func (q *Producer) Produce(ctx context.Context, msg Message) error {
	if q == nil {
		return ErrNilProducer
	}

	if q.isClosed() {
		return ErrClosed
	}

	topic := msg.Topic
	if topic == "" {
		topic = q.topic
	}

	if topic == "" {
		return ErrNoTopic
	}

	ctx, span := otel.Tracer("kafka").Start(ctx, "kafka.produce")
	defer span.End()

	span.SetAttributes(
		attribute.String(constant.AttrMessagingSystem, constant.MessagingKafka),
		attribute.String(constant.AttrMessagingDest, topic),
	)

	headers := make(map[string]string, len(msg.Headers))
	for k, v := range msg.Headers {
		headers[k] = v
	}

	for k, v := range libOpentelemetry.InjectQueueTraceContext(ctx) {
		headers[k] = v
	}

	km := &ckafka.Message{
		TopicPartition: ckafka.TopicPartition{Topic: &topic, Partition: ckafka.PartitionAny},
		Key:            msg.Key,
		Value:          msg.Value,
		Headers:        toKafkaHeaders(headers),
	}

	// Buffered so a late report never blocks librdkafka after we stop waiting.
	deliveryCh := make(chan ckafka.Event, 1)

	if err := q.produceWithRetry(ctx, km, deliveryCh); err != nil {
		libOpentelemetry.HandleSpanError(span, "Failed to enqueue kafka message", err)

		return err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-q.closedCh:
		return ErrClosed
	case ev := <-deliveryCh:
		if err := deliveryError(ev); err != nil {
			libOpentelemetry.HandleSpanError(span, "Kafka delivery failed", err)

			return err
		}

		return nil
	}
}

// Ping requests cluster metadata, bounded by ctx's deadline.
func (q *Producer) Ping(ctx context.Context) error {
	if q == nil {
		return ErrNilProducer
	}

	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return ErrClosed
	}

	if _, err := q.producer.GetMetadata(nil, false, metadataTimeoutMs(ctx)); err != nil {
		return fmt.Errorf("kafka metadata: %w", err)
	}

	return nil
}

// Errors returns a channel that receives at most one fatal producer error.
// It is closed by Close. A nil producer returns a closed channel.
func (q *Producer) Errors() <-chan error {
	if q == nil {
		ch := make(chan error)
		close(ch)

		return ch
	}

	return q.errCh
}

// Raw returns the underlying confluent producer.
func (q *Producer) Raw() *ckafka.Producer {
	if q == nil {
		return nil
	}

	return q.producer
}

// Close stops the background goroutines, flushes queued messages for up to
// the configured flush timeout and closes the producer. Calling Close more
// than once returns the first result.
func (q *Producer) Close() error {
	if q == nil {
		return ErrNilProducer
	}

	q.once.Do(func() {
		q.mu.Lock()
		q.closed = true
		q.mu.Unlock()

		close(q.closedCh)
		<-q.eventsDone
		<-q.logsDone

		if pending := q.producer.Flush(int(q.flushTimeout.Milliseconds())); pending > 0 {
			q.err = fmt.Errorf("kafka producer closed with %d undelivered messages", pending)
			q.logger.Log(context.Background(), log.LevelWarn, "flush incomplete, messages will be lost", log.Int("pending", pending))
		}

		q.producer.Close()
		close(q.errCh)

		q.logger.Log(context.Background(), log.LevelInfo, "kafka producer closed")
	})

	return q.err
}

func (q *Producer) isClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()

	return q.closed
}

// enqueue hands km to librdkafka. The read lock covers only the enqueue so
// Close is never held up by a pending delivery.
func (q *Producer) enqueue(km *ckafka.Message, deliveryCh chan ckafka.Event) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return ErrClosed
	}

	return q.producer.Produce(km, deliveryCh)
}

func (q *Producer) produceWithRetry(ctx context.Context, km *ckafka.Message, deliveryCh chan ckafka.Event) error {
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := q.enqueue(km, deliveryCh)
		if errors.Is(err, ErrClosed) {
			return err
		}

		if err == nil {
			return nil
		}

		var kafkaErr ckafka.Error
		if !errors.As(err, &kafkaErr) || kafkaErr.Code() != ckafka.ErrQueueFull {
			return fmt.Errorf("failed to produce: %w", err)
		}

		q.logger.Log(ctx, log.LevelWarn, "producer queue full, retrying", log.Int("attempt", attempt))

		select {
		case <-q.closedCh:
			return ErrClosed
		default:
		}

		if err := backoff.WaitContext(ctx, queueFullRetryDelay); err != nil {
			return err
		}
	}
}

func (q *Producer) monitorEvents(ctx context.Context) {
	defer close(q.eventsDone)

	for {
		select {
		case <-ctx.Done():
			return
		case <-q.closedCh:
			return
		case ev, ok := <-q.producer.Events():
			if !ok {
				return
			}

			kerr, isErr := ev.(ckafka.Error)
			if !isErr {
				continue
			}

			if !kerr.IsFatal() {
				q.logger.Log(ctx, log.LevelWarn, "kafka producer error", log.Err(kerr))
				continue
			}

			q.logger.Log(ctx, log.LevelError, "fatal kafka producer error", log.Err(kerr))

			select {
			case q.errCh <- kerr:
			default:
			}
		}
	}
}

// metadataTimeoutMs derives a metadata request timeout from ctx, falling
// back to defaultMetadataTimeout.
func metadataTimeoutMs(ctx context.Context) int {
	deadline, ok := ctx.Deadline()
	if !ok {
		return int(defaultMetadataTimeout.Milliseconds())
	}

	remaining := time.Until(deadline).Milliseconds()
	if remaining < 1 {
		return 1
	}

	return int(remaining)
}

func deliveryError(ev ckafka.Event) error {
	switch e := ev.(type) {
	case *ckafka.Message:
		if e.TopicPartition.Error != nil {
			return fmt.Errorf("kafka delivery failed: %w", e.TopicPartition.Error)
		}

		return nil
	case ckafka.Error:
		return fmt.Errorf("kafka delivery failed: %w", e)
	default:
		return fmt.Errorf("unexpected kafka delivery event %T", ev)
	}
}
