package kafka

import (
	"context"
	"time"

	libOpentelemetry "github.com/Evantastic/distribuidos-12020-common/common/opentelemetry"
	ckafka "github.com/confluentinc/confluent-kafka-go/v2/kafka"
)

// Message is a record produced to or consumed from a topic.
type Message struct {
	Topic     string
	Partition int32
	Offset    int64
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Timestamp time.Time
}

// TraceContext returns ctx carrying the remote span propagated in the
// message headers, if any.
func (m *Message) TraceContext(ctx context.Context) context.Context {
	if m == nil {
		return ctx
	}

	return libOpentelemetry.ExtractQueueTraceContext(ctx, m.Headers)
}

func toKafkaHeaders(headers map[string]string) []ckafka.Header {
	if len(headers) == 0 {
		return nil
	}

	out := make([]ckafka.Header, 0, len(headers))
	for k, v := range headers {
		out = append(out, ckafka.Header{Key: k, Value: []byte(v)})
	}

	return out
}

func fromKafkaMessage(km *ckafka.Message) *Message {
	msg := &Message{
		Partition: km.TopicPartition.Partition,
		Offset:    int64(km.TopicPartition.Offset),
		Key:       km.Key,
		Value:     km.Value,
		Timestamp: km.Timestamp,
	}

	if km.TopicPartition.Topic != nil {
		msg.Topic = *km.TopicPartition.Topic
	}

	if len(km.Headers) > 0 {
		msg.Headers = make(map[string]string, len(km.Headers))
		for _, h := range km.Headers {
			msg.Headers[h.Key] = string(h.Value)
		}
	}

	return msg
}
