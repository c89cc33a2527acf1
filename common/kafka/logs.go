package kafka

import (
	"context"

	"github.com/Evantastic/distribuidos-12020-common/common/log"
	ckafka "github.com/confluentinc/confluent-kafka-go/v2/kafka"
)

// forwardLogs relays librdkafka log events to logger until ctx is done, stop
// is closed or the channel closes. done is closed on return.
func forwardLogs(ctx context.Context, logs chan ckafka.LogEvent, stop <-chan struct{}, done chan<- struct{}, logger log.Logger) {
	defer close(done)

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case ev, ok := <-logs:
			if !ok {
				return
			}

			logger.Log(ctx, log.LevelDebug, ev.Message,
				log.String("tag", ev.Tag),
				log.String("client", ev.Name),
				log.Int("syslog_level", ev.Level),
			)
		}
	}
}
