// Package kafka builds the queue client handles shared by pipeline services:
// a synchronous producer and a subscribed consumer, both backed by
// confluent-kafka-go.
//
// Broker settings come from the environment (see LoadConfig). The producer
// needs only KAFKA_HOST; the consumer also needs KAFKA_GROUPID and
// KAFKA_TOPIC. Wire-level behavior, offsets and rebalancing are left to
// librdkafka.
package kafka
