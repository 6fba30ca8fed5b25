package sink

import (
	"context"
	"fmt"

	"github.com/arrowglass/ledgersink/cfg"
	"github.com/arrowglass/ledgersink/publisher"
	"github.com/segmentio/kafka-go"
)

const (
	defaultKafkaBatchSize  = 100
	defaultKafkaBatchBytes = 1 << 20
)

func init() {
	publisher.RegisterSink("kafka", func(config cfg.PublisherConfiguration) (publisher.Sink, error) {
		return NewKafkaSink(config.KafkaBrokers)
	})
}

// KafkaSink publishes commit records to a Kafka topic, partitioned by key
// so all records for a slot land on the same partition.
type KafkaSink struct {
	writer *kafka.Writer
}

// NewKafkaSink creates a Kafka sink writing to the given brokers.
func NewKafkaSink(brokers []string) (*KafkaSink, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka sink requires at least one broker address")
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		BatchSize:              defaultKafkaBatchSize,
		BatchBytes:             defaultKafkaBatchBytes,
		RequiredAcks:           kafka.RequireAll,
		Async:                  false,
		AllowAutoTopicCreation: true,
	}

	return &KafkaSink{writer: writer}, nil
}

// Publish sends one record. Synchronous: the worker goroutine absorbs the
// latency, never the ingestion path.
func (k *KafkaSink) Publish(topic, key string, value []byte) error {
	msg := kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: value,
	}
	return k.writer.WriteMessages(context.Background(), msg)
}

// Close flushes and releases the Kafka writer.
func (k *KafkaSink) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}
