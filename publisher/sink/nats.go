package sink

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/arrowglass/ledgersink/cfg"
	"github.com/arrowglass/ledgersink/publisher"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

func init() {
	publisher.RegisterSink("nats", func(config cfg.PublisherConfiguration) (publisher.Sink, error) {
		if config.NatsURL == "" {
			return nil, fmt.Errorf("nats sink requires nats_url")
		}
		return NewNatsSink(config.NatsURL)
	})
}

// NatsSink publishes commit records to NATS JetStream.
type NatsSink struct {
	nc *nats.Conn
	js jetstream.JetStream
}

// NewNatsSink connects to the given NATS server.
func NewNatsSink(url string) (*NatsSink, error) {
	nc, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	return &NatsSink{nc: nc, js: js}, nil
}

// Publish sends one record to JetStream, creating the stream on first use.
// The key (slot number) rides as a header for consumer-side routing.
func (n *NatsSink) Publish(topic, key string, value []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	streamName := sanitizeStreamName(topic)
	_, err := n.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      streamName,
		Subjects:  []string{topic},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    24 * time.Hour,
	})
	if err != nil {
		return fmt.Errorf("failed to ensure stream %s: %w", streamName, err)
	}

	msg := &nats.Msg{
		Subject: topic,
		Data:    value,
		Header:  nats.Header{"key": []string{key}},
	}

	if _, err = n.js.PublishMsg(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	return nil
}

// Close releases the NATS connection.
func (n *NatsSink) Close() error {
	if n.nc != nil {
		n.nc.Close()
	}
	return nil
}

// JetStream stream names can't contain ".".
func sanitizeStreamName(topic string) string {
	return strings.ReplaceAll(topic, ".", "_")
}
