// Package publisher streams rooted-slot commit records to an external sink
// so downstream consumers can tail finality without scanning the storage
// backend. Publishing is best effort: a full buffer drops the record with a
// counter rather than ever blocking the ingestion path.
package publisher

// CommitRecord is the msgpack payload published once per rooted slot.
type CommitRecord struct {
	Slot       uint64 `msgpack:"slot"`
	RootedAtMS int64  `msgpack:"ts"`
	InstanceID string `msgpack:"src"`
}

// Sink represents a destination for commit records (e.g. Kafka, NATS).
type Sink interface {
	// Publish sends a record to the sink.
	Publish(topic string, key string, value []byte) error
	// Close releases any resources held by the sink.
	Close() error
}
