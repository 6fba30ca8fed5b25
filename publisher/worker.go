package publisher

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/arrowglass/ledgersink/cfg"
	"github.com/arrowglass/ledgersink/encoding"
	"github.com/arrowglass/ledgersink/telemetry"
	"github.com/rs/zerolog"
)

// Worker drains rooted-slot notifications into the configured sink on its
// own goroutine, keeping sink latency off the ingestion path.
type Worker struct {
	log        zerolog.Logger
	sink       Sink
	topic      string
	instanceID string

	ch       chan uint64
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewWorker builds and starts a publisher worker from the configuration.
func NewWorker(log zerolog.Logger, config cfg.PublisherConfiguration, instanceID string) (*Worker, error) {
	sink, err := NewSink(config)
	if err != nil {
		return nil, fmt.Errorf("create %s sink: %w", config.Sink, err)
	}

	bufferSize := config.BufferSize
	if bufferSize <= 0 {
		bufferSize = 1024
	}

	w := &Worker{
		log:        log.With().Str("component", "publisher").Str("sink", config.Sink).Logger(),
		sink:       sink,
		topic:      config.Topic,
		instanceID: instanceID,
		ch:         make(chan uint64, bufferSize),
		stopCh:     make(chan struct{}),
	}

	w.wg.Add(1)
	go w.run()
	return w, nil
}

// NotifyRooted enqueues a rooted slot for publishing. Non-blocking: when
// the buffer is full the record is dropped and counted, never stalling the
// event path.
func (w *Worker) NotifyRooted(slot uint64) {
	select {
	case w.ch <- slot:
	default:
		telemetry.CommitRecordsPublishedTotal.With("dropped").Inc()
	}
}

func (w *Worker) run() {
	defer w.wg.Done()

	for {
		select {
		case slot := <-w.ch:
			w.publish(slot)
		case <-w.stopCh:
			// Drain whatever is already buffered before exiting.
			for {
				select {
				case slot := <-w.ch:
					w.publish(slot)
				default:
					return
				}
			}
		}
	}
}

func (w *Worker) publish(slot uint64) {
	payload, err := encoding.Marshal(&CommitRecord{
		Slot:       slot,
		RootedAtMS: time.Now().UnixMilli(),
		InstanceID: w.instanceID,
	})
	if err != nil {
		telemetry.CommitRecordsPublishedTotal.With("failed").Inc()
		w.log.Error().Err(err).Uint64("slot", slot).Msg("Failed to encode commit record")
		return
	}

	if err := w.sink.Publish(w.topic, strconv.FormatUint(slot, 10), payload); err != nil {
		telemetry.CommitRecordsPublishedTotal.With("failed").Inc()
		w.log.Error().Err(err).Uint64("slot", slot).Msg("Failed to publish commit record")
		return
	}
	telemetry.CommitRecordsPublishedTotal.With("published").Inc()
}

// Close stops the worker and releases the sink. Idempotent.
func (w *Worker) Close() error {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
	return w.sink.Close()
}
