// Package batcher accumulates row mutations into bounded per-table batches
// and hands them to the storage writer. A batch seals when it reaches the
// size bound or when the max-latency timer fires, whichever comes first.
//
// Backpressure: sealing acquires a slot from a bounded in-flight semaphore,
// so once too many flushes are running, Enqueue blocks its caller until one
// completes. Slow storage propagates back to the event-receiving boundary
// instead of growing memory without bound.
package batcher

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arrowglass/ledgersink/cfg"
	"github.com/arrowglass/ledgersink/codec"
	"github.com/arrowglass/ledgersink/telemetry"
	"github.com/jizhuozhi/go-future"
	"github.com/rs/zerolog"
)

// Flusher is the downstream storage write. Satisfied by *writer.Writer.
type Flusher interface {
	Write(ctx context.Context, table codec.Table, muts []codec.RowMutation) error
}

// Config bounds batch accumulation.
type Config struct {
	MaxBatchSize     int
	StartupBatchSize int
	MaxLatency       time.Duration
	MaxInflight      int
	DrainTimeout     time.Duration
}

// ConfigFromGlobal converts the loaded configuration section.
func ConfigFromGlobal() Config {
	b := cfg.Config.Batcher
	return Config{
		MaxBatchSize:     b.MaxBatchSize,
		StartupBatchSize: b.StartupBatchSize,
		MaxLatency:       b.MaxLatency(),
		MaxInflight:      b.MaxInflightFlushes,
		DrainTimeout:     b.DrainTimeout(),
	}
}

type sealedBatch struct {
	table   codec.Table
	muts    []codec.RowMutation
	promise *future.Promise[error]
}

type tableBuffer struct {
	table codec.Table

	mu    sync.Mutex
	muts  []codec.RowMutation
	timer *time.Timer

	// sealed is drained by one worker per table, so batches for a table
	// flush in the order they were sealed.
	sealed chan *sealedBatch
}

// Batcher owns the per-table buffers and flush workers.
type Batcher struct {
	log     zerolog.Logger
	conf    Config
	flusher Flusher

	// inflight is the backpressure semaphore shared across tables.
	inflight chan struct{}
	buffers  map[codec.Table]*tableBuffer

	// pending counts sealed batches not yet flushed, for shutdown reporting.
	pending atomic.Int64

	startup atomic.Bool
	closed  atomic.Bool
	wg      sync.WaitGroup
}

// New builds a batcher over the three logical tables and starts one flush
// worker per table.
func New(log zerolog.Logger, conf Config, flusher Flusher) *Batcher {
	b := &Batcher{
		log:      log.With().Str("component", "batcher").Logger(),
		conf:     conf,
		flusher:  flusher,
		inflight: make(chan struct{}, conf.MaxInflight),
		buffers:  make(map[codec.Table]*tableBuffer),
	}
	for _, table := range []codec.Table{codec.TableAccounts, codec.TableTx, codec.TableBlocks} {
		buf := &tableBuffer{
			table:  table,
			sealed: make(chan *sealedBatch, conf.MaxInflight),
		}
		b.buffers[table] = buf
		b.wg.Add(1)
		go b.flushLoop(buf)
	}
	return b
}

// SetStartupMode switches between the live and bulk-load batch sizes.
func (b *Batcher) SetStartupMode(on bool) {
	b.startup.Store(on)
}

func (b *Batcher) maxBatchSize() int {
	if b.startup.Load() && b.conf.StartupBatchSize > 0 {
		return b.conf.StartupBatchSize
	}
	return b.conf.MaxBatchSize
}

// Enqueue appends mutations to their tables' buffers. It returns quickly
// unless a seal hits the in-flight ceiling, in which case it blocks until a
// running flush completes.
func (b *Batcher) Enqueue(muts ...codec.RowMutation) error {
	if b.closed.Load() {
		return fmt.Errorf("batcher is closed")
	}
	for i := range muts {
		buf, ok := b.buffers[muts[i].Table]
		if !ok {
			return fmt.Errorf("unknown table %q", muts[i].Table)
		}
		b.enqueueOne(buf, muts[i])
	}
	return nil
}

func (b *Batcher) enqueueOne(buf *tableBuffer, m codec.RowMutation) {
	buf.mu.Lock()
	defer buf.mu.Unlock()

	// Raced with Close: the sealed channel may already be shut.
	if b.closed.Load() {
		return
	}

	buf.muts = append(buf.muts, m)

	// Arm the max-latency timer on the first mutation of a fresh buffer.
	if len(buf.muts) == 1 {
		buf.timer = time.AfterFunc(b.conf.MaxLatency, func() {
			buf.mu.Lock()
			defer buf.mu.Unlock()
			// A late timer must not seal into a channel Close already shut.
			if b.closed.Load() {
				return
			}
			b.sealLocked(buf)
		})
	}

	if len(buf.muts) >= b.maxBatchSize() {
		b.sealLocked(buf)
	}
}

// sealLocked swaps in a fresh buffer and dispatches the full one. Caller
// holds buf.mu; the semaphore acquire below is the backpressure block.
func (b *Batcher) sealLocked(buf *tableBuffer) *future.Future[error] {
	if len(buf.muts) == 0 {
		return nil
	}
	if buf.timer != nil {
		buf.timer.Stop()
		buf.timer = nil
	}

	batch := &sealedBatch{
		table:   buf.table,
		muts:    buf.muts,
		promise: future.NewPromise[error](),
	}
	buf.muts = nil

	waitStart := time.Now()
	b.inflight <- struct{}{}
	telemetry.BackpressureWaitSeconds.Observe(time.Since(waitStart).Seconds())
	telemetry.InflightFlushes.Inc()

	telemetry.BatchesDispatchedTotal.With(string(buf.table)).Inc()
	telemetry.BatchSizeMutations.With(string(buf.table)).Observe(float64(len(batch.muts)))
	b.log.Debug().
		Str("table", string(buf.table)).
		Int("mutations", len(batch.muts)).
		Msg("Batch dispatched")

	b.pending.Add(1)
	buf.sealed <- batch
	return batch.promise.Future()
}

func (b *Batcher) flushLoop(buf *tableBuffer) {
	defer b.wg.Done()

	for batch := range buf.sealed {
		err := b.flusher.Write(context.Background(), batch.table, batch.muts)
		telemetry.InflightFlushes.Dec()
		<-b.inflight
		b.pending.Add(-1)

		if err != nil {
			b.log.Error().
				Err(err).
				Str("table", string(batch.table)).
				Int("mutations", len(batch.muts)).
				Msg("Batch flush failed")
		}
		batch.promise.Set(nil, err)
	}
}

// Flush seals every non-empty buffer and returns futures for the resulting
// flushes. Used at end of startup and on shutdown.
func (b *Batcher) Flush() []*future.Future[error] {
	var futures []*future.Future[error]
	for _, buf := range b.buffers {
		buf.mu.Lock()
		if f := b.sealLocked(buf); f != nil {
			futures = append(futures, f)
		}
		buf.mu.Unlock()
	}
	return futures
}

// PendingBatches reports sealed batches not yet flushed.
func (b *Batcher) PendingBatches() int64 {
	return b.pending.Load()
}

// BufferedMutations reports mutations accumulated but not yet sealed.
func (b *Batcher) BufferedMutations() int {
	total := 0
	for _, buf := range b.buffers {
		buf.mu.Lock()
		total += len(buf.muts)
		buf.mu.Unlock()
	}
	return total
}

// Close seals the remaining buffers and waits up to the drain timeout for
// in-flight batches. Batches abandoned by a timeout are reported, not
// treated as corruption: the host ledger remains the source of truth.
func (b *Batcher) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}

	for _, buf := range b.buffers {
		buf.mu.Lock()
		b.sealLocked(buf)
		if buf.timer != nil {
			buf.timer.Stop()
			buf.timer = nil
		}
		buf.mu.Unlock()
		close(buf.sealed)
	}

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(b.conf.DrainTimeout):
		unflushed := b.pending.Load()
		telemetry.UnflushedOnShutdownTotal.Add(float64(unflushed))
		b.log.Warn().
			Int64("unflushed_batches", unflushed).
			Msg("Drain timeout elapsed, abandoning in-flight batches")
		return fmt.Errorf("drain timeout: %d batches unflushed", unflushed)
	}
}
