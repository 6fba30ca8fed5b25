// Package writer performs the mutate RPCs against the storage backend with
// retry, backoff and partial-failure handling. Mutations are keyed writes
// with deterministic timestamps, so re-sending an already-applied mutation
// is a no-op and retries need no external deduplication.
package writer

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/bigtable"
	"github.com/arrowglass/ledgersink/cfg"
	"github.com/arrowglass/ledgersink/codec"
	"github.com/arrowglass/ledgersink/telemetry"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"
)

// MutationApplier is the slice of the backend client the writer needs.
// *bigtable.Table satisfies it.
type MutationApplier interface {
	ApplyBulk(ctx context.Context, rowKeys []string, muts []*bigtable.Mutation, opts ...bigtable.ApplyOption) ([]error, error)
}

// Config bounds the retry behavior.
type Config struct {
	MaxRetries      int
	RetryInitial    time.Duration
	RetryMax        time.Duration
	RetryMultiplier float64
	// RetryCeiling bounds the total elapsed time spent on one batch.
	RetryCeiling   time.Duration
	RequestTimeout time.Duration
}

// ConfigFromGlobal converts the loaded configuration section.
func ConfigFromGlobal() Config {
	w := cfg.Config.Writer
	return Config{
		MaxRetries:      w.MaxRetries,
		RetryInitial:    time.Duration(w.RetryInitialMS) * time.Millisecond,
		RetryMax:        time.Duration(w.RetryMaxMS) * time.Millisecond,
		RetryMultiplier: w.RetryMultiplier,
		RetryCeiling:    time.Duration(w.RetryCeilingMS) * time.Millisecond,
		RequestTimeout:  time.Duration(w.RequestTimeoutMS) * time.Millisecond,
	}
}

// Writer owns the per-table appliers and the per-table circuit breakers.
type Writer struct {
	log    zerolog.Logger
	conf   Config
	tables map[codec.Table]MutationApplier
	names  map[codec.Table]string

	// halted maps a backend table name to the permanent error that tripped
	// its breaker. Writes fail fast while an entry exists.
	halted *xsync.MapOf[string, error]
}

// New builds a writer over the given appliers. names maps logical tables to
// the backend table names used in logs and metrics.
func New(log zerolog.Logger, conf Config, tables map[codec.Table]MutationApplier, names map[codec.Table]string) *Writer {
	return &Writer{
		log:    log.With().Str("component", "writer").Logger(),
		conf:   conf,
		tables: tables,
		names:  names,
		halted: xsync.NewMapOf[string, error](),
	}
}

// Connect opens the BigTable client from the global configuration and
// returns a writer over the three configured tables. The returned client
// must be closed by the caller on shutdown.
func Connect(ctx context.Context, log zerolog.Logger) (*Writer, *bigtable.Client, error) {
	bt := cfg.Config.Bigtable

	var opts []option.ClientOption
	if bt.CredentialPath != "" {
		opts = append(opts, option.WithCredentialsFile(bt.CredentialPath))
	}

	clientCfg := bigtable.ClientConfig{AppProfile: bt.AppProfile}
	client, err := bigtable.NewClientWithConfig(ctx, bt.Project, bt.Instance, clientCfg, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("connect bigtable %s/%s: %w", bt.Project, bt.Instance, err)
	}

	names := map[codec.Table]string{
		codec.TableAccounts: bt.AccountsTable,
		codec.TableTx:       bt.TxTable,
		codec.TableBlocks:   bt.BlocksTable,
	}
	tables := make(map[codec.Table]MutationApplier, len(names))
	for logical, name := range names {
		tables[logical] = client.Open(name)
	}

	log.Info().
		Str("project", bt.Project).
		Str("instance", bt.Instance).
		Msg("BigTable connection ready")

	return New(log, ConfigFromGlobal(), tables, names), client, nil
}

// Halted returns the currently tripped tables and their errors.
func (w *Writer) Halted() map[string]string {
	out := make(map[string]string)
	w.halted.Range(func(name string, err error) bool {
		out[name] = err.Error()
		return true
	})
	return out
}

// Resume clears the breaker for a table after operator intervention.
func (w *Writer) Resume(tableName string) bool {
	_, existed := w.halted.LoadAndDelete(tableName)
	if existed {
		w.log.Info().Str("table", tableName).Msg("Table resumed")
	}
	return existed
}

func (w *Writer) halt(name string, err error) {
	if _, loaded := w.halted.LoadOrStore(name, err); !loaded {
		telemetry.TableHaltedTotal.With(name).Inc()
		w.log.Error().Err(err).Str("table", name).
			Msg("Permanent storage error - halting writes to table")
	}
}

// Write applies a batch of mutations to one logical table. Mutations for
// the same row key collapse into one backend mutation in slice order, so a
// later cell write overwrites an earlier one within the batch.
func (w *Writer) Write(ctx context.Context, table codec.Table, muts []codec.RowMutation) error {
	if len(muts) == 0 {
		return nil
	}

	name := w.names[table]
	applier, ok := w.tables[table]
	if !ok {
		return fmt.Errorf("no applier for table %q", table)
	}
	if haltErr, isHalted := w.halted.Load(name); isHalted {
		return fmt.Errorf("%w (%s): %s", ErrTableHalted, name, haltErr)
	}

	keys := make([]string, 0, len(muts))
	byKey := make(map[string]*bigtable.Mutation, len(muts))
	for _, m := range muts {
		bm, seen := byKey[m.Key]
		if !seen {
			bm = bigtable.NewMutation()
			byKey[m.Key] = bm
			keys = append(keys, m.Key)
		}
		bm.Set(m.Family, m.Qualifier, bigtable.Timestamp(m.TimestampMicros), m.Value)
	}
	bmuts := make([]*bigtable.Mutation, len(keys))
	for i, k := range keys {
		bmuts[i] = byKey[k]
	}

	start := time.Now()
	err := w.apply(ctx, name, keys, bmuts, applier)
	telemetry.FlushDurationSeconds.With(name).Observe(time.Since(start).Seconds())
	return err
}

// apply runs the retry loop over the (shrinking) set of failing rows.
func (w *Writer) apply(ctx context.Context, name string, keys []string, bmuts []*bigtable.Mutation, applier MutationApplier) error {
	deadline := time.Now().Add(w.conf.RetryCeiling)
	var lastErr error

	for attempt := 1; ; attempt++ {
		rctx := ctx
		var cancel context.CancelFunc
		if w.conf.RequestTimeout > 0 {
			rctx, cancel = context.WithTimeout(ctx, w.conf.RequestTimeout)
		}
		rowErrs, rpcErr := applier.ApplyBulk(rctx, keys, bmuts)
		if cancel != nil {
			cancel()
		}

		if rpcErr != nil {
			switch classify(rpcErr) {
			case classAborted:
				return rpcErr
			case classPermanent:
				perm := &PermanentError{Table: name, Err: rpcErr}
				w.halt(name, perm)
				return perm
			}
			lastErr = rpcErr
		} else {
			// Partial failure: keep only the transiently failing rows.
			var retryKeys []string
			var retryMuts []*bigtable.Mutation
			for i, rowErr := range rowErrs {
				if rowErr == nil {
					continue
				}
				switch classify(rowErr) {
				case classPermanent:
					perm := &PermanentError{Table: name, Err: rowErr}
					w.halt(name, perm)
					return perm
				case classAborted:
					return rowErr
				}
				retryKeys = append(retryKeys, keys[i])
				retryMuts = append(retryMuts, bmuts[i])
				lastErr = rowErr
			}
			if len(retryKeys) == 0 {
				return nil
			}
			keys, bmuts = retryKeys, retryMuts
		}

		if attempt > w.conf.MaxRetries || time.Now().After(deadline) {
			telemetry.BatchWriteFailedTotal.With(name).Inc()
			return &BatchWriteFailedError{Table: name, RowKeys: keys, Err: lastErr}
		}

		delay := w.backoffDelay(attempt)
		telemetry.WriteRetriesTotal.With(name).Inc()
		w.log.Warn().
			Err(lastErr).
			Str("table", name).
			Int("attempt", attempt).
			Int("rows", len(keys)).
			Dur("retry_in", delay).
			Msg("Transient storage error, retrying")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}
