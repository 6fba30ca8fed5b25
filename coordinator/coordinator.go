// Package coordinator is the plugin-facing boundary. It receives the host's
// notifications, applies the configured selectors, and routes what survives
// into the confirmation tracker. It also owns the lifecycle: startup bulk
// load, end-of-startup flush, and ordered shutdown of the pipeline.
package coordinator

import (
	"fmt"
	"time"

	"github.com/arrowglass/ledgersink/batcher"
	"github.com/arrowglass/ledgersink/event"
	"github.com/arrowglass/ledgersink/publisher"
	"github.com/arrowglass/ledgersink/selector"
	"github.com/arrowglass/ledgersink/telemetry"
	"github.com/arrowglass/ledgersink/tracker"
	"github.com/rs/zerolog"
)

// Coordinator wires selectors, tracker, batcher and publisher into one
// ingestion pipeline.
type Coordinator struct {
	log zerolog.Logger

	accounts *selector.AccountsSelector
	txs      *selector.TransactionSelector

	tracker   *tracker.Tracker
	batcher   *batcher.Batcher
	publisher *publisher.Worker
}

// New assembles the pipeline. The publisher worker may be nil when commit
// publishing is disabled. The pipeline starts in startup (bulk load) mode;
// call OnEndOfStartup once the host finishes the snapshot restore.
func New(
	log zerolog.Logger,
	accounts *selector.AccountsSelector,
	txs *selector.TransactionSelector,
	trk *tracker.Tracker,
	bat *batcher.Batcher,
	pub *publisher.Worker,
) *Coordinator {
	c := &Coordinator{
		log:       log.With().Str("component", "coordinator").Logger(),
		accounts:  accounts,
		txs:       txs,
		tracker:   trk,
		batcher:   bat,
		publisher: pub,
	}

	if pub != nil {
		trk.SetRootedHook(pub.NotifyRooted)
	}

	bat.SetStartupMode(true)
	trk.Start()
	return c
}

// AccountNotificationsEnabled tells the host whether to deliver account
// updates at all. A disabled selector saves the notification overhead.
func (c *Coordinator) AccountNotificationsEnabled() bool {
	return c.accounts.Enabled()
}

// TransactionNotificationsEnabled tells the host whether to deliver
// transaction notifications.
func (c *Coordinator) TransactionNotificationsEnabled() bool {
	return c.txs.Enabled()
}

// OnAccountUpdate ingests one account update notification.
func (c *Coordinator) OnAccountUpdate(ev *event.AccountUpdate) error {
	telemetry.EventsReceivedTotal.With("account").Inc()
	if !c.accounts.Match(ev.Pubkey, ev.Owner) {
		telemetry.EventsFilteredTotal.With("account").Inc()
		return nil
	}
	return c.tracker.AddAccountUpdate(ev)
}

// OnTransaction ingests one transaction notification.
func (c *Coordinator) OnTransaction(ev *event.Transaction) error {
	telemetry.EventsReceivedTotal.With("transaction").Inc()
	if !c.txs.Match(ev.IsVote, ev.AccountKeys) {
		telemetry.EventsFilteredTotal.With("transaction").Inc()
		return nil
	}
	return c.tracker.AddTransaction(ev)
}

// OnBlockMetadata ingests one block metadata notification. Block rows are
// not subject to selector filtering.
func (c *Coordinator) OnBlockMetadata(ev *event.BlockMetadata) error {
	telemetry.EventsReceivedTotal.With("block_metadata").Inc()
	return c.tracker.AddBlockMetadata(ev)
}

// OnSlotStatus ingests one slot status transition.
func (c *Coordinator) OnSlotStatus(up *event.SlotStatusUpdate) error {
	telemetry.EventsReceivedTotal.With("slot_status").Inc()
	return c.tracker.OnSlotStatus(up)
}

// OnEndOfStartup marks the end of the snapshot restore: the bulk batch size
// is retired and everything accumulated during startup is flushed before
// live ingestion proceeds.
func (c *Coordinator) OnEndOfStartup() error {
	c.log.Info().Msg("End of startup, flushing bulk-load batches")
	c.batcher.SetStartupMode(false)

	start := time.Now()
	var firstErr error
	for _, f := range c.batcher.Flush() {
		if _, err := f.Get(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		return fmt.Errorf("startup flush: %w", firstErr)
	}
	c.log.Info().Dur("elapsed", time.Since(start)).Msg("Startup flush complete")
	return nil
}

// Close shuts the pipeline down in dependency order: stop accepting slot
// resolution, drain the batcher, then release the publisher.
func (c *Coordinator) Close() error {
	c.tracker.Stop()

	err := c.batcher.Close()

	if held := c.tracker.HeldEvents(); held > 0 {
		c.log.Warn().
			Int("held_events", held).
			Int("pending_slots", c.tracker.PendingSlots()).
			Msg("Shutting down with unresolved slots, held events are discarded")
	}

	if c.publisher != nil {
		if cerr := c.publisher.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}
