package tracker

import (
	"github.com/arrowglass/ledgersink/cfg"
	"github.com/arrowglass/ledgersink/codec"
	"github.com/arrowglass/ledgersink/event"
	"github.com/arrowglass/ledgersink/telemetry"
)

// AddAccountUpdate routes one account update. Startup (snapshot restore)
// updates bypass slot gating entirely: they describe pre-rooted state.
func (t *Tracker) AddAccountUpdate(ev *event.AccountUpdate) error {
	if ev.IsStartup {
		return t.encodeAndEnqueue(nil, "account", func() ([]codec.RowMutation, error) {
			return t.cod.EncodeAccount(ev)
		})
	}

	if status, done := t.terminalFor(ev.Slot); done {
		return t.lateEvent(ev.Slot, status, "account")
	}

	p := t.entry(ev.Slot)
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.released || t.conf.Policy == cfg.PolicyWriteThenCompensate {
		p.released = true
		return t.encodeAndEnqueue(p, "account", func() ([]codec.RowMutation, error) {
			return t.cod.EncodeAccount(ev)
		})
	}

	// Held: coalesce on highest write version per pubkey.
	if prev, ok := p.accounts[ev.Pubkey]; ok && prev.WriteVersion > ev.WriteVersion {
		return nil
	}
	p.accounts[ev.Pubkey] = ev
	return nil
}

// AddTransaction routes one transaction.
func (t *Tracker) AddTransaction(ev *event.Transaction) error {
	if status, done := t.terminalFor(ev.Slot); done {
		return t.lateEvent(ev.Slot, status, "transaction")
	}

	p := t.entry(ev.Slot)
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.released || t.conf.Policy == cfg.PolicyWriteThenCompensate {
		p.released = true
		return t.encodeAndEnqueue(p, "transaction", func() ([]codec.RowMutation, error) {
			return t.cod.EncodeTransaction(ev)
		})
	}

	p.txs = append(p.txs, ev)
	return nil
}

// AddBlockMetadata routes one block metadata event.
func (t *Tracker) AddBlockMetadata(ev *event.BlockMetadata) error {
	if status, done := t.terminalFor(ev.Slot); done {
		return t.lateEvent(ev.Slot, status, "block_metadata")
	}

	p := t.entry(ev.Slot)
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.released || t.conf.Policy == cfg.PolicyWriteThenCompensate {
		p.released = true
		return t.encodeAndEnqueue(p, "block_metadata", func() ([]codec.RowMutation, error) {
			return t.cod.EncodeBlockMetadata(ev)
		})
	}

	p.block = ev
	return nil
}

// lateEvent handles data arriving after the slot finished. A duplicate for
// a rooted slot is idempotent noise; anything for a dead slot is the host
// resurrecting a slot it declared dead.
func (t *Tracker) lateEvent(slot uint64, status event.SlotStatus, category string) error {
	if status == event.StatusDead {
		telemetry.EventsDiscardedTotal.With(category).Inc()
		return t.violation(&ProtocolViolationError{
			Slot: slot, From: status, To: status,
			Reason: category + " event for a slot already reported dead",
		})
	}
	t.log.Debug().Uint64("slot", slot).Str("category", category).
		Msg("Duplicate event for rooted slot ignored")
	return nil
}

// encodeAndEnqueue runs one encoder and forwards the mutations. Encoding
// failures drop the event with a counter; they are never retried. When p is
// non-nil the written keys are remembered for possible compensation.
func (t *Tracker) encodeAndEnqueue(p *pendingSlot, category string, encode func() ([]codec.RowMutation, error)) error {
	muts, err := encode()
	if err != nil {
		telemetry.EncodeErrorsTotal.With(category).Inc()
		t.log.Error().Err(err).Str("category", category).Msg("Dropping event that failed to encode")
		return err
	}
	if p != nil && p.status != event.StatusRooted {
		for _, m := range muts {
			p.rememberKey(m.Table, m.Key)
		}
	}
	return t.sink.Enqueue(muts...)
}

// statusRank orders the forward transitions. Dead is terminal from any
// non-terminal state and deliberately not part of this ordering.
func statusRank(s event.SlotStatus) int {
	switch s {
	case event.StatusProcessed:
		return 0
	case event.StatusConfirmed:
		return 1
	case event.StatusRooted:
		return 2
	}
	return -1
}

// OnSlotStatus applies one status transition. Out-of-order arrival of an
// earlier status for an already-advanced slot is idempotent; an impossible
// transition is a protocol violation that leaves the slot untouched.
func (t *Tracker) OnSlotStatus(up *event.SlotStatusUpdate) error {
	if status, done := t.terminalFor(up.Slot); done {
		if up.Status == status {
			return nil // re-delivered terminal status
		}
		return t.violation(&ProtocolViolationError{
			Slot: up.Slot, From: status, To: up.Status,
			Reason: "status change for a slot already terminal",
		})
	}

	p := t.entry(up.Slot)
	p.mu.Lock()

	if up.ParentSlot != 0 {
		p.parent = up.ParentSlot
	}

	if up.Status == event.StatusDead {
		t.markDead(p)
		p.mu.Unlock()
		t.finish(p.slot, event.StatusDead)
		return nil
	}

	from, to := statusRank(p.status), statusRank(up.Status)
	if to <= from {
		p.mu.Unlock()
		return nil // regression or repeat: idempotent
	}

	telemetry.SlotTransitionsTotal.With(up.Status.String()).Inc()

	// Crossing Confirmed releases the held rows, even when the host skips
	// straight to Rooted.
	var err error
	if from < statusRank(event.StatusConfirmed) {
		err = t.release(p)
	}
	p.status = up.Status

	if up.Status == event.StatusRooted {
		if enqErr := t.sink.Enqueue(codec.EncodeSlotRooted(p.slot)); enqErr != nil && err == nil {
			err = enqErr
		}
		p.mu.Unlock()
		t.finish(p.slot, event.StatusRooted)
		if t.onRooted != nil {
			t.onRooted(up.Slot)
		}
		return err
	}

	p.mu.Unlock()
	return err
}

// release dispatches everything held for the slot. Called with p.mu held.
func (t *Tracker) release(p *pendingSlot) error {
	p.released = true
	var firstErr error

	for _, ev := range p.accounts {
		err := t.encodeAndEnqueue(p, "account", func() ([]codec.RowMutation, error) {
			return t.cod.EncodeAccount(ev)
		})
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		telemetry.EventsDispatchedTotal.With("account").Inc()
	}
	for _, ev := range p.txs {
		err := t.encodeAndEnqueue(p, "transaction", func() ([]codec.RowMutation, error) {
			return t.cod.EncodeTransaction(ev)
		})
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		telemetry.EventsDispatchedTotal.With("transaction").Inc()
	}
	if p.block != nil {
		ev := p.block
		err := t.encodeAndEnqueue(p, "block_metadata", func() ([]codec.RowMutation, error) {
			return t.cod.EncodeBlockMetadata(ev)
		})
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
		} else {
			telemetry.EventsDispatchedTotal.With("block_metadata").Inc()
		}
	}

	p.accounts = make(map[[event.PubkeySize]byte]*event.AccountUpdate)
	p.txs = nil
	p.block = nil
	return firstErr
}

// markDead discards held rows and compensates any already released before
// the death. Called with p.mu held.
func (t *Tracker) markDead(p *pendingSlot) {
	telemetry.SlotTransitionsTotal.With(event.StatusDead.String()).Inc()

	if n := len(p.accounts); n > 0 {
		telemetry.EventsDiscardedTotal.With("account").Add(float64(n))
	}
	if n := len(p.txs); n > 0 {
		telemetry.EventsDiscardedTotal.With("transaction").Add(float64(n))
	}
	if p.block != nil {
		telemetry.EventsDiscardedTotal.With("block_metadata").Inc()
	}
	p.accounts = nil
	p.txs = nil
	p.block = nil

	var tombstones []codec.RowMutation
	for table, keys := range p.releasedKeys {
		for key := range keys {
			tombstones = append(tombstones, codec.EncodeTombstone(table, key, p.slot))
		}
	}
	if len(tombstones) > 0 {
		telemetry.TombstonesTotal.Add(float64(len(tombstones)))
		t.log.Info().
			Uint64("slot", p.slot).
			Int("tombstones", len(tombstones)).
			Msg("Dead slot had released rows, enqueueing tombstones")
		if err := t.sink.Enqueue(tombstones...); err != nil {
			t.log.Error().Err(err).Uint64("slot", p.slot).Msg("Failed to enqueue tombstones")
		}
	}
	p.releasedKeys = nil
}

// finish removes the arena entry and records the terminal status.
func (t *Tracker) finish(slot uint64, status event.SlotStatus) {
	t.terminal.Add(slot, status)
	t.slots.Delete(slot)
	telemetry.PendingSlots.Set(float64(t.slots.Size()))
}
