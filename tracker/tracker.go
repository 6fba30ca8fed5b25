// Package tracker gates when rows for a slot become eligible for durable
// commitment. Every slot with outstanding events owns a pendingSlot entry;
// all mutations of an entry are serialized through its own lock, and the
// entry is destroyed once the slot reaches a terminal status.
//
// Two policies are supported. hold-then-release (default) buffers rows until
// the slot is Confirmed, so rows for a slot that dies before confirmation
// are never written. write-then-compensate writes speculatively at Processed
// for lower latency and enqueues tombstones if the slot later dies. Under
// both, a reader scanning storage after convergence sees only rows for
// slots that reached Rooted (dead-after-release rows carry tombstones).
package tracker

import (
	"fmt"
	"sync"
	"time"

	"github.com/arrowglass/ledgersink/cfg"
	"github.com/arrowglass/ledgersink/codec"
	"github.com/arrowglass/ledgersink/event"
	"github.com/arrowglass/ledgersink/telemetry"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog"
)

// Enqueuer hands released mutations to the write batcher. Satisfied by
// *batcher.Batcher.
type Enqueuer interface {
	Enqueue(muts ...codec.RowMutation) error
}

// ProtocolViolationError reports an impossible slot-status transition from
// the host, e.g. resurrection after Dead. The event is ignored; the tracker
// keeps operating on other slots.
type ProtocolViolationError struct {
	Slot   uint64
	From   event.SlotStatus
	To     event.SlotStatus
	Reason string
}

func (e *ProtocolViolationError) Error() string {
	return fmt.Sprintf("protocol violation on slot %d (%s -> %s): %s", e.Slot, e.From, e.To, e.Reason)
}

// Config controls policy and staleness reporting.
type Config struct {
	Policy              cfg.ConfirmationPolicy
	StaleSlotTimeout    time.Duration
	SweepInterval       time.Duration
	TerminalHistorySize int
}

// ConfigFromGlobal converts the loaded configuration section.
func ConfigFromGlobal() Config {
	c := cfg.Config.Confirmation
	return Config{
		Policy:              c.Policy,
		StaleSlotTimeout:    c.StaleSlotTimeout(),
		SweepInterval:       c.SweepInterval(),
		TerminalHistorySize: c.TerminalHistorySize,
	}
}

// pendingSlot is the per-slot arena entry. Owned exclusively by the tracker;
// the batcher and writer never touch it.
type pendingSlot struct {
	mu sync.Mutex

	slot      uint64
	parent    uint64
	status    event.SlotStatus
	firstSeen time.Time

	staleReported bool
	// released is set once rows flow to the batcher (Confirmed under
	// hold-then-release, immediately under write-then-compensate).
	released bool

	// Held events, coalesced per pubkey on highest write version.
	accounts map[[event.PubkeySize]byte]*event.AccountUpdate
	txs      []*event.Transaction
	block    *event.BlockMetadata

	// releasedKeys remembers what was written before the slot was terminal,
	// so a late death can be compensated with tombstones.
	releasedKeys map[codec.Table]map[string]struct{}
}

func (p *pendingSlot) heldEvents() int {
	n := len(p.accounts) + len(p.txs)
	if p.block != nil {
		n++
	}
	return n
}

func (p *pendingSlot) rememberKey(table codec.Table, key string) {
	if p.releasedKeys == nil {
		p.releasedKeys = make(map[codec.Table]map[string]struct{})
	}
	keys := p.releasedKeys[table]
	if keys == nil {
		keys = make(map[string]struct{})
		p.releasedKeys[table] = keys
	}
	keys[key] = struct{}{}
}

// Tracker owns the pending-slot arena.
type Tracker struct {
	log  zerolog.Logger
	conf Config
	cod  *codec.Codec
	sink Enqueuer

	slots *xsync.MapOf[uint64, *pendingSlot]

	// terminal remembers recently finished slots so late events can be told
	// apart: a repeat after Rooted is an idempotent duplicate, anything
	// after Dead is a resurrection attempt.
	terminal *lru.Cache[uint64, event.SlotStatus]

	// onRooted, when set, fires after a slot's finality marker is enqueued.
	onRooted func(slot uint64)

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New builds a tracker routing released rows into sink.
func New(log zerolog.Logger, conf Config, cod *codec.Codec, sink Enqueuer) (*Tracker, error) {
	terminal, err := lru.New[uint64, event.SlotStatus](conf.TerminalHistorySize)
	if err != nil {
		return nil, fmt.Errorf("terminal history: %w", err)
	}
	return &Tracker{
		log:      log.With().Str("component", "tracker").Logger(),
		conf:     conf,
		cod:      cod,
		sink:     sink,
		slots:    xsync.NewMapOf[uint64, *pendingSlot](),
		terminal: terminal,
		stopCh:   make(chan struct{}),
	}, nil
}

// SetRootedHook registers the callback fired when a slot roots.
func (t *Tracker) SetRootedHook(fn func(slot uint64)) {
	t.onRooted = fn
}

// Start launches the stale-slot sweep.
func (t *Tracker) Start() {
	t.wg.Add(1)
	go t.sweepLoop()
}

// Stop terminates the sweep. Idempotent. Pending slots are left in place;
// unresolved finality is the host's to report, not ours to force.
func (t *Tracker) Stop() {
	t.stopOnce.Do(func() { close(t.stopCh) })
	t.wg.Wait()
}

// PendingSlots reports slots without a terminal status.
func (t *Tracker) PendingSlots() int {
	return t.slots.Size()
}

// HeldEvents reports events buffered across all pending slots.
func (t *Tracker) HeldEvents() int {
	total := 0
	t.slots.Range(func(_ uint64, p *pendingSlot) bool {
		p.mu.Lock()
		total += p.heldEvents()
		p.mu.Unlock()
		return true
	})
	return total
}

// entry returns the arena entry for slot, creating it on first reference.
func (t *Tracker) entry(slot uint64) *pendingSlot {
	p, loaded := t.slots.LoadOrCompute(slot, func() *pendingSlot {
		return &pendingSlot{
			slot:      slot,
			status:    event.StatusProcessed,
			firstSeen: time.Now(),
			accounts:  make(map[[event.PubkeySize]byte]*event.AccountUpdate),
		}
	})
	if !loaded {
		telemetry.PendingSlots.Set(float64(t.slots.Size()))
	}
	return p
}

// terminalFor classifies an event against the recently finished slots.
// Returns (status, true) when the slot already reached a terminal state.
func (t *Tracker) terminalFor(slot uint64) (event.SlotStatus, bool) {
	if _, live := t.slots.Load(slot); live {
		return 0, false
	}
	return t.terminal.Get(slot)
}

func (t *Tracker) violation(v *ProtocolViolationError) error {
	telemetry.ProtocolViolationsTotal.Inc()
	t.log.Warn().
		Uint64("slot", v.Slot).
		Str("from", v.From.String()).
		Str("to", v.To.String()).
		Str("reason", v.Reason).
		Msg("Protocol violation from host")
	return v
}

func (t *Tracker) sweepLoop() {
	defer t.wg.Done()

	ticker := time.NewTicker(t.conf.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			t.sweep()
		case <-t.stopCh:
			return
		}
	}
}

// sweep reports slots stuck without a terminal status. It never forces
// resolution; slot finality is authoritative information from the host.
func (t *Tracker) sweep() {
	cutoff := time.Now().Add(-t.conf.StaleSlotTimeout)
	t.slots.Range(func(slot uint64, p *pendingSlot) bool {
		p.mu.Lock()
		if !p.staleReported && p.firstSeen.Before(cutoff) {
			p.staleReported = true
			telemetry.StaleSlotsTotal.Inc()
			t.log.Warn().
				Uint64("slot", slot).
				Str("status", p.status.String()).
				Int("held_events", p.heldEvents()).
				Dur("age", time.Since(p.firstSeen)).
				Msg("Stale slot: no terminal status from host")
		}
		p.mu.Unlock()
		return true
	})
}
