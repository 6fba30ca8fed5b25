// Package event defines the notification types delivered by the host
// validator. The host guarantees per-category ordering (events for a given
// slot/pubkey pair arrive in order) but no total order across categories.
package event

import "fmt"

// SlotStatus is the confirmation level the host asserts for a slot.
type SlotStatus uint8

const (
	StatusProcessed SlotStatus = iota
	StatusConfirmed
	StatusRooted
	StatusDead
)

// Terminal reports whether no further transition is possible from s.
func (s SlotStatus) Terminal() bool {
	return s == StatusRooted || s == StatusDead
}

func (s SlotStatus) String() string {
	switch s {
	case StatusProcessed:
		return "processed"
	case StatusConfirmed:
		return "confirmed"
	case StatusRooted:
		return "rooted"
	case StatusDead:
		return "dead"
	}
	return fmt.Sprintf("unknown(%d)", uint8(s))
}

// ParseSlotStatus converts the wire form used by replay streams.
func ParseSlotStatus(s string) (SlotStatus, error) {
	switch s {
	case "processed":
		return StatusProcessed, nil
	case "confirmed":
		return StatusConfirmed, nil
	case "rooted":
		return StatusRooted, nil
	case "dead":
		return StatusDead, nil
	}
	return 0, fmt.Errorf("unknown slot status %q", s)
}

const (
	// PubkeySize is the length of an account or owner id.
	PubkeySize = 32
	// SignatureSize is the length of a transaction signature.
	SignatureSize = 64
)

// AccountUpdate is one observed mutation of an account at a slot. Multiple
// updates may arrive for the same (slot, pubkey); the highest WriteVersion
// is authoritative.
type AccountUpdate struct {
	Slot         uint64
	Pubkey       [PubkeySize]byte
	Lamports     uint64
	Owner        [PubkeySize]byte
	Data         []byte
	WriteVersion uint64
	// IsStartup marks snapshot-restore updates emitted before the host
	// signals end of startup. These are pre-rooted by definition.
	IsStartup bool
}

// TxStatusCode distinguishes success from a failed execution.
type TxStatusCode int32

// TxStatusOK means the transaction executed successfully; any other value is
// the host's failure code.
const TxStatusOK TxStatusCode = 0

// Transaction is an executed transaction observed at a slot. Immutable once
// emitted.
type Transaction struct {
	Slot         uint64
	Signature    [SignatureSize]byte
	IndexInBlock uint32
	Status       TxStatusCode
	IsVote       bool
	// AccountKeys is the ordered list of account ids the transaction touches.
	AccountKeys [][PubkeySize]byte
	Message     []byte
}

// Succeeded reports whether the transaction executed without error.
func (t *Transaction) Succeeded() bool {
	return t.Status == TxStatusOK
}

// SlotStatusUpdate drives the confirmation tracker.
type SlotStatusUpdate struct {
	Slot       uint64
	ParentSlot uint64
	Status     SlotStatus
}

// BlockMetadata carries per-block fields the host emits once per slot.
type BlockMetadata struct {
	Slot        uint64
	Blockhash   [PubkeySize]byte
	BlockTime   int64
	BlockHeight uint64
}
