package codec

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/arrowglass/ledgersink/event"
)

// Row keys are built so that lexicographic order matches the scan order the
// read path needs: slots are fixed-width lowercase hex, and account keys lead
// with the byte-reversed pubkey so one account's history is contiguous.

// AccountKey returns hex(reverse(pubkey)) + "/" + slot.
func AccountKey(pubkey [event.PubkeySize]byte, slot uint64) string {
	var rev [event.PubkeySize]byte
	for i := 0; i < event.PubkeySize; i++ {
		rev[i] = pubkey[event.PubkeySize-1-i]
	}
	return hex.EncodeToString(rev[:]) + "/" + fmt.Sprintf("%016x", slot)
}

// TxKey returns slot + "/" + index, both fixed width.
func TxKey(slot uint64, index uint32) string {
	return fmt.Sprintf("%016x/%08x", slot, index)
}

// BlockKey returns the fixed-width slot.
func BlockKey(slot uint64) string {
	return fmt.Sprintf("%016x", slot)
}

// ParseAccountKey recovers the pubkey and slot from an accounts row key.
func ParseAccountKey(key string) (pubkey [event.PubkeySize]byte, slot uint64, err error) {
	parts := strings.SplitN(key, "/", 2)
	if len(parts) != 2 || len(parts[0]) != event.PubkeySize*2 {
		return pubkey, 0, fmt.Errorf("malformed account key %q", key)
	}
	raw, err := hex.DecodeString(parts[0])
	if err != nil {
		return pubkey, 0, fmt.Errorf("malformed account key %q: %w", key, err)
	}
	for i := 0; i < event.PubkeySize; i++ {
		pubkey[i] = raw[event.PubkeySize-1-i]
	}
	if _, err := fmt.Sscanf(parts[1], "%016x", &slot); err != nil {
		return pubkey, 0, fmt.Errorf("malformed account key slot %q: %w", parts[1], err)
	}
	return pubkey, slot, nil
}

// ParseTxKey recovers the slot and block index from a tx row key.
func ParseTxKey(key string) (slot uint64, index uint32, err error) {
	if _, err := fmt.Sscanf(key, "%016x/%08x", &slot, &index); err != nil {
		return 0, 0, fmt.Errorf("malformed tx key %q: %w", key, err)
	}
	return slot, index, nil
}

// ParseBlockKey recovers the slot from a blocks row key.
func ParseBlockKey(key string) (slot uint64, err error) {
	if _, err := fmt.Sscanf(key, "%016x", &slot); err != nil {
		return 0, fmt.Errorf("malformed block key %q: %w", key, err)
	}
	return slot, nil
}
