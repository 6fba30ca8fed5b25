package codec

import (
	"encoding/binary"
	"fmt"

	"github.com/arrowglass/ledgersink/encoding"
	"github.com/arrowglass/ledgersink/event"
	"github.com/cespare/xxhash/v2"
)

// Decoding reverses the encoders for round-trip verification. The read path
// proper lives with downstream consumers, not in this pipeline.

func findCell(muts []RowMutation, family, qualifier string) (RowMutation, bool) {
	for _, m := range muts {
		if m.Family == family && m.Qualifier == qualifier {
			return m, true
		}
	}
	return RowMutation{}, false
}

// DecodeAccount rebuilds an account update from its encoded mutations.
// The checksum cell, when present, is verified against the data.
func (c *Codec) DecodeAccount(muts []RowMutation) (*event.AccountUpdate, error) {
	cell, ok := findCell(muts, FamilyData, QualAccount)
	if !ok {
		return nil, fmt.Errorf("no account data cell")
	}

	var stored storedAccount
	if err := encoding.Unmarshal(cell.Value, &stored); err != nil {
		return nil, fmt.Errorf("unmarshal account cell: %w", err)
	}

	data := stored.Data
	if stored.Encoding == encodingZstd {
		var err error
		data, err = encoding.Decompress(data)
		if err != nil {
			return nil, fmt.Errorf("decompress account data: %w", err)
		}
	}

	pubkey, slot, err := ParseAccountKey(cell.Key)
	if err != nil {
		return nil, err
	}

	if sum, ok := findCell(muts, FamilyMeta, QualChecksum); ok {
		if len(sum.Value) != 8 || binary.BigEndian.Uint64(sum.Value) != xxhash.Sum64(data) {
			return nil, fmt.Errorf("account data checksum mismatch for key %s", cell.Key)
		}
	}

	ev := &event.AccountUpdate{
		Slot:         slot,
		Pubkey:       pubkey,
		Lamports:     stored.Lamports,
		WriteVersion: stored.WriteVersion,
		Data:         data,
		IsStartup:    stored.IsStartup,
	}
	copy(ev.Owner[:], stored.Owner)
	return ev, nil
}

// DecodeTransaction rebuilds a transaction from its encoded mutations.
func (c *Codec) DecodeTransaction(muts []RowMutation) (*event.Transaction, error) {
	cell, ok := findCell(muts, FamilyData, QualTx)
	if !ok {
		return nil, fmt.Errorf("no transaction data cell")
	}

	var stored storedTransaction
	if err := encoding.Unmarshal(cell.Value, &stored); err != nil {
		return nil, fmt.Errorf("unmarshal tx cell: %w", err)
	}

	slot, index, err := ParseTxKey(cell.Key)
	if err != nil {
		return nil, err
	}

	ev := &event.Transaction{
		Slot:         slot,
		IndexInBlock: index,
		Status:       event.TxStatusCode(stored.Status),
		IsVote:       stored.IsVote,
		Message:      stored.Message,
	}
	copy(ev.Signature[:], stored.Signature)
	ev.AccountKeys = make([][event.PubkeySize]byte, len(stored.AccountKeys))
	for i, k := range stored.AccountKeys {
		copy(ev.AccountKeys[i][:], k)
	}
	return ev, nil
}

// DecodeBlockMetadata rebuilds block metadata from its encoded mutations.
func (c *Codec) DecodeBlockMetadata(muts []RowMutation) (*event.BlockMetadata, error) {
	cell, ok := findCell(muts, FamilyData, QualBlock)
	if !ok {
		return nil, fmt.Errorf("no block data cell")
	}

	var stored storedBlock
	if err := encoding.Unmarshal(cell.Value, &stored); err != nil {
		return nil, fmt.Errorf("unmarshal block cell: %w", err)
	}

	slot, err := ParseBlockKey(cell.Key)
	if err != nil {
		return nil, err
	}

	ev := &event.BlockMetadata{
		Slot:        slot,
		BlockTime:   stored.BlockTime,
		BlockHeight: stored.BlockHeight,
	}
	copy(ev.Blockhash[:], stored.Blockhash)
	return ev, nil
}
