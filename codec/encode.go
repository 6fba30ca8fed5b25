package codec

import (
	"encoding/binary"
	"fmt"

	"github.com/arrowglass/ledgersink/encoding"
	"github.com/arrowglass/ledgersink/event"
	"github.com/cespare/xxhash/v2"
)

// Stored cell payloads. Slot, pubkey and tx index live in the row key and
// are not repeated here.

type storedAccount struct {
	Lamports     uint64 `msgpack:"l"`
	Owner        []byte `msgpack:"o"`
	WriteVersion uint64 `msgpack:"wv"`
	Data         []byte `msgpack:"d"`
	Encoding     uint8  `msgpack:"e"`
	IsStartup    bool   `msgpack:"su"`
}

type storedTransaction struct {
	Signature   []byte   `msgpack:"sig"`
	Status      int32    `msgpack:"st"`
	IsVote      bool     `msgpack:"v"`
	AccountKeys [][]byte `msgpack:"acc"`
	Message     []byte   `msgpack:"msg"`
}

type storedBlock struct {
	Blockhash   []byte `msgpack:"bh"`
	BlockTime   int64  `msgpack:"bt"`
	BlockHeight uint64 `msgpack:"h"`
}

// EncodeAccount maps an account update to its data and checksum cells.
func (c *Codec) EncodeAccount(ev *event.AccountUpdate) ([]RowMutation, error) {
	data := ev.Data
	enc := encodingRaw
	if c.compressThreshold > 0 && len(data) > c.compressThreshold {
		compressed, err := encoding.Compress(data)
		if err != nil {
			return nil, &EncodeError{Category: "account", Reason: fmt.Sprintf("compress data: %v", err)}
		}
		if len(compressed) < len(data) {
			data = compressed
			enc = encodingZstd
		}
	}

	payload, err := encoding.Marshal(&storedAccount{
		Lamports:     ev.Lamports,
		Owner:        ev.Owner[:],
		WriteVersion: ev.WriteVersion,
		Data:         data,
		Encoding:     enc,
		IsStartup:    ev.IsStartup,
	})
	if err != nil {
		return nil, &EncodeError{Category: "account", Reason: err.Error()}
	}
	if len(payload) > c.maxCellBytes {
		return nil, &EncodeError{
			Category: "account",
			Reason:   fmt.Sprintf("payload %d bytes exceeds cell limit %d", len(payload), c.maxCellBytes),
		}
	}

	key := AccountKey(ev.Pubkey, ev.Slot)
	ts := slotTimestampMicros(ev.Slot)

	// Checksum covers the uncompressed data so scan-side verification does
	// not depend on the stored encoding.
	var sum [8]byte
	binary.BigEndian.PutUint64(sum[:], xxhash.Sum64(ev.Data))

	return []RowMutation{
		{Table: TableAccounts, Key: key, Family: FamilyData, Qualifier: QualAccount, TimestampMicros: ts, Value: payload},
		{Table: TableAccounts, Key: key, Family: FamilyMeta, Qualifier: QualChecksum, TimestampMicros: ts, Value: sum[:]},
	}, nil
}

// EncodeTransaction maps a transaction to its data cell.
func (c *Codec) EncodeTransaction(ev *event.Transaction) ([]RowMutation, error) {
	keys := make([][]byte, len(ev.AccountKeys))
	for i, k := range ev.AccountKeys {
		keys[i] = append([]byte(nil), k[:]...)
	}

	payload, err := encoding.Marshal(&storedTransaction{
		Signature:   ev.Signature[:],
		Status:      int32(ev.Status),
		IsVote:      ev.IsVote,
		AccountKeys: keys,
		Message:     ev.Message,
	})
	if err != nil {
		return nil, &EncodeError{Category: "transaction", Reason: err.Error()}
	}
	if len(payload) > c.maxCellBytes {
		return nil, &EncodeError{
			Category: "transaction",
			Reason:   fmt.Sprintf("payload %d bytes exceeds cell limit %d", len(payload), c.maxCellBytes),
		}
	}

	return []RowMutation{{
		Table:           TableTx,
		Key:             TxKey(ev.Slot, ev.IndexInBlock),
		Family:          FamilyData,
		Qualifier:       QualTx,
		TimestampMicros: slotTimestampMicros(ev.Slot),
		Value:           payload,
	}}, nil
}

// EncodeBlockMetadata maps block metadata to its data cell.
func (c *Codec) EncodeBlockMetadata(ev *event.BlockMetadata) ([]RowMutation, error) {
	payload, err := encoding.Marshal(&storedBlock{
		Blockhash:   ev.Blockhash[:],
		BlockTime:   ev.BlockTime,
		BlockHeight: ev.BlockHeight,
	})
	if err != nil {
		return nil, &EncodeError{Category: "block", Reason: err.Error()}
	}

	return []RowMutation{{
		Table:           TableBlocks,
		Key:             BlockKey(ev.Slot),
		Family:          FamilyData,
		Qualifier:       QualBlock,
		TimestampMicros: slotTimestampMicros(ev.Slot),
		Value:           payload,
	}}, nil
}

// EncodeSlotRooted is the finality marker the tracker writes when a slot
// roots. Readers treat a blocks row carrying it as permanent history.
func EncodeSlotRooted(slot uint64) RowMutation {
	return RowMutation{
		Table:           TableBlocks,
		Key:             BlockKey(slot),
		Family:          FamilyMeta,
		Qualifier:       QualStatus,
		TimestampMicros: slotTimestampMicros(slot),
		Value:           []byte(event.StatusRooted.String()),
	}
}

// EncodeTombstone marks a previously written row as logically dead. Used by
// the write-then-compensate policy when a speculatively written slot dies.
func EncodeTombstone(table Table, key string, slot uint64) RowMutation {
	return RowMutation{
		Table:           table,
		Key:             key,
		Family:          FamilyMeta,
		Qualifier:       QualTombstone,
		TimestampMicros: slotTimestampMicros(slot),
		Value:           []byte{1},
	}
}
