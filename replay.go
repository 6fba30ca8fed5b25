package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/arrowglass/ledgersink/coordinator"
	"github.com/arrowglass/ledgersink/event"
	"github.com/mr-tron/base58"
	"github.com/rs/zerolog/log"
)

// replayLine is one NDJSON event from the host feed. Pubkeys, owners and
// signatures are base58; data and message blobs are base64 (encoding/json's
// native []byte form).
type replayLine struct {
	Type string `json:"type"`
	Slot uint64 `json:"slot"`

	// account
	Pubkey       string `json:"pubkey,omitempty"`
	Lamports     uint64 `json:"lamports,omitempty"`
	Owner        string `json:"owner,omitempty"`
	Data         []byte `json:"data,omitempty"`
	WriteVersion uint64 `json:"write_version,omitempty"`
	IsStartup    bool   `json:"is_startup,omitempty"`

	// transaction
	Signature    string   `json:"signature,omitempty"`
	IndexInBlock uint32   `json:"index,omitempty"`
	TxStatus     int32    `json:"tx_status,omitempty"`
	IsVote       bool     `json:"is_vote,omitempty"`
	AccountKeys  []string `json:"account_keys,omitempty"`
	Message      []byte   `json:"message,omitempty"`

	// slot_status
	Parent uint64 `json:"parent,omitempty"`
	Status string `json:"status,omitempty"`

	// block_metadata
	Blockhash   string `json:"blockhash,omitempty"`
	BlockTime   int64  `json:"block_time,omitempty"`
	BlockHeight uint64 `json:"block_height,omitempty"`
}

// runReplay feeds the NDJSON stream at path into the coordinator. "-" reads
// stdin. Malformed lines are logged and skipped; the stream keeps going.
func runReplay(ctx context.Context, coord *coordinator.Coordinator, path string) error {
	var in io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("open replay stream: %w", err)
		}
		defer f.Close()
		in = f
	}

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 1<<20), 64<<20)

	lineNo := 0
	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		lineNo++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}

		var line replayLine
		if err := json.Unmarshal(raw, &line); err != nil {
			log.Warn().Err(err).Int("line", lineNo).Msg("Skipping malformed replay line")
			continue
		}
		if err := dispatchLine(coord, &line); err != nil {
			log.Warn().Err(err).Int("line", lineNo).Str("type", line.Type).Msg("Replay event rejected")
		}
	}
	return scanner.Err()
}

func dispatchLine(coord *coordinator.Coordinator, line *replayLine) error {
	switch line.Type {
	case "account":
		ev := &event.AccountUpdate{
			Slot:         line.Slot,
			Lamports:     line.Lamports,
			Data:         line.Data,
			WriteVersion: line.WriteVersion,
			IsStartup:    line.IsStartup,
		}
		if err := decodeID(line.Pubkey, ev.Pubkey[:]); err != nil {
			return fmt.Errorf("pubkey: %w", err)
		}
		if err := decodeID(line.Owner, ev.Owner[:]); err != nil {
			return fmt.Errorf("owner: %w", err)
		}
		return coord.OnAccountUpdate(ev)

	case "transaction":
		ev := &event.Transaction{
			Slot:         line.Slot,
			IndexInBlock: line.IndexInBlock,
			Status:       event.TxStatusCode(line.TxStatus),
			IsVote:       line.IsVote,
			Message:      line.Message,
		}
		if err := decodeID(line.Signature, ev.Signature[:]); err != nil {
			return fmt.Errorf("signature: %w", err)
		}
		ev.AccountKeys = make([][event.PubkeySize]byte, len(line.AccountKeys))
		for i, key := range line.AccountKeys {
			if err := decodeID(key, ev.AccountKeys[i][:]); err != nil {
				return fmt.Errorf("account key %d: %w", i, err)
			}
		}
		return coord.OnTransaction(ev)

	case "slot_status":
		status, err := event.ParseSlotStatus(line.Status)
		if err != nil {
			return err
		}
		return coord.OnSlotStatus(&event.SlotStatusUpdate{
			Slot:       line.Slot,
			ParentSlot: line.Parent,
			Status:     status,
		})

	case "block_metadata":
		ev := &event.BlockMetadata{
			Slot:        line.Slot,
			BlockTime:   line.BlockTime,
			BlockHeight: line.BlockHeight,
		}
		if err := decodeID(line.Blockhash, ev.Blockhash[:]); err != nil {
			return fmt.Errorf("blockhash: %w", err)
		}
		return coord.OnBlockMetadata(ev)

	case "end_of_startup":
		return coord.OnEndOfStartup()
	}
	return fmt.Errorf("unknown event type %q", line.Type)
}

// decodeID base58-decodes into dst, enforcing the exact length.
func decodeID(s string, dst []byte) error {
	raw, err := base58.Decode(s)
	if err != nil {
		return err
	}
	if len(raw) != len(dst) {
		return fmt.Errorf("expected %d bytes, got %d", len(dst), len(raw))
	}
	copy(dst, raw)
	return nil
}
