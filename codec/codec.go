// Package codec maps domain events onto storage rows and back. It is pure
// and stateless: encoding never performs I/O, and decoding exists for
// verification and tests.
package codec

import "fmt"

// Table is the logical destination table of a mutation. The concrete
// backend table names come from configuration; everything above the storage
// writer deals in logical tables only.
type Table string

const (
	TableAccounts Table = "accounts"
	TableTx       Table = "tx"
	TableBlocks   Table = "blocks"
)

// Column families. Row keys are shared between both families.
const (
	// FamilyData holds the payload cell.
	FamilyData = "x"
	// FamilyMeta holds checksum, status and tombstone cells.
	FamilyMeta = "m"
)

// Qualifiers within the families above.
const (
	QualAccount   = "account"
	QualTx        = "tx"
	QualBlock     = "block"
	QualChecksum  = "xxh64"
	QualStatus    = "status"
	QualTombstone = "dead"
)

// Payload encodings recorded in the stored cell.
const (
	encodingRaw  uint8 = 0
	encodingZstd uint8 = 1
)

// RowMutation is a single keyed cell write.
type RowMutation struct {
	Table     Table
	Key       string
	Family    string
	Qualifier string
	// TimestampMicros is derived from the slot rather than wall clock, so a
	// re-sent mutation is byte-identical to the original and retries are
	// idempotent under last-write-wins.
	TimestampMicros int64
	Value           []byte
}

// EncodeError reports malformed input. Events failing to encode are dropped
// and counted, never retried.
type EncodeError struct {
	Category string
	Reason   string
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("encode %s: %s", e.Category, e.Reason)
}

// Codec encodes events into row mutations. Limits are fixed at construction.
type Codec struct {
	// maxCellBytes is the backend's cell value ceiling. Payloads above it
	// (after compression) fail with EncodeError; the codec never truncates.
	maxCellBytes int
	// compressThreshold is the account-data size above which the payload is
	// stored zstd-compressed. Zero disables compression.
	compressThreshold int
}

func New(maxCellBytes, compressThreshold int) *Codec {
	return &Codec{
		maxCellBytes:      maxCellBytes,
		compressThreshold: compressThreshold,
	}
}

// slotTimestampMicros maps a slot to the deterministic cell timestamp.
// Millisecond granularity keeps the backend from rejecting the value.
func slotTimestampMicros(slot uint64) int64 {
	return int64(slot) * 1000
}
