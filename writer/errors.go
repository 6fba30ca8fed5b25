package writer

import (
	"errors"
	"fmt"
)

// ErrTableHalted is returned for writes against a table whose circuit
// breaker tripped on a permanent storage error. The breaker stays open
// until an operator resumes the table.
var ErrTableHalted = errors.New("table halted after permanent storage error")

// BatchWriteFailedError reports a batch (or its still-failing subset) that
// exhausted the retry budget. It is surfaced, never silently dropped.
type BatchWriteFailedError struct {
	Table   string
	RowKeys []string
	Err     error
}

func (e *BatchWriteFailedError) Error() string {
	return fmt.Sprintf("batch write to %s failed for %d rows: %v", e.Table, len(e.RowKeys), e.Err)
}

func (e *BatchWriteFailedError) Unwrap() error {
	return e.Err
}

// PermanentError wraps a non-retriable storage failure. Writes to the table
// halt once one is observed.
type PermanentError struct {
	Table string
	Err   error
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("permanent storage error on %s: %v", e.Table, e.Err)
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}
