package writer

import (
	"context"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/bigtable"
	"github.com/arrowglass/ledgersink/codec"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// fakeApplier scripts ApplyBulk responses per attempt.
type fakeApplier struct {
	mu       sync.Mutex
	attempts [][]string // row keys seen per attempt

	// responses[i] is returned on attempt i; past the end everything
	// succeeds.
	responses []applyResponse
}

type applyResponse struct {
	rowErrs []error
	rpcErr  error
}

func (f *fakeApplier) ApplyBulk(ctx context.Context, rowKeys []string, muts []*bigtable.Mutation, opts ...bigtable.ApplyOption) ([]error, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	keys := make([]string, len(rowKeys))
	copy(keys, rowKeys)
	f.attempts = append(f.attempts, keys)

	i := len(f.attempts) - 1
	if i < len(f.responses) {
		r := f.responses[i]
		return r.rowErrs, r.rpcErr
	}
	return make([]error, len(rowKeys)), nil
}

func (f *fakeApplier) attemptCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.attempts)
}

func testConfig() Config {
	return Config{
		MaxRetries:      3,
		RetryInitial:    time.Millisecond,
		RetryMax:        5 * time.Millisecond,
		RetryMultiplier: 2.0,
		RetryCeiling:    time.Second,
		RequestTimeout:  time.Second,
	}
}

func newTestWriter(applier MutationApplier) *Writer {
	return New(
		zerolog.Nop(),
		testConfig(),
		map[codec.Table]MutationApplier{codec.TableAccounts: applier},
		map[codec.Table]string{codec.TableAccounts: "accounts-bt"},
	)
}

func accountMuts(keys ...string) []codec.RowMutation {
	muts := make([]codec.RowMutation, len(keys))
	for i, k := range keys {
		muts[i] = codec.RowMutation{
			Table:           codec.TableAccounts,
			Key:             k,
			Family:          codec.FamilyData,
			Qualifier:       codec.QualAccount,
			TimestampMicros: 1000,
			Value:           []byte("v"),
		}
	}
	return muts
}

func TestWriteSuccess(t *testing.T) {
	applier := &fakeApplier{}
	w := newTestWriter(applier)

	err := w.Write(context.Background(), codec.TableAccounts, accountMuts("a", "b"))
	require.NoError(t, err)
	assert.Equal(t, 1, applier.attemptCount())
}

func TestWriteGroupsMutationsByRowKey(t *testing.T) {
	applier := &fakeApplier{}
	w := newTestWriter(applier)

	// Two cells for "a" plus one for "b" collapse into two backend rows.
	muts := accountMuts("a", "b")
	muts = append(muts, codec.RowMutation{
		Table: codec.TableAccounts, Key: "a",
		Family: codec.FamilyMeta, Qualifier: codec.QualChecksum,
		TimestampMicros: 1000, Value: []byte("sum"),
	})

	require.NoError(t, w.Write(context.Background(), codec.TableAccounts, muts))
	require.Equal(t, 1, applier.attemptCount())
	assert.Equal(t, []string{"a", "b"}, applier.attempts[0])
}

func TestWriteRetriesTransientRPCError(t *testing.T) {
	applier := &fakeApplier{responses: []applyResponse{
		{rpcErr: status.Error(codes.Unavailable, "backend restarting")},
		{rpcErr: status.Error(codes.ResourceExhausted, "throttled")},
	}}
	w := newTestWriter(applier)

	err := w.Write(context.Background(), codec.TableAccounts, accountMuts("a"))
	require.NoError(t, err)
	assert.Equal(t, 3, applier.attemptCount())
}

func TestWriteRetriesOnlyFailingRows(t *testing.T) {
	applier := &fakeApplier{responses: []applyResponse{
		{rowErrs: []error{nil, status.Error(codes.Unavailable, "row busy")}},
	}}
	w := newTestWriter(applier)

	err := w.Write(context.Background(), codec.TableAccounts, accountMuts("a", "b"))
	require.NoError(t, err)
	require.Equal(t, 2, applier.attemptCount())
	assert.Equal(t, []string{"a", "b"}, applier.attempts[0])
	assert.Equal(t, []string{"b"}, applier.attempts[1], "only the failed row is retried")
}

func TestWriteExhaustsRetries(t *testing.T) {
	unavailable := status.Error(codes.Unavailable, "down hard")
	applier := &fakeApplier{responses: []applyResponse{
		{rpcErr: unavailable}, {rpcErr: unavailable}, {rpcErr: unavailable},
		{rpcErr: unavailable}, {rpcErr: unavailable},
	}}
	w := newTestWriter(applier)

	err := w.Write(context.Background(), codec.TableAccounts, accountMuts("a"))
	require.Error(t, err)

	var failed *BatchWriteFailedError
	require.ErrorAs(t, err, &failed)
	assert.Equal(t, "accounts-bt", failed.Table)
	assert.Equal(t, []string{"a"}, failed.RowKeys)
	// Initial attempt plus MaxRetries.
	assert.Equal(t, 4, applier.attemptCount())
}

func TestPermanentErrorHaltsTable(t *testing.T) {
	applier := &fakeApplier{responses: []applyResponse{
		{rpcErr: status.Error(codes.PermissionDenied, "no access")},
	}}
	w := newTestWriter(applier)

	err := w.Write(context.Background(), codec.TableAccounts, accountMuts("a"))
	var perm *PermanentError
	require.ErrorAs(t, err, &perm)
	assert.Equal(t, 1, applier.attemptCount(), "permanent errors are never retried")

	halted := w.Halted()
	require.Contains(t, halted, "accounts-bt")

	// Subsequent writes fail fast without reaching the backend.
	err = w.Write(context.Background(), codec.TableAccounts, accountMuts("b"))
	assert.ErrorIs(t, err, ErrTableHalted)
	assert.Equal(t, 1, applier.attemptCount())
}

func TestPermanentRowErrorHaltsTable(t *testing.T) {
	applier := &fakeApplier{responses: []applyResponse{
		{rowErrs: []error{status.Error(codes.InvalidArgument, "bad cell")}},
	}}
	w := newTestWriter(applier)

	err := w.Write(context.Background(), codec.TableAccounts, accountMuts("a"))
	var perm *PermanentError
	require.ErrorAs(t, err, &perm)
	assert.Contains(t, w.Halted(), "accounts-bt")
}

func TestResumeClearsHalt(t *testing.T) {
	applier := &fakeApplier{responses: []applyResponse{
		{rpcErr: status.Error(codes.PermissionDenied, "no access")},
	}}
	w := newTestWriter(applier)

	_ = w.Write(context.Background(), codec.TableAccounts, accountMuts("a"))
	require.Contains(t, w.Halted(), "accounts-bt")

	assert.True(t, w.Resume("accounts-bt"))
	assert.Empty(t, w.Halted())
	assert.False(t, w.Resume("accounts-bt"), "second resume is a no-op")

	require.NoError(t, w.Write(context.Background(), codec.TableAccounts, accountMuts("b")))
}

func TestContextCancellationAborts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	applier := &fakeApplier{responses: []applyResponse{
		{rpcErr: context.Canceled},
	}}
	w := newTestWriter(applier)

	err := w.Write(ctx, codec.TableAccounts, accountMuts("a"))
	require.Error(t, err)
	assert.Empty(t, w.Halted(), "cancellation must not trip the breaker")
}

func TestEmptyWriteIsNoop(t *testing.T) {
	applier := &fakeApplier{}
	w := newTestWriter(applier)

	require.NoError(t, w.Write(context.Background(), codec.TableAccounts, nil))
	assert.Equal(t, 0, applier.attemptCount())
}

func TestClassify(t *testing.T) {
	assert.Equal(t, classTransient, classify(status.Error(codes.Unavailable, "x")))
	assert.Equal(t, classTransient, classify(status.Error(codes.DeadlineExceeded, "x")))
	assert.Equal(t, classTransient, classify(assert.AnError), "statusless errors retry")
	assert.Equal(t, classPermanent, classify(status.Error(codes.NotFound, "x")))
	assert.Equal(t, classPermanent, classify(status.Error(codes.InvalidArgument, "x")))
	assert.Equal(t, classAborted, classify(context.Canceled))
	assert.Equal(t, classAborted, classify(status.Error(codes.Canceled, "x")))
}

func TestBackoffDelayGrowsAndCaps(t *testing.T) {
	w := newTestWriter(&fakeApplier{})

	first := w.backoffDelay(1)
	assert.Greater(t, first, time.Duration(0))
	assert.LessOrEqual(t, first, 2*time.Millisecond)

	// Far past the cap: bounded by RetryMax plus jitter headroom.
	late := w.backoffDelay(30)
	assert.LessOrEqual(t, late, 6*time.Millisecond)
	assert.GreaterOrEqual(t, late, 4*time.Millisecond)
}
