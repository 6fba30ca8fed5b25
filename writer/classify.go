package writer

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type failureClass int

const (
	// classTransient: rate limiting, unavailability. Retry eligible.
	classTransient failureClass = iota
	// classPermanent: schema/permission mismatch, malformed row. Never
	// retried; trips the table breaker.
	classPermanent
	// classAborted: the caller's context ended. Neither retried nor held
	// against the table.
	classAborted
)

// classify buckets a storage error by gRPC status code. Anything without a
// status (raw network failure) is treated as transient.
func classify(err error) failureClass {
	if errors.Is(err, context.Canceled) {
		return classAborted
	}

	s, ok := status.FromError(err)
	if !ok {
		return classTransient
	}

	switch s.Code() {
	case codes.Unavailable,
		codes.DeadlineExceeded,
		codes.ResourceExhausted,
		codes.Aborted,
		codes.Internal,
		codes.Unknown:
		return classTransient
	case codes.InvalidArgument,
		codes.NotFound,
		codes.AlreadyExists,
		codes.PermissionDenied,
		codes.Unauthenticated,
		codes.FailedPrecondition,
		codes.OutOfRange,
		codes.Unimplemented,
		codes.DataLoss:
		return classPermanent
	case codes.Canceled:
		return classAborted
	}
	return classTransient
}
