package feed

import (
	"errors"

	"go.mongodb.org/mongo-driver/v2/mongo"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var (
	// ErrRecoverable wraps errors after which the subscription stays alive
	// and retries on its own.
	ErrRecoverable = errors.New("feed: recoverable error")

	// ErrInvalidated is reported when the store closes the stream for good,
	// e.g. the watched collection was dropped.
	ErrInvalidated = errors.New("feed: stream invalidated")
)

// resumableLabel is the server error label on change stream errors that a
// client may resume from.
const resumableLabel = "ResumableChangeStreamError"

// IsRecoverable reports whether err is transient: network errors, timeouts,
// resumable change stream errors, and the store's "unavailable" or
// "precondition (index building)" status codes.
func IsRecoverable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRecoverable) {
		return true
	}
	if errors.Is(err, ErrInvalidated) {
		return false
	}
	if mongo.IsNetworkError(err) || mongo.IsTimeout(err) {
		return true
	}
	var se mongo.ServerError
	if errors.As(err, &se) && se.HasErrorLabel(resumableLabel) {
		return true
	}
	if st, ok := status.FromError(err); ok {
		switch st.Code() {
		case codes.Unavailable, codes.DeadlineExceeded, codes.FailedPrecondition, codes.ResourceExhausted:
			return true
		}
	}
	return false
}

// IndexNotReady reports whether err means the store is still building an
// index the query needs.
func IndexNotReady(err error) bool {
	st, ok := status.FromError(err)
	return ok && st.Code() == codes.FailedPrecondition
}
