package chat

import (
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/PaulBabatuyi/treechat/internal/feed"
)

// ErrValidation marks an action rejected before reaching the store.
var ErrValidation = errors.New("invalid input")

// validationError carries the reason shown to the user.
type validationError struct{ reason string }

func (e *validationError) Error() string        { return e.reason }
func (e *validationError) Is(target error) bool { return target == ErrValidation }

func invalid(reason string) error {
	return &validationError{reason: reason}
}

// Class is the user-facing category of an error.
type Class int

const (
	ClassFailure Class = iota
	ClassValidation
	ClassPermission
	ClassRecoverable
)

func (c Class) String() string {
	switch c {
	case ClassValidation:
		return "validation"
	case ClassPermission:
		return "permission"
	case ClassRecoverable:
		return "recoverable"
	default:
		return "failure"
	}
}

// Classify sorts err into one of the classes.
func Classify(err error) Class {
	switch {
	case errors.Is(err, ErrValidation):
		return ClassValidation
	case status.Code(err) == codes.PermissionDenied:
		return ClassPermission
	case feed.IsRecoverable(err):
		return ClassRecoverable
	default:
		return ClassFailure
	}
}

// NoticeKind selects how a notice is shown.
type NoticeKind int

const (
	NoticeInfo NoticeKind = iota
	NoticeWarning
	NoticePermission
	NoticeFailure
)

// Notice is a one-shot message for the user. Seq increases with every
// notice so a renderer can show each exactly once.
type Notice struct {
	Kind NoticeKind
	Text string
	Seq  uint64
}

// noticeFor turns a failed action into the notice the user sees.
func noticeFor(action string, err error) Notice {
	switch Classify(err) {
	case ClassPermission:
		return Notice{Kind: NoticePermission, Text: "Access denied: you can't " + action + "."}
	case ClassValidation:
		return Notice{Kind: NoticeWarning, Text: err.Error()}
	case ClassRecoverable:
		return Notice{Kind: NoticeWarning, Text: "Couldn't " + action + ": connection problem. Please try again."}
	default:
		return Notice{Kind: NoticeFailure, Text: "Couldn't " + action + ". Please try again."}
	}
}
