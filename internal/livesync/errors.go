package livesync

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrOperationFailed wraps every mutation failure surfaced in an Outcome.
	ErrOperationFailed = errors.New("operation failed")

	ErrValidation     = errors.New("validation failed")
	ErrNotAuthor      = errors.New("only the author may change this entry")
	ErrUnknownEntity  = errors.New("entity not in cache")
	ErrAlreadyClaimed = errors.New("report already claimed")

	// Remote implementations wrap their failures with one of these.
	ErrTransient      = errors.New("transient network error")
	ErrConflict       = errors.New("conditional write rejected")
	ErrRemoteRejected = errors.New("remote rejected write")
	ErrNotFound       = errors.New("remote entity not found")

	ErrMalformedEvent = errors.New("malformed event")
)

// OperationError is the error carried by a failed Outcome.
type OperationError struct {
	Kind  MutationKind
	Cause error
}

func (e *OperationError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrOperationFailed, e.Kind, e.Cause)
}

func (e *OperationError) Unwrap() error { return e.Cause }

func (e *OperationError) Is(target error) bool { return target == ErrOperationFailed }

func invalidf(format string, args ...any) error {
	return errors.Wrapf(ErrValidation, format, args...)
}
