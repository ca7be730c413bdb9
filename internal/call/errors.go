package call

import (
	"errors"
	"fmt"
)

var (
	ErrProtocol            = errors.New("protocol error")
	ErrRoomFull            = errors.New("room is full")
	ErrCandidateApply      = errors.New("failed to apply candidate")
	ErrNegotiationConflict = errors.New("negotiation conflict")
	ErrTransport           = errors.New("signaling connection lost")
	ErrNegotiation         = errors.New("negotiation failed")
)

// Error records the operation that failed. Err wraps one of the sentinel
// errors above, and the underlying cause when there is one.
type Error struct {
	Op      string
	Err     error
	Details string
}

func (e *Error) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %v (%s)", e.Op, e.Err, e.Details)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func NewError(op string, kind error) *Error {
	return &Error{Op: op, Err: kind}
}

// WrapError attaches cause to a sentinel kind so both match errors.Is.
func WrapError(op string, kind, cause error) *Error {
	if cause == nil {
		return &Error{Op: op, Err: kind}
	}
	return &Error{Op: op, Err: fmt.Errorf("%w: %w", kind, cause)}
}

func DetailError(op string, kind error, details string) *Error {
	return &Error{Op: op, Err: kind, Details: details}
}
