package task

import (
	"errors"
	"fmt"
)

var (
	ErrValidation        = errors.New("validation failed")
	ErrNotFound          = errors.New("task not found")
	ErrInvalidStatus     = errors.New("invalid status")
	ErrIllegalTransition = errors.New("illegal status transition")
	ErrInvalidState      = errors.New("operation not allowed in current state")
	ErrConflict          = errors.New("conflicting update")
	ErrStore             = errors.New("store failure")

	// ErrAuditIncomplete marks a mutation that was applied but whose history
	// record could not be written. It always travels inside an ErrStore.
	ErrAuditIncomplete = errors.New("history record not written")
)

// Error is a lifecycle failure. Kind is one of the sentinel errors above;
// Err, when set, is the underlying cause.
type Error struct {
	Kind error
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Kind.Error()
	if e.Msg != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Msg)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newError(kind error, format string, args ...any) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

func wrapError(kind error, cause error, format string, args ...any) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: cause}
}

// KindOf returns the sentinel kind of err, or nil when err is not a
// lifecycle error.
func KindOf(err error) error {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	for _, k := range []error{ErrValidation, ErrNotFound, ErrInvalidStatus, ErrIllegalTransition, ErrInvalidState, ErrConflict, ErrStore} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}
