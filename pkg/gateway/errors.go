package gateway

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrChargeFailed       = errors.New("gateway: charge failed")
	ErrRefundFailed       = errors.New("gateway: refund failed")
	ErrAlreadyCancelled   = errors.New("gateway: payment already fully cancelled")
	ErrInstrumentNotFound = errors.New("gateway: instrument not found")
	ErrScheduleFailed     = errors.New("gateway: schedule operation failed")
	ErrInstrumentDelete   = errors.New("gateway: instrument deletion failed")
	ErrUnknownOutcome     = errors.New("gateway: outcome unknown")
)

// Error keeps the raw gateway text for logs. Callers show Kind's generic
// message to users and never Message.
type Error struct {
	Op      string
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s (%s): %v", e.Op, e.Message, e.Code, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func NewError(op string, kind error, code, message string) *Error {
	return &Error{Op: op, Code: code, Message: message, Err: kind}
}

// IsUnknownOutcome reports whether the call may or may not have taken effect
// at the gateway (timeouts, cancelled contexts, transport failures).
func IsUnknownOutcome(err error) bool {
	return errors.Is(err, ErrUnknownOutcome) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled)
}

// RawMessage extracts the gateway text for logging, empty when err is not a gateway error.
func RawMessage(err error) string {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Message
	}
	return ""
}
