// Package billing holds the error taxonomy shared by the billing core
// packages (refund, lifecycle, instrument, renewal).
package billing

import (
	"errors"
	"fmt"

	"subscription-billing-be/pkg/gateway"
)

var (
	ErrPlanNotFound         = errors.New("plan not found")
	ErrPlanInactive         = errors.New("plan is not active")
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrSubscriberNotFound   = errors.New("subscriber not found")
	ErrAlreadySubscribed    = errors.New("already subscribed to this plan")
	ErrInvalidTransition    = errors.New("invalid subscription transition")
	ErrNothingToResume      = errors.New("no remaining entitlement to resume")
	ErrInstrumentMissing    = errors.New("no payment instrument registered")
	ErrInstrumentExists     = errors.New("payment instrument already registered")
	ErrNoPaymentToRefund    = errors.New("no payment to refund")
	ErrPlanMismatch         = errors.New("payment does not belong to the requested plan")
	ErrNothingToRefund      = errors.New("nothing left to refund")
	ErrRefundOutcomeUnknown = errors.New("refund outcome unknown, pending reconciliation")
	ErrLockNotAcquired      = errors.New("subscription is being modified, retry later")
)

type Kind string

const (
	KindValidation  Kind = "validation"
	KindGateway     Kind = "gateway"
	KindConsistency Kind = "consistency"
	KindNotFound    Kind = "not_found"
	KindConflict    Kind = "conflict"
	KindInternal    Kind = "internal"
)

// Error carries the failing operation and a user-safe message. Err keeps the
// cause, including raw gateway text, for logs.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func E(kind Kind, op, message string, err error) *Error {
	return &Error{Kind: kind, Op: op, Message: message, Err: err}
}

// TransitionError reports an illegal state change.
func TransitionError(op, from, to string) *Error {
	return E(KindConflict, op, fmt.Sprintf("cannot move subscription from %s to %s", from, to), ErrInvalidTransition)
}

// GatewayError hides gateway text behind a generic message.
func GatewayError(op string, err error) *Error {
	msg := "payment provider rejected the request"
	switch {
	case errors.Is(err, gateway.ErrChargeFailed):
		msg = "payment could not be charged"
	case errors.Is(err, gateway.ErrRefundFailed):
		msg = "refund could not be processed"
	case errors.Is(err, gateway.ErrAlreadyCancelled):
		msg = "payment was already fully refunded"
	case errors.Is(err, gateway.ErrInstrumentNotFound):
		msg = "payment instrument was not found at the provider"
	case gateway.IsUnknownOutcome(err):
		msg = "payment provider did not answer in time"
	}
	return E(KindGateway, op, msg, err)
}

var sentinelKinds = map[error]Kind{
	ErrPlanNotFound:         KindNotFound,
	ErrSubscriptionNotFound: KindNotFound,
	ErrSubscriberNotFound:   KindNotFound,
	ErrNoPaymentToRefund:    KindNotFound,
	ErrPlanInactive:         KindValidation,
	ErrNothingToResume:      KindValidation,
	ErrInstrumentMissing:    KindValidation,
	ErrPlanMismatch:         KindValidation,
	ErrNothingToRefund:      KindValidation,
	ErrAlreadySubscribed:    KindConflict,
	ErrInvalidTransition:    KindConflict,
	ErrInstrumentExists:     KindConflict,
	ErrLockNotAcquired:      KindConflict,
	ErrRefundOutcomeUnknown: KindConsistency,
}

// KindOf classifies any error from the billing core.
func KindOf(err error) Kind {
	var be *Error
	if errors.As(err, &be) {
		return be.Kind
	}
	for sentinel, kind := range sentinelKinds {
		if errors.Is(err, sentinel) {
			return kind
		}
	}
	var ge *gateway.Error
	if errors.As(err, &ge) || errors.Is(err, gateway.ErrAlreadyCancelled) || errors.Is(err, gateway.ErrInstrumentNotFound) {
		return KindGateway
	}
	return KindInternal
}

// PublicMessage is what an API caller may see for err.
func PublicMessage(err error) string {
	var be *Error
	if errors.As(err, &be) {
		return be.Message
	}
	for sentinel := range sentinelKinds {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	if KindOf(err) == KindGateway {
		return GatewayError("", err).Message
	}
	return "internal server error"
}
