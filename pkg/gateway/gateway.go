// Package gateway defines the contract between the billing core and the
// external payment gateway. Adapters live in sub-packages and translate SDK
// responses into these types at the edge.
package gateway

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DefaultScheduleWindow bounds schedule listings when no explicit window is given.
const DefaultScheduleWindow = 370 * 24 * time.Hour

type Customer struct {
	FullName string
	Email    string
	Phone    string
}

type ChargeRequest struct {
	InstrumentToken string
	Amount          decimal.Decimal
	Currency        string
	OrderLabel      string
	IdempotencyID   string
	Customer        Customer
}

type ChargeResult struct {
	TransactionID string
	GatewayTxRef  string
	PaidAt        time.Time
}

type RefundRequest struct {
	TransactionID string
	Amount        decimal.Decimal
	Reason        string
	// ExpectedCancellable lets the gateway reject the refund when the
	// cancellable balance moved since it was read.
	ExpectedCancellable decimal.Decimal
}

type ScheduleRequest struct {
	InstrumentToken string
	Amount          decimal.Decimal
	Currency        string
	OrderLabel      string
	PlanID          uuid.UUID
	RunAt           time.Time
	Customer        Customer
}

type Schedule struct {
	ID         string
	RunAt      time.Time
	Amount     decimal.Decimal
	OrderLabel string
	PlanID     uuid.UUID
}

type ScheduleFilter struct {
	PlanID uuid.UUID
	From   time.Time
	Until  time.Time
}

// Window fills in the default listing window relative to now.
func (f ScheduleFilter) Window(now time.Time) ScheduleFilter {
	if f.From.IsZero() {
		f.From = now
	}
	if f.Until.IsZero() {
		f.Until = now.Add(DefaultScheduleWindow)
	}
	return f
}

type InstrumentInfo struct {
	Token        string
	IssuerName   string
	MaskedNumber string
}

type Gateway interface {
	Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error)
	Refund(ctx context.Context, req RefundRequest) error
	GetCancellableAmount(ctx context.Context, transactionID string) (decimal.Decimal, error)
	CreateSchedule(ctx context.Context, req ScheduleRequest) (string, error)
	ListSchedules(ctx context.Context, instrumentToken string, filter ScheduleFilter) ([]Schedule, error)
	RevokeSchedules(ctx context.Context, instrumentToken string, scheduleIDs []string) error
	DeleteInstrument(ctx context.Context, instrumentToken, reason string) error
	GetInstrumentInfo(ctx context.Context, instrumentToken string) (*InstrumentInfo, error)
}
