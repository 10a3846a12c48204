// FILE: internal/entity/subscription_entity.go
package entity

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type SubscriptionStatus string
type BillingPeriod string
type CancelReason string

const (
	SubscriptionStatusActive    SubscriptionStatus = "active"
	SubscriptionStatusPaused    SubscriptionStatus = "paused"
	SubscriptionStatusCancelled SubscriptionStatus = "cancelled"

	BillingPeriodMonthly BillingPeriod = "monthly"
	BillingPeriodYearly  BillingPeriod = "yearly"

	CancelReasonExpensive         CancelReason = "expensive"
	CancelReasonQuality           CancelReason = "quality"
	CancelReasonSlowCommunication CancelReason = "slow_communication"
	CancelReasonHireFullTime      CancelReason = "hire_full_time"
	CancelReasonBudgetCut         CancelReason = "budget_cut"
	CancelReasonOther             CancelReason = "other"
)

// CancelReasons lists every accepted cancellation reason in display order.
var CancelReasons = []CancelReason{
	CancelReasonExpensive,
	CancelReasonQuality,
	CancelReasonSlowCommunication,
	CancelReasonHireFullTime,
	CancelReasonBudgetCut,
	CancelReasonOther,
}

type Plan struct {
	Id        uuid.UUID
	Name      string
	Price     decimal.Decimal
	Period    BillingPeriod
	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Subscription struct {
	Id                uuid.UUID
	UserId            uuid.UUID
	PlanId            uuid.UUID
	InstrumentId      *uuid.UUID
	Status            SubscriptionStatus
	StartDate         time.Time
	EndDate           *time.Time
	NextBillDate      *time.Time
	RemainingBillDate *time.Duration
	AutoRenew         bool
	CancelledReason   *CancelReason
	OtherReason       *string
	// PendingChargeId is the idempotency id of a renewal charge whose outcome
	// is not yet known. It is reused until the charge settles.
	PendingChargeId   *string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Remaining returns the banked entitlement, zero when nothing was captured.
func (s *Subscription) Remaining() time.Duration {
	if s.RemainingBillDate == nil {
		return 0
	}
	return *s.RemainingBillDate
}

// SubscriptionDetail joins a subscription with its plan and subscriber for listings.
type SubscriptionDetail struct {
	Subscription
	PlanName  string
	PlanPrice decimal.Decimal
	UserEmail string
	UserName  string
	FirstDate *time.Time
}
