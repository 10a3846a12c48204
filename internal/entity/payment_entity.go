package entity

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type PaymentStatus string
type LedgerEntryKind string

const (
	PaymentStatusPaid              PaymentStatus = "paid"
	PaymentStatusPartiallyRefunded PaymentStatus = "partially_refunded"
	PaymentStatusRefunded          PaymentStatus = "refunded"
	PaymentStatusCancelled         PaymentStatus = "cancelled"
	PaymentStatusFailed            PaymentStatus = "failed"

	LedgerEntryCharge LedgerEntryKind = "charge"
	LedgerEntryRefund LedgerEntryKind = "refund"
)

// Payment is one charge. RefundAmount and Status are a cached fold over the
// charge's ledger entries.
type Payment struct {
	Id             uuid.UUID
	UserId         uuid.UUID
	SubscriptionId uuid.UUID
	PlanId         uuid.UUID
	GatewayTxId    string
	IdempotencyId  string
	Amount         decimal.Decimal
	Status         PaymentStatus
	PaidAt         time.Time
	RefundAmount   *decimal.Decimal
	RefundAt       *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (p *Payment) Refunded() decimal.Decimal {
	if p.RefundAmount == nil {
		return decimal.Zero
	}
	return *p.RefundAmount
}

type LedgerEntry struct {
	Id             uuid.UUID
	PaymentId      uuid.UUID
	SubscriptionId uuid.UUID
	Kind           LedgerEntryKind
	Amount         decimal.Decimal
	GatewayRef     string
	CreatedAt      time.Time
}

// SalesSummary is the admin sales aggregate for one calendar month.
type SalesSummary struct {
	Month        time.Time
	PaidTotal    decimal.Decimal
	RefundTotal  decimal.Decimal
	PaymentCount int
	RefundCount  int
}
