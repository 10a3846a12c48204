// Package ledger writes the append-only billing records: payments with their
// charge and refund entries, subscription history rows, and the subscriber
// status mirror. Every function runs inside the caller's unit of work.
package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"subscription-billing-be/internal/entity"
	"subscription-billing-be/internal/repository/unitofwork"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// NewIdempotencyID returns "PAY" followed by 18 hex characters.
func NewIdempotencyID() string {
	return "PAY" + strings.ReplaceAll(uuid.NewString(), "-", "")[:18]
}

// Fold recomputes the cached refund columns of p from its entries.
func Fold(p *entity.Payment, entries []*entity.LedgerEntry) {
	refunded := decimal.Zero
	var lastRefund *time.Time
	for _, e := range entries {
		if e.Kind != entity.LedgerEntryRefund {
			continue
		}
		refunded = refunded.Add(e.Amount)
		at := e.CreatedAt
		if lastRefund == nil || at.After(*lastRefund) {
			lastRefund = &at
		}
	}

	if refunded.IsZero() {
		p.RefundAmount = nil
		p.RefundAt = nil
		if p.Status == entity.PaymentStatusRefunded || p.Status == entity.PaymentStatusPartiallyRefunded {
			p.Status = entity.PaymentStatusPaid
		}
		return
	}

	p.RefundAmount = &refunded
	p.RefundAt = lastRefund
	if refunded.GreaterThanOrEqual(p.Amount) {
		p.Status = entity.PaymentStatusRefunded
	} else {
		p.Status = entity.PaymentStatusPartiallyRefunded
	}
}

type Charge struct {
	UserId         uuid.UUID
	SubscriptionId uuid.UUID
	PlanId         uuid.UUID
	GatewayTxId    string
	IdempotencyId  string
	Amount         decimal.Decimal
	PaidAt         time.Time
}

// RecordCharge inserts a paid Payment and its charge entry.
func RecordCharge(ctx context.Context, uow unitofwork.UnitOfWork, c Charge) (*entity.Payment, *entity.LedgerEntry, error) {
	if c.IdempotencyId == "" {
		c.IdempotencyId = NewIdempotencyID()
	}
	payment := &entity.Payment{
		Id:             uuid.New(),
		UserId:         c.UserId,
		SubscriptionId: c.SubscriptionId,
		PlanId:         c.PlanId,
		GatewayTxId:    c.GatewayTxId,
		IdempotencyId:  c.IdempotencyId,
		Amount:         c.Amount,
		Status:         entity.PaymentStatusPaid,
		PaidAt:         c.PaidAt,
	}
	if err := uow.PaymentRepository().Create(ctx, payment); err != nil {
		return nil, nil, fmt.Errorf("record payment %s: %w", c.GatewayTxId, err)
	}

	entry := &entity.LedgerEntry{
		Id:             uuid.New(),
		PaymentId:      payment.Id,
		SubscriptionId: c.SubscriptionId,
		Kind:           entity.LedgerEntryCharge,
		Amount:         c.Amount,
		GatewayRef:     c.GatewayTxId,
		CreatedAt:      c.PaidAt,
	}
	if err := uow.PaymentRepository().AppendEntry(ctx, entry); err != nil {
		return nil, nil, fmt.Errorf("record charge entry %s: %w", c.GatewayTxId, err)
	}
	return payment, entry, nil
}

// RecordRefund appends a refund entry and refolds the payment.
func RecordRefund(ctx context.Context, uow unitofwork.UnitOfWork, payment *entity.Payment, amount decimal.Decimal, gatewayRef string, at time.Time) (*entity.LedgerEntry, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("refund amount must be positive, got %s", amount)
	}

	entry := &entity.LedgerEntry{
		Id:             uuid.New(),
		PaymentId:      payment.Id,
		SubscriptionId: payment.SubscriptionId,
		Kind:           entity.LedgerEntryRefund,
		Amount:         amount,
		GatewayRef:     gatewayRef,
		CreatedAt:      at,
	}
	repo := uow.PaymentRepository()
	if err := repo.AppendEntry(ctx, entry); err != nil {
		return nil, fmt.Errorf("record refund entry: %w", err)
	}

	entries, err := repo.FindEntriesByPayment(ctx, payment.Id)
	if err != nil {
		return nil, fmt.Errorf("load ledger entries: %w", err)
	}
	Fold(payment, entries)
	if err := repo.Update(ctx, payment); err != nil {
		return nil, fmt.Errorf("update payment %s: %w", payment.Id, err)
	}
	return entry, nil
}

// SetPaymentStatus marks a charge failed or cancelled. Refund states are
// derived by Fold and cannot be set here.
func SetPaymentStatus(ctx context.Context, uow unitofwork.UnitOfWork, payment *entity.Payment, status entity.PaymentStatus) error {
	switch status {
	case entity.PaymentStatusFailed, entity.PaymentStatusCancelled, entity.PaymentStatusPaid:
	default:
		return fmt.Errorf("payment status %s is derived from ledger entries", status)
	}
	payment.Status = status
	return uow.PaymentRepository().Update(ctx, payment)
}
