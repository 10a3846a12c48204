package unitofwork

import (
	"context"

	"subscription-billing-be/internal/repository/contract"
)

type UnitOfWork interface {
	Begin(ctx context.Context) error
	Commit() error
	Rollback() error

	UserRepository() contract.UserRepository
	SubscriptionRepository() contract.SubscriptionRepository
	InstrumentRepository() contract.InstrumentRepository
	PaymentRepository() contract.PaymentRepository
	HistoryRepository() contract.HistoryRepository
	WebhookRepository() contract.WebhookRepository
}
