package contract

import (
	"context"
	"time"

	"subscription-billing-be/internal/entity"

	"github.com/google/uuid"
)

type PaymentRepository interface {
	Create(ctx context.Context, payment *entity.Payment) error
	Update(ctx context.Context, payment *entity.Payment) error
	FindByID(ctx context.Context, id uuid.UUID) (*entity.Payment, error)
	FindByGatewayTxID(ctx context.Context, gatewayTxId string) (*entity.Payment, error)
	FindLatestBySubscription(ctx context.Context, subscriptionId uuid.UUID) (*entity.Payment, error)
	FindFirstBySubscription(ctx context.Context, subscriptionId uuid.UUID) (*entity.Payment, error)
	FindByUser(ctx context.Context, userId uuid.UUID) ([]*entity.Payment, error)

	// Ledger entries are insert-only.
	AppendEntry(ctx context.Context, entry *entity.LedgerEntry) error
	FindEntriesByPayment(ctx context.Context, paymentId uuid.UUID) ([]*entity.LedgerEntry, error)

	// MonthlySales aggregates charges and refunds per calendar month in [from, to).
	MonthlySales(ctx context.Context, from, to time.Time) ([]*entity.SalesSummary, error)
}
