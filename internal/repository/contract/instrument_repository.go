package contract

import (
	"context"

	"subscription-billing-be/internal/entity"

	"github.com/google/uuid"
)

type InstrumentRepository interface {
	Create(ctx context.Context, instrument *entity.PaymentInstrument) error
	Update(ctx context.Context, instrument *entity.PaymentInstrument) error
	Delete(ctx context.Context, id uuid.UUID) error
	FindByID(ctx context.Context, id uuid.UUID) (*entity.PaymentInstrument, error)
	FindByUser(ctx context.Context, userId uuid.UUID) (*entity.PaymentInstrument, error)
	FindPendingDeletion(ctx context.Context) ([]*entity.PaymentInstrument, error)
}
