package contract

import (
	"context"
	"time"

	"subscription-billing-be/internal/entity"

	"github.com/google/uuid"
)

type UserRepository interface {
	Create(ctx context.Context, user *entity.User) error
	FindByID(ctx context.Context, id uuid.UUID) (*entity.User, error)
	FindBySubStatus(ctx context.Context, status entity.SubscriberStatus) ([]*entity.User, error)
	CountBySubStatus(ctx context.Context, status entity.SubscriberStatus) (int64, error)
	UpdateSubStatus(ctx context.Context, id uuid.UUID, status entity.SubscriberStatus) error

	// PurgeInactive scrubs identity fields of accounts deactivated with
	// confirmed deletion before the cutoff. Billing rows are kept.
	PurgeInactive(ctx context.Context, deletedBefore time.Time) (int64, error)
}
