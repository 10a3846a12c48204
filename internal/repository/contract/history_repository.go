package contract

import (
	"context"
	"time"

	"subscription-billing-be/internal/entity"

	"github.com/google/uuid"
)

type HistoryFilter struct {
	UserId *uuid.UUID
	PlanId *uuid.UUID
	Status *entity.HistoryStatus
	From   *time.Time
	To     *time.Time
	Limit  int
	Offset int
}

// HistoryRepository is append-only.
type HistoryRepository interface {
	Append(ctx context.Context, history *entity.SubscriptionHistory) error
	FindAll(ctx context.Context, filter HistoryFilter) ([]*entity.SubscriptionHistory, int64, error)
	Count(ctx context.Context, filter HistoryFilter) (int64, error)
	// CountUsers counts distinct subscribers with a matching row.
	CountUsers(ctx context.Context, filter HistoryFilter) (int64, error)
}
