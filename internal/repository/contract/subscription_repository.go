package contract

import (
	"context"
	"time"

	"subscription-billing-be/internal/entity"

	"github.com/google/uuid"
)

type SubscriptionFilter struct {
	UserId *uuid.UUID
	PlanId *uuid.UUID
	Status *entity.SubscriptionStatus
	Search string
	Limit  int
	Offset int
}

type SubscriptionRepository interface {
	// Plans
	CreatePlan(ctx context.Context, plan *entity.Plan) error
	UpdatePlan(ctx context.Context, plan *entity.Plan) error
	FindPlanByID(ctx context.Context, id uuid.UUID) (*entity.Plan, error)
	FindAllPlans(ctx context.Context, activeOnly bool) ([]*entity.Plan, error)

	// Subscriptions
	CreateSubscription(ctx context.Context, sub *entity.Subscription) error
	UpdateSubscription(ctx context.Context, sub *entity.Subscription) error
	FindSubscriptionByID(ctx context.Context, id uuid.UUID) (*entity.Subscription, error)
	FindSubscription(ctx context.Context, userId, planId uuid.UUID) (*entity.Subscription, error)
	// FindSubscriptionForUpdate row-locks the subscription for the rest of the transaction.
	FindSubscriptionForUpdate(ctx context.Context, userId, planId uuid.UUID) (*entity.Subscription, error)
	FindSubscriptionsByUser(ctx context.Context, userId uuid.UUID) ([]*entity.Subscription, error)
	FindSubscriptionsByInstrument(ctx context.Context, instrumentId uuid.UUID) ([]*entity.Subscription, error)
	// FindDueForRenewal returns auto-renewing subscriptions with next_bill_date <= asOf, oldest first.
	FindDueForRenewal(ctx context.Context, asOf time.Time) ([]*entity.Subscription, error)
	ListSubscriptionDetails(ctx context.Context, filter SubscriptionFilter) ([]*entity.SubscriptionDetail, int64, error)
	// CountStartedBetween counts subscriptions whose current period started in [from, to).
	CountStartedBetween(ctx context.Context, from, to time.Time) (int64, error)
	// CountCancelReasons counts cancelled subscriptions per cancellation reason.
	CountCancelReasons(ctx context.Context) (map[entity.CancelReason]int64, error)
}
