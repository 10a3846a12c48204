package ledger

import (
	"context"
	"fmt"
	"math"
	"time"

	"subscription-billing-be/internal/entity"
	"subscription-billing-be/internal/repository/unitofwork"
	"subscription-billing-be/pkg/billing"

	"github.com/google/uuid"
)

// Snapshot captures the plan and the subscription dates at transition time.
func Snapshot(sub *entity.Subscription, plan *entity.Plan) map[string]interface{} {
	snap := map[string]interface{}{
		"status":     string(sub.Status),
		"auto_renew": sub.AutoRenew,
		"start_date": sub.StartDate.Format(time.RFC3339),
	}
	if plan != nil {
		snap["plan_name"] = plan.Name
		snap["price"] = plan.Price.String()
		snap["period"] = string(plan.Period)
	}
	if sub.EndDate != nil {
		snap["end_date"] = sub.EndDate.Format(time.RFC3339)
	}
	if sub.NextBillDate != nil {
		snap["next_bill_date"] = sub.NextBillDate.Format(time.RFC3339)
	}
	if sub.RemainingBillDate != nil {
		snap["remaining_days"] = int64(math.Floor(sub.RemainingBillDate.Hours() / 24))
	}
	if sub.CancelledReason != nil {
		snap["cancelled_reason"] = string(*sub.CancelledReason)
	}
	return snap
}

// AppendHistory writes one audit row for sub. extra is merged into the snapshot.
func AppendHistory(ctx context.Context, uow unitofwork.UnitOfWork, sub *entity.Subscription, plan *entity.Plan, status entity.HistoryStatus, at time.Time, extra map[string]interface{}) error {
	snap := Snapshot(sub, plan)
	for k, v := range extra {
		snap[k] = v
	}
	h := &entity.SubscriptionHistory{
		Id:             uuid.New(),
		SubscriptionId: sub.Id,
		UserId:         sub.UserId,
		PlanId:         sub.PlanId,
		Status:         status,
		ChangeDate:     at,
		Snapshot:       snap,
	}
	if err := uow.HistoryRepository().Append(ctx, h); err != nil {
		return fmt.Errorf("append %s history: %w", status, err)
	}
	return nil
}

// SubscriberStatus maps a subscription status onto the subscriber flag.
func SubscriberStatus(status entity.SubscriptionStatus) entity.SubscriberStatus {
	switch status {
	case entity.SubscriptionStatusActive:
		return entity.SubscriberStatusActive
	case entity.SubscriptionStatusPaused:
		return entity.SubscriberStatusPaused
	case entity.SubscriptionStatusCancelled:
		return entity.SubscriberStatusCancelled
	}
	return entity.SubscriberStatusNone
}

// MirrorStatus copies the subscription status onto its subscriber. A
// refund_pending subscriber keeps that flag until ResolveStatus clears it.
func MirrorStatus(ctx context.Context, uow unitofwork.UnitOfWork, sub *entity.Subscription) error {
	pending, err := RefundPending(ctx, uow, sub.UserId)
	if err != nil {
		return err
	}
	if pending {
		return nil
	}
	return ResolveStatus(ctx, uow, sub)
}

// ResolveStatus overwrites the subscriber flag unconditionally. Only the paths
// that settle a pending refund call it.
func ResolveStatus(ctx context.Context, uow unitofwork.UnitOfWork, sub *entity.Subscription) error {
	if err := uow.UserRepository().UpdateSubStatus(ctx, sub.UserId, SubscriberStatus(sub.Status)); err != nil {
		return fmt.Errorf("mirror subscriber status: %w", err)
	}
	return nil
}

// RefundPending reports whether a refund of the subscriber still waits for
// reconciliation.
func RefundPending(ctx context.Context, uow unitofwork.UnitOfWork, userId uuid.UUID) (bool, error) {
	user, err := uow.UserRepository().FindByID(ctx, userId)
	if err != nil {
		return false, fmt.Errorf("load subscriber %s: %w", userId, err)
	}
	return user != nil && user.SubStatus == entity.SubscriberStatusRefundPending, nil
}

// GuardRefundPending refuses op while a refund of the subscriber is unresolved.
func GuardRefundPending(ctx context.Context, uow unitofwork.UnitOfWork, op string, userId uuid.UUID) error {
	pending, err := RefundPending(ctx, uow, userId)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if pending {
		return billing.E(billing.KindConsistency, op, "a refund is still being confirmed, retry later", billing.ErrRefundOutcomeUnknown)
	}
	return nil
}
