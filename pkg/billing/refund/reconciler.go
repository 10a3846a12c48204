package refund

import (
	"context"
	"errors"
	"fmt"

	"subscription-billing-be/internal/entity"
	"subscription-billing-be/internal/repository/contract"
	"subscription-billing-be/pkg/billing/events"
	"subscription-billing-be/pkg/billing/ledger"
	"subscription-billing-be/pkg/billing/lock"
	"subscription-billing-be/pkg/gateway"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type ReconcileResult struct {
	Checked   int      `json:"checked"`
	Finalized int      `json:"finalized"`
	Reverted  int      `json:"reverted"`
	Failed    int      `json:"failed"`
	Errors    []string `json:"errors,omitempty"`
}

// Reconciler resolves refunds whose gateway outcome was unknown. It asks the
// gateway whether the refund landed and either finishes the cancellation or
// puts the subscription back so the subscriber can retry.
type Reconciler struct {
	orchestrator *Orchestrator
}

func NewReconciler(o *Orchestrator) *Reconciler {
	return &Reconciler{orchestrator: o}
}

type pendingRefund struct {
	history         *entity.SubscriptionHistory
	amount          decimal.Decimal
	before          decimal.Decimal
	reason          entity.CancelReason
	otherReason     string
	autoRenewBefore bool
}

func parsePending(h *entity.SubscriptionHistory) (*pendingRefund, error) {
	str := func(key string) string {
		v, _ := h.Snapshot[key].(string)
		return v
	}
	amount, err := decimal.NewFromString(str(keyRefundAmount))
	if err != nil {
		return nil, fmt.Errorf("history %s: bad %s: %w", h.Id, keyRefundAmount, err)
	}
	before, err := decimal.NewFromString(str(keyCancellableBefore))
	if err != nil {
		return nil, fmt.Errorf("history %s: bad %s: %w", h.Id, keyCancellableBefore, err)
	}
	autoRenew, _ := h.Snapshot[keyAutoRenewBefore].(bool)
	return &pendingRefund{
		history:         h,
		amount:          amount,
		before:          before,
		reason:          entity.CancelReason(str(keyReason)),
		otherReason:     str(keyOtherReason),
		autoRenewBefore: autoRenew,
	}, nil
}

func (r *Reconciler) Run(ctx context.Context) (*ReconcileResult, error) {
	o := r.orchestrator
	uow := o.uowFactory.NewUnitOfWork(ctx)
	users, err := uow.UserRepository().FindBySubStatus(ctx, entity.SubscriberStatusRefundPending)
	if err != nil {
		return nil, fmt.Errorf("list refund_pending subscribers: %w", err)
	}

	res := &ReconcileResult{}
	for _, u := range users {
		pendingStatus := entity.HistoryStatusRefundPending
		userId := u.Id
		rows, _, err := uow.HistoryRepository().FindAll(ctx, contract.HistoryFilter{UserId: &userId, Status: &pendingStatus})
		if err != nil {
			res.Failed++
			res.Errors = append(res.Errors, err.Error())
			continue
		}

		// Newest row per subscription wins; rows come newest first.
		seen := make(map[uuid.UUID]bool)
		for _, h := range rows {
			if seen[h.SubscriptionId] {
				continue
			}
			seen[h.SubscriptionId] = true
			res.Checked++

			outcome, err := r.resolve(ctx, h)
			switch {
			case err != nil:
				res.Failed++
				res.Errors = append(res.Errors, err.Error())
				o.logger.Error("REFUND", "Refund reconciliation failed", map[string]interface{}{
					"subscription_id": h.SubscriptionId.String(),
					"error":           err.Error(),
				})
			case outcome == "finalized":
				res.Finalized++
			case outcome == "reverted":
				res.Reverted++
			}
		}
	}

	o.logger.Info("REFUND", "Refund reconciliation finished", map[string]interface{}{
		"checked":   res.Checked,
		"finalized": res.Finalized,
		"reverted":  res.Reverted,
		"failed":    res.Failed,
	})
	return res, nil
}

func (r *Reconciler) resolve(ctx context.Context, h *entity.SubscriptionHistory) (string, error) {
	o := r.orchestrator
	p, err := parsePending(h)
	if err != nil {
		return "", err
	}

	unlock, err := o.locker.Acquire(ctx, lock.SubscriptionKey(h.UserId, h.PlanId))
	if err != nil {
		return "", err
	}
	defer unlock()

	t, err := o.load(ctx, "refund.Reconcile", h.UserId, h.PlanId)
	if err != nil {
		return "", err
	}
	if t.sub.Status == entity.SubscriptionStatusCancelled {
		return "skipped", nil
	}

	after, err := o.gateway.GetCancellableAmount(ctx, t.payment.GatewayTxId)
	switch {
	case errors.Is(err, gateway.ErrAlreadyCancelled):
		after = decimal.Zero
	case err != nil:
		return "", fmt.Errorf("re-query %s: %w", t.payment.GatewayTxId, err)
	}

	now := o.now()
	if p.before.Sub(after).GreaterThanOrEqual(p.amount) {
		if _, err := o.complete(ctx, t, p.reason, p.otherReason, p.amount, now); err != nil {
			return "", err
		}
		return "finalized", nil
	}

	if err := r.revert(ctx, t, p); err != nil {
		return "", err
	}
	return "reverted", nil
}

// revert puts the subscription back to its pre-cancel state.
func (r *Reconciler) revert(ctx context.Context, t *target, p *pendingRefund) error {
	o := r.orchestrator
	uow := o.uowFactory.NewUnitOfWork(ctx)
	if err := uow.Begin(ctx); err != nil {
		return err
	}
	defer uow.Rollback()

	sub, err := uow.SubscriptionRepository().FindSubscriptionForUpdate(ctx, t.sub.UserId, t.sub.PlanId)
	if err != nil {
		return err
	}
	if sub == nil {
		return fmt.Errorf("subscription of %s vanished", t.sub.UserId)
	}
	sub.AutoRenew = p.autoRenewBefore
	if err := uow.SubscriptionRepository().UpdateSubscription(ctx, sub); err != nil {
		return err
	}
	if err := ledger.ResolveStatus(ctx, uow, sub); err != nil {
		return err
	}
	if err := uow.Commit(); err != nil {
		return err
	}

	o.metrics.IncRefund("reverted")
	o.publisher.Publish(ctx, events.SubscriptionEvent(events.TypeRefundReverted, sub, map[string]interface{}{
		"amount": p.amount.String(),
	}))
	o.logger.Info("REFUND", "Refund did not land, subscription restored", map[string]interface{}{
		"subscription_id": sub.Id.String(),
		"amount":          p.amount.String(),
	})
	return nil
}
