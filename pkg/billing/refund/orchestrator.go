package refund

import (
	"context"
	"errors"
	"fmt"
	"time"

	"subscription-billing-be/internal/entity"
	"subscription-billing-be/internal/pkg/logger"
	"subscription-billing-be/internal/repository/unitofwork"
	"subscription-billing-be/pkg/billing"
	"subscription-billing-be/pkg/billing/events"
	"subscription-billing-be/pkg/billing/ledger"
	"subscription-billing-be/pkg/billing/lock"
	"subscription-billing-be/pkg/gateway"
	"subscription-billing-be/pkg/metrics"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusCompleted             Status = "completed"
	StatusCompletedWithWarnings Status = "completed_with_warnings"
)

// Snapshot keys of a refund_pending history row, read back by the Reconciler.
const (
	keyRefundAmount      = "refund_amount"
	keyCancellableBefore = "cancellable_before"
	keyReason            = "reason"
	keyOtherReason       = "other_reason"
	keyAutoRenewBefore   = "auto_renew_before"
)

var validReasons = map[entity.CancelReason]bool{
	entity.CancelReasonExpensive:         true,
	entity.CancelReasonQuality:           true,
	entity.CancelReasonSlowCommunication: true,
	entity.CancelReasonHireFullTime:      true,
	entity.CancelReasonBudgetCut:         true,
	entity.CancelReasonOther:             true,
}

type CancelCommand struct {
	UserID      uuid.UUID
	PlanID      uuid.UUID
	Reason      entity.CancelReason
	OtherReason string
}

type CancelResult struct {
	Status         Status
	RefundedAmount decimal.Decimal
	Calculation    Result
	Warnings       []string
}

// InstrumentRemover tears down the subscriber's instrument after a cancel.
type InstrumentRemover interface {
	// Delete revokes schedules, deletes the instrument at the gateway and
	// locally. A failure leaves the instrument pending_deletion.
	Delete(ctx context.Context, userId uuid.UUID, reason string) error
	// RevokePlanSchedules revokes only the schedules of one plan.
	RevokePlanSchedules(ctx context.Context, userId, planId uuid.UUID) error
}

type Orchestrator struct {
	uowFactory  unitofwork.RepositoryFactory
	gateway     gateway.Gateway
	calculator  *Calculator
	instruments InstrumentRemover
	locker      lock.Locker
	publisher   events.Publisher
	metrics     metrics.BillingMetrics
	logger      logger.ILogger
	currency    string
	now         func() time.Time
}

func NewOrchestrator(
	uowFactory unitofwork.RepositoryFactory,
	gw gateway.Gateway,
	calculator *Calculator,
	instruments InstrumentRemover,
	locker lock.Locker,
	publisher events.Publisher,
	m metrics.BillingMetrics,
	log logger.ILogger,
	currency string,
) *Orchestrator {
	return &Orchestrator{
		uowFactory:  uowFactory,
		gateway:     gw,
		calculator:  calculator,
		instruments: instruments,
		locker:      locker,
		publisher:   publisher,
		metrics:     m,
		logger:      log,
		currency:    currency,
		now:         time.Now,
	}
}

// WithClock replaces the wall clock. Tests pin it to exercise day arithmetic.
func (o *Orchestrator) WithClock(now func() time.Time) *Orchestrator {
	o.now = now
	return o
}

type target struct {
	sub     *entity.Subscription
	plan    *entity.Plan
	payment *entity.Payment
}

func (o *Orchestrator) load(ctx context.Context, op string, userId, planId uuid.UUID) (*target, error) {
	uow := o.uowFactory.NewUnitOfWork(ctx)
	sub, err := uow.SubscriptionRepository().FindSubscription(ctx, userId, planId)
	if err != nil {
		return nil, fmt.Errorf("%s: load subscription: %w", op, err)
	}
	if sub == nil {
		return nil, billing.ErrSubscriptionNotFound
	}
	payment, err := uow.PaymentRepository().FindLatestBySubscription(ctx, sub.Id)
	if err != nil {
		return nil, fmt.Errorf("%s: load payment: %w", op, err)
	}
	if payment == nil {
		return nil, billing.ErrNoPaymentToRefund
	}
	if payment.PlanId != planId {
		return nil, billing.ErrPlanMismatch
	}
	plan, err := uow.SubscriptionRepository().FindPlanByID(ctx, sub.PlanId)
	if err != nil {
		return nil, fmt.Errorf("%s: load plan: %w", op, err)
	}
	if plan == nil {
		return nil, billing.ErrPlanNotFound
	}
	return &target{sub: sub, plan: plan, payment: payment}, nil
}

// Quote reports what a cancel right now would refund. It reads the gateway
// but mutates nothing.
func (o *Orchestrator) Quote(ctx context.Context, userId, planId uuid.UUID) (Result, error) {
	const op = "refund.Quote"
	t, err := o.load(ctx, op, userId, planId)
	if err != nil {
		return Result{}, err
	}
	if t.sub.Status == entity.SubscriptionStatusCancelled {
		return Result{}, billing.TransitionError(op, string(t.sub.Status), string(entity.SubscriptionStatusCancelled))
	}
	r, err := o.calculator.Calculate(ctx, t.sub, t.plan.Price, t.payment.GatewayTxId, o.now())
	if err != nil {
		return r, billing.GatewayError(op, err)
	}
	return r, nil
}

// CancelWithRefund refunds the unused part of the latest payment and cancels
// the subscription. The gateway refund is the commit point: local writes only
// happen after it succeeds, and instrument teardown failures only add
// warnings.
func (o *Orchestrator) CancelWithRefund(ctx context.Context, cmd CancelCommand) (*CancelResult, error) {
	const op = "refund.CancelWithRefund"
	if !validReasons[cmd.Reason] {
		return nil, billing.E(billing.KindValidation, op, "unknown cancellation reason", nil)
	}

	unlock, err := o.locker.Acquire(ctx, lock.SubscriptionKey(cmd.UserID, cmd.PlanID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	t, err := o.load(ctx, op, cmd.UserID, cmd.PlanID)
	if err != nil {
		return nil, err
	}
	if t.sub.Status == entity.SubscriptionStatusCancelled {
		return nil, billing.TransitionError(op, string(t.sub.Status), string(entity.SubscriptionStatusCancelled))
	}
	if err := ledger.GuardRefundPending(ctx, o.uowFactory.NewUnitOfWork(ctx), op, cmd.UserID); err != nil {
		return nil, err
	}

	now := o.now()
	calc, err := o.calculator.Calculate(ctx, t.sub, t.plan.Price, t.payment.GatewayTxId, now)
	if err != nil {
		o.metrics.IncRefund("failed")
		return nil, billing.GatewayError(op, err)
	}
	if calc.Outcome == OutcomeNothingToRefund {
		o.metrics.IncRefund("nothing_to_refund")
		return nil, billing.ErrNothingToRefund
	}

	// Re-read right before the refund; the balance may have moved since Calculate.
	live, err := o.gateway.GetCancellableAmount(ctx, t.payment.GatewayTxId)
	if err != nil {
		o.metrics.IncRefund("failed")
		return nil, billing.GatewayError(op, err)
	}
	amount := decimal.Min(calc.Amount, live)
	calc.Amount = amount

	err = o.gateway.Refund(ctx, gateway.RefundRequest{
		TransactionID:       t.payment.GatewayTxId,
		Amount:              amount,
		Reason:              string(cmd.Reason),
		ExpectedCancellable: live,
	})
	// Past this point money may have moved; local writes must not be cut short
	// by the caller going away.
	wctx := context.WithoutCancel(ctx)
	if err != nil {
		if !gateway.IsUnknownOutcome(err) {
			o.logger.Error("REFUND", "Gateway refund failed", map[string]interface{}{
				"user_id":     cmd.UserID.String(),
				"plan_id":     cmd.PlanID.String(),
				"tx_id":       t.payment.GatewayTxId,
				"gateway_msg": gateway.RawMessage(err),
				"error":       err.Error(),
			})
			o.metrics.IncRefund("failed")
			return nil, billing.GatewayError(op, err)
		}

		if !o.refundLanded(wctx, t.payment.GatewayTxId, live, amount) {
			o.markPending(wctx, t, cmd, amount, live, now)
			o.metrics.IncRefund("pending")
			return nil, billing.E(billing.KindConsistency, op, billing.ErrRefundOutcomeUnknown.Error(), billing.ErrRefundOutcomeUnknown)
		}
		o.logger.Warn("REFUND", "Refund outcome confirmed by re-query after timeout", map[string]interface{}{
			"tx_id":  t.payment.GatewayTxId,
			"amount": amount.String(),
		})
	}

	res, err := o.complete(wctx, t, cmd.Reason, cmd.OtherReason, amount, now)
	if err != nil {
		o.logger.Error("REFUND", "Refund landed but the cancellation was not recorded", map[string]interface{}{
			"user_id": cmd.UserID.String(),
			"plan_id": cmd.PlanID.String(),
			"tx_id":   t.payment.GatewayTxId,
			"error":   err.Error(),
		})
		o.markPending(wctx, t, cmd, amount, live, now)
		o.metrics.IncRefund("pending")
		return nil, billing.E(billing.KindConsistency, op, billing.ErrRefundOutcomeUnknown.Error(), billing.ErrRefundOutcomeUnknown)
	}
	res.Calculation = calc
	return res, nil
}

// refundLanded re-queries the cancellable balance after an unknown outcome.
// The refund counts as applied when the balance dropped by at least amount.
func (o *Orchestrator) refundLanded(ctx context.Context, txID string, before, amount decimal.Decimal) bool {
	after, err := o.gateway.GetCancellableAmount(ctx, txID)
	switch {
	case errors.Is(err, gateway.ErrAlreadyCancelled):
		after = decimal.Zero
	case err != nil:
		o.logger.Error("REFUND", "Cannot re-query cancellable amount", map[string]interface{}{"tx_id": txID, "error": err.Error()})
		return false
	}
	return before.Sub(after).GreaterThanOrEqual(amount)
}

// markPending flags the subscriber refund_pending and stops renewals until
// the Reconciler resolves the refund.
func (o *Orchestrator) markPending(ctx context.Context, t *target, cmd CancelCommand, amount, before decimal.Decimal, now time.Time) {
	uow := o.uowFactory.NewUnitOfWork(ctx)
	err := func() error {
		if err := uow.Begin(ctx); err != nil {
			return err
		}
		defer uow.Rollback()

		sub, err := uow.SubscriptionRepository().FindSubscriptionForUpdate(ctx, t.sub.UserId, t.sub.PlanId)
		if err != nil || sub == nil {
			return fmt.Errorf("reload subscription: %v", err)
		}
		autoRenewBefore := sub.AutoRenew
		sub.AutoRenew = false
		if err := uow.SubscriptionRepository().UpdateSubscription(ctx, sub); err != nil {
			return err
		}
		if err := uow.UserRepository().UpdateSubStatus(ctx, sub.UserId, entity.SubscriberStatusRefundPending); err != nil {
			return err
		}
		if err := ledger.AppendHistory(ctx, uow, sub, t.plan, entity.HistoryStatusRefundPending, now, map[string]interface{}{
			keyRefundAmount:      amount.String(),
			keyCancellableBefore: before.String(),
			keyReason:            string(cmd.Reason),
			keyOtherReason:       cmd.OtherReason,
			keyAutoRenewBefore:   autoRenewBefore,
		}); err != nil {
			return err
		}
		return uow.Commit()
	}()
	if err != nil {
		o.logger.Error("REFUND", "Failed to record refund_pending state", map[string]interface{}{
			"user_id": t.sub.UserId.String(),
			"plan_id": t.sub.PlanId.String(),
			"error":   err.Error(),
		})
		return
	}

	o.logger.Warn("REFUND", "Refund outcome unknown, left for reconciliation", map[string]interface{}{
		"user_id": t.sub.UserId.String(),
		"plan_id": t.sub.PlanId.String(),
		"tx_id":   t.payment.GatewayTxId,
		"amount":  amount.String(),
	})
	o.publisher.Publish(ctx, events.SubscriptionEvent(events.TypeRefundPending, t.sub, map[string]interface{}{"amount": amount.String()}))
}

// complete writes the refund and the cancellation in one transaction, then
// tears down the instrument.
func (o *Orchestrator) complete(ctx context.Context, t *target, reason entity.CancelReason, otherReason string, amount decimal.Decimal, now time.Time) (*CancelResult, error) {
	const op = "refund.complete"

	uow := o.uowFactory.NewUnitOfWork(ctx)
	if err := uow.Begin(ctx); err != nil {
		return nil, fmt.Errorf("%s: begin: %w", op, err)
	}
	defer uow.Rollback()

	sub, err := uow.SubscriptionRepository().FindSubscriptionForUpdate(ctx, t.sub.UserId, t.sub.PlanId)
	if err != nil {
		return nil, fmt.Errorf("%s: lock subscription: %w", op, err)
	}
	if sub == nil {
		return nil, billing.ErrSubscriptionNotFound
	}
	payment, err := uow.PaymentRepository().FindByID(ctx, t.payment.Id)
	if err != nil || payment == nil {
		return nil, fmt.Errorf("%s: reload payment %s: %v", op, t.payment.Id, err)
	}

	entry, err := ledger.RecordRefund(ctx, uow, payment, amount, payment.GatewayTxId, now)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	from := sub.Status
	instrumentId := sub.InstrumentId
	sub.Status = entity.SubscriptionStatusCancelled
	sub.AutoRenew = false
	sub.CancelledReason = &reason
	sub.OtherReason = nil
	if otherReason != "" {
		sub.OtherReason = &otherReason
	}
	sub.EndDate = nil
	sub.NextBillDate = nil
	sub.RemainingBillDate = nil
	sub.InstrumentId = nil
	if err := uow.SubscriptionRepository().UpdateSubscription(ctx, sub); err != nil {
		return nil, fmt.Errorf("%s: update subscription: %w", op, err)
	}
	if err := ledger.ResolveStatus(ctx, uow, sub); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := ledger.AppendHistory(ctx, uow, sub, t.plan, entity.HistoryStatusCancel, now, map[string]interface{}{
		keyRefundAmount: amount.String(),
	}); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := uow.Commit(); err != nil {
		return nil, fmt.Errorf("%s: commit: %w", op, err)
	}

	o.publisher.PublishLedger(ctx, entry)
	o.metrics.IncTransition(string(from), string(sub.Status))
	amountFloat, _ := amount.Float64()
	o.metrics.ObserveRefundAmount(amountFloat, o.currency)

	res := &CancelResult{Status: StatusCompleted, RefundedAmount: amount}
	res.Warnings = o.teardown(ctx, sub, instrumentId)
	if len(res.Warnings) > 0 {
		res.Status = StatusCompletedWithWarnings
	}
	o.metrics.IncRefund(string(res.Status))

	o.publisher.Publish(ctx, events.SubscriptionEvent(events.TypeSubscriptionCancelled, sub, map[string]interface{}{
		"refunded_amount": amount.String(),
		"plan_name":       t.plan.Name,
		"warnings":        res.Warnings,
	}))
	o.logger.Info("REFUND", "Subscription cancelled with refund", map[string]interface{}{
		"user_id": sub.UserId.String(),
		"plan_id": sub.PlanId.String(),
		"amount":  amount.String(),
		"status":  string(res.Status),
	})
	return res, nil
}

// teardown deletes the instrument unless another live subscription still
// bills through it, in which case only this plan's schedules are revoked.
func (o *Orchestrator) teardown(ctx context.Context, sub *entity.Subscription, instrumentId *uuid.UUID) []string {
	if instrumentId == nil {
		return nil
	}

	uow := o.uowFactory.NewUnitOfWork(ctx)
	others, err := uow.SubscriptionRepository().FindSubscriptionsByInstrument(ctx, *instrumentId)
	if err != nil {
		o.logger.Error("REFUND", "Cannot list subscriptions sharing the instrument", map[string]interface{}{"error": err.Error()})
		return []string{"payment instrument cleanup could not be verified"}
	}
	shared := false
	for _, s := range others {
		if s.Id != sub.Id && s.Status != entity.SubscriptionStatusCancelled {
			shared = true
			break
		}
	}

	if shared {
		if err := o.instruments.RevokePlanSchedules(ctx, sub.UserId, sub.PlanId); err != nil {
			o.logger.Warn("REFUND", "Failed to revoke schedules of cancelled plan", map[string]interface{}{
				"user_id": sub.UserId.String(),
				"plan_id": sub.PlanId.String(),
				"error":   err.Error(),
			})
			return []string{"future payment schedule could not be cancelled"}
		}
		return nil
	}

	if err := o.instruments.Delete(ctx, sub.UserId, "subscription cancelled"); err != nil {
		o.logger.Warn("REFUND", "Instrument teardown failed after refund", map[string]interface{}{
			"user_id": sub.UserId.String(),
			"error":   err.Error(),
		})
		return []string{"payment instrument removal is pending and will be retried"}
	}
	return nil
}
