// Package renewal runs the recurring charge sweep. The sweep is the charging
// authority: gateway schedules already due are revoked before it charges, and
// the next cycle's schedule is created before money moves.
package renewal

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
	"subscription-billing-be/pkg/billing/period"
	"subscription-billing-be/pkg/gateway"
	"subscription-billing-be/pkg/metrics"
)

const (
	OutcomeRenewed = "renewed"
	OutcomeSkipped = "skipped"
	OutcomeFailed  = "failed"
)

var errNoInstrument = errors.New("subscriber has no active payment instrument")

type Item struct {
	SubscriptionID string `json:"subscription_id"`
	UserID         string `json:"user_id"`
	PlanID         string `json:"plan_id"`
	Outcome        string `json:"outcome"`
	Error          string `json:"error,omitempty"`
}

type BatchResult struct {
	Processed int    `json:"processed"`
	Renewed   int    `json:"renewed"`
	Skipped   int    `json:"skipped"`
	Failed    int    `json:"failed"`
	Items     []Item `json:"items"`
}

type Orchestrator struct {
	uowFactory unitofwork.RepositoryFactory
	gateway    gateway.Gateway
	locker     lock.Locker
	publisher  events.Publisher
	metrics    metrics.BillingMetrics
	logger     logger.ILogger
	currency   string
	now        func() time.Time
}

func NewOrchestrator(
	uowFactory unitofwork.RepositoryFactory,
	gw gateway.Gateway,
	locker lock.Locker,
	publisher events.Publisher,
	m metrics.BillingMetrics,
	log logger.ILogger,
	currency string,
) *Orchestrator {
	return &Orchestrator{
		uowFactory: uowFactory,
		gateway:    gw,
		locker:     locker,
		publisher:  publisher,
		metrics:    m,
		logger:     log,
		currency:   currency,
		now:        time.Now,
	}
}

func (o *Orchestrator) WithClock(now func() time.Time) *Orchestrator {
	o.now = now
	return o
}

// RunDue renews every auto-renewing subscription billed at or before asOf.
// Subscriptions are handled one at a time and a failing one never stops the
// batch.
func (o *Orchestrator) RunDue(ctx context.Context, asOf time.Time) (*BatchResult, error) {
	uow := o.uowFactory.NewUnitOfWork(ctx)
	due, err := uow.SubscriptionRepository().FindDueForRenewal(ctx, asOf)
	if err != nil {
		return nil, fmt.Errorf("list due subscriptions: %w", err)
	}

	o.logger.Info("RENEWAL", "Renewal sweep started", map[string]interface{}{
		"as_of": asOf.Format(time.RFC3339),
		"due":   len(due),
	})

	res := &BatchResult{Items: make([]Item, 0, len(due))}
	for _, sub := range due {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		item := Item{
			SubscriptionID: sub.Id.String(),
			UserID:         sub.UserId.String(),
			PlanID:         sub.PlanId.String(),
		}
		outcome, err := o.renew(ctx, sub, asOf)
		item.Outcome = outcome
		if err != nil {
			item.Error = err.Error()
		}

		res.Processed++
		switch outcome {
		case OutcomeRenewed:
			res.Renewed++
		case OutcomeSkipped:
			res.Skipped++
		default:
			res.Failed++
		}
		res.Items = append(res.Items, item)
		o.metrics.IncRenewal(outcome)
	}

	o.logger.Info("RENEWAL", "Renewal sweep finished", map[string]interface{}{
		"processed": res.Processed,
		"renewed":   res.Renewed,
		"skipped":   res.Skipped,
		"failed":    res.Failed,
	})
	return res, nil
}

func (o *Orchestrator) renew(ctx context.Context, due *entity.Subscription, asOf time.Time) (string, error) {
	fields := map[string]interface{}{
		"subscription_id": due.Id.String(),
		"user_id":         due.UserId.String(),
	}

	unlock, err := o.locker.Acquire(ctx, lock.SubscriptionKey(due.UserId, due.PlanId))
	if err != nil {
		fields["error"] = err.Error()
		o.logger.Warn("RENEWAL", "Subscription locked, skipped this sweep", fields)
		return OutcomeSkipped, err
	}
	defer unlock()

	uow := o.uowFactory.NewUnitOfWork(ctx)
	sub, err := uow.SubscriptionRepository().FindSubscription(ctx, due.UserId, due.PlanId)
	if err != nil {
		return OutcomeFailed, err
	}
	// Another writer may have renewed, paused or cancelled it meanwhile.
	if sub == nil || !sub.AutoRenew || sub.NextBillDate == nil || sub.NextBillDate.After(asOf) {
		return OutcomeSkipped, nil
	}

	ins, err := uow.InstrumentRepository().FindByUser(ctx, sub.UserId)
	if err != nil {
		return OutcomeFailed, err
	}
	if ins == nil || ins.Status != entity.InstrumentStatusActive {
		o.logger.Error("RENEWAL", "No payment instrument, renewal skipped", fields)
		return OutcomeSkipped, errNoInstrument
	}
	plan, err := uow.SubscriptionRepository().FindPlanByID(ctx, sub.PlanId)
	if err != nil {
		return OutcomeFailed, err
	}
	if plan == nil {
		return OutcomeFailed, billing.ErrPlanNotFound
	}
	user, err := uow.UserRepository().FindByID(ctx, sub.UserId)
	if err != nil {
		return OutcomeFailed, err
	}

	now := o.now()
	next := period.Next(now, plan.Period)

	if err := o.revokeDue(ctx, ins.Token, plan, now); err != nil {
		fields["error"] = err.Error()
		o.logger.Error("RENEWAL", "Due schedules could not be revoked, renewal skipped", fields)
		return OutcomeSkipped, err
	}

	scheduleID, err := o.gateway.CreateSchedule(ctx, gateway.ScheduleRequest{
		InstrumentToken: ins.Token,
		Amount:          plan.Price,
		Currency:        o.currency,
		OrderLabel:      billing.OrderLabel(plan, next),
		PlanID:          plan.Id,
		RunAt:           next,
		Customer:        billing.Customer(user),
	})
	if err != nil {
		fields["error"] = err.Error()
		fields["gateway_msg"] = gateway.RawMessage(err)
		o.logger.Error("RENEWAL", "Next schedule could not be created, renewal skipped", fields)
		return OutcomeSkipped, err
	}

	// A charge left unresolved by an earlier sweep is retried under its own id
	// so the provider can deduplicate it.
	idempotencyID := ledger.NewIdempotencyID()
	if sub.PendingChargeId != nil {
		idempotencyID = *sub.PendingChargeId
	}
	if err := o.markCharge(ctx, sub, &idempotencyID); err != nil {
		o.revokeCreated(ctx, ins.Token, scheduleID, fields)
		return OutcomeFailed, err
	}
	charge, err := billing.Charge(ctx, o.gateway, gateway.ChargeRequest{
		InstrumentToken: ins.Token,
		Amount:          plan.Price,
		Currency:        o.currency,
		OrderLabel:      billing.OrderLabel(plan, now),
		IdempotencyID:   idempotencyID,
		Customer:        billing.Customer(user),
	})
	if err != nil {
		o.revokeCreated(ctx, ins.Token, scheduleID, fields)
		fields["error"] = err.Error()
		fields["gateway_msg"] = gateway.RawMessage(err)
		if gateway.IsUnknownOutcome(err) {
			fields["idempotency_id"] = idempotencyID
		} else if cerr := o.markCharge(context.WithoutCancel(ctx), sub, nil); cerr != nil {
			fields["clear_error"] = cerr.Error()
		}
		o.logger.Error("RENEWAL", "Renewal charge failed", fields)
		extra := map[string]interface{}{"plan_name": plan.Name}
		if user != nil {
			extra["email"] = user.Email
			extra["full_name"] = user.FullName
		}
		o.publisher.Publish(ctx, events.SubscriptionEvent(events.TypeRenewalFailed, sub, extra))
		return OutcomeFailed, err
	}

	entry, err := o.advance(ctx, sub, plan, ledger.Charge{
		UserId:         sub.UserId,
		SubscriptionId: sub.Id,
		PlanId:         plan.Id,
		GatewayTxId:    charge.TransactionID,
		IdempotencyId:  idempotencyID,
		Amount:         plan.Price,
		PaidAt:         now,
	}, now, next)
	if err != nil {
		fields["tx_id"] = charge.TransactionID
		fields["error"] = err.Error()
		if rerr := o.gateway.Refund(ctx, gateway.RefundRequest{
			TransactionID: charge.TransactionID,
			Amount:        plan.Price,
			Reason:        "renewal could not be recorded",
		}); rerr != nil {
			fields["refund_error"] = rerr.Error()
			o.logger.Error("RENEWAL", "Renewal charged but not recorded and refund failed, manual action needed", fields)
		} else {
			if cerr := o.markCharge(context.WithoutCancel(ctx), sub, nil); cerr != nil {
				fields["clear_error"] = cerr.Error()
			}
			o.logger.Error("RENEWAL", "Renewal charge refunded after ledger write failed", fields)
		}
		o.revokeCreated(ctx, ins.Token, scheduleID, fields)
		return OutcomeFailed, err
	}

	o.publisher.PublishLedger(ctx, entry)
	o.publisher.Publish(ctx, events.SubscriptionEvent(events.TypeSubscriptionRenewed, sub, map[string]interface{}{
		"plan_name": plan.Name,
		"amount":    plan.Price.String(),
	}))
	o.logger.Info("RENEWAL", "Subscription renewed", map[string]interface{}{
		"subscription_id": sub.Id.String(),
		"tx_id":           charge.TransactionID,
		"next_bill_date":  next.Format(time.RFC3339),
	})
	return OutcomeRenewed, nil
}

// revokeDue drops schedules of the plan that are due at or before now so the
// provider does not charge the same cycle again.
func (o *Orchestrator) revokeDue(ctx context.Context, token string, plan *entity.Plan, now time.Time) error {
	schedules, err := o.gateway.ListSchedules(ctx, token, gateway.ScheduleFilter{
		PlanID: plan.Id,
		From:   now.Add(-gateway.DefaultScheduleWindow),
		Until:  now,
	})
	if err != nil {
		return err
	}
	if len(schedules) == 0 {
		return nil
	}
	ids := make([]string, 0, len(schedules))
	for _, s := range schedules {
		ids = append(ids, s.ID)
	}
	return o.gateway.RevokeSchedules(ctx, token, ids)
}

func (o *Orchestrator) revokeCreated(ctx context.Context, token, scheduleID string, fields map[string]interface{}) {
	if err := o.gateway.RevokeSchedules(ctx, token, []string{scheduleID}); err != nil {
		o.logger.Warn("RENEWAL", "Schedule of failed renewal could not be revoked", map[string]interface{}{
			"subscription_id": fields["subscription_id"],
			"schedule_id":     scheduleID,
			"error":           err.Error(),
		})
	}
}

// markCharge records the idempotency id of the charge about to be sent, or
// clears it when id is nil.
func (o *Orchestrator) markCharge(ctx context.Context, sub *entity.Subscription, id *string) error {
	uow := o.uowFactory.NewUnitOfWork(ctx)
	if err := uow.Begin(ctx); err != nil {
		return err
	}
	defer uow.Rollback()

	locked, err := uow.SubscriptionRepository().FindSubscriptionForUpdate(ctx, sub.UserId, sub.PlanId)
	if err != nil {
		return err
	}
	if locked == nil {
		return billing.ErrSubscriptionNotFound
	}
	locked.PendingChargeId = id
	if err := uow.SubscriptionRepository().UpdateSubscription(ctx, locked); err != nil {
		return err
	}
	if err := uow.Commit(); err != nil {
		return err
	}
	*sub = *locked
	return nil
}

func (o *Orchestrator) advance(ctx context.Context, sub *entity.Subscription, plan *entity.Plan, charge ledger.Charge, now, next time.Time) (*entity.LedgerEntry, error) {
	uow := o.uowFactory.NewUnitOfWork(ctx)
	if err := uow.Begin(ctx); err != nil {
		return nil, err
	}
	defer uow.Rollback()

	locked, err := uow.SubscriptionRepository().FindSubscriptionForUpdate(ctx, sub.UserId, sub.PlanId)
	if err != nil {
		return nil, err
	}
	if locked == nil {
		return nil, billing.ErrSubscriptionNotFound
	}

	_, entry, err := ledger.RecordCharge(ctx, uow, charge)
	if err != nil {
		return nil, err
	}

	end := next
	remaining := time.Duration(period.WholeDays(end.Sub(now))) * period.Day
	locked.Status = entity.SubscriptionStatusActive
	locked.StartDate = now
	locked.EndDate = &end
	locked.NextBillDate = &next
	locked.RemainingBillDate = &remaining
	locked.PendingChargeId = nil
	if err := uow.SubscriptionRepository().UpdateSubscription(ctx, locked); err != nil {
		return nil, err
	}
	if err := ledger.MirrorStatus(ctx, uow, locked); err != nil {
		return nil, err
	}
	if err := ledger.AppendHistory(ctx, uow, locked, plan, entity.HistoryStatusRenewal, now, map[string]interface{}{
		"tx_id": charge.GatewayTxId,
	}); err != nil {
		return nil, err
	}
	if err := uow.Commit(); err != nil {
		return nil, err
	}
	*sub = *locked
	return entry, nil
}
