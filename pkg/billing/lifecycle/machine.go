package lifecycle

import (
	"context"
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

	"github.com/google/uuid"
)

// ScheduleRevoker drops the pending gateway schedules of one plan.
type ScheduleRevoker interface {
	RevokePlanSchedules(ctx context.Context, userId, planId uuid.UUID) error
}

type ActivateCommand struct {
	UserID uuid.UUID
	PlanID uuid.UUID
}

type Result struct {
	Subscription *entity.Subscription
	Payment      *entity.Payment
	Warnings     []string
}

type Machine struct {
	uowFactory unitofwork.RepositoryFactory
	gateway    gateway.Gateway
	schedules  ScheduleRevoker
	locker     lock.Locker
	publisher  events.Publisher
	metrics    metrics.BillingMetrics
	logger     logger.ILogger
	currency   string
	now        func() time.Time
}

func NewMachine(
	uowFactory unitofwork.RepositoryFactory,
	gw gateway.Gateway,
	schedules ScheduleRevoker,
	locker lock.Locker,
	publisher events.Publisher,
	m metrics.BillingMetrics,
	log logger.ILogger,
	currency string,
) *Machine {
	return &Machine{
		uowFactory: uowFactory,
		gateway:    gw,
		schedules:  schedules,
		locker:     locker,
		publisher:  publisher,
		metrics:    m,
		logger:     log,
		currency:   currency,
		now:        time.Now,
	}
}

func (m *Machine) WithClock(now func() time.Time) *Machine {
	m.now = now
	return m
}

// activeInstrument returns the subscriber's usable billing key.
func activeInstrument(ctx context.Context, uow unitofwork.UnitOfWork, userId uuid.UUID) (*entity.PaymentInstrument, error) {
	ins, err := uow.InstrumentRepository().FindByUser(ctx, userId)
	if err != nil {
		return nil, err
	}
	if ins == nil || ins.Status != entity.InstrumentStatusActive {
		return nil, billing.ErrInstrumentMissing
	}
	return ins, nil
}

// Activate charges the plan price and starts a new billing period, creating
// the subscription or reactivating its paused or cancelled row.
func (m *Machine) Activate(ctx context.Context, cmd ActivateCommand) (*Result, error) {
	const op = "lifecycle.Activate"
	unlock, err := m.locker.Acquire(ctx, lock.SubscriptionKey(cmd.UserID, cmd.PlanID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	uow := m.uowFactory.NewUnitOfWork(ctx)
	plan, err := uow.SubscriptionRepository().FindPlanByID(ctx, cmd.PlanID)
	if err != nil {
		return nil, fmt.Errorf("%s: load plan: %w", op, err)
	}
	if plan == nil {
		return nil, billing.ErrPlanNotFound
	}
	if !plan.IsActive {
		return nil, billing.ErrPlanInactive
	}
	user, err := uow.UserRepository().FindByID(ctx, cmd.UserID)
	if err != nil {
		return nil, fmt.Errorf("%s: load user: %w", op, err)
	}
	if user == nil {
		return nil, billing.ErrSubscriberNotFound
	}
	ins, err := activeInstrument(ctx, uow, cmd.UserID)
	if err != nil {
		return nil, err
	}

	existing, err := uow.SubscriptionRepository().FindSubscription(ctx, cmd.UserID, cmd.PlanID)
	if err != nil {
		return nil, fmt.Errorf("%s: load subscription: %w", op, err)
	}
	from := StatusNone
	if existing != nil {
		from = existing.Status
	}
	if from == entity.SubscriptionStatusActive {
		return nil, billing.ErrAlreadySubscribed
	}
	if err := check(op, from, entity.SubscriptionStatusActive); err != nil {
		return nil, err
	}

	now := m.now()
	idempotencyID := ledger.NewIdempotencyID()
	charge, err := billing.Charge(ctx, m.gateway, gateway.ChargeRequest{
		InstrumentToken: ins.Token,
		Amount:          plan.Price,
		Currency:        m.currency,
		OrderLabel:      billing.OrderLabel(plan, now),
		IdempotencyID:   idempotencyID,
		Customer:        billing.Customer(user),
	})
	if err != nil {
		m.logger.Error("BILLING", "Activation charge failed", map[string]interface{}{
			"user_id":     cmd.UserID.String(),
			"plan_id":     cmd.PlanID.String(),
			"gateway_msg": gateway.RawMessage(err),
			"error":       err.Error(),
		})
		return nil, billing.GatewayError(op, err)
	}

	next := period.Next(now, plan.Period)
	sub, payment, entry, err := m.recordActivation(ctx, plan, ins, charge, idempotencyID, now, next)
	if err != nil {
		m.compensate(ctx, charge, plan, err)
		return nil, err
	}

	res := &Result{Subscription: sub, Payment: payment}
	if _, err := m.gateway.CreateSchedule(ctx, gateway.ScheduleRequest{
		InstrumentToken: ins.Token,
		Amount:          plan.Price,
		Currency:        m.currency,
		OrderLabel:      billing.OrderLabel(plan, next),
		PlanID:          plan.Id,
		RunAt:           next,
		Customer:        billing.Customer(user),
	}); err != nil {
		m.logger.Warn("BILLING", "Next payment schedule could not be created", map[string]interface{}{
			"subscription_id": sub.Id.String(),
			"error":           err.Error(),
		})
		res.Warnings = append(res.Warnings, "next payment schedule could not be created, the renewal sweep will charge instead")
	}

	m.metrics.IncTransition(string(from), string(sub.Status))
	m.publisher.PublishLedger(ctx, entry)
	m.publisher.Publish(ctx, events.SubscriptionEvent(events.TypeSubscriptionActivated, sub, map[string]interface{}{
		"plan_name": plan.Name,
		"amount":    plan.Price.String(),
		"email":     user.Email,
		"full_name": user.FullName,
	}))
	m.logger.Info("BILLING", "Subscription activated", map[string]interface{}{
		"subscription_id": sub.Id.String(),
		"from":            string(from),
	})
	return res, nil
}

func (m *Machine) recordActivation(ctx context.Context, plan *entity.Plan, ins *entity.PaymentInstrument, charge *gateway.ChargeResult, idempotencyID string, now, next time.Time) (*entity.Subscription, *entity.Payment, *entity.LedgerEntry, error) {
	const op = "lifecycle.Activate"
	uow := m.uowFactory.NewUnitOfWork(ctx)
	if err := uow.Begin(ctx); err != nil {
		return nil, nil, nil, fmt.Errorf("%s: begin: %w", op, err)
	}
	defer uow.Rollback()

	repo := uow.SubscriptionRepository()
	sub, err := repo.FindSubscriptionForUpdate(ctx, ins.UserId, plan.Id)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("%s: lock subscription: %w", op, err)
	}
	create := sub == nil
	if create {
		sub = &entity.Subscription{Id: uuid.New(), UserId: ins.UserId, PlanId: plan.Id}
	}
	end := next
	sub.InstrumentId = &ins.Id
	sub.Status = entity.SubscriptionStatusActive
	sub.StartDate = now
	sub.EndDate = &end
	sub.NextBillDate = &next
	sub.RemainingBillDate = nil
	sub.AutoRenew = true
	sub.CancelledReason = nil
	sub.OtherReason = nil
	if create {
		err = repo.CreateSubscription(ctx, sub)
	} else {
		err = repo.UpdateSubscription(ctx, sub)
	}
	if err != nil {
		return nil, nil, nil, fmt.Errorf("%s: save subscription: %w", op, err)
	}

	payment, entry, err := ledger.RecordCharge(ctx, uow, ledger.Charge{
		UserId:         sub.UserId,
		SubscriptionId: sub.Id,
		PlanId:         plan.Id,
		GatewayTxId:    charge.TransactionID,
		IdempotencyId:  idempotencyID,
		Amount:         plan.Price,
		PaidAt:         now,
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := ledger.MirrorStatus(ctx, uow, sub); err != nil {
		return nil, nil, nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := ledger.AppendHistory(ctx, uow, sub, plan, entity.HistoryStatusRenewal, now, nil); err != nil {
		return nil, nil, nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := uow.Commit(); err != nil {
		return nil, nil, nil, fmt.Errorf("%s: commit: %w", op, err)
	}
	return sub, payment, entry, nil
}

// compensate refunds a charge whose ledger write failed.
func (m *Machine) compensate(ctx context.Context, charge *gateway.ChargeResult, plan *entity.Plan, cause error) {
	err := m.gateway.Refund(ctx, gateway.RefundRequest{
		TransactionID: charge.TransactionID,
		Amount:        plan.Price,
		Reason:        "activation could not be recorded",
	})
	fields := map[string]interface{}{
		"tx_id": charge.TransactionID,
		"cause": cause.Error(),
	}
	if err != nil {
		fields["error"] = err.Error()
		m.logger.Error("BILLING", "Charge taken but not recorded and refund failed, manual action needed", fields)
		return
	}
	m.logger.Error("BILLING", "Charge refunded after ledger write failed", fields)
}

// Pause banks the rest of the current period and stops renewals.
func (m *Machine) Pause(ctx context.Context, userId, planId uuid.UUID) (*Result, error) {
	const op = "lifecycle.Pause"
	unlock, err := m.locker.Acquire(ctx, lock.SubscriptionKey(userId, planId))
	if err != nil {
		return nil, err
	}
	defer unlock()

	now := m.now()
	var plan *entity.Plan
	sub, err := m.transition(ctx, op, userId, planId, func(uow unitofwork.UnitOfWork, sub *entity.Subscription) error {
		if err := check(op, sub.Status, entity.SubscriptionStatusPaused); err != nil {
			return err
		}
		var remaining time.Duration
		if sub.EndDate != nil && sub.EndDate.After(now) {
			remaining = sub.EndDate.Sub(now)
		}
		sub.RemainingBillDate = &remaining
		sub.EndDate = nil
		sub.NextBillDate = nil
		sub.AutoRenew = false
		sub.Status = entity.SubscriptionStatusPaused

		p, err := uow.SubscriptionRepository().FindPlanByID(ctx, planId)
		if err != nil {
			return err
		}
		plan = p
		return ledger.AppendHistory(ctx, uow, sub, plan, entity.HistoryStatusPause, now, nil)
	})
	if err != nil {
		return nil, err
	}

	res := &Result{Subscription: sub}
	if err := m.schedules.RevokePlanSchedules(ctx, userId, planId); err != nil {
		m.logger.Warn("BILLING", "Schedules of paused plan could not be revoked", map[string]interface{}{
			"subscription_id": sub.Id.String(),
			"error":           err.Error(),
		})
		res.Warnings = append(res.Warnings, "future payment schedule could not be cancelled")
	}

	m.metrics.IncTransition(string(entity.SubscriptionStatusActive), string(sub.Status))
	m.publisher.Publish(ctx, events.SubscriptionEvent(events.TypeSubscriptionPaused, sub, map[string]interface{}{
		"remaining_days": period.WholeDays(sub.Remaining()),
	}))
	return res, nil
}

// Resume starts a period as long as the banked time and schedules the next
// charge at its end.
func (m *Machine) Resume(ctx context.Context, userId, planId uuid.UUID) (*Result, error) {
	const op = "lifecycle.Resume"
	unlock, err := m.locker.Acquire(ctx, lock.SubscriptionKey(userId, planId))
	if err != nil {
		return nil, err
	}
	defer unlock()

	uow := m.uowFactory.NewUnitOfWork(ctx)
	ins, err := activeInstrument(ctx, uow, userId)
	if err != nil {
		return nil, err
	}
	user, err := uow.UserRepository().FindByID(ctx, userId)
	if err != nil {
		return nil, fmt.Errorf("%s: load user: %w", op, err)
	}

	now := m.now()
	var plan *entity.Plan
	sub, err := m.transition(ctx, op, userId, planId, func(uow unitofwork.UnitOfWork, sub *entity.Subscription) error {
		// active -> active is a renewal, not a resume.
		if sub.Status != entity.SubscriptionStatusPaused {
			return billing.TransitionError(op, string(sub.Status), string(entity.SubscriptionStatusActive))
		}
		remaining := sub.Remaining()
		if remaining <= 0 {
			return billing.ErrNothingToResume
		}
		end := now.Add(remaining)
		next := end
		sub.StartDate = now
		sub.EndDate = &end
		sub.NextBillDate = &next
		sub.RemainingBillDate = nil
		sub.AutoRenew = true
		sub.InstrumentId = &ins.Id
		sub.Status = entity.SubscriptionStatusActive

		p, err := uow.SubscriptionRepository().FindPlanByID(ctx, planId)
		if err != nil {
			return err
		}
		plan = p
		return ledger.AppendHistory(ctx, uow, sub, plan, entity.HistoryStatusRestart, now, nil)
	})
	if err != nil {
		return nil, err
	}

	res := &Result{Subscription: sub}
	if plan != nil {
		if _, err := m.gateway.CreateSchedule(ctx, gateway.ScheduleRequest{
			InstrumentToken: ins.Token,
			Amount:          plan.Price,
			Currency:        m.currency,
			OrderLabel:      billing.OrderLabel(plan, *sub.NextBillDate),
			PlanID:          plan.Id,
			RunAt:           *sub.NextBillDate,
			Customer:        billing.Customer(user),
		}); err != nil {
			m.logger.Warn("BILLING", "Schedule for resumed subscription could not be created", map[string]interface{}{
				"subscription_id": sub.Id.String(),
				"error":           err.Error(),
			})
			res.Warnings = append(res.Warnings, "next payment schedule could not be created, the renewal sweep will charge instead")
		}
	}

	m.metrics.IncTransition(string(entity.SubscriptionStatusPaused), string(sub.Status))
	m.publisher.Publish(ctx, events.SubscriptionEvent(events.TypeSubscriptionResumed, sub, nil))
	return res, nil
}

// transition loads the row FOR UPDATE, applies mutate and persists it with the
// subscriber status mirror in one transaction. Subscribers with an unresolved
// refund are refused.
func (m *Machine) transition(ctx context.Context, op string, userId, planId uuid.UUID, mutate func(uow unitofwork.UnitOfWork, sub *entity.Subscription) error) (*entity.Subscription, error) {
	uow := m.uowFactory.NewUnitOfWork(ctx)
	if err := uow.Begin(ctx); err != nil {
		return nil, fmt.Errorf("%s: begin: %w", op, err)
	}
	defer uow.Rollback()

	sub, err := uow.SubscriptionRepository().FindSubscriptionForUpdate(ctx, userId, planId)
	if err != nil {
		return nil, fmt.Errorf("%s: lock subscription: %w", op, err)
	}
	if sub == nil {
		return nil, billing.ErrSubscriptionNotFound
	}
	if err := ledger.GuardRefundPending(ctx, uow, op, userId); err != nil {
		return nil, err
	}
	if err := mutate(uow, sub); err != nil {
		return nil, err
	}
	if err := uow.SubscriptionRepository().UpdateSubscription(ctx, sub); err != nil {
		return nil, fmt.Errorf("%s: update subscription: %w", op, err)
	}
	if err := ledger.MirrorStatus(ctx, uow, sub); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := uow.Commit(); err != nil {
		return nil, fmt.Errorf("%s: commit: %w", op, err)
	}
	return sub, nil
}
