// Package instrument manages the subscriber's billing key together with the
// gateway schedules that charge it.
package instrument

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
	"subscription-billing-be/pkg/billing/lock"
	"subscription-billing-be/pkg/gateway"

	"github.com/google/uuid"
)

type Manager struct {
	uowFactory unitofwork.RepositoryFactory
	gateway    gateway.Gateway
	locker     lock.Locker
	publisher  events.Publisher
	logger     logger.ILogger
	now        func() time.Time
}

func NewManager(uowFactory unitofwork.RepositoryFactory, gw gateway.Gateway, locker lock.Locker, publisher events.Publisher, log logger.ILogger) *Manager {
	return &Manager{
		uowFactory: uowFactory,
		gateway:    gw,
		locker:     locker,
		publisher:  publisher,
		logger:     log,
		now:        time.Now,
	}
}

func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

// lookup fetches card metadata for token. An unknown token is a caller error.
func (m *Manager) lookup(ctx context.Context, op, token string) (*gateway.InstrumentInfo, error) {
	info, err := m.gateway.GetInstrumentInfo(ctx, token)
	if errors.Is(err, gateway.ErrInstrumentNotFound) {
		return nil, billing.E(billing.KindValidation, op, "payment instrument was not found at the provider", err)
	}
	if err != nil {
		return nil, billing.GatewayError(op, err)
	}
	return info, nil
}

func apply(ins *entity.PaymentInstrument, info *gateway.InstrumentInfo) {
	ins.Token = info.Token
	ins.IssuerName = nil
	ins.MaskedNumber = nil
	if info.IssuerName != "" {
		issuer := info.IssuerName
		ins.IssuerName = &issuer
	}
	if info.MaskedNumber != "" {
		masked := info.MaskedNumber
		ins.MaskedNumber = &masked
	}
}

// Register stores a new billing key and attaches it to the subscriber's
// subscriptions that have none.
func (m *Manager) Register(ctx context.Context, userId uuid.UUID, token string) (*entity.PaymentInstrument, error) {
	const op = "instrument.Register"
	unlock, err := m.locker.Acquire(ctx, lock.UserKey(userId))
	if err != nil {
		return nil, err
	}
	defer unlock()

	uow := m.uowFactory.NewUnitOfWork(ctx)
	user, err := uow.UserRepository().FindByID(ctx, userId)
	if err != nil {
		return nil, fmt.Errorf("%s: load user: %w", op, err)
	}
	if user == nil {
		return nil, billing.ErrSubscriberNotFound
	}

	existing, err := uow.InstrumentRepository().FindByUser(ctx, userId)
	if err != nil {
		return nil, fmt.Errorf("%s: load instrument: %w", op, err)
	}
	if existing != nil {
		if existing.Status != entity.InstrumentStatusPendingDeletion {
			return nil, billing.ErrInstrumentExists
		}
		if err := m.remove(ctx, existing, "replaced by a new registration"); err != nil {
			return nil, billing.ErrInstrumentExists
		}
	}

	info, err := m.lookup(ctx, op, token)
	if err != nil {
		return nil, err
	}

	ins := &entity.PaymentInstrument{Id: uuid.New(), UserId: userId, Status: entity.InstrumentStatusActive}
	apply(ins, info)
	ins.Token = token

	if err := uow.Begin(ctx); err != nil {
		return nil, fmt.Errorf("%s: begin: %w", op, err)
	}
	defer uow.Rollback()

	if err := uow.InstrumentRepository().Create(ctx, ins); err != nil {
		return nil, fmt.Errorf("%s: create: %w", op, err)
	}
	subs, err := uow.SubscriptionRepository().FindSubscriptionsByUser(ctx, userId)
	if err != nil {
		return nil, fmt.Errorf("%s: load subscriptions: %w", op, err)
	}
	for _, s := range subs {
		if s.InstrumentId != nil || s.Status == entity.SubscriptionStatusCancelled {
			continue
		}
		s.InstrumentId = &ins.Id
		if err := uow.SubscriptionRepository().UpdateSubscription(ctx, s); err != nil {
			return nil, fmt.Errorf("%s: attach to subscription %s: %w", op, s.Id, err)
		}
	}
	if err := uow.Commit(); err != nil {
		return nil, fmt.Errorf("%s: commit: %w", op, err)
	}

	m.publisher.Publish(ctx, events.InstrumentEvent(events.TypeInstrumentRegistered, userId, map[string]interface{}{
		"instrument_id": ins.Id.String(),
	}))
	m.logger.Info("INSTRUMENT", "Payment instrument registered", map[string]interface{}{"user_id": userId.String()})
	return ins, nil
}

// planIDs lists the plans the subscriber holds. An empty list means every plan.
func (m *Manager) planIDs(ctx context.Context, userId uuid.UUID) ([]uuid.UUID, error) {
	subs, err := m.uowFactory.NewUnitOfWork(ctx).SubscriptionRepository().FindSubscriptionsByUser(ctx, userId)
	if err != nil {
		return nil, err
	}
	ids := make([]uuid.UUID, 0, len(subs))
	for _, s := range subs {
		ids = append(ids, s.PlanId)
	}
	if len(ids) == 0 {
		ids = append(ids, uuid.Nil)
	}
	return ids, nil
}

// pending lists the still-scheduled charges of token for the given plans.
func (m *Manager) pending(ctx context.Context, token string, plans []uuid.UUID) ([]gateway.Schedule, error) {
	var out []gateway.Schedule
	for _, planId := range plans {
		found, err := m.gateway.ListSchedules(ctx, token, gateway.ScheduleFilter{PlanID: planId}.Window(m.now()))
		if err != nil {
			return nil, err
		}
		out = append(out, found...)
	}
	return out, nil
}

func scheduleIDs(schedules []gateway.Schedule) []string {
	ids := make([]string, 0, len(schedules))
	for _, s := range schedules {
		ids = append(ids, s.ID)
	}
	return ids
}

// removeRemote revokes the token's schedules, deletes it at the gateway and
// confirms the gateway no longer knows it.
func (m *Manager) removeRemote(ctx context.Context, userId uuid.UUID, token, reason string) error {
	plans, err := m.planIDs(ctx, userId)
	if err != nil {
		return fmt.Errorf("list plans: %w", err)
	}
	schedules, err := m.pending(ctx, token, plans)
	if err != nil {
		return fmt.Errorf("list schedules: %w", err)
	}
	if len(schedules) > 0 {
		if err := m.gateway.RevokeSchedules(ctx, token, scheduleIDs(schedules)); err != nil {
			return fmt.Errorf("revoke schedules: %w", err)
		}
	}
	if err := m.gateway.DeleteInstrument(ctx, token, reason); err != nil {
		return fmt.Errorf("delete instrument: %w", err)
	}

	_, err = m.gateway.GetInstrumentInfo(ctx, token)
	switch {
	case errors.Is(err, gateway.ErrInstrumentNotFound):
		return nil
	case err != nil:
		return fmt.Errorf("verify deletion: %w", err)
	}
	return fmt.Errorf("verify deletion: %w", gateway.ErrInstrumentDelete)
}

// remove deletes ins remotely, then locally. A remote failure marks it
// pending_deletion.
func (m *Manager) remove(ctx context.Context, ins *entity.PaymentInstrument, reason string) error {
	if err := m.removeRemote(ctx, ins.UserId, ins.Token, reason); err != nil {
		m.markPending(ctx, ins)
		return err
	}

	uow := m.uowFactory.NewUnitOfWork(ctx)
	if err := uow.Begin(ctx); err != nil {
		return err
	}
	defer uow.Rollback()

	subs, err := uow.SubscriptionRepository().FindSubscriptionsByInstrument(ctx, ins.Id)
	if err != nil {
		return err
	}
	for _, s := range subs {
		s.InstrumentId = nil
		if err := uow.SubscriptionRepository().UpdateSubscription(ctx, s); err != nil {
			return err
		}
	}
	if err := uow.InstrumentRepository().Delete(ctx, ins.Id); err != nil {
		return err
	}
	return uow.Commit()
}

func (m *Manager) markPending(ctx context.Context, ins *entity.PaymentInstrument) {
	if ins.Status == entity.InstrumentStatusPendingDeletion {
		return
	}
	ins.Status = entity.InstrumentStatusPendingDeletion
	if err := m.uowFactory.NewUnitOfWork(ctx).InstrumentRepository().Update(ctx, ins); err != nil {
		m.logger.Error("INSTRUMENT", "Failed to mark instrument pending_deletion", map[string]interface{}{
			"instrument_id": ins.Id.String(),
			"error":         err.Error(),
		})
	}
}

// Delete removes the subscriber's instrument. Deleting a missing instrument
// succeeds.
func (m *Manager) Delete(ctx context.Context, userId uuid.UUID, reason string) error {
	const op = "instrument.Delete"
	unlock, err := m.locker.Acquire(ctx, lock.UserKey(userId))
	if err != nil {
		return err
	}
	defer unlock()

	ins, err := m.uowFactory.NewUnitOfWork(ctx).InstrumentRepository().FindByUser(ctx, userId)
	if err != nil {
		return fmt.Errorf("%s: load instrument: %w", op, err)
	}
	if ins == nil {
		return nil
	}

	if err := m.remove(ctx, ins, reason); err != nil {
		m.logger.Warn("INSTRUMENT", "Instrument deletion failed, marked pending_deletion", map[string]interface{}{
			"user_id":     userId.String(),
			"gateway_msg": gateway.RawMessage(err),
			"error":       err.Error(),
		})
		return billing.GatewayError(op, err)
	}

	m.publisher.Publish(ctx, events.InstrumentEvent(events.TypeInstrumentDeleted, userId, map[string]interface{}{
		"instrument_id": ins.Id.String(),
		"reason":        reason,
	}))
	m.logger.Info("INSTRUMENT", "Payment instrument deleted", map[string]interface{}{"user_id": userId.String()})
	return nil
}

// RevokePlanSchedules revokes the pending schedules of one plan and leaves the
// instrument in place.
func (m *Manager) RevokePlanSchedules(ctx context.Context, userId, planId uuid.UUID) error {
	ins, err := m.uowFactory.NewUnitOfWork(ctx).InstrumentRepository().FindByUser(ctx, userId)
	if err != nil || ins == nil {
		return err
	}
	schedules, err := m.pending(ctx, ins.Token, []uuid.UUID{planId})
	if err != nil {
		return err
	}
	if len(schedules) == 0 {
		return nil
	}
	return m.gateway.RevokeSchedules(ctx, ins.Token, scheduleIDs(schedules))
}

// Rotate replaces the billing key. Pending schedules move to the new key at
// their original run time.
func (m *Manager) Rotate(ctx context.Context, userId uuid.UUID, newToken string) (*entity.PaymentInstrument, error) {
	const op = "instrument.Rotate"
	unlock, err := m.locker.Acquire(ctx, lock.UserKey(userId))
	if err != nil {
		return nil, err
	}
	defer unlock()

	uow := m.uowFactory.NewUnitOfWork(ctx)
	ins, err := uow.InstrumentRepository().FindByUser(ctx, userId)
	if err != nil {
		return nil, fmt.Errorf("%s: load instrument: %w", op, err)
	}
	if ins == nil {
		return nil, billing.ErrInstrumentMissing
	}
	if ins.Token == newToken {
		return ins, nil
	}
	user, err := uow.UserRepository().FindByID(ctx, userId)
	if err != nil {
		return nil, fmt.Errorf("%s: load user: %w", op, err)
	}

	info, err := m.lookup(ctx, op, newToken)
	if err != nil {
		return nil, err
	}

	oldToken := ins.Token
	plans, err := m.planIDs(ctx, userId)
	if err != nil {
		return nil, fmt.Errorf("%s: list plans: %w", op, err)
	}
	schedules, err := m.pending(ctx, oldToken, plans)
	if err != nil {
		return nil, billing.GatewayError(op, err)
	}

	if len(schedules) > 0 {
		if err := m.moveSchedules(ctx, user, oldToken, newToken, schedules); err != nil {
			return nil, billing.GatewayError(op, err)
		}
	}

	if err := m.removeRemote(ctx, userId, oldToken, "replaced by a new billing key"); err != nil {
		m.logger.Warn("INSTRUMENT", "Old billing key could not be deleted after rotation", map[string]interface{}{
			"user_id": userId.String(),
			"error":   err.Error(),
		})
	}

	apply(ins, info)
	ins.Token = newToken
	ins.Status = entity.InstrumentStatusActive
	if err := uow.InstrumentRepository().Update(ctx, ins); err != nil {
		return nil, fmt.Errorf("%s: update: %w", op, err)
	}

	m.publisher.Publish(ctx, events.InstrumentEvent(events.TypeInstrumentRotated, userId, map[string]interface{}{
		"instrument_id":   ins.Id.String(),
		"moved_schedules": len(schedules),
	}))
	m.logger.Info("INSTRUMENT", "Payment instrument rotated", map[string]interface{}{
		"user_id":         userId.String(),
		"moved_schedules": len(schedules),
	})
	return ins, nil
}

// moveSchedules revokes schedules on the old key and recreates them on the
// new key with the same run time. If a recreate fails, the copies already made
// on the new key are revoked and the full set is restored on the old key.
func (m *Manager) moveSchedules(ctx context.Context, user *entity.User, oldToken, newToken string, schedules []gateway.Schedule) error {
	if err := m.gateway.RevokeSchedules(ctx, oldToken, scheduleIDs(schedules)); err != nil {
		return fmt.Errorf("revoke old schedules: %w", err)
	}

	moved := make([]string, 0, len(schedules))
	for _, s := range schedules {
		id, err := m.gateway.CreateSchedule(ctx, scheduleOn(newToken, user, s))
		if err == nil {
			moved = append(moved, id)
			continue
		}

		m.rollbackMove(ctx, user, oldToken, newToken, moved, schedules)
		return fmt.Errorf("recreate schedule at %s: %w", s.RunAt.Format(time.RFC3339), err)
	}
	return nil
}

func (m *Manager) rollbackMove(ctx context.Context, user *entity.User, oldToken, newToken string, moved []string, schedules []gateway.Schedule) {
	if len(moved) > 0 {
		if err := m.gateway.RevokeSchedules(ctx, newToken, moved); err != nil {
			m.logger.Error("INSTRUMENT", "Failed to revoke schedules copied to new billing key", map[string]interface{}{
				"user_id":      user.Id.String(),
				"schedule_ids": moved,
				"error":        err.Error(),
			})
		}
	}
	for _, s := range schedules {
		if _, err := m.gateway.CreateSchedule(ctx, scheduleOn(oldToken, user, s)); err != nil {
			m.logger.Error("INSTRUMENT", "Failed to restore schedule on old billing key", map[string]interface{}{
				"plan_id": s.PlanID.String(),
				"run_at":  s.RunAt,
				"error":   err.Error(),
			})
		}
	}
}

func scheduleOn(token string, user *entity.User, s gateway.Schedule) gateway.ScheduleRequest {
	return gateway.ScheduleRequest{
		InstrumentToken: token,
		Amount:          s.Amount,
		OrderLabel:      s.OrderLabel,
		PlanID:          s.PlanID,
		RunAt:           s.RunAt,
		Customer:        billing.Customer(user),
	}
}

// RetryPendingDeletions retries every instrument left pending_deletion and
// returns how many were removed.
func (m *Manager) RetryPendingDeletions(ctx context.Context) (int, error) {
	pendingRows, err := m.uowFactory.NewUnitOfWork(ctx).InstrumentRepository().FindPendingDeletion(ctx)
	if err != nil {
		return 0, fmt.Errorf("list pending deletions: %w", err)
	}

	removed := 0
	for _, ins := range pendingRows {
		if err := m.Delete(ctx, ins.UserId, "retry pending deletion"); err != nil {
			continue
		}
		removed++
	}
	if len(pendingRows) > 0 {
		m.logger.Info("INSTRUMENT", "Pending instrument deletions retried", map[string]interface{}{
			"pending": len(pendingRows),
			"removed": removed,
		})
	}
	return removed, nil
}
