package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"subscription-billing-be/internal/dto"
	"subscription-billing-be/internal/entity"
	"subscription-billing-be/internal/pkg/logger"
	"subscription-billing-be/internal/repository/unitofwork"
	"subscription-billing-be/pkg/billing"
	"subscription-billing-be/pkg/billing/events"
	"subscription-billing-be/pkg/billing/ledger"
	"subscription-billing-be/pkg/billing/lock"
	"subscription-billing-be/pkg/billing/period"
	"subscription-billing-be/pkg/metrics"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	WebhookStatusPaid      = "paid"
	WebhookStatusFailed    = "failed"
	WebhookStatusCancelled = "cancelled"
)

var (
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrAmountMismatch   = errors.New("webhook amount does not match the payment")
)

type IWebhookService interface {
	HandleNotification(ctx context.Context, body []byte, signature string) (*dto.WebhookResponse, error)
}

type webhookService struct {
	uowFactory unitofwork.RepositoryFactory
	locker     lock.Locker
	publisher  events.Publisher
	metrics    metrics.BillingMetrics
	logger     logger.ILogger
	provider   string
	secret     string
	now        func() time.Time
}

func NewWebhookService(
	uowFactory unitofwork.RepositoryFactory,
	locker lock.Locker,
	publisher events.Publisher,
	m metrics.BillingMetrics,
	log logger.ILogger,
	provider, secret string,
) IWebhookService {
	return &webhookService{
		uowFactory: uowFactory,
		locker:     locker,
		publisher:  publisher,
		metrics:    m,
		logger:     log,
		provider:   provider,
		secret:     secret,
		now:        time.Now,
	}
}

// Sign returns the hex HMAC-SHA256 of body under secret.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature compares in constant time. An unset secret rejects everything.
func VerifySignature(body []byte, signature, secret string) bool {
	sig := strings.ToLower(strings.TrimSpace(signature))
	if sig == "" || secret == "" {
		return false
	}
	decoded, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), decoded)
}

func parseWebhook(body []byte) (*dto.WebhookRequest, error) {
	var req dto.WebhookRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, billing.E(billing.KindValidation, "webhook", "malformed webhook payload", err)
	}
	req.PaymentReference = strings.TrimSpace(req.PaymentReference)
	req.Status = strings.ToLower(strings.TrimSpace(req.Status))
	if req.PaymentReference == "" {
		return nil, billing.E(billing.KindValidation, "webhook", "payment_reference is required", nil)
	}
	switch req.Status {
	case WebhookStatusPaid, WebhookStatusFailed, WebhookStatusCancelled:
	default:
		return nil, billing.E(billing.KindValidation, "webhook", "unsupported payment status "+req.Status, nil)
	}
	return &req, nil
}

// applied is what a processed notification leaves to do after commit.
type applied struct {
	res   *dto.WebhookResponse
	entry *entity.LedgerEntry
	event string
	sub   *entity.Subscription
	extra map[string]interface{}
}

// HandleNotification applies one gateway notification. The synchronous
// charge response stays authoritative: a paid notification for a known
// payment only reconciles flags, and dates advance only for charges the
// gateway executed on its own schedule.
func (s *webhookService) HandleNotification(ctx context.Context, body []byte, signature string) (*dto.WebhookResponse, error) {
	if !VerifySignature(body, signature, s.secret) {
		s.metrics.IncWebhook("unknown", "invalid_signature")
		s.logger.Warn("WEBHOOK", "Rejected webhook with invalid signature", map[string]interface{}{"size": len(body)})
		return nil, ErrInvalidSignature
	}

	req, err := parseWebhook(body)
	if err != nil {
		s.metrics.IncWebhook("unknown", "malformed")
		return nil, err
	}
	fields := map[string]interface{}{
		"payment_reference": req.PaymentReference,
		"status":            req.Status,
		"amount":            req.Amount.String(),
	}

	payment, err := s.uowFactory.NewUnitOfWork(ctx).PaymentRepository().FindByGatewayTxID(ctx, req.PaymentReference)
	if err != nil {
		return nil, err
	}
	var userId, planId uuid.UUID
	switch {
	case payment != nil:
		userId, planId = payment.UserId, payment.PlanId
	case req.CustomData != nil && req.Status == WebhookStatusPaid:
		userId, planId = req.CustomData.UserId, req.CustomData.PlanId
	default:
		s.metrics.IncWebhook(req.Status, "not_found")
		s.logger.Warn("WEBHOOK", "Webhook for unknown payment", fields)
		return nil, billing.E(billing.KindNotFound, "webhook", "payment not found", nil)
	}

	unlock, err := s.locker.Acquire(ctx, lock.SubscriptionKey(userId, planId))
	if err != nil {
		return nil, err
	}
	defer unlock()

	now := s.now()
	event := &entity.WebhookEvent{
		Id:        uuid.New(),
		Provider:  s.provider,
		EventKey:  req.PaymentReference + ":" + req.Status,
		Payload:   body,
		CreatedAt: now,
	}

	uow := s.uowFactory.NewUnitOfWork(ctx)
	if err := uow.Begin(ctx); err != nil {
		return nil, err
	}
	defer uow.Rollback()

	created, err := uow.WebhookRepository().CreateIfNotExists(ctx, event)
	if err != nil {
		return nil, err
	}
	if !created {
		uow.Rollback()
		s.metrics.IncWebhook(req.Status, "duplicate")
		s.logger.Info("WEBHOOK", "Duplicate webhook ignored", fields)
		return &dto.WebhookResponse{Message: "already processed", Duplicate: true}, nil
	}

	out, err := s.apply(ctx, uow, req, payment, userId, planId, now)
	if err != nil {
		uow.Rollback()
		fields["error"] = err.Error()
		if billing.KindOf(err) == billing.KindValidation || billing.KindOf(err) == billing.KindNotFound {
			s.reject(ctx, event, err)
			s.metrics.IncWebhook(req.Status, "rejected")
			s.logger.Warn("WEBHOOK", "Webhook rejected", fields)
			return nil, err
		}
		s.metrics.IncWebhook(req.Status, "error")
		s.logger.Error("WEBHOOK", "Webhook processing failed", fields)
		return nil, err
	}

	if err := uow.WebhookRepository().MarkProcessed(ctx, event.Id, ""); err != nil {
		return nil, err
	}
	if err := uow.Commit(); err != nil {
		return nil, err
	}

	if out.entry != nil {
		s.publisher.PublishLedger(ctx, out.entry)
	}
	if out.event != "" && out.sub != nil {
		s.publisher.Publish(ctx, events.SubscriptionEvent(out.event, out.sub, out.extra))
	}
	s.metrics.IncWebhook(req.Status, "processed")
	s.logger.Info("WEBHOOK", out.res.Message, fields)
	return out.res, nil
}

// reject records a rejected notification so replays are answered without
// being re-applied.
func (s *webhookService) reject(ctx context.Context, event *entity.WebhookEvent, cause error) {
	repo := s.uowFactory.NewUnitOfWork(ctx).WebhookRepository()
	created, err := repo.CreateIfNotExists(ctx, event)
	if err == nil && created {
		err = repo.MarkProcessed(ctx, event.Id, cause.Error())
	}
	if err != nil {
		s.logger.Error("WEBHOOK", "Failed to record rejected webhook", map[string]interface{}{
			"event_key": event.EventKey,
			"error":     err.Error(),
		})
	}
}

func mismatch(expected, got decimal.Decimal) error {
	return billing.E(billing.KindValidation, "webhook", "amount mismatch: expected "+expected.String()+", got "+got.String(), ErrAmountMismatch)
}

func (s *webhookService) apply(ctx context.Context, uow unitofwork.UnitOfWork, req *dto.WebhookRequest, payment *entity.Payment, userId, planId uuid.UUID, now time.Time) (*applied, error) {
	sub, err := uow.SubscriptionRepository().FindSubscriptionForUpdate(ctx, userId, planId)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, billing.E(billing.KindNotFound, "webhook", "subscription not found", billing.ErrSubscriptionNotFound)
	}

	switch {
	case req.Status == WebhookStatusPaid && payment != nil:
		return s.reconcilePaid(ctx, uow, req, payment, sub)
	case req.Status == WebhookStatusPaid:
		return s.recordScheduledCharge(ctx, uow, req, sub, now)
	default:
		return s.markFailed(ctx, uow, req, payment, sub)
	}
}

func (s *webhookService) reconcilePaid(ctx context.Context, uow unitofwork.UnitOfWork, req *dto.WebhookRequest, payment *entity.Payment, sub *entity.Subscription) (*applied, error) {
	if !req.Amount.Equal(payment.Amount) {
		return nil, mismatch(payment.Amount, req.Amount)
	}
	if payment.Status == entity.PaymentStatusFailed || payment.Status == entity.PaymentStatusCancelled {
		if err := ledger.SetPaymentStatus(ctx, uow, payment, entity.PaymentStatusPaid); err != nil {
			return nil, err
		}
	}
	pending, err := ledger.RefundPending(ctx, uow, sub.UserId)
	if err != nil {
		return nil, err
	}
	// A pending refund switched renewals off; only reconciliation turns them back on.
	if sub.Status == entity.SubscriptionStatusActive && !sub.AutoRenew && !pending {
		sub.AutoRenew = true
		if err := uow.SubscriptionRepository().UpdateSubscription(ctx, sub); err != nil {
			return nil, err
		}
	}
	return &applied{res: &dto.WebhookResponse{Message: "payment reconciled"}}, nil
}

func (s *webhookService) recordScheduledCharge(ctx context.Context, uow unitofwork.UnitOfWork, req *dto.WebhookRequest, sub *entity.Subscription, now time.Time) (*applied, error) {
	plan, err := uow.SubscriptionRepository().FindPlanByID(ctx, sub.PlanId)
	if err != nil {
		return nil, err
	}
	if plan == nil {
		return nil, billing.ErrPlanNotFound
	}
	if !req.Amount.Equal(plan.Price) {
		return nil, mismatch(plan.Price, req.Amount)
	}

	_, entry, err := ledger.RecordCharge(ctx, uow, ledger.Charge{
		UserId:         sub.UserId,
		SubscriptionId: sub.Id,
		PlanId:         plan.Id,
		GatewayTxId:    req.PaymentReference,
		Amount:         req.Amount,
		PaidAt:         now,
	})
	if err != nil {
		return nil, err
	}

	res := &dto.WebhookResponse{Message: "payment recorded"}
	if sub.Status != entity.SubscriptionStatusActive {
		// Money moved for a subscription that is no longer billing; the
		// charge is on the ledger for a manual refund.
		s.logger.Warn("WEBHOOK", "Scheduled charge for inactive subscription", map[string]interface{}{
			"subscription_id": sub.Id.String(),
			"status":          string(sub.Status),
			"tx_id":           req.PaymentReference,
		})
		return &applied{res: res, entry: entry}, nil
	}

	base := now
	if sub.NextBillDate != nil {
		base = *sub.NextBillDate
	}
	next := period.Next(base, plan.Period)
	remaining := time.Duration(period.WholeDays(next.Sub(now))) * period.Day
	sub.EndDate = &next
	sub.NextBillDate = &next
	sub.RemainingBillDate = &remaining
	pending, err := ledger.RefundPending(ctx, uow, sub.UserId)
	if err != nil {
		return nil, err
	}
	sub.AutoRenew = !pending
	if err := uow.SubscriptionRepository().UpdateSubscription(ctx, sub); err != nil {
		return nil, err
	}
	if err := ledger.MirrorStatus(ctx, uow, sub); err != nil {
		return nil, err
	}
	if err := ledger.AppendHistory(ctx, uow, sub, plan, entity.HistoryStatusRenewal, now, map[string]interface{}{
		"tx_id":  req.PaymentReference,
		"source": "webhook",
	}); err != nil {
		return nil, err
	}

	nextStr := next.Format(time.RFC3339)
	res.NextBillDate = &nextStr
	return &applied{
		res:   res,
		entry: entry,
		event: events.TypeSubscriptionRenewed,
		sub:   sub,
		extra: map[string]interface{}{"plan_name": plan.Name, "amount": plan.Price.String(), "source": "webhook"},
	}, nil
}

func (s *webhookService) markFailed(ctx context.Context, uow unitofwork.UnitOfWork, req *dto.WebhookRequest, payment *entity.Payment, sub *entity.Subscription) (*applied, error) {
	if !req.Amount.IsZero() && !req.Amount.Equal(payment.Amount) {
		return nil, mismatch(payment.Amount, req.Amount)
	}

	status := entity.PaymentStatusFailed
	if req.Status == WebhookStatusCancelled {
		status = entity.PaymentStatusCancelled
	}
	// Refunded payments keep the status folded from their ledger entries.
	if payment.Refunded().IsZero() {
		if err := ledger.SetPaymentStatus(ctx, uow, payment, status); err != nil {
			return nil, err
		}
	}

	if sub.AutoRenew {
		sub.AutoRenew = false
		if err := uow.SubscriptionRepository().UpdateSubscription(ctx, sub); err != nil {
			return nil, err
		}
	}
	return &applied{
		res:   &dto.WebhookResponse{Message: "payment " + req.Status + ", auto-renew disabled"},
		event: events.TypePaymentFailed,
		sub:   sub,
		extra: map[string]interface{}{"tx_id": payment.GatewayTxId, "payment_status": string(status)},
	}, nil
}
