package service

import (
	"context"

	"subscription-billing-be/internal/dto"
	"subscription-billing-be/internal/entity"
	"subscription-billing-be/internal/repository/contract"
	"subscription-billing-be/internal/repository/unitofwork"
	"subscription-billing-be/pkg/admin/mapper"
	"subscription-billing-be/pkg/billing"
	"subscription-billing-be/pkg/billing/lifecycle"
	"subscription-billing-be/pkg/billing/refund"

	"github.com/google/uuid"
)

type ISubscriptionService interface {
	GetPlans(ctx context.Context) ([]*dto.PlanResponse, error)
	Activate(ctx context.Context, userId uuid.UUID, req *dto.ActivateSubscriptionRequest) (*dto.TransitionResponse, []string, error)
	Pause(ctx context.Context, userId, planId uuid.UUID) (*dto.TransitionResponse, []string, error)
	Resume(ctx context.Context, userId, planId uuid.UUID) (*dto.TransitionResponse, []string, error)
	Cancel(ctx context.Context, userId, planId uuid.UUID, req *dto.CancelSubscriptionRequest) (*dto.CancelSubscriptionResponse, []string, error)
	RefundQuote(ctx context.Context, userId, planId uuid.UUID) (*dto.RefundQuoteResponse, error)
	List(ctx context.Context, userId uuid.UUID) ([]*dto.SubscriptionResponse, error)
	History(ctx context.Context, userId uuid.UUID, q *dto.HistoryQuery) (*dto.Page[*dto.HistoryResponse], error)
}

type subscriptionService struct {
	uowFactory unitofwork.RepositoryFactory
	machine    *lifecycle.Machine
	refunds    *refund.Orchestrator
}

func NewSubscriptionService(uowFactory unitofwork.RepositoryFactory, machine *lifecycle.Machine, refunds *refund.Orchestrator) ISubscriptionService {
	return &subscriptionService{
		uowFactory: uowFactory,
		machine:    machine,
		refunds:    refunds,
	}
}

func (s *subscriptionService) GetPlans(ctx context.Context) ([]*dto.PlanResponse, error) {
	plans, err := s.uowFactory.NewUnitOfWork(ctx).SubscriptionRepository().FindAllPlans(ctx, true)
	if err != nil {
		return nil, err
	}
	return mapper.PlansToResponse(plans), nil
}

func (s *subscriptionService) plan(ctx context.Context, planId uuid.UUID) *entity.Plan {
	plan, _ := s.uowFactory.NewUnitOfWork(ctx).SubscriptionRepository().FindPlanByID(ctx, planId)
	return plan
}

func (s *subscriptionService) transitionResponse(ctx context.Context, res *lifecycle.Result) *dto.TransitionResponse {
	return &dto.TransitionResponse{
		Subscription: mapper.SubscriptionToResponse(res.Subscription, s.plan(ctx, res.Subscription.PlanId)),
		Payment:      mapper.PaymentToResponse(res.Payment),
	}
}

func (s *subscriptionService) Activate(ctx context.Context, userId uuid.UUID, req *dto.ActivateSubscriptionRequest) (*dto.TransitionResponse, []string, error) {
	res, err := s.machine.Activate(ctx, lifecycle.ActivateCommand{UserID: userId, PlanID: req.PlanId})
	if err != nil {
		return nil, nil, err
	}
	return s.transitionResponse(ctx, res), res.Warnings, nil
}

func (s *subscriptionService) Pause(ctx context.Context, userId, planId uuid.UUID) (*dto.TransitionResponse, []string, error) {
	res, err := s.machine.Pause(ctx, userId, planId)
	if err != nil {
		return nil, nil, err
	}
	return s.transitionResponse(ctx, res), res.Warnings, nil
}

func (s *subscriptionService) Resume(ctx context.Context, userId, planId uuid.UUID) (*dto.TransitionResponse, []string, error) {
	res, err := s.machine.Resume(ctx, userId, planId)
	if err != nil {
		return nil, nil, err
	}
	return s.transitionResponse(ctx, res), res.Warnings, nil
}

func (s *subscriptionService) Cancel(ctx context.Context, userId, planId uuid.UUID, req *dto.CancelSubscriptionRequest) (*dto.CancelSubscriptionResponse, []string, error) {
	res, err := s.refunds.CancelWithRefund(ctx, refund.CancelCommand{
		UserID:      userId,
		PlanID:      planId,
		Reason:      entity.CancelReason(req.Reason),
		OtherReason: req.OtherReason,
	})
	if err != nil {
		return nil, nil, err
	}
	return &dto.CancelSubscriptionResponse{
		Status:         string(res.Status),
		RefundedAmount: res.RefundedAmount,
		Calculation:    mapper.QuoteToResponse(res.Calculation),
	}, res.Warnings, nil
}

func (s *subscriptionService) RefundQuote(ctx context.Context, userId, planId uuid.UUID) (*dto.RefundQuoteResponse, error) {
	res, err := s.refunds.Quote(ctx, userId, planId)
	if err != nil {
		return nil, err
	}
	quote := mapper.QuoteToResponse(res)
	return &quote, nil
}

func (s *subscriptionService) List(ctx context.Context, userId uuid.UUID) ([]*dto.SubscriptionResponse, error) {
	uow := s.uowFactory.NewUnitOfWork(ctx)
	subs, err := uow.SubscriptionRepository().FindSubscriptionsByUser(ctx, userId)
	if err != nil {
		return nil, err
	}

	plans := make(map[uuid.UUID]*entity.Plan)
	res := make([]*dto.SubscriptionResponse, 0, len(subs))
	for _, sub := range subs {
		plan, ok := plans[sub.PlanId]
		if !ok {
			plan, err = uow.SubscriptionRepository().FindPlanByID(ctx, sub.PlanId)
			if err != nil {
				return nil, err
			}
			plans[sub.PlanId] = plan
		}
		res = append(res, mapper.SubscriptionToResponse(sub, plan))
	}
	return res, nil
}

func (s *subscriptionService) History(ctx context.Context, userId uuid.UUID, q *dto.HistoryQuery) (*dto.Page[*dto.HistoryResponse], error) {
	filter, err := historyFilter(q)
	if err != nil {
		return nil, err
	}
	filter.UserId = &userId

	page, limit, offset := paging(q.Page, q.Limit)
	filter.Limit, filter.Offset = limit, offset
	rows, total, err := s.uowFactory.NewUnitOfWork(ctx).HistoryRepository().FindAll(ctx, filter)
	if err != nil {
		return nil, err
	}
	return &dto.Page[*dto.HistoryResponse]{Items: mapper.HistoriesToResponse(rows), Total: total, Page: page, Limit: limit}, nil
}

func paging(page, limit int) (int, int, int) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 20
	}
	return page, limit, (page - 1) * limit
}

func historyFilter(q *dto.HistoryQuery) (contract.HistoryFilter, error) {
	var filter contract.HistoryFilter
	if q.PlanId != "" {
		planId, err := uuid.Parse(q.PlanId)
		if err != nil {
			return filter, billing.E(billing.KindValidation, "history", "invalid plan_id", err)
		}
		filter.PlanId = &planId
	}
	if q.Status != "" {
		status := entity.HistoryStatus(q.Status)
		filter.Status = &status
	}
	return filter, nil
}
