package service

import (
	"context"
	"time"

	"subscription-billing-be/internal/dto"
	"subscription-billing-be/internal/entity"
	"subscription-billing-be/internal/pkg/logger"
	"subscription-billing-be/internal/repository/contract"
	"subscription-billing-be/internal/repository/unitofwork"
	"subscription-billing-be/pkg/admin/dashboard"
	"subscription-billing-be/pkg/billing"
	"subscription-billing-be/pkg/billing/refund"
	"subscription-billing-be/pkg/billing/renewal"

	"github.com/google/uuid"
)

type IAdminService interface {
	Stats(ctx context.Context) (*dto.AdminDashboardStats, error)
	CancelReasons(ctx context.Context) ([]dto.CancelReasonCount, error)
	Sales(ctx context.Context, q *dto.SalesQuery) (*dto.SalesReportResponse, error)
	Subscriptions(ctx context.Context, q *dto.AdminSubscriptionQuery) (*dto.Page[*dto.AdminSubscriptionResponse], error)
	Histories(ctx context.Context, q *dto.AdminHistoryQuery) (*dto.Page[*dto.HistoryResponse], error)
	RunRenewals(ctx context.Context) (*renewal.BatchResult, error)
	ReconcileRefunds(ctx context.Context) (*refund.ReconcileResult, error)
	Logs(q *dto.LogQuery) ([]*dto.LogListResponse, error)
}

type adminService struct {
	uowFactory unitofwork.RepositoryFactory
	logger     logger.ILogger
	dashboard  *dashboard.Aggregator
	renewals   *renewal.Orchestrator
	reconciler *refund.Reconciler
	now        func() time.Time
}

func NewAdminService(
	uowFactory unitofwork.RepositoryFactory,
	logger logger.ILogger,
	dashboard *dashboard.Aggregator,
	renewals *renewal.Orchestrator,
	reconciler *refund.Reconciler,
) IAdminService {
	return &adminService{
		uowFactory: uowFactory,
		logger:     logger,
		dashboard:  dashboard,
		renewals:   renewals,
		reconciler: reconciler,
		now:        time.Now,
	}
}

func parseOptional(layout, value, field string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	t, err := time.Parse(layout, value)
	if err != nil {
		return nil, billing.E(billing.KindValidation, "admin", "invalid "+field, err)
	}
	return &t, nil
}

func (s *adminService) Stats(ctx context.Context) (*dto.AdminDashboardStats, error) {
	return s.dashboard.GetStats(ctx, s.uowFactory.NewUnitOfWork(ctx), s.now())
}

func (s *adminService) CancelReasons(ctx context.Context) ([]dto.CancelReasonCount, error) {
	return s.dashboard.CancelReasons(ctx, s.uowFactory.NewUnitOfWork(ctx))
}

// Sales defaults to the twelve months ending with the current one.
func (s *adminService) Sales(ctx context.Context, q *dto.SalesQuery) (*dto.SalesReportResponse, error) {
	to := s.now().UTC()
	from := to.AddDate(0, -11, 0)
	if t, err := parseOptional("2006-01", q.From, "from"); err != nil {
		return nil, err
	} else if t != nil {
		from = *t
	}
	if t, err := parseOptional("2006-01", q.To, "to"); err != nil {
		return nil, err
	} else if t != nil {
		to = *t
	}
	return s.dashboard.Sales(ctx, s.uowFactory.NewUnitOfWork(ctx), from, to)
}

func (s *adminService) Subscriptions(ctx context.Context, q *dto.AdminSubscriptionQuery) (*dto.Page[*dto.AdminSubscriptionResponse], error) {
	filter := contract.SubscriptionFilter{Search: q.Search, Limit: q.Limit}
	if q.Status != "" {
		status := entity.SubscriptionStatus(q.Status)
		filter.Status = &status
	}
	if q.PlanId != "" {
		planId, err := uuid.Parse(q.PlanId)
		if err != nil {
			return nil, billing.E(billing.KindValidation, "admin", "invalid plan_id", err)
		}
		filter.PlanId = &planId
	}
	return s.dashboard.Subscriptions(ctx, s.uowFactory.NewUnitOfWork(ctx), filter, q.Page)
}

func (s *adminService) Histories(ctx context.Context, q *dto.AdminHistoryQuery) (*dto.Page[*dto.HistoryResponse], error) {
	filter, err := historyFilter(&q.HistoryQuery)
	if err != nil {
		return nil, err
	}
	if q.UserId != "" {
		userId, err := uuid.Parse(q.UserId)
		if err != nil {
			return nil, billing.E(billing.KindValidation, "admin", "invalid user_id", err)
		}
		filter.UserId = &userId
	}
	if filter.From, err = parseOptional("2006-01-02", q.From, "from"); err != nil {
		return nil, err
	}
	to, err := parseOptional("2006-01-02", q.To, "to")
	if err != nil {
		return nil, err
	}
	if to != nil {
		// Inclusive of the whole "to" day.
		end := to.AddDate(0, 0, 1)
		filter.To = &end
	}
	filter.Limit = q.Limit
	return s.dashboard.Histories(ctx, s.uowFactory.NewUnitOfWork(ctx), filter, q.Page)
}

func (s *adminService) RunRenewals(ctx context.Context) (*renewal.BatchResult, error) {
	s.logger.Info("ADMIN", "Manual renewal sweep requested", nil)
	return s.renewals.RunDue(ctx, s.now())
}

func (s *adminService) ReconcileRefunds(ctx context.Context) (*refund.ReconcileResult, error) {
	s.logger.Info("ADMIN", "Manual refund reconciliation requested", nil)
	return s.reconciler.Run(ctx)
}

func (s *adminService) Logs(q *dto.LogQuery) ([]*dto.LogListResponse, error) {
	return s.dashboard.SystemLogs(s.logger, q.Level, q.Module, q.Page, q.Limit)
}
