package dashboard

import (
	"context"
	"time"

	"subscription-billing-be/internal/dto"
	"subscription-billing-be/internal/entity"
	"subscription-billing-be/internal/pkg/logger"
	"subscription-billing-be/internal/repository/contract"
	"subscription-billing-be/internal/repository/unitofwork"
	"subscription-billing-be/pkg/admin/mapper"

	"github.com/shopspring/decimal"
)

const (
	defaultLimit = 20
	monthLayout  = "2006-01"

	// zap's ISO8601 time encoding.
	logTimeLayout = "2006-01-02T15:04:05.000Z0700"
)

// Aggregator builds the back-office reports.
type Aggregator struct {
	logger logger.ILogger
}

func NewAggregator(logger logger.ILogger) *Aggregator {
	return &Aggregator{
		logger: logger,
	}
}

func pageOf(page, limit int) (int, int, int) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = defaultLimit
	}
	return page, limit, (page - 1) * limit
}

func monthStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

func dayStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// GetStats retrieves the dashboard counters as of now. "Today" and "this
// month" are UTC calendar boundaries.
func (a *Aggregator) GetStats(ctx context.Context, uow unitofwork.UnitOfWork, now time.Time) (*dto.AdminDashboardStats, error) {
	now = now.UTC()
	today, tomorrow := dayStart(now), dayStart(now).AddDate(0, 0, 1)
	todayOnly := func(status entity.HistoryStatus) contract.HistoryFilter {
		return contract.HistoryFilter{Status: &status, From: &today, To: &tomorrow}
	}
	allOf := func(status entity.HistoryStatus) contract.HistoryFilter {
		return contract.HistoryFilter{Status: &status}
	}

	stats := &dto.AdminDashboardStats{}
	var err error
	if stats.ActiveSubscribers, err = uow.UserRepository().CountBySubStatus(ctx, entity.SubscriberStatusActive); err != nil {
		return nil, err
	}
	if stats.PausedToday, err = uow.HistoryRepository().CountUsers(ctx, todayOnly(entity.HistoryStatusPause)); err != nil {
		return nil, err
	}
	if stats.NewSubscriptionsToday, err = uow.SubscriptionRepository().CountStartedBetween(ctx, today, tomorrow); err != nil {
		return nil, err
	}
	if stats.CancellationsTotal, err = uow.HistoryRepository().Count(ctx, allOf(entity.HistoryStatusCancel)); err != nil {
		return nil, err
	}
	if stats.CancellationsToday, err = uow.HistoryRepository().Count(ctx, todayOnly(entity.HistoryStatusCancel)); err != nil {
		return nil, err
	}
	if stats.RefundPendingTotal, err = uow.HistoryRepository().Count(ctx, allOf(entity.HistoryStatusRefundPending)); err != nil {
		return nil, err
	}
	if stats.RefundPendingToday, err = uow.HistoryRepository().Count(ctx, todayOnly(entity.HistoryStatusRefundPending)); err != nil {
		return nil, err
	}

	month := monthStart(now)
	sales, err := uow.PaymentRepository().MonthlySales(ctx, month, month.AddDate(0, 1, 0))
	if err != nil {
		return nil, err
	}
	stats.MonthlySales, stats.MonthlyRefunds = decimal.Zero, decimal.Zero
	for _, s := range sales {
		stats.MonthlySales = stats.MonthlySales.Add(s.PaidTotal)
		stats.MonthlyRefunds = stats.MonthlyRefunds.Add(s.RefundTotal)
	}
	stats.MonthlyNetSales = stats.MonthlySales.Sub(stats.MonthlyRefunds)
	return stats, nil
}

// CancelReasons counts cancelled subscriptions per reason. Every known reason
// is listed, zero or not; rows without a reason are reported as "unknown".
func (a *Aggregator) CancelReasons(ctx context.Context, uow unitofwork.UnitOfWork) ([]dto.CancelReasonCount, error) {
	counts, err := uow.SubscriptionRepository().CountCancelReasons(ctx)
	if err != nil {
		return nil, err
	}
	res := make([]dto.CancelReasonCount, 0, len(entity.CancelReasons)+1)
	for _, reason := range entity.CancelReasons {
		res = append(res, dto.CancelReasonCount{Reason: string(reason), Count: counts[reason]})
		delete(counts, reason)
	}
	var unknown int64
	for _, n := range counts {
		unknown += n
	}
	if unknown > 0 {
		res = append(res, dto.CancelReasonCount{Reason: "unknown", Count: unknown})
	}
	return res, nil
}

// Sales reports paid and refunded totals per month over [from, to], both
// inclusive months. Months without activity are reported as zero.
func (a *Aggregator) Sales(ctx context.Context, uow unitofwork.UnitOfWork, from, to time.Time) (*dto.SalesReportResponse, error) {
	from, to = monthStart(from), monthStart(to)
	if to.Before(from) {
		from, to = to, from
	}

	rows, err := uow.PaymentRepository().MonthlySales(ctx, from, to.AddDate(0, 1, 0))
	if err != nil {
		return nil, err
	}
	byMonth := make(map[string]*entity.SalesSummary, len(rows))
	for _, r := range rows {
		byMonth[r.Month.Format(monthLayout)] = r
	}

	res := &dto.SalesReportResponse{
		Months:      []dto.MonthlySalesResponse{},
		PaidTotal:   decimal.Zero,
		RefundTotal: decimal.Zero,
	}
	for m := from; !m.After(to); m = m.AddDate(0, 1, 0) {
		key := m.Format(monthLayout)
		row := dto.MonthlySalesResponse{Month: key, PaidTotal: decimal.Zero, RefundTotal: decimal.Zero}
		if s, ok := byMonth[key]; ok {
			row.PaidTotal = s.PaidTotal
			row.RefundTotal = s.RefundTotal
			row.PaymentCount = s.PaymentCount
			row.RefundCount = s.RefundCount
		}
		row.NetTotal = row.PaidTotal.Sub(row.RefundTotal)
		res.PaidTotal = res.PaidTotal.Add(row.PaidTotal)
		res.RefundTotal = res.RefundTotal.Add(row.RefundTotal)
		res.Months = append(res.Months, row)
	}
	res.NetTotal = res.PaidTotal.Sub(res.RefundTotal)
	return res, nil
}

// Subscriptions lists subscriptions joined with plan and subscriber, newest first.
func (a *Aggregator) Subscriptions(ctx context.Context, uow unitofwork.UnitOfWork, filter contract.SubscriptionFilter, page int) (*dto.Page[*dto.AdminSubscriptionResponse], error) {
	page, filter.Limit, filter.Offset = pageOf(page, filter.Limit)
	rows, total, err := uow.SubscriptionRepository().ListSubscriptionDetails(ctx, filter)
	if err != nil {
		return nil, err
	}
	items := make([]*dto.AdminSubscriptionResponse, 0, len(rows))
	for _, d := range rows {
		items = append(items, mapper.SubscriptionDetailToAdminResponse(d))
	}
	return &dto.Page[*dto.AdminSubscriptionResponse]{Items: items, Total: total, Page: page, Limit: filter.Limit}, nil
}

// Histories lists audit rows, newest first.
func (a *Aggregator) Histories(ctx context.Context, uow unitofwork.UnitOfWork, filter contract.HistoryFilter, page int) (*dto.Page[*dto.HistoryResponse], error) {
	page, filter.Limit, filter.Offset = pageOf(page, filter.Limit)
	rows, total, err := uow.HistoryRepository().FindAll(ctx, filter)
	if err != nil {
		return nil, err
	}
	return &dto.Page[*dto.HistoryResponse]{Items: mapper.HistoriesToResponse(rows), Total: total, Page: page, Limit: filter.Limit}, nil
}

// SystemLogs reads the structured application log.
func (a *Aggregator) SystemLogs(loggerSvc logger.ILogger, level, module string, page, limit int) ([]*dto.LogListResponse, error) {
	_, limit, offset := pageOf(page, limit)
	logs, err := loggerSvc.GetLogs(logger.LogFilter{Level: level, Module: module, Limit: limit, Offset: offset})
	if err != nil {
		return nil, err
	}

	res := make([]*dto.LogListResponse, 0, len(logs))
	for _, l := range logs {
		ts, err := time.Parse(logTimeLayout, l.Timestamp)
		if err != nil {
			ts, _ = time.Parse(time.RFC3339, l.Timestamp)
		}
		res = append(res, &dto.LogListResponse{
			Id:        l.Id,
			Level:     l.Level,
			Module:    l.Module,
			Message:   l.Message,
			CreatedAt: ts,
			Details:   l.Details,
		})
	}
	return res, nil
}
