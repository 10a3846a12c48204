package dashboard

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"subscription-billing-be/internal/entity"
	"subscription-billing-be/internal/pkg/logger"
	"subscription-billing-be/pkg/billing/billingtest"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func month(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 12, 0, 0, 0, time.UTC)
}

func TestSalesFillsEmptyMonths(t *testing.T) {
	f := billingtest.New(t)
	uow := f.UoW()
	ctx := context.Background()
	payment := uuid.New()

	entries := []entity.LedgerEntry{
		{Kind: entity.LedgerEntryCharge, Amount: decimal.NewFromInt(30000), CreatedAt: month(2026, time.January, 5)},
		{Kind: entity.LedgerEntryCharge, Amount: decimal.NewFromInt(15000), CreatedAt: month(2026, time.January, 20)},
		{Kind: entity.LedgerEntryRefund, Amount: decimal.NewFromInt(10000), CreatedAt: month(2026, time.March, 2)},
		{Kind: entity.LedgerEntryCharge, Amount: decimal.NewFromInt(99999), CreatedAt: month(2026, time.May, 1)},
	}
	for i := range entries {
		entries[i].PaymentId = payment
		require.NoError(t, uow.PaymentRepository().AppendEntry(ctx, &entries[i]))
	}

	// Reversed bounds are accepted.
	res, err := NewAggregator(logger.NewNopLogger()).Sales(ctx, uow, month(2026, time.March, 31), month(2026, time.January, 1))
	require.NoError(t, err)
	require.Len(t, res.Months, 3)

	tests := []struct {
		month   string
		paid    int64
		refund  int64
		net     int64
		charges int
	}{
		{"2026-01", 45000, 0, 45000, 2},
		{"2026-02", 0, 0, 0, 0},
		{"2026-03", 0, 10000, -10000, 0},
	}
	for i, tt := range tests {
		t.Run(tt.month, func(t *testing.T) {
			row := res.Months[i]
			assert.Equal(t, tt.month, row.Month)
			assert.True(t, decimal.NewFromInt(tt.paid).Equal(row.PaidTotal), row.PaidTotal.String())
			assert.True(t, decimal.NewFromInt(tt.refund).Equal(row.RefundTotal), row.RefundTotal.String())
			assert.True(t, decimal.NewFromInt(tt.net).Equal(row.NetTotal), row.NetTotal.String())
			assert.Equal(t, tt.charges, row.PaymentCount)
		})
	}
	assert.True(t, decimal.NewFromInt(35000).Equal(res.NetTotal), res.NetTotal.String())
}

func TestGetStats(t *testing.T) {
	f := billingtest.New(t)
	uow := f.UoW()
	ctx := context.Background()
	now := billingtest.T0.Add(2 * time.Hour)
	day := 24 * time.Hour
	plan := f.Plan("Pro", 30000, entity.BillingPeriodMonthly)

	subscriber := func(email string, status entity.SubscriberStatus, start time.Time) *entity.User {
		u := f.User(email)
		require.NoError(t, uow.UserRepository().UpdateSubStatus(ctx, u.Id, status))
		require.NoError(t, uow.SubscriptionRepository().CreateSubscription(ctx, &entity.Subscription{
			UserId: u.Id, PlanId: plan.Id, Status: entity.SubscriptionStatusActive, StartDate: start,
		}))
		return u
	}
	fresh := subscriber("fresh@example.com", entity.SubscriberStatusActive, billingtest.T0)
	old := subscriber("old@example.com", entity.SubscriberStatusActive, billingtest.T0.Add(-40*day))
	waiting := subscriber("waiting@example.com", entity.SubscriberStatusRefundPending, billingtest.T0.Add(-10*day))

	histories := []struct {
		user   *entity.User
		status entity.HistoryStatus
		at     time.Time
	}{
		{fresh, entity.HistoryStatusPause, billingtest.T0},
		{fresh, entity.HistoryStatusPause, billingtest.T0.Add(time.Hour)},
		{old, entity.HistoryStatusPause, billingtest.T0.Add(-day)},
		{old, entity.HistoryStatusCancel, billingtest.T0.Add(-5 * day)},
		{fresh, entity.HistoryStatusCancel, billingtest.T0.Add(30 * time.Minute)},
		{waiting, entity.HistoryStatusRefundPending, billingtest.T0.Add(time.Hour)},
		{old, entity.HistoryStatusRefundPending, billingtest.T0.Add(-6 * day)},
	}
	for _, h := range histories {
		require.NoError(t, uow.HistoryRepository().Append(ctx, &entity.SubscriptionHistory{
			SubscriptionId: uuid.New(), UserId: h.user.Id, PlanId: plan.Id, Status: h.status, ChangeDate: h.at,
		}))
	}

	payment := uuid.New()
	for _, e := range []entity.LedgerEntry{
		{Kind: entity.LedgerEntryCharge, Amount: decimal.NewFromInt(30000), CreatedAt: billingtest.T0},
		{Kind: entity.LedgerEntryCharge, Amount: decimal.NewFromInt(30000), CreatedAt: billingtest.T0.Add(time.Hour)},
		{Kind: entity.LedgerEntryRefund, Amount: decimal.NewFromInt(10000), CreatedAt: billingtest.T0.Add(time.Hour)},
		{Kind: entity.LedgerEntryCharge, Amount: decimal.NewFromInt(99999), CreatedAt: billingtest.T0.Add(-3 * day)},
	} {
		e := e
		e.PaymentId = payment
		require.NoError(t, uow.PaymentRepository().AppendEntry(ctx, &e))
	}

	stats, err := NewAggregator(logger.NewNopLogger()).GetStats(ctx, uow, now)
	require.NoError(t, err)
	assert.EqualValues(t, 2, stats.ActiveSubscribers)
	assert.EqualValues(t, 1, stats.PausedToday, "one subscriber paused twice today")
	assert.EqualValues(t, 1, stats.NewSubscriptionsToday)
	assert.EqualValues(t, 2, stats.CancellationsTotal)
	assert.EqualValues(t, 1, stats.CancellationsToday)
	assert.EqualValues(t, 2, stats.RefundPendingTotal)
	assert.EqualValues(t, 1, stats.RefundPendingToday)
	assert.True(t, decimal.NewFromInt(60000).Equal(stats.MonthlySales), stats.MonthlySales.String())
	assert.True(t, decimal.NewFromInt(10000).Equal(stats.MonthlyRefunds), stats.MonthlyRefunds.String())
	assert.True(t, decimal.NewFromInt(50000).Equal(stats.MonthlyNetSales), stats.MonthlyNetSales.String())
}

func TestCancelReasons(t *testing.T) {
	f := billingtest.New(t)
	uow := f.UoW()
	ctx := context.Background()
	plan := f.Plan("Pro", 30000, entity.BillingPeriodMonthly)

	reasons := []*entity.CancelReason{
		ptr(entity.CancelReasonExpensive),
		ptr(entity.CancelReasonExpensive),
		ptr(entity.CancelReasonBudgetCut),
		nil,
	}
	for i, r := range reasons {
		u := f.User(fmt.Sprintf("gone%d@example.com", i))
		require.NoError(t, uow.SubscriptionRepository().CreateSubscription(ctx, &entity.Subscription{
			UserId: u.Id, PlanId: plan.Id, Status: entity.SubscriptionStatusCancelled, StartDate: billingtest.T0, CancelledReason: r,
		}))
	}
	// Live subscriptions are not counted even when a reason lingers.
	live := f.User("live@example.com")
	require.NoError(t, uow.SubscriptionRepository().CreateSubscription(ctx, &entity.Subscription{
		UserId: live.Id, PlanId: plan.Id, Status: entity.SubscriptionStatusActive, StartDate: billingtest.T0, CancelledReason: ptr(entity.CancelReasonQuality),
	}))

	res, err := NewAggregator(logger.NewNopLogger()).CancelReasons(ctx, uow)
	require.NoError(t, err)
	got := make(map[string]int64, len(res))
	for _, c := range res {
		got[c.Reason] = c.Count
	}
	assert.Len(t, res, len(entity.CancelReasons)+1)
	assert.Equal(t, string(entity.CancelReasonExpensive), res[0].Reason)
	assert.EqualValues(t, 2, got[string(entity.CancelReasonExpensive)])
	assert.EqualValues(t, 1, got[string(entity.CancelReasonBudgetCut)])
	assert.EqualValues(t, 0, got[string(entity.CancelReasonQuality)])
	assert.EqualValues(t, 1, got["unknown"])
}

func ptr[T any](v T) *T { return &v }

func TestSystemLogs(t *testing.T) {
	l := logger.NewIsolatedLogger(filepath.Join(t.TempDir(), "app.log"))
	l.Info("RENEWAL", "Renewal sweep finished", nil)
	l.Error("REFUND", "Refund failed", map[string]interface{}{"error": "declined"})
	require.NoError(t, l.Sync())

	a := NewAggregator(l)
	logs, err := a.SystemLogs(l, "error", "", 1, 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "Refund failed", logs[0].Message)
	assert.Equal(t, "REFUND", logs[0].Module)
	assert.False(t, logs[0].CreatedAt.IsZero())

	logs, err = a.SystemLogs(l, "", "", 2, 1)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "Renewal sweep finished", logs[0].Message)
}
