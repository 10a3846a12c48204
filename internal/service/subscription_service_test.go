package service

import (
	"context"
	"testing"

	"subscription-billing-be/internal/dto"
	"subscription-billing-be/internal/entity"
	"subscription-billing-be/pkg/billing"
	"subscription-billing-be/pkg/billing/billingtest"
	"subscription-billing-be/pkg/billing/instrument"
	"subscription-billing-be/pkg/billing/lifecycle"
	"subscription-billing-be/pkg/billing/refund"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSubscriptionService(f *billingtest.Fixture) ISubscriptionService {
	instruments := instrument.NewManager(f.Factory, f.Gateway, f.Locker, f.Events, f.Logger).WithClock(f.Clock.Now)
	machine := lifecycle.NewMachine(f.Factory, f.Gateway, instruments, f.Locker, f.Events, f.Metrics, f.Logger, f.Currency).WithClock(f.Clock.Now)
	refunds := refund.NewOrchestrator(f.Factory, f.Gateway, refund.NewCalculator(f.Gateway, 0), instruments, f.Locker, f.Events, f.Metrics, f.Logger, f.Currency).WithClock(f.Clock.Now)
	return NewSubscriptionService(f.Factory, machine, refunds)
}

func TestSubscriptionServiceLifecycle(t *testing.T) {
	f := billingtest.New(t)
	ctx := context.Background()
	user := f.User("svc@example.com")
	plan := f.Plan("Pro", 30000, entity.BillingPeriodMonthly)
	f.Instrument(user)
	svc := newSubscriptionService(f)

	plans, err := svc.GetPlans(ctx)
	require.NoError(t, err)
	require.Len(t, plans, 1)
	assert.Equal(t, "Pro", plans[0].Name)

	activated, warnings, err := svc.Activate(ctx, user.Id, &dto.ActivateSubscriptionRequest{PlanId: plan.Id})
	require.NoError(t, err)
	assert.Empty(t, warnings)
	assert.Equal(t, "active", activated.Subscription.Status)
	assert.Equal(t, "Pro", activated.Subscription.PlanName)
	require.NotNil(t, activated.Payment)
	assert.True(t, decimal.NewFromInt(30000).Equal(activated.Payment.Amount))

	f.Clock.Advance(10 * day)
	quote, err := svc.RefundQuote(ctx, user.Id, plan.Id)
	require.NoError(t, err)
	assert.Equal(t, string(refund.OutcomeRefundable), quote.Outcome)
	assert.True(t, quote.Amount.IsPositive())

	paused, _, err := svc.Pause(ctx, user.Id, plan.Id)
	require.NoError(t, err)
	assert.Equal(t, "paused", paused.Subscription.Status)
	require.NotNil(t, paused.Subscription.RemainingDays)

	resumed, _, err := svc.Resume(ctx, user.Id, plan.Id)
	require.NoError(t, err)
	assert.Equal(t, "active", resumed.Subscription.Status)

	cancelled, _, err := svc.Cancel(ctx, user.Id, plan.Id, &dto.CancelSubscriptionRequest{Reason: "budget_cut"})
	require.NoError(t, err)
	assert.Equal(t, string(refund.StatusCompleted), cancelled.Status)
	assert.True(t, cancelled.RefundedAmount.IsPositive())

	list, err := svc.List(ctx, user.Id)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "cancelled", list[0].Status)
	require.NotNil(t, list[0].CancelledReason)
	assert.Equal(t, "budget_cut", *list[0].CancelledReason)

	history, err := svc.History(ctx, user.Id, &dto.HistoryQuery{})
	require.NoError(t, err)
	assert.EqualValues(t, 5, history.Total)
	var statuses []string
	for _, h := range history.Items {
		statuses = append(statuses, h.Status)
	}
	assert.ElementsMatch(t, []string{"renewal", "pause", "restart", "refund_pending", "cancel"}, statuses)

	pauses, err := svc.History(ctx, user.Id, &dto.HistoryQuery{Status: "pause"})
	require.NoError(t, err)
	assert.EqualValues(t, 1, pauses.Total)
}

func TestSubscriptionServiceErrors(t *testing.T) {
	f := billingtest.New(t)
	ctx := context.Background()
	user := f.User("svc@example.com")
	plan := f.Plan("Pro", 30000, entity.BillingPeriodMonthly)
	svc := newSubscriptionService(f)

	_, _, err := svc.Activate(ctx, user.Id, &dto.ActivateSubscriptionRequest{PlanId: plan.Id})
	assert.ErrorIs(t, err, billing.ErrInstrumentMissing)

	_, _, err = svc.Pause(ctx, user.Id, plan.Id)
	assert.Equal(t, billing.KindNotFound, billing.KindOf(err))

	_, err = svc.History(ctx, user.Id, &dto.HistoryQuery{PlanId: "not-a-uuid"})
	assert.Equal(t, billing.KindValidation, billing.KindOf(err))
}
