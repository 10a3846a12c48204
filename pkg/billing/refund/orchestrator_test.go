package refund

import (
	"context"
	"errors"
	"testing"
	"time"

	"subscription-billing-be/internal/entity"
	"subscription-billing-be/pkg/billing"
	"subscription-billing-be/pkg/billing/billingtest"
	"subscription-billing-be/pkg/billing/events"
	"subscription-billing-be/pkg/billing/instrument"
	"subscription-billing-be/pkg/billing/ledger"
	"subscription-billing-be/pkg/gateway"
	"subscription-billing-be/pkg/gateway/sandbox"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scenario struct {
	f       *billingtest.Fixture
	user    *entity.User
	plan    *entity.Plan
	ins     *entity.PaymentInstrument
	sub     *entity.Subscription
	payment *entity.Payment
	orch    *Orchestrator
}

// newScenario seeds a subscriber paid for a 30 day window starting at T0,
// with the next charge scheduled at the end of the window.
func newScenario(t *testing.T, price int64) *scenario {
	f := billingtest.New(t)
	s := &scenario{f: f}
	s.user = f.User("subscriber@example.com")
	s.plan = f.Plan("Pro", price, entity.BillingPeriodMonthly)
	s.ins = f.Instrument(s.user)
	s.sub, s.payment = subscribe(t, f, s.user, s.plan, s.ins)

	manager := instrument.NewManager(f.Factory, f.Gateway, f.Locker, f.Events, f.Logger).WithClock(f.Clock.Now)
	s.orch = NewOrchestrator(f.Factory, f.Gateway, NewCalculator(f.Gateway, 0), manager, f.Locker, f.Events, f.Metrics, f.Logger, f.Currency).
		WithClock(f.Clock.Now)
	return s
}

func subscribe(t *testing.T, f *billingtest.Fixture, user *entity.User, plan *entity.Plan, ins *entity.PaymentInstrument) (*entity.Subscription, *entity.Payment) {
	t.Helper()
	ctx := context.Background()
	charge, err := f.Gateway.Charge(ctx, gateway.ChargeRequest{
		InstrumentToken: ins.Token,
		Amount:          plan.Price,
		IdempotencyID:   ledger.NewIdempotencyID(),
	})
	require.NoError(t, err)

	end := billingtest.T0.AddDate(0, 0, 30)
	sub := &entity.Subscription{
		UserId:       user.Id,
		PlanId:       plan.Id,
		InstrumentId: &ins.Id,
		Status:       entity.SubscriptionStatusActive,
		StartDate:    billingtest.T0,
		EndDate:      &end,
		NextBillDate: &end,
		AutoRenew:    true,
	}
	uow := f.UoW()
	require.NoError(t, uow.SubscriptionRepository().CreateSubscription(ctx, sub))
	payment, _, err := ledger.RecordCharge(ctx, uow, ledger.Charge{
		UserId:         user.Id,
		SubscriptionId: sub.Id,
		PlanId:         plan.Id,
		GatewayTxId:    charge.TransactionID,
		IdempotencyId:  ledger.NewIdempotencyID(),
		Amount:         plan.Price,
		PaidAt:         billingtest.T0,
	})
	require.NoError(t, err)
	require.NoError(t, ledger.MirrorStatus(ctx, uow, sub))

	_, err = f.Gateway.CreateSchedule(ctx, gateway.ScheduleRequest{
		InstrumentToken: ins.Token,
		Amount:          plan.Price,
		PlanID:          plan.Id,
		RunAt:           end,
	})
	require.NoError(t, err)
	return sub, payment
}

func (s *scenario) cancel(t *testing.T) (*CancelResult, error) {
	t.Helper()
	return s.orch.CancelWithRefund(context.Background(), CancelCommand{
		UserID: s.user.Id,
		PlanID: s.plan.Id,
		Reason: entity.CancelReasonExpensive,
	})
}

func (s *scenario) reloadPayment(t *testing.T) *entity.Payment {
	t.Helper()
	p, err := s.f.UoW().PaymentRepository().FindByID(context.Background(), s.payment.Id)
	require.NoError(t, err)
	return p
}

func TestCancelWithRefund(t *testing.T) {
	s := newScenario(t, 30000)
	s.f.Clock.Set(billingtest.T0.Add(20 * day))

	res, err := s.cancel(t)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Status)
	assert.Empty(t, res.Warnings)
	assert.True(t, res.RefundedAmount.Equal(decimal.NewFromInt(10000)))
	assert.Equal(t, 10, res.Calculation.RemainingDays)

	sub := s.f.Subscription(s.user.Id, s.plan.Id)
	assert.Equal(t, entity.SubscriptionStatusCancelled, sub.Status)
	assert.False(t, sub.AutoRenew)
	assert.Nil(t, sub.EndDate)
	assert.Nil(t, sub.NextBillDate)
	require.NotNil(t, sub.CancelledReason)
	assert.Equal(t, entity.CancelReasonExpensive, *sub.CancelledReason)
	assert.Equal(t, entity.SubscriberStatusCancelled, s.f.SubStatus(s.user.Id))

	p := s.reloadPayment(t)
	assert.Equal(t, entity.PaymentStatusPartiallyRefunded, p.Status)
	assert.True(t, p.Refunded().Equal(decimal.NewFromInt(10000)))

	entries, err := s.f.UoW().PaymentRepository().FindEntriesByPayment(context.Background(), p.Id)
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	// Instrument removed at the gateway and locally, schedules gone.
	_, err = s.f.Gateway.GetInstrumentInfo(context.Background(), s.ins.Token)
	assert.ErrorIs(t, err, gateway.ErrInstrumentNotFound)
	assert.Empty(t, s.f.Gateway.ActiveSchedules(s.ins.Token))
	ins, err := s.f.UoW().InstrumentRepository().FindByUser(context.Background(), s.user.Id)
	require.NoError(t, err)
	assert.Nil(t, ins)

	assert.Contains(t, s.f.Events.Types(), events.TypeSubscriptionCancelled)
	assert.Len(t, s.f.Events.Entries(), 1)
}

func TestCancelClampsToGatewayBalance(t *testing.T) {
	s := newScenario(t, 30000)
	s.f.Gateway.CancelOutside(s.payment.GatewayTxId, decimal.NewFromInt(22000))
	s.f.Clock.Set(billingtest.T0.Add(20 * day))

	res, err := s.cancel(t)
	require.NoError(t, err)
	assert.True(t, res.Calculation.Raw.Equal(decimal.NewFromInt(10000)))
	assert.True(t, res.RefundedAmount.Equal(decimal.NewFromInt(8000)))

	amount, err := s.f.Gateway.GetCancellableAmount(context.Background(), s.payment.GatewayTxId)
	assert.ErrorIs(t, err, gateway.ErrAlreadyCancelled)
	assert.True(t, amount.IsZero())
}

func TestCancelNothingToRefund(t *testing.T) {
	s := newScenario(t, 30000)
	s.f.Clock.Set(billingtest.T0.Add(31 * day))

	_, err := s.cancel(t)
	assert.ErrorIs(t, err, billing.ErrNothingToRefund)
	assert.Equal(t, billing.KindValidation, billing.KindOf(err))
	assert.Zero(t, s.f.Gateway.CallCount(sandbox.OpRefund))
	assert.Zero(t, s.f.Gateway.CallCount(sandbox.OpCancellable))
	assert.Equal(t, entity.SubscriptionStatusActive, s.f.Subscription(s.user.Id, s.plan.Id).Status)
}

func TestCancelRejections(t *testing.T) {
	t.Run("unknown reason", func(t *testing.T) {
		s := newScenario(t, 30000)
		_, err := s.orch.CancelWithRefund(context.Background(), CancelCommand{UserID: s.user.Id, PlanID: s.plan.Id, Reason: "bored"})
		assert.Equal(t, billing.KindValidation, billing.KindOf(err))
	})

	t.Run("already cancelled", func(t *testing.T) {
		s := newScenario(t, 30000)
		s.f.Clock.Set(billingtest.T0.Add(5 * day))
		_, err := s.cancel(t)
		require.NoError(t, err)

		_, err = s.cancel(t)
		assert.ErrorIs(t, err, billing.ErrInvalidTransition)
		assert.Equal(t, 1, s.f.Gateway.CallCount(sandbox.OpRefund))
	})

	t.Run("gateway refuses", func(t *testing.T) {
		s := newScenario(t, 30000)
		s.f.Clock.Set(billingtest.T0.Add(5 * day))
		s.f.Gateway.FailNext(sandbox.OpRefund, gateway.NewError("refund", gateway.ErrRefundFailed, "X", "card issuer refused"))

		_, err := s.cancel(t)
		assert.Equal(t, billing.KindGateway, billing.KindOf(err))
		assert.NotContains(t, billing.PublicMessage(err), "card issuer refused")
		assert.Equal(t, entity.SubscriptionStatusActive, s.f.Subscription(s.user.Id, s.plan.Id).Status)
		assert.Equal(t, entity.PaymentStatusPaid, s.reloadPayment(t).Status)
	})

	t.Run("no payment", func(t *testing.T) {
		f := billingtest.New(t)
		user := f.User("new@example.com")
		plan := f.Plan("Pro", 30000, entity.BillingPeriodMonthly)
		require.NoError(t, f.UoW().SubscriptionRepository().CreateSubscription(context.Background(), &entity.Subscription{
			UserId: user.Id, PlanId: plan.Id, Status: entity.SubscriptionStatusActive, StartDate: billingtest.T0,
		}))
		orch := NewOrchestrator(f.Factory, f.Gateway, NewCalculator(f.Gateway, 0), nil, f.Locker, f.Events, f.Metrics, f.Logger, f.Currency)

		_, err := orch.CancelWithRefund(context.Background(), CancelCommand{UserID: user.Id, PlanID: plan.Id, Reason: entity.CancelReasonOther})
		assert.ErrorIs(t, err, billing.ErrNoPaymentToRefund)
	})
}

func TestCancelTimeoutButRefundLanded(t *testing.T) {
	s := newScenario(t, 30000)
	s.f.Clock.Set(billingtest.T0.Add(20 * day))
	s.f.Gateway.RefundLandsThenFails(context.DeadlineExceeded)

	res, err := s.cancel(t)
	require.NoError(t, err)
	assert.True(t, res.RefundedAmount.Equal(decimal.NewFromInt(10000)))
	assert.Equal(t, entity.SubscriptionStatusCancelled, s.f.Subscription(s.user.Id, s.plan.Id).Status)
	assert.Equal(t, 1, s.f.Gateway.CallCount(sandbox.OpRefund))
}

func TestCancelUnknownOutcomeGoesPending(t *testing.T) {
	s := newScenario(t, 30000)
	s.f.Clock.Set(billingtest.T0.Add(20 * day))
	s.f.Gateway.FailNext(sandbox.OpRefund, gateway.ErrUnknownOutcome)

	_, err := s.cancel(t)
	require.Error(t, err)
	assert.True(t, errors.Is(err, billing.ErrRefundOutcomeUnknown))
	assert.Equal(t, billing.KindConsistency, billing.KindOf(err))

	sub := s.f.Subscription(s.user.Id, s.plan.Id)
	assert.Equal(t, entity.SubscriptionStatusActive, sub.Status)
	assert.False(t, sub.AutoRenew)
	assert.Equal(t, entity.SubscriberStatusRefundPending, s.f.SubStatus(s.user.Id))
	assert.Equal(t, entity.PaymentStatusPaid, s.reloadPayment(t).Status)
	assert.Contains(t, s.f.Events.Types(), events.TypeRefundPending)
}

func TestCancelRetryWhileRefundPendingDoesNotRefundTwice(t *testing.T) {
	s := newScenario(t, 30000)
	s.f.Clock.Set(billingtest.T0.Add(20 * day))
	// The refund lands but the caller times out, and the confirming re-query
	// fails too.
	s.f.Gateway.RefundLandsThenFails(context.DeadlineExceeded)
	s.f.Gateway.FailAfter(sandbox.OpCancellable, 2, errors.New("provider unavailable"))

	_, err := s.cancel(t)
	require.ErrorIs(t, err, billing.ErrRefundOutcomeUnknown)
	require.Equal(t, entity.SubscriberStatusRefundPending, s.f.SubStatus(s.user.Id))

	_, err = s.cancel(t)
	require.ErrorIs(t, err, billing.ErrRefundOutcomeUnknown)
	assert.Equal(t, billing.KindConsistency, billing.KindOf(err))
	assert.Equal(t, 1, s.f.Gateway.CallCount(sandbox.OpRefund))
	assert.Equal(t, entity.PaymentStatusPaid, s.reloadPayment(t).Status)

	res, err := NewReconciler(s.orch).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Finalized)
	assert.Equal(t, 1, s.f.Gateway.CallCount(sandbox.OpRefund))
	assert.True(t, s.reloadPayment(t).Refunded().Equal(decimal.NewFromInt(10000)))
	assert.Equal(t, entity.SubscriberStatusCancelled, s.f.SubStatus(s.user.Id))
}

func TestCancelTeardownFailureIsWarning(t *testing.T) {
	s := newScenario(t, 30000)
	s.f.Clock.Set(billingtest.T0.Add(20 * day))
	s.f.Gateway.FailAlways(sandbox.OpDeleteInstrument, errors.New("provider unavailable"))

	res, err := s.cancel(t)
	require.NoError(t, err)
	assert.Equal(t, StatusCompletedWithWarnings, res.Status)
	assert.NotEmpty(t, res.Warnings)
	assert.True(t, res.RefundedAmount.Equal(decimal.NewFromInt(10000)))
	assert.Equal(t, entity.SubscriptionStatusCancelled, s.f.Subscription(s.user.Id, s.plan.Id).Status)

	ins, err := s.f.UoW().InstrumentRepository().FindByUser(context.Background(), s.user.Id)
	require.NoError(t, err)
	require.NotNil(t, ins)
	assert.Equal(t, entity.InstrumentStatusPendingDeletion, ins.Status)
}

func TestCancelKeepsSharedInstrument(t *testing.T) {
	s := newScenario(t, 30000)
	team := s.f.Plan("Team", 90000, entity.BillingPeriodMonthly)
	subscribe(t, s.f, s.user, team, s.ins)
	s.f.Clock.Set(billingtest.T0.Add(20 * day))

	res, err := s.cancel(t)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Status)

	info, err := s.f.Gateway.GetInstrumentInfo(context.Background(), s.ins.Token)
	require.NoError(t, err)
	assert.Equal(t, s.ins.Token, info.Token)

	remaining := s.f.Gateway.ActiveSchedules(s.ins.Token)
	require.Len(t, remaining, 1)
	assert.Equal(t, team.Id, remaining[0].PlanID)
	assert.Equal(t, entity.SubscriptionStatusActive, s.f.Subscription(s.user.Id, team.Id).Status)
}

func TestQuote(t *testing.T) {
	s := newScenario(t, 30000)
	s.f.Clock.Set(billingtest.T0.Add(20*day + 3*time.Hour))

	r, err := s.orch.Quote(context.Background(), s.user.Id, s.plan.Id)
	require.NoError(t, err)
	assert.True(t, r.Amount.Equal(decimal.NewFromInt(10000)))
	assert.Zero(t, s.f.Gateway.CallCount(sandbox.OpRefund))
}
