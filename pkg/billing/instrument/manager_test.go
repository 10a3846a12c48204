package instrument

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"subscription-billing-be/internal/entity"
	"subscription-billing-be/pkg/billing"
	"subscription-billing-be/pkg/billing/billingtest"
	"subscription-billing-be/pkg/billing/events"
	"subscription-billing-be/pkg/gateway"
	"subscription-billing-be/pkg/gateway/sandbox"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const day = 24 * time.Hour

func newManager(f *billingtest.Fixture) *Manager {
	return NewManager(f.Factory, f.Gateway, f.Locker, f.Events, f.Logger).WithClock(f.Clock.Now)
}

// subscribed gives user an active subscription on plan billed through ins,
// with one schedule per entry of runAt.
func subscribed(t *testing.T, f *billingtest.Fixture, user *entity.User, plan *entity.Plan, ins *entity.PaymentInstrument, runAt ...time.Time) *entity.Subscription {
	t.Helper()
	ctx := context.Background()
	end := billingtest.T0.Add(30 * day)
	sub := &entity.Subscription{
		UserId:       user.Id,
		PlanId:       plan.Id,
		Status:       entity.SubscriptionStatusActive,
		StartDate:    billingtest.T0,
		EndDate:      &end,
		NextBillDate: &end,
		AutoRenew:    true,
	}
	if ins != nil {
		sub.InstrumentId = &ins.Id
	}
	require.NoError(t, f.UoW().SubscriptionRepository().CreateSubscription(ctx, sub))
	for _, at := range runAt {
		_, err := f.Gateway.CreateSchedule(ctx, gateway.ScheduleRequest{
			InstrumentToken: ins.Token,
			Amount:          plan.Price,
			OrderLabel:      plan.Name,
			PlanID:          plan.Id,
			RunAt:           at,
		})
		require.NoError(t, err)
	}
	return sub
}

func TestRegister(t *testing.T) {
	f := billingtest.New(t)
	user := f.User("card@example.com")
	plan := f.Plan("Pro", 30000, entity.BillingPeriodMonthly)
	sub := subscribed(t, f, user, plan, nil)
	token := f.Token()

	ins, err := newManager(f).Register(context.Background(), user.Id, token)
	require.NoError(t, err)
	assert.Equal(t, token, ins.Token)
	assert.Equal(t, entity.InstrumentStatusActive, ins.Status)
	require.NotNil(t, ins.IssuerName)
	assert.Equal(t, "VISA", *ins.IssuerName)
	require.NotNil(t, ins.MaskedNumber)
	assert.Contains(t, *ins.MaskedNumber, "****")

	got := f.Subscription(user.Id, plan.Id)
	require.NotNil(t, got.InstrumentId)
	assert.Equal(t, ins.Id, *got.InstrumentId)
	assert.Equal(t, sub.Id, got.Id)
	assert.Equal(t, []string{events.TypeInstrumentRegistered}, f.Events.Types())
}

func TestRegisterRejections(t *testing.T) {
	t.Run("unknown token", func(t *testing.T) {
		f := billingtest.New(t)
		user := f.User("card@example.com")
		_, err := newManager(f).Register(context.Background(), user.Id, "bk_never_issued")
		assert.ErrorIs(t, err, gateway.ErrInstrumentNotFound)
		assert.Equal(t, billing.KindValidation, billing.KindOf(err))
	})

	t.Run("already registered", func(t *testing.T) {
		f := billingtest.New(t)
		user := f.User("card@example.com")
		f.Instrument(user)
		_, err := newManager(f).Register(context.Background(), user.Id, f.Token())
		assert.ErrorIs(t, err, billing.ErrInstrumentExists)
	})

	t.Run("pending deletion is replaced", func(t *testing.T) {
		f := billingtest.New(t)
		user := f.User("card@example.com")
		old := f.Instrument(user)
		old.Status = entity.InstrumentStatusPendingDeletion
		require.NoError(t, f.UoW().InstrumentRepository().Update(context.Background(), old))

		ins, err := newManager(f).Register(context.Background(), user.Id, f.Token())
		require.NoError(t, err)
		assert.NotEqual(t, old.Token, ins.Token)
		_, err = f.Gateway.GetInstrumentInfo(context.Background(), old.Token)
		assert.ErrorIs(t, err, gateway.ErrInstrumentNotFound)
	})
}

func TestDeleteIsIdempotent(t *testing.T) {
	f := billingtest.New(t)
	user := f.User("card@example.com")
	plan := f.Plan("Pro", 30000, entity.BillingPeriodMonthly)
	ins := f.Instrument(user)
	subscribed(t, f, user, plan, ins, billingtest.T0.Add(30*day), billingtest.T0.Add(60*day))
	m := newManager(f)

	require.NoError(t, m.Delete(context.Background(), user.Id, "user request"))
	assert.Empty(t, f.Gateway.ActiveSchedules(ins.Token))
	_, err := f.Gateway.GetInstrumentInfo(context.Background(), ins.Token)
	assert.ErrorIs(t, err, gateway.ErrInstrumentNotFound)

	got, err := f.UoW().InstrumentRepository().FindByUser(context.Background(), user.Id)
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.Nil(t, f.Subscription(user.Id, plan.Id).InstrumentId)

	require.NoError(t, m.Delete(context.Background(), user.Id, "user request"))
	assert.Equal(t, 1, f.Gateway.CallCount(sandbox.OpDeleteInstrument))
}

func TestDeleteFailureMarksPending(t *testing.T) {
	f := billingtest.New(t)
	user := f.User("card@example.com")
	ins := f.Instrument(user)
	m := newManager(f)

	f.Gateway.FailNext(sandbox.OpDeleteInstrument, gateway.NewError("delete_instrument", gateway.ErrInstrumentDelete, "DOWN", "service unavailable"))
	err := m.Delete(context.Background(), user.Id, "user request")
	assert.Equal(t, billing.KindGateway, billing.KindOf(err))

	got, err := f.UoW().InstrumentRepository().FindByUser(context.Background(), user.Id)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, entity.InstrumentStatusPendingDeletion, got.Status)

	removed, err := m.RetryPendingDeletions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	got, err = f.UoW().InstrumentRepository().FindByUser(context.Background(), user.Id)
	require.NoError(t, err)
	assert.Nil(t, got)
	_, err = f.Gateway.GetInstrumentInfo(context.Background(), ins.Token)
	assert.ErrorIs(t, err, gateway.ErrInstrumentNotFound)
}

func TestRotateKeepsRunTimes(t *testing.T) {
	f := billingtest.New(t)
	user := f.User("card@example.com")
	pro := f.Plan("Pro", 30000, entity.BillingPeriodMonthly)
	team := f.Plan("Team", 90000, entity.BillingPeriodMonthly)
	ins := f.Instrument(user)
	proRun := billingtest.T0.Add(30*day + 7*time.Hour)
	teamRun := billingtest.T0.Add(45*day + 13*time.Minute)
	subscribed(t, f, user, pro, ins, proRun)
	subscribed(t, f, user, team, ins, teamRun)
	newToken := f.Token()

	rotated, err := newManager(f).Rotate(context.Background(), user.Id, newToken)
	require.NoError(t, err)
	assert.Equal(t, ins.Id, rotated.Id)
	assert.Equal(t, newToken, rotated.Token)

	moved := f.Gateway.ActiveSchedules(newToken)
	require.Len(t, moved, 2)
	assert.Equal(t, proRun, moved[0].RunAt)
	assert.Equal(t, pro.Id, moved[0].PlanID)
	assert.Equal(t, teamRun, moved[1].RunAt)
	assert.Equal(t, team.Id, moved[1].PlanID)

	assert.Empty(t, f.Gateway.ActiveSchedules(ins.Token))
	_, err = f.Gateway.GetInstrumentInfo(context.Background(), ins.Token)
	assert.ErrorIs(t, err, gateway.ErrInstrumentNotFound)

	stored, err := f.UoW().InstrumentRepository().FindByUser(context.Background(), user.Id)
	require.NoError(t, err)
	assert.Equal(t, newToken, stored.Token)
	assert.Contains(t, f.Events.Types(), events.TypeInstrumentRotated)
}

func TestRotateWithoutSchedulesSwapsToken(t *testing.T) {
	f := billingtest.New(t)
	user := f.User("card@example.com")
	ins := f.Instrument(user)
	newToken := f.Token()

	rotated, err := newManager(f).Rotate(context.Background(), user.Id, newToken)
	require.NoError(t, err)
	assert.Equal(t, newToken, rotated.Token)
	assert.Zero(t, f.Gateway.CallCount(sandbox.OpCreateSchedule))
	_, err = f.Gateway.GetInstrumentInfo(context.Background(), ins.Token)
	assert.ErrorIs(t, err, gateway.ErrInstrumentNotFound)
}

func TestRotateRestoresSchedulesOnFailure(t *testing.T) {
	tests := []struct {
		name  string
		plans int
		skip  int
	}{
		{"first recreate fails", 1, 0},
		{"second recreate fails", 2, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := billingtest.New(t)
			user := f.User("card@example.com")
			ins := f.Instrument(user)
			runAt := billingtest.T0.Add(30 * day)
			for i := 0; i < tt.plans; i++ {
				plan := f.Plan(fmt.Sprintf("Plan %d", i), 30000, entity.BillingPeriodMonthly)
				subscribed(t, f, user, plan, ins, runAt.Add(time.Duration(i)*day))
			}
			newToken := f.Token()

			f.Gateway.FailAfter(sandbox.OpCreateSchedule, tt.skip, errors.New("schedule service down"))
			_, err := newManager(f).Rotate(context.Background(), user.Id, newToken)
			assert.Equal(t, billing.KindGateway, billing.KindOf(err))

			restored := f.Gateway.ActiveSchedules(ins.Token)
			require.Len(t, restored, tt.plans)
			assert.Equal(t, runAt, restored[0].RunAt)
			assert.Empty(t, f.Gateway.ActiveSchedules(newToken))

			stored, err := f.UoW().InstrumentRepository().FindByUser(context.Background(), user.Id)
			require.NoError(t, err)
			assert.Equal(t, ins.Token, stored.Token)
		})
	}
}

func TestRotateRequiresInstrument(t *testing.T) {
	f := billingtest.New(t)
	user := f.User("card@example.com")
	_, err := newManager(f).Rotate(context.Background(), user.Id, f.Token())
	assert.ErrorIs(t, err, billing.ErrInstrumentMissing)
}

func TestRevokePlanSchedules(t *testing.T) {
	f := billingtest.New(t)
	user := f.User("card@example.com")
	pro := f.Plan("Pro", 30000, entity.BillingPeriodMonthly)
	team := f.Plan("Team", 90000, entity.BillingPeriodMonthly)
	ins := f.Instrument(user)
	subscribed(t, f, user, pro, ins, billingtest.T0.Add(30*day))
	subscribed(t, f, user, team, ins, billingtest.T0.Add(30*day))

	require.NoError(t, newManager(f).RevokePlanSchedules(context.Background(), user.Id, pro.Id))
	left := f.Gateway.ActiveSchedules(ins.Token)
	require.Len(t, left, 1)
	assert.Equal(t, team.Id, left[0].PlanID)
}
