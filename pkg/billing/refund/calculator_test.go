package refund

import (
	"context"
	"testing"
	"time"

	"subscription-billing-be/internal/entity"
	"subscription-billing-be/pkg/billing/billingtest"
	"subscription-billing-be/pkg/billing/period"
	"subscription-billing-be/pkg/gateway"
	"subscription-billing-be/pkg/gateway/sandbox"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const day = 24 * time.Hour

func activeSub(start time.Time, days int) *entity.Subscription {
	end := start.AddDate(0, 0, days)
	return &entity.Subscription{
		Status:    entity.SubscriptionStatusActive,
		StartDate: start,
		EndDate:   &end,
		AutoRenew: true,
	}
}

// paidTx charges amount through the sandbox and returns the transaction id.
func paidTx(t *testing.T, gw *sandbox.Gateway, amount int64) string {
	t.Helper()
	gw.AddInstrument("bk_calc", "VISA", "4111-****-****-1111")
	res, err := gw.Charge(context.Background(), gateway.ChargeRequest{
		InstrumentToken: "bk_calc",
		Amount:          decimal.NewFromInt(amount),
	})
	require.NoError(t, err)
	return res.TransactionID
}

func TestEstimate(t *testing.T) {
	t0 := billingtest.T0
	price := decimal.NewFromInt(30000)
	calc := NewCalculator(nil, 0)

	tests := []struct {
		name      string
		at        time.Time
		outcome   Outcome
		amount    int64
		remaining int
	}{
		{"twenty days used", t0.Add(20 * day), OutcomeRefundable, 10000, 10},
		{"same day", t0.Add(time.Hour), OutcomeRefundable, 30000, 30},
		{"last day", t0.Add(29 * day), OutcomeRefundable, 1000, 1},
		{"at end date", t0.Add(30 * day), OutcomeNothingToRefund, 0, 0},
		{"past end date", t0.Add(45 * day), OutcomeNothingToRefund, 0, 0},
		{"before start", t0.Add(-3 * day), OutcomeRefundable, 30000, 30},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := calc.Estimate(activeSub(t0, 30), price, tt.at)
			assert.Equal(t, tt.outcome, r.Outcome)
			assert.Equal(t, tt.remaining, r.RemainingDays)
			assert.True(t, r.Amount.Equal(decimal.NewFromInt(tt.amount)), "amount %s", r.Amount)
			assert.Equal(t, 30, r.TotalDays)
		})
	}
}

func TestEstimateRoundsToPlaces(t *testing.T) {
	sub := activeSub(billingtest.T0, 30)
	at := billingtest.T0.Add(10 * day)

	r := NewCalculator(nil, 2).Estimate(sub, decimal.NewFromInt(100), at)
	assert.Equal(t, "66.67", r.Amount.StringFixed(2))

	r = NewCalculator(nil, 0).Estimate(sub, decimal.NewFromInt(100), at)
	assert.Equal(t, "67", r.Amount.String())
}

func TestEstimatePausedUsesFallbackWindow(t *testing.T) {
	remaining := 20 * day
	sub := &entity.Subscription{
		Status:            entity.SubscriptionStatusPaused,
		StartDate:         billingtest.T0,
		RemainingBillDate: &remaining,
	}

	tests := []struct {
		name      string
		at        time.Time
		used      int
		remaining int
		amount    int64
	}{
		{"at pause", billingtest.T0.Add(10 * day), 10, 20, 20000},
		{"later than pause", billingtest.T0.Add(15 * day), 15, 15, 15000},
		{"long after pause", billingtest.T0.Add(40 * day), 40, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewCalculator(nil, 0).Estimate(sub, decimal.NewFromInt(30000), tt.at)
			assert.Equal(t, period.FallbackDays, r.TotalDays)
			assert.Equal(t, tt.used, r.UsedDays)
			assert.Equal(t, tt.remaining, r.RemainingDays)
			assert.True(t, r.Raw.Equal(decimal.NewFromInt(tt.amount)), "raw %s", r.Raw)
		})
	}
}

func TestCalculateClampsToCancellable(t *testing.T) {
	gw := sandbox.New()
	tx := paidTx(t, gw, 30000)
	gw.CancelOutside(tx, decimal.NewFromInt(22000))

	r, err := NewCalculator(gw, 0).Calculate(context.Background(), activeSub(billingtest.T0, 30), decimal.NewFromInt(30000), tx, billingtest.T0.Add(20*day))
	require.NoError(t, err)
	assert.True(t, r.Raw.Equal(decimal.NewFromInt(10000)))
	assert.True(t, r.Cancellable.Equal(decimal.NewFromInt(8000)))
	assert.True(t, r.Amount.Equal(decimal.NewFromInt(8000)))
}

func TestCalculateBounds(t *testing.T) {
	price := decimal.NewFromInt(30000)
	sub := activeSub(billingtest.T0, 30)

	for _, offset := range []int{-5, 0, 1, 7, 15, 29, 30, 31, 90} {
		for _, cancelled := range []int64{0, 5000, 25000, 29999} {
			gw := sandbox.New()
			tx := paidTx(t, gw, 30000)
			gw.CancelOutside(tx, decimal.NewFromInt(cancelled))

			r, err := NewCalculator(gw, 0).Calculate(context.Background(), sub, price, tx, billingtest.T0.Add(time.Duration(offset)*day))
			require.NoError(t, err)
			assert.False(t, r.Amount.IsNegative())
			assert.True(t, r.Amount.LessThanOrEqual(price))
			if r.Outcome == OutcomeRefundable {
				assert.True(t, r.Amount.LessThanOrEqual(r.Cancellable), "offset %d cancelled %d", offset, cancelled)
			}
		}
	}
}

func TestCalculateNothingToRefundSkipsGateway(t *testing.T) {
	gw := sandbox.New()
	tx := paidTx(t, gw, 30000)

	r, err := NewCalculator(gw, 0).Calculate(context.Background(), activeSub(billingtest.T0, 30), decimal.NewFromInt(30000), tx, billingtest.T0.Add(30*day))
	require.NoError(t, err)
	assert.Equal(t, OutcomeNothingToRefund, r.Outcome)
	assert.True(t, r.Amount.IsZero())
	assert.Zero(t, gw.CallCount(sandbox.OpCancellable))
	assert.Zero(t, gw.CallCount(sandbox.OpRefund))
}

func TestCalculateFollowsShrinkingCancellable(t *testing.T) {
	gw := sandbox.New()
	tx := paidTx(t, gw, 30000)
	calc := NewCalculator(gw, 0)
	sub := activeSub(billingtest.T0, 30)
	at := billingtest.T0.Add(5 * day)

	first, err := calc.Calculate(context.Background(), sub, decimal.NewFromInt(30000), tx, at)
	require.NoError(t, err)
	assert.True(t, first.Amount.Equal(decimal.NewFromInt(25000)))

	gw.CancelOutside(tx, decimal.NewFromInt(12000))

	second, err := calc.Calculate(context.Background(), sub, decimal.NewFromInt(30000), tx, at)
	require.NoError(t, err)
	assert.True(t, second.Raw.Equal(decimal.NewFromInt(25000)))
	assert.True(t, second.Amount.Equal(decimal.NewFromInt(18000)))
}

func TestCalculateFullyCancelled(t *testing.T) {
	gw := sandbox.New()
	tx := paidTx(t, gw, 30000)
	gw.CancelOutside(tx, decimal.NewFromInt(30000))

	_, err := NewCalculator(gw, 0).Calculate(context.Background(), activeSub(billingtest.T0, 30), decimal.NewFromInt(30000), tx, billingtest.T0.Add(day))
	assert.ErrorIs(t, err, gateway.ErrAlreadyCancelled)
}
