package service

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"subscription-billing-be/internal/dto"
	"subscription-billing-be/internal/entity"
	"subscription-billing-be/pkg/billing"
	"subscription-billing-be/pkg/billing/billingtest"
	"subscription-billing-be/pkg/billing/events"
	"subscription-billing-be/pkg/billing/ledger"
	"subscription-billing-be/pkg/billing/period"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	day           = 24 * time.Hour
	webhookSecret = "whsec_test"
)

type paidSub struct {
	user    *entity.User
	plan    *entity.Plan
	sub     *entity.Subscription
	payment *entity.Payment
}

// seedPaid gives a subscriber an active monthly subscription paid through tx-1.
func seedPaid(t *testing.T, f *billingtest.Fixture) *paidSub {
	t.Helper()
	ctx := context.Background()
	p := &paidSub{user: f.User("hook@example.com"), plan: f.Plan("Pro", 30000, entity.BillingPeriodMonthly)}
	ins := f.Instrument(p.user)
	end := billingtest.T0.Add(30 * day)
	p.sub = &entity.Subscription{
		UserId:       p.user.Id,
		PlanId:       p.plan.Id,
		InstrumentId: &ins.Id,
		Status:       entity.SubscriptionStatusActive,
		StartDate:    billingtest.T0,
		EndDate:      &end,
		NextBillDate: &end,
		AutoRenew:    true,
	}
	require.NoError(t, f.UoW().SubscriptionRepository().CreateSubscription(ctx, p.sub))
	payment, _, err := ledger.RecordCharge(ctx, f.UoW(), ledger.Charge{
		UserId:         p.user.Id,
		SubscriptionId: p.sub.Id,
		PlanId:         p.plan.Id,
		GatewayTxId:    "tx-1",
		Amount:         p.plan.Price,
		PaidAt:         billingtest.T0,
	})
	require.NoError(t, err)
	p.payment = payment
	return p
}

func newWebhook(f *billingtest.Fixture) *webhookService {
	svc := NewWebhookService(f.Factory, f.Locker, f.Events, f.Metrics, f.Logger, "sandbox", webhookSecret).(*webhookService)
	svc.now = f.Clock.Now
	return svc
}

func body(t *testing.T, req dto.WebhookRequest) []byte {
	t.Helper()
	data, err := json.Marshal(req)
	require.NoError(t, err)
	return data
}

func send(t *testing.T, svc *webhookService, req dto.WebhookRequest) (*dto.WebhookResponse, error) {
	data := body(t, req)
	return svc.HandleNotification(context.Background(), data, Sign(data, webhookSecret))
}

func TestVerifySignature(t *testing.T) {
	payload := []byte(`{"payment_reference":"tx-1","status":"paid","amount":"30000"}`)
	valid := Sign(payload, webhookSecret)

	tests := []struct {
		name      string
		payload   []byte
		signature string
		secret    string
		want      bool
	}{
		{"valid", payload, valid, webhookSecret, true},
		{"upper case hex", payload, "  " + strings.ToUpper(valid) + " ", webhookSecret, true},
		{"wrong secret", payload, valid, "other", false},
		{"tampered body", []byte(string(payload) + " "), valid, webhookSecret, false},
		{"empty signature", payload, "", webhookSecret, false},
		{"not hex", payload, "zz-not-hex", webhookSecret, false},
		{"no secret configured", payload, Sign(payload, ""), "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, VerifySignature(tt.payload, tt.signature, tt.secret))
		})
	}
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	f := billingtest.New(t)
	seedPaid(t, f)
	data := body(t, dto.WebhookRequest{PaymentReference: "tx-1", Status: "failed"})

	_, err := newWebhook(f).HandleNotification(context.Background(), data, Sign(data, "forged"))
	assert.ErrorIs(t, err, ErrInvalidSignature)
	assert.Empty(t, f.Store.Events())
}

func TestWebhookPaidKnownPaymentOnlyReconciles(t *testing.T) {
	f := billingtest.New(t)
	p := seedPaid(t, f)
	p.sub.AutoRenew = false
	require.NoError(t, f.UoW().SubscriptionRepository().UpdateSubscription(context.Background(), p.sub))

	res, err := send(t, newWebhook(f), dto.WebhookRequest{PaymentReference: "tx-1", Status: "paid", Amount: decimal.NewFromInt(30000)})
	require.NoError(t, err)
	assert.False(t, res.Duplicate)

	got := f.Subscription(p.user.Id, p.plan.Id)
	assert.True(t, got.AutoRenew)
	assert.Equal(t, *p.sub.NextBillDate, *got.NextBillDate)

	payments, err := f.UoW().PaymentRepository().FindByUser(context.Background(), p.user.Id)
	require.NoError(t, err)
	assert.Len(t, payments, 1)
}

func TestWebhookPaidKeepsRenewalsOffWhileRefundPending(t *testing.T) {
	f := billingtest.New(t)
	ctx := context.Background()
	p := seedPaid(t, f)
	p.sub.AutoRenew = false
	require.NoError(t, f.UoW().SubscriptionRepository().UpdateSubscription(ctx, p.sub))
	require.NoError(t, f.UoW().UserRepository().UpdateSubStatus(ctx, p.user.Id, entity.SubscriberStatusRefundPending))

	_, err := send(t, newWebhook(f), dto.WebhookRequest{PaymentReference: "tx-1", Status: "paid", Amount: decimal.NewFromInt(30000)})
	require.NoError(t, err)

	assert.False(t, f.Subscription(p.user.Id, p.plan.Id).AutoRenew)
	assert.Equal(t, entity.SubscriberStatusRefundPending, f.SubStatus(p.user.Id))
}

func TestWebhookScheduledChargeAdvancesOnce(t *testing.T) {
	f := billingtest.New(t)
	p := seedPaid(t, f)
	f.Clock.Advance(30 * day)
	svc := newWebhook(f)
	req := dto.WebhookRequest{
		PaymentReference: "tx-scheduled",
		Status:           "paid",
		Amount:           decimal.NewFromInt(30000),
		CustomData:       &dto.WebhookCustomData{UserId: p.user.Id, PlanId: p.plan.Id},
	}

	res, err := send(t, svc, req)
	require.NoError(t, err)
	want := period.Next(*p.sub.NextBillDate, p.plan.Period)
	require.NotNil(t, res.NextBillDate)
	assert.Equal(t, want.Format(time.RFC3339), *res.NextBillDate)

	got := f.Subscription(p.user.Id, p.plan.Id)
	assert.Equal(t, want, *got.NextBillDate)
	assert.Equal(t, want, *got.EndDate)
	assert.True(t, got.AutoRenew)

	// Replays must not advance billing again.
	res, err = send(t, svc, req)
	require.NoError(t, err)
	assert.True(t, res.Duplicate)
	assert.Equal(t, want, *f.Subscription(p.user.Id, p.plan.Id).NextBillDate)

	payments, err := f.UoW().PaymentRepository().FindByUser(context.Background(), p.user.Id)
	require.NoError(t, err)
	assert.Len(t, payments, 2)
	assert.Equal(t, []string{events.TypeSubscriptionRenewed}, f.Events.Types())
	assert.Len(t, f.Events.Entries(), 1)
}

func TestWebhookFailureDisablesAutoRenew(t *testing.T) {
	for _, status := range []string{"failed", "cancelled"} {
		t.Run(status, func(t *testing.T) {
			f := billingtest.New(t)
			p := seedPaid(t, f)

			_, err := send(t, newWebhook(f), dto.WebhookRequest{PaymentReference: "tx-1", Status: status})
			require.NoError(t, err)

			assert.False(t, f.Subscription(p.user.Id, p.plan.Id).AutoRenew)
			payment, err := f.UoW().PaymentRepository().FindByGatewayTxID(context.Background(), "tx-1")
			require.NoError(t, err)
			want := entity.PaymentStatusFailed
			if status == "cancelled" {
				want = entity.PaymentStatusCancelled
			}
			assert.Equal(t, want, payment.Status)
			assert.Equal(t, []string{events.TypePaymentFailed}, f.Events.Types())
		})
	}
}

func TestWebhookAmountMismatch(t *testing.T) {
	f := billingtest.New(t)
	p := seedPaid(t, f)
	svc := newWebhook(f)
	req := dto.WebhookRequest{PaymentReference: "tx-1", Status: "failed", Amount: decimal.NewFromInt(1)}

	_, err := send(t, svc, req)
	assert.ErrorIs(t, err, ErrAmountMismatch)
	assert.Equal(t, billing.KindValidation, billing.KindOf(err))
	assert.True(t, f.Subscription(p.user.Id, p.plan.Id).AutoRenew)

	recorded := f.Store.Events()
	require.Len(t, recorded, 1)
	assert.Contains(t, recorded[0].ProcessingError, "amount mismatch")

	res, err := send(t, svc, req)
	require.NoError(t, err)
	assert.True(t, res.Duplicate)
}

func TestWebhookRejections(t *testing.T) {
	tests := []struct {
		name string
		req  dto.WebhookRequest
		kind billing.Kind
	}{
		{"unknown payment", dto.WebhookRequest{PaymentReference: "tx-unknown", Status: "paid", Amount: decimal.NewFromInt(30000)}, billing.KindNotFound},
		{"unsupported status", dto.WebhookRequest{PaymentReference: "tx-1", Status: "refunded"}, billing.KindValidation},
		{"missing reference", dto.WebhookRequest{Status: "paid"}, billing.KindValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := billingtest.New(t)
			seedPaid(t, f)
			_, err := send(t, newWebhook(f), tt.req)
			require.Error(t, err)
			assert.Equal(t, tt.kind, billing.KindOf(err))
			assert.Empty(t, f.Store.Events())
		})
	}
}
