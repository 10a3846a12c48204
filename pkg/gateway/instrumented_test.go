package gateway_test

import (
	"context"
	"testing"
	"time"

	"subscription-billing-be/pkg/gateway"
	"subscription-billing-be/pkg/gateway/sandbox"
	"subscription-billing-be/pkg/metrics"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// hangingGateway never answers a charge until the context ends.
type hangingGateway struct {
	*sandbox.Gateway
}

func (g hangingGateway) Charge(ctx context.Context, req gateway.ChargeRequest) (*gateway.ChargeResult, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestInstrumented(t *testing.T) {
	ctx := context.Background()

	t.Run("timeout is an unknown outcome", func(t *testing.T) {
		registry := prometheus.NewRegistry()
		g := gateway.NewInstrumented(hangingGateway{sandbox.New()}, 20*time.Millisecond, metrics.NewBillingMetrics(registry))

		_, err := g.Charge(ctx, gateway.ChargeRequest{InstrumentToken: "bk", Amount: decimal.NewFromInt(1000), IdempotencyID: "id-1"})
		require.Error(t, err)
		assert.True(t, gateway.IsUnknownOutcome(err))

		count, err := testutil.GatherAndCount(registry, "billing_gateway_calls_total")
		require.NoError(t, err)
		assert.Equal(t, 1, count)
	})

	t.Run("passes results through", func(t *testing.T) {
		sb := sandbox.New()
		sb.AddInstrument("bk", "VISA", "4111-****-****-0001")
		g := gateway.NewInstrumented(sb, time.Second, metrics.NewBillingMetrics(prometheus.NewRegistry()))

		info, err := g.GetInstrumentInfo(ctx, "bk")
		require.NoError(t, err)
		assert.Equal(t, "VISA", info.IssuerName)

		_, err = g.GetInstrumentInfo(ctx, "missing")
		assert.ErrorIs(t, err, gateway.ErrInstrumentNotFound)
		assert.False(t, gateway.IsUnknownOutcome(err))
	})
}

func TestRawMessage(t *testing.T) {
	err := gateway.NewError("charge", gateway.ErrChargeFailed, "DECLINED", "card declined by issuer")
	assert.Equal(t, "card declined by issuer", gateway.RawMessage(err))
	assert.ErrorIs(t, err, gateway.ErrChargeFailed)
	assert.Empty(t, gateway.RawMessage(context.Canceled))
}
