package billing

import (
	"context"

	"subscription-billing-be/pkg/gateway"
)

// Charge calls the gateway once more with the same idempotency id when the
// first outcome is unknown. The gateway answers a repeated id with the
// original transaction, so the retry cannot double charge.
func Charge(ctx context.Context, gw gateway.Gateway, req gateway.ChargeRequest) (*gateway.ChargeResult, error) {
	res, err := gw.Charge(ctx, req)
	if err == nil || !gateway.IsUnknownOutcome(err) || req.IdempotencyID == "" || ctx.Err() != nil {
		return res, err
	}
	return gw.Charge(ctx, req)
}
