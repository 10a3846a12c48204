// Package refund computes pro-rated refunds against the gateway's live
// cancellable balance and runs the cancel-with-refund flow.
package refund

import (
	"context"
	"fmt"
	"time"

	"subscription-billing-be/internal/entity"
	"subscription-billing-be/pkg/billing/period"
	"subscription-billing-be/pkg/gateway"

	"github.com/shopspring/decimal"
)

type Outcome string

const (
	OutcomeRefundable      Outcome = "refundable"
	OutcomeNothingToRefund Outcome = "nothing_to_refund"
)

// Result is the single output of a refund computation. Amount is final only
// after Calculate; Estimate leaves Cancellable zero and Amount equal to Raw.
type Result struct {
	Outcome       Outcome
	Amount        decimal.Decimal
	Raw           decimal.Decimal
	Cancellable   decimal.Decimal
	TotalDays     int
	UsedDays      int
	RemainingDays int
}

type Calculator struct {
	gateway gateway.Gateway
	// Places is the rounding precision of raw refunds. Zero-decimal
	// currencies use 0.
	Places int32
}

func NewCalculator(gw gateway.Gateway, places int32) *Calculator {
	if places < 0 {
		places = 2
	}
	return &Calculator{gateway: gw, Places: places}
}

// window returns the billing window of sub. Without an end date, as for a
// paused subscription, the fixed fallback window applies.
func window(sub *entity.Subscription) int {
	if sub.EndDate != nil {
		return period.DaysBetween(sub.StartDate, *sub.EndDate)
	}
	return period.FallbackDays
}

// Estimate pro-rates price over the unused part of the window. It never calls
// the gateway.
func (c *Calculator) Estimate(sub *entity.Subscription, price decimal.Decimal, at time.Time) Result {
	total := window(sub)
	used := period.DaysBetween(sub.StartDate, at)
	remaining := total - used
	if remaining < 0 {
		remaining = 0
	}

	r := Result{
		Outcome:       OutcomeNothingToRefund,
		Amount:        decimal.Zero,
		Raw:           decimal.Zero,
		Cancellable:   decimal.Zero,
		TotalDays:     total,
		UsedDays:      used,
		RemainingDays: remaining,
	}
	if remaining <= 0 || total <= 0 {
		return r
	}

	raw := price.Div(decimal.NewFromInt(int64(total))).Mul(decimal.NewFromInt(int64(remaining))).Round(c.Places)
	if raw.GreaterThan(price) {
		raw = price
	}
	if !raw.IsPositive() {
		return r
	}
	r.Outcome = OutcomeRefundable
	r.Raw = raw
	r.Amount = raw
	return r
}

// Calculate clamps the estimate to the gateway's cancellable amount for
// transactionID. gateway.ErrAlreadyCancelled propagates.
func (c *Calculator) Calculate(ctx context.Context, sub *entity.Subscription, price decimal.Decimal, transactionID string, at time.Time) (Result, error) {
	r := c.Estimate(sub, price, at)
	if r.Outcome == OutcomeNothingToRefund {
		return r, nil
	}

	cancellable, err := c.gateway.GetCancellableAmount(ctx, transactionID)
	if err != nil {
		return r, fmt.Errorf("cancellable amount of %s: %w", transactionID, err)
	}
	if !cancellable.IsPositive() {
		return r, fmt.Errorf("cancellable amount of %s: %w", transactionID, gateway.ErrAlreadyCancelled)
	}

	r.Cancellable = cancellable
	r.Amount = decimal.Min(r.Raw, cancellable)
	return r, nil
}
