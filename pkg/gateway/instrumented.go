package gateway

import (
	"context"
	"time"

	"subscription-billing-be/pkg/metrics"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Instrumented bounds every call with a timeout and records latency,
// outcome and a span per call.
type Instrumented struct {
	next    Gateway
	timeout time.Duration
	metrics metrics.BillingMetrics
	tracer  trace.Tracer
}

func NewInstrumented(next Gateway, timeout time.Duration, m metrics.BillingMetrics) *Instrumented {
	return &Instrumented{
		next:    next,
		timeout: timeout,
		metrics: m,
		tracer:  otel.Tracer("subscription-billing-be/gateway"),
	}
}

func (g *Instrumented) call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}
	ctx, span := g.tracer.Start(ctx, "gateway."+op, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	outcome := "ok"
	switch {
	case err == nil:
	case IsUnknownOutcome(err):
		outcome = "unknown"
	default:
		outcome = "error"
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
	}
	span.SetAttributes(attribute.String("gateway.outcome", outcome))
	if g.metrics != nil {
		g.metrics.ObserveGatewayCall(op, outcome, time.Since(start))
	}
	return err
}

func (g *Instrumented) Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	var res *ChargeResult
	err := g.call(ctx, "charge", func(ctx context.Context) error {
		var err error
		res, err = g.next.Charge(ctx, req)
		return err
	})
	return res, err
}

func (g *Instrumented) Refund(ctx context.Context, req RefundRequest) error {
	return g.call(ctx, "refund", func(ctx context.Context) error {
		return g.next.Refund(ctx, req)
	})
}

func (g *Instrumented) GetCancellableAmount(ctx context.Context, transactionID string) (decimal.Decimal, error) {
	var amount decimal.Decimal
	err := g.call(ctx, "cancellable_amount", func(ctx context.Context) error {
		var err error
		amount, err = g.next.GetCancellableAmount(ctx, transactionID)
		return err
	})
	return amount, err
}

func (g *Instrumented) CreateSchedule(ctx context.Context, req ScheduleRequest) (string, error) {
	var id string
	err := g.call(ctx, "create_schedule", func(ctx context.Context) error {
		var err error
		id, err = g.next.CreateSchedule(ctx, req)
		return err
	})
	return id, err
}

func (g *Instrumented) ListSchedules(ctx context.Context, instrumentToken string, filter ScheduleFilter) ([]Schedule, error) {
	var out []Schedule
	err := g.call(ctx, "list_schedules", func(ctx context.Context) error {
		var err error
		out, err = g.next.ListSchedules(ctx, instrumentToken, filter)
		return err
	})
	return out, err
}

func (g *Instrumented) RevokeSchedules(ctx context.Context, instrumentToken string, scheduleIDs []string) error {
	return g.call(ctx, "revoke_schedules", func(ctx context.Context) error {
		return g.next.RevokeSchedules(ctx, instrumentToken, scheduleIDs)
	})
}

func (g *Instrumented) DeleteInstrument(ctx context.Context, instrumentToken, reason string) error {
	return g.call(ctx, "delete_instrument", func(ctx context.Context) error {
		return g.next.DeleteInstrument(ctx, instrumentToken, reason)
	})
}

func (g *Instrumented) GetInstrumentInfo(ctx context.Context, instrumentToken string) (*InstrumentInfo, error) {
	var info *InstrumentInfo
	err := g.call(ctx, "instrument_info", func(ctx context.Context) error {
		var err error
		info, err = g.next.GetInstrumentInfo(ctx, instrumentToken)
		return err
	})
	return info, err
}
