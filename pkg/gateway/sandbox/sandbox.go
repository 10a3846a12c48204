// Package sandbox is an in-process gateway with the same observable contract
// as the real provider. Local runs and tests use it; failures can be injected
// per operation.
package sandbox

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"subscription-billing-be/pkg/gateway"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	OpCharge           = "charge"
	OpRefund           = "refund"
	OpCancellable      = "cancellable_amount"
	OpCreateSchedule   = "create_schedule"
	OpListSchedules    = "list_schedules"
	OpRevokeSchedules  = "revoke_schedules"
	OpDeleteInstrument = "delete_instrument"
	OpInstrumentInfo   = "instrument_info"
)

type instrument struct {
	info    gateway.InstrumentInfo
	deleted bool
}

type payment struct {
	token     string
	amount    decimal.Decimal
	cancelled decimal.Decimal
	result    gateway.ChargeResult
}

type schedule struct {
	gateway.Schedule
	token   string
	revoked bool
}

// injected failure; landed marks calls that apply before reporting the error.
// skip counts the calls that still succeed before err fires.
type failure struct {
	err    error
	once   bool
	landed bool
	skip   int
}

type Gateway struct {
	mu          sync.Mutex
	now         func() time.Time
	seq         int
	instruments map[string]*instrument
	payments    map[string]*payment
	byIdemKey   map[string]string
	schedules   map[string]*schedule
	failures    map[string]*failure
	calls       []string
}

func New() *Gateway {
	return &Gateway{
		now:         time.Now,
		instruments: make(map[string]*instrument),
		payments:    make(map[string]*payment),
		byIdemKey:   make(map[string]string),
		schedules:   make(map[string]*schedule),
		failures:    make(map[string]*failure),
	}
}

// WithClock pins the sandbox clock. Tests use it to keep schedule windows deterministic.
func (g *Gateway) WithClock(now func() time.Time) *Gateway {
	g.now = now
	return g
}

func (g *Gateway) AddInstrument(token, issuer, masked string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.instruments[token] = &instrument{info: gateway.InstrumentInfo{Token: token, IssuerName: issuer, MaskedNumber: masked}}
}

// FailNext makes the next call of op return err.
func (g *Gateway) FailNext(op string, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failures[op] = &failure{err: err, once: true}
}

// FailAfter lets skip calls of op succeed and fails the one after with err.
func (g *Gateway) FailAfter(op string, skip int, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failures[op] = &failure{err: err, once: true, skip: skip}
}

// FailAlways makes every call of op return err until Reset.
func (g *Gateway) FailAlways(op string, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failures[op] = &failure{err: err}
}

// RefundLandsThenFails applies the next refund and then reports err, the way
// a timed out request that still reached the provider behaves.
func (g *Gateway) RefundLandsThenFails(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failures[OpRefund] = &failure{err: err, once: true, landed: true}
}

// ChargeLandsThenFails applies charges but answers every call with err until
// Reset, the way a provider whose responses time out behaves.
func (g *Gateway) ChargeLandsThenFails(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failures[OpCharge] = &failure{err: err, landed: true}
}

// Payments counts the charges the sandbox has applied.
func (g *Gateway) Payments() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.payments)
}

func (g *Gateway) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failures = make(map[string]*failure)
}

// Calls returns the operations invoked so far, in order.
func (g *Gateway) Calls() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]string, len(g.calls))
	copy(out, g.calls)
	return out
}

func (g *Gateway) CallCount(op string) int {
	n := 0
	for _, c := range g.Calls() {
		if c == op {
			n++
		}
	}
	return n
}

// CancelOutside reduces a payment's cancellable balance without going through
// Refund, as a partial cancel issued from the provider dashboard would.
func (g *Gateway) CancelOutside(transactionID string, amount decimal.Decimal) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if p, ok := g.payments[transactionID]; ok {
		p.cancelled = p.cancelled.Add(amount)
	}
}

// ActiveSchedules lists non-revoked schedules of a token ordered by run time.
func (g *Gateway) ActiveSchedules(token string) []gateway.Schedule {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []gateway.Schedule
	for _, s := range g.schedules {
		if s.token == token && !s.revoked {
			out = append(out, s.Schedule)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RunAt.Before(out[j].RunAt) })
	return out
}

// ExecuteSchedule charges a schedule the way the provider does at run time
// and returns the resulting transaction id.
func (g *Gateway) ExecuteSchedule(id string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.schedules[id]
	if !ok || s.revoked {
		return "", fmt.Errorf("sandbox: schedule %s not executable", id)
	}
	s.revoked = true
	txID := g.nextID("tx")
	g.payments[txID] = &payment{
		token:  s.token,
		amount: s.Amount,
		result: gateway.ChargeResult{TransactionID: txID, GatewayTxRef: txID, PaidAt: g.now()},
	}
	return txID, nil
}

func (g *Gateway) record(op string) error {
	g.calls = append(g.calls, op)
	f, ok := g.failures[op]
	if !ok || f.landed {
		return nil
	}
	if f.skip > 0 {
		f.skip--
		return nil
	}
	if f.once {
		delete(g.failures, op)
	}
	return f.err
}

func (g *Gateway) nextID(prefix string) string {
	g.seq++
	return fmt.Sprintf("%s_%06d", prefix, g.seq)
}

func (g *Gateway) Charge(ctx context.Context, req gateway.ChargeRequest) (*gateway.ChargeResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.record(OpCharge); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if txID, ok := g.byIdemKey[req.IdempotencyID]; ok && req.IdempotencyID != "" {
		if err := g.lostResponse(); err != nil {
			return nil, err
		}
		res := g.payments[txID].result
		return &res, nil
	}
	ins, ok := g.instruments[req.InstrumentToken]
	if !ok || ins.deleted {
		return nil, gateway.NewError("charge", gateway.ErrChargeFailed, "INVALID_BILLING_KEY", "billing key is not registered")
	}
	if !req.Amount.IsPositive() {
		return nil, gateway.NewError("charge", gateway.ErrChargeFailed, "INVALID_AMOUNT", "amount must be positive")
	}

	txID := g.nextID("tx")
	res := gateway.ChargeResult{TransactionID: txID, GatewayTxRef: txID, PaidAt: g.now()}
	g.payments[txID] = &payment{token: req.InstrumentToken, amount: req.Amount, result: res}
	if req.IdempotencyID != "" {
		g.byIdemKey[req.IdempotencyID] = txID
	}
	if err := g.lostResponse(); err != nil {
		return nil, err
	}
	return &res, nil
}

func (g *Gateway) lostResponse() error {
	if f, ok := g.failures[OpCharge]; ok && f.landed {
		return f.err
	}
	return nil
}

func (g *Gateway) Refund(ctx context.Context, req gateway.RefundRequest) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.record(OpRefund); err != nil {
		return err
	}
	p, ok := g.payments[req.TransactionID]
	if !ok {
		return gateway.NewError("refund", gateway.ErrRefundFailed, "PAYMENT_NOT_FOUND", "payment does not exist")
	}
	cancellable := p.amount.Sub(p.cancelled)
	if !cancellable.IsPositive() {
		return gateway.NewError("refund", gateway.ErrAlreadyCancelled, "PAYMENT_ALREADY_CANCELLED", "payment already cancelled")
	}
	if !req.ExpectedCancellable.IsZero() && !req.ExpectedCancellable.Equal(cancellable) {
		return gateway.NewError("refund", gateway.ErrRefundFailed, "CANCELLABLE_AMOUNT_CONSISTENCY_BROKEN", "cancellable amount changed")
	}
	if req.Amount.GreaterThan(cancellable) || !req.Amount.IsPositive() {
		return gateway.NewError("refund", gateway.ErrRefundFailed, "INVALID_AMOUNT", "refund amount exceeds cancellable amount")
	}
	p.cancelled = p.cancelled.Add(req.Amount)

	if f, ok := g.failures[OpRefund]; ok && f.landed {
		delete(g.failures, OpRefund)
		return f.err
	}
	return ctx.Err()
}

func (g *Gateway) GetCancellableAmount(ctx context.Context, transactionID string) (decimal.Decimal, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.record(OpCancellable); err != nil {
		return decimal.Zero, err
	}
	p, ok := g.payments[transactionID]
	if !ok {
		return decimal.Zero, gateway.NewError("cancellable_amount", gateway.ErrRefundFailed, "PAYMENT_NOT_FOUND", "payment does not exist")
	}
	cancellable := p.amount.Sub(p.cancelled)
	if !cancellable.IsPositive() {
		return decimal.Zero, gateway.ErrAlreadyCancelled
	}
	return cancellable, nil
}

func (g *Gateway) CreateSchedule(ctx context.Context, req gateway.ScheduleRequest) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.record(OpCreateSchedule); err != nil {
		return "", err
	}
	ins, ok := g.instruments[req.InstrumentToken]
	if !ok || ins.deleted {
		return "", gateway.NewError("create_schedule", gateway.ErrScheduleFailed, "INVALID_BILLING_KEY", "billing key is not registered")
	}
	id := g.nextID("sch")
	g.schedules[id] = &schedule{
		Schedule: gateway.Schedule{
			ID:         id,
			RunAt:      req.RunAt,
			Amount:     req.Amount,
			OrderLabel: req.OrderLabel,
			PlanID:     req.PlanID,
		},
		token: req.InstrumentToken,
	}
	return id, nil
}

func (g *Gateway) ListSchedules(ctx context.Context, instrumentToken string, filter gateway.ScheduleFilter) ([]gateway.Schedule, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.record(OpListSchedules); err != nil {
		return nil, err
	}
	filter = filter.Window(g.now())
	var out []gateway.Schedule
	for _, s := range g.schedules {
		if s.token != instrumentToken || s.revoked {
			continue
		}
		if filter.PlanID != uuid.Nil && s.PlanID != filter.PlanID {
			continue
		}
		if s.RunAt.Before(filter.From) || s.RunAt.After(filter.Until) {
			continue
		}
		out = append(out, s.Schedule)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RunAt.Before(out[j].RunAt) })
	return out, nil
}

func (g *Gateway) RevokeSchedules(ctx context.Context, instrumentToken string, scheduleIDs []string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.record(OpRevokeSchedules); err != nil {
		return err
	}
	for _, id := range scheduleIDs {
		if s, ok := g.schedules[id]; ok && s.token == instrumentToken {
			s.revoked = true
		}
	}
	return nil
}

func (g *Gateway) DeleteInstrument(ctx context.Context, instrumentToken, reason string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.record(OpDeleteInstrument); err != nil {
		return err
	}
	if ins, ok := g.instruments[instrumentToken]; ok {
		ins.deleted = true
	}
	for _, s := range g.schedules {
		if s.token == instrumentToken {
			s.revoked = true
		}
	}
	return nil
}

func (g *Gateway) GetInstrumentInfo(ctx context.Context, instrumentToken string) (*gateway.InstrumentInfo, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.record(OpInstrumentInfo); err != nil {
		return nil, err
	}
	ins, ok := g.instruments[instrumentToken]
	if !ok || ins.deleted {
		return nil, gateway.ErrInstrumentNotFound
	}
	info := ins.info
	return &info, nil
}
