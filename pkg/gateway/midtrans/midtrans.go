// Package midtrans adapts the Midtrans core API to gateway.Gateway.
//
// Midtrans charges saved card tokens but has no one-shot schedule or card
// lookup endpoint, so schedules and card metadata are indexed in Redis by this
// adapter. Refund totals come from the transaction status, with a Redis
// counter covering refunds the status does not show yet. The renewal sweep
// executes schedules.
package midtrans

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"subscription-billing-be/pkg/gateway"

	"github.com/google/uuid"
	mt "github.com/midtrans/midtrans-go"
	"github.com/midtrans/midtrans-go/coreapi"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// coreClient is the slice of coreapi.Client the adapter uses.
type coreClient interface {
	ChargeTransaction(req *coreapi.ChargeReq) (*coreapi.ChargeResponse, *mt.Error)
	CheckTransaction(param string) (*coreapi.TransactionStatusResponse, *mt.Error)
	RefundTransaction(param string, req *coreapi.RefundReq) (*coreapi.RefundResponse, *mt.Error)
}

type Gateway struct {
	core coreClient
	rdb  redis.UniversalClient
	now  func() time.Time
}

func New(serverKey, environment string, rdb redis.UniversalClient) *Gateway {
	env := mt.Sandbox
	if environment == "production" {
		env = mt.Production
	}
	var c coreapi.Client
	c.New(serverKey, env)
	return newWithClient(&c, rdb)
}

func newWithClient(core coreClient, rdb redis.UniversalClient) *Gateway {
	return &Gateway{core: core, rdb: rdb, now: time.Now}
}

func scheduleIndexKey(token string) string { return "midtrans:schedules:" + token }
func scheduleKey(id string) string         { return "midtrans:schedule:" + id }
func instrumentKey(token string) string    { return "midtrans:instrument:" + token }
func tombstoneKey(token string) string     { return "midtrans:instrument:deleted:" + token }
func refundedKey(txID string) string       { return "midtrans:refunded:" + txID }

// translate maps SDK errors onto gateway errors. Status code 0 means the
// request never produced an HTTP answer, so the outcome is unknown.
func translate(op string, kind error, e *mt.Error) error {
	if e == nil {
		return nil
	}
	if e.GetStatusCode() == 0 {
		return gateway.NewError(op, gateway.ErrUnknownOutcome, "", e.GetMessage())
	}
	return gateway.NewError(op, kind, strconv.Itoa(e.GetStatusCode()), e.GetMessage())
}

func wholeUnits(op string, kind error, amount decimal.Decimal) (int64, error) {
	if !amount.Equal(amount.Truncate(0)) {
		return 0, gateway.NewError(op, kind, "INVALID_AMOUNT", "amount must be in whole currency units")
	}
	return amount.IntPart(), nil
}

func (g *Gateway) Charge(ctx context.Context, req gateway.ChargeRequest) (*gateway.ChargeResult, error) {
	if deleted, err := g.isDeleted(ctx, req.InstrumentToken); err != nil {
		return nil, err
	} else if deleted {
		return nil, gateway.NewError("charge", gateway.ErrChargeFailed, "INVALID_BILLING_KEY", "billing key was deleted")
	}
	amount, err := wholeUnits("charge", gateway.ErrChargeFailed, req.Amount)
	if err != nil {
		return nil, err
	}

	resp, mErr := g.core.ChargeTransaction(&coreapi.ChargeReq{
		PaymentType: coreapi.PaymentTypeCreditCard,
		TransactionDetails: mt.TransactionDetails{
			OrderID:  req.IdempotencyID,
			GrossAmt: amount,
		},
		CreditCard: &coreapi.CreditCardDetails{
			TokenID: req.InstrumentToken,
		},
		CustomerDetails: &mt.CustomerDetails{
			FName: req.Customer.FullName,
			Email: req.Customer.Email,
			Phone: req.Customer.Phone,
		},
	})
	if mErr != nil && mErr.GetStatusCode() == 406 {
		// Duplicate order id: a previous attempt with this idempotency id reached the provider.
		return g.existingCharge(req.IdempotencyID)
	}
	if err := translate("charge", gateway.ErrChargeFailed, mErr); err != nil {
		return nil, err
	}
	if resp.TransactionStatus != "capture" && resp.TransactionStatus != "settlement" {
		return nil, gateway.NewError("charge", gateway.ErrChargeFailed, resp.StatusCode, resp.StatusMessage)
	}

	if resp.MaskedCard != "" {
		g.rdb.HSet(ctx, instrumentKey(req.InstrumentToken), "issuer", resp.Bank, "masked", resp.MaskedCard)
	}
	return &gateway.ChargeResult{
		TransactionID: resp.OrderID,
		GatewayTxRef:  resp.TransactionID,
		PaidAt:        g.now(),
	}, nil
}

func (g *Gateway) existingCharge(orderID string) (*gateway.ChargeResult, error) {
	resp, mErr := g.core.CheckTransaction(orderID)
	if err := translate("charge", gateway.ErrChargeFailed, mErr); err != nil {
		return nil, err
	}
	if resp.TransactionStatus != "capture" && resp.TransactionStatus != "settlement" {
		return nil, gateway.NewError("charge", gateway.ErrChargeFailed, resp.StatusCode, resp.StatusMessage)
	}
	return &gateway.ChargeResult{
		TransactionID: resp.OrderID,
		GatewayTxRef:  resp.TransactionID,
		PaidAt:        g.now(),
	}, nil
}

func (g *Gateway) Refund(ctx context.Context, req gateway.RefundRequest) error {
	amount, err := wholeUnits("refund", gateway.ErrRefundFailed, req.Amount)
	if err != nil {
		return err
	}
	current, err := g.GetCancellableAmount(ctx, req.TransactionID)
	if err != nil {
		return err
	}
	if !req.ExpectedCancellable.IsZero() && !current.Equal(req.ExpectedCancellable) {
		return gateway.NewError("refund", gateway.ErrRefundFailed, "CANCELLABLE_AMOUNT_CONSISTENCY_BROKEN", "cancellable amount changed")
	}

	_, mErr := g.core.RefundTransaction(req.TransactionID, &coreapi.RefundReq{
		RefundKey: refundKey(req.TransactionID, amount, current),
		Amount:    amount,
		Reason:    req.Reason,
	})
	if err := translate("refund", gateway.ErrRefundFailed, mErr); err != nil {
		return err
	}
	if err := g.rdb.IncrBy(ctx, refundedKey(req.TransactionID), amount).Err(); err != nil {
		return gateway.NewError("refund", gateway.ErrUnknownOutcome, "", "refund sent but not recorded: "+err.Error())
	}
	return nil
}

// refundKey is stable for the same refund against the same balance, so a
// resend after a lost answer is deduplicated by the provider.
func refundKey(txID string, amount int64, cancellableBefore decimal.Decimal) string {
	return fmt.Sprintf("%s-r%d-c%s", txID, amount, cancellableBefore.String())
}

// reportedRefunds is the refunded total in a status response. The summary
// field wins; otherwise the individual refunds are added up.
func reportedRefunds(resp *coreapi.TransactionStatusResponse) (decimal.Decimal, error) {
	if resp.RefundAmount != "" {
		return decimal.NewFromString(resp.RefundAmount)
	}
	total := decimal.Zero
	for _, r := range resp.Refunds {
		v, err := decimal.NewFromString(r.RefundAmount)
		if err != nil {
			return decimal.Zero, err
		}
		total = total.Add(v)
	}
	return total, nil
}

// GetCancellableAmount is gross minus the refunds the provider reports, or
// minus what this adapter recorded when that is larger. Fully refunded or
// cancelled transactions report ErrAlreadyCancelled.
func (g *Gateway) GetCancellableAmount(ctx context.Context, transactionID string) (decimal.Decimal, error) {
	resp, mErr := g.core.CheckTransaction(transactionID)
	if err := translate("cancellable_amount", gateway.ErrRefundFailed, mErr); err != nil {
		return decimal.Zero, err
	}
	switch resp.TransactionStatus {
	case "refund", "cancel", "deny", "expire":
		return decimal.Zero, gateway.ErrAlreadyCancelled
	}
	gross, err := decimal.NewFromString(resp.GrossAmount)
	if err != nil {
		return decimal.Zero, gateway.NewError("cancellable_amount", gateway.ErrRefundFailed, "", "unparseable gross amount "+resp.GrossAmount)
	}
	refunded, err := reportedRefunds(resp)
	if err != nil {
		return decimal.Zero, gateway.NewError("cancellable_amount", gateway.ErrRefundFailed, "", "unparseable refund amount: "+err.Error())
	}
	recorded, err := g.rdb.Get(ctx, refundedKey(transactionID)).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return decimal.Zero, gateway.NewError("cancellable_amount", gateway.ErrUnknownOutcome, "", err.Error())
	}
	refunded = decimal.Max(refunded, decimal.NewFromInt(recorded))

	cancellable := gross.Sub(refunded)
	if !cancellable.IsPositive() {
		return decimal.Zero, gateway.ErrAlreadyCancelled
	}
	return cancellable, nil
}

func (g *Gateway) CreateSchedule(ctx context.Context, req gateway.ScheduleRequest) (string, error) {
	if deleted, err := g.isDeleted(ctx, req.InstrumentToken); err != nil {
		return "", err
	} else if deleted {
		return "", gateway.NewError("create_schedule", gateway.ErrScheduleFailed, "INVALID_BILLING_KEY", "billing key was deleted")
	}
	id := uuid.NewString()
	_, err := g.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, scheduleKey(id),
			"run_at", req.RunAt.Unix(),
			"amount", req.Amount.String(),
			"order_label", req.OrderLabel,
			"plan_id", req.PlanID.String(),
		)
		pipe.ZAdd(ctx, scheduleIndexKey(req.InstrumentToken), redis.Z{Score: float64(req.RunAt.Unix()), Member: id})
		return nil
	})
	if err != nil {
		return "", gateway.NewError("create_schedule", gateway.ErrScheduleFailed, "", err.Error())
	}
	return id, nil
}

func (g *Gateway) ListSchedules(ctx context.Context, instrumentToken string, filter gateway.ScheduleFilter) ([]gateway.Schedule, error) {
	filter = filter.Window(g.now())
	ids, err := g.rdb.ZRangeByScore(ctx, scheduleIndexKey(instrumentToken), &redis.ZRangeBy{
		Min: strconv.FormatInt(filter.From.Unix(), 10),
		Max: strconv.FormatInt(filter.Until.Unix(), 10),
	}).Result()
	if err != nil {
		return nil, gateway.NewError("list_schedules", gateway.ErrScheduleFailed, "", err.Error())
	}

	out := make([]gateway.Schedule, 0, len(ids))
	for _, id := range ids {
		fields, err := g.rdb.HGetAll(ctx, scheduleKey(id)).Result()
		if err != nil {
			return nil, gateway.NewError("list_schedules", gateway.ErrScheduleFailed, "", err.Error())
		}
		s, ok := parseSchedule(id, fields)
		if !ok {
			continue
		}
		if filter.PlanID != uuid.Nil && s.PlanID != filter.PlanID {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

func parseSchedule(id string, fields map[string]string) (gateway.Schedule, bool) {
	if len(fields) == 0 {
		return gateway.Schedule{}, false
	}
	runAt, err := strconv.ParseInt(fields["run_at"], 10, 64)
	if err != nil {
		return gateway.Schedule{}, false
	}
	amount, err := decimal.NewFromString(fields["amount"])
	if err != nil {
		return gateway.Schedule{}, false
	}
	planID, _ := uuid.Parse(fields["plan_id"])
	return gateway.Schedule{
		ID:         id,
		RunAt:      time.Unix(runAt, 0),
		Amount:     amount,
		OrderLabel: fields["order_label"],
		PlanID:     planID,
	}, true
}

func (g *Gateway) RevokeSchedules(ctx context.Context, instrumentToken string, scheduleIDs []string) error {
	if len(scheduleIDs) == 0 {
		return nil
	}
	_, err := g.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		members := make([]interface{}, len(scheduleIDs))
		for i, id := range scheduleIDs {
			members[i] = id
			pipe.Del(ctx, scheduleKey(id))
		}
		pipe.ZRem(ctx, scheduleIndexKey(instrumentToken), members...)
		return nil
	})
	if err != nil {
		return gateway.NewError("revoke_schedules", gateway.ErrScheduleFailed, "", err.Error())
	}
	return nil
}

// DeleteInstrument tombstones the token and drops its schedules. Deleting an
// unknown or already deleted token succeeds.
func (g *Gateway) DeleteInstrument(ctx context.Context, instrumentToken, reason string) error {
	ids, err := g.rdb.ZRange(ctx, scheduleIndexKey(instrumentToken), 0, -1).Result()
	if err != nil {
		return gateway.NewError("delete_instrument", gateway.ErrInstrumentDelete, "", err.Error())
	}
	_, err = g.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, id := range ids {
			pipe.Del(ctx, scheduleKey(id))
		}
		pipe.Del(ctx, scheduleIndexKey(instrumentToken), instrumentKey(instrumentToken))
		pipe.Set(ctx, tombstoneKey(instrumentToken), reason, 0)
		return nil
	})
	if err != nil {
		return gateway.NewError("delete_instrument", gateway.ErrInstrumentDelete, "", err.Error())
	}
	return nil
}

func (g *Gateway) GetInstrumentInfo(ctx context.Context, instrumentToken string) (*gateway.InstrumentInfo, error) {
	deleted, err := g.isDeleted(ctx, instrumentToken)
	if err != nil {
		return nil, err
	}
	if deleted {
		return nil, gateway.ErrInstrumentNotFound
	}
	fields, err := g.rdb.HGetAll(ctx, instrumentKey(instrumentToken)).Result()
	if err != nil {
		return nil, gateway.NewError("instrument_info", gateway.ErrUnknownOutcome, "", err.Error())
	}
	return &gateway.InstrumentInfo{
		Token:        instrumentToken,
		IssuerName:   fields["issuer"],
		MaskedNumber: fields["masked"],
	}, nil
}

func (g *Gateway) isDeleted(ctx context.Context, token string) (bool, error) {
	n, err := g.rdb.Exists(ctx, tombstoneKey(token)).Result()
	if err != nil {
		return false, gateway.NewError("instrument_lookup", gateway.ErrUnknownOutcome, "", err.Error())
	}
	return n > 0, nil
}
