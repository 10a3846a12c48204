// Package mapper converts billing entities into API response DTOs.
package mapper

import (
	"math"

	"subscription-billing-be/internal/dto"
	"subscription-billing-be/internal/entity"
	"subscription-billing-be/pkg/billing/refund"
)

func PlanToResponse(p *entity.Plan) *dto.PlanResponse {
	if p == nil {
		return nil
	}
	return &dto.PlanResponse{
		Id:     p.Id,
		Name:   p.Name,
		Price:  p.Price,
		Period: string(p.Period),
	}
}

func PlansToResponse(plans []*entity.Plan) []*dto.PlanResponse {
	res := make([]*dto.PlanResponse, 0, len(plans))
	for _, p := range plans {
		res = append(res, PlanToResponse(p))
	}
	return res
}

// SubscriptionToResponse converts s. plan may be nil when only ids are needed.
func SubscriptionToResponse(s *entity.Subscription, plan *entity.Plan) *dto.SubscriptionResponse {
	if s == nil {
		return nil
	}
	res := &dto.SubscriptionResponse{
		Id:           s.Id,
		PlanId:       s.PlanId,
		Status:       string(s.Status),
		StartDate:    s.StartDate,
		EndDate:      s.EndDate,
		NextBillDate: s.NextBillDate,
		AutoRenew:    s.AutoRenew,
	}
	if plan != nil {
		res.PlanName = plan.Name
	}
	if s.RemainingBillDate != nil {
		days := int64(math.Floor(s.RemainingBillDate.Hours() / 24))
		res.RemainingDays = &days
	}
	if s.CancelledReason != nil {
		reason := string(*s.CancelledReason)
		res.CancelledReason = &reason
	}
	return res
}

func PaymentToResponse(p *entity.Payment) *dto.PaymentResponse {
	if p == nil {
		return nil
	}
	return &dto.PaymentResponse{
		Id:           p.Id,
		GatewayTxId:  p.GatewayTxId,
		Amount:       p.Amount,
		RefundAmount: p.Refunded(),
		Status:       string(p.Status),
		PaidAt:       p.PaidAt,
	}
}

func HistoryToResponse(h *entity.SubscriptionHistory) *dto.HistoryResponse {
	return &dto.HistoryResponse{
		Id:             h.Id,
		SubscriptionId: h.SubscriptionId,
		UserId:         h.UserId,
		PlanId:         h.PlanId,
		Status:         string(h.Status),
		ChangeDate:     h.ChangeDate,
		Snapshot:       h.Snapshot,
	}
}

func HistoriesToResponse(rows []*entity.SubscriptionHistory) []*dto.HistoryResponse {
	res := make([]*dto.HistoryResponse, 0, len(rows))
	for _, h := range rows {
		res = append(res, HistoryToResponse(h))
	}
	return res
}

func QuoteToResponse(r refund.Result) dto.RefundQuoteResponse {
	return dto.RefundQuoteResponse{
		Outcome:       string(r.Outcome),
		Amount:        r.Amount,
		Raw:           r.Raw,
		Cancellable:   r.Cancellable,
		TotalDays:     r.TotalDays,
		UsedDays:      r.UsedDays,
		RemainingDays: r.RemainingDays,
	}
}

func InstrumentToResponse(ins *entity.PaymentInstrument) *dto.InstrumentResponse {
	if ins == nil {
		return nil
	}
	return &dto.InstrumentResponse{
		Id:           ins.Id,
		IssuerName:   ins.IssuerName,
		MaskedNumber: ins.MaskedNumber,
		Status:       string(ins.Status),
		UpdatedAt:    ins.UpdatedAt,
	}
}

func SubscriptionDetailToAdminResponse(d *entity.SubscriptionDetail) *dto.AdminSubscriptionResponse {
	return &dto.AdminSubscriptionResponse{
		SubscriptionResponse: *SubscriptionToResponse(&d.Subscription, &entity.Plan{Name: d.PlanName}),
		UserId:               d.UserId,
		UserEmail:            d.UserEmail,
		UserName:             d.UserName,
		PlanPrice:            d.PlanPrice,
		FirstDate:            d.FirstDate,
	}
}
