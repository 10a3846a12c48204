package mapper

import (
	"time"

	"subscription-billing-be/internal/entity"
	"subscription-billing-be/internal/model"
)

type SubscriptionMapper struct{}

func NewSubscriptionMapper() *SubscriptionMapper {
	return &SubscriptionMapper{}
}

func (m *SubscriptionMapper) PlanToEntity(p *model.Plan) *entity.Plan {
	if p == nil {
		return nil
	}
	return &entity.Plan{
		Id:        p.Id,
		Name:      p.Name,
		Price:     p.Price,
		Period:    entity.BillingPeriod(p.Period),
		IsActive:  p.IsActive,
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}
}

func (m *SubscriptionMapper) PlanToModel(p *entity.Plan) *model.Plan {
	if p == nil {
		return nil
	}
	return &model.Plan{
		Id:        p.Id,
		Name:      p.Name,
		Price:     p.Price,
		Period:    string(p.Period),
		IsActive:  p.IsActive,
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}
}

func (m *SubscriptionMapper) SubscriptionToEntity(s *model.Subscription) *entity.Subscription {
	if s == nil {
		return nil
	}
	e := &entity.Subscription{
		Id:              s.Id,
		UserId:          s.UserId,
		PlanId:          s.PlanId,
		InstrumentId:    s.InstrumentId,
		Status:          entity.SubscriptionStatus(s.Status),
		StartDate:       s.StartDate,
		EndDate:         s.EndDate,
		NextBillDate:    s.NextBillDate,
		AutoRenew:       s.AutoRenew,
		OtherReason:     s.OtherReason,
		PendingChargeId: s.PendingChargeId,
		CreatedAt:       s.CreatedAt,
		UpdatedAt:       s.UpdatedAt,
	}
	if s.RemainingBillSeconds != nil {
		d := time.Duration(*s.RemainingBillSeconds) * time.Second
		e.RemainingBillDate = &d
	}
	if s.CancelledReason != nil {
		r := entity.CancelReason(*s.CancelledReason)
		e.CancelledReason = &r
	}
	return e
}

func (m *SubscriptionMapper) SubscriptionToModel(s *entity.Subscription) *model.Subscription {
	if s == nil {
		return nil
	}
	mdl := &model.Subscription{
		Id:              s.Id,
		UserId:          s.UserId,
		PlanId:          s.PlanId,
		InstrumentId:    s.InstrumentId,
		Status:          string(s.Status),
		StartDate:       s.StartDate,
		EndDate:         s.EndDate,
		NextBillDate:    s.NextBillDate,
		AutoRenew:       s.AutoRenew,
		OtherReason:     s.OtherReason,
		PendingChargeId: s.PendingChargeId,
		CreatedAt:       s.CreatedAt,
		UpdatedAt:       s.UpdatedAt,
	}
	if s.RemainingBillDate != nil {
		secs := int64(s.RemainingBillDate.Seconds())
		mdl.RemainingBillSeconds = &secs
	}
	if s.CancelledReason != nil {
		r := string(*s.CancelledReason)
		mdl.CancelledReason = &r
	}
	return mdl
}

// DetailToEntity expects Plan and User to be preloaded.
func (m *SubscriptionMapper) DetailToEntity(s *model.Subscription) *entity.SubscriptionDetail {
	if s == nil {
		return nil
	}
	return &entity.SubscriptionDetail{
		Subscription: *m.SubscriptionToEntity(s),
		PlanName:     s.Plan.Name,
		PlanPrice:    s.Plan.Price,
		UserEmail:    s.User.Email,
		UserName:     s.User.FullName,
	}
}

func (m *SubscriptionMapper) InstrumentToEntity(i *model.PaymentInstrument) *entity.PaymentInstrument {
	if i == nil {
		return nil
	}
	return &entity.PaymentInstrument{
		Id:           i.Id,
		UserId:       i.UserId,
		Token:        i.Token,
		IssuerName:   i.IssuerName,
		MaskedNumber: i.MaskedNumber,
		Status:       entity.InstrumentStatus(i.Status),
		CreatedAt:    i.CreatedAt,
		UpdatedAt:    i.UpdatedAt,
	}
}

func (m *SubscriptionMapper) InstrumentToModel(i *entity.PaymentInstrument) *model.PaymentInstrument {
	if i == nil {
		return nil
	}
	return &model.PaymentInstrument{
		Id:           i.Id,
		UserId:       i.UserId,
		Token:        i.Token,
		IssuerName:   i.IssuerName,
		MaskedNumber: i.MaskedNumber,
		Status:       string(i.Status),
		CreatedAt:    i.CreatedAt,
		UpdatedAt:    i.UpdatedAt,
	}
}
