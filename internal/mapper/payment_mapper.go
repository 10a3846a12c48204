package mapper

import (
	"encoding/json"

	"subscription-billing-be/internal/entity"
	"subscription-billing-be/internal/model"

	"gorm.io/datatypes"
)

type PaymentMapper struct{}

func NewPaymentMapper() *PaymentMapper {
	return &PaymentMapper{}
}

func (m *PaymentMapper) PaymentToEntity(p *model.Payment) *entity.Payment {
	if p == nil {
		return nil
	}
	return &entity.Payment{
		Id:             p.Id,
		UserId:         p.UserId,
		SubscriptionId: p.SubscriptionId,
		PlanId:         p.PlanId,
		GatewayTxId:    p.GatewayTxId,
		IdempotencyId:  p.IdempotencyId,
		Amount:         p.Amount,
		Status:         entity.PaymentStatus(p.Status),
		PaidAt:         p.PaidAt,
		RefundAmount:   p.RefundAmount,
		RefundAt:       p.RefundAt,
		CreatedAt:      p.CreatedAt,
		UpdatedAt:      p.UpdatedAt,
	}
}

func (m *PaymentMapper) PaymentToModel(p *entity.Payment) *model.Payment {
	if p == nil {
		return nil
	}
	return &model.Payment{
		Id:             p.Id,
		UserId:         p.UserId,
		SubscriptionId: p.SubscriptionId,
		PlanId:         p.PlanId,
		GatewayTxId:    p.GatewayTxId,
		IdempotencyId:  p.IdempotencyId,
		Amount:         p.Amount,
		Status:         string(p.Status),
		PaidAt:         p.PaidAt,
		RefundAmount:   p.RefundAmount,
		RefundAt:       p.RefundAt,
		CreatedAt:      p.CreatedAt,
		UpdatedAt:      p.UpdatedAt,
	}
}

func (m *PaymentMapper) EntryToEntity(e *model.LedgerEntry) *entity.LedgerEntry {
	if e == nil {
		return nil
	}
	return &entity.LedgerEntry{
		Id:             e.Id,
		PaymentId:      e.PaymentId,
		SubscriptionId: e.SubscriptionId,
		Kind:           entity.LedgerEntryKind(e.Kind),
		Amount:         e.Amount,
		GatewayRef:     e.GatewayRef,
		CreatedAt:      e.CreatedAt,
	}
}

func (m *PaymentMapper) EntryToModel(e *entity.LedgerEntry) *model.LedgerEntry {
	if e == nil {
		return nil
	}
	return &model.LedgerEntry{
		Id:             e.Id,
		PaymentId:      e.PaymentId,
		SubscriptionId: e.SubscriptionId,
		Kind:           string(e.Kind),
		Amount:         e.Amount,
		GatewayRef:     e.GatewayRef,
		CreatedAt:      e.CreatedAt,
	}
}

func (m *PaymentMapper) HistoryToEntity(h *model.SubscriptionHistory) *entity.SubscriptionHistory {
	if h == nil {
		return nil
	}
	var snapshot map[string]interface{}
	if len(h.Snapshot) > 0 {
		// Malformed snapshots are surfaced as empty rather than failing the listing.
		_ = json.Unmarshal(h.Snapshot, &snapshot)
	}
	return &entity.SubscriptionHistory{
		Id:             h.Id,
		SubscriptionId: h.SubscriptionId,
		UserId:         h.UserId,
		PlanId:         h.PlanId,
		Status:         entity.HistoryStatus(h.Status),
		ChangeDate:     h.ChangeDate,
		Snapshot:       snapshot,
	}
}

func (m *PaymentMapper) HistoryToModel(h *entity.SubscriptionHistory) *model.SubscriptionHistory {
	if h == nil {
		return nil
	}
	var raw datatypes.JSON
	if h.Snapshot != nil {
		if b, err := json.Marshal(h.Snapshot); err == nil {
			raw = datatypes.JSON(b)
		}
	}
	return &model.SubscriptionHistory{
		Id:             h.Id,
		SubscriptionId: h.SubscriptionId,
		UserId:         h.UserId,
		PlanId:         h.PlanId,
		Status:         string(h.Status),
		ChangeDate:     h.ChangeDate,
		Snapshot:       raw,
	}
}

func (m *PaymentMapper) WebhookToEntity(w *model.WebhookEvent) *entity.WebhookEvent {
	if w == nil {
		return nil
	}
	return &entity.WebhookEvent{
		Id:              w.Id,
		Provider:        w.Provider,
		EventKey:        w.EventKey,
		Payload:         []byte(w.Payload),
		ProcessedAt:     w.ProcessedAt,
		ProcessingError: w.ProcessingError,
		CreatedAt:       w.CreatedAt,
	}
}

func (m *PaymentMapper) WebhookToModel(w *entity.WebhookEvent) *model.WebhookEvent {
	if w == nil {
		return nil
	}
	payload := datatypes.JSON(w.Payload)
	if len(payload) == 0 || !json.Valid(payload) {
		payload = datatypes.JSON("{}")
	}
	return &model.WebhookEvent{
		Id:              w.Id,
		Provider:        w.Provider,
		EventKey:        w.EventKey,
		Payload:         payload,
		ProcessedAt:     w.ProcessedAt,
		ProcessingError: w.ProcessingError,
		CreatedAt:       w.CreatedAt,
	}
}
