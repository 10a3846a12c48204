package dto

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// WebhookRequest is the gateway notification body. CustomData identifies the
// subscription for charges the gateway executed from a schedule.
type WebhookRequest struct {
	PaymentReference string             `json:"payment_reference" validate:"required"`
	Status           string             `json:"status" validate:"required,oneof=paid failed cancelled"`
	Amount           decimal.Decimal    `json:"amount"`
	CustomData       *WebhookCustomData `json:"custom_data,omitempty"`
}

type WebhookCustomData struct {
	UserId uuid.UUID `json:"user_id"`
	PlanId uuid.UUID `json:"plan_id"`
}

type WebhookResponse struct {
	Message      string  `json:"message"`
	Duplicate    bool    `json:"duplicate,omitempty"`
	NextBillDate *string `json:"next_bill_date,omitempty"`
}
