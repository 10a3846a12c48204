package dto

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// --- Plans ---

type PlanResponse struct {
	Id     uuid.UUID       `json:"id"`
	Name   string          `json:"name"`
	Price  decimal.Decimal `json:"price"`
	Period string          `json:"period"`
}

// --- Subscriptions ---

type ActivateSubscriptionRequest struct {
	PlanId uuid.UUID `json:"plan_id" validate:"required"`
}

type SubscriptionResponse struct {
	Id              uuid.UUID  `json:"id"`
	PlanId          uuid.UUID  `json:"plan_id"`
	PlanName        string     `json:"plan_name,omitempty"`
	Status          string     `json:"status"`
	StartDate       time.Time  `json:"start_date"`
	EndDate         *time.Time `json:"end_date"`
	NextBillDate    *time.Time `json:"next_bill_date"`
	RemainingDays   *int64     `json:"remaining_days,omitempty"`
	AutoRenew       bool       `json:"auto_renew"`
	CancelledReason *string    `json:"cancelled_reason,omitempty"`
}

type PaymentResponse struct {
	Id           uuid.UUID       `json:"id"`
	GatewayTxId  string          `json:"gateway_tx_id"`
	Amount       decimal.Decimal `json:"amount"`
	RefundAmount decimal.Decimal `json:"refund_amount"`
	Status       string          `json:"status"`
	PaidAt       time.Time       `json:"paid_at"`
}

type TransitionResponse struct {
	Subscription *SubscriptionResponse `json:"subscription"`
	Payment      *PaymentResponse      `json:"payment,omitempty"`
}

// --- History ---

type HistoryQuery struct {
	PlanId string `query:"plan_id" validate:"omitempty,uuid"`
	Status string `query:"status" validate:"omitempty,oneof=renewal cancel pause restart refund_pending"`
	Page   int    `query:"page" validate:"omitempty,min=1"`
	Limit  int    `query:"limit" validate:"omitempty,min=1,max=100"`
}

type HistoryResponse struct {
	Id             uuid.UUID              `json:"id"`
	SubscriptionId uuid.UUID              `json:"subscription_id"`
	UserId         uuid.UUID              `json:"user_id"`
	PlanId         uuid.UUID              `json:"plan_id"`
	Status         string                 `json:"status"`
	ChangeDate     time.Time              `json:"change_date"`
	Snapshot       map[string]interface{} `json:"snapshot"`
}

type Page[T any] struct {
	Items []T   `json:"items"`
	Total int64 `json:"total"`
	Page  int   `json:"page"`
	Limit int   `json:"limit"`
}
