package dto

import "github.com/shopspring/decimal"

type CancelSubscriptionRequest struct {
	Reason      string `json:"reason" validate:"required,oneof=expensive quality slow_communication hire_full_time budget_cut other"`
	OtherReason string `json:"other_reason" validate:"required_if=Reason other,max=500"`
}

type CancelSubscriptionResponse struct {
	Status         string              `json:"status"`
	RefundedAmount decimal.Decimal     `json:"refunded_amount"`
	Calculation    RefundQuoteResponse `json:"calculation"`
}
