package dto

import "github.com/shopspring/decimal"

// RefundQuoteResponse is the pro-rated refund a cancel would issue right now.
type RefundQuoteResponse struct {
	Outcome       string          `json:"outcome"`
	Amount        decimal.Decimal `json:"amount"`
	Raw           decimal.Decimal `json:"raw"`
	Cancellable   decimal.Decimal `json:"cancellable"`
	TotalDays     int             `json:"total_days"`
	UsedDays      int             `json:"used_days"`
	RemainingDays int             `json:"remaining_days"`
}
