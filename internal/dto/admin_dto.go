package dto

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// --- Dashboard ---

type AdminDashboardStats struct {
	ActiveSubscribers     int64           `json:"active_subscribers"`
	PausedToday           int64           `json:"paused_today"`
	NewSubscriptionsToday int64           `json:"new_subscriptions_today"`
	CancellationsTotal    int64           `json:"cancellations_total"`
	CancellationsToday    int64           `json:"cancellations_today"`
	RefundPendingTotal    int64           `json:"refund_pending_total"`
	RefundPendingToday    int64           `json:"refund_pending_today"`
	MonthlySales          decimal.Decimal `json:"monthly_sales"`
	MonthlyRefunds        decimal.Decimal `json:"monthly_refunds"`
	MonthlyNetSales       decimal.Decimal `json:"monthly_net_sales"`
}

type CancelReasonCount struct {
	Reason string `json:"reason"`
	Count  int64  `json:"count"`
}

// --- Sales ---

type SalesQuery struct {
	From string `query:"from" validate:"omitempty,datetime=2006-01"`
	To   string `query:"to" validate:"omitempty,datetime=2006-01"`
}

type MonthlySalesResponse struct {
	Month        string          `json:"month"`
	PaidTotal    decimal.Decimal `json:"paid_total"`
	RefundTotal  decimal.Decimal `json:"refund_total"`
	NetTotal     decimal.Decimal `json:"net_total"`
	PaymentCount int             `json:"payment_count"`
	RefundCount  int             `json:"refund_count"`
}

type SalesReportResponse struct {
	Months      []MonthlySalesResponse `json:"months"`
	PaidTotal   decimal.Decimal        `json:"paid_total"`
	RefundTotal decimal.Decimal        `json:"refund_total"`
	NetTotal    decimal.Decimal        `json:"net_total"`
}

// --- Subscriptions ---

type AdminSubscriptionQuery struct {
	Search string `query:"search"`
	Status string `query:"status" validate:"omitempty,oneof=active paused cancelled"`
	PlanId string `query:"plan_id" validate:"omitempty,uuid"`
	Page   int    `query:"page" validate:"omitempty,min=1"`
	Limit  int    `query:"limit" validate:"omitempty,min=1,max=100"`
}

type AdminSubscriptionResponse struct {
	SubscriptionResponse
	UserId    uuid.UUID       `json:"user_id"`
	UserEmail string          `json:"user_email"`
	UserName  string          `json:"user_name"`
	PlanPrice decimal.Decimal `json:"plan_price"`
	FirstDate *time.Time      `json:"first_payment_date"`
}

type AdminHistoryQuery struct {
	HistoryQuery
	UserId string `query:"user_id" validate:"omitempty,uuid"`
	From   string `query:"from" validate:"omitempty,datetime=2006-01-02"`
	To     string `query:"to" validate:"omitempty,datetime=2006-01-02"`
}
