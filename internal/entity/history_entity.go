package entity

import (
	"time"

	"github.com/google/uuid"
)

type HistoryStatus string

const (
	HistoryStatusRenewal       HistoryStatus = "renewal"
	HistoryStatusCancel        HistoryStatus = "cancel"
	HistoryStatusPause         HistoryStatus = "pause"
	HistoryStatusRestart       HistoryStatus = "restart"
	HistoryStatusRefundPending HistoryStatus = "refund_pending"
)

type SubscriptionHistory struct {
	Id             uuid.UUID
	SubscriptionId uuid.UUID
	UserId         uuid.UUID
	PlanId         uuid.UUID
	Status         HistoryStatus
	ChangeDate     time.Time
	Snapshot       map[string]interface{}
}

type WebhookEvent struct {
	Id              uuid.UUID
	Provider        string
	EventKey        string
	Payload         []byte
	ProcessedAt     *time.Time
	ProcessingError string
	CreatedAt       time.Time
}
