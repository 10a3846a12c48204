package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type SubscriptionHistory struct {
	Id             uuid.UUID      `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	SubscriptionId uuid.UUID      `gorm:"type:uuid;not null;index"`
	UserId         uuid.UUID      `gorm:"type:uuid;not null;index"`
	PlanId         uuid.UUID      `gorm:"type:uuid;not null"`
	Status         string         `gorm:"type:varchar(20);not null;index"`
	ChangeDate     time.Time      `gorm:"not null;index"`
	Snapshot       datatypes.JSON `gorm:"type:jsonb"`
}

func (SubscriptionHistory) TableName() string {
	return "subscription_histories"
}

type WebhookEvent struct {
	Id              uuid.UUID      `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	Provider        string         `gorm:"type:varchar(50);not null;uniqueIndex:idx_webhook_provider_event"`
	EventKey        string         `gorm:"type:varchar(255);not null;uniqueIndex:idx_webhook_provider_event"`
	Payload         datatypes.JSON `gorm:"type:jsonb"`
	ProcessedAt     *time.Time
	ProcessingError string    `gorm:"type:text"`
	CreatedAt       time.Time `gorm:"autoCreateTime"`
}

func (WebhookEvent) TableName() string {
	return "webhook_events"
}
