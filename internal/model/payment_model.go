package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Payment struct {
	Id             uuid.UUID        `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	UserId         uuid.UUID        `gorm:"type:uuid;not null;index"`
	SubscriptionId uuid.UUID        `gorm:"type:uuid;not null;index"`
	PlanId         uuid.UUID        `gorm:"type:uuid;not null"`
	GatewayTxId    string           `gorm:"type:varchar(255);uniqueIndex;not null"`
	IdempotencyId  string           `gorm:"type:varchar(255);uniqueIndex;not null"`
	Amount         decimal.Decimal  `gorm:"type:decimal(12,2);not null"`
	Status         string           `gorm:"type:varchar(20);not null;default:'paid'"`
	PaidAt         time.Time        `gorm:"not null;index"`
	RefundAmount   *decimal.Decimal `gorm:"type:decimal(12,2)"`
	RefundAt       *time.Time       `gorm:"index"`
	CreatedAt      time.Time        `gorm:"autoCreateTime"`
	UpdatedAt      time.Time        `gorm:"autoUpdateTime"`
}

func (Payment) TableName() string {
	return "payments"
}

// LedgerEntry rows are insert-only.
type LedgerEntry struct {
	Id             uuid.UUID       `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	PaymentId      uuid.UUID       `gorm:"type:uuid;not null;index"`
	SubscriptionId uuid.UUID       `gorm:"type:uuid;not null;index"`
	Kind           string          `gorm:"type:varchar(10);not null"`
	Amount         decimal.Decimal `gorm:"type:decimal(12,2);not null"`
	GatewayRef     string          `gorm:"type:varchar(255)"`
	CreatedAt      time.Time       `gorm:"autoCreateTime;index"`
}

func (LedgerEntry) TableName() string {
	return "ledger_entries"
}
