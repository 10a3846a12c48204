package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Plan struct {
	Id        uuid.UUID       `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	Name      string          `gorm:"type:varchar(100);not null"`
	Price     decimal.Decimal `gorm:"type:decimal(12,2);not null"`
	Period    string          `gorm:"type:billing_period;not null"`
	IsActive  bool            `gorm:"default:true"`
	CreatedAt time.Time       `gorm:"autoCreateTime"`
	UpdatedAt time.Time       `gorm:"autoUpdateTime"`
}

func (Plan) TableName() string {
	return "plans"
}

type Subscription struct {
	Id                   uuid.UUID  `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	UserId               uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex:idx_subscription_user_plan"`
	PlanId               uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex:idx_subscription_user_plan"`
	InstrumentId         *uuid.UUID `gorm:"type:uuid;index"`
	Status               string     `gorm:"type:varchar(20);not null;index"`
	StartDate            time.Time  `gorm:"not null"`
	EndDate              *time.Time
	NextBillDate         *time.Time `gorm:"index"`
	RemainingBillSeconds *int64
	AutoRenew            bool    `gorm:"default:false;index"`
	CancelledReason      *string `gorm:"type:varchar(50)"`
	OtherReason          *string `gorm:"type:varchar(255)"`
	PendingChargeId      *string `gorm:"type:varchar(64)"`
	CreatedAt            time.Time `gorm:"autoCreateTime"`
	UpdatedAt            time.Time `gorm:"autoUpdateTime"`

	// Relations
	Plan Plan `gorm:"foreignKey:PlanId"`
	User User `gorm:"foreignKey:UserId"`
}

func (Subscription) TableName() string {
	return "subscriptions"
}
