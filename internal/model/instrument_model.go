package model

import (
	"time"

	"github.com/google/uuid"
)

type PaymentInstrument struct {
	Id           uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	UserId       uuid.UUID `gorm:"type:uuid;not null;uniqueIndex"`
	Token        string    `gorm:"type:varchar(255);not null;uniqueIndex"`
	IssuerName   *string   `gorm:"type:varchar(20)"`
	MaskedNumber *string   `gorm:"type:varchar(30)"`
	Status       string    `gorm:"type:varchar(20);not null;default:'active';index"`
	CreatedAt    time.Time `gorm:"autoCreateTime"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime"`
}

func (PaymentInstrument) TableName() string {
	return "payment_instruments"
}
