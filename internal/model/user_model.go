package model

import (
	"time"

	"github.com/google/uuid"
)

type User struct {
	Id                uuid.UUID  `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	Email             string     `gorm:"type:varchar(255);uniqueIndex;not null"`
	FullName          string     `gorm:"type:varchar(50);not null"`
	Phone             *string    `gorm:"type:varchar(13);uniqueIndex"`
	Role              string     `gorm:"type:varchar(50);not null;default:'user'"`
	SubStatus         string     `gorm:"type:varchar(20);not null;default:'none'"`
	IsActive          bool       `gorm:"default:true"`
	DeletionConfirmed bool       `gorm:"default:false"`
	DeletedAt         *time.Time `gorm:"index"`
	CreatedAt         time.Time  `gorm:"autoCreateTime"`
	UpdatedAt         time.Time  `gorm:"autoUpdateTime"`
}

func (User) TableName() string {
	return "users"
}
