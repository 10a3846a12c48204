package entity

import (
	"time"

	"github.com/google/uuid"
)

type UserRole string
type SubscriberStatus string

const (
	UserRoleUser  UserRole = "user"
	UserRoleAdmin UserRole = "admin"

	SubscriberStatusNone          SubscriberStatus = "none"
	SubscriberStatusActive        SubscriberStatus = "active"
	SubscriberStatusPaused        SubscriberStatus = "paused"
	SubscriberStatusCancelled     SubscriberStatus = "cancelled"
	SubscriberStatusRefundPending SubscriberStatus = "refund_pending"
)

// User is the subscriber as seen by billing. Identity fields are owned by the
// identity provider; billing only writes SubStatus.
type User struct {
	Id                uuid.UUID
	Email             string
	FullName          string
	Phone             *string
	Role              UserRole
	SubStatus         SubscriberStatus
	IsActive          bool
	DeletionConfirmed bool
	DeletedAt         *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (u *User) DisplayName() string {
	if u.FullName == "" {
		return "Unnamed User"
	}
	return u.FullName
}
