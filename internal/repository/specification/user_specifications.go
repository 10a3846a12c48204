package specification

import (
	"time"

	"gorm.io/gorm"

	"github.com/google/uuid"
)

type UserOwnedBy struct {
	UserID uuid.UUID
}

func (s UserOwnedBy) Apply(db *gorm.DB) *gorm.DB {
	return db.Where("user_id = ?", s.UserID)
}

// InactiveSince matches deactivated accounts with confirmed deletion older than Before.
type InactiveSince struct {
	Before time.Time
}

func (s InactiveSince) Apply(db *gorm.DB) *gorm.DB {
	return db.Where("is_active = ? AND deletion_confirmed = ? AND deleted_at IS NOT NULL AND deleted_at < ?", false, true, s.Before)
}
