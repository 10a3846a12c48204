package specification

import "gorm.io/gorm"

// SubscriberSearch matches subscriptions whose subscriber email or name
// contains Query (case-insensitive). It joins users itself.
type SubscriberSearch struct {
	Query string
}

func (s SubscriberSearch) Apply(db *gorm.DB) *gorm.DB {
	pattern := "%" + s.Query + "%"
	return db.Joins("JOIN users ON users.id = subscriptions.user_id").
		Where("users.email ILIKE ? OR users.full_name ILIKE ?", pattern, pattern)
}
