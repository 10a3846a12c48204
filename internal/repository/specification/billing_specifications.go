package specification

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ByPlanID struct {
	PlanID uuid.UUID
}

func (s ByPlanID) Apply(db *gorm.DB) *gorm.DB {
	return db.Where("plan_id = ?", s.PlanID)
}

type BySubscriptionID struct {
	SubscriptionID uuid.UUID
}

func (s BySubscriptionID) Apply(db *gorm.DB) *gorm.DB {
	return db.Where("subscription_id = ?", s.SubscriptionID)
}

// ByStatus works for every table with a status column; Column overrides it.
type ByStatus struct {
	Column string
	Status string
}

func (s ByStatus) Apply(db *gorm.DB) *gorm.DB {
	col := s.Column
	if col == "" {
		col = "status"
	}
	return db.Where(col+" = ?", s.Status)
}

// DueForRenewal selects auto-renewing subscriptions whose next bill date has passed.
type DueForRenewal struct {
	AsOf time.Time
}

func (s DueForRenewal) Apply(db *gorm.DB) *gorm.DB {
	return db.Where("auto_renew = ? AND next_bill_date IS NOT NULL AND next_bill_date <= ?", true, s.AsOf)
}

// ForUpdate takes a row lock for the surrounding transaction.
type ForUpdate struct{}

func (s ForUpdate) Apply(db *gorm.DB) *gorm.DB {
	return db.Clauses(clause.Locking{Strength: "UPDATE"})
}

type ChangedBetween struct {
	Column string
	From   *time.Time
	To     *time.Time
}

func (s ChangedBetween) Apply(db *gorm.DB) *gorm.DB {
	if s.From != nil {
		db = db.Where(s.Column+" >= ?", *s.From)
	}
	if s.To != nil {
		db = db.Where(s.Column+" < ?", *s.To)
	}
	return db
}
