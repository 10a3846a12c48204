// Package lifecycle implements the subscription state machine: activation,
// reactivation, pause and resume.
package lifecycle

import (
	"subscription-billing-be/internal/entity"
	"subscription-billing-be/pkg/billing"
)

// StatusNone stands for a subscriber with no row for the plan yet.
const StatusNone entity.SubscriptionStatus = ""

var transitions = map[entity.SubscriptionStatus][]entity.SubscriptionStatus{
	StatusNone:                         {entity.SubscriptionStatusActive},
	entity.SubscriptionStatusActive:    {entity.SubscriptionStatusActive, entity.SubscriptionStatusPaused, entity.SubscriptionStatusCancelled},
	entity.SubscriptionStatusPaused:    {entity.SubscriptionStatusActive, entity.SubscriptionStatusCancelled},
	entity.SubscriptionStatusCancelled: {entity.SubscriptionStatusActive},
}

// CanTransition reports whether from -> to is legal. active -> active is a renewal.
func CanTransition(from, to entity.SubscriptionStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func check(op string, from, to entity.SubscriptionStatus) error {
	if CanTransition(from, to) {
		return nil
	}
	name := string(from)
	if from == StatusNone {
		name = "none"
	}
	return billing.TransitionError(op, name, string(to))
}
