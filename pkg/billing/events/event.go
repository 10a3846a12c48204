package events

import (
	"time"

	"subscription-billing-be/internal/entity"
	pkgEvents "subscription-billing-be/pkg/events"

	"github.com/google/uuid"
)

// SubscriptionEvent builds an event keyed by the subscription id. extra is
// merged over the default fields.
func SubscriptionEvent(eventType string, sub *entity.Subscription, extra map[string]interface{}) pkgEvents.BaseEvent {
	data := map[string]interface{}{
		"subscription_id": sub.Id.String(),
		"user_id":         sub.UserId.String(),
		"plan_id":         sub.PlanId.String(),
		"status":          string(sub.Status),
		"auto_renew":      sub.AutoRenew,
	}
	if sub.EndDate != nil {
		data["end_date"] = sub.EndDate.Format(time.RFC3339)
	}
	if sub.NextBillDate != nil {
		data["next_bill_date"] = sub.NextBillDate.Format(time.RFC3339)
	}
	for k, v := range extra {
		data[k] = v
	}
	return pkgEvents.BaseEvent{
		Type:        eventType,
		AggregateID: sub.Id.String(),
		Data:        data,
		OccurredAt:  time.Now(),
	}
}

func InstrumentEvent(eventType string, userId uuid.UUID, extra map[string]interface{}) pkgEvents.BaseEvent {
	data := map[string]interface{}{"user_id": userId.String()}
	for k, v := range extra {
		data[k] = v
	}
	return pkgEvents.BaseEvent{
		Type:        eventType,
		AggregateID: userId.String(),
		Data:        data,
		OccurredAt:  time.Now(),
	}
}
