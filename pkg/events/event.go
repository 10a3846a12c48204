package events

import (
	"encoding/json"
	"time"
)

// Event is the contract for every domain event leaving the service.
type Event interface {
	// EventType returns the unique code, e.g. "BILLING_SUBSCRIPTION_RENEWED".
	EventType() string
	// Key groups events that must stay ordered, usually a subscription id.
	Key() string
	Payload() map[string]interface{}
	Timestamp() time.Time
}

type BaseEvent struct {
	Type        string
	AggregateID string
	Data        map[string]interface{}
	OccurredAt  time.Time
}

func (e BaseEvent) EventType() string {
	return e.Type
}

func (e BaseEvent) Key() string {
	return e.AggregateID
}

func (e BaseEvent) Payload() map[string]interface{} {
	return e.Data
}

func (e BaseEvent) Timestamp() time.Time {
	return e.OccurredAt
}

// Envelope is the JSON form shared by every transport.
type Envelope struct {
	Type       string                 `json:"type"`
	Key        string                 `json:"key"`
	Data       map[string]interface{} `json:"data"`
	OccurredAt time.Time              `json:"occurred_at"`
}

func Marshal(e Event) ([]byte, error) {
	return json.Marshal(Envelope{
		Type:       e.EventType(),
		Key:        e.Key(),
		Data:       e.Payload(),
		OccurredAt: e.Timestamp(),
	})
}

func Unmarshal(data []byte) (BaseEvent, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return BaseEvent{}, err
	}
	return BaseEvent{Type: env.Type, AggregateID: env.Key, Data: env.Data, OccurredAt: env.OccurredAt}, nil
}
