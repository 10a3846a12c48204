package entity

import (
	"time"

	"github.com/google/uuid"
)

type InstrumentStatus string

const (
	InstrumentStatusActive          InstrumentStatus = "active"
	InstrumentStatusPendingDeletion InstrumentStatus = "pending_deletion"
)

// PaymentInstrument is the gateway billing key owned by one subscriber.
// Card metadata is display-only and always masked.
type PaymentInstrument struct {
	Id           uuid.UUID
	UserId       uuid.UUID
	Token        string
	IssuerName   *string
	MaskedNumber *string
	Status       InstrumentStatus
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
