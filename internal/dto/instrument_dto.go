package dto

import (
	"time"

	"github.com/google/uuid"
)

type RegisterInstrumentRequest struct {
	Token string `json:"billing_key" validate:"required,min=4,max=200"`
}

type DeleteInstrumentRequest struct {
	Reason string `json:"reason" validate:"max=200"`
}

type InstrumentResponse struct {
	Id           uuid.UUID `json:"id"`
	IssuerName   *string   `json:"issuer_name"`
	MaskedNumber *string   `json:"masked_number"`
	Status       string    `json:"status"`
	UpdatedAt    time.Time `json:"updated_at"`
}
