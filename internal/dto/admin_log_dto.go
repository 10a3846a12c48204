package dto

import "time"

// Log ids are content hashes, not UUIDs.

type LogQuery struct {
	Level  string `query:"level" validate:"omitempty,oneof=debug info warn error"`
	Module string `query:"module"`
	Page   int    `query:"page" validate:"omitempty,min=1"`
	Limit  int    `query:"limit" validate:"omitempty,min=1,max=500"`
}

type LogListResponse struct {
	Id        string                 `json:"id"`
	Level     string                 `json:"level"`
	Module    string                 `json:"module"`
	Message   string                 `json:"message"`
	CreatedAt time.Time              `json:"created_at"`
	Details   map[string]interface{} `json:"details,omitempty"`
}
