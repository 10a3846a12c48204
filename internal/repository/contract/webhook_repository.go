package contract

import (
	"context"

	"subscription-billing-be/internal/entity"

	"github.com/google/uuid"
)

type WebhookRepository interface {
	// CreateIfNotExists inserts the event unless (provider, event key) is
	// already recorded; created reports whether this call inserted it.
	CreateIfNotExists(ctx context.Context, event *entity.WebhookEvent) (created bool, err error)
	MarkProcessed(ctx context.Context, id uuid.UUID, processingError string) error
}
