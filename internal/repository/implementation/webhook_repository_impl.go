package implementation

import (
	"context"
	"time"

	"subscription-billing-be/internal/entity"
	"subscription-billing-be/internal/mapper"
	"subscription-billing-be/internal/model"
	"subscription-billing-be/internal/repository/contract"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type WebhookRepositoryImpl struct {
	db     *gorm.DB
	mapper *mapper.PaymentMapper
}

func NewWebhookRepository(db *gorm.DB) contract.WebhookRepository {
	return &WebhookRepositoryImpl{
		db:     db,
		mapper: mapper.NewPaymentMapper(),
	}
}

func (r *WebhookRepositoryImpl) CreateIfNotExists(ctx context.Context, event *entity.WebhookEvent) (bool, error) {
	if event.Id == uuid.Nil {
		event.Id = uuid.New()
	}
	m := r.mapper.WebhookToModel(event)
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "provider"}, {Name: "event_key"}},
		DoNothing: true,
	}).Create(m)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		return false, nil
	}
	*event = *r.mapper.WebhookToEntity(m)
	return true, nil
}

func (r *WebhookRepositoryImpl) MarkProcessed(ctx context.Context, id uuid.UUID, processingError string) error {
	now := time.Now()
	return r.db.WithContext(ctx).Model(&model.WebhookEvent{}).Where("id = ?", id).Updates(map[string]interface{}{
		"processed_at":     &now,
		"processing_error": processingError,
	}).Error
}
