package implementation

import (
	"context"

	"subscription-billing-be/internal/entity"
	"subscription-billing-be/internal/mapper"
	"subscription-billing-be/internal/model"
	"subscription-billing-be/internal/repository/contract"
	"subscription-billing-be/internal/repository/specification"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type HistoryRepositoryImpl struct {
	db     *gorm.DB
	mapper *mapper.PaymentMapper
}

func NewHistoryRepository(db *gorm.DB) contract.HistoryRepository {
	return &HistoryRepositoryImpl{
		db:     db,
		mapper: mapper.NewPaymentMapper(),
	}
}

func (r *HistoryRepositoryImpl) applySpecifications(db *gorm.DB, specs ...specification.Specification) *gorm.DB {
	for _, spec := range specs {
		db = spec.Apply(db)
	}
	return db
}

func (r *HistoryRepositoryImpl) Append(ctx context.Context, history *entity.SubscriptionHistory) error {
	if history.Id == uuid.Nil {
		history.Id = uuid.New()
	}
	m := r.mapper.HistoryToModel(history)
	if err := r.db.WithContext(ctx).Create(m).Error; err != nil {
		return err
	}
	*history = *r.mapper.HistoryToEntity(m)
	return nil
}

func historySpecs(filter contract.HistoryFilter) []specification.Specification {
	var specs []specification.Specification
	if filter.UserId != nil {
		specs = append(specs, specification.UserOwnedBy{UserID: *filter.UserId})
	}
	if filter.PlanId != nil {
		specs = append(specs, specification.ByPlanID{PlanID: *filter.PlanId})
	}
	if filter.Status != nil {
		specs = append(specs, specification.ByStatus{Status: string(*filter.Status)})
	}
	if filter.From != nil || filter.To != nil {
		specs = append(specs, specification.ChangedBetween{Column: "change_date", From: filter.From, To: filter.To})
	}
	return specs
}

func (r *HistoryRepositoryImpl) Count(ctx context.Context, filter contract.HistoryFilter) (int64, error) {
	var total int64
	err := r.applySpecifications(r.db.WithContext(ctx).Model(&model.SubscriptionHistory{}), historySpecs(filter)...).Count(&total).Error
	return total, err
}

func (r *HistoryRepositoryImpl) CountUsers(ctx context.Context, filter contract.HistoryFilter) (int64, error) {
	var total int64
	err := r.applySpecifications(r.db.WithContext(ctx).Model(&model.SubscriptionHistory{}), historySpecs(filter)...).
		Distinct("user_id").Count(&total).Error
	return total, err
}

func (r *HistoryRepositoryImpl) FindAll(ctx context.Context, filter contract.HistoryFilter) ([]*entity.SubscriptionHistory, int64, error) {
	specs := historySpecs(filter)

	var total int64
	if err := r.applySpecifications(r.db.WithContext(ctx).Model(&model.SubscriptionHistory{}), specs...).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	specs = append(specs, specification.OrderBy{Field: "change_date", Desc: true})
	if filter.Limit > 0 {
		specs = append(specs, specification.Pagination{Limit: filter.Limit, Offset: filter.Offset})
	}
	var models []*model.SubscriptionHistory
	if err := r.applySpecifications(r.db.WithContext(ctx), specs...).Find(&models).Error; err != nil {
		return nil, 0, err
	}
	out := make([]*entity.SubscriptionHistory, len(models))
	for i, m := range models {
		out[i] = r.mapper.HistoryToEntity(m)
	}
	return out, total, nil
}
