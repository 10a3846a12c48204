package implementation

import (
	"context"
	"errors"

	"subscription-billing-be/internal/entity"
	"subscription-billing-be/internal/mapper"
	"subscription-billing-be/internal/model"
	"subscription-billing-be/internal/repository/contract"
	"subscription-billing-be/internal/repository/specification"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type InstrumentRepositoryImpl struct {
	db     *gorm.DB
	mapper *mapper.SubscriptionMapper
}

func NewInstrumentRepository(db *gorm.DB) contract.InstrumentRepository {
	return &InstrumentRepositoryImpl{
		db:     db,
		mapper: mapper.NewSubscriptionMapper(),
	}
}

func (r *InstrumentRepositoryImpl) applySpecifications(db *gorm.DB, specs ...specification.Specification) *gorm.DB {
	for _, spec := range specs {
		db = spec.Apply(db)
	}
	return db
}

func (r *InstrumentRepositoryImpl) Create(ctx context.Context, instrument *entity.PaymentInstrument) error {
	if instrument.Id == uuid.Nil {
		instrument.Id = uuid.New()
	}
	m := r.mapper.InstrumentToModel(instrument)
	if err := r.db.WithContext(ctx).Create(m).Error; err != nil {
		return err
	}
	*instrument = *r.mapper.InstrumentToEntity(m)
	return nil
}

func (r *InstrumentRepositoryImpl) Update(ctx context.Context, instrument *entity.PaymentInstrument) error {
	m := r.mapper.InstrumentToModel(instrument)
	if err := r.db.WithContext(ctx).Save(m).Error; err != nil {
		return err
	}
	*instrument = *r.mapper.InstrumentToEntity(m)
	return nil
}

func (r *InstrumentRepositoryImpl) Delete(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).Where("id = ?", id).Delete(&model.PaymentInstrument{}).Error
}

func (r *InstrumentRepositoryImpl) findOne(ctx context.Context, specs ...specification.Specification) (*entity.PaymentInstrument, error) {
	var m model.PaymentInstrument
	if err := r.applySpecifications(r.db.WithContext(ctx), specs...).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return r.mapper.InstrumentToEntity(&m), nil
}

func (r *InstrumentRepositoryImpl) FindByID(ctx context.Context, id uuid.UUID) (*entity.PaymentInstrument, error) {
	return r.findOne(ctx, specification.ByID{ID: id})
}

func (r *InstrumentRepositoryImpl) FindByUser(ctx context.Context, userId uuid.UUID) (*entity.PaymentInstrument, error) {
	return r.findOne(ctx, specification.UserOwnedBy{UserID: userId})
}

func (r *InstrumentRepositoryImpl) FindPendingDeletion(ctx context.Context) ([]*entity.PaymentInstrument, error) {
	var models []*model.PaymentInstrument
	query := r.applySpecifications(r.db.WithContext(ctx),
		specification.ByStatus{Status: string(entity.InstrumentStatusPendingDeletion)},
		specification.OrderBy{Field: "updated_at"},
	)
	if err := query.Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]*entity.PaymentInstrument, len(models))
	for i, m := range models {
		out[i] = r.mapper.InstrumentToEntity(m)
	}
	return out, nil
}
