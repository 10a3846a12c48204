package implementation

import (
	"context"
	"errors"
	"time"

	"subscription-billing-be/internal/entity"
	"subscription-billing-be/internal/mapper"
	"subscription-billing-be/internal/model"
	"subscription-billing-be/internal/repository/contract"
	"subscription-billing-be/internal/repository/specification"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type UserRepositoryImpl struct {
	db     *gorm.DB
	mapper *mapper.UserMapper
}

func NewUserRepository(db *gorm.DB) contract.UserRepository {
	return &UserRepositoryImpl{
		db:     db,
		mapper: mapper.NewUserMapper(),
	}
}

func (r *UserRepositoryImpl) applySpecifications(db *gorm.DB, specs ...specification.Specification) *gorm.DB {
	for _, spec := range specs {
		db = spec.Apply(db)
	}
	return db
}

func (r *UserRepositoryImpl) Create(ctx context.Context, user *entity.User) error {
	if user.Id == uuid.Nil {
		user.Id = uuid.New()
	}
	modelUser := r.mapper.ToModel(user)
	if err := r.db.WithContext(ctx).Create(modelUser).Error; err != nil {
		return err
	}
	*user = *r.mapper.ToEntity(modelUser)
	return nil
}

func (r *UserRepositoryImpl) FindByID(ctx context.Context, id uuid.UUID) (*entity.User, error) {
	var m model.User
	query := r.applySpecifications(r.db.WithContext(ctx), specification.ByID{ID: id})
	if err := query.First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return r.mapper.ToEntity(&m), nil
}

func (r *UserRepositoryImpl) FindBySubStatus(ctx context.Context, status entity.SubscriberStatus) ([]*entity.User, error) {
	var models []*model.User
	query := r.applySpecifications(r.db.WithContext(ctx),
		specification.ByStatus{Column: "sub_status", Status: string(status)},
		specification.OrderBy{Field: "updated_at"},
	)
	if err := query.Find(&models).Error; err != nil {
		return nil, err
	}
	users := make([]*entity.User, len(models))
	for i, m := range models {
		users[i] = r.mapper.ToEntity(m)
	}
	return users, nil
}

func (r *UserRepositoryImpl) CountBySubStatus(ctx context.Context, status entity.SubscriberStatus) (int64, error) {
	var total int64
	query := r.applySpecifications(r.db.WithContext(ctx).Model(&model.User{}), specification.ByStatus{Column: "sub_status", Status: string(status)})
	err := query.Count(&total).Error
	return total, err
}

func (r *UserRepositoryImpl) UpdateSubStatus(ctx context.Context, id uuid.UUID, status entity.SubscriberStatus) error {
	return r.db.WithContext(ctx).Model(&model.User{}).Where("id = ?", id).Update("sub_status", string(status)).Error
}

func (r *UserRepositoryImpl) PurgeInactive(ctx context.Context, deletedBefore time.Time) (int64, error) {
	query := r.applySpecifications(r.db.WithContext(ctx).Model(&model.User{}), specification.InactiveSince{Before: deletedBefore})
	res := query.Updates(map[string]interface{}{
		"email":              gorm.Expr("'purged+' || id::text || '@invalid.local'"),
		"full_name":          "",
		"phone":              nil,
		"deletion_confirmed": false,
	})
	return res.RowsAffected, res.Error
}
