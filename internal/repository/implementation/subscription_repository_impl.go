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

type SubscriptionRepositoryImpl struct {
	db     *gorm.DB
	mapper *mapper.SubscriptionMapper
}

func NewSubscriptionRepository(db *gorm.DB) contract.SubscriptionRepository {
	return &SubscriptionRepositoryImpl{
		db:     db,
		mapper: mapper.NewSubscriptionMapper(),
	}
}

func (r *SubscriptionRepositoryImpl) applySpecifications(db *gorm.DB, specs ...specification.Specification) *gorm.DB {
	for _, spec := range specs {
		db = spec.Apply(db)
	}
	return db
}

// Plan Implementation

func (r *SubscriptionRepositoryImpl) CreatePlan(ctx context.Context, plan *entity.Plan) error {
	if plan.Id == uuid.Nil {
		plan.Id = uuid.New()
	}
	m := r.mapper.PlanToModel(plan)
	if err := r.db.WithContext(ctx).Create(m).Error; err != nil {
		return err
	}
	*plan = *r.mapper.PlanToEntity(m)
	return nil
}

func (r *SubscriptionRepositoryImpl) UpdatePlan(ctx context.Context, plan *entity.Plan) error {
	m := r.mapper.PlanToModel(plan)
	if err := r.db.WithContext(ctx).Save(m).Error; err != nil {
		return err
	}
	*plan = *r.mapper.PlanToEntity(m)
	return nil
}

func (r *SubscriptionRepositoryImpl) FindPlanByID(ctx context.Context, id uuid.UUID) (*entity.Plan, error) {
	var m model.Plan
	query := r.applySpecifications(r.db.WithContext(ctx), specification.ByID{ID: id})
	if err := query.First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return r.mapper.PlanToEntity(&m), nil
}

func (r *SubscriptionRepositoryImpl) FindAllPlans(ctx context.Context, activeOnly bool) ([]*entity.Plan, error) {
	specs := []specification.Specification{specification.OrderBy{Field: "price"}}
	if activeOnly {
		specs = append(specs, specification.Filter("is_active", true))
	}
	var models []*model.Plan
	if err := r.applySpecifications(r.db.WithContext(ctx), specs...).Find(&models).Error; err != nil {
		return nil, err
	}
	plans := make([]*entity.Plan, len(models))
	for i, m := range models {
		plans[i] = r.mapper.PlanToEntity(m)
	}
	return plans, nil
}

// Subscription Implementation

func (r *SubscriptionRepositoryImpl) CreateSubscription(ctx context.Context, sub *entity.Subscription) error {
	if sub.Id == uuid.Nil {
		sub.Id = uuid.New()
	}
	m := r.mapper.SubscriptionToModel(sub)
	if err := r.db.WithContext(ctx).Omit("Plan", "User").Create(m).Error; err != nil {
		return err
	}
	*sub = *r.mapper.SubscriptionToEntity(m)
	return nil
}

func (r *SubscriptionRepositoryImpl) UpdateSubscription(ctx context.Context, sub *entity.Subscription) error {
	m := r.mapper.SubscriptionToModel(sub)
	if err := r.db.WithContext(ctx).Omit("Plan", "User").Save(m).Error; err != nil {
		return err
	}
	*sub = *r.mapper.SubscriptionToEntity(m)
	return nil
}

func (r *SubscriptionRepositoryImpl) findOne(ctx context.Context, specs ...specification.Specification) (*entity.Subscription, error) {
	var m model.Subscription
	query := r.applySpecifications(r.db.WithContext(ctx), specs...)
	if err := query.First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return r.mapper.SubscriptionToEntity(&m), nil
}

func (r *SubscriptionRepositoryImpl) findAll(ctx context.Context, specs ...specification.Specification) ([]*entity.Subscription, error) {
	var models []*model.Subscription
	if err := r.applySpecifications(r.db.WithContext(ctx), specs...).Find(&models).Error; err != nil {
		return nil, err
	}
	subs := make([]*entity.Subscription, len(models))
	for i, m := range models {
		subs[i] = r.mapper.SubscriptionToEntity(m)
	}
	return subs, nil
}

func (r *SubscriptionRepositoryImpl) FindSubscriptionByID(ctx context.Context, id uuid.UUID) (*entity.Subscription, error) {
	return r.findOne(ctx, specification.ByID{ID: id})
}

func (r *SubscriptionRepositoryImpl) FindSubscription(ctx context.Context, userId, planId uuid.UUID) (*entity.Subscription, error) {
	return r.findOne(ctx, specification.UserOwnedBy{UserID: userId}, specification.ByPlanID{PlanID: planId})
}

func (r *SubscriptionRepositoryImpl) FindSubscriptionForUpdate(ctx context.Context, userId, planId uuid.UUID) (*entity.Subscription, error) {
	return r.findOne(ctx,
		specification.UserOwnedBy{UserID: userId},
		specification.ByPlanID{PlanID: planId},
		specification.ForUpdate{},
	)
}

func (r *SubscriptionRepositoryImpl) FindSubscriptionsByUser(ctx context.Context, userId uuid.UUID) ([]*entity.Subscription, error) {
	return r.findAll(ctx,
		specification.UserOwnedBy{UserID: userId},
		specification.OrderBy{Field: "created_at", Desc: true},
	)
}

func (r *SubscriptionRepositoryImpl) FindSubscriptionsByInstrument(ctx context.Context, instrumentId uuid.UUID) ([]*entity.Subscription, error) {
	return r.findAll(ctx, specification.Filter("instrument_id", instrumentId))
}

func (r *SubscriptionRepositoryImpl) FindDueForRenewal(ctx context.Context, asOf time.Time) ([]*entity.Subscription, error) {
	return r.findAll(ctx,
		specification.DueForRenewal{AsOf: asOf},
		specification.OrderBy{Field: "next_bill_date"},
	)
}

func (r *SubscriptionRepositoryImpl) ListSubscriptionDetails(ctx context.Context, filter contract.SubscriptionFilter) ([]*entity.SubscriptionDetail, int64, error) {
	var specs []specification.Specification
	if filter.UserId != nil {
		specs = append(specs, specification.Filter("subscriptions.user_id", *filter.UserId))
	}
	if filter.PlanId != nil {
		specs = append(specs, specification.Filter("subscriptions.plan_id", *filter.PlanId))
	}
	if filter.Status != nil {
		specs = append(specs, specification.ByStatus{Column: "subscriptions.status", Status: string(*filter.Status)})
	}
	if filter.Search != "" {
		specs = append(specs, specification.SubscriberSearch{Query: filter.Search})
	}

	var total int64
	countQuery := r.applySpecifications(r.db.WithContext(ctx).Model(&model.Subscription{}), specs...)
	if err := countQuery.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	specs = append(specs, specification.OrderBy{Field: "subscriptions.created_at", Desc: true})
	if filter.Limit > 0 {
		specs = append(specs, specification.Pagination{Limit: filter.Limit, Offset: filter.Offset})
	}
	var models []*model.Subscription
	query := r.applySpecifications(r.db.WithContext(ctx).Select("subscriptions.*"), specs...).Preload("Plan").Preload("User")
	if err := query.Find(&models).Error; err != nil {
		return nil, 0, err
	}

	firstDates, err := r.firstPaymentDates(ctx, models)
	if err != nil {
		return nil, 0, err
	}

	details := make([]*entity.SubscriptionDetail, len(models))
	for i, m := range models {
		details[i] = r.mapper.DetailToEntity(m)
		if d, ok := firstDates[m.Id]; ok {
			first := d
			details[i].FirstDate = &first
		}
	}
	return details, total, nil
}

func (r *SubscriptionRepositoryImpl) CountStartedBetween(ctx context.Context, from, to time.Time) (int64, error) {
	var total int64
	query := r.applySpecifications(r.db.WithContext(ctx).Model(&model.Subscription{}),
		specification.ChangedBetween{Column: "start_date", From: &from, To: &to},
	)
	err := query.Count(&total).Error
	return total, err
}

func (r *SubscriptionRepositoryImpl) CountCancelReasons(ctx context.Context) (map[entity.CancelReason]int64, error) {
	var rows []struct {
		Reason string
		Total  int64
	}
	query := r.applySpecifications(r.db.WithContext(ctx).Model(&model.Subscription{}),
		specification.ByStatus{Status: string(entity.SubscriptionStatusCancelled)},
	)
	err := query.Select("COALESCE(cancelled_reason, '') AS reason, COUNT(*) AS total").
		Group("cancelled_reason").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[entity.CancelReason]int64, len(rows))
	for _, row := range rows {
		out[entity.CancelReason(row.Reason)] += row.Total
	}
	return out, nil
}

func (r *SubscriptionRepositoryImpl) firstPaymentDates(ctx context.Context, models []*model.Subscription) (map[uuid.UUID]time.Time, error) {
	out := make(map[uuid.UUID]time.Time, len(models))
	if len(models) == 0 {
		return out, nil
	}
	ids := make([]uuid.UUID, len(models))
	for i, m := range models {
		ids[i] = m.Id
	}
	var rows []struct {
		SubscriptionId uuid.UUID
		FirstDate      time.Time
	}
	err := r.db.WithContext(ctx).Model(&model.Payment{}).
		Select("subscription_id, MIN(paid_at) AS first_date").
		Where("subscription_id IN ?", ids).
		Group("subscription_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		out[row.SubscriptionId] = row.FirstDate
	}
	return out, nil
}
