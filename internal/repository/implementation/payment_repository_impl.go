package implementation

import (
	"context"
	"errors"
	"sort"
	"time"

	"subscription-billing-be/internal/entity"
	"subscription-billing-be/internal/mapper"
	"subscription-billing-be/internal/model"
	"subscription-billing-be/internal/repository/contract"
	"subscription-billing-be/internal/repository/specification"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type PaymentRepositoryImpl struct {
	db     *gorm.DB
	mapper *mapper.PaymentMapper
}

func NewPaymentRepository(db *gorm.DB) contract.PaymentRepository {
	return &PaymentRepositoryImpl{
		db:     db,
		mapper: mapper.NewPaymentMapper(),
	}
}

func (r *PaymentRepositoryImpl) applySpecifications(db *gorm.DB, specs ...specification.Specification) *gorm.DB {
	for _, spec := range specs {
		db = spec.Apply(db)
	}
	return db
}

func (r *PaymentRepositoryImpl) Create(ctx context.Context, payment *entity.Payment) error {
	if payment.Id == uuid.Nil {
		payment.Id = uuid.New()
	}
	m := r.mapper.PaymentToModel(payment)
	if err := r.db.WithContext(ctx).Create(m).Error; err != nil {
		return err
	}
	*payment = *r.mapper.PaymentToEntity(m)
	return nil
}

func (r *PaymentRepositoryImpl) Update(ctx context.Context, payment *entity.Payment) error {
	m := r.mapper.PaymentToModel(payment)
	if err := r.db.WithContext(ctx).Save(m).Error; err != nil {
		return err
	}
	*payment = *r.mapper.PaymentToEntity(m)
	return nil
}

func (r *PaymentRepositoryImpl) findOne(ctx context.Context, specs ...specification.Specification) (*entity.Payment, error) {
	var m model.Payment
	if err := r.applySpecifications(r.db.WithContext(ctx), specs...).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return r.mapper.PaymentToEntity(&m), nil
}

func (r *PaymentRepositoryImpl) FindByID(ctx context.Context, id uuid.UUID) (*entity.Payment, error) {
	return r.findOne(ctx, specification.ByID{ID: id})
}

func (r *PaymentRepositoryImpl) FindByGatewayTxID(ctx context.Context, gatewayTxId string) (*entity.Payment, error) {
	return r.findOne(ctx, specification.Filter("gateway_tx_id", gatewayTxId))
}

func (r *PaymentRepositoryImpl) FindLatestBySubscription(ctx context.Context, subscriptionId uuid.UUID) (*entity.Payment, error) {
	return r.findOne(ctx,
		specification.BySubscriptionID{SubscriptionID: subscriptionId},
		specification.OrderBy{Field: "paid_at", Desc: true},
	)
}

func (r *PaymentRepositoryImpl) FindFirstBySubscription(ctx context.Context, subscriptionId uuid.UUID) (*entity.Payment, error) {
	return r.findOne(ctx,
		specification.BySubscriptionID{SubscriptionID: subscriptionId},
		specification.OrderBy{Field: "paid_at"},
	)
}

func (r *PaymentRepositoryImpl) FindByUser(ctx context.Context, userId uuid.UUID) ([]*entity.Payment, error) {
	var models []*model.Payment
	query := r.applySpecifications(r.db.WithContext(ctx),
		specification.UserOwnedBy{UserID: userId},
		specification.OrderBy{Field: "paid_at", Desc: true},
	)
	if err := query.Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]*entity.Payment, len(models))
	for i, m := range models {
		out[i] = r.mapper.PaymentToEntity(m)
	}
	return out, nil
}

func (r *PaymentRepositoryImpl) AppendEntry(ctx context.Context, entry *entity.LedgerEntry) error {
	if entry.Id == uuid.Nil {
		entry.Id = uuid.New()
	}
	m := r.mapper.EntryToModel(entry)
	if err := r.db.WithContext(ctx).Create(m).Error; err != nil {
		return err
	}
	*entry = *r.mapper.EntryToEntity(m)
	return nil
}

func (r *PaymentRepositoryImpl) FindEntriesByPayment(ctx context.Context, paymentId uuid.UUID) ([]*entity.LedgerEntry, error) {
	var models []*model.LedgerEntry
	query := r.applySpecifications(r.db.WithContext(ctx),
		specification.Filter("payment_id", paymentId),
		specification.OrderBy{Field: "created_at"},
	)
	if err := query.Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]*entity.LedgerEntry, len(models))
	for i, m := range models {
		out[i] = r.mapper.EntryToEntity(m)
	}
	return out, nil
}

type monthlyTotal struct {
	Month time.Time
	Total decimal.Decimal
	Count int
}

func (r *PaymentRepositoryImpl) MonthlySales(ctx context.Context, from, to time.Time) ([]*entity.SalesSummary, error) {
	var charges, refunds []monthlyTotal

	err := r.db.WithContext(ctx).Model(&model.LedgerEntry{}).
		Select("date_trunc('month', created_at) AS month, COALESCE(SUM(amount), 0) AS total, COUNT(*) AS count").
		Where("kind = ? AND created_at >= ? AND created_at < ?", string(entity.LedgerEntryCharge), from, to).
		Group("1").
		Scan(&charges).Error
	if err != nil {
		return nil, err
	}

	err = r.db.WithContext(ctx).Model(&model.LedgerEntry{}).
		Select("date_trunc('month', created_at) AS month, COALESCE(SUM(amount), 0) AS total, COUNT(*) AS count").
		Where("kind = ? AND created_at >= ? AND created_at < ?", string(entity.LedgerEntryRefund), from, to).
		Group("1").
		Scan(&refunds).Error
	if err != nil {
		return nil, err
	}

	return mergeMonthly(charges, refunds), nil
}

func mergeMonthly(charges, refunds []monthlyTotal) []*entity.SalesSummary {
	byMonth := make(map[time.Time]*entity.SalesSummary)
	get := func(month time.Time) *entity.SalesSummary {
		key := month.UTC()
		if s, ok := byMonth[key]; ok {
			return s
		}
		s := &entity.SalesSummary{Month: key, PaidTotal: decimal.Zero, RefundTotal: decimal.Zero}
		byMonth[key] = s
		return s
	}
	for _, c := range charges {
		s := get(c.Month)
		s.PaidTotal = c.Total
		s.PaymentCount = c.Count
	}
	for _, rf := range refunds {
		s := get(rf.Month)
		s.RefundTotal = rf.Total
		s.RefundCount = rf.Count
	}

	out := make([]*entity.SalesSummary, 0, len(byMonth))
	for _, s := range byMonth {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Month.Before(out[j].Month) })
	return out
}
