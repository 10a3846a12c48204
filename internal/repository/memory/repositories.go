package memory

import (
	"context"
	"sort"
	"strings"
	"time"

	"subscription-billing-be/internal/entity"
	"subscription-billing-be/internal/repository/contract"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"github.com/shopspring/decimal"
)

func paginate[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return []T{}
	}
	end := len(items)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return items[offset:end]
}

func touch(created *time.Time, updated *time.Time) {
	now := time.Now()
	if created != nil && created.IsZero() {
		*created = now
	}
	if updated != nil {
		*updated = now
	}
}

// Users

type userRepository struct {
	store *Store
}

func (r *userRepository) Create(ctx context.Context, user *entity.User) error {
	if user.Id == uuid.Nil {
		user.Id = uuid.New()
	}
	for _, u := range values[entity.User](r.store.users) {
		if u.Email == user.Email {
			return duplicate("users", "email", user.Email)
		}
	}
	if user.SubStatus == "" {
		user.SubStatus = entity.SubscriberStatusNone
	}
	touch(&user.CreatedAt, &user.UpdatedAt)
	r.store.users.Set(user.Id.String(), *user, cache.NoExpiration)
	return nil
}

func (r *userRepository) FindByID(ctx context.Context, id uuid.UUID) (*entity.User, error) {
	u, ok := get[entity.User](r.store.users, id.String())
	if !ok {
		return nil, nil
	}
	return u, nil
}

func (r *userRepository) FindBySubStatus(ctx context.Context, status entity.SubscriberStatus) ([]*entity.User, error) {
	var out []*entity.User
	for _, u := range values[entity.User](r.store.users) {
		if u.SubStatus == status {
			u := u
			out = append(out, &u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	return out, nil
}

func (r *userRepository) CountBySubStatus(ctx context.Context, status entity.SubscriberStatus) (int64, error) {
	var n int64
	for _, u := range values[entity.User](r.store.users) {
		if u.SubStatus == status {
			n++
		}
	}
	return n, nil
}

func (r *userRepository) UpdateSubStatus(ctx context.Context, id uuid.UUID, status entity.SubscriberStatus) error {
	u, ok := get[entity.User](r.store.users, id.String())
	if !ok {
		return nil
	}
	u.SubStatus = status
	touch(nil, &u.UpdatedAt)
	r.store.users.Set(id.String(), *u, cache.NoExpiration)
	return nil
}

func (r *userRepository) PurgeInactive(ctx context.Context, deletedBefore time.Time) (int64, error) {
	var n int64
	for _, u := range values[entity.User](r.store.users) {
		if u.IsActive || !u.DeletionConfirmed || u.DeletedAt == nil || !u.DeletedAt.Before(deletedBefore) {
			continue
		}
		u.Email = "purged+" + u.Id.String() + "@invalid.local"
		u.FullName = ""
		u.Phone = nil
		u.DeletionConfirmed = false
		touch(nil, &u.UpdatedAt)
		r.store.users.Set(u.Id.String(), u, cache.NoExpiration)
		n++
	}
	return n, nil
}

// Plans and subscriptions

type subscriptionRepository struct {
	store *Store
}

func (r *subscriptionRepository) CreatePlan(ctx context.Context, plan *entity.Plan) error {
	if plan.Id == uuid.Nil {
		plan.Id = uuid.New()
	}
	touch(&plan.CreatedAt, &plan.UpdatedAt)
	r.store.plans.Set(plan.Id.String(), *plan, cache.NoExpiration)
	return nil
}

func (r *subscriptionRepository) UpdatePlan(ctx context.Context, plan *entity.Plan) error {
	touch(nil, &plan.UpdatedAt)
	r.store.plans.Set(plan.Id.String(), *plan, cache.NoExpiration)
	return nil
}

func (r *subscriptionRepository) FindPlanByID(ctx context.Context, id uuid.UUID) (*entity.Plan, error) {
	p, ok := get[entity.Plan](r.store.plans, id.String())
	if !ok {
		return nil, nil
	}
	return p, nil
}

func (r *subscriptionRepository) FindAllPlans(ctx context.Context, activeOnly bool) ([]*entity.Plan, error) {
	var out []*entity.Plan
	for _, p := range values[entity.Plan](r.store.plans) {
		if activeOnly && !p.IsActive {
			continue
		}
		p := p
		out = append(out, &p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Price.LessThan(out[j].Price) })
	return out, nil
}

func (r *subscriptionRepository) CreateSubscription(ctx context.Context, sub *entity.Subscription) error {
	if sub.Id == uuid.Nil {
		sub.Id = uuid.New()
	}
	for _, s := range values[entity.Subscription](r.store.subs) {
		if s.UserId == sub.UserId && s.PlanId == sub.PlanId {
			return duplicate("subscriptions", "user_id,plan_id", sub.UserId.String()+","+sub.PlanId.String())
		}
	}
	touch(&sub.CreatedAt, &sub.UpdatedAt)
	r.store.subs.Set(sub.Id.String(), *sub, cache.NoExpiration)
	return nil
}

func (r *subscriptionRepository) UpdateSubscription(ctx context.Context, sub *entity.Subscription) error {
	touch(nil, &sub.UpdatedAt)
	r.store.subs.Set(sub.Id.String(), *sub, cache.NoExpiration)
	return nil
}

func (r *subscriptionRepository) FindSubscriptionByID(ctx context.Context, id uuid.UUID) (*entity.Subscription, error) {
	s, ok := get[entity.Subscription](r.store.subs, id.String())
	if !ok {
		return nil, nil
	}
	return s, nil
}

func (r *subscriptionRepository) FindSubscription(ctx context.Context, userId, planId uuid.UUID) (*entity.Subscription, error) {
	for _, s := range values[entity.Subscription](r.store.subs) {
		if s.UserId == userId && s.PlanId == planId {
			s := s
			return &s, nil
		}
	}
	return nil, nil
}

// FindSubscriptionForUpdate needs no row lock here: transactions are serialized.
func (r *subscriptionRepository) FindSubscriptionForUpdate(ctx context.Context, userId, planId uuid.UUID) (*entity.Subscription, error) {
	return r.FindSubscription(ctx, userId, planId)
}

func (r *subscriptionRepository) filter(keep func(s entity.Subscription) bool) []*entity.Subscription {
	var out []*entity.Subscription
	for _, s := range values[entity.Subscription](r.store.subs) {
		if keep(s) {
			s := s
			out = append(out, &s)
		}
	}
	return out
}

func (r *subscriptionRepository) FindSubscriptionsByUser(ctx context.Context, userId uuid.UUID) ([]*entity.Subscription, error) {
	out := r.filter(func(s entity.Subscription) bool { return s.UserId == userId })
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *subscriptionRepository) FindSubscriptionsByInstrument(ctx context.Context, instrumentId uuid.UUID) ([]*entity.Subscription, error) {
	return r.filter(func(s entity.Subscription) bool {
		return s.InstrumentId != nil && *s.InstrumentId == instrumentId
	}), nil
}

func (r *subscriptionRepository) FindDueForRenewal(ctx context.Context, asOf time.Time) ([]*entity.Subscription, error) {
	out := r.filter(func(s entity.Subscription) bool {
		return s.AutoRenew && s.NextBillDate != nil && !s.NextBillDate.After(asOf)
	})
	sort.Slice(out, func(i, j int) bool { return out[i].NextBillDate.Before(*out[j].NextBillDate) })
	return out, nil
}

func (r *subscriptionRepository) CountStartedBetween(ctx context.Context, from, to time.Time) (int64, error) {
	rows := r.filter(func(s entity.Subscription) bool {
		return !s.StartDate.Before(from) && s.StartDate.Before(to)
	})
	return int64(len(rows)), nil
}

func (r *subscriptionRepository) CountCancelReasons(ctx context.Context) (map[entity.CancelReason]int64, error) {
	out := make(map[entity.CancelReason]int64)
	for _, s := range r.filter(func(s entity.Subscription) bool { return s.Status == entity.SubscriptionStatusCancelled }) {
		var reason entity.CancelReason
		if s.CancelledReason != nil {
			reason = *s.CancelledReason
		}
		out[reason]++
	}
	return out, nil
}

func (r *subscriptionRepository) ListSubscriptionDetails(ctx context.Context, filter contract.SubscriptionFilter) ([]*entity.SubscriptionDetail, int64, error) {
	query := strings.ToLower(filter.Search)
	var details []*entity.SubscriptionDetail
	for _, s := range values[entity.Subscription](r.store.subs) {
		if filter.UserId != nil && s.UserId != *filter.UserId {
			continue
		}
		if filter.PlanId != nil && s.PlanId != *filter.PlanId {
			continue
		}
		if filter.Status != nil && s.Status != *filter.Status {
			continue
		}
		d := &entity.SubscriptionDetail{Subscription: s}
		if p, ok := get[entity.Plan](r.store.plans, s.PlanId.String()); ok {
			d.PlanName = p.Name
			d.PlanPrice = p.Price
		}
		if u, ok := get[entity.User](r.store.users, s.UserId.String()); ok {
			d.UserEmail = u.Email
			d.UserName = u.FullName
		}
		if query != "" && !strings.Contains(strings.ToLower(d.UserEmail), query) && !strings.Contains(strings.ToLower(d.UserName), query) {
			continue
		}
		first := (&paymentRepository{store: r.store}).first(s.Id)
		if first != nil {
			paidAt := first.PaidAt
			d.FirstDate = &paidAt
		}
		details = append(details, d)
	}
	sort.Slice(details, func(i, j int) bool { return details[i].CreatedAt.After(details[j].CreatedAt) })
	return paginate(details, filter.Limit, filter.Offset), int64(len(details)), nil
}

// Instruments

type instrumentRepository struct {
	store *Store
}

func (r *instrumentRepository) Create(ctx context.Context, instrument *entity.PaymentInstrument) error {
	if instrument.Id == uuid.Nil {
		instrument.Id = uuid.New()
	}
	for _, i := range values[entity.PaymentInstrument](r.store.instruments) {
		if i.UserId == instrument.UserId {
			return duplicate("payment_instruments", "user_id", instrument.UserId.String())
		}
		if i.Token == instrument.Token {
			return duplicate("payment_instruments", "token", instrument.Token)
		}
	}
	if instrument.Status == "" {
		instrument.Status = entity.InstrumentStatusActive
	}
	touch(&instrument.CreatedAt, &instrument.UpdatedAt)
	r.store.instruments.Set(instrument.Id.String(), *instrument, cache.NoExpiration)
	return nil
}

func (r *instrumentRepository) Update(ctx context.Context, instrument *entity.PaymentInstrument) error {
	touch(nil, &instrument.UpdatedAt)
	r.store.instruments.Set(instrument.Id.String(), *instrument, cache.NoExpiration)
	return nil
}

func (r *instrumentRepository) Delete(ctx context.Context, id uuid.UUID) error {
	r.store.instruments.Delete(id.String())
	return nil
}

func (r *instrumentRepository) FindByID(ctx context.Context, id uuid.UUID) (*entity.PaymentInstrument, error) {
	i, ok := get[entity.PaymentInstrument](r.store.instruments, id.String())
	if !ok {
		return nil, nil
	}
	return i, nil
}

func (r *instrumentRepository) FindByUser(ctx context.Context, userId uuid.UUID) (*entity.PaymentInstrument, error) {
	for _, i := range values[entity.PaymentInstrument](r.store.instruments) {
		if i.UserId == userId {
			i := i
			return &i, nil
		}
	}
	return nil, nil
}

func (r *instrumentRepository) FindPendingDeletion(ctx context.Context) ([]*entity.PaymentInstrument, error) {
	var out []*entity.PaymentInstrument
	for _, i := range values[entity.PaymentInstrument](r.store.instruments) {
		if i.Status == entity.InstrumentStatusPendingDeletion {
			i := i
			out = append(out, &i)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].UpdatedAt.Before(out[b].UpdatedAt) })
	return out, nil
}

// Payments and ledger entries

type paymentRepository struct {
	store *Store
}

func (r *paymentRepository) Create(ctx context.Context, payment *entity.Payment) error {
	if payment.Id == uuid.Nil {
		payment.Id = uuid.New()
	}
	for _, p := range values[entity.Payment](r.store.payments) {
		if p.GatewayTxId == payment.GatewayTxId {
			return duplicate("payments", "gateway_tx_id", payment.GatewayTxId)
		}
		if p.IdempotencyId == payment.IdempotencyId {
			return duplicate("payments", "idempotency_id", payment.IdempotencyId)
		}
	}
	touch(&payment.CreatedAt, &payment.UpdatedAt)
	r.store.payments.Set(payment.Id.String(), *payment, cache.NoExpiration)
	return nil
}

func (r *paymentRepository) Update(ctx context.Context, payment *entity.Payment) error {
	touch(nil, &payment.UpdatedAt)
	r.store.payments.Set(payment.Id.String(), *payment, cache.NoExpiration)
	return nil
}

func (r *paymentRepository) FindByID(ctx context.Context, id uuid.UUID) (*entity.Payment, error) {
	p, ok := get[entity.Payment](r.store.payments, id.String())
	if !ok {
		return nil, nil
	}
	return p, nil
}

func (r *paymentRepository) FindByGatewayTxID(ctx context.Context, gatewayTxId string) (*entity.Payment, error) {
	for _, p := range values[entity.Payment](r.store.payments) {
		if p.GatewayTxId == gatewayTxId {
			p := p
			return &p, nil
		}
	}
	return nil, nil
}

func (r *paymentRepository) bySubscription(subscriptionId uuid.UUID) []*entity.Payment {
	var out []*entity.Payment
	for _, p := range values[entity.Payment](r.store.payments) {
		if p.SubscriptionId == subscriptionId {
			p := p
			out = append(out, &p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PaidAt.Equal(out[j].PaidAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].PaidAt.Before(out[j].PaidAt)
	})
	return out
}

func (r *paymentRepository) first(subscriptionId uuid.UUID) *entity.Payment {
	ps := r.bySubscription(subscriptionId)
	if len(ps) == 0 {
		return nil
	}
	return ps[0]
}

func (r *paymentRepository) FindLatestBySubscription(ctx context.Context, subscriptionId uuid.UUID) (*entity.Payment, error) {
	ps := r.bySubscription(subscriptionId)
	if len(ps) == 0 {
		return nil, nil
	}
	return ps[len(ps)-1], nil
}

func (r *paymentRepository) FindFirstBySubscription(ctx context.Context, subscriptionId uuid.UUID) (*entity.Payment, error) {
	return r.first(subscriptionId), nil
}

func (r *paymentRepository) FindByUser(ctx context.Context, userId uuid.UUID) ([]*entity.Payment, error) {
	var out []*entity.Payment
	for _, p := range values[entity.Payment](r.store.payments) {
		if p.UserId == userId {
			p := p
			out = append(out, &p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PaidAt.After(out[j].PaidAt) })
	return out, nil
}

func (r *paymentRepository) AppendEntry(ctx context.Context, entry *entity.LedgerEntry) error {
	if entry.Id == uuid.Nil {
		entry.Id = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	if _, exists := r.store.entries.Get(entry.Id.String()); exists {
		return duplicate("ledger_entries", "id", entry.Id.String())
	}
	r.store.entries.Set(entry.Id.String(), *entry, cache.NoExpiration)
	return nil
}

func (r *paymentRepository) FindEntriesByPayment(ctx context.Context, paymentId uuid.UUID) ([]*entity.LedgerEntry, error) {
	var out []*entity.LedgerEntry
	for _, e := range values[entity.LedgerEntry](r.store.entries) {
		if e.PaymentId == paymentId {
			e := e
			out = append(out, &e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *paymentRepository) MonthlySales(ctx context.Context, from, to time.Time) ([]*entity.SalesSummary, error) {
	byMonth := make(map[time.Time]*entity.SalesSummary)
	for _, e := range values[entity.LedgerEntry](r.store.entries) {
		if e.CreatedAt.Before(from) || !e.CreatedAt.Before(to) {
			continue
		}
		at := e.CreatedAt.UTC()
		month := time.Date(at.Year(), at.Month(), 1, 0, 0, 0, 0, time.UTC)
		s, ok := byMonth[month]
		if !ok {
			s = &entity.SalesSummary{Month: month, PaidTotal: decimal.Zero, RefundTotal: decimal.Zero}
			byMonth[month] = s
		}
		switch e.Kind {
		case entity.LedgerEntryCharge:
			s.PaidTotal = s.PaidTotal.Add(e.Amount)
			s.PaymentCount++
		case entity.LedgerEntryRefund:
			s.RefundTotal = s.RefundTotal.Add(e.Amount)
			s.RefundCount++
		}
	}
	out := make([]*entity.SalesSummary, 0, len(byMonth))
	for _, s := range byMonth {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Month.Before(out[j].Month) })
	return out, nil
}

// Histories

type historyRepository struct {
	store *Store
}

func (r *historyRepository) Append(ctx context.Context, history *entity.SubscriptionHistory) error {
	if history.Id == uuid.Nil {
		history.Id = uuid.New()
	}
	if _, exists := r.store.histories.Get(history.Id.String()); exists {
		return duplicate("subscription_histories", "id", history.Id.String())
	}
	r.store.histories.Set(history.Id.String(), *history, cache.NoExpiration)
	return nil
}

func (r *historyRepository) FindAll(ctx context.Context, filter contract.HistoryFilter) ([]*entity.SubscriptionHistory, int64, error) {
	var out []*entity.SubscriptionHistory
	for _, h := range values[entity.SubscriptionHistory](r.store.histories) {
		if filter.UserId != nil && h.UserId != *filter.UserId {
			continue
		}
		if filter.PlanId != nil && h.PlanId != *filter.PlanId {
			continue
		}
		if filter.Status != nil && h.Status != *filter.Status {
			continue
		}
		if filter.From != nil && h.ChangeDate.Before(*filter.From) {
			continue
		}
		if filter.To != nil && !h.ChangeDate.Before(*filter.To) {
			continue
		}
		h := h
		out = append(out, &h)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ChangeDate.After(out[j].ChangeDate) })
	return paginate(out, filter.Limit, filter.Offset), int64(len(out)), nil
}

func (r *historyRepository) Count(ctx context.Context, filter contract.HistoryFilter) (int64, error) {
	filter.Limit, filter.Offset = 0, 0
	_, total, err := r.FindAll(ctx, filter)
	return total, err
}

func (r *historyRepository) CountUsers(ctx context.Context, filter contract.HistoryFilter) (int64, error) {
	filter.Limit, filter.Offset = 0, 0
	rows, _, err := r.FindAll(ctx, filter)
	if err != nil {
		return 0, err
	}
	users := make(map[uuid.UUID]struct{}, len(rows))
	for _, h := range rows {
		users[h.UserId] = struct{}{}
	}
	return int64(len(users)), nil
}

// Webhook events

type webhookRepository struct {
	store *Store
}

func (r *webhookRepository) CreateIfNotExists(ctx context.Context, event *entity.WebhookEvent) (bool, error) {
	key := event.Provider + "|" + event.EventKey
	if event.Id == uuid.Nil {
		event.Id = uuid.New()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}
	// Add fails when the key exists, which gives insert-if-absent.
	if err := r.store.webhooks.Add(key, *event, cache.NoExpiration); err != nil {
		return false, nil
	}
	return true, nil
}

func (r *webhookRepository) MarkProcessed(ctx context.Context, id uuid.UUID, processingError string) error {
	for key, item := range r.store.webhooks.Items() {
		e := item.Object.(entity.WebhookEvent)
		if e.Id != id {
			continue
		}
		now := time.Now()
		e.ProcessedAt = &now
		e.ProcessingError = processingError
		r.store.webhooks.Set(key, e, cache.NoExpiration)
		return nil
	}
	return nil
}

// Events returns every recorded webhook event. Test helper.
func (s *Store) Events() []entity.WebhookEvent {
	return values[entity.WebhookEvent](s.webhooks)
}
