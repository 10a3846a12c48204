// Package billingtest wires the billing core against the in-memory store and
// the sandbox gateway for tests.
package billingtest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"subscription-billing-be/internal/entity"
	"subscription-billing-be/internal/pkg/logger"
	"subscription-billing-be/internal/repository/memory"
	"subscription-billing-be/internal/repository/unitofwork"
	"subscription-billing-be/pkg/billing/events"
	"subscription-billing-be/pkg/billing/lock"
	"subscription-billing-be/pkg/gateway/sandbox"
	"subscription-billing-be/pkg/metrics"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

// T0 is the reference instant most scenarios start from.
var T0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type Clock struct {
	mu sync.Mutex
	t  time.Time
}

func NewClock(t time.Time) *Clock {
	return &Clock{t: t}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

func (c *Clock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
	return c.t
}

type Fixture struct {
	Store     *memory.Store
	Factory   unitofwork.RepositoryFactory
	Gateway   *sandbox.Gateway
	Locker    *lock.LocalLocker
	Events    *events.Recorder
	Metrics   metrics.BillingMetrics
	Registry  *prometheus.Registry
	Logger    logger.ILogger
	Clock     *Clock
	Currency  string
	t         *testing.T
	tokenSeq  int
	tokenLock sync.Mutex
}

func New(t *testing.T) *Fixture {
	clock := NewClock(T0)
	store := memory.NewStore()
	registry := prometheus.NewRegistry()
	return &Fixture{
		Store:    store,
		Factory:  memory.NewRepositoryFactory(store),
		Gateway:  sandbox.New().WithClock(clock.Now),
		Locker:   lock.NewLocalLocker(),
		Events:   events.NewRecorder(),
		Metrics:  metrics.NewBillingMetrics(registry),
		Registry: registry,
		Logger:   logger.NewNopLogger(),
		Clock:    clock,
		Currency: "IDR",
		t:        t,
	}
}

func (f *Fixture) UoW() unitofwork.UnitOfWork {
	return f.Factory.NewUnitOfWork(context.Background())
}

func (f *Fixture) User(email string) *entity.User {
	f.t.Helper()
	u := &entity.User{Email: email, FullName: "Test " + email, Role: entity.UserRoleUser, SubStatus: entity.SubscriberStatusNone, IsActive: true}
	require.NoError(f.t, f.UoW().UserRepository().Create(context.Background(), u))
	return u
}

func (f *Fixture) Plan(name string, price int64, p entity.BillingPeriod) *entity.Plan {
	f.t.Helper()
	plan := &entity.Plan{Name: name, Price: decimal.NewFromInt(price), Period: p, IsActive: true}
	require.NoError(f.t, f.UoW().SubscriptionRepository().CreatePlan(context.Background(), plan))
	return plan
}

// Token registers a fresh billing key at the sandbox only.
func (f *Fixture) Token() string {
	f.tokenLock.Lock()
	f.tokenSeq++
	n := f.tokenSeq
	f.tokenLock.Unlock()
	token := "bk_test_" + uuid.NewString()[:8]
	f.Gateway.AddInstrument(token, "VISA", fmt.Sprintf("4111-****-****-%04d", n))
	return token
}

// Instrument stores an active instrument for u backed by a sandbox token.
func (f *Fixture) Instrument(u *entity.User) *entity.PaymentInstrument {
	f.t.Helper()
	ins := &entity.PaymentInstrument{UserId: u.Id, Token: f.Token(), Status: entity.InstrumentStatusActive}
	require.NoError(f.t, f.UoW().InstrumentRepository().Create(context.Background(), ins))
	return ins
}

// Subscription fetches the current row for (user, plan).
func (f *Fixture) Subscription(userId, planId uuid.UUID) *entity.Subscription {
	f.t.Helper()
	sub, err := f.UoW().SubscriptionRepository().FindSubscription(context.Background(), userId, planId)
	require.NoError(f.t, err)
	return sub
}

func (f *Fixture) SubStatus(userId uuid.UUID) entity.SubscriberStatus {
	f.t.Helper()
	u, err := f.UoW().UserRepository().FindByID(context.Background(), userId)
	require.NoError(f.t, err)
	require.NotNil(f.t, u)
	return u.SubStatus
}
