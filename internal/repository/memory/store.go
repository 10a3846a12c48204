// Package memory is an in-process implementation of the repository
// contracts on top of go-cache. Tests and DB_DRIVER=memory runs use it.
//
// Transactions are serialized: Begin snapshots every table and Rollback
// restores the snapshot.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"subscription-billing-be/internal/repository/contract"
	"subscription-billing-be/internal/repository/unitofwork"

	"github.com/patrickmn/go-cache"
)

var ErrDuplicate = errors.New("memory: duplicate key")

type Store struct {
	txMu sync.Mutex

	users       *cache.Cache
	plans       *cache.Cache
	subs        *cache.Cache
	instruments *cache.Cache
	payments    *cache.Cache
	entries     *cache.Cache
	histories   *cache.Cache
	webhooks    *cache.Cache
}

func NewStore() *Store {
	newTable := func() *cache.Cache { return cache.New(cache.NoExpiration, 0) }
	return &Store{
		users:       newTable(),
		plans:       newTable(),
		subs:        newTable(),
		instruments: newTable(),
		payments:    newTable(),
		entries:     newTable(),
		histories:   newTable(),
		webhooks:    newTable(),
	}
}

func (s *Store) tables() []*cache.Cache {
	return []*cache.Cache{s.users, s.plans, s.subs, s.instruments, s.payments, s.entries, s.histories, s.webhooks}
}

func (s *Store) snapshot() []map[string]cache.Item {
	tables := s.tables()
	snap := make([]map[string]cache.Item, len(tables))
	for i, t := range tables {
		snap[i] = t.Items()
	}
	return snap
}

func (s *Store) restore(snap []map[string]cache.Item) {
	for i, t := range s.tables() {
		t.Flush()
		for k, item := range snap[i] {
			t.Set(k, item.Object, cache.NoExpiration)
		}
	}
}

func values[T any](c *cache.Cache) []T {
	items := c.Items()
	out := make([]T, 0, len(items))
	for _, item := range items {
		out = append(out, item.Object.(T))
	}
	return out
}

func get[T any](c *cache.Cache, key string) (*T, bool) {
	x, ok := c.Get(key)
	if !ok {
		return nil, false
	}
	v := x.(T)
	return &v, true
}

func duplicate(table, field, value string) error {
	return fmt.Errorf("%w: %s.%s=%s", ErrDuplicate, table, field, value)
}

// Factory

type repositoryFactory struct {
	store *Store
}

func NewRepositoryFactory(store *Store) unitofwork.RepositoryFactory {
	return &repositoryFactory{store: store}
}

func (f *repositoryFactory) NewUnitOfWork(ctx context.Context) unitofwork.UnitOfWork {
	return &unitOfWork{store: f.store}
}

// Unit of work

type unitOfWork struct {
	store *Store
	snap  []map[string]cache.Item
}

func (u *unitOfWork) Begin(ctx context.Context) error {
	if u.snap != nil {
		return fmt.Errorf("transaction already started")
	}
	u.store.txMu.Lock()
	u.snap = u.store.snapshot()
	return nil
}

func (u *unitOfWork) Commit() error {
	if u.snap == nil {
		return fmt.Errorf("no transaction to commit")
	}
	u.snap = nil
	u.store.txMu.Unlock()
	return nil
}

func (u *unitOfWork) Rollback() error {
	if u.snap == nil {
		return fmt.Errorf("no transaction to rollback")
	}
	u.store.restore(u.snap)
	u.snap = nil
	u.store.txMu.Unlock()
	return nil
}

func (u *unitOfWork) UserRepository() contract.UserRepository {
	return &userRepository{store: u.store}
}

func (u *unitOfWork) SubscriptionRepository() contract.SubscriptionRepository {
	return &subscriptionRepository{store: u.store}
}

func (u *unitOfWork) InstrumentRepository() contract.InstrumentRepository {
	return &instrumentRepository{store: u.store}
}

func (u *unitOfWork) PaymentRepository() contract.PaymentRepository {
	return &paymentRepository{store: u.store}
}

func (u *unitOfWork) HistoryRepository() contract.HistoryRepository {
	return &historyRepository{store: u.store}
}

func (u *unitOfWork) WebhookRepository() contract.WebhookRepository {
	return &webhookRepository{store: u.store}
}
