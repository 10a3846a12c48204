package bootstrap

import (
	"context"
	"fmt"
	"log"

	"subscription-billing-be/internal/config"
	"subscription-billing-be/internal/entity"
	"subscription-billing-be/internal/repository/memory"
	"subscription-billing-be/internal/repository/unitofwork"
	"subscription-billing-be/pkg/database"

	"github.com/shopspring/decimal"
)

// OpenStore picks the repository backend from DB_DRIVER.
func OpenStore(cfg *config.Config) (unitofwork.RepositoryFactory, error) {
	switch cfg.Database.Driver {
	case "memory":
		if cfg.IsProduction() {
			return nil, fmt.Errorf("the memory store cannot run in production")
		}
		log.Println("[INFO] Using in-memory store; data is lost on exit")
		factory := memory.NewRepositoryFactory(memory.NewStore())
		if err := SeedCatalog(context.Background(), factory); err != nil {
			return nil, err
		}
		return factory, nil
	case "postgres", "":
		if cfg.Database.Connection == "" {
			return nil, fmt.Errorf("DB_CONNECTION_STRING is not set")
		}
		db, err := database.NewGormDBFromDSN(cfg.Database.Connection, cfg.IsProduction())
		if err != nil {
			return nil, fmt.Errorf("connect: %w", err)
		}
		return unitofwork.NewRepositoryFactory(db), nil
	default:
		return nil, fmt.Errorf("unknown DB_DRIVER %q", cfg.Database.Driver)
	}
}

var defaultPlans = []entity.Plan{
	{Name: "Basic", Price: decimal.NewFromInt(15000), Period: entity.BillingPeriodMonthly, IsActive: true},
	{Name: "Pro", Price: decimal.NewFromInt(30000), Period: entity.BillingPeriodMonthly, IsActive: true},
	{Name: "Pro Yearly", Price: decimal.NewFromInt(300000), Period: entity.BillingPeriodYearly, IsActive: true},
}

// SeedCatalog creates the default plans when the catalog is empty.
func SeedCatalog(ctx context.Context, factory unitofwork.RepositoryFactory) error {
	repo := factory.NewUnitOfWork(ctx).SubscriptionRepository()
	existing, err := repo.FindAllPlans(ctx, false)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}
	for _, p := range defaultPlans {
		plan := p
		if err := repo.CreatePlan(ctx, &plan); err != nil {
			return fmt.Errorf("seed plan %s: %w", plan.Name, err)
		}
		log.Printf("Created plan: %s (%s %s)", plan.Name, plan.Price.String(), plan.Period)
	}
	return nil
}
