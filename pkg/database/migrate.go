package database

import (
	"fmt"
	"log"

	"subscription-billing-be/internal/model"

	"gorm.io/gorm"
)

var setupSQL = []string{
	`CREATE EXTENSION IF NOT EXISTS pgcrypto;`,
	`DO $$ BEGIN IF NOT EXISTS (SELECT 1 FROM pg_type WHERE typname = 'billing_period') THEN CREATE TYPE billing_period AS ENUM ('monthly', 'yearly'); END IF; END $$;`,
}

// Ledger entries and histories are append-only; the trigger rejects edits
// that bypass the application.
var postMigrationSQL = []string{
	`CREATE OR REPLACE FUNCTION reject_append_only_change() RETURNS trigger LANGUAGE plpgsql AS $$
	BEGIN
	  RAISE EXCEPTION '% is append-only', TG_TABLE_NAME;
	END; $$;`,
	`DROP TRIGGER IF EXISTS ledger_entries_append_only ON ledger_entries;`,
	`CREATE TRIGGER ledger_entries_append_only BEFORE UPDATE OR DELETE ON ledger_entries
	 FOR EACH ROW EXECUTE FUNCTION reject_append_only_change();`,
	`DROP TRIGGER IF EXISTS subscription_histories_append_only ON subscription_histories;`,
	`CREATE TRIGGER subscription_histories_append_only BEFORE UPDATE OR DELETE ON subscription_histories
	 FOR EACH ROW EXECUTE FUNCTION reject_append_only_change();`,
}

func Models() []interface{} {
	return []interface{}{
		&model.User{},
		&model.Plan{},
		&model.PaymentInstrument{},
		&model.Subscription{},
		&model.Payment{},
		&model.LedgerEntry{},
		&model.SubscriptionHistory{},
		&model.WebhookEvent{},
	}
}

// Migrate creates enums, tables and the append-only triggers. Safe to re-run.
func Migrate(db *gorm.DB) error {
	for _, sql := range setupSQL {
		if err := db.Exec(sql).Error; err != nil {
			log.Printf("Warn: Failed to execute setup SQL: %v. Continuing...", err)
		}
	}

	if err := db.AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("automigrate: %w", err)
	}

	for _, sql := range postMigrationSQL {
		if err := db.Exec(sql).Error; err != nil {
			return fmt.Errorf("post-migration: %w", err)
		}
	}
	return nil
}
