package main

import (
	"context"
	"flag"
	"log"
	"os"
	"time"

	"subscription-billing-be/internal/bootstrap"
	"subscription-billing-be/internal/config"
	"subscription-billing-be/pkg/billing/renewal"

	"github.com/fatih/color"
)

// One-shot renewal sweep, for cron hosts that do not run the API process.
func main() {
	asOfFlag := flag.String("as-of", "", "charge subscriptions due at or before this RFC3339 instant (default now)")
	reconcile := flag.Bool("reconcile", false, "also resolve refunds with an unknown gateway outcome")
	flag.Parse()

	asOf := time.Now()
	if *asOfFlag != "" {
		t, err := time.Parse(time.RFC3339, *asOfFlag)
		if err != nil {
			log.Fatalf("Error: invalid -as-of: %v", err)
		}
		asOf = t
	}

	cfg := config.Load()
	uowFactory, err := bootstrap.OpenStore(cfg)
	if err != nil {
		log.Fatalf("Error: %v", err)
	}
	container := bootstrap.NewContainer(uowFactory, cfg, bootstrap.Options{})
	defer container.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	color.Cyan("Renewal sweep as of %s\n", asOf.Format(time.RFC3339))
	res, err := container.Renewals.RunDue(ctx, asOf)
	if err != nil {
		color.Red("Sweep aborted: %v", err)
		os.Exit(1)
	}
	for _, item := range res.Items {
		switch item.Outcome {
		case renewal.OutcomeRenewed:
			color.Green("  renewed  %s plan=%s", item.UserID, item.PlanID)
		case renewal.OutcomeSkipped:
			color.Yellow("  skipped  %s plan=%s: %s", item.UserID, item.PlanID, item.Error)
		default:
			color.Red("  failed   %s plan=%s: %s", item.UserID, item.PlanID, item.Error)
		}
	}
	color.Cyan("Processed %d: %d renewed, %d skipped, %d failed", res.Processed, res.Renewed, res.Skipped, res.Failed)

	if *reconcile {
		rec, err := container.Reconciler.Run(ctx)
		if err != nil {
			color.Red("Reconciliation aborted: %v", err)
			os.Exit(1)
		}
		color.Cyan("Refunds checked %d: %d finalized, %d reverted, %d failed", rec.Checked, rec.Finalized, rec.Reverted, rec.Failed)
	}

	if res.Failed > 0 {
		os.Exit(2)
	}
}
