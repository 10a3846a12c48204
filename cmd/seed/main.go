package main

import (
	"context"
	"flag"
	"log"

	"subscription-billing-be/internal/bootstrap"
	"subscription-billing-be/internal/config"
	"subscription-billing-be/internal/entity"
	"subscription-billing-be/internal/pkg/serverutils"
)

// Seeds the plan catalog and an admin account, then prints a token for it.
func main() {
	email := flag.String("admin-email", "admin@example.com", "email of the admin account to create")
	flag.Parse()

	cfg := config.Load()
	factory, err := bootstrap.OpenStore(cfg)
	if err != nil {
		log.Fatalf("Error: %v", err)
	}

	ctx := context.Background()
	log.Println("Seeding plan catalog...")
	if err := bootstrap.SeedCatalog(ctx, factory); err != nil {
		log.Fatalf("Error: %v", err)
	}

	admin := &entity.User{
		Email:     *email,
		FullName:  "Billing Admin",
		Role:      entity.UserRoleAdmin,
		SubStatus: entity.SubscriberStatusNone,
		IsActive:  true,
	}
	if err := factory.NewUnitOfWork(ctx).UserRepository().Create(ctx, admin); err != nil {
		log.Fatalf("Error creating admin %s: %v", *email, err)
	}
	log.Printf("Created admin: %s (%s)", admin.Email, admin.Id)

	if cfg.Auth.JwtSecret == "" {
		log.Println("JWT_SECRET is not set; skipping token")
		return
	}
	token, err := serverutils.SignToken(cfg.Auth.JwtSecret, admin.Id, admin.Role)
	if err != nil {
		log.Fatalf("Error signing token: %v", err)
	}
	log.Printf("Admin token: %s", token)
}
