package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"subscription-billing-be/internal/bootstrap"
	"subscription-billing-be/internal/config"
	"subscription-billing-be/internal/server"
	"subscription-billing-be/internal/tracer"
)

func main() {
	// 1. Load Configuration
	cfg := config.Load()

	// 2. Initialize Tracer
	shutdownTracer := tracer.InitTracer(cfg.App.TracingEndpoint)
	defer shutdownTracer(context.Background())

	// 3. Initialize Store
	uowFactory, err := bootstrap.OpenStore(cfg)
	if err != nil {
		log.Panicf("Unable to open store: %v", err)
	}

	// 4. Bootstrap Dependencies (Container)
	container := bootstrap.NewContainer(uowFactory, cfg, bootstrap.Options{})
	defer container.Close()

	// 5. Start Background Services
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log.Println("Background: Starting Consumer Service...")
	if err := container.ConsumerService.Consume(ctx); err != nil {
		log.Printf("Background Consumer Error: %v", err)
	}

	if cfg.Scheduler.Enabled {
		log.Println("Background: Starting Scheduler...")
		container.Scheduler.Start()
		defer container.Scheduler.Stop()
	}

	// 6. Run Server
	srv := server.New(cfg, container)
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit
		log.Println("Shutting down...")
		if err := srv.Shutdown(); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
	}()

	if err := srv.Run(); err != nil {
		log.Printf("Server stopped: %v", err)
	}
}
