package bootstrap

import (
	"context"
	"log"
	"time"

	"subscription-billing-be/internal/config"
	"subscription-billing-be/internal/controller"
	"subscription-billing-be/internal/pkg/logger"
	"subscription-billing-be/internal/pkg/mailer"
	"subscription-billing-be/internal/pkg/serverutils"
	"subscription-billing-be/internal/repository/unitofwork"
	"subscription-billing-be/internal/service"
	"subscription-billing-be/pkg/admin/dashboard"
	"subscription-billing-be/pkg/billing/events"
	"subscription-billing-be/pkg/billing/instrument"
	"subscription-billing-be/pkg/billing/lifecycle"
	"subscription-billing-be/pkg/billing/lock"
	"subscription-billing-be/pkg/billing/refund"
	"subscription-billing-be/pkg/billing/renewal"
	"subscription-billing-be/pkg/gateway"
	"subscription-billing-be/pkg/gateway/midtrans"
	"subscription-billing-be/pkg/gateway/sandbox"
	"subscription-billing-be/pkg/kafka"
	"subscription-billing-be/pkg/metrics"
	pktNats "subscription-billing-be/pkg/nats"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
)

const (
	// Inactive accounts are purged once they have been deactivated this long.
	inactiveRetention = 365 * 24 * time.Hour
	lockMaxWait       = 10 * time.Second
	jobTimeout        = 30 * time.Minute
	refundPlaces      = 0
)

type Container struct {
	// Controllers
	PlanController         controller.IPlanController
	WebhookController      controller.IWebhookController
	InstrumentController   controller.IInstrumentController
	SubscriptionController controller.ISubscriptionController
	AdminController        controller.IAdminController

	// Billing core, exposed for cmd/renew and tests.
	Renewals    *renewal.Orchestrator
	Reconciler  *refund.Reconciler
	Instruments *instrument.Manager
	Gateway     gateway.Gateway

	// Background Services (Exposed for main.go to run)
	ConsumerService service.IConsumerService
	Scheduler       *renewal.Scheduler

	Registry *prometheus.Registry
	Logger   logger.ILogger

	closers []func()
}

// Options overrides infrastructure picked from config. Tests inject the
// sandbox gateway and a nop logger through it.
type Options struct {
	Gateway gateway.Gateway
	Logger  logger.ILogger
}

func NewContainer(uowFactory unitofwork.RepositoryFactory, cfg *config.Config, opts Options) *Container {
	c := &Container{}

	// 1. Core Facades
	sysLogger := opts.Logger
	if sysLogger == nil {
		sysLogger = logger.NewZapLogger(cfg.App.LogFilePath, cfg.IsProduction())
	}
	webhookLogger := opts.Logger
	if webhookLogger == nil {
		webhookLogger = logger.NewIsolatedLogger(cfg.App.WebhookLogFilePath)
	}
	c.Logger = sysLogger

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	billingMetrics := metrics.NewBillingMetrics(registry)
	c.Registry = registry

	// 2. Infrastructure
	rdb := newRedis(cfg.Redis.URL)
	if rdb != nil {
		c.closers = append(c.closers, func() { _ = rdb.Close() })
	}

	var locker lock.Locker = lock.NewLocalLocker()
	if rdb != nil {
		locker = lock.NewRedisLocker(rdb, cfg.Redis.LockTTL, lockMaxWait)
	}

	gw := opts.Gateway
	if gw == nil {
		gw = newGateway(cfg, rdb)
	}
	gw = gateway.NewInstrumented(gw, cfg.Gateway.Timeout, billingMetrics)
	c.Gateway = gw

	// 3. Event Bus
	pubSub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NewStdLogger(false, false))
	c.closers = append(c.closers, func() { _ = pubSub.Close() })

	var natsPub *pktNats.Publisher
	if cfg.Nats.URL != "" {
		p, err := pktNats.NewPublisher(cfg.Nats.URL)
		if err != nil {
			log.Printf("[WARN] Failed to connect to NATS Publisher: %v", err)
		} else {
			natsPub = p
			c.closers = append(c.closers, p.Close)
		}
	}

	var ledgerStream *kafka.Producer
	if len(cfg.Kafka.Brokers) > 0 {
		p, err := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.LedgerTopic)
		if err != nil {
			log.Printf("[WARN] Kafka ledger stream disabled: %v", err)
		} else {
			ledgerStream = p
			c.closers = append(c.closers, func() { _ = p.Close() })
		}
	}
	bus := events.NewBus(natsPub, pubSub, ledgerStream, sysLogger)

	var emailService mailer.IEmailService
	if cfg.SMTP.Host != "" {
		emailService = mailer.NewEmailService(
			cfg.SMTP.Host,
			cfg.SMTP.Port,
			cfg.SMTP.Email,
			cfg.SMTP.Password,
			cfg.SMTP.SenderName,
		)
	}

	// 4. Billing Core
	currency := cfg.Gateway.Currency
	instruments := instrument.NewManager(uowFactory, gw, locker, bus, sysLogger)
	machine := lifecycle.NewMachine(uowFactory, gw, instruments, locker, bus, billingMetrics, sysLogger, currency)
	refunds := refund.NewOrchestrator(uowFactory, gw, refund.NewCalculator(gw, refundPlaces), instruments, locker, bus, billingMetrics, sysLogger, currency)
	renewals := renewal.NewOrchestrator(uowFactory, gw, locker, bus, billingMetrics, sysLogger, currency)
	reconciler := refund.NewReconciler(refunds)
	c.Renewals = renewals
	c.Reconciler = reconciler
	c.Instruments = instruments

	// 5. Services
	subscriptionService := service.NewSubscriptionService(uowFactory, machine, refunds)
	instrumentService := service.NewInstrumentService(uowFactory, instruments)
	webhookService := service.NewWebhookService(uowFactory, locker, bus, billingMetrics, webhookLogger, cfg.Gateway.Provider, cfg.Gateway.WebhookSecret)
	adminService := service.NewAdminService(uowFactory, sysLogger, dashboard.NewAggregator(sysLogger), renewals, reconciler)
	c.ConsumerService = service.NewConsumerService(pubSub, events.NotificationTopic, uowFactory, emailService, sysLogger)

	// 6. Controllers
	auth := serverutils.JwtMiddleware(cfg.Auth.JwtSecret)
	c.PlanController = controller.NewPlanController(subscriptionService)
	c.WebhookController = controller.NewWebhookController(webhookService)
	c.InstrumentController = controller.NewInstrumentController(instrumentService, auth)
	c.SubscriptionController = controller.NewSubscriptionController(subscriptionService, auth)
	c.AdminController = controller.NewAdminController(adminService, auth)

	// 7. Scheduled Jobs
	c.Scheduler = renewal.NewScheduler(sysLogger, jobTimeout)
	jobs := []renewal.Job{
		{Name: "renewal", Spec: cfg.Scheduler.RenewalSpec, Run: func(ctx context.Context) error {
			_, err := renewals.RunDue(ctx, time.Now())
			return err
		}},
		{Name: "refund_reconcile", Spec: cfg.Scheduler.ReconcileSpec, Run: func(ctx context.Context) error {
			_, err := reconciler.Run(ctx)
			return err
		}},
		{Name: "housekeeping", Spec: cfg.Scheduler.HousekeepingSpec, Run: func(ctx context.Context) error {
			return Housekeeping(ctx, uowFactory, instruments, sysLogger, time.Now())
		}},
	}
	for _, job := range jobs {
		if err := c.Scheduler.Add(job); err != nil {
			log.Fatalf("[FATAL] Invalid schedule for %s job: %v", job.Name, err)
		}
	}

	return c
}

// Housekeeping purges long-inactive accounts and retries instrument deletions
// the gateway refused earlier.
func Housekeeping(ctx context.Context, uowFactory unitofwork.RepositoryFactory, instruments *instrument.Manager, log logger.ILogger, now time.Time) error {
	uow := uowFactory.NewUnitOfWork(ctx)
	if err := uow.Begin(ctx); err != nil {
		return err
	}
	defer uow.Rollback()

	purged, err := uow.UserRepository().PurgeInactive(ctx, now.Add(-inactiveRetention))
	if err != nil {
		return err
	}
	if err := uow.Commit(); err != nil {
		return err
	}

	removed, err := instruments.RetryPendingDeletions(ctx)
	if err != nil {
		return err
	}
	log.Info("SCHEDULER", "Housekeeping finished", map[string]interface{}{
		"purged_accounts":     purged,
		"removed_instruments": removed,
	})
	return nil
}

// Close releases transport connections.
func (c *Container) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
	_ = c.Logger.Sync()
}

func newRedis(url string) *redis.Client {
	if url == "" {
		return nil
	}
	opt, err := redis.ParseURL(url)
	if err != nil {
		log.Printf("[WARN] Failed to parse Redis URL: %v. Using direct Addr", err)
		opt = &redis.Options{
			Addr: url,
		}
	}
	rdb := redis.NewClient(opt)
	if _, err := rdb.Ping(context.Background()).Result(); err != nil {
		log.Printf("[WARN] Failed to connect to Redis: %v", err)
	}
	return rdb
}

func newGateway(cfg *config.Config, rdb *redis.Client) gateway.Gateway {
	switch cfg.Gateway.Provider {
	case "midtrans":
		if rdb == nil {
			log.Fatal("[FATAL] The midtrans gateway keeps its schedule index in Redis; set REDIS_URL")
		}
		log.Printf("[INFO] Using payment gateway: MIDTRANS (%s)", cfg.Gateway.Environment)
		return midtrans.New(cfg.Gateway.ServerKey, cfg.Gateway.Environment, rdb)
	case "sandbox", "":
		if cfg.IsProduction() {
			log.Fatal("[FATAL] The sandbox gateway cannot run in production")
		}
		log.Printf("[INFO] Using payment gateway: SANDBOX")
		return sandbox.New()
	default:
		log.Fatalf("[FATAL] Unknown GATEWAY_PROVIDER %q", cfg.Gateway.Provider)
		return nil
	}
}
