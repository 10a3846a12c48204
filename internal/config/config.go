package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	App       AppConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Nats      NatsConfig
	Kafka     KafkaConfig
	Gateway   GatewayConfig
	Scheduler SchedulerConfig
	SMTP      SMTPConfig
	Auth      AuthConfig
}

type AppConfig struct {
	Port               string
	BaseURL            string
	Environment        string
	LogFilePath        string
	WebhookLogFilePath string
	CorsAllowedOrigins string
	TracingEndpoint    string
}

type DatabaseConfig struct {
	Driver     string // "postgres" or "memory"
	Connection string
}

type RedisConfig struct {
	URL     string
	LockTTL time.Duration
}

type NatsConfig struct {
	URL string
}

type KafkaConfig struct {
	Brokers     []string
	LedgerTopic string
}

type GatewayConfig struct {
	Provider      string // "midtrans" or "sandbox"
	ServerKey     string
	Environment   string
	WebhookSecret string
	Currency      string
	Timeout       time.Duration
}

type SchedulerConfig struct {
	Enabled          bool
	RenewalSpec      string
	ReconcileSpec    string
	HousekeepingSpec string
}

type SMTPConfig struct {
	Host       string
	Port       int
	Email      string
	Password   string
	SenderName string
}

type AuthConfig struct {
	JwtSecret string
}

func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("Note: .env file not found, usage system environment")
	}

	return &Config{
		App: AppConfig{
			Port:               getEnv("APP_PORT", "3000"),
			BaseURL:            getEnv("APP_BASE_URL", "http://localhost:3000"),
			Environment:        getEnv("GO_ENV", "development"),
			LogFilePath:        getEnv("LOG_FILE_PATH", "app.log"),
			WebhookLogFilePath: getEnv("WEBHOOK_LOG_FILE_PATH", "webhook.log"),
			CorsAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:5173"),
			TracingEndpoint:    getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		},
		Database: DatabaseConfig{
			Driver:     getEnv("DB_DRIVER", "postgres"),
			Connection: getEnv("DB_CONNECTION_STRING", ""),
		},
		Redis: RedisConfig{
			URL:     getEnv("REDIS_URL", ""),
			LockTTL: getEnvAsDuration("LOCK_TTL", 60*time.Second),
		},
		Nats: NatsConfig{
			URL: getEnv("NATS_URL", ""),
		},
		Kafka: KafkaConfig{
			Brokers:     getEnvAsList("KAFKA_BROKERS"),
			LedgerTopic: getEnv("KAFKA_LEDGER_TOPIC", "billing.ledger"),
		},
		Gateway: GatewayConfig{
			Provider:      getEnv("GATEWAY_PROVIDER", "sandbox"),
			ServerKey:     getEnv("MIDTRANS_SERVER_KEY", ""),
			Environment:   getEnv("MIDTRANS_ENV", "sandbox"),
			WebhookSecret: getEnv("WEBHOOK_SECRET", ""),
			Currency:      getEnv("BILLING_CURRENCY", "IDR"),
			Timeout:       getEnvAsDuration("GATEWAY_TIMEOUT", 15*time.Second),
		},
		Scheduler: SchedulerConfig{
			Enabled:          getEnvAsBool("SCHEDULER_ENABLED", true),
			RenewalSpec:      getEnv("RENEWAL_CRON", "@every 24h"),
			ReconcileSpec:    getEnv("RECONCILE_CRON", "@every 1h"),
			HousekeepingSpec: getEnv("HOUSEKEEPING_CRON", "0 5 * * *"),
		},
		SMTP: SMTPConfig{
			Host:       getEnv("SMTP_HOST", ""),
			Port:       getEnvAsInt("SMTP_PORT", 587),
			Email:      getEnv("SMTP_EMAIL", ""),
			Password:   getEnv("SMTP_PASSWORD", ""),
			SenderName: getEnv("SMTP_SENDER_NAME", "Billing"),
		},
		Auth: AuthConfig{
			JwtSecret: getEnv("JWT_SECRET", ""),
		},
	}
}

func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	strValue := getEnv(key, "")
	if value, err := strconv.Atoi(strValue); err == nil {
		return value
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	strValue := getEnv(key, "")
	if value, err := strconv.ParseBool(strValue); err == nil {
		return value
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	strValue := getEnv(key, "")
	if value, err := time.ParseDuration(strValue); err == nil {
		return value
	}
	return fallback
}

func getEnvAsList(key string) []string {
	raw := getEnv(key, "")
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
