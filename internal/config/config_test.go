package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoad(t *testing.T) {
	t.Setenv("GO_ENV", "production")
	t.Setenv("GATEWAY_TIMEOUT", "5s")
	t.Setenv("SMTP_PORT", "not-a-port")
	t.Setenv("SCHEDULER_ENABLED", "false")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092, ,kafka-2:9092")

	cfg := Load()
	assert.True(t, cfg.IsProduction())
	assert.Equal(t, 5*time.Second, cfg.Gateway.Timeout)
	assert.Equal(t, 587, cfg.SMTP.Port)
	assert.False(t, cfg.Scheduler.Enabled)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "@every 24h", cfg.Scheduler.RenewalSpec)
	assert.Equal(t, "billing.ledger", cfg.Kafka.LedgerTopic)
}

func TestGetEnvAsList(t *testing.T) {
	tests := []struct {
		raw  string
		want []string
	}{
		{"", nil},
		{"a", []string{"a"}},
		{" a , b ,", []string{"a", "b"}},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			t.Setenv("LIST_UNDER_TEST", tt.raw)
			assert.Equal(t, tt.want, getEnvAsList("LIST_UNDER_TEST"))
		})
	}
}
