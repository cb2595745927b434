package app

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/kart-orders/internal/domain/auth"
)

func envOnly() aconfig.Config {
	return aconfig.Config{
		EnvPrefix: "KART",
		SkipFiles: true,
		SkipFlags: true,
	}
}

func TestLoadConfig_Env(t *testing.T) {
	t.Setenv("KART_STORAGE", "memory")
	t.Setenv("KART_AUTH_SECRET", "jwt")
	t.Setenv("KART_WEBHOOK_SECRET", "hmac")
	t.Setenv("KART_CHECKOUT_SHIPPING_COST", "4.99")
	t.Setenv("PORT", "9090")

	cfg, err := loadConfig(envOnly())
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:9090", cfg.Addr)
	assert.Equal(t, StorageMemory, cfg.Storage)
	assert.Equal(t, NotifierLog, cfg.Notifier)
	assert.Equal(t, "jwt", cfg.Auth.Secret)
	assert.Equal(t, "4.99", cfg.ShippingCost().String())
	assert.Equal(t, 10, cfg.RateLimit.Max)
	assert.Equal(t, time.Minute, cfg.RateLimit.Window)
	assert.Equal(t, 3*time.Second, cfg.Graceful.ReadinessDelay)
	assert.Equal(t, "payments.events", cfg.Kafka.PaymentTopic)
	assert.Equal(t, 600, cfg.CORS.MaxAge)
	assert.Empty(t, cfg.CORS.AllowOrigins)
}

func TestLoadConfig_PlatformDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://platform/db")
	t.Setenv("KART_AUTH_SECRET", "jwt")
	t.Setenv("KART_WEBHOOK_SECRET", "hmac")

	cfg, err := loadConfig(envOnly())
	require.NoError(t, err)
	assert.Equal(t, StoragePostgres, cfg.Storage)
	assert.Equal(t, "postgres://platform/db", cfg.DatabaseURL)
}

func TestConfig_Validate(t *testing.T) {
	valid := func() Config {
		return Config{
			Storage:   StorageMemory,
			Notifier:  NotifierLog,
			Auth:      AuthConfig{Secret: "s"},
			Webhook:   WebhookConfig{Secret: "w"},
			Checkout:  CheckoutConfig{ShippingCost: "0"},
			RateLimit: RateLimitConfig{Max: 1, Window: time.Second},
		}
	}
	require.NoError(t, func() error { c := valid(); return c.Validate() }())

	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{name: "postgres without url", mutate: func(c *Config) { c.Storage = StoragePostgres }},
		{name: "unknown storage", mutate: func(c *Config) { c.Storage = "sqlite" }},
		{name: "kafka without brokers", mutate: func(c *Config) { c.Notifier = NotifierKafka }},
		{name: "amqp without url", mutate: func(c *Config) { c.Notifier = NotifierAMQP }},
		{name: "unknown notifier", mutate: func(c *Config) { c.Notifier = "smtp" }},
		{name: "no auth secret", mutate: func(c *Config) { c.Auth.Secret = "" }},
		{name: "no webhook secret", mutate: func(c *Config) { c.Webhook.Secret = "" }},
		{name: "negative shipping", mutate: func(c *Config) { c.Checkout.ShippingCost = "-1" }},
		{name: "bad shipping", mutate: func(c *Config) { c.Checkout.ShippingCost = "free" }},
		{name: "zero rate limit", mutate: func(c *Config) { c.RateLimit.Max = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(&c)
			require.Error(t, c.Validate())
		})
	}
}

func TestActorKey(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/orders", nil)
	req.RemoteAddr = "10.1.2.3:4567"
	assert.Equal(t, "ip:10.1.2.3", actorKey(req))

	req = req.WithContext(auth.WithActor(req.Context(), auth.Actor{UserID: "u1"}))
	assert.Equal(t, "user:u1", actorKey(req))
}
