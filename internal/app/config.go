package app

import (
	"io/fs"
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"

	NotifierLog   = "log"
	NotifierKafka = "kafka"
	NotifierAMQP  = "amqp"
)

// Config holds the complete application configuration, loadable from
// environment variables (KART_ prefix), flags, or YAML config files.
type Config struct {
	Addr        string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL string `usage:"PostgreSQL connection URL (KART_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	Storage     string `default:"postgres" usage:"Storage backend: postgres or memory"`
	Notifier    string `default:"log" usage:"Order notification sink: log, kafka or amqp"`
	Redis       RedisConfig
	Kafka       KafkaConfig
	AMQP        AMQPConfig `env:"AMQP" flag:"amqp"`
	Auth        AuthConfig
	Webhook     WebhookConfig
	Checkout    CheckoutConfig
	RateLimit   RateLimitConfig
	CORS        CORSConfig `env:"CORS" flag:"cors"`
	Graceful    GracefulConfig
}

// RedisConfig enables Redis-backed webhook deduplication when Addr is set.
// Without it event IDs are remembered in process memory.
type RedisConfig struct {
	Addr     string `default:"" usage:"Redis address (host:port)"`
	Password string `default:"" usage:"Redis password"`
	DB       int    `default:"0" usage:"Redis database"`
}

// KafkaConfig configures the order event producer and the payment event
// consumer. The consumer runs whenever Brokers is set.
type KafkaConfig struct {
	Brokers      []string `usage:"Kafka bootstrap brokers"`
	OrderTopic   string   `default:"orders.events" usage:"Topic for order notifications"`
	PaymentTopic string   `default:"payments.events" usage:"Topic with payment gateway events"`
	GroupID      string   `default:"kart-orders" usage:"Consumer group for payment events"`
	Workers      int      `default:"4" usage:"Payment event handlers"`
	Buffer       int      `default:"1024" usage:"Producer buffer size"`
}

// AMQPConfig configures the RabbitMQ notifier.
type AMQPConfig struct {
	URL   string `env:"URL" flag:"url" default:"" usage:"RabbitMQ URL"`
	Queue string `default:"order-events" usage:"Queue for order notifications"`
}

// AuthConfig configures bearer token verification.
type AuthConfig struct {
	Secret   string        `usage:"HS256 signing secret (KART_AUTH_SECRET)"`
	TokenTTL time.Duration `env:"TOKEN_TTL" flag:"token-ttl" default:"24h" usage:"Lifetime of issued tokens"`
}

// WebhookConfig configures payment webhook verification.
type WebhookConfig struct {
	Secret string `usage:"HMAC-SHA256 secret shared with the payment gateway"`
}

// CheckoutConfig holds placement defaults.
type CheckoutConfig struct {
	ShippingCost string `default:"0" usage:"Shipping cost used when a request omits it"`
}

// RateLimitConfig limits order placement per user.
type RateLimitConfig struct {
	Max    int           `default:"10" usage:"Max orders per window"`
	Window time.Duration `default:"1m" usage:"Rate limit window duration"`
}

// CORSConfig controls browser cross-origin access.
type CORSConfig struct {
	AllowOrigins     []string `usage:"Allowed origins, empty allows any" flag:"cors-allow-origins"`
	AllowCredentials bool     `usage:"Allow credentialed cross-origin requests" flag:"cors-allow-credentials"`
	MaxAge           int      `default:"600" usage:"Preflight cache lifetime in seconds" flag:"cors-max-age"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads .env, then environment variables, flags and YAML config
// files, and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, errors.Wrap(err, "load .env")
	}
	return loadConfig(aconfig.Config{
		EnvPrefix: "KART",
		Files:     []string{"config.yaml", "/etc/kart/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
}

func loadConfig(ac aconfig.Config) (*Config, error) {
	var cfg Config
	if err := aconfig.LoaderFor(&cfg, ac).Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// application's KART_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}

// Validate reports the first configuration problem.
func (c *Config) Validate() error {
	switch c.Storage {
	case StorageMemory:
	case StoragePostgres:
		if c.DatabaseURL == "" {
			return errors.New("database URL is required: set KART_DATABASE_URL or DATABASE_URL")
		}
	default:
		return errors.Errorf("unknown storage %q", c.Storage)
	}

	switch c.Notifier {
	case NotifierLog:
	case NotifierKafka:
		if len(c.Kafka.Brokers) == 0 {
			return errors.New("kafka notifier requires KART_KAFKA_BROKERS")
		}
	case NotifierAMQP:
		if c.AMQP.URL == "" {
			return errors.New("amqp notifier requires KART_AMQP_URL")
		}
	default:
		return errors.Errorf("unknown notifier %q", c.Notifier)
	}

	if c.Auth.Secret == "" {
		return errors.New("auth secret is required: set KART_AUTH_SECRET")
	}
	if c.Webhook.Secret == "" {
		return errors.New("webhook secret is required: set KART_WEBHOOK_SECRET")
	}
	shipping, err := decimal.NewFromString(c.Checkout.ShippingCost)
	if err != nil || shipping.IsNegative() {
		return errors.Errorf("invalid shipping cost %q", c.Checkout.ShippingCost)
	}
	if c.RateLimit.Max <= 0 || c.RateLimit.Window <= 0 {
		return errors.New("rate limit max and window must be positive")
	}
	return nil
}

// ShippingCost returns the validated default shipping cost.
func (c *Config) ShippingCost() decimal.Decimal {
	return decimal.RequireFromString(c.Checkout.ShippingCost)
}
