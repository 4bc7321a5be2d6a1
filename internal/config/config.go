package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string
	PublicURL   string

	OTLPEndpoint string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBPath            string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	Redis    RedisConfig
	Kafka    KafkaConfig
	Email    EmailConfig
	Slack    SlackConfig
	Identity IdentityConfig
	Gateways GatewaysConfig

	NodeID         int64
	GatewayTimeout time.Duration
	WebhookRate    RateConfig
	IntentRate     BucketConfig
	Scheduler      SchedulerConfig
}

type SchedulerConfig struct {
	Enabled          bool
	RunInterval      time.Duration
	PendingThreshold time.Duration
	BatchSize        int
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

func (c RedisConfig) Enabled() bool {
	return strings.TrimSpace(c.Addr) != ""
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
}

func (c KafkaConfig) Enabled() bool {
	return len(c.Brokers) > 0 && strings.TrimSpace(c.Topic) != ""
}

type EmailConfig struct {
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string
}

func (c EmailConfig) Enabled() bool {
	return strings.TrimSpace(c.SMTPHost) != ""
}

type SlackConfig struct {
	SecurityWebhookURL string
}

// IdentityConfig describes how caller identity headers set by the upstream
// identity component are trusted.
type IdentityConfig struct {
	SharedSecret string
}

type GatewaysConfig struct {
	Stripe   StripeConfig
	Razorpay RazorpayConfig
	PayU     PayUConfig
}

type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	BaseURL       string
}

type RazorpayConfig struct {
	KeyID         string
	KeySecret     string
	WebhookSecret string
	BaseURL       string
}

type PayUConfig struct {
	MerchantKey  string
	MerchantSalt string
	PaymentURL   string
	InfoURL      string
}

// RateConfig is a sliding window limit: at most Limit requests per Window.
type RateConfig struct {
	Limit  int
	Window time.Duration
}

// BucketConfig is a token bucket refilled at Rate tokens per second.
type BucketConfig struct {
	Rate  float64
	Burst int
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:      getenv("APP_SERVICE", "storefront"),
		AppVersion:   getenv("APP_VERSION", "0.1.0"),
		Environment:  getenv("ENVIRONMENT", "development"),
		HTTPAddr:     getenv("HTTP_ADDR", ":8080"),
		PublicURL:    strings.TrimRight(getenv("PUBLIC_URL", "http://localhost:8080"), "/"),
		OTLPEndpoint: getenv("OTLP_ENDPOINT", "localhost:4317"),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "storefront"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBPath:            getenv("DATABASE_PATH", "storefront.db"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 10),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 50),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 60),

		Redis: RedisConfig{
			Addr:     strings.TrimSpace(getenv("REDIS_ADDR", "")),
			Password: getenv("REDIS_PASSWORD", ""),
			DB:       getenvInt("REDIS_DB", 0),
		},
		Kafka: KafkaConfig{
			Brokers: splitList(getenv("KAFKA_BROKERS", "")),
			Topic:   strings.TrimSpace(getenv("KAFKA_ORDER_EVENTS_TOPIC", "storefront.order-events")),
		},
		Email: EmailConfig{
			SMTPHost:     strings.TrimSpace(getenv("SMTP_HOST", "")),
			SMTPPort:     getenvInt("SMTP_PORT", 587),
			SMTPUsername: getenv("SMTP_USERNAME", ""),
			SMTPPassword: getenv("SMTP_PASSWORD", ""),
			SMTPFrom:     getenv("SMTP_FROM", "orders@storefront.local"),
		},
		Slack: SlackConfig{
			SecurityWebhookURL: strings.TrimSpace(getenv("SLACK_SECURITY_WEBHOOK_URL", "")),
		},
		Identity: IdentityConfig{
			SharedSecret: strings.TrimSpace(getenv("IDENTITY_SHARED_SECRET", "")),
		},
		Gateways: GatewaysConfig{
			Stripe: StripeConfig{
				SecretKey:     strings.TrimSpace(getenv("STRIPE_SECRET_KEY", "")),
				WebhookSecret: strings.TrimSpace(getenv("STRIPE_WEBHOOK_SECRET", "")),
				BaseURL:       getenv("STRIPE_BASE_URL", "https://api.stripe.com"),
			},
			Razorpay: RazorpayConfig{
				KeyID:         strings.TrimSpace(getenv("RAZORPAY_KEY_ID", "")),
				KeySecret:     strings.TrimSpace(getenv("RAZORPAY_KEY_SECRET", "")),
				WebhookSecret: strings.TrimSpace(getenv("RAZORPAY_WEBHOOK_SECRET", "")),
				BaseURL:       getenv("RAZORPAY_BASE_URL", "https://api.razorpay.com"),
			},
			PayU: PayUConfig{
				MerchantKey:  strings.TrimSpace(getenv("PAYU_MERCHANT_KEY", "")),
				MerchantSalt: strings.TrimSpace(getenv("PAYU_MERCHANT_SALT", "")),
				PaymentURL:   getenv("PAYU_PAYMENT_URL", "https://test.payu.in/_payment"),
				InfoURL:      getenv("PAYU_INFO_URL", "https://test.payu.in/merchant/postservice?form=2"),
			},
		},

		NodeID:         getenvInt64("SNOWFLAKE_NODE_ID", 1),
		GatewayTimeout: getenvDuration("GATEWAY_TIMEOUT", 10*time.Second),
		WebhookRate: RateConfig{
			Limit:  getenvInt("WEBHOOK_RATE_LIMIT", 120),
			Window: getenvDuration("WEBHOOK_RATE_WINDOW", time.Minute),
		},
		IntentRate: BucketConfig{
			Rate:  getenvFloat("INTENT_RATE_PER_SECOND", 0.5),
			Burst: getenvInt("INTENT_RATE_BURST", 5),
		},
		Scheduler: SchedulerConfig{
			Enabled:          getenvBool("SCHEDULER_ENABLED", true),
			RunInterval:      getenvDuration("SCHEDULER_RUN_INTERVAL", time.Minute),
			PendingThreshold: getenvDuration("SCHEDULER_PENDING_THRESHOLD", 15*time.Minute),
			BatchSize:        getenvInt("SCHEDULER_BATCH_SIZE", 50),
		},
	}

	return cfg
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), "production")
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvInt64(key string, def int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
