package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roamwire/roamwire/internal/pkg/env"
)

// Config is built once at startup and passed to the components that need it.
// Nothing below reads the environment on its own.
type Config struct {
	App           AppConfig           `yaml:"app"`
	Database      DatabaseConfig      `yaml:"database"`
	Cache         CacheConfig         `yaml:"cache"`
	Pricing       PricingConfig       `yaml:"pricing"`
	Discounts     DiscountConfig      `yaml:"discounts"`
	Ledger        LedgerConfig        `yaml:"ledger"`
	Webhooks      WebhookConfig       `yaml:"webhooks"`
	Payment       PaymentConfig       `yaml:"payment"`
	Notifications NotificationConfig  `yaml:"notifications"`
	Metrics       MetricsConfig       `yaml:"metrics"`
	Features      Features            `yaml:"features"`
	Checkout      CheckoutLimitConfig `yaml:"checkout"`
}

type AppConfig struct {
	Host        string `yaml:"host"`
	Port        string `yaml:"port"`
	AdminAPIKey string `yaml:"admin_api_key"`
}

type DatabaseConfig struct {
	Host        string `yaml:"host"`
	Port        string `yaml:"port"`
	User        string `yaml:"user"`
	Password    string `yaml:"password"`
	Name        string `yaml:"name"`
	SSLMode     string `yaml:"sslmode"`
	AutoMigrate bool   `yaml:"auto_migrate"`
}

type CacheConfig struct {
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	Password string `yaml:"password"`
}

type PricingConfig struct {
	// MinimumProfitMargin is added to vendor cost to get the lowest chargeable total, in cents.
	MinimumProfitMargin int64 `yaml:"minimum_profit_margin"`
}

type DiscountConfig struct {
	ReservationTTL time.Duration `yaml:"reservation_ttl"`
	PurgeInterval  time.Duration `yaml:"purge_interval"`
}

type LedgerConfig struct {
	MaxAttempts    int           `yaml:"max_attempts"`
	ReplayInterval time.Duration `yaml:"replay_interval"`
	ReplayIdle     time.Duration `yaml:"replay_idle"`
	ReplayBatch    int           `yaml:"replay_batch"`
}

type WebhookConfig struct {
	PaymentSecret          string        `yaml:"payment_secret"`
	ProvisioningSecret     string        `yaml:"provisioning_secret"`
	ProvisioningAllowedIPs []string      `yaml:"provisioning_allowed_ips"`
	SignatureTolerance     time.Duration `yaml:"signature_tolerance"`
}

type PaymentConfig struct {
	APIBaseURL string        `yaml:"api_base_url"`
	SecretKey  string        `yaml:"secret_key"`
	Timeout    time.Duration `yaml:"timeout"`
}

type NotificationConfig struct {
	Driver  string        `yaml:"driver"`
	Timeout time.Duration `yaml:"timeout"`
	SMTP    SMTPConfig    `yaml:"smtp"`
	Kafka   KafkaConfig   `yaml:"kafka"`
}

type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type MetricsConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

type CheckoutLimitConfig struct {
	RateLimitMax    int           `yaml:"rate_limit_max"`
	RateLimitWindow time.Duration `yaml:"rate_limit_window"`
}

// Features are product switches injected where they matter.
type Features struct {
	DiscountsEnabled bool `yaml:"discounts_enabled"`
	WalletTopUp      bool `yaml:"wallet_top_up"`
}

func Default() Config {
	return Config{
		App:      AppConfig{Host: "localhost", Port: "4000"},
		Database: DatabaseConfig{Host: "127.0.0.1", Port: "5432", SSLMode: "disable", AutoMigrate: true},
		Cache:    CacheConfig{Host: "localhost", Port: "6379"},
		Pricing:  PricingConfig{MinimumProfitMargin: 50},
		Discounts: DiscountConfig{
			ReservationTTL: 30 * time.Minute,
			PurgeInterval:  10 * time.Minute,
		},
		Ledger: LedgerConfig{
			MaxAttempts:    10,
			ReplayInterval: time.Minute,
			ReplayIdle:     2 * time.Minute,
			ReplayBatch:    100,
		},
		Webhooks: WebhookConfig{SignatureTolerance: 5 * time.Minute},
		Payment:  PaymentConfig{APIBaseURL: "https://api.stripe.com", Timeout: 10 * time.Second},
		Notifications: NotificationConfig{
			Driver:  "smtp",
			Timeout: 5 * time.Second,
			SMTP:    SMTPConfig{Port: "587"},
			Kafka:   KafkaConfig{Topic: "notifications.activation"},
		},
		Metrics:  MetricsConfig{Username: "admin"},
		Features: Features{DiscountsEnabled: true},
		Checkout: CheckoutLimitConfig{RateLimitMax: 20, RateLimitWindow: time.Minute},
	}
}

// Load starts from Default, applies the YAML file named by CONFIG_FILE (if any)
// and then the environment.
func Load() (Config, error) {
	cfg := Default()

	if path := env.GetEnv("CONFIG_FILE", ""); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.App.Host = env.GetEnv("APP_HOST", cfg.App.Host)
	cfg.App.Port = env.GetEnv("APP_PORT", cfg.App.Port)
	cfg.App.AdminAPIKey = env.GetEnv("ADMIN_API_KEY", cfg.App.AdminAPIKey)

	cfg.Database.Host = env.GetEnv("DB_HOST", cfg.Database.Host)
	cfg.Database.Port = env.GetEnv("DB_PORT", cfg.Database.Port)
	cfg.Database.User = env.GetEnv("DB_USER", cfg.Database.User)
	cfg.Database.Password = env.GetEnv("DB_PASSWORD", cfg.Database.Password)
	cfg.Database.Name = env.GetEnv("DB_NAME", cfg.Database.Name)
	cfg.Database.SSLMode = env.GetEnv("DB_SSLMODE", cfg.Database.SSLMode)
	cfg.Database.AutoMigrate = env.GetEnvBool("DB_AUTO_MIGRATE", cfg.Database.AutoMigrate)

	cfg.Cache.Host = env.GetEnv("CACHE_HOST", cfg.Cache.Host)
	cfg.Cache.Port = env.GetEnv("CACHE_PORT", cfg.Cache.Port)
	cfg.Cache.Password = env.GetEnv("CACHE_PASSWORD", cfg.Cache.Password)

	cfg.Pricing.MinimumProfitMargin = env.GetEnvInt64("PRICING_MIN_PROFIT_MARGIN_CENTS", cfg.Pricing.MinimumProfitMargin)

	cfg.Discounts.ReservationTTL = env.GetEnvDuration("DISCOUNT_RESERVATION_TTL", cfg.Discounts.ReservationTTL)
	cfg.Discounts.PurgeInterval = env.GetEnvDuration("DISCOUNT_PURGE_INTERVAL", cfg.Discounts.PurgeInterval)

	cfg.Ledger.MaxAttempts = env.GetEnvInt("LEDGER_MAX_ATTEMPTS", cfg.Ledger.MaxAttempts)
	cfg.Ledger.ReplayInterval = env.GetEnvDuration("LEDGER_REPLAY_INTERVAL", cfg.Ledger.ReplayInterval)
	cfg.Ledger.ReplayIdle = env.GetEnvDuration("LEDGER_REPLAY_IDLE", cfg.Ledger.ReplayIdle)
	cfg.Ledger.ReplayBatch = env.GetEnvInt("LEDGER_REPLAY_BATCH", cfg.Ledger.ReplayBatch)

	cfg.Webhooks.PaymentSecret = env.GetEnv("PAYMENT_WEBHOOK_SECRET", cfg.Webhooks.PaymentSecret)
	cfg.Webhooks.ProvisioningSecret = env.GetEnv("PROVISIONING_WEBHOOK_SECRET", cfg.Webhooks.ProvisioningSecret)
	if ips := env.GetEnvList("PROVISIONING_ALLOWED_IPS"); len(ips) > 0 {
		cfg.Webhooks.ProvisioningAllowedIPs = ips
	}
	cfg.Webhooks.SignatureTolerance = env.GetEnvDuration("WEBHOOK_SIGNATURE_TOLERANCE", cfg.Webhooks.SignatureTolerance)

	cfg.Payment.APIBaseURL = env.GetEnv("PAYMENT_API_BASE_URL", cfg.Payment.APIBaseURL)
	cfg.Payment.SecretKey = env.GetEnv("PAYMENT_SECRET_KEY", cfg.Payment.SecretKey)
	cfg.Payment.Timeout = env.GetEnvDuration("PAYMENT_TIMEOUT", cfg.Payment.Timeout)

	cfg.Notifications.Driver = env.GetEnv("NOTIFY_DRIVER", cfg.Notifications.Driver)
	cfg.Notifications.Timeout = env.GetEnvDuration("NOTIFY_TIMEOUT", cfg.Notifications.Timeout)
	cfg.Notifications.SMTP.Host = env.GetEnv("SMTP_HOST", cfg.Notifications.SMTP.Host)
	cfg.Notifications.SMTP.Port = env.GetEnv("SMTP_PORT", cfg.Notifications.SMTP.Port)
	cfg.Notifications.SMTP.Username = env.GetEnv("SMTP_USERNAME", cfg.Notifications.SMTP.Username)
	cfg.Notifications.SMTP.Password = env.GetEnv("SMTP_PASSWORD", cfg.Notifications.SMTP.Password)
	cfg.Notifications.SMTP.From = env.GetEnv("SMTP_FROM", cfg.Notifications.SMTP.From)
	if brokers := env.GetEnvList("KAFKA_BROKERS"); len(brokers) > 0 {
		cfg.Notifications.Kafka.Brokers = brokers
	}
	cfg.Notifications.Kafka.Topic = env.GetEnv("KAFKA_NOTIFY_TOPIC", cfg.Notifications.Kafka.Topic)

	cfg.Metrics.Username = env.GetEnv("METRICS_USERNAME", cfg.Metrics.Username)
	cfg.Metrics.Password = env.GetEnv("METRICS_PASSWORD", cfg.Metrics.Password)

	cfg.Features.DiscountsEnabled = env.GetEnvBool("FEATURE_DISCOUNTS", cfg.Features.DiscountsEnabled)
	cfg.Features.WalletTopUp = env.GetEnvBool("FEATURE_WALLET_TOP_UP", cfg.Features.WalletTopUp)

	cfg.Checkout.RateLimitMax = env.GetEnvInt("CHECKOUT_RATE_LIMIT_MAX", cfg.Checkout.RateLimitMax)
	cfg.Checkout.RateLimitWindow = env.GetEnvDuration("CHECKOUT_RATE_LIMIT_WINDOW", cfg.Checkout.RateLimitWindow)
}

func (c Config) Validate() error {
	if c.Pricing.MinimumProfitMargin < 0 {
		return fmt.Errorf("pricing.minimum_profit_margin must not be negative")
	}
	if c.Discounts.ReservationTTL <= 0 {
		return fmt.Errorf("discounts.reservation_ttl must be positive")
	}
	if c.Ledger.MaxAttempts < 1 {
		return fmt.Errorf("ledger.max_attempts must be at least 1")
	}
	if c.Notifications.Timeout <= 0 {
		return fmt.Errorf("notifications.timeout must be positive")
	}
	switch c.Notifications.Driver {
	case "smtp", "kafka", "log":
	default:
		return fmt.Errorf("notifications.driver %q is not one of smtp, kafka, log", c.Notifications.Driver)
	}
	if c.Notifications.Driver == "kafka" && len(c.Notifications.Kafka.Brokers) == 0 {
		return fmt.Errorf("notifications.kafka.brokers is required for the kafka driver")
	}
	return nil
}
