package extension

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds the Entitle extension configuration.
// Fields can be set programmatically via Option functions, loaded from
// YAML configuration files (under "extensions.entitle" or "entitle" keys)
// or read from ENTITLE_* environment variables with LoadConfigFromEnv.
type Config struct {
	// DisableMigrate prevents auto-migration on start.
	DisableMigrate bool `env:"ENTITLE_DISABLE_MIGRATE" json:"disable_migrate" mapstructure:"disable_migrate" yaml:"disable_migrate"`

	// StoreTimeout bounds every single store call (default: 5s).
	StoreTimeout time.Duration `env:"ENTITLE_STORE_TIMEOUT" json:"store_timeout" mapstructure:"store_timeout" yaml:"store_timeout"`

	// MaintenanceInterval is how often lapsed subscriptions are expired and
	// usage counters reset (default: 1h).
	MaintenanceInterval time.Duration `env:"ENTITLE_MAINTENANCE_INTERVAL" json:"maintenance_interval" mapstructure:"maintenance_interval" yaml:"maintenance_interval"`

	// DisableMaintenance stops the background maintenance worker. Another
	// process is then expected to call RunMaintenance.
	DisableMaintenance bool `env:"ENTITLE_DISABLE_MAINTENANCE" json:"disable_maintenance" mapstructure:"disable_maintenance" yaml:"disable_maintenance"`

	// ResetBatchSize and ResetWorkers bound each maintenance run.
	ResetBatchSize int `env:"ENTITLE_RESET_BATCH_SIZE" json:"reset_batch_size" mapstructure:"reset_batch_size" yaml:"reset_batch_size"`
	ResetWorkers   int `env:"ENTITLE_RESET_WORKERS"    json:"reset_workers"    mapstructure:"reset_workers"    yaml:"reset_workers"`

	// DemoRatePerMinute throttles demo attempts per client IP. Zero
	// disables throttling.
	DemoRatePerMinute float64 `env:"ENTITLE_DEMO_RATE_PER_MINUTE" json:"demo_rate_per_minute" mapstructure:"demo_rate_per_minute" yaml:"demo_rate_per_minute"`
	DemoBurst         int     `env:"ENTITLE_DEMO_BURST"           json:"demo_burst"           mapstructure:"demo_burst"           yaml:"demo_burst"`

	// TokenTTL, DemoTTL and DemoMaxUsage override the built-in settings
	// when non-zero.
	TokenTTL     time.Duration `env:"ENTITLE_TOKEN_TTL"      json:"token_ttl"      mapstructure:"token_ttl"      yaml:"token_ttl"`
	DemoTTL      time.Duration `env:"ENTITLE_DEMO_TTL"       json:"demo_ttl"       mapstructure:"demo_ttl"       yaml:"demo_ttl"`
	DemoMaxUsage int64         `env:"ENTITLE_DEMO_MAX_USAGE" json:"demo_max_usage" mapstructure:"demo_max_usage" yaml:"demo_max_usage"`

	// StripeWebhookSecret enables the Stripe gateway.
	StripeWebhookSecret string `env:"ENTITLE_STRIPE_WEBHOOK_SECRET" json:"stripe_webhook_secret" mapstructure:"stripe_webhook_secret" yaml:"stripe_webhook_secret"`

	// IyzicoSecretKey enables the iyzico gateway.
	IyzicoSecretKey string `env:"ENTITLE_IYZICO_SECRET_KEY" json:"iyzico_secret_key" mapstructure:"iyzico_secret_key" yaml:"iyzico_secret_key"`
	IyzicoBaseURL   string `env:"ENTITLE_IYZICO_BASE_URL"   json:"iyzico_base_url"   mapstructure:"iyzico_base_url"   yaml:"iyzico_base_url"`

	// PayTRMerchantKey and PayTRMerchantSalt enable the PayTR gateway.
	PayTRMerchantKey  string `env:"ENTITLE_PAYTR_MERCHANT_KEY"  json:"paytr_merchant_key"  mapstructure:"paytr_merchant_key"  yaml:"paytr_merchant_key"`
	PayTRMerchantSalt string `env:"ENTITLE_PAYTR_MERCHANT_SALT" json:"paytr_merchant_salt" mapstructure:"paytr_merchant_salt" yaml:"paytr_merchant_salt"`

	// RedisAddress switches the maintenance lock to Redis so that only one
	// replica runs maintenance at a time.
	RedisAddress  string `env:"ENTITLE_REDIS_ADDRESS"  json:"redis_address"  mapstructure:"redis_address"  yaml:"redis_address"`
	RedisPassword string `env:"ENTITLE_REDIS_PASSWORD" json:"redis_password" mapstructure:"redis_password" yaml:"redis_password"`
	RedisDB       int    `env:"ENTITLE_REDIS_DB"       json:"redis_db"       mapstructure:"redis_db"       yaml:"redis_db"`
	LockPrefix    string `env:"ENTITLE_LOCK_PREFIX"    json:"lock_prefix"    mapstructure:"lock_prefix"    yaml:"lock_prefix"`

	// RequireConfig requires config to be present in YAML files.
	// If true and no config is found, Register returns an error.
	RequireConfig bool `json:"-" yaml:"-"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		StoreTimeout:        5 * time.Second,
		MaintenanceInterval: time.Hour,
		ResetBatchSize:      500,
		ResetWorkers:        8,
		DemoBurst:           5,
		LockPrefix:          "entitle:",
	}
}

// LoadConfigFromEnv reads ENTITLE_* environment variables. Unset fields
// stay zero and are filled from defaults when the extension registers.
func LoadConfigFromEnv() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("entitle: parse env: %w", err)
	}
	return cfg, nil
}
