// Package extension provides the Forge extension adapter for Entitle.
//
// It implements the forge.Extension interface to integrate Entitle
// into a Forge application with automatic dependency discovery,
// DI registration, and lifecycle management.
//
// Configuration can be provided programmatically via Option functions,
// via YAML configuration files under "extensions.entitle" or "entitle"
// keys, or from the environment through LoadConfigFromEnv.
package extension

import (
	"context"
	"errors"

	"github.com/xraph/forge"
	"github.com/xraph/vessel"
	"golang.org/x/time/rate"

	"github.com/xraph/entitle"
	"github.com/xraph/entitle/gateway"
	"github.com/xraph/entitle/lock"
	"github.com/xraph/entitle/store"
	"github.com/xraph/entitle/store/memory"
)

// ExtensionName is the name registered with Forge.
const ExtensionName = "entitle"

// ExtensionDescription is the human-readable description.
const ExtensionDescription = "Subscription entitlements, usage metering and payment reconciliation"

// ExtensionVersion is the semantic version.
const ExtensionVersion = "0.1.0"

// Ensure Extension implements forge.Extension at compile time.
var _ forge.Extension = (*Extension)(nil)

// Extension adapts Entitle as a Forge extension.
type Extension struct {
	*forge.BaseExtension

	config     Config
	engine     *entitle.Engine
	store      store.Store
	locker     lock.Locker
	redisLock  *lock.Redis
	engineOpts []entitle.Option
}

// New creates a new Entitle Forge extension with the given options.
func New(opts ...Option) *Extension {
	e := &Extension{
		BaseExtension: forge.NewBaseExtension(ExtensionName, ExtensionVersion, ExtensionDescription),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Engine returns the underlying Engine.
// This is nil until Register is called.
func (e *Extension) Engine() *entitle.Engine { return e.engine }

// Register implements [forge.Extension]. It loads configuration,
// initializes the engine, and registers it in the DI container.
func (e *Extension) Register(fapp forge.App) error {
	if err := e.BaseExtension.Register(fapp); err != nil {
		return err
	}

	if err := e.loadConfiguration(); err != nil {
		return err
	}

	// Use memory store if no store was provided programmatically.
	if e.store == nil {
		e.store = memory.New()
	}

	if e.locker == nil && e.config.RedisAddress != "" {
		ctx, cancel := context.WithTimeout(context.Background(), e.config.StoreTimeout)
		defer cancel()

		rl, err := lock.DialRedis(ctx, lock.RedisConfig{
			Address:  e.config.RedisAddress,
			Password: e.config.RedisPassword,
			DB:       e.config.RedisDB,
			Prefix:   e.config.LockPrefix,
		})
		if err != nil {
			return err
		}
		e.redisLock = rl
		e.locker = rl
	}

	e.engine = entitle.New(e.store, e.buildEngineOpts()...)

	return vessel.Provide(fapp.Container(), func() (*entitle.Engine, error) {
		return e.engine, nil
	})
}

// Start implements [forge.Extension].
func (e *Extension) Start(ctx context.Context) error {
	if e.engine == nil {
		return errors.New("entitle: extension not initialized")
	}

	if err := e.engine.Start(ctx); err != nil {
		return err
	}

	e.MarkStarted()
	return nil
}

// Stop implements [forge.Extension].
func (e *Extension) Stop(_ context.Context) error {
	var errs []error
	if e.engine != nil {
		errs = append(errs, e.engine.Stop())
	}
	if e.redisLock != nil {
		errs = append(errs, e.redisLock.Close())
	}
	e.MarkStopped()
	return errors.Join(errs...)
}

// Health implements [forge.Extension].
func (e *Extension) Health(ctx context.Context) error {
	if e.store == nil {
		return errors.New("entitle: store not initialized")
	}
	return e.store.Ping(ctx)
}

// buildEngineOpts constructs entitle.Option values from the resolved config.
// Pass-through options are applied last and win.
func (e *Extension) buildEngineOpts() []entitle.Option {
	cfg := e.config
	opts := []entitle.Option{
		entitle.WithStoreTimeout(cfg.StoreTimeout),
		entitle.WithResetConcurrency(cfg.ResetBatchSize, cfg.ResetWorkers),
	}

	if cfg.DisableMigrate {
		opts = append(opts, entitle.WithSkipMigrate())
	}
	if cfg.DisableMaintenance {
		opts = append(opts, entitle.WithMaintenanceInterval(0))
	} else {
		opts = append(opts, entitle.WithMaintenanceInterval(cfg.MaintenanceInterval))
	}
	if cfg.DemoRatePerMinute > 0 {
		opts = append(opts, entitle.WithDemoRateLimit(rate.Limit(cfg.DemoRatePerMinute/60), cfg.DemoBurst))
	}
	if e.locker != nil {
		opts = append(opts, entitle.WithLocker(e.locker))
	}

	if cfg.TokenTTL > 0 || cfg.DemoTTL > 0 || cfg.DemoMaxUsage > 0 {
		s := entitle.DefaultSettings()
		if cfg.TokenTTL > 0 {
			s.TokenTTL = cfg.TokenTTL
		}
		if cfg.DemoTTL > 0 {
			s.DemoTTL = cfg.DemoTTL
		}
		if cfg.DemoMaxUsage > 0 {
			s.DemoMaxUsage = cfg.DemoMaxUsage
		}
		opts = append(opts, entitle.WithSettings(s))
	}

	for _, g := range e.configuredGateways() {
		opts = append(opts, entitle.WithGateway(g))
	}

	return append(opts, e.engineOpts...)
}

// configuredGateways builds the gateways whose credentials are present.
func (e *Extension) configuredGateways() []gateway.Gateway {
	var gs []gateway.Gateway
	if e.config.StripeWebhookSecret != "" {
		gs = append(gs, gateway.NewStripe(e.config.StripeWebhookSecret))
	}
	if e.config.IyzicoSecretKey != "" {
		gs = append(gs, gateway.NewIyzico(e.config.IyzicoSecretKey, e.config.IyzicoBaseURL))
	}
	if e.config.PayTRMerchantKey != "" && e.config.PayTRMerchantSalt != "" {
		gs = append(gs, gateway.NewPayTR(e.config.PayTRMerchantKey, e.config.PayTRMerchantSalt))
	}
	return gs
}

// --- Config Loading (mirrors grove/shield extension pattern) ---

// loadConfiguration loads config from YAML files or programmatic sources.
func (e *Extension) loadConfiguration() error {
	programmaticConfig := e.config

	// Try loading from config file.
	fileConfig, configLoaded := e.tryLoadFromConfigFile()

	if !configLoaded {
		if programmaticConfig.RequireConfig {
			return errors.New("entitle: configuration is required but not found in config files; " +
				"ensure 'extensions.entitle' or 'entitle' key exists in your config")
		}

		// Use programmatic config merged with defaults.
		e.config = mergeWithDefaults(programmaticConfig)
	} else {
		// Config loaded from YAML -- merge with programmatic options.
		e.config = mergeConfigurations(fileConfig, programmaticConfig)
	}

	e.Logger().Debug("entitle: configuration loaded",
		forge.F("disable_migrate", e.config.DisableMigrate),
		forge.F("store_timeout", e.config.StoreTimeout),
		forge.F("maintenance_interval", e.config.MaintenanceInterval),
		forge.F("disable_maintenance", e.config.DisableMaintenance),
		forge.F("demo_rate_per_minute", e.config.DemoRatePerMinute),
		forge.F("redis_lock", e.config.RedisAddress != ""),
		forge.F("gateways", len(e.configuredGateways())),
	)

	return nil
}

// tryLoadFromConfigFile attempts to load config from YAML files.
func (e *Extension) tryLoadFromConfigFile() (Config, bool) {
	cm := e.App().Config()
	var cfg Config

	// Try "extensions.entitle" first (namespaced pattern).
	if cm.IsSet("extensions.entitle") {
		if err := cm.Bind("extensions.entitle", &cfg); err == nil {
			e.Logger().Debug("entitle: loaded config from file",
				forge.F("key", "extensions.entitle"),
			)
			return cfg, true
		}
		e.Logger().Warn("entitle: failed to bind extensions.entitle config",
			forge.F("error", "bind failed"),
		)
	}

	// Try legacy "entitle" key.
	if cm.IsSet("entitle") {
		if err := cm.Bind("entitle", &cfg); err == nil {
			e.Logger().Debug("entitle: loaded config from file",
				forge.F("key", "entitle"),
			)
			return cfg, true
		}
		e.Logger().Warn("entitle: failed to bind entitle config",
			forge.F("error", "bind failed"),
		)
	}

	return Config{}, false
}

// mergeWithDefaults fills zero-valued fields with defaults.
func mergeWithDefaults(cfg Config) Config {
	defaults := DefaultConfig()
	fill(&cfg.StoreTimeout, defaults.StoreTimeout)
	fill(&cfg.MaintenanceInterval, defaults.MaintenanceInterval)
	fill(&cfg.ResetBatchSize, defaults.ResetBatchSize)
	fill(&cfg.ResetWorkers, defaults.ResetWorkers)
	fill(&cfg.DemoBurst, defaults.DemoBurst)
	fill(&cfg.LockPrefix, defaults.LockPrefix)
	return cfg
}

// mergeConfigurations merges YAML config with programmatic options.
// YAML config takes precedence for most fields; programmatic values fill gaps.
func mergeConfigurations(yamlConfig, programmaticConfig Config) Config {
	// Programmatic bool flags override when true.
	if programmaticConfig.DisableMigrate {
		yamlConfig.DisableMigrate = true
	}
	if programmaticConfig.DisableMaintenance {
		yamlConfig.DisableMaintenance = true
	}

	fill(&yamlConfig.StoreTimeout, programmaticConfig.StoreTimeout)
	fill(&yamlConfig.MaintenanceInterval, programmaticConfig.MaintenanceInterval)
	fill(&yamlConfig.ResetBatchSize, programmaticConfig.ResetBatchSize)
	fill(&yamlConfig.ResetWorkers, programmaticConfig.ResetWorkers)
	fill(&yamlConfig.DemoRatePerMinute, programmaticConfig.DemoRatePerMinute)
	fill(&yamlConfig.DemoBurst, programmaticConfig.DemoBurst)
	fill(&yamlConfig.TokenTTL, programmaticConfig.TokenTTL)
	fill(&yamlConfig.DemoTTL, programmaticConfig.DemoTTL)
	fill(&yamlConfig.DemoMaxUsage, programmaticConfig.DemoMaxUsage)
	fill(&yamlConfig.StripeWebhookSecret, programmaticConfig.StripeWebhookSecret)
	fill(&yamlConfig.IyzicoSecretKey, programmaticConfig.IyzicoSecretKey)
	fill(&yamlConfig.IyzicoBaseURL, programmaticConfig.IyzicoBaseURL)
	fill(&yamlConfig.PayTRMerchantKey, programmaticConfig.PayTRMerchantKey)
	fill(&yamlConfig.PayTRMerchantSalt, programmaticConfig.PayTRMerchantSalt)
	fill(&yamlConfig.RedisAddress, programmaticConfig.RedisAddress)
	fill(&yamlConfig.RedisPassword, programmaticConfig.RedisPassword)
	fill(&yamlConfig.RedisDB, programmaticConfig.RedisDB)
	fill(&yamlConfig.LockPrefix, programmaticConfig.LockPrefix)

	// Fill remaining zeros with defaults.
	return mergeWithDefaults(yamlConfig)
}

// fill sets *dst to v when *dst is the zero value.
func fill[T comparable](dst *T, v T) {
	var zero T
	if *dst == zero {
		*dst = v
	}
}
