package extension

import (
	"time"

	"github.com/xraph/entitle"
	"github.com/xraph/entitle/gateway"
	"github.com/xraph/entitle/lock"
	"github.com/xraph/entitle/plugin"
	"github.com/xraph/entitle/store"
)

// Option configures the Entitle Forge extension.
type Option func(*Extension)

// WithStore sets the store for the engine. Without it an in-memory store
// is used.
func WithStore(s store.Store) Option {
	return func(e *Extension) {
		e.store = s
	}
}

// WithEngineOption passes an entitle.Option through to the underlying engine.
func WithEngineOption(opt entitle.Option) Option {
	return func(e *Extension) {
		e.engineOpts = append(e.engineOpts, opt)
	}
}

// WithPlugin registers an entitle plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(e *Extension) {
		e.engineOpts = append(e.engineOpts, entitle.WithPlugin(p))
	}
}

// WithGateway registers a payment gateway in addition to those built from
// configuration.
func WithGateway(g gateway.Gateway) Option {
	return func(e *Extension) {
		e.engineOpts = append(e.engineOpts, entitle.WithGateway(g))
	}
}

// WithLocker sets the maintenance lock, overriding RedisAddress.
func WithLocker(l lock.Locker) Option {
	return func(e *Extension) { e.locker = l }
}

// WithConfig sets the Forge extension configuration.
func WithConfig(cfg Config) Option {
	return func(e *Extension) { e.config = cfg }
}

// WithDisableMigrate prevents auto-migration on start.
func WithDisableMigrate() Option {
	return func(e *Extension) { e.config.DisableMigrate = true }
}

// WithRequireConfig requires config to be present in YAML files.
// If true and no config is found, Register returns an error.
func WithRequireConfig(require bool) Option {
	return func(e *Extension) { e.config.RequireConfig = require }
}

// WithStoreTimeout bounds every store call.
func WithStoreTimeout(d time.Duration) Option {
	return func(e *Extension) { e.config.StoreTimeout = d }
}

// WithMaintenanceInterval sets how often maintenance runs.
func WithMaintenanceInterval(d time.Duration) Option {
	return func(e *Extension) { e.config.MaintenanceInterval = d }
}

// WithDemoRateLimit throttles demo attempts per client IP.
func WithDemoRateLimit(perMinute float64, burst int) Option {
	return func(e *Extension) {
		e.config.DemoRatePerMinute = perMinute
		e.config.DemoBurst = burst
	}
}

// WithRedisLock moves the maintenance lock to Redis.
func WithRedisLock(address, prefix string) Option {
	return func(e *Extension) {
		e.config.RedisAddress = address
		e.config.LockPrefix = prefix
	}
}
