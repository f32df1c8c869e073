package entitle

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/xraph/entitle/entitlement"
	"github.com/xraph/entitle/gateway"
	"github.com/xraph/entitle/lock"
	"github.com/xraph/entitle/plugin"
	"github.com/xraph/entitle/store"
)

// MaintenanceLockKey is the lock taken by the maintenance worker.
const MaintenanceLockKey = "entitle:maintenance"

// Engine is the entitlement and metering engine.
type Engine struct {
	store    store.Store
	plugins  *plugin.Registry
	logger   *slog.Logger
	now      func() time.Time
	resolver entitlement.Resolver
	gateways *gateway.Registry
	locker   lock.Locker

	settingsSource SettingsSource
	demoThrottle   *throttle

	// Background workers
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	// Configuration
	skipMigrate         bool
	storeTimeout        time.Duration
	maintenanceInterval time.Duration
	resetBatchSize      int
	resetConcurrency    int
}

// New creates a new Engine instance.
func New(s store.Store, opts ...Option) *Engine {
	e := &Engine{
		store:               s,
		plugins:             plugin.NewRegistry(),
		logger:              slog.Default(),
		now:                 time.Now,
		resolver:            entitlement.DefaultResolver,
		gateways:            gateway.NewRegistry(),
		locker:              lock.NewMemory(),
		settingsSource:      NewStaticSettings(DefaultSettings()),
		stopChan:            make(chan struct{}),
		storeTimeout:        5 * time.Second,
		maintenanceInterval: time.Hour,
		resetBatchSize:      500,
		resetConcurrency:    8,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Option configures an Engine instance.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
		e.plugins.WithLogger(logger)
	}
}

// WithPlugin registers a plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(e *Engine) {
		_ = e.plugins.Register(p) //nolint:errcheck // best-effort plugin registration during init
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// WithStoreTimeout bounds every store call. Calls that run out of time
// fail with ErrTransient. Zero disables the bound.
func WithStoreTimeout(d time.Duration) Option {
	return func(e *Engine) {
		e.storeTimeout = d
	}
}

// WithSettings installs a fixed settings snapshot.
func WithSettings(s Settings) Option {
	return func(e *Engine) {
		e.settingsSource = NewStaticSettings(s)
	}
}

// WithSettingsSource reads settings from src at the start of every operation.
func WithSettingsSource(src SettingsSource) Option {
	return func(e *Engine) {
		e.settingsSource = src
	}
}

// WithPolicyResolver replaces the caller-to-policy mapping.
func WithPolicyResolver(r entitlement.Resolver) Option {
	return func(e *Engine) {
		e.resolver = r
	}
}

// WithGateway registers a payment provider gateway.
func WithGateway(g gateway.Gateway) Option {
	return func(e *Engine) {
		e.gateways.Register(g)
	}
}

// WithLocker sets the lock used to keep maintenance single-flight across
// processes.
func WithLocker(l lock.Locker) Option {
	return func(e *Engine) {
		e.locker = l
	}
}

// WithMaintenanceInterval sets how often expirations and usage resets
// run. Zero disables the background worker.
func WithMaintenanceInterval(d time.Duration) Option {
	return func(e *Engine) {
		e.maintenanceInterval = d
	}
}

// WithSkipMigrate leaves schema management to the caller; Start no
// longer runs store migrations.
func WithSkipMigrate() Option {
	return func(e *Engine) {
		e.skipMigrate = true
	}
}

// WithResetConcurrency bounds the per-run reset batch and fan-out.
func WithResetConcurrency(batch, workers int) Option {
	return func(e *Engine) {
		if batch > 0 {
			e.resetBatchSize = batch
		}
		if workers > 0 {
			e.resetConcurrency = workers
		}
	}
}

// WithDemoRateLimit throttles demo attempts per client IP.
func WithDemoRateLimit(limit rate.Limit, burst int) Option {
	return func(e *Engine) {
		e.demoThrottle = newThrottle(limit, burst)
	}
}

// Store returns the underlying store.
func (e *Engine) Store() store.Store { return e.store }

// Plugins returns the plugin registry.
func (e *Engine) Plugins() *plugin.Registry { return e.plugins }

// Gateways returns the payment gateway registry.
func (e *Engine) Gateways() *gateway.Registry { return e.gateways }

// Start migrates the store, initializes plugins and starts the
// maintenance worker.
func (e *Engine) Start(ctx context.Context) error {
	if !e.skipMigrate {
		if err := e.store.Migrate(ctx); err != nil {
			return errors.Join(ErrMigrationFailed, err)
		}
	}

	e.plugins.EmitInit(ctx, e)

	if e.maintenanceInterval > 0 {
		e.wg.Add(1)
		go e.maintenanceWorker()
	}

	e.logger.Info("entitle started",
		"maintenance_interval", e.maintenanceInterval,
		"store_timeout", e.storeTimeout,
		"gateways", e.gateways.Providers(),
	)

	return nil
}

// Stop shuts down the Engine.
func (e *Engine) Stop() error {
	e.stopOnce.Do(func() { close(e.stopChan) })
	e.wg.Wait()

	ctx := context.Background()
	e.plugins.EmitShutdown(ctx)

	return e.store.Close()
}

// opContext bounds a single store call.
func (e *Engine) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.storeTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, e.storeTimeout)
}

// ──────────────────────────────────────────────────
// Maintenance
// ──────────────────────────────────────────────────

// MaintenanceReport summarizes one maintenance run.
type MaintenanceReport struct {
	Skipped bool
	Expired int64
	Reset   int
}

// maintenanceWorker runs maintenance on every tick until Stop.
func (e *Engine) maintenanceWorker() {
	defer e.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-e.stopChan
		cancel()
	}()

	ticker := time.NewTicker(e.maintenanceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopChan:
			return
		case <-ticker.C:
			report, err := e.RunMaintenance(ctx)
			if err != nil {
				e.logger.Warn("maintenance run failed", "error", err)
				continue
			}
			if !report.Skipped {
				e.logger.Debug("maintenance run",
					"expired", report.Expired,
					"reset", report.Reset,
				)
			}
		}
	}
}

// RunMaintenance expires lapsed subscriptions and resets usage counters
// whose billing cycle elapsed. It is skipped when another process holds
// the maintenance lock. Reads never depend on it having run.
func (e *Engine) RunMaintenance(ctx context.Context) (MaintenanceReport, error) {
	var report MaintenanceReport

	ttl := e.maintenanceInterval
	if ttl <= 0 {
		ttl = time.Minute
	}
	release, ok, err := e.locker.TryAcquire(ctx, MaintenanceLockKey, ttl)
	if err != nil {
		return report, transient(err)
	}
	if !ok {
		report.Skipped = true
		return report, nil
	}
	defer release()

	now := e.now()

	expired, err := e.ExpireLapsed(ctx)
	if err != nil {
		return report, err
	}
	report.Expired = expired

	opCtx, cancel := e.opContext(ctx)
	due, err := e.store.ListResetDue(opCtx, now, e.resetBatchSize)
	cancel()
	if err != nil {
		return report, transient(err)
	}

	var (
		mu    sync.Mutex
		errs  MultiError
		reset int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.resetConcurrency)
	for _, sub := range due {
		g.Go(func() error {
			err := e.ResetUsage(gctx, sub.ID)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs.Add(err)
			} else {
				reset++
			}
			return nil
		})
	}
	_ = g.Wait()

	report.Reset = reset
	return report, errs.ErrOrNil()
}
