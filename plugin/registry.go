package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"github.com/xraph/entitle/demo"
	"github.com/xraph/entitle/entitlement"
	"github.com/xraph/entitle/id"
	"github.com/xraph/entitle/meter"
	"github.com/xraph/entitle/payment"
	"github.com/xraph/entitle/plan"
	"github.com/xraph/entitle/subscription"
	"github.com/xraph/entitle/token"
)

// DefaultTimeout bounds a single hook call.
const DefaultTimeout = 5 * time.Second

// Registry manages all registered plugins and provides efficient dispatch.
// It uses type-cached discovery so emitting never type-asserts.
type Registry struct {
	mu      sync.RWMutex
	plugins []Plugin
	logger  *slog.Logger
	timeout time.Duration

	// Type-cached plugin lists for efficient dispatch
	onInit                  []OnInit
	onShutdown              []OnShutdown
	onSubscriptionCreated   []OnSubscriptionCreated
	onSubscriptionActivated []OnSubscriptionActivated
	onSubscriptionCanceled  []OnSubscriptionCanceled
	onSubscriptionsExpired  []OnSubscriptionsExpired
	onUsageConsumed         []OnUsageConsumed
	onUsageReset            []OnUsageReset
	onAccessDecided         []OnAccessDecided
	onLimitExceeded         []OnLimitExceeded
	onTokenIssued           []OnTokenIssued
	onTokenRedeemed         []OnTokenRedeemed
	onDemoAccess            []OnDemoAccess
	onPaymentCreated        []OnPaymentCreated
	onPaymentTransitioned   []OnPaymentTransitioned
	onWebhookReceived       []OnWebhookReceived
	onEventRejected         []OnEventRejected
}

// NewRegistry creates a new plugin registry.
func NewRegistry() *Registry {
	return &Registry{
		logger:  slog.Default(),
		timeout: DefaultTimeout,
	}
}

// WithLogger sets the logger for the registry.
func (r *Registry) WithLogger(logger *slog.Logger) *Registry {
	r.logger = logger
	return r
}

// WithTimeout sets the per-hook timeout.
func (r *Registry) WithTimeout(d time.Duration) *Registry {
	if d > 0 {
		r.timeout = d
	}
	return r
}

// Register adds a plugin to the registry and caches its interfaces.
func (r *Registry) Register(p Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.plugins {
		if existing.Name() == p.Name() {
			return fmt.Errorf("plugin: duplicate registration: %s", p.Name())
		}
	}

	r.plugins = append(r.plugins, p)

	if v, ok := p.(OnInit); ok {
		r.onInit = append(r.onInit, v)
	}
	if v, ok := p.(OnShutdown); ok {
		r.onShutdown = append(r.onShutdown, v)
	}
	if v, ok := p.(OnSubscriptionCreated); ok {
		r.onSubscriptionCreated = append(r.onSubscriptionCreated, v)
	}
	if v, ok := p.(OnSubscriptionActivated); ok {
		r.onSubscriptionActivated = append(r.onSubscriptionActivated, v)
	}
	if v, ok := p.(OnSubscriptionCanceled); ok {
		r.onSubscriptionCanceled = append(r.onSubscriptionCanceled, v)
	}
	if v, ok := p.(OnSubscriptionsExpired); ok {
		r.onSubscriptionsExpired = append(r.onSubscriptionsExpired, v)
	}
	if v, ok := p.(OnUsageConsumed); ok {
		r.onUsageConsumed = append(r.onUsageConsumed, v)
	}
	if v, ok := p.(OnUsageReset); ok {
		r.onUsageReset = append(r.onUsageReset, v)
	}
	if v, ok := p.(OnAccessDecided); ok {
		r.onAccessDecided = append(r.onAccessDecided, v)
	}
	if v, ok := p.(OnLimitExceeded); ok {
		r.onLimitExceeded = append(r.onLimitExceeded, v)
	}
	if v, ok := p.(OnTokenIssued); ok {
		r.onTokenIssued = append(r.onTokenIssued, v)
	}
	if v, ok := p.(OnTokenRedeemed); ok {
		r.onTokenRedeemed = append(r.onTokenRedeemed, v)
	}
	if v, ok := p.(OnDemoAccess); ok {
		r.onDemoAccess = append(r.onDemoAccess, v)
	}
	if v, ok := p.(OnPaymentCreated); ok {
		r.onPaymentCreated = append(r.onPaymentCreated, v)
	}
	if v, ok := p.(OnPaymentTransitioned); ok {
		r.onPaymentTransitioned = append(r.onPaymentTransitioned, v)
	}
	if v, ok := p.(OnWebhookReceived); ok {
		r.onWebhookReceived = append(r.onWebhookReceived, v)
	}
	if v, ok := p.(OnEventRejected); ok {
		r.onEventRejected = append(r.onEventRejected, v)
	}

	r.logger.Info("plugin registered",
		"name", p.Name(),
		"interfaces", implementedInterfaces(p),
	)

	return nil
}

var hookTypes = []struct {
	name string
	typ  reflect.Type
}{
	{"OnInit", reflect.TypeOf((*OnInit)(nil)).Elem()},
	{"OnShutdown", reflect.TypeOf((*OnShutdown)(nil)).Elem()},
	{"OnSubscriptionCreated", reflect.TypeOf((*OnSubscriptionCreated)(nil)).Elem()},
	{"OnSubscriptionActivated", reflect.TypeOf((*OnSubscriptionActivated)(nil)).Elem()},
	{"OnSubscriptionCanceled", reflect.TypeOf((*OnSubscriptionCanceled)(nil)).Elem()},
	{"OnSubscriptionsExpired", reflect.TypeOf((*OnSubscriptionsExpired)(nil)).Elem()},
	{"OnUsageConsumed", reflect.TypeOf((*OnUsageConsumed)(nil)).Elem()},
	{"OnUsageReset", reflect.TypeOf((*OnUsageReset)(nil)).Elem()},
	{"OnAccessDecided", reflect.TypeOf((*OnAccessDecided)(nil)).Elem()},
	{"OnLimitExceeded", reflect.TypeOf((*OnLimitExceeded)(nil)).Elem()},
	{"OnTokenIssued", reflect.TypeOf((*OnTokenIssued)(nil)).Elem()},
	{"OnTokenRedeemed", reflect.TypeOf((*OnTokenRedeemed)(nil)).Elem()},
	{"OnDemoAccess", reflect.TypeOf((*OnDemoAccess)(nil)).Elem()},
	{"OnPaymentCreated", reflect.TypeOf((*OnPaymentCreated)(nil)).Elem()},
	{"OnPaymentTransitioned", reflect.TypeOf((*OnPaymentTransitioned)(nil)).Elem()},
	{"OnWebhookReceived", reflect.TypeOf((*OnWebhookReceived)(nil)).Elem()},
	{"OnEventRejected", reflect.TypeOf((*OnEventRejected)(nil)).Elem()},
}

// implementedInterfaces returns the hook names implemented by p.
func implementedInterfaces(p Plugin) []string {
	var names []string
	t := reflect.TypeOf(p)
	for _, h := range hookTypes {
		if t.Implements(h.typ) {
			names = append(names, h.name)
		}
	}
	return names
}

// Get returns a plugin by name.
func (r *Registry) Get(name string) Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.plugins {
		if p.Name() == name {
			return p
		}
	}
	return nil
}

// List returns all registered plugins.
func (r *Registry) List() []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Plugin, len(r.plugins))
	copy(result, r.plugins)
	return result
}

// Count returns the number of registered plugins.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.plugins)
}

// ──────────────────────────────────────────────────
// Event emission methods
// ──────────────────────────────────────────────────

// emit snapshots a cached hook list under the read lock and calls fn for
// each plugin, logging failures.
func emit[T Plugin](ctx context.Context, r *Registry, hook string, list *[]T, fn func(T) error) {
	r.mu.RLock()
	plugins := *list
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return fn(p)
		}); err != nil {
			r.logger.Warn("plugin "+hook+" failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitInit calls OnInit for all plugins that implement it.
func (r *Registry) EmitInit(ctx context.Context, engine interface{}) {
	emit(ctx, r, "OnInit", &r.onInit, func(p OnInit) error {
		return p.OnInit(ctx, engine)
	})
}

// EmitShutdown calls OnShutdown for all plugins that implement it.
func (r *Registry) EmitShutdown(ctx context.Context) {
	emit(ctx, r, "OnShutdown", &r.onShutdown, func(p OnShutdown) error {
		return p.OnShutdown(ctx)
	})
}

func (r *Registry) EmitSubscriptionCreated(ctx context.Context, sub *subscription.Subscription) {
	emit(ctx, r, "OnSubscriptionCreated", &r.onSubscriptionCreated, func(p OnSubscriptionCreated) error {
		return p.OnSubscriptionCreated(ctx, sub)
	})
}

func (r *Registry) EmitSubscriptionActivated(ctx context.Context, sub *subscription.Subscription, paymentKey string) {
	emit(ctx, r, "OnSubscriptionActivated", &r.onSubscriptionActivated, func(p OnSubscriptionActivated) error {
		return p.OnSubscriptionActivated(ctx, sub, paymentKey)
	})
}

func (r *Registry) EmitSubscriptionCanceled(ctx context.Context, sub *subscription.Subscription) {
	emit(ctx, r, "OnSubscriptionCanceled", &r.onSubscriptionCanceled, func(p OnSubscriptionCanceled) error {
		return p.OnSubscriptionCanceled(ctx, sub)
	})
}

func (r *Registry) EmitSubscriptionsExpired(ctx context.Context, count int64) {
	emit(ctx, r, "OnSubscriptionsExpired", &r.onSubscriptionsExpired, func(p OnSubscriptionsExpired) error {
		return p.OnSubscriptionsExpired(ctx, count)
	})
}

func (r *Registry) EmitUsageConsumed(ctx context.Context, receipt *meter.Receipt) {
	emit(ctx, r, "OnUsageConsumed", &r.onUsageConsumed, func(p OnUsageConsumed) error {
		return p.OnUsageConsumed(ctx, receipt)
	})
}

func (r *Registry) EmitUsageReset(ctx context.Context, subID id.SubscriptionID) {
	emit(ctx, r, "OnUsageReset", &r.onUsageReset, func(p OnUsageReset) error {
		return p.OnUsageReset(ctx, subID)
	})
}

func (r *Registry) EmitAccessDecided(ctx context.Context, caller entitlement.Caller, d *entitlement.Decision) {
	emit(ctx, r, "OnAccessDecided", &r.onAccessDecided, func(p OnAccessDecided) error {
		return p.OnAccessDecided(ctx, caller, d)
	})
}

func (r *Registry) EmitLimitExceeded(ctx context.Context, subscriberID string, service plan.Service, current, limit int64) {
	emit(ctx, r, "OnLimitExceeded", &r.onLimitExceeded, func(p OnLimitExceeded) error {
		return p.OnLimitExceeded(ctx, subscriberID, service, current, limit)
	})
}

func (r *Registry) EmitTokenIssued(ctx context.Context, subjectID string, purpose token.Purpose, expiresAt time.Time) {
	emit(ctx, r, "OnTokenIssued", &r.onTokenIssued, func(p OnTokenIssued) error {
		return p.OnTokenIssued(ctx, subjectID, purpose, expiresAt)
	})
}

func (r *Registry) EmitTokenRedeemed(ctx context.Context, subjectID string, purpose token.Purpose) {
	emit(ctx, r, "OnTokenRedeemed", &r.onTokenRedeemed, func(p OnTokenRedeemed) error {
		return p.OnTokenRedeemed(ctx, subjectID, purpose)
	})
}

func (r *Registry) EmitDemoAccess(ctx context.Context, entry *demo.AccessLog) {
	emit(ctx, r, "OnDemoAccess", &r.onDemoAccess, func(p OnDemoAccess) error {
		return p.OnDemoAccess(ctx, entry)
	})
}

func (r *Registry) EmitPaymentCreated(ctx context.Context, pay *payment.Payment) {
	emit(ctx, r, "OnPaymentCreated", &r.onPaymentCreated, func(p OnPaymentCreated) error {
		return p.OnPaymentCreated(ctx, pay)
	})
}

func (r *Registry) EmitPaymentTransitioned(ctx context.Context, pay *payment.Payment, from payment.Status) {
	emit(ctx, r, "OnPaymentTransitioned", &r.onPaymentTransitioned, func(p OnPaymentTransitioned) error {
		return p.OnPaymentTransitioned(ctx, pay, from)
	})
}

func (r *Registry) EmitWebhookReceived(ctx context.Context, provider payment.Provider, payload []byte) {
	emit(ctx, r, "OnWebhookReceived", &r.onWebhookReceived, func(p OnWebhookReceived) error {
		return p.OnWebhookReceived(ctx, provider, payload)
	})
}

func (r *Registry) EmitEventRejected(ctx context.Context, event *payment.Event, reason string) {
	emit(ctx, r, "OnEventRejected", &r.onEventRejected, func(p OnEventRejected) error {
		return p.OnEventRejected(ctx, event, reason)
	})
}

// callWithTimeout calls a plugin function with a timeout.
// Plugins should never block an access decision.
func (r *Registry) callWithTimeout(ctx context.Context, pluginName string, fn func() error) error {
	done := make(chan error, 1)

	go func() {
		done <- fn()
	}()

	timer := time.NewTimer(r.timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
		return fmt.Errorf("plugin timeout: %s", pluginName)
	case <-ctx.Done():
		return ctx.Err()
	}
}
