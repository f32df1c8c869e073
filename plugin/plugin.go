// Package plugin provides an extensible plugin system for Entitle.
// Plugins can hook into lifecycle and decision events to extend
// functionality. Hooks are observers: a failing or slow hook is logged
// and never changes the outcome of the operation that fired it.
package plugin

import (
	"context"
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

// Plugin is the base interface that all plugins must implement.
type Plugin interface {
	Name() string
}

// ──────────────────────────────────────────────────
// Lifecycle hooks
// ──────────────────────────────────────────────────

// OnInit is called when the engine starts. engine is the *entitle.Engine.
type OnInit interface {
	Plugin
	OnInit(ctx context.Context, engine interface{}) error
}

// OnShutdown is called when the engine stops.
type OnShutdown interface {
	Plugin
	OnShutdown(ctx context.Context) error
}

// ──────────────────────────────────────────────────
// Subscription lifecycle hooks
// ──────────────────────────────────────────────────

// OnSubscriptionCreated is called when a pending subscription is created.
type OnSubscriptionCreated interface {
	Plugin
	OnSubscriptionCreated(ctx context.Context, sub *subscription.Subscription) error
}

// OnSubscriptionActivated is called when a completed payment activates
// or renews a subscription.
type OnSubscriptionActivated interface {
	Plugin
	OnSubscriptionActivated(ctx context.Context, sub *subscription.Subscription, paymentKey string) error
}

// OnSubscriptionCanceled is called when a subscription is canceled.
type OnSubscriptionCanceled interface {
	Plugin
	OnSubscriptionCanceled(ctx context.Context, sub *subscription.Subscription) error
}

// OnSubscriptionsExpired is called after a sweep marked lapsed
// subscriptions expired.
type OnSubscriptionsExpired interface {
	Plugin
	OnSubscriptionsExpired(ctx context.Context, count int64) error
}

// ──────────────────────────────────────────────────
// Usage hooks
// ──────────────────────────────────────────────────

// OnUsageConsumed is called after a unit of usage was recorded.
type OnUsageConsumed interface {
	Plugin
	OnUsageConsumed(ctx context.Context, receipt *meter.Receipt) error
}

// OnUsageReset is called after a subscription's counter was zeroed.
type OnUsageReset interface {
	Plugin
	OnUsageReset(ctx context.Context, subID id.SubscriptionID) error
}

// ──────────────────────────────────────────────────
// Entitlement hooks
// ──────────────────────────────────────────────────

// OnAccessDecided is called for every access decision.
type OnAccessDecided interface {
	Plugin
	OnAccessDecided(ctx context.Context, caller entitlement.Caller, decision *entitlement.Decision) error
}

// OnLimitExceeded is called when a subscriber hits the usage limit.
type OnLimitExceeded interface {
	Plugin
	OnLimitExceeded(ctx context.Context, subscriberID string, service plan.Service, current, limit int64) error
}

// ──────────────────────────────────────────────────
// Token and demo hooks
// ──────────────────────────────────────────────────

// OnTokenIssued is called after a token was issued. The secret is never
// passed to plugins.
type OnTokenIssued interface {
	Plugin
	OnTokenIssued(ctx context.Context, subjectID string, purpose token.Purpose, expiresAt time.Time) error
}

// OnTokenRedeemed is called after a token was redeemed.
type OnTokenRedeemed interface {
	Plugin
	OnTokenRedeemed(ctx context.Context, subjectID string, purpose token.Purpose) error
}

// OnDemoAccess is called for every journaled demo access attempt.
type OnDemoAccess interface {
	Plugin
	OnDemoAccess(ctx context.Context, entry *demo.AccessLog) error
}

// ──────────────────────────────────────────────────
// Payment hooks
// ──────────────────────────────────────────────────

// OnPaymentCreated is called when a pending payment is created.
type OnPaymentCreated interface {
	Plugin
	OnPaymentCreated(ctx context.Context, p *payment.Payment) error
}

// OnPaymentTransitioned is called after a payment changed status.
type OnPaymentTransitioned interface {
	Plugin
	OnPaymentTransitioned(ctx context.Context, p *payment.Payment, from payment.Status) error
}

// OnWebhookReceived is called when a provider webhook is received,
// before it is verified.
type OnWebhookReceived interface {
	Plugin
	OnWebhookReceived(ctx context.Context, provider payment.Provider, payload []byte) error
}

// OnEventRejected is called when a payment event names a transition the
// state machine does not allow.
type OnEventRejected interface {
	Plugin
	OnEventRejected(ctx context.Context, event *payment.Event, reason string) error
}
