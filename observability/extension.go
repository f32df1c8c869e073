// Package observability provides a metrics extension for Entitle that
// records lifecycle and decision counts through a MetricFactory.
package observability

import (
	"context"
	"time"

	"github.com/xraph/entitle/demo"
	"github.com/xraph/entitle/entitlement"
	"github.com/xraph/entitle/id"
	"github.com/xraph/entitle/meter"
	"github.com/xraph/entitle/payment"
	"github.com/xraph/entitle/plan"
	"github.com/xraph/entitle/plugin"
	"github.com/xraph/entitle/subscription"
	"github.com/xraph/entitle/token"
)

// Ensure MetricsExtension implements required interfaces.
var (
	_ plugin.Plugin                  = (*MetricsExtension)(nil)
	_ plugin.OnInit                  = (*MetricsExtension)(nil)
	_ plugin.OnSubscriptionCreated   = (*MetricsExtension)(nil)
	_ plugin.OnSubscriptionActivated = (*MetricsExtension)(nil)
	_ plugin.OnSubscriptionCanceled  = (*MetricsExtension)(nil)
	_ plugin.OnSubscriptionsExpired  = (*MetricsExtension)(nil)
	_ plugin.OnUsageConsumed         = (*MetricsExtension)(nil)
	_ plugin.OnUsageReset            = (*MetricsExtension)(nil)
	_ plugin.OnAccessDecided         = (*MetricsExtension)(nil)
	_ plugin.OnLimitExceeded         = (*MetricsExtension)(nil)
	_ plugin.OnTokenIssued           = (*MetricsExtension)(nil)
	_ plugin.OnTokenRedeemed         = (*MetricsExtension)(nil)
	_ plugin.OnDemoAccess            = (*MetricsExtension)(nil)
	_ plugin.OnPaymentCreated        = (*MetricsExtension)(nil)
	_ plugin.OnPaymentTransitioned   = (*MetricsExtension)(nil)
	_ plugin.OnWebhookReceived       = (*MetricsExtension)(nil)
	_ plugin.OnEventRejected         = (*MetricsExtension)(nil)
)

// Counter interface for metric counters.
type Counter interface {
	Inc()
	Add(float64)
}

// Histogram interface for metric histograms.
type Histogram interface {
	Observe(float64)
}

// MetricFactory creates metrics. Names are dotted, e.g.
// "entitle.access.allowed".
type MetricFactory interface {
	Counter(name string) Counter
	Histogram(name string) Histogram
}

// MetricsExtension records system-wide lifecycle metrics.
// Register it as an Entitle plugin to track access and payment metrics.
type MetricsExtension struct {
	factory MetricFactory

	// Subscription metrics
	SubscriptionCreated   Counter
	SubscriptionActivated Counter
	SubscriptionCanceled  Counter
	SubscriptionExpired   Counter

	// Usage metrics
	UsageConsumed Counter
	UsageAmount   Histogram
	UsageReset    Counter

	// Access metrics
	AccessAllowed Counter
	AccessDenied  Counter
	LimitExceeded Counter

	// Token metrics
	TokenIssued   Counter
	TokenRedeemed Counter
	TokenTTL      Histogram

	// Demo metrics
	DemoAllowed Counter
	DemoDenied  Counter

	// Payment metrics
	PaymentCreated   Counter
	PaymentAmount    Histogram
	PaymentCompleted Counter
	PaymentFailed    Counter
	PaymentRefunded  Counter
	WebhookReceived  Counter
	WebhookBytes     Histogram
	EventRejected    Counter
}

// NewMetricsExtension creates a MetricsExtension with the provided MetricFactory.
// Use NewPrometheusFactory for a client_golang backed factory.
func NewMetricsExtension(factory MetricFactory) *MetricsExtension {
	return &MetricsExtension{
		factory: factory,

		// Subscription metrics
		SubscriptionCreated:   factory.Counter("entitle.subscription.created"),
		SubscriptionActivated: factory.Counter("entitle.subscription.activated"),
		SubscriptionCanceled:  factory.Counter("entitle.subscription.canceled"),
		SubscriptionExpired:   factory.Counter("entitle.subscription.expired"),

		// Usage metrics
		UsageConsumed: factory.Counter("entitle.usage.consumed"),
		UsageAmount:   factory.Histogram("entitle.usage.amount"),
		UsageReset:    factory.Counter("entitle.usage.reset"),

		// Access metrics
		AccessAllowed: factory.Counter("entitle.access.allowed"),
		AccessDenied:  factory.Counter("entitle.access.denied"),
		LimitExceeded: factory.Counter("entitle.access.limit_exceeded"),

		// Token metrics
		TokenIssued:   factory.Counter("entitle.token.issued"),
		TokenRedeemed: factory.Counter("entitle.token.redeemed"),
		TokenTTL:      factory.Histogram("entitle.token.ttl_seconds"),

		// Demo metrics
		DemoAllowed: factory.Counter("entitle.demo.allowed"),
		DemoDenied:  factory.Counter("entitle.demo.denied"),

		// Payment metrics
		PaymentCreated:   factory.Counter("entitle.payment.created"),
		PaymentAmount:    factory.Histogram("entitle.payment.amount_minor"),
		PaymentCompleted: factory.Counter("entitle.payment.completed"),
		PaymentFailed:    factory.Counter("entitle.payment.failed"),
		PaymentRefunded:  factory.Counter("entitle.payment.refunded"),
		WebhookReceived:  factory.Counter("entitle.webhook.received"),
		WebhookBytes:     factory.Histogram("entitle.webhook.payload_bytes"),
		EventRejected:    factory.Counter("entitle.webhook.rejected"),
	}
}

// Name implements plugin.Plugin.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// OnInit implements plugin.OnInit.
func (m *MetricsExtension) OnInit(_ context.Context, _ interface{}) error {
	return nil
}

// ──────────────────────────────────────────────────
// Subscription lifecycle hooks
// ──────────────────────────────────────────────────

// OnSubscriptionCreated implements plugin.OnSubscriptionCreated.
func (m *MetricsExtension) OnSubscriptionCreated(_ context.Context, _ *subscription.Subscription) error {
	m.SubscriptionCreated.Inc()
	return nil
}

// OnSubscriptionActivated implements plugin.OnSubscriptionActivated.
func (m *MetricsExtension) OnSubscriptionActivated(_ context.Context, _ *subscription.Subscription, _ string) error {
	m.SubscriptionActivated.Inc()
	return nil
}

// OnSubscriptionCanceled implements plugin.OnSubscriptionCanceled.
func (m *MetricsExtension) OnSubscriptionCanceled(_ context.Context, _ *subscription.Subscription) error {
	m.SubscriptionCanceled.Inc()
	return nil
}

// OnSubscriptionsExpired implements plugin.OnSubscriptionsExpired.
func (m *MetricsExtension) OnSubscriptionsExpired(_ context.Context, count int64) error {
	m.SubscriptionExpired.Add(float64(count))
	return nil
}

// ──────────────────────────────────────────────────
// Usage hooks
// ──────────────────────────────────────────────────

// OnUsageConsumed implements plugin.OnUsageConsumed.
func (m *MetricsExtension) OnUsageConsumed(_ context.Context, receipt *meter.Receipt) error {
	m.UsageConsumed.Inc()
	m.UsageAmount.Observe(float64(receipt.Amount))
	return nil
}

// OnUsageReset implements plugin.OnUsageReset.
func (m *MetricsExtension) OnUsageReset(_ context.Context, _ id.SubscriptionID) error {
	m.UsageReset.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Entitlement hooks
// ──────────────────────────────────────────────────

// OnAccessDecided implements plugin.OnAccessDecided.
func (m *MetricsExtension) OnAccessDecided(_ context.Context, _ entitlement.Caller, decision *entitlement.Decision) error {
	if decision.Allowed {
		m.AccessAllowed.Inc()
	} else {
		m.AccessDenied.Inc()
	}
	return nil
}

// OnLimitExceeded implements plugin.OnLimitExceeded.
func (m *MetricsExtension) OnLimitExceeded(_ context.Context, _ string, _ plan.Service, _, _ int64) error {
	m.LimitExceeded.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Token and demo hooks
// ──────────────────────────────────────────────────

// OnTokenIssued implements plugin.OnTokenIssued.
func (m *MetricsExtension) OnTokenIssued(_ context.Context, _ string, _ token.Purpose, expiresAt time.Time) error {
	m.TokenIssued.Inc()
	if ttl := time.Until(expiresAt); ttl > 0 {
		m.TokenTTL.Observe(ttl.Seconds())
	}
	return nil
}

// OnTokenRedeemed implements plugin.OnTokenRedeemed.
func (m *MetricsExtension) OnTokenRedeemed(_ context.Context, _ string, _ token.Purpose) error {
	m.TokenRedeemed.Inc()
	return nil
}

// OnDemoAccess implements plugin.OnDemoAccess.
func (m *MetricsExtension) OnDemoAccess(_ context.Context, entry *demo.AccessLog) error {
	if entry.Outcome == demo.OutcomeAllowed {
		m.DemoAllowed.Inc()
	} else {
		m.DemoDenied.Inc()
	}
	return nil
}

// ──────────────────────────────────────────────────
// Payment hooks
// ──────────────────────────────────────────────────

// OnPaymentCreated implements plugin.OnPaymentCreated.
func (m *MetricsExtension) OnPaymentCreated(_ context.Context, p *payment.Payment) error {
	m.PaymentCreated.Inc()
	m.PaymentAmount.Observe(float64(p.Amount.Amount))
	return nil
}

// OnPaymentTransitioned implements plugin.OnPaymentTransitioned.
func (m *MetricsExtension) OnPaymentTransitioned(_ context.Context, p *payment.Payment, _ payment.Status) error {
	switch p.Status {
	case payment.StatusCompleted:
		m.PaymentCompleted.Inc()
	case payment.StatusFailed:
		m.PaymentFailed.Inc()
	case payment.StatusRefunded:
		m.PaymentRefunded.Inc()
	}
	return nil
}

// OnWebhookReceived implements plugin.OnWebhookReceived.
func (m *MetricsExtension) OnWebhookReceived(_ context.Context, _ payment.Provider, payload []byte) error {
	m.WebhookReceived.Inc()
	m.WebhookBytes.Observe(float64(len(payload)))
	return nil
}

// OnEventRejected implements plugin.OnEventRejected.
func (m *MetricsExtension) OnEventRejected(_ context.Context, _ *payment.Event, _ string) error {
	m.EventRejected.Inc()
	return nil
}
