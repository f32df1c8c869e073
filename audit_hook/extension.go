// Package audithook bridges Entitle lifecycle events to an audit trail backend.
//
// It defines a local Recorder interface so the package does not import
// Chronicle directly. Callers inject a RecorderFunc adapter that bridges
// to Chronicle at wiring time. Token secrets and raw webhook payloads are
// never recorded.
package audithook

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/entitle/demo"
	"github.com/xraph/entitle/entitlement"
	"github.com/xraph/entitle/id"
	"github.com/xraph/entitle/payment"
	"github.com/xraph/entitle/plan"
	"github.com/xraph/entitle/plugin"
	"github.com/xraph/entitle/subscription"
	"github.com/xraph/entitle/token"
)

// Compile-time interface checks.
var (
	_ plugin.Plugin                  = (*Extension)(nil)
	_ plugin.OnSubscriptionCreated   = (*Extension)(nil)
	_ plugin.OnSubscriptionActivated = (*Extension)(nil)
	_ plugin.OnSubscriptionCanceled  = (*Extension)(nil)
	_ plugin.OnSubscriptionsExpired  = (*Extension)(nil)
	_ plugin.OnUsageReset            = (*Extension)(nil)
	_ plugin.OnAccessDecided         = (*Extension)(nil)
	_ plugin.OnLimitExceeded         = (*Extension)(nil)
	_ plugin.OnTokenIssued           = (*Extension)(nil)
	_ plugin.OnTokenRedeemed         = (*Extension)(nil)
	_ plugin.OnDemoAccess            = (*Extension)(nil)
	_ plugin.OnPaymentCreated        = (*Extension)(nil)
	_ plugin.OnPaymentTransitioned   = (*Extension)(nil)
	_ plugin.OnWebhookReceived       = (*Extension)(nil)
	_ plugin.OnEventRejected         = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement.
// This matches chronicle.Emitter but is defined locally so that the
// audit_hook package does not import Chronicle directly.
type Recorder interface {
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is a local representation of an audit event.
// It mirrors chronicle/audit.Event but avoids a module dependency.
type AuditEvent struct {
	Action     string         `json:"action"`
	Resource   string         `json:"resource"`
	Category   string         `json:"category"`
	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

// Record implements Recorder.
func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// Extension bridges Entitle lifecycle events to an audit trail backend.
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements plugin.Plugin.
func (e *Extension) Name() string { return "audit-hook" }

// ──────────────────────────────────────────────────
// Subscription lifecycle hooks
// ──────────────────────────────────────────────────

// OnSubscriptionCreated implements plugin.OnSubscriptionCreated.
func (e *Extension) OnSubscriptionCreated(ctx context.Context, sub *subscription.Subscription) error {
	return e.record(ctx, ActionSubscriptionCreated, SeverityInfo, OutcomeSuccess,
		ResourceSubscription, sub.ID.String(), CategorySubscription, nil,
		"subscriber_id", sub.SubscriberID,
		"service", string(sub.Service),
		"plan_id", sub.PlanID.String(),
		"billing_cycle", string(sub.BillingCycle),
	)
}

// OnSubscriptionActivated implements plugin.OnSubscriptionActivated.
func (e *Extension) OnSubscriptionActivated(ctx context.Context, sub *subscription.Subscription, paymentKey string) error {
	return e.record(ctx, ActionSubscriptionActivated, SeverityInfo, OutcomeSuccess,
		ResourceSubscription, sub.ID.String(), CategorySubscription, nil,
		"subscriber_id", sub.SubscriberID,
		"service", string(sub.Service),
		"payment_key", paymentKey,
		"end_at", sub.EndAt.Format(time.RFC3339),
	)
}

// OnSubscriptionCanceled implements plugin.OnSubscriptionCanceled.
func (e *Extension) OnSubscriptionCanceled(ctx context.Context, sub *subscription.Subscription) error {
	return e.record(ctx, ActionSubscriptionCanceled, SeverityInfo, OutcomeSuccess,
		ResourceSubscription, sub.ID.String(), CategorySubscription, nil,
		"subscriber_id", sub.SubscriberID,
		"service", string(sub.Service),
	)
}

// OnSubscriptionsExpired implements plugin.OnSubscriptionsExpired.
func (e *Extension) OnSubscriptionsExpired(ctx context.Context, count int64) error {
	return e.record(ctx, ActionSubscriptionsExpired, SeverityInfo, OutcomeSuccess,
		ResourceSubscription, "", CategorySubscription, nil,
		"count", count,
	)
}

// ──────────────────────────────────────────────────
// Usage and access hooks
// ──────────────────────────────────────────────────

// OnUsageReset implements plugin.OnUsageReset.
func (e *Extension) OnUsageReset(ctx context.Context, subID id.SubscriptionID) error {
	return e.record(ctx, ActionUsageReset, SeverityInfo, OutcomeSuccess,
		ResourceUsage, subID.String(), CategoryUsage, nil,
	)
}

// OnAccessDecided implements plugin.OnAccessDecided. Only denials are
// recorded.
func (e *Extension) OnAccessDecided(ctx context.Context, caller entitlement.Caller, decision *entitlement.Decision) error {
	if decision.Allowed {
		return nil
	}
	return e.record(ctx, ActionAccessDenied, SeverityWarning, OutcomeFailure,
		ResourceEntitlement, string(decision.Service), CategoryAccess, nil,
		"subject_id", caller.SubjectID,
		"role", string(caller.Role),
		"reason", string(decision.Reason),
		"policy", decision.Policy,
	)
}

// OnLimitExceeded implements plugin.OnLimitExceeded.
func (e *Extension) OnLimitExceeded(ctx context.Context, subscriberID string, service plan.Service, current, limit int64) error {
	return e.record(ctx, ActionLimitExceeded, SeverityWarning, OutcomeFailure,
		ResourceEntitlement, string(service), CategoryAccess, nil,
		"subscriber_id", subscriberID,
		"service", string(service),
		"used", current,
		"limit", limit,
	)
}

// ──────────────────────────────────────────────────
// Token and demo hooks
// ──────────────────────────────────────────────────

// OnTokenIssued implements plugin.OnTokenIssued.
func (e *Extension) OnTokenIssued(ctx context.Context, subjectID string, purpose token.Purpose, expiresAt time.Time) error {
	return e.record(ctx, ActionTokenIssued, SeverityInfo, OutcomeSuccess,
		ResourceToken, subjectID, CategoryAuth, nil,
		"purpose", string(purpose),
		"expires_at", expiresAt.Format(time.RFC3339),
	)
}

// OnTokenRedeemed implements plugin.OnTokenRedeemed.
func (e *Extension) OnTokenRedeemed(ctx context.Context, subjectID string, purpose token.Purpose) error {
	return e.record(ctx, ActionTokenRedeemed, SeverityInfo, OutcomeSuccess,
		ResourceToken, subjectID, CategoryAuth, nil,
		"purpose", string(purpose),
	)
}

// OnDemoAccess implements plugin.OnDemoAccess. Allowed accesses and
// status views are left to the access journal.
func (e *Extension) OnDemoAccess(ctx context.Context, entry *demo.AccessLog) error {
	if entry.Outcome == demo.OutcomeAllowed || entry.Outcome == demo.OutcomeViewed {
		return nil
	}
	return e.record(ctx, ActionDemoDenied, SeverityWarning, OutcomeFailure,
		ResourceDemoGrant, maskToken(entry.GrantToken), CategoryAccess, nil,
		"action", entry.Action,
		"outcome", string(entry.Outcome),
		"ip", entry.IP,
	)
}

// ──────────────────────────────────────────────────
// Payment hooks
// ──────────────────────────────────────────────────

// OnPaymentCreated implements plugin.OnPaymentCreated.
func (e *Extension) OnPaymentCreated(ctx context.Context, p *payment.Payment) error {
	return e.record(ctx, ActionPaymentCreated, SeverityInfo, OutcomeSuccess,
		ResourcePayment, p.Key, CategoryPayment, nil,
		"provider", string(p.Provider),
		"type", string(p.Type),
		"subject_id", p.SubjectID,
		"amount", p.Amount.Amount,
		"currency", p.Amount.Currency,
	)
}

// OnPaymentTransitioned implements plugin.OnPaymentTransitioned.
func (e *Extension) OnPaymentTransitioned(ctx context.Context, p *payment.Payment, from payment.Status) error {
	severity, outcome := SeverityInfo, OutcomeSuccess
	switch p.Status {
	case payment.StatusFailed, payment.StatusCancelled:
		severity, outcome = SeverityWarning, OutcomeFailure
	case payment.StatusRefunded:
		severity = SeverityWarning
	}
	return e.record(ctx, ActionPaymentTransitioned, severity, outcome,
		ResourcePayment, p.Key, CategoryPayment, nil,
		"provider", string(p.Provider),
		"from", string(from),
		"to", string(p.Status),
		"provider_payment_id", p.ProviderPaymentID,
		"provider_event_id", p.ProviderEventID,
	)
}

// OnWebhookReceived implements plugin.OnWebhookReceived.
func (e *Extension) OnWebhookReceived(ctx context.Context, provider payment.Provider, payload []byte) error {
	return e.record(ctx, ActionWebhookReceived, SeverityInfo, OutcomeSuccess,
		ResourceWebhook, string(provider), CategoryIntegration, nil,
		"payload_bytes", len(payload),
	)
}

// OnEventRejected implements plugin.OnEventRejected.
func (e *Extension) OnEventRejected(ctx context.Context, event *payment.Event, reason string) error {
	return e.record(ctx, ActionEventRejected, SeverityError, OutcomeFailure,
		ResourceWebhook, event.EventID, CategoryIntegration, nil,
		"provider", string(event.Provider),
		"payment_key", event.PaymentKey,
		"new_status", string(event.NewStatus),
		"reject_reason", reason,
	)
}

// ──────────────────────────────────────────────────
// Internal helpers
// ──────────────────────────────────────────────────

// record builds and sends an audit event if the action is enabled.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, category string,
	err error,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	var reason string
	if err != nil {
		reason = err.Error()
		meta["error"] = err.Error()
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			"action", action,
			"resource_id", resourceID,
			"error", recErr,
		)
	}
	return nil
}

// maskToken keeps a short prefix of a bearer token for correlation.
func maskToken(tok string) string {
	if len(tok) <= 6 {
		return "***"
	}
	return tok[:6] + "***"
}
