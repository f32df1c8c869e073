package entitle

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/xraph/entitle/gateway"
	"github.com/xraph/entitle/id"
	"github.com/xraph/entitle/payment"
	"github.com/xraph/entitle/subscription"
	"github.com/xraph/entitle/types"
)

// activationAttempts bounds retries of the subscription version check
// when concurrent events race on the same subscription.
const activationAttempts = 3

// ReconcileResult reports what ApplyEvent did.
type ReconcileResult struct {
	Outcome payment.Outcome  `json:"outcome"`
	Payment *payment.Payment `json:"payment,omitempty"`
	Detail  string           `json:"detail,omitempty"`
}

// CreatePayment records a pending payment and asks the provider gateway
// for its checkout URL. An empty key is generated; an empty currency
// defaults to the configured one.
func (e *Engine) CreatePayment(ctx context.Context, req payment.Request) (*payment.Payment, error) {
	settings, err := e.settings(ctx)
	if err != nil {
		return nil, err
	}
	if req.Key == "" {
		req.Key = uuid.NewString()
	}
	if req.Amount.Currency == "" {
		req.Amount.Currency = settings.DefaultCurrency
	}
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	gw, err := e.gateways.Get(req.Provider)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrProviderNotConfigured, req.Provider)
	}

	if req.Type == payment.TypeSubscription {
		sub, err := e.GetSubscription(ctx, req.SubscriptionID)
		if err != nil {
			return nil, err
		}
		if sub.SubscriberID != req.SubjectID {
			return nil, ValidationError{Field: "subscription_id", Message: "belongs to another subscriber"}
		}
	}

	now := e.now()
	p := &payment.Payment{
		Entity:         types.EntityAt(now),
		ID:             id.NewPaymentID(),
		Key:            req.Key,
		Provider:       req.Provider,
		Type:           req.Type,
		Status:         payment.StatusPending,
		Amount:         req.Amount,
		SubjectID:      req.SubjectID,
		SubscriptionID: req.SubscriptionID,
		WorkflowID:     req.WorkflowID,
		Metadata:       req.Metadata,
	}
	if p.CheckoutURL, err = gw.CheckoutURL(p); err != nil {
		return nil, err
	}

	opCtx, cancel := e.opContext(ctx)
	defer cancel()
	if err := e.store.CreatePayment(opCtx, p); err != nil {
		return nil, transient(err)
	}

	e.plugins.EmitPaymentCreated(ctx, p)
	return p, nil
}

// GetPayment retrieves a payment by key.
func (e *Engine) GetPayment(ctx context.Context, key string) (*payment.Payment, error) {
	opCtx, cancel := e.opContext(ctx)
	defer cancel()

	p, err := e.store.GetPayment(opCtx, key)
	return p, transient(err)
}

// ListPayments lists a subject's payments, newest first.
func (e *Engine) ListPayments(ctx context.Context, subjectID string) ([]*payment.Payment, error) {
	opCtx, cancel := e.opContext(ctx)
	defer cancel()

	ps, err := e.store.ListPayments(opCtx, subjectID)
	return ps, transient(err)
}

// HandleWebhook verifies and normalizes a provider delivery with the
// provider's gateway and reconciles the resulting event. Deliveries that
// carry no status change are reported as ignored.
func (e *Engine) HandleWebhook(ctx context.Context, provider payment.Provider, header http.Header, payload []byte) (*ReconcileResult, error) {
	e.plugins.EmitWebhookReceived(ctx, provider, payload)

	gw, err := e.gateways.Get(provider)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrProviderNotConfigured, provider)
	}

	ev, err := gw.ParseEvent(header, payload)
	switch {
	case errors.Is(err, gateway.ErrIgnored):
		e.logger.Debug("webhook ignored", "provider", provider, "detail", err)
		return &ReconcileResult{Outcome: payment.OutcomeIgnored, Detail: err.Error()}, nil
	case err != nil:
		return nil, fmt.Errorf("%w: %w", ErrWebhookInvalid, err)
	}
	if ev.Provider != provider {
		return nil, fmt.Errorf("%w: gateway for %s produced a %s event", ErrWebhookInvalid, provider, ev.Provider)
	}

	return e.ApplyEvent(ctx, ev)
}

// ApplyEvent reconciles a normalized provider event against the payment
// record. Redelivered events are reported as duplicates and change
// nothing; events naming a transition the state machine forbids are
// logged, recorded and reported as rejected.
//
// The status transition is won first and the side effects of a completed
// payment (subscription activation, workflow purchase) follow it. Both
// side effects are idempotent per payment, and the event is only marked
// processed once they succeed, so a redelivery after a partial failure
// finishes the work instead of being dropped.
func (e *Engine) ApplyEvent(ctx context.Context, ev *payment.Event) (*ReconcileResult, error) {
	if err := ev.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	dedup := ev.DedupKey()

	opCtx, cancel := e.opContext(ctx)
	_, err := e.store.GetProcessedEvent(opCtx, ev.Provider, dedup)
	cancel()
	switch {
	case err == nil:
		p, _ := e.GetPayment(ctx, ev.PaymentKey) //nolint:errcheck // informational
		e.logger.Debug("payment event already processed",
			"provider", ev.Provider,
			"event_id", dedup,
		)
		return &ReconcileResult{Outcome: payment.OutcomeDuplicate, Payment: p}, nil
	case !IsNotFound(err):
		return nil, transient(err)
	}

	p, err := e.GetPayment(ctx, ev.PaymentKey)
	if err != nil {
		return nil, err
	}

	if p.Status == ev.NewStatus {
		return e.settleDuplicate(ctx, ev, dedup, p)
	}

	if reason := rejectReason(p, ev); reason != "" {
		e.logger.Warn("payment event rejected",
			"provider", ev.Provider,
			"event_id", dedup,
			"payment_key", p.Key,
			"reason", reason,
		)
		e.plugins.EmitEventRejected(ctx, ev, reason)
		e.recordEvent(ctx, ev, dedup, payment.OutcomeRejected, reason)
		return &ReconcileResult{Outcome: payment.OutcomeRejected, Payment: p, Detail: reason}, nil
	}

	now := e.now()
	from := p.Status
	opCtx, cancel = e.opContext(ctx)
	err = e.store.TransitionPayment(opCtx, p.Key, payment.Transition{
		From:              from,
		To:                ev.NewStatus,
		ProviderEventID:   ev.EventID,
		ProviderPaymentID: ev.ProviderPaymentID,
		At:                now,
	})
	cancel()
	if errors.Is(err, ErrConditionFailed) {
		current, lerr := e.GetPayment(ctx, p.Key)
		if lerr != nil {
			return nil, lerr
		}
		if current.Status == ev.NewStatus {
			return e.settleDuplicate(ctx, ev, dedup, current)
		}
		return nil, fmt.Errorf("%w: payment %s moved to %s", ErrConflict, p.Key, current.Status)
	}
	if err != nil {
		return nil, transient(err)
	}

	if ev.NewStatus == payment.StatusCompleted {
		if err := e.applyCompletion(ctx, p, now); err != nil {
			e.logger.Warn("payment completion side effects failed",
				"payment_key", p.Key,
				"event_id", dedup,
				"error", err,
			)
			return nil, err
		}
	}

	e.recordEvent(ctx, ev, dedup, payment.OutcomeApplied, "")

	updated, err := e.GetPayment(ctx, p.Key)
	if err != nil {
		return nil, err
	}
	e.logger.Info("payment transitioned",
		"payment_key", p.Key,
		"from", from,
		"to", updated.Status,
	)
	e.plugins.EmitPaymentTransitioned(ctx, updated, from)
	return &ReconcileResult{Outcome: payment.OutcomeApplied, Payment: updated}, nil
}

// settleDuplicate handles an event whose target status p already holds.
// A completed payment re-runs its idempotent side effects first, which
// heals a delivery that moved the payment but failed before finishing.
func (e *Engine) settleDuplicate(ctx context.Context, ev *payment.Event, dedup string, p *payment.Payment) (*ReconcileResult, error) {
	if p.Status == payment.StatusCompleted && ev.Provider == p.Provider {
		if err := e.applyCompletion(ctx, p, e.now()); err != nil {
			return nil, err
		}
	}
	e.recordEvent(ctx, ev, dedup, payment.OutcomeDuplicate, "")
	return &ReconcileResult{Outcome: payment.OutcomeDuplicate, Payment: p}, nil
}

// rejectReason explains why ev cannot apply to p, or returns "".
func rejectReason(p *payment.Payment, ev *payment.Event) string {
	if ev.Provider != p.Provider {
		return fmt.Sprintf("event from %s for a %s payment", ev.Provider, p.Provider)
	}
	if !payment.CanTransition(p.Status, ev.NewStatus) {
		return fmt.Sprintf("%s: %s -> %s", ErrInvalidTransition, p.Status, ev.NewStatus)
	}
	return ""
}

// applyCompletion performs the side effects of a completed payment.
func (e *Engine) applyCompletion(ctx context.Context, p *payment.Payment, now time.Time) error {
	switch p.Type {
	case payment.TypeSubscription:
		return e.activateSubscription(ctx, p, now)
	case payment.TypeWorkflowPurchase:
		opCtx, cancel := e.opContext(ctx)
		defer cancel()
		return transient(e.store.CreatePurchase(opCtx, &payment.Purchase{
			Entity:     types.EntityAt(now),
			ID:         id.NewPurchaseID(),
			SubjectID:  p.SubjectID,
			WorkflowID: p.WorkflowID,
			Price:      p.Amount,
			PaymentKey: p.Key,
		}))
	}
	return nil
}

// activateSubscription starts or extends the subscription paid for by p.
// The write is guarded by the row version and is a no-op once the row
// records p as its last payment.
func (e *Engine) activateSubscription(ctx context.Context, p *payment.Payment, now time.Time) error {
	for range activationAttempts {
		sub, err := e.GetSubscription(ctx, p.SubscriptionID)
		if err != nil {
			return err
		}
		if sub.LastPaymentKey == p.Key || e.supersededBy(ctx, p, sub.LastPaymentKey) {
			return nil
		}
		if sub.Status == subscription.StatusCancelled {
			e.logger.Warn("payment completed for cancelled subscription",
				"payment_key", p.Key,
				"subscription_id", sub.ID.String(),
			)
			return nil
		}

		a := sub.NextActivation(p.Key, now)
		opCtx, cancel := e.opContext(ctx)
		err = e.store.ActivateSubscription(opCtx, sub.ID, a)
		cancel()
		if errors.Is(err, ErrConditionFailed) {
			continue
		}
		if err != nil {
			return transient(err)
		}

		if updated, err := e.GetSubscription(ctx, sub.ID); err == nil {
			e.plugins.EmitSubscriptionActivated(ctx, updated, p.Key)
		}
		return nil
	}
	return fmt.Errorf("%w: subscription %s changed concurrently", ErrConflict, p.SubscriptionID)
}

// supersededBy reports whether the payment last applied to a
// subscription was paid after p, which makes re-applying p a double
// extension.
func (e *Engine) supersededBy(ctx context.Context, p *payment.Payment, lastKey string) bool {
	if lastKey == "" || p.PaidAt == nil {
		return false
	}
	last, err := e.GetPayment(ctx, lastKey)
	if err != nil || last.PaidAt == nil {
		return false
	}
	return last.PaidAt.After(*p.PaidAt)
}

// recordEvent writes the processed-event tombstone. A concurrent writer
// having recorded it first is fine.
func (e *Engine) recordEvent(ctx context.Context, ev *payment.Event, dedup string, outcome payment.Outcome, detail string) {
	opCtx, cancel := e.opContext(ctx)
	defer cancel()

	err := e.store.RecordProcessedEvent(opCtx, &payment.ProcessedEvent{
		ID:          id.NewWebhookEventID(),
		Provider:    ev.Provider,
		EventID:     dedup,
		EventType:   ev.EventType,
		PaymentKey:  ev.PaymentKey,
		Outcome:     outcome,
		Detail:      detail,
		ProcessedAt: e.now(),
	})
	if err != nil && !errors.Is(err, ErrDuplicateEvent) {
		e.logger.Warn("payment event tombstone failed",
			"provider", ev.Provider,
			"event_id", dedup,
			"error", err,
		)
	}
}
