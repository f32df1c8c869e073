package entitle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xraph/entitle/id"
	"github.com/xraph/entitle/meter"
	"github.com/xraph/entitle/plan"
	"github.com/xraph/entitle/subscription"
)

// UsageRequest is the input for Consume.
type UsageRequest struct {
	SubscriberID string
	Service      plan.Service
	// Amount defaults to 1.
	Amount   int64
	Metadata map[string]string
}

// Consume spends req.Amount units of the subscriber's subscription to
// req.Service. The counter increment and the journal entry are one
// atomic store write, so concurrent callers can never push the counter
// past its limit. Denials are ErrRequiresSubscription,
// ErrSubscriptionInactive or a *LimitError; a denied call writes nothing.
func (e *Engine) Consume(ctx context.Context, req UsageRequest) (*meter.Receipt, error) {
	if req.Amount == 0 {
		req.Amount = 1
	}
	if req.Amount < 0 {
		return nil, ValidationError{Field: "amount", Message: "must be positive"}
	}
	if req.SubscriberID == "" {
		return nil, ErrRequiresSubscription
	}

	sub, err := e.subscriptionFor(ctx, req.SubscriberID, req.Service)
	if err != nil {
		return nil, err
	}

	now := e.now()
	if err := e.usageDenial(ctx, sub, req.Amount, now); err != nil {
		return nil, err
	}

	entry := &meter.UsageEntry{
		ID:             id.NewUsageEntryID(),
		SubscriptionID: sub.ID,
		SubjectID:      req.SubscriberID,
		Service:        req.Service,
		Amount:         req.Amount,
		Metadata:       req.Metadata,
		CreatedAt:      now,
	}

	opCtx, cancel := e.opContext(ctx)
	count, err := e.store.ConsumeUsage(opCtx, entry, now)
	cancel()
	if errors.Is(err, ErrConditionFailed) {
		// Lost a race: classify against the current row.
		current, lerr := e.subscriptionFor(ctx, req.SubscriberID, req.Service)
		if lerr != nil {
			return nil, lerr
		}
		if derr := e.usageDenial(ctx, current, req.Amount, now); derr != nil {
			return nil, derr
		}
		return nil, ErrConflict
	}
	if err != nil {
		return nil, transient(err)
	}

	receipt := &meter.Receipt{
		SubscriptionID: sub.ID,
		EntryID:        entry.ID,
		Amount:         req.Amount,
		UsageCount:     count,
		UsageLimit:     sub.UsageLimit,
		Remaining:      plan.Unlimited,
		ConsumedAt:     now,
	}
	if sub.UsageLimit != plan.Unlimited {
		receipt.Remaining = max(sub.UsageLimit-count, 0)
	}

	e.plugins.EmitUsageConsumed(ctx, receipt)
	return receipt, nil
}

// usageDenial reports why sub cannot absorb amount at now, or nil.
func (e *Engine) usageDenial(ctx context.Context, sub *subscription.Subscription, amount int64, now time.Time) error {
	err := checkUsage(sub, amount, now)
	var le *LimitError
	if errors.As(err, &le) {
		e.plugins.EmitLimitExceeded(ctx, sub.SubscriberID, sub.Service, sub.UsageCount, sub.UsageLimit)
	}
	return err
}

func checkUsage(sub *subscription.Subscription, amount int64, now time.Time) error {
	if !sub.IsActiveAt(now) {
		return fmt.Errorf("%w: %s", ErrSubscriptionInactive, sub.EffectiveStatus(now))
	}
	if !sub.Unlimited() && sub.UsageCount+amount > sub.UsageLimit {
		return &LimitError{Current: sub.UsageCount, Limit: sub.UsageLimit}
	}
	return nil
}

// subscriptionFor loads the subscriber's subscription, mapping absence
// to ErrRequiresSubscription.
func (e *Engine) subscriptionFor(ctx context.Context, subscriberID string, service plan.Service) (*subscription.Subscription, error) {
	opCtx, cancel := e.opContext(ctx)
	defer cancel()

	sub, err := e.store.GetSubscriptionFor(opCtx, subscriberID, service)
	if errors.Is(err, ErrSubscriptionNotFound) {
		return nil, ErrRequiresSubscription
	}
	if err != nil {
		return nil, transient(err)
	}
	return sub, nil
}

// ResetUsage zeroes the subscription's counter and stamps the reset time.
func (e *Engine) ResetUsage(ctx context.Context, subID id.SubscriptionID) error {
	opCtx, cancel := e.opContext(ctx)
	defer cancel()

	if err := e.store.ResetUsage(opCtx, subID, e.now()); err != nil {
		return transient(err)
	}
	e.plugins.EmitUsageReset(ctx, subID)
	return nil
}

// UsageHistory returns journal entries for a subscription, newest first.
func (e *Engine) UsageHistory(ctx context.Context, subID id.SubscriptionID, opts meter.QueryOpts) ([]*meter.UsageEntry, error) {
	opCtx, cancel := e.opContext(ctx)
	defer cancel()

	entries, err := e.store.ListUsage(opCtx, subID, opts)
	return entries, transient(err)
}

// RecordOutcome adds one downstream call result to the service's
// statistics, creating the row on first use.
func (e *Engine) RecordOutcome(ctx context.Context, service plan.Service, success bool) error {
	settings, err := e.settings(ctx)
	if err != nil {
		return err
	}
	opCtx, cancel := e.opContext(ctx)
	defer cancel()

	return transient(e.store.RecordOutcome(opCtx, &meter.Outcome{
		Service: service,
		Success: success,
		Cost:    settings.CostPerCall,
		At:      e.now(),
	}))
}

// ServiceStats returns the statistics row for service.
func (e *Engine) ServiceStats(ctx context.Context, service plan.Service) (*meter.ServiceStats, error) {
	opCtx, cancel := e.opContext(ctx)
	defer cancel()

	st, err := e.store.GetServiceStats(opCtx, service)
	return st, transient(err)
}
