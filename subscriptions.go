package entitle

import (
	"context"
	"errors"
	"fmt"

	"github.com/xraph/entitle/id"
	"github.com/xraph/entitle/plan"
	"github.com/xraph/entitle/subscription"
	"github.com/xraph/entitle/types"
)

// ──────────────────────────────────────────────────
// Plan Management
// ──────────────────────────────────────────────────

// CreatePlan creates a new service plan.
func (e *Engine) CreatePlan(ctx context.Context, p *plan.Plan) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	if p.ID == (id.PlanID{}) {
		p.ID = id.NewPlanID()
	}
	p.Entity = types.EntityAt(e.now())

	opCtx, cancel := e.opContext(ctx)
	defer cancel()
	return transient(e.store.CreatePlan(opCtx, p))
}

// GetPlan retrieves a plan by ID.
func (e *Engine) GetPlan(ctx context.Context, planID id.PlanID) (*plan.Plan, error) {
	opCtx, cancel := e.opContext(ctx)
	defer cancel()

	p, err := e.store.GetPlan(opCtx, planID)
	return p, transient(err)
}

// ListPlans lists the plans for service, or every plan when service is empty.
func (e *Engine) ListPlans(ctx context.Context, service plan.Service) ([]*plan.Plan, error) {
	opCtx, cancel := e.opContext(ctx)
	defer cancel()

	plans, err := e.store.ListPlans(opCtx, service)
	return plans, transient(err)
}

// ──────────────────────────────────────────────────
// Subscription Management
// ──────────────────────────────────────────────────

// SubscriptionRequest is the input for CreateSubscription.
type SubscriptionRequest struct {
	SubscriberID string
	PlanID       id.PlanID
	Cycle        plan.BillingCycle
	AutoRenew    bool
}

// CreateSubscription creates a pending subscription to the plan's
// service. It becomes active when its first payment completes. A
// subscriber holds at most one subscription per service.
func (e *Engine) CreateSubscription(ctx context.Context, req SubscriptionRequest) (*subscription.Subscription, error) {
	if req.SubscriberID == "" {
		return nil, ValidationError{Field: "subscriber_id", Message: "is required"}
	}
	if req.Cycle == "" {
		req.Cycle = plan.CycleMonthly
	}
	if !req.Cycle.Valid() {
		return nil, ValidationError{Field: "cycle", Message: fmt.Sprintf("unknown billing cycle %q", req.Cycle)}
	}

	p, err := e.GetPlan(ctx, req.PlanID)
	if err != nil {
		return nil, err
	}
	if !p.Active {
		return nil, ErrPlanInactive
	}

	now := e.now()
	sub := &subscription.Subscription{
		Entity:       types.EntityAt(now),
		ID:           id.NewSubscriptionID(),
		SubscriberID: req.SubscriberID,
		Service:      p.Service,
		PlanID:       p.ID,
		Status:       subscription.StatusPending,
		BillingCycle: req.Cycle,
		StartAt:      now,
		EndAt:        now.Add(req.Cycle.Duration()),
		AutoRenew:    req.AutoRenew,
		UsageLimit:   p.UsageLimit,
		LastResetAt:  now,
	}

	opCtx, cancel := e.opContext(ctx)
	defer cancel()
	if err := e.store.CreateSubscription(opCtx, sub); err != nil {
		return nil, transient(err)
	}

	e.plugins.EmitSubscriptionCreated(ctx, sub)
	return sub, nil
}

// GetSubscription retrieves a subscription by ID.
func (e *Engine) GetSubscription(ctx context.Context, subID id.SubscriptionID) (*subscription.Subscription, error) {
	opCtx, cancel := e.opContext(ctx)
	defer cancel()

	sub, err := e.store.GetSubscription(opCtx, subID)
	return sub, transient(err)
}

// SubscriptionFor retrieves the subscriber's subscription to service.
// The returned record may be stored as active with an elapsed period;
// use EffectiveStatus to read it.
func (e *Engine) SubscriptionFor(ctx context.Context, subscriberID string, service plan.Service) (*subscription.Subscription, error) {
	opCtx, cancel := e.opContext(ctx)
	defer cancel()

	sub, err := e.store.GetSubscriptionFor(opCtx, subscriberID, service)
	return sub, transient(err)
}

// ListSubscriptions lists every subscription of a subscriber.
func (e *Engine) ListSubscriptions(ctx context.Context, subscriberID string) ([]*subscription.Subscription, error) {
	opCtx, cancel := e.opContext(ctx)
	defer cancel()

	subs, err := e.store.ListSubscriptions(opCtx, subscriberID)
	return subs, transient(err)
}

// CancelSubscription cancels a subscription. Cancellation is terminal.
func (e *Engine) CancelSubscription(ctx context.Context, subID id.SubscriptionID) (*subscription.Subscription, error) {
	opCtx, cancel := e.opContext(ctx)
	err := e.store.CancelSubscription(opCtx, subID, e.now())
	cancel()
	if errors.Is(err, ErrConditionFailed) {
		return nil, ErrAlreadyCancelled
	}
	if err != nil {
		return nil, transient(err)
	}

	sub, err := e.GetSubscription(ctx, subID)
	if err != nil {
		return nil, err
	}
	e.plugins.EmitSubscriptionCanceled(ctx, sub)
	return sub, nil
}

// ExpireLapsed marks active subscriptions whose period has ended as
// expired and returns how many changed. Access checks already treat such
// rows as expired; this only brings the stored status in line.
func (e *Engine) ExpireLapsed(ctx context.Context) (int64, error) {
	opCtx, cancel := e.opContext(ctx)
	defer cancel()

	n, err := e.store.ExpireSubscriptions(opCtx, e.now())
	if err != nil {
		return 0, transient(err)
	}
	if n > 0 {
		e.logger.Info("subscriptions expired", "count", n)
		e.plugins.EmitSubscriptionsExpired(ctx, n)
	}
	return n, nil
}
