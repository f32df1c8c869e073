package entitle

import (
	"context"
	"errors"
	"fmt"

	"github.com/xraph/entitle/demo"
	"github.com/xraph/entitle/entitlement"
)

// CheckAccess decides whether the caller may perform one metered action
// on req.Service and, when allowed, records the consumption. Denials are
// returned as a Decision; only failures (transient store errors,
// invalid input) are returned as errors.
//
//	d, err := engine.CheckAccess(ctx, entitlement.Request{Caller: caller, Service: plan.ServiceTryOn})
//	if err != nil {
//	    return err // retryable when entitle.IsRetryable(err)
//	}
//	if !d.Allowed {
//	    return deny(d.Reason)
//	}
//
// With req.DryRun set the same policy is evaluated read-only and the
// decision is not emitted to plugins.
func (e *Engine) CheckAccess(ctx context.Context, req entitlement.Request) (*entitlement.Decision, error) {
	settings, err := e.settings(ctx)
	if err != nil {
		return nil, err
	}

	policy := e.resolver(req.Caller)
	d := &entitlement.Decision{Policy: policy.Name(), Service: req.Service}

	if _, ok := policy.(entitlement.Unrestricted); !ok && settings.MaintenanceMode {
		d.Reason = entitlement.ReasonMaintenance
		if !req.DryRun {
			e.plugins.EmitAccessDecided(ctx, req.Caller, d)
		}
		return d, nil
	}

	if req.DryRun {
		if err := e.peekAccess(ctx, policy, req, d); err != nil {
			return nil, err
		}
		return d, nil
	}

	switch p := policy.(type) {
	case entitlement.Unrestricted:
		d.Allowed = true
		d.Reason = entitlement.ReasonUnrestricted
		d.Remaining = -1

	case entitlement.Subscribed:
		receipt, err := e.Consume(ctx, UsageRequest{
			SubscriberID: p.SubscriberID,
			Service:      req.Service,
			Amount:       req.Amount,
			Metadata:     req.Metadata,
		})
		if err != nil && !IsDenied(err) {
			return nil, err
		}
		if err != nil {
			d.Reason = ReasonFor(err)
			var le *LimitError
			if errors.As(err, &le) {
				d.CurrentUsage = le.Current
				d.UsageLimit = le.Limit
			}
			break
		}
		d.Allowed = true
		d.Reason = entitlement.ReasonGranted
		d.Receipt = receipt
		d.CurrentUsage = receipt.UsageCount
		d.UsageLimit = receipt.UsageLimit
		d.Remaining = receipt.Remaining

	case entitlement.Anonymous:
		g, err := e.getGrant(ctx, p.GrantToken)
		if err != nil && !IsNotFound(err) {
			return nil, err
		}
		if err == nil && g.Service != req.Service {
			e.journalDemo(ctx, p.GrantToken, req.Attempt, demo.OutcomeNotFound)
			d.Reason = entitlement.ReasonNotFound
			break
		}
		receipt, err := e.TryDemo(ctx, p.GrantToken, req.Attempt)
		if err != nil && !IsDenied(err) && !IsNotFound(err) {
			return nil, err
		}
		if err != nil {
			d.Reason = ReasonFor(err)
			break
		}
		d.Allowed = true
		d.Reason = entitlement.ReasonGranted
		d.DemoReceipt = receipt
		d.CurrentUsage = receipt.UsageCount
		d.UsageLimit = receipt.MaxUsage
		d.Remaining = receipt.Remaining

	default:
		return nil, fmt.Errorf("%w: unsupported policy %T", ErrInvalidInput, policy)
	}

	e.plugins.EmitAccessDecided(ctx, req.Caller, d)
	return d, nil
}

// peekAccess fills d for policy without writing anything.
func (e *Engine) peekAccess(ctx context.Context, policy entitlement.Policy, req entitlement.Request, d *entitlement.Decision) error {
	switch p := policy.(type) {
	case entitlement.Unrestricted:
		d.Allowed = true
		d.Reason = entitlement.ReasonUnrestricted
		d.Remaining = -1

	case entitlement.Subscribed:
		amount := req.Amount
		if amount == 0 {
			amount = 1
		}
		if amount < 0 {
			return ValidationError{Field: "amount", Message: "must be positive"}
		}
		if p.SubscriberID == "" {
			d.Reason = ReasonFor(ErrRequiresSubscription)
			return nil
		}
		sub, err := e.subscriptionFor(ctx, p.SubscriberID, req.Service)
		if err != nil && !IsDenied(err) {
			return err
		}
		if err != nil {
			d.Reason = ReasonFor(err)
			return nil
		}
		d.CurrentUsage = sub.UsageCount
		d.UsageLimit = sub.UsageLimit
		d.Remaining = sub.Remaining()
		if err := checkUsage(sub, amount, e.now()); err != nil {
			d.Reason = ReasonFor(err)
			d.Remaining = 0
			return nil
		}
		d.Allowed = true
		d.Reason = entitlement.ReasonGranted

	case entitlement.Anonymous:
		g, err := e.getGrant(ctx, p.GrantToken)
		if err != nil && !IsNotFound(err) {
			return err
		}
		if err != nil || g.Service != req.Service {
			d.Reason = entitlement.ReasonNotFound
			return nil
		}
		d.CurrentUsage = g.UsageCount
		d.UsageLimit = g.MaxUsage
		if derr := grantDenial(g, e.now()); derr != nil {
			d.Reason = ReasonFor(derr)
			return nil
		}
		d.Allowed = true
		d.Reason = entitlement.ReasonGranted
		d.Remaining = g.Remaining()

	default:
		return fmt.Errorf("%w: unsupported policy %T", ErrInvalidInput, policy)
	}
	return nil
}

// HasPurchase reports whether the subject bought the workflow.
func (e *Engine) HasPurchase(ctx context.Context, subjectID, workflowID string) (bool, error) {
	opCtx, cancel := e.opContext(ctx)
	defer cancel()

	_, err := e.store.GetPurchase(opCtx, subjectID, workflowID)
	if errors.Is(err, ErrPurchaseNotFound) {
		return false, nil
	}
	if err != nil {
		return false, transient(err)
	}
	return true, nil
}
