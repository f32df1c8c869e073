package subscription

import (
	"time"

	"github.com/xraph/entitle/id"
	"github.com/xraph/entitle/plan"
	"github.com/xraph/entitle/types"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
)

// Subscription is the per (subscriber, service) entitlement record. The
// usage counter lives on the row so that a single conditional update can
// check and consume in one step.
type Subscription struct {
	types.Entity
	ID             id.SubscriptionID `json:"id"`
	SubscriberID   string            `json:"subscriber_id"`
	Service        plan.Service      `json:"service"`
	PlanID         id.PlanID         `json:"plan_id"`
	Status         Status            `json:"status"`
	BillingCycle   plan.BillingCycle `json:"billing_cycle"`
	StartAt        time.Time         `json:"start_at"`
	EndAt          time.Time         `json:"end_at"`
	AutoRenew      bool              `json:"auto_renew"`
	UsageCount     int64             `json:"usage_count"`
	UsageLimit     int64             `json:"usage_limit"`
	LastResetAt    time.Time         `json:"last_reset_at"`
	LastPaymentKey string            `json:"last_payment_key,omitempty"`
	Version        int64             `json:"version"`
	CancelledAt    *time.Time        `json:"cancelled_at,omitempty"`
}

// EffectiveStatus is the status as of now. A stored Active row whose
// period has ended reads as Expired.
func (s *Subscription) EffectiveStatus(now time.Time) Status {
	if s.Status == StatusActive && now.After(s.EndAt) {
		return StatusExpired
	}
	return s.Status
}

// IsActiveAt reports whether the subscription grants access at now.
func (s *Subscription) IsActiveAt(now time.Time) bool {
	return s.EffectiveStatus(now) == StatusActive
}

// Unlimited reports whether the usage limit is disabled.
func (s *Subscription) Unlimited() bool { return s.UsageLimit == plan.Unlimited }

// Remaining returns the units left in the current period, or -1 when
// unlimited.
func (s *Subscription) Remaining() int64 {
	if s.Unlimited() {
		return plan.Unlimited
	}
	return max(s.UsageLimit-s.UsageCount, 0)
}

// ResetDue reports whether a full billing cycle has passed since the
// last usage reset.
func (s *Subscription) ResetDue(now time.Time) bool {
	return !now.Before(s.LastResetAt.Add(s.BillingCycle.Duration()))
}

// Activation describes the state written when a payment for this
// subscription completes.
type Activation struct {
	PaymentKey      string
	StartAt         time.Time
	EndAt           time.Time
	ResetUsage      bool
	ExpectedVersion int64
	At              time.Time
}

// NextActivation computes the period bought by a payment completing at
// now. A pending or lapsed subscription starts a fresh period with a
// clean counter; a running one is extended from its current end.
func (s *Subscription) NextActivation(paymentKey string, now time.Time) Activation {
	a := Activation{
		PaymentKey:      paymentKey,
		ExpectedVersion: s.Version,
		At:              now,
	}
	if s.Status == StatusPending || !s.IsActiveAt(now) {
		a.StartAt = now
		a.EndAt = now.Add(s.BillingCycle.Duration())
		a.ResetUsage = true
		return a
	}
	a.StartAt = s.StartAt
	a.EndAt = s.EndAt.Add(s.BillingCycle.Duration())
	return a
}
