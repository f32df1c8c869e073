package subscription

import (
	"context"
	"time"

	"github.com/xraph/entitle/id"
	"github.com/xraph/entitle/plan"
)

// Store persists subscriptions. Every mutating method is a single
// conditional write; when its condition does not hold it returns
// entitle.ErrConditionFailed and leaves the row untouched.
type Store interface {
	CreateSubscription(ctx context.Context, s *Subscription) error
	GetSubscription(ctx context.Context, subID id.SubscriptionID) (*Subscription, error)
	GetSubscriptionFor(ctx context.Context, subscriberID string, service plan.Service) (*Subscription, error)
	ListSubscriptions(ctx context.Context, subscriberID string) ([]*Subscription, error)

	// ActivateSubscription applies a, provided the row is still at
	// a.ExpectedVersion and not cancelled.
	ActivateSubscription(ctx context.Context, subID id.SubscriptionID, a Activation) error
	// CancelSubscription moves any non-cancelled row to cancelled.
	CancelSubscription(ctx context.Context, subID id.SubscriptionID, at time.Time) error
	// ExpireSubscriptions marks active rows whose period ended before now.
	ExpireSubscriptions(ctx context.Context, now time.Time) (int64, error)

	// ListResetDue returns active rows whose cycle elapsed since the last reset.
	ListResetDue(ctx context.Context, now time.Time, limit int) ([]*Subscription, error)
	ResetUsage(ctx context.Context, subID id.SubscriptionID, at time.Time) error
}
