package meter

import (
	"context"
	"time"

	"github.com/xraph/entitle/id"
	"github.com/xraph/entitle/plan"
)

type Store interface {
	// ConsumeUsage increments the subscription counter by e.Amount and
	// appends e in one atomic step. The increment applies only while the
	// subscription is active at now and the limit (unless -1) is not
	// overshot. It returns the new usage count, or
	// entitle.ErrConditionFailed when nothing was written.
	ConsumeUsage(ctx context.Context, e *UsageEntry, now time.Time) (int64, error)
	ListUsage(ctx context.Context, subID id.SubscriptionID, opts QueryOpts) ([]*UsageEntry, error)

	// RecordOutcome upserts the statistics row for o.Service.
	RecordOutcome(ctx context.Context, o *Outcome) error
	GetServiceStats(ctx context.Context, service plan.Service) (*ServiceStats, error)
}
