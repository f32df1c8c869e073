package meter

import (
	"time"

	"github.com/xraph/entitle/id"
	"github.com/xraph/entitle/plan"
	"github.com/xraph/entitle/types"
)

// UsageEntry is the append-only journal row written with every
// successful consume. Entries are never updated or deleted.
type UsageEntry struct {
	ID             id.UsageEntryID   `json:"id"`
	SubscriptionID id.SubscriptionID `json:"subscription_id"`
	SubjectID      string            `json:"subject_id"`
	Service        plan.Service      `json:"service"`
	Amount         int64             `json:"amount"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
}

// Receipt is returned for an accepted consume.
type Receipt struct {
	SubscriptionID id.SubscriptionID `json:"subscription_id"`
	EntryID        id.UsageEntryID   `json:"entry_id"`
	Amount         int64             `json:"amount"`
	UsageCount     int64             `json:"usage_count"`
	UsageLimit     int64             `json:"usage_limit"`
	// Remaining is -1 for unlimited subscriptions.
	Remaining  int64     `json:"remaining"`
	ConsumedAt time.Time `json:"consumed_at"`
}

type QueryOpts struct {
	Start  time.Time
	End    time.Time
	Limit  int
	Offset int
}

// Outcome is the result of one downstream service call, fed into the
// per-service statistics row.
type Outcome struct {
	Service plan.Service
	Success bool
	Cost    types.Money
	At      time.Time
}

// ServiceStats aggregates outcomes for one service. The row is created
// by the first recorded outcome.
type ServiceStats struct {
	Service       plan.Service `json:"service"`
	TotalRequests int64        `json:"total_requests"`
	Successful    int64        `json:"successful"`
	Failed        int64        `json:"failed"`
	TotalCost     types.Money  `json:"total_cost"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

// SuccessRate returns the share of successful requests in [0, 1].
func (s *ServiceStats) SuccessRate() float64 {
	if s.TotalRequests == 0 {
		return 0
	}
	return float64(s.Successful) / float64(s.TotalRequests)
}
