// Package entitlement holds the vocabulary of access decisions: who is
// asking, which policy applies to them, and the structured verdict.
package entitlement

import (
	"github.com/xraph/entitle/demo"
	"github.com/xraph/entitle/meter"
	"github.com/xraph/entitle/plan"
)

type Role string

const (
	RoleAdmin      Role = "admin"
	RoleIndividual Role = "individual"
	RoleCorporate  Role = "corporate"
	RoleAnonymous  Role = "anonymous"
)

// Caller is a single consistent snapshot of the requesting identity.
type Caller struct {
	SubjectID string `json:"subject_id,omitempty"`
	Role      Role   `json:"role"`
	Verified  bool   `json:"verified"`
	// DemoToken addresses a demo grant for anonymous callers.
	DemoToken string `json:"demo_token,omitempty"`
}

// Reason is the machine-readable explanation attached to a decision.
type Reason string

const (
	ReasonUnrestricted         Reason = "unrestricted"
	ReasonGranted              Reason = "granted"
	ReasonRequiresSubscription Reason = "requires_subscription"
	ReasonSubscriptionInactive Reason = "subscription_inactive"
	ReasonLimitExceeded        Reason = "limit_exceeded"
	ReasonExpired              Reason = "expired"
	ReasonUsageExceeded        Reason = "usage_exceeded"
	ReasonNotFound             Reason = "not_found"
	ReasonAlreadyUsed          Reason = "already_used"
	ReasonMaintenance          Reason = "maintenance"
	ReasonRateLimited          Reason = "rate_limited"
	ReasonNotPurchased         Reason = "not_purchased"
)

// Request describes one metered action about to be performed.
type Request struct {
	Caller  Caller
	Service plan.Service
	// Amount defaults to 1.
	Amount   int64
	Metadata map[string]string
	// Attempt is journaled for anonymous demo access.
	Attempt demo.Attempt
	// DryRun evaluates the same policy without consuming a unit or
	// journaling the attempt. The Decision carries the current usage and
	// limit but no receipt.
	DryRun bool
}

// Decision is the verdict for a Request. Limits are filled in when the
// decision came from a counter; Remaining is -1 for unlimited.
type Decision struct {
	Allowed      bool           `json:"allowed"`
	Reason       Reason         `json:"reason"`
	Policy       string         `json:"policy"`
	Service      plan.Service   `json:"service"`
	CurrentUsage int64          `json:"current_usage,omitempty"`
	UsageLimit   int64          `json:"usage_limit,omitempty"`
	Remaining    int64          `json:"remaining,omitempty"`
	Receipt      *meter.Receipt `json:"receipt,omitempty"`
	DemoReceipt  *demo.Receipt  `json:"demo_receipt,omitempty"`
}
