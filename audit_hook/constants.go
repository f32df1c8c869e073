package audithook

// Action constants for audit events.
const (
	// Subscription actions
	ActionSubscriptionCreated   = "subscription.created"
	ActionSubscriptionActivated = "subscription.activated"
	ActionSubscriptionCanceled  = "subscription.canceled"
	ActionSubscriptionsExpired  = "subscription.expired"

	// Usage actions
	ActionUsageReset = "usage.reset"

	// Access actions
	ActionAccessDenied  = "access.denied"
	ActionLimitExceeded = "limit.exceeded"

	// Token actions
	ActionTokenIssued   = "token.issued"
	ActionTokenRedeemed = "token.redeemed"

	// Demo actions
	ActionDemoDenied = "demo.denied"

	// Payment actions
	ActionPaymentCreated      = "payment.created"
	ActionPaymentTransitioned = "payment.transitioned"
	ActionWebhookReceived     = "webhook.received"
	ActionEventRejected       = "webhook.rejected"
)

// Resource constants for audit events.
const (
	ResourceSubscription = "subscription"
	ResourceUsage        = "usage"
	ResourceEntitlement  = "entitlement"
	ResourceToken        = "token"
	ResourceDemoGrant    = "demo_grant"
	ResourcePayment      = "payment"
	ResourceWebhook      = "webhook"
)

// Category constants for audit events.
const (
	CategorySubscription = "subscription"
	CategoryUsage        = "usage"
	CategoryAccess       = "access"
	CategoryAuth         = "auth"
	CategoryPayment      = "payment"
	CategoryIntegration  = "integration"
)

// Severity levels for audit events.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityError    = "error"
	SeverityCritical = "critical"
)

// Outcome values for audit events.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)
