// Package payment defines payment records, the provider-agnostic event
// shape consumed by the reconciler, and the records it writes.
package payment

import (
	"errors"
	"fmt"
	"time"

	"github.com/xraph/entitle/id"
	"github.com/xraph/entitle/types"
)

type Provider string

const (
	ProviderStripe Provider = "stripe"
	ProviderIyzico Provider = "iyzico"
	ProviderPayTR  Provider = "paytr"
)

type Type string

const (
	TypeSubscription     Type = "subscription"
	TypeWorkflowPurchase Type = "workflow_purchase"
	TypeOneTime          Type = "one_time"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
	StatusRefunded  Status = "refunded"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusCompleted, StatusFailed, StatusCancelled, StatusRefunded:
		return true
	}
	return false
}

// transitions lists the allowed edges of the payment state machine.
var transitions = map[Status][]Status{
	StatusPending:   {StatusCompleted, StatusFailed, StatusCancelled},
	StatusCompleted: {StatusRefunded},
}

// CanTransition reports whether from → to is an edge of the state machine.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

type Payment struct {
	types.Entity
	ID id.PaymentID `json:"id"`
	// Key is the caller-generated idempotency key referenced by providers.
	Key               string            `json:"key"`
	Provider          Provider          `json:"provider"`
	Type              Type              `json:"type"`
	Status            Status            `json:"status"`
	Amount            types.Money       `json:"amount"`
	SubjectID         string            `json:"subject_id"`
	SubscriptionID    id.SubscriptionID `json:"subscription_id,omitzero"`
	WorkflowID        string            `json:"workflow_id,omitempty"`
	ProviderPaymentID string            `json:"provider_payment_id,omitempty"`
	ProviderEventID   string            `json:"provider_event_id,omitempty"`
	CheckoutURL       string            `json:"checkout_url,omitempty"`
	Metadata          map[string]string `json:"metadata,omitempty"`
	PaidAt            *time.Time        `json:"paid_at,omitempty"`
}

// Request is the input for creating a pending payment.
type Request struct {
	Key            string
	Provider       Provider
	Type           Type
	Amount         types.Money
	SubjectID      string
	SubscriptionID id.SubscriptionID
	WorkflowID     string
	Metadata       map[string]string
}

// Validate checks the type-specific references.
func (r *Request) Validate() error {
	if r.SubjectID == "" {
		return errors.New("payment: subject is required")
	}
	if err := r.Amount.Validate(); err != nil {
		return err
	}
	switch r.Type {
	case TypeSubscription:
		if r.SubscriptionID.IsNil() {
			return errors.New("payment: subscription payment needs a subscription")
		}
	case TypeWorkflowPurchase:
		if r.WorkflowID == "" {
			return errors.New("payment: workflow purchase needs a workflow")
		}
	case TypeOneTime:
	default:
		return fmt.Errorf("payment: unknown type %q", r.Type)
	}
	return nil
}

// Transition is the conditional status change written by the reconciler.
type Transition struct {
	From              Status
	To                Status
	ProviderEventID   string
	ProviderPaymentID string
	At                time.Time
}

// Event is the normalized provider notification.
type Event struct {
	Provider          Provider `json:"provider"`
	EventType         string   `json:"event_type"`
	EventID           string   `json:"event_id"`
	PaymentKey        string   `json:"payment_reference"`
	ProviderPaymentID string   `json:"provider_payment_id,omitempty"`
	NewStatus         Status   `json:"new_status"`
	Raw               []byte   `json:"raw_payload,omitempty"`
}

// Validate checks that the event can be reconciled.
func (e *Event) Validate() error {
	if e.Provider == "" {
		return errors.New("payment: event provider is required")
	}
	if e.PaymentKey == "" {
		return errors.New("payment: event payment reference is required")
	}
	if !e.NewStatus.Valid() || e.NewStatus == StatusPending {
		return fmt.Errorf("payment: event status %q cannot be applied", e.NewStatus)
	}
	return nil
}

// DedupKey is the per-provider idempotency key. Providers that do not
// assign event ids are keyed by reference and target status.
func (e *Event) DedupKey() string {
	if e.EventID != "" {
		return e.EventID
	}
	return e.PaymentKey + ":" + string(e.NewStatus)
}

// Outcome classifies what the reconciler did with an event.
type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeRejected  Outcome = "rejected"
	// OutcomeIgnored is reported for provider notifications that carry no
	// payment status change.
	OutcomeIgnored Outcome = "ignored"
)

// ProcessedEvent is the tombstone written once an event is handled.
// (Provider, EventID) is unique.
type ProcessedEvent struct {
	ID          id.WebhookEventID `json:"id"`
	Provider    Provider          `json:"provider"`
	EventID     string            `json:"event_id"`
	EventType   string            `json:"event_type"`
	PaymentKey  string            `json:"payment_key"`
	Outcome     Outcome           `json:"outcome"`
	Detail      string            `json:"detail,omitempty"`
	ProcessedAt time.Time         `json:"processed_at"`
}

// Purchase records ownership of a workflow bought with a one-time payment.
// (SubjectID, WorkflowID) is unique.
type Purchase struct {
	types.Entity
	ID         id.PurchaseID `json:"id"`
	SubjectID  string        `json:"subject_id"`
	WorkflowID string        `json:"workflow_id"`
	Price      types.Money   `json:"price"`
	PaymentKey string        `json:"payment_key"`
}
