// Package id defines TypeID-based identity types for Entitle records.
//
// Records that are addressed internally (subscriptions, journal entries,
// payments) carry a prefix-qualified, K-sortable TypeID such as
// "sub_01h2xcejqtf2nbrexx3vqjhp41". Secrets handed to end users (tokens,
// demo grants) are not TypeIDs; see the token package.
package id

import (
	"database/sql/driver"
	"fmt"

	"go.jetify.com/typeid/v2"
)

// Prefix identifies the record type encoded in a TypeID.
type Prefix string

// Prefix constants for all Entitle record types.
const (
	PrefixPlan         Prefix = "plan"  // Service plan
	PrefixSubscription Prefix = "sub"   // Subscriber subscription
	PrefixUsageEntry   Prefix = "ulog"  // Usage journal entry
	PrefixDemoAccess   Prefix = "dacc"  // Demo access log entry
	PrefixPayment      Prefix = "pay"   // Payment record
	PrefixWebhookEvent Prefix = "whevt" // Processed provider event
	PrefixPurchase     Prefix = "pur"   // Workflow purchase
)

// ID wraps a TypeID. The zero value is Nil.
//
//nolint:recvcheck // Value receivers for read-only methods, pointer receivers for UnmarshalText/Scan.
type ID struct {
	inner typeid.TypeID
	valid bool
}

// Nil is the zero-value ID.
var Nil ID

// New generates an ID with the given prefix. It panics on an invalid
// prefix, which is a programming error.
func New(prefix Prefix) ID {
	tid, err := typeid.Generate(string(prefix))
	if err != nil {
		panic(fmt.Sprintf("id: invalid prefix %q: %v", prefix, err))
	}
	return ID{inner: tid, valid: true}
}

// Parse parses any TypeID string.
func Parse(s string) (ID, error) {
	if s == "" {
		return Nil, fmt.Errorf("id: parse %q: empty string", s)
	}
	tid, err := typeid.Parse(s)
	if err != nil {
		return Nil, fmt.Errorf("id: parse %q: %w", s, err)
	}
	return ID{inner: tid, valid: true}, nil
}

// ParseWithPrefix parses s and checks that its prefix is expected.
func ParseWithPrefix(s string, expected Prefix) (ID, error) {
	parsed, err := Parse(s)
	if err != nil {
		return Nil, err
	}
	if parsed.Prefix() != expected {
		return Nil, fmt.Errorf("id: expected prefix %q, got %q", expected, parsed.Prefix())
	}
	return parsed, nil
}

// MustParse is like Parse but panics on error.
func MustParse(s string) ID {
	parsed, err := Parse(s)
	if err != nil {
		panic(fmt.Sprintf("id: must parse %q: %v", s, err))
	}
	return parsed
}

// ──────────────────────────────────────────────────
// Per-record aliases
// ──────────────────────────────────────────────────

// PlanID identifies a service plan (prefix: "plan").
type PlanID = ID

// SubscriptionID identifies a subscription (prefix: "sub").
type SubscriptionID = ID

// UsageEntryID identifies a usage journal entry (prefix: "ulog").
type UsageEntryID = ID

// DemoAccessID identifies a demo access log entry (prefix: "dacc").
type DemoAccessID = ID

// PaymentID identifies a payment record (prefix: "pay").
type PaymentID = ID

// WebhookEventID identifies a processed provider event (prefix: "whevt").
type WebhookEventID = ID

// PurchaseID identifies a workflow purchase (prefix: "pur").
type PurchaseID = ID

func NewPlanID() ID         { return New(PrefixPlan) }
func NewSubscriptionID() ID { return New(PrefixSubscription) }
func NewUsageEntryID() ID   { return New(PrefixUsageEntry) }
func NewDemoAccessID() ID   { return New(PrefixDemoAccess) }
func NewPaymentID() ID      { return New(PrefixPayment) }
func NewWebhookEventID() ID { return New(PrefixWebhookEvent) }
func NewPurchaseID() ID     { return New(PrefixPurchase) }

func ParsePlanID(s string) (ID, error)         { return ParseWithPrefix(s, PrefixPlan) }
func ParseSubscriptionID(s string) (ID, error) { return ParseWithPrefix(s, PrefixSubscription) }
func ParseUsageEntryID(s string) (ID, error)   { return ParseWithPrefix(s, PrefixUsageEntry) }
func ParseDemoAccessID(s string) (ID, error)   { return ParseWithPrefix(s, PrefixDemoAccess) }
func ParsePaymentID(s string) (ID, error)      { return ParseWithPrefix(s, PrefixPayment) }
func ParseWebhookEventID(s string) (ID, error) { return ParseWithPrefix(s, PrefixWebhookEvent) }
func ParsePurchaseID(s string) (ID, error)     { return ParseWithPrefix(s, PrefixPurchase) }

// ParseOptional parses s, returning Nil for the empty string. Used for
// nullable foreign keys read back from storage.
func ParseOptional(s string, expected Prefix) (ID, error) {
	if s == "" {
		return Nil, nil
	}
	return ParseWithPrefix(s, expected)
}

// ──────────────────────────────────────────────────
// ID methods
// ──────────────────────────────────────────────────

// String returns "prefix_suffix", or "" for Nil.
func (i ID) String() string {
	if !i.valid {
		return ""
	}
	return i.inner.String()
}

// Prefix returns the prefix component.
func (i ID) Prefix() Prefix {
	if !i.valid {
		return ""
	}
	return Prefix(i.inner.Prefix())
}

// IsNil reports whether i is the zero value.
func (i ID) IsNil() bool { return !i.valid }

// MarshalText implements encoding.TextMarshaler.
func (i ID) MarshalText() ([]byte, error) {
	return []byte(i.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (i *ID) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*i = Nil
		return nil
	}
	parsed, err := Parse(string(data))
	if err != nil {
		return err
	}
	*i = parsed
	return nil
}

// Value implements driver.Valuer. Nil stores as NULL.
func (i ID) Value() (driver.Value, error) {
	if !i.valid {
		return nil, nil //nolint:nilnil // nil is the canonical NULL for driver.Valuer
	}
	return i.inner.String(), nil
}

// Scan implements sql.Scanner.
func (i *ID) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*i = Nil
		return nil
	case string:
		return i.UnmarshalText([]byte(v))
	case []byte:
		return i.UnmarshalText(v)
	default:
		return fmt.Errorf("id: cannot scan %T into ID", src)
	}
}
