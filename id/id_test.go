package id_test

import (
	"strings"
	"testing"

	"github.com/xraph/entitle/id"
)

func TestConstructors(t *testing.T) {
	tests := []struct {
		name   string
		newFn  func() id.ID
		prefix string
	}{
		{"PlanID", id.NewPlanID, "plan_"},
		{"SubscriptionID", id.NewSubscriptionID, "sub_"},
		{"UsageEntryID", id.NewUsageEntryID, "ulog_"},
		{"DemoAccessID", id.NewDemoAccessID, "dacc_"},
		{"PaymentID", id.NewPaymentID, "pay_"},
		{"WebhookEventID", id.NewWebhookEventID, "whevt_"},
		{"PurchaseID", id.NewPurchaseID, "pur_"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.newFn().String()
			if !strings.HasPrefix(got, tt.prefix) {
				t.Errorf("expected prefix %q, got %q", tt.prefix, got)
			}
		})
	}
}

func TestParseRoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		newFn   func() id.ID
		parseFn func(string) (id.ID, error)
	}{
		{"PlanID", id.NewPlanID, id.ParsePlanID},
		{"SubscriptionID", id.NewSubscriptionID, id.ParseSubscriptionID},
		{"UsageEntryID", id.NewUsageEntryID, id.ParseUsageEntryID},
		{"DemoAccessID", id.NewDemoAccessID, id.ParseDemoAccessID},
		{"PaymentID", id.NewPaymentID, id.ParsePaymentID},
		{"WebhookEventID", id.NewWebhookEventID, id.ParseWebhookEventID},
		{"PurchaseID", id.NewPurchaseID, id.ParsePurchaseID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			original := tt.newFn()
			parsed, err := tt.parseFn(original.String())
			if err != nil {
				t.Fatalf("parse failed: %v", err)
			}
			if parsed.String() != original.String() {
				t.Errorf("round-trip mismatch: %q != %q", parsed.String(), original.String())
			}
		})
	}
}

func TestCrossTypeRejection(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		parseFn func(string) (id.ID, error)
	}{
		{"ParseSubscriptionID rejects pay_", id.NewPaymentID().String(), id.ParseSubscriptionID},
		{"ParsePaymentID rejects sub_", id.NewSubscriptionID().String(), id.ParsePaymentID},
		{"ParsePurchaseID rejects whevt_", id.NewWebhookEventID().String(), id.ParsePurchaseID},
		{"ParsePlanID rejects ulog_", id.NewUsageEntryID().String(), id.ParsePlanID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.parseFn(tt.input); err == nil {
				t.Errorf("expected error for cross-type parse of %q, got nil", tt.input)
			}
		})
	}
}

func TestParseOptional(t *testing.T) {
	got, err := id.ParseOptional("", id.PrefixSubscription)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.IsNil() {
		t.Errorf("expected Nil for empty input, got %q", got.String())
	}

	sub := id.NewSubscriptionID()
	got, err = id.ParseOptional(sub.String(), id.PrefixSubscription)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.String() != sub.String() {
		t.Errorf("mismatch: %q != %q", got.String(), sub.String())
	}
}

func TestNilID(t *testing.T) {
	var i id.ID
	if !i.IsNil() {
		t.Error("zero ID should be nil")
	}
	if i.String() != "" {
		t.Errorf("expected empty string, got %q", i.String())
	}
	v, err := i.Value()
	if err != nil || v != nil {
		t.Errorf("Value() = %v, %v; want nil, nil", v, err)
	}
}

func TestScan(t *testing.T) {
	original := id.NewPaymentID()

	var fromString id.ID
	if err := fromString.Scan(original.String()); err != nil {
		t.Fatalf("Scan(string) failed: %v", err)
	}
	if fromString.String() != original.String() {
		t.Errorf("Scan(string) mismatch: %q", fromString.String())
	}

	var fromNil id.ID
	if err := fromNil.Scan(nil); err != nil {
		t.Fatalf("Scan(nil) failed: %v", err)
	}
	if !fromNil.IsNil() {
		t.Error("Scan(nil) should produce Nil")
	}

	var bad id.ID
	if err := bad.Scan(42); err == nil {
		t.Error("expected error scanning int")
	}
}
